package engine

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"plantline/internal/domain"
	"plantline/internal/events"
	"plantline/internal/metrics"
	"plantline/internal/repo"
)

type Engine struct {
	Store   repo.Store
	Events  events.Writer
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
	NewID   func() string
}

func New(db *sql.DB, m *metrics.Metrics, logger *slog.Logger) Engine {
	return Engine{
		Store:   repo.Repo{DB: db},
		Events:  events.Writer{},
		Logger:  logger,
		Metrics: m,
		Now:     time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e Engine) events() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

// rollback undoes tx after a failure. A rollback error is logged and never
// replaces the original failure.
func (e Engine) rollback(tx repo.Tx, op string) {
	if err := tx.Rollback(); err != nil {
		e.logger().Error("rollback failed", "op", op, "err", err)
	}
}

func (e Engine) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return e.Store.GetTask(ctx, id)
}

func (e Engine) ListTasks(ctx context.Context, f repo.TaskFilters) ([]domain.Task, error) {
	return e.Store.ListTasks(ctx, f)
}

func (e Engine) CountTasksByStatus(ctx context.Context) (map[string]int, error) {
	return e.Store.CountTasksByStatus(ctx)
}

func (e Engine) GetProductionRecord(ctx context.Context, id string) (domain.ProductionEvent, error) {
	return e.Store.GetProductionRecord(ctx, id)
}

func (e Engine) GetPDIRecord(ctx context.Context, id string) (domain.PDIEvent, error) {
	return e.Store.GetPDIRecord(ctx, id)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
