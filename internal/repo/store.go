package repo

import (
	"context"
	"errors"

	"plantline/internal/domain"
)

// ErrNotFound is returned (wrapped in domain.NotFoundError) for missing rows.
var ErrNotFound = domain.ErrNotFound

// ErrConflict is returned when an insert reuses an existing primary key.
var ErrConflict = errors.New("already exists")

// EntryKind names the parent table of a corrective action.
type EntryKind string

const (
	RejectionEntryKind EntryKind = "rejection"
	DowntimeEntryKind  EntryKind = "downtime"
)

// EntryRef identifies the entry that owns a corrective action.
type EntryRef struct {
	Kind EntryKind
	ID   string
}

// Store is the persistence contract of the task engine. Writes only happen
// through a Tx so that a submission is all-or-nothing.
type Store interface {
	Begin(ctx context.Context) (Tx, error)

	GetTask(ctx context.Context, id string) (domain.Task, error)
	ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error)
	CountTasksByStatus(ctx context.Context) (map[string]int, error)
	GetProductionRecord(ctx context.Context, id string) (domain.ProductionEvent, error)
	GetPDIRecord(ctx context.Context, id string) (domain.PDIEvent, error)
	ListTasksBySource(ctx context.Context, sourceID string) ([]domain.Task, error)
	LatestEvents(ctx context.Context, f EventFilters) ([]domain.Event, error)
	EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error)
	LatestEventID(ctx context.Context) (int64, error)
}

// Tx is a transaction scope. Parents must be inserted before their children.
type Tx interface {
	InsertProductionRecord(ctx context.Context, ev domain.ProductionEvent) error
	InsertRejectionEntry(ctx context.Context, recordID string, position int, e domain.RejectionEntry) error
	InsertDowntimeEntry(ctx context.Context, recordID string, position int, e domain.DowntimeEntry) error
	InsertCorrectiveAction(ctx context.Context, entry EntryRef, position int, a domain.Action) error
	InsertPDIRecord(ctx context.Context, ev domain.PDIEvent) error
	InsertTask(ctx context.Context, t domain.Task) error
	InsertPreventiveAction(ctx context.Context, taskID string, position int, a domain.Action) error

	GetTask(ctx context.Context, id string) (domain.Task, error)
	UpdateTask(ctx context.Context, t domain.Task) error
	DeletePreventiveActions(ctx context.Context, taskID string) error
	DeleteTask(ctx context.Context, id string) error

	AppendEvent(ctx context.Context, e domain.Event) error

	Commit() error
	Rollback() error
}
