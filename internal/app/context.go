package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"plantline/internal/config"
	"plantline/internal/db"
	"plantline/internal/engine"
	"plantline/internal/metrics"
	"plantline/internal/migrate"
)

// DefaultPlantID is used when the workspace has no plantline.yml.
const DefaultPlantID = "default-plant"

// Workspace bundles the resources a command or server needs.
type Workspace struct {
	DB            *sql.DB
	Config        *config.Config
	SchemaVersion int
}

// OpenWorkspace opens and migrates the database and resolves the config,
// falling back to the defaults when the config file is missing.
func OpenWorkspace(ctx context.Context, workspace, dbPath string) (*Workspace, error) {
	cfg, err := ResolveConfig(workspace)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace, Path: dbPath})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	version, err := migrate.Migrate(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Workspace{DB: conn, Config: cfg, SchemaVersion: version}, nil
}

// ResolveConfig loads plantline.yml from the workspace or returns defaults.
func ResolveConfig(workspace string) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg == nil {
		cfg = config.Default(DefaultPlantID)
	}
	return cfg, nil
}

// Engine builds a task engine over the workspace database.
func (w *Workspace) Engine(m *metrics.Metrics, logger *slog.Logger) engine.Engine {
	return engine.New(w.DB, m, logger)
}

func (w *Workspace) Close() error {
	if w == nil || w.DB == nil {
		return nil
	}
	return w.DB.Close()
}
