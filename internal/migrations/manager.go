// Package migrations wraps pressly/goose to apply the sync_* schema
// (migrations/postgres, migrations/sqlite) against a storage backend.
// The sqlite backend also self-migrates its schema inline at startup
// (internal/storage/sqlite); this package is for deployments that want
// an explicit, versioned migration step instead.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"
)

// Config controls how migrations are applied.
type Config struct {
	Driver  string `env:"MIGRATION_DRIVER" default:"postgres"`
	DSN     string `env:"MIGRATION_DSN"`
	Dialect string `env:"MIGRATION_DIALECT" default:"postgres"`
	Dir     string `env:"MIGRATION_DIR" default:"migrations/postgres"`
	Timeout time.Duration `env:"MIGRATION_TIMEOUT" default:"5m"`
	Logger  *slog.Logger
}

// Manager applies and inspects migrations for one database connection.
type Manager struct {
	cfg    Config
	db     *sql.DB
	logger *slog.Logger
}

// New opens a *sql.DB against cfg.DSN using database/sql's cfg.Driver
// and wraps it for migration use.
func New(cfg Config) (*Manager, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("migrations: opening database: %w", err)
	}

	return &Manager{cfg: cfg, db: db, logger: logger}, nil
}

// Close closes the underlying connection.
func (m *Manager) Close() error { return m.db.Close() }

func (m *Manager) setDialect() error {
	return goose.SetDialect(m.cfg.Dialect)
}

// Up applies every pending migration in cfg.Dir.
func (m *Manager) Up(ctx context.Context) error {
	if err := m.setDialect(); err != nil {
		return fmt.Errorf("migrations: setting dialect: %w", err)
	}
	start := time.Now()
	if err := goose.UpContext(ctx, m.db, m.cfg.Dir); err != nil {
		return fmt.Errorf("migrations: applying: %w", err)
	}
	m.logger.Info("migrations applied", "dir", m.cfg.Dir, "duration", time.Since(start))
	return nil
}

// Down rolls back the most recently applied migration.
func (m *Manager) Down(ctx context.Context) error {
	if err := m.setDialect(); err != nil {
		return fmt.Errorf("migrations: setting dialect: %w", err)
	}
	if err := goose.DownContext(ctx, m.db, m.cfg.Dir); err != nil {
		return fmt.Errorf("migrations: rolling back: %w", err)
	}
	return nil
}

// Status reports the current applied version.
func (m *Manager) Status(ctx context.Context) (int64, error) {
	if err := m.setDialect(); err != nil {
		return 0, fmt.Errorf("migrations: setting dialect: %w", err)
	}
	return goose.GetDBVersionContext(ctx, m.db)
}
