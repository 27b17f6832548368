// Package main is the operator CLI: serve, migrate and status against
// a dbsync deployment, sharing internal/bootstrap with cmd/server so
// the two binaries never disagree on how a profile wires together.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver for migrate/status
	_ "github.com/mattn/go-sqlite3"    // registers the "sqlite3" database/sql driver for migrate/status

	"github.com/vitaliisemenov/dbsync/internal/bootstrap"
	"github.com/vitaliisemenov/dbsync/internal/config"
	"github.com/vitaliisemenov/dbsync/internal/extension"
	"github.com/vitaliisemenov/dbsync/internal/migrations"
	"github.com/vitaliisemenov/dbsync/internal/registry"
	"github.com/vitaliisemenov/dbsync/internal/schemaconfig"
	"github.com/vitaliisemenov/dbsync/internal/shutdown"
	"github.com/vitaliisemenov/dbsync/pkg/logger"
)

const serviceVersion = "0.1.0"

var (
	configPath string
	schemaPath string
)

func main() {
	root := &cobra.Command{
		Use:     "dbsyncctl",
		Short:   "Operate a dbsync deployment: serve, migrate, status",
		Version: serviceVersion,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the push/pull reconciliation server",
		RunE:  runServe,
	}
	serveCmd.Flags().StringVar(&schemaPath, "schema", "", "path to a YAML content-type schema file (required)")

	migrateCmd := &cobra.Command{Use: "migrate", Short: "Apply or inspect the sync_* schema"}
	migrateCmd.AddCommand(
		&cobra.Command{Use: "up", Short: "Apply every pending migration", RunE: runMigrateUp},
		&cobra.Command{Use: "down", Short: "Roll back the most recent migration", RunE: runMigrateDown},
	)

	statusCmd := &cobra.Command{Use: "status", Short: "Report the applied migration version", RunE: runMigrateStatus}

	root.AddCommand(serveCmd, migrateCmd, statusCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	return config.LoadConfig(configPath)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if schemaPath == "" {
		return fmt.Errorf("--schema is required: a YAML file declaring the tracked content types")
	}

	log := logger.NewLogger(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		Filename:   cfg.Log.Filename,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})

	reg := registry.New()
	if err := schemaconfig.Load(schemaPath, reg); err != nil {
		return fmt.Errorf("load schema: %w", err)
	}

	ctx := context.Background()
	app, err := bootstrap.Build(ctx, cfg, reg, extension.NewRegistry(), log)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer app.Close()

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      app.Router.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdownHandler := shutdown.NewShutdownHandler(httpServer.Shutdown, cfg.Server.GracefulShutdownTimeout, log)
	shutdownHandler.Start()

	serveErr := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			log.Error("http server failed to start", "error", err)
			shutdownHandler.TriggerShutdown()
			return err
		}
	case <-shutdownHandler.Done():
		<-serveErr
	}
	log.Info("server exited")
	return nil
}

func migrationsManager(cfg *config.Config) (*migrations.Manager, error) {
	switch cfg.Storage.Backend {
	case config.StorageBackendSQLite:
		return migrations.New(migrations.Config{
			Driver:  "sqlite3",
			DSN:     cfg.Storage.SQLitePath,
			Dialect: "sqlite3",
			Dir:     "migrations/sqlite",
		})
	case config.StorageBackendPostgres:
		return migrations.New(migrations.Config{
			Driver:  "pgx",
			DSN:     cfg.GetDatabaseURL(),
			Dialect: "postgres",
			Dir:     "migrations/postgres",
		})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

func runMigrateUp(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	m, err := migrationsManager(cfg)
	if err != nil {
		return err
	}
	defer m.Close()
	return m.Up(cmd.Context())
}

func runMigrateDown(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	m, err := migrationsManager(cfg)
	if err != nil {
		return err
	}
	defer m.Close()
	return m.Down(cmd.Context())
}

func runMigrateStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	m, err := migrationsManager(cfg)
	if err != nil {
		return err
	}
	defer m.Close()
	version, err := m.Status(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("schema version: %d\n", version)
	return nil
}
