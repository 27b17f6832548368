// Package main is the entry point for the dbsync reconciliation server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/vitaliisemenov/dbsync/internal/bootstrap"
	"github.com/vitaliisemenov/dbsync/internal/config"
	"github.com/vitaliisemenov/dbsync/internal/extension"
	"github.com/vitaliisemenov/dbsync/internal/registry"
	"github.com/vitaliisemenov/dbsync/internal/schemaconfig"
	"github.com/vitaliisemenov/dbsync/internal/shutdown"
	"github.com/vitaliisemenov/dbsync/pkg/logger"
)

const (
	serviceName    = "dbsync"
	serviceVersion = "0.1.0"
)

var (
	configPath string
	schemaPath string
)

func main() {
	root := &cobra.Command{
		Use:     "dbsync-server",
		Short:   "Serve the push/pull reconciliation endpoints",
		Version: serviceVersion,
		RunE:    runServe,
	}
	root.Flags().StringVar(&configPath, "config", "", "path to a YAML config file")
	root.Flags().StringVar(&schemaPath, "schema", "", "path to a YAML content-type schema file (required)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
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
	log.Info("starting dbsync server", "service", serviceName, "version", serviceVersion, "profile", cfg.Profile)

	if schemaPath == "" {
		return fmt.Errorf("--schema is required: a YAML file declaring the tracked content types")
	}
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
