package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/felo/reportmaster/internal/db"
	"github.com/felo/reportmaster/internal/handlers"
	"github.com/felo/reportmaster/internal/jobs"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the job workers",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Ensure database and work directories exist
	if err := os.MkdirAll(filepath.Dir(cfg.DB.Path), 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}
	if err := os.MkdirAll(cfg.Paths.Work, 0755); err != nil {
		return fmt.Errorf("failed to create work directory: %w", err)
	}

	database, err := db.Open(cfg.DB.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()
	logger.Info("database opened", zap.String("path", cfg.DB.Path))

	pipeline, err := newPipeline(cfg, logger)
	if err != nil {
		return err
	}
	manager, err := jobs.NewManager(jobs.Options{
		DB:            database,
		WorkDir:       cfg.Paths.Work,
		Pipeline:      pipeline,
		MaxConcurrent: cfg.Jobs.MaxConcurrent,
		MaxFiles:      cfg.Jobs.MaxFiles,
		Logger:        logger.Named("jobs"),
	})
	if err != nil {
		return err
	}
	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("failed to start job workers: %w", err)
	}
	defer manager.Close()

	h := handlers.New(manager, cfg, logger.Named("http"))
	srv := &http.Server{
		Addr:         cfg.Address(),
		Handler:      h.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // Long enough for SSE streams and archives
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("url", cfg.URL()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down gracefully")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("server stopped")
	return nil
}
