package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashureev/voicewidget/internal/api"
	"github.com/ashureev/voicewidget/web"
)

func newServeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the widget over HTTP with the dashboard and event stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), flags)
		},
	}
}

func runServe(parent context.Context, flags *rootFlags) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, err := loadConfig(flags)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		return err
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "version", cfg.Version)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, flags, nil)
	if err != nil {
		slog.Error("Failed to initialize widget host", "error", err)
		return err
	}
	defer a.Close()

	stream := api.NewStream(a.widget, cfg.SSE, slog.Default())
	defer stream.Close()

	router := api.NewRouter(
		api.NewHandler(a.widget, a.repo, cfg.Version, cfg.ConfigFetchTimeout*3, slog.Default()),
		api.NewHealthHandler(a.repo, a.widget),
		stream,
		api.RouterConfig{
			AllowedOrigins: cfg.AllowedOrigins(),
			RateLimit:      cfg.RateLimit,
			Dashboard:      web.DashboardHandler(),
		},
	)

	// SSE connections require long timeouts (no WriteTimeout).
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		slog.Error("Server failed", "error", err)
		return err
	}
	stop()

	slog.Info("Shutting down gracefully...")

	// End open event streams so Shutdown does not wait on them.
	stream.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		return fmt.Errorf("shutdown: %w", err)
	}

	slog.Info("Server stopped successfully")
	return nil
}
