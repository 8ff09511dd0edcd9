package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/cesargomez89/audiosource/internal/downloads"
	httpapp "github.com/cesargomez89/audiosource/internal/http"
	"github.com/cesargomez89/audiosource/internal/watcher"
)

const shutdownTimeout = 5 * time.Second

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with the background workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			appLogger := ctx.logger()

			lock, err := acquireLock(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = lock.Unlock() }()

			svc, err := buildServices(cfg, appLogger)
			if err != nil {
				return err
			}
			defer func() { _ = svc.db.Close() }()

			dlWorker := downloads.NewWorker(svc.downloads, appLogger)
			dlWorker.Start()
			defer dlWorker.Stop()

			defer func() {
				stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := svc.registry.Shutdown(stopCtx); err != nil {
					appLogger.Warn("Jobs did not stop in time", "error", err)
				}
			}()

			svc.scheduler.Start()
			defer svc.scheduler.Stop()

			if cfg.WatchLibrary {
				w := watcher.New(cfg.MusicFolder, svc.registry, appLogger)
				if err := w.Start(); err != nil {
					appLogger.Error("Library watcher disabled", "error", err)
				} else {
					defer w.Stop()
				}
			}

			r := chi.NewRouter()
			r.Use(middleware.Logger)
			r.Use(middleware.Recoverer)

			h := httpapp.NewHandler(svc.registry, svc.library, svc.covers, svc.scheduler, svc.downloads, svc.db, appLogger)
			h.RegisterRoutes(r)

			srv := &http.Server{
				Addr:              ":" + cfg.Port,
				Handler:           r,
				ReadHeaderTimeout: 10 * time.Second,
			}

			sigCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			serveErr := make(chan error, 1)
			go func() {
				appLogger.Info("Server listening", "addr", srv.Addr, "music_folder", cfg.MusicFolder)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
				close(serveErr)
			}()

			select {
			case err := <-serveErr:
				if err != nil {
					return err
				}
			case <-sigCtx.Done():
			}

			appLogger.Info("Shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				appLogger.Error("Server forced to shutdown", "error", err)
			}
			return nil
		},
	}
}
