// Package server initializes and runs the cryptboard server: metadata
// store, blob backend, chunk store, sync hub and the HTTP surface, with
// graceful shutdown on signals.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/askarin/cryptboard/internal/logging"
	"github.com/askarin/cryptboard/internal/server/blob"
	"github.com/askarin/cryptboard/internal/server/config"
	"github.com/askarin/cryptboard/internal/server/hub"
	"github.com/askarin/cryptboard/internal/server/repositories/repomanager"
	"github.com/askarin/cryptboard/internal/server/store"
)

type App struct {
	config *config.Config
	logger logging.Logger
	repos  repomanager.RepositoryManager
	store  *store.Service
	hub    *hub.Hub
}

func NewApp(cfg *config.Config) (*App, error) {
	sl := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger := logging.NewSlogLogger(sl)

	repos, err := repomanager.New(cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	var blobStore blob.Store
	switch cfg.BlobBackend {
	case "s3":
		blobStore, err = blob.NewS3Store(context.Background(), blob.S3Config{
			RootUser:     cfg.S3RootUser,
			RootPassword: cfg.S3RootPassword,
			Bucket:       cfg.S3Bucket,
			Region:       cfg.S3Region,
			BaseEndpoint: cfg.S3BaseEndpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 init error: %w", err)
		}
	default:
		blobStore, err = blob.NewFSStore(cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("blob init error: %w", err)
		}
	}

	st := store.NewService(repos, blobStore, logger, store.Options{
		ChunkSize:  cfg.ChunkSize,
		PendingTTL: cfg.PendingTTL,
		SessionTTL: cfg.SessionTTL,
	})

	h := hub.New(st, logger, cfg.SecretKey, cfg.ResumeTokenValidityDuration)

	return &App{config: cfg, logger: logger, repos: repos, store: st, hub: h}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if err := app.store.Ping(ctx); err != nil {
			app.logger.Error(ctx, "health check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, "unhealthy")
			return
		}
		fmt.Fprint(w, "healthy")
	}
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", app.hub.Handler())
	mux.HandleFunc("/healthz", app.healthHandler())

	srv := &http.Server{Addr: app.config.EndpointAddr, Handler: mux}

	go func() {
		<-ctx.Done()
		app.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	app.logger.Info(ctx, "Starting HTTP server", "address", app.config.EndpointAddr)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	if err := app.store.Sweep(ctx); err != nil {
		app.logger.Error(ctx, "startup sweep failed", "error", err)
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.store.RunGC(ctx, app.config.GCInterval, app.hub.SessionCleared)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Wait()

	if err := app.repos.Close(); err != nil {
		app.logger.Error(ctx, "db close error", "error", err)
	}
}
