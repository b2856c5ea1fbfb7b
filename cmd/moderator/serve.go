package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/meetingmod/moderator/pkg/gateway/config"
	"github.com/meetingmod/moderator/pkg/gateway/server"
	"github.com/meetingmod/moderator/pkg/gateway/upstream"
	"github.com/meetingmod/moderator/pkg/principles"
	"github.com/meetingmod/moderator/pkg/storage"
	"github.com/meetingmod/moderator/pkg/storage/report"
	"github.com/meetingmod/moderator/pkg/storage/sqlstore"
)

const sessionCancelWait = 10 * time.Second

func newServeCmd(a app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger := newLogger(cmd.ErrOrStderr(), cfg.LogLevel)
			return runServe(cmd.Context(), cfg, logger, a)
		},
	}
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func runServe(ctx context.Context, cfg config.Config, logger *slog.Logger, a app) error {
	if a.signalNotify == nil || a.signalStop == nil {
		return errors.New("missing signal dependency")
	}

	store, err := sqlstore.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	if _, err := store.Migrate(ctx); err != nil {
		return err
	}

	catalog, err := principles.NewCatalog(cfg.PrinciplesDir, logger)
	if err != nil {
		return err
	}
	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	go func() {
		err := catalog.Watch(watchCtx, func() { logger.Debug("principles changed on disk") })
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("principles watch stopped", "error", err)
		}
	}()

	factory, err := upstream.New(ctx, cfg, server.NewHTTPClient(), logger)
	if err != nil {
		return fmt.Errorf("reasoning provider: %w", err)
	}
	reports := report.New(cfg.ReportsDir)

	srv := server.New(cfg, logger, server.Dependencies{
		Catalog:   catalog,
		Recorder:  storage.Fanout{store, reports},
		Loader:    store,
		Store:     store,
		Upstreams: factory,
		Files:     reports.Files,
	})
	httpSrv := buildHTTPServer(cfg, srv.Handler())

	for _, issue := range cfg.Issues() {
		logger.Warn("degraded configuration", "issue", issue)
	}
	logger.Info("starting moderator",
		"addr", cfg.Addr,
		"auth_mode", cfg.AuthMode,
		"judges", cfg.Judges,
		"reasoning_provider", cfg.ReasoningProvider,
		"speaker_attribution", cfg.SpeakerAttribution,
	)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	a.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer a.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("context canceled, shutting down")
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	srv.Lifecycle().SetDraining(true)
	notified := srv.Sessions().NotifyAll("server_draining", "server is shutting down")
	logger.Info("draining", "live_sessions", notified)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	// Hijacked websocket connections outlive Shutdown.
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer waitCancel()
	if !srv.Sessions().Wait(waitCtx) {
		canceled := srv.Sessions().CancelAll()
		logger.Warn("canceling live sessions", "count", canceled)
		cancelCtx, cancel := context.WithTimeout(context.Background(), sessionCancelWait)
		defer cancel()
		if !srv.Sessions().Wait(cancelCtx) {
			logger.Error("live sessions did not stop", "count", srv.Sessions().Count())
		}
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	logger.Info("moderator stopped")
	return nil
}
