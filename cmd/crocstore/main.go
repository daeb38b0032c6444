package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/crocstore/internal/cleanup"
	"github.com/italolelis/crocstore/internal/config"
	"github.com/italolelis/crocstore/internal/crocdb"
	"github.com/italolelis/crocstore/internal/http/rest"
	"github.com/italolelis/crocstore/internal/jobs"
	"github.com/italolelis/crocstore/internal/logctx"
	"github.com/italolelis/crocstore/internal/notifier"
	"github.com/italolelis/crocstore/internal/rpc"
	"github.com/italolelis/crocstore/internal/session"
	"github.com/italolelis/crocstore/internal/storage"
	"github.com/italolelis/crocstore/internal/storage/sqlite"
	"github.com/italolelis/crocstore/internal/telemetry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})
	logger := slog.New(logctx.NewTraceHandler(handler))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slog.Info("crocstore starting...", "log_level", cfg.LogLevel, "version", version)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		logger.Error("DB error", "err", err)

		return err
	}
	defer database.Close()

	history := sqlite.NewInstrumentedHistoryRepository(database, tel)

	// =========================================================================
	// Start Backend Client
	gateway := rpc.NewClient(cfg.Backend.BaseURL, cfg.Backend.Plugin,
		rpc.WithHTTPClient(&http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   cfg.Backend.Timeout,
		}),
		rpc.WithToken(cfg.Backend.Token),
	)

	api := crocdb.NewClient(rpc.NewInstrumentedGateway(gateway, tel, cfg.Backend.Plugin))

	// =========================================================================
	// Start Job Tracker
	tracker := jobs.NewTracker(api, jobs.NewRegistry(), jobs.Config{
		PollInterval:    cfg.PollInterval,
		RefreshInterval: cfg.RefreshInterval,
	}, jobs.WithTelemetry(tel))

	sess := session.New(api, tracker)

	// =========================================================================
	// Start History and Notification
	historyDone := setupJobHistory(ctx, sess, history, cfg)

	// Runs before the database is closed.
	defer func() {
		tracker.Stop()
		<-historyDone
	}()

	if err := sess.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialise session: %w", err)
	}

	tracker.Start(ctx)

	// =========================================================================
	// Start Cleanup
	scheduler, err := cleanup.Schedule(ctx, history, cfg.CleanupSchedule, cfg.HistoryRetention)
	if err != nil {
		return fmt.Errorf("failed to schedule cleanup: %w", err)
	}

	defer func() {
		if err := scheduler.Shutdown(); err != nil {
			logger.Error("failed to shutdown scheduler", "err", err)
		}
	}()

	// =========================================================================
	// Start API Service

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	server := setupServer(ctx, sess, history, tel, cfg)

	go func() {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)
		serverErrors <- server.ListenAndServe()
	}()

	logger.Info("waiting for downloads...",
		"backend", cfg.Backend.BaseURL,
		"plugin", cfg.Backend.Plugin,
		"poll_interval", cfg.PollInterval.String(),
		"refresh_interval", cfg.RefreshInterval.String(),
		"retention", cfg.HistoryRetention.String(),
	)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("start shutdown")

		// Event streams only end once the tracker closes its subscribers.
		tracker.Stop()

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		return ctx.Err()
	}
}

// setupJobHistory stores every job that reaches a terminal status and, when a
// webhook is configured, announces it. The returned channel is closed once the
// tracker has stopped and the last event was handled.
func setupJobHistory(ctx context.Context, sess *session.Session, history storage.HistoryWriteRepository, cfg *config.Config) <-chan struct{} {
	logger := logctx.LoggerFromContext(ctx)

	var notif notifier.Notifier
	if cfg.DiscordWebhookURL != "" {
		notif = &notifier.DiscordNotifier{WebhookURL: cfg.DiscordWebhookURL}
	}

	events, unsubscribe := sess.Subscribe(0)
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer unsubscribe()

		for ev := range events {
			if ev.Kind != jobs.EventFinished && ev.Kind != jobs.EventFailed {
				continue
			}

			recordTerminalJob(ctx, ev, history, notif)
		}

		logger.Debug("job history consumer stopped")
	}()

	return done
}

func recordTerminalJob(ctx context.Context, ev jobs.Event, history storage.HistoryWriteRepository, notif notifier.Notifier) {
	logger := logctx.LoggerFromContext(ctx).With("rom_id", ev.Key)

	if ev.Job == nil {
		return
	}

	logger.Info("download reached terminal status", "status", ev.Job.Status, "filename", ev.Job.Filename)

	rec, err := storage.NewHistoryRecord(ev.Key, *ev.Job, ev.At)
	if err != nil {
		logger.Error("failed to build history record", "err", err)

		return
	}

	// Keep recording while shutting down.
	if err := history.RecordJob(context.WithoutCancel(ctx), rec); err != nil {
		logger.Error("failed to record download history", "err", err)
	}

	if notif == nil {
		return
	}

	msg, ok := notifier.JobMessage(ev.Key, *ev.Job)
	if !ok {
		return
	}

	if err := notif.Notify(ctx, msg); err != nil {
		logger.Error("failed to send notification", "err", err)
	}
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(ctx context.Context, sess *session.Session, history storage.HistoryReadRepository, tel *telemetry.Telemetry, cfg *config.Config) *http.Server {
	handler := rest.NewHandler(sess, history, cfg.Web.Username, cfg.Web.Password)

	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)

	r.Handle("/metrics", tel.Handler())
	r.Mount("/", handler.Routes())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      r,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}
