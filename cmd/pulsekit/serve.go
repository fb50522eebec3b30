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

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/snowdamiz/pulsekit/internal/alerting"
	"github.com/snowdamiz/pulsekit/internal/api"
	"github.com/snowdamiz/pulsekit/internal/api/handler"
	mw "github.com/snowdamiz/pulsekit/internal/api/middleware"
	"github.com/snowdamiz/pulsekit/internal/cache"
	"github.com/snowdamiz/pulsekit/internal/config"
	"github.com/snowdamiz/pulsekit/internal/events"
	"github.com/snowdamiz/pulsekit/internal/issues"
	"github.com/snowdamiz/pulsekit/internal/realtime"
	"github.com/snowdamiz/pulsekit/internal/retention"
	"github.com/snowdamiz/pulsekit/internal/store"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, realtime fanout and retention sweeper",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("config loaded", "fanout", cfg.Fanout.Backend, "port", cfg.Server.Port)

	// 1. Database and migrations
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	if err := store.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsDir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database ready")

	// 2. Redis
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	logger.Info("redis connected")

	pgStore := store.NewPostgresStore(pool)

	// 3. Realtime fanout
	bgCtx, cancelBg := context.WithCancel(context.Background())
	defer cancelBg()
	bg, bgCtx := errgroup.WithContext(bgCtx)

	hub := realtime.NewHub(0, logger)
	broker, closeBroker, err := newBroker(bgCtx, bg, cfg.Fanout, hub, redisCache, logger)
	if err != nil {
		return err
	}
	defer closeBroker()

	// 4. Pipeline services
	dispatcher := alerting.NewDispatcher(alerting.DispatcherConfig{
		Timeout:        cfg.Webhook.Timeout,
		MaxConcurrency: cfg.Webhook.MaxConcurrency,
		UserAgent:      cfg.Webhook.UserAgent,
	}, logger)
	evaluator := alerting.NewEvaluator(pgStore, dispatcher, logger)
	notifier := realtime.NewNotifier(broker, pgStore, logger)
	eventsSvc := events.NewService(pgStore, notifier, evaluator, logger)
	issuesSvc := issues.NewService(pgStore)

	sweeper := retention.NewSweeper(pgStore, retention.Config{
		Interval:     cfg.Retention.Interval,
		InitialDelay: cfg.Retention.InitialDelay,
		DefaultDays:  cfg.Retention.DefaultDays,
	}, logger)
	sweeper.Start(bgCtx)
	defer sweeper.Stop()

	// 5. Router
	router := api.NewRouter(dependencies(bgCtx, cfg, pgStore, redisCache, hub, eventsSvc, issuesSvc, dispatcher, logger))

	// 6. HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var fanoutFailed bool
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-bgCtx.Done():
		fanoutFailed = true
		logger.Error("realtime fanout failed, shutting down")
	case <-ctx.Done():
		logger.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err = srv.Shutdown(shutdownCtx)
	cancelBg()
	hub.Close()
	eventsSvc.Wait()
	dispatcher.Wait()
	if bgErr := bg.Wait(); bgErr != nil {
		if fanoutFailed {
			return fmt.Errorf("realtime fanout: %w", bgErr)
		}
		logger.Warn("realtime fanout stopped with error", "error", bgErr)
	}
	if err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped gracefully")
	return nil
}

// newBroker selects the realtime broker. Cross-process backends run their
// subscriber loop in g until ctx is cancelled.
func newBroker(ctx context.Context, g *errgroup.Group, cfg config.FanoutConfig, hub *realtime.Hub, rc *cache.RedisCache, logger *slog.Logger) (realtime.Broker, func(), error) {
	switch cfg.Backend {
	case config.FanoutRedis:
		bridge := realtime.NewRedisBridge(rc.Client(), hub, logger)
		g.Go(func() error { return bridge.Run(ctx) })
		return bridge, func() {}, nil
	case config.FanoutNATS:
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("pulsekit"))
		if err != nil {
			return nil, nil, fmt.Errorf("connect nats: %w", err)
		}
		bridge := realtime.NewNATSBridge(nc, hub, logger)
		g.Go(func() error { return bridge.Run(ctx) })
		logger.Info("nats connected", "url", nc.ConnectedUrlRedacted())
		return bridge, nc.Close, nil
	default:
		return hub, func() {}, nil
	}
}

func dependencies(
	ctx context.Context,
	cfg *config.Config,
	pgStore *store.PostgresStore,
	redisCache *cache.RedisCache,
	hub *realtime.Hub,
	eventsSvc *events.Service,
	issuesSvc *issues.Service,
	dispatcher *alerting.Dispatcher,
	logger *slog.Logger,
) api.Dependencies {
	project := handler.SingleProject()
	workspace := handler.Workspace(pgStore)
	rules := handler.NewAlertRules(pgStore, eventsSvc, dispatcher)

	return api.Dependencies{
		Auth:      mw.NewAuth(pgStore, cfg.Auth.CacheTTL),
		RateLimit: mw.NewRateLimit(redisCache, cfg.Auth.RateLimitPerMinute),

		HealthHandler:  handler.NewHealthHandler(pgStore, redisCache),
		MetricsHandler: promhttp.Handler(),

		CreateEvent: handler.NewCreateEventHandler(eventsSvc),
		CreateBatch: handler.NewCreateBatchHandler(eventsSvc),

		ListEvents:        handler.NewListEventsHandler(eventsSvc, project),
		CountEvents:       handler.NewCountEventsHandler(eventsSvc, project),
		GetEvent:          handler.NewGetEventHandler(eventsSvc, project),
		EventStats:        handler.NewEventStatsHandler(eventsSvc, project),
		EventTypes:        handler.NewEventTypesHandler(eventsSvc, project),
		EventTimeline:     handler.NewTimelineHandler(eventsSvc, project),
		EventEnvironments: handler.NewEnvironmentsHandler(eventsSvc, project),

		ListIssues:        handler.NewListIssuesHandler(issuesSvc, project),
		CountIssues:       handler.NewCountIssuesHandler(issuesSvc, project),
		IssueStats:        handler.NewIssueStatsHandler(issuesSvc, project),
		GetIssue:          handler.NewGetIssueHandler(issuesSvc),
		IssueEvents:       handler.NewIssueEventsHandler(issuesSvc),
		UpdateIssueStatus: handler.NewUpdateIssueStatusHandler(issuesSvc),

		WorkspaceEvents:     handler.NewListEventsHandler(eventsSvc, workspace),
		WorkspaceIssues:     handler.NewListIssuesHandler(issuesSvc, workspace),
		WorkspaceIssueStats: handler.NewIssueStatsHandler(issuesSvc, workspace),

		ListAlertRules:  rules.List,
		GetAlertRule:    rules.Get,
		CreateAlertRule: rules.Create,
		UpdateAlertRule: rules.Update,
		DeleteAlertRule: rules.Delete,
		TestAlertRule:   rules.Test,

		Realtime: handler.NewRealtimeHandler(ctx, hub, pgStore, logger),
	}
}
