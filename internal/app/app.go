// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/bissquit/market-courier/internal/config"
	"github.com/bissquit/market-courier/internal/domain"
	"github.com/bissquit/market-courier/internal/identity/jwt"
	"github.com/bissquit/market-courier/internal/notifications"
	"github.com/bissquit/market-courier/internal/notifications/handlers"
	"github.com/bissquit/market-courier/internal/notifications/telegram"
	"github.com/bissquit/market-courier/internal/pkg/ctxlog"
	"github.com/bissquit/market-courier/internal/pkg/httputil"
	"github.com/bissquit/market-courier/internal/pkg/metrics"
	"github.com/bissquit/market-courier/internal/pkg/signature"
	"github.com/bissquit/market-courier/internal/version"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"
)

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	storage       *storage
	secrets       *secretsSource
	audit         *notifications.AuditLogger
	scheduler     *notifications.Scheduler
	server        *http.Server
	metricsServer *http.Server

	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates a new application instance.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)
	slog.SetDefault(logger)

	info := version.Get()
	metrics.SetBuildInfo(info.Version, info.Commit)
	logger.Info("starting courier", "version", info.Version, "commit", info.Commit)

	store, err := openStorage(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	app := &App{
		config:  cfg,
		logger:  logger,
		storage: store,
	}

	if err := app.setup(ctx); err != nil {
		app.closeResources()
		return nil, err
	}

	return app, nil
}

func (a *App) setup(ctx context.Context) error {
	cfg := a.config

	src, err := openSecrets(ctx, cfg.Secrets)
	if err != nil {
		return err
	}
	a.secrets = src

	verifier := signature.NewVerifier(src.signingKeys(cfg.Signature), cfg.Signature.MaxSkew)

	authenticator, err := jwt.NewAuthenticator(jwt.Config{
		SecretKey: cfg.JWT.SecretKey,
		Issuer:    cfg.JWT.Issuer,
		Audience:  cfg.JWT.Audience,
		Leeway:    cfg.JWT.Leeway,
	})
	if err != nil {
		return fmt.Errorf("create authenticator: %w", err)
	}

	telegramSender, err := telegram.NewSender(telegram.Config{
		Enabled:         cfg.Telegram.Enabled,
		BotToken:        cfg.Telegram.BotToken,
		RateLimit:       cfg.Telegram.RateLimit,
		MediaBatchSize:  cfg.Telegram.MediaBatchSize,
		MediaBatchDelay: cfg.Telegram.MediaBatchDelay,
		Media: telegram.MediaConfig{
			Width:   cfg.Telegram.MediaWidth,
			Quality: cfg.Telegram.MediaQuality,
			Format:  cfg.Telegram.MediaFormat,
		},
	})
	if err != nil {
		return fmt.Errorf("create telegram sender: %w", err)
	}
	if !cfg.Telegram.Enabled {
		slog.Warn("telegram sender is disabled: notifications will be resolved without delivery")
	}

	a.audit = notifications.NewAuditLogger(a.storage.audit)
	sender := notifications.NewAuditedSender(telegramSender, a.audit)

	registry := notifications.NewRegistry()
	if err := handlers.RegisterAll(registry, handlers.Deps{
		Entities:       a.storage.entities,
		Sender:         sender,
		ChannelChatID:  cfg.Channels.ChannelChatID,
		AdminChatID:    cfg.Channels.AdminChatID,
		RepostCooldown: cfg.Queue.RepostCooldown,
	}); err != nil {
		return fmt.Errorf("register handlers: %w", err)
	}

	a.scheduler = notifications.NewScheduler(notifications.SchedulerConfig{
		TickInterval:       cfg.Queue.TickInterval,
		InitialBackoff:     cfg.Queue.InitialBackoff,
		MaxBackoff:         cfg.Queue.MaxBackoff,
		BackoffMultiplier:  cfg.Queue.BackoffMultiplier,
		StaleAfter:         cfg.Queue.StaleAfter,
		StaleSweepInterval: cfg.Queue.StaleSweepInterval,
	}, a.storage.queue, registry)

	service := notifications.NewService(notifications.ServiceConfig{
		DedupBucket: cfg.Queue.DedupBucket,
		DedupWindow: cfg.Queue.DedupWindow,
		MaxAttempts: cfg.Queue.MaxAttempts,
	}, a.storage.queue, a.storage.entities)

	router := a.setupRouter(notifications.NewHandler(service), authenticator, verifier)

	a.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	a.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return nil
}

// Run starts the HTTP servers, the scheduler and the metrics collector and
// blocks until ctx is cancelled or one of them fails. Shutdown is performed
// before Run returns.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		a.logger.Info("starting server",
			"host", a.config.Server.Host,
			"port", a.config.Server.Port,
		)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		metrics.Collect(ctx, a.config.Queue.StatsInterval, a.collectMetrics)
		return nil
	})

	a.scheduler.Start(ctx)

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.config.Server.ShutdownTimeout)
		defer cancel()
		return a.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Shutdown gracefully shuts down the application. It is safe to call more
// than once.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownOnce.Do(func() {
		a.logger.Info("shutting down")

		// the in-flight tick finishes before servers and storage go away
		a.scheduler.Stop()

		var errs []error
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
		}
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
		}

		if err := a.closeResources(); err != nil {
			errs = append(errs, err)
		}
		a.shutdownErr = errors.Join(errs...)
	})
	return a.shutdownErr
}

func (a *App) closeResources() error {
	var errs []error
	if a.audit != nil {
		a.audit.Close()
	}
	if a.secrets != nil {
		if err := a.secrets.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close secrets: %w", err))
		}
	}
	a.storage.Close()
	return errors.Join(errs...)
}

func (a *App) collectMetrics(ctx context.Context) {
	if a.storage.db != nil {
		metrics.RecordDBPoolMetrics(a.storage.db)
	}

	stats, err := a.storage.queue.GetQueueStats(ctx)
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("failed to get queue stats", "error", err)
		}
		return
	}
	notifications.RecordQueueStats(stats)
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// Scheduler returns the queue scheduler. Used in tests to drive ticks.
func (a *App) Scheduler() *notifications.Scheduler {
	return a.scheduler
}

func (a *App) setupRouter(
	notificationsHandler *notifications.Handler,
	authenticator *jwt.Authenticator,
	verifier *signature.Verifier,
) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)

	// CORS must be early to handle preflight requests before other middleware
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   a.config.CORS.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", signature.HeaderSignature, signature.HeaderTimestamp},
		AllowCredentials: false,
		MaxAge:           300,
	}).Handler)
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	r.Get("/api/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-yaml")
		http.ServeFile(w, r, "api/openapi/openapi.yaml")
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(signature.Middleware(verifier))
			notificationsHandler.RegisterDeliveryRoutes(r)
		})

		r.Group(func(r chi.Router) {
			r.Use(httputil.AuthMiddleware(authenticator))

			notificationsHandler.RegisterProducerRoutes(r)

			r.Group(func(r chi.Router) {
				r.Use(httputil.RequireRole(domain.RoleService))
				notificationsHandler.RegisterServiceRoutes(r)
			})
		})
	})

	return r
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.storage.Ping(ctx); err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Database unavailable")
		return
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, version.Get())
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
