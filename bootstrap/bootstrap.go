// Package bootstrap wires all dependencies and starts the application.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apimeter/apimeter/adapters/cache"
	"github.com/apimeter/apimeter/adapters/clock"
	apihttp "github.com/apimeter/apimeter/adapters/http"
	"github.com/apimeter/apimeter/adapters/idgen"
	"github.com/apimeter/apimeter/adapters/memory"
	"github.com/apimeter/apimeter/adapters/metrics"
	"github.com/apimeter/apimeter/adapters/notify"
	"github.com/apimeter/apimeter/adapters/sqlite"
	"github.com/apimeter/apimeter/app"
	"github.com/apimeter/apimeter/config"
	"github.com/apimeter/apimeter/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// App represents the running application.
type App struct {
	Logger     zerolog.Logger
	Config     *config.Holder
	DB         *sqlite.DB
	HTTPServer *http.Server
	Metrics    *metrics.Collector
	Pipeline   *app.Pipeline

	registry    *prometheus.Registry
	evaluator   *app.AlertEvaluator
	writer      ports.LedgerWriter
	local       *memory.RateLimitStore
	scheduler   *app.RetentionScheduler
	schedCancel context.CancelFunc
}

// New creates and initializes the application from a config file path.
func New(configPath string) (*App, error) {
	if configPath == "" {
		return nil, fmt.Errorf("config path is required")
	}

	holder, err := config.NewHolder(configPath, SetupLogger(config.LoggingConfig{Level: "info", Format: "json"}))
	if err != nil {
		return nil, err
	}
	cfg := holder.Get()

	logger := SetupLogger(cfg.Logging)
	logger.Info().Msg("initializing apimeter")

	a := &App{
		Logger: logger,
		Config: holder,
	}

	if err := a.initDatabase(cfg); err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}

	if cfg.Metrics.Enabled {
		a.registry = prometheus.NewRegistry()
		a.Metrics = metrics.NewWithRegistry(a.registry)
		logger.Info().Msg("prometheus metrics enabled")
	}

	if err := a.initPipeline(cfg); err != nil {
		a.DB.Close()
		return nil, fmt.Errorf("init pipeline: %w", err)
	}

	a.initHTTPServer(cfg)
	a.wireReload()

	return a, nil
}

func (a *App) initDatabase(cfg *config.Config) error {
	db, err := sqlite.Open(cfg.Database.DSN)
	if err != nil {
		return err
	}

	if err := db.Migrate(); err != nil {
		db.Close()
		return fmt.Errorf("migrate: %w", err)
	}

	a.DB = db
	a.Logger.Info().Str("dsn", cfg.Database.DSN).Msg("database initialized")
	return nil
}

func (a *App) initPipeline(cfg *config.Config) error {
	realClock := clock.Real{}
	uuidGen := idgen.UUID{}

	credentials := sqlite.NewCredentialStore(a.DB)
	ledger := sqlite.NewLedger(a.DB)
	alertStore := sqlite.NewAlertStore(a.DB)

	// Durable windows behind an in-process advisory cache.
	durable := sqlite.NewRateLimitStore(a.DB)
	a.local = memory.NewRateLimitStore(memory.RateLimitConfig{})
	rateLimit := cache.NewLayeredRateLimitStore(durable, a.local)

	sinks, err := notify.NewSinks(cfg.Alerts.Sinks)
	if err != nil {
		return fmt.Errorf("build notification sinks: %w", err)
	}

	writer := app.NewBufferedLedgerWriter(ledger, cfg.Usage.BatchSize, cfg.Usage.FlushInterval, a.Logger, a.Metrics)
	a.writer = writer

	var evaluator *app.AlertEvaluator
	if cfg.Alerts.Enabled {
		evaluator = app.NewAlertEvaluator(app.AlertEvaluatorDeps{
			Ledger:  ledger,
			Alerts:  alertStore,
			Sinks:   sinks,
			Clock:   realClock,
			IDGen:   uuidGen,
			Logger:  a.Logger,
			Metrics: a.Metrics,
		}, cfg.Thresholds())
	}
	a.evaluator = evaluator

	a.Pipeline = app.NewPipeline(app.PipelineDeps{
		Credentials: credentials,
		RateLimit:   rateLimit,
		Writer:      writer,
		Evaluator:   evaluator,
		Clock:       realClock,
		IDGen:       uuidGen,
		Logger:      a.Logger,
		Metrics:     a.Metrics,
	}, app.PipelineConfig{
		KeyPrefix: cfg.Auth.KeyPrefix,
		Limits:    cfg.Limits(),
	})

	retention := app.NewRetentionService(ledger, durable, realClock, a.Logger)
	a.scheduler = app.NewRetentionScheduler(retention, cfg.Retention.Schedule, cfg.Retention.Days, a.Logger)

	return nil
}

func (a *App) initHTTPServer(cfg *config.Config) {
	mw := apihttp.NewMiddleware(a.Pipeline, clock.Real{}, a.Logger, cfg.Auth.Header)

	// The accounted surface: everything under / that isn't healthz/metrics.
	// Deployments mount their API behind this process or replace the handler.
	api := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	router := apihttp.NewRouter(mw, api, a.Logger, apihttp.RouterConfig{
		MetricsRegistry: a.registry,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	a.HTTPServer = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	a.Logger.Info().Str("addr", addr).Msg("http server configured")
}

// wireReload pushes hot-reloadable config into the running services.
func (a *App) wireReload() {
	a.Config.OnChange(func(cfg *config.Config) {
		a.Pipeline.UpdateLimits(cfg.Limits())
		if a.evaluator != nil {
			a.evaluator.UpdateThresholds(cfg.Thresholds())
		}
	})
}

// Run starts the HTTP server and scheduler and blocks until shutdown.
func (a *App) Run() error {
	schedCtx, cancel := context.WithCancel(context.Background())
	a.schedCancel = cancel
	if err := a.scheduler.Start(schedCtx); err != nil {
		a.Logger.Warn().Err(err).Msg("retention scheduler not started")
	}

	if err := a.Config.WatchFile(); err != nil {
		a.Logger.Warn().Err(err).Msg("config file watch not started")
	}
	a.Config.WatchSignals()

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().
			Str("addr", a.HTTPServer.Addr).
			Msg("starting http server")
		if err := a.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	return a.Shutdown()
}

// Shutdown gracefully stops the application, flushing buffered usage records.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if a.schedCancel != nil {
		a.schedCancel()
	}
	if a.scheduler != nil {
		a.scheduler.Stop()
	}

	a.Config.Stop()

	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("http server shutdown error")
		}
	}

	if a.writer != nil {
		if err := a.writer.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("ledger writer close error")
		}
	}

	if a.local != nil {
		a.local.Close()
	}

	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("database close error")
		}
	}

	a.Logger.Info().Msg("shutdown complete")
	return nil
}

// SetupLogger creates a zerolog logger from logging config.
func SetupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}

	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
