// Package runtime wires the full service from configuration and manages its
// lifecycle.
package runtime

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/lrgstore/idstore/internal/adb"
	"github.com/lrgstore/idstore/internal/api/httpserver"
	"github.com/lrgstore/idstore/internal/app"
	"github.com/lrgstore/idstore/internal/app/cache"
	"github.com/lrgstore/idstore/internal/app/httpapi"
	"github.com/lrgstore/idstore/internal/app/metrics"
	"github.com/lrgstore/idstore/internal/app/services/health"
	"github.com/lrgstore/idstore/internal/app/services/topup"
	"github.com/lrgstore/idstore/internal/app/storage/postgres"
	"github.com/lrgstore/idstore/internal/auth"
	"github.com/lrgstore/idstore/internal/config"
	"github.com/lrgstore/idstore/internal/middleware"
	"github.com/lrgstore/idstore/internal/platform/migrations"
	"github.com/lrgstore/idstore/pkg/logger"
)

// Application wires core dependencies and manages the HTTP server lifecycle.
type Application struct {
	cfg        *config.Config
	log        *logger.Logger
	httpServer *httpserver.Server
	app        *app.Application
	cache      cache.Cache
	db         *sqlx.DB
}

// NewApplication constructs a new application instance with default wiring.
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log := logger.New(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stores, db, err := buildStores(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("configure stores: %w", err)
	}

	catalogCache := buildCache(ctx, cfg, log)

	issuer, err := auth.NewTokenIssuer(cfg.Auth.SecretKey, cfg.Auth.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("configure token issuer: %w", err)
	}

	screenshotDir := filepath.Join(cfg.Storage.DataDir, "screenshots")
	if err := os.MkdirAll(screenshotDir, 0o755); err != nil {
		return nil, fmt.Errorf("create screenshot dir: %w", err)
	}
	device := adb.NewClient(cfg.ADB.Path, cfg.ADB.ServerAddr, cfg.ADB.EmulatorPorts, log)
	ocr := adb.NewTesseractOCR(cfg.ADB.TesseractPath, screenshotDir, log)
	automator := adb.NewAutomator(device, ocr, adb.AutomatorConfig{
		GamePackage:  cfg.ADB.PackageName,
		PrefFilename: cfg.ADB.PrefFilename,
		WorkDir:      screenshotDir,
	}, log)

	var verifier topup.VoucherVerifier
	if cfg.TrueMoney.ProxyURL != "" {
		client := &http.Client{Timeout: cfg.TrueMoney.Timeout}
		verifier, err = topup.NewHTTPVerifier(client, cfg.TrueMoney.ProxyURL, log)
		if err != nil {
			return nil, fmt.Errorf("configure voucher verifier: %w", err)
		}
	}

	application, err := app.New(stores, app.Options{
		Issuer:              issuer,
		Cache:               catalogCache,
		CacheTTL:            cfg.Redis.CacheTTL,
		Automator:           automator,
		Verifier:            verifier,
		MerchantPhone:       cfg.TrueMoney.MerchantPhone,
		DataDir:             cfg.Storage.DataDir,
		LinkQueueSize:       cfg.Linker.QueueSize,
		LinkWaitTimeout:     cfg.Linker.WaitTimeout,
		MaintenanceSchedule: cfg.Maintenance.Schedule,
		TopUpMaxAge:         cfg.Maintenance.TopUpMaxAge,
		ScreenshotMaxAge:    cfg.Maintenance.ScreenshotMaxAge,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("build application: %w", err)
	}

	if err := application.Users.EnsureAdmin(ctx, cfg.Admin.Username, cfg.Admin.Email, cfg.Admin.Password); err != nil {
		log.WithError(err).Warn("bootstrap admin account")
	}

	var pinger health.Pinger
	if db != nil {
		pinger = db
	}
	healthSvc := health.New(pinger, device.Connected)

	authMW := middleware.NewAuthMiddleware(issuer, log, httpapi.SkipAuthPaths())
	handler := httpapi.NewHandler(httpapi.Deps{
		Users:   application.Users,
		Catalog: application.Catalog,
		Orders:  application.Orders,
		TopUps:  application.TopUps,
		Linker:  application.Linker,
		Health:  healthSvc,
		Auth:    authMW,
		Log:     log,
	})

	limiter := middleware.NewRateLimiter(cfg.Server.RateLimitPerSec, cfg.Server.RateLimitBurst, log)
	limiter.StartCleanup(10 * time.Minute)
	cors := middleware.NewCORSMiddleware([]string{"*"})
	requestLog := middleware.NewRequestLogger(log)

	root := http.NewServeMux()
	root.Handle("/metrics", metrics.Handler())
	root.Handle("/", metrics.InstrumentHandler(requestLog.Handler(cors.Handler(limiter.Handler(handler)))))

	httpSrv := httpserver.New(cfg.Server, log, root)

	return &Application{
		cfg:        cfg,
		log:        log,
		httpServer: httpSrv,
		app:        application,
		cache:      catalogCache,
		db:         db,
	}, nil
}

// Run starts background services and the HTTP server, blocking until the
// context is cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.app.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("HTTP server listening on %s:%d", a.cfg.Server.Host, a.cfg.Server.Port)
		if err := a.httpServer.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the HTTP server and background services.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := a.app.Stop(shutdownCtx); err != nil {
		a.log.WithError(err).Warn("error stopping services")
	}
	if closer, ok := a.cache.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			a.log.WithError(err).Warn("error closing cache")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
	}
	return nil
}

func buildStores(ctx context.Context, cfg *config.Config, log *logger.Logger) (app.Stores, *sqlx.DB, error) {
	if cfg.Database.URL == "" {
		log.Warn("DATABASE_URL not set; using in-memory storage")
		return app.Stores{}, nil, nil
	}

	db, err := postgres.Open(ctx, cfg.Database.URL)
	if err != nil {
		return app.Stores{}, nil, err
	}
	if cfg.Database.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	}
	if cfg.Database.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	}
	if cfg.Database.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	}

	if err := migrations.Apply(ctx, db.DB); err != nil {
		db.Close()
		return app.Stores{}, nil, fmt.Errorf("apply migrations: %w", err)
	}

	store := postgres.New(db)
	return app.Stores{
		Users:    store,
		Products: store,
		Orders:   store,
		TopUps:   store,
	}, db, nil
}

func buildCache(ctx context.Context, cfg *config.Config, log *logger.Logger) cache.Cache {
	if cfg.Redis.Addr == "" {
		return cache.NewMemory()
	}
	c, err := cache.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.WithError(err).Warn("redis unavailable; falling back to in-memory cache")
		return cache.NewMemory()
	}
	log.WithField("addr", cfg.Redis.Addr).Info("catalog cache backed by redis")
	return c
}
