// Package app assembles the storefront services over their stores and
// manages their lifecycle.
package app

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/lrgstore/idstore/internal/app/cache"
	"github.com/lrgstore/idstore/internal/app/services/catalog"
	"github.com/lrgstore/idstore/internal/app/services/linker"
	"github.com/lrgstore/idstore/internal/app/services/maintenance"
	"github.com/lrgstore/idstore/internal/app/services/orders"
	"github.com/lrgstore/idstore/internal/app/services/topup"
	"github.com/lrgstore/idstore/internal/app/services/users"
	"github.com/lrgstore/idstore/internal/app/storage"
	"github.com/lrgstore/idstore/internal/app/storage/memory"
	"github.com/lrgstore/idstore/internal/app/system"
	"github.com/lrgstore/idstore/internal/auth"
	"github.com/lrgstore/idstore/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Users    storage.UserStore
	Products storage.ProductStore
	Orders   storage.OrderStore
	TopUps   storage.TopUpStore
}

// Options carries the non-store dependencies of the application.
type Options struct {
	// Issuer signs and validates session tokens. Required.
	Issuer *auth.TokenIssuer
	// Cache backs the catalog listing. Nil defaults to in-memory.
	Cache cache.Cache
	// CacheTTL bounds how long the cached product list stays fresh. Zero
	// keeps the catalog default.
	CacheTTL time.Duration
	// Automator drives the Android device. Nil disables account linking.
	Automator linker.DeviceAutomator
	// Verifier redeems vouchers against the wallet provider. Nil disables
	// top-ups.
	Verifier      topup.VoucherVerifier
	MerchantPhone string
	// DataDir is the root directory for credential files and screenshots.
	DataDir string

	LinkQueueSize   int
	LinkWaitTimeout time.Duration

	// MaintenanceSchedule is a cron expression for the cleanup job.
	MaintenanceSchedule string
	TopUpMaxAge         time.Duration
	ScreenshotMaxAge    time.Duration
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Users   *users.Service
	Catalog *catalog.Service
	Orders  *orders.Service
	TopUps  *topup.Service
	Linker  *linker.Service
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	if opts.Issuer == nil {
		return nil, fmt.Errorf("token issuer is required")
	}

	mem := memory.New()
	if stores.Users == nil {
		stores.Users = mem
	}
	if stores.Products == nil {
		stores.Products = mem
	}
	if stores.Orders == nil {
		stores.Orders = mem
	}
	if stores.TopUps == nil {
		stores.TopUps = mem
	}

	if opts.Cache == nil {
		opts.Cache = cache.NewMemory()
	}
	if opts.Verifier == nil {
		log.Warn("voucher verifier not configured; top-ups disabled")
		opts.Verifier = disabledVerifier{}
	}
	if opts.DataDir == "" {
		opts.DataDir = "data"
	}

	manager := system.NewManager()

	userService := users.New(stores.Users, opts.Issuer, log)
	catalogService := catalog.New(stores.Products, opts.Cache, opts.DataDir, log)
	catalogService.SetCacheTTL(opts.CacheTTL)
	orderService := orders.New(stores.Orders, stores.Products, log)
	topupService := topup.New(stores.TopUps, stores.Users, opts.Verifier, opts.MerchantPhone, log)

	var linkService *linker.Service
	if opts.Automator != nil {
		linkService = linker.New(orderService, opts.Automator, linker.Config{
			QueueSize:   opts.LinkQueueSize,
			WaitTimeout: opts.LinkWaitTimeout,
		}, log)
		if err := manager.Register(linkService); err != nil {
			return nil, fmt.Errorf("register linker: %w", err)
		}
	} else {
		log.Warn("device automator not configured; account linking disabled")
	}

	if opts.MaintenanceSchedule != "" {
		cleanup := maintenance.New(topupService, maintenance.Config{
			Schedule:         opts.MaintenanceSchedule,
			ScreenshotDir:    filepath.Join(opts.DataDir, "screenshots"),
			TopUpMaxAge:      opts.TopUpMaxAge,
			ScreenshotMaxAge: opts.ScreenshotMaxAge,
		}, log)
		if err := manager.Register(cleanup); err != nil {
			return nil, fmt.Errorf("register maintenance: %w", err)
		}
	}

	return &Application{
		manager: manager,
		log:     log,
		Users:   userService,
		Catalog: catalogService,
		Orders:  orderService,
		TopUps:  topupService,
		Linker:  linkService,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}

type disabledVerifier struct{}

func (disabledVerifier) Redeem(context.Context, string, string) (topup.VoucherResult, error) {
	return topup.VoucherResult{}, fmt.Errorf("voucher verification is not configured")
}
