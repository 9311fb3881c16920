// Package maintenance runs periodic housekeeping for the storefront.
package maintenance

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/lrgstore/idstore/internal/app/services/topup"
	"github.com/lrgstore/idstore/internal/app/system"
	"github.com/lrgstore/idstore/pkg/logger"
)

// Config controls the housekeeping schedule and retention windows.
type Config struct {
	// Schedule is a cron expression, for example "@hourly".
	Schedule string
	// ScreenshotDir holds automation screenshots to prune. Empty disables
	// pruning.
	ScreenshotDir string
	// TopUpMaxAge is how long a pending topup may linger before it is
	// marked expired.
	TopUpMaxAge time.Duration
	// ScreenshotMaxAge is how long automation screenshots are kept.
	ScreenshotMaxAge time.Duration
}

// Service schedules housekeeping jobs on a cron spec.
type Service struct {
	topups *topup.Service
	cfg    Config
	cron   *cron.Cron
	log    *logger.Logger
}

var _ system.Service = (*Service)(nil)

// New constructs the maintenance service.
func New(topups *topup.Service, cfg Config, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("maintenance")
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "@hourly"
	}
	if cfg.TopUpMaxAge <= 0 {
		cfg.TopUpMaxAge = 24 * time.Hour
	}
	if cfg.ScreenshotMaxAge <= 0 {
		cfg.ScreenshotMaxAge = 7 * 24 * time.Hour
	}
	return &Service{
		topups: topups,
		cfg:    cfg,
		log:    log,
	}
}

// Name implements system.Service.
func (s *Service) Name() string { return "maintenance" }

// Start schedules the housekeeping jobs.
func (s *Service) Start(context.Context) error {
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.cfg.Schedule, s.runOnce); err != nil {
		return err
	}
	s.cron.Start()
	s.log.WithField("spec", s.cfg.Schedule).Info("maintenance scheduled")
	return nil
}

// Stop halts the scheduler, waiting for a running job to finish.
func (s *Service) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	expired, err := s.topups.ExpireStale(ctx, s.cfg.TopUpMaxAge)
	if err != nil {
		s.log.WithError(err).Warn("expire stale topups")
	} else if expired > 0 {
		s.log.WithField("count", expired).Info("expired stale topups")
	}

	s.pruneScreenshots()
}

func (s *Service) pruneScreenshots() {
	if s.cfg.ScreenshotDir == "" {
		return
	}
	cutoff := time.Now().Add(-s.cfg.ScreenshotMaxAge)

	entries, err := os.ReadDir(s.cfg.ScreenshotDir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".png" {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.cfg.ScreenshotDir, entry.Name())); err != nil {
			s.log.WithError(err).Debugf("prune screenshot %s", entry.Name())
		}
	}
}
