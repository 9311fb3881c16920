// Package health reports process and dependency status.
package health

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Pinger verifies a dependency is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Status is the health report served at /health.
type Status struct {
	Status        string  `json:"status"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	Database      string  `json:"database"`
	Device        string  `json:"device"`
}

// DeviceProbe reports whether the automation device is reachable.
type DeviceProbe func() bool

// Service collects health information.
type Service struct {
	started time.Time
	db      Pinger
	device  DeviceProbe
}

// New constructs a health service. db and device may be nil.
func New(db Pinger, device DeviceProbe) *Service {
	return &Service{started: time.Now(), db: db, device: device}
}

// Check builds the current health report. Degraded dependencies do not fail
// the check, they are reported in their fields.
func (s *Service) Check(ctx context.Context) Status {
	status := Status{
		Status:        "ok",
		UptimeSeconds: time.Since(s.started).Seconds(),
		Database:      "disabled",
		Device:        "unknown",
	}

	if percentages, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percentages) > 0 {
		status.CPUPercent = percentages[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		status.MemoryPercent = vm.UsedPercent
	}

	if s.db != nil {
		if err := s.db.PingContext(ctx); err != nil {
			status.Database = "unreachable"
			status.Status = "degraded"
		} else {
			status.Database = "ok"
		}
	}

	if s.device != nil {
		if s.device() {
			status.Device = "connected"
		} else {
			status.Device = "disconnected"
		}
	}
	return status
}
