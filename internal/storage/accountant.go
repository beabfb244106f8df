// Package storage tracks upload volume for the lifetime of the process.
// The upload API exposes no authoritative usage endpoint, so this is an
// approximation that resets on restart.
package storage

import (
	"log/slog"
	"sync"
)

// Accountant keeps a running total of uploaded bytes (as GB) and flips a
// sticky preference to the secondary endpoint once the threshold is crossed.
// The flip is one-way for the lifetime of the process.
type Accountant struct {
	logger *slog.Logger

	mu              sync.Mutex
	usedGB          float64
	preferSecondary bool

	limitGB      float64
	thresholdGB  float64
	hasSecondary bool
}

func NewAccountant(log *slog.Logger, limitGB, thresholdGB float64, hasSecondary bool) *Accountant {
	if log == nil {
		log = slog.Default()
	}
	return &Accountant{
		logger:       log.With(slog.String("service", "storage")),
		limitGB:      limitGB,
		thresholdGB:  thresholdGB,
		hasSecondary: hasSecondary,
	}
}

// RecordUpload adds sizeMB to the running total. Crossing the threshold
// switches future endpoint selection to the secondary, but only when one is
// configured; without a secondary the flag stays false forever.
func (a *Accountant) RecordUpload(sizeMB float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.usedGB += sizeMB / 1024
	a.logger.Info("storage usage",
		slog.Float64("used_gb", a.usedGB),
		slog.Float64("limit_gb", a.limitGB),
	)

	if a.usedGB >= a.thresholdGB && !a.preferSecondary && a.hasSecondary {
		a.preferSecondary = true
		a.logger.Warn("storage threshold reached, switching to secondary endpoint",
			slog.Float64("used_gb", a.usedGB),
			slog.Float64("threshold_gb", a.thresholdGB),
		)
	}
}

// Usage returns the accounted upload volume in GB.
func (a *Accountant) Usage() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.usedGB
}

// PreferSecondary reports whether uploads should go to the secondary endpoint.
func (a *Accountant) PreferSecondary() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.preferSecondary
}
