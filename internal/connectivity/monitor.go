// Package connectivity turns backend reachability into online/offline events.
package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/kimhsiao/catalogsync/internal/events"
	"github.com/kimhsiao/catalogsync/internal/logging"
)

// Prober checks whether the backend is reachable.
type Prober interface {
	Ping(ctx context.Context) error
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) error

// Ping implements Prober.
func (f ProberFunc) Ping(ctx context.Context) error { return f(ctx) }

// Config holds monitor configuration.
type Config struct {
	Interval      time.Duration // Time between probes (default: 30s)
	Timeout       time.Duration // Per-probe timeout (default: 5s)
	FailThreshold int           // Consecutive failed probes before going offline (default: 2)
	InitialOnline bool          // Status assumed before the first probe
}

// DefaultConfig returns default monitor configuration.
func DefaultConfig() Config {
	return Config{
		Interval:      30 * time.Second,
		Timeout:       5 * time.Second,
		FailThreshold: 2,
		InitialOnline: true,
	}
}

// Monitor probes the backend and publishes events.Online / events.Offline on
// the bus whenever the observed status flips.
type Monitor struct {
	prober Prober
	bus    *events.Bus
	config Config

	mu       sync.Mutex
	online   bool
	failures int
}

// NewMonitor creates a Monitor. Zero config fields take their defaults.
func NewMonitor(prober Prober, bus *events.Bus, config Config) *Monitor {
	def := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.FailThreshold <= 0 {
		config.FailThreshold = def.FailThreshold
	}
	return &Monitor{
		prober: prober,
		bus:    bus,
		config: config,
		online: config.InitialOnline,
	}
}

// Online returns the last observed status.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Set forces the status, as an operator override or from an external signal.
// It reports whether the status changed.
func (m *Monitor) Set(online bool) bool {
	m.mu.Lock()
	m.failures = 0
	changed := m.online != online
	m.online = online
	m.mu.Unlock()

	if changed {
		m.publish(online)
	}
	return changed
}

// Check probes once and applies the result. A single failure is tolerated
// until FailThreshold consecutive failures have been seen; one success is
// enough to come back online.
func (m *Monitor) Check(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, m.config.Timeout)
	err := m.prober.Ping(probeCtx)
	cancel()

	m.mu.Lock()
	was := m.online
	if err == nil {
		m.failures = 0
		m.online = true
	} else {
		m.failures++
		if m.failures >= m.config.FailThreshold {
			m.online = false
		}
		logging.Debug("Connectivity probe failed",
			map[string]interface{}{"failures": m.failures, "error": err.Error()})
	}
	now := m.online
	m.mu.Unlock()

	if now != was {
		m.publish(now)
	}
	return now
}

func (m *Monitor) publish(online bool) {
	t := events.Offline
	if online {
		t = events.Online
	}
	logging.Info("Connectivity changed", map[string]interface{}{"online": online})
	m.bus.Publish(t, map[string]interface{}{"online": online})
}

// Run probes immediately and then every Interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	m.Check(ctx)

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}
