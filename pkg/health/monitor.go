// Package health watches a live browser driver and resurrects it when it
// stops responding.
//
// The monitor runs as an independent background goroutine for the
// lifetime of a browser session. It owns the HealthStatus record
// exclusively; the orchestrator only reads snapshots and requests
// resurrection, never mutates monitor state directly.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/parkbot/authflow/pkg/autherr"
	"github.com/parkbot/authflow/pkg/browser"
)

// State is the monitor's coarse view of browser liveness.
type State string

const (
	StateHealthy  State = "healthy"
	StateDegraded State = "degraded"
	StateCritical State = "critical"
)

// Default probe cadence and failure tolerance.
const (
	DefaultProbeInterval    = 5 * time.Second
	DefaultFailureThreshold = 3
)

// probeExpression is the trivial operation used to test liveness.
const probeExpression = "1 + 1"

// Status is a snapshot of browser health.
type Status struct {
	State               State
	ConsecutiveFailures int
	LastProbeAt         time.Time
}

// IsHealthy reports whether the browser answered its last probe.
func (s Status) IsHealthy() bool {
	return s.State == StateHealthy
}

// Monitor probes a driver on a fixed interval and tracks consecutive
// failures. Reaching the threshold transitions to Critical and signals
// that resurrection is required.
type Monitor struct {
	interval  time.Duration
	threshold int
	launcher  browser.Launcher
	logger    *slog.Logger

	mu       sync.Mutex
	driver   browser.Driver
	status   Status
	critical chan struct{} // capacity 1, at most one pending notification
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithProbeInterval overrides the probe cadence.
func WithProbeInterval(d time.Duration) Option {
	return func(m *Monitor) { m.interval = d }
}

// WithFailureThreshold overrides the consecutive-failure tolerance.
func WithFailureThreshold(n int) Option {
	return func(m *Monitor) { m.threshold = n }
}

// WithLogger sets the monitor's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) { m.logger = logger }
}

// NewMonitor creates a monitor over the given driver. The launcher is
// used to create a replacement driver during resurrection.
func NewMonitor(driver browser.Driver, launcher browser.Launcher, opts ...Option) *Monitor {
	m := &Monitor{
		interval:  DefaultProbeInterval,
		threshold: DefaultFailureThreshold,
		launcher:  launcher,
		logger:    slog.Default(),
		driver:    driver,
		status:    Status{State: StateHealthy},
		critical:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start runs the probe loop until ctx is cancelled. Call in its own
// goroutine.
func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("browser health monitoring started",
		slog.Duration("interval", m.interval),
		slog.Int("threshold", m.threshold))

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("browser health monitoring stopped")
			return
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}

// Probe executes one liveness check and updates the status. Exposed so
// the orchestrator can force an immediate check before a retry.
func (m *Monitor) Probe(ctx context.Context) Status {
	m.mu.Lock()
	driver := m.driver
	m.mu.Unlock()

	probeCtx, cancel := context.WithTimeout(ctx, m.interval)
	_, err := driver.Evaluate(probeCtx, probeExpression)
	cancel()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.status.LastProbeAt = time.Now()
	if err == nil {
		m.status.ConsecutiveFailures = 0
		m.status.State = StateHealthy
		return m.status
	}

	m.status.ConsecutiveFailures++
	m.logger.Warn("browser health probe failed",
		slog.Int("failures", m.status.ConsecutiveFailures),
		slog.Int("threshold", m.threshold),
		slog.String("error", err.Error()))

	if m.status.ConsecutiveFailures >= m.threshold {
		m.status.State = StateCritical
		select {
		case m.critical <- struct{}{}:
		default:
		}
	} else {
		m.status.State = StateDegraded
	}
	return m.status
}

// Status returns the current health snapshot.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Critical exposes the resurrection-required signal. At most one pending
// notification is kept.
func (m *Monitor) Critical() <-chan struct{} {
	return m.critical
}

// Driver returns the currently monitored driver, which changes after a
// successful resurrection.
func (m *Monitor) Driver() browser.Driver {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.driver
}

// Resurrect tears the current driver down and launches a replacement.
// Each teardown step is independently guarded so one failing step does
// not block the next. On success the failure counter resets and the
// state returns to Healthy; on failure a Critical, non-retryable Browser
// error is returned and the run must abort.
func (m *Monitor) Resurrect(ctx context.Context) (browser.Driver, *autherr.ClassifiedError) {
	m.mu.Lock()
	old := m.driver
	m.mu.Unlock()

	m.logger.Info("resurrecting browser")

	if old != nil {
		if err := old.Close(); err != nil {
			m.logger.Warn("browser teardown step failed", slog.String("error", err.Error()))
		}
	}

	if m.launcher == nil {
		return nil, autherr.New(autherr.CategoryBrowser, autherr.SeverityCritical,
			"browser resurrection failed: no launcher configured")
	}

	replacement, err := m.launcher.Launch(ctx)
	if err != nil {
		return nil, autherr.Wrap(
			fmt.Errorf("browser resurrection failed: %w", err),
			autherr.CategoryBrowser, autherr.SeverityCritical)
	}

	m.mu.Lock()
	m.driver = replacement
	m.status.ConsecutiveFailures = 0
	m.status.State = StateHealthy
	m.mu.Unlock()

	// Drain a stale critical signal so the orchestrator does not react
	// to a failure that resurrection already resolved.
	select {
	case <-m.critical:
	default:
	}

	m.logger.Info("browser resurrected")
	return replacement, nil
}
