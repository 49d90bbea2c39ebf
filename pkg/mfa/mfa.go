// Package mfa runs the multi-factor step of the login flow as an
// ordered chain of strategies. Strategies are tried strictly
// sequentially, each at most once per flow, and the chain stops at the
// first success. A strategy failing is recovered locally by falling
// through to the next one; only the exhausted chain is a failure.
package mfa

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/parkbot/authflow/pkg/autherr"
	"github.com/parkbot/authflow/pkg/browser"
)

// Strategy is one way of satisfying the MFA challenge.
type Strategy interface {
	// Name identifies the method ("totp", "email", "push").
	Name() string
	// Configured reports whether the credentials needed by this method
	// are available. Unconfigured strategies are skipped, not failed.
	Configured() bool
	// Attempt drives the method once against the live page.
	Attempt(ctx context.Context, d browser.Driver) error
}

// Outcome of a single strategy attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeSkipped Outcome = "skipped"
)

// AttemptRecord captures one strategy attempt for the flow's audit log.
type AttemptRecord struct {
	Method    string
	StartedAt time.Time
	Outcome   Outcome
	Detail    string
}

// Coordinator walks the strategy chain in order.
type Coordinator struct {
	strategies []Strategy
	logger     *slog.Logger
	now        func() time.Time

	mu      sync.Mutex
	records []AttemptRecord
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithLogger sets the coordinator's logger.
func WithLogger(logger *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.logger = logger }
}

// WithClock overrides the time source for attempt records.
func WithClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) { c.now = now }
}

// NewCoordinator builds a coordinator over the given chain. Order is
// significant: strategies run in the order given.
func NewCoordinator(strategies []Strategy, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		strategies: strategies,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run executes the chain and returns the name of the method that
// succeeded. Every configured strategy is attempted at most once; the
// chain failing as a whole returns a classified MFA error naming the
// methods that were tried.
func (c *Coordinator) Run(ctx context.Context, d browser.Driver) (string, *autherr.ClassifiedError) {
	var tried []string

	for _, s := range c.strategies {
		if err := ctx.Err(); err != nil {
			return "", autherr.Classify(err, map[string]string{"stage": "mfa"})
		}

		if !s.Configured() {
			c.record(AttemptRecord{
				Method:    s.Name(),
				StartedAt: c.now(),
				Outcome:   OutcomeSkipped,
				Detail:    "not configured",
			})
			c.logger.Debug("mfa method skipped", slog.String("method", s.Name()))
			continue
		}

		started := c.now()
		c.logger.Info("attempting mfa method", slog.String("method", s.Name()))
		tried = append(tried, s.Name())

		err := s.Attempt(ctx, d)
		if err == nil {
			c.record(AttemptRecord{
				Method:    s.Name(),
				StartedAt: started,
				Outcome:   OutcomeSuccess,
			})
			c.logger.Info("mfa method succeeded", slog.String("method", s.Name()))
			return s.Name(), nil
		}

		c.record(AttemptRecord{
			Method:    s.Name(),
			StartedAt: started,
			Outcome:   OutcomeFailure,
			Detail:    err.Error(),
		})
		c.logger.Warn("mfa method failed, falling through",
			slog.String("method", s.Name()),
			slog.String("error", err.Error()))
	}

	if len(tried) == 0 {
		return "", autherr.New(autherr.CategoryConfiguration, autherr.SeverityHigh,
			"no mfa method is configured")
	}
	return "", autherr.New(autherr.CategoryMFA, autherr.SeverityHigh,
		"all mfa methods exhausted: %s", strings.Join(tried, ", "))
}

// Records returns a copy of the attempt log in order.
func (c *Coordinator) Records() []AttemptRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]AttemptRecord, len(c.records))
	copy(out, c.records)
	return out
}

func (c *Coordinator) record(r AttemptRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, r)
}
