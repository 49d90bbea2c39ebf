// Package autherr classifies authentication failures into a fixed
// category/severity taxonomy and owns the retry policy derived from it.
//
// Every failure crossing a component boundary must pass through Classify
// before any retry or backoff decision is made. ShouldRetry is the single
// source of truth for retry eligibility; no call site may bypass it with
// an ad-hoc retry loop.
package autherr

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Category identifies the failure domain of a classified error.
type Category string

const (
	CategoryAuthentication Category = "authentication"
	CategoryMFA            Category = "mfa"
	CategoryNetwork        Category = "network"
	CategoryBrowser        Category = "browser"
	CategoryConfiguration  Category = "configuration"
	CategoryEnvironment    Category = "environment"
	CategoryTimeout        Category = "timeout"
	CategorySystem         Category = "system"
)

// Severity ranks how serious a classified error is.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String returns the lowercase name of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ClassifiedError is the unit on which all retry decisions are made.
type ClassifiedError struct {
	// ID uniquely identifies this error occurrence for correlation.
	ID string
	// Category is the failure domain.
	Category Category
	// Severity ranks the failure.
	Severity Severity
	// Message is the underlying error text.
	Message string
	// Context carries caller-supplied key/value diagnostics.
	Context map[string]string
	// Timestamp is when the error was classified.
	Timestamp time.Time
	// RetryCount is how many times the failing operation has been retried.
	RetryCount int

	cause error
}

// Error implements the error interface.
func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("[%s/%s] %s (id=%s)", e.Category, e.Severity, e.Message, e.ID)
}

// Unwrap exposes the original error for errors.Is/As inspection.
func (e *ClassifiedError) Unwrap() error {
	return e.cause
}

// matchRule maps message keywords onto a category/severity pair. Rules are
// evaluated in order; the first rule whose keywords match wins.
type matchRule struct {
	keywords []string
	classify func(msg string) (Category, Severity)
}

// rules mirror the priority order of the production classifier: auth,
// MFA, network/timeout, browser, configuration, environment, system.
var rules = []matchRule{
	{
		keywords: []string{"authentication", "login", "credential", "unauthorized"},
		classify: func(msg string) (Category, Severity) {
			if strings.Contains(msg, "failed") || strings.Contains(msg, "invalid") {
				return CategoryAuthentication, SeverityHigh
			}
			return CategoryAuthentication, SeverityMedium
		},
	},
	{
		keywords: []string{"mfa", "totp", "verification", "code"},
		classify: func(msg string) (Category, Severity) {
			if strings.Contains(msg, "timeout") || strings.Contains(msg, "expired") {
				return CategoryMFA, SeverityHigh
			}
			return CategoryMFA, SeverityMedium
		},
	},
	{
		keywords: []string{"network", "connection", "timeout", "dns"},
		classify: func(msg string) (Category, Severity) {
			if strings.Contains(msg, "timeout") {
				return CategoryTimeout, SeverityMedium
			}
			return CategoryNetwork, SeverityMedium
		},
	},
	{
		keywords: []string{"browser", "devtools", "chrome", "page", "websocket"},
		classify: func(string) (Category, Severity) {
			return CategoryBrowser, SeverityMedium
		},
	},
	{
		keywords: []string{"config", "missing", "secret"},
		classify: func(string) (Category, Severity) {
			return CategoryConfiguration, SeverityHigh
		},
	},
	{
		keywords: []string{"environment", "docker", "github"},
		classify: func(string) (Category, Severity) {
			return CategoryEnvironment, SeverityMedium
		},
	},
	{
		keywords: []string{"system", "memory", "disk", "permission"},
		classify: func(string) (Category, Severity) {
			return CategorySystem, SeverityHigh
		},
	},
}

// Classify maps an arbitrary error onto the fixed taxonomy. Matching is
// keyword-based against the error message, case-insensitive, in the rule
// priority order. Unmatched errors default to System/Medium.
func Classify(err error, context map[string]string) *ClassifiedError {
	msg := err.Error()
	lower := strings.ToLower(msg)

	category, severity := CategorySystem, SeverityMedium
	for _, rule := range rules {
		if matchesAny(lower, rule.keywords) {
			category, severity = rule.classify(lower)
			break
		}
	}

	if context == nil {
		context = map[string]string{}
	}

	return &ClassifiedError{
		ID:        uuid.NewString(),
		Category:  category,
		Severity:  severity,
		Message:   msg,
		Context:   context,
		Timestamp: time.Now(),
		cause:     err,
	}
}

// New builds a ClassifiedError with an explicit category and severity,
// bypassing keyword matching. Used where the failing component already
// knows its failure domain (e.g. a malformed TOTP secret is always a
// configuration error).
func New(category Category, severity Severity, format string, args ...any) *ClassifiedError {
	return &ClassifiedError{
		ID:        uuid.NewString(),
		Category:  category,
		Severity:  severity,
		Message:   fmt.Sprintf(format, args...),
		Context:   map[string]string{},
		Timestamp: time.Now(),
	}
}

// Wrap classifies err with an explicit category and severity while keeping
// the original error reachable through Unwrap.
func Wrap(err error, category Category, severity Severity) *ClassifiedError {
	ce := New(category, severity, "%s", err.Error())
	ce.cause = err
	return ce
}

func matchesAny(msg string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}

// maxRetries is the ceiling past which nothing is retried.
const maxRetries = 3

// BackoffSchedule is the inter-attempt backoff applied by the
// orchestrator's retry loop, indexed by retry count minus one.
var BackoffSchedule = []time.Duration{5 * time.Second, 10 * time.Second, 30 * time.Second}

// Backoff returns the sleep to apply before the given retry (1-based).
// Retries beyond the schedule reuse the final entry.
func Backoff(retry int) time.Duration {
	if retry < 1 {
		return 0
	}
	if retry > len(BackoffSchedule) {
		return BackoffSchedule[len(BackoffSchedule)-1]
	}
	return BackoffSchedule[retry-1]
}

// ShouldRetry reports whether the classified error is eligible for another
// attempt. Configuration errors are never retried (a missing secret cannot
// be fixed by retrying), nothing is retried past the ceiling, network and
// timeout failures are always retried below it, and medium-severity
// authentication failures get another chance.
func ShouldRetry(e *ClassifiedError) bool {
	if e.Category == CategoryConfiguration {
		return false
	}
	if e.RetryCount >= maxRetries {
		return false
	}
	if e.Category == CategoryNetwork || e.Category == CategoryTimeout {
		return true
	}
	if e.Category == CategoryAuthentication && e.Severity == SeverityMedium {
		return true
	}
	return false
}
