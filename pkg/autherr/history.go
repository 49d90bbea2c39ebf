package autherr

import (
	"sync"
	"time"
)

// defaultHistorySize bounds the number of retained errors.
const defaultHistorySize = 100

// History is a bounded, most-recent-first record of classified errors.
// Errors are never silently dropped while within the bound; the oldest
// entries are evicted once the bound is exceeded.
type History struct {
	mu      sync.Mutex
	entries []*ClassifiedError
	limit   int
}

// NewHistory creates a history retaining at most limit errors.
// A non-positive limit uses the default of 100.
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = defaultHistorySize
	}
	return &History{limit: limit}
}

// Record appends a classified error, evicting the oldest entry when full.
func (h *History) Record(e *ClassifiedError) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries = append(h.entries, e)
	if len(h.entries) > h.limit {
		h.entries = h.entries[len(h.entries)-h.limit:]
	}
}

// Last returns the most recently recorded error, or nil.
func (h *History) Last() *ClassifiedError {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.entries) == 0 {
		return nil
	}
	return h.entries[len(h.entries)-1]
}

// Terminal returns the error that should surface to the caller after
// retries are exhausted: the most recent entry at the highest severity
// seen. Returns nil when nothing was recorded.
func (h *History) Terminal() *ClassifiedError {
	h.mu.Lock()
	defer h.mu.Unlock()

	var terminal *ClassifiedError
	for _, e := range h.entries {
		if terminal == nil || e.Severity >= terminal.Severity {
			terminal = e
		}
	}
	return terminal
}

// Len returns the number of retained errors.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// Clear discards all retained errors.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = nil
}

// SummaryEntry is a compact view of one retained error.
type SummaryEntry struct {
	ID        string    `json:"id"`
	Category  Category  `json:"category"`
	Severity  string    `json:"severity"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Summary aggregates the retained errors for status reporting.
type Summary struct {
	Total          int              `json:"total"`
	CategoryCounts map[Category]int `json:"category_counts,omitempty"`
	SeverityCounts map[string]int   `json:"severity_counts,omitempty"`
	Recent         []SummaryEntry   `json:"recent,omitempty"`
	LastError      *time.Time       `json:"last_error,omitempty"`
}

// Summarize builds a report over the retained errors: totals, per-category
// and per-severity counts, and the ten most recent entries.
func (h *History) Summarize() Summary {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := Summary{Total: len(h.entries)}
	if len(h.entries) == 0 {
		return s
	}

	s.CategoryCounts = make(map[Category]int)
	s.SeverityCounts = make(map[string]int)
	for _, e := range h.entries {
		s.CategoryCounts[e.Category]++
		s.SeverityCounts[e.Severity.String()]++
	}

	recent := h.entries
	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}
	for _, e := range recent {
		s.Recent = append(s.Recent, SummaryEntry{
			ID:        e.ID,
			Category:  e.Category,
			Severity:  e.Severity.String(),
			Message:   e.Message,
			Timestamp: e.Timestamp,
		})
	}

	last := h.entries[len(h.entries)-1].Timestamp
	s.LastError = &last
	return s
}
