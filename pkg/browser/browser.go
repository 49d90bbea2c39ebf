// Package browser defines the capability interface the engine consumes to
// drive an automated browser, plus a concrete driver speaking the Chrome
// DevTools Protocol against an already-running headless Chrome.
//
// The engine treats the browser purely as a capability: it never assumes a
// DOM structure beyond what the navigation collaborator supplies.
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Cookie is a browser cookie as reported by the automation endpoint.
type Cookie struct {
	Name    string
	Value   string
	Domain  string
	Path    string
	Expires float64
}

// Driver is the consumed browser-automation interface.
type Driver interface {
	// Goto navigates to a URL and waits for the load to settle.
	Goto(ctx context.Context, url string, timeout time.Duration) error
	// WaitForSelector blocks until the selector matches an element.
	WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error
	// Fill sets the value of the element matching the selector.
	Fill(ctx context.Context, selector, value string) error
	// Click clicks the element matching the selector.
	Click(ctx context.Context, selector string) error
	// Evaluate runs a JavaScript expression and returns its value.
	Evaluate(ctx context.Context, expression string) (any, error)
	// Cookies returns the cookies visible to the current page.
	Cookies(ctx context.Context) ([]Cookie, error)
	// Content returns the page's serialized HTML.
	Content(ctx context.Context) (string, error)
	// URL returns the page's current location.
	URL(ctx context.Context) (string, error)
	// Close releases the page and its transport.
	Close() error
}

// Launcher creates fresh drivers; the health monitor's resurrection
// target.
type Launcher interface {
	Launch(ctx context.Context) (Driver, error)
}

// LauncherFunc adapts a function to the Launcher interface.
type LauncherFunc func(ctx context.Context) (Driver, error)

// Launch implements Launcher.
func (f LauncherFunc) Launch(ctx context.Context) (Driver, error) {
	return f(ctx)
}

// MockDriver is an in-memory Driver for tests. Zero value is usable; every
// operation records itself and consults the optional hooks.
type MockDriver struct {
	mu sync.Mutex

	// Calls records operations as "op:argument" strings in order.
	Calls []string

	// Err, when set, is returned by every operation.
	Err error
	// EvaluateFunc, when set, answers Evaluate calls.
	EvaluateFunc func(expression string) (any, error)
	// PageURL is returned by URL.
	PageURL string
	// PageContent is returned by Content.
	PageContent string
	// StoredCookies are returned by Cookies.
	StoredCookies []Cookie
	// MissingSelectors fail WaitForSelector immediately.
	MissingSelectors map[string]bool
	// FilledValues records Fill arguments keyed by selector.
	FilledValues map[string]string

	Closed bool
}

func (m *MockDriver) record(op, arg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, op+":"+arg)
}

// Goto implements Driver.
func (m *MockDriver) Goto(ctx context.Context, url string, timeout time.Duration) error {
	m.record("goto", url)
	return m.Err
}

// WaitForSelector implements Driver.
func (m *MockDriver) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	m.record("wait", selector)
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	missing := m.MissingSelectors[selector]
	m.mu.Unlock()
	if missing {
		return fmt.Errorf("timeout waiting for selector %q", selector)
	}
	return nil
}

// Fill implements Driver.
func (m *MockDriver) Fill(ctx context.Context, selector, value string) error {
	m.record("fill", selector)
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	if m.FilledValues == nil {
		m.FilledValues = make(map[string]string)
	}
	m.FilledValues[selector] = value
	m.mu.Unlock()
	return nil
}

// Click implements Driver.
func (m *MockDriver) Click(ctx context.Context, selector string) error {
	m.record("click", selector)
	return m.Err
}

// Evaluate implements Driver.
func (m *MockDriver) Evaluate(ctx context.Context, expression string) (any, error) {
	m.record("evaluate", expression)
	if m.Err != nil {
		return nil, m.Err
	}
	if m.EvaluateFunc != nil {
		return m.EvaluateFunc(expression)
	}
	return nil, nil
}

// Cookies implements Driver.
func (m *MockDriver) Cookies(ctx context.Context) ([]Cookie, error) {
	m.record("cookies", "")
	if m.Err != nil {
		return nil, m.Err
	}
	return m.StoredCookies, nil
}

// Content implements Driver.
func (m *MockDriver) Content(ctx context.Context) (string, error) {
	m.record("content", "")
	if m.Err != nil {
		return "", m.Err
	}
	return m.PageContent, nil
}

// URL implements Driver.
func (m *MockDriver) URL(ctx context.Context) (string, error) {
	m.record("url", "")
	if m.Err != nil {
		return "", m.Err
	}
	return m.PageURL, nil
}

// Close implements Driver.
func (m *MockDriver) Close() error {
	m.record("close", "")
	m.mu.Lock()
	m.Closed = true
	m.mu.Unlock()
	return nil
}

// CallCount returns how many times an operation was recorded.
func (m *MockDriver) CallCount(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.Calls {
		if len(c) >= len(op) && c[:len(op)] == op {
			n++
		}
	}
	return n
}
