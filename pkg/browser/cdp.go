package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// selectorPollInterval is how often WaitForSelector re-probes the DOM.
const selectorPollInterval = 100 * time.Millisecond

// CDPDriver drives a page over the Chrome DevTools Protocol. It attaches
// to an already-running Chrome started with --remote-debugging-port; it
// does not manage the browser process itself.
type CDPDriver struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	nextID int
	target string
}

// cdpMessage is a protocol frame in either direction.
type cdpMessage struct {
	ID     int             `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *cdpError       `json:"error,omitempty"`
}

type cdpError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *cdpError) Error() string {
	return fmt.Sprintf("devtools error %d: %s", e.Code, e.Message)
}

// targetInfo is the answer from the debugger's /json/new endpoint.
type targetInfo struct {
	ID                   string `json:"id"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// NewCDPDriver opens a new page on the Chrome instance reachable at
// debugAddr (e.g. "http://127.0.0.1:9222") and attaches to it.
func NewCDPDriver(ctx context.Context, debugAddr string) (*CDPDriver, error) {
	// Chrome 111+ requires PUT for /json/new.
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, debugAddr+"/json/new?about:blank", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build devtools request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("browser devtools endpoint unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("browser devtools returned %s", resp.Status)
	}

	var target targetInfo
	if err := json.NewDecoder(resp.Body).Decode(&target); err != nil {
		return nil, fmt.Errorf("failed to decode devtools target: %w", err)
	}
	if target.WebSocketDebuggerURL == "" {
		return nil, fmt.Errorf("browser devtools target has no websocket url")
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target.WebSocketDebuggerURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial browser websocket: %w", err)
	}

	d := &CDPDriver{conn: conn, target: target.ID}
	for _, domain := range []string{"Page.enable", "Runtime.enable", "Network.enable"} {
		if _, err := d.command(ctx, domain, nil); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to enable devtools domain: %w", err)
		}
	}
	return d, nil
}

// command sends one protocol command and waits for its response,
// discarding interleaved events.
func (d *CDPDriver) command(ctx context.Context, method string, params any) (json.RawMessage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	id := d.nextID

	frame := map[string]any{"id": id, "method": method}
	if params != nil {
		frame["params"] = params
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = d.conn.SetWriteDeadline(deadline)
		_ = d.conn.SetReadDeadline(deadline)
	} else {
		_ = d.conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
		_ = d.conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	}

	if err := d.conn.WriteJSON(frame); err != nil {
		return nil, fmt.Errorf("browser websocket write failed: %w", err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var msg cdpMessage
		if err := d.conn.ReadJSON(&msg); err != nil {
			return nil, fmt.Errorf("browser websocket read failed: %w", err)
		}
		if msg.ID != id {
			continue // event or stale response
		}
		if msg.Error != nil {
			return nil, msg.Error
		}
		return msg.Result, nil
	}
}

// Goto implements Driver. Navigation is considered settled when
// document.readyState reaches "complete" or the timeout elapses.
func (d *CDPDriver) Goto(ctx context.Context, url string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if _, err := d.command(ctx, "Page.navigate", map[string]any{"url": url}); err != nil {
		return fmt.Errorf("browser navigation to %s failed: %w", url, err)
	}

	for {
		state, err := d.Evaluate(ctx, "document.readyState")
		if err == nil {
			if s, ok := state.(string); ok && s == "complete" {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("browser navigation timeout for %s: %w", url, ctx.Err())
		case <-time.After(selectorPollInterval):
		}
	}
}

// WaitForSelector implements Driver by polling the DOM.
func (d *CDPDriver) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	probe := fmt.Sprintf("document.querySelector(%s) !== null", jsString(selector))
	for {
		found, err := d.Evaluate(ctx, probe)
		if err == nil {
			if b, ok := found.(bool); ok && b {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for selector %q: %w", selector, ctx.Err())
		case <-time.After(selectorPollInterval):
		}
	}
}

// Fill implements Driver. The value is set through the DOM with an input
// event dispatched so framework bindings observe the change.
func (d *CDPDriver) Fill(ctx context.Context, selector, value string) error {
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return false;
		el.focus();
		el.value = %s;
		el.dispatchEvent(new Event('input', {bubbles: true}));
		el.dispatchEvent(new Event('change', {bubbles: true}));
		return true;
	})()`, jsString(selector), jsString(value))

	ok, err := d.Evaluate(ctx, script)
	if err != nil {
		return err
	}
	if b, isBool := ok.(bool); !isBool || !b {
		return fmt.Errorf("no element matches selector %q", selector)
	}
	return nil
}

// Click implements Driver.
func (d *CDPDriver) Click(ctx context.Context, selector string) error {
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return false;
		el.click();
		return true;
	})()`, jsString(selector))

	ok, err := d.Evaluate(ctx, script)
	if err != nil {
		return err
	}
	if b, isBool := ok.(bool); !isBool || !b {
		return fmt.Errorf("no element matches selector %q", selector)
	}
	return nil
}

// Evaluate implements Driver via Runtime.evaluate with returnByValue.
func (d *CDPDriver) Evaluate(ctx context.Context, expression string) (any, error) {
	result, err := d.command(ctx, "Runtime.evaluate", map[string]any{
		"expression":    expression,
		"returnByValue": true,
	})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Result struct {
			Value any `json:"value"`
		} `json:"result"`
		ExceptionDetails *struct {
			Text string `json:"text"`
		} `json:"exceptionDetails"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode evaluate result: %w", err)
	}
	if parsed.ExceptionDetails != nil {
		return nil, fmt.Errorf("browser evaluate threw: %s", parsed.ExceptionDetails.Text)
	}
	return parsed.Result.Value, nil
}

// Cookies implements Driver via Network.getCookies.
func (d *CDPDriver) Cookies(ctx context.Context) ([]Cookie, error) {
	result, err := d.command(ctx, "Network.getCookies", nil)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Cookies []struct {
			Name    string  `json:"name"`
			Value   string  `json:"value"`
			Domain  string  `json:"domain"`
			Path    string  `json:"path"`
			Expires float64 `json:"expires"`
		} `json:"cookies"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode cookies: %w", err)
	}

	cookies := make([]Cookie, 0, len(parsed.Cookies))
	for _, c := range parsed.Cookies {
		cookies = append(cookies, Cookie{
			Name:    c.Name,
			Value:   c.Value,
			Domain:  c.Domain,
			Path:    c.Path,
			Expires: c.Expires,
		})
	}
	return cookies, nil
}

// Content implements Driver.
func (d *CDPDriver) Content(ctx context.Context) (string, error) {
	value, err := d.Evaluate(ctx, "document.documentElement.outerHTML")
	if err != nil {
		return "", err
	}
	s, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("unexpected content type %T", value)
	}
	return s, nil
}

// URL implements Driver.
func (d *CDPDriver) URL(ctx context.Context) (string, error) {
	value, err := d.Evaluate(ctx, "location.href")
	if err != nil {
		return "", err
	}
	s, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("unexpected url type %T", value)
	}
	return s, nil
}

// Close implements Driver: the page is asked to close, then the
// transport is released.
func (d *CDPDriver) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, cmdErr := d.command(ctx, "Target.closeTarget", map[string]any{"targetId": d.target})
	closeErr := d.conn.Close()
	if cmdErr != nil {
		return fmt.Errorf("failed to close browser page: %w", cmdErr)
	}
	return closeErr
}

// jsString renders s as a JavaScript string literal.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
