package browser

import (
	"context"
	"fmt"
	"io"

	"github.com/skratchdot/open-golang/open"
)

// CDPLauncher creates drivers attached to a running Chrome devtools
// endpoint. It is the resurrection target the health monitor relaunches
// through: each Launch opens a fresh page on the same browser.
type CDPLauncher struct {
	// DebugAddr is the devtools HTTP endpoint, e.g. "http://127.0.0.1:9222".
	DebugAddr string
}

// Launch implements Launcher.
func (l *CDPLauncher) Launch(ctx context.Context) (Driver, error) {
	if l.DebugAddr == "" {
		return nil, fmt.Errorf("browser devtools address is not configured")
	}
	return NewCDPDriver(ctx, l.DebugAddr)
}

// OpenInSystemBrowser opens a URL in the user's default browser, the
// local-mode fallback when no automation endpoint is configured and a
// human completes the login interactively.
func OpenInSystemBrowser(url string, w io.Writer) error {
	_, _ = fmt.Fprintf(w, "Opening browser to:\n%s\n", url)
	if err := open.Run(url); err != nil {
		_, _ = fmt.Fprintf(w, "Failed to open browser automatically; please visit the URL above manually.\n")
		return err
	}
	return nil
}
