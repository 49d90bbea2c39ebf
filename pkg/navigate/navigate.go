// Package navigate holds the page-interaction capabilities the
// authentication flow is built from: driving the login sequence,
// entering verification codes, and deciding whether a page state
// means the sign-in succeeded.
package navigate

import (
	"context"
	"time"

	"github.com/parkbot/authflow/pkg/browser"
)

// Navigator drives the identity provider's login sequence up to the
// point where MFA takes over.
type Navigator interface {
	// Navigate opens the login page and submits the primary credentials.
	Navigate(ctx context.Context, d browser.Driver, username, password string) error
}

// Prompter enters a verification code into whatever affordance the
// provider is currently showing.
type Prompter interface {
	// WaitForPrompt blocks until a code-entry field is present.
	WaitForPrompt(ctx context.Context, d browser.Driver, timeout time.Duration) error
	// SubmitCode types the code and submits it.
	SubmitCode(ctx context.Context, d browser.Driver, code string) error
}

// successPollInterval is how often WaitForSuccess re-reads the page.
const successPollInterval = time.Second

// WaitForSuccess polls the driver until rule evaluates true or the
// timeout elapses. It returns false, nil on timeout; errors are
// reserved for driver or rule failures.
func WaitForSuccess(ctx context.Context, d browser.Driver, rule *SuccessRule, timeout time.Duration) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(successPollInterval)
	defer ticker.Stop()

	for {
		url, err := d.URL(ctx)
		if err != nil {
			return false, err
		}
		content, err := d.Content(ctx)
		if err != nil {
			return false, err
		}
		ok, err := rule.Evaluate(url, content)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}

		select {
		case <-ctx.Done():
			return false, nil
		case <-ticker.C:
		}
	}
}
