package navigate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/parkbot/authflow/pkg/browser"
)

// Default selector lists for the provider's login pages. Each list is
// tried in order; the first selector that appears wins, so layout
// changes are absorbed by configuration instead of code changes.
var (
	DefaultUsernameSelectors = []string{
		`input[type="email"]`,
		`input[name="loginfmt"]`,
	}
	DefaultPasswordSelectors = []string{
		`input[type="password"]`,
		`input[name="passwd"]`,
	}
	DefaultSubmitSelectors = []string{
		`input[type="submit"]`,
		`#idSIButton9`,
	}
	DefaultDeclineSelectors = []string{
		`#idBtn_Back`,
	}
	DefaultCodeSelectors = []string{
		`input[name="otc"]`,
		`#idTxtBx_SAOTCC_OTC`,
		`input[type="tel"]`,
	}
	DefaultCodeSubmitSelectors = []string{
		`#idSubmit_SAOTCC_Continue`,
		`input[type="submit"]`,
	}
)

// fieldWait bounds how long the flow waits for any one field group.
const fieldWait = 15 * time.Second

// staySignedInWait bounds the optional "stay signed in" interstitial
// probe; the page may legitimately never show it.
const staySignedInWait = 3 * time.Second

// firstPresent waits for the first selector in the list to appear,
// splitting the timeout evenly across candidates.
func firstPresent(ctx context.Context, d browser.Driver, selectors []string, timeout time.Duration) (string, error) {
	if len(selectors) == 0 {
		return "", fmt.Errorf("empty selector list")
	}
	per := timeout / time.Duration(len(selectors))
	for _, sel := range selectors {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if err := d.WaitForSelector(ctx, sel, per); err == nil {
			return sel, nil
		}
	}
	return "", fmt.Errorf("no selector appeared within %s: %s",
		timeout, strings.Join(selectors, ", "))
}

// LoginSequence is the selector-driven default Navigator for the
// provider's two-step login (username page, then password page).
type LoginSequence struct {
	LoginURL          string
	NavigationTimeout time.Duration
	UsernameSelectors []string
	PasswordSelectors []string
	SubmitSelectors   []string
	DeclineSelectors  []string
	Logger            *slog.Logger
}

// NewLoginSequence builds a Navigator for loginURL with the default
// selector lists and the given page-load timeout.
func NewLoginSequence(loginURL string, navigationTimeout time.Duration) *LoginSequence {
	return &LoginSequence{
		LoginURL:          loginURL,
		NavigationTimeout: navigationTimeout,
		UsernameSelectors: DefaultUsernameSelectors,
		PasswordSelectors: DefaultPasswordSelectors,
		SubmitSelectors:   DefaultSubmitSelectors,
		DeclineSelectors:  DefaultDeclineSelectors,
		Logger:            slog.Default(),
	}
}

// Navigate implements Navigator: open the login page, submit the
// username, submit the password, and decline the "stay signed in"
// interstitial when it shows up.
func (s *LoginSequence) Navigate(ctx context.Context, d browser.Driver, username, password string) error {
	if err := d.Goto(ctx, s.LoginURL, s.NavigationTimeout); err != nil {
		return fmt.Errorf("opening login page: %w", err)
	}

	sel, err := firstPresent(ctx, d, s.UsernameSelectors, fieldWait)
	if err != nil {
		return fmt.Errorf("locating username field: %w", err)
	}
	if err := d.Fill(ctx, sel, username); err != nil {
		return fmt.Errorf("entering username: %w", err)
	}
	if err := s.submit(ctx, d); err != nil {
		return fmt.Errorf("submitting username: %w", err)
	}

	sel, err = firstPresent(ctx, d, s.PasswordSelectors, fieldWait)
	if err != nil {
		return fmt.Errorf("locating password field: %w", err)
	}
	if err := d.Fill(ctx, sel, password); err != nil {
		return fmt.Errorf("entering password: %w", err)
	}
	if err := s.submit(ctx, d); err != nil {
		return fmt.Errorf("submitting password: %w", err)
	}

	// The interstitial is optional; absence is not a failure.
	if sel, err := firstPresent(ctx, d, s.DeclineSelectors, staySignedInWait); err == nil {
		if err := d.Click(ctx, sel); err != nil {
			s.Logger.Debug("declining stay-signed-in prompt failed",
				slog.String("error", err.Error()))
		}
	}

	return nil
}

func (s *LoginSequence) submit(ctx context.Context, d browser.Driver) error {
	sel, err := firstPresent(ctx, d, s.SubmitSelectors, fieldWait)
	if err != nil {
		return err
	}
	return d.Click(ctx, sel)
}

// CodePrompt is the selector-driven default Prompter for one-time-code
// entry.
type CodePrompt struct {
	CodeSelectors   []string
	SubmitSelectors []string
}

// NewCodePrompt builds a Prompter with the default selector lists.
func NewCodePrompt() *CodePrompt {
	return &CodePrompt{
		CodeSelectors:   DefaultCodeSelectors,
		SubmitSelectors: DefaultCodeSubmitSelectors,
	}
}

// WaitForPrompt implements Prompter.
func (p *CodePrompt) WaitForPrompt(ctx context.Context, d browser.Driver, timeout time.Duration) error {
	if _, err := firstPresent(ctx, d, p.CodeSelectors, timeout); err != nil {
		return fmt.Errorf("locating code entry field: %w", err)
	}
	return nil
}

// SubmitCode implements Prompter.
func (p *CodePrompt) SubmitCode(ctx context.Context, d browser.Driver, code string) error {
	sel, err := firstPresent(ctx, d, p.CodeSelectors, fieldWait)
	if err != nil {
		return fmt.Errorf("locating code entry field: %w", err)
	}
	if err := d.Fill(ctx, sel, code); err != nil {
		return fmt.Errorf("entering verification code: %w", err)
	}
	sel, err = firstPresent(ctx, d, p.SubmitSelectors, fieldWait)
	if err != nil {
		return fmt.Errorf("locating code submit control: %w", err)
	}
	if err := d.Click(ctx, sel); err != nil {
		return fmt.Errorf("submitting verification code: %w", err)
	}
	return nil
}
