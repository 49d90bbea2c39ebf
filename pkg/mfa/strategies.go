package mfa

import (
	"context"
	"fmt"
	"time"

	"github.com/parkbot/authflow/pkg/browser"
	"github.com/parkbot/authflow/pkg/mailbox"
	"github.com/parkbot/authflow/pkg/navigate"
	"github.com/parkbot/authflow/pkg/totp"
)

// Timing defaults for the strategy chain, tuned against the provider's
// observed page behavior.
const (
	// totpPromptWait is how long the TOTP strategy waits for the
	// code-entry field to appear.
	totpPromptWait = 15 * time.Second
	// emailSettleWait gives the provider time to deliver the mail
	// before the first inbox read.
	emailSettleWait = 5 * time.Second
	// emailLookback bounds how far back the inbox search reaches.
	emailLookback = 5 * time.Minute
	// pushCeiling is the hard limit on waiting for an approval; the
	// strategy never fabricates one.
	pushCeiling = 60 * time.Second
	// successWait is how long a submitted code gets to take effect.
	successWait = 10 * time.Second
)

// TOTPStrategy satisfies the challenge with a generated authenticator
// code. It submits the candidate closest to the current step; the
// surrounding window exists to tolerate clock skew between this host
// and the provider.
type TOTPStrategy struct {
	Secret     string
	Prompter   navigate.Prompter
	Rule       *navigate.SuccessRule
	PromptWait time.Duration
	Wait       time.Duration
	Now        func() time.Time
}

// NewTOTP builds the TOTP strategy with default timing.
func NewTOTP(secret string, prompter navigate.Prompter, rule *navigate.SuccessRule) *TOTPStrategy {
	return &TOTPStrategy{
		Secret:     secret,
		Prompter:   prompter,
		Rule:       rule,
		PromptWait: totpPromptWait,
		Wait:       successWait,
		Now:        time.Now,
	}
}

// Name implements Strategy.
func (s *TOTPStrategy) Name() string { return "totp" }

// Configured implements Strategy.
func (s *TOTPStrategy) Configured() bool { return s.Secret != "" }

// Attempt implements Strategy.
func (s *TOTPStrategy) Attempt(ctx context.Context, d browser.Driver) error {
	if err := s.Prompter.WaitForPrompt(ctx, d, s.PromptWait); err != nil {
		return fmt.Errorf("totp prompt: %w", err)
	}

	candidates, err := totp.CodesForWindow(s.Secret, s.Now(), totp.DefaultOffsets)
	if err != nil {
		return err
	}

	if err := s.Prompter.SubmitCode(ctx, d, candidates[0].Code); err != nil {
		return fmt.Errorf("totp submit: %w", err)
	}

	ok, err := navigate.WaitForSuccess(ctx, d, s.Rule, s.Wait)
	if err != nil {
		return fmt.Errorf("totp verification: %w", err)
	}
	if !ok {
		return fmt.Errorf("totp code was not accepted")
	}
	return nil
}

// EmailStrategy reads a verification code out of the user's inbox and
// submits it.
type EmailStrategy struct {
	Address    string
	Mailbox    mailbox.Mailbox
	Prompter   navigate.Prompter
	Rule       *navigate.SuccessRule
	PromptWait time.Duration
	SettleWait time.Duration
	Lookback   time.Duration
	Wait       time.Duration
	Now        func() time.Time
}

// NewEmail builds the email strategy with default timing. A nil mbox
// leaves the strategy unconfigured.
func NewEmail(address string, mbox mailbox.Mailbox, prompter navigate.Prompter, rule *navigate.SuccessRule) *EmailStrategy {
	return &EmailStrategy{
		Address:    address,
		Mailbox:    mbox,
		Prompter:   prompter,
		Rule:       rule,
		PromptWait: totpPromptWait,
		SettleWait: emailSettleWait,
		Lookback:   emailLookback,
		Wait:       successWait,
		Now:        time.Now,
	}
}

// Name implements Strategy.
func (s *EmailStrategy) Name() string { return "email" }

// Configured implements Strategy.
func (s *EmailStrategy) Configured() bool { return s.Address != "" && s.Mailbox != nil }

// Attempt implements Strategy.
func (s *EmailStrategy) Attempt(ctx context.Context, d browser.Driver) error {
	if err := s.Prompter.WaitForPrompt(ctx, d, s.PromptWait); err != nil {
		return fmt.Errorf("email code prompt: %w", err)
	}

	// Let the provider deliver before the first read.
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.SettleWait):
	}

	msgs, err := s.Mailbox.Search(ctx, s.Now().Add(-s.Lookback))
	if err != nil {
		return fmt.Errorf("reading verification mail: %w", err)
	}
	code, found := mailbox.LatestCode(msgs)
	if !found {
		return fmt.Errorf("no verification code found in mailbox")
	}

	if err := s.Prompter.SubmitCode(ctx, d, code); err != nil {
		return fmt.Errorf("email code submit: %w", err)
	}

	ok, err := navigate.WaitForSuccess(ctx, d, s.Rule, s.Wait)
	if err != nil {
		return fmt.Errorf("email code verification: %w", err)
	}
	if !ok {
		return fmt.Errorf("emailed code was not accepted")
	}
	return nil
}

// PushStrategy waits for the user to approve a push notification on
// their device. It only observes; approval comes from outside.
type PushStrategy struct {
	Rule    *navigate.SuccessRule
	Ceiling time.Duration
}

// NewPush builds the push strategy with the default ceiling.
func NewPush(rule *navigate.SuccessRule) *PushStrategy {
	return &PushStrategy{Rule: rule, Ceiling: pushCeiling}
}

// Name implements Strategy.
func (s *PushStrategy) Name() string { return "push" }

// Configured implements Strategy. Push needs no credentials; it is
// always available as the last resort.
func (s *PushStrategy) Configured() bool { return true }

// Attempt implements Strategy.
func (s *PushStrategy) Attempt(ctx context.Context, d browser.Driver) error {
	ok, err := navigate.WaitForSuccess(ctx, d, s.Rule, s.Ceiling)
	if err != nil {
		return fmt.Errorf("waiting for push approval: %w", err)
	}
	if !ok {
		return fmt.Errorf("push approval not received within %s", s.Ceiling)
	}
	return nil
}
