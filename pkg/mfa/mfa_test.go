package mfa

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parkbot/authflow/pkg/autherr"
	"github.com/parkbot/authflow/pkg/browser"
	"github.com/parkbot/authflow/pkg/mailbox"
	"github.com/parkbot/authflow/pkg/navigate"
	"github.com/parkbot/authflow/pkg/totp"
)

// stubStrategy scripts one chain entry.
type stubStrategy struct {
	name       string
	configured bool
	err        error
	attempts   int
}

func (s *stubStrategy) Name() string     { return s.name }
func (s *stubStrategy) Configured() bool { return s.configured }
func (s *stubStrategy) Attempt(ctx context.Context, d browser.Driver) error {
	s.attempts++
	return s.err
}

// stubMailbox returns canned messages.
type stubMailbox struct {
	msgs []mailbox.Message
	err  error
}

func (m *stubMailbox) Search(ctx context.Context, since time.Time) ([]mailbox.Message, error) {
	return m.msgs, m.err
}
func (m *stubMailbox) Close() error { return nil }

func TestCoordinatorStopsAtFirstSuccess(t *testing.T) {
	first := &stubStrategy{name: "totp", configured: true}
	second := &stubStrategy{name: "email", configured: true}
	third := &stubStrategy{name: "push", configured: true}
	c := NewCoordinator([]Strategy{first, second, third})

	method, cerr := c.Run(context.Background(), &browser.MockDriver{})
	require.Nil(t, cerr)
	assert.Equal(t, "totp", method)
	assert.Equal(t, 1, first.attempts)
	assert.Zero(t, second.attempts)
	assert.Zero(t, third.attempts)
}

func TestCoordinatorFallsThroughOnFailure(t *testing.T) {
	first := &stubStrategy{name: "totp", configured: true, err: errors.New("code rejected")}
	second := &stubStrategy{name: "email", configured: true}
	third := &stubStrategy{name: "push", configured: true}
	c := NewCoordinator([]Strategy{first, second, third})

	method, cerr := c.Run(context.Background(), &browser.MockDriver{})
	require.Nil(t, cerr)
	assert.Equal(t, "email", method)
	assert.Equal(t, 1, first.attempts)
	assert.Equal(t, 1, second.attempts)
	assert.Zero(t, third.attempts, "later strategies must not run after a success")
}

func TestCoordinatorSkipsUnconfigured(t *testing.T) {
	first := &stubStrategy{name: "totp", configured: false}
	second := &stubStrategy{name: "email", configured: true}
	c := NewCoordinator([]Strategy{first, second})

	method, cerr := c.Run(context.Background(), &browser.MockDriver{})
	require.Nil(t, cerr)
	assert.Equal(t, "email", method)
	assert.Zero(t, first.attempts)

	records := c.Records()
	require.Len(t, records, 2)
	assert.Equal(t, OutcomeSkipped, records[0].Outcome)
	assert.Equal(t, "not configured", records[0].Detail)
	assert.Equal(t, OutcomeSuccess, records[1].Outcome)
}

func TestCoordinatorExhaustedChain(t *testing.T) {
	first := &stubStrategy{name: "totp", configured: true, err: errors.New("code rejected")}
	second := &stubStrategy{name: "push", configured: true, err: errors.New("no approval")}
	c := NewCoordinator([]Strategy{first, second})

	method, cerr := c.Run(context.Background(), &browser.MockDriver{})
	assert.Empty(t, method)
	require.NotNil(t, cerr)
	assert.Equal(t, autherr.CategoryMFA, cerr.Category)
	assert.Equal(t, autherr.SeverityHigh, cerr.Severity)
	assert.Contains(t, cerr.Message, "totp, push")

	records := c.Records()
	require.Len(t, records, 2)
	assert.Equal(t, OutcomeFailure, records[0].Outcome)
	assert.Equal(t, "code rejected", records[0].Detail)
}

func TestCoordinatorNothingConfigured(t *testing.T) {
	c := NewCoordinator([]Strategy{
		&stubStrategy{name: "totp"},
		&stubStrategy{name: "email"},
	})

	_, cerr := c.Run(context.Background(), &browser.MockDriver{})
	require.NotNil(t, cerr)
	assert.Equal(t, autherr.CategoryConfiguration, cerr.Category)
}

func TestCoordinatorRecordsTimestamps(t *testing.T) {
	fixed := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	c := NewCoordinator(
		[]Strategy{&stubStrategy{name: "push", configured: true}},
		WithClock(func() time.Time { return fixed }),
	)

	_, cerr := c.Run(context.Background(), &browser.MockDriver{})
	require.Nil(t, cerr)
	records := c.Records()
	require.Len(t, records, 1)
	assert.Equal(t, fixed, records[0].StartedAt)
}

func TestTOTPStrategySubmitsClosestCandidate(t *testing.T) {
	const secret = "JBSWY3DPEHPK3PXP"
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	d := &browser.MockDriver{PageURL: "https://myaccount.microsoft.com/"}
	s := NewTOTP(secret, navigate.NewCodePrompt(), navigate.DefaultRule())
	s.Now = func() time.Time { return now }

	require.NoError(t, s.Attempt(context.Background(), d))

	candidates, err := totp.CodesForWindow(secret, now, totp.DefaultOffsets)
	require.NoError(t, err)
	assert.Equal(t, candidates[0].Code, d.FilledValues[`input[name="otc"]`])
}

func TestTOTPStrategyRejectedCode(t *testing.T) {
	d := &browser.MockDriver{PageURL: "https://login.microsoftonline.com/common/login"}
	s := NewTOTP("JBSWY3DPEHPK3PXP", navigate.NewCodePrompt(), navigate.DefaultRule())
	s.Wait = 50 * time.Millisecond

	err := s.Attempt(context.Background(), d)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not accepted")
}

func TestTOTPStrategyConfigured(t *testing.T) {
	assert.True(t, NewTOTP("SECRET", nil, nil).Configured())
	assert.False(t, NewTOTP("", nil, nil).Configured())
}

func TestEmailStrategySubmitsInboxCode(t *testing.T) {
	mbox := &stubMailbox{msgs: []mailbox.Message{
		{Subject: "Your verification code is 445566", Date: time.Now()},
	}}
	d := &browser.MockDriver{PageURL: "https://myaccount.microsoft.com/"}
	s := NewEmail("user@example.com", mbox, navigate.NewCodePrompt(), navigate.DefaultRule())
	s.SettleWait = time.Millisecond

	require.NoError(t, s.Attempt(context.Background(), d))
	assert.Equal(t, "445566", d.FilledValues[`input[name="otc"]`])
}

func TestEmailStrategyNoCodeArrives(t *testing.T) {
	mbox := &stubMailbox{msgs: []mailbox.Message{
		{Subject: "New sign-in detected", Date: time.Now()},
	}}
	d := &browser.MockDriver{}
	s := NewEmail("user@example.com", mbox, navigate.NewCodePrompt(), navigate.DefaultRule())
	s.SettleWait = time.Millisecond

	err := s.Attempt(context.Background(), d)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no verification code")
}

func TestEmailStrategyConfigured(t *testing.T) {
	mbox := &stubMailbox{}
	assert.True(t, NewEmail("user@example.com", mbox, nil, nil).Configured())
	assert.False(t, NewEmail("", mbox, nil, nil).Configured())
	assert.False(t, NewEmail("user@example.com", nil, nil, nil).Configured())
}

func TestChainFallsThroughWhenTotpPromptNeverAppears(t *testing.T) {
	// The code-entry field never renders for the TOTP branch; the chain
	// must move on to email without surfacing the failure.
	d := &browser.MockDriver{
		PageURL: "https://myaccount.microsoft.com/",
		MissingSelectors: map[string]bool{
			`input[name="otc"]`:   true,
			`#idTxtBx_SAOTCC_OTC`: true,
			`input[type="tel"]`:   true,
		},
	}
	totpStrategy := NewTOTP("JBSWY3DPEHPK3PXP", navigate.NewCodePrompt(), navigate.DefaultRule())
	totpStrategy.PromptWait = 50 * time.Millisecond
	email := &stubStrategy{name: "email", configured: true}
	c := NewCoordinator([]Strategy{totpStrategy, email})

	method, cerr := c.Run(context.Background(), d)
	require.Nil(t, cerr)
	assert.Equal(t, "email", method)

	records := c.Records()
	require.Len(t, records, 2)
	assert.Equal(t, OutcomeFailure, records[0].Outcome)
	assert.Contains(t, records[0].Detail, "totp prompt")
}

func TestPushStrategyObservesApproval(t *testing.T) {
	d := &browser.MockDriver{PageURL: "https://myaccount.microsoft.com/"}
	s := NewPush(navigate.DefaultRule())

	require.NoError(t, s.Attempt(context.Background(), d))
}

func TestPushStrategyCeiling(t *testing.T) {
	d := &browser.MockDriver{PageURL: "https://login.microsoftonline.com/common/login"}
	s := NewPush(navigate.DefaultRule())
	s.Ceiling = 50 * time.Millisecond

	err := s.Attempt(context.Background(), d)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "push approval not received")
}
