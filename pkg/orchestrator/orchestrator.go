// Package orchestrator drives the full authentication flow: reuse a
// persisted session when possible, climb the token refresh ladder, and
// only as a last resort run the browser login with MFA. All retry
// decisions are made here, against classified errors; nothing below
// this layer retries on its own.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/parkbot/authflow/pkg/autherr"
	"github.com/parkbot/authflow/pkg/browser"
	"github.com/parkbot/authflow/pkg/credentials"
	"github.com/parkbot/authflow/pkg/health"
	"github.com/parkbot/authflow/pkg/mailbox"
	"github.com/parkbot/authflow/pkg/mfa"
	"github.com/parkbot/authflow/pkg/navigate"
	"github.com/parkbot/authflow/pkg/vault"
)

// State names the flow's position in the login state machine.
type State string

const (
	StateIdle                 State = "idle"
	StateNavigating           State = "navigating"
	StateCredentialSubmission State = "credential_submission"
	StateMfaPending           State = "mfa_pending"
	StateTokenExtraction      State = "token_extraction"
	StatePersisted            State = "persisted"
	StateFailed               State = "failed"
)

// AttemptBudget bounds one full login attempt, nose to tail.
const AttemptBudget = 120 * time.Second

// defaultSessionTTL applies when the extracted token carries no expiry
// of its own.
const defaultSessionTTL = time.Hour

// DefaultLoginURL is where the flow starts.
const DefaultLoginURL = "https://login.microsoftonline.com/"

// Sleeper waits out a backoff period. Injected so retry tests do not
// sleep for real.
type Sleeper func(ctx context.Context, d time.Duration) error

func defaultSleeper(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Orchestrator owns one browser profile's authentication lifecycle.
// Exactly one flow runs at a time; concurrent Authenticate calls are
// rejected, never interleaved.
type Orchestrator struct {
	creds    credentials.Credentials
	env      credentials.Environment
	vault    *vault.Vault
	launcher browser.Launcher

	navigator navigate.Navigator
	prompter  navigate.Prompter
	rule      *navigate.SuccessRule
	chain     []mfa.Strategy
	monitor   *health.Monitor
	oauth     *oauth2.Config
	loginURL  string

	logger *slog.Logger
	sleep  Sleeper
	now    func() time.Time

	flight  sync.Mutex
	history *autherr.History

	mu         sync.Mutex
	state      State
	lastMethod string
	driver     browser.Driver
	mfaRecords []mfa.AttemptRecord
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithNavigator replaces the default selector-driven login sequence.
func WithNavigator(n navigate.Navigator) Option {
	return func(o *Orchestrator) { o.navigator = n }
}

// WithPrompter replaces the default code-entry prompter.
func WithPrompter(p navigate.Prompter) Option {
	return func(o *Orchestrator) { o.prompter = p }
}

// WithSuccessRule replaces the default success heuristic.
func WithSuccessRule(r *navigate.SuccessRule) Option {
	return func(o *Orchestrator) { o.rule = r }
}

// WithStrategies replaces the default MFA chain.
func WithStrategies(chain []mfa.Strategy) Option {
	return func(o *Orchestrator) { o.chain = chain }
}

// WithMonitor attaches a browser health monitor.
func WithMonitor(m *health.Monitor) Option {
	return func(o *Orchestrator) { o.monitor = m }
}

// WithOAuthConfig enables the refresh-token rung of the refresh ladder.
func WithOAuthConfig(cfg *oauth2.Config) Option {
	return func(o *Orchestrator) { o.oauth = cfg }
}

// WithLoginURL overrides the provider login URL.
func WithLoginURL(url string) Option {
	return func(o *Orchestrator) { o.loginURL = url }
}

// WithLogger sets the orchestrator's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithSleeper replaces the backoff sleeper.
func WithSleeper(s Sleeper) Option {
	return func(o *Orchestrator) { o.sleep = s }
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New builds an orchestrator over the given credentials, environment,
// session vault, and browser launcher.
func New(creds credentials.Credentials, env credentials.Environment, vlt *vault.Vault, launcher browser.Launcher, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		creds:    creds,
		env:      env,
		vault:    vlt,
		launcher: launcher,
		loginURL: DefaultLoginURL,
		logger:   slog.Default(),
		sleep:    defaultSleeper,
		now:      time.Now,
		history:  autherr.NewHistory(0),
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.rule == nil {
		o.rule = navigate.DefaultRule()
	}
	if o.navigator == nil {
		o.navigator = navigate.NewLoginSequence(o.loginURL, env.NavigationTimeout)
	}
	if o.prompter == nil {
		o.prompter = navigate.NewCodePrompt()
	}
	if o.chain == nil {
		o.chain = o.defaultChain()
	}
	return o
}

// defaultChain builds the TOTP, email, push sequence from whatever the
// credentials make available.
func (o *Orchestrator) defaultChain() []mfa.Strategy {
	chain := []mfa.Strategy{
		mfa.NewTOTP(o.creds.TOTPSecret, o.prompter, o.rule),
	}
	if o.creds.HasEmailMFA() {
		mbox := mailbox.NewLazy(o.creds.MailboxAddr(), o.creds.EmailAddress, o.creds.EmailPassword, o.logger)
		chain = append(chain, mfa.NewEmail(o.creds.EmailAddress, mbox, o.prompter, o.rule))
	} else {
		chain = append(chain, mfa.NewEmail("", nil, o.prompter, o.rule))
	}
	chain = append(chain, mfa.NewPush(o.rule))
	return chain
}

// Authenticate produces a valid session, reusing or refreshing a
// persisted one when possible and running the full browser flow
// otherwise. The returned error is the terminal classified failure,
// carrying its correlation id.
func (o *Orchestrator) Authenticate(ctx context.Context) (*vault.Session, *autherr.ClassifiedError) {
	if !o.flight.TryLock() {
		return nil, autherr.New(autherr.CategorySystem, autherr.SeverityMedium,
			"authentication already in progress")
	}
	defer o.flight.Unlock()

	o.history.Clear()

	// A still-valid persisted session wins without touching the browser.
	if sess, err := o.vault.Load(); err == nil && sess.Valid(o.now()) {
		o.logger.Info("reusing persisted session",
			slog.Duration("age", sess.Age(o.now())),
			slog.String("mfa_method", sess.MFAMethod))
		o.setState(StatePersisted)
		o.setLastMethod(sess.MFAMethod)
		return sess, nil
	} else if err == nil {
		// Expired but present: climb the refresh ladder before a full flow.
		if fresh := o.refreshLadder(ctx, sess); fresh != nil {
			o.setState(StatePersisted)
			o.setLastMethod(fresh.MFAMethod)
			return fresh, nil
		}
	}

	return o.authenticateWithRetries(ctx)
}

// authenticateWithRetries runs full login attempts under the retry
// policy: classify every failure, honor the ceiling, back off between
// eligible attempts, resurrect the browser when health says so.
func (o *Orchestrator) authenticateWithRetries(ctx context.Context) (*vault.Session, *autherr.ClassifiedError) {
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			if cerr := o.ensureHealthyBrowser(ctx); cerr != nil {
				o.history.Record(cerr)
				break
			}
		}

		sess, cerr := o.runAttempt(ctx)
		if cerr == nil {
			return sess, nil
		}

		cerr.RetryCount = attempt
		o.history.Record(cerr)
		o.setState(StateFailed)
		o.logger.Warn("authentication attempt failed",
			slog.Int("attempt", attempt+1),
			slog.String("category", string(cerr.Category)),
			slog.String("severity", cerr.Severity.String()),
			slog.String("error_id", cerr.ID))

		if !autherr.ShouldRetry(cerr) {
			break
		}

		backoff := autherr.Backoff(attempt + 1)
		o.logger.Info("retrying after backoff", slog.Duration("backoff", backoff))
		if err := o.sleep(ctx, backoff); err != nil {
			break
		}
	}

	terminal := o.history.Terminal()
	if terminal == nil {
		terminal = autherr.New(autherr.CategorySystem, autherr.SeverityHigh,
			"authentication failed with no recorded error")
	}
	return nil, terminal
}

// ensureHealthyBrowser consults the monitor before a retry and requests
// resurrection when the browser has gone critical. A failed
// resurrection is terminal.
func (o *Orchestrator) ensureHealthyBrowser(ctx context.Context) *autherr.ClassifiedError {
	if o.monitor == nil {
		return nil
	}
	if o.monitor.Status().State != health.StateCritical {
		return nil
	}
	o.logger.Warn("browser critical, requesting resurrection")
	if _, cerr := o.monitor.Resurrect(ctx); cerr != nil {
		return cerr
	}
	return nil
}

// Status reports the orchestrator's externally visible condition.
type Status struct {
	Authenticated bool
	MFAMethod     string
	Environment   credentials.Mode
	SessionAge    time.Duration
	ErrorSummary  autherr.Summary
}

// Status snapshots the current authentication state.
func (o *Orchestrator) Status() Status {
	st := Status{
		Environment:  o.env.Mode,
		ErrorSummary: o.history.Summarize(),
	}
	if sess, err := o.vault.Load(); err == nil && sess.Valid(o.now()) {
		st.Authenticated = true
		st.MFAMethod = sess.MFAMethod
		st.SessionAge = sess.Age(o.now())
	} else {
		o.mu.Lock()
		st.MFAMethod = o.lastMethod
		o.mu.Unlock()
	}
	return st
}

// ClearSession drops the persisted session. The next Authenticate runs
// the full flow.
func (o *Orchestrator) ClearSession() error {
	o.setState(StateIdle)
	o.setLastMethod("")
	return o.vault.Clear()
}

// State returns the flow's current position in the state machine.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// History exposes the classified error history for diagnostics.
func (o *Orchestrator) History() *autherr.History {
	return o.history
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
	o.logger.Debug("state transition", slog.String("state", string(s)))
}

func (o *Orchestrator) setLastMethod(method string) {
	o.mu.Lock()
	o.lastMethod = method
	o.mu.Unlock()
}

// classifyAttemptFailure maps a raw attempt error to a classified one,
// recognizing the whole-flow budget overrun as a timeout.
func classifyAttemptFailure(err error, attemptCtx context.Context, stage string) *autherr.ClassifiedError {
	var cerr *autherr.ClassifiedError
	if errors.As(err, &cerr) {
		return cerr
	}
	if attemptCtx.Err() != nil && errors.Is(err, context.DeadlineExceeded) {
		return autherr.New(autherr.CategoryTimeout, autherr.SeverityHigh,
			"authentication attempt exceeded %s budget", AttemptBudget)
	}
	return autherr.Classify(err, map[string]string{"stage": stage})
}
