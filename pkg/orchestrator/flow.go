package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/parkbot/authflow/pkg/autherr"
	"github.com/parkbot/authflow/pkg/browser"
	"github.com/parkbot/authflow/pkg/mfa"
	"github.com/parkbot/authflow/pkg/navigate"
	"github.com/parkbot/authflow/pkg/vault"
)

// accountURL is the revalidation target: reachable only with live
// session cookies.
const accountURL = "https://myaccount.microsoft.com/"

// revalidationWait bounds the cookie rung's success check.
const revalidationWait = 10 * time.Second

// tokenProbeScript scans web storage for the identity library's token
// entries. Microsoft's client library stores one JSON record per
// credential with a credentialType discriminator.
const tokenProbeScript = `(() => {
	let access = "", refresh = "";
	for (let i = 0; i < localStorage.length; i++) {
		const value = localStorage.getItem(localStorage.key(i));
		try {
			const entry = JSON.parse(value);
			if (!entry || !entry.secret) continue;
			if (entry.credentialType === "AccessToken") access = entry.secret;
			if (entry.credentialType === "RefreshToken") refresh = entry.secret;
		} catch (e) {}
	}
	return JSON.stringify({access: access, refresh: refresh});
})()`

// authCookieNames are accepted as an opaque access token when no JWT is
// found in web storage.
var authCookieNames = []string{"ESTSAUTHPERSISTENT", "ESTSAUTH"}

// runAttempt executes one full browser login under the attempt budget.
func (o *Orchestrator) runAttempt(ctx context.Context) (*vault.Session, *autherr.ClassifiedError) {
	attemptCtx, cancel := context.WithTimeout(ctx, AttemptBudget)
	defer cancel()

	d, err := o.acquireDriver(attemptCtx)
	if err != nil {
		return nil, autherr.Wrap(
			fmt.Errorf("acquiring browser: %w", err),
			autherr.CategoryBrowser, autherr.SeverityHigh)
	}

	o.setState(StateNavigating)
	if err := o.navigator.Navigate(attemptCtx, d, o.creds.MicrosoftUsername, o.creds.Password); err != nil {
		return nil, classifyAttemptFailure(err, attemptCtx, "navigation")
	}
	o.setState(StateCredentialSubmission)

	method := "none"
	if done, _ := o.successReached(attemptCtx, d); !done {
		o.setState(StateMfaPending)
		coordinator := mfa.NewCoordinator(o.chain,
			mfa.WithLogger(o.logger), mfa.WithClock(o.now))
		m, cerr := coordinator.Run(attemptCtx, d)
		o.recordMfaAttempts(coordinator.Records())
		if cerr != nil {
			if attemptCtx.Err() != nil {
				return nil, classifyAttemptFailure(context.DeadlineExceeded, attemptCtx, "mfa")
			}
			return nil, cerr
		}
		method = m
	}

	o.setState(StateTokenExtraction)
	sess, cerr := o.extractSession(attemptCtx, d, method)
	if cerr != nil {
		return nil, cerr
	}

	if _, err := o.vault.Seal(sess); err != nil {
		return nil, classifyAttemptFailure(err, attemptCtx, "persistence")
	}
	o.setState(StatePersisted)
	o.setLastMethod(method)
	o.logger.Info("authentication succeeded",
		slog.String("mfa_method", method),
		slog.String("environment", string(o.env.Mode)))
	return sess, nil
}

// successReached evaluates the success rule once against the current
// page, without waiting.
func (o *Orchestrator) successReached(ctx context.Context, d browser.Driver) (bool, error) {
	url, err := d.URL(ctx)
	if err != nil {
		return false, err
	}
	content, err := d.Content(ctx)
	if err != nil {
		return false, err
	}
	return o.rule.Evaluate(url, content)
}

// extractSession pulls tokens and cookies off the authenticated page.
func (o *Orchestrator) extractSession(ctx context.Context, d browser.Driver, method string) (*vault.Session, *autherr.ClassifiedError) {
	var probe struct {
		Access  string `json:"access"`
		Refresh string `json:"refresh"`
	}
	if raw, err := d.Evaluate(ctx, tokenProbeScript); err == nil {
		if s, ok := raw.(string); ok {
			_ = json.Unmarshal([]byte(s), &probe)
		}
	}

	raw, err := d.Cookies(ctx)
	if err != nil {
		return nil, autherr.Wrap(
			fmt.Errorf("reading session cookies: %w", err),
			autherr.CategoryBrowser, autherr.SeverityHigh)
	}
	cookies := make([]vault.Cookie, 0, len(raw))
	for _, c := range raw {
		cookies = append(cookies, vault.Cookie{
			Name:    c.Name,
			Value:   c.Value,
			Domain:  c.Domain,
			Path:    c.Path,
			Expires: c.Expires,
		})
	}

	access := probe.Access
	if access == "" {
		access = firstCookieValue(cookies, authCookieNames)
	}
	if access == "" {
		return nil, autherr.New(autherr.CategoryAuthentication, autherr.SeverityHigh,
			"authentication produced no access token or auth cookie")
	}

	now := o.now()
	sess := &vault.Session{
		AccessToken:  access,
		RefreshToken: probe.Refresh,
		Expiry:       tokenExpiry(access, now),
		Cookies:      cookies,
		MFAMethod:    method,
		CreatedAt:    now,
	}
	return sess, nil
}

func firstCookieValue(cookies []vault.Cookie, names []string) string {
	for _, name := range names {
		for _, c := range cookies {
			if c.Name == name {
				return c.Value
			}
		}
	}
	return ""
}

// tokenExpiry reads the exp claim off a JWT access token without
// verifying the signature; opaque tokens get the default TTL.
func tokenExpiry(token string, now time.Time) *time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			t := exp.Time
			return &t
		}
	}
	t := now.Add(defaultSessionTTL)
	return &t
}

// refreshLadder tries the cheap session recovery rungs in order:
// refresh-token exchange, then cookie revalidation. A nil return means
// the full browser flow is required.
func (o *Orchestrator) refreshLadder(ctx context.Context, stale *vault.Session) *vault.Session {
	if fresh := o.refreshViaToken(ctx, stale); fresh != nil {
		return fresh
	}
	if fresh := o.refreshViaCookies(ctx, stale); fresh != nil {
		return fresh
	}
	return nil
}

// refreshViaToken exchanges the stored refresh token at the provider's
// token endpoint.
func (o *Orchestrator) refreshViaToken(ctx context.Context, stale *vault.Session) *vault.Session {
	if o.oauth == nil || stale.RefreshToken == "" {
		return nil
	}

	src := o.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: stale.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		o.logger.Debug("refresh-token rung failed", slog.String("error", err.Error()))
		return nil
	}

	fresh := *stale
	fresh.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		fresh.RefreshToken = tok.RefreshToken
	}
	if !tok.Expiry.IsZero() {
		e := tok.Expiry
		fresh.Expiry = &e
	}
	fresh.CreatedAt = o.now()

	if _, err := o.vault.Seal(&fresh); err != nil {
		o.logger.Warn("persisting refreshed session failed", slog.String("error", err.Error()))
	}
	o.logger.Info("session refreshed via refresh token")
	return &fresh
}

// refreshViaCookies opens the account surface with the existing browser
// profile; still-live cookies land there without a login.
func (o *Orchestrator) refreshViaCookies(ctx context.Context, stale *vault.Session) *vault.Session {
	if len(stale.Cookies) == 0 || o.launcher == nil {
		return nil
	}

	d, err := o.acquireDriver(ctx)
	if err != nil {
		o.logger.Debug("cookie rung failed to acquire browser", slog.String("error", err.Error()))
		return nil
	}
	if err := d.Goto(ctx, accountURL, o.env.NavigationTimeout); err != nil {
		return nil
	}
	ok, err := navigate.WaitForSuccess(ctx, d, o.rule, revalidationWait)
	if err != nil || !ok {
		return nil
	}

	sess, cerr := o.extractSession(ctx, d, stale.MFAMethod)
	if cerr != nil {
		return nil
	}
	if _, err := o.vault.Seal(sess); err != nil {
		o.logger.Warn("persisting revalidated session failed", slog.String("error", err.Error()))
	}
	o.logger.Info("session revalidated via stored cookies")
	return sess
}

// acquireDriver returns the live driver, launching one on first use.
// With a monitor attached the monitor owns the driver.
func (o *Orchestrator) acquireDriver(ctx context.Context) (browser.Driver, error) {
	if o.monitor != nil {
		return o.monitor.Driver(), nil
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.driver != nil {
		return o.driver, nil
	}
	if o.launcher == nil {
		return nil, fmt.Errorf("no browser launcher configured")
	}
	d, err := o.launcher.Launch(ctx)
	if err != nil {
		return nil, err
	}
	o.driver = d
	return d, nil
}

// Close releases the owned browser. Monitored drivers are closed by
// their monitor's owner.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.driver == nil || o.monitor != nil {
		return nil
	}
	err := o.driver.Close()
	o.driver = nil
	return err
}

// recordMfaAttempts keeps the latest flow's MFA audit log.
func (o *Orchestrator) recordMfaAttempts(records []mfa.AttemptRecord) {
	o.mu.Lock()
	o.mfaRecords = records
	o.mu.Unlock()
}

// MFAAttempts returns the attempt log of the most recent flow.
func (o *Orchestrator) MFAAttempts() []mfa.AttemptRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]mfa.AttemptRecord, len(o.mfaRecords))
	copy(out, o.mfaRecords)
	return out
}
