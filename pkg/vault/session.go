// Package vault persists authentication sessions encrypted at rest.
//
// A session (tokens, cookies, headers) is serialized to JSON and sealed
// with AES-256-GCM under a locally generated key. The key and the session
// blob are separate artifacts; losing the key means "no valid session",
// never a fatal error.
package vault

import (
	"time"
)

// ExpiryMargin is the safety margin before expiry at which a session is
// already treated as invalid, so a flow never starts on a token about to
// die mid-run.
const ExpiryMargin = 5 * time.Minute

// Cookie is one browser cookie captured from an authenticated session.
type Cookie struct {
	Name    string  `json:"name"`
	Value   string  `json:"value"`
	Domain  string  `json:"domain,omitempty"`
	Path    string  `json:"path,omitempty"`
	Expires float64 `json:"expires,omitempty"`
}

// Session is the reusable product of a successful authentication flow.
type Session struct {
	AccessToken  string            `json:"access_token,omitempty"`
	RefreshToken string            `json:"refresh_token,omitempty"`
	Expiry       *time.Time        `json:"expiry,omitempty"`
	Cookies      []Cookie          `json:"cookies,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
	// MFAMethod records which MFA strategy produced this session.
	MFAMethod string `json:"mfa_method,omitempty"`
	// CreatedAt is when the session was sealed, ISO-8601 on the wire.
	CreatedAt time.Time `json:"created_at"`
}

// Valid reports whether the session can be reused at the given instant:
// an access token is present and either no expiry is recorded or more
// than the safety margin remains before it.
func (s *Session) Valid(now time.Time) bool {
	if s == nil || s.AccessToken == "" {
		return false
	}
	if s.Expiry == nil {
		return true
	}
	return now.Before(s.Expiry.Add(-ExpiryMargin))
}

// Age returns how long ago the session was created.
func (s *Session) Age(now time.Time) time.Duration {
	if s == nil || s.CreatedAt.IsZero() {
		return 0
	}
	return now.Sub(s.CreatedAt)
}
