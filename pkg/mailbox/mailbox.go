// Package mailbox reads MFA verification codes out of an email inbox.
package mailbox

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Message is a simplified view of an inbox message, just enough to
// decide whether it carries a verification code.
type Message struct {
	Subject string
	From    string
	Date    time.Time
	Body    string
}

// Mailbox is the read side of an email account. Implementations must
// not mutate the underlying inbox.
type Mailbox interface {
	// Search returns messages received at or after since that look like
	// verification mail, newest first.
	Search(ctx context.Context, since time.Time) ([]Message, error)
	// Close releases the connection.
	Close() error
}

// codePattern matches a standalone six-digit verification code. Longer
// digit runs (phone numbers, order ids) do not match.
var codePattern = regexp.MustCompile(`\b(\d{6})\b`)

// subjectMarkers are the subject fragments that identify verification
// mail, matched case-insensitively.
var subjectMarkers = []string{"code", "verification", "verify", "security"}

// looksLikeVerification reports whether the subject marks the message
// as verification mail.
func looksLikeVerification(subject string) bool {
	lower := strings.ToLower(subject)
	for _, marker := range subjectMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// ExtractCode pulls the six-digit code out of a message, checking the
// subject before the body.
func ExtractCode(msg Message) (string, bool) {
	if m := codePattern.FindStringSubmatch(msg.Subject); m != nil {
		return m[1], true
	}
	if m := codePattern.FindStringSubmatch(msg.Body); m != nil {
		return m[1], true
	}
	return "", false
}

// LatestCode scans messages newest first and returns the first code
// found.
func LatestCode(msgs []Message) (string, bool) {
	sorted := make([]Message, len(msgs))
	copy(sorted, msgs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date.After(sorted[j].Date)
	})
	for _, msg := range sorted {
		if code, ok := ExtractCode(msg); ok {
			return code, true
		}
	}
	return "", false
}
