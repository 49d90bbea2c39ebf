package mailbox

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/parkbot/authflow/pkg/autherr"
)

// senderDomain identifies the account provider's verification mail.
const senderDomain = "microsoft.com"

// fetchLimit caps how many matching messages are pulled per search.
const fetchLimit = 10

// dialTimeout bounds every IMAP round trip.
const dialTimeout = 30 * time.Second

// IMAPMailbox reads verification mail over IMAP. The inbox is opened
// read-only so polling never marks messages as seen.
type IMAPMailbox struct {
	conn   *client.Client
	logger *slog.Logger
}

// DialIMAP connects to addr (host:port, implicit TLS), authenticates
// and selects the inbox read-only.
func DialIMAP(addr, username, password string, logger *slog.Logger) (*IMAPMailbox, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := client.DialTLS(addr, nil)
	if err != nil {
		return nil, autherr.Wrap(
			fmt.Errorf("dialing mailbox %s: %w", addr, err),
			autherr.CategoryNetwork, autherr.SeverityMedium)
	}
	conn.Timeout = dialTimeout

	if err := conn.Login(username, password); err != nil {
		_ = conn.Logout()
		return nil, autherr.Wrap(
			fmt.Errorf("mailbox login for %s: %w", username, err),
			autherr.CategoryConfiguration, autherr.SeverityHigh)
	}

	if _, err := conn.Select("INBOX", true); err != nil {
		_ = conn.Logout()
		return nil, autherr.Wrap(
			fmt.Errorf("selecting inbox: %w", err),
			autherr.CategoryNetwork, autherr.SeverityMedium)
	}

	logger.Debug("mailbox connected", slog.String("addr", addr))
	return &IMAPMailbox{conn: conn, logger: logger}, nil
}

// Search implements Mailbox. It asks the server for recent mail from
// the provider's domain, then filters by verification subject markers
// locally, which tolerates servers with unreliable SUBJECT search.
func (m *IMAPMailbox) Search(ctx context.Context, since time.Time) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	criteria := imap.NewSearchCriteria()
	criteria.Since = since.Truncate(24 * time.Hour)
	criteria.Header.Add("From", senderDomain)

	ids, err := m.conn.Search(criteria)
	if err != nil {
		return nil, autherr.Wrap(
			fmt.Errorf("mailbox search: %w", err),
			autherr.CategoryNetwork, autherr.SeverityMedium)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	if len(ids) > fetchLimit {
		ids = ids[len(ids)-fetchLimit:]
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, section.FetchItem()}

	ch := make(chan *imap.Message, len(ids))
	done := make(chan error, 1)
	go func() {
		done <- m.conn.Fetch(seqset, items, ch)
	}()

	var msgs []Message
	for raw := range ch {
		msg, ok := m.convert(raw, section, since)
		if ok {
			msgs = append(msgs, msg)
		}
	}
	if err := <-done; err != nil {
		return nil, autherr.Wrap(
			fmt.Errorf("mailbox fetch: %w", err),
			autherr.CategoryNetwork, autherr.SeverityMedium)
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Date.After(msgs[j].Date)
	})

	m.logger.Debug("mailbox searched",
		slog.Int("server_matches", len(ids)),
		slog.Int("verification_mail", len(msgs)))
	return msgs, nil
}

// convert maps a wire message to the package's Message, dropping mail
// that is older than since or lacks verification subject markers.
func (m *IMAPMailbox) convert(raw *imap.Message, section *imap.BodySectionName, since time.Time) (Message, bool) {
	if raw.Envelope == nil || raw.Envelope.Date.Before(since) {
		return Message{}, false
	}
	if !looksLikeVerification(raw.Envelope.Subject) {
		return Message{}, false
	}

	msg := Message{
		Subject: raw.Envelope.Subject,
		Date:    raw.Envelope.Date,
	}
	if len(raw.Envelope.From) > 0 {
		msg.From = raw.Envelope.From[0].Address()
	}
	if literal := raw.GetBody(section); literal != nil {
		body, err := io.ReadAll(literal)
		if err == nil {
			msg.Body = string(body)
		}
	}
	return msg, true
}

// Close implements Mailbox.
func (m *IMAPMailbox) Close() error {
	return m.conn.Logout()
}
