package mailbox

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Lazy defers the IMAP connection until the first search. The email
// MFA branch rarely runs, so the flow should not pay for a mailbox
// connection it may never use.
type Lazy struct {
	addr     string
	username string
	password string
	logger   *slog.Logger

	dial func(addr, username, password string, logger *slog.Logger) (*IMAPMailbox, error)

	mu   sync.Mutex
	conn Mailbox
}

// NewLazy wraps the IMAP mailbox at addr behind a lazy connection.
func NewLazy(addr, username, password string, logger *slog.Logger) *Lazy {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lazy{
		addr:     addr,
		username: username,
		password: password,
		logger:   logger,
		dial:     DialIMAP,
	}
}

// Search implements Mailbox, dialing on first use.
func (l *Lazy) Search(ctx context.Context, since time.Time) ([]Message, error) {
	conn, err := l.connect()
	if err != nil {
		return nil, err
	}
	return conn.Search(ctx, since)
}

func (l *Lazy) connect() (Mailbox, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		return l.conn, nil
	}
	conn, err := l.dial(l.addr, l.username, l.password, l.logger)
	if err != nil {
		return nil, err
	}
	l.conn = conn
	return conn, nil
}

// Close implements Mailbox.
func (l *Lazy) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	err := l.conn.Close()
	l.conn = nil
	return err
}
