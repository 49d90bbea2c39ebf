package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/adrg/xdg"
)

// nonceSize is the AES-GCM nonce length prefixed to every sealed blob.
const nonceSize = 12

var (
	// ErrDecrypt indicates a sealed blob could not be opened: tampered
	// data, a payload sealed under a lost key, or a malformed record.
	ErrDecrypt = errors.New("vault: decryption failed")
	// ErrNoSession indicates no session has been persisted.
	ErrNoSession = errors.New("vault: no saved session")
)

// Vault seals and opens sessions against durable storage. The session
// file and the key artifact are process-wide singletons; concurrent
// writers must be serialized by the caller, which the internal mutex
// enforces for a single process.
type Vault struct {
	mu       sync.Mutex
	keys     KeyStore
	path     string
	aead     cipher.AEAD
	memory   []byte // ephemeral mode: sealed blob kept off disk
	inMemory bool
}

// Option configures a Vault.
type Option func(*Vault)

// WithPath overrides the session file location.
func WithPath(path string) Option {
	return func(v *Vault) { v.path = path }
}

// WithKeyStore overrides the key store.
func WithKeyStore(ks KeyStore) Option {
	return func(v *Vault) { v.keys = ks }
}

// WithEphemeral keeps sealed sessions in memory only, the cloud-runner
// policy where persisting a session across jobs has no value.
func WithEphemeral() Option {
	return func(v *Vault) { v.inMemory = true }
}

// DefaultSessionPath is where sessions are persisted by default.
func DefaultSessionPath() string {
	return filepath.Join(xdg.StateHome, "authflow", "session.enc")
}

// DefaultKeyPath is where the file key store lives by default.
func DefaultKeyPath() string {
	return filepath.Join(xdg.StateHome, "authflow", ".key")
}

// New creates a Vault. Defaults: file key store and session file under
// the XDG state directory.
func New(opts ...Option) (*Vault, error) {
	v := &Vault{
		path: DefaultSessionPath(),
		keys: NewFileKeyStore(DefaultKeyPath()),
	}
	for _, opt := range opts {
		opt(v)
	}

	key, err := v.keys.Key()
	if err != nil {
		return nil, fmt.Errorf("vault key unavailable: %w", err)
	}
	defer ZeroBytes(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	v.aead, err = cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return v, nil
}

// Seal serializes and encrypts the session, then writes it to durable
// storage (or memory in ephemeral mode). Layout: nonce || ciphertext+tag.
func (v *Vault) Seal(session *Session) ([]byte, error) {
	if session == nil {
		return nil, fmt.Errorf("session is nil")
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}

	plaintext, err := json.Marshal(session)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize session: %w", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	blob := v.aead.Seal(nonce, nonce, plaintext, nil)

	if v.inMemory {
		v.memory = blob
		return blob, nil
	}

	if err := os.MkdirAll(filepath.Dir(v.path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	if err := os.WriteFile(v.path, blob, 0600); err != nil {
		return nil, fmt.Errorf("failed to write session file: %w", err)
	}
	return blob, nil
}

// Open decrypts and deserializes a sealed blob. Any authentication-tag
// failure or malformed payload is reported as ErrDecrypt, never as raw
// garbage or a panic.
func (v *Vault) Open(blob []byte) (*Session, error) {
	if len(blob) < nonceSize {
		return nil, ErrDecrypt
	}

	v.mu.Lock()
	nonce, ciphertext := blob[:nonceSize], blob[nonceSize:]
	plaintext, err := v.aead.Open(nil, nonce, ciphertext, nil)
	v.mu.Unlock()
	if err != nil {
		return nil, ErrDecrypt
	}

	var session Session
	if err := json.Unmarshal(plaintext, &session); err != nil {
		return nil, ErrDecrypt
	}
	return &session, nil
}

// Load reads the persisted blob and opens it. Returns ErrNoSession when
// nothing has been persisted.
func (v *Vault) Load() (*Session, error) {
	var blob []byte
	if v.inMemory {
		v.mu.Lock()
		blob = v.memory
		v.mu.Unlock()
		if blob == nil {
			return nil, ErrNoSession
		}
	} else {
		data, err := os.ReadFile(v.path)
		if os.IsNotExist(err) {
			return nil, ErrNoSession
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read session file: %w", err)
		}
		blob = data
	}
	return v.Open(blob)
}

// Clear removes the persisted session. The key is kept; clearing a
// session must not invalidate future ones.
func (v *Vault) Clear() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.memory = nil
	if v.inMemory {
		return nil
	}
	if err := os.Remove(v.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete session file: %w", err)
	}
	return nil
}
