package vault

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/pbkdf2"
)

// KeySize is the AES-256 key length.
const KeySize = 32

// pbkdf2Iterations follows the OWASP recommendation for PBKDF2-SHA-256.
const pbkdf2Iterations = 600000

// KeyStore supplies the vault's symmetric key. Implementations must
// generate the key on first use and never transmit it.
type KeyStore interface {
	// Key returns the 32-byte key, generating and persisting it if absent.
	Key() ([]byte, error)
	// Reset discards the persisted key, if any.
	Reset() error
}

// ZeroBytes zeros key material after use.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func generateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate vault key: %w", err)
	}
	return key, nil
}

// FileKeyStore keeps the key in a file with restrictive permissions,
// the default for unattended runners.
type FileKeyStore struct {
	path string
}

// NewFileKeyStore creates a key store at the given path.
func NewFileKeyStore(path string) *FileKeyStore {
	return &FileKeyStore{path: path}
}

// Key loads the key file, generating one on first use.
func (f *FileKeyStore) Key() ([]byte, error) {
	data, err := os.ReadFile(f.path)
	if err == nil {
		if len(data) != KeySize {
			return nil, fmt.Errorf("key file %s is corrupt: expected %d bytes, got %d", f.path, KeySize, len(data))
		}
		return data, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	key, err := generateKey()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := os.WriteFile(f.path, key, 0600); err != nil {
		return nil, fmt.Errorf("failed to write key file: %w", err)
	}
	return key, nil
}

// Reset deletes the key file.
func (f *FileKeyStore) Reset() error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete key file: %w", err)
	}
	return nil
}

// KeyringKeyStore keeps the key in the OS keyring (macOS Keychain, GNOME
// Keyring, Windows Credential Manager), preferable on interactive
// machines.
type KeyringKeyStore struct {
	service string
	user    string
}

// NewKeyringKeyStore creates a keyring-backed key store.
func NewKeyringKeyStore(service, user string) *KeyringKeyStore {
	if service == "" {
		service = "authflow"
	}
	if user == "" {
		user = "vault-key"
	}
	return &KeyringKeyStore{service: service, user: user}
}

// Key loads the key from the keyring, generating one on first use.
func (k *KeyringKeyStore) Key() ([]byte, error) {
	encoded, err := keyring.Get(k.service, k.user)
	if err == nil {
		key, decErr := base64.StdEncoding.DecodeString(encoded)
		if decErr != nil || len(key) != KeySize {
			return nil, fmt.Errorf("keyring entry for %s is corrupt", k.service)
		}
		return key, nil
	}
	if err != keyring.ErrNotFound {
		return nil, fmt.Errorf("failed to read keyring: %w", err)
	}

	key, err := generateKey()
	if err != nil {
		return nil, err
	}
	if err := keyring.Set(k.service, k.user, base64.StdEncoding.EncodeToString(key)); err != nil {
		return nil, fmt.Errorf("failed to store key in keyring: %w", err)
	}
	return key, nil
}

// Reset deletes the keyring entry.
func (k *KeyringKeyStore) Reset() error {
	if err := keyring.Delete(k.service, k.user); err != nil && err != keyring.ErrNotFound {
		return fmt.Errorf("failed to delete keyring entry: %w", err)
	}
	return nil
}

// DerivedKeyStore derives the key from a passphrase with PBKDF2-SHA-256,
// for hosts with neither a keyring nor a writable key path. The salt is
// persisted beside the session file; the passphrase never is.
type DerivedKeyStore struct {
	passphrase string
	saltPath   string
}

// NewDerivedKeyStore creates a passphrase-derived key store with its salt
// at the given path.
func NewDerivedKeyStore(passphrase, saltPath string) *DerivedKeyStore {
	return &DerivedKeyStore{passphrase: passphrase, saltPath: saltPath}
}

// Key derives the key, generating and persisting a salt on first use.
func (d *DerivedKeyStore) Key() ([]byte, error) {
	if d.passphrase == "" {
		return nil, fmt.Errorf("passphrase is required")
	}

	salt, err := os.ReadFile(d.saltPath)
	if os.IsNotExist(err) {
		salt = make([]byte, KeySize)
		if _, rerr := io.ReadFull(rand.Reader, salt); rerr != nil {
			return nil, fmt.Errorf("failed to generate salt: %w", rerr)
		}
		if merr := os.MkdirAll(filepath.Dir(d.saltPath), 0700); merr != nil {
			return nil, fmt.Errorf("failed to create salt directory: %w", merr)
		}
		if werr := os.WriteFile(d.saltPath, salt, 0600); werr != nil {
			return nil, fmt.Errorf("failed to write salt file: %w", werr)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to read salt file: %w", err)
	}

	return pbkdf2.Key([]byte(d.passphrase), salt, pbkdf2Iterations, KeySize, sha256.New), nil
}

// Reset deletes the salt file, invalidating previously sealed blobs.
func (d *DerivedKeyStore) Reset() error {
	if err := os.Remove(d.saltPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete salt file: %w", err)
	}
	return nil
}
