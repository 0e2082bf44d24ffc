package identity

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"unicode"

	"wasock/internal/crypto"
	"wasock/internal/domain"
)

const (
	// minPassphraseLength defines the minimum number of characters required for a passphrase.
	minPassphraseLength = 12

	// clientIDBytes is the length of the random client id before encoding.
	clientIDBytes = 16
)

var (
	// ErrWeakPassphrase is returned when the passphrase fails the strength policy.
	ErrWeakPassphrase = fmt.Errorf(
		"passphrase is too weak (must be at least %d characters and include upper, lower, "+
			"number, and symbol)",
		minPassphraseLength,
	)
)

// Service manages session configuration creation and access using a backing store.
//
// A session configuration contains:
//   - A random client id, stable across restarts.
//   - An X25519 key pair whose public half is shown in pairing QR codes.
//   - Once paired, the server secret, the derived frame keys and the tokens
//     used to restore the session by takeover.
type Service struct {
	store domain.SessionStore
}

// New returns an identity service backed by the given store.
func New(s domain.SessionStore) *Service { return &Service{store: s} }

// NewSessionConfig creates an unpaired configuration with a fresh client id
// and key pair. It is not persisted.
func (s *Service) NewSessionConfig() (domain.SessionConfig, error) {
	raw := make([]byte, clientIDBytes)
	if _, err := rand.Read(raw); err != nil {
		return domain.SessionConfig{}, err
	}
	keys, err := crypto.GenerateKeyPair()
	if err != nil {
		return domain.SessionConfig{}, err
	}
	return domain.SessionConfig{
		ClientID: domain.ClientID(base64.StdEncoding.EncodeToString(raw)),
		Keys:     keys,
	}, nil
}

// LoadSessionConfig decrypts the stored configuration. The boolean is false
// when nothing is stored.
func (s *Service) LoadSessionConfig(passphrase string) (domain.SessionConfig, bool, error) {
	return s.store.LoadSession(passphrase)
}

// SaveSessionConfig encrypts cfg with the passphrase and stores it.
func (s *Service) SaveSessionConfig(passphrase string, cfg domain.SessionConfig) error {
	if !isSecurePassphrase(passphrase) {
		return ErrWeakPassphrase
	}
	return s.store.SaveSession(passphrase, cfg)
}

// ForgetSessionConfig deletes the stored configuration.
func (s *Service) ForgetSessionConfig() error {
	return s.store.DeleteSession()
}

// Fingerprint returns a short fingerprint of the configuration's public key.
func (s *Service) Fingerprint(cfg domain.SessionConfig) domain.Fingerprint {
	return crypto.Fingerprint(cfg.Keys.Public)
}

// isSecurePassphrase enforces a basic strength policy.
func isSecurePassphrase(passphrase string) bool {
	var hasUpper, hasLower, hasDigit, hasSymbol bool
	if len(passphrase) < minPassphraseLength {
		return false
	}
	for _, r := range passphrase {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r), unicode.IsSymbol(r):
			hasSymbol = true
		}
	}
	return hasUpper && hasLower && hasDigit && hasSymbol
}

// Compile-time assertion that Service implements domain.IdentityService.
var _ domain.IdentityService = (*Service)(nil)
