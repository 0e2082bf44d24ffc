package crypto

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"wasock/internal/domain"
	"wasock/internal/util/memzero"
)

const (
	// SecretSize is the length of the server secret carried in a Conn push:
	// ephemeral public key (32) | HMAC (32) | encrypted keys (80).
	SecretSize = 144

	// KeySize is the length of each derived symmetric key.
	KeySize = 32

	expandedSize = 80
)

// ErrBadSecret reports a server secret that is malformed or fails its MAC.
var ErrBadSecret = errors.New("crypto: invalid server secret")

// DeriveEncryptionKeys unwraps the session's encryption and MAC keys from the
// server secret using the client's long-term private key.
func DeriveEncryptionKeys(secret []byte, priv domain.X25519Private) (encKey, macKey []byte, err error) {
	if len(secret) != SecretSize {
		return nil, nil, fmt.Errorf("%w: %d bytes, want %d", ErrBadSecret, len(secret), SecretSize)
	}
	shared, err := curve25519.X25519(priv.Slice(), secret[:32])
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrBadSecret, err)
	}
	defer memzero.Zero(shared)

	expanded, err := expand(shared)
	if err != nil {
		return nil, nil, err
	}
	defer memzero.Zero(expanded)

	signed := make([]byte, 0, SecretSize-32)
	signed = append(signed, secret[:32]...)
	signed = append(signed, secret[64:]...)
	if !hmac.Equal(hmacSHA256(expanded[32:64], signed), secret[32:64]) {
		return nil, nil, fmt.Errorf("%w: hmac mismatch", ErrBadSecret)
	}

	keys, err := cbcDecrypt(expanded[:32], expanded[64:80], secret[64:])
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrBadSecret, err)
	}
	defer memzero.Zero(keys)
	if len(keys) < 2*KeySize {
		return nil, nil, fmt.Errorf("%w: short key material", ErrBadSecret)
	}
	return bytes.Clone(keys[:KeySize]), bytes.Clone(keys[KeySize : 2*KeySize]), nil
}

// SealEncryptionKeys builds the server secret that DeriveEncryptionKeys
// unwraps for the holder of clientPub's private key. The dev server and tests
// use it to play the server side of the exchange.
func SealEncryptionKeys(clientPub domain.X25519Public, encKey, macKey []byte) ([]byte, error) {
	if len(encKey) != KeySize || len(macKey) != KeySize {
		return nil, fmt.Errorf("crypto: keys must be %d bytes", KeySize)
	}
	ephPriv, ephPub, err := GenerateX25519()
	if err != nil {
		return nil, err
	}
	defer memzero.Zero(ephPriv[:])

	shared, err := DH(ephPriv, clientPub)
	if err != nil {
		return nil, err
	}
	defer memzero.Zero(shared[:])

	expanded, err := expand(shared[:])
	if err != nil {
		return nil, err
	}
	defer memzero.Zero(expanded)

	plain := append(bytes.Clone(encKey), macKey...)
	defer memzero.Zero(plain)
	ct, err := cbcEncrypt(expanded[:32], expanded[64:80], plain)
	if err != nil {
		return nil, err
	}

	signed := append(bytes.Clone(ephPub[:]), ct...)
	mac := hmacSHA256(expanded[32:64], signed)

	out := make([]byte, 0, SecretSize)
	out = append(out, ephPub[:]...)
	out = append(out, mac...)
	out = append(out, ct...)
	return out, nil
}

func expand(shared []byte) ([]byte, error) {
	out := make([]byte, expandedSize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, nil, nil), out); err != nil {
		return nil, err
	}
	return out, nil
}

func hmacSHA256(key, data []byte) []byte {
	m := hmac.New(sha256.New, key)
	m.Write(data)
	return m.Sum(nil)
}
