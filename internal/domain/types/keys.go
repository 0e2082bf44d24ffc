package types

import (
	"encoding/base64"
	"fmt"
)

// X25519Public is a Curve25519 public key.
type X25519Public [32]byte

// Slice returns the key as a []byte.
func (p X25519Public) Slice() []byte { return p[:] }

// MarshalText encodes the key as standard base64.
func (p X25519Public) MarshalText() ([]byte, error) { return marshalKey(p[:]) }

// UnmarshalText decodes a standard base64 key.
func (p *X25519Public) UnmarshalText(text []byte) error { return unmarshalKey(p[:], text) }

// X25519Private is a Curve25519 private key.
type X25519Private [32]byte

// Slice returns the key as a []byte.
func (k X25519Private) Slice() []byte { return k[:] }

// MarshalText encodes the key as standard base64.
func (k X25519Private) MarshalText() ([]byte, error) { return marshalKey(k[:]) }

// UnmarshalText decodes a standard base64 key.
func (k *X25519Private) UnmarshalText(text []byte) error { return unmarshalKey(k[:], text) }

// KeyPair is the long-term X25519 pair of one client identity. The public half
// is shown to the companion device inside the QR payload.
type KeyPair struct {
	Public  X25519Public  `json:"public"`
	Private X25519Private `json:"private"`
}

func marshalKey(b []byte) ([]byte, error) {
	out := make([]byte, base64.StdEncoding.EncodedLen(len(b)))
	base64.StdEncoding.Encode(out, b)
	return out, nil
}

func unmarshalKey(dst, text []byte) error {
	raw, err := base64.StdEncoding.DecodeString(string(text))
	if err != nil {
		return err
	}
	if len(raw) != len(dst) {
		return fmt.Errorf("x25519 key: want %d bytes, got %d", len(dst), len(raw))
	}
	copy(dst, raw)
	return nil
}
