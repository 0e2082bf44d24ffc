package types

import (
	"bytes"
	"encoding/json"
)

// Tokens are issued by the server once a pairing succeeds. Holding them lets a
// later run restore the session by takeover instead of scanning a new QR code.
type Tokens struct {
	Client  string `json:"client"`
	Server  string `json:"server"`
	Browser string `json:"browser"`
}

// SessionConfig is the identity and credential material of one logical session.
//
// EncKey and MacKey stay empty until the server secret has been delivered and
// the keys were derived from it. Tokens is nil until a pairing succeeded.
type SessionConfig struct {
	ClientID     ClientID `json:"client_id"`
	Keys         KeyPair  `json:"keys"`
	ServerSecret []byte   `json:"server_secret,omitempty"`
	EncKey       []byte   `json:"enc_key,omitempty"`
	MacKey       []byte   `json:"mac_key,omitempty"`
	Tokens       *Tokens  `json:"tokens,omitempty"`
}

// HasKeys reports whether frame encryption keys are available.
func (c SessionConfig) HasKeys() bool { return len(c.EncKey) > 0 && len(c.MacKey) > 0 }

// Clone returns a deep copy so callers can hand the config out without
// sharing the backing arrays.
func (c SessionConfig) Clone() SessionConfig {
	out := c
	out.ServerSecret = bytes.Clone(c.ServerSecret)
	out.EncKey = bytes.Clone(c.EncKey)
	out.MacKey = bytes.Clone(c.MacKey)
	if c.Tokens != nil {
		t := *c.Tokens
		out.Tokens = &t
	}
	return out
}

// ConnInfo is the payload of a Conn push. Raw keeps the full payload as the
// server sent it; stores persist Raw so fields unknown to this client survive.
type ConnInfo struct {
	Ref          string `json:"ref,omitempty"`
	Wid          string `json:"wid,omitempty"`
	Connected    bool   `json:"connected,omitempty"`
	Pushname     string `json:"pushname,omitempty"`
	Platform     string `json:"platform,omitempty"`
	Secret       string `json:"secret,omitempty"`
	ClientToken  string `json:"clientToken"`
	ServerToken  string `json:"serverToken"`
	BrowserToken string `json:"browserToken"`

	Raw json.RawMessage `json:"-"`
}

// ParseConnInfo decodes a Conn payload and keeps a copy of the raw bytes.
func ParseConnInfo(raw json.RawMessage) (ConnInfo, error) {
	var info ConnInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return ConnInfo{}, err
	}
	info.Raw = bytes.Clone(raw)
	return info, nil
}
