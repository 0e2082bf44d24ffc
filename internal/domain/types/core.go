package types

// ClientID identifies one install of the client. It is the base64 encoding of
// random bytes and stays stable across restarts.
type ClientID string

// String returns the string form of the client id.
func (id ClientID) String() string { return string(id) }

// Fingerprint is a short identifier for public keys presented to users.
type Fingerprint string

// String returns the string form of the fingerprint.
func (f Fingerprint) String() string { return string(f) }

// ServerRef is the pairing reference the server hands out in init and reref
// replies. It is the first field of every QR payload.
type ServerRef string

// String returns the string form of the reference.
func (r ServerRef) String() string { return string(r) }
