// Package session drives the connection handshake and owns the session state.
//
// A Client opens a transport, sends init, then either restores a paired
// session by takeover (stored tokens) or pairs afresh by emitting QR payloads
// until the companion device scans one. The handshake completes when the
// server pushes Conn; Connect then returns the session configuration with the
// derived frame keys and the new tokens.
//
// The server may send a challenge at any time; the client answers it without
// changing state. Other pushes are forwarded to event handlers.
//
// A Client serves one connection. Supervisor keeps a session alive across
// drops by building a new Client per attempt with exponential backoff.
package session
