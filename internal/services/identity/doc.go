// Package identity manages creation, encryption and loading of the local
// session configuration.
//
// It enforces passphrase policy, generates the client id and X25519 key pair
// of a fresh install, and persists configurations via the domain.SessionStore.
package identity
