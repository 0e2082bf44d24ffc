package interfaces

import domaintypes "wasock/internal/domain/types"

// SessionStore persists the session configuration under a passphrase.
type SessionStore interface {
	SaveSession(passphrase string, cfg domaintypes.SessionConfig) error
	LoadSession(passphrase string) (domaintypes.SessionConfig, bool, error)
	DeleteSession() error
}

// ConnStore durably records Conn pushes.
type ConnStore interface {
	SaveConn(info domaintypes.ConnInfo) error
	LatestConn() (domaintypes.ConnInfo, bool, error)
}
