package app

import (
	"errors"
	"path/filepath"

	"github.com/rs/zerolog"

	"wasock/internal/crypto"
	"wasock/internal/domain"
	"wasock/internal/protocol/node"
	identitysvc "wasock/internal/services/identity"
	"wasock/internal/services/session"
	"wasock/internal/store"
	"wasock/internal/transport"
)

const connDBFilename = "conn.db"

// Wire bundles all stores, services and client factories for the CLI.
type Wire struct {
	Config   Config
	Identity domain.IdentityService
	Sessions domain.SessionStore
	Conns    domain.ConnStore
	Logger   zerolog.Logger

	// Dialer overrides the websocket dialer of new clients when set.
	Dialer transport.Dialer

	closers []func() error
}

// NewWire constructs the dependency graph from cfg.
func NewWire(cfg Config, logger zerolog.Logger) (*Wire, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := EnsureHome(cfg.Home); err != nil {
		return nil, err
	}

	w := &Wire{Config: cfg, Logger: logger}

	sessionStore := store.NewSessionFileStore(cfg.Home)
	w.Sessions = sessionStore
	w.Identity = identitysvc.New(sessionStore)

	switch cfg.StoreDriver {
	case StoreDriverSQLite:
		db, err := store.OpenConnSQLiteStore(filepath.Join(cfg.Home, connDBFilename), nil)
		if err != nil {
			return nil, err
		}
		w.Conns = db
		w.closers = append(w.closers, db.Close)
	default:
		w.Conns = store.NewConnFileStore(cfg.Home)
	}
	return w, nil
}

// NewClient builds a session client for sess using the wired stores.
func (w *Wire) NewClient(sess domain.SessionConfig) *session.Client {
	logger := w.Logger
	return session.New(w.Config.SessionConfig(), sess, session.Deps{
		Store:  w.Conns,
		Cipher: crypto.Cipher{},
		Codec:  node.CBORCodec{},
		Dialer: w.Dialer,
		Logger: &logger,
	})
}

// Close releases resources held by the stores.
func (w *Wire) Close() error {
	var errs []error
	for _, c := range w.closers {
		errs = append(errs, c())
	}
	w.closers = nil
	return errors.Join(errs...)
}
