package session

import (
	"context"
	"errors"
	"math/rand"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"wasock/internal/domain"
	"wasock/internal/events"
)

// Supervisor keeps one logical session connected. Each attempt uses a new
// Client; after a drop it waits a backoff delay and connects again with the
// latest config, which restores by takeover once tokens exist.
type Supervisor struct {
	// NewClient builds the Client for one attempt.
	NewClient func(domain.SessionConfig) *Client
	// OnReady runs after every successful Connect, before the watchdog is
	// armed. An error stops the supervisor.
	OnReady func(*Client, domain.SessionConfig) error

	Backoff BackoffConfig
	Clock   clock.Clock
	Logger  zerolog.Logger

	rng *rand.Rand
}

// Run connects and reconnects until ctx ends or an attempt fails with an
// error that retrying cannot fix.
func (s *Supervisor) Run(ctx context.Context, sess domain.SessionConfig) error {
	clk := s.Clock
	if clk == nil {
		clk = clock.New()
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewSource(clk.Now().UnixNano()))
	}

	attempt := 0
	for {
		next, err := s.runOnce(ctx, sess)
		if err == nil {
			attempt = 0
			sess = next
			s.Logger.Warn().Msg("session dropped, reconnecting")
		} else {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if IsFatal(err) {
				return err
			}
			s.Logger.Warn().Err(err).Int("attempt", attempt+1).Msg("connect failed")
		}

		attempt++
		delay := NextBackoffDelay(s.Backoff, attempt, s.rng)
		s.Logger.Debug().Dur("delay", delay).Msg("reconnect scheduled")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clk.After(delay):
		}
	}
}

// runOnce connects one Client and blocks while it stays up. It returns the
// config the session ended with.
func (s *Supervisor) runOnce(ctx context.Context, sess domain.SessionConfig) (domain.SessionConfig, error) {
	c := s.NewClient(sess)
	defer c.Close()

	closed := make(chan struct{})
	var once sync.Once
	id := c.AddEventHandler(func(evt any) {
		if _, ok := evt.(events.Closed); ok {
			once.Do(func() { close(closed) })
		}
	})
	defer c.RemoveEventHandler(id)

	cfg, err := c.Connect(ctx)
	if err != nil {
		return domain.SessionConfig{}, err
	}
	if s.OnReady != nil {
		if err := s.OnReady(c, cfg); err != nil {
			return domain.SessionConfig{}, &stopError{err}
		}
	}
	c.SignalReady()

	select {
	case <-ctx.Done():
		return domain.SessionConfig{}, ctx.Err()
	case <-closed:
		return c.Session(), nil
	}
}

type stopError struct{ err error }

func (e *stopError) Error() string { return e.err.Error() }
func (e *stopError) Unwrap() error { return e.err }

// IsFatal reports whether reconnecting cannot fix err, such as rejected
// credentials or an exhausted QR code supply.
func IsFatal(err error) bool {
	var (
		initErr *InitError
		stop    *stopError
	)
	return isFinalLoginError(err) ||
		errors.Is(err, ErrQRTimeout) ||
		errors.Is(err, ErrUnknownRefStatus) ||
		errors.Is(err, ErrNoEncryptionKeys) ||
		errors.Is(err, ErrNoServerRef) ||
		errors.As(err, &initErr) ||
		errors.As(err, &stop)
}
