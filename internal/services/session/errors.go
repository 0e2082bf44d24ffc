package session

import (
	"errors"
	"fmt"
)

// Handshake outcomes. Connect returns one of these, or a wrapped transport
// error.
var (
	ErrUnpaired          = errors.New("unpaired from the phone")
	ErrAlreadyLoggedIn   = errors.New("already logged in")
	ErrLoggedInElsewhere = errors.New("logged in from another location")
	ErrQRTimeout         = errors.New("QR code timeout")
	ErrUnknownRefStatus  = errors.New("unknown QR ref status")
	ErrNoEncryptionKeys  = errors.New("no encryption keys")
	ErrNoServerRef       = errors.New("no server ref in init response")
	ErrClosed            = errors.New("session closed")
	ErrAlreadyStarted    = errors.New("session already started")
)

// AccessDeniedError is a 403 login reply. TOS is the server's terms-of-service
// flag; two or more means a violation.
type AccessDeniedError struct {
	TOS int
}

func (e *AccessDeniedError) Error() string {
	if e.TOS == 0 {
		return "access denied"
	}
	msg := fmt.Sprintf("access denied (tos %d)", e.TOS)
	if e.TOS >= 2 {
		msg += ": YOU HAVE VIOLATED TOS"
	}
	return msg
}

// InitError is an init reply with a non-200 status.
type InitError struct {
	Status int
}

func (e *InitError) Error() string { return fmt.Sprintf("init error: status %d", e.Status) }

// restoreError is a login reply status that falls back to fresh pairing.
type restoreError struct {
	status int
}

func (e *restoreError) Error() string {
	return fmt.Sprintf("unhandled restore response: %d", e.status)
}

// isFinalLoginError reports whether a login failure ends the handshake rather
// than falling back to pairing.
func isFinalLoginError(err error) bool {
	var denied *AccessDeniedError
	return errors.Is(err, ErrUnpaired) ||
		errors.Is(err, ErrAlreadyLoggedIn) ||
		errors.Is(err, ErrLoggedInElsewhere) ||
		errors.As(err, &denied)
}
