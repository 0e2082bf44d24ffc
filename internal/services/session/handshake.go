package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"wasock/internal/crypto"
	"wasock/internal/domain"
	"wasock/internal/events"
)

type initResponse struct {
	Status int    `json:"status"`
	Ref    string `json:"ref"`
	TTL    int64  `json:"ttl"`
}

type loginResponse struct {
	Status int `json:"status"`
	TOS    int `json:"tos"`
}

// handshake runs init and then restore or pairing. Success is signalled later
// by the Conn push; this goroutine only reports failures.
func (c *Client) handshake(ctx context.Context) {
	for {
		c.setState(StateAwaitingInit)
		resp, err := c.sendInit(ctx)
		if err != nil {
			c.finish(err)
			return
		}
		if resp.Status != 200 {
			c.finish(&InitError{Status: resp.Status})
			c.closeTransport()
			return
		}
		if resp.Ref == "" {
			c.finish(ErrNoServerRef)
			return
		}

		tokens := c.storedTokens()
		if tokens == nil {
			c.setState(StatePairing)
			if c.emitQR(resp.Ref) {
				c.scheduleReref(c.ttl(resp.TTL))
			}
			return
		}

		c.setState(StateRestoring)
		err = c.login(ctx, *tokens)
		if err == nil {
			c.log.Info().Msg("restore accepted, waiting for Conn")
			return
		}
		if isFinalLoginError(err) || ctx.Err() != nil {
			c.finish(err)
			return
		}
		c.log.Warn().Err(err).Msg("restore failed, falling back to pairing")
		c.clearTokens()
	}
}

func (c *Client) sendInit(ctx context.Context) (initResponse, error) {
	c.mu.Lock()
	clientID := c.session.ClientID.String()
	tr := c.transport
	c.mu.Unlock()

	v := c.cfg.Version
	p, err := tr.SendCommand(ctx, "admin", "init",
		[]int{v[0], v[1], v[2]},
		[]string{c.cfg.ClientName, c.cfg.Platform, c.cfg.Arch},
		clientID,
		true,
	)
	if err != nil {
		return initResponse{}, fmt.Errorf("session: init: %w", err)
	}
	var resp initResponse
	if err := p.Decode(&resp); err != nil {
		return initResponse{}, fmt.Errorf("session: init reply: %w", err)
	}
	c.log.Debug().Int("status", resp.Status).Str("ref", resp.Ref).Int64("ttl", resp.TTL).Msg("init reply")
	return resp, nil
}

// login attempts restore by takeover. A nil error means the server accepted
// and will push Conn.
func (c *Client) login(ctx context.Context, tokens domain.Tokens) error {
	c.mu.Lock()
	clientID := c.session.ClientID.String()
	tr := c.transport
	c.mu.Unlock()

	p, err := tr.SendCommand(ctx, "admin", "login", tokens.Client, tokens.Server, clientID, "takeover")
	if err != nil {
		return fmt.Errorf("session: login: %w", err)
	}
	var resp loginResponse
	if err := p.Decode(&resp); err != nil {
		return fmt.Errorf("session: login reply: %w", err)
	}
	c.log.Debug().Int("status", resp.Status).Int("tos", resp.TOS).Msg("login reply")

	switch resp.Status {
	case 200:
		return nil
	case 401:
		return ErrUnpaired
	case 403:
		return &AccessDeniedError{TOS: resp.TOS}
	case 405:
		return ErrAlreadyLoggedIn
	case 409:
		return ErrLoggedInElsewhere
	default:
		return &restoreError{status: resp.Status}
	}
}

// reref asks whether the current QR code was scanned. It runs on the QR timer.
func (c *Client) reref() {
	tr, err := c.activeTransport()
	if err != nil {
		return
	}
	p, err := tr.SendCommand(c.lifetime, "admin", "Conn", "reref")
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			c.finish(fmt.Errorf("session: reref: %w", err))
		}
		return
	}
	var resp initResponse
	if err := p.Decode(&resp); err != nil {
		c.finish(fmt.Errorf("session: reref reply: %w", err))
		return
	}

	switch resp.Status {
	case 429:
		c.finish(ErrQRTimeout)
	case 200:
		if c.emitQR(resp.Ref) {
			c.scheduleReref(c.ttl(resp.TTL))
		}
	case 304:
		c.log.Debug().Msg("QR code not scanned yet")
		c.scheduleReref(c.cfg.QRRetryInterval)
	default:
		c.finish(fmt.Errorf("%w: %d", ErrUnknownRefStatus, resp.Status))
	}
}

// scheduleReref replaces the QR timer. It does nothing once the handshake
// settled.
func (c *Client) scheduleReref(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ready == nil || c.state != StatePairing {
		return
	}
	c.stopQRTimerLocked()
	c.qrTimer = c.clock.AfterFunc(d, c.reref)
	c.log.Debug().Dur("in", d).Msg("reref scheduled")
}

func (c *Client) ttl(ms int64) time.Duration {
	if ms <= 0 {
		return c.cfg.QRTTL
	}
	return time.Duration(ms) * time.Millisecond
}

// QRPayload is the content of the pairing QR code: ref, public key, client id.
func QRPayload(ref string, pub domain.X25519Public, clientID domain.ClientID) string {
	return strings.Join([]string{ref, crypto.B64(pub.Slice()), clientID.String()}, ",")
}

// emitQR publishes the QR code for ref while the session is still pairing.
// It reports whether a code was emitted.
func (c *Client) emitQR(ref string) bool {
	c.mu.Lock()
	if c.ready == nil || c.state != StatePairing {
		c.mu.Unlock()
		c.log.Debug().Str("ref", ref).Msg("pairing settled, dropping QR code")
		return false
	}
	payload := QRPayload(ref, c.session.Keys.Public, c.session.ClientID)
	c.mu.Unlock()
	c.log.Info().Str("ref", ref).Msg("new QR code")
	c.emit(events.QRCode{Payload: payload})
	return true
}

func (c *Client) storedTokens() *domain.Tokens {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.Tokens == nil {
		return nil
	}
	t := *c.session.Tokens
	return &t
}

func (c *Client) clearTokens() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session.Tokens = nil
}

func (c *Client) closeTransport() {
	c.mu.Lock()
	tr := c.transport
	c.mu.Unlock()
	if tr != nil {
		_ = tr.Close()
	}
}
