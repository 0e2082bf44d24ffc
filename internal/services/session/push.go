package session

import (
	"bytes"
	"encoding/json"
	"fmt"

	"wasock/internal/crypto"
	"wasock/internal/domain"
	"wasock/internal/events"
	"wasock/internal/protocol/node"
	"wasock/internal/transport"
)

// handler adapts the Client to transport.Handler without widening its API.
type handler struct{ c *Client }

var _ transport.Handler = handler{}

func (h handler) HandleOpen() {
	h.c.emit(events.Open{})
}

func (h handler) HandleError(err error) {
	if h.c.State() == StateConnecting {
		h.c.emit(events.ConnectFailure{Err: err})
		return
	}
	h.c.emit(events.TransportError{Err: err})
	h.c.finish(fmt.Errorf("session: transport: %w", err))
}

func (h handler) HandleClose(err error) {
	c := h.c
	c.mu.Lock()
	c.state = StateClosed
	c.stopQRTimerLocked()
	c.mu.Unlock()
	c.cancel()
	if err != nil {
		c.finish(fmt.Errorf("%w: %v", ErrClosed, err))
	} else {
		c.finish(ErrClosed)
	}
	c.emit(events.Closed{Err: err})
}

func (h handler) HandleTimeSkew(delta int64, p transport.Payload) {
	h.c.emit(events.TimeSkew{Delta: delta, Payload: p.JSON})
}

func (h handler) HandleServerMessage(cmd string, args []json.RawMessage) {
	h.c.handleServerMessage(cmd, args)
}

func (h handler) HandlePreempt(p transport.Payload) {
	h.c.emit(events.Preempt{Payload: p.JSON})
}

func (h handler) HandleNode(tag string, n *node.Node) {
	h.c.emit(events.Node{Tag: tag, Node: n})
}

func (h handler) HandleLivenessFailure(err error) {
	h.c.log.Error().Err(err).Msg("keep-alive failed, closing")
	h.c.emit(events.KeepAliveTimeout{Err: err})
	_ = h.c.Close()
}

type serverCmd struct {
	Type      string `json:"type"`
	Kind      string `json:"kind"`
	Challenge string `json:"challenge"`
}

func (c *Client) handleServerMessage(cmd string, args []json.RawMessage) {
	c.emit(events.ServerMessage{Type: cmd, Args: args})

	var first json.RawMessage
	if len(args) > 0 {
		first = args[0]
	}
	switch cmd {
	case "Stream":
		c.emit(events.Stream{Payload: first})
	case "Props":
		c.emit(events.Props{Payload: first})
	case "Blocklist":
		c.emit(events.Blocklist{Payload: first})
	case "Presence":
		c.emit(events.Presence{Payload: first})
	case "Msg":
		c.emit(events.Msg{Payload: first})
	case "Cmd":
		c.handleCmd(first)
	case "Conn":
		c.remember(cmd, first)
		c.handleConn(first)
	default:
		c.remember(cmd, first)
		c.log.Debug().Str("cmd", cmd).Msg("unhandled server message")
	}
}

func (c *Client) remember(cmd string, payload json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.serverData[cmd] = bytes.Clone(payload)
}

func (c *Client) handleCmd(raw json.RawMessage) {
	var cmd serverCmd
	if err := json.Unmarshal(raw, &cmd); err != nil {
		c.log.Warn().Err(err).Msg("malformed Cmd push")
		return
	}
	switch cmd.Type {
	case "disconnect":
		c.log.Warn().Str("kind", cmd.Kind).Msg("server disconnect")
		c.emit(events.Disconnected{Kind: cmd.Kind})
		if cmd.Kind == "replaced" {
			c.emit(events.Replaced{})
		}
	case "challenge":
		c.answerChallenge(cmd.Challenge)
	default:
		c.log.Debug().Str("type", cmd.Type).Msg("unhandled Cmd")
	}
}

// answerChallenge replies with base64(hmac(mac, challenge) | challenge). The
// reply is sent off the read loop since its own reply arrives on it.
func (c *Client) answerChallenge(challenge string) {
	data, err := crypto.UnB64(challenge)
	if err != nil {
		c.log.Warn().Err(err).Msg("challenge is not base64")
		return
	}

	c.mu.Lock()
	macKey := bytes.Clone(c.session.MacKey)
	clientID := c.session.ClientID.String()
	var serverToken string
	if c.session.Tokens != nil {
		serverToken = c.session.Tokens.Server
	}
	c.mu.Unlock()

	if len(macKey) == 0 {
		c.log.Warn().Msg("challenge before mac key is known, ignoring")
		return
	}
	signed := append(c.cipher.SignChallenge(macKey, data), data...)

	tr, err := c.activeTransport()
	if err != nil {
		return
	}
	go func() {
		p, err := tr.SendCommand(c.lifetime, "admin", "challenge", crypto.B64(signed), serverToken, clientID)
		if err != nil {
			c.log.Warn().Err(err).Msg("challenge reply failed")
			return
		}
		c.log.Info().RawJSON("reply", p.JSON).Msg("challenge answered")
	}()
}

// handleConn completes the handshake when one is pending. A Conn with no
// pending handshake is only persisted.
func (c *Client) handleConn(raw json.RawMessage) {
	info, err := domain.ParseConnInfo(raw)
	if err != nil {
		c.log.Warn().Err(err).Msg("malformed Conn push")
		return
	}

	c.mu.Lock()
	if c.ready == nil {
		c.mu.Unlock()
		c.log.Info().Msg("Conn with no pending handshake, persisting only")
		c.persistConn(info)
		return
	}

	if info.Secret != "" {
		secret, err := crypto.UnB64(info.Secret)
		if err != nil {
			c.mu.Unlock()
			c.finish(fmt.Errorf("%w: secret: %v", ErrNoEncryptionKeys, err))
			return
		}
		encKey, macKey, err := c.cipher.DeriveEncryptionKeys(secret, c.session.Keys.Private)
		if err != nil {
			c.mu.Unlock()
			c.finish(fmt.Errorf("%w: %v", ErrNoEncryptionKeys, err))
			return
		}
		c.session.ServerSecret = secret
		c.session.EncKey = encKey
		c.session.MacKey = macKey
	}
	if !c.session.HasKeys() {
		c.mu.Unlock()
		c.finish(ErrNoEncryptionKeys)
		return
	}

	c.session.Tokens = &domain.Tokens{
		Client:  info.ClientToken,
		Server:  info.ServerToken,
		Browser: info.BrowserToken,
	}
	c.state = StateReady
	c.mu.Unlock()

	c.persistConn(info)
	c.log.Info().Str("wid", info.Wid).Msg("session ready")
	c.emit(events.Conn{Raw: info.Raw})
	c.finish(nil)
}

func (c *Client) persistConn(info domain.ConnInfo) {
	if c.store == nil {
		return
	}
	if err := c.store.SaveConn(info); err != nil {
		c.log.Error().Err(err).Msg("persist Conn")
	}
}
