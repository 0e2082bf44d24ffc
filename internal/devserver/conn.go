package devserver

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"wasock/internal/crypto"
	"wasock/internal/domain"
	"wasock/internal/protocol/node"
)

const (
	probeFrame = "?,,"
	// optionsSize is the length of the metric and flag bytes that may prefix
	// an encrypted node.
	optionsSize = 2
)

type status struct {
	Status int    `json:"status"`
	Ref    string `json:"ref,omitempty"`
	TTL    int64  `json:"ttl,omitempty"`
	TOS    int    `json:"tos,omitempty"`
}

// conn is one websocket client.
type conn struct {
	srv    *Server
	ws     *websocket.Conn
	logger zerolog.Logger

	writeMu sync.Mutex

	mu        sync.Mutex
	clientID  domain.ClientID
	refs      int
	rerefs    int
	acct      *account
	challenge []byte
	pushSeq   int
}

func (c *conn) id() domain.ClientID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

func (c *conn) serve() {
	defer c.ws.Close()
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug().Err(err).Msg("read ended")
			}
			return
		}
		if mt == websocket.BinaryMessage {
			c.handleBinary(data)
			continue
		}
		if string(data) == probeFrame {
			_ = c.write(websocket.TextMessage, []byte("!"+strconv.FormatInt(c.srv.clock.Now().Unix(), 10)))
			continue
		}
		c.handleText(data)
	}
}

func (c *conn) handleText(data []byte) {
	tag, body, ok := bytes.Cut(data, []byte(","))
	if !ok {
		c.logger.Warn().Bytes("frame", data).Msg("frame without tag")
		return
	}
	var parts []json.RawMessage
	if err := json.Unmarshal(body, &parts); err != nil || len(parts) < 2 {
		c.logger.Warn().Str("tag", string(tag)).Msg("frame is not a command")
		return
	}
	var scope, action string
	_ = json.Unmarshal(parts[0], &scope)
	_ = json.Unmarshal(parts[1], &action)
	args := parts[2:]
	c.logger.Debug().Str("tag", string(tag)).Str("scope", scope).Str("action", action).Msg("command")

	if scope != "admin" {
		_ = c.reply(string(tag), status{Status: 404})
		return
	}
	switch action {
	case "init":
		c.handleInit(string(tag), args)
	case "Conn":
		c.handleReref(string(tag), args)
	case "login":
		c.handleLogin(string(tag), args)
	case "challenge":
		c.handleChallenge(string(tag), args)
	default:
		_ = c.reply(string(tag), status{Status: 404})
	}
}

// init: [version, [name, platform, arch], clientId, true]
func (c *conn) handleInit(tag string, args []json.RawMessage) {
	var clientID string
	if len(args) < 3 || json.Unmarshal(args[2], &clientID) != nil || clientID == "" {
		_ = c.reply(tag, status{Status: 400})
		return
	}
	c.mu.Lock()
	c.clientID = domain.ClientID(clientID)
	c.refs = 1
	c.mu.Unlock()

	ref := c.srv.issueRef(c)
	_ = c.reply(tag, status{Status: 200, Ref: ref, TTL: c.srv.cfg.RefTTL.Milliseconds()})
}

func (c *conn) handleReref(tag string, args []json.RawMessage) {
	var sub string
	if len(args) < 1 || json.Unmarshal(args[0], &sub) != nil || sub != "reref" {
		_ = c.reply(tag, status{Status: 400})
		return
	}

	c.mu.Lock()
	code := 0
	if c.rerefs < len(c.srv.cfg.RerefStatuses) {
		code = c.srv.cfg.RerefStatuses[c.rerefs]
	}
	c.rerefs++
	if code == 0 {
		code = 200
		if c.refs >= c.srv.cfg.MaxRefs {
			code = 429
		}
	}
	if code == 200 {
		c.refs++
	}
	c.mu.Unlock()

	if code != 200 {
		_ = c.reply(tag, status{Status: code})
		return
	}
	ref := c.srv.issueRef(c)
	_ = c.reply(tag, status{Status: 200, Ref: ref, TTL: c.srv.cfg.RefTTL.Milliseconds()})
}

// login: [clientToken, serverToken, clientId, "takeover"]
func (c *conn) handleLogin(tag string, args []json.RawMessage) {
	var clientToken, serverToken, clientID string
	if len(args) < 3 ||
		json.Unmarshal(args[0], &clientToken) != nil ||
		json.Unmarshal(args[1], &serverToken) != nil ||
		json.Unmarshal(args[2], &clientID) != nil {
		_ = c.reply(tag, status{Status: 400})
		return
	}

	if forced := c.srv.cfg.LoginStatus; forced != 0 && forced != 200 {
		_ = c.reply(tag, status{Status: forced, TOS: c.srv.cfg.LoginTOS})
		return
	}

	acct, ok := c.srv.account(domain.ClientID(clientID))
	if !ok || acct.tokens.Client != clientToken || acct.tokens.Server != serverToken {
		_ = c.reply(tag, status{Status: 401})
		return
	}
	if err := c.reply(tag, status{Status: 200}); err != nil {
		return
	}
	c.srv.logins.Add(1)

	c.srv.mu.Lock()
	acct.tokens = newTokens()
	c.srv.mu.Unlock()

	c.mu.Lock()
	c.clientID = acct.clientID
	c.acct = acct
	c.mu.Unlock()

	if err := c.pushConn(acct, ""); err != nil {
		return
	}
	if c.srv.cfg.Challenge {
		c.sendChallenge()
	}
}

func (c *conn) sendChallenge() {
	data := make([]byte, 32)
	if _, err := rand.Read(data); err != nil {
		return
	}
	c.mu.Lock()
	c.challenge = data
	c.mu.Unlock()
	_ = c.push("Cmd", map[string]string{"type": "challenge", "challenge": crypto.B64(data)})
}

// challenge: [base64(sig|challenge), serverToken, clientId]
func (c *conn) handleChallenge(tag string, args []json.RawMessage) {
	var signedB64 string
	if len(args) < 1 || json.Unmarshal(args[0], &signedB64) != nil {
		_ = c.reply(tag, status{Status: 400})
		return
	}
	signed, err := crypto.UnB64(signedB64)

	c.mu.Lock()
	want, acct := c.challenge, c.acct
	c.challenge = nil
	c.mu.Unlock()

	if err != nil || acct == nil || want == nil || len(signed) < 32 {
		_ = c.reply(tag, status{Status: 400})
		return
	}
	sig, data := signed[:32], signed[32:]
	if !bytes.Equal(data, want) || !hmac.Equal(sig, crypto.SignChallenge(acct.macKey, data)) {
		c.logger.Warn().Msg("challenge failed")
		_ = c.reply(tag, status{Status: 401})
		return
	}
	c.srv.challenges.Add(1)
	_ = c.reply(tag, status{Status: 200})
}

// handleBinary acknowledges an encrypted node, echoing its epoch.
func (c *conn) handleBinary(data []byte) {
	tag, body, ok := bytes.Cut(data, []byte(","))
	if !ok {
		return
	}
	c.mu.Lock()
	acct := c.acct
	c.mu.Unlock()
	if acct == nil {
		c.logger.Warn().Msg("binary frame before keys")
		return
	}

	plain, err := crypto.DecryptFrame(acct.encKey, acct.macKey, body)
	if err != nil && len(body) > optionsSize {
		plain, err = crypto.DecryptFrame(acct.encKey, acct.macKey, body[optionsSize:])
	}
	if err != nil {
		c.logger.Warn().Err(err).Msg("undecryptable binary frame")
		return
	}
	var codec node.CBORCodec
	n, err := codec.Decode(plain)
	if err != nil {
		c.logger.Warn().Err(err).Msg("undecodable node")
		return
	}
	c.logger.Debug().Str("tag", string(tag)).Str("node", n.Tag).Msg("binary node")

	attrs := map[string]string{"type": "ack", "for": n.Tag}
	if e, ok := n.Attr("epoch"); ok {
		attrs["epoch"] = e
	}
	out, err := codec.Encode(node.New("ack", attrs, nil))
	if err != nil {
		return
	}
	ct, err := crypto.EncryptFrame(acct.encKey, acct.macKey, out)
	if err != nil {
		return
	}
	frame := make([]byte, 0, len(tag)+1+len(ct))
	frame = append(frame, tag...)
	frame = append(frame, ',')
	_ = c.write(websocket.BinaryMessage, append(frame, ct...))
}

// paired completes a scan on this connection.
func (c *conn) paired(acct *account, secret string) error {
	c.mu.Lock()
	c.acct = acct
	c.mu.Unlock()
	return c.pushConn(acct, secret)
}

func (c *conn) pushConn(acct *account, secret string) error {
	c.srv.mu.Lock()
	tokens := acct.tokens
	c.srv.mu.Unlock()

	body := domain.ConnInfo{
		Ref:          uuid.NewString(),
		Wid:          c.srv.cfg.Wid,
		Connected:    true,
		Pushname:     "devserver",
		Platform:     "dev",
		Secret:       secret,
		ClientToken:  tokens.Client,
		ServerToken:  tokens.Server,
		BrowserToken: tokens.Browser,
	}
	return c.push("Conn", body)
}

func (c *conn) push(cmd string, payload any) error {
	c.mu.Lock()
	c.pushSeq++
	tag := "s" + strconv.Itoa(c.pushSeq)
	c.mu.Unlock()

	raw, err := json.Marshal([]any{cmd, payload})
	if err != nil {
		return err
	}
	return c.write(websocket.TextMessage, append([]byte(tag+","), raw...))
}

func (c *conn) reply(tag string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("devserver: encode reply: %w", err)
	}
	return c.write(websocket.TextMessage, append([]byte(tag+","), raw...))
}

func (c *conn) write(mt int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteMessage(mt, data); err != nil {
		c.logger.Debug().Err(err).Msg("write failed")
		return err
	}
	return nil
}
