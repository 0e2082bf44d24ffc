package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"wasock/internal/crypto"
	"wasock/internal/domain"
	"wasock/internal/events"
	"wasock/internal/metrics"
	"wasock/internal/protocol/epoch"
	"wasock/internal/protocol/node"
	"wasock/internal/transport"
	"wasock/internal/watchdog"
)

const (
	DefaultEndpoint   = "wss://web.whatsapp.com/ws"
	DefaultOrigin     = "https://web.whatsapp.com"
	DefaultClientName = "wasock"

	DefaultQRTTL           = 20 * time.Second
	DefaultQRRetryInterval = 3 * time.Second
)

// DefaultVersion is the web client version announced in init.
var DefaultVersion = [3]int{2, 2121, 6}

// Config holds the connection parameters of a Client.
type Config struct {
	Endpoint   string
	Origin     string
	ClientName string
	Version    [3]int
	Platform   string
	Arch       string

	Watchdog        watchdog.Config
	QRTTL           time.Duration
	QRRetryInterval time.Duration
}

// DefaultConfig returns a Config for the public endpoint.
func DefaultConfig() Config {
	return Config{
		Endpoint:        DefaultEndpoint,
		Origin:          DefaultOrigin,
		ClientName:      DefaultClientName,
		Version:         DefaultVersion,
		Platform:        runtime.GOOS,
		Arch:            runtime.GOARCH,
		Watchdog:        watchdog.Config{Interval: watchdog.DefaultInterval, Threshold: watchdog.DefaultThreshold},
		QRTTL:           DefaultQRTTL,
		QRRetryInterval: DefaultQRRetryInterval,
	}
}

// Deps are the collaborators of a Client. Nil fields take defaults; a nil
// Store skips Conn persistence.
type Deps struct {
	Store  domain.ConnStore
	Cipher domain.FrameCipher
	Codec  domain.NodeCodec
	Dialer transport.Dialer
	Clock  clock.Clock
	Logger *zerolog.Logger
}

type result struct {
	cfg domain.SessionConfig
	err error
}

// Client is one logical session over one transport.
type Client struct {
	cfg    Config
	store  domain.ConnStore
	cipher domain.FrameCipher
	codec  domain.NodeCodec
	dialer transport.Dialer
	clock  clock.Clock
	log    zerolog.Logger

	emitter events.Emitter
	epoch   *epoch.Sequencer

	lifetime context.Context
	cancel   context.CancelFunc

	mu         sync.Mutex
	state      State
	failure    error
	session    domain.SessionConfig
	serverData map[string]json.RawMessage
	transport  *transport.Transport
	qrTimer    *clock.Timer
	ready      chan result
}

// New returns an idle Client for sess. The Client keeps its own copy of sess.
func New(cfg Config, sess domain.SessionConfig, deps Deps) *Client {
	def := DefaultConfig()
	if cfg.Endpoint == "" {
		cfg.Endpoint = def.Endpoint
	}
	if cfg.ClientName == "" {
		cfg.ClientName = def.ClientName
	}
	if cfg.Version == [3]int{} {
		cfg.Version = def.Version
	}
	if cfg.Platform == "" {
		cfg.Platform = def.Platform
	}
	if cfg.Arch == "" {
		cfg.Arch = def.Arch
	}
	if cfg.QRTTL <= 0 {
		cfg.QRTTL = def.QRTTL
	}
	if cfg.QRRetryInterval <= 0 {
		cfg.QRRetryInterval = def.QRRetryInterval
	}

	logger := zerolog.Nop()
	if deps.Logger != nil {
		logger = *deps.Logger
	}
	logger = logger.With().Str("component", "session").Str("client_id", sess.ClientID.String()).Logger()

	c := &Client{
		cfg:        cfg,
		store:      deps.Store,
		cipher:     deps.Cipher,
		codec:      deps.Codec,
		dialer:     deps.Dialer,
		clock:      deps.Clock,
		log:        logger,
		epoch:      epoch.New(logger.With().Str("component", "epoch").Logger()),
		session:    sess.Clone(),
		serverData: make(map[string]json.RawMessage),
	}
	if c.cipher == nil {
		c.cipher = crypto.Cipher{}
	}
	if c.codec == nil {
		c.codec = node.CBORCodec{}
	}
	if c.clock == nil {
		c.clock = clock.New()
	}
	c.lifetime, c.cancel = context.WithCancel(context.Background())
	return c
}

// Connect runs the handshake and blocks until it settles. On success it
// returns the session configuration to persist. If ctx ends first the session
// fails and its transport is closed.
func (c *Client) Connect(ctx context.Context) (domain.SessionConfig, error) {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return domain.SessionConfig{}, ErrAlreadyStarted
	}
	c.state = StateConnecting
	ready := make(chan result, 1)
	c.ready = ready
	opts := []transport.Option{
		transport.WithClock(c.clock),
		transport.WithLogger(c.log.With().Str("component", "transport").Logger()),
		transport.WithCipher(c.cipher),
		transport.WithCodec(c.codec),
		transport.WithKeys(c.frameKeys),
	}
	if c.dialer != nil {
		opts = append(opts, transport.WithDialer(c.dialer))
	}
	tr := transport.New(transport.Config{Watchdog: c.cfg.Watchdog}, handler{c}, opts...)
	c.transport = tr
	c.mu.Unlock()

	if err := tr.Connect(ctx, c.cfg.Endpoint, c.cfg.Origin); err != nil {
		c.finish(err)
		metrics.RecordHandshake("connect_error")
		return domain.SessionConfig{}, fmt.Errorf("session: %w", err)
	}

	hsCtx, hsCancel := context.WithCancel(c.lifetime)
	defer hsCancel()
	go c.handshake(hsCtx)

	select {
	case res := <-ready:
		if res.err != nil {
			metrics.RecordHandshake("failed")
			return domain.SessionConfig{}, res.err
		}
		metrics.RecordHandshake("ready")
		return res.cfg, nil
	case <-ctx.Done():
		c.finish(ctx.Err())
		c.closeTransport()
		metrics.RecordHandshake("aborted")
		return domain.SessionConfig{}, ctx.Err()
	}
}

// SignalReady tells the session the application finished its startup work.
// It arms the liveness watchdog.
func (c *Client) SignalReady() {
	c.mu.Lock()
	tr := c.transport
	c.mu.Unlock()
	if tr != nil {
		tr.ArmWatchdog()
	}
}

// Close closes the transport and moves to Closed. A pending Connect returns
// ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosed
	c.stopQRTimerLocked()
	tr := c.transport
	c.mu.Unlock()

	c.cancel()
	c.finish(ErrClosed)
	if tr != nil {
		return tr.Close()
	}
	return nil
}

// State returns the current handshake phase.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the reason the handshake failed, if it did.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failure
}

// Session returns a copy of the current session configuration.
func (c *Client) Session() domain.SessionConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.Clone()
}

// ServerData returns the latest payload of a server message type.
func (c *Client) ServerData(cmd string) (json.RawMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.serverData[cmd]
	return bytes.Clone(v), ok
}

// AddEventHandler registers fn for session events and returns its id.
func (c *Client) AddEventHandler(fn events.Handler) uint32 { return c.emitter.Add(fn) }

// RemoveEventHandler unregisters the handler with id.
func (c *Client) RemoveEventHandler(id uint32) bool { return c.emitter.Remove(id) }

// SendCommand sends a JSON command over the session's transport.
func (c *Client) SendCommand(ctx context.Context, scope, action string, args ...any) (transport.Payload, error) {
	tr, err := c.activeTransport()
	if err != nil {
		return transport.Payload{}, err
	}
	return tr.SendCommand(ctx, scope, action, args...)
}

func (c *Client) activeTransport() (*transport.Transport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.transport == nil || c.state == StateClosed {
		return nil, ErrClosed
	}
	return c.transport, nil
}

func (c *Client) frameKeys() ([]byte, []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.EncKey, c.session.MacKey
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.terminal() {
		return
	}
	c.log.Debug().Stringer("from", c.state).Stringer("to", s).Msg("state")
	c.state = s
}

// finish settles a pending Connect once. A non-nil err moves a live session
// to Failed.
func (c *Client) finish(err error) {
	c.mu.Lock()
	ready := c.ready
	c.ready = nil
	c.stopQRTimerLocked()
	if err != nil && !c.state.terminal() && c.state != StateReady {
		c.state = StateFailed
		c.failure = err
	}
	cfg := c.session.Clone()
	c.mu.Unlock()

	if ready == nil {
		if err != nil {
			c.log.Debug().Err(err).Msg("handshake already settled")
		}
		return
	}
	if err != nil {
		c.log.Error().Err(err).Msg("handshake failed")
		ready <- result{err: err}
		return
	}
	ready <- result{cfg: cfg}
}

func (c *Client) stopQRTimerLocked() {
	if c.qrTimer != nil {
		c.qrTimer.Stop()
		c.qrTimer = nil
	}
}

func (c *Client) emit(evt any) { c.emitter.Emit(evt) }
