package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"wasock/internal/domain"
	"wasock/internal/metrics"
	"wasock/internal/protocol/node"
	"wasock/internal/protocol/tag"
	"wasock/internal/watchdog"
)

var (
	ErrNotConnected     = errors.New("transport: not connected")
	ErrAlreadyConnected = errors.New("transport: already connected")
	ErrClosed           = errors.New("transport: closed")
	ErrNoKeys           = errors.New("transport: no frame keys")
	ErrDuplicateTag     = errors.New("transport: tag already pending")
)

// probeFrame is the keep-alive frame. The server does not reply to it.
const probeFrame = "?,,"

// Handler receives connection events and unsolicited frames. Calls come from
// the read loop in frame order; a panicking handler is recovered and logged.
type Handler interface {
	HandleOpen()
	HandleError(err error)
	HandleClose(err error)
	HandleTimeSkew(delta int64, p Payload)
	HandleServerMessage(cmd string, args []json.RawMessage)
	HandlePreempt(p Payload)
	HandleNode(tag string, n *node.Node)
	HandleLivenessFailure(err error)
}

// KeySource returns the current frame encryption and MAC keys.
type KeySource func() (encKey, macKey []byte)

// Config holds transport tunables.
type Config struct {
	Watchdog watchdog.Config
}

// Message is one outbound request. A nil Binary sends Text as a text frame;
// otherwise Binary is encrypted and sent as a binary frame with Options
// between the tag and the ciphertext.
type Message struct {
	Tag      string
	Hint     string
	Text     string
	Binary   []byte
	Options  []byte
	ShortTag bool

	// OnReply runs on the read loop when the reply arrives, before the waiter
	// wakes and before any later frame is dispatched.
	OnReply func(Payload)
}

// Transport is one framed websocket connection with request/reply correlation.
type Transport struct {
	handler Handler
	dialer  Dialer
	clock   clock.Clock
	logger  zerolog.Logger
	cipher  domain.FrameCipher
	codec   domain.NodeCodec
	keys    KeySource

	tags     *tag.Generator
	pending  *tag.Registry[*request]
	watchdog *watchdog.Watchdog

	mu        sync.Mutex
	sock      Socket
	closed    chan struct{}
	closeOnce sync.Once
	writeMu   sync.Mutex
	lastRecv  atomic.Int64
}

type Option func(*Transport)

func WithDialer(d Dialer) Option             { return func(t *Transport) { t.dialer = d } }
func WithClock(c clock.Clock) Option         { return func(t *Transport) { t.clock = c } }
func WithLogger(l zerolog.Logger) Option     { return func(t *Transport) { t.logger = l } }
func WithCipher(c domain.FrameCipher) Option { return func(t *Transport) { t.cipher = c } }
func WithCodec(c domain.NodeCodec) Option    { return func(t *Transport) { t.codec = c } }
func WithKeys(k KeySource) Option            { return func(t *Transport) { t.keys = k } }

// New builds an unconnected transport. The tag registry belongs to this
// transport only.
func New(cfg Config, handler Handler, opts ...Option) *Transport {
	t := &Transport{
		handler: handler,
		logger:  zerolog.Nop(),
		pending: tag.NewRegistry[*request](),
		closed:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.dialer == nil {
		t.dialer = WebsocketDialer(nil)
	}
	if t.clock == nil {
		t.clock = clock.New()
	}
	if t.codec == nil {
		t.codec = node.CBORCodec{}
	}
	t.tags = tag.NewGenerator(t.clock)
	t.watchdog = watchdog.New(cfg.Watchdog, t.clock, watchdog.Hooks{
		LastSeen:  t.LastReceived,
		Probe:     t.sendProbe,
		OnFailure: t.livenessFailed,
	}, t.logger.With().Str("component", "watchdog").Logger())
	return t
}

// Connect dials endpoint once. On failure it reports HandleError and returns
// the error; on success it starts the read loop and reports HandleOpen.
func (t *Transport) Connect(ctx context.Context, endpoint, origin string) error {
	t.mu.Lock()
	if t.sock != nil {
		t.mu.Unlock()
		return ErrAlreadyConnected
	}
	t.mu.Unlock()

	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	sock, err := t.dialer(ctx, endpoint, header)
	if err != nil {
		err = fmt.Errorf("transport: dial %s: %w", endpoint, err)
		t.logger.Error().Err(err).Msg("connect failed")
		t.safely("error", func() { t.handler.HandleError(err) })
		return err
	}

	t.mu.Lock()
	t.sock = sock
	t.mu.Unlock()
	t.lastRecv.Store(t.clock.Now().UnixNano())
	t.logger.Info().Str("endpoint", endpoint).Msg("connected")

	go t.readLoop(sock)
	t.safely("open", t.handler.HandleOpen)
	return nil
}

// Start writes msg and returns a handle on its reply. The tag is registered
// before the write; a failed write unregisters it and returns the error.
// A caller-supplied tag that is still pending is rejected with ErrDuplicateTag.
func (t *Transport) Start(msg Message) (*Pending, error) {
	sock, err := t.socket()
	if err != nil {
		return nil, err
	}

	id := msg.Tag
	if id == "" {
		if msg.ShortTag {
			id = t.tags.ShortTag()
		} else {
			id = t.tags.Tag()
		}
	}
	mt, frame, sent, err := t.encode(id, msg)
	if err != nil {
		return nil, err
	}

	req := &request{tag: id, hint: msg.Hint, sent: sent, onReply: msg.OnReply, done: make(chan Payload, 1)}
	if !t.pending.Add(id, req) {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateTag, id)
	}
	metrics.AddPending(1)

	kind := "STR"
	if mt == websocket.BinaryMessage {
		kind = "BIN"
	}
	t.logger.Debug().Str("dir", ">>").Str("tag", id).Str("kind", kind).Str("hint", msg.Hint).Int("len", len(frame)).Msg("frame")

	if err := t.write(sock, mt, frame); err != nil {
		if _, ok := t.pending.Take(id); ok {
			metrics.AddPending(-1)
		}
		return nil, fmt.Errorf("transport: write %s: %w", id, err)
	}
	metrics.RecordFrame("out", kind)
	return &Pending{Tag: id, Hint: msg.Hint, done: req.done, closed: t.closed}, nil
}

// Send writes msg and waits for its reply.
func (t *Transport) Send(ctx context.Context, msg Message) (Payload, error) {
	p, err := t.Start(msg)
	if err != nil {
		return Payload{}, err
	}
	return p.Wait(ctx)
}

// SendCommand sends the JSON array [scope, action, args...] as a text frame.
func (t *Transport) SendCommand(ctx context.Context, scope, action string, args ...any) (Payload, error) {
	msg, err := CommandMessage(scope, action, args...)
	if err != nil {
		return Payload{}, err
	}
	return t.Send(ctx, msg)
}

// CommandMessage builds the text message for a command without sending it.
func CommandMessage(scope, action string, args ...any) (Message, error) {
	body, err := json.Marshal(append([]any{scope, action}, args...))
	if err != nil {
		return Message{}, fmt.Errorf("transport: encode %s,%s: %w", scope, action, err)
	}
	return Message{Text: string(body), Hint: scope + "," + action}, nil
}

// NodeMessage encodes n with the codec into a binary message. An empty tag
// gets a short tag at send time.
func (t *Transport) NodeMessage(n *node.Node, id string, options []byte) (Message, error) {
	data, err := t.codec.Encode(n)
	if err != nil {
		return Message{}, fmt.Errorf("transport: encode node %q: %w", n.Tag, err)
	}
	return Message{Tag: id, Hint: "node:" + n.Tag, Binary: data, Options: options, ShortTag: true}, nil
}

// SendNode encodes and sends n and waits for the reply.
func (t *Transport) SendNode(ctx context.Context, n *node.Node, id string, options []byte) (Payload, error) {
	msg, err := t.NodeMessage(n, id, options)
	if err != nil {
		return Payload{}, err
	}
	return t.Send(ctx, msg)
}

// SendBin sends n in its JSON array form over the encrypted binary channel
// with a short tag.
func (t *Transport) SendBin(ctx context.Context, n *node.Node, hint string) (Payload, error) {
	data, err := json.Marshal(n)
	if err != nil {
		return Payload{}, fmt.Errorf("transport: encode node %q: %w", n.Tag, err)
	}
	return t.Send(ctx, Message{Hint: hint, Binary: data, ShortTag: true})
}

// ArmWatchdog starts liveness probing.
func (t *Transport) ArmWatchdog() { t.watchdog.Arm() }

// DisarmWatchdog stops liveness probing.
func (t *Transport) DisarmWatchdog() { t.watchdog.Disarm() }

// WatchdogArmed reports whether liveness probing is active.
func (t *Transport) WatchdogArmed() bool { return t.watchdog.Armed() }

// LastReceived is the arrival time of the latest inbound frame, or the
// connect time before any frame arrived.
func (t *Transport) LastReceived() time.Time {
	return time.Unix(0, t.lastRecv.Load())
}

// PendingCount reports how many requests await a reply.
func (t *Transport) PendingCount() int { return t.pending.Len() }

// Done is closed once the transport has closed.
func (t *Transport) Done() <-chan struct{} { return t.closed }

// Close closes an open connection. It is a no-op before Connect and after
// the first close.
func (t *Transport) Close() error {
	t.mu.Lock()
	sock := t.sock
	t.mu.Unlock()
	if sock == nil {
		return nil
	}
	return t.shutdown(sock, nil)
}

func (t *Transport) shutdown(sock Socket, cause error) error {
	var err error
	t.closeOnce.Do(func() {
		t.watchdog.Disarm()
		close(t.closed)
		err = sock.Close()
		if cause != nil {
			t.logger.Warn().Err(cause).Msg("connection closed")
		} else {
			t.logger.Info().Msg("connection closed")
		}
		t.safely("close", func() { t.handler.HandleClose(cause) })
	})
	return err
}

func (t *Transport) socket() (Socket, error) {
	select {
	case <-t.closed:
		return nil, ErrClosed
	default:
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sock == nil {
		return nil, ErrNotConnected
	}
	return t.sock, nil
}

func (t *Transport) encode(id string, msg Message) (mt int, frame, sent []byte, err error) {
	if msg.Binary == nil {
		frame = []byte(id + "," + msg.Text)
		return websocket.TextMessage, frame, []byte(msg.Text), nil
	}
	if t.cipher == nil || t.keys == nil {
		return 0, nil, nil, ErrNoKeys
	}
	encKey, macKey := t.keys()
	if len(encKey) == 0 || len(macKey) == 0 {
		return 0, nil, nil, ErrNoKeys
	}
	ct, err := t.cipher.EncryptFrame(encKey, macKey, msg.Binary)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("transport: encrypt %s: %w", id, err)
	}
	frame = make([]byte, 0, len(id)+1+len(msg.Options)+len(ct))
	frame = append(frame, id...)
	frame = append(frame, ',')
	frame = append(frame, msg.Options...)
	frame = append(frame, ct...)
	return websocket.BinaryMessage, frame, ct, nil
}

func (t *Transport) write(sock Socket, mt int, data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return sock.WriteMessage(mt, data)
}

func (t *Transport) sendProbe() error {
	sock, err := t.socket()
	if err != nil {
		return err
	}
	if err := t.write(sock, websocket.TextMessage, []byte(probeFrame)); err != nil {
		return err
	}
	metrics.RecordFrame("out", "probe")
	t.logger.Debug().Str("dir", ">>").Str("frame", probeFrame).Msg("watchdog")
	return nil
}

func (t *Transport) livenessFailed(err error) {
	t.safely("liveness", func() { t.handler.HandleLivenessFailure(err) })
}

// safely runs a handler callback, recovering and logging a panic.
func (t *Transport) safely(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error().Interface("panic", r).Str("handler", what).Msg("handler panicked")
		}
	}()
	fn()
}
