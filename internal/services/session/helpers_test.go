package session

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"wasock/internal/crypto"
	"wasock/internal/domain"
	"wasock/internal/transport/transporttest"
)

const wait = 2 * time.Second

var (
	testEncKey = bytes.Repeat([]byte{1}, crypto.KeySize)
	testMacKey = bytes.Repeat([]byte{2}, crypto.KeySize)
)

type command struct {
	Tag    string
	Scope  string
	Action string
	Args   []json.RawMessage
}

func (c command) arg(i int) string {
	var s string
	_ = json.Unmarshal(c.Args[i], &s)
	return s
}

// isReref reports whether c is the ["admin","Conn","reref"] command.
func (c command) isReref() bool {
	return c.Action == "Conn" && len(c.Args) > 0 && c.arg(0) == "reref"
}

// script returns the JSON reply body for a command, or "" for no reply.
type script func(cmd command) string

// binaryScript returns the plaintext reply for a decrypted binary frame.
type binaryScript func(tag string, plain []byte) []byte

// fakeServer plays the server end of a pipe.
type fakeServer struct {
	pipe   *transporttest.Pipe
	script script
	binary binaryScript

	mu     sync.Mutex
	cmds   []command
	probes int
}

func startServer(pipe *transporttest.Pipe, s script) *fakeServer {
	fs := &fakeServer{pipe: pipe, script: s}
	go fs.run()
	return fs
}

func (fs *fakeServer) run() {
	for {
		select {
		case f := <-fs.pipe.Frames():
			fs.handle(f)
		case <-fs.pipe.Closed():
			return
		}
	}
}

func (fs *fakeServer) handle(f transporttest.Frame) {
	tag, body := f.Split()
	if f.Type == websocket.BinaryMessage {
		plain, err := crypto.DecryptFrame(testEncKey, testMacKey, body)
		fs.mu.Lock()
		bin := fs.binary
		fs.mu.Unlock()
		if err != nil || bin == nil {
			return
		}
		ct, err := crypto.EncryptFrame(testEncKey, testMacKey, bin(tag, plain))
		if err != nil {
			return
		}
		fs.pipe.PushBinary(append([]byte(tag+","), ct...))
		return
	}
	if f.Text() == "?,," {
		fs.mu.Lock()
		fs.probes++
		fs.mu.Unlock()
		return
	}

	var parts []json.RawMessage
	if err := json.Unmarshal(body, &parts); err != nil || len(parts) < 2 {
		return
	}
	cmd := command{Tag: tag, Args: parts[2:]}
	_ = json.Unmarshal(parts[0], &cmd.Scope)
	_ = json.Unmarshal(parts[1], &cmd.Action)

	fs.mu.Lock()
	fs.cmds = append(fs.cmds, cmd)
	s := fs.script
	fs.mu.Unlock()

	if reply := s(cmd); reply != "" {
		fs.pipe.PushText(tag + "," + reply)
	}
}

func (fs *fakeServer) setBinary(b binaryScript) {
	fs.mu.Lock()
	fs.binary = b
	fs.mu.Unlock()
}

func (fs *fakeServer) actions() []string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	out := make([]string, len(fs.cmds))
	for i, c := range fs.cmds {
		out[i] = c.Action
	}
	return out
}

func (fs *fakeServer) command(i int) command {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.cmds[i]
}

func (fs *fakeServer) probeCount() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.probes
}

func (fs *fakeServer) rerefCount() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n := 0
	for _, c := range fs.cmds {
		if c.isReref() {
			n++
		}
	}
	return n
}

func (fs *fakeServer) countOf(action string) int {
	n := 0
	for _, a := range fs.actions() {
		if a == action {
			n++
		}
	}
	return n
}

// eventLog records every event a client emits.
type eventLog struct {
	mu     sync.Mutex
	events []any
}

func (l *eventLog) handle(evt any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, evt)
}

func (l *eventLog) all() []any {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]any(nil), l.events...)
}

func eventsOf[T any](l *eventLog) []T {
	var out []T
	for _, e := range l.all() {
		if v, ok := e.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

// memConnStore is an in-memory domain.ConnStore.
type memConnStore struct {
	mu    sync.Mutex
	saved []domain.ConnInfo
}

func (s *memConnStore) SaveConn(info domain.ConnInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, info)
	return nil
}

func (s *memConnStore) LatestConn() (domain.ConnInfo, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.saved) == 0 {
		return domain.ConnInfo{}, false, nil
	}
	return s.saved[len(s.saved)-1], true, nil
}

func (s *memConnStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

var _ domain.ConnStore = (*memConnStore)(nil)

func freshSession(t *testing.T) domain.SessionConfig {
	t.Helper()
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	return domain.SessionConfig{ClientID: "Y2xpZW50LWlkLTEyMzQ1Ng==", Keys: kp}
}

func pairedSession(t *testing.T) domain.SessionConfig {
	t.Helper()
	sess := freshSession(t)
	sess.EncKey = testEncKey
	sess.MacKey = testMacKey
	sess.Tokens = &domain.Tokens{Client: "ct", Server: "st", Browser: "bt"}
	return sess
}

type harness struct {
	client *Client
	pipe   *transporttest.Pipe
	server *fakeServer
	clock  *clock.Mock
	events *eventLog
	store  *memConnStore
}

func newHarness(t *testing.T, sess domain.SessionConfig, s script) *harness {
	t.Helper()
	pipe := transporttest.NewPipe()
	h := &harness{
		pipe:   pipe,
		clock:  clock.NewMock(),
		events: &eventLog{},
		store:  &memConnStore{},
	}
	h.server = startServer(pipe, s)
	cfg := DefaultConfig()
	cfg.Endpoint = "wss://example.test/ws"
	h.client = New(cfg, sess, Deps{Store: h.store, Dialer: pipe.Dialer(), Clock: h.clock})
	h.client.AddEventHandler(h.events.handle)
	t.Cleanup(func() {
		_ = h.client.Close()
		pipe.Close()
	})
	return h
}

type outcome struct {
	cfg domain.SessionConfig
	err error
}

func (h *harness) connectAsync() <-chan outcome {
	ch := make(chan outcome, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		cfg, err := h.client.Connect(ctx)
		ch <- outcome{cfg, err}
	}()
	return ch
}

func awaitOutcome(t *testing.T, ch <-chan outcome) outcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(wait):
		t.Fatal("connect did not return")
		return outcome{}
	}
}

func (h *harness) qrTimer() *clock.Timer {
	h.client.mu.Lock()
	defer h.client.mu.Unlock()
	return h.client.qrTimer
}

// connPush builds a server Conn push frame.
func connPush(t *testing.T, secret string) string {
	t.Helper()
	body := map[string]any{
		"ref":          "R1",
		"wid":          "15550001111@c.us",
		"connected":    true,
		"pushname":     "tester",
		"clientToken":  "ct2",
		"serverToken":  "st2",
		"browserToken": "bt2",
	}
	if secret != "" {
		body["secret"] = secret
	}
	raw, err := json.Marshal([]any{"Conn", body})
	require.NoError(t, err)
	return "s1," + string(raw)
}

func ok200(ref string) string {
	return `{"status":200,"ref":"` + ref + `"}`
}
