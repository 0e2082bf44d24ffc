package transport_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wasock/internal/crypto"
	"wasock/internal/protocol/node"
	"wasock/internal/protocol/tag"
	"wasock/internal/transport"
	"wasock/internal/transport/transporttest"
	"wasock/internal/watchdog"
)

const wait = time.Second

var (
	encKey = bytes.Repeat([]byte{1}, crypto.KeySize)
	macKey = bytes.Repeat([]byte{2}, crypto.KeySize)
)

type serverMsg struct {
	cmd  string
	args []json.RawMessage
}

// recorder is a transport.Handler that keeps everything it is told.
type recorder struct {
	mu       sync.Mutex
	order    []string
	opens    int
	closes   int
	closeErr error
	errs     []error
	skews    []int64
	msgs     []serverMsg
	preempts []transport.Payload
	nodes    []*node.Node
	liveness []error
}

func (r *recorder) add(s string) { r.order = append(r.order, s) }

func (r *recorder) HandleOpen() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opens++
	r.add("open")
}

func (r *recorder) HandleError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
	r.add("error")
}

func (r *recorder) HandleClose(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closes++
	r.closeErr = err
	r.add("close")
}

func (r *recorder) HandleTimeSkew(delta int64, p transport.Payload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skews = append(r.skews, delta)
	r.add("timeskew")
}

func (r *recorder) HandleServerMessage(cmd string, args []json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cmd == "Panic" {
		panic("handler blew up")
	}
	r.msgs = append(r.msgs, serverMsg{cmd, args})
	r.add("server:" + cmd)
}

func (r *recorder) HandlePreempt(p transport.Payload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.preempts = append(r.preempts, p)
	r.add("preempt")
}

func (r *recorder) HandleNode(tag string, n *node.Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes = append(r.nodes, n)
	r.add("node:" + n.Tag)
}

func (r *recorder) HandleLivenessFailure(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.liveness = append(r.liveness, err)
	r.add("liveness")
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

func (r *recorder) has(s string) func() bool {
	return func() bool {
		for _, v := range r.snapshot() {
			if v == s {
				return true
			}
		}
		return false
	}
}

func setup(t *testing.T, opts ...transport.Option) (*transport.Transport, *transporttest.Pipe, *recorder) {
	t.Helper()
	pipe := transporttest.NewPipe()
	rec := &recorder{}
	opts = append([]transport.Option{
		transport.WithDialer(pipe.Dialer()),
		transport.WithLogger(zerolog.Nop()),
		transport.WithCipher(crypto.Cipher{}),
		transport.WithKeys(func() ([]byte, []byte) { return encKey, macKey }),
	}, opts...)
	tr := transport.New(transport.Config{}, rec, opts...)
	require.NoError(t, tr.Connect(context.Background(), "wss://example.test/ws", "https://example.test"))
	t.Cleanup(func() { _ = tr.Close() })
	return tr, pipe, rec
}

func TestConnect_OpenAndOrigin(t *testing.T) {
	tr, pipe, rec := setup(t)
	assert.Equal(t, "https://example.test", pipe.Header().Get("Origin"))
	assert.Equal(t, "wss://example.test/ws", pipe.URL())
	assert.Equal(t, 1, rec.opens)
	assert.ErrorIs(t, tr.Connect(context.Background(), "wss://example.test/ws", ""), transport.ErrAlreadyConnected)
}

func TestConnect_DialFailureReportsError(t *testing.T) {
	pipe := transporttest.NewPipe()
	pipe.FailDial(errors.New("refused"))
	rec := &recorder{}
	tr := transport.New(transport.Config{}, rec, transport.WithDialer(pipe.Dialer()))

	err := tr.Connect(context.Background(), "wss://example.test/ws", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refused")
	assert.Equal(t, []string{"error"}, rec.snapshot())

	_, err = tr.Start(transport.Message{Text: "x"})
	assert.ErrorIs(t, err, transport.ErrNotConnected)
}

func TestSend_RepliesResolveOnlyTheirTag(t *testing.T) {
	tr, pipe, _ := setup(t)

	first, err := tr.Start(transport.Message{Text: `["admin","test"]`, Hint: "first"})
	require.NoError(t, err)
	second, err := tr.Start(transport.Message{Text: `["admin","test"]`, Hint: "second"})
	require.NoError(t, err)
	require.NotEqual(t, first.Tag, second.Tag)
	assert.Equal(t, 2, tr.PendingCount())

	f, err := pipe.Next(wait)
	require.NoError(t, err)
	assert.Equal(t, first.Tag+`,["admin","test"]`, f.Text())
	assert.Equal(t, websocket.TextMessage, f.Type)
	_, err = pipe.Next(wait)
	require.NoError(t, err)

	pipe.PushText(second.Tag + `,{"status":2}`)
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	got, err := second.Wait(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":2}`, string(got.JSON))

	short, cancelShort := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancelShort()
	_, err = first.Wait(short)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, tr.PendingCount(), "abandoned wait keeps its entry")

	pipe.PushText(first.Tag + `,{"status":1}`)
	got, err = first.Wait(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":1}`, string(got.JSON))
	assert.Equal(t, 0, tr.PendingCount())
}

func TestStart_DuplicateTagRejected(t *testing.T) {
	tr, pipe, _ := setup(t)

	first, err := tr.Start(transport.Message{Tag: "login", Text: `["admin","login"]`})
	require.NoError(t, err)
	_, err = pipe.Next(wait)
	require.NoError(t, err)

	_, err = tr.Start(transport.Message{Tag: "login", Text: `["admin","login"]`})
	assert.ErrorIs(t, err, transport.ErrDuplicateTag)
	assert.Equal(t, 1, tr.PendingCount())

	pipe.PushText(`login,{"status":200}`)
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	got, err := first.Wait(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":200}`, string(got.JSON))
	assert.Equal(t, 0, tr.PendingCount())

	_, err = tr.Start(transport.Message{Tag: "login", Text: `["admin","login"]`})
	assert.NoError(t, err, "a settled tag can be reused")
}

func TestSendCommand_Framing(t *testing.T) {
	tr, pipe, _ := setup(t)

	go func() {
		f, err := pipe.Next(wait)
		if err != nil {
			return
		}
		tag, body := f.Split()
		if string(body) == `["admin","Conn","reref"]` {
			pipe.PushText(tag + `,{"status":304}`)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	p, err := tr.SendCommand(ctx, "admin", "Conn", "reref")
	require.NoError(t, err)
	var resp struct{ Status int }
	require.NoError(t, p.Decode(&resp))
	assert.Equal(t, 304, resp.Status)
}

func TestReply_OnReplyRunsBeforeNextPush(t *testing.T) {
	tr, pipe, rec := setup(t)

	p, err := tr.Start(transport.Message{
		Text: "[]",
		OnReply: func(transport.Payload) {
			rec.mu.Lock()
			rec.add("reply")
			rec.mu.Unlock()
		},
	})
	require.NoError(t, err)

	pipe.PushText(p.Tag + `,{"status":200}`)
	pipe.PushText(`s1,["Stream","update"]`)

	require.Eventually(t, rec.has("server:Stream"), wait, 5*time.Millisecond)
	order := rec.snapshot()
	assert.Equal(t, []string{"open", "reply", "server:Stream"}, order)
}

func TestReply_PanickingHandlerKeepsLoopAlive(t *testing.T) {
	tr, pipe, rec := setup(t)

	p, err := tr.Start(transport.Message{Text: "[]", OnReply: func(transport.Payload) { panic("boom") }})
	require.NoError(t, err)
	pipe.PushText(p.Tag + `,{}`)
	pipe.PushText(`s1,["Panic"]`)
	pipe.PushText(`s2,["Props",{"a":1}]`)

	require.Eventually(t, rec.has("server:Props"), wait, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	_, err = p.Wait(ctx)
	assert.NoError(t, err, "reply delivered despite handler panic")
}

func TestDispatch_PushClassification(t *testing.T) {
	_, pipe, rec := setup(t)

	pipe.PushText(`!1600000000,{"x":1}`)
	pipe.PushText(`s3,["Cmd",{"type":"disconnect"}]`)
	pipe.PushText(`s4,{"not":"array"}`)
	pipe.PushText(`preempt-1600000000,["Blocklist",{"type":"blocklist"}]`)
	pipe.PushText(`pong,{}`)
	pipe.PushText(`1600000000-7,["action",{"add":"last"},null]`)
	pipe.PushText(`1600000000-8,["",{},null]`)
	pipe.PushText(`1600000000-9,hello`)
	pipe.PushText(`1600000000-10,`)
	pipe.PushText(`1600000000-11`)
	pipe.PushText(`1600000000-12,[broken`)
	pipe.PushText(`s5,["Presence",{"id":"x"}]`)

	require.Eventually(t, rec.has("server:Presence"), wait, 5*time.Millisecond)

	assert.Equal(t, []string{
		"open", "timeskew", "server:Cmd", "preempt", "node:action", "server:Presence",
	}, rec.snapshot())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []int64{1600000000}, rec.skews)
	require.Len(t, rec.msgs, 2)
	require.Len(t, rec.msgs[0].args, 1)
	assert.JSONEq(t, `{"type":"disconnect"}`, string(rec.msgs[0].args[0]))
	v, _ := rec.nodes[0].Attr("add")
	assert.Equal(t, "last", v)
}

func TestSend_WriteFailureUnregisters(t *testing.T) {
	tr, pipe, _ := setup(t)
	pipe.FailWrites(errors.New("broken pipe"))

	_, err := tr.Start(transport.Message{Text: "[]", Tag: "fixed"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken pipe")
	assert.Equal(t, 0, tr.PendingCount())
}

func TestBinary_NodeRoundTrip(t *testing.T) {
	tr, pipe, rec := setup(t)
	codec := node.CBORCodec{}
	options := []byte{0x10, 0x02}

	type result struct {
		p   transport.Payload
		err error
	}
	done := make(chan result, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), wait)
		defer cancel()
		p, err := tr.SendNode(ctx, node.New("query", map[string]string{"type": "chat", "epoch": "1"}, nil), "", options)
		done <- result{p, err}
	}()

	f, err := pipe.Next(wait)
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, f.Type)
	tag, body := f.Split()
	require.True(t, bytes.HasPrefix(body, options))
	plain, err := crypto.DecryptFrame(encKey, macKey, body[len(options):])
	require.NoError(t, err)
	sent, err := codec.Decode(plain)
	require.NoError(t, err)
	assert.Equal(t, "query", sent.Tag)

	// A frame that fails authentication is dropped without ending the loop.
	pipe.PushBinary(append([]byte(tag+","), bytes.Repeat([]byte{7}, 80)...))

	reply, err := codec.Encode(node.New("response", map[string]string{"type": "chat"}, node.Bytes("ok")))
	require.NoError(t, err)
	ct, err := crypto.EncryptFrame(encKey, macKey, reply)
	require.NoError(t, err)
	pipe.PushBinary(append([]byte(tag+","), ct...))

	select {
	case r := <-done:
		require.NoError(t, r.err)
		require.NotNil(t, r.p.Node)
		assert.Equal(t, "response", r.p.Node.Tag)
		assert.Equal(t, []byte("ok"), r.p.Node.Content())
	case <-time.After(wait):
		t.Fatal("no reply")
	}
	assert.Equal(t, []string{"open"}, rec.snapshot())
}

func TestSendBin_JSONNodeOverEncryptedFrame(t *testing.T) {
	tr, pipe, _ := setup(t)

	type result struct {
		p   transport.Payload
		err error
	}
	done := make(chan result, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), wait)
		defer cancel()
		n := node.New("action", map[string]string{"type": "set", "epoch": "3"}, nil)
		p, err := tr.SendBin(ctx, n, "action:set")
		done <- result{p, err}
	}()

	f, err := pipe.Next(wait)
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, f.Type)
	id, body := f.Split()
	assert.Equal(t, tag.Node, tag.Classify(id))
	assert.Contains(t, id, ".--")
	plain, err := crypto.DecryptFrame(encKey, macKey, body)
	require.NoError(t, err)
	assert.JSONEq(t, `["action",{"type":"set","epoch":"3"},null]`, string(plain))

	reply, err := node.CBORCodec{}.Encode(node.New("ack", map[string]string{"epoch": "3"}, nil))
	require.NoError(t, err)
	ct, err := crypto.EncryptFrame(encKey, macKey, reply)
	require.NoError(t, err)
	pipe.PushBinary(append([]byte(id+","), ct...))

	select {
	case r := <-done:
		require.NoError(t, r.err)
		require.NotNil(t, r.p.Node)
		assert.Equal(t, "ack", r.p.Node.Tag)
		assert.Equal(t, "3", r.p.Node.Attrs["epoch"])
	case <-time.After(wait):
		t.Fatal("no reply")
	}
	assert.Equal(t, 0, tr.PendingCount())
}

func TestBinary_NoKeys(t *testing.T) {
	tr, _, _ := setup(t, transport.WithKeys(func() ([]byte, []byte) { return nil, nil }))
	_, err := tr.Start(transport.Message{Binary: []byte("x")})
	assert.ErrorIs(t, err, transport.ErrNoKeys)
}

func TestClose_Idempotent(t *testing.T) {
	tr, pipe, rec := setup(t)

	p, err := tr.Start(transport.Message{Text: "[]"})
	require.NoError(t, err)

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
	<-tr.Done()
	<-pipe.Closed()

	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return rec.closes == 1
	}, wait, 5*time.Millisecond)
	assert.NoError(t, rec.closeErr)

	_, err = p.Wait(context.Background())
	assert.ErrorIs(t, err, transport.ErrClosed)
	_, err = tr.Start(transport.Message{Text: "[]"})
	assert.ErrorIs(t, err, transport.ErrClosed)

	time.Sleep(20 * time.Millisecond)
	rec.mu.Lock()
	assert.Equal(t, 1, rec.closes)
	rec.mu.Unlock()
}

func TestClose_BeforeConnectIsNoop(t *testing.T) {
	rec := &recorder{}
	tr := transport.New(transport.Config{}, rec)
	assert.NoError(t, tr.Close())
	assert.Empty(t, rec.snapshot())
}

func TestRemoteClose_ReportsCause(t *testing.T) {
	tr, pipe, rec := setup(t)
	pipe.Close()
	<-tr.Done()
	require.Eventually(t, rec.has("close"), wait, 5*time.Millisecond)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Error(t, rec.closeErr)
	assert.Len(t, rec.errs, 1)
}

func TestWatchdog_ProbeAndFailure(t *testing.T) {
	clk := clock.NewMock()
	pipe := transporttest.NewPipe()
	rec := &recorder{}
	tr := transport.New(transport.Config{Watchdog: watchdog.Config{Interval: 5 * time.Second, Threshold: 20 * time.Second}}, rec,
		transport.WithDialer(pipe.Dialer()), transport.WithClock(clk))
	require.NoError(t, tr.Connect(context.Background(), "wss://example.test/ws", ""))
	defer tr.Close()

	tr.ArmWatchdog()
	for i := 0; i < 4; i++ {
		clk.Add(5 * time.Second)
	}
	f, err := pipe.Next(wait)
	require.NoError(t, err)
	assert.Equal(t, "?,,", f.Text())
	drainProbes(pipe)

	// Inbound traffic resets the idle timer.
	pipe.PushText("s1,[\"Stream\"]")
	require.Eventually(t, rec.has("server:Stream"), wait, 5*time.Millisecond)
	clk.Add(5 * time.Second)
	select {
	case f := <-pipe.Frames():
		t.Fatalf("unexpected probe %q", f.Text())
	case <-time.After(20 * time.Millisecond):
	}

	pipe.FailWrites(errors.New("broken pipe"))
	for i := 0; i < 4; i++ {
		clk.Add(5 * time.Second)
	}
	require.Eventually(t, rec.has("liveness"), wait, 5*time.Millisecond)
	assert.False(t, tr.WatchdogArmed())
}

// drainProbes discards probes from ticks that were still queued.
func drainProbes(pipe *transporttest.Pipe) {
	for {
		select {
		case <-pipe.Frames():
		case <-time.After(20 * time.Millisecond):
			return
		}
	}
}

func TestWebsocketDialer_AgainstServer(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool {
		return r.Header.Get("Origin") == "https://example.test"
	}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			tag, _, _ := strings.Cut(string(data), ",")
			if err := conn.WriteMessage(websocket.TextMessage, []byte(tag+`,{"status":200,"ref":"R1"}`)); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	rec := &recorder{}
	tr := transport.New(transport.Config{}, rec)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	require.NoError(t, tr.Connect(context.Background(), url, "https://example.test"))
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	p, err := tr.SendCommand(ctx, "admin", "init", []int{2, 2121, 6}, []string{"wasock", "linux", "amd64"}, "cid", true)
	require.NoError(t, err)
	var resp struct {
		Status int
		Ref    string
	}
	require.NoError(t, p.Decode(&resp))
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, "R1", resp.Ref)
}
