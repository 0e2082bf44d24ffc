// Package transporttest provides an in-memory socket for exercising the
// transport and the session without a network.
package transporttest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"wasock/internal/transport"
)

// Frame is one websocket message.
type Frame struct {
	Type int
	Data []byte
}

// Text returns the frame body as a string.
func (f Frame) Text() string { return string(f.Data) }

// Split returns the tag and the body of the frame.
func (f Frame) Split() (string, []byte) {
	i := bytes.IndexByte(f.Data, ',')
	if i < 0 {
		return string(f.Data), nil
	}
	return string(f.Data[:i]), f.Data[i+1:]
}

// Pipe is the server end of an in-memory socket. The client end is handed out
// by Dialer.
type Pipe struct {
	toClient chan Frame
	toServer chan Frame
	closed   chan struct{}
	once     sync.Once

	mu       sync.Mutex
	writeErr error
	nextErr  error
	dialErr  error
	header   http.Header
	url      string
}

// NewPipe returns an open pipe.
func NewPipe() *Pipe {
	return &Pipe{
		toClient: make(chan Frame, 64),
		toServer: make(chan Frame, 64),
		closed:   make(chan struct{}),
	}
}

// Dialer returns a transport.Dialer that connects to this pipe.
func (p *Pipe) Dialer() transport.Dialer {
	return func(ctx context.Context, url string, header http.Header) (transport.Socket, error) {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.dialErr != nil {
			return nil, p.dialErr
		}
		p.url = url
		p.header = header.Clone()
		return &clientEnd{p: p}, nil
	}
}

// FailDial makes the next dials fail with err.
func (p *Pipe) FailDial(err error) {
	p.mu.Lock()
	p.dialErr = err
	p.mu.Unlock()
}

// FailWrites makes client writes fail with err. A nil err restores writes.
func (p *Pipe) FailWrites(err error) {
	p.mu.Lock()
	p.writeErr = err
	p.mu.Unlock()
}

// FailNextWrite makes only the next client write fail with err.
func (p *Pipe) FailNextWrite(err error) {
	p.mu.Lock()
	p.nextErr = err
	p.mu.Unlock()
}

// Header is the request header of the last dial.
func (p *Pipe) Header() http.Header {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.header
}

// URL is the endpoint of the last dial.
func (p *Pipe) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

// PushText delivers a text frame to the client.
func (p *Pipe) PushText(s string) {
	p.Push(Frame{Type: websocket.TextMessage, Data: []byte(s)})
}

// PushBinary delivers a binary frame to the client.
func (p *Pipe) PushBinary(b []byte) {
	p.Push(Frame{Type: websocket.BinaryMessage, Data: b})
}

// Push delivers f to the client unless the pipe is closed.
func (p *Pipe) Push(f Frame) {
	select {
	case p.toClient <- f:
	case <-p.closed:
	}
}

// Next returns the next frame the client wrote, waiting up to timeout.
func (p *Pipe) Next(timeout time.Duration) (Frame, error) {
	select {
	case f := <-p.toServer:
		return f, nil
	case <-time.After(timeout):
		return Frame{}, errors.New("transporttest: no frame written")
	}
}

// Frames returns the channel of client-written frames.
func (p *Pipe) Frames() <-chan Frame { return p.toServer }

// Close ends the connection from the server side.
func (p *Pipe) Close() {
	p.once.Do(func() { close(p.closed) })
}

// Closed is closed once either side closed the pipe.
func (p *Pipe) Closed() <-chan struct{} { return p.closed }

type clientEnd struct{ p *Pipe }

func (c *clientEnd) ReadMessage() (int, []byte, error) {
	select {
	case f := <-c.p.toClient:
		return f.Type, f.Data, nil
	case <-c.p.closed:
		return 0, nil, io.EOF
	}
}

func (c *clientEnd) WriteMessage(mt int, data []byte) error {
	c.p.mu.Lock()
	err := c.p.writeErr
	if err == nil && c.p.nextErr != nil {
		err, c.p.nextErr = c.p.nextErr, nil
	}
	c.p.mu.Unlock()
	if err != nil {
		return err
	}
	select {
	case <-c.p.closed:
		return websocket.ErrCloseSent
	default:
	}
	select {
	case c.p.toServer <- Frame{Type: mt, Data: append([]byte(nil), data...)}:
		return nil
	case <-c.p.closed:
		return websocket.ErrCloseSent
	}
}

func (c *clientEnd) Close() error {
	c.p.Close()
	return nil
}
