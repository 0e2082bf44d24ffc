package transport

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
)

// Socket is the subset of *websocket.Conn the transport uses. Message types
// are the gorilla constants websocket.TextMessage and websocket.BinaryMessage.
type Socket interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

var _ Socket = (*websocket.Conn)(nil)

// Dialer opens a Socket to url with the given request header.
type Dialer func(ctx context.Context, url string, header http.Header) (Socket, error)

// WebsocketDialer adapts a gorilla dialer. A nil d uses websocket.DefaultDialer.
func WebsocketDialer(d *websocket.Dialer) Dialer {
	if d == nil {
		d = websocket.DefaultDialer
	}
	return func(ctx context.Context, url string, header http.Header) (Socket, error) {
		conn, resp, err := d.DialContext(ctx, url, header)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			if resp != nil {
				return nil, fmt.Errorf("%w (http %d)", err, resp.StatusCode)
			}
			return nil, err
		}
		return conn, nil
	}
}
