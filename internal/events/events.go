// Package events defines the typed events a session emits to its handlers.
//
// Handlers receive values of these types through a func(any) callback and
// switch on the concrete type.
package events

import (
	"encoding/json"

	"wasock/internal/protocol/node"
)

// Open is emitted once the socket is established.
type Open struct{}

// ConnectFailure is emitted when the socket could not be established.
type ConnectFailure struct{ Err error }

// TransportError is emitted for socket errors after the session opened.
type TransportError struct{ Err error }

// Closed is emitted when the socket closes. Err is nil for a local close.
type Closed struct{ Err error }

// QRCode carries a fresh pairing payload of the form ref,base64(pub),clientID.
type QRCode struct{ Payload string }

// Disconnected is emitted on a server Cmd of type disconnect.
type Disconnected struct{ Kind string }

// Replaced follows Disconnected when another client took over the session.
type Replaced struct{}

// TimeSkew carries a server clock-skew notice.
type TimeSkew struct {
	Delta   int64
	Payload json.RawMessage
}

// ServerMessage is emitted for every server message before it is dispatched.
type ServerMessage struct {
	Type string
	Args []json.RawMessage
}

// Preempt is emitted for frames whose tag starts with "preempt".
type Preempt struct{ Payload json.RawMessage }

// Push kinds forwarded unchanged from the server. Payload is the first
// argument of the server message, or nil when it had none.
type (
	Stream    struct{ Payload json.RawMessage }
	Props     struct{ Payload json.RawMessage }
	Blocklist struct{ Payload json.RawMessage }
	Presence  struct{ Payload json.RawMessage }
	Msg       struct{ Payload json.RawMessage }
)

// Node is emitted for unsolicited binary nodes.
type Node struct {
	Tag  string
	Node *node.Node
}

// Conn is emitted when a Conn push was accepted and persisted.
type Conn struct{ Raw json.RawMessage }

// KeepAliveTimeout is emitted when the liveness probe could not be sent.
type KeepAliveTimeout struct{ Err error }

// Handler receives events.
type Handler func(evt any)
