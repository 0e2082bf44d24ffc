package transport

import (
	"encoding/json"
	"errors"

	"wasock/internal/protocol/node"
)

// ErrNoJSON is returned by Payload.Decode for payloads without a JSON body.
var ErrNoJSON = errors.New("transport: payload has no json body")

// Payload is a parsed inbound frame body. Exactly one of JSON and Node is set.
type Payload struct {
	Tag  string
	JSON json.RawMessage
	Node *node.Node
}

// Decode unmarshals the JSON body into v.
func (p Payload) Decode(v any) error {
	if len(p.JSON) == 0 {
		return ErrNoJSON
	}
	return json.Unmarshal(p.JSON, v)
}

// Array splits a JSON array body into its elements.
func (p Payload) Array() ([]json.RawMessage, bool) {
	if len(p.JSON) == 0 || p.JSON[0] != '[' {
		return nil, false
	}
	var out []json.RawMessage
	if err := json.Unmarshal(p.JSON, &out); err != nil {
		return nil, false
	}
	return out, true
}

// AsNode returns the structured node carried by the payload. A JSON body in
// the [tag, attrs, content] array form is converted.
func (p Payload) AsNode() (*node.Node, error) {
	if p.Node != nil {
		return p.Node, nil
	}
	if len(p.JSON) == 0 {
		return nil, node.ErrNotNode
	}
	var n node.Node
	if err := json.Unmarshal(p.JSON, &n); err != nil {
		return nil, err
	}
	return &n, nil
}
