package node

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotNode is returned when a JSON value does not have the node array shape.
var ErrNotNode = errors.New("node: not a [tag, attrs, content] array")

// MarshalJSON encodes the node as ["tag", {attrs}|null, content] where content
// is null, a string or an array of child nodes.
func (n *Node) MarshalJSON() ([]byte, error) {
	var attrs any
	if len(n.Attrs) > 0 {
		attrs = n.Attrs
	}
	var content any
	switch body := n.Body.(type) {
	case nil:
	case Bytes:
		content = string(body)
	case Children:
		content = []*Node(body)
	default:
		return nil, fmt.Errorf("node %q: unsupported body %T", n.Tag, body)
	}
	return json.Marshal([]any{n.Tag, attrs, content})
}

// UnmarshalJSON decodes the array form written by MarshalJSON. Attributes and
// content may be omitted from the array.
func (n *Node) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil || len(parts) == 0 {
		return ErrNotNode
	}
	var tag string
	if err := json.Unmarshal(parts[0], &tag); err != nil {
		return ErrNotNode
	}

	attrs := map[string]string{}
	if len(parts) > 1 && !isNull(parts[1]) {
		if err := json.Unmarshal(parts[1], &attrs); err != nil {
			return fmt.Errorf("node %q attrs: %w", tag, err)
		}
	}

	var body Body
	if len(parts) > 2 && !isNull(parts[2]) {
		raw := parts[2]
		switch raw[0] {
		case '"':
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return fmt.Errorf("node %q content: %w", tag, err)
			}
			body = Bytes(s)
		case '[':
			var children []*Node
			if err := json.Unmarshal(raw, &children); err != nil {
				return fmt.Errorf("node %q children: %w", tag, err)
			}
			body = Children(children)
		default:
			return fmt.Errorf("node %q: unsupported content %s", tag, raw)
		}
	}

	*n = Node{Tag: tag, Attrs: attrs, Body: body}
	return nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
