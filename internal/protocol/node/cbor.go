package node

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// body kinds on the CBOR wire.
const (
	kindEmpty uint8 = iota
	kindBytes
	kindChildren
)

// wireNode is the CBOR shape of a Node, encoded as a fixed array.
type wireNode struct {
	_        struct{} `cbor:",toarray"`
	Tag      string
	Attrs    map[string]string
	Kind     uint8
	Bytes    []byte
	Children []wireNode
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	// Deterministic encoding: the same node always produces the same bytes,
	// which keeps frame MACs reproducible in tests.
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("node: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{MaxNestedLevels: 64}.DecMode()
	if err != nil {
		panic("node: CBOR decoder initialization failed: " + err.Error())
	}
}

// CBORCodec encodes nodes as deterministic CBOR arrays.
type CBORCodec struct{}

// Encode serialises n.
func (CBORCodec) Encode(n *Node) ([]byte, error) {
	w, err := toWire(n)
	if err != nil {
		return nil, err
	}
	return encMode.Marshal(w)
}

// Decode parses data produced by Encode.
func (CBORCodec) Decode(data []byte) (*Node, error) {
	var w wireNode
	if err := decMode.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode node: %w", err)
	}
	return fromWire(w)
}

func toWire(n *Node) (wireNode, error) {
	w := wireNode{Tag: n.Tag, Attrs: n.Attrs}
	switch body := n.Body.(type) {
	case nil:
		w.Kind = kindEmpty
	case Bytes:
		w.Kind = kindBytes
		w.Bytes = body
	case Children:
		w.Kind = kindChildren
		w.Children = make([]wireNode, 0, len(body))
		for _, child := range body {
			cw, err := toWire(child)
			if err != nil {
				return wireNode{}, err
			}
			w.Children = append(w.Children, cw)
		}
	default:
		return wireNode{}, fmt.Errorf("node %q: unsupported body %T", n.Tag, body)
	}
	return w, nil
}

func fromWire(w wireNode) (*Node, error) {
	n := New(w.Tag, w.Attrs, nil)
	switch w.Kind {
	case kindEmpty:
	case kindBytes:
		n.Body = Bytes(w.Bytes)
	case kindChildren:
		children := make(Children, 0, len(w.Children))
		for _, cw := range w.Children {
			child, err := fromWire(cw)
			if err != nil {
				return nil, err
			}
			children = append(children, child)
		}
		n.Body = children
	default:
		return nil, fmt.Errorf("node %q: unknown body kind %d", w.Tag, w.Kind)
	}
	return n, nil
}
