package node

// Node is one element of the structured tree exchanged over the binary
// channel: a tag name, unique-keyed string attributes and an optional body.
type Node struct {
	Tag   string
	Attrs map[string]string
	Body  Body
}

// Body is the content of a node. A nil Body means the node is empty; otherwise
// it is either Bytes or Children.
type Body interface{ isBody() }

// Bytes is raw node content.
type Bytes []byte

// Children is an ordered list of child nodes.
type Children []*Node

func (Bytes) isBody()    {}
func (Children) isBody() {}

// New builds a node. A nil attrs map is replaced by an empty one.
func New(tag string, attrs map[string]string, body Body) *Node {
	if attrs == nil {
		attrs = map[string]string{}
	}
	return &Node{Tag: tag, Attrs: attrs, Body: body}
}

// Attr returns the attribute value for key.
func (n *Node) Attr(key string) (string, bool) {
	v, ok := n.Attrs[key]
	return v, ok
}

// ChildNodes returns the children, or nil when the body is not a child list.
func (n *Node) ChildNodes() Children {
	c, _ := n.Body.(Children)
	return c
}

// Content returns the raw bytes, or nil when the body is not Bytes.
func (n *Node) Content() []byte {
	b, _ := n.Body.(Bytes)
	return b
}
