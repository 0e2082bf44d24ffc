package session

import (
	"context"

	"wasock/internal/protocol/node"
	"wasock/internal/transport"
)

// ActionNode builds an action node stamped with the next epoch.
func (c *Client) ActionNode(typ string, children node.Children, noIncrement bool) *node.Node {
	return node.New("action", map[string]string{
		"type":  typ,
		"epoch": c.epoch.Send(noIncrement),
	}, body(children))
}

// QueryNode builds a query node stamped with the next epoch.
func (c *Client) QueryNode(attrs map[string]string, children node.Children) *node.Node {
	return c.epochNode("query", attrs, children)
}

// ResponseNode builds a response node stamped with the next epoch.
func (c *Client) ResponseNode(attrs map[string]string, children node.Children) *node.Node {
	return c.epochNode("response", attrs, children)
}

// ErrorNode builds an error node carrying code, stamped with the next epoch.
func (c *Client) ErrorNode(code string) *node.Node {
	return node.New("error", map[string]string{
		"code":  code,
		"epoch": c.epoch.Send(false),
	}, nil)
}

// Epoch returns the sequencer state: current epoch and outstanding sends.
func (c *Client) Epoch() (epoch, count int) { return c.epoch.State() }

// SendNode sends n on the encrypted channel with a short tag and waits for
// the reply. The reply of an epoch-stamped node settles one outstanding send.
func (c *Client) SendNode(ctx context.Context, n *node.Node, binaryOptions []byte) (transport.Payload, error) {
	tr, err := c.activeTransport()
	if err != nil {
		return transport.Payload{}, err
	}
	msg, err := tr.NodeMessage(n, "", binaryOptions)
	if err != nil {
		return transport.Payload{}, err
	}
	if _, stamped := n.Attr("epoch"); stamped {
		msg.OnReply = func(transport.Payload) { c.epoch.Recv() }
	}
	return tr.Send(ctx, msg)
}

func (c *Client) epochNode(tag string, attrs map[string]string, children node.Children) *node.Node {
	a := make(map[string]string, len(attrs)+1)
	for k, v := range attrs {
		a[k] = v
	}
	a["epoch"] = c.epoch.Send(false)
	return node.New(tag, a, body(children))
}

func body(children node.Children) node.Body {
	if children == nil {
		return nil
	}
	return children
}
