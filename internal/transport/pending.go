package transport

import "context"

// request is the registry entry for one outstanding tag.
type request struct {
	tag     string
	hint    string
	sent    []byte
	onReply func(Payload)
	done    chan Payload
}

// Pending is the caller's handle on a sent request.
type Pending struct {
	Tag  string
	Hint string

	done   <-chan Payload
	closed <-chan struct{}
}

// Wait blocks until the reply arrives, ctx ends or the transport closes.
// Abandoning a wait leaves the tag registered; a late reply is discarded.
func (p *Pending) Wait(ctx context.Context) (Payload, error) {
	select {
	case pl := <-p.done:
		return pl, nil
	case <-ctx.Done():
		return Payload{}, ctx.Err()
	case <-p.closed:
		select {
		case pl := <-p.done:
			return pl, nil
		default:
		}
		return Payload{}, ErrClosed
	}
}
