package transport

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/gorilla/websocket"

	"wasock/internal/metrics"
	"wasock/internal/protocol/node"
	"wasock/internal/protocol/tag"
)

func (t *Transport) readLoop(sock Socket) {
	for {
		mt, data, err := sock.ReadMessage()
		if err != nil {
			select {
			case <-t.closed:
				_ = t.shutdown(sock, nil)
			default:
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					t.safely("error", func() { t.handler.HandleError(err) })
				}
				_ = t.shutdown(sock, err)
			}
			return
		}
		t.lastRecv.Store(t.clock.Now().UnixNano())
		t.dispatch(mt, data)
	}
}

// dispatch routes one inbound frame. It never returns an error: a frame that
// cannot be handled is logged and dropped.
func (t *Transport) dispatch(mt int, data []byte) {
	id, payload, kind, ok := t.parse(mt, data)
	log := t.logger.With().Str("dir", "<<").Str("tag", id).Str("kind", kind).Logger()
	if !ok {
		return
	}
	metrics.RecordFrame("in", kind)

	if req, found := t.pending.Take(id); found {
		metrics.AddPending(-1)
		log.Debug().Str("hint", req.hint).Msg("reply")
		if req.onReply != nil {
			t.safely("reply "+id, func() { req.onReply(payload) })
		}
		req.done <- payload
		return
	}

	k := tag.Classify(id)
	metrics.RecordPush(k.String())
	switch k {
	case tag.TimeSkew:
		delta, err := strconv.ParseInt(id[1:], 10, 64)
		if err != nil {
			log.Warn().Err(err).Msg("timeskew tag without timestamp")
			return
		}
		log.Debug().Int64("delta", delta).Msg("event timeskew")
		t.safely("timeskew", func() { t.handler.HandleTimeSkew(delta, payload) })

	case tag.ServerMessage:
		args, isArray := payload.Array()
		if !isArray || len(args) == 0 {
			log.Warn().Msg("server message payload is not an array")
			return
		}
		var cmd string
		if err := json.Unmarshal(args[0], &cmd); err != nil {
			log.Warn().RawJSON("cmd", args[0]).Msg("server message without command name")
			return
		}
		log.Debug().Str("cmd", cmd).Msg("event server-message")
		t.safely("server-message", func() { t.handler.HandleServerMessage(cmd, args[1:]) })

	case tag.Preempt:
		log.Debug().Msg("event preempt")
		t.safely("preempt", func() { t.handler.HandlePreempt(payload) })

	case tag.Node:
		n, err := payload.AsNode()
		if err != nil {
			log.Warn().Err(err).Msg("node frame is not a node")
			return
		}
		if n.Tag == "" {
			log.Warn().Msg("node with empty tag")
			return
		}
		log.Debug().Str("node", n.Tag).Msg("node push")
		t.safely("node", func() { t.handler.HandleNode(id, n) })

	default:
		log.Debug().Msg("no action for frame")
	}
}

// parse splits a frame at its first comma and decodes the remainder. A text
// frame without a comma is all tag; a binary frame without one is all body.
func (t *Transport) parse(mt int, data []byte) (id string, p Payload, kind string, ok bool) {
	var rest []byte
	if i := bytes.IndexByte(data, ','); i >= 0 {
		id, rest = string(data[:i]), data[i+1:]
	} else if mt == websocket.BinaryMessage {
		rest = data
		t.logger.Warn().Msg("binary frame without tag")
	} else {
		id = string(data)
	}
	p.Tag = id

	switch {
	case mt == websocket.BinaryMessage:
		kind = "BIN"
		n, err := t.openBinary(rest)
		if err != nil {
			metrics.RecordFrameError("binary")
			t.logger.Warn().Err(err).Str("dir", "<<").Str("tag", id).Str("kind", kind).Msg("dropping frame")
			return id, p, kind, false
		}
		p.Node = n
		return id, p, kind, true

	case len(rest) == 0:
		kind = "NULL"
		t.logger.Debug().Str("dir", "<<").Str("tag", id).Str("kind", kind).Msg("ignored")
		return id, p, kind, false

	case rest[0] == '[' || rest[0] == '{':
		kind = "JSON"
		if !json.Valid(rest) {
			metrics.RecordFrameError("json")
			t.logger.Warn().Str("dir", "<<").Str("tag", id).Str("kind", kind).Msg("dropping malformed json")
			return id, p, kind, false
		}
		p.JSON = bytes.Clone(rest)
		return id, p, kind, true

	default:
		kind = "TEXT"
		metrics.RecordFrameError("unparseable")
		t.logger.Warn().Str("dir", "<<").Str("tag", id).Int("len", len(rest)).Msg("cannot parse frame")
		return id, p, kind, false
	}
}

func (t *Transport) openBinary(body []byte) (*node.Node, error) {
	if t.cipher == nil || t.keys == nil {
		return nil, ErrNoKeys
	}
	encKey, macKey := t.keys()
	if len(encKey) == 0 || len(macKey) == 0 {
		return nil, ErrNoKeys
	}
	plain, err := t.cipher.DecryptFrame(encKey, macKey, body)
	if err != nil {
		return nil, err
	}
	return t.codec.Decode(plain)
}
