package tag

import (
	"regexp"
	"strings"
)

// Kind is the push category of an inbound tag that matched no pending request.
type Kind int

const (
	Unrecognized Kind = iota
	TimeSkew
	ServerMessage
	Preempt
	Node
)

func (k Kind) String() string {
	switch k {
	case TimeSkew:
		return "timeskew"
	case ServerMessage:
		return "server-message"
	case Preempt:
		return "preempt"
	case Node:
		return "node"
	default:
		return "unrecognized"
	}
}

var (
	numericDashTag = regexp.MustCompile(`^\d+-\d+$`)
	hexDotDashTag  = regexp.MustCompile(`^[0-9a-f]+\.--[0-9a-f]+$`)
)

// Classify maps a tag to exactly one Kind. The checks are order-sensitive and
// part of the wire contract:
//
//	!<int>                           -> TimeSkew
//	s...                             -> ServerMessage
//	preempt...                       -> Preempt
//	\d+-\d+ or [0-9a-f]+\.--[0-9a-f]+ -> Node
//	anything else                    -> Unrecognized
//
// A tag starting with "p" but not "preempt" is Unrecognized.
func Classify(t string) Kind {
	switch {
	case strings.HasPrefix(t, "!"):
		return TimeSkew
	case strings.HasPrefix(t, "s"):
		return ServerMessage
	case strings.HasPrefix(t, "preempt"):
		return Preempt
	case numericDashTag.MatchString(t), hexDotDashTag.MatchString(t):
		return Node
	default:
		return Unrecognized
	}
}
