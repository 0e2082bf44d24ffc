package session

// State is the handshake phase of a Client.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateAwaitingInit
	StatePairing
	StateRestoring
	StateReady
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateAwaitingInit:
		return "awaiting-init"
	case StatePairing:
		return "pairing"
	case StateRestoring:
		return "restoring"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// terminal reports whether no further transition except Closed is possible.
func (s State) terminal() bool {
	return s == StateFailed || s == StateClosed
}
