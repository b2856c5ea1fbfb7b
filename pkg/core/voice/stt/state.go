package stt

// ConnectionState is the lifecycle phase of a Manager's upstream connection.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Reconnecting
	Failed
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// transitions lists every legal edge. Anything absent is refused.
var transitions = map[ConnectionState][]ConnectionState{
	Disconnected: {Connecting},
	Connecting:   {Connected, Failed, Disconnected},
	Connected:    {Reconnecting, Disconnected},
	Reconnecting: {Connected, Failed, Disconnected},
	Failed:       {Connecting, Disconnected},
}

// CanTransitionTo reports whether s -> next is a legal edge.
func (s ConnectionState) CanTransitionTo(next ConnectionState) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Active reports whether a connection is established or being established.
func (s ConnectionState) Active() bool {
	return s == Connecting || s == Connected || s == Reconnecting
}
