package coordinator

import (
	"time"

	"github.com/unkn0wn-root/fieldsync/message"
)

type State uint8

const (
	Triggered State = iota
	DiscoveringClients
	ChannelOpened
	AwaitingReply
	Resolved
	Rejected
)

func (s State) String() string {
	switch s {
	case Triggered:
		return "triggered"
	case DiscoveringClients:
		return "discovering-clients"
	case ChannelOpened:
		return "channel-opened"
	case AwaitingReply:
		return "awaiting-reply"
	case Resolved:
		return "resolved"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Session records one run of the state machine.
type Session struct {
	Tag     string
	Client  string // id of the client asked to flush, "" if none
	Trace   []State
	Reply   message.Message
	Err     error
	Started time.Time
	Settled time.Time
}

func (s *Session) enter(st State) { s.Trace = append(s.Trace, st) }

// State is the last state reached.
func (s Session) State() State {
	if len(s.Trace) == 0 {
		return Triggered
	}
	return s.Trace[len(s.Trace)-1]
}
