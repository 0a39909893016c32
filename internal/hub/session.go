package hub

import (
	"fmt"

	"github.com/parleychat/parley/internal/wire"
)

// SessionState tracks where a session is in its lifecycle. The state lives
// here, in the hub's record, rather than in distinct session types.
type SessionState int

const (
	// StateConnected means the client is connected but has not yet
	// registered a name. Only NAME and QUIT are accepted.
	StateConnected SessionState = iota

	// StateRegistered means the client has a name and may use any command.
	StateRegistered

	// StateClosing means the session is being torn down. No further
	// messages are delivered to it.
	StateClosing
)

// CloseReason says why a session ended.
type CloseReason int

const (
	// ReasonQuit means the client sent QUIT.
	ReasonQuit CloseReason = iota

	// ReasonError means a read or write on the socket failed, including EOF.
	ReasonError

	// ReasonTimeout means the client did not answer a PING in time.
	ReasonTimeout

	// ReasonSlow means the client could not keep up with its outbound
	// queue and the hub evicted it.
	ReasonSlow

	// ReasonShutdown means the server is shutting down.
	ReasonShutdown
)

func (r CloseReason) String() string {
	switch r {
	case ReasonQuit:
		return "quit"
	case ReasonError:
		return "io error"
	case ReasonTimeout:
		return "ping timeout"
	case ReasonSlow:
		return "slow consumer"
	case ReasonShutdown:
		return "server shutdown"
	default:
		return "unknown"
	}
}

// Session is the hub's record of one connected client. The connection actor
// owns the socket; the hub owns this record and is the only producer on the
// outbound channel.
type Session struct {
	// A unique id. Internal to this server only.
	ID uint64

	// The registered name. Empty until the first successful NAME.
	Name wire.UserName

	State SessionState

	// Rooms the session has joined, by name.
	Rooms map[wire.RoomName]struct{}

	// The session's outbound channel. The connection actor's writer drains
	// it. The hub closes it on teardown.
	out chan<- wire.Message
}

// NewSession creates a session record around a connection's outbound
// channel. The connection actor hands it to the hub with SessionOpened.
func NewSession(id uint64, out chan<- wire.Message) *Session {
	return &Session{
		ID:    id,
		Rooms: make(map[wire.RoomName]struct{}),
		out:   out,
	}
}

func (s *Session) String() string {
	if s.Name == "" {
		return fmt.Sprintf("session %d (unregistered)", s.ID)
	}
	return fmt.Sprintf("session %d (%s)", s.ID, s.Name)
}
