package hub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/parleychat/parley/internal/wire"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestHub(t *testing.T) *Hub {
	t.Helper()

	h := New(50*time.Millisecond, zap.NewNop())
	go h.Run()
	t.Cleanup(h.Shutdown)

	return h
}

// openSession connects a fake client with an outbound buffer of the given
// capacity and consumes the CONNECTED greeting.
func openSession(t *testing.T, h *Hub, id uint64, capacity int) (*Session, chan wire.Message) {
	t.Helper()

	out := make(chan wire.Message, capacity)
	s := NewSession(id, out)
	h.SessionOpened(s)

	require.Equal(t, wire.Message{Command: "CONNECTED"}, recvMsg(t, out))

	return s, out
}

// register opens a session and names it, consuming REGISTERED.
func register(t *testing.T, h *Hub, id uint64, name string) (*Session, chan wire.Message) {
	t.Helper()

	s, out := openSession(t, h, id, 64)
	h.Inbound(id, wire.Message{Command: "NAME", Params: []string{name}})
	require.Equal(t, wire.Message{Command: "REGISTERED"}, recvMsg(t, out))

	return s, out
}

func recvMsg(t *testing.T, out <-chan wire.Message) wire.Message {
	t.Helper()

	select {
	case m, ok := <-out:
		require.True(t, ok, "outbound channel closed")
		return m
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a message")
		return wire.Message{}
	}
}

// recvClosed drains the channel and requires that it closes.
func recvClosed(t *testing.T, out <-chan wire.Message) {
	t.Helper()

	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-out:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for the channel to close")
		}
	}
}

func errorMsg(reason string) wire.Message {
	return wire.Message{Command: "ERROR", Payload: reason}
}

func TestRegistration(t *testing.T) {
	h := newTestHub(t)

	_, out := openSession(t, h, 1, 64)
	h.Inbound(1, wire.Message{Command: "NAME", Params: []string{"@alice"}})
	assert.Equal(t, wire.Message{Command: "REGISTERED"}, recvMsg(t, out))
}

func TestRegistrationDuplicateName(t *testing.T) {
	h := newTestHub(t)

	register(t, h, 1, "@alice")

	_, out2 := openSession(t, h, 2, 64)
	h.Inbound(2, wire.Message{Command: "NAME", Params: []string{"@alice"}})
	assert.Equal(t, errorMsg("user already exists @alice"), recvMsg(t, out2))

	// The name frees up once its owner quits.
	h.Inbound(1, wire.Message{Command: "QUIT"})
	h.Inbound(2, wire.Message{Command: "NAME", Params: []string{"@alice"}})
	assert.Equal(t, wire.Message{Command: "REGISTERED"}, recvMsg(t, out2))
}

func TestRegistrationGate(t *testing.T) {
	h := newTestHub(t)

	_, out := openSession(t, h, 1, 64)

	h.Inbound(1, wire.Message{Command: "JOIN", Params: []string{"#sports"}})
	assert.Equal(t, errorMsg("registration required"), recvMsg(t, out))

	h.Inbound(1, wire.Message{Command: "SAY", Params: []string{"#sports"},
		Payload: "hi"})
	assert.Equal(t, errorMsg("registration required"), recvMsg(t, out))

	// The gate causes no state change; registering still works.
	h.Inbound(1, wire.Message{Command: "NAME", Params: []string{"@alice"}})
	assert.Equal(t, wire.Message{Command: "REGISTERED"}, recvMsg(t, out))
}

func TestNameErrors(t *testing.T) {
	h := newTestHub(t)

	_, out := openSession(t, h, 1, 64)

	h.Inbound(1, wire.Message{Command: "NAME"})
	assert.Equal(t, errorMsg("bad format of user name"), recvMsg(t, out))

	h.Inbound(1, wire.Message{Command: "NAME", Params: []string{"#alice"}})
	assert.Equal(t, errorMsg("bad format of user name"), recvMsg(t, out))

	h.Inbound(1, wire.Message{Command: "NAME",
		Params: []string{"@alice", "@bob"}})
	assert.Equal(t, errorMsg("bad arguments"), recvMsg(t, out))
}

func TestJoinFanOut(t *testing.T) {
	h := newTestHub(t)

	_, alice := register(t, h, 1, "@alice")
	_, bob := register(t, h, 2, "@bob")

	h.Inbound(1, wire.Message{Command: "JOIN", Params: []string{"#sports"}})
	assert.Equal(t,
		wire.Message{Room: "#sports", User: "@alice", Command: "JOINED"},
		recvMsg(t, alice))

	// Both the existing member and the joiner see the second JOIN.
	h.Inbound(2, wire.Message{Command: "JOIN", Params: []string{"#sports"}})
	joined := wire.Message{Room: "#sports", User: "@bob", Command: "JOINED"}
	assert.Equal(t, joined, recvMsg(t, alice))
	assert.Equal(t, joined, recvMsg(t, bob))

	// Re-join is idempotent but still fans out.
	h.Inbound(2, wire.Message{Command: "JOIN", Params: []string{"#sports"}})
	assert.Equal(t, joined, recvMsg(t, alice))
	assert.Equal(t, joined, recvMsg(t, bob))
}

func TestSayRoom(t *testing.T) {
	h := newTestHub(t)

	_, alice := register(t, h, 1, "@alice")
	_, bob := register(t, h, 2, "@bob")

	h.Inbound(1, wire.Message{Command: "JOIN", Params: []string{"#sports"}})
	recvMsg(t, alice)
	h.Inbound(2, wire.Message{Command: "JOIN", Params: []string{"#sports"}})
	recvMsg(t, alice)
	recvMsg(t, bob)

	h.Inbound(1, wire.Message{Command: "SAY", Params: []string{"#sports"},
		Payload: "hello everybody!"})

	// The sender gets the SAID echo too.
	said := wire.Message{Room: "#sports", User: "@alice", Command: "SAID",
		Payload: "hello everybody!"}
	assert.Equal(t, said, recvMsg(t, alice))
	assert.Equal(t, said, recvMsg(t, bob))

	h.Inbound(1, wire.Message{Command: "SAY", Params: []string{"#nosuch"},
		Payload: "anyone?"})
	assert.Equal(t, errorMsg("room unknown #nosuch"), recvMsg(t, alice))
}

func TestSayUser(t *testing.T) {
	h := newTestHub(t)

	_, alice := register(t, h, 1, "@alice")
	_, bob := register(t, h, 2, "@bob")

	h.Inbound(1, wire.Message{Command: "SAY", Params: []string{"@bob"},
		Payload: "are you home?"})
	assert.Equal(t, wire.Message{User: "@alice", Command: "SAID",
		Payload: "are you home?"}, recvMsg(t, bob))

	// No echo to the sender on a private SAY.
	h.Inbound(1, wire.Message{Command: "SAY", Params: []string{"@nobody1"},
		Payload: "hello?"})
	assert.Equal(t, errorMsg("user unknown @nobody1"), recvMsg(t, alice))

	h.Inbound(1, wire.Message{Command: "SAY", Params: []string{"@bob"}})
	assert.Equal(t, errorMsg("bad arguments"), recvMsg(t, alice))
}

func TestLeave(t *testing.T) {
	h := newTestHub(t)

	_, alice := register(t, h, 1, "@alice")
	_, bob := register(t, h, 2, "@bob")

	h.Inbound(1, wire.Message{Command: "JOIN", Params: []string{"#sports"}})
	recvMsg(t, alice)
	h.Inbound(2, wire.Message{Command: "JOIN", Params: []string{"#sports"}})
	recvMsg(t, alice)
	recvMsg(t, bob)

	// Remaining members see LEFT; the leaver sees nothing.
	h.Inbound(2, wire.Message{Command: "LEAVE", Params: []string{"#sports"}})
	assert.Equal(t,
		wire.Message{Room: "#sports", User: "@bob", Command: "LEFT"},
		recvMsg(t, alice))

	h.Inbound(2, wire.Message{Command: "LEAVE", Params: []string{"#sports"}})
	assert.Equal(t, errorMsg("user not in room @bob #sports"), recvMsg(t, bob))

	// The last member leaving deletes the room.
	h.Inbound(1, wire.Message{Command: "LEAVE", Params: []string{"#sports"}})
	h.Inbound(1, wire.Message{Command: "USERS", Params: []string{"#sports"}})
	assert.Equal(t, errorMsg("room unknown #sports"), recvMsg(t, alice))
}

func TestUsers(t *testing.T) {
	h := newTestHub(t)

	_, alice := register(t, h, 1, "@alice")
	register(t, h, 2, "@bob")

	h.Inbound(1, wire.Message{Command: "JOIN", Params: []string{"#sports"}})
	recvMsg(t, alice)
	h.Inbound(2, wire.Message{Command: "JOIN", Params: []string{"#sports"}})
	recvMsg(t, alice)

	h.Inbound(1, wire.Message{Command: "USERS", Params: []string{"#sports"}})

	// Order is unspecified.
	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		m := recvMsg(t, alice)
		require.Equal(t, "USER", m.Command)
		require.Len(t, m.Params, 1)
		got[m.Params[0]] = true
	}
	assert.Equal(t, map[string]bool{"@alice": true, "@bob": true}, got)
}

func TestRooms(t *testing.T) {
	h := newTestHub(t)

	_, alice := register(t, h, 1, "@alice")

	h.Inbound(1, wire.Message{Command: "ROOMS"})
	assert.Equal(t, errorMsg("no rooms"), recvMsg(t, alice))

	h.Inbound(1, wire.Message{Command: "JOIN", Params: []string{"#sports"}})
	recvMsg(t, alice)
	h.Inbound(1, wire.Message{Command: "JOIN", Params: []string{"#news"}})
	recvMsg(t, alice)

	h.Inbound(1, wire.Message{Command: "ROOMS"})
	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		m := recvMsg(t, alice)
		require.Equal(t, "ROOM", m.Command)
		require.Len(t, m.Params, 1)
		got[m.Params[0]] = true
	}
	assert.Equal(t, map[string]bool{"#sports": true, "#news": true}, got)
}

func TestRename(t *testing.T) {
	h := newTestHub(t)

	_, alice := register(t, h, 1, "@alice")
	_, bob := register(t, h, 2, "@bob")

	h.Inbound(1, wire.Message{Command: "JOIN", Params: []string{"#sports"}})
	recvMsg(t, alice)
	h.Inbound(2, wire.Message{Command: "JOIN", Params: []string{"#sports"}})
	recvMsg(t, alice)
	recvMsg(t, bob)

	// A rename is silent: no second REGISTERED, no notification to others.
	// The new name takes effect for subsequent fan-outs.
	h.Inbound(1, wire.Message{Command: "NAME", Params: []string{"@alicia"}})
	h.Inbound(1, wire.Message{Command: "SAY", Params: []string{"#sports"},
		Payload: "new me"})
	said := wire.Message{Room: "#sports", User: "@alicia", Command: "SAID",
		Payload: "new me"}
	assert.Equal(t, said, recvMsg(t, alice))
	assert.Equal(t, said, recvMsg(t, bob))

	// The old name is free again.
	_, carol := openSession(t, h, 3, 64)
	h.Inbound(3, wire.Message{Command: "NAME", Params: []string{"@alice"}})
	assert.Equal(t, wire.Message{Command: "REGISTERED"}, recvMsg(t, carol))
}

func TestQuitFansOutLeft(t *testing.T) {
	h := newTestHub(t)

	_, alice := register(t, h, 1, "@alice")
	_, bob := register(t, h, 2, "@bob")

	h.Inbound(1, wire.Message{Command: "JOIN", Params: []string{"#sports"}})
	recvMsg(t, alice)
	h.Inbound(2, wire.Message{Command: "JOIN", Params: []string{"#sports"}})
	recvMsg(t, alice)
	recvMsg(t, bob)

	h.Inbound(2, wire.Message{Command: "QUIT"})
	assert.Equal(t,
		wire.Message{Room: "#sports", User: "@bob", Command: "LEFT"},
		recvMsg(t, alice))
	recvClosed(t, bob)
}

func TestTimeoutTeardown(t *testing.T) {
	h := newTestHub(t)

	_, alice := register(t, h, 1, "@alice")
	_, bob := register(t, h, 2, "@bob")

	h.Inbound(2, wire.Message{Command: "JOIN", Params: []string{"#sports"}})
	recvMsg(t, bob)
	h.Inbound(1, wire.Message{Command: "JOIN", Params: []string{"#sports"}})
	recvMsg(t, alice)
	recvMsg(t, bob)

	// The liveness monitor reporting a timeout looks like any disconnect.
	h.SessionClosed(1, ReasonTimeout)
	assert.Equal(t,
		wire.Message{Room: "#sports", User: "@alice", Command: "LEFT"},
		recvMsg(t, bob))
	recvClosed(t, alice)
}

func TestPingRequest(t *testing.T) {
	h := newTestHub(t)

	_, out := openSession(t, h, 1, 64)
	h.RequestPing(1)
	assert.Equal(t, wire.Message{Command: "PING"}, recvMsg(t, out))

	// PONG is accepted silently in any state.
	h.Inbound(1, wire.Message{Command: "PONG"})
	h.Inbound(1, wire.Message{Command: "NAME", Params: []string{"@alice"}})
	assert.Equal(t, wire.Message{Command: "REGISTERED"}, recvMsg(t, out))
}

func TestParseErrorKeepsSession(t *testing.T) {
	h := newTestHub(t)

	_, out := openSession(t, h, 1, 64)

	h.InboundError(1, &wire.ParseError{Kind: wire.ErrTooLong})
	assert.Equal(t, errorMsg("message too long"), recvMsg(t, out))

	h.Inbound(1, wire.Message{Command: "NAME", Params: []string{"@alice"}})
	assert.Equal(t, wire.Message{Command: "REGISTERED"}, recvMsg(t, out))
}

func TestUnknownCommand(t *testing.T) {
	h := newTestHub(t)

	_, alice := register(t, h, 1, "@alice")

	h.Inbound(1, wire.Message{Command: "DANCE"})
	assert.Equal(t, errorMsg("unknown command"), recvMsg(t, alice))
}

func TestSlowConsumerEviction(t *testing.T) {
	h := newTestHub(t)

	_, alice := register(t, h, 1, "@alice")

	// bob gets a one-slot outbound buffer and stops draining it.
	_, bob := openSession(t, h, 2, 1)
	h.Inbound(2, wire.Message{Command: "NAME", Params: []string{"@bob"}})
	require.Equal(t, wire.Message{Command: "REGISTERED"}, recvMsg(t, bob))

	h.Inbound(1, wire.Message{Command: "JOIN", Params: []string{"#sports"}})
	recvMsg(t, alice)
	h.Inbound(2, wire.Message{Command: "JOIN", Params: []string{"#sports"}})
	recvMsg(t, alice)
	recvMsg(t, bob)

	// First SAID fills bob's buffer; the second cannot be enqueued within
	// the send timeout, so bob is evicted and alice sees the LEFT.
	h.Inbound(1, wire.Message{Command: "SAY", Params: []string{"#sports"},
		Payload: "one"})
	h.Inbound(1, wire.Message{Command: "SAY", Params: []string{"#sports"},
		Payload: "two"})

	assert.Equal(t, wire.Message{Room: "#sports", User: "@alice",
		Command: "SAID", Payload: "one"}, recvMsg(t, alice))

	// Eviction happens mid fan-out, so alice may see the LEFT before or
	// after her own copy of the second SAID.
	got := []wire.Message{recvMsg(t, alice), recvMsg(t, alice)}
	assert.ElementsMatch(t, []wire.Message{
		{Room: "#sports", User: "@alice", Command: "SAID", Payload: "two"},
		{Room: "#sports", User: "@bob", Command: "LEFT"},
	}, got)

	recvClosed(t, bob)
}

func TestPrefixedInboundRejected(t *testing.T) {
	h := newTestHub(t)

	_, alice := register(t, h, 1, "@alice")

	h.Inbound(1, wire.Message{User: "@alice", Command: "SAY",
		Params: []string{"@alice"}, Payload: "hi"})
	assert.Equal(t, errorMsg("bad arguments"), recvMsg(t, alice))
}
