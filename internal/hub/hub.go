// Package hub implements the central authority of the chat server. A single
// goroutine owns the user and room tables; connection actors talk to it
// through an event channel and never address each other directly. Every
// state transition is serialized here, which is what gives recipients a
// consistent delivery order.
package hub

import (
	"time"

	"go.uber.org/zap"

	"github.com/parleychat/parley/internal/metrics"
	"github.com/parleychat/parley/internal/wire"
)

// Capacity of the hub's inbound event queue.
const eventQueueLen = 512

// EventType is a type of event connection actors can tell the hub about.
type EventType int

const (
	// NullEvent is a default event. This means the event was not populated.
	NullEvent EventType = iota

	// SessionOpenedEvent means a new client connected.
	SessionOpenedEvent

	// MessageEvent means a client sent a well-formed message.
	MessageEvent

	// ParseErrorEvent means a client sent a line we could not parse.
	ParseErrorEvent

	// PingRequestEvent means a connection's liveness monitor wants a PING
	// sent. The request goes through the hub so the outbound channel keeps
	// a single producer.
	PingRequestEvent

	// SessionClosedEvent means a session ended and must be cleaned up.
	SessionClosedEvent
)

// Event holds a message containing something to tell the hub.
type Event struct {
	Type EventType

	// ID identifies the session. Always set.
	ID uint64

	// Session is set for SessionOpenedEvent only.
	Session *Session

	Message  wire.Message
	ParseErr *wire.ParseError
	Reason   CloseReason
}

// Hub is the single authoritative actor over users and rooms.
type Hub struct {
	log *zap.Logger

	// How long a delivery may block on a session's outbound channel before
	// the session is evicted as a slow consumer.
	sendTimeout time.Duration

	// Session id to session. All connected clients, registered or not.
	sessions map[uint64]*Session

	// Registered name to session id.
	names map[wire.UserName]uint64

	// Room name to members by session id.
	rooms map[wire.RoomName]map[uint64]*Session

	events chan Event

	// Closing this channel initiates shutdown.
	shutdownChan chan struct{}

	// Closed when the event loop has torn everything down and returned.
	doneChan chan struct{}
}

// New creates a Hub. Run must be called for it to do anything.
func New(sendTimeout time.Duration, log *zap.Logger) *Hub {
	return &Hub{
		log:          log,
		sendTimeout:  sendTimeout,
		sessions:     make(map[uint64]*Session),
		names:        make(map[wire.UserName]uint64),
		rooms:        make(map[wire.RoomName]map[uint64]*Session),
		events:       make(chan Event, eventQueueLen),
		shutdownChan: make(chan struct{}),
		doneChan:     make(chan struct{}),
	}
}

// Run processes events until Shutdown. It is the only goroutine that touches
// the session and room tables.
func (h *Hub) Run() {
	defer close(h.doneChan)

	for {
		select {
		case evt := <-h.events:
			h.handleEvent(evt)
		case <-h.shutdownChan:
			for _, s := range h.sessions {
				h.teardown(s, ReasonShutdown)
			}
			h.log.Info("hub shut down")
			return
		}
	}
}

// Shutdown stops the event loop and tears down every session. It returns
// once the loop has exited. Safe to call from any goroutine, once.
func (h *Hub) Shutdown() {
	close(h.shutdownChan)
	<-h.doneChan
}

// Done reports hub termination. Closed after Run returns.
func (h *Hub) Done() <-chan struct{} {
	return h.doneChan
}

// newEvent tells the hub something happened.
//
// Any goroutine can call this. It will not block on shutdown: once the
// shutdown channel closes, events are dropped, which is fine because the
// loop is tearing every session down anyway.
func (h *Hub) newEvent(evt Event) {
	select {
	case h.events <- evt:
	case <-h.shutdownChan:
	}
}

// SessionOpened registers a new session with the hub. The hub replies with
// CONNECTED on the session's outbound channel.
func (h *Hub) SessionOpened(s *Session) {
	h.newEvent(Event{Type: SessionOpenedEvent, ID: s.ID, Session: s})
}

// Inbound hands the hub a parsed message from a session.
func (h *Hub) Inbound(id uint64, m wire.Message) {
	h.newEvent(Event{Type: MessageEvent, ID: id, Message: m})
}

// InboundError hands the hub a parse failure from a session.
func (h *Hub) InboundError(id uint64, perr *wire.ParseError) {
	h.newEvent(Event{Type: ParseErrorEvent, ID: id, ParseErr: perr})
}

// RequestPing asks the hub to enqueue a PING for the session.
func (h *Hub) RequestPing(id uint64) {
	h.newEvent(Event{Type: PingRequestEvent, ID: id})
}

// SessionClosed tells the hub a session is gone (socket error, timeout,
// actor shutdown). The hub fans out LEFT and frees the name.
func (h *Hub) SessionClosed(id uint64, reason CloseReason) {
	h.newEvent(Event{Type: SessionClosedEvent, ID: id, Reason: reason})
}

func (h *Hub) handleEvent(evt Event) {
	if evt.Type == SessionOpenedEvent {
		h.sessions[evt.ID] = evt.Session
		metrics.SessionsActive.Inc()
		h.log.Info("session opened", zap.Uint64("session", evt.ID))
		h.deliver(evt.Session, wire.Message{Command: "CONNECTED"})
		return
	}

	// Events may race teardown; a stale id is not an error.
	s, exists := h.sessions[evt.ID]
	if !exists {
		return
	}

	switch evt.Type {
	case MessageEvent:
		h.handleMessage(s, evt.Message)
	case ParseErrorEvent:
		metrics.ParseErrors.Inc()
		h.log.Debug("parse error", zap.Uint64("session", evt.ID),
			zap.String("reason", evt.ParseErr.Reply()))
		h.replyError(s, evt.ParseErr.Reply())
	case PingRequestEvent:
		h.deliver(s, wire.Message{Command: "PING"})
	case SessionClosedEvent:
		h.teardown(s, evt.Reason)
	default:
		h.log.Error("unexpected event", zap.Int("type", int(evt.Type)))
	}
}

// handleMessage takes action based on a client's message.
func (h *Hub) handleMessage(s *Session, m wire.Message) {
	h.log.Debug("message from client", zap.Uint64("session", s.ID),
		zap.String("command", m.Command))

	// Clients do not send prefixes. Only the server does.
	if m.Room != "" || m.User != "" {
		h.replyError(s, "bad arguments")
		return
	}

	if m.Command == "QUIT" {
		h.teardown(s, ReasonQuit)
		return
	}

	if m.Command == "PONG" {
		// Liveness timers reset on any inbound activity, at the reader.
		// Nothing to do here.
		return
	}

	if m.Command == "NAME" {
		h.nameCommand(s, m)
		return
	}

	// All other commands require registration.
	if s.State != StateRegistered {
		h.replyError(s, "registration required")
		return
	}

	switch m.Command {
	case "JOIN":
		h.joinCommand(s, m)
	case "LEAVE":
		h.leaveCommand(s, m)
	case "SAY":
		h.sayCommand(s, m)
	case "USERS":
		h.usersCommand(s, m)
	case "ROOMS":
		h.roomsCommand(s, m)
	default:
		h.replyError(s, "unknown command")
	}
}

// nameCommand registers or renames a session, enforcing name uniqueness.
// The first successful NAME moves the session to StateRegistered and is
// answered with REGISTERED. A rename is silent; the new name simply takes
// effect for subsequent fan-outs.
func (h *Hub) nameCommand(s *Session, m wire.Message) {
	if len(m.Params) == 0 {
		h.replyError(s, "bad format of user name")
		return
	}
	if len(m.Params) > 1 || m.Payload != "" {
		h.replyError(s, "bad arguments")
		return
	}

	name, perr := wire.ParseUserName(m.Params[0])
	if perr != nil {
		h.replyError(s, perr.Reply())
		return
	}

	if owner, exists := h.names[name]; exists && owner != s.ID {
		h.replyError(s, "user already exists "+string(name))
		return
	}

	if s.Name != "" {
		delete(h.names, s.Name)
	}
	h.names[name] = s.ID
	s.Name = name

	if s.State == StateConnected {
		s.State = StateRegistered
		h.log.Info("session registered", zap.Uint64("session", s.ID),
			zap.String("name", string(name)))
		h.deliver(s, wire.Message{Command: "REGISTERED"})
	}
}

// joinCommand adds the session to a room, creating the room if needed, and
// fans out JOINED to every member of the resulting room, the joiner
// included. Joining a room twice just emits the fan-out again.
func (h *Hub) joinCommand(s *Session, m wire.Message) {
	room, ok := h.roomArg(s, m)
	if !ok {
		return
	}

	members, exists := h.rooms[room]
	if !exists {
		members = make(map[uint64]*Session)
		h.rooms[room] = members
		metrics.RoomsActive.Inc()
		h.log.Info("room created", zap.String("room", string(room)))
	}

	members[s.ID] = s
	s.Rooms[room] = struct{}{}

	h.fanOut(members, wire.Message{Room: room, User: s.Name, Command: "JOINED"})
}

// leaveCommand removes the session from a room. Remaining members get LEFT;
// a room with no members left is deleted on the spot.
func (h *Hub) leaveCommand(s *Session, m wire.Message) {
	room, ok := h.roomArg(s, m)
	if !ok {
		return
	}

	members, exists := h.rooms[room]
	if !exists {
		h.replyError(s, "room unknown "+string(room))
		return
	}

	if _, member := members[s.ID]; !member {
		h.replyError(s, "user not in room "+string(s.Name)+" "+string(room))
		return
	}

	h.removeFromRoom(s, room, s.Name)
}

// sayCommand delivers a payload to a room (every member, sender included) or
// to a single user.
func (h *Hub) sayCommand(s *Session, m wire.Message) {
	if len(m.Params) == 0 {
		h.replyError(s, "bad arguments")
		return
	}
	if len(m.Params) > 1 || m.Payload == "" {
		h.replyError(s, "bad arguments")
		return
	}

	target := m.Params[0]

	if target[0] == '#' {
		room := wire.RoomName(target)
		members, exists := h.rooms[room]
		if !exists {
			h.replyError(s, "room unknown "+string(room))
			return
		}
		h.fanOut(members, wire.Message{Room: room, User: s.Name,
			Command: "SAID", Payload: m.Payload})
		return
	}

	name := wire.UserName(target)
	id, exists := h.names[name]
	if !exists {
		h.replyError(s, "user unknown "+string(name))
		return
	}
	h.deliver(h.sessions[id], wire.Message{User: s.Name, Command: "SAID",
		Payload: m.Payload})
}

// usersCommand lists the members of a room to the requester, one USER line
// each, in no particular order.
func (h *Hub) usersCommand(s *Session, m wire.Message) {
	room, ok := h.roomArg(s, m)
	if !ok {
		return
	}

	members, exists := h.rooms[room]
	if !exists {
		h.replyError(s, "room unknown "+string(room))
		return
	}

	for _, member := range members {
		h.deliver(s, wire.Message{Command: "USER",
			Params: []string{string(member.Name)}})
	}
}

// roomsCommand lists every existing room to the requester.
func (h *Hub) roomsCommand(s *Session, m wire.Message) {
	if len(m.Params) != 0 || m.Payload != "" {
		h.replyError(s, "bad arguments")
		return
	}

	if len(h.rooms) == 0 {
		h.replyError(s, "no rooms")
		return
	}

	for room := range h.rooms {
		h.deliver(s, wire.Message{Command: "ROOM", Params: []string{string(room)}})
	}
}

// roomArg extracts the single room-name argument commands like JOIN, LEAVE,
// and USERS take, replying with the appropriate error if it is missing or
// malformed.
func (h *Hub) roomArg(s *Session, m wire.Message) (wire.RoomName, bool) {
	if len(m.Params) == 0 {
		h.replyError(s, "bad format of room name")
		return "", false
	}
	if len(m.Params) > 1 || m.Payload != "" {
		h.replyError(s, "bad arguments")
		return "", false
	}

	room, perr := wire.ParseRoomName(m.Params[0])
	if perr != nil {
		h.replyError(s, perr.Reply())
		return "", false
	}

	return room, true
}

// teardown removes a session from every table and tells the other members
// of its rooms. Closing the outbound channel is the signal to the
// connection actor's writer to drain and close the socket.
func (h *Hub) teardown(s *Session, reason CloseReason) {
	if s.State == StateClosing {
		return
	}
	s.State = StateClosing

	h.log.Info("session closed", zap.Uint64("session", s.ID),
		zap.String("name", string(s.Name)), zap.String("reason", reason.String()))
	metrics.SessionsClosed.WithLabelValues(reason.String()).Inc()

	for room := range s.Rooms {
		h.removeFromRoom(s, room, s.Name)
	}

	if s.Name != "" {
		delete(h.names, s.Name)
	}
	delete(h.sessions, s.ID)
	metrics.SessionsActive.Dec()

	close(s.out)
}

// removeFromRoom drops a membership, deletes the room if that left it
// empty, and otherwise fans out LEFT to the remaining members.
func (h *Hub) removeFromRoom(s *Session, room wire.RoomName, as wire.UserName) {
	members, exists := h.rooms[room]
	if !exists {
		return
	}

	delete(members, s.ID)
	delete(s.Rooms, room)

	if len(members) == 0 {
		delete(h.rooms, room)
		metrics.RoomsActive.Dec()
		h.log.Info("room deleted", zap.String("room", string(room)))
		return
	}

	h.fanOut(members, wire.Message{Room: room, User: as, Command: "LEFT"})
}

func (h *Hub) replyError(s *Session, reason string) {
	h.deliver(s, wire.Message{Command: "ERROR", Payload: reason})
}

// fanOut delivers one message to every member of a room. Delivery is not
// atomic across recipients, but each recipient sees the hub's serialization
// order of the events that target it.
func (h *Hub) fanOut(members map[uint64]*Session, m wire.Message) {
	for _, member := range members {
		h.deliver(member, m)
	}
}

// deliver enqueues a message on a session's outbound channel.
//
// The channel is bounded. If the send would block for longer than the send
// timeout, the session is evicted as a slow consumer: one stuck client must
// not be able to wedge the hub or grow its memory without bound.
func (h *Hub) deliver(s *Session, m wire.Message) {
	if s.State == StateClosing {
		return
	}

	select {
	case s.out <- m:
		metrics.MessagesDelivered.Inc()
		return
	default:
	}

	t := time.NewTimer(h.sendTimeout)
	defer t.Stop()

	select {
	case s.out <- m:
		metrics.MessagesDelivered.Inc()
	case <-t.C:
		h.log.Warn("evicting slow consumer", zap.Uint64("session", s.ID),
			zap.String("name", string(s.Name)))
		h.teardown(s, ReasonSlow)
	}
}
