package server

import (
	"fmt"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/parleychat/parley/internal/hub"
	"github.com/parleychat/parley/internal/wire"
)

// Client is the per-connection actor. It owns the TCP socket and runs three
// goroutines: a reader feeding parsed lines to the hub, a writer draining
// the outbound channel (the sole socket writer), and a liveness monitor
// running the PING/PONG timers.
//
// The actor never touches hub state directly. The hub owns the session
// record and is the only producer on WriteChan; it closes WriteChan to tell
// the writer to drain and shut the socket.
type Client struct {
	// A unique id. Internal to this server only.
	ID uint64

	Conn Conn

	// WriteChan is the channel the writer drains to the socket.
	WriteChan chan wire.Message

	Session *hub.Session

	srv *Server
	log *zap.Logger

	// Pulsed by the reader on any inbound line so the liveness monitor can
	// reset its timers.
	activity chan struct{}

	// Closed when the reader exits, which also stops the liveness monitor.
	readerDone chan struct{}
}

// NewClient creates a Client around an accepted connection.
func NewClient(srv *Server, id uint64, conn net.Conn) *Client {
	writeChan := make(chan wire.Message, srv.cfg.SendQueue)

	return &Client{
		ID:         id,
		Conn:       NewConn(conn, srv.cfg.IOWait),
		WriteChan:  writeChan,
		Session:    hub.NewSession(id, writeChan),
		srv:        srv,
		log:        srv.log.With(zap.Uint64("session", id)),
		activity:   make(chan struct{}, 1),
		readerDone: make(chan struct{}),
	}
}

func (c *Client) String() string {
	return fmt.Sprintf("%d %s", c.ID, c.Conn.RemoteAddr())
}

// start registers the session with the hub (which greets it with CONNECTED)
// and launches the actor's goroutines.
func (c *Client) start() {
	c.srv.hub.SessionOpened(c.Session)

	c.srv.wg.Add(1)
	go c.readLoop()
	c.srv.wg.Add(1)
	go c.writeLoop()
	c.srv.wg.Add(1)
	go c.livenessLoop()
}

// readLoop endlessly reads lines from the socket, parses them, and passes
// them to the hub. Parse failures become ERROR replies via the hub; they do
// not end the session. Read errors and EOF do, as an implicit QUIT.
func (c *Client) readLoop() {
	defer c.srv.wg.Done()
	defer close(c.readerDone)

	for {
		if c.srv.isShuttingDown() {
			break
		}

		raw, err := c.Conn.Read()
		if err != nil {
			c.log.Debug("read ended", zap.Error(err))
			c.srv.hub.SessionClosed(c.ID, hub.ReasonError)
			break
		}

		c.noteActivity()

		// Enforce the length cap on the framed line, terminator included,
		// before any parsing.
		if len(raw) > wire.MaxLineLength {
			c.srv.hub.InboundError(c.ID, &wire.ParseError{Kind: wire.ErrTooLong})
			continue
		}

		line := strings.TrimRight(raw, "\r\n")
		if line == "" {
			continue
		}

		m, perr := wire.ParseLine(line)
		if perr != nil {
			c.srv.hub.InboundError(c.ID, perr)
			continue
		}

		c.srv.hub.Inbound(c.ID, m)
	}

	c.log.Debug("reader shutting down")
}

// writeLoop drains the outbound channel, encodes each message, and writes
// it to the socket. It is the only goroutine that writes to or closes the
// socket. It ends when the hub closes the channel (after draining whatever
// is buffered), on a write error, or on server shutdown.
func (c *Client) writeLoop() {
	defer c.srv.wg.Done()

Loop:
	for {
		select {
		case m, ok := <-c.WriteChan:
			if !ok {
				break Loop
			}

			line, err := m.Encode()
			if err != nil {
				// A message the hub built that cannot be encoded is a bug.
				// Drop it rather than kill the session.
				c.log.Error("dropping unencodable message", zap.Error(err))
				continue
			}

			if err := c.Conn.Write(line); err != nil {
				c.log.Debug("write failed", zap.Error(err))
				c.srv.hub.SessionClosed(c.ID, hub.ReasonError)
				break Loop
			}
		case <-c.srv.shutdownChan:
			break Loop
		}
	}

	if err := c.Conn.Close(); err != nil {
		c.log.Debug("problem closing connection", zap.Error(err))
	}

	c.log.Debug("writer shutting down")
}

// livenessLoop runs the idle and pong timers. After IdleTime without any
// inbound line it asks the hub to send a PING and arms the pong deadline;
// any inbound activity resets both. If the deadline fires first, the
// session is reported dead.
func (c *Client) livenessLoop() {
	defer c.srv.wg.Done()

	idle := time.NewTimer(c.srv.cfg.IdleTime)
	defer idle.Stop()

	// Armed only while a PING is outstanding.
	var pong *time.Timer
	var pongC <-chan time.Time

	stopPong := func() {
		if pong != nil {
			pong.Stop()
			pong, pongC = nil, nil
		}
	}
	defer stopPong()

	for {
		select {
		case <-c.activity:
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(c.srv.cfg.IdleTime)
			stopPong()

		case <-idle.C:
			c.srv.hub.RequestPing(c.ID)
			pong = time.NewTimer(c.srv.cfg.PongTime)
			pongC = pong.C

		case <-pongC:
			c.log.Info("ping timeout")
			c.srv.hub.SessionClosed(c.ID, hub.ReasonTimeout)
			return

		case <-c.readerDone:
			return

		case <-c.srv.shutdownChan:
			return
		}
	}
}

// noteActivity pulses the liveness monitor without blocking.
func (c *Client) noteActivity() {
	select {
	case c.activity <- struct{}{}:
	default:
	}
}
