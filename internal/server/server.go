// Package server accepts TCP connections and runs one connection actor per
// client against the hub.
package server

import (
	"net"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/parleychat/parley/internal/config"
	"github.com/parleychat/parley/internal/hub"
	"github.com/parleychat/parley/internal/metrics"
)

// Server holds the state for a server: the listener, the hub, and the
// shutdown machinery shared with every connection actor.
type Server struct {
	cfg config.Config
	log *zap.Logger
	hub *hub.Hub

	listener net.Listener

	// Closing this channel indicates that we're shutting down. Other
	// goroutines can check if this channel is closed.
	shutdownChan chan struct{}
	shutdownOnce sync.Once

	// WaitGroup to ensure all goroutines clean up before we end.
	wg sync.WaitGroup
}

// New creates a Server. Listen and Serve run it.
func New(cfg config.Config, log *zap.Logger) *Server {
	return &Server{
		cfg:          cfg,
		log:          log,
		hub:          hub.New(cfg.SendTimeout, log),
		shutdownChan: make(chan struct{}),
	}
}

// Listen binds the TCP listener.
func (s *Server) Listen(address string) error {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return errors.Wrapf(err, "unable to listen on %s", address)
	}
	s.listener = ln

	s.log.Info("listening", zap.String("address", ln.Addr().String()))
	return nil
}

// Addr returns the bound listener address. Valid after Listen.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve runs the hub and accepts connections until Shutdown or a fatal
// listener error. It returns once every session and goroutine has drained.
func (s *Server) Serve() error {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.hub.Run()
	}()

	err := s.acceptConnections()

	// Tear down every session. The hub closes their outbound channels;
	// writers drain and close the sockets; readers unblock and exit.
	s.hub.Shutdown()
	s.wg.Wait()

	s.log.Info("server shutdown complete")
	return err
}

// ListenAndServe binds and serves.
func (s *Server) ListenAndServe(address string) error {
	if err := s.Listen(address); err != nil {
		return err
	}
	return s.Serve()
}

// Shutdown initiates graceful shutdown: stop accepting, tear down every
// session, drain, exit. Safe to call from any goroutine.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.log.Info("server shutdown initiated")
		close(s.shutdownChan)

		if s.listener != nil {
			if err := s.listener.Close(); err != nil {
				s.log.Warn("problem closing listener", zap.Error(err))
			}
		}
	})
}

// Return true if the server is shutting down.
func (s *Server) isShuttingDown() bool {
	select {
	case <-s.shutdownChan:
		return true
	default:
		return false
	}
}

// acceptConnections accepts TCP connections and starts a connection actor
// for each. A transient accept error is logged and skipped; losing the
// listener itself is fatal and initiates graceful shutdown.
func (s *Server) acceptConnections() error {
	id := uint64(0)

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.isShuttingDown() {
				s.log.Info("connection accepter shutting down")
				return nil
			}

			if errors.Is(err, net.ErrClosed) {
				s.Shutdown()
				return errors.Wrap(err, "listener failed")
			}

			s.log.Warn("failed to accept connection", zap.Error(err))
			continue
		}

		metrics.ConnectionsAccepted.Inc()

		client := NewClient(s, id, conn)
		id++

		s.log.Info("new client connection",
			zap.String("remote", conn.RemoteAddr().String()),
			zap.Uint64("session", client.ID))

		client.start()
	}
}
