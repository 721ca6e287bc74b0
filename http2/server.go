package http2

import (
	"net"
	"sync"

	slog "github.com/vearne/simplelog"

	"github.com/vearne/h2guard/config"
)

// Server accepts connections and runs one Conn per accepted socket.
// Connections are independent; the only shared state is the read-only
// settings snapshot each Conn copies at start.
type Server struct {
	settings *config.ServerSettings
	dispatch Dispatcher

	mu        sync.Mutex
	listeners []net.Listener
	conns     *ConnSet
	closed    bool
}

func NewServer(settings *config.ServerSettings, dispatch Dispatcher) *Server {
	var s Server
	s.settings = settings.WithDefaults()
	s.dispatch = dispatch
	s.conns = NewConnSet()
	return &s
}

func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	slog.Info("h2guard listening on %v", ln.Addr())
	return s.Serve(ln)
}

func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = ln.Close()
		return net.ErrClosed
	}
	s.listeners = append(s.listeners, ln)
	s.mu.Unlock()

	for {
		nc, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			return err
		}

		conn := NewConn(nc, s.settings, s.dispatch)
		s.conns.Add(conn)
		go func() {
			conn.Serve()
			s.conns.Remove(conn)
		}()
	}
}

// Shutdown closes the listeners and every live connection.
func (s *Server) Shutdown() {
	s.mu.Lock()
	s.closed = true
	listeners := s.listeners
	s.listeners = nil
	s.mu.Unlock()

	for _, ln := range listeners {
		_ = ln.Close()
	}
	s.conns.CloseAll()
	slog.Info("h2guard shut down, %v connections closed", s.conns.Size())
}
