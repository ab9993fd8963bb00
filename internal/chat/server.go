package chat

import (
	"io"
	"log/slog"
	"net"
	"sync"
)

// Server accepts client connections, owns the table of open sessions and
// runs the dispatcher that handles their frames.
type Server struct {
	addr       string
	sendQueue  int
	dispatcher *Dispatcher
	onClose    func(*Session)
	logger     *slog.Logger

	listener net.Listener

	mu       sync.Mutex
	sessions map[string]*Session
	stopped  bool
	wg       sync.WaitGroup
}

type ServerOptions struct {
	Addr      string
	SendQueue int
	// OnClose runs after a session is removed from the session table.
	OnClose func(*Session)
	Logger  *slog.Logger
}

func NewServer(opts ServerOptions, d *Dispatcher) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:       opts.Addr,
		sendQueue:  opts.SendQueue,
		dispatcher: d,
		onClose:    opts.OnClose,
		logger:     logger,
		sessions:   make(map[string]*Session),
	}
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = ln

	go s.dispatcher.Run()
	go s.acceptLoop(ln)

	s.logger.Info("server started", "addr", ln.Addr().String())
	return nil
}

// Addr is the bound listen address once Start has succeeded.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener and every session, then drains the dispatcher.
func (s *Server) Stop() {
	s.logger.Info("shutting down")

	if s.listener != nil {
		s.listener.Close()
	}

	s.mu.Lock()
	s.stopped = true
	open := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		open = append(open, sess)
	}
	s.mu.Unlock()

	for _, sess := range open {
		_ = sess.Close()
	}
	s.wg.Wait()

	s.dispatcher.Stop()
	s.dispatcher.Wait()

	s.logger.Info("shutdown complete")
}

func (s *Server) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			// listener closed
			return
		}
		s.logger.Info("client connected", "addr", conn.RemoteAddr().String())
		go s.ServeConn(conn, conn.RemoteAddr().String())
	}
}

// ServeConn runs a session on conn until it closes. Any stream transport
// carrying the frame format can be served this way.
func (s *Server) ServeConn(conn io.ReadWriteCloser, remote string) {
	sess := NewSession(conn, remote, s.sendQueue, s.release, s.logger)

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.sessions[sess.ID()] = sess
	s.wg.Add(1)
	ConnectedSessions.Set(float64(len(s.sessions)))
	s.mu.Unlock()

	defer s.wg.Done()
	sess.Serve(s.dispatcher)
}

// SessionCount reports the number of open sessions.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) release(sess *Session) {
	s.mu.Lock()
	delete(s.sessions, sess.ID())
	ConnectedSessions.Set(float64(len(s.sessions)))
	s.mu.Unlock()

	if s.onClose != nil {
		s.onClose(sess)
	}
}
