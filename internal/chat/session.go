package chat

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/Jam-Ngai/chatserver/internal/frame"
	"github.com/google/uuid"
)

const DefaultSendQueue = 1000

// Session is one client connection. Reads happen on the goroutine running
// Serve; Send may be called from any goroutine.
type Session struct {
	id     string
	remote string
	conn   io.ReadWriteCloser
	uid    atomic.Int64
	logger *slog.Logger

	mu       sync.Mutex
	queue    [][]byte // queue[0] is being written while len > 0
	maxQueue int
	closed   bool

	closeOnce sync.Once
	done      chan struct{}
	onClose   func(*Session)
}

// NewSession wraps conn. onClose runs once, after the connection is closed.
func NewSession(conn io.ReadWriteCloser, remote string, maxQueue int, onClose func(*Session), logger *slog.Logger) *Session {
	if maxQueue <= 0 {
		maxQueue = DefaultSendQueue
	}
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.NewString()
	return &Session{
		id:       id,
		remote:   remote,
		conn:     conn,
		maxQueue: maxQueue,
		done:     make(chan struct{}),
		onClose:  onClose,
		logger:   logger.With("session", id),
	}
}

func (s *Session) ID() string     { return s.id }
func (s *Session) Remote() string { return s.remote }

// UID returns the user bound by a successful login.
func (s *Session) UID() (int, bool) {
	uid := s.uid.Load()
	return int(uid), uid != 0
}

// BindUser sets the user id once. It reports false if a different user is
// already bound.
func (s *Session) BindUser(uid int) bool {
	if s.uid.CompareAndSwap(0, int64(uid)) {
		return true
	}
	return s.uid.Load() == int64(uid)
}

// Done is closed once the session has been closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Serve reads frames until the connection fails or a header is invalid,
// posting each one to d in arrival order. The session is closed on return.
func (s *Session) Serve(d *Dispatcher) {
	defer s.Close()

	r := frame.NewReader(s.conn)
	for {
		f, err := r.ReadFrame()
		if err != nil {
			s.logReadError(err)
			return
		}
		if !d.Post(Task{Session: s, MsgID: f.MsgID, Payload: f.Payload}) {
			s.logger.Debug("dispatcher rejected frame", "msg_id", f.MsgID)
		}
	}
}

func (s *Session) logReadError(err error) {
	var pe *frame.ProtocolError
	switch {
	case errors.As(err, &pe):
		s.logger.Warn("protocol violation", "msg_id", pe.MsgID, "body_len", pe.BodyLen)
	case errors.Is(err, io.EOF) || s.isClosed():
		s.logger.Info("client disconnected", "addr", s.remote)
	default:
		s.logger.Warn("read failed", "addr", s.remote, "error", err)
	}
}

// Send queues one frame. It never blocks on the network: when the queue is
// full the frame is dropped and ErrSendQueueFull returned.
func (s *Session) Send(msgID uint16, payload []byte) error {
	buf, err := frame.Encode(msgID, payload)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if len(s.queue) >= s.maxQueue {
		s.mu.Unlock()
		FramesDropped.WithLabelValues("send_queue_full").Inc()
		s.logger.Warn("send queue full, frame dropped", "msg_id", msgID)
		return ErrSendQueueFull
	}
	s.queue = append(s.queue, buf)
	start := len(s.queue) == 1
	s.mu.Unlock()

	if start {
		go s.flush()
	}
	return nil
}

// flush writes queued frames front to back. A frame leaves the queue only
// after its write completes, so exactly one flush runs while the queue is
// non-empty.
func (s *Session) flush() {
	s.mu.Lock()
	for !s.closed && len(s.queue) > 0 {
		buf := s.queue[0]
		s.mu.Unlock()

		_, err := s.conn.Write(buf)

		s.mu.Lock()
		if err != nil {
			s.mu.Unlock()
			if !s.isClosed() {
				s.logger.Warn("write failed", "addr", s.remote, "error", err)
			}
			_ = s.Close()
			return
		}
		if s.closed {
			break
		}
		s.queue[0] = nil
		s.queue = s.queue[1:]
	}
	s.mu.Unlock()
}

// Close closes the connection and drops anything still queued.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.queue = nil
		s.mu.Unlock()

		err = s.conn.Close()
		close(s.done)
		if s.onClose != nil {
			s.onClose(s)
		}
	})
	return err
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// pending reports the number of frames queued, including one in flight.
func (s *Session) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}
