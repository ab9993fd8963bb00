package chat

// HandlerFunc handles one inbound frame. Handlers run on the dispatcher's
// single worker, one at a time.
type HandlerFunc func(s *Session, msgID uint16, payload []byte)

// Task is a reassembled inbound frame waiting for its handler. A task with
// run set is internal work for Session and bypasses the handler table.
type Task struct {
	Session *Session
	MsgID   uint16
	Payload []byte

	run func(*Session)
}

var (
	ErrSendQueueFull = errorString("send_queue_full")
	ErrSessionClosed = errorString("session_closed")
)

type errorString string

func (e errorString) Error() string { return string(e) }
