package chat

import (
	"log/slog"
	"strconv"
	"sync"
	"time"
)

const DefaultDispatchQueue = 10000

// Dispatcher runs every registered handler on one goroutine, in the order
// tasks were posted.
type Dispatcher struct {
	hmu      sync.RWMutex
	handlers map[uint16]HandlerFunc

	mu       sync.Mutex
	queue    []Task
	max      int
	stopping bool
	notify   chan struct{}

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
	logger   *slog.Logger
}

func NewDispatcher(max int, logger *slog.Logger) *Dispatcher {
	if max <= 0 {
		max = DefaultDispatchQueue
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		handlers: make(map[uint16]HandlerFunc),
		max:      max,
		notify:   make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		logger:   logger,
	}
}

func (d *Dispatcher) RegisterHandler(msgID uint16, h HandlerFunc) {
	d.hmu.Lock()
	d.handlers[msgID] = h
	d.hmu.Unlock()
}

// Post enqueues t. It reports false when the dispatcher is stopping or the
// queue is full; the task is dropped in both cases.
func (d *Dispatcher) Post(t Task) bool {
	d.mu.Lock()
	if d.stopping {
		d.mu.Unlock()
		FramesDropped.WithLabelValues("dispatcher_stopped").Inc()
		return false
	}
	if len(d.queue) >= d.max {
		d.mu.Unlock()
		FramesDropped.WithLabelValues("dispatch_queue_full").Inc()
		d.logger.Warn("dispatch queue full, task dropped", "msg_id", t.MsgID)
		return false
	}
	d.queue = append(d.queue, t)
	d.mu.Unlock()

	select {
	case d.notify <- struct{}{}:
	default:
	}
	return true
}

// Stop rejects further posts and tells Run to drain what is queued and exit.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.stopping = true
		d.mu.Unlock()
		close(d.stopCh)
	})
}

// Wait blocks until Run has returned.
func (d *Dispatcher) Wait() {
	<-d.doneCh
}

func (d *Dispatcher) Run() {
	defer close(d.doneCh)
	for {
		select {
		case <-d.notify:
			d.drain()
		case <-d.stopCh:
			d.drain()
			return
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		t, ok := d.pop()
		if !ok {
			return
		}
		d.handle(t)
	}
}

func (d *Dispatcher) pop() (Task, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 {
		return Task{}, false
	}
	t := d.queue[0]
	d.queue[0] = Task{}
	d.queue = d.queue[1:]
	return t, true
}

func (d *Dispatcher) handle(t Task) {
	label := strconv.Itoa(int(t.MsgID))

	var h HandlerFunc
	if t.run != nil {
		label = "internal"
		h = func(s *Session, _ uint16, _ []byte) { t.run(s) }
	} else {
		d.hmu.RLock()
		var ok bool
		h, ok = d.handlers[t.MsgID]
		d.hmu.RUnlock()
		if !ok {
			d.logger.Warn("no handler registered", "msg_id", t.MsgID)
			MessagesTotal.WithLabelValues("unhandled").Inc()
			return
		}
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panicked", "msg_id", t.MsgID, "panic", r)
		}
		MessagesTotal.WithLabelValues(label).Inc()
		DispatchDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
	}()
	h(t.Session, t.MsgID, t.Payload)
}
