package chat

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcher_RunsInPostOrderOnOneWorker(t *testing.T) {
	d := NewDispatcher(0, nil)

	var (
		active, maxActive atomic.Int32
		mu                sync.Mutex
		order             []byte
	)
	done := make(chan struct{})
	const n = 500
	d.RegisterHandler(1, func(_ *Session, _ uint16, payload []byte) {
		cur := active.Add(1)
		if cur > maxActive.Load() {
			maxActive.Store(cur)
		}
		mu.Lock()
		order = append(order, payload[0])
		full := len(order) == n
		mu.Unlock()
		active.Add(-1)
		if full {
			close(done)
		}
	})
	go d.Run()
	t.Cleanup(func() {
		d.Stop()
		d.Wait()
	})

	for i := 0; i < n; i++ {
		require.True(t, d.Post(Task{MsgID: 1, Payload: []byte{byte(i)}}))
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handlers did not finish")
	}
	for i := 0; i < n; i++ {
		assert.Equal(t, byte(i), order[i])
	}
	assert.Equal(t, int32(1), maxActive.Load())
}

func TestDispatcher_StopDrainsQueueAndRejectsPosts(t *testing.T) {
	d := NewDispatcher(0, nil)
	var handled atomic.Int32
	d.RegisterHandler(1, func(*Session, uint16, []byte) { handled.Add(1) })

	for i := 0; i < 10; i++ {
		require.True(t, d.Post(Task{MsgID: 1}))
	}
	d.Stop()
	assert.False(t, d.Post(Task{MsgID: 1}))

	d.Run()
	d.Wait()
	assert.Equal(t, int32(10), handled.Load())
}

func TestDispatcher_UnknownIDAndPanicDoNotStopWorker(t *testing.T) {
	d := NewDispatcher(0, nil)
	got := make(chan uint16, 4)
	d.RegisterHandler(1, func(*Session, uint16, []byte) { panic("boom") })
	d.RegisterHandler(2, func(_ *Session, id uint16, _ []byte) { got <- id })

	go d.Run()
	t.Cleanup(func() {
		d.Stop()
		d.Wait()
	})

	d.Post(Task{MsgID: 99})
	d.Post(Task{MsgID: 1})
	d.Post(Task{MsgID: 2})

	select {
	case id := <-got:
		assert.Equal(t, uint16(2), id)
	case <-time.After(time.Second):
		t.Fatal("worker stopped after a panic")
	}
}

func TestDispatcher_FullQueueDrops(t *testing.T) {
	d := NewDispatcher(2, nil)
	assert.True(t, d.Post(Task{MsgID: 1}))
	assert.True(t, d.Post(Task{MsgID: 1}))
	assert.False(t, d.Post(Task{MsgID: 1}))
}

func TestDispatcher_StopIsIdempotent(t *testing.T) {
	d := NewDispatcher(0, nil)
	go d.Run()
	d.Stop()
	d.Stop()
	d.Wait()
}

func TestDispatcher_InternalTaskRunsInOrderWithFrames(t *testing.T) {
	d := NewDispatcher(0, nil)
	var order []string
	d.RegisterHandler(1, func(_ *Session, _ uint16, _ []byte) {
		order = append(order, "frame")
	})

	require.True(t, d.Post(Task{MsgID: 1}))
	require.True(t, d.Post(Task{run: func(*Session) { order = append(order, "internal") }}))
	require.True(t, d.Post(Task{MsgID: 1}))

	go d.Run()
	d.Stop()
	d.Wait()
	assert.Equal(t, []string{"frame", "internal", "frame"}, order)
}
