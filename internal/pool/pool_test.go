package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id     int
	broken atomic.Bool
	closed atomic.Bool
}

type fakeFactory struct {
	mu      sync.Mutex
	created []*fakeConn
	pings   atomic.Int32
}

func (f *fakeFactory) options(size int) Options[*fakeConn] {
	return Options[*fakeConn]{
		Name: "fake",
		Size: size,
		New: func(ctx context.Context) (*fakeConn, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			c := &fakeConn{id: len(f.created)}
			f.created = append(f.created, c)
			return c, nil
		},
		Ping: func(ctx context.Context, c *fakeConn) error {
			f.pings.Add(1)
			if c.broken.Load() {
				return errors.New("broken")
			}
			return nil
		},
		Close: func(c *fakeConn) error {
			c.closed.Store(true)
			return nil
		},
	}
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

func TestPool_AcquireBlocksAtCapacity(t *testing.T) {
	f := &fakeFactory{}
	p, err := New(context.Background(), f.options(2))
	require.NoError(t, err)
	t.Cleanup(p.Close)

	r1, ok := p.Acquire()
	require.True(t, ok)
	r2, ok := p.Acquire()
	require.True(t, ok)
	assert.NotSame(t, r1.Value(), r2.Value())

	got := make(chan *Resource[*fakeConn], 1)
	go func() {
		r, ok := p.Acquire()
		if ok {
			got <- r
		}
	}()

	select {
	case <-got:
		t.Fatal("third Acquire returned while both resources were checked out")
	case <-time.After(50 * time.Millisecond):
	}

	p.Release(r1)
	select {
	case r := <-got:
		assert.Same(t, r1.Value(), r.Value())
		p.Release(r)
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken by Release")
	}
	p.Release(r2)
	assert.Equal(t, 2, p.Idle())
}

func TestPool_NeverExceedsSize(t *testing.T) {
	f := &fakeFactory{}
	const size = 3
	p, err := New(context.Background(), f.options(size))
	require.NoError(t, err)
	t.Cleanup(p.Close)

	var out, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				r, ok := p.Acquire()
				if !ok {
					return
				}
				n := out.Add(1)
				for {
					cur := peak.Load()
					if n <= cur || peak.CompareAndSwap(cur, n) {
						break
					}
				}
				time.Sleep(time.Microsecond)
				out.Add(-1)
				p.Release(r)
			}
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(size))
	assert.Equal(t, size, f.count())
}

func TestPool_CloseWakesWaitersAndRejectsAcquire(t *testing.T) {
	f := &fakeFactory{}
	p, err := New(context.Background(), f.options(1))
	require.NoError(t, err)

	r, ok := p.Acquire()
	require.True(t, ok)

	results := make(chan bool, 3)
	for i := 0; i < 3; i++ {
		go func() {
			_, ok := p.Acquire()
			results <- ok
		}()
	}
	time.Sleep(20 * time.Millisecond)

	p.Close()
	for i := 0; i < 3; i++ {
		select {
		case ok := <-results:
			assert.False(t, ok)
		case <-time.After(time.Second):
			t.Fatal("blocked Acquire not released by Close")
		}
	}

	_, ok = p.Acquire()
	assert.False(t, ok)

	// Releasing after close destroys the resource.
	p.Release(r)
	assert.True(t, r.Value().closed.Load())
	assert.Equal(t, 0, p.Idle())
}

func TestPool_AcquireContextCancel(t *testing.T) {
	f := &fakeFactory{}
	p, err := New(context.Background(), f.options(1))
	require.NoError(t, err)
	t.Cleanup(p.Close)

	r, ok := p.Acquire()
	require.True(t, ok)
	defer p.Release(r)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.AcquireContext(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPool_HealthCheckRecreatesBrokenIdle(t *testing.T) {
	f := &fakeFactory{}
	opts := f.options(2)
	opts.CheckInterval = 10 * time.Millisecond
	opts.StaleAfter = time.Nanosecond
	p, err := New(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(p.Close)

	f.mu.Lock()
	broken := f.created[0]
	f.mu.Unlock()
	broken.broken.Store(true)

	require.Eventually(t, func() bool {
		return broken.closed.Load()
	}, time.Second, 5*time.Millisecond)

	r1, ok := p.Acquire()
	require.True(t, ok)
	r2, ok := p.Acquire()
	require.True(t, ok)
	assert.NotSame(t, broken, r1.Value())
	assert.NotSame(t, broken, r2.Value())
	p.Release(r1)
	p.Release(r2)
	assert.Equal(t, 3, f.count())
}

func TestPool_NoProbesAfterClose(t *testing.T) {
	f := &fakeFactory{}
	opts := f.options(2)
	opts.CheckInterval = 5 * time.Millisecond
	opts.StaleAfter = time.Nanosecond
	p, err := New(context.Background(), opts)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return f.pings.Load() > 0 }, time.Second, time.Millisecond)
	p.Close()

	after := f.pings.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, f.pings.Load())
}

func TestPool_FreshResourcesAreNotProbed(t *testing.T) {
	f := &fakeFactory{}
	opts := f.options(2)
	opts.CheckInterval = 5 * time.Millisecond
	opts.StaleAfter = time.Hour
	p, err := New(context.Background(), opts)
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	p.Close()
	assert.Zero(t, f.pings.Load())
}

func TestPool_NewFailureCleansUp(t *testing.T) {
	var made []*fakeConn
	opts := Options[*fakeConn]{
		Name: "failing",
		Size: 3,
		New: func(ctx context.Context) (*fakeConn, error) {
			if len(made) == 2 {
				return nil, errors.New("dial refused")
			}
			c := &fakeConn{id: len(made)}
			made = append(made, c)
			return c, nil
		},
		Close: func(c *fakeConn) error {
			c.closed.Store(true)
			return nil
		},
	}
	_, err := New(context.Background(), opts)
	require.Error(t, err)
	for _, c := range made {
		assert.True(t, c.closed.Load())
	}
}
