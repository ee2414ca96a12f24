package dbpool

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

// fakeConn stands in for a driver connection.
type fakeConn struct {
	id     int
	broken bool
	closed bool
}

type harness struct {
	mu      sync.Mutex
	built   atomic.Int32
	closedN atomic.Int32
}

func (h *harness) factory() Factory[*fakeConn] {
	return Factory[*fakeConn]{
		New: func() (*fakeConn, error) {
			return &fakeConn{id: int(h.built.Add(1))}, nil
		},
		Validate: func(c *fakeConn) bool { return !c.broken },
		Close: func(c *fakeConn) {
			c.closed = true
			h.closedN.Add(1)
		},
	}
}

func TestPoolWarmUp(t *testing.T) {
	h := &harness{}
	p, err := New(h.factory(), Config{MinIdle: 3, MaxOpen: 5})
	require.NoError(t, err)
	defer p.Close()

	open, idle := p.Stats()
	assert.Equal(t, 3, open)
	assert.Equal(t, 3, idle)
}

func TestAcquireRelease(t *testing.T) {
	h := &harness{}
	p, err := New(h.factory(), Config{MinIdle: 1, MaxOpen: 2})
	require.NoError(t, err)
	defer p.Close()

	c, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NotNil(t, c)

	open, idle := p.Stats()
	assert.Equal(t, 1, open)
	assert.Equal(t, 0, idle)

	p.Release(c)
	_, idle = p.Stats()
	assert.Equal(t, 1, idle)
}

func TestValidationDiscardsBroken(t *testing.T) {
	h := &harness{}
	p, err := New(h.factory(), Config{MinIdle: 1, MaxOpen: 2})
	require.NoError(t, err)
	defer p.Close()

	c, err := p.Acquire(context.Background())
	require.NoError(t, err)
	c.broken = true
	p.Release(c)

	replacement, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, c, replacement, "broken resource must not be handed out")
	assert.True(t, c.closed)
}

func TestAcquireBlocksUntilRelease(t *testing.T) {
	h := &harness{}
	p, err := New(h.factory(), Config{MaxOpen: 1})
	require.NoError(t, err)
	defer p.Close()

	first, err := p.Acquire(context.Background())
	require.NoError(t, err)

	got := make(chan *fakeConn, 1)
	go func() {
		c, aerr := p.Acquire(context.Background())
		if aerr == nil {
			got <- c
		}
	}()

	select {
	case <-got:
		t.Fatalf("second acquire should block while the pool is exhausted")
	case <-time.After(50 * time.Millisecond):
	}

	p.Release(first)
	select {
	case c := <-got:
		assert.Same(t, first, c)
	case <-time.After(2 * time.Second):
		t.Fatalf("blocked acquire never woke up")
	}
}

func TestAcquireTimeout(t *testing.T) {
	h := &harness{}
	p, err := New(h.factory(), Config{MaxOpen: 1, AcquireTimeout: 50 * time.Millisecond})
	require.NoError(t, err)
	defer p.Close()

	_, err = p.Acquire(context.Background())
	require.NoError(t, err)

	start := time.Now()
	_, err = p.Acquire(context.Background())
	require.ErrorIs(t, err, ErrAcquireTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestAcquireContextCancel(t *testing.T) {
	h := &harness{}
	p, err := New(h.factory(), Config{MaxOpen: 1})
	require.NoError(t, err)
	defer p.Close()

	_, err = p.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, aerr := p.Acquire(ctx)
		errCh <- aerr
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case aerr := <-errCh:
		assert.True(t, errors.Is(aerr, context.Canceled))
	case <-time.After(2 * time.Second):
		t.Fatalf("cancelled acquire never returned")
	}
}

func TestCloseWakesWaitersAndDrains(t *testing.T) {
	h := &harness{}
	p, err := New(h.factory(), Config{MinIdle: 2, MaxOpen: 2})
	require.NoError(t, err)

	held, err := p.Acquire(context.Background())
	require.NoError(t, err)
	heldB, err := p.Acquire(context.Background())
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, aerr := p.Acquire(context.Background())
		errCh <- aerr
	}()
	time.Sleep(20 * time.Millisecond)
	p.Close()

	select {
	case aerr := <-errCh:
		assert.ErrorIs(t, aerr, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatalf("waiter not woken by Close")
	}

	// Resources released after close are torn down, not pooled.
	p.Release(held)
	p.Release(heldB)
	assert.True(t, held.closed)
	assert.True(t, heldB.closed)

	_, err = p.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMaxOpenBound(t *testing.T) {
	h := &harness{}
	p, err := New(h.factory(), Config{MaxOpen: 3, AcquireTimeout: 30 * time.Millisecond})
	require.NoError(t, err)
	defer p.Close()

	var conns []*fakeConn
	for i := 0; i < 3; i++ {
		c, aerr := p.Acquire(context.Background())
		require.NoError(t, aerr)
		conns = append(conns, c)
	}
	_, err = p.Acquire(context.Background())
	require.ErrorIs(t, err, ErrAcquireTimeout)
	assert.LessOrEqual(t, h.built.Load(), int32(3))
	for _, c := range conns {
		p.Release(c)
	}
}
