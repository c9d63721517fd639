package limiter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryAcquire(t *testing.T) {
	l := New(2)

	assert.True(t, l.TryAcquire())
	assert.True(t, l.TryAcquire())
	assert.False(t, l.TryAcquire(), "third acquire should fail at capacity 2")

	l.Release()
	assert.True(t, l.TryAcquire(), "released slot should be reusable")
}

func TestAcquireBlocksUntilRelease(t *testing.T) {
	l := New(1)
	require.True(t, l.TryAcquire())

	acquired := make(chan struct{})
	go func() {
		if err := l.Acquire(context.Background()); err == nil {
			close(acquired)
		}
	}()

	select {
	case <-acquired:
		t.Fatal("Acquire should block while the slot is held")
	case <-time.After(50 * time.Millisecond):
	}

	l.Release()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("Acquire should resolve after Release")
	}
}

func TestAcquireFIFOOrder(t *testing.T) {
	l := New(1)
	require.True(t, l.TryAcquire())

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	for i := 1; i <= 3; i++ {
		wg.Add(1)
		i := i
		go func() {
			defer wg.Done()
			require.NoError(t, l.Acquire(context.Background()))
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			l.Release()
		}()
		// Give each goroutine time to join the waiter queue in order
		for {
			if l.WaitingCount() >= i {
				break
			}
			time.Sleep(time.Millisecond)
		}
	}

	l.Release()
	wg.Wait()

	assert.Equal(t, []int{1, 2, 3}, order, "waiters must resolve in FIFO order")
}

func TestClearWaiting(t *testing.T) {
	l := New(1)
	require.True(t, l.TryAcquire())

	errShutdown := errors.New("pool resetting")
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			results <- l.Acquire(context.Background())
		}()
	}

	for l.WaitingCount() < 2 {
		time.Sleep(time.Millisecond)
	}

	l.ClearWaiting(errShutdown)

	for i := 0; i < 2; i++ {
		select {
		case err := <-results:
			assert.ErrorIs(t, err, errShutdown)
		case <-time.After(time.Second):
			t.Fatal("ClearWaiting should fail all waiters promptly")
		}
	}

	assert.Equal(t, 0, l.WaitingCount(), "waiter queue should be reset")
	assert.Equal(t, 1, l.InUse(), "ClearWaiting must not free held slots")
}

func TestAcquireContextCancellation(t *testing.T) {
	l := New(1)
	require.True(t, l.TryAcquire())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- l.Acquire(ctx)
	}()

	for l.WaitingCount() < 1 {
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Cancelled Acquire should return promptly")
	}

	assert.Equal(t, 0, l.WaitingCount(), "cancelled waiter should leave the queue")
}

func TestDefaultCapacity(t *testing.T) {
	l := New(0)
	assert.Equal(t, DefaultCapacity, l.Capacity())
}
