package jobs

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueBeforeStartFails(t *testing.T) {
	q := New("test", func(context.Context, Task) error { return nil }, Options{})
	err := q.Enqueue(Task{ID: "t-1", Kind: "noop"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not started")
}

func TestQueueProcessesTasks(t *testing.T) {
	var handled atomic.Int64
	q := New("test", func(_ context.Context, task Task) error {
		handled.Add(1)
		return nil
	}, Options{Workers: 2})

	q.Start(context.Background())
	defer q.Stop()

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(Task{ID: fmt.Sprintf("t-%d", i), Kind: "noop"}))
	}

	require.Eventually(t, func() bool {
		return handled.Load() == 5
	}, time.Second, 10*time.Millisecond)
}

func TestQueueRetriesUpToBudget(t *testing.T) {
	var attempts atomic.Int64
	q := New("test", func(_ context.Context, task Task) error {
		attempts.Add(1)
		return fmt.Errorf("boom")
	}, Options{MaxRetries: 2})
	q.backoff = time.Millisecond

	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Task{ID: "t-1", Kind: "flaky"}))

	// Initial attempt plus two retries, then the task is dropped.
	require.Eventually(t, func() bool {
		return attempts.Load() == 3
	}, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(3), attempts.Load())
}
