package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteQueueRunsSerially(t *testing.T) {
	q := NewWriteQueue(0)
	defer q.Drain()

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := q.Enqueue(context.Background(), func(ctx context.Context) error {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				time.Sleep(time.Millisecond)
				return nil
			})
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, order, 20)
	stats := q.Stats()
	assert.Equal(t, int64(20), stats.TotalWrites)
}

func TestWriteQueuePropagatesTaskError(t *testing.T) {
	q := NewWriteQueue(0)
	defer q.Drain()

	boom := assert.AnError
	err := q.Enqueue(context.Background(), func(ctx context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestWriteQueueDrainWaitsForInFlight(t *testing.T) {
	q := NewWriteQueue(0)
	ran := false
	done := make(chan struct{})
	go func() {
		_ = q.Enqueue(context.Background(), func(ctx context.Context) error {
			time.Sleep(10 * time.Millisecond)
			ran = true
			return nil
		})
		close(done)
	}()
	<-done
	q.Drain()
	assert.True(t, ran)
}
