package client

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestQueue_ProcessesInOrderOneAtATime(t *testing.T) {
	var (
		inFlight    atomic.Int32
		maxInFlight atomic.Int32
		mu          sync.Mutex
		order       []string
	)
	release := make(chan struct{})
	started := make(chan struct{}, 3)

	process := func(ctx context.Context, e Entry) (string, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		mu.Lock()
		order = append(order, e.Prompt)
		mu.Unlock()
		started <- struct{}{}
		<-release
		return "re: " + e.Prompt, nil
	}

	var results []Result
	q := NewQueue(context.Background(), process, func(r Result) {
		results = append(results, r)
	}, zap.NewNop())

	p1 := q.Enqueue("P1")
	<-started
	p2 := q.Enqueue("P2")
	p3 := q.Enqueue("P3")
	assert.Equal(t, 3, q.Len())
	assert.True(t, q.Processing())

	close(release)
	q.Wait()

	assert.False(t, q.Processing())
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, int32(1), maxInFlight.Load())
	assert.Equal(t, []string{"P1", "P2", "P3"}, order)
	require.Len(t, results, 3)
	assert.Equal(t, p1, results[0].Entry)
	assert.Equal(t, p2, results[1].Entry)
	assert.Equal(t, p3, results[2].Entry)
	assert.Equal(t, "re: P2", results[1].Response)
	assert.NotEqual(t, p1.ID, p2.ID)
}

func TestQueue_FailureAdvances(t *testing.T) {
	process := func(ctx context.Context, e Entry) (string, error) {
		if e.Prompt == "bad" {
			return "", errors.New("backend went away")
		}
		return "ok", nil
	}

	var results []Result
	q := NewQueue(context.Background(), process, func(r Result) {
		results = append(results, r)
	}, zap.NewNop())

	q.Enqueue("bad")
	q.Enqueue("good")
	q.Wait()

	require.Len(t, results, 2)
	assert.Error(t, results[0].Err)
	assert.NoError(t, results[1].Err)
	assert.Equal(t, "ok", results[1].Response)
}

func TestQueue_RestartsAfterIdle(t *testing.T) {
	var calls atomic.Int32
	q := NewQueue(context.Background(), func(ctx context.Context, e Entry) (string, error) {
		calls.Add(1)
		return "", nil
	}, nil, zap.NewNop())

	q.Wait()
	q.Enqueue("one")
	q.Wait()
	q.Enqueue("two")
	q.Wait()

	assert.Equal(t, int32(2), calls.Load())
}
