package memory

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWorkQueueFIFOAndDedup(t *testing.T) {
	t.Parallel()

	q := NewWorkQueue()
	require.Equal(t, 3, q.EnqueueRange(10, 3))
	require.Equal(t, 2, q.EnqueueRange(11, 4), "11 and 12 already pending")
	require.Equal(t, []int{10, 11, 12, 13, 14}, q.Snapshot())

	id, ok := q.DequeueOne()
	require.True(t, ok)
	require.Equal(t, 10, id)

	require.Equal(t, 1, q.EnqueueRange(10, 1), "dequeued ids may be enqueued again")
	require.Equal(t, []int{11, 12, 13, 14, 10}, q.Snapshot())
}

func TestWorkQueueRequeue(t *testing.T) {
	t.Parallel()

	q := NewWorkQueue()
	q.EnqueueRange(1, 2)
	id, _ := q.DequeueOne()
	require.True(t, q.Requeue(id))
	require.False(t, q.Requeue(2))
	require.Equal(t, []int{2, 1}, q.Snapshot())
}

func TestWorkQueueEmptyAndClear(t *testing.T) {
	t.Parallel()

	q := NewWorkQueue()
	_, ok := q.DequeueOne()
	require.False(t, ok)
	require.Zero(t, q.EnqueueRange(5, 0))

	q.EnqueueRange(1, 30)
	require.Equal(t, 30, q.Len())
	q.Clear()
	require.Zero(t, q.Len())
	_, ok = q.DequeueOne()
	require.False(t, ok)
	require.Equal(t, 1, q.EnqueueRange(1, 1))
}

func TestWorkQueueConcurrentOverlappingRanges(t *testing.T) {
	t.Parallel()

	q := NewWorkQueue()
	var wg sync.WaitGroup
	var mu sync.Mutex
	total := 0
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(offset int) {
			defer wg.Done()
			n := q.EnqueueRange(offset*5, 50)
			mu.Lock()
			total += n
			mu.Unlock()
		}(w)
	}
	wg.Wait()

	snapshot := q.Snapshot()
	require.Len(t, snapshot, total)
	seen := make(map[int]struct{}, len(snapshot))
	for _, id := range snapshot {
		_, dup := seen[id]
		require.False(t, dup, "id %d appears twice", id)
		seen[id] = struct{}{}
	}
	require.Len(t, seen, 85) // 0..84

	var drained sync.Map
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				id, ok := q.DequeueOne()
				if !ok {
					return
				}
				_, loaded := drained.LoadOrStore(id, true)
				require.False(t, loaded)
			}
		}()
	}
	wg.Wait()
	require.Zero(t, q.Len())
}
