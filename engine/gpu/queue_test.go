package gpu_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Carmen-Shannon/oxy-queue/engine/gpu"
)

// stubObject records the events dispatched on it.
type stubObject struct {
	name string

	mu   sync.Mutex
	seen []gpu.Event
}

func (s *stubObject) Handle() gpu.Handle    { return 1 }
func (s *stubObject) Name() string          { return s.name }
func (s *stubObject) Context() *gpu.Context { return nil }

func (s *stubObject) DispatchEvent(ev gpu.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, ev)
	return nil
}

func TestQueueEnqueuePreservesOrder(t *testing.T) {
	q := gpu.NewQueue()
	a, b := &stubObject{name: "a"}, &stubObject{name: "b"}

	q.Enqueue(a, gpu.CreateEvent{})
	q.Enqueue(b, gpu.CreateEvent{})
	q.Enqueue(a, gpu.UpdateRangeEvent{Offset: 1, Length: 1})
	q.Enqueue(a, gpu.DisposeEvent{})

	entries := q.DrainAndClear()
	require.Len(t, entries, 4)
	assert.Equal(t, gpu.QueueEntry{Object: a, Event: gpu.CreateEvent{}}, entries[0])
	assert.Equal(t, gpu.QueueEntry{Object: b, Event: gpu.CreateEvent{}}, entries[1])
	assert.Equal(t, gpu.EventUpdateRange, entries[2].Event.Kind())
	assert.Equal(t, gpu.EventDispose, entries[3].Event.Kind())
}

func TestQueueEnqueueUniqueCollapses(t *testing.T) {
	q := gpu.NewQueue()
	a, b := &stubObject{name: "a"}, &stubObject{name: "b"}

	q.Enqueue(a, gpu.CreateEvent{})
	q.EnqueueUnique(a, gpu.GrowCapacityEvent{Capacity: 4})
	q.EnqueueUnique(b, gpu.GrowCapacityEvent{Capacity: 2})
	q.EnqueueUnique(a, gpu.UpdateRangeEvent{Offset: 0, Length: 1})
	q.EnqueueUnique(a, gpu.GrowCapacityEvent{Capacity: 8})

	entries := q.DrainAndClear()
	require.Len(t, entries, 4)
	// The collapsed entry keeps its original position with the newest payload.
	assert.Equal(t, gpu.QueueEntry{Object: a, Event: gpu.GrowCapacityEvent{Capacity: 8}}, entries[1])
	assert.Equal(t, gpu.QueueEntry{Object: b, Event: gpu.GrowCapacityEvent{Capacity: 2}}, entries[2])
	assert.Equal(t, gpu.EventUpdateRange, entries[3].Event.Kind())

	stats := q.Stats()
	assert.Equal(t, uint64(4), stats.Enqueued)
	assert.Equal(t, uint64(1), stats.Collapsed)
	assert.Equal(t, uint64(4), stats.Drained)
}

func TestQueueEnqueueUniqueAppendsNonCollapsible(t *testing.T) {
	q := gpu.NewQueue()
	a := &stubObject{name: "a"}
	buf := &stubObject{name: "buf"}

	q.EnqueueUnique(a, gpu.BindAttributeEvent{Attribute: gpu.VertexAttribute{Location: 0}, Buffer: buf})
	q.EnqueueUnique(a, gpu.BindAttributeEvent{Attribute: gpu.VertexAttribute{Location: 1}, Buffer: buf})

	assert.Equal(t, 2, q.Len())
}

func TestQueueTryReplaceUnique(t *testing.T) {
	q := gpu.NewQueue()
	a := &stubObject{name: "a"}

	assert.False(t, q.TryReplaceUnique(a, gpu.UpdateRangeEvent{Offset: 0, Length: 2}))
	assert.Equal(t, 0, q.Len(), "a failed replace must not append")

	q.EnqueueUnique(a, gpu.UpdateRangeEvent{Offset: 0, Length: 2})
	assert.True(t, q.Pending(a, gpu.EventUpdateRange))
	assert.True(t, q.TryReplaceUnique(a, gpu.UpdateRangeEvent{Offset: 0, Length: 5}))

	entries := q.DrainAndClear()
	require.Len(t, entries, 1)
	assert.Equal(t, gpu.UpdateRangeEvent{Offset: 0, Length: 5}, entries[0].Event)
}

func TestQueueDrainClearsUniqueIndex(t *testing.T) {
	q := gpu.NewQueue()
	a := &stubObject{name: "a"}

	q.EnqueueUnique(a, gpu.GrowCapacityEvent{Capacity: 2})
	require.Len(t, q.DrainAndClear(), 1)
	assert.False(t, q.Pending(a, gpu.EventGrowCapacity))
	assert.False(t, q.TryReplaceUnique(a, gpu.GrowCapacityEvent{Capacity: 4}))

	q.EnqueueUnique(a, gpu.GrowCapacityEvent{Capacity: 4})
	entries := q.DrainAndClear()
	require.Len(t, entries, 1)
	assert.Equal(t, gpu.GrowCapacityEvent{Capacity: 4}, entries[0].Event)

	assert.Nil(t, q.DrainAndClear())
	assert.Equal(t, uint64(3), q.Stats().Drains)
}

func TestQueueConcurrentProducersKeepPerProducerOrder(t *testing.T) {
	const producers, perProducer = 8, 200

	q := gpu.NewQueue()
	objects := make([]*stubObject, producers)
	for i := range objects {
		objects[i] = &stubObject{name: fmt.Sprintf("obj-%d", i)}
	}

	var wg sync.WaitGroup
	for _, obj := range objects {
		wg.Add(1)
		go func(obj *stubObject) {
			defer wg.Done()
			for n := range perProducer {
				q.Enqueue(obj, gpu.UpdateRangeEvent{Offset: n, Length: 1})
			}
		}(obj)
	}
	wg.Wait()

	entries := q.DrainAndClear()
	require.Len(t, entries, producers*perProducer)

	next := make(map[gpu.Object]int)
	for _, e := range entries {
		ev := e.Event.(gpu.UpdateRangeEvent)
		assert.Equal(t, next[e.Object], ev.Offset)
		next[e.Object]++
	}
}
