package gpu

import "sync"

// QueueEntry pairs an event with the object it targets.
type QueueEntry struct {
	Object Object
	Event  Event
}

// uniqueKey identifies a collapsible queue slot.
type uniqueKey struct {
	object Object
	kind   EventKind
}

// QueueStats holds cumulative counters for a Queue.
type QueueStats struct {
	// Enqueued is the number of entries appended to the queue.
	Enqueued uint64

	// Collapsed is the number of events that overwrote an existing slot instead of appending.
	Collapsed uint64

	// Drained is the number of entries handed out by DrainAndClear.
	Drained uint64

	// Drains is the number of DrainAndClear calls.
	Drains uint64
}

// Queue is an ordered list of (object, event) pairs with a unique-update index.
// All methods are safe for concurrent use. A single mutex guards both the list
// and the index, so enqueue order is the order in which callers acquired it.
type Queue struct {
	mu      sync.Mutex
	entries []QueueEntry
	unique  map[uniqueKey]int
	stats   QueueStats
}

// NewQueue creates an empty Queue.
//
// Returns:
//   - *Queue: the new queue
func NewQueue() *Queue {
	return &Queue{
		unique: make(map[uniqueKey]int),
	}
}

// Enqueue appends (obj, ev) to the queue.
//
// Parameters:
//   - obj: the target object
//   - ev: the event to dispatch on obj
func (q *Queue) Enqueue(obj Object, ev Event) {
	q.mu.Lock()
	q.appendLocked(obj, ev)
	q.mu.Unlock()
}

// EnqueueUnique overwrites the payload of a not-yet-drained entry with the same
// object and event kind, keeping that entry's queue position. If no such entry
// exists the event is appended and its position indexed. Events whose kind is
// not collapsible are always appended.
//
// Parameters:
//   - obj: the target object
//   - ev: the event to dispatch on obj
func (q *Queue) EnqueueUnique(obj Object, ev Event) {
	kind := ev.Kind()
	q.mu.Lock()
	defer q.mu.Unlock()

	if !kind.Collapsible() {
		q.appendLocked(obj, ev)
		return
	}

	key := uniqueKey{object: obj, kind: kind}
	if i, ok := q.unique[key]; ok {
		q.entries[i].Event = ev
		q.stats.Collapsed++
		return
	}
	q.unique[key] = len(q.entries)
	q.appendLocked(obj, ev)
}

// TryReplaceUnique overwrites the payload of a not-yet-drained collapsible
// entry with the same object and event kind. Nothing is appended when no such
// entry exists.
//
// Parameters:
//   - obj: the target object
//   - ev: the replacement event
//
// Returns:
//   - bool: true if an entry was found and replaced
func (q *Queue) TryReplaceUnique(obj Object, ev Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	i, ok := q.unique[uniqueKey{object: obj, kind: ev.Kind()}]
	if !ok {
		return false
	}
	q.entries[i].Event = ev
	q.stats.Collapsed++
	return true
}

// Pending reports whether a collapsible entry of the given kind for obj is
// waiting to be drained.
//
// Parameters:
//   - obj: the target object
//   - kind: the event kind to look for
//
// Returns:
//   - bool: true if such an entry is queued
func (q *Queue) Pending(obj Object, kind EventKind) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.unique[uniqueKey{object: obj, kind: kind}]
	return ok
}

// DrainAndClear atomically removes and returns every queued entry in queue
// order and clears the unique index. Entries enqueued after the snapshot land
// in the next drain.
//
// Returns:
//   - []QueueEntry: the drained entries, or nil if the queue was empty
func (q *Queue) DrainAndClear() []QueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.stats.Drains++
	if len(q.entries) == 0 {
		return nil
	}
	drained := q.entries
	q.entries = make([]QueueEntry, 0, len(drained))
	clear(q.unique)
	q.stats.Drained += uint64(len(drained))
	return drained
}

// Len returns the number of queued entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Stats returns a copy of the cumulative queue counters.
func (q *Queue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

// appendLocked appends an entry. Caller must hold q.mu.
func (q *Queue) appendLocked(obj Object, ev Event) {
	q.entries = append(q.entries, QueueEntry{Object: obj, Event: ev})
	q.stats.Enqueued++
}
