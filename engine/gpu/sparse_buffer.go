package gpu

import (
	"fmt"
	"slices"
	"sync"
	"unsafe"

	"github.com/Carmen-Shannon/oxy-queue/common"
)

// SparseBuffer is a CPU-mirrored GPU buffer of T for scattered element writes,
// such as per-instance data where a handful of instances change each frame.
// Instead of a single dirty range it tracks the set of dirty indices and, at
// dispatch, sorts them and merges contiguous runs into one native write each.
//
// Like Buffer, the mirror is guarded by a per-buffer mutex and growth doubles
// capacity and schedules a full upload.
type SparseBuffer[T any] struct {
	objectBase

	usage    BufferUsage
	fixed    bool
	elemSize uint64

	bufMu     sync.Mutex
	allocated uint64
	data      []T
	count     int

	// dirtyIndices holds the indices written since the last upload.
	// dirtyBitset dedups them: word = index/64, bit = index%64.
	dirtyIndices []int
	dirtyBitset  []uint64

	// uploaded is one past the highest index the native storage held after
	// the last dispatched upload.
	uploaded int

	growPending   bool
	updatePending bool
}

var _ Object = &SparseBuffer[float32]{}

// NewSparseBuffer creates a sparse buffer with room for capacity elements.
// Create and an initial full upload are enqueued before it is returned.
//
// Parameters:
//   - ctx: the owning Context
//   - name: diagnostic name and native debug label
//   - capacity: initial capacity in elements
//   - options: functional options (usage, fixed capacity)
//
// Returns:
//   - *SparseBuffer[T]: the new buffer
func NewSparseBuffer[T any](ctx *Context, name string, capacity int, options ...BufferBuilderOption) *SparseBuffer[T] {
	cfg := newBufferConfig(options)
	capacity = max(capacity, 0)
	var zero T
	s := &SparseBuffer[T]{
		usage:        cfg.usage,
		fixed:        cfg.fixed,
		elemSize:     uint64(unsafe.Sizeof(zero)),
		data:         make([]T, capacity),
		dirtyIndices: make([]int, 0, capacity),
		dirtyBitset:  make([]uint64, (capacity+63)/64),
	}
	s.objectBase.init(ctx, name)

	s.growPending = true
	ctx.Enqueue(s, CreateEvent{})
	ctx.EnqueueUnique(s, GrowCapacityEvent{Capacity: capacity})
	return s
}

// Capacity returns the number of elements the mirror can hold.
func (s *SparseBuffer[T]) Capacity() int {
	s.bufMu.Lock()
	defer s.bufMu.Unlock()
	return len(s.data)
}

// Count returns one past the highest index written.
func (s *SparseBuffer[T]) Count() int {
	s.bufMu.Lock()
	defer s.bufMu.Unlock()
	return s.count
}

// ElementSize returns the byte size of one element.
func (s *SparseBuffer[T]) ElementSize() uint64 {
	return s.elemSize
}

// UploadedCount returns the element count as of the last dispatched upload,
// never more than Count(). Instanced draws on the context thread use it so they
// never read past what the native storage holds.
func (s *SparseBuffer[T]) UploadedCount() int {
	s.bufMu.Lock()
	defer s.bufMu.Unlock()
	return min(s.uploaded, s.count)
}

// DirtyCount returns the number of distinct indices waiting to be uploaded.
func (s *SparseBuffer[T]) DirtyCount() int {
	s.bufMu.Lock()
	defer s.bufMu.Unlock()
	return len(s.dirtyIndices)
}

// Get returns the mirrored element at index.
func (s *SparseBuffer[T]) Get(index int) (T, bool) {
	s.bufMu.Lock()
	defer s.bufMu.Unlock()
	if index < 0 || index >= len(s.data) {
		var zero T
		return zero, false
	}
	return s.data[index], true
}

// Set writes value at index, growing the buffer if needed, and marks the index dirty.
//
// Parameters:
//   - index: element index
//   - value: the value to store
//
// Returns:
//   - error: ErrCapacityExceeded for a negative or oversized index, or one past a fixed capacity
func (s *SparseBuffer[T]) Set(index int, value T) error {
	if err := s.checkIndex(index); err != nil {
		return err
	}
	s.bufMu.Lock()
	defer s.bufMu.Unlock()

	if err := s.ensureCapacityLocked(index + 1); err != nil {
		return err
	}
	s.setLocked(index, value)
	s.scheduleLocked()
	return nil
}

// SetMany writes values at the paired indices under a single lock acquisition.
// Nothing is written if any index is invalid.
//
// Parameters:
//   - indices: element indices
//   - values: values to store, one per index
//
// Returns:
//   - error: an error if the slices differ in length or an index is out of range
func (s *SparseBuffer[T]) SetMany(indices []int, values []T) error {
	if len(indices) != len(values) {
		return fmt.Errorf("gpu: %q SetMany got %d indices and %d values", s.name, len(indices), len(values))
	}
	if len(indices) == 0 {
		return nil
	}

	highest := -1
	for _, i := range indices {
		if err := s.checkIndex(i); err != nil {
			return err
		}
		highest = max(highest, i)
	}

	s.bufMu.Lock()
	defer s.bufMu.Unlock()

	if err := s.ensureCapacityLocked(highest + 1); err != nil {
		return err
	}
	for n, i := range indices {
		s.setLocked(i, values[n])
	}
	s.scheduleLocked()
	return nil
}

// Dispose enqueues the release of the native storage.
func (s *SparseBuffer[T]) Dispose() {
	s.ctx.Enqueue(s, DisposeEvent{})
}

func (s *SparseBuffer[T]) checkIndex(index int) error {
	switch {
	case index < 0:
		return fmt.Errorf("%w: %q index %d is negative", ErrCapacityExceeded, s.name, index)
	case index >= maxCapacity:
		return fmt.Errorf("%w: %q index %d exceeds limit %d", ErrCapacityExceeded, s.name, index, maxCapacity)
	}
	return nil
}

func (s *SparseBuffer[T]) setLocked(index int, value T) {
	s.data[index] = value
	if index >= s.count {
		s.count = index + 1
	}
	if s.growPending {
		return
	}
	word, bit := index/64, uint64(1)<<(index%64)
	if s.dirtyBitset[word]&bit != 0 {
		return
	}
	s.dirtyBitset[word] |= bit
	s.dirtyIndices = append(s.dirtyIndices, index)
}

// scheduleLocked makes sure an UpdateIndices event is queued for the dirty set.
func (s *SparseBuffer[T]) scheduleLocked() {
	if s.growPending || len(s.dirtyIndices) == 0 {
		return
	}
	ev := UpdateIndicesEvent{Count: len(s.dirtyIndices)}
	if s.updatePending {
		s.ctx.TryReplaceUnique(s, ev)
		return
	}
	s.updatePending = true
	s.ctx.EnqueueUnique(s, ev)
}

func (s *SparseBuffer[T]) ensureCapacityLocked(minSize int) error {
	capacity := len(s.data)
	if minSize <= capacity {
		return nil
	}
	if s.fixed {
		return fmt.Errorf("%w: %q needs %d elements, fixed capacity is %d", ErrCapacityExceeded, s.name, minSize, capacity)
	}
	if minSize > maxCapacity {
		return fmt.Errorf("%w: %q needs %d elements, limit is %d", ErrCapacityExceeded, s.name, minSize, maxCapacity)
	}

	grown := growCapacity(capacity, minSize)
	data := make([]T, grown)
	copy(data, s.data)
	s.data = data
	s.dirtyBitset = make([]uint64, (grown+63)/64)
	s.dirtyIndices = s.dirtyIndices[:0]
	s.growPending = true
	s.ctx.EnqueueUnique(s, GrowCapacityEvent{Capacity: grown})
	return nil
}

func (s *SparseBuffer[T]) clearDirtyLocked() {
	s.dirtyIndices = s.dirtyIndices[:0]
	clear(s.dirtyBitset)
}

// DispatchEvent applies ev on the context thread.
func (s *SparseBuffer[T]) DispatchEvent(ev Event) error {
	device := s.ctx.device
	switch ev.(type) {
	case CreateEvent:
		return s.dispatchCreate(s, func() (Handle, error) {
			s.bufMu.Lock()
			size := alignUp(uint64(len(s.data))*s.elemSize, device.CopyAlignment())
			s.bufMu.Unlock()
			h, err := device.CreateBuffer(s.name, size, s.usage)
			if err == nil {
				s.allocated = size
			}
			return h, err
		})

	case DisposeEvent:
		return s.dispatchDispose(s, device.DestroyBuffer)

	case GrowCapacityEvent:
		return s.dispatchGrow(device)

	case UpdateIndicesEvent:
		return s.dispatchUpdate(device)

	default:
		return unsupported(s, ev)
	}
}

func (s *SparseBuffer[T]) dispatchGrow(device Device) error {
	s.bufMu.Lock()
	defer s.bufMu.Unlock()

	h, err := s.requireHandle()
	if err != nil {
		s.growPending = false
		return err
	}

	size := alignUp(uint64(len(s.data))*s.elemSize, device.CopyAlignment())
	if size != s.allocated {
		grown, err := device.CreateBuffer(s.name, size, s.usage)
		if err != nil {
			return fmt.Errorf("reallocating %d bytes: %w", size, err)
		}
		device.DestroyBuffer(h)
		s.setHandle(grown)
		s.allocated = size
		h = grown
	}

	s.growPending = false
	s.clearDirtyLocked()
	if len(s.data) == 0 {
		s.uploaded = s.count
		return nil
	}
	if err := device.WriteBuffer(h, 0, padBytes(common.SliceToBytes(s.data), size)); err != nil {
		return err
	}
	s.uploaded = s.count
	return nil
}

// dispatchUpdate sorts the dirty indices and writes each contiguous run once.
func (s *SparseBuffer[T]) dispatchUpdate(device Device) error {
	s.bufMu.Lock()
	defer s.bufMu.Unlock()

	s.updatePending = false
	if s.growPending {
		return nil
	}
	if len(s.dirtyIndices) == 0 {
		s.uploaded = s.count
		return nil
	}

	h, err := s.requireHandle()
	if err != nil {
		return err
	}

	slices.Sort(s.dirtyIndices)

	raw := common.SliceToBytes(s.data)
	align := device.CopyAlignment()
	var firstErr error
	flush := func(start, end int) {
		lo, hi := alignRange(uint64(start)*s.elemSize, uint64(end)*s.elemSize, align, uint64(len(raw)))
		if err := device.WriteBuffer(h, lo, padBytes(raw[lo:min(hi, uint64(len(raw)))], hi-lo)); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	runStart := s.dirtyIndices[0]
	runEnd := runStart + 1
	for _, idx := range s.dirtyIndices[1:] {
		if idx == runEnd {
			runEnd++
			continue
		}
		flush(runStart, runEnd)
		runStart, runEnd = idx, idx+1
	}
	flush(runStart, runEnd)

	s.clearDirtyLocked()
	if firstErr == nil {
		s.uploaded = s.count
	}
	return firstErr
}
