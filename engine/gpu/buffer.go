package gpu

import (
	"fmt"
	"math"
	"sync"
	"unsafe"

	"github.com/Carmen-Shannon/oxy-queue/common"
)

// bufferConfig collects construction options shared by every buffer variant.
type bufferConfig struct {
	usage BufferUsage
	fixed bool
}

// BufferBuilderOption is a functional option for configuring a buffer at construction.
type BufferBuilderOption func(*bufferConfig)

// WithUsage sets the native usage mask. Defaults to BufferUsageVertex.
//
// Parameters:
//   - usage: the usage mask
//
// Returns:
//   - BufferBuilderOption: option function to apply
func WithUsage(usage BufferUsage) BufferBuilderOption {
	return func(c *bufferConfig) {
		c.usage = usage
	}
}

// WithFixedCapacity disables growth. Writes past the initial capacity fail
// with ErrCapacityExceeded.
//
// Returns:
//   - BufferBuilderOption: option function to apply
func WithFixedCapacity() BufferBuilderOption {
	return func(c *bufferConfig) {
		c.fixed = true
	}
}

func newBufferConfig(options []BufferBuilderOption) bufferConfig {
	cfg := bufferConfig{usage: BufferUsageVertex}
	for _, opt := range options {
		opt(&cfg)
	}
	return cfg
}

// Buffer is a CPU-mirrored GPU buffer of T with geometric capacity growth and
// contiguous dirty-range tracking.
//
// The mirror is guarded by a per-buffer mutex, so any number of goroutines may
// call SetRange, EnsureCapacity and Append on the same buffer. Each call is
// atomic with respect to the others and to dispatch on the context thread.
// T must be a fixed-size value type with no pointers; its in-memory layout is
// uploaded as-is.
type Buffer[T any] struct {
	objectBase

	usage    BufferUsage
	fixed    bool
	elemSize uint64

	bufMu     sync.Mutex
	allocated uint64 // native size in bytes; touched only on the context thread
	data      []T    // len(data) == capacity
	count     int
	dirtyLow  int // == len(data) when nothing is pending
	dirtyHigh int

	// uploaded is the count the native storage reflected after the last
	// dispatched upload.
	uploaded int

	// growPending is set while a GrowCapacity event is queued or in flight; the
	// full upload it performs supersedes any partial update.
	growPending bool
	// updatePending is set while an UpdateRange event is queued or in flight.
	updatePending bool
}

var _ Object = &Buffer[float32]{}

// NewBuffer creates a buffer mirroring data. Capacity and count both equal
// len(data). Create and an initial full upload are enqueued before the buffer
// is returned, so they precede every later event for it.
//
// Parameters:
//   - ctx: the owning Context
//   - name: diagnostic name and native debug label
//   - data: initial contents, copied
//   - options: functional options (usage, fixed capacity)
//
// Returns:
//   - *Buffer[T]: the new buffer
func NewBuffer[T any](ctx *Context, name string, data []T, options ...BufferBuilderOption) *Buffer[T] {
	b := newBuffer[T](ctx, name, len(data), options)
	copy(b.data, data)
	b.count = len(data)
	b.enqueueConstruction()
	return b
}

// NewBufferWithCapacity creates an empty buffer with room for capacity elements.
//
// Parameters:
//   - ctx: the owning Context
//   - name: diagnostic name and native debug label
//   - capacity: initial capacity in elements
//   - options: functional options (usage, fixed capacity)
//
// Returns:
//   - *Buffer[T]: the new buffer
func NewBufferWithCapacity[T any](ctx *Context, name string, capacity int, options ...BufferBuilderOption) *Buffer[T] {
	if capacity < 0 {
		capacity = 0
	}
	b := newBuffer[T](ctx, name, capacity, options)
	b.enqueueConstruction()
	return b
}

func newBuffer[T any](ctx *Context, name string, capacity int, options []BufferBuilderOption) *Buffer[T] {
	cfg := newBufferConfig(options)
	var zero T
	b := &Buffer[T]{
		usage:    cfg.usage,
		fixed:    cfg.fixed,
		elemSize: uint64(unsafe.Sizeof(zero)),
		data:     make([]T, capacity),
	}
	b.objectBase.init(ctx, name)
	b.dirtyLow, b.dirtyHigh = capacity, capacity
	return b
}

func (b *Buffer[T]) enqueueConstruction() {
	b.growPending = true
	b.ctx.Enqueue(b, CreateEvent{})
	b.ctx.EnqueueUnique(b, GrowCapacityEvent{Capacity: len(b.data)})
}

// Capacity returns the number of elements the mirror can hold.
func (b *Buffer[T]) Capacity() int {
	b.bufMu.Lock()
	defer b.bufMu.Unlock()
	return len(b.data)
}

// Count returns the logical number of elements written.
func (b *Buffer[T]) Count() int {
	b.bufMu.Lock()
	defer b.bufMu.Unlock()
	return b.count
}

// ElementSize returns the byte size of one element.
func (b *Buffer[T]) ElementSize() uint64 {
	return b.elemSize
}

// Usage returns the native usage mask.
func (b *Buffer[T]) Usage() BufferUsage {
	return b.usage
}

// Fixed reports whether the buffer refuses to grow.
func (b *Buffer[T]) Fixed() bool {
	return b.fixed
}

// DirtyRange returns the pending element span [low, high). An empty span is
// reported as low == high == Capacity().
func (b *Buffer[T]) DirtyRange() (low, high int) {
	b.bufMu.Lock()
	defer b.bufMu.Unlock()
	return b.dirtyLow, b.dirtyHigh
}

// UploadedCount returns how many elements the native storage held as of the
// last dispatched upload, never more than Count(). Draw calls on the context
// thread use it instead of Count, which may already include writes that have
// not been dispatched yet.
func (b *Buffer[T]) UploadedCount() int {
	b.bufMu.Lock()
	defer b.bufMu.Unlock()
	return min(b.uploaded, b.count)
}

// Data returns a copy of the first Count() elements of the mirror.
func (b *Buffer[T]) Data() []T {
	b.bufMu.Lock()
	defer b.bufMu.Unlock()
	out := make([]T, b.count)
	copy(out, b.data[:b.count])
	return out
}

// EnsureCapacity grows the buffer until it holds at least minSize elements by
// doubling its capacity, and enqueues a collapsible GrowCapacity event.
//
// Parameters:
//   - minSize: the required capacity in elements
//
// Returns:
//   - error: ErrCapacityExceeded if the buffer is fixed and too small
func (b *Buffer[T]) EnsureCapacity(minSize int) error {
	b.bufMu.Lock()
	defer b.bufMu.Unlock()
	return b.ensureCapacityLocked(minSize)
}

// SetRange copies values into the mirror starting at offset, growing the buffer
// if needed, and schedules the smallest upload that covers the write.
//
// Parameters:
//   - offset: element offset of the first value
//   - values: the values to write
//
// Returns:
//   - error: ErrCapacityExceeded for a negative offset or a write past a fixed capacity
func (b *Buffer[T]) SetRange(offset int, values []T) error {
	if offset < 0 {
		return fmt.Errorf("%w: %q offset %d is negative", ErrCapacityExceeded, b.name, offset)
	}
	if len(values) == 0 {
		return nil
	}

	b.bufMu.Lock()
	defer b.bufMu.Unlock()
	return b.setRangeLocked(offset, values)
}

// Append writes values after the last written element.
//
// Parameters:
//   - values: the values to append
//
// Returns:
//   - error: ErrCapacityExceeded if a fixed buffer is full
func (b *Buffer[T]) Append(values ...T) error {
	if len(values) == 0 {
		return nil
	}
	b.bufMu.Lock()
	defer b.bufMu.Unlock()
	return b.setRangeLocked(b.count, values)
}

// Truncate lowers the logical count to n without touching capacity or the GPU copy.
//
// Parameters:
//   - n: the new count; values outside [0, Count()] are clamped
func (b *Buffer[T]) Truncate(n int) {
	b.bufMu.Lock()
	defer b.bufMu.Unlock()
	b.count = max(0, min(n, b.count))
}

// Dispose enqueues the release of the native storage. The mirror stays readable.
func (b *Buffer[T]) Dispose() {
	b.ctx.Enqueue(b, DisposeEvent{})
}

// setRangeLocked copies values in at offset and marks them dirty. Caller must
// hold b.bufMu and pass a non-negative offset and non-empty values.
func (b *Buffer[T]) setRangeLocked(offset int, values []T) error {
	if offset > maxCapacity-len(values) {
		return fmt.Errorf("%w: %q write of %d elements at offset %d overflows", ErrCapacityExceeded, b.name, len(values), offset)
	}
	end := offset + len(values)
	if err := b.ensureCapacityLocked(end); err != nil {
		return err
	}

	copy(b.data[offset:end], values)
	if end > b.count {
		b.count = end
	}
	b.markDirtyLocked(offset, end)
	return nil
}

// ensureCapacityLocked grows the mirror by doubling. Caller must hold b.bufMu.
func (b *Buffer[T]) ensureCapacityLocked(minSize int) error {
	capacity := len(b.data)
	if minSize <= capacity {
		return nil
	}
	if b.fixed {
		return fmt.Errorf("%w: %q needs %d elements, fixed capacity is %d", ErrCapacityExceeded, b.name, minSize, capacity)
	}
	if minSize > maxCapacity {
		return fmt.Errorf("%w: %q needs %d elements, limit is %d", ErrCapacityExceeded, b.name, minSize, maxCapacity)
	}

	grown := growCapacity(capacity, minSize)
	data := make([]T, grown)
	copy(data, b.data)
	b.data = data

	// The full upload covers every pending write.
	b.dirtyLow, b.dirtyHigh = grown, grown
	b.growPending = true
	b.ctx.EnqueueUnique(b, GrowCapacityEvent{Capacity: grown})
	return nil
}

// markDirtyLocked widens the dirty range to cover [low, high) and makes sure an
// upload is scheduled. Caller must hold b.bufMu.
func (b *Buffer[T]) markDirtyLocked(low, high int) {
	if b.growPending {
		return
	}

	if b.dirtyLow == len(b.data) {
		b.dirtyLow, b.dirtyHigh = low, high
	} else {
		b.dirtyLow = min(b.dirtyLow, low)
		b.dirtyHigh = max(b.dirtyHigh, high)
	}

	ev := UpdateRangeEvent{Offset: b.dirtyLow, Length: b.dirtyHigh - b.dirtyLow}
	if b.updatePending {
		// Refresh the queued payload. If the entry was already drained it is in
		// flight and reads the widened range when dispatched.
		b.ctx.TryReplaceUnique(b, ev)
		return
	}
	b.updatePending = true
	b.ctx.EnqueueUnique(b, ev)
}

// DispatchEvent applies ev on the context thread.
func (b *Buffer[T]) DispatchEvent(ev Event) error {
	device := b.ctx.device
	switch ev.(type) {
	case CreateEvent:
		return b.dispatchCreate(b, func() (Handle, error) {
			b.bufMu.Lock()
			size := b.byteSizeLocked(device)
			b.bufMu.Unlock()
			h, err := device.CreateBuffer(b.name, size, b.usage)
			if err == nil {
				b.allocated = size
			}
			return h, err
		})

	case DisposeEvent:
		return b.dispatchDispose(b, device.DestroyBuffer)

	case GrowCapacityEvent:
		return b.dispatchGrow(device)

	case UpdateRangeEvent:
		return b.dispatchUpdate(device)

	default:
		return unsupported(b, ev)
	}
}

// dispatchGrow reallocates native storage if the capacity changed since it was
// allocated, then uploads the whole mirror.
func (b *Buffer[T]) dispatchGrow(device Device) error {
	b.bufMu.Lock()
	defer b.bufMu.Unlock()

	h, err := b.requireHandle()
	if err != nil {
		b.growPending = false
		return err
	}

	size := b.byteSizeLocked(device)
	if size != b.allocated {
		grown, err := device.CreateBuffer(b.name, size, b.usage)
		if err != nil {
			return fmt.Errorf("reallocating %d bytes: %w", size, err)
		}
		device.DestroyBuffer(h)
		b.setHandle(grown)
		b.allocated = size
		h = grown
	}

	b.growPending = false
	b.dirtyLow, b.dirtyHigh = len(b.data), len(b.data)
	if len(b.data) == 0 {
		b.uploaded = b.count
		return nil
	}
	if err := device.WriteBuffer(h, 0, padBytes(common.SliceToBytes(b.data), size)); err != nil {
		return err
	}
	b.uploaded = b.count
	return nil
}

// dispatchUpdate uploads the dirty range.
func (b *Buffer[T]) dispatchUpdate(device Device) error {
	b.bufMu.Lock()
	defer b.bufMu.Unlock()

	b.updatePending = false
	if b.growPending {
		return nil
	}
	if b.dirtyLow >= b.dirtyHigh {
		b.uploaded = b.count
		return nil
	}

	h, err := b.requireHandle()
	if err != nil {
		return err
	}

	raw := common.SliceToBytes(b.data)
	lo, hi := alignRange(uint64(b.dirtyLow)*b.elemSize, uint64(b.dirtyHigh)*b.elemSize, device.CopyAlignment(), uint64(len(raw)))
	b.dirtyLow, b.dirtyHigh = len(b.data), len(b.data)
	if err := device.WriteBuffer(h, lo, padBytes(raw[lo:min(hi, uint64(len(raw)))], hi-lo)); err != nil {
		return err
	}
	b.uploaded = b.count
	return nil
}

// byteSizeLocked returns the native allocation size for the current capacity.
func (b *Buffer[T]) byteSizeLocked(device Device) uint64 {
	return alignUp(uint64(len(b.data))*b.elemSize, device.CopyAlignment())
}

// maxCapacity bounds element counts so doubling cannot overflow int.
const maxCapacity = math.MaxInt / 2

// growCapacity doubles capacity until it reaches minSize. A zero capacity
// starts from minSize itself. minSize must not exceed maxCapacity.
func growCapacity(capacity, minSize int) int {
	if capacity <= 0 {
		return minSize
	}
	for capacity < minSize {
		capacity *= 2
	}
	return capacity
}

// alignUp rounds n up to a multiple of align.
func alignUp(n, align uint64) uint64 {
	if align <= 1 {
		return n
	}
	return (n + align - 1) / align * align
}

// alignRange widens [lo, hi) outward to align, keeping lo at or below limit.
func alignRange(lo, hi, align, limit uint64) (uint64, uint64) {
	if align <= 1 {
		return lo, hi
	}
	lo = lo / align * align
	hi = alignUp(hi, align)
	if lo > limit {
		lo = limit / align * align
	}
	return lo, hi
}

// padBytes returns data extended with zeros to size bytes. data is returned
// unchanged when it is already long enough.
func padBytes(data []byte, size uint64) []byte {
	if uint64(len(data)) >= size {
		return data
	}
	out := make([]byte, size)
	copy(out, data)
	return out
}
