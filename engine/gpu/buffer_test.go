package gpu_test

import (
	"fmt"
	"math"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Carmen-Shannon/oxy-queue/engine/gpu"
	"github.com/Carmen-Shannon/oxy-queue/engine/gpu/gputest"
)

// harness bundles a context with its recording device and collected dispatch errors.
type harness struct {
	ctx *gpu.Context
	dev *gputest.Recorder

	mu     sync.Mutex
	errors []*gpu.DispatchError
}

func newHarness(t *testing.T, options ...gputest.RecorderOption) *harness {
	t.Helper()
	h := &harness{dev: gputest.NewRecorder(options...)}
	h.ctx = gpu.NewContext(h.dev, gpu.WithErrorHandler(func(err *gpu.DispatchError) {
		h.mu.Lock()
		h.errors = append(h.errors, err)
		h.mu.Unlock()
	}))
	return h
}

func (h *harness) dispatchErrors() []*gpu.DispatchError {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*gpu.DispatchError(nil), h.errors...)
}

func TestBufferGrowSupersedesPendingWrites(t *testing.T) {
	h := newHarness(t)

	b := gpu.NewBuffer(h.ctx, "scenario", []float32{1, 2, 3, 4})
	require.NoError(t, b.SetRange(2, []float32{9, 9}))
	require.NoError(t, b.EnsureCapacity(10))
	assert.Equal(t, 8, b.Capacity())

	entries := h.ctx.Queue().DrainAndClear()
	require.Len(t, entries, 2)
	assert.Equal(t, gpu.CreateEvent{}, entries[0].Event)
	assert.Equal(t, gpu.GrowCapacityEvent{Capacity: 8}, entries[1].Event)

	for _, e := range entries {
		require.NoError(t, e.Object.DispatchEvent(e.Event))
	}

	creates := h.dev.CallsOf(gputest.OpCreateBuffer)
	require.Len(t, creates, 1)
	assert.Equal(t, uint64(32), creates[0].Size)

	writes := h.dev.CallsOf(gputest.OpWriteBuffer)
	require.Len(t, writes, 1, "the grow upload covers the range write")
	assert.Equal(t, uint64(0), writes[0].Offset)
	assert.Equal(t, []float32{1, 2, 9, 9, 0, 0, 0, 0}, gputest.Contents[float32](h.dev, b.Handle(), 8))

	low, high := b.DirtyRange()
	assert.Equal(t, 8, low)
	assert.Equal(t, 8, high)
	assert.Empty(t, h.dispatchErrors())
}

func TestBufferSetRangeUploadsMinimalRange(t *testing.T) {
	h := newHarness(t)

	b := gpu.NewBuffer(h.ctx, "minimal", make([]uint32, 16))
	h.ctx.DispatchPending()
	h.dev.Reset()

	require.NoError(t, b.SetRange(3, []uint32{7}))
	require.NoError(t, b.SetRange(6, []uint32{8, 9}))
	require.NoError(t, b.SetRange(4, []uint32{5}))

	low, high := b.DirtyRange()
	assert.Equal(t, 3, low)
	assert.Equal(t, 8, high)
	assert.Equal(t, 1, h.ctx.Queue().Len(), "repeated writes share one queue slot")

	assert.Equal(t, 1, h.ctx.DispatchPending())

	writes := h.dev.CallsOf(gputest.OpWriteBuffer)
	require.Len(t, writes, 1)
	assert.Equal(t, uint64(3*4), writes[0].Offset)
	assert.Equal(t, uint64(5*4), writes[0].Size)

	got := gputest.Contents[uint32](h.dev, b.Handle(), 16)
	assert.Equal(t, b.Data(), got)
}

func TestBufferUpdateRespectsCopyAlignment(t *testing.T) {
	h := newHarness(t, gputest.WithCopyAlignment(4))

	b := gpu.NewBuffer(h.ctx, "indices", []uint16{1, 2, 3})
	h.ctx.DispatchPending()
	require.Empty(t, h.dispatchErrors())

	creates := h.dev.CallsOf(gputest.OpCreateBuffer)
	require.Len(t, creates, 1)
	assert.Equal(t, uint64(8), creates[0].Size)

	h.dev.Reset()
	require.NoError(t, b.SetRange(1, []uint16{20}))
	h.ctx.DispatchPending()
	require.Empty(t, h.dispatchErrors())

	writes := h.dev.CallsOf(gputest.OpWriteBuffer)
	require.Len(t, writes, 1)
	assert.Equal(t, uint64(0), writes[0].Offset)
	assert.Equal(t, uint64(4), writes[0].Size)
	assert.Equal(t, []uint16{1, 20, 3}, gputest.Contents[uint16](h.dev, b.Handle(), 3))
}

func TestBufferGrowthDoublesCapacity(t *testing.T) {
	h := newHarness(t)

	b := gpu.NewBufferWithCapacity[float32](h.ctx, "growing", 3)
	h.ctx.DispatchPending()
	first := b.Handle()
	require.True(t, first.Valid())

	seen := []int{b.Capacity()}
	for i := range 20 {
		require.NoError(t, b.Append(float32(i)))
		if c := b.Capacity(); c != seen[len(seen)-1] {
			seen = append(seen, c)
		}
	}
	assert.Equal(t, []int{3, 6, 12, 24}, seen)
	assert.Equal(t, 20, b.Count())

	h.dev.Reset()
	h.ctx.DispatchPending()
	assert.NotEqual(t, first, b.Handle(), "growth reallocates native storage")
	assert.Len(t, h.dev.CallsOf(gputest.OpCreateBuffer), 1)
	assert.Len(t, h.dev.CallsOf(gputest.OpDestroyBuffer), 1)
	assert.Len(t, h.dev.CallsOf(gputest.OpWriteBuffer), 1)
	assert.Equal(t, b.Data(), gputest.Contents[float32](h.dev, b.Handle(), 20))
}

func TestBufferFixedCapacity(t *testing.T) {
	h := newHarness(t)

	b := gpu.NewBuffer(h.ctx, "fixed", []int32{1, 2}, gpu.WithFixedCapacity())
	queued := h.ctx.Queue().Len()

	err := b.SetRange(1, []int32{5, 6})
	require.ErrorIs(t, err, gpu.ErrCapacityExceeded)
	assert.ErrorIs(t, b.EnsureCapacity(3), gpu.ErrCapacityExceeded)
	assert.ErrorIs(t, b.Append(9), gpu.ErrCapacityExceeded)
	assert.Equal(t, queued, h.ctx.Queue().Len())
	assert.Equal(t, []int32{1, 2}, b.Data())
	assert.True(t, b.Fixed())

	require.NoError(t, b.SetRange(0, []int32{7, 8}))
	h.ctx.DispatchPending()
	assert.Equal(t, []int32{7, 8}, gputest.Contents[int32](h.dev, b.Handle(), 2))
}

func TestBufferNegativeOffset(t *testing.T) {
	h := newHarness(t)
	b := gpu.NewBuffer(h.ctx, "neg", []float32{1})
	assert.ErrorIs(t, b.SetRange(-1, []float32{2}), gpu.ErrCapacityExceeded)
}

func TestBufferDisposeIsIdempotent(t *testing.T) {
	h := newHarness(t)

	b := gpu.NewBuffer(h.ctx, "dispose", []float32{1, 2})
	h.ctx.DispatchPending()
	require.True(t, b.Handle().Valid())
	assert.Equal(t, 1, h.ctx.Objects())

	b.Dispose()
	b.Dispose()
	h.ctx.DispatchPending()
	b.Dispose()
	h.ctx.DispatchPending()

	assert.False(t, b.Handle().Valid())
	assert.Len(t, h.dev.CallsOf(gputest.OpDestroyBuffer), 1)
	assert.Equal(t, 0, h.dev.Live())
	assert.Equal(t, 0, h.ctx.Objects())
	assert.Empty(t, h.dispatchErrors())
	assert.Equal(t, []float32{1, 2}, b.Data(), "the mirror outlives the native storage")
}

func TestBufferWriteAfterDisposeReportsInvalidHandle(t *testing.T) {
	h := newHarness(t)

	b := gpu.NewBuffer(h.ctx, "late", []float32{1, 2})
	b.Dispose()
	h.ctx.DispatchPending()

	require.NoError(t, b.SetRange(0, []float32{3}))
	h.ctx.DispatchPending()

	errs := h.dispatchErrors()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], gpu.ErrInvalidHandle)
	assert.Equal(t, gpu.EventUpdateRange, errs[0].Event.Kind())
}

func TestBufferConcurrentWritersLoseNothing(t *testing.T) {
	const writers, span, rounds = 8, 16, 50

	h := newHarness(t)
	b := gpu.NewBufferWithCapacity[uint32](h.ctx, "shared", 4)

	var wg sync.WaitGroup
	for w := range writers {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			values := make([]uint32, span)
			for r := range rounds {
				for i := range values {
					values[i] = uint32(w*1000 + r)
				}
				assert.NoError(t, b.SetRange(w*span, values))
			}
		}(w)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	// Drain while writers are still running, as the context thread would.
	for running := true; running; {
		select {
		case <-done:
			running = false
		default:
			h.ctx.DispatchPending()
		}
	}
	h.ctx.DispatchPending()

	require.Empty(t, h.dispatchErrors())
	want := b.Data()
	require.Len(t, want, writers*span)
	for w := range writers {
		assert.Equal(t, uint32(w*1000+rounds-1), want[w*span])
	}
	assert.Equal(t, want, gputest.Contents[uint32](h.dev, b.Handle(), writers*span))
}

func TestBufferConcurrentAppendsLoseNothing(t *testing.T) {
	const writers, appends = 16, 500

	h := newHarness(t)
	b := gpu.NewBufferWithCapacity[uint32](h.ctx, "appended", 1)

	var wg sync.WaitGroup
	for w := range writers {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := range appends {
				assert.NoError(t, b.Append(uint32(w*appends+i)))
			}
		}(w)
	}
	wg.Wait()
	h.ctx.DispatchPending()

	require.Empty(t, h.dispatchErrors())
	got := b.Data()
	require.Len(t, got, writers*appends)
	assert.Equal(t, got, gputest.Contents[uint32](h.dev, b.Handle(), len(got)))

	// Each writer's values land in the order it appended them.
	last := make([]int, writers)
	for i := range last {
		last[i] = -1
	}
	for _, v := range got {
		w, i := int(v)/appends, int(v)%appends
		assert.Greater(t, i, last[w], "writer %d out of order", w)
		last[w] = i
	}

	slices.Sort(got)
	for i, v := range got {
		require.Equal(t, uint32(i), v)
	}
}

func TestBufferUploadedCountFollowsDispatch(t *testing.T) {
	h := newHarness(t)
	b := gpu.NewBuffer(h.ctx, "lagging", []float32{1, 2})
	assert.Equal(t, 0, b.UploadedCount())

	h.ctx.DispatchPending()
	assert.Equal(t, 2, b.UploadedCount())

	// Growth is visible in the mirror at once but not on the device.
	require.NoError(t, b.Append(3, 4, 5, 6, 7))
	assert.Equal(t, 7, b.Count())
	assert.Equal(t, 2, b.UploadedCount())

	h.ctx.DispatchPending()
	assert.Equal(t, 7, b.UploadedCount())

	require.NoError(t, b.SetRange(7, []float32{8}))
	assert.Equal(t, 7, b.UploadedCount())
	h.ctx.DispatchPending()
	assert.Equal(t, 8, b.UploadedCount())

	b.Truncate(3)
	assert.Equal(t, 3, b.UploadedCount())
}

func TestBufferRejectsOverflowingSizes(t *testing.T) {
	h := newHarness(t)
	b := gpu.NewBuffer(h.ctx, "huge", []byte{1, 2})
	queued := h.ctx.Queue().Len()

	assert.ErrorIs(t, b.EnsureCapacity(math.MaxInt), gpu.ErrCapacityExceeded)
	assert.ErrorIs(t, b.SetRange(math.MaxInt-1, []byte{3, 4}), gpu.ErrCapacityExceeded)
	assert.Equal(t, 2, b.Capacity())
	assert.Equal(t, queued, h.ctx.Queue().Len())
}

func TestConcurrentConstructionDispatchesCreateFirst(t *testing.T) {
	const producers = 32

	h := newHarness(t)

	var wg sync.WaitGroup
	for p := range producers {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			b := gpu.NewBufferWithCapacity[uint32](h.ctx, fmt.Sprintf("buffer-%d", p), 2)
			assert.NoError(t, b.SetRange(0, []uint32{1, 2}))
			assert.NoError(t, b.EnsureCapacity(16))
			assert.NoError(t, b.SetRange(8, []uint32{3}))
			b.Dispose()
		}(p)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	for running := true; running; {
		select {
		case <-done:
			running = false
		default:
			h.ctx.DispatchPending()
		}
	}
	h.ctx.DispatchPending()

	assert.Empty(t, h.dispatchErrors())
	assert.Equal(t, 0, h.dev.Live())
	assert.Equal(t, 0, h.ctx.Objects())

	// Every buffer call must target a handle some earlier CreateBuffer returned
	// and that has not been destroyed since.
	live := make(map[gpu.Handle]bool)
	labels := make(map[string]int)
	for _, c := range h.dev.Calls() {
		switch c.Op {
		case gputest.OpCreateBuffer:
			live[c.Handle] = true
			labels[c.Label]++
		case gputest.OpWriteBuffer:
			assert.True(t, live[c.Handle], "write to %s before create", c.Handle)
		case gputest.OpDestroyBuffer:
			assert.True(t, live[c.Handle], "destroy of %s before create", c.Handle)
			delete(live, c.Handle)
		}
	}
	assert.Len(t, labels, producers)
}
