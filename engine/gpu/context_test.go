package gpu_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Carmen-Shannon/oxy-queue/engine/gpu"
	"github.com/Carmen-Shannon/oxy-queue/engine/gpu/gputest"
)

// watchDrawable records, at draw time, whether its buffer already had a handle.
type watchDrawable struct {
	buffer gpu.Object

	mu        sync.Mutex
	draws     int
	sawHandle []bool
}

func (p *watchDrawable) Draw(gpu.Device) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.draws++
	p.sawHandle = append(p.sawHandle, p.buffer.Handle().Valid())
	return nil
}

func (p *watchDrawable) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.draws
}

type frameCounter struct {
	mu         sync.Mutex
	frames     int
	dispatched int
}

func (f *frameCounter) FrameDone(dispatched int, _ gpu.QueueStats) {
	f.mu.Lock()
	f.frames++
	f.dispatched += dispatched
	f.mu.Unlock()
}

func TestContextFrameOrder(t *testing.T) {
	dev := gputest.NewRecorder()
	surface := gputest.NewSurface(640, 480)
	frames := &frameCounter{}
	ctx := gpu.NewContext(dev, gpu.WithSurface(surface), gpu.WithFrameObserver(frames))

	b := gpu.NewBuffer(ctx, "watched", []float32{1})
	watcher := &watchDrawable{buffer: b}
	ctx.AddDrawable(watcher)
	ctx.AddDrawable(watcher)

	require.NoError(t, ctx.Frame())

	assert.Equal(t, []gputest.Op{
		gputest.OpConfigure,
		gputest.OpBeginFrame,
		gputest.OpCreateBuffer,
		gputest.OpWriteBuffer,
		gputest.OpPresent,
	}, dev.Ops())
	assert.Equal(t, []bool{true}, watcher.sawHandle, "queued creation lands before drawables run")
	configure := dev.CallsOf(gputest.OpConfigure)[0]
	assert.Equal(t, 640, configure.Width)
	assert.Equal(t, 480, configure.Height)

	assert.Equal(t, 1, frames.frames)
	assert.Equal(t, 2, frames.dispatched)
}

func TestContextReconfiguresOnResize(t *testing.T) {
	dev := gputest.NewRecorder()
	surface := gputest.NewSurface(100, 100)
	ctx := gpu.NewContext(dev, gpu.WithSurface(surface))

	require.NoError(t, ctx.Frame())
	require.NoError(t, ctx.Frame())
	assert.Len(t, dev.CallsOf(gputest.OpConfigure), 1)

	surface.Resize(0, 50)
	require.NoError(t, ctx.Frame())
	assert.Len(t, dev.CallsOf(gputest.OpConfigure), 1, "minimized windows are not configured")

	surface.Resize(200, 50)
	require.NoError(t, ctx.Frame())
	calls := dev.CallsOf(gputest.OpConfigure)
	require.Len(t, calls, 2)
	assert.Equal(t, 200, calls[1].Width)
}

func TestContextBeginFrameErrorStillDispatches(t *testing.T) {
	dev := gputest.NewRecorder(gputest.WithBeginFrameError(errors.New("surface lost")))
	ctx := gpu.NewContext(dev)

	b := gpu.NewBuffer(ctx, "kept", []float32{1})
	err := ctx.Frame()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "surface lost")
	assert.True(t, b.Handle().Valid())
	assert.Empty(t, dev.CallsOf(gputest.OpPresent))
}

func TestContextRunStopsWhenSurfaceCloses(t *testing.T) {
	dev := gputest.NewRecorder()
	surface := gputest.NewSurface(64, 64)
	ctx := gpu.NewContext(dev, gpu.WithSurface(surface))

	b := gpu.NewBuffer(ctx, "run", []float32{1, 2})
	watcher := &watchDrawable{buffer: b}
	ctx.AddDrawable(watcher)

	done := make(chan error, 1)
	go func() { done <- ctx.Run(context.Background()) }()

	require.Eventually(t, func() bool { return watcher.count() > 2 }, time.Second, time.Millisecond)
	require.NoError(t, b.SetRange(0, []float32{5, 6}))
	surface.Close()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after the surface closed")
	}
	assert.Equal(t, []float32{5, 6}, gputest.Contents[float32](dev, b.Handle(), 2))
}

func TestContextRunDispatchesQueuedWorkOnCancel(t *testing.T) {
	dev := gputest.NewRecorder()
	ctx := gpu.NewContext(dev)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	b := gpu.NewBuffer(ctx, "final", []float32{3})
	require.NoError(t, ctx.Run(cancelled))
	assert.True(t, b.Handle().Valid())
	assert.Empty(t, dev.CallsOf(gputest.OpBeginFrame))

	deadline, stop := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer stop()
	assert.ErrorIs(t, ctx.Run(deadline), context.DeadlineExceeded)
}

func TestContextDrawableRegistry(t *testing.T) {
	ctx := gpu.NewContext(gputest.NewRecorder())
	a, b := &watchDrawable{}, &watchDrawable{}

	ctx.AddDrawable(a)
	ctx.AddDrawable(b)
	ctx.AddDrawable(a)
	assert.Equal(t, []gpu.Drawable{a, b}, ctx.Drawables())

	ctx.RemoveDrawable(a)
	assert.Equal(t, []gpu.Drawable{b}, ctx.Drawables())
}

func TestContextDefaultTexture(t *testing.T) {
	dev := gputest.NewRecorder()
	ctx := gpu.NewContext(dev)

	tex := ctx.DefaultTexture()
	assert.Same(t, tex, ctx.DefaultTexture())

	ctx.DispatchPending()
	require.True(t, tex.Handle().Valid())
	assert.Equal(t, []byte{0xFF, 0xFF, 0xFF, 0xFF}, dev.Memory(tex.Handle()))

	other := gpu.NewContext(gputest.NewRecorder())
	assert.NotSame(t, tex, other.DefaultTexture(), "each context owns its default texture")
}

func TestNewContextRequiresDevice(t *testing.T) {
	assert.Panics(t, func() { gpu.NewContext(nil) })
}
