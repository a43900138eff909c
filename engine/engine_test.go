package engine_test

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Carmen-Shannon/oxy-queue/engine"
	"github.com/Carmen-Shannon/oxy-queue/engine/gpu"
	"github.com/Carmen-Shannon/oxy-queue/engine/gpu/gputest"
	"github.com/Carmen-Shannon/oxy-queue/engine/renderer"
	"github.com/Carmen-Shannon/oxy-queue/engine/scene"
	"github.com/Carmen-Shannon/oxy-queue/engine/window"
)

// fakeWindow runs a message loop without a platform window.
type fakeWindow struct {
	*gputest.Surface
	closed   atomic.Bool
	onUpdate func()
}

var _ window.Window = &fakeWindow{}

func newFakeWindow() *fakeWindow {
	return &fakeWindow{Surface: gputest.NewSurface(64, 64)}
}

func (w *fakeWindow) SetUpdateCallback(callback func())          { w.onUpdate = callback }
func (w *fakeWindow) SetResizeCallback(func(width, height int))  {}
func (w *fakeWindow) SetKeyDownCallback(func(keyCode uint32))    {}
func (w *fakeWindow) SetKeyUpCallback(func(keyCode uint32))      {}
func (w *fakeWindow) SurfaceDescriptor() *wgpu.SurfaceDescriptor { return nil }
func (w *fakeWindow) RequestClose()                              { w.Surface.Close() }

func (w *fakeWindow) Width() int {
	width, _ := w.Extent()
	return width
}

func (w *fakeWindow) Height() int {
	_, height := w.Extent()
	return height
}

func (w *fakeWindow) Close() error {
	w.closed.Store(true)
	return nil
}

func (w *fakeWindow) ProcessMessages() {
	for w.IsRunning() {
		if w.onUpdate != nil {
			w.onUpdate()
		}
		time.Sleep(time.Millisecond)
	}
}

type countingDrawable struct {
	draws atomic.Int64
}

func (d *countingDrawable) Draw(gpu.Device) error {
	d.draws.Add(1)
	return nil
}

func recorderFactory(dev *gputest.Recorder) engine.DeviceFactory {
	return func(renderer.SurfaceSource) (gpu.Device, error) {
		return dev, nil
	}
}

func TestEngineRunsThreadsUntilQuit(t *testing.T) {
	dev := gputest.NewRecorder()
	win := newFakeWindow()
	drawable := &countingDrawable{}
	hidden := &countingDrawable{}

	var ticks, updates atomic.Int64
	var e engine.Engine
	e = engine.NewEngine(
		engine.WithWindow(win),
		engine.WithDeviceFactory(recorderFactory(dev)),
		engine.WithTickRate(500),
		engine.WithRenderFrameLimit(1000),
		engine.WithSetup(func(ctx *gpu.Context) error {
			gpu.NewBuffer(ctx, "setup", []float32{1, 2, 3})

			s := scene.NewScene("main", scene.WithActive(true), scene.WithWorkers(2))
			s.Add("counter", drawable, func(time.Duration) error {
				if updates.Add(1) == 5 {
					e.Quit()
				}
				return nil
			})
			e.AddScene(1, s)

			off := scene.NewScene("off")
			off.Add("hidden", hidden, nil)
			e.AddScene(0, off)
			return nil
		}),
	)
	e.SetTickCallback(func(time.Duration) { ticks.Add(1) })

	done := make(chan error, 1)
	go func() { done <- e.Run() }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop")
	}

	assert.GreaterOrEqual(t, updates.Load(), int64(5))
	assert.GreaterOrEqual(t, ticks.Load(), updates.Load())
	assert.Positive(t, drawable.draws.Load())
	assert.Zero(t, hidden.draws.Load())
	assert.NotEmpty(t, dev.CallsOf(gputest.OpPresent))
	assert.Len(t, dev.CallsOf(gputest.OpCreateBuffer), 1)
	assert.True(t, dev.Released())
	assert.True(t, win.closed.Load())
	assert.NotNil(t, e.Context())
}

func TestEngineReportsDeviceError(t *testing.T) {
	boom := errors.New("no adapter")
	win := newFakeWindow()
	e := engine.NewEngine(
		engine.WithWindow(win),
		engine.WithDeviceFactory(func(renderer.SurfaceSource) (gpu.Device, error) { return nil, boom }),
	)

	err := e.Run()
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, e.Context())
	assert.True(t, win.closed.Load())
}

func TestEngineSetupErrorStopsRun(t *testing.T) {
	boom := errors.New("bad shader")
	dev := gputest.NewRecorder()
	e := engine.NewEngine(
		engine.WithWindow(newFakeWindow()),
		engine.WithDeviceFactory(recorderFactory(dev)),
		engine.WithSetup(func(*gpu.Context) error { return boom }),
	)

	assert.ErrorIs(t, e.Run(), boom)
	assert.True(t, dev.Released())
	assert.Empty(t, dev.CallsOf(gputest.OpPresent))
}

func TestEngineRequiresWindow(t *testing.T) {
	assert.Error(t, engine.NewEngine().Run())
}

func TestEngineSceneRegistry(t *testing.T) {
	a := scene.NewScene("a")
	t.Cleanup(a.Close)
	e := engine.NewEngine(engine.WithScene(2, a))

	assert.Same(t, a, e.Scene(2))
	assert.Len(t, e.Scenes(), 1)
	e.RemoveScene(2)
	assert.Nil(t, e.Scene(2))
}
