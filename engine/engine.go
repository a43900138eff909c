package engine

import (
	"context"
	"errors"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cogentcore/webgpu/wgpu"

	"github.com/Carmen-Shannon/oxy-queue/engine/gpu"
	"github.com/Carmen-Shannon/oxy-queue/engine/logger"
	"github.com/Carmen-Shannon/oxy-queue/engine/profiler"
	"github.com/Carmen-Shannon/oxy-queue/engine/renderer"
	"github.com/Carmen-Shannon/oxy-queue/engine/scene"
	"github.com/Carmen-Shannon/oxy-queue/engine/window"
)

// DeviceFactory creates the native device on the context thread.
type DeviceFactory func(source renderer.SurfaceSource) (gpu.Device, error)

// engine implements the Engine interface.
// Coordinates the main (window), context and tick threads.
type engine struct {
	tickRateChannel chan time.Duration // Channel for dynamic tick rate updates

	running atomic.Bool
	wg      sync.WaitGroup

	quitChannel chan struct{}
	quitOnce    sync.Once // Ensures quitChannel is only closed once

	// ready is closed once setup has run on the context thread.
	ready chan struct{}

	window          window.Window
	newDevice       DeviceFactory
	rendererOptions []renderer.RendererBuilderOption
	gpuCtx          atomic.Pointer[gpu.Context]
	clearColor      gpu.Color
	setup           func(ctx *gpu.Context) error

	profiler         *profiler.Profiler
	profilingEnabled atomic.Bool

	engineTickRate time.Duration
	tickCallback   func(dt time.Duration)

	scenesMu sync.RWMutex
	scenes   map[int]scene.Scene

	renderFrameLimit atomic.Int64 // minimum frame duration in ns; 0 = uncapped
	lastFrame        time.Time

	errMu  sync.Mutex
	runErr error
}

// Engine is the main entry point for the engine.
// It owns three threads: the main thread runs the window message loop, the
// context thread owns the native device and drains the command queue once per
// frame, and the tick thread updates active scenes at a fixed rate.
type Engine interface {
	// Window returns the underlying window.
	//
	// Returns:
	//   - window.Window: the window instance
	Window() window.Window

	// Context returns the gpu context, or nil until the context thread has started.
	//
	// Returns:
	//   - *gpu.Context: the context resources are created against
	Context() *gpu.Context

	// EnableProfiler enables performance profiling output to the log.
	EnableProfiler()

	// DisableProfiler disables performance profiling output.
	DisableProfiler()

	// SetTickRate sets the engine tick rate in ticks per second.
	// Scene updates and the tick callback run at this rate.
	//
	// Parameters:
	//   - fps: target ticks per second (defaults to 60 if <= 0)
	SetTickRate(fps float64)

	// SetTickCallback registers the function called each engine tick, before
	// scene updates. Must be set before Run.
	//
	// Parameters:
	//   - callback: function receiving the elapsed time since the previous tick
	SetTickCallback(callback func(dt time.Duration))

	// SetRenderFrameLimit sets an optional frame rate cap in frames per second.
	// Pass 0 to uncap the context loop (default).
	//
	// Parameters:
	//   - fps: maximum frames per second (0 = uncapped)
	SetRenderFrameLimit(fps float64)

	// AddScene registers a scene at the given z-index key.
	// Scenes are updated and drawn in ascending key order.
	//
	// Parameters:
	//   - key: the z-index determining draw order (lower draws first)
	//   - s: the Scene to register
	AddScene(key int, s scene.Scene)

	// RemoveScene removes the scene at the given z-index key.
	// The scene is not closed.
	//
	// Parameters:
	//   - key: the z-index of the scene to remove
	RemoveScene(key int)

	// Scene retrieves the scene registered at the given z-index key.
	// Returns nil if no scene exists at that key.
	//
	// Parameters:
	//   - key: the z-index of the scene to retrieve
	//
	// Returns:
	//   - scene.Scene: the scene at the key, or nil if not found
	Scene(key int) scene.Scene

	// Scenes returns a copy of all registered scenes keyed by z-index.
	//
	// Returns:
	//   - map[int]scene.Scene: a copy of the scenes map
	Scenes() map[int]scene.Scene

	// Run starts the context and tick threads and runs the window message loop
	// on the calling goroutine, which must be the main thread. It blocks until
	// the window closes or Quit is called, then closes every registered scene.
	//
	// Returns:
	//   - error: a device creation, setup or window close error
	Run() error

	// Quit signals all engine goroutines to stop and closes the window.
	// Safe to call multiple times and from any goroutine.
	Quit()
}

// NewEngine creates a new Engine instance with the provided options.
// A window is required; the device defaults to the WebGPU renderer.
//
// Parameters:
//   - options: functional options for engine configuration (profiling, tick rate, etc.)
//
// Returns:
//   - Engine: the newly created engine
func NewEngine(options ...EngineBuilderOption) Engine {
	e := &engine{
		tickRateChannel: make(chan time.Duration, 1),
		quitChannel:     make(chan struct{}),
		ready:           make(chan struct{}),
		scenes:          make(map[int]scene.Scene),
		clearColor:      gpu.Color{R: 0.1, G: 0.1, B: 0.1, A: 1.0},
		engineTickRate:  time.Second / 60,
	}
	e.newDevice = e.defaultDevice

	for _, opt := range options {
		opt(e)
	}
	if e.profiler == nil {
		e.profiler = profiler.NewProfiler()
	}
	return e
}

func (e *engine) defaultDevice(source renderer.SurfaceSource) (gpu.Device, error) {
	r, err := renderer.NewRenderer(source, e.rendererOptions...)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (e *engine) Window() window.Window {
	return e.window
}

func (e *engine) Context() *gpu.Context {
	return e.gpuCtx.Load()
}

// surfaceSnapshot carries a descriptor captured on the main thread to the context thread.
type surfaceSnapshot struct {
	desc *wgpu.SurfaceDescriptor
}

func (s surfaceSnapshot) SurfaceDescriptor() *wgpu.SurfaceDescriptor {
	return s.desc
}

func (e *engine) Run() error {
	if e.window == nil {
		return errors.New("engine: Run requires a window")
	}
	if !e.running.CompareAndSwap(false, true) {
		return errors.New("engine: already running")
	}

	// Native window handles are read on the main thread.
	source := surfaceSnapshot{desc: e.window.SurfaceDescriptor()}

	e.wg.Add(2)
	go e.handleContext(source)
	go e.handleEngine()

	e.window.ProcessMessages()
	e.signalQuit()
	e.wg.Wait()

	e.scenesMu.RLock()
	for _, s := range e.scenes {
		s.Close()
	}
	e.scenesMu.RUnlock()

	errs := []error{e.err()}
	if err := e.window.Close(); err != nil {
		errs = append(errs, err)
	}
	e.running.Store(false)
	return errors.Join(errs...)
}

// Quit signals all engine goroutines to stop and shuts down the engine.
// Safe to call multiple times; subsequent calls are no-ops due to sync.Once.
func (e *engine) Quit() {
	e.signalQuit()
}

// signalQuit closes the quit channel and asks the message loop to exit.
func (e *engine) signalQuit() {
	e.quitOnce.Do(func() {
		close(e.quitChannel)
		if e.window != nil {
			e.window.RequestClose()
		}
	})
}

func (e *engine) setErr(err error) {
	e.errMu.Lock()
	e.runErr = errors.Join(e.runErr, err)
	e.errMu.Unlock()
}

func (e *engine) err() error {
	e.errMu.Lock()
	defer e.errMu.Unlock()
	return e.runErr
}

// handleContext is the context thread: it creates the device, runs setup and
// then the frame loop until quit. Any failure stops the whole engine.
func (e *engine) handleContext(source renderer.SurfaceSource) {
	defer e.wg.Done()
	defer e.signalQuit()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	device, err := e.newDevice(source)
	if err != nil {
		e.setErr(err)
		return
	}
	defer device.Release()

	ctx := gpu.NewContext(device,
		gpu.WithSurface(e.window),
		gpu.WithClearColor(e.clearColor),
		gpu.WithFrameObserver(e),
	)
	ctx.AddDrawable(sceneDrawable{e})
	e.gpuCtx.Store(ctx)

	if e.setup != nil {
		if err := e.setup(ctx); err != nil {
			e.setErr(err)
			ctx.DispatchPending()
			return
		}
	}
	close(e.ready)

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-e.quitChannel
		cancel()
	}()

	e.lastFrame = time.Now()
	if err := ctx.Run(runCtx); err != nil {
		e.setErr(err)
	}
}

// FrameDone forwards frame statistics to the profiler and applies the frame limit.
func (e *engine) FrameDone(dispatched int, stats gpu.QueueStats) {
	if e.profilingEnabled.Load() {
		e.profiler.FrameDone(dispatched, stats)
	}

	if limit := time.Duration(e.renderFrameLimit.Load()); limit > 0 {
		if remaining := limit - time.Since(e.lastFrame); remaining > 0 {
			time.Sleep(remaining)
		}
	}
	e.lastFrame = time.Now()
}

// handleEngine runs the fixed-rate tick loop in its own goroutine.
// Fires the tick callback and updates active scenes at the configured tick rate,
// and listens for dynamic rate changes via tickRateChannel. Exits when the quit channel is closed.
func (e *engine) handleEngine() {
	defer e.wg.Done()

	select {
	case <-e.quitChannel:
		return
	case <-e.ready:
	}

	ticker := time.NewTicker(e.engineTickRate)
	defer ticker.Stop()

	lastTick := time.Now()

	for {
		select {
		case <-e.quitChannel:
			return
		case <-ticker.C:
			now := time.Now()
			dt := now.Sub(lastTick)
			lastTick = now

			if e.tickCallback != nil {
				e.tickCallback(dt)
			}
			for _, s := range e.activeScenes() {
				if err := s.Update(dt); err != nil {
					logger.Logger().Error("scene update failed", "scene", s.Name(), "err", err)
				}
			}
		case newRate := <-e.tickRateChannel:
			ticker.Reset(newRate)
		}
	}
}

// activeScenes returns the active scenes in ascending key order.
func (e *engine) activeScenes() []scene.Scene {
	e.scenesMu.RLock()
	defer e.scenesMu.RUnlock()

	keys := make([]int, 0, len(e.scenes))
	for k := range e.scenes {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	active := make([]scene.Scene, 0, len(keys))
	for _, k := range keys {
		if s := e.scenes[k]; s.Active() {
			active = append(active, s)
		}
	}
	return active
}

// sceneDrawable draws every active scene, lower keys first, into the context's frame.
type sceneDrawable struct {
	e *engine
}

func (d sceneDrawable) Draw(device gpu.Device) error {
	var errs []error
	for _, s := range d.e.activeScenes() {
		if err := s.Draw(device); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// EnableProfiler enables performance profiling output to the log.
func (e *engine) EnableProfiler() {
	e.profilingEnabled.Store(true)
}

// DisableProfiler disables performance profiling output.
func (e *engine) DisableProfiler() {
	e.profilingEnabled.Store(false)
}

// SetTickRate sets the engine tick rate in ticks per second.
// If the engine is running, the change takes effect immediately.
func (e *engine) SetTickRate(fps float64) {
	newRate := tickInterval(fps)

	if e.running.Load() {
		// Non-blocking send; a pending value is replaced.
		select {
		case e.tickRateChannel <- newRate:
		default:
			select {
			case <-e.tickRateChannel:
			default:
			}
			e.tickRateChannel <- newRate
		}
		return
	}
	e.engineTickRate = newRate
}

func tickInterval(fps float64) time.Duration {
	if fps <= 0 {
		fps = 60
	}
	return time.Duration(float64(time.Second) / fps)
}

// SetTickCallback registers the function called each engine tick.
func (e *engine) SetTickCallback(callback func(dt time.Duration)) {
	e.tickCallback = callback
}

// SetRenderFrameLimit sets an optional frame rate cap.
// Pass 0 to uncap the context loop.
func (e *engine) SetRenderFrameLimit(fps float64) {
	if fps <= 0 {
		e.renderFrameLimit.Store(0)
		return
	}
	e.renderFrameLimit.Store(int64(float64(time.Second) / fps))
}

func (e *engine) AddScene(key int, s scene.Scene) {
	e.scenesMu.Lock()
	defer e.scenesMu.Unlock()
	e.scenes[key] = s
}

func (e *engine) RemoveScene(key int) {
	e.scenesMu.Lock()
	defer e.scenesMu.Unlock()
	delete(e.scenes, key)
}

func (e *engine) Scene(key int) scene.Scene {
	e.scenesMu.RLock()
	defer e.scenesMu.RUnlock()
	return e.scenes[key]
}

func (e *engine) Scenes() map[int]scene.Scene {
	e.scenesMu.RLock()
	defer e.scenesMu.RUnlock()
	cp := make(map[int]scene.Scene, len(e.scenes))
	for k, v := range e.scenes {
		cp[k] = v
	}
	return cp
}
