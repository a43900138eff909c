package engine

import (
	"github.com/Carmen-Shannon/oxy-queue/engine/gpu"
	"github.com/Carmen-Shannon/oxy-queue/engine/profiler"
	"github.com/Carmen-Shannon/oxy-queue/engine/renderer"
	"github.com/Carmen-Shannon/oxy-queue/engine/scene"
	"github.com/Carmen-Shannon/oxy-queue/engine/window"
)

// EngineBuilderOption is a functional option for configuring an Engine.
// Use the With* functions to create options that are applied directly to the engine instance.
type EngineBuilderOption func(*engine)

// WithProfiling enables or disables performance profiling output.
//
// Parameters:
//   - enabled: if true, enables performance profiling
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithProfiling(enabled bool) EngineBuilderOption {
	return func(e *engine) {
		e.profilingEnabled.Store(enabled)
	}
}

// WithProfiler replaces the default profiler, e.g. to change its interval.
func WithProfiler(p *profiler.Profiler) EngineBuilderOption {
	return func(e *engine) {
		e.profiler = p
	}
}

// WithTickRate sets the engine tick rate in ticks per second.
// Values <= 0 will be treated as the default (60Hz).
//
// Parameters:
//   - fps: target ticks per second (default 60)
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithTickRate(fps float64) EngineBuilderOption {
	return func(e *engine) {
		e.engineTickRate = tickInterval(fps)
	}
}

// WithWindow sets the window the engine presents to and runs the message loop of.
//
// Parameters:
//   - w: a created Window instance
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithWindow(w window.Window) EngineBuilderOption {
	return func(e *engine) {
		e.window = w
	}
}

// WithScene registers a scene at the given z-index key during engine construction.
// Scenes are drawn in ascending key order.
//
// Parameters:
//   - key: the z-index determining draw order (lower draws first)
//   - s: the Scene to register
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithScene(key int, s scene.Scene) EngineBuilderOption {
	return func(e *engine) {
		e.scenes[key] = s
	}
}

// WithRenderFrameLimit sets an optional frame rate cap in frames per second.
// Pass 0 to uncap the context loop (default).
//
// Parameters:
//   - fps: maximum frames per second (0 = uncapped)
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithRenderFrameLimit(fps float64) EngineBuilderOption {
	return func(e *engine) {
		e.SetRenderFrameLimit(fps)
	}
}

// WithClearColor sets the frame clear color.
func WithClearColor(color gpu.Color) EngineBuilderOption {
	return func(e *engine) {
		e.clearColor = color
	}
}

// WithRendererOptions passes options to the default WebGPU renderer.
// Ignored when WithDeviceFactory is used.
//
// Parameters:
//   - options: renderer builder options
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithRendererOptions(options ...renderer.RendererBuilderOption) EngineBuilderOption {
	return func(e *engine) {
		e.rendererOptions = append(e.rendererOptions, options...)
	}
}

// WithDeviceFactory replaces the WebGPU renderer with another gpu.Device.
// The factory runs on the context thread.
//
// Parameters:
//   - factory: creates the device
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithDeviceFactory(factory DeviceFactory) EngineBuilderOption {
	return func(e *engine) {
		e.newDevice = factory
	}
}

// WithSetup registers a function run once on the context thread after the
// context is created and before the first frame. It is where resources and
// scenes are built. An error stops the engine and is returned from Run.
// Nothing queued during setup is dispatched until it returns, so it must not
// call WaitCreated.
//
// Parameters:
//   - setup: the setup function
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithSetup(setup func(ctx *gpu.Context) error) EngineBuilderOption {
	return func(e *engine) {
		e.setup = setup
	}
}
