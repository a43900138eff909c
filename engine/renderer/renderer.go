// Package renderer implements gpu.Device on top of WebGPU. Every method runs
// on the context thread; the handles it returns index private tables of wgpu
// objects so nothing outside this package touches the native API.
package renderer

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-queue/engine/gpu"
	"github.com/Carmen-Shannon/oxy-queue/engine/logger"
	"github.com/cogentcore/webgpu/wgpu"
)

// renderer is the implementation of the Renderer interface.
type renderer struct {
	RendererBackend

	backendType          RendererBackendType
	forceFallbackAdapter bool
	presentMode          PresentMode
	sampleCount          MSAASampleCount
}

// Renderer is the native gpu.Device handed to gpu.NewContext.
//
// The Renderer embeds a backend which allows for multiple backend API implementations to exist.
type Renderer interface {
	gpu.Device

	// SetPresentMode sets the surface present mode which controls how frames are delivered to the display.
	// The new mode takes effect the next time the context reconfigures the surface.
	//
	// Parameters:
	//   - mode: the PresentMode to use
	SetPresentMode(mode PresentMode)

	// BackendType reports which backend the Renderer was built with.
	//
	// Returns:
	//   - RendererBackendType: the active backend
	BackendType() RendererBackendType
}

var _ Renderer = &renderer{}

// SurfaceSource is anything that can produce a WebGPU surface descriptor, typically a window.Window.
type SurfaceSource interface {
	SurfaceDescriptor() *wgpu.SurfaceDescriptor
}

// NewRenderer creates a Renderer presenting to the surface described by source.
// It must be called on the goroutine that will run the gpu.Context, since the
// WebGPU device is bound to that OS thread.
//
// Parameters:
//   - source: the platform surface provider, usually the engine window
//   - options: variadic list of RendererBuilderOption functions to configure the Renderer
//
// Returns:
//   - Renderer: the configured renderer
//   - error: an error if the options are invalid or no adapter or device could be acquired
func NewRenderer(source SurfaceSource, options ...RendererBuilderOption) (Renderer, error) {
	r := &renderer{
		backendType: BackendTypeWGPU,
		presentMode: PresentModeVSync,
		sampleCount: MSAA4x,
	}

	// Apply options first so config flags (e.g. forceFallbackAdapter) are
	// available before the backend requests a GPU adapter.
	for _, opt := range options {
		opt(r)
	}
	if !r.sampleCount.Valid() {
		return nil, fmt.Errorf("renderer: unsupported MSAA sample count %d", r.sampleCount)
	}

	desc := source.SurfaceDescriptor()
	if desc == nil {
		return nil, fmt.Errorf("renderer: surface source has no surface descriptor")
	}

	switch r.backendType {
	case BackendTypeWGPU:
		backend, err := newWGPURendererBackend(desc, r.forceFallbackAdapter, r.sampleCount)
		if err != nil {
			return nil, err
		}
		r.RendererBackend = backend
	default:
		return nil, fmt.Errorf("renderer: unknown backend type %d", r.backendType)
	}

	r.SetPresentMode(r.presentMode)
	logger.Logger().Info("renderer ready",
		"backend", r.backendType,
		"msaa", uint32(r.sampleCount),
		"software", r.forceFallbackAdapter,
	)
	return r, nil
}

func (r *renderer) BackendType() RendererBackendType {
	return r.backendType
}

func (t RendererBackendType) String() string {
	switch t {
	case BackendTypeWGPU:
		return "wgpu"
	default:
		return "unknown"
	}
}
