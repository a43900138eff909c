package renderer

import "github.com/Carmen-Shannon/oxy-queue/engine/gpu"

// RendererBackendType identifies the GPU backend implementation used by the Renderer.
type RendererBackendType int

const (
	// BackendTypeWGPU selects the WebGPU-based rendering backend.
	BackendTypeWGPU RendererBackendType = iota
)

// PresentMode controls how rendered frames are presented to the display surface.
type PresentMode int

const (
	// PresentModeVSync waits for the next vertical blank before presenting, capping frame rate
	// to the monitor's refresh rate.
	PresentModeVSync PresentMode = iota

	// PresentModeUncapped presents frames immediately without waiting for vertical blank.
	PresentModeUncapped
)

// ParsePresentMode maps a configuration string to a PresentMode.
//
// Parameters:
//   - s: "vsync" or "uncapped"
//
// Returns:
//   - PresentMode: the matching mode
//   - bool: false if s names no mode
func ParsePresentMode(s string) (PresentMode, bool) {
	switch s {
	case "vsync":
		return PresentModeVSync, true
	case "uncapped":
		return PresentModeUncapped, true
	default:
		return PresentModeVSync, false
	}
}

// MSAASampleCount controls the number of samples used for multisample anti-aliasing (MSAA).
// WebGPU guarantees support for 1 (off) and 4; higher values are adapter-dependent.
type MSAASampleCount uint32

const (
	// MSAAOff disables multisample anti-aliasing (sample count 1).
	MSAAOff MSAASampleCount = 1

	// MSAA4x enables 4x multisample anti-aliasing. This is the default.
	MSAA4x MSAASampleCount = 4

	// MSAA8x enables 8x multisample anti-aliasing. Adapter-dependent.
	MSAA8x MSAASampleCount = 8

	// MSAA16x enables 16x multisample anti-aliasing. Adapter-dependent.
	MSAA16x MSAASampleCount = 16
)

// Valid reports whether c is one of the supported sample counts.
func (c MSAASampleCount) Valid() bool {
	switch c {
	case MSAAOff, MSAA4x, MSAA8x, MSAA16x:
		return true
	default:
		return false
	}
}

// RendererBackend is the top-level backend interface for the Renderer: a
// gpu.Device plus the presentation controls of the selected GPU API.
type RendererBackend interface {
	gpu.Device

	// SetPresentMode sets the surface present mode. Takes effect on the next Configure.
	SetPresentMode(mode PresentMode)
}
