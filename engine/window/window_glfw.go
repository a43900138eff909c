package window

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/cogentcore/webgpu/wgpuglfw"
	"github.com/go-gl/glfw/v3.3/glfw"

	"github.com/Carmen-Shannon/oxy-queue/engine/logger"
)

// glfwWindow holds the GLFW-specific window state.
type glfwWindow struct {
	window *glfw.Window
}

// newPlatformWindow creates the GLFW window with input callbacks and stores it as the internal window.
//
// GLFW reference: https://www.glfw.org/docs/latest/window_guide.html
// go-gl/glfw: https://pkg.go.dev/github.com/go-gl/glfw/v3.3/glfw
func newPlatformWindow(w *engineWindow) error {
	runtime.LockOSThread()

	if err := glfw.Init(); err != nil {
		return fmt.Errorf("failed to initialize GLFW: %w", err)
	}

	// WebGPU provides its own graphics API, so disable OpenGL context creation.
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)

	win, err := glfw.CreateWindow(w.Width(), w.Height(), w.title, nil, nil)
	if err != nil {
		glfw.Terminate()
		return fmt.Errorf("failed to create GLFW window: %w", err)
	}
	win.SetSizeLimits(w.minWidth, w.minHeight, w.maxWidth, w.maxHeight)
	w.internalWindow = &glfwWindow{window: win}

	// Reference: https://pkg.go.dev/github.com/go-gl/glfw/v3.3/glfw#Window.SetKeyCallback
	win.SetKeyCallback(func(_ *glfw.Window, key glfw.Key, _ int, action glfw.Action, _ glfw.ModifierKey) {
		pressed := action == glfw.Press || action == glfw.Repeat
		w.handleKey(uint32(key), pressed, key == glfw.KeyEscape)
	})

	// Use framebuffer size callback for pixel-accurate resize events.
	// On high-DPI displays framebuffer size differs from window size, and the
	// surface must be configured in pixels.
	win.SetFramebufferSizeCallback(func(_ *glfw.Window, width, height int) {
		w.handleResize(width, height)
	})

	fbWidth, fbHeight := win.GetFramebufferSize()
	w.width.Store(int64(fbWidth))
	w.height.Store(int64(fbHeight))

	logger.Logger().Info("window created", "title", w.title, "width", fbWidth, "height", fbHeight)
	return nil
}

// platformGetSurfaceDescriptor creates a platform-appropriate wgpu.SurfaceDescriptor from the GLFW window.
// Uses the wgpuglfw bridge package which has per-platform implementations (Windows, X11, Wayland, macOS).
//
// Reference: https://pkg.go.dev/github.com/cogentcore/webgpu/wgpuglfw#GetSurfaceDescriptor
func platformGetSurfaceDescriptor(w *engineWindow) *wgpu.SurfaceDescriptor {
	if w.internalWindow == nil {
		return nil
	}
	return wgpuglfw.GetSurfaceDescriptor(w.internalWindow.window)
}

// platformIsRunningCheck returns whether the GLFW window is still open.
// glfwWindowShouldClose may be called from any thread.
func platformIsRunningCheck(w *engineWindow) bool {
	if w.internalWindow == nil {
		return false
	}
	return !w.internalWindow.window.ShouldClose()
}

// platformCloseWindow destroys the GLFW window and terminates the GLFW library.
//
// Returns:
//   - error: error if the window is not initialized
func platformCloseWindow(w *engineWindow) error {
	if w.internalWindow == nil {
		return errors.New("window is not initialized")
	}
	gw := w.internalWindow
	w.internalWindow = nil
	gw.window.SetShouldClose(true)
	gw.window.Destroy()
	glfw.Terminate()
	return nil
}

// platformProcessMessages polls GLFW for pending events without blocking.
//
// Reference: https://pkg.go.dev/github.com/go-gl/glfw/v3.3/glfw#PollEvents
func platformProcessMessages(w *engineWindow) bool {
	glfw.PollEvents()
	return w.IsRunning()
}
