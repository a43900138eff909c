package window

import (
	"runtime"
	"sync/atomic"

	"github.com/cogentcore/webgpu/wgpu"

	"github.com/Carmen-Shannon/oxy-queue/engine/gpu"
)

// Window provides platform windowing and input event handling.
// It is the gpu.Surface a Context presents to: Extent and IsRunning may be
// called from the context thread while the message loop runs on the main thread.
type Window interface {
	gpu.Surface

	// SetUpdateCallback sets the function called each message loop iteration.
	//
	// Parameters:
	//   - callback: function to call (or nil to disable)
	SetUpdateCallback(callback func())

	// SetResizeCallback sets the function called when the framebuffer is resized.
	//
	// Parameters:
	//   - callback: function receiving new width and height in pixels
	SetResizeCallback(callback func(width, height int))

	// SetKeyDownCallback sets the callback for key press and repeat events.
	//
	// Parameters:
	//   - callback: function receiving the GLFW key code
	SetKeyDownCallback(callback func(keyCode uint32))

	// SetKeyUpCallback sets the callback for key release events.
	//
	// Parameters:
	//   - callback: function receiving the GLFW key code
	SetKeyUpCallback(callback func(keyCode uint32))

	// SurfaceDescriptor returns a wgpu.SurfaceDescriptor suitable for creating a WebGPU surface.
	// The descriptor is platform-appropriate (Windows HWND, X11 Xlib, Wayland, macOS Metal, etc.)
	// and is created by the wgpuglfw bridge from the underlying GLFW window.
	//
	// Returns:
	//   - *wgpu.SurfaceDescriptor: the platform-specific surface descriptor, or nil if window is not initialized
	SurfaceDescriptor() *wgpu.SurfaceDescriptor

	// RequestClose asks the message loop to exit. Safe to call from any goroutine.
	RequestClose()

	// Close destroys the window and releases platform resources. Main thread only,
	// after ProcessMessages has returned.
	//
	// Returns:
	//   - error: error if the window was never created
	Close() error

	// ProcessMessages runs the window message loop on the calling (main) thread.
	// Blocks until the window is closed. Calls the update callback each iteration.
	ProcessMessages()

	// Width returns the current framebuffer width in pixels.
	Width() int

	// Height returns the current framebuffer height in pixels.
	Height() int
}

// engineWindow is the implementation of the Window interface.
// Holds window configuration, GLFW state, and event callbacks.
type engineWindow struct {
	// title is the window title displayed in the title bar.
	title string

	// size limits applied to the platform window.
	maxWidth  int
	maxHeight int
	minWidth  int
	minHeight int

	// width and height are the framebuffer size, written by the resize
	// callback and read by the context thread.
	width  atomic.Int64
	height atomic.Int64

	// closeRequested is set by RequestClose or the escape key.
	closeRequested atomic.Bool

	// escapeCloses closes the window on the escape key.
	escapeCloses bool

	// internalWindow holds the platform-specific window data (glfwWindow).
	internalWindow *glfwWindow

	onUpdate  func()
	onResize  func(width, height int)
	onKeyDown func(keyCode uint32)
	onKeyUp   func(keyCode uint32)
}

var _ Window = &engineWindow{}

// newEngineWindow applies defaults and options without touching the platform.
func newEngineWindow(options ...WindowBuilderOption) *engineWindow {
	w := &engineWindow{
		title:        "oxy",
		maxWidth:     3840,
		maxHeight:    2160,
		minWidth:     320,
		minHeight:    200,
		escapeCloses: true,
	}
	w.width.Store(1280)
	w.height.Store(720)
	for _, opt := range options {
		opt(w)
	}
	return w
}

// NewWindow creates and shows a platform window. Must be called on the main
// thread, which then has to run ProcessMessages.
//
// Parameters:
//   - options: functional options to configure the window
//
// Returns:
//   - Window: the created window
//   - error: error if the platform window could not be created
func NewWindow(options ...WindowBuilderOption) (Window, error) {
	w := newEngineWindow(options...)
	if err := newPlatformWindow(w); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *engineWindow) SetUpdateCallback(callback func()) {
	w.onUpdate = callback
}

func (w *engineWindow) SetResizeCallback(callback func(width, height int)) {
	w.onResize = callback
}

func (w *engineWindow) SetKeyDownCallback(callback func(keyCode uint32)) {
	w.onKeyDown = callback
}

func (w *engineWindow) SetKeyUpCallback(callback func(keyCode uint32)) {
	w.onKeyUp = callback
}

func (w *engineWindow) SurfaceDescriptor() *wgpu.SurfaceDescriptor {
	return platformGetSurfaceDescriptor(w)
}

func (w *engineWindow) IsRunning() bool {
	if w.closeRequested.Load() {
		return false
	}
	return platformIsRunningCheck(w)
}

func (w *engineWindow) RequestClose() {
	w.closeRequested.Store(true)
}

func (w *engineWindow) Close() error {
	w.closeRequested.Store(true)
	return platformCloseWindow(w)
}

func (w *engineWindow) ProcessMessages() {
	for w.IsRunning() {
		if succ := platformProcessMessages(w); !succ {
			break
		}

		if w.onUpdate != nil {
			w.onUpdate()
		}

		runtime.Gosched()
	}
}

func (w *engineWindow) Extent() (int, int) {
	return int(w.width.Load()), int(w.height.Load())
}

func (w *engineWindow) Width() int {
	return int(w.width.Load())
}

func (w *engineWindow) Height() int {
	return int(w.height.Load())
}

// handleResize stores the framebuffer size and forwards it. Minimized windows report 0x0.
func (w *engineWindow) handleResize(width, height int) {
	w.width.Store(int64(width))
	w.height.Store(int64(height))
	if w.onResize != nil {
		w.onResize(width, height)
	}
}

// handleKey routes one key event. pressed is false for releases.
func (w *engineWindow) handleKey(key uint32, pressed, escape bool) {
	if escape && pressed && w.escapeCloses {
		w.closeRequested.Store(true)
		return
	}
	if pressed {
		if w.onKeyDown != nil {
			w.onKeyDown(key)
		}
		return
	}
	if w.onKeyUp != nil {
		w.onKeyUp(key)
	}
}
