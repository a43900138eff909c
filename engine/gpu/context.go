package gpu

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/Carmen-Shannon/oxy-queue/engine/logger"
)

// FrameObserver is notified after every frame the context thread completes.
// The profiler implements it.
type FrameObserver interface {
	// FrameDone is called on the context thread with the number of entries
	// dispatched this frame and the queue's cumulative counters.
	FrameDone(dispatched int, stats QueueStats)
}

// Context owns the command queue for one native graphics context together with
// the registries of live objects and drawables. It does not own the objects
// themselves, only the right to mutate their handles during dispatch.
type Context struct {
	device  Device
	surface Surface
	queue   *Queue

	clearColor   Color
	errorHandler func(*DispatchError)
	observer     FrameObserver

	mu        sync.Mutex
	objects   map[Object]struct{}
	drawables []Drawable

	lastWidth, lastHeight int

	defaultTextureOnce sync.Once
	defaultTexture     *Texture
}

// NewContext creates a Context that dispatches onto device.
// Panics if device is nil.
//
// Parameters:
//   - device: the native graphics API implementation
//   - options: functional options to configure the context
//
// Returns:
//   - *Context: the new context
func NewContext(device Device, options ...ContextBuilderOption) *Context {
	if device == nil {
		panic("gpu: NewContext requires a non-nil Device")
	}
	c := &Context{
		device:     device,
		queue:      NewQueue(),
		clearColor: Color{R: 0.1, G: 0.1, B: 0.1, A: 1.0},
		objects:    make(map[Object]struct{}),
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// Device returns the native device.
func (c *Context) Device() Device {
	return c.device
}

// Queue returns the context's command queue.
func (c *Context) Queue() *Queue {
	return c.queue
}

// Enqueue appends (obj, ev) to the context's queue. Safe from any goroutine.
func (c *Context) Enqueue(obj Object, ev Event) {
	c.queue.Enqueue(obj, ev)
}

// EnqueueUnique enqueues ev, collapsing it into a pending entry of the same
// kind for obj if one exists. Safe from any goroutine.
func (c *Context) EnqueueUnique(obj Object, ev Event) {
	c.queue.EnqueueUnique(obj, ev)
}

// TryReplaceUnique replaces a pending entry of the same kind for obj.
// Safe from any goroutine.
//
// Returns:
//   - bool: true if a pending entry was replaced
func (c *Context) TryReplaceUnique(obj Object, ev Event) bool {
	return c.queue.TryReplaceUnique(obj, ev)
}

// AddDrawable registers d to be drawn every frame, in registration order.
// Registering the same drawable twice is a no-op.
func (c *Context) AddDrawable(d Drawable) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.drawables {
		if existing == d {
			return
		}
	}
	c.drawables = append(c.drawables, d)
}

// RemoveDrawable unregisters d.
func (c *Context) RemoveDrawable(d Drawable) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, existing := range c.drawables {
		if existing == d {
			c.drawables = append(c.drawables[:i], c.drawables[i+1:]...)
			return
		}
	}
}

// Drawables returns a copy of the registered drawables.
func (c *Context) Drawables() []Drawable {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Drawable, len(c.drawables))
	copy(out, c.drawables)
	return out
}

// Objects returns the number of objects whose Create has been dispatched and
// whose Dispose has not.
func (c *Context) Objects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.objects)
}

// DefaultTexture returns the context's 1x1 opaque white texture, constructing
// it on first use. It lives as long as the context.
func (c *Context) DefaultTexture() *Texture {
	c.defaultTextureOnce.Do(func() {
		c.defaultTexture = NewTexture(c, "default white", 1, 1, []byte{0xFF, 0xFF, 0xFF, 0xFF})
	})
	return c.defaultTexture
}

// DispatchPending drains the queue and dispatches every entry in order without
// drawing. Must be called on the context thread.
//
// Returns:
//   - int: the number of entries dispatched
func (c *Context) DispatchPending() int {
	entries := c.queue.DrainAndClear()
	for _, e := range entries {
		if err := e.Object.DispatchEvent(e.Event); err != nil {
			c.report(&DispatchError{Object: e.Object, Event: e.Event, Err: err})
		}
	}
	return len(entries)
}

// Frame runs one iteration of the context thread loop: reconfigure on resize,
// clear, drain and dispatch the queue, draw every registered drawable, present.
// Must be called on the context thread.
//
// Returns:
//   - error: an error if the frame could not begin or present
func (c *Context) Frame() error {
	if c.surface != nil {
		w, h := c.surface.Extent()
		if w != c.lastWidth || h != c.lastHeight {
			c.lastWidth, c.lastHeight = w, h
			if w > 0 && h > 0 {
				c.device.Configure(w, h)
			}
		}
	}

	if err := c.device.BeginFrame(c.clearColor); err != nil {
		// Mutations still have to land even when there is no target to draw into.
		c.DispatchPending()
		return fmt.Errorf("gpu: begin frame: %w", err)
	}

	dispatched := c.DispatchPending()

	for _, d := range c.Drawables() {
		if err := d.Draw(c.device); err != nil {
			logger.Logger().Error("draw failed", "drawable", fmt.Sprintf("%T", d), "err", err)
		}
	}

	if err := c.device.Present(); err != nil {
		return fmt.Errorf("gpu: present: %w", err)
	}

	if c.observer != nil {
		c.observer.FrameDone(dispatched, c.queue.Stats())
	}
	return nil
}

// Run locks the calling goroutine to its OS thread, making it the context
// thread, and runs Frame until the surface closes or ctx is done. Entries still
// queued at exit are dispatched; queued work is never cancelled.
//
// Parameters:
//   - ctx: cancels the loop
//
// Returns:
//   - error: nil when the surface closes or ctx is cancelled, ctx.Err() on deadline
func (c *Context) Run(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	log := logger.Logger()
	log.Info("context thread started")
	defer log.Info("context thread stopped")

	for {
		select {
		case <-ctx.Done():
			c.DispatchPending()
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		default:
		}

		if c.surface != nil && !c.surface.IsRunning() {
			c.DispatchPending()
			return nil
		}

		if err := c.Frame(); err != nil {
			log.Warn("frame skipped", "err", err)
		}
	}
}

// report routes a dispatch failure to the error handler and the logger.
func (c *Context) report(err *DispatchError) {
	logger.Logger().Error("dispatch failed",
		"object", err.Object.Name(),
		"event", err.Event.Kind().String(),
		"err", err.Err,
	)
	if c.errorHandler != nil {
		c.errorHandler(err)
	}
}

func (c *Context) register(obj Object) {
	c.mu.Lock()
	c.objects[obj] = struct{}{}
	c.mu.Unlock()
}

func (c *Context) unregister(obj Object) {
	c.mu.Lock()
	delete(c.objects, obj)
	c.mu.Unlock()
}
