package gpu

import (
	"context"
	"fmt"
	"sync"
)

// Object is the contract every GPU-backed resource implements so the Queue can
// treat them uniformly.
type Object interface {
	// Handle returns the native handle, or InvalidHandle if the object has not
	// been created yet or has been disposed.
	Handle() Handle

	// Name returns a human-readable name used in logs and native debug labels.
	Name() string

	// Context returns the Context whose queue the object enqueues on.
	Context() *Context

	// DispatchEvent applies ev to the native resource. It is only ever called on
	// the context thread, and never concurrently for the same object.
	//
	// Parameters:
	//   - ev: the event to apply
	//
	// Returns:
	//   - error: a native failure or contract violation; the Context reports it
	DispatchEvent(ev Event) error
}

// objectBase carries the state shared by every Object implementation.
type objectBase struct {
	name string
	ctx  *Context

	mu     sync.RWMutex
	handle Handle

	createdOnce sync.Once
	created     chan struct{}
	createErr   error
}

// init prepares the base for an object owned by ctx.
func (o *objectBase) init(ctx *Context, name string) {
	if ctx == nil {
		panic(fmt.Sprintf("gpu: object %q requires a non-nil Context", name))
	}
	o.name = name
	o.ctx = ctx
	o.created = make(chan struct{})
}

func (o *objectBase) Handle() Handle {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.handle
}

func (o *objectBase) Name() string {
	return o.name
}

func (o *objectBase) Context() *Context {
	return o.ctx
}

// WaitCreated blocks until the object's Create event has been dispatched on the
// context thread, or ctx is done. This is the escape hatch for callers that
// must observe native creation failures such as shader compile errors.
// It must not be called from the context thread.
//
// Parameters:
//   - ctx: bounds the wait
//
// Returns:
//   - error: the creation error, ctx.Err(), or nil once the handle is valid
func (o *objectBase) WaitCreated(ctx context.Context) error {
	select {
	case <-o.created:
		return o.createErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// setHandle stores h. Only dispatch code calls it.
func (o *objectBase) setHandle(h Handle) {
	o.mu.Lock()
	o.handle = h
	o.mu.Unlock()
}

// resolveCreate releases WaitCreated callers with err. Only the first call counts.
func (o *objectBase) resolveCreate(err error) {
	o.createdOnce.Do(func() {
		o.createErr = err
		close(o.created)
	})
}

// requireHandle returns the current handle or ErrInvalidHandle.
func (o *objectBase) requireHandle() (Handle, error) {
	h := o.Handle()
	if !h.Valid() {
		return InvalidHandle, ErrInvalidHandle
	}
	return h, nil
}

// dispatchCreate runs alloc for a Create event, stores the handle, registers
// the object with its context and resolves WaitCreated. A second Create on an
// already created object is a no-op.
func (o *objectBase) dispatchCreate(self Object, alloc func() (Handle, error)) error {
	if o.Handle().Valid() {
		return nil
	}
	h, err := alloc()
	if err != nil {
		o.resolveCreate(err)
		return err
	}
	o.setHandle(h)
	o.ctx.register(self)
	o.resolveCreate(nil)
	return nil
}

// dispatchDispose runs release for a Dispose event when the handle is valid and
// clears it. Disposing twice, or before creation, is a no-op.
func (o *objectBase) dispatchDispose(self Object, release func(Handle)) error {
	h := o.Handle()
	if !h.Valid() {
		o.resolveCreate(ErrNotCreated)
		return nil
	}
	release(h)
	o.setHandle(InvalidHandle)
	o.ctx.unregister(self)
	return nil
}

func unsupported(obj Object, ev Event) error {
	return fmt.Errorf("%w: %s on %T", ErrUnsupportedEvent, ev.Kind(), obj)
}
