package gpu

import (
	"fmt"
	"sync"
)

// vertexBinding records which object sources an attribute and which native
// handle it had when the binding was last issued.
type vertexBinding struct {
	attribute VertexAttribute
	buffer    Object
	bound     Handle
}

// VertexArray groups attribute bindings and an optional index buffer.
// Bindings reference buffers as Objects, so a buffer that has not been created
// yet when BindAttribute is called is resolved when the binding is dispatched.
type VertexArray struct {
	objectBase

	mu          sync.Mutex
	bindings    []vertexBinding
	index       Object
	indexFormat IndexFormat
	indexBound  Handle
}

var _ Object = &VertexArray{}

// NewVertexArray enqueues creation of an empty vertex array.
//
// Parameters:
//   - ctx: the owning Context
//   - name: diagnostic name
//
// Returns:
//   - *VertexArray: the new vertex array
func NewVertexArray(ctx *Context, name string) *VertexArray {
	va := &VertexArray{}
	va.objectBase.init(ctx, name)
	ctx.Enqueue(va, CreateEvent{})
	return va
}

// BindAttribute enqueues sourcing attr from buffer.
//
// Parameters:
//   - attr: the attribute description
//   - buffer: the buffer the attribute reads from
func (va *VertexArray) BindAttribute(attr VertexAttribute, buffer Object) {
	va.ctx.Enqueue(va, BindAttributeEvent{Attribute: attr, Buffer: buffer})
}

// BindLayout enqueues one BindAttribute per attribute of layout, taking the
// buffer for each attribute's slot from buffers.
//
// Parameters:
//   - layout: the attribute layout
//   - buffers: buffers indexed by slot
//
// Returns:
//   - error: an error if a slot has no buffer
func (va *VertexArray) BindLayout(layout AttributeLayout, buffers ...Object) error {
	for _, attr := range layout {
		if int(attr.Slot) >= len(buffers) || buffers[attr.Slot] == nil {
			return fmt.Errorf("gpu: %q attribute %q reads slot %d with no buffer", va.name, attr.Name, attr.Slot)
		}
	}
	for _, attr := range layout {
		va.BindAttribute(attr, buffers[attr.Slot])
	}
	return nil
}

// SetIndexBuffer enqueues attaching buffer as the index buffer.
//
// Parameters:
//   - buffer: the index buffer
//   - format: the index element type
func (va *VertexArray) SetIndexBuffer(buffer Object, format IndexFormat) {
	va.ctx.Enqueue(va, SetIndexBufferEvent{Buffer: buffer, Format: format})
}

// Dispose enqueues the release of the vertex array. Bound buffers are not disposed.
func (va *VertexArray) Dispose() {
	va.ctx.Enqueue(va, DisposeEvent{})
}

// Sync reissues any binding whose buffer was reallocated since it was bound.
// Must be called on the context thread, typically from a Drawable before it draws.
//
// Returns:
//   - error: the first native error
func (va *VertexArray) Sync() error {
	h, err := va.requireHandle()
	if err != nil {
		return err
	}
	device := va.ctx.device

	va.mu.Lock()
	defer va.mu.Unlock()
	for i := range va.bindings {
		b := &va.bindings[i]
		current := b.buffer.Handle()
		if current == b.bound || !current.Valid() {
			continue
		}
		if err := device.BindVertexAttribute(h, b.attribute, current); err != nil {
			return fmt.Errorf("rebinding %q: %w", b.attribute.Name, err)
		}
		b.bound = current
	}
	if va.index != nil {
		current := va.index.Handle()
		if current != va.indexBound && current.Valid() {
			if err := device.SetIndexBuffer(h, current, va.indexFormat); err != nil {
				return fmt.Errorf("rebinding index buffer: %w", err)
			}
			va.indexBound = current
		}
	}
	return nil
}

// DispatchEvent applies ev on the context thread.
func (va *VertexArray) DispatchEvent(ev Event) error {
	device := va.ctx.device
	switch e := ev.(type) {
	case CreateEvent:
		return va.dispatchCreate(va, func() (Handle, error) {
			return device.CreateVertexArray(va.name)
		})

	case DisposeEvent:
		return va.dispatchDispose(va, func(h Handle) {
			device.DestroyVertexArray(h)
			va.mu.Lock()
			va.bindings = nil
			va.index = nil
			va.mu.Unlock()
		})

	case BindAttributeEvent:
		h, err := va.requireHandle()
		if err != nil {
			return err
		}
		buf := e.Buffer.Handle()
		if !buf.Valid() {
			return fmt.Errorf("binding %q to %q: %w", e.Attribute.Name, e.Buffer.Name(), ErrInvalidHandle)
		}
		if err := device.BindVertexAttribute(h, e.Attribute, buf); err != nil {
			return err
		}
		va.mu.Lock()
		va.bindings = replaceBinding(va.bindings, vertexBinding{attribute: e.Attribute, buffer: e.Buffer, bound: buf})
		va.mu.Unlock()
		return nil

	case SetIndexBufferEvent:
		h, err := va.requireHandle()
		if err != nil {
			return err
		}
		buf := e.Buffer.Handle()
		if !buf.Valid() {
			return fmt.Errorf("index buffer %q: %w", e.Buffer.Name(), ErrInvalidHandle)
		}
		if err := device.SetIndexBuffer(h, buf, e.Format); err != nil {
			return err
		}
		va.mu.Lock()
		va.index, va.indexFormat, va.indexBound = e.Buffer, e.Format, buf
		va.mu.Unlock()
		return nil

	default:
		return unsupported(va, ev)
	}
}

// replaceBinding overwrites the binding for the same location or appends.
func replaceBinding(bindings []vertexBinding, b vertexBinding) []vertexBinding {
	for i := range bindings {
		if bindings[i].attribute.Location == b.attribute.Location {
			bindings[i] = b
			return bindings
		}
	}
	return append(bindings, b)
}
