package gpu

import "fmt"

// EventKind identifies the concrete type of an Event.
type EventKind int

const (
	// EventCreate allocates the native resource and stores its handle.
	EventCreate EventKind = iota

	// EventDispose releases the native resource and clears the handle.
	EventDispose

	// EventGrowCapacity reallocates buffer storage and uploads the whole mirror.
	EventGrowCapacity

	// EventUpdateRange uploads the contiguous dirty range of a buffer mirror.
	EventUpdateRange

	// EventUpdateIndices uploads the scattered dirty indices of a sparse buffer.
	EventUpdateIndices

	// EventBindAttribute attaches a buffer to a vertex array attribute slot.
	EventBindAttribute

	// EventSetIndexBuffer attaches an index buffer to a vertex array.
	EventSetIndexBuffer

	// EventUploadTexture uploads the staged pixels of a texture.
	EventUploadTexture
)

var eventKindNames = [...]string{
	EventCreate:         "Create",
	EventDispose:        "Dispose",
	EventGrowCapacity:   "GrowCapacity",
	EventUpdateRange:    "UpdateRange",
	EventUpdateIndices:  "UpdateIndices",
	EventBindAttribute:  "BindAttribute",
	EventSetIndexBuffer: "SetIndexBuffer",
	EventUploadTexture:  "UploadTexture",
}

func (k EventKind) String() string {
	if k >= 0 && int(k) < len(eventKindNames) {
		return eventKindNames[k]
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Collapsible reports whether queued events of this kind may be overwritten in
// place by a newer event of the same kind for the same object.
// Create and Dispose are never collapsible.
func (k EventKind) Collapsible() bool {
	switch k {
	case EventGrowCapacity, EventUpdateRange, EventUpdateIndices, EventUploadTexture:
		return true
	default:
		return false
	}
}

// Event is an immutable description of one required mutation of a GPU object.
// The set of implementations is closed: only the types in this file satisfy it.
// Events carry no reference to their target; the Queue pairs them with it.
type Event interface {
	// Kind returns the discriminator for this event.
	Kind() EventKind

	sealed()
}

// CreateEvent asks the object to allocate its native resource.
type CreateEvent struct{}

// DisposeEvent asks the object to release its native resource.
type DisposeEvent struct{}

// GrowCapacityEvent asks a buffer to reallocate native storage for Capacity
// elements and upload its entire mirror.
type GrowCapacityEvent struct {
	Capacity int
}

// UpdateRangeEvent asks a buffer to upload the element span
// [Offset, Offset+Length) of its mirror.
type UpdateRangeEvent struct {
	Offset int
	Length int
}

// UpdateIndicesEvent asks a sparse buffer to upload its dirty indices.
// Count is the number of dirty indices at the time the event was last written.
type UpdateIndicesEvent struct {
	Count int
}

// BindAttributeEvent asks a vertex array to source Attribute from Buffer.
type BindAttributeEvent struct {
	Attribute VertexAttribute
	Buffer    Object
}

// SetIndexBufferEvent asks a vertex array to use Buffer as its index buffer.
type SetIndexBufferEvent struct {
	Buffer Object
	Format IndexFormat
}

// UploadTextureEvent asks a texture to upload its staged pixels.
type UploadTextureEvent struct {
	Width  uint32
	Height uint32
}

func (CreateEvent) Kind() EventKind         { return EventCreate }
func (DisposeEvent) Kind() EventKind        { return EventDispose }
func (GrowCapacityEvent) Kind() EventKind   { return EventGrowCapacity }
func (UpdateRangeEvent) Kind() EventKind    { return EventUpdateRange }
func (UpdateIndicesEvent) Kind() EventKind  { return EventUpdateIndices }
func (BindAttributeEvent) Kind() EventKind  { return EventBindAttribute }
func (SetIndexBufferEvent) Kind() EventKind { return EventSetIndexBuffer }
func (UploadTextureEvent) Kind() EventKind  { return EventUploadTexture }

func (CreateEvent) sealed()         {}
func (DisposeEvent) sealed()        {}
func (GrowCapacityEvent) sealed()   {}
func (UpdateRangeEvent) sealed()    {}
func (UpdateIndicesEvent) sealed()  {}
func (BindAttributeEvent) sealed()  {}
func (SetIndexBufferEvent) sealed() {}
func (UploadTextureEvent) sealed()  {}
