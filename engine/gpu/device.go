package gpu

import "slices"

// BufferUsage is a bitmask describing how native buffer storage is used.
type BufferUsage uint32

const (
	// BufferUsageVertex marks a buffer as a vertex attribute source.
	BufferUsageVertex BufferUsage = 1 << iota

	// BufferUsageIndex marks a buffer as an index source.
	BufferUsageIndex

	// BufferUsageUniform marks a buffer as uniform data.
	BufferUsageUniform

	// BufferUsageStorage marks a buffer as storage data.
	BufferUsageStorage
)

// ShaderStageKind identifies the pipeline stage a shader module targets.
type ShaderStageKind int

const (
	// ShaderStageVertex is a vertex shader.
	ShaderStageVertex ShaderStageKind = iota

	// ShaderStageFragment is a fragment shader.
	ShaderStageFragment
)

func (k ShaderStageKind) String() string {
	switch k {
	case ShaderStageVertex:
		return "vertex"
	case ShaderStageFragment:
		return "fragment"
	default:
		return "unknown"
	}
}

// IndexFormat is the element type of an index buffer.
type IndexFormat int

const (
	// IndexFormatUint32 uses 32-bit indices.
	IndexFormatUint32 IndexFormat = iota

	// IndexFormatUint16 uses 16-bit indices.
	IndexFormatUint16
)

// AttributeType is the scalar type of a vertex attribute component.
type AttributeType int

const (
	// AttributeFloat32 is a 32-bit float component.
	AttributeFloat32 AttributeType = iota

	// AttributeUint32 is a 32-bit unsigned integer component.
	AttributeUint32

	// AttributeSint32 is a 32-bit signed integer component.
	AttributeSint32
)

// Size returns the byte size of one component.
func (t AttributeType) Size() int {
	return 4
}

// VertexAttribute describes one shader input in an explicit attribute layout.
type VertexAttribute struct {
	// Name is the shader-side attribute name, used for diagnostics.
	Name string

	// Location is the shader input location.
	Location uint32

	// Slot is the vertex buffer slot the attribute reads from.
	Slot uint32

	// Components is the number of components (1 to 4).
	Components int

	// Type is the component type.
	Type AttributeType

	// Offset is the byte offset of the attribute within one element of its buffer.
	Offset uint64

	// Divisor is 0 for per-vertex data and 1 for per-instance data.
	Divisor uint32
}

// AttributeLayout is an ordered, explicitly declared list of vertex attributes.
type AttributeLayout []VertexAttribute

// Stride returns the byte stride of the given buffer slot, computed as the
// furthest attribute end within that slot.
func (l AttributeLayout) Stride(slot uint32) uint64 {
	var stride uint64
	for _, a := range l {
		if a.Slot != slot {
			continue
		}
		end := a.Offset + uint64(a.Components*a.Type.Size())
		if end > stride {
			stride = end
		}
	}
	return stride
}

// Slots returns the distinct buffer slots used by the layout in ascending order.
func (l AttributeLayout) Slots() []uint32 {
	seen := make(map[uint32]bool, len(l))
	slots := make([]uint32, 0, len(l))
	for _, a := range l {
		if seen[a.Slot] {
			continue
		}
		seen[a.Slot] = true
		slots = append(slots, a.Slot)
	}
	slices.Sort(slots)
	return slots
}

// ProgramDescriptor is what a Device needs to link a shader program.
type ProgramDescriptor struct {
	Vertex         Handle
	VertexEntry    string
	Fragment       Handle
	FragmentEntry  string
	Layout         AttributeLayout
	DepthTest      bool
	AlphaBlending  bool
	TextureBinding bool
}

// DrawCommand is one draw issued by a Drawable on the context thread.
type DrawCommand struct {
	Program       Handle
	VertexArray   Handle
	Texture       Handle
	VertexCount   uint32
	IndexCount    uint32
	InstanceCount uint32
}

// Color is a linear RGBA clear color.
type Color struct {
	R, G, B, A float64
}

// Device is the native graphics API boundary. Every method is called only on
// the context thread: allocation and mutation from DispatchEvent, frame calls
// from Context.Frame.
type Device interface {
	// CreateBuffer allocates size bytes of uninitialized native storage.
	CreateBuffer(label string, size uint64, usage BufferUsage) (Handle, error)

	// WriteBuffer copies data into native storage at the byte offset.
	WriteBuffer(h Handle, offset uint64, data []byte) error

	// DestroyBuffer releases native buffer storage.
	DestroyBuffer(h Handle)

	// CreateShaderModule compiles source for the stage. Compile failures are
	// returned as *CompileError.
	CreateShaderModule(label string, stage ShaderStageKind, source string) (Handle, error)

	// DestroyShaderModule releases a compiled module.
	DestroyShaderModule(h Handle)

	// CreateProgram links a program from compiled modules.
	CreateProgram(label string, desc ProgramDescriptor) (Handle, error)

	// DestroyProgram releases a linked program.
	DestroyProgram(h Handle)

	// CreateVertexArray allocates an empty vertex array.
	CreateVertexArray(label string) (Handle, error)

	// BindVertexAttribute sources attr of the vertex array from buffer.
	BindVertexAttribute(va Handle, attr VertexAttribute, buffer Handle) error

	// SetIndexBuffer attaches buffer as the vertex array's index buffer.
	SetIndexBuffer(va Handle, buffer Handle, format IndexFormat) error

	// DestroyVertexArray releases a vertex array.
	DestroyVertexArray(h Handle)

	// CreateTexture allocates an RGBA8 2D texture.
	CreateTexture(label string, width, height uint32) (Handle, error)

	// WriteTexture uploads tightly packed RGBA8 pixels.
	WriteTexture(h Handle, pixels []byte, width, height uint32) error

	// DestroyTexture releases a texture.
	DestroyTexture(h Handle)

	// CopyAlignment returns the byte alignment required for buffer write
	// offsets and sizes.
	CopyAlignment() uint64

	// Configure resizes the viewport and any size-dependent targets.
	Configure(width, height int)

	// BeginFrame starts a frame and clears the target to clear.
	BeginFrame(clear Color) error

	// Draw issues one draw call in the current frame.
	Draw(cmd DrawCommand) error

	// Present finishes the frame and swaps buffers.
	Present() error

	// Release frees every device-level resource.
	Release()
}

// Surface is what the context thread needs from the window.
type Surface interface {
	// Extent returns the current framebuffer size in pixels.
	Extent() (width, height int)

	// IsRunning reports whether the window is still open.
	IsRunning() bool
}

// Drawable is anything the context thread draws once per frame after the
// queue has been drained.
type Drawable interface {
	// Draw issues native draw calls. Called only on the context thread.
	Draw(device Device) error
}
