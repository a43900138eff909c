// Package mesh provides drawables built from gpu objects: a Mesh owns vertex
// and index buffers plus the vertex array binding them to a shader program,
// and an InstancedMesh adds a sparse per-instance buffer.
//
// Any goroutine may mutate a mesh; the gpu.Context draws it on the context thread.
package mesh

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/oxy-queue/engine/gpu"
)

// ErrLayoutMismatch is returned when a program's attribute layout does not fit the mesh's buffers.
var ErrLayoutMismatch = errors.New("mesh: attribute layout does not match buffers")

type meshConfig struct {
	indices  []uint32
	texture  *gpu.Texture
	capacity int
}

// MeshBuilderOption is a functional option for configuring a Mesh or InstancedMesh.
type MeshBuilderOption func(*meshConfig)

// WithIndices draws the mesh indexed. Indices are uploaded to a 32-bit index buffer.
//
// Parameters:
//   - indices: the triangle list indices
//
// Returns:
//   - MeshBuilderOption: option function to apply
func WithIndices(indices []uint32) MeshBuilderOption {
	return func(c *meshConfig) {
		c.indices = indices
	}
}

// WithTexture sets the texture sampled by programs built with gpu.WithTextureBinding.
// Textured programs fall back to the context's default texture.
//
// Parameters:
//   - texture: the texture to bind
//
// Returns:
//   - MeshBuilderOption: option function to apply
func WithTexture(texture *gpu.Texture) MeshBuilderOption {
	return func(c *meshConfig) {
		c.texture = texture
	}
}

// WithInstanceCapacity sets the initial capacity of an InstancedMesh's instance buffer. Defaults to 16.
func WithInstanceCapacity(n int) MeshBuilderOption {
	return func(c *meshConfig) {
		c.capacity = n
	}
}

// core holds what Mesh and InstancedMesh share: the program, vertex array,
// optional index buffer and draw state.
type core struct {
	name    string
	program *gpu.ShaderProgram
	va      *gpu.VertexArray
	indices *gpu.Buffer[uint32]

	mu      sync.RWMutex
	texture *gpu.Texture
	hidden  bool
}

func newCore(ctx *gpu.Context, name string, program *gpu.ShaderProgram, cfg meshConfig) *core {
	c := &core{
		name:    name,
		program: program,
		texture: cfg.texture,
		va:      gpu.NewVertexArray(ctx, name+".va"),
	}
	if c.texture == nil && program.TextureBinding() {
		c.texture = ctx.DefaultTexture()
	}
	if len(cfg.indices) > 0 {
		c.indices = gpu.NewBuffer(ctx, name+".indices", cfg.indices, gpu.WithUsage(gpu.BufferUsageIndex))
		c.va.SetIndexBuffer(c.indices, gpu.IndexFormatUint32)
	}
	return c
}

// checkStride verifies that one element of a buffer bound at slot is exactly the layout's stride.
func checkStride(layout gpu.AttributeLayout, slot uint32, elemSize uint64) error {
	if stride := layout.Stride(slot); stride != elemSize {
		return fmt.Errorf("%w: slot %d stride is %d bytes, element is %d bytes", ErrLayoutMismatch, slot, stride, elemSize)
	}
	return nil
}

// Name returns the mesh's diagnostic name.
func (c *core) Name() string {
	return c.name
}

// Program returns the shader program the mesh draws with.
func (c *core) Program() *gpu.ShaderProgram {
	return c.program
}

// Indices returns the index buffer, or nil for a non-indexed mesh.
func (c *core) Indices() *gpu.Buffer[uint32] {
	return c.indices
}

// SetTexture replaces the sampled texture. Takes effect on the next frame.
func (c *core) SetTexture(t *gpu.Texture) {
	c.mu.Lock()
	c.texture = t
	c.mu.Unlock()
}

// SetVisible shows or hides the mesh without releasing anything.
func (c *core) SetVisible(visible bool) {
	c.mu.Lock()
	c.hidden = !visible
	c.mu.Unlock()
}

// Visible reports whether the mesh is drawn.
func (c *core) Visible() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.hidden
}

// draw rebinds reallocated buffers and issues one draw. Objects whose Create
// has not been dispatched yet are skipped rather than reported. Counts are the
// uploaded ones, since producers may grow the mirrors between dispatch and draw.
func (c *core) draw(device gpu.Device, vertexCount, instanceCount int) error {
	c.mu.RLock()
	texture, hidden := c.texture, c.hidden
	c.mu.RUnlock()

	if hidden || instanceCount == 0 {
		return nil
	}
	if !c.program.Handle().Valid() || !c.va.Handle().Valid() {
		return nil
	}
	if err := c.va.Sync(); err != nil {
		return fmt.Errorf("mesh %q: %w", c.name, err)
	}

	cmd := gpu.DrawCommand{
		Program:       c.program.Handle(),
		VertexArray:   c.va.Handle(),
		InstanceCount: uint32(instanceCount),
	}
	if texture != nil {
		cmd.Texture = texture.Handle()
	}
	if c.indices != nil {
		cmd.IndexCount = uint32(c.indices.UploadedCount())
		if cmd.IndexCount == 0 {
			return nil
		}
	} else {
		cmd.VertexCount = uint32(vertexCount)
		if cmd.VertexCount == 0 {
			return nil
		}
	}
	return device.Draw(cmd)
}

func (c *core) dispose() {
	c.va.Dispose()
	if c.indices != nil {
		c.indices.Dispose()
	}
}

// Mesh draws a vertex buffer of V with a shader program whose layout reads a
// single buffer slot. The program and texture are shared and not owned.
type Mesh[V any] struct {
	*core
	vertices *gpu.Buffer[V]
}

var _ gpu.Drawable = &Mesh[float32]{}

// NewMesh enqueues creation of the mesh's buffers and vertex array.
//
// Parameters:
//   - ctx: the owning Context
//   - name: diagnostic name, also used as a prefix for the owned objects
//   - program: the program to draw with; its layout must use slot 0 only
//   - vertices: initial vertex data
//   - options: functional options to configure the mesh
//
// Returns:
//   - *Mesh[V]: the new mesh
//   - error: ErrLayoutMismatch if V does not match the program layout
func NewMesh[V any](ctx *gpu.Context, name string, program *gpu.ShaderProgram, vertices []V, options ...MeshBuilderOption) (*Mesh[V], error) {
	var cfg meshConfig
	for _, opt := range options {
		opt(&cfg)
	}

	layout := program.Layout()
	if slots := layout.Slots(); len(slots) != 1 || slots[0] != 0 {
		return nil, fmt.Errorf("%w: mesh %q needs a single-slot layout, program uses slots %v", ErrLayoutMismatch, name, slots)
	}

	m := &Mesh[V]{}
	m.vertices = gpu.NewBuffer(ctx, name+".vertices", vertices, gpu.WithUsage(gpu.BufferUsageVertex))
	if err := checkStride(layout, 0, m.vertices.ElementSize()); err != nil {
		m.vertices.Dispose()
		return nil, err
	}
	m.core = newCore(ctx, name, program, cfg)
	if err := m.va.BindLayout(layout, m.vertices); err != nil {
		m.Dispose()
		return nil, err
	}
	return m, nil
}

// Vertices returns the vertex buffer for direct mutation.
func (m *Mesh[V]) Vertices() *gpu.Buffer[V] {
	return m.vertices
}

// SetVertices overwrites vertices starting at offset, growing the buffer as needed.
//
// Parameters:
//   - offset: first vertex to overwrite
//   - vertices: the new vertex data
//
// Returns:
//   - error: gpu.ErrCapacityExceeded for a negative offset
func (m *Mesh[V]) SetVertices(offset int, vertices []V) error {
	return m.vertices.SetRange(offset, vertices)
}

// Draw issues the mesh's draw call. Called by the context thread.
func (m *Mesh[V]) Draw(device gpu.Device) error {
	return m.draw(device, m.vertices.UploadedCount(), 1)
}

// Dispose enqueues release of the buffers and vertex array the mesh owns.
func (m *Mesh[V]) Dispose() {
	m.vertices.Dispose()
	m.dispose()
}
