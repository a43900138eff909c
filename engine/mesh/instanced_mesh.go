package mesh

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-queue/engine/gpu"
)

// InstancedMesh draws a shared vertex buffer of V once per element of a sparse
// instance buffer of I. The program layout reads vertices from slot 0 and
// per-instance attributes (divisor 1) from slot 1.
type InstancedMesh[V, I any] struct {
	*core
	vertices  *gpu.Buffer[V]
	instances *gpu.SparseBuffer[I]
}

var _ gpu.Drawable = &InstancedMesh[float32, float32]{}

// NewInstancedMesh enqueues creation of the mesh's buffers and vertex array.
//
// Parameters:
//   - ctx: the owning Context
//   - name: diagnostic name
//   - program: the program to draw with; its layout must use slots 0 and 1
//   - vertices: the shared vertex data
//   - options: functional options, see WithInstanceCapacity
//
// Returns:
//   - *InstancedMesh[V, I]: the new mesh
//   - error: ErrLayoutMismatch if V or I does not match the program layout
func NewInstancedMesh[V, I any](ctx *gpu.Context, name string, program *gpu.ShaderProgram, vertices []V, options ...MeshBuilderOption) (*InstancedMesh[V, I], error) {
	cfg := meshConfig{capacity: 16}
	for _, opt := range options {
		opt(&cfg)
	}

	layout := program.Layout()
	if slots := layout.Slots(); len(slots) != 2 || slots[0] != 0 || slots[1] != 1 {
		return nil, fmt.Errorf("%w: instanced mesh %q needs slots [0 1], program uses %v", ErrLayoutMismatch, name, slots)
	}
	for _, a := range layout {
		if a.Slot == 1 && a.Divisor == 0 {
			return nil, fmt.Errorf("%w: attribute %q in the instance slot is per-vertex", ErrLayoutMismatch, a.Name)
		}
	}

	m := &InstancedMesh[V, I]{}
	m.vertices = gpu.NewBuffer(ctx, name+".vertices", vertices, gpu.WithUsage(gpu.BufferUsageVertex))
	m.instances = gpu.NewSparseBuffer[I](ctx, name+".instances", cfg.capacity, gpu.WithUsage(gpu.BufferUsageVertex))
	if err := checkStride(layout, 0, m.vertices.ElementSize()); err != nil {
		m.vertices.Dispose()
		m.instances.Dispose()
		return nil, err
	}
	if err := checkStride(layout, 1, m.instances.ElementSize()); err != nil {
		m.vertices.Dispose()
		m.instances.Dispose()
		return nil, err
	}

	m.core = newCore(ctx, name, program, cfg)
	if err := m.va.BindLayout(layout, m.vertices, m.instances); err != nil {
		m.Dispose()
		return nil, err
	}
	return m, nil
}

// Vertices returns the shared vertex buffer.
func (m *InstancedMesh[V, I]) Vertices() *gpu.Buffer[V] {
	return m.vertices
}

// Instances returns the per-instance buffer for direct mutation.
func (m *InstancedMesh[V, I]) Instances() *gpu.SparseBuffer[I] {
	return m.instances
}

// SetInstance writes one instance. Writing past the end grows the instance count.
//
// Parameters:
//   - index: the instance index
//   - value: the instance data
//
// Returns:
//   - error: gpu.ErrCapacityExceeded for a negative index
func (m *InstancedMesh[V, I]) SetInstance(index int, value I) error {
	return m.instances.Set(index, value)
}

// InstanceCount returns the number of instances written. Draw uses the count
// already uploaded, which can lag behind it by a frame.
func (m *InstancedMesh[V, I]) InstanceCount() int {
	return m.instances.Count()
}

// Draw issues one instanced draw call. Called by the context thread.
func (m *InstancedMesh[V, I]) Draw(device gpu.Device) error {
	return m.draw(device, m.vertices.UploadedCount(), m.instances.UploadedCount())
}

// Dispose enqueues release of the buffers and vertex array the mesh owns.
func (m *InstancedMesh[V, I]) Dispose() {
	m.vertices.Dispose()
	m.instances.Dispose()
	m.dispose()
}
