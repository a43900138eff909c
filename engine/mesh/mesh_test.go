package mesh_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Carmen-Shannon/oxy-queue/engine/gpu"
	"github.com/Carmen-Shannon/oxy-queue/engine/gpu/gputest"
	"github.com/Carmen-Shannon/oxy-queue/engine/mesh"
)

type vertex struct {
	Pos [3]float32
	UV  [2]float32
}

var quadLayout = gpu.AttributeLayout{
	{Name: "position", Location: 0, Slot: 0, Components: 3, Type: gpu.AttributeFloat32},
	{Name: "uv", Location: 1, Slot: 0, Components: 2, Type: gpu.AttributeFloat32, Offset: 12},
}

var instancedLayout = append(append(gpu.AttributeLayout{}, quadLayout...),
	gpu.VertexAttribute{Name: "offset", Location: 2, Slot: 1, Components: 2, Type: gpu.AttributeFloat32, Divisor: 1},
)

var quad = []vertex{
	{Pos: [3]float32{-1, -1, 0}, UV: [2]float32{0, 1}},
	{Pos: [3]float32{1, -1, 0}, UV: [2]float32{1, 1}},
	{Pos: [3]float32{1, 1, 0}, UV: [2]float32{1, 0}},
	{Pos: [3]float32{-1, 1, 0}, UV: [2]float32{0, 0}},
}

func newProgram(ctx *gpu.Context, layout gpu.AttributeLayout, options ...gpu.ProgramBuilderOption) *gpu.ShaderProgram {
	vs := gpu.NewShaderStage(ctx, "vs", gpu.ShaderStageVertex, "vertex")
	fs := gpu.NewShaderStage(ctx, "fs", gpu.ShaderStageFragment, "fragment")
	return gpu.NewShaderProgram(ctx, "program", vs, fs, layout, options...)
}

func newContext(t *testing.T) (*gpu.Context, *gputest.Recorder) {
	t.Helper()
	dev := gputest.NewRecorder()
	ctx := gpu.NewContext(dev, gpu.WithErrorHandler(func(err *gpu.DispatchError) {
		t.Errorf("unexpected dispatch error: %v", err)
	}))
	return ctx, dev
}

func TestMeshDrawsIndexed(t *testing.T) {
	ctx, dev := newContext(t)
	prog := newProgram(ctx, quadLayout, gpu.WithTextureBinding())

	m, err := mesh.NewMesh(ctx, "quad", prog, quad, mesh.WithIndices([]uint32{0, 1, 2, 2, 3, 0}))
	require.NoError(t, err)

	// Nothing has a handle before the queue is dispatched.
	require.NoError(t, m.Draw(dev))
	assert.Empty(t, dev.CallsOf(gputest.OpDraw))

	ctx.DispatchPending()
	require.NoError(t, m.Draw(dev))

	draws := dev.CallsOf(gputest.OpDraw)
	require.Len(t, draws, 1)
	assert.Equal(t, prog.Handle(), draws[0].Draw.Program)
	assert.Equal(t, uint32(6), draws[0].Draw.IndexCount)
	assert.Equal(t, uint32(0), draws[0].Draw.VertexCount)
	assert.Equal(t, uint32(1), draws[0].Draw.InstanceCount)
	assert.Equal(t, ctx.DefaultTexture().Handle(), draws[0].Draw.Texture)
	assert.Len(t, dev.CallsOf(gputest.OpSetIndexBuffer), 1)
}

func TestMeshHiddenAndVertexUpdates(t *testing.T) {
	ctx, dev := newContext(t)
	prog := newProgram(ctx, quadLayout)

	m, err := mesh.NewMesh(ctx, "strip", prog, quad[:3])
	require.NoError(t, err)
	ctx.DispatchPending()

	m.SetVisible(false)
	assert.False(t, m.Visible())
	require.NoError(t, m.Draw(dev))
	assert.Empty(t, dev.CallsOf(gputest.OpDraw))

	m.SetVisible(true)
	require.NoError(t, m.SetVertices(3, quad[3:]))
	ctx.DispatchPending()
	require.NoError(t, m.Draw(dev))

	draws := dev.CallsOf(gputest.OpDraw)
	require.Len(t, draws, 1)
	assert.Equal(t, uint32(4), draws[0].Draw.VertexCount)
	assert.Equal(t, gpu.Handle(0), draws[0].Draw.Texture)

	got := gputest.Contents[vertex](dev, m.Vertices().Handle(), 4)
	assert.Equal(t, quad, got)
}

func TestMeshRejectsLayoutMismatch(t *testing.T) {
	ctx, _ := newContext(t)

	_, err := mesh.NewMesh(ctx, "short", newProgram(ctx, quadLayout), [][3]float32{{0, 0, 0}})
	assert.ErrorIs(t, err, mesh.ErrLayoutMismatch)

	_, err = mesh.NewMesh(ctx, "two slots", newProgram(ctx, instancedLayout), quad)
	assert.ErrorIs(t, err, mesh.ErrLayoutMismatch)

	_, err = mesh.NewInstancedMesh[vertex, [2]float32](ctx, "one slot", newProgram(ctx, quadLayout), quad)
	assert.ErrorIs(t, err, mesh.ErrLayoutMismatch)

	_, err = mesh.NewInstancedMesh[vertex, [3]float32](ctx, "wide", newProgram(ctx, instancedLayout), quad)
	assert.ErrorIs(t, err, mesh.ErrLayoutMismatch)
}

func TestInstancedMeshRebindsAfterGrowth(t *testing.T) {
	ctx, dev := newContext(t)
	prog := newProgram(ctx, instancedLayout)

	m, err := mesh.NewInstancedMesh[vertex, [2]float32](ctx, "sprites", prog, quad, mesh.WithInstanceCapacity(2))
	require.NoError(t, err)
	ctx.DispatchPending()

	// No instances yet, nothing to draw.
	require.NoError(t, m.Draw(dev))
	assert.Empty(t, dev.CallsOf(gputest.OpDraw))

	require.NoError(t, m.SetInstance(0, [2]float32{1, 1}))
	require.NoError(t, m.SetInstance(1, [2]float32{2, 2}))
	ctx.DispatchPending()
	require.NoError(t, m.Draw(dev))
	draws := dev.CallsOf(gputest.OpDraw)
	require.Len(t, draws, 1)
	assert.Equal(t, uint32(2), draws[0].Draw.InstanceCount)
	assert.Equal(t, uint32(4), draws[0].Draw.VertexCount)

	before := m.Instances().Handle()
	require.NoError(t, m.SetInstance(5, [2]float32{6, 6}))
	ctx.DispatchPending()
	require.NotEqual(t, before, m.Instances().Handle())

	dev.Reset()
	require.NoError(t, m.Draw(dev))
	binds := dev.CallsOf(gputest.OpBindVertexAttribute)
	require.Len(t, binds, 1)
	assert.Equal(t, "offset", binds[0].Label)
	assert.Equal(t, uint64(m.Instances().Handle()), binds[0].Offset)

	draws = dev.CallsOf(gputest.OpDraw)
	require.Len(t, draws, 1)
	assert.Equal(t, uint32(6), draws[0].Draw.InstanceCount)
	assert.Equal(t, 6, m.InstanceCount())
}

func TestInstancedMeshDrawsOnlyUploadedInstances(t *testing.T) {
	ctx, dev := newContext(t)
	prog := newProgram(ctx, instancedLayout)

	m, err := mesh.NewInstancedMesh[vertex, [2]float32](ctx, "sprites", prog, quad, mesh.WithInstanceCapacity(4))
	require.NoError(t, err)
	for i := range 4 {
		require.NoError(t, m.SetInstance(i, [2]float32{float32(i), 0}))
	}
	ctx.DispatchPending()

	// A producer grows the instances after this frame's dispatch.
	for i := range 100 {
		require.NoError(t, m.SetInstance(i, [2]float32{float32(i), 1}))
	}
	require.NoError(t, m.Draw(dev))

	draws := dev.CallsOf(gputest.OpDraw)
	require.Len(t, draws, 1)
	allocated := len(dev.Memory(m.Instances().Handle())) / 8
	assert.Equal(t, 4, allocated)
	assert.Equal(t, uint32(4), draws[0].Draw.InstanceCount)
	assert.Equal(t, 100, m.InstanceCount())

	ctx.DispatchPending()
	dev.Reset()
	require.NoError(t, m.Draw(dev))
	draws = dev.CallsOf(gputest.OpDraw)
	require.Len(t, draws, 1)
	assert.Equal(t, uint32(100), draws[0].Draw.InstanceCount)
	assert.LessOrEqual(t, 100, len(dev.Memory(m.Instances().Handle()))/8)
}

func TestMeshDrawsOnlyUploadedVertices(t *testing.T) {
	ctx, dev := newContext(t)
	m, err := mesh.NewMesh(ctx, "strip", newProgram(ctx, quadLayout), quad[:3])
	require.NoError(t, err)
	ctx.DispatchPending()

	require.NoError(t, m.SetVertices(3, quad[3:]))
	require.NoError(t, m.Draw(dev))

	draws := dev.CallsOf(gputest.OpDraw)
	require.Len(t, draws, 1)
	assert.Equal(t, uint32(3), draws[0].Draw.VertexCount)
}

func TestMeshDisposeReleasesOwnedObjects(t *testing.T) {
	ctx, dev := newContext(t)
	prog := newProgram(ctx, quadLayout)
	ctx.DispatchPending()
	shared := dev.Live()

	m, err := mesh.NewMesh(ctx, "quad", prog, quad, mesh.WithIndices([]uint32{0, 1, 2}))
	require.NoError(t, err)
	ctx.DispatchPending()
	assert.Equal(t, shared+3, dev.Live())

	m.Dispose()
	ctx.DispatchPending()
	assert.Equal(t, shared, dev.Live())
}
