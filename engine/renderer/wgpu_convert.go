package renderer

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-queue/engine/gpu"
	"github.com/cogentcore/webgpu/wgpu"
)

// vertexFormats maps an attribute's component type and count to its WebGPU vertex format.
var vertexFormats = map[gpu.AttributeType][4]wgpu.VertexFormat{
	gpu.AttributeFloat32: {wgpu.VertexFormatFloat32, wgpu.VertexFormatFloat32x2, wgpu.VertexFormatFloat32x3, wgpu.VertexFormatFloat32x4},
	gpu.AttributeUint32:  {wgpu.VertexFormatUint32, wgpu.VertexFormatUint32x2, wgpu.VertexFormatUint32x3, wgpu.VertexFormatUint32x4},
	gpu.AttributeSint32:  {wgpu.VertexFormatSint32, wgpu.VertexFormatSint32x2, wgpu.VertexFormatSint32x3, wgpu.VertexFormatSint32x4},
}

func bufferUsage(usage gpu.BufferUsage) wgpu.BufferUsage {
	// Every buffer is written through the queue.
	out := wgpu.BufferUsageCopyDst
	if usage&gpu.BufferUsageVertex != 0 {
		out |= wgpu.BufferUsageVertex
	}
	if usage&gpu.BufferUsageIndex != 0 {
		out |= wgpu.BufferUsageIndex
	}
	if usage&gpu.BufferUsageUniform != 0 {
		out |= wgpu.BufferUsageUniform
	}
	if usage&gpu.BufferUsageStorage != 0 {
		out |= wgpu.BufferUsageStorage
	}
	return out
}

func indexFormat(f gpu.IndexFormat) wgpu.IndexFormat {
	if f == gpu.IndexFormatUint16 {
		return wgpu.IndexFormatUint16
	}
	return wgpu.IndexFormatUint32
}

func vertexFormat(attr gpu.VertexAttribute) (wgpu.VertexFormat, error) {
	formats, ok := vertexFormats[attr.Type]
	if !ok || attr.Components < 1 || attr.Components > 4 {
		return wgpu.VertexFormatUndefined, fmt.Errorf("attribute %q: unsupported format (%d components of type %d)", attr.Name, attr.Components, attr.Type)
	}
	return formats[attr.Components-1], nil
}

// vertexBufferLayouts translates an attribute layout into one WebGPU buffer
// layout per slot. Slots must be numbered contiguously from zero and every
// attribute in a slot must share its divisor.
//
// Parameters:
//   - layout: the program's declared attributes
//
// Returns:
//   - []wgpu.VertexBufferLayout: layouts indexed by slot
//   - error: an error if the layout cannot be expressed
func vertexBufferLayouts(layout gpu.AttributeLayout) ([]wgpu.VertexBufferLayout, error) {
	slots := layout.Slots()
	out := make([]wgpu.VertexBufferLayout, len(slots))
	for i, slot := range slots {
		if slot != uint32(i) {
			return nil, fmt.Errorf("vertex buffer slots must be contiguous from 0, found slot %d at position %d", slot, i)
		}

		var (
			attrs   []wgpu.VertexAttribute
			divisor = -1
		)
		for _, a := range layout {
			if a.Slot != slot {
				continue
			}
			if divisor >= 0 && int(a.Divisor) != divisor {
				return nil, fmt.Errorf("slot %d mixes per-vertex and per-instance attributes", slot)
			}
			divisor = int(a.Divisor)

			format, err := vertexFormat(a)
			if err != nil {
				return nil, err
			}
			attrs = append(attrs, wgpu.VertexAttribute{
				Format:         format,
				Offset:         a.Offset,
				ShaderLocation: a.Location,
			})
		}

		stepMode := wgpu.VertexStepModeVertex
		if divisor > 0 {
			stepMode = wgpu.VertexStepModeInstance
		}
		out[i] = wgpu.VertexBufferLayout{
			ArrayStride: layout.Stride(slot),
			StepMode:    stepMode,
			Attributes:  attrs,
		}
	}
	return out, nil
}

func colorTarget(format wgpu.TextureFormat, alphaBlending bool) wgpu.ColorTargetState {
	state := wgpu.ColorTargetState{
		Format:    format,
		WriteMask: wgpu.ColorWriteMaskAll,
	}
	if alphaBlending {
		state.Blend = &wgpu.BlendState{
			Color: wgpu.BlendComponent{
				SrcFactor: wgpu.BlendFactorSrcAlpha,
				DstFactor: wgpu.BlendFactorOneMinusSrcAlpha,
				Operation: wgpu.BlendOperationAdd,
			},
			Alpha: wgpu.BlendComponent{
				SrcFactor: wgpu.BlendFactorOne,
				DstFactor: wgpu.BlendFactorOneMinusSrcAlpha,
				Operation: wgpu.BlendOperationAdd,
			},
		}
	}
	return state
}

func depthStencil(depthTest bool) *wgpu.DepthStencilState {
	compare := wgpu.CompareFunctionLess
	if !depthTest {
		compare = wgpu.CompareFunctionAlways
	}
	return &wgpu.DepthStencilState{
		Format:            wgpu.TextureFormatDepth24Plus,
		DepthWriteEnabled: depthTest,
		DepthCompare:      compare,
		StencilFront: wgpu.StencilFaceState{
			Compare: wgpu.CompareFunctionAlways,
		},
		StencilBack: wgpu.StencilFaceState{
			Compare: wgpu.CompareFunctionAlways,
		},
	}
}
