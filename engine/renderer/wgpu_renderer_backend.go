package renderer

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/Carmen-Shannon/oxy-queue/common"
	"github.com/Carmen-Shannon/oxy-queue/engine/gpu"
	"github.com/Carmen-Shannon/oxy-queue/engine/logger"
	"github.com/cogentcore/webgpu/wgpu"
)

// wgpuCopyAlignment is the WebGPU requirement for queue buffer write offsets and sizes.
const wgpuCopyAlignment = 4

var errNoFrame = errors.New("renderer: no frame in progress")

type wgpuBuffer struct {
	buffer *wgpu.Buffer
	size   uint64
}

type wgpuShaderModule struct {
	module *wgpu.ShaderModule
	stage  gpu.ShaderStageKind
}

type wgpuProgram struct {
	pipeline      *wgpu.RenderPipeline
	layout        *wgpu.PipelineLayout
	textureLayout *wgpu.BindGroupLayout // nil unless the program samples a texture
	slots         int
}

type wgpuVertexArray struct {
	buffers     map[uint32]gpu.Handle
	index       gpu.Handle
	indexFormat wgpu.IndexFormat
}

type wgpuTexture struct {
	texture *wgpu.Texture
	view    *wgpu.TextureView
	width   uint32
	height  uint32

	// bindGroups caches one texture+sampler bind group per program that drew with this texture.
	bindGroups map[gpu.Handle]*wgpu.BindGroup
}

type wgpuRendererBackendImpl struct {
	mu     *sync.Mutex
	device *wgpu.Device
	queue  *wgpu.Queue

	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	surface  *wgpu.Surface

	surfaceFormat        wgpu.TextureFormat
	configured           bool
	msaaTexture          *wgpu.Texture
	msaaTextureView      *wgpu.TextureView
	depthTexture         *wgpu.Texture
	depthTextureView     *wgpu.TextureView
	renderPassDescriptor *wgpu.RenderPassDescriptor
	sampler              *wgpu.Sampler

	presentMode wgpu.PresentMode
	sampleCount MSAASampleCount

	// Resource tables. Every kind shares one handle sequence.
	nextHandle   gpu.Handle
	buffers      map[gpu.Handle]*wgpuBuffer
	modules      map[gpu.Handle]*wgpuShaderModule
	programs     map[gpu.Handle]*wgpuProgram
	vertexArrays map[gpu.Handle]*wgpuVertexArray
	textures     map[gpu.Handle]*wgpuTexture

	// Frame state for batched rendering across multiple draw calls
	frameEncoder *wgpu.CommandEncoder
	framePass    *wgpu.RenderPassEncoder
	frameSurface *wgpu.Texture
	frameView    *wgpu.TextureView
}

var _ RendererBackend = &wgpuRendererBackendImpl{}

func newWGPURendererBackend(surfaceDescriptor *wgpu.SurfaceDescriptor, forceFallbackAdapter bool, sampleCount MSAASampleCount) (*wgpuRendererBackendImpl, error) {
	runtime.LockOSThread()
	w := &wgpuRendererBackendImpl{
		mu:           &sync.Mutex{},
		instance:     wgpu.CreateInstance(nil),
		presentMode:  wgpu.PresentModeFifo,
		sampleCount:  sampleCount,
		buffers:      make(map[gpu.Handle]*wgpuBuffer),
		modules:      make(map[gpu.Handle]*wgpuShaderModule),
		programs:     make(map[gpu.Handle]*wgpuProgram),
		vertexArrays: make(map[gpu.Handle]*wgpuVertexArray),
		textures:     make(map[gpu.Handle]*wgpuTexture),
	}
	w.surface = w.instance.CreateSurface(surfaceDescriptor)

	a, err := w.instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		ForceFallbackAdapter: forceFallbackAdapter,
		CompatibleSurface:    w.surface,
	})
	if err != nil {
		w.Release()
		return nil, fmt.Errorf("renderer: requesting adapter: %w", err)
	}
	w.adapter = a

	limits := wgpu.DefaultLimits()
	d, err := a.RequestDevice(&wgpu.DeviceDescriptor{
		Label: "Main Device",
		RequiredLimits: &wgpu.RequiredLimits{
			Limits: limits,
		},
	})
	if err != nil {
		w.Release()
		return nil, fmt.Errorf("renderer: requesting device: %w", err)
	}
	w.device = d
	w.queue = d.GetQueue()

	// Programs may be linked before the first Configure, so the color target
	// format is fixed here.
	capabilities := w.surface.GetCapabilities(w.adapter)
	if len(capabilities.Formats) == 0 {
		w.Release()
		return nil, errors.New("renderer: surface reports no supported formats")
	}
	w.surfaceFormat = capabilities.Formats[0]

	w.sampler, err = d.CreateSampler(&wgpu.SamplerDescriptor{
		Label:         "Default Sampler",
		AddressModeU:  wgpu.AddressModeRepeat,
		AddressModeV:  wgpu.AddressModeRepeat,
		AddressModeW:  wgpu.AddressModeRepeat,
		MagFilter:     wgpu.FilterModeLinear,
		MinFilter:     wgpu.FilterModeLinear,
		MipmapFilter:  wgpu.MipmapFilterModeLinear,
		LodMaxClamp:   32,
		MaxAnisotropy: 1,
	})
	if err != nil {
		w.Release()
		return nil, fmt.Errorf("renderer: creating sampler: %w", err)
	}

	return w, nil
}

func (b *wgpuRendererBackendImpl) allocHandle() gpu.Handle {
	b.nextHandle++
	return b.nextHandle
}

func (b *wgpuRendererBackendImpl) SetPresentMode(mode PresentMode) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch mode {
	case PresentModeUncapped:
		b.presentMode = wgpu.PresentModeImmediate
	case PresentModeVSync:
		fallthrough
	default:
		b.presentMode = wgpu.PresentModeFifo
	}
}

func (b *wgpuRendererBackendImpl) CopyAlignment() uint64 {
	return wgpuCopyAlignment
}

func (b *wgpuRendererBackendImpl) CreateBuffer(label string, size uint64, usage gpu.BufferUsage) (gpu.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	size = max(size, wgpuCopyAlignment)
	buf, err := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: common.Coalesce(label, "Buffer"),
		Size:  size,
		Usage: bufferUsage(usage),
	})
	if err != nil {
		return gpu.InvalidHandle, err
	}
	h := b.allocHandle()
	b.buffers[h] = &wgpuBuffer{buffer: buf, size: size}
	return h, nil
}

func (b *wgpuRendererBackendImpl) WriteBuffer(h gpu.Handle, offset uint64, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	buf, ok := b.buffers[h]
	if !ok {
		return fmt.Errorf("buffer %s: %w", h, gpu.ErrInvalidHandle)
	}
	if offset+uint64(len(data)) > buf.size {
		return fmt.Errorf("buffer %s: write [%d, %d) exceeds size %d", h, offset, offset+uint64(len(data)), buf.size)
	}
	return b.queue.WriteBuffer(buf.buffer, offset, data)
}

func (b *wgpuRendererBackendImpl) DestroyBuffer(h gpu.Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if buf, ok := b.buffers[h]; ok {
		buf.buffer.Release()
		delete(b.buffers, h)
	}
}

func (b *wgpuRendererBackendImpl) CreateShaderModule(label string, stage gpu.ShaderStageKind, source string) (gpu.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	module, err := b.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label: label,
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{
			Code: source,
		},
	})
	if err != nil {
		return gpu.InvalidHandle, &gpu.CompileError{Name: label, Log: err.Error()}
	}
	h := b.allocHandle()
	b.modules[h] = &wgpuShaderModule{module: module, stage: stage}
	return h, nil
}

func (b *wgpuRendererBackendImpl) DestroyShaderModule(h gpu.Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if m, ok := b.modules[h]; ok {
		m.module.Release()
		delete(b.modules, h)
	}
}

func (b *wgpuRendererBackendImpl) CreateProgram(label string, desc gpu.ProgramDescriptor) (gpu.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	vs, ok := b.modules[desc.Vertex]
	if !ok || vs.stage != gpu.ShaderStageVertex {
		return gpu.InvalidHandle, fmt.Errorf("vertex module %s: %w", desc.Vertex, gpu.ErrInvalidHandle)
	}
	fs, ok := b.modules[desc.Fragment]
	if !ok || fs.stage != gpu.ShaderStageFragment {
		return gpu.InvalidHandle, fmt.Errorf("fragment module %s: %w", desc.Fragment, gpu.ErrInvalidHandle)
	}

	vertexLayouts, err := vertexBufferLayouts(desc.Layout)
	if err != nil {
		return gpu.InvalidHandle, &gpu.CompileError{Name: label, Log: err.Error()}
	}

	prog := &wgpuProgram{slots: len(vertexLayouts)}
	var groups []*wgpu.BindGroupLayout
	if desc.TextureBinding {
		prog.textureLayout, err = b.device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
			Label: label + " Texture Layout",
			Entries: []wgpu.BindGroupLayoutEntry{
				{
					Binding:    0,
					Visibility: wgpu.ShaderStageFragment,
					Texture: wgpu.TextureBindingLayout{
						SampleType:    wgpu.TextureSampleTypeFloat,
						ViewDimension: wgpu.TextureViewDimension2D,
					},
				},
				{
					Binding:    1,
					Visibility: wgpu.ShaderStageFragment,
					Sampler: wgpu.SamplerBindingLayout{
						Type: wgpu.SamplerBindingTypeFiltering,
					},
				},
			},
		})
		if err != nil {
			return gpu.InvalidHandle, fmt.Errorf("creating texture bind group layout: %w", err)
		}
		groups = append(groups, prog.textureLayout)
	}

	prog.layout, err = b.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            label,
		BindGroupLayouts: groups,
	})
	if err != nil {
		prog.release()
		return gpu.InvalidHandle, err
	}

	prog.pipeline, err = b.device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label:  label + " Render Pipeline",
		Layout: prog.layout,
		Vertex: wgpu.VertexState{
			Module:     vs.module,
			EntryPoint: desc.VertexEntry,
			Buffers:    vertexLayouts,
		},
		Fragment: &wgpu.FragmentState{
			Module:     fs.module,
			EntryPoint: desc.FragmentEntry,
			Targets:    []wgpu.ColorTargetState{colorTarget(b.surfaceFormat, desc.AlphaBlending)},
		},
		Primitive: wgpu.PrimitiveState{
			Topology:  wgpu.PrimitiveTopologyTriangleList,
			FrontFace: wgpu.FrontFaceCCW,
			CullMode:  wgpu.CullModeNone,
		},
		Multisample: wgpu.MultisampleState{
			Count: uint32(b.sampleCount),
			Mask:  0xFFFFFFFF,
		},
		DepthStencil: depthStencil(desc.DepthTest),
	})
	if err != nil {
		prog.release()
		return gpu.InvalidHandle, &gpu.CompileError{Name: label, Log: err.Error()}
	}

	h := b.allocHandle()
	b.programs[h] = prog
	return h, nil
}

func (b *wgpuRendererBackendImpl) DestroyProgram(h gpu.Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()

	prog, ok := b.programs[h]
	if !ok {
		return
	}
	for _, tex := range b.textures {
		if bg, ok := tex.bindGroups[h]; ok {
			bg.Release()
			delete(tex.bindGroups, h)
		}
	}
	prog.release()
	delete(b.programs, h)
}

func (p *wgpuProgram) release() {
	if p.pipeline != nil {
		p.pipeline.Release()
	}
	if p.layout != nil {
		p.layout.Release()
	}
	if p.textureLayout != nil {
		p.textureLayout.Release()
	}
}

func (b *wgpuRendererBackendImpl) CreateVertexArray(label string) (gpu.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// WebGPU has no vertex array object; bindings are recorded and replayed per draw.
	h := b.allocHandle()
	b.vertexArrays[h] = &wgpuVertexArray{buffers: make(map[uint32]gpu.Handle)}
	return h, nil
}

func (b *wgpuRendererBackendImpl) BindVertexAttribute(va gpu.Handle, attr gpu.VertexAttribute, buffer gpu.Handle) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	arr, ok := b.vertexArrays[va]
	if !ok {
		return fmt.Errorf("vertex array %s: %w", va, gpu.ErrInvalidHandle)
	}
	if _, ok := b.buffers[buffer]; !ok {
		return fmt.Errorf("attribute %q buffer %s: %w", attr.Name, buffer, gpu.ErrInvalidHandle)
	}
	arr.buffers[attr.Slot] = buffer
	return nil
}

func (b *wgpuRendererBackendImpl) SetIndexBuffer(va gpu.Handle, buffer gpu.Handle, format gpu.IndexFormat) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	arr, ok := b.vertexArrays[va]
	if !ok {
		return fmt.Errorf("vertex array %s: %w", va, gpu.ErrInvalidHandle)
	}
	if _, ok := b.buffers[buffer]; !ok {
		return fmt.Errorf("index buffer %s: %w", buffer, gpu.ErrInvalidHandle)
	}
	arr.index = buffer
	arr.indexFormat = indexFormat(format)
	return nil
}

func (b *wgpuRendererBackendImpl) DestroyVertexArray(h gpu.Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.vertexArrays, h)
}

func (b *wgpuRendererBackendImpl) CreateTexture(label string, width, height uint32) (gpu.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	tex, err := b.device.CreateTexture(&wgpu.TextureDescriptor{
		Label:     common.Coalesce(label, "Texture"),
		Usage:     wgpu.TextureUsageTextureBinding | wgpu.TextureUsageCopyDst,
		Dimension: wgpu.TextureDimension2D,
		Size: wgpu.Extent3D{
			Width:              width,
			Height:             height,
			DepthOrArrayLayers: 1,
		},
		Format:        wgpu.TextureFormatRGBA8UnormSrgb,
		MipLevelCount: 1,
		SampleCount:   1,
	})
	if err != nil {
		return gpu.InvalidHandle, err
	}
	view, err := tex.CreateView(nil)
	if err != nil {
		tex.Release()
		return gpu.InvalidHandle, err
	}

	h := b.allocHandle()
	b.textures[h] = &wgpuTexture{
		texture:    tex,
		view:       view,
		width:      width,
		height:     height,
		bindGroups: make(map[gpu.Handle]*wgpu.BindGroup),
	}
	return h, nil
}

func (b *wgpuRendererBackendImpl) WriteTexture(h gpu.Handle, pixels []byte, width, height uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	tex, ok := b.textures[h]
	if !ok {
		return fmt.Errorf("texture %s: %w", h, gpu.ErrInvalidHandle)
	}
	if width != tex.width || height != tex.height {
		return fmt.Errorf("texture %s: upload is %dx%d, storage is %dx%d", h, width, height, tex.width, tex.height)
	}

	b.queue.WriteTexture(
		&wgpu.ImageCopyTexture{
			Texture:  tex.texture,
			MipLevel: 0,
			Origin:   wgpu.Origin3D{},
			Aspect:   wgpu.TextureAspectAll,
		},
		pixels,
		&wgpu.TextureDataLayout{
			Offset:       0,
			BytesPerRow:  width * 4,
			RowsPerImage: height,
		},
		&wgpu.Extent3D{
			Width:              width,
			Height:             height,
			DepthOrArrayLayers: 1,
		},
	)
	return nil
}

func (b *wgpuRendererBackendImpl) DestroyTexture(h gpu.Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if tex, ok := b.textures[h]; ok {
		tex.release()
		delete(b.textures, h)
	}
}

func (t *wgpuTexture) release() {
	for _, bg := range t.bindGroups {
		bg.Release()
	}
	t.view.Release()
	t.texture.Release()
}

func (b *wgpuRendererBackendImpl) Configure(width, height int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.configured = false
	b.releaseTargetsLocked()

	capabilities := b.surface.GetCapabilities(b.adapter)
	b.surface.Configure(b.adapter, b.device, &wgpu.SurfaceConfiguration{
		Usage:       wgpu.TextureUsageRenderAttachment,
		Format:      b.surfaceFormat,
		Width:       uint32(width),
		Height:      uint32(height),
		PresentMode: b.presentMode,
		AlphaMode:   capabilities.AlphaModes[0],
	})

	count := uint32(b.sampleCount)
	msaaEnabled := count > 1

	var err error
	if msaaEnabled {
		// The render pass draws into the MSAA texture and resolves into the swapchain view.
		b.msaaTexture, err = b.device.CreateTexture(&wgpu.TextureDescriptor{
			Label: "MSAA Texture",
			Size: wgpu.Extent3D{
				Width:              uint32(width),
				Height:             uint32(height),
				DepthOrArrayLayers: 1,
			},
			MipLevelCount: 1,
			SampleCount:   count,
			Dimension:     wgpu.TextureDimension2D,
			Format:        b.surfaceFormat,
			Usage:         wgpu.TextureUsageRenderAttachment,
		})
		if err != nil {
			logger.Logger().Error("renderer: creating MSAA target", "width", width, "height", height, "err", err)
			return
		}
		b.msaaTextureView, err = b.msaaTexture.CreateView(nil)
		if err != nil {
			logger.Logger().Error("renderer: creating MSAA view", "err", err)
			return
		}
	}

	// Depth texture sample count must match the color attachment.
	b.depthTexture, err = b.device.CreateTexture(&wgpu.TextureDescriptor{
		Label: "Depth Texture",
		Size: wgpu.Extent3D{
			Width:              uint32(width),
			Height:             uint32(height),
			DepthOrArrayLayers: 1,
		},
		MipLevelCount: 1,
		SampleCount:   count,
		Dimension:     wgpu.TextureDimension2D,
		Format:        wgpu.TextureFormatDepth24Plus,
		Usage:         wgpu.TextureUsageRenderAttachment,
	})
	if err != nil {
		logger.Logger().Error("renderer: creating depth target", "width", width, "height", height, "err", err)
		return
	}
	b.depthTextureView, err = b.depthTexture.CreateView(nil)
	if err != nil {
		logger.Logger().Error("renderer: creating depth view", "err", err)
		return
	}

	// When MSAA is enabled, View is the MSAA texture and ResolveTarget is
	// set per-frame to the swapchain view. When disabled, View is set
	// per-frame to the swapchain view.
	storeOp := wgpu.StoreOpStore
	if msaaEnabled {
		storeOp = wgpu.StoreOpDiscard
	}
	b.renderPassDescriptor = &wgpu.RenderPassDescriptor{
		ColorAttachments: []wgpu.RenderPassColorAttachment{
			{
				View:    b.msaaTextureView,
				LoadOp:  wgpu.LoadOpClear,
				StoreOp: storeOp,
			},
		},
		DepthStencilAttachment: &wgpu.RenderPassDepthStencilAttachment{
			View:            b.depthTextureView,
			DepthLoadOp:     wgpu.LoadOpClear,
			DepthStoreOp:    wgpu.StoreOpDiscard,
			DepthClearValue: 1.0,
		},
	}
	b.configured = true
	logger.Logger().Debug("renderer: surface configured", "width", width, "height", height, "msaa", count)
}

func (b *wgpuRendererBackendImpl) releaseTargetsLocked() {
	if b.msaaTextureView != nil {
		b.msaaTextureView.Release()
	}
	if b.msaaTexture != nil {
		b.msaaTexture.Release()
	}
	if b.depthTextureView != nil {
		b.depthTextureView.Release()
	}
	if b.depthTexture != nil {
		b.depthTexture.Release()
	}
	b.msaaTextureView, b.msaaTexture = nil, nil
	b.depthTextureView, b.depthTexture = nil, nil
}

func (b *wgpuRendererBackendImpl) BeginFrame(clear gpu.Color) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.configured {
		return errors.New("renderer: surface is not configured")
	}
	if b.frameSurface != nil {
		return errors.New("renderer: previous frame surface not yet presented")
	}

	surfaceTexture, err := b.surface.GetCurrentTexture()
	if err != nil {
		return err
	}

	view, err := surfaceTexture.CreateView(nil)
	if err != nil {
		surfaceTexture.Release()
		return err
	}

	encoder, err := b.device.CreateCommandEncoder(nil)
	if err != nil {
		view.Release()
		surfaceTexture.Release()
		return err
	}

	attachment := &b.renderPassDescriptor.ColorAttachments[0]
	if b.sampleCount > 1 {
		attachment.ResolveTarget = view
	} else {
		attachment.View = view
	}
	attachment.ClearValue = wgpu.Color{R: clear.R, G: clear.G, B: clear.B, A: clear.A}

	b.frameEncoder = encoder
	b.framePass = encoder.BeginRenderPass(b.renderPassDescriptor)
	b.frameSurface = surfaceTexture
	b.frameView = view
	return nil
}

func (b *wgpuRendererBackendImpl) Draw(cmd gpu.DrawCommand) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.framePass == nil {
		return errNoFrame
	}
	prog, ok := b.programs[cmd.Program]
	if !ok {
		return fmt.Errorf("program %s: %w", cmd.Program, gpu.ErrInvalidHandle)
	}
	arr, ok := b.vertexArrays[cmd.VertexArray]
	if !ok {
		return fmt.Errorf("vertex array %s: %w", cmd.VertexArray, gpu.ErrInvalidHandle)
	}

	// Resolve everything before recording so a bad draw leaves the pass untouched.
	vertexBuffers := make([]*wgpu.Buffer, prog.slots)
	for slot := range vertexBuffers {
		buf, ok := b.buffers[arr.buffers[uint32(slot)]]
		if !ok {
			return fmt.Errorf("vertex array %s slot %d: %w", cmd.VertexArray, slot, gpu.ErrInvalidHandle)
		}
		vertexBuffers[slot] = buf.buffer
	}
	var bindGroup *wgpu.BindGroup
	if prog.textureLayout != nil {
		var err error
		if bindGroup, err = b.textureBindGroupLocked(cmd.Program, prog, cmd.Texture); err != nil {
			return err
		}
	}
	var index *wgpuBuffer
	if cmd.IndexCount > 0 {
		if index, ok = b.buffers[arr.index]; !ok {
			return fmt.Errorf("vertex array %s index buffer: %w", cmd.VertexArray, gpu.ErrInvalidHandle)
		}
	}

	b.framePass.SetPipeline(prog.pipeline)
	if bindGroup != nil {
		b.framePass.SetBindGroup(0, bindGroup, nil)
	}
	for slot, buf := range vertexBuffers {
		b.framePass.SetVertexBuffer(uint32(slot), buf, 0, wgpu.WholeSize)
	}

	instances := max(cmd.InstanceCount, 1)
	if index != nil {
		b.framePass.SetIndexBuffer(index.buffer, arr.indexFormat, 0, wgpu.WholeSize)
		b.framePass.DrawIndexed(cmd.IndexCount, instances, 0, 0, 0)
	} else {
		b.framePass.Draw(cmd.VertexCount, instances, 0, 0)
	}
	return nil
}

func (b *wgpuRendererBackendImpl) textureBindGroupLocked(program gpu.Handle, prog *wgpuProgram, texture gpu.Handle) (*wgpu.BindGroup, error) {
	tex, ok := b.textures[texture]
	if !ok {
		return nil, fmt.Errorf("texture %s: %w", texture, gpu.ErrInvalidHandle)
	}
	if bg, ok := tex.bindGroups[program]; ok {
		return bg, nil
	}
	bg, err := b.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  fmt.Sprintf("texture %s bind group", texture),
		Layout: prog.textureLayout,
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, TextureView: tex.view},
			{Binding: 1, Sampler: b.sampler},
		},
	})
	if err != nil {
		return nil, err
	}
	tex.bindGroups[program] = bg
	return bg, nil
}

func (b *wgpuRendererBackendImpl) Present() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.framePass == nil {
		return errNoFrame
	}
	b.framePass.End()
	b.framePass = nil

	defer b.releaseFrameLocked()

	commandBuffer, err := b.frameEncoder.Finish(nil)
	if err != nil {
		return err
	}
	b.queue.Submit(commandBuffer)
	commandBuffer.Release()

	b.surface.Present()
	return nil
}

func (b *wgpuRendererBackendImpl) releaseFrameLocked() {
	if b.frameEncoder != nil {
		b.frameEncoder.Release()
		b.frameEncoder = nil
	}
	if b.frameView != nil {
		b.frameView.Release()
		b.frameView = nil
	}
	if b.frameSurface != nil {
		b.frameSurface.Release()
		b.frameSurface = nil
	}
}

func (b *wgpuRendererBackendImpl) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.framePass != nil {
		b.framePass.End()
		b.framePass = nil
	}
	b.releaseFrameLocked()

	for h, tex := range b.textures {
		tex.release()
		delete(b.textures, h)
	}
	for h, prog := range b.programs {
		prog.release()
		delete(b.programs, h)
	}
	for h, m := range b.modules {
		m.module.Release()
		delete(b.modules, h)
	}
	for h, buf := range b.buffers {
		buf.buffer.Release()
		delete(b.buffers, h)
	}
	clear(b.vertexArrays)

	b.releaseTargetsLocked()
	b.configured = false
	if b.sampler != nil {
		b.sampler.Release()
		b.sampler = nil
	}
	if b.queue != nil {
		b.queue.Release()
		b.queue = nil
	}
	if b.device != nil {
		b.device.Release()
		b.device = nil
	}
	if b.adapter != nil {
		b.adapter.Release()
		b.adapter = nil
	}
	if b.surface != nil {
		b.surface.Release()
		b.surface = nil
	}
	if b.instance != nil {
		b.instance.Release()
		b.instance = nil
	}
}
