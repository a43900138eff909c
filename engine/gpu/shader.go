package gpu

import (
	"fmt"
	"os"
)

// ShaderStage is one compiled shader module. Compilation happens on the
// context thread when Create is dispatched; a failure is reported as a
// *CompileError through the context error handler and WaitCreated.
type ShaderStage struct {
	objectBase

	kind   ShaderStageKind
	source string
}

var _ Object = &ShaderStage{}

// NewShaderStage enqueues compilation of source for the given stage.
//
// Parameters:
//   - ctx: the owning Context
//   - name: diagnostic name
//   - kind: vertex or fragment
//   - source: shader source text
//
// Returns:
//   - *ShaderStage: the new stage; its handle is valid once Create is dispatched
func NewShaderStage(ctx *Context, name string, kind ShaderStageKind, source string) *ShaderStage {
	s := &ShaderStage{kind: kind, source: source}
	s.objectBase.init(ctx, name)
	ctx.Enqueue(s, CreateEvent{})
	return s
}

// LoadShaderStage reads source from path and enqueues its compilation.
//
// Parameters:
//   - ctx: the owning Context
//   - kind: vertex or fragment
//   - path: file path of the shader source
//
// Returns:
//   - *ShaderStage: the new stage, named after path
//   - error: an error if the file cannot be read
func LoadShaderStage(ctx *Context, kind ShaderStageKind, path string) (*ShaderStage, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read shader file %s: %w", path, err)
	}
	return NewShaderStage(ctx, path, kind, string(src)), nil
}

// Kind returns the pipeline stage.
func (s *ShaderStage) Kind() ShaderStageKind {
	return s.kind
}

// Dispose enqueues the release of the compiled module.
func (s *ShaderStage) Dispose() {
	s.ctx.Enqueue(s, DisposeEvent{})
}

// DispatchEvent applies ev on the context thread.
func (s *ShaderStage) DispatchEvent(ev Event) error {
	device := s.ctx.device
	switch ev.(type) {
	case CreateEvent:
		return s.dispatchCreate(s, func() (Handle, error) {
			return device.CreateShaderModule(s.name, s.kind, s.source)
		})
	case DisposeEvent:
		return s.dispatchDispose(s, device.DestroyShaderModule)
	default:
		return unsupported(s, ev)
	}
}

// programConfig holds the optional parts of a ProgramDescriptor.
type programConfig struct {
	vertexEntry    string
	fragmentEntry  string
	depthTest      bool
	alphaBlending  bool
	textureBinding bool
}

// ProgramBuilderOption is a functional option for configuring a ShaderProgram.
type ProgramBuilderOption func(*programConfig)

// WithEntryPoints sets the vertex and fragment entry point names.
// Defaults are "vs_main" and "fs_main".
//
// Parameters:
//   - vertex: vertex entry point
//   - fragment: fragment entry point
//
// Returns:
//   - ProgramBuilderOption: option function to apply
func WithEntryPoints(vertex, fragment string) ProgramBuilderOption {
	return func(c *programConfig) {
		c.vertexEntry = vertex
		c.fragmentEntry = fragment
	}
}

// WithDepthTest toggles depth testing. Enabled by default.
func WithDepthTest(enabled bool) ProgramBuilderOption {
	return func(c *programConfig) {
		c.depthTest = enabled
	}
}

// WithAlphaBlending toggles standard alpha blending. Disabled by default.
func WithAlphaBlending(enabled bool) ProgramBuilderOption {
	return func(c *programConfig) {
		c.alphaBlending = enabled
	}
}

// WithTextureBinding declares that the program samples one RGBA texture.
func WithTextureBinding() ProgramBuilderOption {
	return func(c *programConfig) {
		c.textureBinding = true
	}
}

// ShaderProgram is a linked vertex + fragment program with an explicit
// attribute layout.
type ShaderProgram struct {
	objectBase

	vertex   *ShaderStage
	fragment *ShaderStage
	layout   AttributeLayout
	config   programConfig
}

var _ Object = &ShaderProgram{}

// NewShaderProgram enqueues linking of vertex and fragment with layout.
// Both stages must have been constructed on the same context, which makes
// their Create events precede this program's.
//
// Parameters:
//   - ctx: the owning Context
//   - name: diagnostic name
//   - vertex: the vertex stage
//   - fragment: the fragment stage
//   - layout: the attribute layout the vertex stage consumes
//   - options: functional options for entry points and fixed-function state
//
// Returns:
//   - *ShaderProgram: the new program
func NewShaderProgram(ctx *Context, name string, vertex, fragment *ShaderStage, layout AttributeLayout, options ...ProgramBuilderOption) *ShaderProgram {
	cfg := programConfig{
		vertexEntry:   "vs_main",
		fragmentEntry: "fs_main",
		depthTest:     true,
	}
	for _, opt := range options {
		opt(&cfg)
	}

	p := &ShaderProgram{
		vertex:   vertex,
		fragment: fragment,
		layout:   append(AttributeLayout(nil), layout...),
		config:   cfg,
	}
	p.objectBase.init(ctx, name)
	ctx.Enqueue(p, CreateEvent{})
	return p
}

// Layout returns a copy of the program's attribute layout.
func (p *ShaderProgram) Layout() AttributeLayout {
	return append(AttributeLayout(nil), p.layout...)
}

// TextureBinding reports whether the program samples a texture.
func (p *ShaderProgram) TextureBinding() bool {
	return p.config.textureBinding
}

// Dispose enqueues the release of the linked program. The stages are not disposed.
func (p *ShaderProgram) Dispose() {
	p.ctx.Enqueue(p, DisposeEvent{})
}

// DispatchEvent applies ev on the context thread.
func (p *ShaderProgram) DispatchEvent(ev Event) error {
	device := p.ctx.device
	switch ev.(type) {
	case CreateEvent:
		return p.dispatchCreate(p, func() (Handle, error) {
			vs, fs := p.vertex.Handle(), p.fragment.Handle()
			if !vs.Valid() {
				return InvalidHandle, fmt.Errorf("linking %q: vertex stage %q: %w", p.name, p.vertex.Name(), ErrInvalidHandle)
			}
			if !fs.Valid() {
				return InvalidHandle, fmt.Errorf("linking %q: fragment stage %q: %w", p.name, p.fragment.Name(), ErrInvalidHandle)
			}
			return device.CreateProgram(p.name, ProgramDescriptor{
				Vertex:         vs,
				VertexEntry:    p.config.vertexEntry,
				Fragment:       fs,
				FragmentEntry:  p.config.fragmentEntry,
				Layout:         p.layout,
				DepthTest:      p.config.depthTest,
				AlphaBlending:  p.config.alphaBlending,
				TextureBinding: p.config.textureBinding,
			})
		})
	case DisposeEvent:
		return p.dispatchDispose(p, device.DestroyProgram)
	default:
		return unsupported(p, ev)
	}
}
