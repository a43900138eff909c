// Package gputest provides an in-memory gpu.Device that records every native
// call, and a fake gpu.Surface, for tests that have no graphics context.
package gputest

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/Carmen-Shannon/oxy-queue/common"
	"github.com/Carmen-Shannon/oxy-queue/engine/gpu"
)

// Op names a recorded Device call.
type Op string

const (
	OpCreateBuffer        Op = "CreateBuffer"
	OpWriteBuffer         Op = "WriteBuffer"
	OpDestroyBuffer       Op = "DestroyBuffer"
	OpCreateShaderModule  Op = "CreateShaderModule"
	OpDestroyShaderModule Op = "DestroyShaderModule"
	OpCreateProgram       Op = "CreateProgram"
	OpDestroyProgram      Op = "DestroyProgram"
	OpCreateVertexArray   Op = "CreateVertexArray"
	OpBindVertexAttribute Op = "BindVertexAttribute"
	OpSetIndexBuffer      Op = "SetIndexBuffer"
	OpDestroyVertexArray  Op = "DestroyVertexArray"
	OpCreateTexture       Op = "CreateTexture"
	OpWriteTexture        Op = "WriteTexture"
	OpDestroyTexture      Op = "DestroyTexture"
	OpConfigure           Op = "Configure"
	OpBeginFrame          Op = "BeginFrame"
	OpDraw                Op = "Draw"
	OpPresent             Op = "Present"
)

// Call is one recorded Device call. Fields not relevant to Op are zero.
type Call struct {
	Op     Op
	Handle gpu.Handle
	Label  string
	Offset uint64
	Size   uint64
	Width  int
	Height int
	Data   []byte
	Draw   gpu.DrawCommand
}

// RecorderOption is a functional option for configuring a Recorder.
type RecorderOption func(*Recorder)

// WithCopyAlignment sets the value returned by CopyAlignment and enforced by
// WriteBuffer. Defaults to 1.
func WithCopyAlignment(align uint64) RecorderOption {
	return func(r *Recorder) {
		r.alignment = align
	}
}

// WithCompileError makes CreateShaderModule fail with a *gpu.CompileError
// carrying log for any source containing marker.
func WithCompileError(marker, log string) RecorderOption {
	return func(r *Recorder) {
		r.compileFailures[marker] = log
	}
}

// WithBeginFrameError makes BeginFrame fail with err.
func WithBeginFrameError(err error) RecorderOption {
	return func(r *Recorder) {
		r.beginErr = err
	}
}

// Recorder is a gpu.Device that emulates buffer and texture memory and records
// every call in order. All methods are safe for concurrent use so tests can
// inspect it while a context thread runs.
type Recorder struct {
	mu              sync.Mutex
	next            gpu.Handle
	calls           []Call
	memory          map[gpu.Handle][]byte
	live            map[gpu.Handle]Op
	alignment       uint64
	compileFailures map[string]string
	beginErr        error
	released        atomic.Bool
}

var _ gpu.Device = &Recorder{}

// NewRecorder creates an empty Recorder.
//
// Parameters:
//   - options: functional options to configure the recorder
//
// Returns:
//   - *Recorder: the new recorder
func NewRecorder(options ...RecorderOption) *Recorder {
	r := &Recorder{
		memory:          make(map[gpu.Handle][]byte),
		live:            make(map[gpu.Handle]Op),
		alignment:       1,
		compileFailures: make(map[string]string),
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

// Calls returns a copy of every recorded call.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// CallsOf returns the recorded calls with the given op.
func (r *Recorder) CallsOf(op Op) []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Call
	for _, c := range r.calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Ops returns the op of every recorded call in order.
func (r *Recorder) Ops() []Op {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Op, len(r.calls))
	for i, c := range r.calls {
		out[i] = c.Op
	}
	return out
}

// Reset forgets recorded calls but keeps emulated memory and live handles.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.calls = nil
	r.mu.Unlock()
}

// Live returns the number of native resources allocated and not destroyed.
func (r *Recorder) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

// Memory returns a copy of the emulated contents of a buffer or texture.
func (r *Recorder) Memory(h gpu.Handle) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]byte(nil), r.memory[h]...)
}

// Released reports whether Release has been called.
func (r *Recorder) Released() bool {
	return r.released.Load()
}

// Contents reinterprets the first n elements of a buffer's emulated memory as T.
//
// Parameters:
//   - r: the recorder
//   - h: the buffer handle
//   - n: number of elements
//
// Returns:
//   - []T: the decoded elements
func Contents[T any](r *Recorder, h gpu.Handle, n int) []T {
	out := make([]T, n)
	copy(common.SliceToBytes(out), r.Memory(h))
	return out
}

func (r *Recorder) record(c Call) {
	r.calls = append(r.calls, c)
}

func (r *Recorder) alloc(op Op) gpu.Handle {
	r.next++
	r.live[r.next] = op
	return r.next
}

func (r *Recorder) destroy(op Op, h gpu.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record(Call{Op: op, Handle: h})
	delete(r.live, h)
	delete(r.memory, h)
}

func (r *Recorder) CreateBuffer(label string, size uint64, _ gpu.BufferUsage) (gpu.Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if size%r.alignment != 0 {
		return gpu.InvalidHandle, fmt.Errorf("buffer size %d is not a multiple of %d", size, r.alignment)
	}
	h := r.alloc(OpCreateBuffer)
	r.memory[h] = make([]byte, size)
	r.record(Call{Op: OpCreateBuffer, Handle: h, Label: label, Size: size})
	return h, nil
}

func (r *Recorder) WriteBuffer(h gpu.Handle, offset uint64, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	mem, ok := r.memory[h]
	if !ok || r.live[h] != OpCreateBuffer {
		return fmt.Errorf("write to unknown buffer %s", h)
	}
	if offset%r.alignment != 0 || uint64(len(data))%r.alignment != 0 {
		return fmt.Errorf("write [%d, +%d) is not aligned to %d", offset, len(data), r.alignment)
	}
	if offset+uint64(len(data)) > uint64(len(mem)) {
		return fmt.Errorf("write [%d, +%d) overflows buffer of %d bytes", offset, len(data), len(mem))
	}
	copy(mem[offset:], data)
	r.record(Call{Op: OpWriteBuffer, Handle: h, Offset: offset, Size: uint64(len(data)), Data: append([]byte(nil), data...)})
	return nil
}

func (r *Recorder) DestroyBuffer(h gpu.Handle) {
	r.destroy(OpDestroyBuffer, h)
}

func (r *Recorder) CreateShaderModule(label string, _ gpu.ShaderStageKind, source string) (gpu.Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for marker, log := range r.compileFailures {
		if strings.Contains(source, marker) {
			r.record(Call{Op: OpCreateShaderModule, Label: label})
			return gpu.InvalidHandle, &gpu.CompileError{Name: label, Log: log}
		}
	}
	h := r.alloc(OpCreateShaderModule)
	r.record(Call{Op: OpCreateShaderModule, Handle: h, Label: label})
	return h, nil
}

func (r *Recorder) DestroyShaderModule(h gpu.Handle) {
	r.destroy(OpDestroyShaderModule, h)
}

func (r *Recorder) CreateProgram(label string, desc gpu.ProgramDescriptor) (gpu.Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.live[desc.Vertex] != OpCreateShaderModule || r.live[desc.Fragment] != OpCreateShaderModule {
		return gpu.InvalidHandle, fmt.Errorf("program %q links a module that does not exist", label)
	}
	h := r.alloc(OpCreateProgram)
	r.record(Call{Op: OpCreateProgram, Handle: h, Label: label})
	return h, nil
}

func (r *Recorder) DestroyProgram(h gpu.Handle) {
	r.destroy(OpDestroyProgram, h)
}

func (r *Recorder) CreateVertexArray(label string) (gpu.Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.alloc(OpCreateVertexArray)
	r.record(Call{Op: OpCreateVertexArray, Handle: h, Label: label})
	return h, nil
}

func (r *Recorder) BindVertexAttribute(va gpu.Handle, attr gpu.VertexAttribute, buffer gpu.Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.live[va] != OpCreateVertexArray || r.live[buffer] != OpCreateBuffer {
		return fmt.Errorf("bind %q: unknown vertex array %s or buffer %s", attr.Name, va, buffer)
	}
	r.record(Call{Op: OpBindVertexAttribute, Handle: va, Label: attr.Name, Offset: uint64(buffer)})
	return nil
}

func (r *Recorder) SetIndexBuffer(va gpu.Handle, buffer gpu.Handle, _ gpu.IndexFormat) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.live[va] != OpCreateVertexArray || r.live[buffer] != OpCreateBuffer {
		return fmt.Errorf("index buffer: unknown vertex array %s or buffer %s", va, buffer)
	}
	r.record(Call{Op: OpSetIndexBuffer, Handle: va, Offset: uint64(buffer)})
	return nil
}

func (r *Recorder) DestroyVertexArray(h gpu.Handle) {
	r.destroy(OpDestroyVertexArray, h)
}

func (r *Recorder) CreateTexture(label string, width, height uint32) (gpu.Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.alloc(OpCreateTexture)
	r.memory[h] = make([]byte, uint64(width)*uint64(height)*4)
	r.record(Call{Op: OpCreateTexture, Handle: h, Label: label, Size: uint64(width) * uint64(height) * 4})
	return h, nil
}

func (r *Recorder) WriteTexture(h gpu.Handle, pixels []byte, width, height uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	mem, ok := r.memory[h]
	if !ok || r.live[h] != OpCreateTexture {
		return fmt.Errorf("write to unknown texture %s", h)
	}
	if uint64(len(mem)) != uint64(width)*uint64(height)*4 {
		return fmt.Errorf("texture %s is %d bytes, write is %dx%d", h, len(mem), width, height)
	}
	copy(mem, pixels)
	r.record(Call{Op: OpWriteTexture, Handle: h, Size: uint64(len(pixels)), Data: append([]byte(nil), pixels...)})
	return nil
}

func (r *Recorder) DestroyTexture(h gpu.Handle) {
	r.destroy(OpDestroyTexture, h)
}

func (r *Recorder) CopyAlignment() uint64 {
	return r.alignment
}

func (r *Recorder) Configure(width, height int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record(Call{Op: OpConfigure, Width: width, Height: height})
}

func (r *Recorder) BeginFrame(_ gpu.Color) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.beginErr != nil {
		return r.beginErr
	}
	r.record(Call{Op: OpBeginFrame})
	return nil
}

func (r *Recorder) Draw(cmd gpu.DrawCommand) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.live[cmd.Program] != OpCreateProgram {
		return fmt.Errorf("draw with unknown program %s", cmd.Program)
	}
	r.record(Call{Op: OpDraw, Handle: cmd.VertexArray, Draw: cmd})
	return nil
}

func (r *Recorder) Present() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record(Call{Op: OpPresent})
	return nil
}

func (r *Recorder) Release() {
	r.released.Store(true)
}

// Surface is a gpu.Surface whose extent and running state tests control.
type Surface struct {
	width, height atomic.Int64
	closed        atomic.Bool
}

var _ gpu.Surface = &Surface{}

// NewSurface creates a running Surface with the given extent.
func NewSurface(width, height int) *Surface {
	s := &Surface{}
	s.Resize(width, height)
	return s
}

// Resize changes the reported extent.
func (s *Surface) Resize(width, height int) {
	s.width.Store(int64(width))
	s.height.Store(int64(height))
}

// Close makes IsRunning report false.
func (s *Surface) Close() {
	s.closed.Store(true)
}

func (s *Surface) Extent() (int, int) {
	return int(s.width.Load()), int(s.height.Load())
}

func (s *Surface) IsRunning() bool {
	return !s.closed.Load()
}
