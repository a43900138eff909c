package gpu

import (
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/oxy-queue/common"
)

// Texture is an RGBA8 2D texture with a CPU-side staging copy of its pixels.
// Repeated uploads before a drain collapse into one.
type Texture struct {
	objectBase

	mu     sync.Mutex
	pixels []byte
	width  uint32
	height uint32
	allocW uint32 // native size; touched only on the context thread
	allocH uint32
}

var _ Object = &Texture{}

// NewTexture enqueues creation of a width x height texture and the upload of
// pixels, which must hold width*height*4 bytes. Invalid pixel data panics.
//
// Parameters:
//   - ctx: the owning Context
//   - name: diagnostic name
//   - width: width in pixels
//   - height: height in pixels
//   - pixels: tightly packed RGBA8 data, copied
//
// Returns:
//   - *Texture: the new texture
func NewTexture(ctx *Context, name string, width, height uint32, pixels []byte) *Texture {
	if err := checkPixels(width, height, pixels); err != nil {
		panic(fmt.Sprintf("gpu: texture %q: %v", name, err))
	}
	t := &Texture{
		pixels: append([]byte(nil), pixels...),
		width:  width,
		height: height,
	}
	t.objectBase.init(ctx, name)
	ctx.Enqueue(t, CreateEvent{})
	ctx.EnqueueUnique(t, UploadTextureEvent{Width: width, Height: height})
	return t
}

// NewTextureFromStaging creates a texture from decoded image data.
//
// Parameters:
//   - ctx: the owning Context
//   - name: diagnostic name
//   - data: decoded RGBA pixels and their size
//
// Returns:
//   - *Texture: the new texture
//   - error: an error if the pixel data does not match the size
func NewTextureFromStaging(ctx *Context, name string, data common.TextureStagingData) (*Texture, error) {
	if err := checkPixels(data.Width, data.Height, data.Pixels); err != nil {
		return nil, fmt.Errorf("texture %q: %w", name, err)
	}
	return NewTexture(ctx, name, data.Width, data.Height, data.Pixels), nil
}

// LoadTexture decodes an image file (PNG, JPEG, BMP, TIFF or WebP) and creates a texture from it.
//
// Parameters:
//   - ctx: the owning Context
//   - path: image file path
//
// Returns:
//   - *Texture: the new texture, named after path
//   - error: an error if the file cannot be read or decoded
func LoadTexture(ctx *Context, path string) (*Texture, error) {
	data, err := common.LoadImage(path)
	if err != nil {
		return nil, err
	}
	return NewTextureFromStaging(ctx, path, data)
}

// Size returns the staged width and height.
func (t *Texture) Size() (uint32, uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.width, t.height
}

// Upload stages new pixels and schedules their upload. A different size
// reallocates the native texture at dispatch.
//
// Parameters:
//   - pixels: tightly packed RGBA8 data, copied
//   - width: width in pixels
//   - height: height in pixels
//
// Returns:
//   - error: an error if len(pixels) != width*height*4
func (t *Texture) Upload(pixels []byte, width, height uint32) error {
	if err := checkPixels(width, height, pixels); err != nil {
		return fmt.Errorf("texture %q: %w", t.name, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.pixels = append(t.pixels[:0], pixels...)
	t.width, t.height = width, height
	t.ctx.EnqueueUnique(t, UploadTextureEvent{Width: width, Height: height})
	return nil
}

// Dispose enqueues the release of the native texture.
func (t *Texture) Dispose() {
	t.ctx.Enqueue(t, DisposeEvent{})
}

// DispatchEvent applies ev on the context thread.
func (t *Texture) DispatchEvent(ev Event) error {
	device := t.ctx.device
	switch ev.(type) {
	case CreateEvent:
		return t.dispatchCreate(t, func() (Handle, error) {
			t.mu.Lock()
			w, h := t.width, t.height
			t.mu.Unlock()
			handle, err := device.CreateTexture(t.name, w, h)
			if err == nil {
				t.allocW, t.allocH = w, h
			}
			return handle, err
		})

	case DisposeEvent:
		return t.dispatchDispose(t, device.DestroyTexture)

	case UploadTextureEvent:
		return t.dispatchUpload(device)

	default:
		return unsupported(t, ev)
	}
}

func (t *Texture) dispatchUpload(device Device) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, err := t.requireHandle()
	if err != nil {
		return err
	}
	if t.width != t.allocW || t.height != t.allocH {
		resized, err := device.CreateTexture(t.name, t.width, t.height)
		if err != nil {
			return fmt.Errorf("reallocating %dx%d: %w", t.width, t.height, err)
		}
		device.DestroyTexture(h)
		t.setHandle(resized)
		t.allocW, t.allocH = t.width, t.height
		h = resized
	}
	return device.WriteTexture(h, t.pixels, t.width, t.height)
}

func checkPixels(width, height uint32, pixels []byte) error {
	if width == 0 || height == 0 {
		return fmt.Errorf("zero size %dx%d", width, height)
	}
	if want := uint64(width) * uint64(height) * 4; uint64(len(pixels)) != want {
		return fmt.Errorf("got %d bytes of pixels, want %d for %dx%d RGBA8", len(pixels), want, width, height)
	}
	return nil
}
