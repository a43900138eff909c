// package common contains small helpers shared across the engine. They are plain
// functions and structs, not interface-wrapped types.
package common

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// TextureStagingData holds decoded RGBA pixel data waiting to be handed to a texture.
type TextureStagingData struct {
	// Pixels is the pixel data in RGBA format, 4 bytes per pixel, row-major.
	Pixels []byte
	// Width is the width of the image in pixels.
	Width uint32
	// Height is the height of the image in pixels.
	Height uint32
}

// DecodeImage decodes PNG, JPEG, BMP, TIFF or WebP bytes into RGBA staging data.
// Reference: https://pkg.go.dev/image
//
// Parameters:
//   - data: encoded image bytes
//
// Returns:
//   - TextureStagingData: the decoded pixels
//   - error: error if decoding fails
func DecodeImage(data []byte) (TextureStagingData, error) {
	if len(data) == 0 {
		return TextureStagingData{}, fmt.Errorf("image data is empty")
	}
	return decode(bytes.NewReader(data))
}

// LoadImage opens and decodes an image file into RGBA staging data.
//
// Parameters:
//   - path: image file path
//
// Returns:
//   - TextureStagingData: the decoded pixels
//   - error: error if the file cannot be opened or decoded
func LoadImage(path string) (TextureStagingData, error) {
	file, err := os.Open(path)
	if err != nil {
		return TextureStagingData{}, fmt.Errorf("failed to open texture file %s: %w", path, err)
	}
	defer file.Close()

	out, err := decode(file)
	if err != nil {
		return TextureStagingData{}, fmt.Errorf("failed to decode texture file %s: %w", path, err)
	}
	return out, nil
}

func decode(r io.Reader) (TextureStagingData, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return TextureStagingData{}, err
	}

	bounds := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)

	return TextureStagingData{
		Pixels: rgba.Pix,
		Width:  uint32(bounds.Dx()),
		Height: uint32(bounds.Dy()),
	}, nil
}
