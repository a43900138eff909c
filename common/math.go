package common

import (
	"unsafe"

	"github.com/chewxy/math32"
)

// SliceToBytes views any slice of fixed-size values as bytes for buffer uploads.
// The returned slice shares memory with data and must not outlive it.
//
// Parameters:
//   - data: source slice of any type
//
// Returns:
//   - []byte: byte view of data, or nil if data is empty
func SliceToBytes[T any](data []T) []byte {
	if len(data) == 0 {
		return nil
	}
	var zero T
	return unsafe.Slice((*byte)(unsafe.Pointer(&data[0])), int(unsafe.Sizeof(zero))*len(data))
}

// Transform2D builds a column-major 4x4 matrix that scales, rotates about Z and
// then translates in the XY plane. Instanced demos use it for per-instance data.
//
// Parameters:
//   - x, y: translation
//   - angle: rotation about Z in radians
//   - scale: uniform scale
//
// Returns:
//   - [16]float32: the matrix
func Transform2D(x, y, angle, scale float32) [16]float32 {
	c := math32.Cos(angle) * scale
	s := math32.Sin(angle) * scale
	return [16]float32{
		c, s, 0, 0,
		-s, c, 0, 0,
		0, 0, 1, 0,
		x, y, 0, 1,
	}
}
