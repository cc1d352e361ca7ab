// Package pixel provides the RGBA buffer shared by the map generators.
package pixel

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"math"

	"golang.org/x/image/draw"
)

// ErrInvalidInput is returned (wrapped in an InvalidInputError) for malformed buffers.
var ErrInvalidInput = errors.New("invalid pixel buffer")

// InvalidInputError describes why a buffer was rejected.
type InvalidInputError struct {
	Width  int
	Height int
	Len    int
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid pixel buffer: %dx%d with %d bytes (want %d)",
		e.Width, e.Height, e.Len, expectedLen(e.Width, e.Height))
}

func (e *InvalidInputError) Unwrap() error { return ErrInvalidInput }

// Buffer is a rectangular grid of non-premultiplied RGBA pixels, row-major with a stride of Width*4.
type Buffer struct {
	Pix    []uint8
	Width  int
	Height int
}

// New allocates a zeroed buffer.
func New(width, height int) *Buffer {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return &Buffer{
		Width:  width,
		Height: height,
		Pix:    make([]uint8, width*height*4),
	}
}

// FromBytes wraps pix without copying. The caller must not mutate pix while the buffer is in use.
func FromBytes(width, height int, pix []uint8) (*Buffer, error) {
	b := &Buffer{Width: width, Height: height, Pix: pix}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// FromImage converts any decoded image into a buffer anchored at (0,0).
func FromImage(img image.Image) *Buffer {
	bounds := img.Bounds()
	if nrgba, ok := img.(*image.NRGBA); ok {
		// Copy straight-alpha rows verbatim; draw.Src goes through premultiplied color.
		b := New(bounds.Dx(), bounds.Dy())
		rowLen := b.Width * 4
		for y := 0; y < b.Height; y++ {
			start := nrgba.PixOffset(bounds.Min.X, bounds.Min.Y+y)
			copy(b.Pix[y*rowLen:(y+1)*rowLen], nrgba.Pix[start:start+rowLen])
		}
		return b
	}

	dst := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(dst, dst.Bounds(), img, bounds.Min, draw.Src)
	return &Buffer{Width: bounds.Dx(), Height: bounds.Dy(), Pix: dst.Pix}
}

// Validate checks the size invariant.
func (b *Buffer) Validate() error {
	if b == nil {
		return &InvalidInputError{}
	}
	if b.Width <= 0 || b.Height <= 0 || len(b.Pix) != expectedLen(b.Width, b.Height) {
		return &InvalidInputError{Width: b.Width, Height: b.Height, Len: len(b.Pix)}
	}
	return nil
}

// Image copies the buffer into an *image.NRGBA suitable for encoding.
func (b *Buffer) Image() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, b.Width, b.Height))
	copy(img.Pix, b.Pix)
	return img
}

// Offset returns the index of the R byte of (x, y) after clamping into the buffer.
func (b *Buffer) Offset(x, y int) int {
	x = clampInt(x, 0, b.Width-1)
	y = clampInt(y, 0, b.Height-1)
	return (y*b.Width + x) * 4
}

// RGBA returns the clamped pixel at (x, y).
func (b *Buffer) RGBA(x, y int) (r, g, bl, a uint8) {
	i := b.Offset(x, y)
	return b.Pix[i], b.Pix[i+1], b.Pix[i+2], b.Pix[i+3]
}

// SetGray writes v into R, G and B of (x, y) with an opaque alpha. (x, y) must be in bounds.
func (b *Buffer) SetGray(x, y int, v uint8) {
	i := (y*b.Width + x) * 4
	b.Pix[i] = v
	b.Pix[i+1] = v
	b.Pix[i+2] = v
	b.Pix[i+3] = 255
}

// SampleHeight returns the unweighted mean of R, G and B at (x, y), clamping
// coordinates to the nearest edge pixel. The result is always in [0,255].
func (b *Buffer) SampleHeight(x, y int) float64 {
	i := b.Offset(x, y)
	return (float64(b.Pix[i]) + float64(b.Pix[i+1]) + float64(b.Pix[i+2])) / 3
}

// Equal reports whether both buffers have the same size and bytes.
func (b *Buffer) Equal(other *Buffer) bool {
	if b == nil || other == nil {
		return b == other
	}
	return b.Width == other.Width && b.Height == other.Height && bytes.Equal(b.Pix, other.Pix)
}

// ToByte stores a channel value: NaN becomes 0, values are clamped to [0,255]
// and rounded half to even.
func ToByte(v float64) uint8 {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(math.RoundToEven(v))
}

func expectedLen(width, height int) int {
	if width <= 0 || height <= 0 {
		return 0
	}
	return width * height * 4
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
