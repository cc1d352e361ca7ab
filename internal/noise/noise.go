// Package noise produces procedural height fields for trying the map generators
// without a source photograph.
package noise

import (
	"math"

	"github.com/MeKo-Tech/texturemaps/internal/pixel"
	"github.com/aquilax/go-perlin"
)

const (
	alpha   = 2.0 // persistence between octaves
	beta    = 2.0 // frequency multiplier between octaves
	octaves = 3
)

// HeightField returns an opaque grayscale Perlin height field.
// scale is the feature size in pixels (smaller = more detail); the same seed
// always yields the same field.
func HeightField(width, height int, scale float64, seed int64) *pixel.Buffer {
	if scale <= 0 {
		scale = 1
	}
	p := perlin.NewPerlin(alpha, beta, octaves, seed)
	buf := pixel.New(width, height)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			val := p.Noise2D(float64(x)/scale, float64(y)/scale)
			normalized := (val + 1.0) / 2.0
			buf.SetGray(x, y, pixel.ToByte(math.Max(0, math.Min(1, normalized))*255))
		}
	}

	return buf
}
