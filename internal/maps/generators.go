package maps

import (
	"math"

	"github.com/MeKo-Tech/texturemaps/internal/filter"
	"github.com/MeKo-Tech/texturemaps/internal/pixel"
)

// MinDisplacementBlur is the smallest blur radius applied to displacement maps.
const MinDisplacementBlur = 10

// Normal derives a tangent-space normal map from the height field of src.
func Normal(src *pixel.Buffer, s NormalSettings) *pixel.Buffer {
	strength := s.Strength / 100
	dst := pixel.New(src.Width, src.Height)

	pixel.ParallelRows(src.Height, func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			for x := 0; x < src.Width; x++ {
				left := src.SampleHeight(x-1, y)
				right := src.SampleHeight(x+1, y)
				top := src.SampleHeight(x, y-1)
				bottom := src.SampleHeight(x, y+1)

				nx, ny, nz := normalize((right-left)*strength, (bottom-top)*strength, 1.0)

				i := (y*src.Width + x) * 4
				r := pixel.ToByte((nx + 1) * 0.5 * 255)
				g := pixel.ToByte((ny + 1) * 0.5 * 255)
				if s.InvertRed {
					r = 255 - r
				}
				if s.InvertGreen {
					g = 255 - g
				}
				dst.Pix[i] = r
				dst.Pix[i+1] = g
				dst.Pix[i+2] = pixel.ToByte(nz * 255)
				dst.Pix[i+3] = 255
			}
		}
	})

	return filter.Box(dst, s.Blur)
}

// Displacement derives a contrast-adjusted grayscale height map, blurred by at least MinDisplacementBlur.
func Displacement(src *pixel.Buffer, s DisplacementSettings) *pixel.Buffer {
	blur := s.Blur
	if blur < MinDisplacementBlur {
		blur = MinDisplacementBlur
	}
	return filter.Box(displacementBase(src, s), blur)
}

// displacementBase is the displacement map before the blur pass.
func displacementBase(src *pixel.Buffer, s DisplacementSettings) *pixel.Buffer {
	contrast := 1 + s.Contrast/100
	dst := pixel.New(src.Width, src.Height)

	pixel.ParallelRows(src.Height, func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			for x := 0; x < src.Width; x++ {
				gray := src.SampleHeight(x, y)
				gray = math.Min(255, math.Max(0, (gray-128)*contrast+128))
				if s.Invert {
					gray = 255 - gray
				}
				dst.SetGray(x, y, pixel.ToByte(gray))
			}
		}
	})

	return dst
}

// Specular maps brightness through a power curve. No blur pass is applied.
func Specular(src *pixel.Buffer, s SpecularSettings) *pixel.Buffer {
	strength := s.Strength / 100
	falloff := s.Falloff / 50
	dst := pixel.New(src.Width, src.Height)

	pixel.ParallelRows(src.Height, func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			for x := 0; x < src.Width; x++ {
				normalized := src.SampleHeight(x, y) / 255
				dst.SetGray(x, y, pixel.ToByte(math.Pow(normalized*strength, falloff)*255))
			}
		}
	})

	return dst
}

// AmbientOcclusion estimates occlusion by counting ring samples that sit higher than each pixel.
func AmbientOcclusion(src *pixel.Buffer, s AOSettings) *pixel.Buffer {
	strength := s.Strength / 100
	offsets := ringOffsets(int(roundHalfUp(s.Range*0.5)), s.Mean)
	dst := pixel.New(src.Width, src.Height)

	pixel.ParallelRows(src.Height, func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			for x := 0; x < src.Width; x++ {
				center := src.SampleHeight(x, y)

				occlusion := 0
				for _, o := range offsets {
					sx := int(roundHalfUp(float64(x) + o.dx))
					sy := int(roundHalfUp(float64(y) + o.dy))
					if src.SampleHeight(sx, sy) > center {
						occlusion++
					}
				}

				ao := 1.0
				if len(offsets) > 0 {
					ao = 1 - float64(occlusion)/float64(len(offsets))*strength
				}
				if s.Invert {
					ao = 1 - ao
				}
				dst.SetGray(x, y, pixel.ToByte(ao*255))
			}
		}
	})

	return filter.Box(dst, s.Blur)
}

type offset struct{ dx, dy float64 }

// ringOffsets returns samples evenly spaced points on a circle of the given radius.
func ringOffsets(samples int, radius float64) []offset {
	if samples <= 0 {
		return nil
	}
	offsets := make([]offset, samples)
	for i := range offsets {
		angle := float64(i) / float64(samples) * math.Pi * 2
		offsets[i] = offset{dx: math.Cos(angle) * radius, dy: math.Sin(angle) * radius}
	}
	return offsets
}

func normalize(x, y, z float64) (float64, float64, float64) {
	l := math.Sqrt(x*x + y*y + z*z)
	if l == 0 || math.IsNaN(l) {
		return x, y, z
	}
	inv := 1 / l
	return x * inv, y * inv, z * inv
}

// roundHalfUp rounds to the nearest integer with ties toward +Inf.
func roundHalfUp(v float64) float64 {
	return math.Floor(v + 0.5)
}
