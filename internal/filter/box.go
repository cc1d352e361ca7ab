// Package filter implements the box blur / unsharp sharpen pass shared by the map generators.
package filter

import "github.com/MeKo-Tech/texturemaps/internal/pixel"

// SharpenFactor scales the difference between a pixel and its neighbourhood mean.
const SharpenFactor = 2.0

// Box filters src with a square (2r+1)x(2r+1) neighbourhood, r = |radius|, sampling
// edges by clamping.
//
//   - radius == 0 returns src itself.
//   - radius > 0 blurs: each R, G, B channel becomes its neighbourhood mean.
//   - radius < 0 sharpens: each channel c becomes c + (c - mean)*SharpenFactor.
//
// Output alpha is always 255. Neighbourhood sums are exact integers computed in two
// separable passes, so the result equals the naive per-pixel filter bit for bit.
func Box(src *pixel.Buffer, radius int) *pixel.Buffer {
	if radius == 0 {
		return src
	}

	sharpen := radius < 0
	r := radius
	if sharpen {
		r = -radius
	}

	sums := windowSums(src, r)
	count := float64((2*r + 1) * (2*r + 1))
	dst := pixel.New(src.Width, src.Height)

	pixel.ParallelRows(src.Height, func(y0, y1 int) {
		for i := y0 * src.Width * 4; i < y1*src.Width*4; i += 4 {
			j := i / 4 * 3
			for c := 0; c < 3; c++ {
				mean := float64(sums[j+c]) / count
				if sharpen {
					center := float64(src.Pix[i+c])
					dst.Pix[i+c] = pixel.ToByte(center + (center-mean)*SharpenFactor)
				} else {
					dst.Pix[i+c] = pixel.ToByte(mean)
				}
			}
			dst.Pix[i+3] = 255
		}
	})

	return dst
}

// windowSums returns, for every pixel, the R, G, B sums over its clamped
// (2r+1)x(2r+1) neighbourhood, packed three ints per pixel.
func windowSums(src *pixel.Buffer, r int) []int {
	w, h := src.Width, src.Height
	horiz := make([]int, w*h*3)

	// Horizontal pass: sliding window along each row.
	pixel.ParallelRows(h, func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			row := src.Pix[y*w*4 : (y+1)*w*4]
			out := horiz[y*w*3 : (y+1)*w*3]
			for c := 0; c < 3; c++ {
				sum := 0
				for k := -r; k <= r; k++ {
					sum += int(row[clamp(k, w)*4+c])
				}
				for x := 0; x < w; x++ {
					out[x*3+c] = sum
					sum -= int(row[clamp(x-r, w)*4+c])
					sum += int(row[clamp(x+r+1, w)*4+c])
				}
			}
		}
	})

	// Vertical pass over the row sums.
	sums := make([]int, w*h*3)
	pixel.ParallelRows(h, func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			out := sums[y*w*3 : (y+1)*w*3]
			for k := -r; k <= r; k++ {
				yy := clamp(y+k, h)
				in := horiz[yy*w*3 : (yy+1)*w*3]
				for i := range out {
					out[i] += in[i]
				}
			}
		}
	})

	return sums
}

func clamp(v, n int) int {
	if v < 0 {
		return 0
	}
	if v >= n {
		return n - 1
	}
	return v
}
