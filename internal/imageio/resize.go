package imageio

import (
	"image"

	"github.com/disintegration/gift"
)

// ExportSizes are the square export resolutions offered for download.
var ExportSizes = []int{512, 1024, 2048, 4096}

// Resize scales img to a size x size square. A non-positive size returns img unchanged.
func Resize(img image.Image, size int) image.Image {
	if size <= 0 {
		return img
	}
	b := img.Bounds()
	if b.Dx() == size && b.Dy() == size {
		return img
	}
	g := gift.New(gift.Resize(size, size, gift.LanczosResampling))
	dst := image.NewNRGBA(g.Bounds(b))
	g.Draw(dst, img)
	return dst
}

// Fit downscales img so neither side exceeds maxSide, keeping the aspect ratio.
// Images that already fit, and a non-positive maxSide, return img unchanged.
func Fit(img image.Image, maxSide int) image.Image {
	b := img.Bounds()
	if maxSide <= 0 || (b.Dx() <= maxSide && b.Dy() <= maxSide) {
		return img
	}
	g := gift.New(gift.ResizeToFit(maxSide, maxSide, gift.LanczosResampling))
	dst := image.NewNRGBA(g.Bounds(b))
	g.Draw(dst, img)
	return dst
}
