// Package imageio loads source images and encodes generated maps.
package imageio

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ftrvxmtrx/tga"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	"golang.org/x/image/webp"
)

// ErrUnknownFormat is returned when no decoder accepts the input.
var ErrUnknownFormat = errors.New("unknown image format")

// ErrTooLarge is returned when an image header declares more pixels than allowed.
var ErrTooLarge = errors.New("image too large")

// DefaultMaxPixels is the pixel limit used when none is configured (8192x8192).
const DefaultMaxPixels = 8192 * 8192

type decoder struct {
	name   string
	match  func([]byte) bool
	config func(io.Reader) (image.Config, error)
	decode func(io.Reader) (image.Image, error)
}

// The tga package registers itself with an empty magic string, so image.Decode
// would hand it arbitrary input. Formats are sniffed here instead and TGA,
// which has no signature, is tried last.
var decoders = []decoder{
	{"png", prefix("\x89PNG\r\n\x1a\n"), png.DecodeConfig, png.Decode},
	{"jpeg", prefix("\xff\xd8"), jpeg.DecodeConfig, jpeg.Decode},
	{"gif", prefix("GIF8"), gif.DecodeConfig, gif.Decode},
	{"bmp", prefix("BM"), bmp.DecodeConfig, bmp.Decode},
	{"tiff", func(b []byte) bool { return prefix("II*\x00")(b) || prefix("MM\x00*")(b) }, tiff.DecodeConfig, tiff.Decode},
	{"webp", func(b []byte) bool { return len(b) >= 12 && string(b[:4]) == "RIFF" && string(b[8:12]) == "WEBP" }, webp.DecodeConfig, webp.Decode},
}

var tgaDecoder = decoder{"tga", func([]byte) bool { return true }, tga.DecodeConfig, tga.Decode}

func prefix(magic string) func([]byte) bool {
	return func(b []byte) bool { return bytes.HasPrefix(b, []byte(magic)) }
}

// Decode reads a PNG, JPEG, GIF, BMP, TIFF, WebP or TGA image of at most
// DefaultMaxPixels and reports the detected format name.
func Decode(r io.Reader) (image.Image, string, error) {
	return DecodeLimit(r, DefaultMaxPixels)
}

// DecodeLimit is Decode with a pixel limit; maxPixels <= 0 means DefaultMaxPixels.
func DecodeLimit(r io.Reader, maxPixels int) (image.Image, string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read image: %w", err)
	}
	return DecodeBytesLimit(data, maxPixels)
}

// DecodeBytes is Decode over an in-memory payload.
func DecodeBytes(data []byte) (image.Image, string, error) {
	return DecodeBytesLimit(data, DefaultMaxPixels)
}

// DecodeBytesLimit checks the dimensions declared in the header against
// maxPixels before decoding any pixel data.
func DecodeBytesLimit(data []byte, maxPixels int) (image.Image, string, error) {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}

	d, ok := sniff(data)
	if !ok {
		return nil, "", ErrUnknownFormat
	}

	cfg, err := d.config(bytes.NewReader(data))
	if err != nil {
		if d.name == tgaDecoder.name {
			return nil, "", ErrUnknownFormat
		}
		return nil, d.name, fmt.Errorf("failed to decode %s header: %w", d.name, err)
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > int64(maxPixels) {
		return nil, d.name, fmt.Errorf("%s is %dx%d, more than %d pixels: %w",
			d.name, cfg.Width, cfg.Height, maxPixels, ErrTooLarge)
	}

	img, err := d.decode(bytes.NewReader(data))
	if err != nil {
		if d.name == tgaDecoder.name {
			return nil, "", ErrUnknownFormat
		}
		return nil, d.name, fmt.Errorf("failed to decode %s: %w", d.name, err)
	}
	return img, d.name, nil
}

func sniff(data []byte) (decoder, bool) {
	for _, d := range decoders {
		if d.match(data) {
			return d, true
		}
	}
	if len(data) == 0 {
		return decoder{}, false
	}
	return tgaDecoder, true
}

// Load decodes the image file at path with the default pixel limit.
func Load(path string) (image.Image, error) {
	return LoadLimit(path, DefaultMaxPixels)
}

// LoadLimit is Load with a pixel limit; maxPixels <= 0 means DefaultMaxPixels.
func LoadLimit(path string, maxPixels int) (image.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	img, _, err := DecodeBytesLimit(data, maxPixels)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

var sourceExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".bmp": true,
	".tif": true, ".tiff": true, ".webp": true, ".tga": true,
}

// IsSource reports whether name has the extension of a decodable image.
func IsSource(name string) bool {
	return sourceExtensions[strings.ToLower(filepath.Ext(name))]
}
