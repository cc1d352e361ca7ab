package imageio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/ftrvxmtrx/tga"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

func testImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 16), G: uint8(y * 16), B: 128, A: 255})
		}
	}
	return img
}

func TestDecodeDetectsFormats(t *testing.T) {
	src := testImage(8, 6)

	encoders := map[string]func(*bytes.Buffer) error{
		"png":  func(b *bytes.Buffer) error { return png.Encode(b, src) },
		"jpeg": func(b *bytes.Buffer) error { return jpeg.Encode(b, src, nil) },
		"gif":  func(b *bytes.Buffer) error { return gif.Encode(b, src, nil) },
		"bmp":  func(b *bytes.Buffer) error { return bmp.Encode(b, src) },
		"tiff": func(b *bytes.Buffer) error { return tiff.Encode(b, src, nil) },
		"webp": func(b *bytes.Buffer) error { return Encode(b, src, EncodeOptions{Format: FormatWebP}) },
		"tga":  func(b *bytes.Buffer) error { return tga.Encode(b, src) },
	}

	for name, enc := range encoders {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, enc(&buf))

			img, format, err := Decode(&buf)
			require.NoError(t, err)
			assert.Equal(t, name, format)
			assert.Equal(t, src.Bounds().Size(), img.Bounds().Size())
		})
	}
}

func TestDecodeLosslessRoundTrip(t *testing.T) {
	src := testImage(5, 5)
	for _, f := range []Format{FormatPNG, FormatWebP} {
		var buf bytes.Buffer
		require.NoError(t, Encode(&buf, src, EncodeOptions{Format: f}))

		img, _, err := DecodeBytes(buf.Bytes())
		require.NoError(t, err)
		for y := 0; y < 5; y++ {
			for x := 0; x < 5; x++ {
				want := src.NRGBAAt(x, y)
				got := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
				require.Equal(t, want, got, "%s pixel (%d,%d)", f, x, y)
			}
		}
	}
}

func TestDecodeUnknownFormat(t *testing.T) {
	_, _, err := DecodeBytes([]byte("definitely not an image"))
	assert.True(t, errors.Is(err, ErrUnknownFormat))
}

func TestDecodeCorruptPNG(t *testing.T) {
	_, format, err := DecodeBytes([]byte("\x89PNG\r\n\x1a\ngarbage"))
	require.Error(t, err)
	assert.Equal(t, "png", format)
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in   string
		want Format
		ext  string
		mime string
	}{
		{"", FormatPNG, ".png", "image/png"},
		{"PNG", FormatPNG, ".png", "image/png"},
		{"jpg", FormatJPEG, ".jpg", "image/jpeg"},
		{"jpeg", FormatJPEG, ".jpg", "image/jpeg"},
		{"webp", FormatWebP, ".webp", "image/webp"},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
		assert.Equal(t, tt.ext, got.Extension())
		assert.Equal(t, tt.mime, got.ContentType())
	}

	_, err := ParseFormat("exr")
	assert.Error(t, err)
}

func TestParsePNGCompression(t *testing.T) {
	tests := map[string]png.CompressionLevel{
		"":        png.DefaultCompression,
		"default": png.DefaultCompression,
		"speed":   png.BestSpeed,
		"best":    png.BestCompression,
		"none":    png.NoCompression,
	}
	for in, want := range tests {
		got, err := ParsePNGCompression(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}

	_, err := ParsePNGCompression("max")
	assert.Error(t, err)
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "map_normal.png")

	require.NoError(t, Save(path, testImage(4, 3), EncodeOptions{Format: FormatPNG, PNGCompression: png.BestSpeed}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file left behind")

	img, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(4, 3), img.Bounds().Size())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.png"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestResize(t *testing.T) {
	src := testImage(10, 6)

	assert.Same(t, image.Image(src), Resize(src, 0))

	out := Resize(src, 16)
	assert.Equal(t, image.Pt(16, 16), out.Bounds().Size())

	square := testImage(8, 8)
	assert.Same(t, image.Image(square), Resize(square, 8))
}

func TestFit(t *testing.T) {
	src := testImage(40, 20)

	assert.Same(t, image.Image(src), Fit(src, 0))
	assert.Same(t, image.Image(src), Fit(src, 40))

	out := Fit(src, 10)
	assert.Equal(t, image.Pt(10, 5), out.Bounds().Size())
}

func TestIsSource(t *testing.T) {
	for _, name := range []string{"a.png", "b.JPG", "c.jpeg", "d.tga", "dir/e.webp", "f.TIFF", "g.bmp", "h.gif"} {
		assert.True(t, IsSource(name), name)
	}
	for _, name := range []string{"a.txt", "b", "c.db", ".png.bak"} {
		assert.False(t, IsSource(name), name)
	}
}

// pngWithHeaderSize returns a valid 1x1 PNG whose IHDR claims w x h.
func pngWithHeaderSize(t *testing.T, w, h uint32) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, testImage(1, 1)))
	data := buf.Bytes()

	// signature(8) length(4) "IHDR"(4) width(4) height(4) ... crc at 29
	binary.BigEndian.PutUint32(data[16:20], w)
	binary.BigEndian.PutUint32(data[20:24], h)
	binary.BigEndian.PutUint32(data[29:33], crc32.ChecksumIEEE(data[12:29]))
	return data
}

func TestDecodeRejectsOversizedHeader(t *testing.T) {
	data := pngWithHeaderSize(t, 60000, 60000)

	_, format, err := DecodeBytes(data)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTooLarge), "got %v", err)
	assert.Equal(t, "png", format)

	path := filepath.Join(t.TempDir(), "huge.png")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	_, err = Load(path)
	assert.True(t, errors.Is(err, ErrTooLarge), "got %v", err)
}

func TestDecodeLimit(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, testImage(8, 6)))

	img, _, err := DecodeBytesLimit(buf.Bytes(), 48)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(8, 6), img.Bounds().Size())

	_, _, err = DecodeBytesLimit(buf.Bytes(), 47)
	assert.True(t, errors.Is(err, ErrTooLarge))

	_, _, err = DecodeLimit(bytes.NewReader(buf.Bytes()), 0)
	assert.NoError(t, err, "zero falls back to the default limit")
}

func TestWriteFileReplacesAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rock_ao.png")
	require.NoError(t, os.WriteFile(path, []byte("truncat"), 0o600))

	require.NoError(t, WriteFile(path, []byte("complete map")))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "complete map", string(got))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file left behind")
}

func TestWriteFileFailureLeavesNoPartialFile(t *testing.T) {
	dir := t.TempDir()
	// A directory in the way makes the final rename fail.
	path := filepath.Join(dir, "rock_normal.png")
	require.NoError(t, os.Mkdir(path, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(path, "keep"), nil, 0o644))

	err := WriteFile(path, []byte("data"))
	require.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].IsDir())
}
