package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MeKo-Tech/texturemaps/internal/archive"
	"github.com/MeKo-Tech/texturemaps/internal/imageio"
	"github.com/MeKo-Tech/texturemaps/internal/maps"
)

// MapWriter receives every encoded map in addition to the file on disk.
// *archive.Writer implements it.
type MapWriter interface {
	WriteMap(archive.Map) error
}

// Options configure a Generator.
type Options struct {
	Request Request
	Encode  imageio.EncodeOptions

	// ExportSize resizes every map to an ExportSize square; 0 keeps the source size.
	ExportSize int
	// MaxSourceSize downscales larger sources before generation; 0 disables it.
	MaxSourceSize int
	// MaxSourcePixels rejects sources whose header claims more pixels, before
	// they are decoded. 0 uses imageio.DefaultMaxPixels.
	MaxSourcePixels int

	// InputRoot names sources by their path below it, so a/rock.png and
	// b/rock.png get distinct outputs. Empty names sources by base name.
	InputRoot string

	MapWriter MapWriter
}

// Generator turns source image files into map files.
type Generator struct {
	logger       *slog.Logger
	writer       MapWriter
	outputDir    string
	settingsHash string
	opts         Options
	kinds        []maps.Kind
}

// NewGenerator validates opts and prepares a generator writing into outputDir.
func NewGenerator(outputDir string, opts Options, logger *slog.Logger) (*Generator, error) {
	if outputDir == "" {
		return nil, fmt.Errorf("output dir must be set")
	}
	if opts.ExportSize < 0 {
		return nil, fmt.Errorf("export size must not be negative")
	}
	if opts.MaxSourceSize < 0 {
		return nil, fmt.Errorf("max source size must not be negative")
	}
	if opts.MaxSourcePixels < 0 {
		return nil, fmt.Errorf("max source pixels must not be negative")
	}
	format, err := imageio.ParseFormat(string(opts.Encode.Format))
	if err != nil {
		return nil, err
	}
	opts.Encode.Format = format

	kinds, err := requestedKinds(opts.Request.Kinds)
	if err != nil {
		return nil, err
	}
	opts.Request.Kinds = kinds

	hash, err := archive.HashSettings(opts.Request.Settings)
	if err != nil {
		return nil, err
	}

	return &Generator{
		logger:       logger,
		writer:       opts.MapWriter,
		outputDir:    outputDir,
		settingsHash: hash,
		opts:         opts,
		kinds:        kinds,
	}, nil
}

// SourceName is the slash-separated name source is stored under: its path
// relative to InputRoot, or its base name when it lies outside the root.
func (g *Generator) SourceName(source string) string {
	if g.opts.InputRoot != "" {
		rel, err := filepath.Rel(g.opts.InputRoot, source)
		if err == nil && rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return filepath.ToSlash(rel)
		}
	}
	return filepath.Base(source)
}

// OutputPath returns <outputDir>/<source name>_<kind>.<ext>. Sources in
// subdirectories of InputRoot keep that subdirectory below outputDir.
func (g *Generator) OutputPath(source string, kind maps.Kind) string {
	name := filepath.FromSlash(g.SourceName(source))
	name = strings.TrimSuffix(name, filepath.Ext(name))
	return filepath.Join(g.outputDir, name+"_"+string(kind)+g.opts.Encode.Format.Extension())
}

// OutputPaths lists the files Generate writes for source, in request order.
func (g *Generator) OutputPaths(source string) []string {
	paths := make([]string, len(g.kinds))
	for i, k := range g.kinds {
		paths[i] = g.OutputPath(source, k)
	}
	return paths
}

// Generate loads source, runs the pipeline and writes one file per requested kind.
// When every output already exists and force is false the source is skipped.
func (g *Generator) Generate(ctx context.Context, source string, force bool) ([]string, error) {
	paths := g.OutputPaths(source)
	if !force && allExist(paths) {
		g.log().Info("Maps already exist; skipping", "source", source)
		return paths, nil
	}

	if err := os.MkdirAll(filepath.Dir(paths[0]), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}

	g.log().Debug("Loading source", "source", source)
	img, err := imageio.LoadLimit(source, g.opts.MaxSourcePixels)
	if err != nil {
		return nil, fmt.Errorf("failed to load source: %w", err)
	}

	if fitted := imageio.Fit(img, g.opts.MaxSourceSize); fitted != img {
		g.log().Info("Downscaled source",
			"source", source,
			"from", img.Bounds().Size().String(),
			"to", fitted.Bounds().Size().String())
		img = fitted
	}

	start := time.Now()
	result, err := RunImage(ctx, img, g.opts.Request)
	if err != nil {
		return nil, fmt.Errorf("failed to generate maps: %w", err)
	}
	g.log().Info("Generated maps", "source", source, "kinds", len(g.kinds), "ms", time.Since(start).Milliseconds())

	for i, kind := range g.kinds {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := g.writeMap(source, kind, result.Get(kind).Image(), paths[i]); err != nil {
			return nil, err
		}
	}

	return paths, nil
}

func (g *Generator) writeMap(source string, kind maps.Kind, img image.Image, path string) error {
	img = imageio.Resize(img, g.opts.ExportSize)

	var buf bytes.Buffer
	if err := imageio.Encode(&buf, img, g.opts.Encode); err != nil {
		return fmt.Errorf("failed to encode %s map: %w", kind, err)
	}

	g.log().Debug("Writing map", "source", source, "kind", kind, "path", path, "bytes", buf.Len())
	if err := imageio.WriteFile(path, buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write %s map: %w", kind, err)
	}

	if g.writer == nil {
		return nil
	}
	size := img.Bounds().Size()
	err := g.writer.WriteMap(archive.Map{
		Source:       g.SourceName(source),
		SettingsHash: g.settingsHash,
		Kind:         kind,
		Format:       string(g.opts.Encode.Format),
		Width:        size.X,
		Height:       size.Y,
		Data:         buf.Bytes(),
	})
	if err != nil {
		return fmt.Errorf("failed to archive %s map: %w", kind, err)
	}
	return nil
}

func allExist(paths []string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			return false
		}
	}
	return true
}

func (g *Generator) log() *slog.Logger {
	if g.logger != nil {
		return g.logger
	}
	return slog.Default()
}
