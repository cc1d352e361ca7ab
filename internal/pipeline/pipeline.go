// Package pipeline runs the map generators over a single source image and
// writes the results to disk.
package pipeline

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/MeKo-Tech/texturemaps/internal/maps"
	"github.com/MeKo-Tech/texturemaps/internal/pixel"
)

// Request selects which maps to generate and with which settings.
// An empty Kinds list means every kind.
type Request struct {
	Settings maps.Settings
	Kinds    []maps.Kind
}

// GeneratedMaps holds one buffer per requested kind; kinds that were not
// requested are nil.
type GeneratedMaps struct {
	Normal       *pixel.Buffer
	Displacement *pixel.Buffer
	AO           *pixel.Buffer
	Specular     *pixel.Buffer
}

// Get returns the map of the given kind, or nil.
func (m *GeneratedMaps) Get(kind maps.Kind) *pixel.Buffer {
	switch kind {
	case maps.KindNormal:
		return m.Normal
	case maps.KindDisplacement:
		return m.Displacement
	case maps.KindAO:
		return m.AO
	case maps.KindSpecular:
		return m.Specular
	}
	return nil
}

func (m *GeneratedMaps) set(kind maps.Kind, buf *pixel.Buffer) {
	switch kind {
	case maps.KindNormal:
		m.Normal = buf
	case maps.KindDisplacement:
		m.Displacement = buf
	case maps.KindAO:
		m.AO = buf
	case maps.KindSpecular:
		m.Specular = buf
	}
}

// Kinds lists the kinds present, in maps.AllKinds order.
func (m *GeneratedMaps) Kinds() []maps.Kind {
	var kinds []maps.Kind
	for _, k := range maps.AllKinds {
		if m.Get(k) != nil {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// Run validates src and runs every requested generator concurrently. The
// generators only read src. ctx is checked once before any work starts.
func Run(ctx context.Context, src *pixel.Buffer, req Request) (*GeneratedMaps, error) {
	if err := src.Validate(); err != nil {
		return nil, err
	}
	kinds, err := requestedKinds(req.Kinds)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	results := make([]*pixel.Buffer, len(kinds))
	var wg sync.WaitGroup
	for i, kind := range kinds {
		wg.Add(1)
		go func(i int, kind maps.Kind) {
			defer wg.Done()
			results[i] = generate(src, kind, req.Settings)
		}(i, kind)
	}
	wg.Wait()

	out := &GeneratedMaps{}
	for i, kind := range kinds {
		out.set(kind, results[i])
	}
	return out, nil
}

// RunImage converts a decoded image and calls Run.
func RunImage(ctx context.Context, img image.Image, req Request) (*GeneratedMaps, error) {
	if img == nil {
		return nil, &pixel.InvalidInputError{}
	}
	return Run(ctx, pixel.FromImage(img), req)
}

func generate(src *pixel.Buffer, kind maps.Kind, s maps.Settings) *pixel.Buffer {
	switch kind {
	case maps.KindNormal:
		return maps.Normal(src, s.Normal)
	case maps.KindDisplacement:
		return maps.Displacement(src, s.Displacement)
	case maps.KindAO:
		return maps.AmbientOcclusion(src, s.AO)
	case maps.KindSpecular:
		return maps.Specular(src, s.Specular)
	}
	return nil
}

func requestedKinds(kinds []maps.Kind) ([]maps.Kind, error) {
	if len(kinds) == 0 {
		return maps.AllKinds, nil
	}
	seen := make(map[maps.Kind]bool, len(kinds))
	out := make([]maps.Kind, 0, len(kinds))
	for _, k := range kinds {
		parsed, err := maps.ParseKind(string(k))
		if err != nil {
			return nil, fmt.Errorf("invalid request: %w", err)
		}
		if seen[parsed] {
			continue
		}
		seen[parsed] = true
		out = append(out, parsed)
	}
	return out, nil
}
