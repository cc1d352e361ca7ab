package server

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/MeKo-Tech/texturemaps/internal/maps"
)

// applyOverrides sets the fields of one kind's settings from query parameters
// named after their JSON keys, e.g. ?strength=120&invertGreen=true.
func applyOverrides(s *maps.Settings, kind maps.Kind, q url.Values) error {
	floats := map[string]*float64{}
	ints := map[string]*int{}
	bools := map[string]*bool{}

	switch kind {
	case maps.KindNormal:
		floats["strength"] = &s.Normal.Strength
		floats["height"] = &s.Normal.Height
		ints["blur"] = &s.Normal.Blur
		ints["detailLevel"] = &s.Normal.DetailLevel
		bools["invertRed"] = &s.Normal.InvertRed
		bools["invertGreen"] = &s.Normal.InvertGreen
	case maps.KindDisplacement:
		floats["contrast"] = &s.Displacement.Contrast
		ints["blur"] = &s.Displacement.Blur
		bools["invert"] = &s.Displacement.Invert
	case maps.KindAO:
		floats["strength"] = &s.AO.Strength
		floats["mean"] = &s.AO.Mean
		floats["range"] = &s.AO.Range
		ints["blur"] = &s.AO.Blur
		bools["invert"] = &s.AO.Invert
	case maps.KindSpecular:
		floats["strength"] = &s.Specular.Strength
		floats["mean"] = &s.Specular.Mean
		floats["range"] = &s.Specular.Range
		floats["falloff"] = &s.Specular.Falloff
	}

	for name, p := range floats {
		if v := q.Get(name); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("invalid %s %q: %w", name, v, err)
			}
			*p = f
		}
	}
	for name, p := range ints {
		if v := q.Get(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s %q: %w", name, v, err)
			}
			*p = n
		}
	}
	for name, p := range bools {
		if v := q.Get(name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid %s %q: %w", name, v, err)
			}
			*p = b
		}
	}
	return nil
}
