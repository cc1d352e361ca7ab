// Package maps derives normal, displacement, ambient-occlusion and specular maps
// from a single colour/height image.
package maps

import (
	"fmt"
	"strings"
)

// Kind names one of the generated maps.
type Kind string

const (
	KindNormal       Kind = "normal"
	KindDisplacement Kind = "displacement"
	KindAO           Kind = "ao"
	KindSpecular     Kind = "specular"
)

// AllKinds lists every map kind in output order.
var AllKinds = []Kind{KindNormal, KindDisplacement, KindAO, KindSpecular}

func (k Kind) String() string { return string(k) }

// ParseKind parses a single map kind. "occlusion" and "ambient-occlusion" are accepted for ao.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "normal":
		return KindNormal, nil
	case "displacement", "height":
		return KindDisplacement, nil
	case "ao", "occlusion", "ambient-occlusion":
		return KindAO, nil
	case "specular":
		return KindSpecular, nil
	default:
		return "", fmt.Errorf("unknown map kind %q", s)
	}
}

// ParseKinds parses a comma-separated list. An empty string or "all" yields AllKinds.
func ParseKinds(s string) ([]Kind, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "all") {
		return append([]Kind(nil), AllKinds...), nil
	}

	seen := make(map[Kind]bool)
	var kinds []Kind
	for _, part := range strings.Split(s, ",") {
		k, err := ParseKind(part)
		if err != nil {
			return nil, err
		}
		if seen[k] {
			continue
		}
		seen[k] = true
		kinds = append(kinds, k)
	}
	return kinds, nil
}

// NormalSettings controls the normal map.
// DetailLevel and Height are accepted for compatibility but do not affect the output.
type NormalSettings struct {
	Strength    float64 `json:"strength" mapstructure:"strength"`
	Blur        int     `json:"blur" mapstructure:"blur"`
	DetailLevel int     `json:"detailLevel" mapstructure:"detail_level"`
	InvertRed   bool    `json:"invertRed" mapstructure:"invert_red"`
	InvertGreen bool    `json:"invertGreen" mapstructure:"invert_green"`
	Height      float64 `json:"height" mapstructure:"height"`
}

// DisplacementSettings controls the displacement map.
type DisplacementSettings struct {
	Contrast float64 `json:"contrast" mapstructure:"contrast"`
	Blur     int     `json:"blur" mapstructure:"blur"`
	Invert   bool    `json:"invert" mapstructure:"invert"`
}

// AOSettings controls the ambient-occlusion map. Mean is the sampling radius in
// pixels; Range/2 (rounded) is the number of samples.
type AOSettings struct {
	Strength float64 `json:"strength" mapstructure:"strength"`
	Mean     float64 `json:"mean" mapstructure:"mean"`
	Range    float64 `json:"range" mapstructure:"range"`
	Blur     int     `json:"blur" mapstructure:"blur"`
	Invert   bool    `json:"invert" mapstructure:"invert"`
}

// SpecularSettings controls the specular map. Mean and Range are reserved.
type SpecularSettings struct {
	Strength float64 `json:"strength" mapstructure:"strength"`
	Mean     float64 `json:"mean" mapstructure:"mean"`
	Range    float64 `json:"range" mapstructure:"range"`
	Falloff  float64 `json:"falloff" mapstructure:"falloff"`
}

// Settings bundles the per-map settings.
type Settings struct {
	Normal       NormalSettings       `json:"normal" mapstructure:"normal"`
	Displacement DisplacementSettings `json:"displacement" mapstructure:"displacement"`
	AO           AOSettings           `json:"ao" mapstructure:"ao"`
	Specular     SpecularSettings     `json:"specular" mapstructure:"specular"`
}

// DefaultSettings returns the slider defaults of the texture editor.
func DefaultSettings() Settings {
	return Settings{
		Normal: NormalSettings{
			Strength:    50,
			Blur:        0,
			DetailLevel: 1,
		},
		Displacement: DisplacementSettings{
			Contrast: 50,
			Blur:     MinDisplacementBlur,
		},
		AO: AOSettings{
			Strength: 50,
			Mean:     8,
			Range:    16,
		},
		Specular: SpecularSettings{
			Strength: 50,
			Falloff:  25,
		},
	}
}
