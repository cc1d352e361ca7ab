package cmd

import (
	"fmt"

	"github.com/MeKo-Tech/texturemaps/internal/maps"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// settingFlag ties one field of maps.Settings to a flag and a config key under "maps.".
// Exactly one of the accessors is set.
type settingFlag struct {
	flag     string
	key      string
	usage    string
	floatVal func(*maps.Settings) *float64
	intVal   func(*maps.Settings) *int
	boolVal  func(*maps.Settings) *bool
}

var settingFlags = []settingFlag{
	{flag: "normal-strength", key: "normal.strength", usage: "Normal map gradient strength (0-200)",
		floatVal: func(s *maps.Settings) *float64 { return &s.Normal.Strength }},
	{flag: "normal-blur", key: "normal.blur", usage: "Normal map blur radius; negative sharpens (-50..50)",
		intVal: func(s *maps.Settings) *int { return &s.Normal.Blur }},
	{flag: "normal-detail-level", key: "normal.detail_level", usage: "Normal map detail level (1-10)",
		intVal: func(s *maps.Settings) *int { return &s.Normal.DetailLevel }},
	{flag: "normal-invert-red", key: "normal.invert_red", usage: "Invert the normal map red (X) channel",
		boolVal: func(s *maps.Settings) *bool { return &s.Normal.InvertRed }},
	{flag: "normal-invert-green", key: "normal.invert_green", usage: "Invert the normal map green (Y) channel",
		boolVal: func(s *maps.Settings) *bool { return &s.Normal.InvertGreen }},
	{flag: "normal-height", key: "normal.height", usage: "Normal map height (0-100)",
		floatVal: func(s *maps.Settings) *float64 { return &s.Normal.Height }},

	{flag: "displacement-contrast", key: "displacement.contrast", usage: "Displacement contrast around mid-grey (-100..100)",
		floatVal: func(s *maps.Settings) *float64 { return &s.Displacement.Contrast }},
	{flag: "displacement-blur", key: "displacement.blur", usage: fmt.Sprintf("Displacement blur radius (at least %d is applied)", maps.MinDisplacementBlur),
		intVal: func(s *maps.Settings) *int { return &s.Displacement.Blur }},
	{flag: "displacement-invert", key: "displacement.invert", usage: "Invert the displacement map",
		boolVal: func(s *maps.Settings) *bool { return &s.Displacement.Invert }},

	{flag: "ao-strength", key: "ao.strength", usage: "Ambient occlusion strength (0-200)",
		floatVal: func(s *maps.Settings) *float64 { return &s.AO.Strength }},
	{flag: "ao-mean", key: "ao.mean", usage: "Ambient occlusion sampling radius in pixels (0-100)",
		floatVal: func(s *maps.Settings) *float64 { return &s.AO.Mean }},
	{flag: "ao-range", key: "ao.range", usage: "Ambient occlusion range; half of it is the sample count (0-100)",
		floatVal: func(s *maps.Settings) *float64 { return &s.AO.Range }},
	{flag: "ao-blur", key: "ao.blur", usage: "Ambient occlusion blur radius (0-50)",
		intVal: func(s *maps.Settings) *int { return &s.AO.Blur }},
	{flag: "ao-invert", key: "ao.invert", usage: "Invert the ambient occlusion map",
		boolVal: func(s *maps.Settings) *bool { return &s.AO.Invert }},

	{flag: "specular-strength", key: "specular.strength", usage: "Specular strength (0-200)",
		floatVal: func(s *maps.Settings) *float64 { return &s.Specular.Strength }},
	{flag: "specular-falloff", key: "specular.falloff", usage: "Specular falloff exponent scale (0-100)",
		floatVal: func(s *maps.Settings) *float64 { return &s.Specular.Falloff }},
	{flag: "specular-mean", key: "specular.mean", usage: "Specular mean (0-100)",
		floatVal: func(s *maps.Settings) *float64 { return &s.Specular.Mean }},
	{flag: "specular-range", key: "specular.range", usage: "Specular range (0-100)",
		floatVal: func(s *maps.Settings) *float64 { return &s.Specular.Range }},
}

// addSettingsFlags registers one flag per map setting, defaulting to maps.DefaultSettings.
func addSettingsFlags(cmd *cobra.Command) {
	defaults := maps.DefaultSettings()
	for _, sf := range settingFlags {
		switch {
		case sf.floatVal != nil:
			cmd.Flags().Float64(sf.flag, *sf.floatVal(&defaults), sf.usage)
		case sf.intVal != nil:
			cmd.Flags().Int(sf.flag, *sf.intVal(&defaults), sf.usage)
		case sf.boolVal != nil:
			cmd.Flags().Bool(sf.flag, *sf.boolVal(&defaults), sf.usage)
		}
	}
}

// loadSettings binds the settings flags of cmd to "maps.*" and reads the
// merged flag, environment and config file values. Binding happens at run
// time because several commands share the keys.
func loadSettings(cmd *cobra.Command) (maps.Settings, error) {
	s := maps.DefaultSettings()
	for _, sf := range settingFlags {
		key := "maps." + sf.key
		if f := cmd.Flags().Lookup(sf.flag); f != nil {
			if err := viper.BindPFlag(key, f); err != nil {
				return s, fmt.Errorf("failed to bind flag %s: %w", sf.flag, err)
			}
		}
		if !viper.IsSet(key) {
			continue
		}
		switch {
		case sf.floatVal != nil:
			*sf.floatVal(&s) = viper.GetFloat64(key)
		case sf.intVal != nil:
			*sf.intVal(&s) = viper.GetInt(key)
		case sf.boolVal != nil:
			*sf.boolVal(&s) = viper.GetBool(key)
		}
	}
	return s, nil
}
