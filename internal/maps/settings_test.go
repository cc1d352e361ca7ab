package maps

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	tests := []struct {
		in      string
		want    Kind
		wantErr bool
	}{
		{"normal", KindNormal, false},
		{" Normal ", KindNormal, false},
		{"height", KindDisplacement, false},
		{"displacement", KindDisplacement, false},
		{"occlusion", KindAO, false},
		{"ambient-occlusion", KindAO, false},
		{"AO", KindAO, false},
		{"specular", KindSpecular, false},
		{"roughness", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		got, err := ParseKind(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "ParseKind(%q)", tt.in)
			continue
		}
		require.NoError(t, err, "ParseKind(%q)", tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestParseKinds(t *testing.T) {
	all, err := ParseKinds("")
	require.NoError(t, err)
	assert.Equal(t, AllKinds, all)

	all, err = ParseKinds("ALL")
	require.NoError(t, err)
	assert.Equal(t, AllKinds, all)

	// The returned slice must not alias AllKinds.
	all[0] = KindSpecular
	assert.Equal(t, KindNormal, AllKinds[0])

	kinds, err := ParseKinds("specular, normal,height,specular")
	require.NoError(t, err)
	assert.Equal(t, []Kind{KindSpecular, KindNormal, KindDisplacement}, kinds)

	_, err = ParseKinds("normal,bogus")
	assert.Error(t, err)
}

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()
	assert.Equal(t, 50.0, s.Normal.Strength)
	assert.Equal(t, 1, s.Normal.DetailLevel)
	assert.Equal(t, 50.0, s.Displacement.Contrast)
	assert.Equal(t, MinDisplacementBlur, s.Displacement.Blur)
	assert.Equal(t, AOSettings{Strength: 50, Mean: 8, Range: 16}, s.AO)
	assert.Equal(t, 25.0, s.Specular.Falloff)
}

func TestSettingsJSONFieldNames(t *testing.T) {
	var s Settings
	err := json.Unmarshal([]byte(`{
		"normal": {"strength": 70, "invertGreen": true, "detailLevel": 3},
		"ao": {"mean": 4, "range": 10, "invert": true}
	}`), &s)
	require.NoError(t, err)

	assert.Equal(t, 70.0, s.Normal.Strength)
	assert.True(t, s.Normal.InvertGreen)
	assert.Equal(t, 3, s.Normal.DetailLevel)
	assert.Equal(t, AOSettings{Mean: 4, Range: 10, Invert: true}, s.AO)
}
