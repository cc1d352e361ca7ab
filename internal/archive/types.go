// Package archive stores generated map sets in a single SQLite database.
package archive

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MeKo-Tech/texturemaps/internal/maps"
)

// ErrNotFound is returned when a requested map is not in the archive.
var ErrNotFound = errors.New("map not found")

// Metadata contains archive-level metadata fields.
type Metadata struct {
	Name        string // Human-readable archive identifier
	Description string
	Version     string
	Generator   string // Tool that produced the archive
	Format      string // Default encoding of stored maps (png, jpeg, webp)
}

// ToMap converts Metadata to a map for database insertion.
func (m Metadata) ToMap() map[string]string {
	result := make(map[string]string)

	if m.Name != "" {
		result["name"] = m.Name
	}
	if m.Description != "" {
		result["description"] = m.Description
	}
	if m.Version != "" {
		result["version"] = m.Version
	}
	if m.Generator != "" {
		result["generator"] = m.Generator
	}
	if m.Format != "" {
		result["format"] = m.Format
	}

	return result
}

// Map is one encoded map of a source image.
type Map struct {
	Source       string // Source image name
	SettingsHash string // HashSettings of the settings that produced it
	Kind         maps.Kind
	Format       string
	Width        int
	Height       int
	Data         []byte // Encoded image (gzip-compressed before storage)
}

// Entry describes a stored map without its payload.
type Entry struct {
	Source       string
	SettingsHash string
	Kind         maps.Kind
	Format       string
	Width        int
	Height       int
	Size         int // Compressed size in bytes
}

// HashSettings derives a stable key from the JSON form of s.
func HashSettings(s maps.Settings) (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to marshal settings: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8]), nil
}
