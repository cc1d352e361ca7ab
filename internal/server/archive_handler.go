package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/MeKo-Tech/texturemaps/internal/archive"
	"github.com/MeKo-Tech/texturemaps/internal/imageio"
	"github.com/MeKo-Tech/texturemaps/internal/maps"
)

// ArchiveHandler serves previously generated maps from an archive database.
type ArchiveHandler struct {
	reader       *archive.Reader
	logger       *slog.Logger
	cacheControl string
}

// ArchiveConfig configures the archive handler.
type ArchiveConfig struct {
	ArchivePath  string
	CacheControl string
}

// NewArchiveHandler opens the archive at cfg.ArchivePath.
func NewArchiveHandler(cfg ArchiveConfig, logger *slog.Logger) (*ArchiveHandler, error) {
	reader, err := archive.OpenReader(cfg.ArchivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	if cfg.CacheControl == "" {
		cfg.CacheControl = "public, max-age=3600"
	}

	return &ArchiveHandler{
		reader:       reader,
		logger:       logger,
		cacheControl: cfg.CacheControl,
	}, nil
}

// ListHandler serves GET /v1/archive: the stored entries as JSON.
func (h *ArchiveHandler) ListHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		entries, err := h.reader.List()
		if err != nil {
			h.log().Error("Failed to list archive", "error", err)
			http.Error(w, "failed to list archive", http.StatusInternalServerError)
			return
		}
		if entries == nil {
			entries = []archive.Entry{}
		}
		writeJSON(w, entries, h.log())
	})
}

// MapHandler serves GET /v1/archive/{source}/{kind}[?settings_hash=].
func (h *ArchiveHandler) MapHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		source := r.PathValue("source")
		kind, err := maps.ParseKind(r.PathValue("kind"))
		if err != nil {
			http.NotFound(w, r)
			return
		}

		m, err := h.reader.ReadMap(source, kind, r.URL.Query().Get("settings_hash"))
		if errors.Is(err, archive.ErrNotFound) {
			http.Error(w, "map not found", http.StatusNotFound)
			return
		}
		if err != nil {
			h.log().Error("Failed to read map", "source", source, "kind", kind, "error", err)
			http.Error(w, "failed to read map", http.StatusInternalServerError)
			return
		}

		format, err := imageio.ParseFormat(m.Format)
		if err != nil {
			format = imageio.FormatPNG
		}
		w.Header().Set("Cache-Control", h.cacheControl)
		w.Header().Set("Content-Type", format.ContentType())
		if _, err := w.Write(m.Data); err != nil {
			h.log().Error("Failed to write response", "error", err)
		}
	})
}

// Close closes the archive reader.
func (h *ArchiveHandler) Close() error {
	return h.reader.Close()
}

func (h *ArchiveHandler) log() *slog.Logger {
	if h.logger != nil {
		return h.logger
	}
	return slog.Default()
}
