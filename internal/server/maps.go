// Package server exposes the map generators over HTTP.
package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MeKo-Tech/texturemaps/internal/imageio"
	"github.com/MeKo-Tech/texturemaps/internal/maps"
	"github.com/MeKo-Tech/texturemaps/internal/pipeline"
	"github.com/google/uuid"
)

// DefaultMaxUploadBytes bounds the size of an uploaded source image.
const DefaultMaxUploadBytes = 32 << 20

// MapServerConfig configures a MapServer. Zero values fall back to the defaults
// applied by NewMapServer.
type MapServerConfig struct {
	Settings                 maps.Settings
	Encode                   imageio.EncodeOptions
	MaxConcurrentGenerations int
	GenerationTimeout        time.Duration
	MaxUploadBytes           int64
	// MaxSourceSize downscales larger uploads before generation; 0 disables it.
	MaxSourceSize int
	// MaxSourcePixels rejects uploads whose header declares more pixels, before
	// they are decoded. Zero means imageio.DefaultMaxPixels.
	MaxSourcePixels int
}

// MapServer generates maps for uploaded images.
type MapServer struct {
	logger *slog.Logger
	sem    chan struct{}
	cfg    MapServerConfig
	run    func(context.Context, image.Image, pipeline.Request) (*pipeline.GeneratedMaps, error)

	// Status tracking
	activeGenerations atomic.Int32
	totalGenerated    atomic.Int64
	totalFailed       atomic.Int64
	queuedGenerations atomic.Int32
	current           sync.Map // request id -> start time
}

// Status represents the current status of the generation system.
type Status struct {
	ActiveGenerations int      `json:"active_generations"`
	TotalGenerated    int64    `json:"total_generated"`
	TotalFailed       int64    `json:"total_failed"`
	MaxConcurrent     int      `json:"max_concurrent"`
	QueuedGenerations int      `json:"queued_generations"`
	CurrentRequests   []string `json:"current_requests"`
}

// MapSetResponse is the JSON body of POST /v1/maps.
type MapSetResponse struct {
	ID     string            `json:"id"`
	Width  int               `json:"width"`
	Height int               `json:"height"`
	Maps   map[string]string `json:"maps"` // kind -> data URL
}

// NewMapServer validates cfg and fills in defaults: one concurrent generation,
// a two minute timeout, DefaultMaxUploadBytes and PNG output.
func NewMapServer(cfg MapServerConfig, logger *slog.Logger) (*MapServer, error) {
	if cfg.MaxConcurrentGenerations <= 0 {
		cfg.MaxConcurrentGenerations = 1
	}
	if cfg.GenerationTimeout <= 0 {
		cfg.GenerationTimeout = 2 * time.Minute
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	format, err := imageio.ParseFormat(string(cfg.Encode.Format))
	if err != nil {
		return nil, err
	}
	cfg.Encode.Format = format

	return &MapServer{
		cfg:    cfg,
		logger: logger,
		sem:    make(chan struct{}, cfg.MaxConcurrentGenerations),
		run:    pipeline.RunImage,
	}, nil
}

// Status returns the current status of the generation system.
func (s *MapServer) Status() Status {
	var current []string
	s.current.Range(func(key, _ any) bool {
		current = append(current, key.(string))
		return true
	})

	return Status{
		ActiveGenerations: int(s.activeGenerations.Load()),
		TotalGenerated:    s.totalGenerated.Load(),
		TotalFailed:       s.totalFailed.Load(),
		MaxConcurrent:     s.cfg.MaxConcurrentGenerations,
		QueuedGenerations: int(s.queuedGenerations.Load()),
		CurrentRequests:   current,
	}
}

// StatusHandler returns an HTTP handler for the status endpoint (JSON).
func (s *MapServer) StatusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		writeJSON(w, s.Status(), s.log())
	})
}

// StatusStreamHandler pushes the status as Server-Sent Events every 250ms.
func (s *MapServer) StatusStreamHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "SSE not supported", http.StatusInternalServerError)
			return
		}

		ticker := time.NewTicker(250 * time.Millisecond)
		defer ticker.Stop()

		s.sendStatusEvent(w, flusher)
		for {
			select {
			case <-r.Context().Done():
				return
			case <-ticker.C:
				s.sendStatusEvent(w, flusher)
			}
		}
	})
}

func (s *MapServer) sendStatusEvent(w http.ResponseWriter, flusher http.Flusher) {
	data, err := json.Marshal(s.Status())
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

// MapHandler serves POST /v1/maps/{kind}: the body is a source image, the
// response is the encoded map.
func (s *MapServer) MapHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		kind, err := maps.ParseKind(r.PathValue("kind"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		settings, enc, size, err := s.parseQuery(r, []maps.Kind{kind})
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		result, _, ok := s.generate(w, r, pipeline.Request{Settings: settings, Kinds: []maps.Kind{kind}})
		if !ok {
			return
		}

		img := imageio.Resize(result.Get(kind).Image(), size)
		w.Header().Set("Content-Type", enc.Format.ContentType())
		w.Header().Set("Cache-Control", "no-store")
		if err := imageio.Encode(w, img, enc); err != nil {
			s.log().Error("failed to encode map", "kind", kind, "error", err)
		}
	})
}

// MapSetHandler serves POST /v1/maps: every kind (or ?maps=) as data URLs in JSON.
func (s *MapServer) MapSetHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		kinds, err := maps.ParseKinds(r.URL.Query().Get("maps"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		settings, enc, size, err := s.parseQuery(r, kinds)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		result, id, ok := s.generate(w, r, pipeline.Request{Settings: settings, Kinds: kinds})
		if !ok {
			return
		}

		resp := MapSetResponse{ID: id, Maps: make(map[string]string, len(kinds))}
		for _, kind := range result.Kinds() {
			img := imageio.Resize(result.Get(kind).Image(), size)
			url, err := dataURL(img, enc)
			if err != nil {
				s.log().Error("failed to encode map", "id", id, "kind", kind, "error", err)
				http.Error(w, "failed to encode map", http.StatusInternalServerError)
				return
			}
			resp.Maps[string(kind)] = url
			resp.Width, resp.Height = img.Bounds().Dx(), img.Bounds().Dy()
		}

		w.Header().Set("Cache-Control", "no-store")
		writeJSON(w, resp, s.log())
	})
}

// generate decodes the request body and runs the pipeline under the
// concurrency limit. It writes the error response itself and reports ok=false.
func (s *MapServer) generate(w http.ResponseWriter, r *http.Request, req pipeline.Request) (*pipeline.GeneratedMaps, string, bool) {
	id := uuid.NewString()

	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	img, format, err := imageio.DecodeLimit(body, s.cfg.MaxSourcePixels)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || errors.Is(err, imageio.ErrTooLarge) {
			http.Error(w, fmt.Sprintf("source image too large: %v", err), http.StatusRequestEntityTooLarge)
			return nil, id, false
		}
		http.Error(w, fmt.Sprintf("invalid source image: %v", err), http.StatusBadRequest)
		return nil, id, false
	}
	img = imageio.Fit(img, s.cfg.MaxSourceSize)

	// Track request as queued (waiting for semaphore)
	s.queuedGenerations.Add(1)
	select {
	case s.sem <- struct{}{}:
		s.queuedGenerations.Add(-1)
	case <-r.Context().Done():
		s.queuedGenerations.Add(-1)
		http.Error(w, "request cancelled", http.StatusRequestTimeout)
		return nil, id, false
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.GenerationTimeout)
	defer cancel()

	start := time.Now()
	result, err := s.runWithContext(ctx, id, img, req)
	if err != nil {
		s.totalFailed.Add(1)
		s.log().Error("failed to generate maps", "id", id, "error", err)
		status := http.StatusUnprocessableEntity
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		http.Error(w, fmt.Sprintf("failed to generate maps: %v", err), status)
		return nil, id, false
	}
	s.totalGenerated.Add(1)

	b := img.Bounds()
	s.log().Info("maps generated",
		"id", id,
		"source_format", format,
		"width", b.Dx(),
		"height", b.Dy(),
		"kinds", len(result.Kinds()),
		"ms", time.Since(start).Milliseconds())

	w.Header().Set("X-Request-Id", id)
	return result, id, true
}

// runWithContext starts the pipeline while holding a semaphore slot and returns
// when either the pipeline finishes or ctx expires. A started pipeline cannot be
// interrupted, so an abandoned run keeps its slot and stays counted as active
// until it finishes in the background.
func (s *MapServer) runWithContext(ctx context.Context, id string, img image.Image, req pipeline.Request) (*pipeline.GeneratedMaps, error) {
	type outcome struct {
		maps *pipeline.GeneratedMaps
		err  error
	}

	s.activeGenerations.Add(1)
	s.current.Store(id, time.Now())

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			s.current.Delete(id)
			s.activeGenerations.Add(-1)
			<-s.sem
		}()
		m, err := s.run(ctx, img, req)
		done <- outcome{m, err}
	}()

	select {
	case o := <-done:
		return o.maps, o.err
	case <-ctx.Done():
		s.log().Warn("generation abandoned; finishing in background", "id", id)
		return nil, ctx.Err()
	}
}

func (s *MapServer) parseQuery(r *http.Request, kinds []maps.Kind) (maps.Settings, imageio.EncodeOptions, int, error) {
	q := r.URL.Query()
	settings := s.cfg.Settings
	enc := s.cfg.Encode

	if raw := q.Get("settings"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &settings); err != nil {
			return settings, enc, 0, fmt.Errorf("invalid settings: %w", err)
		}
	}
	if len(kinds) == 1 {
		if err := applyOverrides(&settings, kinds[0], q); err != nil {
			return settings, enc, 0, err
		}
	}

	if v := q.Get("format"); v != "" {
		f, err := imageio.ParseFormat(v)
		if err != nil {
			return settings, enc, 0, err
		}
		enc.Format = f
	}

	size := 0
	if v := q.Get("size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > 8192 {
			return settings, enc, 0, fmt.Errorf("invalid size %q", v)
		}
		size = n
	}

	return settings, enc, size, nil
}

func dataURL(img image.Image, enc imageio.EncodeOptions) (string, error) {
	var buf bytes.Buffer
	if err := imageio.Encode(&buf, img, enc); err != nil {
		return "", err
	}
	return "data:" + enc.Format.ContentType() + ";base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

func (s *MapServer) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return slog.Default()
}
