package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MeKo-Tech/texturemaps/internal/archive"
	"github.com/MeKo-Tech/texturemaps/internal/imageio"
	"github.com/MeKo-Tech/texturemaps/internal/maps"
	"github.com/MeKo-Tech/texturemaps/internal/noise"
	"github.com/MeKo-Tech/texturemaps/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, cfg MapServerConfig, ah *ArchiveHandler) (*MapServer, *httptest.Server) {
	t.Helper()
	if cfg.Settings == (maps.Settings{}) {
		cfg.Settings = maps.DefaultSettings()
	}
	ms, err := NewMapServer(cfg, nil)
	require.NoError(t, err)
	srv := httptest.NewServer(NewHandler(ms, ah))
	t.Cleanup(srv.Close)
	return ms, srv
}

// newTestServerWithRun installs run as the pipeline before the server starts.
func newTestServerWithRun(t *testing.T, cfg MapServerConfig, run func(context.Context, image.Image, pipeline.Request) (*pipeline.GeneratedMaps, error)) (*MapServer, *httptest.Server) {
	t.Helper()
	cfg.Settings = maps.DefaultSettings()
	ms, err := NewMapServer(cfg, nil)
	require.NoError(t, err)
	ms.run = run
	srv := httptest.NewServer(NewHandler(ms, nil))
	t.Cleanup(srv.Close)
	return ms, srv
}

func sourcePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, noise.HeightField(w, h, 4, 5).Image()))
	return buf.Bytes()
}

func flatPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 100
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func post(t *testing.T, url string, body []byte) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/octet-stream", bytes.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthz(t *testing.T) {
	_, srv := newTestServer(t, MapServerConfig{}, nil)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMapHandlerNormal(t *testing.T) {
	ms, srv := newTestServer(t, MapServerConfig{}, nil)

	resp := post(t, srv.URL+"/v1/maps/normal", flatPNG(t, 6, 4))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	img, format, err := imageio.Decode(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, image.Pt(6, 4), img.Bounds().Size())

	got := color.NRGBAModel.Convert(img.At(3, 2)).(color.NRGBA)
	assert.Equal(t, color.NRGBA{R: 128, G: 128, B: 255, A: 255}, got)

	status := ms.Status()
	assert.Equal(t, int64(1), status.TotalGenerated)
	assert.Equal(t, 0, status.ActiveGenerations)
	assert.Equal(t, 0, status.QueuedGenerations)
}

func TestMapHandlerOverridesAndFormat(t *testing.T) {
	_, srv := newTestServer(t, MapServerConfig{}, nil)

	resp := post(t, srv.URL+"/v1/maps/normal?invertRed=true&format=webp&size=16", flatPNG(t, 5, 5))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/webp", resp.Header.Get("Content-Type"))

	img, format, err := imageio.Decode(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "webp", format)
	assert.Equal(t, image.Pt(16, 16), img.Bounds().Size())

	got := color.NRGBAModel.Convert(img.At(8, 8)).(color.NRGBA)
	assert.Equal(t, uint8(127), got.R)
}

func TestMapHandlerAliasKind(t *testing.T) {
	_, srv := newTestServer(t, MapServerConfig{}, nil)

	resp := post(t, srv.URL+"/v1/maps/occlusion?strength=100&range=8&mean=1", flatPNG(t, 4, 4))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	img, _, err := imageio.Decode(resp.Body)
	require.NoError(t, err)
	got := color.NRGBAModel.Convert(img.At(1, 1)).(color.NRGBA)
	assert.Equal(t, uint8(255), got.R, "flat image has no occlusion")
}

func TestMapHandlerErrors(t *testing.T) {
	ms, srv := newTestServer(t, MapServerConfig{MaxUploadBytes: 2048}, nil)

	tests := []struct {
		name   string
		path   string
		body   []byte
		status int
	}{
		{"unknown kind", "/v1/maps/roughness", flatPNG(t, 2, 2), http.StatusNotFound},
		{"bad override", "/v1/maps/normal?strength=lots", flatPNG(t, 2, 2), http.StatusBadRequest},
		{"bad format", "/v1/maps/normal?format=exr", flatPNG(t, 2, 2), http.StatusBadRequest},
		{"bad size", "/v1/maps/normal?size=-3", flatPNG(t, 2, 2), http.StatusBadRequest},
		{"bad settings json", "/v1/maps/normal?settings=%7Bnope", flatPNG(t, 2, 2), http.StatusBadRequest},
		{"not an image", "/v1/maps/normal", []byte("hello"), http.StatusBadRequest},
		{"too large", "/v1/maps/normal", bytes.Repeat([]byte{0}, 4096), http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := post(t, srv.URL+tt.path, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}

	assert.Equal(t, int64(0), ms.Status().TotalGenerated)
}

func TestMapHandlerMethodNotAllowed(t *testing.T) {
	_, srv := newTestServer(t, MapServerConfig{}, nil)

	resp, err := http.Get(srv.URL + "/v1/maps/normal")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	_, srv := newTestServer(t, MapServerConfig{}, nil)

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/v1/maps/normal", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "POST")
}

func TestMapSetHandler(t *testing.T) {
	_, srv := newTestServer(t, MapServerConfig{}, nil)

	resp := post(t, srv.URL+"/v1/maps?maps=normal,specular&format=png", sourcePNG(t, 12, 10))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body MapSetResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))

	assert.NotEmpty(t, body.ID)
	assert.Equal(t, resp.Header.Get("X-Request-Id"), body.ID)
	assert.Equal(t, 12, body.Width)
	assert.Equal(t, 10, body.Height)
	require.Len(t, body.Maps, 2)

	for _, kind := range []string{"normal", "specular"} {
		url := body.Maps[kind]
		require.True(t, strings.HasPrefix(url, "data:image/png;base64,"), kind)
		data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(url, "data:image/png;base64,"))
		require.NoError(t, err)
		img, _, err := imageio.DecodeBytes(data)
		require.NoError(t, err)
		assert.Equal(t, image.Pt(12, 10), img.Bounds().Size())
	}
}

func TestMapSetHandlerAllKindsWithSettings(t *testing.T) {
	_, srv := newTestServer(t, MapServerConfig{}, nil)

	resp := post(t, srv.URL+`/v1/maps?settings=`+`%7B%22ao%22%3A%7B%22invert%22%3Atrue%7D%7D`, flatPNG(t, 4, 4))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body MapSetResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Len(t, body.Maps, len(maps.AllKinds))

	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(body.Maps["ao"], "data:image/png;base64,"))
	require.NoError(t, err)
	img, _, err := imageio.DecodeBytes(data)
	require.NoError(t, err)
	got := color.NRGBAModel.Convert(img.At(0, 0)).(color.NRGBA)
	assert.Equal(t, uint8(0), got.R, "inverted AO of a flat image is black")
}

func TestMapSetHandlerUnknownKind(t *testing.T) {
	_, srv := newTestServer(t, MapServerConfig{}, nil)

	resp := post(t, srv.URL+"/v1/maps?maps=normal,bogus", flatPNG(t, 2, 2))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatusHandler(t *testing.T) {
	_, srv := newTestServer(t, MapServerConfig{MaxConcurrentGenerations: 3}, nil)

	post(t, srv.URL+"/v1/maps/specular", flatPNG(t, 2, 2))

	resp, err := http.Get(srv.URL + "/v1/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	var status Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, 3, status.MaxConcurrent)
	assert.Equal(t, int64(1), status.TotalGenerated)
	assert.Equal(t, int64(0), status.TotalFailed)
}

func TestMaxSourceSize(t *testing.T) {
	_, srv := newTestServer(t, MapServerConfig{MaxSourceSize: 8}, nil)

	resp := post(t, srv.URL+"/v1/maps/displacement", sourcePNG(t, 32, 16))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	img, _, err := imageio.Decode(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(8, 4), img.Bounds().Size())
}

func TestNewMapServerDefaults(t *testing.T) {
	ms, err := NewMapServer(MapServerConfig{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, ms.cfg.MaxConcurrentGenerations)
	assert.Equal(t, 2*time.Minute, ms.cfg.GenerationTimeout)
	assert.Equal(t, int64(DefaultMaxUploadBytes), ms.cfg.MaxUploadBytes)
	assert.Equal(t, imageio.FormatPNG, ms.cfg.Encode.Format)

	_, err = NewMapServer(MapServerConfig{Encode: imageio.EncodeOptions{Format: "exr"}}, nil)
	assert.Error(t, err)
}

func TestArchiveHandler(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "maps.db")
	w, err := archive.New(dbPath, archive.Metadata{Name: "test"})
	require.NoError(t, err)
	payload := flatPNG(t, 3, 3)
	require.NoError(t, w.WriteMap(archive.Map{
		Source: "brick.png", SettingsHash: "h1", Kind: maps.KindAO, Format: "png", Width: 3, Height: 3, Data: payload,
	}))
	require.NoError(t, w.Close())

	ah, err := NewArchiveHandler(ArchiveConfig{ArchivePath: dbPath}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ah.Close() })
	_, srv := newTestServer(t, MapServerConfig{}, ah)

	resp, err := http.Get(srv.URL + "/v1/archive/brick.png/ao")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	var got bytes.Buffer
	_, err = got.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, payload, got.Bytes())

	resp2, err := http.Get(srv.URL + "/v1/archive/brick.png/normal")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)

	resp3, err := http.Get(srv.URL + "/v1/archive")
	require.NoError(t, err)
	defer resp3.Body.Close()
	var entries []archive.Entry
	require.NoError(t, json.NewDecoder(resp3.Body).Decode(&entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "brick.png", entries[0].Source)
}

func TestApplyOverrides(t *testing.T) {
	s := maps.DefaultSettings()
	q := map[string][]string{
		"strength": {"150"},
		"blur":     {"-3"},
		"invert":   {"true"},
		"falloff":  {"80"},
	}

	require.NoError(t, applyOverrides(&s, maps.KindAO, q))
	assert.Equal(t, 150.0, s.AO.Strength)
	assert.Equal(t, -3, s.AO.Blur)
	assert.True(t, s.AO.Invert)
	assert.Equal(t, maps.DefaultSettings().Specular, s.Specular, "other kinds untouched")

	require.NoError(t, applyOverrides(&s, maps.KindSpecular, q))
	assert.Equal(t, 80.0, s.Specular.Falloff)

	assert.Error(t, applyOverrides(&s, maps.KindNormal, map[string][]string{"invertRed": {"maybe"}}))
	assert.Error(t, applyOverrides(&s, maps.KindNormal, map[string][]string{"blur": {"1.5"}}))
}

// headerOnlyPNG returns a 1x1 PNG whose IHDR claims w x h.
func headerOnlyPNG(t *testing.T, w, h uint32) []byte {
	t.Helper()
	data := flatPNG(t, 1, 1)
	binary.BigEndian.PutUint32(data[16:20], w)
	binary.BigEndian.PutUint32(data[20:24], h)
	binary.BigEndian.PutUint32(data[29:33], crc32.ChecksumIEEE(data[12:29]))
	return data
}

func TestOversizedSourceRejectedBeforeDecode(t *testing.T) {
	var ran atomic.Bool
	ms, srv := newTestServerWithRun(t, MapServerConfig{}, func(ctx context.Context, img image.Image, req pipeline.Request) (*pipeline.GeneratedMaps, error) {
		ran.Store(true)
		return pipeline.RunImage(ctx, img, req)
	})

	resp := post(t, srv.URL+"/v1/maps/normal", headerOnlyPNG(t, 60000, 60000))
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "source image too large")
	assert.False(t, ran.Load())
	assert.Equal(t, int32(0), ms.activeGenerations.Load())
}

func TestMaxSourcePixels(t *testing.T) {
	_, srv := newTestServer(t, MapServerConfig{MaxSourcePixels: 15}, nil)

	resp := post(t, srv.URL+"/v1/maps/displacement", flatPNG(t, 4, 4))
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

	resp = post(t, srv.URL+"/v1/maps/displacement", flatPNG(t, 3, 5))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGenerationTimeoutKeepsSlotUntilRunEnds(t *testing.T) {
	release := make(chan struct{})
	var runs atomic.Int32
	ms, srv := newTestServerWithRun(t, MapServerConfig{
		MaxConcurrentGenerations: 1,
		GenerationTimeout:        200 * time.Millisecond,
	}, func(_ context.Context, img image.Image, req pipeline.Request) (*pipeline.GeneratedMaps, error) {
		if runs.Add(1) == 1 {
			<-release
		}
		return pipeline.RunImage(context.Background(), img, req)
	})

	body := flatPNG(t, 2, 2)
	resp := post(t, srv.URL+"/v1/maps/specular", body)
	require.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)

	// The abandoned run still owns the only slot.
	status := ms.Status()
	assert.Equal(t, 1, status.ActiveGenerations)
	assert.Len(t, status.CurrentRequests, 1)
	assert.Len(t, ms.sem, 1)

	second := make(chan int, 1)
	go func() {
		resp, err := http.Post(srv.URL+"/v1/maps/specular", "application/octet-stream", bytes.NewReader(body))
		if err != nil {
			second <- 0
			return
		}
		resp.Body.Close()
		second <- resp.StatusCode
	}()

	assert.Eventually(t, func() bool { return ms.Status().QueuedGenerations == 1 },
		2*time.Second, 5*time.Millisecond, "second request should wait for the slot")

	close(release)

	select {
	case code := <-second:
		assert.Equal(t, http.StatusOK, code)
	case <-time.After(5 * time.Second):
		t.Fatal("second request never got the slot")
	}

	assert.Eventually(t, func() bool { return ms.Status().ActiveGenerations == 0 },
		2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(2), runs.Load())
	assert.Equal(t, int64(1), ms.Status().TotalFailed)
	assert.Equal(t, int64(1), ms.Status().TotalGenerated)
}
