package handlers

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"sticker-convert/internal/convert"
	"sticker-convert/internal/database"
	"sticker-convert/internal/memory"
	"sticker-convert/internal/metrics"
	"sticker-convert/internal/packer"
	"sticker-convert/internal/platform"
	"sticker-convert/internal/probe"
	"sticker-convert/internal/startup"
	"sticker-convert/internal/toolchain"
	"sticker-convert/internal/verify"

	"github.com/gorilla/mux"
)

// =============================================================================
// Helpers
// =============================================================================

type fakeStore struct {
	uploads  []database.Upload
	platform string
	limit    int
}

func (s *fakeStore) ListUploads(_ context.Context, platform string, limit int) ([]database.Upload, error) {
	s.platform, s.limit = platform, limit
	return s.uploads, nil
}

func (s *fakeStore) GetStats() metrics.Stats {
	return metrics.Stats{Credentials: 2, Uploads: len(s.uploads), Conversions: 7}
}

func newTestHandlers(t *testing.T, store Store) *Handlers {
	t.Helper()
	return New(store, convert.New(nil, nil), toolchain.NewRegistry(nil), Config{WorkDir: t.TempDir(), Workers: 2})
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// multipartRequest builds a POST with one "file" part per entry of files.
func multipartRequest(t *testing.T, target string, files map[string][]byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for name, data := range files {
		fw, err := mw.CreateFormFile("file", name)
		if err != nil {
			t.Fatal(err)
		}
		fw.Write(data)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response %q: %v", w.Body.String(), err)
	}
}

// =============================================================================
// Health and Version Tests
// =============================================================================

func TestGetVersion(t *testing.T) {
	t.Parallel()

	h := &Handlers{}
	w := httptest.NewRecorder()
	h.GetVersion(w, httptest.NewRequest(http.MethodGet, "/version", http.NoBody))

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	var info startup.BuildInfo
	decode(t, w, &info)
	if info.Version != startup.Version || info.GoVersion == "" {
		t.Errorf("unexpected build info %+v", info)
	}
}

func TestHealthCheckDegradedWithoutTools(t *testing.T) {
	h := newTestHandlers(t, &fakeStore{uploads: []database.Upload{{ID: 1}}})
	w := httptest.NewRecorder()
	h.HealthCheck(w, httptest.NewRequest(http.MethodGet, "/health", http.NoBody))

	var resp HealthResponse
	decode(t, w, &resp)
	if resp.Status != statusDegraded {
		t.Errorf("Status = %s, want %s", resp.Status, statusDegraded)
	}
	if resp.Tools[toolchain.FFmpeg] {
		t.Error("ffmpeg reported available in an empty registry")
	}
	if resp.StoredCredentials != 2 || resp.StoredUploads != 1 || resp.CachedConversions != 7 {
		t.Errorf("stats = %+v", resp)
	}
}

func TestHealthCheckHealthy(t *testing.T) {
	h := New(nil, convert.New(nil, nil), toolchain.NewRegistry(map[toolchain.Tool]string{
		toolchain.FFmpeg:  "/usr/bin/ffmpeg",
		toolchain.FFprobe: "/usr/bin/ffprobe",
	}), Config{})
	w := httptest.NewRecorder()
	h.HealthCheck(w, httptest.NewRequest(http.MethodGet, "/health", http.NoBody))

	var resp HealthResponse
	decode(t, w, &resp)
	if resp.Status != statusHealthy {
		t.Errorf("Status = %s, want %s", resp.Status, statusHealthy)
	}
}

func TestLivenessCheckHead(t *testing.T) {
	t.Parallel()

	h := &Handlers{}
	w := httptest.NewRecorder()
	h.LivenessCheck(w, httptest.NewRequest(http.MethodHead, "/livez", http.NoBody))
	if w.Code != http.StatusOK || w.Body.Len() != 0 {
		t.Errorf("HEAD /livez = %d with %d body bytes", w.Code, w.Body.Len())
	}
}

func TestReadinessCheck(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	(&Handlers{}).ReadinessCheck(w, httptest.NewRequest(http.MethodGet, "/readyz", http.NoBody))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("readiness without converter = %d", w.Code)
	}

	w = httptest.NewRecorder()
	(&Handlers{conv: convert.New(nil, nil)}).ReadinessCheck(w, httptest.NewRequest(http.MethodGet, "/readyz", http.NoBody))
	if w.Code != http.StatusOK {
		t.Errorf("readiness with converter = %d", w.Code)
	}
}

// =============================================================================
// Preset Tests
// =============================================================================

func TestListPresets(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	(&Handlers{}).ListPresets(w, httptest.NewRequest(http.MethodGet, "/api/presets", http.NoBody))

	var specs []platform.Spec
	decode(t, w, &specs)
	if len(specs) != len(platform.Names()) {
		t.Errorf("got %d presets, want %d", len(specs), len(platform.Names()))
	}
}

func TestGetPreset(t *testing.T) {
	t.Parallel()

	router := mux.NewRouter()
	(&Handlers{}).Routes(router, false)

	tests := []struct {
		path string
		want int
	}{
		{"/api/presets/signal", http.StatusOK},
		{"/api/presets/myspace", http.StatusNotFound},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, http.NoBody))
		if w.Code != tt.want {
			t.Errorf("GET %s = %d, want %d", tt.path, w.Code, tt.want)
		}
	}
}

// =============================================================================
// Probe, Verify and Convert Tests
// =============================================================================

func TestProbe(t *testing.T) {
	h := newTestHandlers(t, nil)
	req := multipartRequest(t, "/api/probe", map[string][]byte{"cat.png": pngBytes(t, 64, 32)})
	w := httptest.NewRecorder()
	h.Probe(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var infos []probe.Info
	decode(t, w, &infos)
	if len(infos) != 1 || infos[0].Width != 64 || infos[0].Height != 32 || infos[0].Path != "cat.png" {
		t.Errorf("infos = %+v", infos)
	}
}

func TestProbeKeepsUploadsWithSameName(t *testing.T) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, data := range [][]byte{pngBytes(t, 10, 10), pngBytes(t, 20, 20), pngBytes(t, 30, 30)} {
		fw, err := mw.CreateFormFile("file", "a.png")
		if err != nil {
			t.Fatal(err)
		}
		fw.Write(data)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/probe", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	w := httptest.NewRecorder()
	newTestHandlers(t, nil).Probe(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	var infos []probe.Info
	decode(t, w, &infos)
	want := []struct {
		path string
		side int
	}{{"a.png", 10}, {"a-1.png", 20}, {"a-2.png", 30}}
	if len(infos) != len(want) {
		t.Fatalf("got %d results, want %d: %+v", len(infos), len(want), infos)
	}
	for i, exp := range want {
		if infos[i].Path != exp.path || infos[i].Width != exp.side {
			t.Errorf("infos[%d] = %s %dpx, want %s %dpx", i, infos[i].Path, infos[i].Width, exp.path, exp.side)
		}
	}
}

func TestDedupeName(t *testing.T) {
	taken := map[string]bool{}
	var got []string
	for _, name := range []string{"a.png", "A.PNG", "a-1.png", "a.png", "b"} {
		got = append(got, dedupeName(taken, name))
	}
	want := []string{"a.png", "A-1.PNG", "a-1-1.png", "a-2.png", "b"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("dedupeName #%d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestProbeErrors(t *testing.T) {
	h := newTestHandlers(t, nil)

	w := httptest.NewRecorder()
	h.Probe(w, multipartRequest(t, "/api/probe", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("no file: status = %d", w.Code)
	}

	w = httptest.NewRecorder()
	h.Probe(w, multipartRequest(t, "/api/probe", map[string][]byte{"junk.png": []byte("junk")}))
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("junk file: status = %d", w.Code)
	}
}

func TestVerify(t *testing.T) {
	h := newTestHandlers(t, nil)

	w := httptest.NewRecorder()
	h.Verify(w, multipartRequest(t, "/api/verify", map[string][]byte{"a.png": pngBytes(t, 8, 8)}))
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing preset: status = %d", w.Code)
	}

	w = httptest.NewRecorder()
	h.Verify(w, multipartRequest(t, "/api/verify?preset=signal", map[string][]byte{"wide.png": pngBytes(t, 600, 300)}))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var reports []verify.Report
	decode(t, w, &reports)
	if len(reports) != 1 || reports[0].OK() || reports[0].Path != "wide.png" {
		t.Errorf("reports = %+v", reports)
	}
}

func TestConvertSingleFile(t *testing.T) {
	h := newTestHandlers(t, nil)
	req := multipartRequest(t, "/api/convert?preset=line", map[string][]byte{"big.png": pngBytes(t, 1024, 512)})
	w := httptest.NewRecorder()
	h.Convert(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %s", ct)
	}
	if !strings.Contains(w.Header().Get("Content-Disposition"), "big.png") {
		t.Errorf("Content-Disposition = %s", w.Header().Get("Content-Disposition"))
	}
	cfg, err := png.DecodeConfig(w.Body)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Width > 370 || cfg.Height > 320 {
		t.Errorf("output %dx%d exceeds the line preset", cfg.Width, cfg.Height)
	}
}

func TestConvertHeldBackUnderMemoryPressure(t *testing.T) {
	gate := memory.NewGate(memory.GateConfig{Limit: 1, High: 0.5, Critical: 0.8, Interval: time.Millisecond})
	gate.Start()
	defer gate.Stop()
	for deadline := time.Now().Add(time.Second); gate.Usage() == 0; {
		if time.Now().After(deadline) {
			t.Fatal("gate never sampled")
		}
		time.Sleep(time.Millisecond)
	}

	h := New(nil, convert.New(nil, nil), toolchain.NewRegistry(nil), Config{WorkDir: t.TempDir(), Gate: gate})
	req := multipartRequest(t, "/api/convert?preset=line", map[string][]byte{"a.png": pngBytes(t, 8, 8)})
	ctx, cancel := context.WithTimeout(req.Context(), 30*time.Millisecond)
	defer cancel()

	w := httptest.NewRecorder()
	h.Convert(w, req.WithContext(ctx))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestConvertFailureReportsResult(t *testing.T) {
	h := newTestHandlers(t, nil)
	w := httptest.NewRecorder()
	h.Convert(w, multipartRequest(t, "/api/convert?preset=line", map[string][]byte{"bad.png": []byte("nope")}))

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", w.Code)
	}
	var res convert.Result
	decode(t, w, &res)
	if res.Error == "" || res.Input != "bad.png" {
		t.Errorf("result = %+v", res)
	}
}

func TestConvertManyFilesReturnsZip(t *testing.T) {
	h := newTestHandlers(t, nil)
	req := multipartRequest(t, "/api/convert?preset=line", map[string][]byte{
		"a.png":   pngBytes(t, 100, 100),
		"b.png":   pngBytes(t, 200, 100),
		"bad.png": []byte("nope"),
	})
	w := httptest.NewRecorder()
	h.Convert(w, req)

	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != "application/zip" {
		t.Fatalf("status = %d, type %s", w.Code, w.Header().Get("Content-Type"))
	}
	zr, err := zip.NewReader(bytes.NewReader(w.Body.Bytes()), int64(w.Body.Len()))
	if err != nil {
		t.Fatal(err)
	}
	names := map[string]*zip.File{}
	for _, f := range zr.File {
		names[f.Name] = f
	}
	for _, want := range []string{"a.png", "b.png", "results.json"} {
		if names[want] == nil {
			t.Errorf("archive lacks %s (has %v)", want, names)
		}
	}
	if names["bad.png"] != nil {
		t.Error("failed file was archived")
	}

	rc, err := names["results.json"].Open()
	if err != nil {
		t.Fatal(err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	var results []convert.Result
	if err := json.Unmarshal(data, &results); err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Errorf("results.json has %d entries", len(results))
	}
}

// =============================================================================
// Split and History Tests
// =============================================================================

func TestSplit(t *testing.T) {
	t.Parallel()

	h := &Handlers{maxUpload: defaultMaxUpload}
	tests := []struct {
		name  string
		body  string
		want  int
		packs int
	}{
		{
			name:  "preset limits",
			body:  `{"title":"T","preset":"line","entries":` + entries(45) + `}`,
			want:  http.StatusOK,
			packs: 2,
		},
		{
			name:  "explicit options",
			body:  `{"title":"T","options":{"perPack":10},"entries":` + entries(25) + `}`,
			want:  http.StatusOK,
			packs: 3,
		},
		{name: "no limits", body: `{"title":"T","entries":[]}`, want: http.StatusBadRequest},
		{name: "no title", body: `{"preset":"line","entries":[]}`, want: http.StatusBadRequest},
		{name: "bad json", body: `{`, want: http.StatusBadRequest},
		{name: "invalid limits", body: `{"title":"T","options":{"perPack":0},"entries":[]}`, want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.Split(w, httptest.NewRequest(http.MethodPost, "/api/split", strings.NewReader(tt.body)))
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
			if tt.want != http.StatusOK {
				return
			}
			var packs []packer.Pack
			decode(t, w, &packs)
			if len(packs) != tt.packs {
				t.Errorf("got %d packs, want %d", len(packs), tt.packs)
			}
		})
	}
}

func entries(n int) string {
	list := make([]packer.Entry, n)
	for i := range list {
		list[i] = packer.Entry{Path: strings.Repeat("x", i+1) + ".png", Size: 100}
	}
	data, _ := json.Marshal(list)
	return string(data)
}

func TestHistory(t *testing.T) {
	t.Parallel()

	store := &fakeStore{uploads: []database.Upload{{ID: 1, Platform: "signal", Title: "Cats"}}}
	h := &Handlers{store: store}

	w := httptest.NewRecorder()
	h.History(w, httptest.NewRequest(http.MethodGet, "/api/history?platform=signal&limit=5", http.NoBody))
	var uploads []database.Upload
	decode(t, w, &uploads)
	if len(uploads) != 1 || store.platform != "signal" || store.limit != 5 {
		t.Errorf("uploads = %+v, query = %s/%d", uploads, store.platform, store.limit)
	}

	w = httptest.NewRecorder()
	h.History(w, httptest.NewRequest(http.MethodGet, "/api/history?limit=zero", http.NoBody))
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid limit: status = %d", w.Code)
	}

	w = httptest.NewRecorder()
	(&Handlers{}).History(w, httptest.NewRequest(http.MethodGet, "/api/history", http.NoBody))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("no store: status = %d", w.Code)
	}
}

// =============================================================================
// Routing Tests
// =============================================================================

func TestRoutes(t *testing.T) {
	router := mux.NewRouter()
	newTestHandlers(t, &fakeStore{}).Routes(router, true)
	srv := httptest.NewServer(router)
	defer srv.Close()

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/version", http.StatusOK},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodGet, "/api/tools", http.StatusOK},
		{http.MethodGet, "/api/history", http.StatusOK},
		{http.MethodGet, "/api/convert", http.StatusMethodNotAllowed},
		{http.MethodGet, "/nowhere", http.StatusNotFound},
	}
	for _, tt := range tests {
		req, _ := http.NewRequest(tt.method, srv.URL+tt.path, http.NoBody)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != tt.want {
			t.Errorf("%s %s = %d, want %d", tt.method, tt.path, resp.StatusCode, tt.want)
		}
	}
}
