package api

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/voxelview/server/internal/cache"
	"github.com/voxelview/server/internal/config"
	"github.com/voxelview/server/internal/render"
	"github.com/voxelview/server/internal/scene"
	"github.com/voxelview/server/internal/service"
	"github.com/voxelview/server/internal/viewer"
	"github.com/voxelview/server/internal/volume"
)

func newTestRouter(t *testing.T, sceneCfg scene.Config) http.Handler {
	t.Helper()

	cfg := config.DefaultConfig()
	caches, err := cache.NewManager(cache.Config{
		ImageCacheSizeMB: 8,
		ImageTTL:         time.Minute,
		SceneCacheSize:   8,
	})
	if err != nil {
		t.Fatalf("cache.NewManager: %v", err)
	}
	t.Cleanup(func() { caches.Close() })

	store := volume.NewStore()
	renderer := render.NewSliceRenderer(render.Config{ImageSize: 64, DefaultColormap: cfg.Render.DefaultColormap})
	scenes := scene.NewBuilder(sceneCfg)
	svc := service.NewViewerService(store, renderer, scenes, caches)
	cmp := service.NewCompareCoordinator(store, renderer, scenes, caches)
	session := viewer.NewSession(10*time.Millisecond, svc.RenderSlice)
	return NewRouter(cfg, svc, cmp, session)
}

func npyBody(t *testing.T, shape [3]int) []byte {
	t.Helper()

	dict := "{'descr': '<f8', 'fortran_order': False, 'shape': (" +
		strconv.Itoa(shape[0]) + ", " + strconv.Itoa(shape[1]) + ", " + strconv.Itoa(shape[2]) + "), }"
	for (10+len(dict)+1)%64 != 0 {
		dict += " "
	}
	dict += "\n"

	var buf bytes.Buffer
	buf.Write([]byte{0x93, 'N', 'U', 'M', 'P', 'Y', 1, 0})
	var lb [2]byte
	binary.LittleEndian.PutUint16(lb[:], uint16(len(dict)))
	buf.Write(lb[:])
	buf.WriteString(dict)
	n := shape[0] * shape[1] * shape[2]
	for i := 0; i < n; i++ {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], math.Float64bits(float64(i%89)))
		buf.Write(b[:])
	}
	return buf.Bytes()
}

func uploadVolume(t *testing.T, router http.Handler, shape [3]int) string {
	t.Helper()

	req := httptest.NewRequest("POST", "/api/volumes?name=test.npy", bytes.NewReader(npyBody(t, shape)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload status = %d: %s", rec.Code, rec.Body.String())
	}

	var info map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatalf("decode upload response: %v", err)
	}
	id, _ := info["id"].(string)
	if id == "" {
		t.Fatalf("upload response missing id: %v", info)
	}
	return id
}

func TestHealth(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t, scene.Config{PlotlyJS: "cdn"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("health = %d %q", rec.Code, rec.Body.String())
	}
}

func TestUploadAndGetVolume(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t, scene.Config{PlotlyJS: "cdn"})
	id := uploadVolume(t, router, [3]int{8, 8, 4})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/volumes/"+id, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}

	var info map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info["dtype"] != "float64" || info["format"] != "npy" {
		t.Fatalf("unexpected info: %v", info)
	}
	if _, ok := info["value_range"]; !ok {
		t.Fatal("info missing value_range")
	}
}

func TestUploadMultipart(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t, scene.Config{PlotlyJS: "cdn"})

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "scan.npy")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	fw.Write(npyBody(t, [3]int{4, 4, 4}))
	mw.Close()

	req := httptest.NewRequest("POST", "/api/volumes", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("multipart upload status = %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "scan.npy") {
		t.Fatal("expected the multipart filename in the volume info")
	}
}

func TestUploadUnsupportedFormat(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t, scene.Config{PlotlyJS: "cdn"})
	req := httptest.NewRequest("POST", "/api/volumes", strings.NewReader("plain text, not a volume"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status = %d, want 415", rec.Code)
	}
}

func TestGetVolumeNotFound(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t, scene.Config{PlotlyJS: "cdn"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/volumes/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestSliceEndpoint(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t, scene.Config{PlotlyJS: "cdn"})
	id := uploadVolume(t, router, [3]int{8, 8, 4})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/volumes/"+id+"/slice/2/1.png?cmap=viridis", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("content type = %s", ct)
	}

	// Out-of-range index is clamped, never rejected.
	recHigh := httptest.NewRecorder()
	router.ServeHTTP(recHigh, httptest.NewRequest("GET", "/api/volumes/"+id+"/slice/2/999.png", nil))
	if recHigh.Code != http.StatusOK {
		t.Fatalf("clamped slice status = %d", recHigh.Code)
	}

	recBad := httptest.NewRecorder()
	router.ServeHTTP(recBad, httptest.NewRequest("GET", "/api/volumes/"+id+"/slice/7/1.png", nil))
	if recBad.Code != http.StatusBadRequest {
		t.Fatalf("bad axis status = %d, want 400", recBad.Code)
	}
}

func TestPlanesEndpoint(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t, scene.Config{PlotlyJS: "cdn"})
	id := uploadVolume(t, router, [3]int{8, 8, 4})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/volumes/"+id+"/planes?x=2&y=3&z=1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, key := range []string{"image_x", "image_y", "image_z"} {
		if resp[key] == "" {
			t.Errorf("response missing %s", key)
		}
	}
}

func TestRender3DEndpoint(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t, scene.Config{PlotlyJS: "cdn"})
	id := uploadVolume(t, router, [3]int{6, 6, 6})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/volumes/"+id+"/render3d?opacity=sigmoid_5&cmap=hot", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/html") {
		t.Fatalf("content type = %s", rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(rec.Body.String(), "Plotly.newPlot") {
		t.Fatal("expected a plotly scene document")
	}
}

func TestRender3DMissingDependency(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t, scene.Config{
		PlotlyJS:        "local",
		PlotlyAssetPath: filepath.Join(t.TempDir(), "missing.js"),
	})
	id := uploadVolume(t, router, [3]int{4, 4, 4})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/volumes/"+id+"/render3d", nil))
	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d, want 501", rec.Code)
	}
}

func TestCompareSliceEndpoint(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t, scene.Config{PlotlyJS: "cdn"})
	idA := uploadVolume(t, router, [3]int{16, 8, 8})
	idB := uploadVolume(t, router, [3]int{10, 8, 8})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/compare/slice?a="+idA+"&b="+idB+"&axis=0&index=12", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["image_a"] == "" || resp["image_b"] == "" {
		t.Fatal("response missing images")
	}
	if resp["index_a"].(float64) != 12 || resp["index_b"].(float64) != 9 {
		t.Fatalf("indices = %v/%v, want 12/9", resp["index_a"], resp["index_b"])
	}

	recMissing := httptest.NewRecorder()
	router.ServeHTTP(recMissing, httptest.NewRequest("GET", "/api/compare/slice?a="+idA+"&axis=0", nil))
	if recMissing.Code != http.StatusBadRequest {
		t.Fatalf("missing 'b' status = %d, want 400", recMissing.Code)
	}
}

func TestCompareRender3DEndpoint(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t, scene.Config{PlotlyJS: "cdn"})
	idA := uploadVolume(t, router, [3]int{6, 6, 6})
	idB := uploadVolume(t, router, [3]int{6, 6, 6})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/compare/render3d?a="+idA+"&b="+idB+"&opacity=sigmoid_3&cmap=bone", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if !strings.Contains(body, `id="scene-0"`) || !strings.Contains(body, `id="scene-1"`) {
		t.Fatal("expected two scene panels")
	}
}

func TestCatalogEndpoints(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t, scene.Config{PlotlyJS: "cdn"})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/colormaps", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "viridis") {
		t.Fatalf("colormaps = %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/opacities", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "sigmoid_5") {
		t.Fatalf("opacities = %d %s", rec.Code, rec.Body.String())
	}
}

func TestSessionEndpoints(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t, scene.Config{PlotlyJS: "cdn"})
	id := uploadVolume(t, router, [3]int{8, 8, 4})

	// Configure the session against the uploaded volume.
	rec := httptest.NewRecorder()
	body := strings.NewReader(`{"volume":"` + id + `","axis":"2","cmap":"gray"}`)
	router.ServeHTTP(rec, httptest.NewRequest("PUT", "/api/session", body))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("configure status = %d: %s", rec.Code, rec.Body.String())
	}

	// No result before any input has settled.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/session/view", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("view before input = %d, want 404", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/api/session/input",
		strings.NewReader(`{"control":"slice.index","value":2}`)))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("input status = %d: %s", rec.Code, rec.Body.String())
	}

	// Wait out the 10ms test debounce window plus the render.
	deadline := time.Now().Add(2 * time.Second)
	for {
		rec = httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/session/view?control=slice.index", nil))
		if rec.Code == http.StatusOK {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("no rendered view before deadline, last status %d", rec.Code)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("view content type = %s", ct)
	}

	// Compare-slice needs two volumes; with one it conflicts.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/api/session/mode",
		strings.NewReader(`{"mode":"compare-slice"}`)))
	if rec.Code != http.StatusConflict {
		t.Fatalf("compare mode with one volume = %d, want 409", rec.Code)
	}

	uploadVolume(t, router, [3]int{8, 8, 4})
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/api/session/mode",
		strings.NewReader(`{"mode":"compare-slice"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("compare mode with two volumes = %d: %s", rec.Code, rec.Body.String())
	}
}

func TestDeleteVolumeEndpoint(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t, scene.Config{PlotlyJS: "cdn"})
	id := uploadVolume(t, router, [3]int{4, 4, 4})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("DELETE", "/api/volumes/"+id, nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/volumes/"+id, nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status after delete = %d, want 404", rec.Code)
	}
}
