// Package api exposes the viewer over HTTP.
package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/voxelview/server/internal/config"
	"github.com/voxelview/server/internal/service"
	"github.com/voxelview/server/internal/transfer"
	"github.com/voxelview/server/internal/viewer"
	"github.com/voxelview/server/internal/volume"
	"github.com/voxelview/server/pkg/colormap"
)

// NewRouter builds the chi router with all viewer endpoints.
func NewRouter(cfg *config.Config, svc *service.ViewerService, cmp *service.CompareCoordinator, session *viewer.Session) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.Server.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/volumes", handleUpload(cfg, svc))
		r.Get("/volumes", handleListVolumes(svc))
		r.Get("/volumes/{id}", handleGetVolume(svc))
		r.Delete("/volumes/{id}", handleDeleteVolume(svc))
		r.Get("/volumes/{id}/slice/{axis}/{index}.png", handleSlice(svc))
		r.Get("/volumes/{id}/planes", handlePlanes(svc))
		r.Get("/volumes/{id}/render3d", handleRender3D(svc))
		r.Get("/compare/slice", handleCompareSlice(cmp))
		r.Get("/compare/render3d", handleCompareRender3D(cmp))
		r.Get("/colormaps", handleColormaps(cfg))
		r.Get("/opacities", handleOpacities())

		r.Put("/session", handleConfigureSession(svc, session))
		r.Post("/session/mode", handleSessionMode(svc, session))
		r.Post("/session/input", handleSessionInput(session))
		r.Get("/session/view", handleSessionView(session))
	})

	return r
}

// writeError maps the domain error kinds onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, volume.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, volume.ErrUnsupportedFormat):
		status = http.StatusUnsupportedMediaType
	case errors.Is(err, volume.ErrCorrupt):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, volume.ErrMissingDependency):
		status = http.StatusNotImplemented
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("encode response: %v", err)
	}
}

func volumeInfo(v *volume.Volume) map[string]interface{} {
	return map[string]interface{}{
		"id":          v.ID,
		"name":        v.Name,
		"format":      v.Format,
		"shape":       v.Shape,
		"dtype":       v.Dtype,
		"spacing":     v.Spacing,
		"value_range": [2]float64{v.Min, v.Max},
		"mean":        v.Mean,
		"std":         v.Std,
		"window":      [2]float64{v.WindowLow, v.WindowHigh},
	}
}

func handleUpload(cfg *config.Config, svc *service.ViewerService) http.HandlerFunc {
	limit := int64(cfg.Server.MaxUploadMB) << 20
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, limit)

		name := r.URL.Query().Get("name")
		reader := r.Body
		if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
			file, header, err := r.FormFile("file")
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing multipart field 'file'"})
				return
			}
			defer file.Close()
			reader = file
			if name == "" {
				name = header.Filename
			}
		}
		if name == "" {
			name = "upload"
		}

		v, err := svc.LoadVolume(name, reader)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "upload exceeds size limit"})
				return
			}
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, volumeInfo(v))
	}
}

func handleListVolumes(svc *service.ViewerService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vols := svc.ListVolumes()
		infos := make([]map[string]interface{}, 0, len(vols))
		for _, v := range vols {
			infos = append(infos, volumeInfo(v))
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"volumes": infos})
	}
}

func handleGetVolume(svc *service.ViewerService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := svc.GetVolume(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, volumeInfo(v))
	}
}

func handleDeleteVolume(svc *service.ViewerService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc.DeleteVolume(chi.URLParam(r, "id"))
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleSlice(svc *service.ViewerService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		axis, err := volume.ParseAxis(chi.URLParam(r, "axis"))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		index, err := strconv.Atoi(chi.URLParam(r, "index"))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid index"})
			return
		}

		data, err := svc.RenderSlice(chi.URLParam(r, "id"), axis, index, r.URL.Query().Get("cmap"))
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Write(data)
	}
}

// intQuery parses a query integer, falling back when absent or bad.
func intQuery(r *http.Request, key string, fallback int) int {
	if s := r.URL.Query().Get(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return fallback
}

func handlePlanes(svc *service.ViewerService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		v, err := svc.GetVolume(id)
		if err != nil {
			writeError(w, err)
			return
		}

		ix := intQuery(r, "x", v.DefaultIndex(volume.AxisX))
		iy := intQuery(r, "y", v.DefaultIndex(volume.AxisY))
		iz := intQuery(r, "z", v.DefaultIndex(volume.AxisZ))

		planes, err := svc.RenderThreePlanes(id, ix, iy, iz, r.URL.Query().Get("cmap"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"image_x": base64.StdEncoding.EncodeToString(planes.X),
			"image_y": base64.StdEncoding.EncodeToString(planes.Y),
			"image_z": base64.StdEncoding.EncodeToString(planes.Z),
		})
	}
}

func handleRender3D(svc *service.ViewerService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		doc, err := svc.RenderScene(chi.URLParam(r, "id"), q.Get("opacity"), q.Get("cmap"), q.Get("mode"))
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(doc)
	}
}

func handleCompareSlice(cmp *service.CompareCoordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		idA, idB := q.Get("a"), q.Get("b")
		if idA == "" || idB == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "parameters 'a' and 'b' are required"})
			return
		}
		axis, err := volume.ParseAxis(q.Get("axis"))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}

		var index *int
		if s := q.Get("index"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid index"})
				return
			}
			index = &n
		}

		pair, err := cmp.CompareSlice(idA, idB, axis, index, q.Get("cmap"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"image_a": base64.StdEncoding.EncodeToString(pair.ImageA),
			"image_b": base64.StdEncoding.EncodeToString(pair.ImageB),
			"index_a": pair.IndexA,
			"index_b": pair.IndexB,
		})
	}
}

func handleCompareRender3D(cmp *service.CompareCoordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		idA, idB := q.Get("a"), q.Get("b")
		if idA == "" || idB == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "parameters 'a' and 'b' are required"})
			return
		}

		doc, err := cmp.CompareVolume3D(idA, idB, q.Get("opacity"), q.Get("cmap"), q.Get("mode"))
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(doc)
	}
}

func handleColormaps(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"colormaps": colormap.Names(),
			"default":   cfg.Render.DefaultColormap,
		})
	}
}

func handleOpacities() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"opacities": transfer.Names(),
			"default":   transfer.DefaultName,
		})
	}
}

func handleConfigureSession(svc *service.ViewerService, session *viewer.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Volume string `json:"volume"`
			Axis   string `json:"axis"`
			Cmap   string `json:"cmap"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}

		if _, err := svc.GetVolume(req.Volume); err != nil {
			writeError(w, err)
			return
		}
		axis := volume.AxisZ
		if req.Axis != "" {
			a, err := volume.ParseAxis(req.Axis)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
				return
			}
			axis = a
		}

		session.Configure(req.Volume, axis, req.Cmap)
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleSessionMode(svc *service.ViewerService, session *viewer.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Mode string `json:"mode"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		mode, err := viewer.ParseMode(req.Mode)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		if err := session.SetMode(mode, svc.Store().Len()); err != nil {
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"mode": session.Mode().String()})
	}
}

func handleSessionInput(session *viewer.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Control string `json:"control"`
			Value   int    `json:"value"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		if err := session.Input(req.Control, req.Value); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		// The render happens after the debounce window settles.
		w.WriteHeader(http.StatusAccepted)
	}
}

func handleSessionView(session *viewer.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		control := r.URL.Query().Get("control")
		if control == "" {
			control = viewer.ControlSliceIndex
		}
		result, ok := session.View(control)
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no rendered result for control"})
			return
		}
		w.Header().Set("Content-Type", result.ContentType())
		w.Write(result.Data)
	}
}

// Addr formats the listen address for the configured port.
func Addr(cfg *config.Config) string {
	return fmt.Sprintf(":%d", cfg.Server.Port)
}
