// Package layerserver exposes the HTTP surface of the viewer backend:
// per-city config and layer files published by the ETL pipeline, and a
// point classification endpoint backed by pooled viewer sessions.
package layerserver

import (
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/itogeo/hometownmap/internal/classify"
	"github.com/itogeo/hometownmap/internal/core/health"
	imw "github.com/itogeo/hometownmap/internal/core/middleware"
	"github.com/itogeo/hometownmap/internal/core/model"
	obs "github.com/itogeo/hometownmap/internal/core/observability"
	"github.com/itogeo/hometownmap/internal/viewer"
)

type Server struct {
	logger  *slog.Logger
	dataDir string
	pool    *viewer.Pool
}

func New(logger *slog.Logger, dataDir string, pool *viewer.Pool) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{logger: logger, dataDir: dataDir, pool: pool}
}

// Routes builds the chi router for the layer server.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(imw.Recover())
	r.Use(imw.Logging(s.logger))
	r.Use(imw.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(health.ReadinessFunc(s.ready)))

	r.Route("/api/cities/{city}", func(r chi.Router) {
		r.Get("/config", s.handleConfig)
		r.Get("/layers/{layer}", s.handleLayer)
		r.Get("/classify", s.handleClassify)
	})
	return r
}

func (s *Server) ready() bool {
	info, err := os.Stat(s.dataDir)
	return err == nil && info.IsDir()
}

// slug vets a path segment taken from the URL. City and layer names
// are published as plain slugs; anything that could escape the data
// directory is rejected outright.
func slug(v string) (string, bool) {
	if v == "" || len(v) > 128 {
		return "", false
	}
	for _, r := range v {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.':
		default:
			return "", false
		}
	}
	if strings.Contains(v, "..") {
		return "", false
	}
	return v, true
}

func (s *Server) serveFile(w http.ResponseWriter, r *http.Request, path, contentType string) {
	start := time.Now()
	f, err := os.Open(path)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, fs.ErrNotExist) {
			status = http.StatusNotFound
		}
		obs.ObserveHTTP(r.Method, chiRoute(r), status, time.Since(start).Seconds())
		http.Error(w, http.StatusText(status), status)
		return
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		obs.ObserveHTTP(r.Method, chiRoute(r), http.StatusNotFound, time.Since(start).Seconds())
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", contentType)
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
	obs.ObserveHTTP(r.Method, chiRoute(r), http.StatusOK, time.Since(start).Seconds())
}

func chiRoute(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	city, ok := slug(chi.URLParam(r, "city"))
	if !ok {
		http.Error(w, "invalid city", http.StatusBadRequest)
		return
	}
	s.serveFile(w, r, filepath.Join(s.dataDir, city, "config.json"), "application/json")
}

func (s *Server) handleLayer(w http.ResponseWriter, r *http.Request) {
	city, ok := slug(chi.URLParam(r, "city"))
	if !ok {
		http.Error(w, "invalid city", http.StatusBadRequest)
		return
	}
	layer, ok := slug(chi.URLParam(r, "layer"))
	if !ok {
		http.Error(w, "invalid layer", http.StatusBadRequest)
		return
	}
	layer = strings.TrimSuffix(layer, ".geojson")
	path := filepath.Join(s.dataDir, city, "layers", layer+".geojson")
	s.serveFile(w, r, path, "application/geo+json")
}

// classifyResponse reports what contains the queried point. Absent
// matches are explicit nulls so clients can distinguish "outside every
// polygon" from a missing field.
type classifyResponse struct {
	City        string              `json:"city"`
	Lng         float64             `json:"lng"`
	Lat         float64             `json:"lat"`
	Subdivision *string             `json:"subdivision"`
	FloodZone   *classify.FloodZone `json:"flood_zone"`
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	city, ok := slug(chi.URLParam(r, "city"))
	if !ok {
		http.Error(w, "invalid city", http.StatusBadRequest)
		return
	}
	lng, errLng := strconv.ParseFloat(r.URL.Query().Get("lng"), 64)
	lat, errLat := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	if errLng != nil || errLat != nil {
		http.Error(w, "lng and lat must be valid numbers", http.StatusBadRequest)
		return
	}
	if lng < -180 || lng > 180 || lat < -90 || lat > 90 {
		http.Error(w, "coordinate out of range", http.StatusBadRequest)
		return
	}

	sess := s.pool.Get(r.Context(), model.TenantID(city))
	// first hit for a tenant loads the reference layers; settle before
	// answering so cold sessions do not report spurious no-matches
	sess.Wait()

	resp := classifyResponse{City: city, Lng: lng, Lat: lat}
	if name, ok := sess.ClassifySubdivision(lng, lat); ok {
		resp.Subdivision = &name
	}
	resp.FloodZone = sess.ClassifyFloodZone(lng, lat)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("classify response encode failed", "err", err)
	}
}
