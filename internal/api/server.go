// Package api exposes the facility registry, occupancy ledger, proximity
// engine, and plate-read ingestion over HTTP.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/campus-mobility/parkwatch/internal/geo"
	"github.com/campus-mobility/parkwatch/internal/ingest"
	"github.com/campus-mobility/parkwatch/internal/ledger"
	"github.com/campus-mobility/parkwatch/internal/proximity"
	"github.com/campus-mobility/parkwatch/internal/registry"
	"github.com/campus-mobility/parkwatch/internal/store"
)

const maxBodyBytes = 1 << 20

// Options configures a Server.
type Options struct {
	Registry  *registry.Service
	Ledger    *ledger.Service
	Proximity *proximity.Engine
	Ingest    *ingest.Service
	Store     store.Store

	NearestDefaultK int
	NearestMaxK     int

	// Token bucket applied to POST /v1/lpr/reads. Cameras under load
	// burst; everything beyond the bucket gets 429.
	IngestRate  float64
	IngestBurst int

	AllowedOrigins []string
}

// Server routes HTTP requests to the underlying services.
type Server struct {
	registry  *registry.Service
	ledger    *ledger.Service
	proximity *proximity.Engine
	ingest    *ingest.Service
	store     store.Store

	nearestDefaultK int
	nearestMaxK     int
	limiter         *rate.Limiter
	allowedOrigins  []string
}

// New creates a Server. Zero option fields get conservative defaults.
func New(opts Options) *Server {
	if opts.NearestDefaultK < 1 {
		opts.NearestDefaultK = 5
	}
	if opts.NearestMaxK < opts.NearestDefaultK {
		opts.NearestMaxK = 100
	}
	if opts.IngestRate <= 0 {
		opts.IngestRate = 50
	}
	if opts.IngestBurst < 1 {
		opts.IngestBurst = 100
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	return &Server{
		registry:        opts.Registry,
		ledger:          opts.Ledger,
		proximity:       opts.Proximity,
		ingest:          opts.Ingest,
		store:           opts.Store,
		nearestDefaultK: opts.NearestDefaultK,
		nearestMaxK:     opts.NearestMaxK,
		limiter:         rate.NewLimiter(rate.Limit(opts.IngestRate), opts.IngestBurst),
		allowedOrigins:  opts.AllowedOrigins,
	}
}

// Router builds the chi handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/facilities", func(r chi.Router) {
			r.Post("/", s.handleRegisterFacility)
			r.Get("/", s.handleListFacilities)
			r.Get("/nearest", s.handleNearest)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetFacility)
				r.Delete("/", s.handleDeleteFacility)
				r.Get("/occupancy", s.handleGetOccupancy)
				r.Post("/occupancy", s.handleAdjustOccupancy)
				r.Get("/occupancy/history", s.handleOccupancyHistory)
			})
		})
		r.Route("/lpr/reads", func(r chi.Router) {
			r.With(s.rateLimit).Post("/", s.handleIngestRead)
			r.Get("/", s.handleFindReads)
		})
	})

	return r
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		zap.L().Warn("api: health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type registerFacilityRequest struct {
	Name         string         `json:"name"`
	Location     geo.Point      `json:"location"`
	MaxOccupancy map[string]int `json:"max_occupancy"`
}

func (s *Server) handleRegisterFacility(w http.ResponseWriter, r *http.Request) {
	var req registerFacilityRequest
	if !decodeBody(w, r, &req) {
		return
	}

	f, created, err := s.registry.Register(r.Context(), req.Name, req.MaxOccupancy, req.Location)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, f)
}

func (s *Server) handleListFacilities(w http.ResponseWriter, r *http.Request) {
	facilities, err := s.registry.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, facilities)
}

func (s *Server) handleGetFacility(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	f, err := s.registry.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleDeleteFacility(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.registry.Delete(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetOccupancy(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	occ, err := s.ledger.Snapshot(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, occ)
}

type adjustOccupancyRequest struct {
	Category string `json:"category"`
	Delta    int    `json:"delta"`
}

type adjustOccupancyResponse struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

func (s *Server) handleAdjustOccupancy(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req adjustOccupancyRequest
	if !decodeBody(w, r, &req) {
		return
	}

	count, err := s.ledger.Adjust(r.Context(), id, req.Category, req.Delta)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, adjustOccupancyResponse{Category: req.Category, Count: count})
}

func (s *Server) handleOccupancyHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}
	records, err := s.ledger.History(r.Context(), id, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleNearest(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, err := strconv.ParseFloat(q.Get("lat"), 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "lat must be a number"})
		return
	}
	lon, err := strconv.ParseFloat(q.Get("lon"), 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "lon must be a number"})
		return
	}
	k := s.nearestDefaultK
	if raw := q.Get("k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "k must be a positive integer"})
			return
		}
		k = n
	}
	if k > s.nearestMaxK {
		k = s.nearestMaxK
	}

	results, err := s.proximity.Nearest(r.Context(), geo.Point{Lat: lat, Lon: lon}, k)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleIngestRead(w http.ResponseWriter, r *http.Request) {
	var in ingest.ReadInput
	if !decodeBody(w, r, &in) {
		return
	}

	read, err := s.ingest.Ingest(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, read)
}

func (s *Server) handleFindReads(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.ReadFilter{
		Plate:      q.Get("plate"),
		CameraName: q.Get("camera"),
		State:      q.Get("state"),
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "limit must be a positive integer"})
			return
		}
		filter.Limit = n
	}

	reads, err := s.ingest.Find(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reads)
}

// pathID parses the {id} URL segment; writes a 400 and returns false when it
// is not a UUID.
func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "id must be a UUID"})
		return uuid.Nil, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return false
	}
	return true
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}
