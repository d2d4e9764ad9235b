// Package handlers exposes the enrichment pipeline over HTTP: batch lookup,
// cache inspection and the privileged operational endpoints.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"ticker-enricher/internal/cache"
	"ticker-enricher/internal/common/logging"
	"ticker-enricher/internal/enrich"
	"ticker-enricher/internal/ratelimit"
	"ticker-enricher/internal/redis"
)

// maxBatchBody caps lookup request bodies at 10 MiB.
const maxBatchBody = 10 << 20

// Handlers bundles the HTTP endpoints and their dependencies.
type Handlers struct {
	enricher *enrich.Service
	cache    *cache.CompanyCache
	limiter  *ratelimit.Limiter
	store    *redis.Client
	logger   logging.Logger
}

// New creates the handler set. limiter may be nil when admission control is
// disabled; the reset endpoint then answers 404.
func New(enricher *enrich.Service, companyCache *cache.CompanyCache, limiter *ratelimit.Limiter, store *redis.Client, logger logging.Logger) *Handlers {
	return &Handlers{
		enricher: enricher,
		cache:    companyCache,
		limiter:  limiter,
		store:    store,
		logger:   logger,
	}
}

// Register attaches all routes to the router.
func (h *Handlers) Register(r *mux.Router) {
	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/documents/lookup", h.LookupDocuments).Methods(http.MethodPost)
	api.HandleFunc("/cache/stats", h.CacheStats).Methods(http.MethodGet)
	api.HandleFunc("/cache/_private/clear", h.ClearCache).Methods(http.MethodPost)
	api.HandleFunc("/_private/ratelimit/reset", h.ResetRateLimit).Methods(http.MethodPost)

	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
}

type lookupRequest struct {
	Data []enrich.Row `json:"data"`
}

// LookupDocuments enriches a batch of rows.
func (h *Handlers) LookupDocuments(w http.ResponseWriter, r *http.Request) {
	var req lookupRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBatchBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Data) == 0 {
		writeError(w, http.StatusBadRequest, "data must be a non-empty array of rows")
		return
	}

	result, err := h.enricher.EnrichBatch(r.Context(), req.Data)
	if err != nil {
		h.logger.Error("batch enrichment failed", err)
		writeError(w, http.StatusInternalServerError, "enrichment failed")
		return
	}

	// Cache-assisted batches answer 201.
	status := http.StatusOK
	if result.CacheHitCount > 0 {
		status = http.StatusCreated
	}
	writeJSON(w, status, result)
}

// CacheStats reports entry counts and fuzzy index size.
func (h *Handlers) CacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.cache.Stats(r.Context()))
}

// ClearCache drops every cached entry. Privileged path, bypasses admission.
func (h *Handlers) ClearCache(w http.ResponseWriter, r *http.Request) {
	if err := h.cache.Clear(r.Context()); err != nil {
		h.logger.Error("cache clear failed", err)
		writeError(w, http.StatusInternalServerError, "failed to clear cache")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

type resetRequest struct {
	Client string `json:"client"`
}

// ResetRateLimit drops the token bucket for one client.
func (h *Handlers) ResetRateLimit(w http.ResponseWriter, r *http.Request) {
	if h.limiter == nil {
		writeError(w, http.StatusNotFound, "rate limiting is disabled")
		return
	}

	var req resetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Client == "" {
		writeError(w, http.StatusBadRequest, "client is required")
		return
	}

	if err := h.limiter.Reset(r.Context(), req.Client); err != nil {
		h.logger.Error("rate limit reset failed", err, logging.String("client", req.Client))
		writeError(w, http.StatusInternalServerError, "failed to reset rate limit")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset", "client": req.Client})
}

// Health reports store connectivity.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Health(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"redis":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
