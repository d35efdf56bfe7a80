package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
)

// server wires the pipeline, store and rate limiter into the HTTP API.
type server struct {
	cfg      Config
	pipeline *Pipeline
	store    *Store
	limiter  *rateLimiter
	prober   *prober
}

func newServer(cfg Config, pipeline *Pipeline, store *Store) *server {
	var limiter *rateLimiter
	if cfg.RateLimitRequests > 0 {
		limiter = newRateLimiter(cfg.RateLimitRequests, cfg.rateLimitWindow(), cfg.TrustXForwardedFor)
	}
	return &server{
		cfg:      cfg,
		pipeline: pipeline,
		store:    store,
		limiter:  limiter,
		prober:   newProber(cfg, newNativeBackend(cfg)),
	}
}

func (s *server) router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(s.rateLimit)
	api.HandleFunc("/search", s.handleSearch).Methods(http.MethodGet)
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/whois", s.handleWhois).Methods(http.MethodGet)
	api.HandleFunc("/history", s.handleHistory).Methods(http.MethodGet)
	api.HandleFunc("/recent", s.handleRecent).Methods(http.MethodGet)
	return router
}

// rateLimit enforces sliding-window admission on every /api route. Admitted
// responses carry the quota headers; rejections answer 429 with Retry-After.
func (s *server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		quota, err := s.limiter.hit(s.limiter.clientKey(r))
		if err != nil {
			var limited *rateLimitError
			if errors.As(err, &limited) {
				w.Header().Set("Retry-After", strconv.Itoa(ceilSeconds(limited.retryAfter)))
			}
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
			return
		}
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(quota.remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.Itoa(ceilSeconds(quota.resetAfter)))
		next.ServeHTTP(w, r)
	})
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Printf("response encode failed: %v", err)
	}
}

// queryDomain validates the domain query parameter, answering 400 before any
// pipeline work begins.
func queryDomain(w http.ResponseWriter, r *http.Request) (string, bool) {
	domain := sanitizeDomain(r.URL.Query().Get("domain"))
	if domain == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid domain"})
		return "", false
	}
	return domain, true
}

// handleSearch streams pipeline events as server-sent events. When the client
// disconnects mid-pass the stream is drained silently so the pass still
// finishes and persists.
func (s *server) handleSearch(w http.ResponseWriter, r *http.Request) {
	domain, ok := queryDomain(w, r)
	if !ok {
		return
	}
	refresh := parseBool(r.URL.Query().Get("refresh"))

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")

	events := s.pipeline.Search(context.Background(), domain, refresh)
	disconnected := false
	for event := range events {
		if disconnected {
			continue
		}
		payload, err := json.Marshal(event)
		if err != nil {
			logger.Printf("event encode failed: %v", err)
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			debugPrint(2, "search stream consumer gone for %s", domain)
			disconnected = true
			continue
		}
		flusher.Flush()
	}
}

// handleStatus probes a single host on demand, resolving it first.
func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	domain, ok := queryDomain(w, r)
	if !ok {
		return
	}
	entry := s.prober.probe(r.Context(), domain, nil, "", false)
	writeJSON(w, http.StatusOK, entry)
}

func (s *server) handleWhois(w http.ResponseWriter, r *http.Request) {
	domain, ok := queryDomain(w, r)
	if !ok {
		return
	}
	result, err := lookupWhois(domain)
	if err != nil || result == nil {
		if err != nil {
			logger.Printf("whois lookup failed for %s: %v", domain, err)
		}
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "whois data not found"})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *server) handleHistory(w http.ResponseWriter, r *http.Request) {
	domain, ok := queryDomain(w, r)
	if !ok {
		return
	}
	entries, meta, err := s.store.LoadSnapshot(domain)
	if err != nil {
		logger.Printf("snapshot load failed for %s: %v", domain, err)
	}
	if entries == nil {
		entries = []Entry{}
	}
	runs, err := s.store.RunsForDomain(domain, s.cfg.PerDomainHistoryLimit)
	if err != nil {
		logger.Printf("run history load failed for %s: %v", domain, err)
	}
	if runs == nil {
		runs = []runSummary{}
	}

	payload := map[string]interface{}{
		"domain":  domain,
		"cached":  nil,
		"total":   len(entries),
		"results": entries,
		"runs":    runs,
	}
	if meta != nil {
		payload["cached"] = meta.CachedAt
		payload["total"] = meta.TotalUnique
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *server) handleRecent(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = parsed
	}
	if limit > s.cfg.RecentScansLimit {
		limit = s.cfg.RecentScansLimit
	}
	runs, err := s.store.RecentRuns(limit)
	if err != nil {
		logger.Printf("recent runs load failed: %v", err)
	}
	if runs == nil {
		runs = []runSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"recent": runs})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "timestamp": nowISO()})
}

func (s *server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":    "subfind",
		"version": version,
		"status":  "ok",
		"features": map[string]bool{
			"history_enabled":   s.store != nil,
			"massdns_available": s.cfg.massdnsPath() != "",
		},
		"rate_limit": map[string]int{
			"requests":       s.cfg.RateLimitRequests,
			"window_seconds": s.cfg.RateLimitWindowSec,
		},
	})
}

func parseBool(value string) bool {
	switch value {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
