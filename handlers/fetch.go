package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"mediafetch/internal/cache"
	"mediafetch/models"
	"mediafetch/services/parser"
)

// Processor is the fetch engine surface the handler needs.
type Processor interface {
	Process(ctx context.Context, rec *models.MetadataRecord) error
	CacheAvailable() bool
}

type FetchHandler struct {
	Router    *parser.Router
	Engine    Processor
	Cache     *cache.Cache
	Client    *http.Client
	demoTitle string
}

func NewFetchHandler(router *parser.Router, engine Processor, c *cache.Cache) *FetchHandler {
	return &FetchHandler{
		Router: router,
		Engine: engine,
		Cache:  c,
		Client: &http.Client{Timeout: 30 * time.Second},
	}
}

type fetchRequest struct {
	URL  string `json:"url"`
	Text string `json:"text,omitempty"`
}

type fetchResponse struct {
	Record *models.MetadataRecord `json:"record"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[handler] encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// Fetch parses the submitted link and runs it through the fetch engine. The
// response carries the fully enriched metadata record.
func (h *FetchHandler) Fetch(w http.ResponseWriter, r *http.Request) {
	var req fetchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	rawURL := req.URL
	if rawURL == "" && req.Text != "" {
		links := h.Router.ExtractLinks(req.Text)
		if len(links) == 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("no supported link found in text"))
			return
		}
		rawURL = links[0]
	}
	if rawURL == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("url is required"))
		return
	}

	rec, err := h.Router.Parse(r.Context(), h.Client, rawURL)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	if err := h.Engine.Process(r.Context(), rec); err != nil {
		log.Printf("[handler] process %s: %v", rawURL, err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, fetchResponse{Record: rec})
}

// Health reports liveness plus the cache availability computed at startup.
func (h *FetchHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"cacheAvailable": h.Engine.CacheAvailable(),
	})
}

// CacheStats reports file count and total bytes under the cache root.
func (h *FetchHandler) CacheStats(w http.ResponseWriter, r *http.Request) {
	count, sizeBytes := h.Cache.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"fileCount":   count,
		"totalSizeMb": float64(sizeBytes) / (1 << 20),
	})
}

// ClearCache removes every cached item directory.
func (h *FetchHandler) ClearCache(w http.ResponseWriter, r *http.Request) {
	if err := h.Cache.Clear(); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (h *FetchHandler) Options(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
