package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"mediafetch/handlers"
)

// corsMiddleware handles CORS for API routes
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		// Handle preflight requests
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Register mounts API endpoints onto the provided router.
func Register(r *mux.Router, fetchHandler *handlers.FetchHandler) {
	api := r.PathPrefix("/api").Subrouter()
	api.Use(corsMiddleware)

	api.HandleFunc("/fetch", fetchHandler.Fetch).Methods(http.MethodPost)
	api.HandleFunc("/fetch", fetchHandler.Options).Methods(http.MethodOptions)
	api.HandleFunc("/fetch/health", fetchHandler.Health).Methods(http.MethodGet)
	api.HandleFunc("/fetch/health", fetchHandler.Options).Methods(http.MethodOptions)

	api.HandleFunc("/cache/stats", fetchHandler.CacheStats).Methods(http.MethodGet)
	api.HandleFunc("/cache/stats", fetchHandler.Options).Methods(http.MethodOptions)
	api.HandleFunc("/cache/clear", fetchHandler.ClearCache).Methods(http.MethodPost)
	api.HandleFunc("/cache/clear", fetchHandler.Options).Methods(http.MethodOptions)
}
