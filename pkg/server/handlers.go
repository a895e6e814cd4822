package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/peerdash/peerdash/pkg/bandwidth"
	"github.com/peerdash/peerdash/pkg/httpx"
	"github.com/peerdash/peerdash/pkg/ingest"
	"github.com/peerdash/peerdash/pkg/server/monitor"
	"github.com/peerdash/peerdash/pkg/storage"
)

var startTime = time.Now()

// StorageUsage represents current storage usage stats.
type StorageUsage struct {
	UsedBytes int64 `json:"used_bytes"`
	MaxBytes  int64 `json:"max_bytes"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status string              `json:"status"`
	Uptime string              `json:"uptime"`
	Sweep  monitor.SweepStatus `json:"sweep"`
}

// handleHealth returns service health status.
func handleHealth(sweepMonitor *monitor.SweepMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "healthy"
		statusCode := http.StatusOK
		if !sweepMonitor.IsHealthy() {
			status = "degraded"
			statusCode = http.StatusServiceUnavailable
		}

		httpx.RespondJSON(w, statusCode, HealthResponse{
			Status: status,
			Uptime: time.Since(startTime).String(),
			Sweep:  sweepMonitor.Status(),
		})
	}
}

// handleStorageUsage returns current on-disk usage.
func handleStorageUsage(storageMonitor *monitor.StorageMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		usedBytes, err := storageMonitor.GetUsage()
		if err != nil {
			httpx.RespondError(w, http.StatusInternalServerError, err)
			return
		}
		httpx.RespondJSON(w, http.StatusOK, StorageUsage{
			UsedBytes: usedBytes,
			MaxBytes:  storageMonitor.GetLimit(),
		})
	}
}

// handleStats returns sample-store statistics.
func handleStats(store storage.Storage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()

		stats, err := store.Stats(ctx)
		if err != nil {
			httpx.RespondError(w, http.StatusInternalServerError, err)
			return
		}
		httpx.RespondJSON(w, http.StatusOK, stats)
	}
}

// SetupRoutes configures all HTTP routes for the server.
func SetupRoutes(
	router *mux.Router,
	queryHandler *bandwidth.Handler,
	ingestHandler *ingest.Handler,
	store storage.Storage,
	storageMonitor *monitor.StorageMonitor,
	sweepMonitor *monitor.SweepMonitor,
	port string,
) {
	router.Use(corsMiddleware(port))

	api := router.PathPrefix("/v1").Subrouter()

	// Ingestion and registry hand-off
	api.HandleFunc("/tick", ingestHandler.HandleTick).Methods("POST")
	api.HandleFunc("/adopt", queryHandler.HandleAdopt).Methods("POST")
	api.HandleFunc("/cleanup", queryHandler.HandleCleanup).Methods("POST")

	// Bandwidth queries
	api.HandleFunc("/bandwidth/aggregate", queryHandler.HandleAggregate).Methods("GET")
	api.HandleFunc("/bandwidth/totals", queryHandler.HandleTotals).Methods("GET")
	api.HandleFunc("/bandwidth/peaks", queryHandler.HandlePeaks).Methods("GET")

	// Operational endpoints
	api.HandleFunc("/stats", handleStats(store)).Methods("GET")
	api.HandleFunc("/storage", handleStorageUsage(storageMonitor)).Methods("GET")
	api.HandleFunc("/health", handleHealth(sweepMonitor)).Methods("GET")

	// WebSocket for live tick streaming
	api.HandleFunc("/ws", ingestHandler.HandleWebSocket).Methods("GET")
}

// corsMiddleware creates CORS middleware that restricts to localhost origins only.
func corsMiddleware(port string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowedOrigins := []string{
				"http://localhost:" + port,
				"http://127.0.0.1:" + port,
			}

			allowed := false
			for _, allowedOrigin := range allowedOrigins {
				if origin == allowedOrigin {
					allowed = true
					break
				}
			}

			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			}

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
