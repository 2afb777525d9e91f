package api

import (
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

// SetupRouter creates and configures the HTTP router, the same flat
// mux.Router + subrouter shape the teacher uses.
func SetupRouter(h *Handler) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", h.HealthCheck).Methods("GET")
	r.HandleFunc("/api/health", h.HealthCheck).Methods("GET")
	r.Handle("/metrics", h.metrics.Handler()).Methods("GET")

	// Signal detection
	r.HandleFunc("/api/analytics/signals/advanced", h.DetectAdvanced).Methods("POST")
	r.HandleFunc("/api/analytics/signals", h.DetectSimple).Methods("GET")
	r.HandleFunc("/api/analytics/signals/jobs", h.SubmitDetectJob).Methods("POST")
	r.HandleFunc("/api/analytics/signals/jobs/{id}", h.GetDetectJob).Methods("GET")
	r.HandleFunc("/api/analytics/signals/thresholds", h.GetDefaultThresholds).Methods("GET")
	r.HandleFunc("/api/analytics/signals/logs", h.GetSignalLogs).Methods("GET")

	// Entity group management
	groupsRouter := r.PathPrefix("/api/entity-groups").Subrouter()
	groupsRouter.HandleFunc("", h.ListEntityGroups).Methods("GET")
	groupsRouter.HandleFunc("", h.CreateEntityGroup).Methods("POST")
	groupsRouter.HandleFunc("/suggest-name", h.SuggestGroupName).Methods("GET")
	groupsRouter.HandleFunc("/available-entities", h.AvailableEntities).Methods("GET")
	groupsRouter.HandleFunc("/{id}", h.UpdateEntityGroup).Methods("PUT")
	groupsRouter.HandleFunc("/{id}", h.DeleteEntityGroup).Methods("DELETE")
	groupsRouter.HandleFunc("/{id}/activate", h.ActivateEntityGroup).Methods("POST")
	groupsRouter.HandleFunc("/{id}/deactivate", h.DeactivateEntityGroup).Methods("POST")

	// Data management
	r.HandleFunc("/api/ingest", h.IngestData).Methods("POST")
	r.HandleFunc("/api/mart/refresh", h.RefreshMart).Methods("POST")
	r.HandleFunc("/api/mart/stats", h.GetMartStats).Methods("GET")

	// Config
	r.HandleFunc("/api/config", h.GetConfig).Methods("GET")
	r.HandleFunc("/api/config", h.UpdateConfig).Methods("PUT")

	return r
}

// CORSMiddleware adds CORS headers.
func CORSMiddleware() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return handlers.CORS(
			handlers.AllowedOrigins([]string{"*"}),
			handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
			handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		)(next)
	}
}

// LoggingMiddleware logs HTTP requests.
func LoggingMiddleware() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			duration := time.Since(start)
			println(
				time.Now().Format("2006-01-02 15:04:05"),
				r.Method,
				r.RequestURI,
				wrapped.statusCode,
				duration.String(),
			)
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush implements http.Flusher.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
