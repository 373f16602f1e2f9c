package api

import (
	"net/http"
	"strconv"

	"github.com/vaidashi/storefront-sync/internal/audit"
)

// getAuditLogHandler returns the newest audit entries, ?limit= of them
func (s *Server) getAuditLogHandler(w http.ResponseWriter, r *http.Request) {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit < 1 {
		limit = audit.DefaultLimit
	}

	entries, err := s.deps.Audit.List(r.Context(), limit)
	if err != nil {
		s.respondWithAppError(w, err, "Failed to fetch audit log")
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: entries})
}

// getCarrierBreakerHandler returns the state of the carrier API circuit breaker
func (s *Server) getCarrierBreakerHandler(w http.ResponseWriter, r *http.Request) {
	if s.deps.CarrierBreaker == nil {
		s.respondWithError(w, http.StatusNotFound, "No carrier API configured")
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: s.deps.CarrierBreaker.GetMetrics()})
}

// resetCarrierBreakerHandler closes the carrier API circuit breaker
func (s *Server) resetCarrierBreakerHandler(w http.ResponseWriter, r *http.Request) {
	if s.deps.CarrierBreaker == nil {
		s.respondWithError(w, http.StatusNotFound, "No carrier API configured")
		return
	}

	s.deps.CarrierBreaker.Reset()

	s.respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data: map[string]string{
			"message": "Circuit breaker reset successfully",
		},
	})
}
