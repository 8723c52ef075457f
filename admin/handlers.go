package admin

import (
	"encoding/json"
	"net/http"

	"github.com/maxpert/catalogbridge/publisher"
	"github.com/rs/zerolog/log"
)

// StatusProvider reports publish loop status
type StatusProvider interface {
	Status() publisher.Status
}

// Handlers serves the read-only ops endpoints
type Handlers struct {
	loop StatusProvider
}

// NewHandlers creates a new Handlers instance
func NewHandlers(loop StatusProvider) *Handlers {
	return &Handlers{loop: loop}
}

// handleHealth returns 503 once the loop has stopped on a fatal error
func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := h.loop.Status()
	if status.State == publisher.StateFailed.String() {
		writeErrorResponse(w, http.StatusServiceUnavailable, status.LastError)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"state":  status.State,
	})
}

// handleStatus returns the loop status, last cycle and delivery counters
func (h *Handlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := h.loop.Status()

	writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"data":      status,
		"in_flight": status.Deliveries.InFlight(),
	})
}

// writeJSONResponse writes a JSON response with the given status code
func writeJSONResponse(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error JSON response
func writeErrorResponse(w http.ResponseWriter, code int, message string) {
	writeJSONResponse(w, code, map[string]interface{}{
		"error": message,
	})
}
