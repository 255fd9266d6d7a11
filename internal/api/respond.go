package api

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/agrilink/marketplace/internal/apperr"
)

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[API] Failed to encode response: %v", err)
	}
}

// respondError maps err to a status by its kind and tells the client whether
// the same request may be retried. Internal and persistence failures are
// logged and reported without their detail.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		log.Printf("[API] %s %s failed: %v", r.Method, r.URL.Path, err)
		message = "internal server error"
	}
	respondJSON(w, status, errorResponse{Error: message, Code: apperr.CodeOf(err), Retryable: apperr.Retryable(err)})
}

func respondBadRequest(w http.ResponseWriter, message string) {
	respondJSON(w, http.StatusBadRequest, errorResponse{Error: message, Code: "bad_request"})
}
