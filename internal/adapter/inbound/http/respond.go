package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/pharmalink/pharmagate/internal/domain/gateway"
)

// errorResponse is the body of every rejection.
type errorResponse struct {
	Success    bool   `json:"success"`
	Error      string `json:"error"`
	Details    any    `json:"details,omitempty"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

// writeJSON writes v with status. Encoding errors are ignored: the header
// is already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a failure body without details.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeRejection writes rej as JSON, adding Retry-After for rate limits.
func writeRejection(w http.ResponseWriter, rej *gateway.Rejection) {
	body := errorResponse{Error: rej.Message, RetryAfter: rej.RetryAfter}
	if rej.Details != "" {
		body.Details = rej.Details
	}
	if rej.Kind == gateway.KindRateLimitExceeded {
		w.Header().Set("Retry-After", strconv.Itoa(rej.RetryAfter))
	}
	writeJSON(w, rej.Status(), body)
}
