package api

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// Error codes returned in the "error" field.
const (
	codeBadRequest        = "bad_request"
	codeInvalidRuleSet    = "invalid_rule_set"
	codeNotFound          = "not_found"
	codePersistenceFailed = "persistence_failed"
	codeUnavailable       = "unavailable"
	codeInternal          = "internal_error"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Details any    `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

// decodeBody reads a JSON body into dst, rejecting oversized and malformed
// input. It writes the 400 itself and reports whether decoding succeeded.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}
