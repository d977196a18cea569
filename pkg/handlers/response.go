package handlers

import (
	"encoding/json"
	"net/http"
)

// apiError is the wire shape of every error the API returns: a stable
// machine-readable code plus a human-readable message.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WriteJSON writes data as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// ErrorResponse writes a JSON error body with the given status.
func ErrorResponse(w http.ResponseWriter, status int, code, message string) error {
	return WriteJSON(w, status, apiError{Error: code, Message: message})
}
