// Package httputil holds the small JSON response helpers shared by the HTTP
// handlers and the HTTP client abstraction used by the accessor client.
package httputil

import (
	"encoding/json"
	"log"
	"net/http"
)

// Status values of the accessor API.
const (
	StatusOK              = "ok"
	StatusParseFailed     = "failed to parse json"
	StatusValidationError = "validation error"
)

// StatusResponse is the body of every mutating accessor call.
type StatusResponse struct {
	Status string `json:"status"`
}

// WriteStatus writes {"status": status} with the given code.
func WriteStatus(w http.ResponseWriter, code int, status string) {
	WriteJSON(w, code, StatusResponse{Status: status})
}

// WriteJSONError writes a JSON error response with the given status code and message.
func WriteJSONError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, map[string]string{"error": msg})
}

// WriteJSON writes a JSON response with the given status code and data.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("failed to encode json response: %v", err)
	}
}

// WriteJSONOK writes a successful JSON response (200 OK).
func WriteJSONOK(w http.ResponseWriter, data interface{}) {
	WriteJSON(w, http.StatusOK, data)
}

// MethodNotAllowed writes a 405 Method Not Allowed response.
func MethodNotAllowed(w http.ResponseWriter) {
	WriteJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// InternalServerError writes a 500 Internal Server Error response.
func InternalServerError(w http.ResponseWriter, msg string) {
	WriteJSONError(w, http.StatusInternalServerError, msg)
}

// NotFound writes a 404 Not Found response.
func NotFound(w http.ResponseWriter, msg string) {
	WriteJSONError(w, http.StatusNotFound, msg)
}
