// Package handler implements HTTP request handlers
package handler

import (
	"encoding/json"
	"net/http"
)

// APIResponse represents the standard response envelope
type APIResponse struct {
	Code    int         `json:"code"`    // HTTP status code (200, 400, 500, etc.)
	Message string      `json:"message"` // Human-readable message ("Success", error description)
	Data    interface{} `json:"data"`    // Actual payload (can be null)
}

// WriteJSON writes the standard envelope with the given status code
func WriteJSON(w http.ResponseWriter, code int, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(APIResponse{
		Code:    code,
		Message: message,
		Data:    data,
	})
}

// WriteSuccess writes a 200 envelope
func WriteSuccess(w http.ResponseWriter, data interface{}) {
	WriteJSON(w, http.StatusOK, "Success", data)
}

// WriteError writes an error envelope with a null payload
func WriteError(w http.ResponseWriter, code int, message string) {
	WriteJSON(w, code, message, nil)
}
