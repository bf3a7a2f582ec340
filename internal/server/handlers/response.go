// internal/server/handlers/response.go

package handlers

import (
	"encoding/json"
	"log"
	"net/http"
)

// Helper for JSON responses
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("Failed to marshal response"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(response)
}

// Helper for error responses
func respondWithError(w http.ResponseWriter, code int, message string, err error) {
	if err != nil && code >= 500 {
		log.Printf("HTTP %d: %s: %v", code, message, err)
	}

	respondWithJSON(w, code, map[string]string{"error": message})
}
