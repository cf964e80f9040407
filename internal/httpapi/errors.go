package httpapi

import (
	"encoding/json"
	"net/http"

	"hierfit/pkg/types"
)

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}
