package server

import (
	"encoding/json"
	"net/http"
)

// writeMiddlewareError normalises middleware error responses to a small
// JSON shape shared by every middleware in the chain.
func writeMiddlewareError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: message})
}
