package server

import (
	"encoding/json"
	"net/http"

	"github.com/viant/mcp-broker/broker"
)

// errorBody is the JSON shape every error response carries (§7): a short
// tag and a human-readable message.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// writeJSONError writes err as a JSON error body with the matching HTTP
// status. Any error is accepted; non-*broker.APIError values are treated as
// unclassified internal errors.
func writeJSONError(w http.ResponseWriter, err error) {
	apiErr, ok := err.(*broker.APIError)
	if !ok {
		apiErr = broker.NewInternalError(err.Error())
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.Status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: apiErr.Tag, Message: apiErr.Message})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
