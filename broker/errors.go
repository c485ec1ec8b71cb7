package broker

import "net/http"

// APIError is the broker's HTTP-edge error taxonomy (§7): every JSON error
// body carries a short Tag and a human-readable Message.
type APIError struct {
	Status  int
	Tag     string
	Message string
}

func (e *APIError) Error() string { return e.Message }

// NewValidationError builds a 400 Validation error.
func NewValidationError(message string) *APIError {
	return &APIError{Status: http.StatusBadRequest, Tag: "Validation", Message: message}
}

// NewAuthError builds a 401 Auth error.
func NewAuthError(message string) *APIError {
	return &APIError{Status: http.StatusUnauthorized, Tag: "Unauthorized", Message: message}
}

// NewOriginError builds a 403 Origin error.
func NewOriginError(message string) *APIError {
	return &APIError{Status: http.StatusForbidden, Tag: "Forbidden", Message: message}
}

// NewLookupError builds a 404 Lookup error.
func NewLookupError(message string) *APIError {
	return &APIError{Status: http.StatusNotFound, Tag: "NotFound", Message: message}
}

// NewUpstreamError builds a 500 Upstream error whose message carries the
// captured transport error text verbatim.
func NewUpstreamError(message string) *APIError {
	return &APIError{Status: http.StatusInternalServerError, Tag: "UpstreamError", Message: message}
}

// NewInternalError builds a 500 Internal error (e.g. KV read/write failure
// other than ENOENT).
func NewInternalError(message string) *APIError {
	return &APIError{Status: http.StatusInternalServerError, Tag: "InternalError", Message: message}
}
