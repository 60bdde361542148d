package apiclient

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// APIError is an error response from the API. The server answers with RFC
// 7807 problem documents; health endpoints answer with {status, error}.
type APIError struct {
	StatusCode int    `json:"status"`
	Title      string `json:"title,omitempty"`
	Detail     string `json:"detail,omitempty"`

	// Code is the memfs error code name, e.g. "NoSpace" or "Busy".
	Code string `json:"code,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	msg := e.Detail
	if msg == "" {
		msg = e.Title
	}
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, msg)
	}
	return msg
}

// IsNotFound returns true if this is a not found error.
func (e *APIError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// IsConflict returns true for busy, suspended and already-exists errors.
func (e *APIError) IsConflict() bool {
	return e.StatusCode == http.StatusConflict
}

// IsNoSpace returns true when memfs ran out of blocks or descriptors.
func (e *APIError) IsNoSpace() bool {
	return e.StatusCode == http.StatusInsufficientStorage
}

// IsUnavailable returns true when the server is not ready.
func (e *APIError) IsUnavailable() bool {
	return e.StatusCode == http.StatusServiceUnavailable
}

func parseError(status int, body []byte) error {
	var apiErr APIError
	if json.Unmarshal(body, &apiErr) == nil && (apiErr.Detail != "" || apiErr.Title != "") {
		apiErr.StatusCode = status
		return &apiErr
	}

	var health struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &health) == nil && health.Error != "" {
		return &APIError{StatusCode: status, Detail: health.Error}
	}

	return &APIError{StatusCode: status, Detail: string(body)}
}
