// Package handlers provides HTTP handlers for the ckptfs control API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/marmos91/ckptfs/pkg/controlplane/runtime"
	fserrors "github.com/marmos91/ckptfs/pkg/memfs/errors"
	"github.com/marmos91/ckptfs/pkg/ufs"
)

// Problem represents an RFC 7807 "problem details" response.
// https://tools.ietf.org/html/rfc7807
type Problem struct {
	// Type is a URI reference that identifies the problem type.
	// If not set, defaults to "about:blank".
	Type string `json:"type,omitempty"`

	// Title is a short, human-readable summary of the problem type.
	Title string `json:"title"`

	// Status is the HTTP status code for this occurrence of the problem.
	Status int `json:"status"`

	// Detail is a human-readable explanation specific to this occurrence.
	Detail string `json:"detail,omitempty"`

	// Code is the memfs error code name, when the problem came from memfs.
	Code string `json:"code,omitempty"`
}

// ContentTypeProblemJSON is the Content-Type for RFC 7807 problem responses.
const ContentTypeProblemJSON = "application/problem+json"

// WriteProblem writes an RFC 7807 problem response.
func WriteProblem(w http.ResponseWriter, status int, title, detail string) {
	writeProblem(w, &Problem{
		Type:   "about:blank",
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

func writeProblem(w http.ResponseWriter, p *Problem) {
	w.Header().Set("Content-Type", ContentTypeProblemJSON)
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// Common problem helper functions for standard HTTP errors.

// BadRequest writes a 400 Bad Request problem response.
func BadRequest(w http.ResponseWriter, detail string) {
	WriteProblem(w, http.StatusBadRequest, "Bad Request", detail)
}

// NotFound writes a 404 Not Found problem response.
func NotFound(w http.ResponseWriter, detail string) {
	WriteProblem(w, http.StatusNotFound, "Not Found", detail)
}

// Conflict writes a 409 Conflict problem response.
func Conflict(w http.ResponseWriter, detail string) {
	WriteProblem(w, http.StatusConflict, "Conflict", detail)
}

// InternalServerError writes a 500 Internal Server Error problem response.
func InternalServerError(w http.ResponseWriter, detail string) {
	WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", detail)
}

// ServiceUnavailable writes a 503 Service Unavailable problem response.
func ServiceUnavailable(w http.ResponseWriter, detail string) {
	WriteProblem(w, http.StatusServiceUnavailable, "Service Unavailable", detail)
}

// WriteError maps err to a problem response. memfs error codes keep their
// name in the Code field so clients can tell ENOSPC from EBUSY.
func WriteError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	p := &Problem{
		Type:   "about:blank",
		Title:  http.StatusText(status),
		Status: status,
		Detail: err.Error(),
	}
	if code := fserrors.CodeOf(err); code != 0 {
		p.Code = code.String()
	}
	writeProblem(w, p)
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, runtime.ErrTargetNotFound):
		return http.StatusNotFound
	case errors.Is(err, runtime.ErrSuspended):
		return http.StatusConflict
	}
	switch fserrors.CodeOf(err) {
	case fserrors.ErrNotFound:
		return http.StatusNotFound
	case fserrors.ErrAlreadyExists, fserrors.ErrBusy, fserrors.ErrStale, fserrors.ErrNotEmpty:
		return http.StatusConflict
	case fserrors.ErrNameTooLong, fserrors.ErrInvalidArgument, fserrors.ErrIsDirectory, fserrors.ErrNotDirectory:
		return http.StatusBadRequest
	case fserrors.ErrPermissionDenied:
		return http.StatusForbidden
	case fserrors.ErrNoSpace, fserrors.ErrTooManyOpenFiles:
		return http.StatusInsufficientStorage
	case fserrors.ErrNotInitialized:
		return http.StatusServiceUnavailable
	}
	if ufs.IsNotExist(err) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteJSONOK writes a 200 OK JSON response.
func WriteJSONOK(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusOK, data)
}

// WriteNoContent writes a 204 No Content response.
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
