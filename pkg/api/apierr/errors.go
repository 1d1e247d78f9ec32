// Package apierr provides the error response format of the codexdb HTTP API.
//
// Every error response uses the same JSON envelope:
//
//	{
//	  "ok":         false,
//	  "error":      "human-readable description",
//	  "code":       "MACHINE_READABLE_CODE",
//	  "status":     400,
//	  "request_id": "7d1c..."
//	}
//
// Clients branch on "code" and show "error" to humans.
package apierr

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/neurocodex/codexdb/pkg/core"
)

// RequestIDHeader carries the per-request id set by the server middleware.
const RequestIDHeader = "X-Request-ID"

// ---------------------------------------------------------------------------
// Error codes. These are part of the public API contract: adding codes is
// safe, renaming or removing one is a breaking change.
// ---------------------------------------------------------------------------

const (
	// General
	CodeBadRequest       = "BAD_REQUEST"
	CodeInvalidJSON      = "INVALID_JSON"
	CodePayloadTooLarge  = "PAYLOAD_TOO_LARGE"
	CodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	CodeNotFound         = "NOT_FOUND"
	CodeInternalError    = "INTERNAL_ERROR"
	CodeRateLimited      = "RATE_LIMITED"
	CodeTimeout          = "TIMEOUT"

	// Query language
	CodeInvalidQuery     = "INVALID_QUERY"
	CodeUnknownAttribute = "UNKNOWN_ATTRIBUTE"
	CodeInvalidValue     = "INVALID_VALUE"
	CodeUnknownOperator  = "UNKNOWN_OPERATOR"

	// Dataset domain
	CodeVersionUnavailable = "VERSION_UNAVAILABLE"
	CodeCellIDRequired     = "CELL_ID_REQUIRED"
	CodeInvalidCellID      = "INVALID_CELL_ID"
	CodeCellNotFound       = "CELL_NOT_FOUND"
	CodeInvalidMotif       = "INVALID_MOTIF"
)

// ---------------------------------------------------------------------------
// Response type
// ---------------------------------------------------------------------------

// Response is the standard error envelope returned to API clients.
type Response struct {
	OK        bool   `json:"ok"`
	Error     string `json:"error"`
	Code      string `json:"code"`
	Status    int    `json:"status"`
	RequestID string `json:"request_id,omitempty"`
}

// Write serialises an error Response and writes it to w with the given
// status. The request id is taken from the response headers when the
// middleware set one.
func Write(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(Response{
		OK:        false,
		Error:     message,
		Code:      code,
		Status:    status,
		RequestID: w.Header().Get(RequestIDHeader),
	})
}

// BadRequest writes a 400 response with the given code and message.
func BadRequest(w http.ResponseWriter, code, msg string) {
	Write(w, http.StatusBadRequest, code, msg)
}

// NotFound writes a 404 response.
func NotFound(w http.ResponseWriter, code, msg string) {
	Write(w, http.StatusNotFound, code, msg)
}

// MethodNotAllowed writes a 405 response.
func MethodNotAllowed(w http.ResponseWriter) {
	Write(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "method not allowed")
}

// TooManyRequests writes a 429 response.
func TooManyRequests(w http.ResponseWriter, msg string) {
	if msg == "" {
		msg = "too many requests"
	}
	Write(w, http.StatusTooManyRequests, CodeRateLimited, msg)
}

// Internal writes a 500 response.
func Internal(w http.ResponseWriter, msg string) {
	Write(w, http.StatusInternalServerError, CodeInternalError, msg)
}

// InvalidJSON writes a 400 response for malformed request bodies.
func InvalidJSON(w http.ResponseWriter) {
	BadRequest(w, CodeInvalidJSON, "invalid JSON in request body")
}

// PayloadTooLarge writes a 413 response when the body exceeds the limit.
func PayloadTooLarge(w http.ResponseWriter, msg string) {
	if msg == "" {
		msg = "payload too large"
	}
	Write(w, http.StatusRequestEntityTooLarge, CodePayloadTooLarge, msg)
}

// CellIDRequired writes a 400 response when a cell id is missing.
func CellIDRequired(w http.ResponseWriter) {
	BadRequest(w, CodeCellIDRequired, "cell id required in path")
}

// ---------------------------------------------------------------------------
// Domain error mapping
// ---------------------------------------------------------------------------

// CodeFor returns the status and code an error maps to.
func CodeFor(err error) (int, string) {
	var qe *core.QueryError
	switch {
	case errors.As(err, &qe):
		switch qe.Kind {
		case core.UnknownAttribute:
			return http.StatusBadRequest, CodeUnknownAttribute
		case core.InvalidValue:
			return http.StatusBadRequest, CodeInvalidValue
		case core.UnknownOperator:
			return http.StatusBadRequest, CodeUnknownOperator
		}
		return http.StatusBadRequest, CodeInvalidQuery
	case errors.Is(err, core.ErrInvalidQuery):
		return http.StatusBadRequest, CodeInvalidQuery
	case errors.Is(err, core.ErrInvalidMotif):
		return http.StatusBadRequest, CodeInvalidMotif
	case errors.Is(err, core.ErrInvalidCellID):
		return http.StatusBadRequest, CodeInvalidCellID
	case errors.Is(err, core.ErrUnknownRootID):
		return http.StatusNotFound, CodeCellNotFound
	case errors.Is(err, core.ErrVersionUnavailable):
		return http.StatusNotFound, CodeVersionUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, CodeTimeout
	}
	return http.StatusInternalServerError, CodeInternalError
}

// FromError writes the envelope an error maps to.
func FromError(w http.ResponseWriter, err error) {
	status, code := CodeFor(err)
	Write(w, status, code, err.Error())
}
