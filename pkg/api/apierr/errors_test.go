package apierr

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/neurocodex/codexdb/pkg/core"
)

// ---------------------------------------------------------------------------
// Helper
// ---------------------------------------------------------------------------

// decodeResponse reads an httptest.ResponseRecorder into a Response struct.
func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	return resp
}

// ---------------------------------------------------------------------------
// Write
// ---------------------------------------------------------------------------

func TestWrite_SetsContentType(t *testing.T) {
	rec := httptest.NewRecorder()
	Write(rec, http.StatusBadRequest, CodeBadRequest, "test")

	ct := rec.Header().Get("Content-Type")
	if ct != "application/json" {
		t.Errorf("expected Content-Type 'application/json', got %q", ct)
	}
}

func TestWrite_BodyStructure(t *testing.T) {
	rec := httptest.NewRecorder()
	Write(rec, http.StatusBadRequest, CodeInvalidJSON, "bad json")

	resp := decodeResponse(t, rec)

	if resp.OK {
		t.Error("ok field should be false")
	}
	if resp.Error != "bad json" {
		t.Errorf("expected error 'bad json', got %q", resp.Error)
	}
	if resp.Code != CodeInvalidJSON {
		t.Errorf("expected code %q, got %q", CodeInvalidJSON, resp.Code)
	}
	if resp.Status != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", resp.Status)
	}
	if resp.RequestID != "" {
		t.Errorf("expected no request id, got %q", resp.RequestID)
	}
}

func TestWrite_CarriesRequestID(t *testing.T) {
	rec := httptest.NewRecorder()
	rec.Header().Set(RequestIDHeader, "req-1")
	NotFound(rec, CodeCellNotFound, "no such cell")

	resp := decodeResponse(t, rec)
	if resp.RequestID != "req-1" {
		t.Errorf("expected request id 'req-1', got %q", resp.RequestID)
	}
}

// ---------------------------------------------------------------------------
// Convenience shortcuts
// ---------------------------------------------------------------------------

func TestShortcuts(t *testing.T) {
	tests := []struct {
		name   string
		write  func(http.ResponseWriter)
		status int
		code   string
	}{
		{"method", MethodNotAllowed, http.StatusMethodNotAllowed, CodeMethodNotAllowed},
		{"rate", func(w http.ResponseWriter) { TooManyRequests(w, "") }, http.StatusTooManyRequests, CodeRateLimited},
		{"internal", func(w http.ResponseWriter) { Internal(w, "boom") }, http.StatusInternalServerError, CodeInternalError},
		{"json", InvalidJSON, http.StatusBadRequest, CodeInvalidJSON},
		{"large", func(w http.ResponseWriter) { PayloadTooLarge(w, "") }, http.StatusRequestEntityTooLarge, CodePayloadTooLarge},
		{"cell", CellIDRequired, http.StatusBadRequest, CodeCellIDRequired},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		tt.write(rec)
		if rec.Code != tt.status {
			t.Errorf("%s: expected %d, got %d", tt.name, tt.status, rec.Code)
		}
		if resp := decodeResponse(t, rec); resp.Code != tt.code {
			t.Errorf("%s: expected code %q, got %q", tt.name, tt.code, resp.Code)
		}
	}
}

// ---------------------------------------------------------------------------
// Domain error mapping
// ---------------------------------------------------------------------------

func TestCodeFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{core.NewQueryError(core.MalformedSyntax, "x"), http.StatusBadRequest, CodeInvalidQuery},
		{core.NewQueryError(core.UnknownAttribute, "x"), http.StatusBadRequest, CodeUnknownAttribute},
		{core.NewQueryError(core.InvalidValue, "x"), http.StatusBadRequest, CodeInvalidValue},
		{fmt.Errorf("wrapped: %w", core.NewQueryError(core.UnknownOperator, "x")), http.StatusBadRequest, CodeUnknownOperator},
		{core.NewMotifError("x"), http.StatusBadRequest, CodeInvalidMotif},
		{fmt.Errorf("%w: 999", core.ErrVersionUnavailable), http.StatusNotFound, CodeVersionUnavailable},
		{core.ErrUnknownRootID, http.StatusNotFound, CodeCellNotFound},
		{core.ErrInvalidCellID, http.StatusBadRequest, CodeInvalidCellID},
		{context.DeadlineExceeded, http.StatusServiceUnavailable, CodeTimeout},
		{fmt.Errorf("disk"), http.StatusInternalServerError, CodeInternalError},
	}
	for _, tt := range tests {
		status, code := CodeFor(tt.err)
		if status != tt.status || code != tt.code {
			t.Errorf("%v: expected %d %s, got %d %s", tt.err, tt.status, tt.code, status, code)
		}
	}
}

func TestFromError(t *testing.T) {
	rec := httptest.NewRecorder()
	FromError(rec, core.NewMotifError("node %q exists", "A"))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	resp := decodeResponse(t, rec)
	if resp.Code != CodeInvalidMotif || resp.Error != `node "A" exists` {
		t.Errorf("unexpected envelope %+v", resp)
	}
}

// ---------------------------------------------------------------------------
// Verify all codes are unique
// ---------------------------------------------------------------------------

func TestCodesAreUnique(t *testing.T) {
	codes := []string{
		CodeBadRequest, CodeInvalidJSON, CodePayloadTooLarge, CodeMethodNotAllowed,
		CodeNotFound, CodeInternalError, CodeRateLimited, CodeTimeout,
		CodeInvalidQuery, CodeUnknownAttribute, CodeInvalidValue, CodeUnknownOperator,
		CodeVersionUnavailable, CodeCellIDRequired, CodeInvalidCellID, CodeCellNotFound,
		CodeInvalidMotif,
	}

	seen := make(map[string]bool, len(codes))
	for _, c := range codes {
		if seen[c] {
			t.Errorf("duplicate error code: %q", c)
		}
		seen[c] = true
	}
}
