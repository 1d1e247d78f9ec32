package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	lastConnections ConnectionsArgs
	lastMotif       MotifArgs
	lastPathways    []any
}

func (f *fakeBackend) Search(_ context.Context, version, query string, cs, wm bool, limit int) (any, error) {
	return map[string]any{"version": version, "query": query, "case_sensitive": cs, "limit": limit}, nil
}

func (f *fakeBackend) Cell(_ context.Context, version, id string) (any, error) {
	if id == "404" {
		return nil, errors.New("unknown root id: 404")
	}
	return map[string]any{"id": id}, nil
}

func (f *fakeBackend) Connections(_ context.Context, args ConnectionsArgs) (any, error) {
	f.lastConnections = args
	return map[string]any{"total": 0}, nil
}

func (f *fakeBackend) Pathways(_ context.Context, version, source, target string, minSyn int) (any, error) {
	f.lastPathways = []any{version, source, target, minSyn}
	return map[string]any{"found": true}, nil
}

func (f *fakeBackend) MotifSearch(_ context.Context, args MotifArgs) (any, error) {
	f.lastMotif = args
	return map[string]any{"matches": []any{}}, nil
}

func (f *fakeBackend) Versions(context.Context) (any, error) {
	return map[string]any{"default": "783"}, nil
}

type toolResponse struct {
	Result struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		IsError bool `json:"isError"`
	} `json:"result"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func callTool(t *testing.T, cfg Config, backend Backend, name string, args map[string]any) toolResponse {
	t.Helper()
	s, err := newServer(cfg, backend)
	require.NoError(t, err)

	msg, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params":  map[string]any{"name": name, "arguments": args},
	})
	require.NoError(t, err)

	raw, err := json.Marshal(s.HandleMessage(context.Background(), msg))
	require.NoError(t, err)
	var resp toolResponse
	require.NoError(t, json.Unmarshal(raw, &resp), string(raw))
	return resp
}

func payload(t *testing.T, resp toolResponse) map[string]any {
	t.Helper()
	require.Nil(t, resp.Error)
	require.False(t, resp.Result.IsError, resp.Result.Content)
	require.Len(t, resp.Result.Content, 2)
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(resp.Result.Content[1].Text), &out))
	return out
}

func TestSearchTool(t *testing.T) {
	resp := callTool(t, Config{}, &fakeBackend{}, toolSearch, map[string]any{
		"query": "dsx", "version": "630", "case_sensitive": true,
	})
	out := payload(t, resp)
	assert.Equal(t, "dsx", out["query"])
	assert.Equal(t, "630", out["version"])
	assert.Equal(t, true, out["case_sensitive"])
	assert.EqualValues(t, 50, out["limit"])
}

func TestCellToolErrors(t *testing.T) {
	resp := callTool(t, Config{}, &fakeBackend{}, toolCell, map[string]any{})
	assert.True(t, resp.Result.IsError)
	assert.Contains(t, resp.Result.Content[0].Text, "id is required")

	resp = callTool(t, Config{}, &fakeBackend{}, toolCell, map[string]any{"id": "404"})
	assert.True(t, resp.Result.IsError)
	assert.Contains(t, resp.Result.Content[0].Text, "unknown root id")
}

func TestConnectionsToolArguments(t *testing.T) {
	fb := &fakeBackend{}
	resp := callTool(t, Config{}, fb, toolConnections, map[string]any{
		"ids": "1,2", "induced": true, "nt_type": "ACH, gaba", "region": "LH_L", "min_syn_count": 3,
	})
	payload(t, resp)
	assert.Equal(t, "1,2", fb.lastConnections.IDs)
	assert.True(t, fb.lastConnections.Induced)
	assert.Equal(t, []string{"ACH", "gaba"}, fb.lastConnections.NTTypes)
	assert.Equal(t, []string{"LH_L"}, fb.lastConnections.Regions)
	assert.Equal(t, 3, fb.lastConnections.MinSynCount)

	resp = callTool(t, Config{}, fb, toolConnections, map[string]any{})
	assert.True(t, resp.Result.IsError)
}

func TestPathwaysToolDefaultsThreshold(t *testing.T) {
	fb := &fakeBackend{}
	payload(t, callTool(t, Config{}, fb, toolPathways, map[string]any{"source": "1", "target": "2"}))
	assert.Equal(t, []any{"", "1", "2", -1}, fb.lastPathways)
}

func TestMotifToolNeedsInput(t *testing.T) {
	fb := &fakeBackend{}
	resp := callTool(t, Config{}, fb, toolMotifSearch, map[string]any{})
	assert.True(t, resp.Result.IsError)

	payload(t, callTool(t, Config{}, fb, toolMotifSearch, map[string]any{"form": `{"queryA":"dsx"}`, "limit": 5}))
	assert.JSONEq(t, `{"queryA":"dsx"}`, string(fb.lastMotif.Form))
	assert.Nil(t, fb.lastMotif.Sketch)
	assert.Equal(t, 5, fb.lastMotif.Limit)
}

func TestAllowedToolsRestrictsRegistration(t *testing.T) {
	resp := callTool(t, Config{AllowedTools: []string{toolVersions}}, &fakeBackend{}, toolSearch, map[string]any{"query": "x"})
	require.True(t, resp.Error != nil || resp.Result.IsError)

	out := payload(t, callTool(t, Config{AllowedTools: []string{toolVersions}}, &fakeBackend{}, toolVersions, nil))
	assert.Equal(t, "783", out["default"])
}

func TestNewHandlerRequiresBackend(t *testing.T) {
	_, err := NewHandler(Config{}, nil)
	assert.Error(t, err)
}

func TestAPIKeyMiddleware(t *testing.T) {
	h := apiKeyMiddleware("secret", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		header, value string
		want          int
	}{
		{"", "", http.StatusUnauthorized},
		{"X-API-Key", "wrong", http.StatusUnauthorized},
		{"X-API-Key", "secret", http.StatusNoContent},
		{"Authorization", "Bearer secret", http.StatusNoContent},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
		if tt.header != "" {
			req.Header.Set(tt.header, tt.value)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, tt.want, rec.Code, tt.header+" "+tt.value)
	}
}

func TestRateLimitPerClient(t *testing.T) {
	rl := newRateLimiter(0.001, 2)
	assert.True(t, rl.allow("a"))
	assert.True(t, rl.allow("a"))
	assert.False(t, rl.allow("a"))
	assert.True(t, rl.allow("b"))

	h := rateLimitMiddleware(newRateLimiter(0.001, 1), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}
