package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurocodex/codexdb/pkg/api"
)

type recorded struct {
	method, path string
	query        url.Values
	version      string
}

func newTestCLI(t *testing.T, status int, body string) (*cli, *[]recorded, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	var reqs []recorded
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	c := &cli{
		handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqs = append(reqs, recorded{r.Method, r.URL.Path, r.URL.Query(), r.Header.Get(api.VersionHeader)})
			w.WriteHeader(status)
			w.Write([]byte(body))
		}),
		out:    out,
		errOut: errOut,
	}
	return c, &reqs, out, errOut
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		line string
		want []string
	}{
		{"search dsx", []string{"search", "dsx"}},
		{`search "super_class == optic" --limit 5`, []string{"search", "super_class == optic", "--limit", "5"}},
		{`motif queryA='DNa02' queryB="nt_type == GABA"`, []string{"motif", "queryA=DNa02", "queryB=nt_type == GABA"}},
		{"  \t ", nil},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tokenize(tt.line), tt.line)
	}
}

func TestApplyOptions(t *testing.T) {
	q := url.Values{}
	applyOptions(q, []string{"--nt", "GABA", "--induced", "--nt", "ACH", "--min-syn", "3", "--min-syn", "4", "--bogus"},
		map[string]string{"--nt": "nt_type", "--min-syn": "min_syn_count"},
		map[string][2]string{"--induced": {"induced", "true"}})

	assert.Equal(t, "GABA,ACH", q.Get("nt_type"))
	assert.Equal(t, "4", q.Get("min_syn_count"))
	assert.Equal(t, "true", q.Get("induced"))
}

func TestSplitPositional(t *testing.T) {
	pos, rest := splitPositional([]string{"1", "2", "--upstream", "3"})
	assert.Equal(t, []string{"1", "2"}, pos)
	assert.Equal(t, []string{"--upstream", "3"}, rest)
}

func TestDispatchBuildsRequests(t *testing.T) {
	c, reqs, out, _ := newTestCLI(t, http.StatusOK, `{"ok":true}`)

	assert.False(t, dispatchREPL(c, `\version 630`))
	assert.False(t, dispatchREPL(c, "search dsx --limit 5 --word-match"))
	assert.False(t, dispatchREPL(c, "connections 10 11 --induced --region LH_L"))
	assert.False(t, dispatchREPL(c, "pathways 1 2 --min-syn 0"))
	assert.False(t, dispatchREPL(c, "reach 1 --upstream"))
	assert.False(t, dispatchREPL(c, "distance 1,2 3"))
	assert.False(t, dispatchREPL(c, "motif queryA=DNa02 enabledAB=on"))
	assert.False(t, dispatchREPL(c, "cell 720575940000000001"))

	require.Len(t, *reqs, 7)
	r := *reqs
	for _, req := range r {
		assert.Equal(t, "630", req.version)
		assert.Equal(t, http.MethodGet, req.method)
	}

	assert.Equal(t, "/v1/search", r[0].path)
	assert.Equal(t, "dsx", r[0].query.Get("q"))
	assert.Equal(t, "5", r[0].query.Get("limit"))
	assert.Equal(t, "true", r[0].query.Get("word_match"))

	assert.Equal(t, "/v1/connections", r[1].path)
	assert.Equal(t, "10,11", r[1].query.Get("ids"))
	assert.Equal(t, "true", r[1].query.Get("induced"))
	assert.Equal(t, "LH_L", r[1].query.Get("region"))

	assert.Equal(t, "/v1/pathways", r[2].path)
	assert.Equal(t, "0", r[2].query.Get("min_syn_count"))

	assert.Equal(t, "/v1/reachable", r[3].path)
	assert.Equal(t, "upstream", r[3].query.Get("direction"))

	assert.Equal(t, "/v1/distance-matrix", r[4].path)
	assert.Equal(t, "1,2", r[4].query.Get("sources"))
	assert.Equal(t, "3", r[4].query.Get("targets"))

	assert.Equal(t, "/v1/motifs", r[5].path)
	assert.Equal(t, "DNa02", r[5].query.Get("queryA"))

	assert.Equal(t, "/v1/cells/720575940000000001", r[6].path)

	assert.Contains(t, out.String(), "switched to version: 630")
	assert.Contains(t, out.String(), `"ok": true`)
}

func TestDispatchUsageErrors(t *testing.T) {
	c, reqs, _, errOut := newTestCLI(t, http.StatusOK, `{}`)

	dispatchREPL(c, "cell")
	dispatchREPL(c, "pathways 1")
	dispatchREPL(c, "connections --induced")
	dispatchREPL(c, "motif queryA")
	dispatchREPL(c, "frobnicate")

	assert.Empty(t, *reqs)
	assert.Contains(t, errOut.String(), "usage: cell")
	assert.Contains(t, errOut.String(), "usage: pathways")
	assert.Contains(t, errOut.String(), "usage: connections")
	assert.Contains(t, errOut.String(), "key=value")
	assert.Contains(t, errOut.String(), `unknown command "frobnicate"`)
}

func TestErrorStatusIsReported(t *testing.T) {
	c, _, _, errOut := newTestCLI(t, http.StatusNotFound, `{"ok":false,"code":"CELL_NOT_FOUND"}`)
	err := c.getJSON("/v1/cells/1", nil)
	require.Error(t, err)
	assert.Contains(t, errOut.String(), "Error 404")
	assert.Contains(t, errOut.String(), "CELL_NOT_FOUND")
}

func TestRemoteRoundTrip(t *testing.T) {
	var gotVersion string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotVersion = r.Header.Get(api.VersionHeader)
		w.Write([]byte(`{"default":"783"}`))
	}))
	defer srv.Close()

	out := &bytes.Buffer{}
	c := &cli{remote: srv.URL, httpClient: srv.Client(), version: "783", out: out, errOut: &bytes.Buffer{}}
	require.NoError(t, c.getJSON("/v1/versions", nil))
	assert.Equal(t, "783", gotVersion)
	assert.Contains(t, out.String(), `"default": "783"`)
	assert.Equal(t, srv.URL, c.target())
}

func TestRunREPL(t *testing.T) {
	c, reqs, out, _ := newTestCLI(t, http.StatusOK, `{}`)
	runREPL(c, strings.NewReader("\\status\nversions\n\\quit\nstats\n"))

	assert.Contains(t, out.String(), "Connected to codexdb (in-process)")
	assert.Contains(t, out.String(), "version: (default)")
	assert.Contains(t, out.String(), "Bye.")
	// /health on connect, then versions; stats comes after \quit
	require.Len(t, *reqs, 2)
	assert.Equal(t, "/v1/versions", (*reqs)[1].path)
}
