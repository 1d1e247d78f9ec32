package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/neurocodex/codexdb/pkg/api/apierr"
	"github.com/neurocodex/codexdb/pkg/core"
)

// ---- Parameter helpers ----

func queryBool(r *http.Request, key string) bool {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "on" {
		return true
	}
	v, _ := strconv.ParseBool(raw)
	return v
}

// queryList collects comma separated and repeated values of key.
func queryList(r *http.Request, key string) []string {
	var out []string
	for _, raw := range r.URL.Query()[key] {
		for _, v := range strings.Split(raw, ",") {
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, v)
			}
		}
	}
	return out
}

// queryMinSyn reads min_syn_count. Absent means the dataset default (-1),
// zero keeps every connection.
func queryMinSyn(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("min_syn_count"))
	if raw == "" {
		return -1, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%w: min_syn_count must be a non-negative integer, got %q", core.ErrInvalidQuery, raw)
	}
	return v, nil
}

func queryIDs(r *http.Request, key string) ([]int64, error) {
	return parseCellIDs(strings.Join(r.URL.Query()[key], ","))
}

func (s *Server) requireMethod(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	apierr.MethodNotAllowed(w)
	return false
}

// ---- Handlers ----

// handleHealth returns health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":          "healthy",
		"timestamp":       time.Now(),
		"loadedVersions":  s.pool.ActiveCount(),
		"defaultVersion":  s.pool.Registry().Default(),
		"registeredCount": s.pool.Registry().Count(),
	})
}

func (s *Server) handleVersions(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, s.versions())
}

// handleSearch runs a cell search. GET takes q, case_sensitive,
// word_match, limit and offset; POST takes a SearchRequest body.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet, http.MethodPost) {
		return
	}
	var req SearchRequest
	if r.Method == http.MethodPost {
		if !s.decodeJSONRequest(w, r, &req) {
			return
		}
	} else {
		q := r.URL.Query()
		req = SearchRequest{
			Query:         q.Get("q"),
			CaseSensitive: queryBool(r, "case_sensitive"),
			WordMatch:     queryBool(r, "word_match"),
			Limit:         parsePositiveQueryInt(q.Get("limit")),
			Offset:        parsePositiveQueryInt(q.Get("offset")),
		}
	}
	if req.Version == "" {
		req.Version = s.getVersion(r)
	}

	res, err := s.search(r.Context(), req)
	if err != nil {
		s.writeOperationError(w, err)
		return
	}
	writeJSON(w, res)
}

// handleAdvancedSearch describes the query grammar for query-builder UIs.
func (s *Server) handleAdvancedSearch(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	res, err := s.advancedSearch(r.Context(), s.getVersion(r), r.URL.Query().Get("q"))
	if err != nil {
		s.writeOperationError(w, err)
		return
	}
	writeJSON(w, res)
}

// handleCell serves /v1/cells/{id}.
func (s *Server) handleCell(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	raw := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/cells/"), "/")
	if raw == "" {
		apierr.CellIDRequired(w)
		return
	}
	id, err := parseCellID(raw)
	if err != nil {
		s.writeOperationError(w, err)
		return
	}
	res, err := s.cell(r.Context(), s.getVersion(r), id)
	if err != nil {
		s.writeOperationError(w, err)
		return
	}
	writeJSON(w, res)
}

func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet, http.MethodPost) {
		return
	}
	var req ConnectionsRequest
	if r.Method == http.MethodPost {
		if !s.decodeJSONRequest(w, r, &req) {
			return
		}
	} else {
		ids, err := queryIDs(r, "ids")
		if err != nil {
			s.writeOperationError(w, err)
			return
		}
		minSyn, err := queryMinSyn(r)
		if err != nil {
			s.writeOperationError(w, err)
			return
		}
		req = ConnectionsRequest{
			IDs:         ids,
			Query:       r.URL.Query().Get("q"),
			Induced:     queryBool(r, "induced"),
			MinSynCount: max(minSyn, 0),
			NTTypes:     queryList(r, "nt_type"),
			Regions:     queryList(r, "region"),
			Limit:       parsePositiveQueryInt(r.URL.Query().Get("limit")),
		}
	}
	if req.Version == "" {
		req.Version = s.getVersion(r)
	}

	res, err := s.connections(r.Context(), req)
	if err != nil {
		s.writeOperationError(w, err)
		return
	}
	writeJSON(w, res)
}

// handlePathways serves shortest pathways between source and target.
func (s *Server) handlePathways(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	source, err := parseCellID(q.Get("source"))
	if err != nil {
		s.writeOperationError(w, err)
		return
	}
	target, err := parseCellID(q.Get("target"))
	if err != nil {
		s.writeOperationError(w, err)
		return
	}
	minSyn, err := queryMinSyn(r)
	if err != nil {
		s.writeOperationError(w, err)
		return
	}

	res, err := s.pathways(r.Context(), s.getVersion(r), source, target, minSyn)
	if err != nil {
		s.writeOperationError(w, err)
		return
	}
	writeJSON(w, res)
}

func (s *Server) handleReachable(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet, http.MethodPost) {
		return
	}
	var req ReachableRequest
	if r.Method == http.MethodPost {
		if !s.decodeJSONRequest(w, r, &req) {
			return
		}
	} else {
		ids, err := queryIDs(r, "ids")
		if err != nil {
			s.writeOperationError(w, err)
			return
		}
		minSyn, err := queryMinSyn(r)
		if err != nil {
			s.writeOperationError(w, err)
			return
		}
		req = ReachableRequest{
			IDs:        ids,
			Query:      r.URL.Query().Get("q"),
			Downstream: r.URL.Query().Get("direction") != "upstream",
			MinSyn:     minSyn,
		}
	}
	if req.Version == "" {
		req.Version = s.getVersion(r)
	}

	res, err := s.reachable(r.Context(), req)
	if err != nil {
		s.writeOperationError(w, err)
		return
	}
	writeJSON(w, res)
}

func (s *Server) handleDistanceMatrix(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet, http.MethodPost) {
		return
	}
	var req DistanceRequest
	if r.Method == http.MethodPost {
		if !s.decodeJSONRequest(w, r, &req) {
			return
		}
	} else {
		sources, err := queryIDs(r, "sources")
		if err != nil {
			s.writeOperationError(w, err)
			return
		}
		targets, err := queryIDs(r, "targets")
		if err != nil {
			s.writeOperationError(w, err)
			return
		}
		minSyn, err := queryMinSyn(r)
		if err != nil {
			s.writeOperationError(w, err)
			return
		}
		req = DistanceRequest{
			Sources:    sources,
			Targets:    targets,
			Downstream: r.URL.Query().Get("direction") != "upstream",
			MinSyn:     minSyn,
		}
	}
	if req.Version == "" {
		req.Version = s.getVersion(r)
	}

	res, err := s.distanceMatrix(r.Context(), req)
	if err != nil {
		s.writeOperationError(w, err)
		return
	}
	writeJSON(w, res)
}

// handleMotifs searches a motif. GET takes the form fields as query
// parameters (queryA, enabledAB, regionAB, ...); POST takes a MotifRequest
// with either form fields or a sketch.
func (s *Server) handleMotifs(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet, http.MethodPost) {
		return
	}
	var req MotifRequest
	if r.Method == http.MethodPost {
		if !s.decodeJSONRequest(w, r, &req) {
			return
		}
	} else {
		req.Form = make(map[string]string)
		for k, vs := range r.URL.Query() {
			if len(vs) > 0 {
				req.Form[k] = vs[0]
			}
		}
		req.Limit = parsePositiveQueryInt(req.Form["limit"])
	}
	if req.Version == "" {
		req.Version = s.getVersion(r)
	}

	res, err := s.motifs(r.Context(), req)
	if err != nil {
		s.writeOperationError(w, err)
		return
	}
	writeJSON(w, res)
}

// handleStats summarizes a dataset version and the pool.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	res, err := s.stats(r.Context(), s.getVersion(r))
	if err != nil {
		s.writeOperationError(w, err)
		return
	}
	writeJSON(w, res)
}
