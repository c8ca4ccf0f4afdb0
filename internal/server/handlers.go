package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/kubilitics/kubilitics-guardrail/internal/db"
	mcpserver "github.com/kubilitics/kubilitics-guardrail/internal/mcp/server"
	"github.com/kubilitics/kubilitics-guardrail/internal/mcp/tools/execution"
)

const (
	maxRequestBody      = 1 << 20
	defaultArchiveLimit = 100
)

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleListTools handles GET /api/v1/tools
func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tools": s.tools.ListTools(),
	})
}

// handleExecuteTool handles POST /api/v1/tools/{name} with a JSON object body.
func (s *Server) handleExecuteTool(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	args := map[string]interface{}{}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &args); err != nil {
			writeError(w, http.StatusBadRequest, "request body must be a JSON object")
			return
		}
	}

	result, err := s.tools.ExecuteTool(r.Context(), name, args)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleAuditLog handles GET /api/v1/audit?limit=
func (s *Server) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	args := map[string]interface{}{}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		args["limit"] = limit
	}

	result, err := s.tools.ExecuteTool(r.Context(), mcpserver.ToolGetAuditLog, args)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleAuditArchive handles GET /api/v1/audit/archive?limit=&target=&action=&result=
func (s *Server) handleAuditArchive(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeError(w, http.StatusNotFound, "audit archive not enabled")
		return
	}

	q := r.URL.Query()
	query := db.AuditQuery{
		Target: q.Get("target"),
		Action: q.Get("action"),
		Result: q.Get("result"),
		Limit:  defaultArchiveLimit,
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		query.Limit = limit
	}

	records, err := s.archive.QueryAuditEntries(r.Context(), query)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to query audit archive")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(records),
		"records": records,
	})
}

// handlePolicy handles GET /api/v1/policy
func (s *Server) handlePolicy(w http.ResponseWriter, r *http.Request) {
	rules, ok := s.tools.DescribePolicy()
	if !ok {
		writeError(w, http.StatusNotFound, "policy description not available")
		return
	}
	writeJSON(w, http.StatusOK, rules)
}

// handleStats handles GET /api/v1/stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.tools.GetStats())
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, execution.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, mcpserver.ErrToolNotFound):
		return http.StatusNotFound
	case errors.Is(err, mcpserver.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
