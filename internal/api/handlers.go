package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/mattjoyce/terraflow/internal/lifecycle"
	"github.com/mattjoyce/terraflow/internal/runner"
)

const (
	defaultRunsLimit = 50
	maxRunsLimit     = 500
)

// handleRoot handles GET / (no auth).
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, RootResponse{
		Service: s.config.Service,
		Version: s.config.Version,
		Endpoints: []string{
			"GET /health",
			"GET /terraform/status",
			"POST /terraform/init",
			"POST /terraform/apply",
			"POST /terraform/destroy",
			"POST /terraform/cleanup",
			"GET /terraform/runs",
			"GET /events",
		},
	})
}

// handleHealth handles GET /health (no auth).
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{
		Status:          "ok",
		Message:         "terraform lifecycle service is running",
		Service:         s.config.Service,
		UptimeSeconds:   int64(time.Since(s.startedAt).Seconds()),
		ActiveTemplates: len(s.lifecycle.Status()),
	})
}

// handleStatus handles GET /terraform/status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	records := s.lifecycle.Status()
	respondJSON(w, http.StatusOK, StatusResponse{ActiveTemplates: records})
}

// handleInit handles POST /terraform/init.
func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	name, ok := s.decodeTemplateName(w, r)
	if !ok {
		return
	}

	res, err := s.lifecycle.Init(r.Context(), name)
	if err != nil {
		s.writeOperationError(w, "terraform init failed", err, res)
		return
	}

	respondJSON(w, http.StatusOK, OperationResponse{
		Message:      "terraform init completed",
		TemplateName: name,
		Status:       &res.Record,
		Output:       runner.Redact(res.Output),
	})
}

// handleApply handles POST /terraform/apply.
func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	name, ok := s.decodeTemplateName(w, r)
	if !ok {
		return
	}

	res, err := s.lifecycle.Apply(r.Context(), name)
	if err != nil {
		s.writeOperationError(w, "terraform apply failed", err, res)
		return
	}

	respondJSON(w, http.StatusOK, OperationResponse{
		Message:      "terraform apply completed",
		TemplateName: name,
		Status:       &res.Record,
		Output:       runner.Redact(res.Output),
	})
}

// handleDestroy handles POST /terraform/destroy. A successful destroy
// leaves no record, so the response carries no status.
func (s *Server) handleDestroy(w http.ResponseWriter, r *http.Request) {
	name, ok := s.decodeTemplateName(w, r)
	if !ok {
		return
	}

	res, err := s.lifecycle.Destroy(r.Context(), name)
	if err != nil {
		s.writeOperationError(w, "terraform destroy failed", err, res)
		return
	}

	respondJSON(w, http.StatusOK, OperationResponse{
		Message:      "terraform destroy completed",
		TemplateName: name,
		Output:       runner.Redact(res.Output),
	})
}

// handleCleanup handles POST /terraform/cleanup.
func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	report, err := s.lifecycle.CleanupAll(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "cleanup failed", runner.Redact(err.Error()))
		return
	}

	respondJSON(w, http.StatusOK, CleanupResponse{
		Message: "cleanup completed",
		Report:  report,
	})
}

// handleRuns handles GET /terraform/runs.
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		s.writeError(w, http.StatusServiceUnavailable, "run history not enabled", "")
		return
	}

	limit := defaultRunsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer", "")
			return
		}
		limit = min(n, maxRunsLimit)
	}

	runs, err := s.runs.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("reading run history failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "reading run history failed", runner.Redact(err.Error()))
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// decodeTemplateName parses the request body and validates template_name.
// Validation failures never reach the coordinator.
func (s *Server) decodeTemplateName(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req OperationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body", "")
		return "", false
	}
	if req.TemplateName == "" {
		s.writeError(w, http.StatusBadRequest, "template_name is required", "")
		return "", false
	}
	return req.TemplateName, true
}

// writeOperationError maps a coordinator error to the HTTP taxonomy:
// unknown template is 404, everything else 500 with the redacted
// subprocess output as details.
func (s *Server) writeOperationError(w http.ResponseWriter, summary string, err error, res *lifecycle.OpResult) {
	if errors.Is(err, lifecycle.ErrTemplateNotFound) {
		s.writeError(w, http.StatusNotFound, "template not found", err.Error())
		return
	}

	details := err.Error()
	if res != nil && res.Output != "" {
		details += "\n" + res.Output
	}
	s.writeError(w, http.StatusInternalServerError, summary, runner.Redact(details))
}

// respondJSON writes a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message, details string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message, Details: details})
}
