package api

import (
	"github.com/mattjoyce/terraflow/internal/reconcile"
	"github.com/mattjoyce/terraflow/internal/registry"
)

// OperationRequest is the JSON body for the per-template lifecycle endpoints.
type OperationRequest struct {
	TemplateName string `json:"template_name"`
}

// OperationResponse is returned on a successful init, apply or destroy.
// Status is omitted for destroy, which leaves no record behind.
type OperationResponse struct {
	Message      string           `json:"message"`
	TemplateName string           `json:"template_name"`
	Status       *registry.Record `json:"status,omitempty"`
	Output       string           `json:"output,omitempty"`
}

// StatusResponse is returned by GET /terraform/status.
type StatusResponse struct {
	ActiveTemplates []registry.Record `json:"activeTemplates"`
}

// CleanupResponse is returned by POST /terraform/cleanup. The report calls
// out every bucket the sweep deleted or failed to delete.
type CleanupResponse struct {
	Message string                `json:"message"`
	Report  reconcile.SweepReport `json:"report"`
}

// ErrorResponse is returned on errors. Details carries the redacted
// underlying failure message.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status          string `json:"status"`
	Message         string `json:"message"`
	Service         string `json:"service"`
	UptimeSeconds   int64  `json:"uptime_seconds"`
	ActiveTemplates int    `json:"active_templates"`
}

// RootResponse is returned by GET /.
type RootResponse struct {
	Service   string   `json:"service"`
	Version   string   `json:"version"`
	Endpoints []string `json:"endpoints"`
}
