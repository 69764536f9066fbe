// Package rest provides the REST API server for the governance engine
package rest

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/agentforge/govern/pkg/types"
)

// ErrorResponse is the API error body
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

// HealthResponse is the health check body
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// StatusResponse is the service status body
type StatusResponse struct {
	Version   string    `json:"version"`
	Uptime    string    `json:"uptime"`
	Timestamp time.Time `json:"timestamp"`
}

// CreateAgentRequest creates an agent or, with parent_id set, a sub-agent.
// Config carries optional overrides of the configuration defaults.
type CreateAgentRequest struct {
	Name     string           `json:"name"`
	Slug     string           `json:"slug"`
	Role     string           `json:"role"`
	ParentID *uuid.UUID       `json:"parent_id,omitempty"`
	Config   types.AgentPatch `json:"config"`
}

// AddKnowledgeRequest attaches a knowledge record to an agent
type AddKnowledgeRequest struct {
	Title     string `json:"title"`
	Content   string `json:"content"`
	SourceURL string `json:"source_url,omitempty"`
}

// ChangeRoleRequest changes a member's role
type ChangeRoleRequest struct {
	Role types.Role `json:"role"`
}

// LifecycleResponse reports a member lifecycle transition
type LifecycleResponse struct {
	Changed bool `json:"changed"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// WriteError writes a JSON error response
func WriteError(w http.ResponseWriter, statusCode int, message string) {
	WriteJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    codeFor(statusCode),
	})
}

// WriteTaxonomyError maps an engine error to its HTTP status
func WriteTaxonomyError(w http.ResponseWriter, err error) {
	switch {
	case types.IsNotFound(err):
		WriteError(w, http.StatusNotFound, err.Error())
	case types.IsDenied(err):
		WriteError(w, http.StatusForbidden, err.Error())
	case types.IsConflict(err):
		WriteError(w, http.StatusConflict, err.Error())
	case types.IsInvalid(err):
		WriteError(w, http.StatusBadRequest, err.Error())
	default:
		WriteError(w, http.StatusInternalServerError, "internal error")
	}
}

func codeFor(statusCode int) string {
	switch statusCode {
	case http.StatusNotFound:
		return "not_found"
	case http.StatusForbidden:
		return "denied"
	case http.StatusConflict:
		return "conflict"
	case http.StatusBadRequest:
		return "invalid"
	case http.StatusUnauthorized:
		return "unauthenticated"
	default:
		return "internal"
	}
}
