// Package types provides shared types for the configuration governance engine
package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role represents a principal's role within its tenant
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Valid reports whether the role is a known role
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleMember
}

// Tenant is the isolation root; no operation crosses tenant boundaries
type Tenant struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	CreatedAt time.Time `json:"created_at"`
}

// Principal is a person acting within exactly one tenant.
// A non-nil DeletedAt marks the principal soft-deleted: invisible and
// unauthorized everywhere, but the row is retained for audit attribution.
type Principal struct {
	ID        uuid.UUID  `json:"id"`
	TenantID  uuid.UUID  `json:"tenant_id"`
	Email     string     `json:"email"`
	FullName  string     `json:"full_name,omitempty"`
	Role      Role       `json:"role"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Active reports whether the principal is not soft-deleted
func (p *Principal) Active() bool {
	return p.DeletedAt == nil
}

// Capabilities is the fixed-shape capability record for an agent.
// A closed set of named booleans diffs and validates reliably where an
// open-ended key-value bag would not.
type Capabilities struct {
	RAGEnabled      bool `json:"rag_enabled"`
	WebSearch       bool `json:"web_search"`
	CodeExecution   bool `json:"code_execution"`
	ImageGeneration bool `json:"image_generation"`
}

// DefaultCapabilities returns the capability defaults for new agents
func DefaultCapabilities() Capabilities {
	return Capabilities{RAGEnabled: true}
}

// Validation bounds for agent configuration
const (
	MaxNameLength        = 100
	MaxSlugLength        = 50
	MaxRoleLabelLength   = 100
	MaxDescriptionLength = 500
	MinTemperature       = 0.0
	MaxTemperature       = 2.0
	MaxMaxTokens         = 128000
)

// Defaults for new agents
const (
	DefaultModel       = "gpt-4o-mini"
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 2048
	DefaultCategory    = "general"
	DefaultAgentIcon   = "🤖"
	DefaultWorkerIcon  = "🔧"
)

// Agent is a versioned, tenant-owned configurable entity. A non-nil
// ParentID marks it as a sub-agent of another agent in the same tenant.
type Agent struct {
	ID       uuid.UUID  `json:"id"`
	TenantID uuid.UUID  `json:"tenant_id"`
	ParentID *uuid.UUID `json:"parent_id,omitempty"`

	Name        string `json:"name"`
	Slug        string `json:"slug"`
	RoleLabel   string `json:"role"`
	Description string `json:"description,omitempty"`
	Icon        string `json:"icon,omitempty"`

	SystemPrompt   string       `json:"system_prompt,omitempty"`
	Model          string       `json:"ai_model"`
	Temperature    float64      `json:"temperature"`
	MaxTokens      int          `json:"max_tokens"`
	WelcomeMessage string       `json:"welcome_message,omitempty"`
	Capabilities   Capabilities `json:"capabilities"`
	Category       string       `json:"category"`

	Active     bool       `json:"is_active"`
	Version    int        `json:"version"`
	CreatedBy  *uuid.UUID `json:"created_by,omitempty"`
	ModifiedBy *uuid.UUID `json:"modified_by,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Validate checks the agent's configurable fields against their bounds
func (a *Agent) Validate() error {
	if err := validateName(a.Name); err != nil {
		return err
	}
	if err := validateSlug(a.Slug); err != nil {
		return err
	}
	if err := validateRoleLabel(a.RoleLabel); err != nil {
		return err
	}
	if len(a.Description) > MaxDescriptionLength {
		return fmt.Errorf("%w: description exceeds %d characters", ErrInvalid, MaxDescriptionLength)
	}
	if err := ValidateTemperature(a.Temperature); err != nil {
		return err
	}
	if err := ValidateMaxTokens(a.MaxTokens); err != nil {
		return err
	}
	if a.Model == "" {
		return fmt.Errorf("%w: model is required", ErrInvalid)
	}
	return nil
}

// Clone returns a deep copy of the agent
func (a *Agent) Clone() *Agent {
	c := *a
	if a.ParentID != nil {
		pid := *a.ParentID
		c.ParentID = &pid
	}
	if a.CreatedBy != nil {
		id := *a.CreatedBy
		c.CreatedBy = &id
	}
	if a.ModifiedBy != nil {
		id := *a.ModifiedBy
		c.ModifiedBy = &id
	}
	return &c
}

// ValidateTemperature checks the sampling temperature bound [0, 2]
func ValidateTemperature(t float64) error {
	if t < MinTemperature || t > MaxTemperature {
		return fmt.Errorf("%w: temperature %g outside [%g, %g]", ErrInvalid, t, MinTemperature, MaxTemperature)
	}
	return nil
}

// ValidateMaxTokens checks the response-length ceiling bound (0, 128000]
func ValidateMaxTokens(n int) error {
	if n <= 0 || n > MaxMaxTokens {
		return fmt.Errorf("%w: max_tokens %d outside (0, %d]", ErrInvalid, n, MaxMaxTokens)
	}
	return nil
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalid, MaxNameLength)
	}
	return nil
}

func validateSlug(slug string) error {
	if slug == "" {
		return fmt.Errorf("%w: slug is required", ErrInvalid)
	}
	if len(slug) > MaxSlugLength {
		return fmt.Errorf("%w: slug exceeds %d characters", ErrInvalid, MaxSlugLength)
	}
	if strings.ContainsAny(slug, " \t\n") {
		return fmt.Errorf("%w: slug must not contain whitespace", ErrInvalid)
	}
	return nil
}

func validateRoleLabel(label string) error {
	if label == "" {
		return fmt.Errorf("%w: role is required", ErrInvalid)
	}
	if len(label) > MaxRoleLabelLength {
		return fmt.Errorf("%w: role exceeds %d characters", ErrInvalid, MaxRoleLabelLength)
	}
	return nil
}

// AgentPatch is a partial update for an agent; nil fields are unchanged
type AgentPatch struct {
	Name           *string       `json:"name,omitempty"`
	Slug           *string       `json:"slug,omitempty"`
	RoleLabel      *string       `json:"role,omitempty"`
	Description    *string       `json:"description,omitempty"`
	Icon           *string       `json:"icon,omitempty"`
	SystemPrompt   *string       `json:"system_prompt,omitempty"`
	Model          *string       `json:"ai_model,omitempty"`
	Temperature    *float64      `json:"temperature,omitempty"`
	MaxTokens      *int          `json:"max_tokens,omitempty"`
	WelcomeMessage *string       `json:"welcome_message,omitempty"`
	Capabilities   *Capabilities `json:"capabilities,omitempty"`
	Category       *string       `json:"category,omitempty"`
	Active         *bool         `json:"is_active,omitempty"`
}

// IsEmpty reports whether the patch sets no fields
func (p *AgentPatch) IsEmpty() bool {
	return p.Name == nil && p.Slug == nil && p.RoleLabel == nil &&
		p.Description == nil && p.Icon == nil && p.SystemPrompt == nil &&
		p.Model == nil && p.Temperature == nil && p.MaxTokens == nil &&
		p.WelcomeMessage == nil && p.Capabilities == nil &&
		p.Category == nil && p.Active == nil
}

// Apply overlays the patch onto the agent in place
func (p *AgentPatch) Apply(a *Agent) {
	if p.Name != nil {
		a.Name = *p.Name
	}
	if p.Slug != nil {
		a.Slug = *p.Slug
	}
	if p.RoleLabel != nil {
		a.RoleLabel = *p.RoleLabel
	}
	if p.Description != nil {
		a.Description = *p.Description
	}
	if p.Icon != nil {
		a.Icon = *p.Icon
	}
	if p.SystemPrompt != nil {
		a.SystemPrompt = *p.SystemPrompt
	}
	if p.Model != nil {
		a.Model = *p.Model
	}
	if p.Temperature != nil {
		a.Temperature = *p.Temperature
	}
	if p.MaxTokens != nil {
		a.MaxTokens = *p.MaxTokens
	}
	if p.WelcomeMessage != nil {
		a.WelcomeMessage = *p.WelcomeMessage
	}
	if p.Capabilities != nil {
		a.Capabilities = *p.Capabilities
	}
	if p.Category != nil {
		a.Category = *p.Category
	}
	if p.Active != nil {
		a.Active = *p.Active
	}
}

// KnowledgeRecord is reference material attached to an agent. It is not
// versioned or audited and is cascade-deleted with its agent.
type KnowledgeRecord struct {
	ID        uuid.UUID `json:"id"`
	TenantID  uuid.UUID `json:"tenant_id"`
	AgentID   uuid.UUID `json:"agent_id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	SourceURL string    `json:"source_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// FieldChange records one tracked field's before/after values
type FieldChange struct {
	Old interface{} `json:"old"`
	New interface{} `json:"new"`
}

// Changes maps tracked field names to their before/after values
type Changes map[string]FieldChange

// AuditRecord is the immutable log of one accepted mutation. Records are
// write-once and form a strictly time-ordered sequence per agent.
type AuditRecord struct {
	ID        uuid.UUID              `json:"id"`
	AgentID   uuid.UUID              `json:"agent_id"`
	TenantID  uuid.UUID              `json:"tenant_id"`
	ChangedBy uuid.UUID              `json:"changed_by"`
	ChangedAt time.Time              `json:"changed_at"`
	Changes   Changes                `json:"changes"`
	Previous  map[string]interface{} `json:"previous_config"`
	Reason    string                 `json:"change_reason,omitempty"`
}

// EventKind classifies a change event
type EventKind string

const (
	EventCreated EventKind = "created"
	EventUpdated EventKind = "updated"
	EventDeleted EventKind = "deleted"
)

// ChangeEvent is the transient propagation message emitted once per
// accepted mutation. For deletions Agent carries the pre-mutation shape.
type ChangeEvent struct {
	Kind     EventKind `json:"kind"`
	TenantID uuid.UUID `json:"tenant_id"`
	Agent    *Agent    `json:"agent"`
}

// OpKind classifies a reconciliation op
type OpKind string

const (
	OpUpsert OpKind = "upsert"
	OpRemove OpKind = "remove"
)

// ReconciliationOp is the client-side apply instruction derived from a
// change event under a subscriber's filter.
type ReconciliationOp struct {
	Kind    OpKind    `json:"kind"`
	AgentID uuid.UUID `json:"agent_id"`
	Agent   *Agent    `json:"agent,omitempty"` // set for upserts
}
