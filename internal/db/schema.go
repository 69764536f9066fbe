// Package db provides database schema constants and migration management
package db

// Table names as constants for type safety
const (
	TableTenants           = "tenants"
	TablePrincipals        = "principals"
	TableAgents            = "agents"
	TableAgentAuditRecords = "agent_audit_records"
	TableKnowledgeRecords  = "knowledge_records"
)

// Column names for compile-time checking
const (
	// Common columns
	ColID        = "id"
	ColTenantID  = "tenant_id"
	ColCreatedAt = "created_at"
	ColUpdatedAt = "updated_at"

	// Principal columns
	ColEmail     = "email"
	ColFullName  = "full_name"
	ColRole      = "role"
	ColDeletedAt = "deleted_at"

	// Agent columns
	ColParentID       = "parent_id"
	ColName           = "name"
	ColSlug           = "slug"
	ColRoleLabel      = "role_label"
	ColDescription    = "description"
	ColIcon           = "icon"
	ColSystemPrompt   = "system_prompt"
	ColModel          = "ai_model"
	ColTemperature    = "temperature"
	ColMaxTokens      = "max_tokens"
	ColWelcomeMessage = "welcome_message"
	ColCapabilities   = "capabilities"
	ColCategory       = "category"
	ColActive         = "is_active"
	ColVersion        = "version"
	ColCreatedBy      = "created_by"
	ColModifiedBy     = "modified_by"

	// Audit record columns
	ColAgentID        = "agent_id"
	ColChangedBy      = "changed_by"
	ColChangedAt      = "changed_at"
	ColChanges        = "changes"
	ColPreviousConfig = "previous_config"
	ColChangeReason   = "change_reason"

	// Knowledge record columns
	ColTitle     = "title"
	ColContent   = "content"
	ColSourceURL = "source_url"
)
