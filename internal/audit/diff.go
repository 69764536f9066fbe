// Package audit implements the audit trail recorder: field-level diffs
// of tracked configuration fields and the immutable record store.
package audit

import (
	"github.com/agentforge/govern/pkg/types"
)

// PreviewLength bounds long free-text fields in diffs and snapshots so
// audit rows stay small. Applied to system prompts and welcome messages.
const PreviewLength = 200

// Tracked field names as they appear in diff maps and snapshots.
// Bookkeeping fields (timestamps, version, modified_by) are never diffed.
const (
	FieldName           = "name"
	FieldSlug           = "slug"
	FieldRole           = "role"
	FieldDescription    = "description"
	FieldIcon           = "icon"
	FieldSystemPrompt   = "system_prompt"
	FieldModel          = "ai_model"
	FieldTemperature    = "temperature"
	FieldMaxTokens      = "max_tokens"
	FieldWelcomeMessage = "welcome_message"
	FieldCapabilities   = "capabilities"
	FieldCategory       = "category"
	FieldActive         = "is_active"
)

// ComputeDiff compares exactly the tracked fields of two agent states
// and returns the fields that actually changed. An empty result means
// the mutation is a no-op: no version bump, no audit record, no event.
func ComputeDiff(before, after *types.Agent) types.Changes {
	changes := types.Changes{}

	if before.Name != after.Name {
		changes[FieldName] = types.FieldChange{Old: before.Name, New: after.Name}
	}
	if before.Slug != after.Slug {
		changes[FieldSlug] = types.FieldChange{Old: before.Slug, New: after.Slug}
	}
	if before.RoleLabel != after.RoleLabel {
		changes[FieldRole] = types.FieldChange{Old: before.RoleLabel, New: after.RoleLabel}
	}
	if before.Description != after.Description {
		changes[FieldDescription] = types.FieldChange{Old: before.Description, New: after.Description}
	}
	if before.Icon != after.Icon {
		changes[FieldIcon] = types.FieldChange{Old: before.Icon, New: after.Icon}
	}
	if before.SystemPrompt != after.SystemPrompt {
		changes[FieldSystemPrompt] = types.FieldChange{
			Old: preview(before.SystemPrompt),
			New: preview(after.SystemPrompt),
		}
	}
	if before.Model != after.Model {
		changes[FieldModel] = types.FieldChange{Old: before.Model, New: after.Model}
	}
	if before.Temperature != after.Temperature {
		changes[FieldTemperature] = types.FieldChange{Old: before.Temperature, New: after.Temperature}
	}
	if before.MaxTokens != after.MaxTokens {
		changes[FieldMaxTokens] = types.FieldChange{Old: before.MaxTokens, New: after.MaxTokens}
	}
	if before.WelcomeMessage != after.WelcomeMessage {
		changes[FieldWelcomeMessage] = types.FieldChange{
			Old: preview(before.WelcomeMessage),
			New: preview(after.WelcomeMessage),
		}
	}
	if before.Capabilities != after.Capabilities {
		changes[FieldCapabilities] = types.FieldChange{Old: before.Capabilities, New: after.Capabilities}
	}
	if before.Category != after.Category {
		changes[FieldCategory] = types.FieldChange{Old: before.Category, New: after.Category}
	}
	if before.Active != after.Active {
		changes[FieldActive] = types.FieldChange{Old: before.Active, New: after.Active}
	}

	return changes
}

// Snapshot captures the tracked fields of an agent as they were before
// a mutation, for the audit record's previous_config column.
func Snapshot(a *types.Agent) map[string]interface{} {
	return map[string]interface{}{
		FieldName:           a.Name,
		FieldSlug:           a.Slug,
		FieldRole:           a.RoleLabel,
		FieldDescription:    a.Description,
		FieldIcon:           a.Icon,
		FieldSystemPrompt:   preview(a.SystemPrompt),
		FieldModel:          a.Model,
		FieldTemperature:    a.Temperature,
		FieldMaxTokens:      a.MaxTokens,
		FieldWelcomeMessage: preview(a.WelcomeMessage),
		FieldCapabilities:   a.Capabilities,
		FieldCategory:       a.Category,
		FieldActive:         a.Active,
	}
}

// preview truncates long text to PreviewLength runes
func preview(s string) string {
	runes := []rune(s)
	if len(runes) <= PreviewLength {
		return s
	}
	return string(runes[:PreviewLength])
}
