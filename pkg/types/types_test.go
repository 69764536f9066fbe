package types

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validAgent() *Agent {
	return &Agent{
		Name:         "Support Agent",
		Slug:         "support",
		RoleLabel:    "Customer Support",
		Model:        DefaultModel,
		Temperature:  DefaultTemperature,
		MaxTokens:    DefaultMaxTokens,
		Capabilities: DefaultCapabilities(),
		Category:     DefaultCategory,
		Active:       true,
	}
}

func TestAgentValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Agent)
		wantErr bool
	}{
		{"valid", func(a *Agent) {}, false},
		{"empty name", func(a *Agent) { a.Name = "" }, true},
		{"name too long", func(a *Agent) { a.Name = strings.Repeat("x", MaxNameLength+1) }, true},
		{"name at limit", func(a *Agent) { a.Name = strings.Repeat("x", MaxNameLength) }, false},
		{"empty slug", func(a *Agent) { a.Slug = "" }, true},
		{"slug too long", func(a *Agent) { a.Slug = strings.Repeat("x", MaxSlugLength+1) }, true},
		{"slug with space", func(a *Agent) { a.Slug = "bad slug" }, true},
		{"empty role", func(a *Agent) { a.RoleLabel = "" }, true},
		{"description too long", func(a *Agent) { a.Description = strings.Repeat("x", MaxDescriptionLength+1) }, true},
		{"temperature below range", func(a *Agent) { a.Temperature = -0.1 }, true},
		{"temperature above range", func(a *Agent) { a.Temperature = 2.1 }, true},
		{"temperature at lower bound", func(a *Agent) { a.Temperature = 0 }, false},
		{"temperature at upper bound", func(a *Agent) { a.Temperature = 2 }, false},
		{"max tokens zero", func(a *Agent) { a.MaxTokens = 0 }, true},
		{"max tokens negative", func(a *Agent) { a.MaxTokens = -1 }, true},
		{"max tokens over ceiling", func(a *Agent) { a.MaxTokens = MaxMaxTokens + 1 }, true},
		{"max tokens at ceiling", func(a *Agent) { a.MaxTokens = MaxMaxTokens }, false},
		{"empty model", func(a *Agent) { a.Model = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := validAgent()
			tt.mutate(a)
			err := a.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, IsInvalid(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAgentPatchApply(t *testing.T) {
	a := validAgent()
	temp := 1.5
	name := "Renamed"
	caps := Capabilities{RAGEnabled: true, WebSearch: true}
	inactive := false

	patch := &AgentPatch{
		Name:         &name,
		Temperature:  &temp,
		Capabilities: &caps,
		Active:       &inactive,
	}
	patch.Apply(a)

	assert.Equal(t, "Renamed", a.Name)
	assert.Equal(t, 1.5, a.Temperature)
	assert.True(t, a.Capabilities.WebSearch)
	assert.False(t, a.Active)
	// untouched fields keep their values
	assert.Equal(t, "support", a.Slug)
	assert.Equal(t, DefaultModel, a.Model)
}

func TestAgentPatchIsEmpty(t *testing.T) {
	assert.True(t, (&AgentPatch{}).IsEmpty())

	name := "x"
	assert.False(t, (&AgentPatch{Name: &name}).IsEmpty())
}

func TestAgentClone(t *testing.T) {
	a := validAgent()
	parentID := a.ID
	a.ParentID = &parentID

	c := a.Clone()
	require.NotNil(t, c.ParentID)

	other := parentID
	other[0] ^= 0xff
	*c.ParentID = other
	assert.NotEqual(t, *a.ParentID, *c.ParentID, "clone must not share parent pointer")
}

func TestDefaultCapabilities(t *testing.T) {
	caps := DefaultCapabilities()
	assert.True(t, caps.RAGEnabled)
	assert.False(t, caps.WebSearch)
	assert.False(t, caps.CodeExecution)
	assert.False(t, caps.ImageGeneration)
}

func TestRoleValid(t *testing.T) {
	assert.True(t, RoleAdmin.Valid())
	assert.True(t, RoleMember.Valid())
	assert.False(t, Role("owner").Valid())
	assert.False(t, Role("").Valid())
}

func TestErrorHelpers(t *testing.T) {
	assert.True(t, IsNotFound(ErrNotFound))
	assert.True(t, IsDenied(ErrDenied))
	assert.True(t, IsConflict(ErrConflict))
	assert.True(t, IsInvalid(ErrInvalid))
	assert.False(t, IsNotFound(ErrDenied))
}
