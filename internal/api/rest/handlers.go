package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/agentforge/govern/internal/engine"
	"github.com/agentforge/govern/internal/store"
	"github.com/agentforge/govern/pkg/types"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// caller returns the authenticated principal ID or writes a 401
func (s *Server) caller(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, ok := PrincipalFromContext(r.Context())
	if !ok {
		WriteError(w, http.StatusUnauthorized, "no authenticated principal")
		return uuid.Nil, false
	}
	return id, true
}

// callerTenant resolves the caller's own tenant for tenant-scoped
// listing endpoints
func (s *Server) callerTenant(w http.ResponseWriter, r *http.Request, callerID uuid.UUID) (uuid.UUID, bool) {
	self, err := s.engine.GetMember(r.Context(), callerID, callerID)
	if err != nil {
		WriteTaxonomyError(w, err)
		return uuid.Nil, false
	}
	return self.TenantID, true
}

func muxVar(r *http.Request, name string) string {
	return mux.Vars(r)[name]
}

func pathID(r *http.Request, name string) (uuid.UUID, error) {
	return uuid.Parse(muxVar(r, name))
}

func (s *Server) createAgentHandler(w http.ResponseWriter, r *http.Request) {
	callerID, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req CreateAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	tenantID, ok := s.callerTenant(w, r, callerID)
	if !ok {
		return
	}

	agent, err := s.engine.CreateAgent(r.Context(), callerID, engine.CreateSpec{
		TenantID:  tenantID,
		ParentID:  req.ParentID,
		Name:      req.Name,
		Slug:      req.Slug,
		RoleLabel: req.Role,
		Overrides: req.Config,
	})
	if err != nil {
		WriteTaxonomyError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, agent)
}

func (s *Server) listAgentsHandler(w http.ResponseWriter, r *http.Request) {
	callerID, ok := s.caller(w, r)
	if !ok {
		return
	}
	tenantID, ok := s.callerTenant(w, r, callerID)
	if !ok {
		return
	}

	filter := store.Filter{
		ActiveOnly: r.URL.Query().Get("active_only") == "true",
		RootOnly:   r.URL.Query().Get("root_only") == "true",
	}
	if raw := r.URL.Query().Get("parent_id"); raw != "" {
		parentID, err := uuid.Parse(raw)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "invalid parent_id")
			return
		}
		filter.ParentID = &parentID
	}

	agents, err := s.engine.ListAgents(r.Context(), callerID, tenantID, filter)
	if err != nil {
		WriteTaxonomyError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, agents)
}

func (s *Server) getAgentHandler(w http.ResponseWriter, r *http.Request) {
	callerID, ok := s.caller(w, r)
	if !ok {
		return
	}
	agentID, err := pathID(r, "id")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid agent id")
		return
	}
	agent, err := s.engine.GetAgent(r.Context(), callerID, agentID)
	if err != nil {
		WriteTaxonomyError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, agent)
}

func (s *Server) getAgentBySlugHandler(w http.ResponseWriter, r *http.Request) {
	callerID, ok := s.caller(w, r)
	if !ok {
		return
	}
	tenantID, ok := s.callerTenant(w, r, callerID)
	if !ok {
		return
	}
	agent, err := s.engine.GetAgentBySlug(r.Context(), callerID, tenantID, muxVar(r, "slug"))
	if err != nil {
		WriteTaxonomyError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, agent)
}

func (s *Server) updateAgentHandler(w http.ResponseWriter, r *http.Request) {
	callerID, ok := s.caller(w, r)
	if !ok {
		return
	}
	agentID, err := pathID(r, "id")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid agent id")
		return
	}
	var patch types.AgentPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	agent, err := s.engine.UpdateAgent(r.Context(), callerID, agentID, &patch)
	if err != nil {
		WriteTaxonomyError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, agent)
}

func (s *Server) deleteAgentHandler(w http.ResponseWriter, r *http.Request) {
	callerID, ok := s.caller(w, r)
	if !ok {
		return
	}
	agentID, err := pathID(r, "id")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid agent id")
		return
	}
	if err := s.engine.DeleteAgent(r.Context(), callerID, agentID); err != nil {
		WriteTaxonomyError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listSubAgentsHandler(w http.ResponseWriter, r *http.Request) {
	callerID, ok := s.caller(w, r)
	if !ok {
		return
	}
	parentID, err := pathID(r, "id")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid agent id")
		return
	}
	// Resolving the parent first gives the tenant scope and the
	// cross-tenant NotFound check in one step.
	parent, err := s.engine.GetAgent(r.Context(), callerID, parentID)
	if err != nil {
		WriteTaxonomyError(w, err)
		return
	}
	filter := store.Filter{
		ParentID:   &parent.ID,
		ActiveOnly: r.URL.Query().Get("active_only") == "true",
	}
	agents, err := s.engine.ListAgents(r.Context(), callerID, parent.TenantID, filter)
	if err != nil {
		WriteTaxonomyError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, agents)
}

func (s *Server) historyHandler(w http.ResponseWriter, r *http.Request) {
	callerID, ok := s.caller(w, r)
	if !ok {
		return
	}
	agentID, err := pathID(r, "id")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid agent id")
		return
	}

	limit := queryInt(r, "limit", defaultHistoryLimit)
	if limit < 1 || limit > maxHistoryLimit {
		limit = defaultHistoryLimit
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	records, err := s.engine.History(r.Context(), callerID, agentID, limit, offset)
	if err != nil {
		WriteTaxonomyError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, records)
}

func (s *Server) addKnowledgeHandler(w http.ResponseWriter, r *http.Request) {
	callerID, ok := s.caller(w, r)
	if !ok {
		return
	}
	agentID, err := pathID(r, "id")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid agent id")
		return
	}
	var req AddKnowledgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == "" {
		WriteError(w, http.StatusBadRequest, "title is required")
		return
	}

	agent, err := s.engine.GetAgent(r.Context(), callerID, agentID)
	if err != nil {
		WriteTaxonomyError(w, err)
		return
	}

	rec := &types.KnowledgeRecord{
		ID:        uuid.New(),
		TenantID:  agent.TenantID,
		AgentID:   agent.ID,
		Title:     req.Title,
		Content:   req.Content,
		SourceURL: req.SourceURL,
	}
	if err := s.engine.AddKnowledge(r.Context(), callerID, rec); err != nil {
		WriteTaxonomyError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, rec)
}

func (s *Server) listKnowledgeHandler(w http.ResponseWriter, r *http.Request) {
	callerID, ok := s.caller(w, r)
	if !ok {
		return
	}
	agentID, err := pathID(r, "id")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid agent id")
		return
	}
	records, err := s.engine.ListKnowledge(r.Context(), callerID, agentID)
	if err != nil {
		WriteTaxonomyError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, records)
}

func (s *Server) listMembersHandler(w http.ResponseWriter, r *http.Request) {
	callerID, ok := s.caller(w, r)
	if !ok {
		return
	}
	includeDeleted := r.URL.Query().Get("include_deleted") == "true"
	members, err := s.engine.ListMembers(r.Context(), callerID, includeDeleted)
	if err != nil {
		WriteTaxonomyError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, members)
}

func (s *Server) getMemberHandler(w http.ResponseWriter, r *http.Request) {
	callerID, ok := s.caller(w, r)
	if !ok {
		return
	}
	memberID, err := pathID(r, "id")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid member id")
		return
	}
	member, err := s.engine.GetMember(r.Context(), callerID, memberID)
	if err != nil {
		WriteTaxonomyError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, member)
}

func (s *Server) changeRoleHandler(w http.ResponseWriter, r *http.Request) {
	callerID, ok := s.caller(w, r)
	if !ok {
		return
	}
	memberID, err := pathID(r, "id")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid member id")
		return
	}
	var req ChangeRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !req.Role.Valid() {
		WriteError(w, http.StatusBadRequest, "invalid role")
		return
	}
	if err := s.engine.ChangeMemberRole(r.Context(), callerID, memberID, req.Role); err != nil {
		WriteTaxonomyError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deactivateMemberHandler(w http.ResponseWriter, r *http.Request) {
	s.lifecycleHandler(w, r, s.engine.DeactivateMember)
}

func (s *Server) reactivateMemberHandler(w http.ResponseWriter, r *http.Request) {
	s.lifecycleHandler(w, r, s.engine.ReactivateMember)
}

func (s *Server) lifecycleHandler(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, callerID, memberID uuid.UUID) (bool, error)) {
	callerID, ok := s.caller(w, r)
	if !ok {
		return
	}
	memberID, err := pathID(r, "id")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid member id")
		return
	}
	changed, err := op(r.Context(), callerID, memberID)
	if err != nil {
		WriteTaxonomyError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, LifecycleResponse{Changed: changed})
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
