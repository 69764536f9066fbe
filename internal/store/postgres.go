package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/agentforge/govern/internal/audit"
	"github.com/agentforge/govern/pkg/types"
)

// PostgresStore implements Store using PostgreSQL. Concurrent updates to
// the same row serialize on SELECT ... FOR UPDATE, so the second
// writer's diff is computed against the first writer's committed result.
// Transient transaction failures are retried exactly once before being
// surfaced as types.ErrInternal.
type PostgresStore struct {
	db     *sql.DB
	audits *audit.PostgresStore
}

// NewPostgresStore creates a new PostgreSQL configuration store
func NewPostgresStore(db *sql.DB, audits *audit.PostgresStore) *PostgresStore {
	return &PostgresStore{db: db, audits: audits}
}

const agentColumns = `
	id, tenant_id, parent_id, name, slug, role_label, description, icon,
	system_prompt, ai_model, temperature, max_tokens, welcome_message,
	capabilities, category, is_active, version, created_by, modified_by,
	created_at, updated_at
`

// Create inserts a new agent with version 1
func (s *PostgresStore) Create(ctx context.Context, agent *types.Agent) (*types.Agent, error) {
	if agent == nil {
		return nil, fmt.Errorf("%w: agent cannot be nil", types.ErrInvalid)
	}
	if err := agent.Validate(); err != nil {
		return nil, err
	}

	cp := agent.Clone()
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	cp.Version = 1
	now := time.Now().UTC()
	cp.CreatedAt = now
	cp.UpdatedAt = now

	capsJSON, err := json.Marshal(cp.Capabilities)
	if err != nil {
		return nil, fmt.Errorf("marshal capabilities: %w", err)
	}

	err = s.withRetry(ctx, func() error {
		if cp.ParentID != nil {
			var parentTenant uuid.UUID
			var grandparent sql.NullString
			err := s.db.QueryRowContext(ctx,
				`SELECT tenant_id, parent_id FROM agents WHERE id = $1`, *cp.ParentID,
			).Scan(&parentTenant, &grandparent)
			if err == sql.ErrNoRows || (err == nil && parentTenant != cp.TenantID) {
				return fmt.Errorf("%w: parent agent %s", types.ErrNotFound, *cp.ParentID)
			}
			if err != nil {
				return fmt.Errorf("check parent: %w", err)
			}
			// One level only; delete's cascade relies on this.
			if grandparent.Valid {
				return fmt.Errorf("%w: parent agent %s is a sub-agent", types.ErrInvalid, *cp.ParentID)
			}
		}

		_, err := s.db.ExecContext(ctx, `
			INSERT INTO agents (`+agentColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		`,
			cp.ID, cp.TenantID, nullUUID(cp.ParentID), cp.Name, cp.Slug,
			cp.RoleLabel, nullStr(cp.Description), nullStr(cp.Icon),
			nullStr(cp.SystemPrompt), cp.Model, cp.Temperature, cp.MaxTokens,
			nullStr(cp.WelcomeMessage), capsJSON, cp.Category, cp.Active,
			cp.Version, nullUUID(cp.CreatedBy), nullUUID(cp.ModifiedBy),
			cp.CreatedAt, cp.UpdatedAt,
		)
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: slug %q already exists in scope", types.ErrConflict, cp.Slug)
		}
		if err != nil {
			return fmt.Errorf("insert agent: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cp, nil
}

// Get retrieves an agent by ID
func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*types.Agent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE id = $1`, id)

	agent, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: agent %s", types.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return agent, nil
}

// GetBySlug retrieves a top-level agent by slug within a tenant
func (s *PostgresStore) GetBySlug(ctx context.Context, tenantID uuid.UUID, slug string) (*types.Agent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE tenant_id = $1 AND slug = $2 AND parent_id IS NULL`,
		tenantID, slug)

	agent, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: agent slug %q", types.ErrNotFound, slug)
	}
	if err != nil {
		return nil, fmt.Errorf("get agent by slug: %w", err)
	}
	return agent, nil
}

// List retrieves a tenant's agents matching the filter
func (s *PostgresStore) List(ctx context.Context, tenantID uuid.UUID, filter Filter) ([]*types.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE tenant_id = $1`
	args := []interface{}{tenantID}
	argIndex := 2

	if filter.ActiveOnly {
		query += ` AND is_active = TRUE`
	}
	if filter.RootOnly {
		query += ` AND parent_id IS NULL`
	}
	if filter.ParentID != nil {
		query += fmt.Sprintf(` AND parent_id = $%d`, argIndex)
		args = append(args, *filter.ParentID)
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []*types.Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, agent)
	}
	return agents, rows.Err()
}

// Update applies a patch inside a single transaction: the row is locked,
// the diff computed against its current committed state, and the audit
// record and version bump written together with the new row.
func (s *PostgresStore) Update(ctx context.Context, id uuid.UUID, principalID *uuid.UUID, patch *types.AgentPatch) (*types.Agent, *types.AuditRecord, error) {
	if patch == nil {
		return nil, nil, fmt.Errorf("%w: patch cannot be nil", types.ErrInvalid)
	}

	var updated *types.Agent
	var record *types.AuditRecord

	err := s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin update: %w", err)
		}
		defer tx.Rollback()

		row := tx.QueryRowContext(ctx,
			`SELECT `+agentColumns+` FROM agents WHERE id = $1 FOR UPDATE`, id)
		before, err := scanAgent(row)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: agent %s", types.ErrNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("lock agent: %w", err)
		}

		after := before.Clone()
		patch.Apply(after)
		if err := after.Validate(); err != nil {
			return err
		}

		changes := audit.ComputeDiff(before, after)
		if len(changes) == 0 || principalID == nil {
			updated, record = before, nil
			return tx.Commit()
		}

		now := time.Now().UTC()
		after.Version = before.Version + 1
		after.ModifiedBy = principalID
		after.UpdatedAt = now

		capsJSON, err := json.Marshal(after.Capabilities)
		if err != nil {
			return fmt.Errorf("marshal capabilities: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE agents SET
				name = $1, slug = $2, role_label = $3, description = $4,
				icon = $5, system_prompt = $6, ai_model = $7,
				temperature = $8, max_tokens = $9, welcome_message = $10,
				capabilities = $11, category = $12, is_active = $13,
				version = $14, modified_by = $15, updated_at = $16
			WHERE id = $17
		`,
			after.Name, after.Slug, after.RoleLabel, nullStr(after.Description),
			nullStr(after.Icon), nullStr(after.SystemPrompt), after.Model,
			after.Temperature, after.MaxTokens, nullStr(after.WelcomeMessage),
			capsJSON, after.Category, after.Active,
			after.Version, nullUUID(after.ModifiedBy), after.UpdatedAt, id,
		)
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: slug %q already exists in scope", types.ErrConflict, after.Slug)
		}
		if err != nil {
			return fmt.Errorf("update agent: %w", err)
		}

		rec := &types.AuditRecord{
			ID:        uuid.New(),
			AgentID:   id,
			TenantID:  after.TenantID,
			ChangedBy: *principalID,
			ChangedAt: now,
			Changes:   changes,
			Previous:  audit.Snapshot(before),
		}
		if err := s.audits.InsertTx(ctx, tx, rec); err != nil {
			return err
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit update: %w", err)
		}
		updated, record = after, rec
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return updated, record, nil
}

// Delete removes an agent, cascading to sub-agents, knowledge records,
// and audit records in one transaction (the cascades are foreign keys).
func (s *PostgresStore) Delete(ctx context.Context, id uuid.UUID) ([]*types.Agent, error) {
	var deleted []*types.Agent

	err := s.withRetry(ctx, func() error {
		deleted = deleted[:0]

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin delete: %w", err)
		}
		defer tx.Rollback()

		row := tx.QueryRowContext(ctx,
			`SELECT `+agentColumns+` FROM agents WHERE id = $1 FOR UPDATE`, id)
		agent, err := scanAgent(row)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: agent %s", types.ErrNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("lock agent: %w", err)
		}
		deleted = append(deleted, agent)

		rows, err := tx.QueryContext(ctx,
			`SELECT `+agentColumns+` FROM agents WHERE parent_id = $1 FOR UPDATE`, id)
		if err != nil {
			return fmt.Errorf("lock sub-agents: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			sub, err := scanAgent(rows)
			if err != nil {
				return err
			}
			deleted = append(deleted, sub)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate sub-agents: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM agents WHERE id = $1`, id); err != nil {
			return fmt.Errorf("delete agent: %w", err)
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

// AddKnowledge attaches a knowledge record to an agent
func (s *PostgresStore) AddKnowledge(ctx context.Context, rec *types.KnowledgeRecord) error {
	if rec == nil || rec.Title == "" {
		return fmt.Errorf("%w: knowledge record requires a title", types.ErrInvalid)
	}

	cp := *rec
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO knowledge_records (id, tenant_id, agent_id, title, content, source_url, created_at)
		SELECT $1, $2, $3, $4, $5, $6, $7
		WHERE EXISTS (SELECT 1 FROM agents WHERE id = $3 AND tenant_id = $2)
	`, cp.ID, cp.TenantID, cp.AgentID, cp.Title, cp.Content, nullStr(cp.SourceURL), cp.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert knowledge record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: agent %s", types.ErrNotFound, rec.AgentID)
	}
	return nil
}

// ListKnowledge retrieves an agent's knowledge records
func (s *PostgresStore) ListKnowledge(ctx context.Context, tenantID, agentID uuid.UUID) ([]*types.KnowledgeRecord, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM agents WHERE id = $1 AND tenant_id = $2)`,
		agentID, tenantID,
	).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("check agent: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: agent %s", types.ErrNotFound, agentID)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, agent_id, title, content, source_url, created_at
		FROM knowledge_records
		WHERE tenant_id = $1 AND agent_id = $2
		ORDER BY created_at ASC
	`, tenantID, agentID)
	if err != nil {
		return nil, fmt.Errorf("list knowledge records: %w", err)
	}
	defer rows.Close()

	records := []*types.KnowledgeRecord{}
	for rows.Next() {
		var rec types.KnowledgeRecord
		var sourceURL sql.NullString
		if err := rows.Scan(&rec.ID, &rec.TenantID, &rec.AgentID, &rec.Title,
			&rec.Content, &sourceURL, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan knowledge record: %w", err)
		}
		if sourceURL.Valid {
			rec.SourceURL = sourceURL.String
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// withRetry runs op, retrying exactly once on a transient storage
// failure. Terminal taxonomy errors are never retried: retrying would
// not change the outcome.
func (s *PostgresStore) withRetry(ctx context.Context, op func() error) error {
	err := op()
	if err == nil || !isTransient(err) {
		return err
	}
	if err2 := op(); err2 == nil {
		return nil
	} else if !isTransient(err2) {
		return err2
	} else {
		return fmt.Errorf("%w: %v", types.ErrInternal, err2)
	}
}

// isTransient reports whether the error is a retriable storage failure:
// serialization failure, deadlock, or a broken connection.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, types.ErrNotFound) || errors.Is(err, types.ErrConflict) ||
		errors.Is(err, types.ErrInvalid) || errors.Is(err, types.ErrDenied) {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return true
		}
		if pqErr.Code.Class() == "08" { // connection exceptions
			return true
		}
	}
	return false
}

// isUniqueViolation reports whether err is a postgres unique violation
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// scanAgent scans a database row into an Agent
func scanAgent(scanner interface {
	Scan(dest ...interface{}) error
}) (*types.Agent, error) {
	var a types.Agent
	var parentID, createdBy, modifiedBy uuid.NullUUID
	var description, icon, systemPrompt, welcomeMessage sql.NullString
	var capsJSON []byte

	err := scanner.Scan(
		&a.ID, &a.TenantID, &parentID, &a.Name, &a.Slug, &a.RoleLabel,
		&description, &icon, &systemPrompt, &a.Model, &a.Temperature,
		&a.MaxTokens, &welcomeMessage, &capsJSON, &a.Category, &a.Active,
		&a.Version, &createdBy, &modifiedBy, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if parentID.Valid {
		id := parentID.UUID
		a.ParentID = &id
	}
	if createdBy.Valid {
		id := createdBy.UUID
		a.CreatedBy = &id
	}
	if modifiedBy.Valid {
		id := modifiedBy.UUID
		a.ModifiedBy = &id
	}
	if description.Valid {
		a.Description = description.String
	}
	if icon.Valid {
		a.Icon = icon.String
	}
	if systemPrompt.Valid {
		a.SystemPrompt = systemPrompt.String
	}
	if welcomeMessage.Valid {
		a.WelcomeMessage = welcomeMessage.String
	}
	if len(capsJSON) > 0 {
		if err := json.Unmarshal(capsJSON, &a.Capabilities); err != nil {
			return nil, fmt.Errorf("unmarshal capabilities: %w", err)
		}
	}
	return &a, nil
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}
