package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/agentforge/govern/pkg/types"
)

// PostgresStore implements the Store interface using PostgreSQL.
//
// InsertTx takes the caller's transaction: an audit record and its
// corresponding version bump must commit or roll back together with the
// entity write, so the record is always inserted inside the mutating
// transaction, never on its own connection.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL audit store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const insertAuditQuery = `
	INSERT INTO agent_audit_records (
		id, agent_id, tenant_id, changed_by, changed_at,
		changes, previous_config, change_reason
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`

// Insert appends one audit record on its own connection
func (s *PostgresStore) Insert(ctx context.Context, rec *types.AuditRecord) error {
	return insertAudit(ctx, s.db, rec)
}

// InsertTx appends one audit record inside an existing transaction
func (s *PostgresStore) InsertTx(ctx context.Context, tx *sql.Tx, rec *types.AuditRecord) error {
	return insertAudit(ctx, tx, rec)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func insertAudit(ctx context.Context, db execer, rec *types.AuditRecord) error {
	changesJSON, err := json.Marshal(rec.Changes)
	if err != nil {
		return fmt.Errorf("marshal changes: %w", err)
	}
	previousJSON, err := json.Marshal(rec.Previous)
	if err != nil {
		return fmt.Errorf("marshal previous config: %w", err)
	}

	_, err = db.ExecContext(ctx, insertAuditQuery,
		rec.ID, rec.AgentID, rec.TenantID, rec.ChangedBy, rec.ChangedAt,
		changesJSON, previousJSON, nullString(rec.Reason),
	)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

// History returns a reverse-chronological page of records for one agent
func (s *PostgresStore) History(ctx context.Context, tenantID, agentID uuid.UUID, limit, offset int) ([]*types.AuditRecord, error) {
	query := `
		SELECT id, agent_id, tenant_id, changed_by, changed_at,
		       changes, previous_config, change_reason
		FROM agent_audit_records
		WHERE tenant_id = $1 AND agent_id = $2
		ORDER BY changed_at DESC, id DESC
	`
	args := []interface{}{tenantID, agentID}
	argIndex := 3

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, limit)
		argIndex++
	}
	if offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIndex)
		args = append(args, offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	var records []*types.AuditRecord
	for rows.Next() {
		rec, err := scanAuditRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CountForAgent returns the number of records referencing an agent
func (s *PostgresStore) CountForAgent(ctx context.Context, agentID uuid.UUID) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM agent_audit_records WHERE agent_id = $1`, agentID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count audit records: %w", err)
	}
	return n, nil
}

// DeleteForAgent removes all records for an agent (delete cascade)
func (s *PostgresStore) DeleteForAgent(ctx context.Context, agentID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM agent_audit_records WHERE agent_id = $1`, agentID,
	)
	if err != nil {
		return fmt.Errorf("delete audit records: %w", err)
	}
	return nil
}

// scanAuditRecord scans a database row into an AuditRecord
func scanAuditRecord(scanner interface {
	Scan(dest ...interface{}) error
}) (*types.AuditRecord, error) {
	var rec types.AuditRecord
	var changesJSON, previousJSON []byte
	var reason sql.NullString

	err := scanner.Scan(
		&rec.ID, &rec.AgentID, &rec.TenantID, &rec.ChangedBy, &rec.ChangedAt,
		&changesJSON, &previousJSON, &reason,
	)
	if err != nil {
		return nil, fmt.Errorf("scan audit record: %w", err)
	}

	if len(changesJSON) > 0 {
		if err := json.Unmarshal(changesJSON, &rec.Changes); err != nil {
			return nil, fmt.Errorf("unmarshal changes: %w", err)
		}
	}
	if len(previousJSON) > 0 {
		if err := json.Unmarshal(previousJSON, &rec.Previous); err != nil {
			return nil, fmt.Errorf("unmarshal previous config: %w", err)
		}
	}
	if reason.Valid {
		rec.Reason = reason.String
	}
	return &rec, nil
}

// nullString returns sql.NullString for empty strings
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
