package identity

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/agentforge/govern/pkg/types"
)

// PostgresStore implements PrincipalStore using PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL principal store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const principalColumns = `id, tenant_id, email, full_name, role, deleted_at, created_at, updated_at`

// Create inserts a new principal
func (s *PostgresStore) Create(ctx context.Context, p *types.Principal) error {
	if p == nil {
		return fmt.Errorf("%w: principal cannot be nil", types.ErrInvalid)
	}
	if !p.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", types.ErrInvalid, p.Role)
	}

	query := `
		INSERT INTO principals (id, tenant_id, email, full_name, role, deleted_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, query,
		p.ID, p.TenantID, p.Email, nullString(p.FullName), string(p.Role),
		nullTime(p.DeletedAt), now, now,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("%w: principal %s already exists", types.ErrConflict, p.ID)
		}
		return fmt.Errorf("insert principal: %w", err)
	}
	return nil
}

// Get retrieves a principal by ID, including soft-deleted rows
func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*types.Principal, error) {
	query := `SELECT ` + principalColumns + ` FROM principals WHERE id = $1`
	row := s.db.QueryRowContext(ctx, query, id)

	p, err := scanPrincipal(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: principal %s", types.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get principal: %w", err)
	}
	return p, nil
}

// List retrieves all principals of a tenant
func (s *PostgresStore) List(ctx context.Context, tenantID uuid.UUID, includeDeleted bool) ([]*types.Principal, error) {
	query := `SELECT ` + principalColumns + ` FROM principals WHERE tenant_id = $1`
	if !includeDeleted {
		query += ` AND deleted_at IS NULL`
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list principals: %w", err)
	}
	defer rows.Close()

	var principals []*types.Principal
	for rows.Next() {
		p, err := scanPrincipal(rows)
		if err != nil {
			return nil, err
		}
		principals = append(principals, p)
	}
	return principals, rows.Err()
}

// SetRole changes a principal's role
func (s *PostgresStore) SetRole(ctx context.Context, id uuid.UUID, role types.Role) error {
	if !role.Valid() {
		return fmt.Errorf("%w: unknown role %q", types.ErrInvalid, role)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE principals SET role = $1, updated_at = $2 WHERE id = $3`,
		string(role), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("set role: %w", err)
	}
	return requireRow(res, id)
}

// SetDeletedAt sets or clears the soft-delete timestamp
func (s *PostgresStore) SetDeletedAt(ctx context.Context, id uuid.UUID, at *time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE principals SET deleted_at = $1, updated_at = $2 WHERE id = $3`,
		nullTime(at), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("set deleted_at: %w", err)
	}
	return requireRow(res, id)
}

// scanPrincipal scans a database row into a Principal
func scanPrincipal(scanner interface {
	Scan(dest ...interface{}) error
}) (*types.Principal, error) {
	var p types.Principal
	var fullName sql.NullString
	var deletedAt sql.NullTime
	var role string

	err := scanner.Scan(
		&p.ID, &p.TenantID, &p.Email, &fullName, &role,
		&deletedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Role = types.Role(role)
	if fullName.Valid {
		p.FullName = fullName.String
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		p.DeletedAt = &t
	}
	return &p, nil
}

func requireRow(res sql.Result, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: principal %s", types.ErrNotFound, id)
	}
	return nil
}

// nullString returns sql.NullString for empty strings
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullTime returns sql.NullTime for nil times
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
