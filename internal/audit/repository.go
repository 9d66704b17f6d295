package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const defaultTable = "audit_logs"

// Repository appends audit entries to postgres. Rows are never updated.
type Repository struct {
	db    *sql.DB
	table string
}

// RepositoryOption customizes Repository.
type RepositoryOption func(*Repository)

// WithTable overrides the table name.
func WithTable(table string) RepositoryOption {
	return func(r *Repository) {
		if table != "" {
			r.table = table
		}
	}
}

// NewRepository constructs an audit repository.
func NewRepository(db *sql.DB, opts ...RepositoryOption) (*Repository, error) {
	if db == nil {
		return nil, errors.New("audit repo: nil db")
	}
	r := &Repository{db: db, table: defaultTable}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Log implements Logger.
func (r *Repository) Log(ctx context.Context, entry Entry) error {
	fill(&entry)
	var metadata []byte
	if len(entry.Metadata) > 0 {
		metadata = []byte(entry.Metadata)
	}
	_, err := r.db.ExecContext(ctx, fmt.Sprintf(`
INSERT INTO %s (
	id, tenant_id, actor, role, action, resource_type, resource_id,
	metadata, payload_digest, ip, user_agent, created_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
)`, r.table), entry.ID, entry.TenantID, entry.Actor, entry.Role, entry.Action, entry.ResourceType, entry.ResourceID,
		metadata, entry.PayloadDigest, entry.IP, entry.UserAgent, entry.CreatedAt)
	return err
}

// ListByResource returns the trail of one resource, oldest first.
func (r *Repository) ListByResource(ctx context.Context, tenantID, resourceType, resourceID string) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
SELECT id, tenant_id, actor, role, action, resource_type, resource_id,
	metadata, payload_digest, ip, user_agent, created_at
FROM %s
WHERE tenant_id = $1 AND resource_type = $2 AND resource_id = $3
ORDER BY created_at ASC`, r.table), tenantID, resourceType, resourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e         Entry
			metadata  []byte
			createdAt time.Time
		)
		if err := rows.Scan(&e.ID, &e.TenantID, &e.Actor, &e.Role, &e.Action, &e.ResourceType, &e.ResourceID,
			&metadata, &e.PayloadDigest, &e.IP, &e.UserAgent, &createdAt); err != nil {
			return nil, err
		}
		e.Metadata = metadata
		e.CreatedAt = createdAt.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}
