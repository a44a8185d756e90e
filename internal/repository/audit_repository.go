package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/cursolab/gestao-api/internal/models"
)

// AuditRepository persists audit trail entries. The table is append-only:
// no update or delete statements exist here on purpose.
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository constructs the repository.
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Create appends an audit log row.
func (r *AuditRepository) Create(ctx context.Context, entry *models.AuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO audit_logs (id, actor_id, action, entity, entity_id, old_values, new_values, ip_address, user_agent, created_at)
        VALUES (:id, :actor_id, :action, :entity, :entity_id, :old_values, :new_values, :ip_address, :user_agent, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}
	return nil
}

// List returns audit entries matching the filter, newest first.
func (r *AuditRepository) List(ctx context.Context, filter models.AuditLogFilter) ([]models.AuditLog, int, error) {
	where := []string{"1=1"}
	var args []interface{}

	if filter.ActorID != "" {
		where = append(where, fmt.Sprintf("actor_id = $%d", len(args)+1))
		args = append(args, filter.ActorID)
	}
	if filter.Action != "" {
		where = append(where, fmt.Sprintf("action = $%d", len(args)+1))
		args = append(args, filter.Action)
	}
	if filter.Entity != "" {
		where = append(where, fmt.Sprintf("entity = $%d", len(args)+1))
		args = append(args, filter.Entity)
	}
	if filter.EntityID != "" {
		where = append(where, fmt.Sprintf("entity_id = $%d", len(args)+1))
		args = append(args, filter.EntityID)
	}
	whereClause := strings.Join(where, " AND ")

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT id, actor_id, action, entity, entity_id, old_values, new_values, ip_address, user_agent, created_at
        FROM audit_logs WHERE %s ORDER BY created_at DESC LIMIT %d OFFSET %d`, whereClause, size, offset)

	var entries []models.AuditLog
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list audit logs: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM audit_logs WHERE %s", whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count audit logs: %w", err)
	}
	return entries, total, nil
}
