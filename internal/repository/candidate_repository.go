package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/cursolab/gestao-api/internal/models"
)

// CandidateRepository handles persistence of candidates.
type CandidateRepository struct {
	db *sqlx.DB
}

// NewCandidateRepository constructs the repository.
func NewCandidateRepository(db *sqlx.DB) *CandidateRepository {
	return &CandidateRepository{db: db}
}

const candidateColumns = `id, cpf, full_name, email, phone, class_id, status, reject_reason, student_id, created_at, updated_at`

// List returns candidates filtered by the provided criteria.
func (r *CandidateRepository) List(ctx context.Context, filter models.CandidateFilter) ([]models.CandidateDetail, int, error) {
	base := `FROM candidates ca LEFT JOIN classes cl ON cl.id = ca.class_id`
	where := []string{"1=1"}
	var args []interface{}

	if filter.Status != "" {
		where = append(where, fmt.Sprintf("ca.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.ClassID != "" {
		where = append(where, fmt.Sprintf("ca.class_id = $%d", len(args)+1))
		args = append(args, filter.ClassID)
	}
	if filter.Search != "" {
		where = append(where, fmt.Sprintf("(ca.full_name ILIKE $%d OR ca.cpf = $%d)", len(args)+1, len(args)+2))
		args = append(args, "%"+filter.Search+"%", filter.Search)
	}
	whereClause := strings.Join(where, " AND ")

	allowedSorts := map[string]string{
		"full_name":  "ca.full_name",
		"status":     "ca.status",
		"created_at": "ca.created_at",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "ca.created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT ca.id, ca.cpf, ca.full_name, ca.email, ca.phone, ca.class_id, ca.status,
        ca.reject_reason, ca.student_id, ca.created_at, ca.updated_at, cl.name AS class_name
        %s WHERE %s ORDER BY %s %s LIMIT %d OFFSET %d`, base, whereClause, orderBy, order, size, offset)

	var candidates []models.CandidateDetail
	if err := r.db.SelectContext(ctx, &candidates, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list candidates: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s WHERE %s", base, whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count candidates: %w", err)
	}
	return candidates, total, nil
}

// FindByID returns a candidate by its ID.
func (r *CandidateRepository) FindByID(ctx context.Context, id string) (*models.Candidate, error) {
	query := fmt.Sprintf("SELECT %s FROM candidates WHERE id = $1", candidateColumns)
	var candidate models.Candidate
	if err := r.db.GetContext(ctx, &candidate, query, id); err != nil {
		return nil, err
	}
	return &candidate, nil
}

// FindByIDForUpdate loads a candidate under a row lock inside the
// caller's transaction, serialising concurrent approval attempts.
func (r *CandidateRepository) FindByIDForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Candidate, error) {
	query := fmt.Sprintf("SELECT %s FROM candidates WHERE id = $1 FOR UPDATE", candidateColumns)
	var candidate models.Candidate
	if err := sqlx.GetContext(ctx, exec, &candidate, query, id); err != nil {
		return nil, err
	}
	return &candidate, nil
}

// ExistsByCPF checks whether a candidate already uses the normalized CPF.
func (r *CandidateRepository) ExistsByCPF(ctx context.Context, cpf, excludeID string) (bool, error) {
	return existsByCPF(ctx, r.db, "candidates", cpf, excludeID)
}

// Create persists a new candidate as PENDENTE.
func (r *CandidateRepository) Create(ctx context.Context, candidate *models.Candidate) error {
	now := time.Now().UTC()
	if candidate.ID == "" {
		candidate.ID = uuid.NewString()
	}
	if candidate.Status == "" {
		candidate.Status = models.CandidateStatusPending
	}
	candidate.CreatedAt = now
	candidate.UpdatedAt = now
	const query = `INSERT INTO candidates (id, cpf, full_name, email, phone, class_id, status, reject_reason, student_id, created_at, updated_at)
        VALUES (:id, :cpf, :full_name, :email, :phone, :class_id, :status, :reject_reason, :student_id, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, candidate); err != nil {
		return fmt.Errorf("create candidate: %w", err)
	}
	return nil
}

// UpdateContact persists the non-status candidate fields.
func (r *CandidateRepository) UpdateContact(ctx context.Context, candidate *models.Candidate) error {
	candidate.UpdatedAt = time.Now().UTC()
	const query = `UPDATE candidates SET full_name = :full_name, email = :email, phone = :phone,
        class_id = :class_id, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, candidate); err != nil {
		return fmt.Errorf("update candidate: %w", err)
	}
	return nil
}

// MarkApproved links the candidate to its student and flips the status,
// inside the caller's approval transaction.
func (r *CandidateRepository) MarkApproved(ctx context.Context, exec sqlx.ExtContext, id, studentID string) error {
	const query = `UPDATE candidates SET status = $2, student_id = $3, updated_at = $4 WHERE id = $1`
	if _, err := exec.ExecContext(ctx, query, id, models.CandidateStatusApproved, studentID, time.Now().UTC()); err != nil {
		return fmt.Errorf("mark candidate approved: %w", err)
	}
	return nil
}

// MarkRejected stores the rejection and its reason.
func (r *CandidateRepository) MarkRejected(ctx context.Context, id, reason string) error {
	const query = `UPDATE candidates SET status = $2, reject_reason = $3, updated_at = $4 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, models.CandidateStatusRejected, reason, time.Now().UTC()); err != nil {
		return fmt.Errorf("mark candidate rejected: %w", err)
	}
	return nil
}

// Delete removes a candidate row.
func (r *CandidateRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM candidates WHERE id = $1", id); err != nil {
		return fmt.Errorf("delete candidate: %w", err)
	}
	return nil
}

func existsByCPF(ctx context.Context, q sqlx.QueryerContext, table, cpf, excludeID string) (bool, error) {
	query := fmt.Sprintf("SELECT 1 FROM %s WHERE cpf = $1", table)
	args := []interface{}{cpf}
	if excludeID != "" {
		query += " AND id <> $2"
		args = append(args, excludeID)
	}
	query += " LIMIT 1"
	var exists int
	if err := sqlx.GetContext(ctx, q, &exists, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check cpf in %s: %w", table, err)
	}
	return true, nil
}
