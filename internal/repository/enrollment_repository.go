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

// EnrollmentRepository handles persistence of enrollments.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// List returns enrollments filtered by the provided criteria.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	base := `FROM enrollments e
JOIN students s ON s.id = e.student_id
JOIN classes cl ON cl.id = e.class_id`
	where := []string{"1=1"}
	var args []interface{}

	if filter.StudentID != "" {
		where = append(where, fmt.Sprintf("e.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.ClassID != "" {
		where = append(where, fmt.Sprintf("e.class_id = $%d", len(args)+1))
		args = append(args, filter.ClassID)
	}
	if filter.Status != "" {
		where = append(where, fmt.Sprintf("e.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	whereClause := strings.Join(where, " AND ")

	allowedSorts := map[string]string{
		"enrolled_at":  "e.enrolled_at",
		"student_name": "s.full_name",
		"class_name":   "cl.name",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "e.enrolled_at"
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

	query := fmt.Sprintf(`SELECT e.id, e.student_id, e.class_id, e.status, e.enrolled_at, e.cancelled_at,
        s.full_name AS student_name, s.matricula AS student_matricula, s.email AS student_email, cl.name AS class_name
        %s WHERE %s ORDER BY %s %s LIMIT %d OFFSET %d`, base, whereClause, orderBy, order, size, offset)

	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s WHERE %s", base, whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}

// Create persists a new enrollment inside the caller's transaction.
func (r *EnrollmentRepository) Create(ctx context.Context, exec sqlx.ExtContext, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	if enrollment.EnrolledAt.IsZero() {
		enrollment.EnrolledAt = time.Now().UTC()
	}
	if enrollment.Status == "" {
		enrollment.Status = models.EnrollmentStatusActive
	}
	const query = `INSERT INTO enrollments (id, student_id, class_id, status, enrolled_at, cancelled_at)
        VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := exec.ExecContext(ctx, query, enrollment.ID, enrollment.StudentID, enrollment.ClassID,
		enrollment.Status, enrollment.EnrolledAt, enrollment.CancelledAt); err != nil {
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

// HasActive checks for an ACTIVE enrollment for the (student, class)
// pair inside the caller's transaction.
func (r *EnrollmentRepository) HasActive(ctx context.Context, exec sqlx.ExtContext, studentID, classID string) (bool, error) {
	const query = `SELECT 1 FROM enrollments WHERE student_id = $1 AND class_id = $2 AND status = $3 LIMIT 1`
	var exists int
	if err := sqlx.GetContext(ctx, exec, &exists, query, studentID, classID, models.EnrollmentStatusActive); err != nil {
		if isNoRows(err) {
			return false, nil
		}
		return false, fmt.Errorf("check active enrollment: %w", err)
	}
	return true, nil
}

// ListActiveByClass returns ACTIVE enrollments with student contact info
// inside the caller's transaction.
func (r *EnrollmentRepository) ListActiveByClass(ctx context.Context, exec sqlx.ExtContext, classID string) ([]models.EnrollmentDetail, error) {
	const query = `SELECT e.id, e.student_id, e.class_id, e.status, e.enrolled_at, e.cancelled_at,
        s.full_name AS student_name, s.matricula AS student_matricula, s.email AS student_email, cl.name AS class_name
        FROM enrollments e
        JOIN students s ON s.id = e.student_id
        JOIN classes cl ON cl.id = e.class_id
        WHERE e.class_id = $1 AND e.status = $2`
	var enrollments []models.EnrollmentDetail
	if err := sqlx.SelectContext(ctx, exec, &enrollments, query, classID, models.EnrollmentStatusActive); err != nil {
		return nil, fmt.Errorf("list class enrollments: %w", err)
	}
	return enrollments, nil
}

// UpdateStatusByClass flips every ACTIVE enrollment in the class to the
// given status inside the caller's transaction, returning how many rows
// changed.
func (r *EnrollmentRepository) UpdateStatusByClass(ctx context.Context, exec sqlx.ExtContext, classID string, status models.EnrollmentStatus, at time.Time) (int, error) {
	var query string
	var args []interface{}
	if status == models.EnrollmentStatusCancelled {
		query = `UPDATE enrollments SET status = $2, cancelled_at = $3 WHERE class_id = $1 AND status = $4`
		args = []interface{}{classID, status, at, models.EnrollmentStatusActive}
	} else {
		query = `UPDATE enrollments SET status = $2 WHERE class_id = $1 AND status = $3`
		args = []interface{}{classID, status, models.EnrollmentStatusActive}
	}
	res, err := exec.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("update enrollments by class: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("update enrollments result: %w", err)
	}
	return int(affected), nil
}
