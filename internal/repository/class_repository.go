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

// ClassRepository handles persistence of classes and owns the seat
// accounting. Seat mutations are conditional updates so that two
// concurrent approvals can never both claim the last open seat.
type ClassRepository struct {
	db *sqlx.DB
}

// NewClassRepository constructs the repository.
func NewClassRepository(db *sqlx.DB) *ClassRepository {
	return &ClassRepository{db: db}
}

const classColumns = `id, course_id, name, shift, start_date, end_date, vagas, enrolled, status, created_at, updated_at`

// List returns classes filtered by the provided criteria.
func (r *ClassRepository) List(ctx context.Context, filter models.ClassFilter) ([]models.ClassDetail, int, error) {
	base := `FROM classes cl JOIN courses co ON co.id = cl.course_id`
	where := []string{"1=1"}
	var args []interface{}

	if filter.CourseID != "" {
		where = append(where, fmt.Sprintf("cl.course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.Status != "" {
		where = append(where, fmt.Sprintf("cl.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.Shift != "" {
		where = append(where, fmt.Sprintf("cl.shift = $%d", len(args)+1))
		args = append(args, filter.Shift)
	}
	if filter.Search != "" {
		where = append(where, fmt.Sprintf("cl.name ILIKE $%d", len(args)+1))
		args = append(args, "%"+filter.Search+"%")
	}
	whereClause := strings.Join(where, " AND ")

	allowedSorts := map[string]string{
		"name":       "cl.name",
		"start_date": "cl.start_date",
		"created_at": "cl.created_at",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "cl.created_at"
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

	query := fmt.Sprintf(`SELECT cl.id, cl.course_id, cl.name, cl.shift, cl.start_date, cl.end_date,
        cl.vagas, cl.enrolled, cl.status, cl.created_at, cl.updated_at, co.name AS course_name
        %s WHERE %s ORDER BY %s %s LIMIT %d OFFSET %d`, base, whereClause, orderBy, order, size, offset)

	var classes []models.ClassDetail
	if err := r.db.SelectContext(ctx, &classes, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list classes: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s WHERE %s", base, whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count classes: %w", err)
	}
	return classes, total, nil
}

// FindByID returns a class by its ID.
func (r *ClassRepository) FindByID(ctx context.Context, id string) (*models.Class, error) {
	query := fmt.Sprintf("SELECT %s FROM classes WHERE id = $1", classColumns)
	var class models.Class
	if err := r.db.GetContext(ctx, &class, query, id); err != nil {
		return nil, err
	}
	return &class, nil
}

// FindByIDForUpdate loads a class under a row lock inside the caller's
// transaction. Capacity and status decisions must read through this.
func (r *ClassRepository) FindByIDForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Class, error) {
	query := fmt.Sprintf("SELECT %s FROM classes WHERE id = $1 FOR UPDATE", classColumns)
	var class models.Class
	if err := sqlx.GetContext(ctx, exec, &class, query, id); err != nil {
		return nil, err
	}
	return &class, nil
}

// ExistsByName checks class name uniqueness.
func (r *ClassRepository) ExistsByName(ctx context.Context, name, excludeID string) (bool, error) {
	query := "SELECT 1 FROM classes WHERE name = $1"
	args := []interface{}{name}
	if excludeID != "" {
		query += " AND id <> $2"
		args = append(args, excludeID)
	}
	query += " LIMIT 1"
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check class name: %w", err)
	}
	return true, nil
}

// Create persists a new class record.
func (r *ClassRepository) Create(ctx context.Context, class *models.Class) error {
	now := time.Now().UTC()
	if class.ID == "" {
		class.ID = uuid.NewString()
	}
	if class.Status == "" {
		class.Status = models.ClassStatusPlanned
	}
	class.CreatedAt = now
	class.UpdatedAt = now
	const query = `INSERT INTO classes (id, course_id, name, shift, start_date, end_date, vagas, enrolled, status, created_at, updated_at)
        VALUES (:id, :course_id, :name, :shift, :start_date, :end_date, :vagas, :enrolled, :status, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, class); err != nil {
		return fmt.Errorf("create class: %w", err)
	}
	return nil
}

// Update persists mutable class fields.
func (r *ClassRepository) Update(ctx context.Context, class *models.Class) error {
	class.UpdatedAt = time.Now().UTC()
	const query = `UPDATE classes SET name = :name, shift = :shift, start_date = :start_date,
        end_date = :end_date, vagas = :vagas, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, class); err != nil {
		return fmt.Errorf("update class: %w", err)
	}
	return nil
}

// UpdateStatus persists a status change inside the caller's transaction.
func (r *ClassRepository) UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id string, status models.ClassStatus) error {
	const query = `UPDATE classes SET status = $2, updated_at = $3 WHERE id = $1`
	if _, err := exec.ExecContext(ctx, query, id, status, time.Now().UTC()); err != nil {
		return fmt.Errorf("update class status: %w", err)
	}
	return nil
}

// ReserveSeat atomically claims one seat. The conditional update only
// matches while enrolled < vagas, so the affected-row count decides the
// outcome and no read-modify-write window exists. Returns false when the
// class is full; sql.ErrNoRows when the class does not exist.
func (r *ClassRepository) ReserveSeat(ctx context.Context, exec sqlx.ExtContext, classID string) (bool, error) {
	const query = `UPDATE classes SET enrolled = enrolled + 1, updated_at = $2
        WHERE id = $1 AND enrolled < vagas`
	res, err := exec.ExecContext(ctx, query, classID, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("reserve seat: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reserve seat result: %w", err)
	}
	if affected > 0 {
		return true, nil
	}

	var exists int
	if err := sqlx.GetContext(ctx, exec, &exists, "SELECT 1 FROM classes WHERE id = $1", classID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, sql.ErrNoRows
		}
		return false, fmt.Errorf("reserve seat lookup: %w", err)
	}
	return false, nil
}

// ReleaseSeats returns n seats to the pool, floored at zero. Reports
// how many seats were actually released so callers can log a counter
// that had drifted short.
func (r *ClassRepository) ReleaseSeats(ctx context.Context, exec sqlx.ExtContext, classID string, n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	const query = `UPDATE classes SET enrolled = enrolled - $2, updated_at = $3
        WHERE id = $1 AND enrolled >= $2`
	res, err := exec.ExecContext(ctx, query, classID, n, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("release seats: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("release seats result: %w", err)
	}
	if affected > 0 {
		return n, nil
	}

	// Fewer seats accounted than released: floor at zero instead of
	// going negative, reporting how many could actually be returned.
	const floorQuery = `UPDATE classes SET enrolled = 0, updated_at = $2
        WHERE id = $1 RETURNING (SELECT enrolled FROM classes WHERE id = $1)`
	var prev int
	if err := sqlx.GetContext(ctx, exec, &prev, floorQuery, classID, time.Now().UTC()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, sql.ErrNoRows
		}
		return 0, fmt.Errorf("floor seats: %w", err)
	}
	return prev, nil
}
