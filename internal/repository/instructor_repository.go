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

// InstructorRepository handles persistence of instructors and their
// class assignments.
type InstructorRepository struct {
	db *sqlx.DB
}

// NewInstructorRepository constructs the repository.
func NewInstructorRepository(db *sqlx.DB) *InstructorRepository {
	return &InstructorRepository{db: db}
}

// List returns instructors filtered by the provided criteria.
func (r *InstructorRepository) List(ctx context.Context, filter models.InstructorFilter) ([]models.Instructor, int, error) {
	where := []string{"1=1"}
	var args []interface{}

	if filter.Search != "" {
		where = append(where, fmt.Sprintf("full_name ILIKE $%d", len(args)+1))
		args = append(args, "%"+filter.Search+"%")
	}
	if filter.Active != nil {
		where = append(where, fmt.Sprintf("active = $%d", len(args)+1))
		args = append(args, *filter.Active)
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

	query := fmt.Sprintf(`SELECT id, full_name, email, phone, specialty, active, created_at, updated_at
        FROM instructors WHERE %s ORDER BY full_name ASC LIMIT %d OFFSET %d`, whereClause, size, offset)

	var instructors []models.Instructor
	if err := r.db.SelectContext(ctx, &instructors, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list instructors: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM instructors WHERE %s", whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count instructors: %w", err)
	}
	return instructors, total, nil
}

// FindByID returns an instructor by its ID.
func (r *InstructorRepository) FindByID(ctx context.Context, id string) (*models.Instructor, error) {
	const query = `SELECT id, full_name, email, phone, specialty, active, created_at, updated_at FROM instructors WHERE id = $1`
	var instructor models.Instructor
	if err := r.db.GetContext(ctx, &instructor, query, id); err != nil {
		return nil, err
	}
	return &instructor, nil
}

// Create persists a new instructor record.
func (r *InstructorRepository) Create(ctx context.Context, instructor *models.Instructor) error {
	now := time.Now().UTC()
	if instructor.ID == "" {
		instructor.ID = uuid.NewString()
	}
	instructor.CreatedAt = now
	instructor.UpdatedAt = now
	const query = `INSERT INTO instructors (id, full_name, email, phone, specialty, active, created_at, updated_at)
        VALUES (:id, :full_name, :email, :phone, :specialty, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, instructor); err != nil {
		return fmt.Errorf("create instructor: %w", err)
	}
	return nil
}

// Update persists mutable instructor fields.
func (r *InstructorRepository) Update(ctx context.Context, instructor *models.Instructor) error {
	instructor.UpdatedAt = time.Now().UTC()
	const query = `UPDATE instructors SET full_name = :full_name, email = :email, phone = :phone,
        specialty = :specialty, active = :active, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, instructor); err != nil {
		return fmt.Errorf("update instructor: %w", err)
	}
	return nil
}

// AssignToClass links an instructor to a class, ignoring duplicates.
func (r *InstructorRepository) AssignToClass(ctx context.Context, classID, instructorID string) error {
	const query = `INSERT INTO class_instructors (id, class_id, instructor_id, created_at)
        VALUES ($1, $2, $3, $4) ON CONFLICT (class_id, instructor_id) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query, uuid.NewString(), classID, instructorID, time.Now().UTC()); err != nil {
		return fmt.Errorf("assign instructor: %w", err)
	}
	return nil
}

// UnassignFromClass removes the instructor-class link.
func (r *InstructorRepository) UnassignFromClass(ctx context.Context, classID, instructorID string) error {
	const query = `DELETE FROM class_instructors WHERE class_id = $1 AND instructor_id = $2`
	if _, err := r.db.ExecContext(ctx, query, classID, instructorID); err != nil {
		return fmt.Errorf("unassign instructor: %w", err)
	}
	return nil
}

// ListByClass returns the instructors assigned to a class.
func (r *InstructorRepository) ListByClass(ctx context.Context, classID string) ([]models.Instructor, error) {
	const query = `SELECT i.id, i.full_name, i.email, i.phone, i.specialty, i.active, i.created_at, i.updated_at
        FROM instructors i
        JOIN class_instructors ci ON ci.instructor_id = i.id
        WHERE ci.class_id = $1 ORDER BY i.full_name ASC`
	var instructors []models.Instructor
	if err := r.db.SelectContext(ctx, &instructors, query, classID); err != nil {
		return nil, fmt.Errorf("list class instructors: %w", err)
	}
	return instructors, nil
}
