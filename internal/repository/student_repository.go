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

// StudentRepository handles persistence of students and owns the
// matricula sequence allocator.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs the repository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// List returns students filtered by the provided criteria.
func (r *StudentRepository) List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, int, error) {
	base := `FROM students s
LEFT JOIN enrollments e ON e.student_id = s.id AND e.status = 'ACTIVE'
LEFT JOIN classes cl ON cl.id = e.class_id`
	where := []string{"1=1"}
	var args []interface{}

	if filter.Search != "" {
		where = append(where, fmt.Sprintf("(s.full_name ILIKE $%d OR s.cpf = $%d OR s.matricula = $%d)", len(args)+1, len(args)+2, len(args)+3))
		args = append(args, "%"+filter.Search+"%", filter.Search, filter.Search)
	}
	if filter.ClassID != "" {
		where = append(where, fmt.Sprintf("e.class_id = $%d", len(args)+1))
		args = append(args, filter.ClassID)
	}
	whereClause := strings.Join(where, " AND ")

	allowedSorts := map[string]string{
		"full_name":  "s.full_name",
		"matricula":  "s.matricula",
		"created_at": "s.created_at",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "s.created_at"
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

	query := fmt.Sprintf(`SELECT s.id, s.matricula, s.cpf, s.full_name, s.email, s.phone, s.class_id,
        s.created_at, s.updated_at, cl.name AS current_class_name, e.status AS enrollment_status
        %s WHERE %s ORDER BY %s %s LIMIT %d OFFSET %d`, base, whereClause, orderBy, order, size, offset)

	var students []models.StudentDetail
	if err := r.db.SelectContext(ctx, &students, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list students: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(DISTINCT s.id) %s WHERE %s", base, whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count students: %w", err)
	}
	return students, total, nil
}

// FindByID returns a student by its ID.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.Student, error) {
	const query = `SELECT id, matricula, cpf, full_name, email, phone, class_id, created_at, updated_at FROM students WHERE id = $1`
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, id); err != nil {
		return nil, err
	}
	return &student, nil
}

// ExistsByID checks student existence inside the caller's transaction.
func (r *StudentRepository) ExistsByID(ctx context.Context, exec sqlx.ExtContext, id string) (bool, error) {
	var exists int
	if err := sqlx.GetContext(ctx, exec, &exists, "SELECT 1 FROM students WHERE id = $1 LIMIT 1", id); err != nil {
		if isNoRows(err) {
			return false, nil
		}
		return false, fmt.Errorf("check student: %w", err)
	}
	return true, nil
}

// ExistsByCPF checks whether a student already uses the normalized CPF.
func (r *StudentRepository) ExistsByCPF(ctx context.Context, cpf, excludeID string) (bool, error) {
	return existsByCPF(ctx, r.db, "students", cpf, excludeID)
}

// Create persists a new student record inside the caller's transaction.
func (r *StudentRepository) Create(ctx context.Context, exec sqlx.ExtContext, student *models.Student) error {
	now := time.Now().UTC()
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	student.CreatedAt = now
	student.UpdatedAt = now
	const query = `INSERT INTO students (id, matricula, cpf, full_name, email, phone, class_id, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	if _, err := exec.ExecContext(ctx, query, student.ID, student.Matricula, student.CPF, student.FullName,
		student.Email, student.Phone, student.ClassID, student.CreatedAt, student.UpdatedAt); err != nil {
		return fmt.Errorf("create student: %w", err)
	}
	return nil
}

// Update persists mutable student fields.
func (r *StudentRepository) Update(ctx context.Context, student *models.Student) error {
	student.UpdatedAt = time.Now().UTC()
	const query = `UPDATE students SET full_name = :full_name, email = :email, phone = :phone, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, student); err != nil {
		return fmt.Errorf("update student: %w", err)
	}
	return nil
}

// NextMatricula allocates the next enrollment code for the given year.
// The allocation is an atomic upsert on a dedicated counter row, so
// concurrent approvals can never mint the same code. Must run inside the
// same transaction as the student insert that consumes the code.
func (r *StudentRepository) NextMatricula(ctx context.Context, exec sqlx.ExtContext, year int) (string, error) {
	const query = `INSERT INTO matricula_sequences (year, last_seq) VALUES ($1, 1)
        ON CONFLICT (year) DO UPDATE SET last_seq = matricula_sequences.last_seq + 1
        RETURNING last_seq`
	var seq int
	if err := sqlx.GetContext(ctx, exec, &seq, query, year); err != nil {
		return "", fmt.Errorf("next matricula: %w", err)
	}
	return fmt.Sprintf("%d%04d", year, seq), nil
}
