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

// AttendanceRepository handles persistence of attendance records.
type AttendanceRepository struct {
	db *sqlx.DB
}

// NewAttendanceRepository constructs the repository.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

// List returns attendance rows matching the provided filter.
func (r *AttendanceRepository) List(ctx context.Context, filter models.AttendanceFilter) ([]models.Attendance, int, error) {
	base := `FROM attendance a`
	where := []string{"1=1"}
	var args []interface{}

	if filter.ClassID != "" {
		where = append(where, fmt.Sprintf("a.class_id = $%d", len(args)+1))
		args = append(args, filter.ClassID)
	}
	if filter.StudentID != "" {
		where = append(where, fmt.Sprintf("a.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.Status != nil && filter.Status.Valid() {
		where = append(where, fmt.Sprintf("a.status = $%d", len(args)+1))
		args = append(args, *filter.Status)
	}
	if filter.DateFrom != nil {
		where = append(where, fmt.Sprintf("a.date >= $%d", len(args)+1))
		args = append(args, *filter.DateFrom)
	}
	if filter.DateTo != nil {
		where = append(where, fmt.Sprintf("a.date <= $%d", len(args)+1))
		args = append(args, *filter.DateTo)
	}
	whereClause := strings.Join(where, " AND ")

	allowedSorts := map[string]string{
		"date":       "a.date",
		"status":     "a.status",
		"created_at": "a.created_at",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "a.date"
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
	if size <= 0 || size > 200 {
		size = 50
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT a.id, a.student_id, a.class_id, a.date, a.status, a.notes, a.created_at, a.updated_at
        %s WHERE %s ORDER BY %s %s LIMIT %d OFFSET %d`, base, whereClause, orderBy, order, size, offset)

	var rows []models.Attendance
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list attendance: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s WHERE %s", base, whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count attendance: %w", err)
	}
	return rows, total, nil
}

// Upsert inserts or overwrites the (student, class, date) row inside the
// caller's transaction. Attendance is correctable, not append-only.
func (r *AttendanceRepository) Upsert(ctx context.Context, exec sqlx.ExtContext, record *models.Attendance) (*models.Attendance, error) {
	now := time.Now().UTC()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	const query = `INSERT INTO attendance (id, student_id, class_id, date, status, notes, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (student_id, class_id, date)
DO UPDATE SET status = EXCLUDED.status, notes = EXCLUDED.notes, updated_at = EXCLUDED.updated_at
RETURNING id, student_id, class_id, date, status, notes, created_at, updated_at`
	var stored models.Attendance
	if err := sqlx.GetContext(ctx, exec, &stored, query, record.ID, record.StudentID, record.ClassID,
		record.Date, record.Status, record.Notes, record.CreatedAt, record.UpdatedAt); err != nil {
		return nil, fmt.Errorf("upsert attendance: %w", err)
	}
	return &stored, nil
}

// ClassReport lists every ACTIVE enrollment in the class with the
// recorded status for the date, or NOT_RECORDED. Left-join semantics so
// unrecorded students stay visible.
func (r *AttendanceRepository) ClassReport(ctx context.Context, classID string, date time.Time) ([]models.AttendanceReportRow, error) {
	const query = `SELECT s.id AS student_id, s.full_name AS student_name, s.matricula AS student_matricula,
        COALESCE(a.status, 'NOT_RECORDED') AS status, a.notes
        FROM enrollments e
        JOIN students s ON s.id = e.student_id
        LEFT JOIN attendance a ON a.student_id = e.student_id AND a.class_id = e.class_id AND a.date = $2
        WHERE e.class_id = $1 AND e.status = $3
        ORDER BY s.full_name ASC`
	var rows []models.AttendanceReportRow
	if err := r.db.SelectContext(ctx, &rows, query, classID, date, models.EnrollmentStatusActive); err != nil {
		return nil, fmt.Errorf("class report: %w", err)
	}
	return rows, nil
}

// StudentStats aggregates recorded attendance for a student in a class.
func (r *AttendanceRepository) StudentStats(ctx context.Context, studentID, classID string) (*models.AttendanceStats, error) {
	const query = `SELECT
        COUNT(*) FILTER (WHERE status = 'PRESENT') AS present,
        COUNT(*) FILTER (WHERE status = 'ABSENT') AS absent,
        COUNT(*) FILTER (WHERE status = 'EXCUSED') AS excused,
        COUNT(*) AS total
        FROM attendance WHERE student_id = $1 AND class_id = $2`
	var stats models.AttendanceStats
	if err := r.db.GetContext(ctx, &stats, query, studentID, classID); err != nil {
		return nil, fmt.Errorf("student attendance stats: %w", err)
	}
	return &stats, nil
}
