package service

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/cursolab/gestao-api/internal/models"
	appErrors "github.com/cursolab/gestao-api/pkg/errors"
)

type attendanceRepository interface {
	List(ctx context.Context, filter models.AttendanceFilter) ([]models.Attendance, int, error)
	Upsert(ctx context.Context, exec sqlx.ExtContext, record *models.Attendance) (*models.Attendance, error)
	ClassReport(ctx context.Context, classID string, date time.Time) ([]models.AttendanceReportRow, error)
	StudentStats(ctx context.Context, studentID, classID string) (*models.AttendanceStats, error)
}

type attendanceClassRepository interface {
	FindByID(ctx context.Context, id string) (*models.Class, error)
}

type attendanceStudentRepository interface {
	ExistsByID(ctx context.Context, exec sqlx.ExtContext, id string) (bool, error)
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

type attendanceEnrollmentRepository interface {
	HasActive(ctx context.Context, exec sqlx.ExtContext, studentID, classID string) (bool, error)
}

// RecordBatchRequest is a full attendance sheet for one class and date.
type RecordBatchRequest struct {
	Date    time.Time                `json:"date" validate:"required"`
	Entries []models.AttendanceEntry `json:"entries" validate:"required,min=1,dive"`
}

// AttendanceService records attendance sheets and serves reports.
type AttendanceService struct {
	repo      attendanceRepository
	classes   attendanceClassRepository
	students  attendanceStudentRepository
	enrolled  attendanceEnrollmentRepository
	tx        txProvider
	audit     *AuditService
	cache     ReportCache
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewAttendanceService constructs AttendanceService. cache may be nil,
// in which case caching is disabled.
func NewAttendanceService(
	repo attendanceRepository,
	classes attendanceClassRepository,
	students attendanceStudentRepository,
	enrolled attendanceEnrollmentRepository,
	tx txProvider,
	audit *AuditService,
	cache ReportCache,
	validate *validator.Validate,
	logger *zap.Logger,
) *AttendanceService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cache == nil {
		cache = NoopReportCache{}
	}
	return &AttendanceService{
		repo:      repo,
		classes:   classes,
		students:  students,
		enrolled:  enrolled,
		tx:        tx,
		audit:     audit,
		cache:     cache,
		validator: validate,
		logger:    logger,
	}
}

// WithMetrics enables cache hit/miss instrumentation.
func (s *AttendanceService) WithMetrics(m *MetricsService) *AttendanceService {
	s.metrics = m
	return s
}

// List returns raw attendance records with pagination metadata.
func (s *AttendanceService) List(ctx context.Context, filter models.AttendanceFilter) ([]models.Attendance, *models.Pagination, error) {
	records, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list attendance")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return records, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// RecordBatch writes an attendance sheet for one class and date. Every
// entry must reference an actively enrolled student; the batch commits
// as a whole or not at all. Re-submitting overwrites earlier marks.
func (s *AttendanceService) RecordBatch(ctx context.Context, classID string, req RecordBatchRequest, meta models.RequestMeta) ([]models.Attendance, error) {
	result, err := s.audit.Intercept(ctx, Mutation{
		Action: models.AuditActionCreate,
		Entity: "attendance",
		Meta:   meta,
	}, func(ctx context.Context) (interface{}, string, error) {
		records, err := s.recordBatch(ctx, classID, req)
		if err != nil {
			return nil, "", err
		}
		return records, classID, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]models.Attendance), nil
}

func (s *AttendanceService) recordBatch(ctx context.Context, classID string, req RecordBatchRequest) (records []models.Attendance, err error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid attendance batch")
	}
	for _, entry := range req.Entries {
		if !entry.Status.Valid() {
			return nil, appErrors.Clone(appErrors.ErrValidation, "unknown attendance status for student "+entry.StudentID)
		}
	}

	class, err := s.classes.FindByID(ctx, classID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrClassNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	if class.Status != models.ClassStatusActive {
		return nil, appErrors.Clone(appErrors.ErrValidation, "attendance can only be recorded for an active class")
	}

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin attendance transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	date := req.Date.Truncate(24 * time.Hour)
	records = make([]models.Attendance, 0, len(req.Entries))
	for _, entry := range req.Entries {
		exists, xerr := s.students.ExistsByID(ctx, tx, entry.StudentID)
		if xerr != nil {
			err = appErrors.Wrap(xerr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check student")
			return nil, err
		}
		if !exists {
			err = appErrors.Clone(appErrors.ErrStudentNotFound, "student "+entry.StudentID+" not found")
			return nil, err
		}
		active, aerr := s.enrolled.HasActive(ctx, tx, entry.StudentID, classID)
		if aerr != nil {
			err = appErrors.Wrap(aerr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
			return nil, err
		}
		if !active {
			err = appErrors.Clone(appErrors.ErrNotEnrolled, "student "+entry.StudentID+" is not actively enrolled in this class")
			return nil, err
		}

		record := &models.Attendance{
			StudentID: entry.StudentID,
			ClassID:   classID,
			Date:      date,
			Status:    entry.Status,
			Notes:     entry.Notes,
		}
		saved, uerr := s.repo.Upsert(ctx, tx, record)
		if uerr != nil {
			err = appErrors.Wrap(uerr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record attendance")
			return nil, err
		}
		records = append(records, *saved)
	}

	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit attendance batch")
		return nil, err
	}

	s.cache.InvalidateClassReport(ctx, classID, date)
	s.logger.Info("attendance batch recorded",
		zap.String("class_id", classID),
		zap.Time("date", date),
		zap.Int("entries", len(records)))
	return records, nil
}

// ClassReport lists every actively enrolled student of the class with
// their mark for the date, NOT_RECORDED when no mark exists yet.
func (s *AttendanceService) ClassReport(ctx context.Context, classID string, date time.Time) ([]models.AttendanceReportRow, error) {
	if _, err := s.classes.FindByID(ctx, classID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrClassNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}

	day := date.Truncate(24 * time.Hour)
	if rows, ok := s.cache.GetClassReport(ctx, classID, day); ok {
		if s.metrics != nil {
			s.metrics.ReportCacheHit()
		}
		return rows, nil
	}
	if s.metrics != nil {
		s.metrics.ReportCacheMiss()
	}

	rows, err := s.repo.ClassReport(ctx, classID, day)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to build attendance report")
	}
	s.cache.SetClassReport(ctx, classID, day, rows)
	return rows, nil
}

// StudentStats aggregates a student's marks for one class. The
// attendance rate counts presences and excused absences over the total,
// rounded to two decimals.
func (s *AttendanceService) StudentStats(ctx context.Context, studentID, classID string) (*models.AttendanceStats, error) {
	if _, err := s.students.FindByID(ctx, studentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrStudentNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if _, err := s.classes.FindByID(ctx, classID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrClassNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}

	stats, err := s.repo.StudentStats(ctx, studentID, classID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to aggregate attendance")
	}
	if stats.Total > 0 {
		rate := float64(stats.Present+stats.Excused) / float64(stats.Total) * 100
		stats.Percent = math.Round(rate*100) / 100
	}
	return stats, nil
}
