package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cursolab/gestao-api/internal/models"
	appErrors "github.com/cursolab/gestao-api/pkg/errors"
)

type attendanceRepoStub struct {
	upserted   []*models.Attendance
	reportRows []models.AttendanceReportRow
	stats      *models.AttendanceStats
}

func (s *attendanceRepoStub) List(ctx context.Context, filter models.AttendanceFilter) ([]models.Attendance, int, error) {
	return nil, 0, nil
}

func (s *attendanceRepoStub) Upsert(ctx context.Context, exec sqlx.ExtContext, record *models.Attendance) (*models.Attendance, error) {
	saved := *record
	saved.ID = "at-" + record.StudentID
	s.upserted = append(s.upserted, &saved)
	return &saved, nil
}

func (s *attendanceRepoStub) ClassReport(ctx context.Context, classID string, date time.Time) ([]models.AttendanceReportRow, error) {
	return s.reportRows, nil
}

func (s *attendanceRepoStub) StudentStats(ctx context.Context, studentID, classID string) (*models.AttendanceStats, error) {
	stats := *s.stats
	return &stats, nil
}

type attendanceClassRepoStub struct {
	classes map[string]*models.Class
}

func (s *attendanceClassRepoStub) FindByID(ctx context.Context, id string) (*models.Class, error) {
	class, ok := s.classes[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return class, nil
}

type attendanceStudentRepoStub struct {
	known map[string]bool
}

func (s *attendanceStudentRepoStub) ExistsByID(ctx context.Context, exec sqlx.ExtContext, id string) (bool, error) {
	return s.known[id], nil
}

func (s *attendanceStudentRepoStub) FindByID(ctx context.Context, id string) (*models.Student, error) {
	if !s.known[id] {
		return nil, sql.ErrNoRows
	}
	return &models.Student{ID: id}, nil
}

type attendanceEnrollmentRepoStub struct {
	enrolled map[string]bool
}

func (s *attendanceEnrollmentRepoStub) HasActive(ctx context.Context, exec sqlx.ExtContext, studentID, classID string) (bool, error) {
	return s.enrolled[studentID], nil
}

type reportCacheStub struct {
	rows        []models.AttendanceReportRow
	hit         bool
	sets        int
	invalidated int
}

func (s *reportCacheStub) GetClassReport(ctx context.Context, classID string, date time.Time) ([]models.AttendanceReportRow, bool) {
	if s.hit {
		return s.rows, true
	}
	return nil, false
}

func (s *reportCacheStub) SetClassReport(ctx context.Context, classID string, date time.Time, rows []models.AttendanceReportRow) {
	s.sets++
	s.rows = rows
}

func (s *reportCacheStub) InvalidateClassReport(ctx context.Context, classID string, date time.Time) {
	s.invalidated++
}

type attendanceFixture struct {
	service     *AttendanceService
	repo        *attendanceRepoStub
	classes     *attendanceClassRepoStub
	students    *attendanceStudentRepoStub
	enrollments *attendanceEnrollmentRepoStub
	cache       *reportCacheStub
	mock        sqlmock.Sqlmock
}

func newAttendanceFixture(t *testing.T) *attendanceFixture {
	tx, mock := newTxProviderMock(t)
	repo := &attendanceRepoStub{}
	classes := &attendanceClassRepoStub{classes: map[string]*models.Class{
		"c1": {ID: "c1", Status: models.ClassStatusActive, Vagas: 20, Enrolled: 2},
	}}
	students := &attendanceStudentRepoStub{known: map[string]bool{"st1": true, "st2": true}}
	enrollments := &attendanceEnrollmentRepoStub{enrolled: map[string]bool{"st1": true, "st2": true}}
	cache := &reportCacheStub{}
	service := NewAttendanceService(repo, classes, students, enrollments, tx,
		NewAuditService(&auditSinkStub{}, zap.NewNop()), cache, nil, zap.NewNop())
	return &attendanceFixture{
		service:     service,
		repo:        repo,
		classes:     classes,
		students:    students,
		enrollments: enrollments,
		cache:       cache,
		mock:        mock,
	}
}

func batchRequest(entries ...models.AttendanceEntry) RecordBatchRequest {
	return RecordBatchRequest{
		Date:    time.Date(2026, 3, 16, 14, 30, 0, 0, time.UTC),
		Entries: entries,
	}
}

func TestAttendanceServiceRecordBatch(t *testing.T) {
	f := newAttendanceFixture(t)

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	records, err := f.service.RecordBatch(context.Background(), "c1", batchRequest(
		models.AttendanceEntry{StudentID: "st1", Status: models.AttendanceStatusPresent},
		models.AttendanceEntry{StudentID: "st2", Status: models.AttendanceStatusAbsent},
	), models.RequestMeta{})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, models.AttendanceStatusPresent, records[0].Status)
	assert.Equal(t, time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC), records[0].Date, "date is truncated to midnight")
	assert.Equal(t, 1, f.cache.invalidated)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestAttendanceServiceRecordBatchNotEnrolled(t *testing.T) {
	f := newAttendanceFixture(t)
	f.enrollments.enrolled["st2"] = false

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err := f.service.RecordBatch(context.Background(), "c1", batchRequest(
		models.AttendanceEntry{StudentID: "st1", Status: models.AttendanceStatusPresent},
		models.AttendanceEntry{StudentID: "st2", Status: models.AttendanceStatusPresent},
	), models.RequestMeta{})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrNotEnrolled.Code))
	assert.Zero(t, f.cache.invalidated)
	assert.NoError(t, f.mock.ExpectationsWereMet(), "the whole batch rolls back on the first bad entry")
}

func TestAttendanceServiceRecordBatchUnknownStudent(t *testing.T) {
	f := newAttendanceFixture(t)

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err := f.service.RecordBatch(context.Background(), "c1", batchRequest(
		models.AttendanceEntry{StudentID: "ghost", Status: models.AttendanceStatusPresent},
	), models.RequestMeta{})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrStudentNotFound.Code))
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestAttendanceServiceRecordBatchInactiveClass(t *testing.T) {
	for _, status := range []models.ClassStatus{models.ClassStatusPlanned, models.ClassStatusEnded, models.ClassStatusCancelled} {
		t.Run(string(status), func(t *testing.T) {
			f := newAttendanceFixture(t)
			f.classes.classes["c1"].Status = status

			_, err := f.service.RecordBatch(context.Background(), "c1", batchRequest(
				models.AttendanceEntry{StudentID: "st1", Status: models.AttendanceStatusPresent},
			), models.RequestMeta{})
			assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation.Code))
			assert.Empty(t, f.repo.upserted)
		})
	}
}

func TestAttendanceServiceRecordBatchUnknownStatus(t *testing.T) {
	f := newAttendanceFixture(t)

	_, err := f.service.RecordBatch(context.Background(), "c1", batchRequest(
		models.AttendanceEntry{StudentID: "st1", Status: "LATE"},
	), models.RequestMeta{})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation.Code))
}

func TestAttendanceServiceRecordBatchEmpty(t *testing.T) {
	f := newAttendanceFixture(t)

	_, err := f.service.RecordBatch(context.Background(), "c1", RecordBatchRequest{
		Date: time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC),
	}, models.RequestMeta{})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation.Code))
}

func TestAttendanceServiceClassReportCacheMiss(t *testing.T) {
	f := newAttendanceFixture(t)
	f.repo.reportRows = []models.AttendanceReportRow{
		{StudentID: "st1", StudentName: "Maria", Status: string(models.AttendanceStatusPresent)},
		{StudentID: "st2", StudentName: "Joao", Status: models.ReportStatusNotRecorded},
	}

	rows, err := f.service.ClassReport(context.Background(), "c1", time.Date(2026, 3, 16, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, models.ReportStatusNotRecorded, rows[1].Status)
	assert.Equal(t, 1, f.cache.sets)
}

func TestAttendanceServiceClassReportCacheHit(t *testing.T) {
	f := newAttendanceFixture(t)
	f.cache.hit = true
	f.cache.rows = []models.AttendanceReportRow{{StudentID: "st1", Status: models.ReportStatusNotRecorded}}

	rows, err := f.service.ClassReport(context.Background(), "c1", time.Date(2026, 3, 16, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Zero(t, f.cache.sets)
}

func TestAttendanceServiceClassReportUnknownClass(t *testing.T) {
	f := newAttendanceFixture(t)

	_, err := f.service.ClassReport(context.Background(), "missing", time.Now())
	assert.True(t, appErrors.HasCode(err, appErrors.ErrClassNotFound.Code))
}

func TestAttendanceServiceStudentStats(t *testing.T) {
	f := newAttendanceFixture(t)
	f.repo.stats = &models.AttendanceStats{Present: 8, Absent: 1, Excused: 1, Total: 10}

	stats, err := f.service.StudentStats(context.Background(), "st1", "c1")
	require.NoError(t, err)
	assert.InDelta(t, 90.0, stats.Percent, 0.001, "excused absences count toward the rate")
}

func TestAttendanceServiceStudentStatsRounding(t *testing.T) {
	f := newAttendanceFixture(t)
	f.repo.stats = &models.AttendanceStats{Present: 2, Absent: 1, Excused: 0, Total: 3}

	stats, err := f.service.StudentStats(context.Background(), "st1", "c1")
	require.NoError(t, err)
	assert.InDelta(t, 66.67, stats.Percent, 0.001)
}

func TestAttendanceServiceStudentStatsNoSessions(t *testing.T) {
	f := newAttendanceFixture(t)
	f.repo.stats = &models.AttendanceStats{}

	stats, err := f.service.StudentStats(context.Background(), "st1", "c1")
	require.NoError(t, err)
	assert.Zero(t, stats.Percent)
}

func TestAttendanceServiceStudentStatsUnknownStudent(t *testing.T) {
	f := newAttendanceFixture(t)

	_, err := f.service.StudentStats(context.Background(), "ghost", "c1")
	assert.True(t, appErrors.HasCode(err, appErrors.ErrStudentNotFound.Code))
}
