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

type txProviderMock struct {
	db *sqlx.DB
}

func newTxProviderMock(t *testing.T) (txProvider, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	t.Cleanup(func() { db.Close() })
	return &txProviderMock{db: sqlxdb}, mock
}

func (t *txProviderMock) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return t.db.BeginTxx(ctx, opts)
}

type candidateRepoStub struct {
	candidates map[string]*models.Candidate
	cpfExists  bool
	approved   map[string]string
	rejected   map[string]string
	deleted    []string
}

func newCandidateRepoStub() *candidateRepoStub {
	return &candidateRepoStub{
		candidates: map[string]*models.Candidate{},
		approved:   map[string]string{},
		rejected:   map[string]string{},
	}
}

func (s *candidateRepoStub) List(ctx context.Context, filter models.CandidateFilter) ([]models.CandidateDetail, int, error) {
	return nil, 0, nil
}

func (s *candidateRepoStub) FindByID(ctx context.Context, id string) (*models.Candidate, error) {
	candidate, ok := s.candidates[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copy := *candidate
	return &copy, nil
}

func (s *candidateRepoStub) FindByIDForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Candidate, error) {
	return s.FindByID(ctx, id)
}

func (s *candidateRepoStub) ExistsByCPF(ctx context.Context, cpf, excludeID string) (bool, error) {
	return s.cpfExists, nil
}

func (s *candidateRepoStub) Create(ctx context.Context, candidate *models.Candidate) error {
	candidate.ID = "ca-new"
	s.candidates[candidate.ID] = candidate
	return nil
}

func (s *candidateRepoStub) UpdateContact(ctx context.Context, candidate *models.Candidate) error {
	s.candidates[candidate.ID] = candidate
	return nil
}

func (s *candidateRepoStub) MarkApproved(ctx context.Context, exec sqlx.ExtContext, id, studentID string) error {
	s.approved[id] = studentID
	return nil
}

func (s *candidateRepoStub) MarkRejected(ctx context.Context, id, reason string) error {
	s.rejected[id] = reason
	return nil
}

func (s *candidateRepoStub) Delete(ctx context.Context, id string) error {
	s.deleted = append(s.deleted, id)
	return nil
}

type studentRepoStub struct {
	cpfExists bool
	createErr error
	created   []*models.Student
	seq       int
}

func (s *studentRepoStub) ExistsByCPF(ctx context.Context, cpf, excludeID string) (bool, error) {
	return s.cpfExists, nil
}

func (s *studentRepoStub) Create(ctx context.Context, exec sqlx.ExtContext, student *models.Student) error {
	if s.createErr != nil {
		return s.createErr
	}
	student.ID = "st-new"
	s.created = append(s.created, student)
	return nil
}

func (s *studentRepoStub) NextMatricula(ctx context.Context, exec sqlx.ExtContext, year int) (string, error) {
	s.seq++
	return time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC).Format("2006") + "0001", nil
}

type classRepoStub struct {
	classes   map[string]*models.Class
	seatsLeft bool
	reserved  int
}

func (s *classRepoStub) FindByID(ctx context.Context, id string) (*models.Class, error) {
	class, ok := s.classes[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copy := *class
	return &copy, nil
}

func (s *classRepoStub) FindByIDForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Class, error) {
	return s.FindByID(ctx, id)
}

func (s *classRepoStub) ReserveSeat(ctx context.Context, exec sqlx.ExtContext, classID string) (bool, error) {
	if _, ok := s.classes[classID]; !ok {
		return false, sql.ErrNoRows
	}
	if !s.seatsLeft {
		return false, nil
	}
	s.reserved++
	return true, nil
}

type enrollmentRepoStub struct {
	createErr error
	created   []*models.Enrollment
}

func (s *enrollmentRepoStub) Create(ctx context.Context, exec sqlx.ExtContext, enrollment *models.Enrollment) error {
	if s.createErr != nil {
		return s.createErr
	}
	enrollment.ID = "en-new"
	s.created = append(s.created, enrollment)
	return nil
}

type auditSinkStub struct {
	entries []*models.AuditLog
	err     error
}

func (s *auditSinkStub) Create(ctx context.Context, entry *models.AuditLog) error {
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, entry)
	return nil
}

func (s *auditSinkStub) List(ctx context.Context, filter models.AuditLogFilter) ([]models.AuditLog, int, error) {
	return nil, 0, nil
}

type candidateFixture struct {
	service     *CandidateService
	candidates  *candidateRepoStub
	students    *studentRepoStub
	classes     *classRepoStub
	enrollments *enrollmentRepoStub
	audit       *auditSinkStub
	mock        sqlmock.Sqlmock
}

func newCandidateFixture(t *testing.T) *candidateFixture {
	tx, mock := newTxProviderMock(t)
	candidates := newCandidateRepoStub()
	students := &studentRepoStub{}
	classes := &classRepoStub{classes: map[string]*models.Class{}, seatsLeft: true}
	enrollments := &enrollmentRepoStub{}
	audit := &auditSinkStub{}
	service := NewCandidateService(candidates, students, classes, enrollments, tx,
		NewAuditService(audit, zap.NewNop()), nil, zap.NewNop()).
		WithClock(func() time.Time { return time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC) })
	return &candidateFixture{
		service:     service,
		candidates:  candidates,
		students:    students,
		classes:     classes,
		enrollments: enrollments,
		audit:       audit,
		mock:        mock,
	}
}

func activeClass(id string) *models.Class {
	return &models.Class{ID: id, CourseID: "co1", Name: "Turma A", Shift: "MORNING", Vagas: 30, Enrolled: 10, Status: models.ClassStatusActive}
}

func pendingCandidate(id, classID string) *models.Candidate {
	cls := classID
	return &models.Candidate{
		ID:       id,
		CPF:      "52998224725",
		FullName: "Maria Silva",
		Email:    "maria@example.com",
		Phone:    "11999990000",
		ClassID:  &cls,
		Status:   models.CandidateStatusPending,
	}
}

func TestCandidateServiceCreateNormalizesCPF(t *testing.T) {
	f := newCandidateFixture(t)

	candidate, err := f.service.Create(context.Background(), CreateCandidateRequest{
		CPF:      "529.982.247-25",
		FullName: "Maria Silva",
		Email:    "maria@example.com",
		Phone:    "11999990000",
	}, models.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, "52998224725", candidate.CPF)
	assert.Equal(t, models.CandidateStatusPending, candidate.Status)
	require.Len(t, f.audit.entries, 1)
	assert.Equal(t, models.AuditActionCreate, f.audit.entries[0].Action)
}

func TestCandidateServiceCreateInvalidCPF(t *testing.T) {
	f := newCandidateFixture(t)

	_, err := f.service.Create(context.Background(), CreateCandidateRequest{
		CPF:      "123",
		FullName: "Maria Silva",
		Email:    "maria@example.com",
		Phone:    "11999990000",
	}, models.RequestMeta{})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInvalidIdentity.Code))
	assert.Empty(t, f.audit.entries)
}

func TestCandidateServiceCreateDuplicateAcrossStudents(t *testing.T) {
	f := newCandidateFixture(t)
	f.students.cpfExists = true

	_, err := f.service.Create(context.Background(), CreateCandidateRequest{
		CPF:      "52998224725",
		FullName: "Maria Silva",
		Email:    "maria@example.com",
		Phone:    "11999990000",
	}, models.RequestMeta{})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrDuplicateIdentity.Code))
}

func TestCandidateServiceApprove(t *testing.T) {
	f := newCandidateFixture(t)
	f.classes.classes["c1"] = activeClass("c1")
	f.candidates.candidates["ca1"] = pendingCandidate("ca1", "c1")

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	result, err := f.service.Approve(context.Background(), "ca1", models.RequestMeta{})
	require.NoError(t, err)

	assert.Equal(t, models.CandidateStatusApproved, result.Candidate.Status)
	require.NotNil(t, result.Student)
	assert.Equal(t, "20260001", result.Student.Matricula)
	assert.Equal(t, "52998224725", result.Student.CPF)
	require.NotNil(t, result.Enrollment)
	assert.Equal(t, models.EnrollmentStatusActive, result.Enrollment.Status)
	assert.Equal(t, "c1", result.Enrollment.ClassID)

	assert.Equal(t, 1, f.classes.reserved)
	assert.Equal(t, "st-new", f.candidates.approved["ca1"])
	require.Len(t, f.audit.entries, 1)
	assert.Equal(t, models.AuditActionApprove, f.audit.entries[0].Action)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCandidateServiceApproveTwice(t *testing.T) {
	f := newCandidateFixture(t)
	f.classes.classes["c1"] = activeClass("c1")
	candidate := pendingCandidate("ca1", "c1")
	candidate.Status = models.CandidateStatusApproved
	f.candidates.candidates["ca1"] = candidate

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err := f.service.Approve(context.Background(), "ca1", models.RequestMeta{})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrAlreadyApproved.Code))
	assert.Zero(t, f.classes.reserved)
	assert.Empty(t, f.students.created)
	assert.Empty(t, f.audit.entries)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCandidateServiceApproveFullClass(t *testing.T) {
	f := newCandidateFixture(t)
	f.classes.classes["c1"] = activeClass("c1")
	f.classes.seatsLeft = false
	f.candidates.candidates["ca1"] = pendingCandidate("ca1", "c1")

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err := f.service.Approve(context.Background(), "ca1", models.RequestMeta{})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrNoSeatsAvailable.Code))
	assert.Empty(t, f.students.created)
	assert.Empty(t, f.enrollments.created)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCandidateServiceApproveStudentCreateFailureRollsBack(t *testing.T) {
	f := newCandidateFixture(t)
	f.classes.classes["c1"] = activeClass("c1")
	f.candidates.candidates["ca1"] = pendingCandidate("ca1", "c1")
	f.students.createErr = assert.AnError

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err := f.service.Approve(context.Background(), "ca1", models.RequestMeta{})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInternal.Code))

	// the reservation happened inside the transaction that rolled back,
	// so nothing downstream of it may survive
	assert.Equal(t, 1, f.classes.reserved)
	assert.Empty(t, f.students.created)
	assert.Empty(t, f.enrollments.created)
	assert.Empty(t, f.candidates.approved)
	assert.Empty(t, f.audit.entries)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCandidateServiceApproveEnrollmentCreateFailureRollsBack(t *testing.T) {
	f := newCandidateFixture(t)
	f.classes.classes["c1"] = activeClass("c1")
	f.candidates.candidates["ca1"] = pendingCandidate("ca1", "c1")
	f.enrollments.createErr = assert.AnError

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err := f.service.Approve(context.Background(), "ca1", models.RequestMeta{})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInternal.Code))
	assert.Empty(t, f.candidates.approved)
	assert.Empty(t, f.audit.entries)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCandidateServiceApproveRejectedCandidate(t *testing.T) {
	f := newCandidateFixture(t)
	f.classes.classes["c1"] = activeClass("c1")
	candidate := pendingCandidate("ca1", "c1")
	candidate.Status = models.CandidateStatusRejected
	f.candidates.candidates["ca1"] = candidate

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	result, err := f.service.Approve(context.Background(), "ca1", models.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, models.CandidateStatusApproved, result.Candidate.Status)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCandidateServiceApproveCandidateWithoutClass(t *testing.T) {
	f := newCandidateFixture(t)
	candidate := pendingCandidate("ca1", "c1")
	candidate.ClassID = nil
	f.candidates.candidates["ca1"] = candidate

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err := f.service.Approve(context.Background(), "ca1", models.RequestMeta{})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation.Code))
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCandidateServiceApproveMissingCandidate(t *testing.T) {
	f := newCandidateFixture(t)

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err := f.service.Approve(context.Background(), "missing", models.RequestMeta{})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrCandidateNotFound.Code))
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCandidateServiceRejectApprovedCandidate(t *testing.T) {
	f := newCandidateFixture(t)
	candidate := pendingCandidate("ca1", "c1")
	candidate.Status = models.CandidateStatusApproved
	f.candidates.candidates["ca1"] = candidate

	_, err := f.service.Reject(context.Background(), "ca1", RejectCandidateRequest{Reason: "late"}, models.RequestMeta{})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrAlreadyApproved.Code))
	assert.Empty(t, f.candidates.rejected)
}

func TestCandidateServiceRejectTwice(t *testing.T) {
	f := newCandidateFixture(t)
	candidate := pendingCandidate("ca1", "c1")
	candidate.Status = models.CandidateStatusRejected
	f.candidates.candidates["ca1"] = candidate

	rejected, err := f.service.Reject(context.Background(), "ca1", RejectCandidateRequest{Reason: "updated reason"}, models.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, models.CandidateStatusRejected, rejected.Status)
	assert.Equal(t, "updated reason", f.candidates.rejected["ca1"])
}

func TestCandidateServiceDeleteApproved(t *testing.T) {
	f := newCandidateFixture(t)
	candidate := pendingCandidate("ca1", "c1")
	candidate.Status = models.CandidateStatusApproved
	f.candidates.candidates["ca1"] = candidate

	err := f.service.Delete(context.Background(), "ca1", models.RequestMeta{})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrCannotDeleteApproved.Code))
	assert.Empty(t, f.candidates.deleted)
}

func TestCandidateServiceDeletePending(t *testing.T) {
	f := newCandidateFixture(t)
	f.candidates.candidates["ca1"] = pendingCandidate("ca1", "c1")

	err := f.service.Delete(context.Background(), "ca1", models.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, []string{"ca1"}, f.candidates.deleted)
	require.Len(t, f.audit.entries, 1)
	assert.Equal(t, models.AuditActionDelete, f.audit.entries[0].Action)
}

func TestCandidateServiceAuditFailureDoesNotBlock(t *testing.T) {
	f := newCandidateFixture(t)
	f.audit.err = assert.AnError

	candidate, err := f.service.Create(context.Background(), CreateCandidateRequest{
		CPF:      "52998224725",
		FullName: "Maria Silva",
		Email:    "maria@example.com",
		Phone:    "11999990000",
	}, models.RequestMeta{})
	require.NoError(t, err)
	assert.NotEmpty(t, candidate.ID)
}
