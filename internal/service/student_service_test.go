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

type studentFullRepoStub struct {
	students  map[string]*models.Student
	cpfExists bool
	updated   []*models.Student
}

func (s *studentFullRepoStub) List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, int, error) {
	return nil, 0, nil
}

func (s *studentFullRepoStub) FindByID(ctx context.Context, id string) (*models.Student, error) {
	student, ok := s.students[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copy := *student
	return &copy, nil
}

func (s *studentFullRepoStub) ExistsByCPF(ctx context.Context, cpf, excludeID string) (bool, error) {
	return s.cpfExists, nil
}

func (s *studentFullRepoStub) Create(ctx context.Context, exec sqlx.ExtContext, student *models.Student) error {
	student.ID = "st-new"
	s.students[student.ID] = student
	return nil
}

func (s *studentFullRepoStub) Update(ctx context.Context, student *models.Student) error {
	s.updated = append(s.updated, student)
	s.students[student.ID] = student
	return nil
}

func (s *studentFullRepoStub) NextMatricula(ctx context.Context, exec sqlx.ExtContext, year int) (string, error) {
	return "20260042", nil
}

type candidateLookupStub struct {
	cpfExists bool
}

func (s *candidateLookupStub) ExistsByCPF(ctx context.Context, cpf, excludeID string) (bool, error) {
	return s.cpfExists, nil
}

type studentFixture struct {
	service     *StudentService
	repo        *studentFullRepoStub
	candidates  *candidateLookupStub
	classes     *classRepoStub
	enrollments *enrollmentRepoStub
	mock        sqlmock.Sqlmock
}

func newStudentFixture(t *testing.T) *studentFixture {
	tx, mock := newTxProviderMock(t)
	repo := &studentFullRepoStub{students: map[string]*models.Student{}}
	candidates := &candidateLookupStub{}
	classes := &classRepoStub{classes: map[string]*models.Class{}, seatsLeft: true}
	enrollments := &enrollmentRepoStub{}
	service := NewStudentService(repo, candidates, classes, enrollments, tx,
		NewAuditService(&auditSinkStub{}, zap.NewNop()), nil, zap.NewNop()).
		WithClock(func() time.Time { return time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC) })
	return &studentFixture{
		service:     service,
		repo:        repo,
		candidates:  candidates,
		classes:     classes,
		enrollments: enrollments,
		mock:        mock,
	}
}

func TestStudentServiceCreateWithoutClass(t *testing.T) {
	f := newStudentFixture(t)

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	student, err := f.service.Create(context.Background(), CreateStudentRequest{
		CPF:      "529.982.247-25",
		FullName: "Joao Souza",
		Email:    "joao@example.com",
		Phone:    "11988880000",
	}, models.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, "20260042", student.Matricula)
	assert.Equal(t, "52998224725", student.CPF)
	assert.Empty(t, f.enrollments.created)
	assert.Zero(t, f.classes.reserved)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestStudentServiceCreateWithClassEnrolls(t *testing.T) {
	f := newStudentFixture(t)
	f.classes.classes["c1"] = activeClass("c1")
	classID := "c1"

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	student, err := f.service.Create(context.Background(), CreateStudentRequest{
		CPF:      "52998224725",
		FullName: "Joao Souza",
		Email:    "joao@example.com",
		Phone:    "11988880000",
		ClassID:  &classID,
	}, models.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, 1, f.classes.reserved)
	require.Len(t, f.enrollments.created, 1)
	assert.Equal(t, student.ID, f.enrollments.created[0].StudentID)
	assert.Equal(t, models.EnrollmentStatusActive, f.enrollments.created[0].Status)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestStudentServiceCreateFullClass(t *testing.T) {
	f := newStudentFixture(t)
	f.classes.classes["c1"] = activeClass("c1")
	f.classes.seatsLeft = false
	classID := "c1"

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err := f.service.Create(context.Background(), CreateStudentRequest{
		CPF:      "52998224725",
		FullName: "Joao Souza",
		Email:    "joao@example.com",
		Phone:    "11988880000",
		ClassID:  &classID,
	}, models.RequestMeta{})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrNoSeatsAvailable.Code))
	assert.Empty(t, f.repo.students)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestStudentServiceCreateDuplicateAcrossCandidates(t *testing.T) {
	f := newStudentFixture(t)
	f.candidates.cpfExists = true

	_, err := f.service.Create(context.Background(), CreateStudentRequest{
		CPF:      "52998224725",
		FullName: "Joao Souza",
		Email:    "joao@example.com",
		Phone:    "11988880000",
	}, models.RequestMeta{})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrDuplicateIdentity.Code))
}

func TestStudentServiceUpdateKeepsMatricula(t *testing.T) {
	f := newStudentFixture(t)
	f.repo.students["st1"] = &models.Student{
		ID: "st1", Matricula: "20250003", CPF: "52998224725",
		FullName: "Joao Souza", Email: "joao@example.com", Phone: "11988880000",
	}

	student, err := f.service.Update(context.Background(), "st1", UpdateStudentRequest{
		FullName: "Joao S. Souza",
		Email:    "joao.novo@example.com",
		Phone:    "11977770000",
	}, models.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, "20250003", student.Matricula)
	assert.Equal(t, "52998224725", student.CPF)
	assert.Equal(t, "Joao S. Souza", student.FullName)
}
