package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cursolab/gestao-api/internal/models"
)

func newCandidateMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func candidateRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "cpf", "full_name", "email", "phone", "class_id", "status", "reject_reason", "student_id", "created_at", "updated_at"})
}

func TestCandidateRepositoryFindByID(t *testing.T) {
	db, mock, cleanup := newCandidateMock(t)
	defer cleanup()
	repo := NewCandidateRepository(db)

	mock.ExpectQuery("SELECT .* FROM candidates WHERE id = \\$1").
		WithArgs("ca1").
		WillReturnRows(candidateRows().AddRow("ca1", "52998224725", "Maria Silva", "maria@example.com", "11999990000", nil, "PENDENTE", nil, nil, time.Now(), time.Now()))

	candidate, err := repo.FindByID(context.Background(), "ca1")
	require.NoError(t, err)
	assert.Equal(t, models.CandidateStatusPending, candidate.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCandidateRepositoryExistsByCPF(t *testing.T) {
	db, mock, cleanup := newCandidateMock(t)
	defer cleanup()
	repo := NewCandidateRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM candidates WHERE cpf = $1 LIMIT 1")).
		WithArgs("52998224725").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

	exists, err := repo.ExistsByCPF(context.Background(), "52998224725", "")
	require.NoError(t, err)
	assert.True(t, exists)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM candidates WHERE cpf = $1 LIMIT 1")).
		WithArgs("12345678901").
		WillReturnError(sql.ErrNoRows)

	exists, err = repo.ExistsByCPF(context.Background(), "12345678901", "")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCandidateRepositoryCreateDefaultsPending(t *testing.T) {
	db, mock, cleanup := newCandidateMock(t)
	defer cleanup()
	repo := NewCandidateRepository(db)

	mock.ExpectExec("INSERT INTO candidates").
		WillReturnResult(sqlmock.NewResult(0, 1))

	candidate := &models.Candidate{
		CPF:      "52998224725",
		FullName: "Maria Silva",
		Email:    "maria@example.com",
		Phone:    "11999990000",
	}
	err := repo.Create(context.Background(), candidate)
	require.NoError(t, err)
	assert.NotEmpty(t, candidate.ID)
	assert.Equal(t, models.CandidateStatusPending, candidate.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCandidateRepositoryMarkApproved(t *testing.T) {
	db, mock, cleanup := newCandidateMock(t)
	defer cleanup()
	repo := NewCandidateRepository(db)

	mock.ExpectExec("UPDATE candidates SET status").
		WithArgs("ca1", models.CandidateStatusApproved, "st1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.MarkApproved(context.Background(), db, "ca1", "st1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCandidateRepositoryMarkRejected(t *testing.T) {
	db, mock, cleanup := newCandidateMock(t)
	defer cleanup()
	repo := NewCandidateRepository(db)

	mock.ExpectExec("UPDATE candidates SET status").
		WithArgs("ca1", models.CandidateStatusRejected, "incomplete documents", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.MarkRejected(context.Background(), "ca1", "incomplete documents")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
