package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cursolab/gestao-api/internal/models"
)

func newStudentMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestStudentRepositoryNextMatricula(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectQuery("INSERT INTO matricula_sequences").
		WithArgs(2026).
		WillReturnRows(sqlmock.NewRows([]string{"last_seq"}).AddRow(7))

	matricula, err := repo.NextMatricula(context.Background(), db, 2026)
	require.NoError(t, err)
	assert.Equal(t, "20260007", matricula)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectExec("INSERT INTO students").
		WillReturnResult(sqlmock.NewResult(0, 1))

	student := &models.Student{
		Matricula: "20260001",
		CPF:       "52998224725",
		FullName:  "Ana Souza",
		Email:     "ana@example.com",
		Phone:     "11999990000",
	}
	err := repo.Create(context.Background(), db, student)
	require.NoError(t, err)
	assert.NotEmpty(t, student.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryExistsByID(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectQuery("SELECT 1 FROM students WHERE id").
		WithArgs("st1").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

	exists, err := repo.ExistsByID(context.Background(), db, "st1")
	require.NoError(t, err)
	assert.True(t, exists)

	mock.ExpectQuery("SELECT 1 FROM students WHERE id").
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	exists, err = repo.ExistsByID(context.Background(), db, "ghost")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryList(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	rows := sqlmock.NewRows([]string{"id", "matricula", "cpf", "full_name", "email", "phone", "class_id", "created_at", "updated_at", "current_class_name", "enrollment_status"}).
		AddRow("st1", "20260001", "52998224725", "Ana Souza", "ana@example.com", "11999990000", "c1", time.Now(), time.Now(), "Turma A", "ACTIVE")
	mock.ExpectQuery("SELECT s.id, s.matricula").
		WillReturnRows(rows)
	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	students, total, err := repo.List(context.Background(), models.StudentFilter{})
	require.NoError(t, err)
	assert.Len(t, students, 1)
	assert.Equal(t, 1, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}
