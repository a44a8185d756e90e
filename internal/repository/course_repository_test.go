package repository

import (
	"context"
	"database/sql"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cursolab/gestao-api/internal/models"
)

func newCourseMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestCourseRepositoryExistsByName(t *testing.T) {
	db, mock, cleanup := newCourseMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	mock.ExpectQuery("SELECT 1 FROM courses WHERE name").
		WithArgs("Logistica").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

	exists, err := repo.ExistsByName(context.Background(), "Logistica", "")
	require.NoError(t, err)
	assert.True(t, exists)

	mock.ExpectQuery("SELECT 1 FROM courses WHERE name").
		WithArgs("Inexistente").
		WillReturnError(sql.ErrNoRows)

	exists, err = repo.ExistsByName(context.Background(), "Inexistente", "")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseRepositoryCreateSetsID(t *testing.T) {
	db, mock, cleanup := newCourseMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	mock.ExpectExec("INSERT INTO courses").
		WillReturnResult(sqlmock.NewResult(0, 1))

	course := &models.Course{Name: "Logistica", WorkloadHrs: 40}
	err := repo.Create(context.Background(), course)
	require.NoError(t, err)
	assert.NotEmpty(t, course.ID)
	assert.False(t, course.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}
