package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusreg/enroll-api/internal/models"
)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "postgres")
	cleanup := func() {
		_ = sqlxDB.Close()
		db.Close()
	}
	return sqlxDB, mock, cleanup
}

func TestEnrollmentRepositoryCountActive(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM enrollments WHERE course_instance_id = $1 AND status = $2`)).
		WithArgs("ci-1", models.EnrollmentStatusActive).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(17))

	count, err := repo.CountActive(context.Background(), db, "ci-1")
	require.NoError(t, err)
	assert.Equal(t, 17, count)
}

func TestEnrollmentRepositoryExistsActive(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT 1 FROM enrollments WHERE student_id = $1 AND course_instance_id = $2 AND status = $3 LIMIT 1`)).
		WithArgs("s-1", "ci-1", models.EnrollmentStatusActive).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(1))

	exists, err := repo.ExistsActive(context.Background(), db, "s-1", "ci-1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestEnrollmentRepositoryExistsActiveNone(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM enrollments")).
		WithArgs("s-1", "ci-1", models.EnrollmentStatusActive).
		WillReturnError(sql.ErrNoRows)

	exists, err := repo.ExistsActive(context.Background(), db, "s-1", "ci-1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestEnrollmentRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO enrollments (id, student_id, course_instance_id, status, enrolled_at, dropped_at)`)).
		WithArgs(sqlmock.AnyArg(), "s-1", "ci-1", models.EnrollmentStatusActive, sqlmock.AnyArg(), nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	enrollment := &models.Enrollment{StudentID: "s-1", CourseInstanceID: "ci-1"}
	err := repo.Create(context.Background(), db, enrollment)
	require.NoError(t, err)
	assert.NotEmpty(t, enrollment.ID)
	assert.Equal(t, models.EnrollmentStatusActive, enrollment.Status)
	assert.False(t, enrollment.EnrolledAt.IsZero())
}

func TestEnrollmentRepositoryMarkDropped(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	droppedAt := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE enrollments SET status = $4, dropped_at = $5`)).
		WithArgs("s-1", "ci-1", models.EnrollmentStatusActive, models.EnrollmentStatusDropped, droppedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	affected, err := repo.MarkDropped(context.Background(), db, "s-1", "ci-1", droppedAt)
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)
}

func TestEnrollmentRepositoryMarkDroppedNothingActive(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	droppedAt := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE enrollments SET status = $4, dropped_at = $5`)).
		WithArgs("s-1", "ci-1", models.EnrollmentStatusActive, models.EnrollmentStatusDropped, droppedAt).
		WillReturnResult(sqlmock.NewResult(0, 0))

	affected, err := repo.MarkDropped(context.Background(), db, "s-1", "ci-1", droppedAt)
	require.NoError(t, err)
	assert.Equal(t, int64(0), affected)
}

func TestEnrollmentRepositoryListActiveByStudent(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "student_id", "course_instance_id", "status", "enrolled_at", "dropped_at",
		"course_id", "course_code", "course_title", "day1", "day2", "start_time", "end_time",
	}).AddRow("e-1", "s-1", "ci-1", models.EnrollmentStatusActive, now, nil,
		"c-1", "CS101", "Intro to Computing", 1, nil, "10:00", "11:00")

	mock.ExpectQuery(regexp.QuoteMeta(`FROM enrollments e`)).
		WithArgs("s-1", models.EnrollmentStatusActive).
		WillReturnRows(rows)

	details, err := repo.ListActiveByStudent(context.Background(), "s-1")
	require.NoError(t, err)
	require.Len(t, details, 1)
	assert.Equal(t, "CS101", details[0].CourseCode)
	assert.Equal(t, 1, details[0].Day1)
	assert.Equal(t, "10:00", details[0].StartTime)
}

func TestEnrollmentRepositoryListByInstance(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "student_id", "course_instance_id", "status", "enrolled_at", "dropped_at",
		"student_nim", "student_name",
	}).AddRow("e-1", "s-1", "ci-1", models.EnrollmentStatusActive, now, nil, "2211001", "Ada Lovelace")

	mock.ExpectQuery(regexp.QuoteMeta(`JOIN students s ON s.id = e.student_id`)).
		WithArgs("ci-1", models.EnrollmentStatusActive).
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM enrollments WHERE course_instance_id = $1 AND status = $2`)).
		WithArgs("ci-1", models.EnrollmentStatusActive).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	roster, total, err := repo.ListByInstance(context.Background(), "ci-1", 1, 20)
	require.NoError(t, err)
	require.Len(t, roster, 1)
	assert.Equal(t, 1, total)
	assert.Equal(t, "2211001", roster[0].StudentNIM)
}
