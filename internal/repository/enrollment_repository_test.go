package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-reg-api/internal/models"
)

func newEnrollmentRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestEnrollmentRepositoryFindByStudentAndSection(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()

	repo := NewEnrollmentRepository(db)
	rows := sqlmock.NewRows([]string{"id", "student_id", "section_id", "status", "enrolled_at"}).
		AddRow("enr-1", "stu-1", "sec-1", "registered", time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, student_id, section_id, status, enrolled_at")).
		WithArgs("stu-1", "sec-1").
		WillReturnRows(rows)

	enrollment, err := repo.FindByStudentAndSection(context.Background(), "stu-1", "sec-1")
	require.NoError(t, err)
	require.Equal(t, models.EnrollmentStatusRegistered, enrollment.Status)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, student_id, section_id, status, enrolled_at")).
		WithArgs("stu-1", "sec-9").
		WillReturnError(sql.ErrNoRows)

	_, err = repo.FindByStudentAndSection(context.Background(), "stu-1", "sec-9")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryListRegisteredByStudent(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()

	repo := NewEnrollmentRepository(db)
	rows := sqlmock.NewRows([]string{"id", "student_id", "section_id", "status", "enrolled_at", "course_code", "course_title", "credits", "section_code"}).
		AddRow("enr-1", "stu-1", "sec-cs", "registered", time.Now(), "CS200", "Data Structures", 3, "A").
		AddRow("enr-2", "stu-1", "sec-ma", "registered", time.Now(), "MA101", "Calculus I", 4, "B")
	mock.ExpectQuery(regexp.QuoteMeta("FROM enrollments e")).
		WithArgs("stu-1", string(models.EnrollmentStatusRegistered)).
		WillReturnRows(rows)

	entries, err := repo.ListRegisteredByStudent(context.Background(), "stu-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "CS200", entries[0].CourseCode)
	require.Equal(t, 4, entries[1].Credits)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryListRegisteredMeetings(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()

	repo := NewEnrollmentRepository(db)
	rows := sqlmock.NewRows([]string{"id", "section_id", "activity", "day_of_week", "start_min", "end_min", "room_id", "course_code", "section_code"}).
		AddRow("mtg-1", "sec-cs", "LEC", 1, 540, 630, nil, "CS200", "A")
	mock.ExpectQuery(regexp.QuoteMeta("JOIN section_meetings m")).
		WithArgs("stu-1", string(models.EnrollmentStatusRegistered)).
		WillReturnRows(rows)

	meetings, err := repo.ListRegisteredMeetings(context.Background(), "stu-1")
	require.NoError(t, err)
	require.Len(t, meetings, 1)
	require.Equal(t, "CS200", meetings[0].CourseCode)
	require.Equal(t, 1, meetings[0].DayOfWeek)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositorySumRegisteredCredits(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()

	repo := NewEnrollmentRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(SUM(c.credits), 0)")).
		WithArgs("stu-1", string(models.EnrollmentStatusRegistered)).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(13))

	total, err := repo.SumRegisteredCredits(context.Background(), "stu-1")
	require.NoError(t, err)
	require.Equal(t, 13, total)
	require.NoError(t, mock.ExpectationsWereMet())
}
