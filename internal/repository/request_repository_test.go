package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-reg-api/internal/models"
)

func newRequestRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func decisionParams(from, to models.RequestState) DecisionParams {
	return DecisionParams{
		RequestID: "req-1",
		FromState: from,
		ToState:   to,
		ActorID:   "adv-1",
		ActorRole: models.RoleAdvisor,
		Action:    models.ActionApprove,
		Rationale: "clear",
		DecidedAt: time.Now().UTC(),
	}
}

func TestRequestRepositoryCreateAndGet(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO registration_requests")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	toSection := "sec-1"
	request := &models.RegistrationRequest{
		StudentID:   "stu-1",
		Type:        models.RequestTypeAdd,
		ToSectionID: &toSection,
		Reason:      "needed for major",
	}
	require.NoError(t, repo.Create(context.Background(), request))
	require.NotEmpty(t, request.ID, "Create assigns an id")
	require.Equal(t, models.RequestStateSubmitted, request.State)

	rows := sqlmock.NewRows([]string{"id", "student_id", "type", "from_section_id", "to_section_id", "reason", "state", "reviewer_notes", "created_at", "decided_at"}).
		AddRow(request.ID, "stu-1", "ADD", nil, "sec-1", "needed for major", "submitted", nil, time.Now(), nil)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, student_id, type, from_section_id, to_section_id")).
		WithArgs(request.ID).
		WillReturnRows(rows)

	found, err := repo.GetByID(context.Background(), request.ID)
	require.NoError(t, err)
	require.Equal(t, "stu-1", found.StudentID)
	require.Equal(t, models.RequestStateSubmitted, found.State)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryExistsPending(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM registration_requests")).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	pending, err := repo.ExistsPending(context.Background(), "stu-1", models.RequestTypeAdd, "sec-1")
	require.NoError(t, err)
	require.True(t, pending)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM registration_requests")).
		WillReturnError(sql.ErrNoRows)

	pending, err = repo.ExistsPending(context.Background(), "stu-1", models.RequestTypeAdd, "sec-1")
	require.NoError(t, err)
	require.False(t, pending)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryTransition(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE registration_requests SET state")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO request_decisions")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := repo.Transition(context.Background(), decisionParams(models.RequestStateSubmitted, models.RequestStateRejected))
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryTransitionAlreadyDecided(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	mock.ExpectBegin()
	// Zero affected rows: the state no longer matches, someone decided
	// first. Nothing else may be written.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE registration_requests SET state")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.Transition(context.Background(), decisionParams(models.RequestStateSubmitted, models.RequestStateCancelled))
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryApproveWithEnrollment(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE registration_requests SET state")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT capacity FROM sections WHERE id = $1 FOR UPDATE")).
		WithArgs("sec-1").
		WillReturnRows(sqlmock.NewRows([]string{"capacity"}).AddRow(30))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM enrollments")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO enrollments")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO request_decisions")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := repo.ApproveWithEnrollment(context.Background(), ApproveParams{
		Decision:    decisionParams(models.RequestStateSubmitted, models.RequestStateApproved),
		StudentID:   "stu-1",
		ToSectionID: "sec-1",
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryApproveWhenFull(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE registration_requests SET state")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT capacity FROM sections WHERE id = $1 FOR UPDATE")).
		WithArgs("sec-1").
		WillReturnRows(sqlmock.NewRows([]string{"capacity"}).AddRow(30))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM enrollments")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(30))
	mock.ExpectRollback()

	err := repo.ApproveWithEnrollment(context.Background(), ApproveParams{
		Decision:    decisionParams(models.RequestStateSubmitted, models.RequestStateApproved),
		StudentID:   "stu-1",
		ToSectionID: "sec-1",
	})
	require.ErrorIs(t, err, ErrCapacityFull)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryApproveWithCapacityWaiver(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE registration_requests SET state")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// The section row is still locked, but the seat count is skipped.
	mock.ExpectQuery(regexp.QuoteMeta("SELECT capacity FROM sections WHERE id = $1 FOR UPDATE")).
		WithArgs("sec-1").
		WillReturnRows(sqlmock.NewRows([]string{"capacity"}).AddRow(30))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO enrollments")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO request_decisions")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := repo.ApproveWithEnrollment(context.Background(), ApproveParams{
		Decision:          decisionParams(models.RequestStateDeptReview, models.RequestStateApproved),
		StudentID:         "stu-1",
		ToSectionID:       "sec-1",
		SkipCapacityCheck: true,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryApproveChangeSection(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE registration_requests SET state")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT capacity FROM sections WHERE id = $1 FOR UPDATE")).
		WithArgs("sec-2").
		WillReturnRows(sqlmock.NewRows([]string{"capacity"}).AddRow(25))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM enrollments")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(10))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO enrollments")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET status")).
		WithArgs("stu-1", "sec-1", string(models.EnrollmentStatusDropped)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO request_decisions")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := repo.ApproveWithEnrollment(context.Background(), ApproveParams{
		Decision:      decisionParams(models.RequestStateSubmitted, models.RequestStateApproved),
		StudentID:     "stu-1",
		ToSectionID:   "sec-2",
		FromSectionID: "sec-1",
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryGrantException(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE registration_requests SET state")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO policy_exceptions")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO request_decisions")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	exception := &models.PolicyException{
		RequestID: "req-1",
		Type:      models.ExceptionCapacityOverride,
		ActorID:   "dep-1",
		Rationale: "graduating senior",
	}
	err := repo.GrantException(context.Background(),
		decisionParams(models.RequestStateDeptReview, models.RequestStateExceptionGranted), exception)
	require.NoError(t, err)
	require.NotEmpty(t, exception.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIsRetryable(t *testing.T) {
	require.True(t, IsRetryable(&pq.Error{Code: "40001"}))
	require.True(t, IsRetryable(&pq.Error{Code: "40P01"}))
	require.True(t, IsRetryable(&pq.Error{Code: "55P03"}))
	require.False(t, IsRetryable(&pq.Error{Code: "23505"}))
	require.False(t, IsRetryable(errors.New("plain failure")))
	require.False(t, IsRetryable(nil))
}
