package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/course-reg-api/internal/models"
)

// ErrCapacityFull is returned when a decision transaction finds no free seat
// while holding the section row lock.
var ErrCapacityFull = errors.New("section capacity reached")

// RequestRepository persists registration requests, their decision trail and
// policy exceptions. Decision writes are compare-and-swap on state so
// duplicate decisions fail cleanly instead of double-applying.
type RequestRepository struct {
	db *sqlx.DB
}

// NewRequestRepository constructs the repository.
func NewRequestRepository(db *sqlx.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

// Create inserts a new request row.
func (r *RequestRepository) Create(ctx context.Context, request *models.RegistrationRequest) error {
	if request.ID == "" {
		request.ID = uuid.NewString()
	}
	if request.State == "" {
		request.State = models.RequestStateSubmitted
	}
	if request.CreatedAt.IsZero() {
		request.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO registration_requests
        (id, student_id, type, from_section_id, to_section_id, reason, state, reviewer_notes, created_at, decided_at)
        VALUES (:id, :student_id, :type, :from_section_id, :to_section_id, :reason, :state, :reviewer_notes, :created_at, :decided_at)`
	if _, err := r.db.NamedExecContext(ctx, query, request); err != nil {
		return fmt.Errorf("create registration request: %w", err)
	}
	return nil
}

// GetByID fetches a request by identifier.
func (r *RequestRepository) GetByID(ctx context.Context, id string) (*models.RegistrationRequest, error) {
	const query = `SELECT id, student_id, type, from_section_id, to_section_id, reason, state, reviewer_notes, created_at, decided_at
        FROM registration_requests WHERE id = $1`
	var request models.RegistrationRequest
	if err := r.db.GetContext(ctx, &request, query, id); err != nil {
		return nil, err
	}
	return &request, nil
}

// List returns requests matching the filter (latest first).
func (r *RequestRepository) List(ctx context.Context, filter models.RequestFilter) ([]models.RegistrationRequest, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 6)
	builder.WriteString(`SELECT id, student_id, type, from_section_id, to_section_id, reason, state, reviewer_notes, created_at, decided_at
        FROM registration_requests`)

	conditions := make([]string, 0, 4)
	if filter.StudentID != "" {
		args = append(args, filter.StudentID)
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)))
	}
	if len(filter.States) > 0 {
		placeholders := make([]string, len(filter.States))
		for i, state := range filter.States {
			args = append(args, state)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("state IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		conditions = append(conditions, fmt.Sprintf("type = $%d", len(args)))
	}
	if filter.SectionID != "" {
		args = append(args, filter.SectionID)
		conditions = append(conditions, fmt.Sprintf("(to_section_id = $%d OR from_section_id = $%d)", len(args), len(args)))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY created_at DESC")

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	builder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset))

	var requests []models.RegistrationRequest
	if err := r.db.SelectContext(ctx, &requests, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list registration requests: %w", err)
	}
	return requests, nil
}

// ExistsPending checks whether the student already has an open request of
// the same type touching the same section.
func (r *RequestRepository) ExistsPending(ctx context.Context, studentID string, reqType models.RequestType, sectionID string) (bool, error) {
	const query = `SELECT 1 FROM registration_requests
        WHERE student_id = $1 AND type = $2
        AND (to_section_id = $3 OR from_section_id = $3)
        AND state IN ($4, $5, $6)
        LIMIT 1`
	var exists int
	err := r.db.GetContext(ctx, &exists, query, studentID, reqType, sectionID,
		models.RequestStateSubmitted, models.RequestStateAdvisorReview, models.RequestStateDeptReview)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check pending request: %w", err)
	}
	return true, nil
}

// DecisionParams groups the fields written by every decision transition.
type DecisionParams struct {
	RequestID string
	FromState models.RequestState
	ToState   models.RequestState
	ActorID   string
	ActorRole models.UserRole
	Action    models.DecisionAction
	Rationale string
	Notes     *string
	DecidedAt time.Time
}

// Transition applies a state change with no enrollment effect (reject,
// refer, cancel, grant_exception). The state update is compare-and-swap:
// zero affected rows means the request was already decided and
// sql.ErrNoRows is returned with nothing written.
func (r *RequestRepository) Transition(ctx context.Context, params DecisionParams) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transition: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := r.casState(ctx, tx, params); err != nil {
		return err
	}
	if err := r.insertDecision(ctx, tx, params); err != nil {
		return err
	}
	return tx.Commit()
}

// ApproveParams groups the inputs of the atomic decide-and-enroll unit.
type ApproveParams struct {
	Decision DecisionParams
	// StudentID owns the enrollment being created or updated.
	StudentID string
	// ToSectionID receives the registered enrollment; empty for DROP.
	ToSectionID string
	// FromSectionID is marked dropped (DROP and CHANGE_SECTION).
	FromSectionID string
	// SkipCapacityCheck is set when a capacity_override exception was
	// granted for this request.
	SkipCapacityCheck bool
}

// ApproveWithEnrollment flips the request state and commits the enrollment
// effect in one transaction. The section row is locked before the capacity
// re-count so two racing approvals cannot both take the last seat;
// ErrCapacityFull is returned (and everything rolled back) when no seat
// remains and the capacity rule was not waived.
func (r *RequestRepository) ApproveWithEnrollment(ctx context.Context, params ApproveParams) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin approval: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := r.casState(ctx, tx, params.Decision); err != nil {
		return err
	}

	if params.ToSectionID != "" {
		var capacity int
		if err := tx.GetContext(ctx, &capacity, `SELECT capacity FROM sections WHERE id = $1 FOR UPDATE`, params.ToSectionID); err != nil {
			return fmt.Errorf("lock section: %w", err)
		}
		if !params.SkipCapacityCheck {
			var enrolled int
			if err := tx.GetContext(ctx, &enrolled, `SELECT COUNT(*) FROM enrollments WHERE section_id = $1 AND status = $2`,
				params.ToSectionID, models.EnrollmentStatusRegistered); err != nil {
				return fmt.Errorf("count seats: %w", err)
			}
			if enrolled >= capacity {
				return ErrCapacityFull
			}
		}
		const upsert = `INSERT INTO enrollments (id, student_id, section_id, status, enrolled_at)
            VALUES ($1, $2, $3, $4, $5)
            ON CONFLICT (student_id, section_id)
            DO UPDATE SET status = EXCLUDED.status, enrolled_at = EXCLUDED.enrolled_at`
		if _, err := tx.ExecContext(ctx, upsert, uuid.NewString(), params.StudentID, params.ToSectionID,
			models.EnrollmentStatusRegistered, params.Decision.DecidedAt); err != nil {
			return fmt.Errorf("commit enrollment: %w", err)
		}
	}

	if params.FromSectionID != "" {
		if _, err := tx.ExecContext(ctx, `UPDATE enrollments SET status = $3 WHERE student_id = $1 AND section_id = $2`,
			params.StudentID, params.FromSectionID, models.EnrollmentStatusDropped); err != nil {
			return fmt.Errorf("drop enrollment: %w", err)
		}
	}

	if err := r.insertDecision(ctx, tx, params.Decision); err != nil {
		return err
	}
	return tx.Commit()
}

// GrantException records the policy exception and moves the request to
// exception_granted in one transaction.
func (r *RequestRepository) GrantException(ctx context.Context, params DecisionParams, exception *models.PolicyException) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin exception grant: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := r.casState(ctx, tx, params); err != nil {
		return err
	}

	if exception.ID == "" {
		exception.ID = uuid.NewString()
	}
	if exception.CreatedAt.IsZero() {
		exception.CreatedAt = params.DecidedAt
	}
	const insert = `INSERT INTO policy_exceptions (id, request_id, type, actor_id, rationale, created_at)
        VALUES (:id, :request_id, :type, :actor_id, :rationale, :created_at)`
	if _, err := tx.NamedExecContext(ctx, insert, exception); err != nil {
		return fmt.Errorf("record policy exception: %w", err)
	}

	if err := r.insertDecision(ctx, tx, params); err != nil {
		return err
	}
	return tx.Commit()
}

// ListExceptions returns the exceptions granted for a request.
func (r *RequestRepository) ListExceptions(ctx context.Context, requestID string) ([]models.PolicyException, error) {
	const query = `SELECT id, request_id, type, actor_id, rationale, created_at
        FROM policy_exceptions WHERE request_id = $1 ORDER BY created_at`
	var exceptions []models.PolicyException
	if err := r.db.SelectContext(ctx, &exceptions, query, requestID); err != nil {
		return nil, fmt.Errorf("list policy exceptions: %w", err)
	}
	return exceptions, nil
}

// ListDecisions returns the decision trail for a request, oldest first.
func (r *RequestRepository) ListDecisions(ctx context.Context, requestID string) ([]models.RequestDecision, error) {
	const query = `SELECT id, request_id, actor_id, actor_role, action, rationale, decided_at
        FROM request_decisions WHERE request_id = $1 ORDER BY decided_at`
	var decisions []models.RequestDecision
	if err := r.db.SelectContext(ctx, &decisions, query, requestID); err != nil {
		return nil, fmt.Errorf("list request decisions: %w", err)
	}
	return decisions, nil
}

func (r *RequestRepository) casState(ctx context.Context, tx *sqlx.Tx, params DecisionParams) error {
	setParts := []string{"state = $3", "decided_at = $4"}
	args := []interface{}{params.RequestID, params.FromState, params.ToState, params.DecidedAt}
	if params.Notes != nil {
		args = append(args, *params.Notes)
		setParts = append(setParts, fmt.Sprintf("reviewer_notes = $%d", len(args)))
	}
	query := fmt.Sprintf(`UPDATE registration_requests SET %s WHERE id = $1 AND state = $2`, strings.Join(setParts, ", "))
	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update request state: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check request update rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (r *RequestRepository) insertDecision(ctx context.Context, tx *sqlx.Tx, params DecisionParams) error {
	decision := &models.RequestDecision{
		ID:        uuid.NewString(),
		RequestID: params.RequestID,
		ActorID:   params.ActorID,
		ActorRole: params.ActorRole,
		Action:    params.Action,
		Rationale: params.Rationale,
		DecidedAt: params.DecidedAt,
	}
	const insert = `INSERT INTO request_decisions (id, request_id, actor_id, actor_role, action, rationale, decided_at)
        VALUES (:id, :request_id, :actor_id, :actor_role, :action, :rationale, :decided_at)`
	if _, err := tx.NamedExecContext(ctx, insert, decision); err != nil {
		return fmt.Errorf("record decision: %w", err)
	}
	return nil
}

// IsRetryable reports whether the error is a transient transaction conflict
// worth retrying (serialization failure, deadlock, lock timeout).
func IsRetryable(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch string(pqErr.Code) {
	case "40001", "40P01", "55P03":
		return true
	}
	return false
}
