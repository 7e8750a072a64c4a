package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/course-reg-api/internal/dto"
	"github.com/noah-isme/course-reg-api/internal/models"
	"github.com/noah-isme/course-reg-api/internal/repository"
	appErrors "github.com/noah-isme/course-reg-api/pkg/errors"
)

type requestStore interface {
	Create(ctx context.Context, request *models.RegistrationRequest) error
	GetByID(ctx context.Context, id string) (*models.RegistrationRequest, error)
	List(ctx context.Context, filter models.RequestFilter) ([]models.RegistrationRequest, error)
	ExistsPending(ctx context.Context, studentID string, reqType models.RequestType, sectionID string) (bool, error)
	Transition(ctx context.Context, params repository.DecisionParams) error
	ApproveWithEnrollment(ctx context.Context, params repository.ApproveParams) error
	GrantException(ctx context.Context, params repository.DecisionParams, exception *models.PolicyException) error
	ListDecisions(ctx context.Context, requestID string) ([]models.RequestDecision, error)
	ListExceptions(ctx context.Context, requestID string) ([]models.PolicyException, error)
}

type eligibilityChecker interface {
	Check(ctx context.Context, studentID, sectionID string, opts CheckOptions) (*models.EligibilityResult, error)
}

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type cacheInvalidator interface {
	InvalidateSection(ctx context.Context, sectionID string)
	InvalidateSchedule(ctx context.Context, studentID string)
}

// Actor identifies the authenticated user driving an operation.
type Actor struct {
	UserID    string
	Role      models.UserRole
	StudentID *string
}

// SubmitResult pairs the created request with the eligibility snapshot taken
// at submission. The snapshot is advisory; the binding check runs again at
// approval time.
type SubmitResult struct {
	Request     *models.RegistrationRequest `json:"request"`
	Eligibility *models.EligibilityResult   `json:"eligibility,omitempty"`
}

// RequestDetail is a request with its full decision trail.
type RequestDetail struct {
	models.RegistrationRequest
	Decisions  []models.RequestDecision `json:"decisions"`
	Exceptions []models.PolicyException `json:"exceptions,omitempty"`
}

type decisionMetrics interface {
	ObserveCommitRetry()
}

// RequestServiceOption configures the service.
type RequestServiceOption func(*RequestService)

// WithDecisionMetrics counts retried enrollment commits.
func WithDecisionMetrics(m decisionMetrics) RequestServiceOption {
	return func(s *RequestService) {
		s.metrics = m
	}
}

// WithDecisionRetryLimit bounds how many times a retryable commit error is
// retried before the decision gives up with Unavailable.
func WithDecisionRetryLimit(limit int) RequestServiceOption {
	return func(s *RequestService) {
		if limit > 0 {
			s.retryLimit = limit
		}
	}
}

// RequestService orchestrates the registration request lifecycle: submission,
// review decisions, and the atomic enrollment commit on approval.
type RequestService struct {
	repo        requestStore
	eligibility eligibilityChecker
	students    studentReader
	enrollments enrollmentReader
	audit       auditLogger
	cache       cacheInvalidator
	metrics     decisionMetrics
	logger      *zap.Logger
	retryLimit  int
}

// NewRequestService constructs the service with defaults.
func NewRequestService(repo requestStore, eligibility eligibilityChecker, students studentReader, enrollments enrollmentReader, audit auditLogger, cache cacheInvalidator, logger *zap.Logger, opts ...RequestServiceOption) *RequestService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &RequestService{
		repo:        repo,
		eligibility: eligibility,
		students:    students,
		enrollments: enrollments,
		audit:       audit,
		cache:       cache,
		logger:      logger,
		retryLimit:  3,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Submit validates and stores a new registration request in the submitted
// state. The eligibility snapshot is returned alongside so the student sees
// warnings immediately; blocking violations do not prevent submission, the
// reviewer rules on them.
func (s *RequestService) Submit(ctx context.Context, req dto.SubmitRequest) (*SubmitResult, error) {
	if err := validateSubmitShape(req); err != nil {
		return nil, err
	}

	if _, err := s.students.FindByID(ctx, req.StudentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}

	if req.FromSectionID != "" {
		if err := s.requireRegistered(ctx, req.StudentID, req.FromSectionID); err != nil {
			return nil, err
		}
	}

	target := req.ToSectionID
	if req.Type == models.RequestTypeDrop {
		target = req.FromSectionID
	}
	pending, err := s.repo.ExistsPending(ctx, req.StudentID, req.Type, target)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check pending requests")
	}
	if pending {
		return nil, appErrors.Clone(appErrors.ErrConflict, "a pending request of this type already exists for the section")
	}

	var snapshot *models.EligibilityResult
	if req.Type != models.RequestTypeDrop {
		snapshot, err = s.eligibility.Check(ctx, req.StudentID, req.ToSectionID, CheckOptions{
			ExcludeSectionID: req.FromSectionID,
		})
		if err != nil {
			return nil, err
		}
	}

	request := &models.RegistrationRequest{
		ID:            uuid.NewString(),
		StudentID:     req.StudentID,
		Type:          req.Type,
		FromSectionID: optionalString(req.FromSectionID),
		ToSectionID:   optionalString(req.ToSectionID),
		Reason:        strings.TrimSpace(req.Reason),
		State:         models.RequestStateSubmitted,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, request); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create request")
	}

	s.emitAudit(ctx, &models.AuditLog{
		UserID:     &req.StudentID,
		Action:     models.AuditActionRequestSubmit,
		Resource:   "registration_request",
		ResourceID: &request.ID,
		NewValues:  mustJSON(request),
	})

	return &SubmitResult{Request: request, Eligibility: snapshot}, nil
}

// Decide applies a reviewer (or cancelling student) action to a request.
// Approvals of ADD and CHANGE_SECTION re-run eligibility first; fresh
// blocking violations turn the outcome into a rejection with the findings
// recorded in reviewer notes.
func (s *RequestService) Decide(ctx context.Context, requestID string, actor Actor, req dto.DecideRequest) (*models.RegistrationRequest, error) {
	if !models.ActionKnown(req.Action) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown action: %s", req.Action))
	}
	if req.Action == models.ActionGrantException && req.ExceptionType.WaivedRule() == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "grant_exception requires a valid exception_type")
	}

	request, err := s.repo.GetByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
	}

	toState, stateOK, roleOK := models.ResolveTransition(request.State, req.Action, actor.Role)
	if !stateOK {
		if request.State.IsTerminal() {
			return nil, appErrors.Clone(appErrors.ErrAlreadyProcessed, fmt.Sprintf("request already %s", request.State))
		}
		return nil, appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("action %s is not valid from state %s", req.Action, request.State))
	}
	if !roleOK {
		return nil, appErrors.Clone(appErrors.ErrForbidden, fmt.Sprintf("role %s may not %s this request", actor.Role, req.Action))
	}
	if req.Action == models.ActionCancel {
		if actor.StudentID == nil || *actor.StudentID != request.StudentID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "only the owning student may cancel a request")
		}
	}

	decision := repository.DecisionParams{
		RequestID: request.ID,
		FromState: request.State,
		ToState:   toState,
		ActorID:   actor.UserID,
		ActorRole: actor.Role,
		Action:    req.Action,
		Rationale: strings.TrimSpace(req.Rationale),
		DecidedAt: time.Now().UTC(),
	}

	switch req.Action {
	case models.ActionApprove, models.ActionFinalApprove:
		err = s.approve(ctx, request, &decision)
	case models.ActionGrantException:
		err = s.grantException(ctx, request, decision, req)
	default:
		err = s.transition(ctx, decision)
	}
	if err != nil {
		return nil, err
	}

	updated, loadErr := s.repo.GetByID(ctx, request.ID)
	if loadErr != nil {
		return nil, appErrors.Wrap(loadErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reload request")
	}

	s.emitAudit(ctx, &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     models.AuditActionRequestDecide,
		Resource:   "registration_request",
		ResourceID: &request.ID,
		OldValues:  mustJSON(request),
		NewValues:  mustJSON(updated),
	})

	return updated, nil
}

// approve commits the enrollment effect. The repository transaction locks
// the section row and re-counts capacity, so the flow here only decides
// which sections are touched and what the eligibility re-check says.
func (s *RequestService) approve(ctx context.Context, request *models.RegistrationRequest, decision *repository.DecisionParams) error {
	params := repository.ApproveParams{
		Decision:      *decision,
		StudentID:     request.StudentID,
		ToSectionID:   deref(request.ToSectionID),
		FromSectionID: deref(request.FromSectionID),
	}

	if request.Type != models.RequestTypeDrop {
		waived, err := s.grantedWaivers(ctx, request.ID)
		if err != nil {
			return err
		}
		result, err := s.eligibility.Check(ctx, request.StudentID, params.ToSectionID, CheckOptions{
			ExcludeSectionID: params.FromSectionID,
			Waived:           waived,
		})
		if err != nil {
			return err
		}
		if !result.Attachable {
			return s.rejectWithViolations(ctx, decision, result.Violations)
		}
		params.SkipCapacityCheck = waived[models.RuleCapacity]
	}

	err := s.commitWithRetry(ctx, params)
	switch {
	case errors.Is(err, repository.ErrCapacityFull):
		// The last seat went to a racing approval between the re-check
		// and the locked re-count. Reject with the finding recorded,
		// then surface the conflict to the caller.
		capacityViolation := []models.Violation{{
			RuleCode: models.RuleCapacity,
			Severity: models.SeverityError,
			Message:  "Section filled before approval could be committed",
		}}
		if rejectErr := s.rejectWithViolations(ctx, decision, capacityViolation); rejectErr != nil {
			return rejectErr
		}
		return appErrors.Clone(appErrors.ErrCapacityExceeded, "section filled before approval; request rejected")
	case errors.Is(err, sql.ErrNoRows):
		return appErrors.Clone(appErrors.ErrAlreadyProcessed, "request already decided")
	case err != nil:
		return err
	}

	s.invalidate(ctx, request)
	return nil
}

// rejectWithViolations flips the pending transition into a rejection and
// stores the findings in reviewer notes.
func (s *RequestService) rejectWithViolations(ctx context.Context, decision *repository.DecisionParams, violations []models.Violation) error {
	notes := string(mustJSON(violations))
	rejected := *decision
	rejected.ToState = models.RequestStateRejected
	rejected.Notes = &notes
	if rejected.Rationale == "" {
		rejected.Rationale = "eligibility re-check failed"
	}
	if err := s.repo.Transition(ctx, rejected); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrAlreadyProcessed, "request already decided")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reject request")
	}
	return nil
}

func (s *RequestService) grantException(ctx context.Context, request *models.RegistrationRequest, decision repository.DecisionParams, req dto.DecideRequest) error {
	exception := &models.PolicyException{
		ID:        uuid.NewString(),
		RequestID: request.ID,
		Type:      req.ExceptionType,
		ActorID:   decision.ActorID,
		Rationale: decision.Rationale,
		CreatedAt: decision.DecidedAt,
	}
	if err := s.repo.GrantException(ctx, decision, exception); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrAlreadyProcessed, "request already decided")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to grant exception")
	}
	s.emitAudit(ctx, &models.AuditLog{
		UserID:     &decision.ActorID,
		Action:     models.AuditActionPolicyException,
		Resource:   "policy_exception",
		ResourceID: &exception.ID,
		NewValues:  mustJSON(exception),
	})
	return nil
}

func (s *RequestService) transition(ctx context.Context, decision repository.DecisionParams) error {
	if err := s.repo.Transition(ctx, decision); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrAlreadyProcessed, "request already decided")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to apply decision")
	}
	return nil
}

// commitWithRetry retries the enrollment transaction on serialization and
// lock failures up to the configured limit, then reports Unavailable.
func (s *RequestService) commitWithRetry(ctx context.Context, params repository.ApproveParams) error {
	var err error
	for attempt := 1; attempt <= s.retryLimit; attempt++ {
		err = s.repo.ApproveWithEnrollment(ctx, params)
		if err == nil || !repository.IsRetryable(err) {
			return err
		}
		if s.metrics != nil {
			s.metrics.ObserveCommitRetry()
		}
		s.logger.Warn("retrying enrollment commit",
			zap.String("request_id", params.Decision.RequestID),
			zap.Int("attempt", attempt),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 25 * time.Millisecond):
		}
	}
	return appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "enrollment commit kept failing; try again")
}

// grantedWaivers collects the rule classes waived by exceptions granted on
// this request.
func (s *RequestService) grantedWaivers(ctx context.Context, requestID string) (map[models.RuleCode]bool, error) {
	exceptions, err := s.repo.ListExceptions(ctx, requestID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load exceptions")
	}
	if len(exceptions) == 0 {
		return nil, nil
	}
	waived := make(map[models.RuleCode]bool, len(exceptions))
	for _, e := range exceptions {
		if rule := e.Type.WaivedRule(); rule != "" {
			waived[rule] = true
		}
	}
	return waived, nil
}

// GetRequest loads a request with its decision trail. Students may only
// read their own requests.
func (s *RequestService) GetRequest(ctx context.Context, id string, actor Actor) (*RequestDetail, error) {
	request, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
	}
	if actor.Role == models.RoleStudent && (actor.StudentID == nil || *actor.StudentID != request.StudentID) {
		return nil, appErrors.ErrForbidden
	}

	decisions, err := s.repo.ListDecisions(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load decisions")
	}
	exceptions, err := s.repo.ListExceptions(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load exceptions")
	}
	return &RequestDetail{
		RegistrationRequest: *request,
		Decisions:           decisions,
		Exceptions:          exceptions,
	}, nil
}

// ListRequests returns requests scoped to the caller's role: students see
// their own, advisors see the pending review queue, department heads see
// referrals and excepted requests awaiting final approval, and registrars
// see everything.
func (s *RequestService) ListRequests(ctx context.Context, actor Actor, query dto.RequestQuery) ([]models.RegistrationRequest, error) {
	filter := models.RequestFilter{
		StudentID: query.StudentID,
		States:    query.States,
		Type:      query.Type,
		SectionID: query.SectionID,
		Limit:     query.Limit,
		Offset:    query.Offset,
	}
	switch actor.Role {
	case models.RoleStudent:
		if actor.StudentID == nil {
			return nil, appErrors.ErrForbidden
		}
		filter.StudentID = *actor.StudentID
	case models.RoleAdvisor:
		if len(filter.States) == 0 {
			filter.States = []models.RequestState{models.RequestStateSubmitted, models.RequestStateAdvisorReview}
		}
	case models.RoleDepartmentHead:
		if len(filter.States) == 0 {
			filter.States = []models.RequestState{models.RequestStateDeptReview, models.RequestStateExceptionGranted}
		}
	case models.RoleRegistrar:
		// Unscoped.
	default:
		return nil, appErrors.ErrForbidden
	}

	requests, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list requests")
	}
	return requests, nil
}

func (s *RequestService) requireRegistered(ctx context.Context, studentID, sectionID string) error {
	enrollment, err := s.enrollments.FindByStudentAndSection(ctx, studentID, sectionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrValidation, "student is not registered in the section being left")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if enrollment.Status != models.EnrollmentStatusRegistered {
		return appErrors.Clone(appErrors.ErrValidation, "student is not registered in the section being left")
	}
	return nil
}

func (s *RequestService) invalidate(ctx context.Context, request *models.RegistrationRequest) {
	if s.cache == nil {
		return
	}
	if id := deref(request.ToSectionID); id != "" {
		s.cache.InvalidateSection(ctx, id)
	}
	if id := deref(request.FromSectionID); id != "" {
		s.cache.InvalidateSection(ctx, id)
	}
	s.cache.InvalidateSchedule(ctx, request.StudentID)
}

func (s *RequestService) emitAudit(ctx context.Context, log *models.AuditLog) {
	if s.audit == nil || log == nil {
		return
	}
	if log.IPAddress == "" {
		log.IPAddress = "system"
	}
	if log.UserAgent == "" {
		log.UserAgent = "request-service"
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}

func validateSubmitShape(req dto.SubmitRequest) error {
	if req.StudentID == "" {
		return appErrors.Clone(appErrors.ErrValidation, "student_id is required")
	}
	switch req.Type {
	case models.RequestTypeAdd:
		if req.ToSectionID == "" || req.FromSectionID != "" {
			return appErrors.Clone(appErrors.ErrValidation, "ADD requires to_section_id and no from_section_id")
		}
	case models.RequestTypeDrop:
		if req.FromSectionID == "" || req.ToSectionID != "" {
			return appErrors.Clone(appErrors.ErrValidation, "DROP requires from_section_id and no to_section_id")
		}
	case models.RequestTypeChangeSection:
		if req.ToSectionID == "" || req.FromSectionID == "" {
			return appErrors.Clone(appErrors.ErrValidation, "CHANGE_SECTION requires both section ids")
		}
		if req.ToSectionID == req.FromSectionID {
			return appErrors.Clone(appErrors.ErrValidation, "target section must differ from the section being left")
		}
	default:
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown request type: %s", req.Type))
	}
	return nil
}

func optionalString(value string) *string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	v := strings.TrimSpace(value)
	return &v
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func mustJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
