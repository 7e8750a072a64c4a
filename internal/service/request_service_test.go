package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-reg-api/internal/dto"
	"github.com/noah-isme/course-reg-api/internal/models"
	"github.com/noah-isme/course-reg-api/internal/repository"
	appErrors "github.com/noah-isme/course-reg-api/pkg/errors"
)

type requestRepoStub struct {
	requests   map[string]*models.RegistrationRequest
	decisions  []models.RequestDecision
	exceptions map[string][]models.PolicyException
	pending    map[string]bool

	approveErr   error
	approveFails int
	approveCalls int
	lastApprove  repository.ApproveParams
	effects      []string
}

func newRequestRepoStub() *requestRepoStub {
	return &requestRepoStub{
		requests:   make(map[string]*models.RegistrationRequest),
		exceptions: make(map[string][]models.PolicyException),
		pending:    make(map[string]bool),
	}
}

func (r *requestRepoStub) Create(ctx context.Context, request *models.RegistrationRequest) error {
	r.requests[request.ID] = request
	return nil
}

func (r *requestRepoStub) GetByID(ctx context.Context, id string) (*models.RegistrationRequest, error) {
	if req, ok := r.requests[id]; ok {
		clone := *req
		return &clone, nil
	}
	return nil, sql.ErrNoRows
}

func (r *requestRepoStub) List(ctx context.Context, filter models.RequestFilter) ([]models.RegistrationRequest, error) {
	var out []models.RegistrationRequest
	for _, req := range r.requests {
		if filter.StudentID != "" && req.StudentID != filter.StudentID {
			continue
		}
		if len(filter.States) > 0 {
			match := false
			for _, s := range filter.States {
				if req.State == s {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		out = append(out, *req)
	}
	return out, nil
}

func (r *requestRepoStub) ExistsPending(ctx context.Context, studentID string, reqType models.RequestType, sectionID string) (bool, error) {
	return r.pending[studentID+"|"+string(reqType)+"|"+sectionID], nil
}

func (r *requestRepoStub) cas(params repository.DecisionParams) error {
	req, ok := r.requests[params.RequestID]
	if !ok || req.State != params.FromState {
		return sql.ErrNoRows
	}
	req.State = params.ToState
	req.ReviewerNotes = params.Notes
	req.DecidedAt = &params.DecidedAt
	r.decisions = append(r.decisions, models.RequestDecision{
		RequestID: params.RequestID,
		ActorID:   params.ActorID,
		ActorRole: params.ActorRole,
		Action:    params.Action,
		Rationale: params.Rationale,
		DecidedAt: params.DecidedAt,
	})
	return nil
}

func (r *requestRepoStub) Transition(ctx context.Context, params repository.DecisionParams) error {
	return r.cas(params)
}

func (r *requestRepoStub) ApproveWithEnrollment(ctx context.Context, params repository.ApproveParams) error {
	r.approveCalls++
	r.lastApprove = params
	if r.approveErr != nil {
		if r.approveFails == 0 || r.approveCalls <= r.approveFails {
			return r.approveErr
		}
	}
	if err := r.cas(params.Decision); err != nil {
		return err
	}
	if params.ToSectionID != "" {
		r.effects = append(r.effects, "register:"+params.ToSectionID)
	}
	if params.FromSectionID != "" {
		r.effects = append(r.effects, "drop:"+params.FromSectionID)
	}
	return nil
}

func (r *requestRepoStub) GrantException(ctx context.Context, params repository.DecisionParams, exception *models.PolicyException) error {
	if err := r.cas(params); err != nil {
		return err
	}
	r.exceptions[params.RequestID] = append(r.exceptions[params.RequestID], *exception)
	return nil
}

func (r *requestRepoStub) ListDecisions(ctx context.Context, requestID string) ([]models.RequestDecision, error) {
	var out []models.RequestDecision
	for _, d := range r.decisions {
		if d.RequestID == requestID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r *requestRepoStub) ListExceptions(ctx context.Context, requestID string) ([]models.PolicyException, error) {
	return r.exceptions[requestID], nil
}

type auditStub struct {
	logs []*models.AuditLog
}

func (a *auditStub) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

type invalidatorStub struct {
	sections  []string
	schedules []string
}

func (i *invalidatorStub) InvalidateSection(ctx context.Context, sectionID string) {
	i.sections = append(i.sections, sectionID)
}

func (i *invalidatorStub) InvalidateSchedule(ctx context.Context, studentID string) {
	i.schedules = append(i.schedules, studentID)
}

type lifecycleFixture struct {
	reg   *registryStub
	repo  *requestRepoStub
	audit *auditStub
	cache *invalidatorStub
	svc   *RequestService
}

func newLifecycleFixture(opts ...RequestServiceOption) *lifecycleFixture {
	reg, eligibility := newEligibilityFixture()
	repo := newRequestRepoStub()
	audit := &auditStub{}
	cache := &invalidatorStub{}
	svc := NewRequestService(repo, eligibility, reg, reg, audit, cache, nil, opts...)
	return &lifecycleFixture{reg: reg, repo: repo, audit: audit, cache: cache, svc: svc}
}

func (f *lifecycleFixture) seedRequest(state models.RequestState) *models.RegistrationRequest {
	toSection := "sec-1"
	request := &models.RegistrationRequest{
		ID:          "req-1",
		StudentID:   "stu-1",
		Type:        models.RequestTypeAdd,
		ToSectionID: &toSection,
		State:       state,
		CreatedAt:   time.Now().UTC(),
	}
	f.repo.requests[request.ID] = request
	return request
}

func errCode(t *testing.T, err error) string {
	t.Helper()
	require.Error(t, err)
	return appErrors.FromError(err).Code
}

func TestSubmitAddRequest(t *testing.T) {
	f := newLifecycleFixture()

	result, err := f.svc.Submit(context.Background(), dto.SubmitRequest{
		StudentID:   "stu-1",
		Type:        models.RequestTypeAdd,
		ToSectionID: "sec-1",
		Reason:      "needed for major",
	})
	require.NoError(t, err)
	require.Equal(t, models.RequestStateSubmitted, result.Request.State)
	require.NotNil(t, result.Eligibility)
	require.True(t, result.Eligibility.Attachable)
	require.Len(t, f.audit.logs, 1)
	require.Equal(t, models.AuditActionRequestSubmit, f.audit.logs[0].Action)
}

func TestSubmitShapeValidation(t *testing.T) {
	f := newLifecycleFixture()

	cases := []dto.SubmitRequest{
		{StudentID: "stu-1", Type: models.RequestTypeAdd},
		{StudentID: "stu-1", Type: models.RequestTypeAdd, ToSectionID: "sec-1", FromSectionID: "sec-2"},
		{StudentID: "stu-1", Type: models.RequestTypeDrop},
		{StudentID: "stu-1", Type: models.RequestTypeDrop, FromSectionID: "sec-1", ToSectionID: "sec-2"},
		{StudentID: "stu-1", Type: models.RequestTypeChangeSection, ToSectionID: "sec-1"},
		{StudentID: "stu-1", Type: models.RequestTypeChangeSection, ToSectionID: "sec-1", FromSectionID: "sec-1"},
		{StudentID: "stu-1", Type: "SWAP", ToSectionID: "sec-1"},
		{Type: models.RequestTypeAdd, ToSectionID: "sec-1"},
	}
	for _, req := range cases {
		_, err := f.svc.Submit(context.Background(), req)
		require.Equal(t, appErrors.ErrValidation.Code, errCode(t, err), "%+v", req)
	}
}

func TestSubmitUnknownStudent(t *testing.T) {
	f := newLifecycleFixture()

	_, err := f.svc.Submit(context.Background(), dto.SubmitRequest{
		StudentID:   "nobody",
		Type:        models.RequestTypeAdd,
		ToSectionID: "sec-1",
	})
	require.Equal(t, appErrors.ErrNotFound.Code, errCode(t, err))
}

func TestSubmitDuplicatePending(t *testing.T) {
	f := newLifecycleFixture()
	f.repo.pending["stu-1|ADD|sec-1"] = true

	_, err := f.svc.Submit(context.Background(), dto.SubmitRequest{
		StudentID:   "stu-1",
		Type:        models.RequestTypeAdd,
		ToSectionID: "sec-1",
	})
	require.Equal(t, appErrors.ErrConflict.Code, errCode(t, err))
}

func TestSubmitDropRequiresRegistration(t *testing.T) {
	f := newLifecycleFixture()

	_, err := f.svc.Submit(context.Background(), dto.SubmitRequest{
		StudentID:     "stu-1",
		Type:          models.RequestTypeDrop,
		FromSectionID: "sec-1",
	})
	require.Equal(t, appErrors.ErrValidation.Code, errCode(t, err))

	f.reg.enrollments["stu-1|sec-1"] = &models.Enrollment{StudentID: "stu-1", SectionID: "sec-1", Status: models.EnrollmentStatusRegistered}
	result, err := f.svc.Submit(context.Background(), dto.SubmitRequest{
		StudentID:     "stu-1",
		Type:          models.RequestTypeDrop,
		FromSectionID: "sec-1",
	})
	require.NoError(t, err)
	require.Nil(t, result.Eligibility, "DROP needs no eligibility snapshot")
}

func TestDecideApproveCommitsEnrollment(t *testing.T) {
	f := newLifecycleFixture()
	f.seedRequest(models.RequestStateSubmitted)

	advisor := Actor{UserID: "adv-1", Role: models.RoleAdvisor}
	updated, err := f.svc.Decide(context.Background(), "req-1", advisor, dto.DecideRequest{Action: models.ActionApprove, Rationale: "clear"})
	require.NoError(t, err)
	require.Equal(t, models.RequestStateApproved, updated.State)
	require.Contains(t, f.repo.effects, "register:sec-1")
	require.Contains(t, f.cache.sections, "sec-1")
	require.Contains(t, f.cache.schedules, "stu-1")
	require.Len(t, f.audit.logs, 1)
}

func TestDecideIsIdempotent(t *testing.T) {
	f := newLifecycleFixture()
	f.seedRequest(models.RequestStateSubmitted)

	advisor := Actor{UserID: "adv-1", Role: models.RoleAdvisor}
	first, err := f.svc.Decide(context.Background(), "req-1", advisor, dto.DecideRequest{Action: models.ActionApprove})
	require.NoError(t, err)
	require.Equal(t, models.RequestStateApproved, first.State)

	_, err = f.svc.Decide(context.Background(), "req-1", advisor, dto.DecideRequest{Action: models.ActionApprove})
	require.Equal(t, appErrors.ErrAlreadyProcessed.Code, errCode(t, err))
	require.Equal(t, []string{"register:sec-1"}, f.repo.effects, "exactly one enrollment effect")
}

func TestDecideRoleMismatch(t *testing.T) {
	f := newLifecycleFixture()
	f.seedRequest(models.RequestStateSubmitted)

	studentID := "stu-1"
	student := Actor{UserID: "usr-1", Role: models.RoleStudent, StudentID: &studentID}
	_, err := f.svc.Decide(context.Background(), "req-1", student, dto.DecideRequest{Action: models.ActionApprove})
	require.Equal(t, appErrors.ErrForbidden.Code, errCode(t, err))

	// final_approve from submitted is an invalid source state, not a role
	// problem.
	dept := Actor{UserID: "dep-1", Role: models.RoleDepartmentHead}
	_, err = f.svc.Decide(context.Background(), "req-1", dept, dto.DecideRequest{Action: models.ActionFinalApprove})
	require.Equal(t, appErrors.ErrInvalidState.Code, errCode(t, err))
}

func TestDecideCancelOwnershipGuard(t *testing.T) {
	f := newLifecycleFixture()
	f.seedRequest(models.RequestStateSubmitted)

	otherID := "stu-2"
	other := Actor{UserID: "usr-2", Role: models.RoleStudent, StudentID: &otherID}
	_, err := f.svc.Decide(context.Background(), "req-1", other, dto.DecideRequest{Action: models.ActionCancel})
	require.Equal(t, appErrors.ErrForbidden.Code, errCode(t, err))

	ownerID := "stu-1"
	owner := Actor{UserID: "usr-1", Role: models.RoleStudent, StudentID: &ownerID}
	updated, err := f.svc.Decide(context.Background(), "req-1", owner, dto.DecideRequest{Action: models.ActionCancel})
	require.NoError(t, err)
	require.Equal(t, models.RequestStateCancelled, updated.State)
}

func TestDecideUnknownAction(t *testing.T) {
	f := newLifecycleFixture()
	f.seedRequest(models.RequestStateSubmitted)

	advisor := Actor{UserID: "adv-1", Role: models.RoleAdvisor}
	_, err := f.svc.Decide(context.Background(), "req-1", advisor, dto.DecideRequest{Action: "escalate"})
	require.Equal(t, appErrors.ErrValidation.Code, errCode(t, err))
}

func TestApproveRejectsOnStaleEligibility(t *testing.T) {
	f := newLifecycleFixture()
	f.seedRequest(models.RequestStateSubmitted)
	// Section filled between submission and decision.
	f.reg.enrolledCount["sec-1"] = 30

	advisor := Actor{UserID: "adv-1", Role: models.RoleAdvisor}
	updated, err := f.svc.Decide(context.Background(), "req-1", advisor, dto.DecideRequest{Action: models.ActionApprove})
	require.NoError(t, err)
	require.Equal(t, models.RequestStateRejected, updated.State)
	require.NotNil(t, updated.ReviewerNotes)
	require.Contains(t, *updated.ReviewerNotes, string(models.RuleCapacity))
	require.Empty(t, f.repo.effects)
}

func TestApproveCapacityRaceRejects(t *testing.T) {
	f := newLifecycleFixture()
	f.seedRequest(models.RequestStateSubmitted)
	// Eligibility sees a free seat but the locked re-count does not.
	f.repo.approveErr = repository.ErrCapacityFull
	f.repo.approveFails = 1

	advisor := Actor{UserID: "adv-1", Role: models.RoleAdvisor}
	_, err := f.svc.Decide(context.Background(), "req-1", advisor, dto.DecideRequest{Action: models.ActionApprove})
	require.Equal(t, appErrors.ErrCapacityExceeded.Code, errCode(t, err))
	require.Equal(t, models.RequestStateRejected, f.repo.requests["req-1"].State)
}

func TestApproveRetriesThenUnavailable(t *testing.T) {
	f := newLifecycleFixture(WithDecisionRetryLimit(3))
	f.seedRequest(models.RequestStateSubmitted)
	f.repo.approveErr = &pq.Error{Code: "40001"}

	advisor := Actor{UserID: "adv-1", Role: models.RoleAdvisor}
	_, err := f.svc.Decide(context.Background(), "req-1", advisor, dto.DecideRequest{Action: models.ActionApprove})
	require.Equal(t, appErrors.ErrUnavailable.Code, errCode(t, err))
	require.Equal(t, 3, f.repo.approveCalls)
}

func TestApproveRecoversAfterRetry(t *testing.T) {
	f := newLifecycleFixture(WithDecisionRetryLimit(3))
	f.seedRequest(models.RequestStateSubmitted)
	f.repo.approveErr = &pq.Error{Code: "55P03"}
	f.repo.approveFails = 1

	advisor := Actor{UserID: "adv-1", Role: models.RoleAdvisor}
	updated, err := f.svc.Decide(context.Background(), "req-1", advisor, dto.DecideRequest{Action: models.ActionApprove})
	require.NoError(t, err)
	require.Equal(t, models.RequestStateApproved, updated.State)
	require.Equal(t, 2, f.repo.approveCalls)
}

func TestGrantExceptionThenFinalApprove(t *testing.T) {
	f := newLifecycleFixture()
	f.seedRequest(models.RequestStateDeptReview)
	// The section is full; only the capacity waiver can get this request
	// through.
	f.reg.enrolledCount["sec-1"] = 30

	dept := Actor{UserID: "dep-1", Role: models.RoleDepartmentHead}

	updated, err := f.svc.Decide(context.Background(), "req-1", dept, dto.DecideRequest{
		Action:        models.ActionGrantException,
		ExceptionType: models.ExceptionCapacityOverride,
		Rationale:     "graduating senior",
	})
	require.NoError(t, err)
	require.Equal(t, models.RequestStateExceptionGranted, updated.State)
	require.Len(t, f.repo.exceptions["req-1"], 1)
	require.Empty(t, f.repo.effects, "grant alone must not enroll")

	// final_approve from exception_granted re-checks with the waiver
	// applied and commits the enrollment despite the full section.
	final, err := f.svc.Decide(context.Background(), "req-1", dept, dto.DecideRequest{Action: models.ActionFinalApprove})
	require.NoError(t, err)
	require.Equal(t, models.RequestStateApproved, final.State)
	require.True(t, f.repo.lastApprove.SkipCapacityCheck)
	require.Equal(t, 1, f.repo.approveCalls)
	require.Contains(t, f.repo.effects, "register:sec-1")
}

func TestExceptionGrantedRejectsPlainApprove(t *testing.T) {
	f := newLifecycleFixture()
	f.seedRequest(models.RequestStateExceptionGranted)

	advisor := Actor{UserID: "adv-1", Role: models.RoleAdvisor}
	_, err := f.svc.Decide(context.Background(), "req-1", advisor, dto.DecideRequest{Action: models.ActionApprove})
	require.Equal(t, appErrors.ErrInvalidState.Code, errCode(t, err))
	require.Empty(t, f.repo.effects)
}

func TestGrantExceptionRequiresKnownType(t *testing.T) {
	f := newLifecycleFixture()
	f.seedRequest(models.RequestStateDeptReview)

	dept := Actor{UserID: "dep-1", Role: models.RoleDepartmentHead}
	_, err := f.svc.Decide(context.Background(), "req-1", dept, dto.DecideRequest{Action: models.ActionGrantException})
	require.Equal(t, appErrors.ErrValidation.Code, errCode(t, err))
}

func TestApproveDropSkipsEligibility(t *testing.T) {
	f := newLifecycleFixture()
	fromSection := "sec-1"
	request := &models.RegistrationRequest{
		ID:            "req-2",
		StudentID:     "stu-1",
		Type:          models.RequestTypeDrop,
		FromSectionID: &fromSection,
		State:         models.RequestStateSubmitted,
		CreatedAt:     time.Now().UTC(),
	}
	f.repo.requests[request.ID] = request
	// A full section must not block leaving it.
	f.reg.enrolledCount["sec-1"] = 30

	advisor := Actor{UserID: "adv-1", Role: models.RoleAdvisor}
	updated, err := f.svc.Decide(context.Background(), "req-2", advisor, dto.DecideRequest{Action: models.ActionApprove})
	require.NoError(t, err)
	require.Equal(t, models.RequestStateApproved, updated.State)
	require.Contains(t, f.repo.effects, "drop:sec-1")
}

func TestGetRequestScopesStudents(t *testing.T) {
	f := newLifecycleFixture()
	f.seedRequest(models.RequestStateSubmitted)

	ownerID := "stu-1"
	owner := Actor{UserID: "usr-1", Role: models.RoleStudent, StudentID: &ownerID}
	detail, err := f.svc.GetRequest(context.Background(), "req-1", owner)
	require.NoError(t, err)
	require.Equal(t, "req-1", detail.ID)

	otherID := "stu-2"
	other := Actor{UserID: "usr-2", Role: models.RoleStudent, StudentID: &otherID}
	_, err = f.svc.GetRequest(context.Background(), "req-1", other)
	require.Equal(t, appErrors.ErrForbidden.Code, errCode(t, err))
}

func TestListRequestsRoleScoping(t *testing.T) {
	f := newLifecycleFixture()
	f.seedRequest(models.RequestStateSubmitted)
	referred := "sec-2"
	f.repo.requests["req-9"] = &models.RegistrationRequest{
		ID:          "req-9",
		StudentID:   "stu-2",
		Type:        models.RequestTypeAdd,
		ToSectionID: &referred,
		State:       models.RequestStateDeptReview,
	}

	ownerID := "stu-1"
	student := Actor{UserID: "usr-1", Role: models.RoleStudent, StudentID: &ownerID}
	mine, err := f.svc.ListRequests(context.Background(), student, dto.RequestQuery{})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	require.Equal(t, "req-1", mine[0].ID)

	dept := Actor{UserID: "dep-1", Role: models.RoleDepartmentHead}
	queue, err := f.svc.ListRequests(context.Background(), dept, dto.RequestQuery{})
	require.NoError(t, err)
	require.Len(t, queue, 1)
	require.Equal(t, "req-9", queue[0].ID)

	registrar := Actor{UserID: "reg-1", Role: models.RoleRegistrar}
	all, err := f.svc.ListRequests(context.Background(), registrar, dto.RequestQuery{})
	require.NoError(t, err)
	require.Len(t, all, 2)
}

// concurrentRepoStub guards its state with a mutex and enforces the seat
// count inside the commit, so racing approvals contend the way the real
// locked transaction does.
type concurrentRepoStub struct {
	mu       sync.Mutex
	requests map[string]*models.RegistrationRequest
	capacity int
	seats    int
}

func (r *concurrentRepoStub) Create(ctx context.Context, request *models.RegistrationRequest) error {
	return nil
}

func (r *concurrentRepoStub) GetByID(ctx context.Context, id string) (*models.RegistrationRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if req, ok := r.requests[id]; ok {
		clone := *req
		return &clone, nil
	}
	return nil, sql.ErrNoRows
}

func (r *concurrentRepoStub) List(ctx context.Context, filter models.RequestFilter) ([]models.RegistrationRequest, error) {
	return nil, nil
}

func (r *concurrentRepoStub) ExistsPending(ctx context.Context, studentID string, reqType models.RequestType, sectionID string) (bool, error) {
	return false, nil
}

func (r *concurrentRepoStub) Transition(ctx context.Context, params repository.DecisionParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[params.RequestID]
	if !ok || req.State != params.FromState {
		return sql.ErrNoRows
	}
	req.State = params.ToState
	req.ReviewerNotes = params.Notes
	return nil
}

func (r *concurrentRepoStub) ApproveWithEnrollment(ctx context.Context, params repository.ApproveParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[params.Decision.RequestID]
	if !ok || req.State != params.Decision.FromState {
		return sql.ErrNoRows
	}
	if !params.SkipCapacityCheck && r.seats >= r.capacity {
		return repository.ErrCapacityFull
	}
	r.seats++
	req.State = params.Decision.ToState
	return nil
}

func (r *concurrentRepoStub) GrantException(ctx context.Context, params repository.DecisionParams, exception *models.PolicyException) error {
	return nil
}

func (r *concurrentRepoStub) ListDecisions(ctx context.Context, requestID string) ([]models.RequestDecision, error) {
	return nil, nil
}

func (r *concurrentRepoStub) ListExceptions(ctx context.Context, requestID string) ([]models.PolicyException, error) {
	return nil, nil
}

func TestConcurrentApprovalsLastSeat(t *testing.T) {
	reg, eligibility := newEligibilityFixture()
	// Every pre-check sees the last seat free; only the guarded commit
	// may hand it out.
	reg.sections["sec-1"].Capacity = 1

	repo := &concurrentRepoStub{
		requests: make(map[string]*models.RegistrationRequest),
		capacity: 1,
	}
	toSection := "sec-1"
	const racers = 8
	for i := 0; i < racers; i++ {
		id := fmt.Sprintf("req-%d", i)
		repo.requests[id] = &models.RegistrationRequest{
			ID:          id,
			StudentID:   "stu-1",
			Type:        models.RequestTypeAdd,
			ToSectionID: &toSection,
			State:       models.RequestStateSubmitted,
		}
	}

	svc := NewRequestService(repo, eligibility, reg, reg, nil, nil, nil)
	advisor := Actor{UserID: "adv-1", Role: models.RoleAdvisor}

	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("req-%d", i)
			_, errs[i] = svc.Decide(context.Background(), id, advisor, dto.DecideRequest{Action: models.ActionApprove})
		}(i)
	}
	wg.Wait()

	approved, rejected := 0, 0
	for i := 0; i < racers; i++ {
		state := repo.requests[fmt.Sprintf("req-%d", i)].State
		switch state {
		case models.RequestStateApproved:
			require.NoError(t, errs[i])
			approved++
		case models.RequestStateRejected:
			require.Equal(t, appErrors.ErrCapacityExceeded.Code, errCode(t, errs[i]))
			rejected++
		default:
			t.Fatalf("request %d left in state %s", i, state)
		}
	}
	require.Equal(t, 1, approved, "exactly one racer may take the last seat")
	require.Equal(t, racers-1, rejected)
	require.Equal(t, 1, repo.seats)
}
