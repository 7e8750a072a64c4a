package models

import "time"

// RequestType enumerates the registration change kinds.
type RequestType string

const (
	RequestTypeAdd           RequestType = "ADD"
	RequestTypeDrop          RequestType = "DROP"
	RequestTypeChangeSection RequestType = "CHANGE_SECTION"
)

// RequestState captures where a registration request sits in its approval
// lifecycle. Terminal states are never reopened.
type RequestState string

const (
	RequestStateSubmitted        RequestState = "submitted"
	RequestStateAdvisorReview    RequestState = "advisor_review"
	RequestStateDeptReview       RequestState = "dept_review"
	RequestStateApproved         RequestState = "approved"
	RequestStateRejected         RequestState = "rejected"
	RequestStateExceptionGranted RequestState = "exception_granted"
	RequestStateCancelled        RequestState = "cancelled"
)

// IsTerminal reports whether no further transitions are legal.
// exception_granted is a working state: the waiver is recorded but the
// enrollment has not been committed yet, so the request still awaits a
// final_approve (or reject/cancel).
func (s RequestState) IsTerminal() bool {
	switch s {
	case RequestStateApproved, RequestStateRejected, RequestStateCancelled:
		return true
	}
	return false
}

// DecisionAction enumerates the operations reviewers may take.
type DecisionAction string

const (
	ActionApprove        DecisionAction = "approve"
	ActionReject         DecisionAction = "reject"
	ActionRefer          DecisionAction = "refer"
	ActionFinalApprove   DecisionAction = "final_approve"
	ActionGrantException DecisionAction = "grant_exception"
	ActionCancel         DecisionAction = "cancel"
)

// transition defines one legal edge of the lifecycle state machine.
type transition struct {
	from RequestState
	to   RequestState
	role UserRole
}

// transitionTable holds every legal decision edge. Submission is not listed;
// it creates the request in the submitted state.
var transitionTable = map[DecisionAction][]transition{
	ActionApprove: {
		{from: RequestStateSubmitted, to: RequestStateApproved, role: RoleAdvisor},
		{from: RequestStateAdvisorReview, to: RequestStateApproved, role: RoleAdvisor},
	},
	ActionReject: {
		{from: RequestStateSubmitted, to: RequestStateRejected, role: RoleAdvisor},
		{from: RequestStateAdvisorReview, to: RequestStateRejected, role: RoleAdvisor},
		{from: RequestStateDeptReview, to: RequestStateRejected, role: RoleDepartmentHead},
		{from: RequestStateExceptionGranted, to: RequestStateRejected, role: RoleDepartmentHead},
	},
	ActionRefer: {
		{from: RequestStateSubmitted, to: RequestStateDeptReview, role: RoleAdvisor},
		{from: RequestStateAdvisorReview, to: RequestStateDeptReview, role: RoleAdvisor},
	},
	// final_approve from exception_granted carries the recorded waiver
	// into the enrollment commit.
	ActionFinalApprove: {
		{from: RequestStateDeptReview, to: RequestStateApproved, role: RoleDepartmentHead},
		{from: RequestStateExceptionGranted, to: RequestStateApproved, role: RoleDepartmentHead},
	},
	ActionGrantException: {
		{from: RequestStateDeptReview, to: RequestStateExceptionGranted, role: RoleDepartmentHead},
	},
	ActionCancel: {
		{from: RequestStateSubmitted, to: RequestStateCancelled, role: RoleStudent},
		{from: RequestStateAdvisorReview, to: RequestStateCancelled, role: RoleStudent},
		{from: RequestStateDeptReview, to: RequestStateCancelled, role: RoleStudent},
		{from: RequestStateExceptionGranted, to: RequestStateCancelled, role: RoleStudent},
	},
}

// ResolveTransition returns the target state for an action taken from a
// given state by a given role. The booleans split "illegal source state"
// from "wrong actor role" so callers can answer AlreadyProcessed vs
// Forbidden precisely.
func ResolveTransition(from RequestState, action DecisionAction, role UserRole) (to RequestState, stateOK, roleOK bool) {
	edges, ok := transitionTable[action]
	if !ok {
		return "", false, false
	}
	for _, e := range edges {
		if e.from != from {
			continue
		}
		stateOK = true
		if e.role == role {
			return e.to, true, true
		}
	}
	return "", stateOK, false
}

// ActionKnown reports whether the action exists in the transition table.
func ActionKnown(action DecisionAction) bool {
	_, ok := transitionTable[action]
	return ok
}

// RegistrationRequest is the persisted approval workflow entity. It is
// append-only: state and notes advance, rows are never deleted.
type RegistrationRequest struct {
	ID            string       `db:"id" json:"id"`
	StudentID     string       `db:"student_id" json:"student_id"`
	Type          RequestType  `db:"type" json:"type"`
	FromSectionID *string      `db:"from_section_id" json:"from_section_id,omitempty"`
	ToSectionID   *string      `db:"to_section_id" json:"to_section_id,omitempty"`
	Reason        string       `db:"reason" json:"reason"`
	State         RequestState `db:"state" json:"state"`
	ReviewerNotes *string      `db:"reviewer_notes" json:"reviewer_notes,omitempty"`
	CreatedAt     time.Time    `db:"created_at" json:"created_at"`
	DecidedAt     *time.Time   `db:"decided_at" json:"decided_at,omitempty"`
}

// RequestDecision is one append-only decision audit row.
type RequestDecision struct {
	ID        string         `db:"id" json:"id"`
	RequestID string         `db:"request_id" json:"request_id"`
	ActorID   string         `db:"actor_id" json:"actor_id"`
	ActorRole UserRole       `db:"actor_role" json:"actor_role"`
	Action    DecisionAction `db:"action" json:"action"`
	Rationale string         `db:"rationale" json:"rationale"`
	DecidedAt time.Time      `db:"decided_at" json:"decided_at"`
}

// RequestFilter constrains listing queries.
type RequestFilter struct {
	StudentID string
	States    []RequestState
	Type      RequestType
	SectionID string
	Limit     int
	Offset    int
}
