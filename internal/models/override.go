package models

import "time"

// CapacityOverride is an immutable audit record of an administrative
// capacity change. No lower bound against current enrollment is enforced;
// that is a deliberate escape valve for the registrar.
type CapacityOverride struct {
	ID            string    `db:"id" json:"id"`
	SectionID     string    `db:"section_id" json:"section_id"`
	OldCapacity   int       `db:"old_capacity" json:"old_capacity"`
	NewCapacity   int       `db:"new_capacity" json:"new_capacity"`
	ActorID       string    `db:"actor_id" json:"actor_id"`
	Justification string    `db:"justification" json:"justification"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// ExceptionType names the violation class a policy exception waives.
type ExceptionType string

const (
	ExceptionPrereqWaiver      ExceptionType = "prerequisite_waiver"
	ExceptionCapacityOverride  ExceptionType = "capacity_override"
	ExceptionCreditLimitWaiver ExceptionType = "credit_limit_waiver"
	ExceptionStandingWaiver    ExceptionType = "standing_waiver"
)

// WaivedRule maps the exception to the rule code it clears, or "" when the
// type is unknown.
func (t ExceptionType) WaivedRule() RuleCode {
	switch t {
	case ExceptionPrereqWaiver:
		return RulePrereq
	case ExceptionCapacityOverride:
		return RuleCapacity
	case ExceptionCreditLimitWaiver:
		return RuleCreditLimit
	case ExceptionStandingWaiver:
		return RuleStanding
	}
	return ""
}

// PolicyException records a department-head waiver bound to one request.
type PolicyException struct {
	ID        string        `db:"id" json:"id"`
	RequestID string        `db:"request_id" json:"request_id"`
	Type      ExceptionType `db:"type" json:"type"`
	ActorID   string        `db:"actor_id" json:"actor_id"`
	Rationale string        `db:"rationale" json:"rationale"`
	CreatedAt time.Time     `db:"created_at" json:"created_at"`
}
