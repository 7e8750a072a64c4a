package models

// RuleCode identifies a business rule evaluated by the eligibility engine.
// The catalog is internal; codes are not a stable external contract.
type RuleCode string

const (
	RuleCapacity     RuleCode = "BR-CAPACITY"
	RuleTimeConflict RuleCode = "BR-TIME-CONFLICT"
	RuleCreditLimit  RuleCode = "BR-CREDIT-LIMIT"
	RulePrereq       RuleCode = "BR-PREREQ"
	RuleStanding     RuleCode = "BR-STANDING"
)

// ViolationSeverity splits blocking findings from advisory ones.
type ViolationSeverity string

const (
	SeverityError   ViolationSeverity = "error"
	SeverityWarning ViolationSeverity = "warning"
)

// Violation is a named business-rule finding. Violations are computed on
// demand and embedded in responses or a request's rejection notes; they are
// never persisted as first-class rows.
type Violation struct {
	RuleCode RuleCode               `json:"rule_code"`
	Severity ViolationSeverity      `json:"severity"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`
}

// IsBlocking reports whether the violation alone prevents attachment.
func (v Violation) IsBlocking() bool {
	return v.Severity == SeverityError
}

// EligibilityResult is the structured verdict for a (student, section) pair.
type EligibilityResult struct {
	Attachable bool           `json:"attachable"`
	Violations []Violation    `json:"violations"`
	Seats      SeatInfo       `json:"seats"`
	Section    *SectionDetail `json:"section,omitempty"`
}

// HasBlocking reports whether any error-severity violation is present.
func HasBlocking(violations []Violation) bool {
	for _, v := range violations {
		if v.IsBlocking() {
			return true
		}
	}
	return false
}

// FilterWaived drops violations whose rule class is covered by granted
// exception types, leaving the rest intact.
func FilterWaived(violations []Violation, waived map[RuleCode]bool) []Violation {
	if len(waived) == 0 {
		return violations
	}
	kept := make([]Violation, 0, len(violations))
	for _, v := range violations {
		if waived[v.RuleCode] {
			continue
		}
		kept = append(kept, v)
	}
	return kept
}
