package models

// AcademicStanding classifies a student's academic status.
type AcademicStanding string

const (
	StandingRegular   AcademicStanding = "regular"
	StandingProbation AcademicStanding = "probation"
	StandingSuspended AcademicStanding = "suspended"
)

// RequiresAdvisorSignOff reports whether the standing needs an advisor to
// confirm any registration change.
func (s AcademicStanding) RequiresAdvisorSignOff() bool {
	return s == StandingProbation || s == StandingSuspended
}

// Student represents a learner's academic record. The registration core only
// reads students; administrative processes own mutations.
type Student struct {
	ID               string           `db:"id" json:"id"`
	ExternalSISID    string           `db:"external_sis_id" json:"external_sis_id"`
	ProgramID        *string          `db:"program_id" json:"program_id,omitempty"`
	FullName         string           `db:"full_name" json:"full_name"`
	Standing         AcademicStanding `db:"standing" json:"standing"`
	GPA              *float64         `db:"gpa" json:"gpa,omitempty"`
	CreditsCompleted int              `db:"credits_completed" json:"credits_completed"`
}

// Program groups students under a shared credit policy.
type Program struct {
	ID         string `db:"id" json:"id"`
	Name       string `db:"name" json:"name"`
	MaxCredits int    `db:"max_credits" json:"max_credits"`
}
