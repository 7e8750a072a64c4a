package models

import "time"

// EnrollmentStatus represents the lifecycle of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses.
const (
	EnrollmentStatusRegistered EnrollmentStatus = "registered"
	EnrollmentStatusWaitlisted EnrollmentStatus = "waitlisted"
	EnrollmentStatusDropped    EnrollmentStatus = "dropped"
)

// Enrollment captures a student's attachment to a section. At most one
// enrollment exists per (student, section); status changes in place.
type Enrollment struct {
	ID         string           `db:"id" json:"id"`
	StudentID  string           `db:"student_id" json:"student_id"`
	SectionID  string           `db:"section_id" json:"section_id"`
	Status     EnrollmentStatus `db:"status" json:"status"`
	EnrolledAt time.Time        `db:"enrolled_at" json:"enrolled_at"`
}

// ScheduleEntry is one row of a student's weekly schedule projection.
type ScheduleEntry struct {
	Enrollment
	CourseCode  string    `db:"course_code" json:"course_code"`
	CourseTitle string    `db:"course_title" json:"course_title"`
	Credits     int       `db:"credits" json:"credits"`
	SectionCode string    `db:"section_code" json:"section_code"`
	Meetings    []Meeting `json:"meetings"`
}

// StudentSchedule is the ordered weekly schedule for one student.
type StudentSchedule struct {
	StudentID    string          `json:"student_id"`
	Entries      []ScheduleEntry `json:"entries"`
	TotalCredits int             `json:"total_credits"`
}
