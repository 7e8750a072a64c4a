package models

// Section is a scheduled offering of a course within a term.
type Section struct {
	ID               string  `db:"id" json:"id"`
	CourseID         string  `db:"course_id" json:"course_id"`
	TermID           string  `db:"term_id" json:"term_id"`
	SectionCode      string  `db:"section_code" json:"section_code"`
	InstructorID     *string `db:"instructor_id" json:"instructor_id,omitempty"`
	Capacity         int     `db:"capacity" json:"capacity"`
	WaitlistCapacity int     `db:"waitlist_capacity" json:"waitlist_capacity"`
}

// SectionDetail joins the owning course onto a section.
type SectionDetail struct {
	Section
	CourseCode     string `db:"course_code" json:"course_code"`
	CourseTitle    string `db:"course_title" json:"course_title"`
	Credits        int    `db:"credits" json:"credits"`
	InstructorName string `db:"instructor_name" json:"instructor_name"`
}

// SeatInfo summarises seat availability for a section. Available is clamped
// to zero for display even if an audited override has pushed enrollment past
// capacity.
type SeatInfo struct {
	Capacity  int `json:"capacity"`
	Enrolled  int `json:"enrolled"`
	Available int `json:"available"`
}

// NewSeatInfo builds seat info with the availability clamp applied.
func NewSeatInfo(capacity, enrolled int) SeatInfo {
	available := capacity - enrolled
	if available < 0 {
		available = 0
	}
	return SeatInfo{Capacity: capacity, Enrolled: enrolled, Available: available}
}

// SectionListing pairs a section with its seat counts and meetings for
// search results.
type SectionListing struct {
	SectionDetail
	Seats    SeatInfo  `json:"seats"`
	Meetings []Meeting `json:"meetings"`
}
