package models

import "fmt"

// MeetingActivity tags the kind of session a meeting holds.
type MeetingActivity string

const (
	ActivityLecture  MeetingActivity = "LEC"
	ActivityLab      MeetingActivity = "LAB"
	ActivityTutorial MeetingActivity = "TUT"
)

// Meeting is one recurring weekly time slot belonging to a section. Times
// are minutes from midnight forming the half-open range [StartMin, EndMin).
type Meeting struct {
	ID        string          `db:"id" json:"id"`
	SectionID string          `db:"section_id" json:"section_id"`
	Activity  MeetingActivity `db:"activity" json:"activity"`
	DayOfWeek int             `db:"day_of_week" json:"day_of_week"`
	StartMin  int             `db:"start_min" json:"start_min"`
	EndMin    int             `db:"end_min" json:"end_min"`
	RoomID    *string         `db:"room_id" json:"room_id,omitempty"`
}

// Overlaps reports whether two meetings collide. Meetings on different days
// never overlap; on the same day the half-open ranges must intersect, so
// back-to-back slots (a.End == b.Start) do not conflict and zero-length
// ranges conflict with nothing.
func (m Meeting) Overlaps(other Meeting) bool {
	if m.DayOfWeek != other.DayOfWeek {
		return false
	}
	return m.StartMin < other.EndMin && other.StartMin < m.EndMin
}

// TimeRange formats the slot as HH:MM-HH:MM.
func (m Meeting) TimeRange() string {
	return fmt.Sprintf("%s-%s", formatMinutes(m.StartMin), formatMinutes(m.EndMin))
}

// DayName returns the English weekday name for the meeting's day index.
func (m Meeting) DayName() string {
	names := [...]string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}
	if m.DayOfWeek < 0 || m.DayOfWeek >= len(names) {
		return "Unknown"
	}
	return names[m.DayOfWeek]
}

func formatMinutes(min int) string {
	return fmt.Sprintf("%02d:%02d", min/60, min%60)
}
