package models

import "time"

// Term models an academic term within the institution calendar.
type Term struct {
	ID                   string     `db:"id" json:"id"`
	Name                 string     `db:"name" json:"name"`
	StartsOn             time.Time  `db:"starts_on" json:"starts_on"`
	EndsOn               time.Time  `db:"ends_on" json:"ends_on"`
	RegistrationStartsOn *time.Time `db:"registration_starts_on" json:"registration_starts_on,omitempty"`
	RegistrationEndsOn   *time.Time `db:"registration_ends_on" json:"registration_ends_on,omitempty"`
}
