package dto

import "github.com/noah-isme/course-reg-api/internal/models"

// SubmitRequest is the payload for creating a registration request.
type SubmitRequest struct {
	StudentID     string             `json:"student_id" validate:"required"`
	Type          models.RequestType `json:"type" validate:"required,oneof=ADD DROP CHANGE_SECTION"`
	ToSectionID   string             `json:"to_section_id,omitempty"`
	FromSectionID string             `json:"from_section_id,omitempty"`
	Reason        string             `json:"reason,omitempty"`
}

// DecideRequest carries a reviewer decision on a pending request.
type DecideRequest struct {
	Action    models.DecisionAction `json:"action" validate:"required"`
	Rationale string                `json:"rationale,omitempty"`
	// ExceptionType is required when action is grant_exception.
	ExceptionType models.ExceptionType `json:"exception_type,omitempty"`
}

// RequestQuery filters request listings.
type RequestQuery struct {
	StudentID string
	States    []models.RequestState
	Type      models.RequestType
	SectionID string
	Limit     int
	Offset    int
}

// OverrideCapacityRequest raises or lowers a section's enrollment ceiling.
type OverrideCapacityRequest struct {
	NewCapacity   int    `json:"new_capacity" validate:"gte=0"`
	Justification string `json:"justification" validate:"required"`
}
