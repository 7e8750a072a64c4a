package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-reg-api/internal/models"
)

// SectionRepository handles persistence of sections, their meetings and
// capacity override records.
type SectionRepository struct {
	db *sqlx.DB
}

// NewSectionRepository constructs the repository.
func NewSectionRepository(db *sqlx.DB) *SectionRepository {
	return &SectionRepository{db: db}
}

// FindByID returns a section by its ID.
func (r *SectionRepository) FindByID(ctx context.Context, id string) (*models.Section, error) {
	const query = `SELECT id, course_id, term_id, section_code, instructor_id, capacity, waitlist_capacity
        FROM sections WHERE id = $1`
	var section models.Section
	if err := r.db.GetContext(ctx, &section, query, id); err != nil {
		return nil, err
	}
	return &section, nil
}

// FindDetailByID returns a section joined with its course and instructor.
func (r *SectionRepository) FindDetailByID(ctx context.Context, id string) (*models.SectionDetail, error) {
	const query = `SELECT s.id, s.course_id, s.term_id, s.section_code, s.instructor_id, s.capacity, s.waitlist_capacity,
        c.code AS course_code, c.title AS course_title, c.credits,
        COALESCE(i.name, 'TBD') AS instructor_name
        FROM sections s
        JOIN courses c ON c.id = s.course_id
        LEFT JOIN instructors i ON i.id = s.instructor_id
        WHERE s.id = $1`
	var detail models.SectionDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// ListMeetings returns the weekly meetings of a section ordered by day and
// start time.
func (r *SectionRepository) ListMeetings(ctx context.Context, sectionID string) ([]models.Meeting, error) {
	const query = `SELECT id, section_id, activity, day_of_week, start_min, end_min, room_id
        FROM section_meetings WHERE section_id = $1 ORDER BY day_of_week, start_min`
	var meetings []models.Meeting
	if err := r.db.SelectContext(ctx, &meetings, query, sectionID); err != nil {
		return nil, fmt.Errorf("list section meetings: %w", err)
	}
	return meetings, nil
}

// CountRegistered returns the number of registered enrollments in a section.
func (r *SectionRepository) CountRegistered(ctx context.Context, sectionID string) (int, error) {
	const query = `SELECT COUNT(*) FROM enrollments WHERE section_id = $1 AND status = $2`
	var count int
	if err := r.db.GetContext(ctx, &count, query, sectionID, models.EnrollmentStatusRegistered); err != nil {
		return 0, fmt.Errorf("count registered enrollments: %w", err)
	}
	return count, nil
}

// ListByCourse returns sections of a course, optionally narrowed to a term.
func (r *SectionRepository) ListByCourse(ctx context.Context, courseID, termID string) ([]models.SectionDetail, error) {
	query := `SELECT s.id, s.course_id, s.term_id, s.section_code, s.instructor_id, s.capacity, s.waitlist_capacity,
        c.code AS course_code, c.title AS course_title, c.credits,
        COALESCE(i.name, 'TBD') AS instructor_name
        FROM sections s
        JOIN courses c ON c.id = s.course_id
        LEFT JOIN instructors i ON i.id = s.instructor_id
        WHERE s.course_id = $1`
	args := []interface{}{courseID}
	if termID != "" {
		query += " AND s.term_id = $2"
		args = append(args, termID)
	}
	query += " ORDER BY s.section_code"

	var sections []models.SectionDetail
	if err := r.db.SelectContext(ctx, &sections, query, args...); err != nil {
		return nil, fmt.Errorf("list sections: %w", err)
	}
	return sections, nil
}

// OverrideCapacity sets a section's capacity and appends the immutable
// override record in one transaction. Returns the persisted record.
func (r *SectionRepository) OverrideCapacity(ctx context.Context, sectionID string, newCapacity int, actorID, justification string) (*models.CapacityOverride, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin capacity override: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var oldCapacity int
	if err := tx.GetContext(ctx, &oldCapacity, `SELECT capacity FROM sections WHERE id = $1 FOR UPDATE`, sectionID); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `UPDATE sections SET capacity = $2 WHERE id = $1`, sectionID, newCapacity); err != nil {
		return nil, fmt.Errorf("update section capacity: %w", err)
	}

	record := &models.CapacityOverride{
		ID:            uuid.NewString(),
		SectionID:     sectionID,
		OldCapacity:   oldCapacity,
		NewCapacity:   newCapacity,
		ActorID:       actorID,
		Justification: justification,
		CreatedAt:     time.Now().UTC(),
	}
	const insert = `INSERT INTO capacity_overrides (id, section_id, old_capacity, new_capacity, actor_id, justification, created_at)
        VALUES (:id, :section_id, :old_capacity, :new_capacity, :actor_id, :justification, :created_at)`
	if _, err := tx.NamedExecContext(ctx, insert, record); err != nil {
		return nil, fmt.Errorf("record capacity override: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit capacity override: %w", err)
	}
	return record, nil
}

// ListOverrides returns the override history for a section, latest first.
func (r *SectionRepository) ListOverrides(ctx context.Context, sectionID string) ([]models.CapacityOverride, error) {
	const query = `SELECT id, section_id, old_capacity, new_capacity, actor_id, justification, created_at
        FROM capacity_overrides WHERE section_id = $1 ORDER BY created_at DESC`
	var overrides []models.CapacityOverride
	if err := r.db.SelectContext(ctx, &overrides, query, sectionID); err != nil {
		return nil, fmt.Errorf("list capacity overrides: %w", err)
	}
	return overrides, nil
}
