package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-reg-api/internal/models"
)

// EnrollmentRepository reads enrollment and schedule projections. Enrollment
// writes happen inside the request decision transaction (RequestRepository);
// this repository only serves the read paths.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// FindByStudentAndSection returns the single enrollment row for the pair.
func (r *EnrollmentRepository) FindByStudentAndSection(ctx context.Context, studentID, sectionID string) (*models.Enrollment, error) {
	const query = `SELECT id, student_id, section_id, status, enrolled_at
        FROM enrollments WHERE student_id = $1 AND section_id = $2`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, studentID, sectionID); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// ListRegisteredByStudent returns the student's registered enrollments with
// course context, ordered for schedule display.
func (r *EnrollmentRepository) ListRegisteredByStudent(ctx context.Context, studentID string) ([]models.ScheduleEntry, error) {
	const query = `SELECT e.id, e.student_id, e.section_id, e.status, e.enrolled_at,
        c.code AS course_code, c.title AS course_title, c.credits, s.section_code
        FROM enrollments e
        JOIN sections s ON s.id = e.section_id
        JOIN courses c ON c.id = s.course_id
        WHERE e.student_id = $1 AND e.status = $2
        ORDER BY c.code, s.section_code`
	var entries []models.ScheduleEntry
	if err := r.db.SelectContext(ctx, &entries, query, studentID, models.EnrollmentStatusRegistered); err != nil {
		return nil, fmt.Errorf("list registered enrollments: %w", err)
	}
	return entries, nil
}

// RegisteredMeeting carries a meeting with the course it belongs to, for
// conflict reporting.
type RegisteredMeeting struct {
	models.Meeting
	CourseCode  string `db:"course_code"`
	SectionCode string `db:"section_code"`
}

// ListRegisteredMeetings returns every meeting of every section the student
// is currently registered in.
func (r *EnrollmentRepository) ListRegisteredMeetings(ctx context.Context, studentID string) ([]RegisteredMeeting, error) {
	const query = `SELECT m.id, m.section_id, m.activity, m.day_of_week, m.start_min, m.end_min, m.room_id,
        c.code AS course_code, s.section_code
        FROM enrollments e
        JOIN sections s ON s.id = e.section_id
        JOIN section_meetings m ON m.section_id = s.id
        JOIN courses c ON c.id = s.course_id
        WHERE e.student_id = $1 AND e.status = $2
        ORDER BY m.day_of_week, m.start_min`
	var meetings []RegisteredMeeting
	if err := r.db.SelectContext(ctx, &meetings, query, studentID, models.EnrollmentStatusRegistered); err != nil {
		return nil, fmt.Errorf("list registered meetings: %w", err)
	}
	return meetings, nil
}

// SumRegisteredCredits totals the credit hours of the student's registered
// sections.
func (r *EnrollmentRepository) SumRegisteredCredits(ctx context.Context, studentID string) (int, error) {
	const query = `SELECT COALESCE(SUM(c.credits), 0)
        FROM enrollments e
        JOIN sections s ON s.id = e.section_id
        JOIN courses c ON c.id = s.course_id
        WHERE e.student_id = $1 AND e.status = $2`
	var total int
	if err := r.db.GetContext(ctx, &total, query, studentID, models.EnrollmentStatusRegistered); err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, fmt.Errorf("sum registered credits: %w", err)
	}
	return total, nil
}
