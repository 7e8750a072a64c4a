package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-reg-api/internal/models"
)

// StudentRepository reads student academic records. Students are owned by
// administrative processes; the registration core never mutates them.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs the repository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// FindByID returns a student by its ID.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.Student, error) {
	const query = `SELECT id, external_sis_id, program_id, full_name, standing, gpa, credits_completed
        FROM students WHERE id = $1`
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, id); err != nil {
		return nil, err
	}
	return &student, nil
}

// FindProgram returns the program a student belongs to.
func (r *StudentRepository) FindProgram(ctx context.Context, programID string) (*models.Program, error) {
	const query = `SELECT id, name, max_credits FROM programs WHERE id = $1`
	var program models.Program
	if err := r.db.GetContext(ctx, &program, query, programID); err != nil {
		return nil, err
	}
	return &program, nil
}

// MaxCredits resolves the credit ceiling for a student, falling back to the
// provided default when the student has no program or the program does not
// set one.
func (r *StudentRepository) MaxCredits(ctx context.Context, student *models.Student, fallback int) (int, error) {
	if student.ProgramID == nil {
		return fallback, nil
	}
	program, err := r.FindProgram(ctx, *student.ProgramID)
	if err != nil {
		return 0, fmt.Errorf("resolve program credits: %w", err)
	}
	if program.MaxCredits <= 0 {
		return fallback, nil
	}
	return program.MaxCredits, nil
}
