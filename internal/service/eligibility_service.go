package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/course-reg-api/internal/models"
	"github.com/noah-isme/course-reg-api/internal/repository"
	appErrors "github.com/noah-isme/course-reg-api/pkg/errors"
)

type studentReader interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
	MaxCredits(ctx context.Context, student *models.Student, fallback int) (int, error)
}

type sectionReader interface {
	FindDetailByID(ctx context.Context, id string) (*models.SectionDetail, error)
	ListMeetings(ctx context.Context, sectionID string) ([]models.Meeting, error)
	CountRegistered(ctx context.Context, sectionID string) (int, error)
	ListByCourse(ctx context.Context, courseID, termID string) ([]models.SectionDetail, error)
}

type enrollmentReader interface {
	FindByStudentAndSection(ctx context.Context, studentID, sectionID string) (*models.Enrollment, error)
	ListRegisteredMeetings(ctx context.Context, studentID string) ([]repository.RegisteredMeeting, error)
	SumRegisteredCredits(ctx context.Context, studentID string) (int, error)
}

type courseReader interface {
	FindByCode(ctx context.Context, code string) (*models.Course, error)
	ListPrereqs(ctx context.Context, courseID string) ([]models.CoursePrereq, error)
}

type seatCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// EligibilityPolicy tunes the rule engine.
type EligibilityPolicy struct {
	// DefaultMaxCredits applies when a student's program does not define a
	// credit ceiling.
	DefaultMaxCredits int
}

// CheckOptions adjusts a single eligibility evaluation.
type CheckOptions struct {
	// ExcludeSectionID ignores the student's enrollment in this section, so
	// a CHANGE_SECTION re-check does not conflict with the section being
	// left.
	ExcludeSectionID string
	// Waived suppresses violations of the given rule classes (granted
	// policy exceptions).
	Waived map[models.RuleCode]bool
}

// EligibilityService answers "can this student attach to this section?" by
// running the fixed rule catalog against live enrollment data. It is
// read-only and safe for concurrent use.
type EligibilityService struct {
	students    studentReader
	sections    sectionReader
	enrollments enrollmentReader
	courses     courseReader
	policy      EligibilityPolicy
	seats       seatCache
	seatTTL     time.Duration
	logger      *zap.Logger
}

// EligibilityServiceOption configures the service.
type EligibilityServiceOption func(*EligibilityService)

// WithSeatCache enables cached seat snapshots in section search results.
// The binding capacity check always re-counts from Postgres; only the
// display path reads the cache.
func WithSeatCache(cache seatCache, ttl time.Duration) EligibilityServiceOption {
	return func(s *EligibilityService) {
		if cache != nil && ttl > 0 {
			s.seats = cache
			s.seatTTL = ttl
		}
	}
}

// NewEligibilityService constructs the service.
func NewEligibilityService(students studentReader, sections sectionReader, enrollments enrollmentReader, courses courseReader, policy EligibilityPolicy, logger *zap.Logger, opts ...EligibilityServiceOption) *EligibilityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy.DefaultMaxCredits <= 0 {
		policy.DefaultMaxCredits = 18
	}
	svc := &EligibilityService{
		students:    students,
		sections:    sections,
		enrollments: enrollments,
		courses:     courses,
		policy:      policy,
		logger:      logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// CheckAttachable evaluates the full rule catalog for a (student, section)
// pair with no adjustments.
func (s *EligibilityService) CheckAttachable(ctx context.Context, studentID, sectionID string) (*models.EligibilityResult, error) {
	return s.Check(ctx, studentID, sectionID, CheckOptions{})
}

// Check evaluates eligibility with optional adjustments. Rules run in a
// fixed order and are all collected; an earlier violation never
// short-circuits a later rule.
func (s *EligibilityService) Check(ctx context.Context, studentID, sectionID string, opts CheckOptions) (*models.EligibilityResult, error) {
	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}

	section, err := s.sections.FindDetailByID(ctx, sectionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "section not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load section")
	}

	enrolled, err := s.sections.CountRegistered(ctx, sectionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count enrollment")
	}

	violations := make([]models.Violation, 0, 4)

	// Rule 1: capacity.
	if enrolled >= section.Capacity {
		violations = append(violations, models.Violation{
			RuleCode: models.RuleCapacity,
			Severity: models.SeverityError,
			Message:  "Section is at full capacity",
			Details: map[string]interface{}{
				"current":  enrolled,
				"capacity": section.Capacity,
			},
		})
	}

	// Rule 2: time conflicts against every registered meeting.
	conflictViolations, err := s.detectTimeConflicts(ctx, studentID, sectionID, opts.ExcludeSectionID)
	if err != nil {
		return nil, err
	}
	violations = append(violations, conflictViolations...)

	// Rule 3: credit overload. The boundary is inclusive: landing exactly
	// on the ceiling passes.
	currentCredits, err := s.enrollments.SumRegisteredCredits(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to total credits")
	}
	if opts.ExcludeSectionID != "" {
		currentCredits, err = s.discountSection(ctx, studentID, opts.ExcludeSectionID, currentCredits)
		if err != nil {
			return nil, err
		}
	}
	maxCredits, err := s.students.MaxCredits(ctx, student, s.policy.DefaultMaxCredits)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve credit limit")
	}
	if wouldTotal := currentCredits + section.Credits; wouldTotal > maxCredits {
		violations = append(violations, models.Violation{
			RuleCode: models.RuleCreditLimit,
			Severity: models.SeverityError,
			Message:  "Exceeds maximum credit limit",
			Details: map[string]interface{}{
				"current_credits": currentCredits,
				"section_credits": section.Credits,
				"would_total":     wouldTotal,
				"max_allowed":     maxCredits,
			},
		})
	}

	// Rule 4: prerequisite flag. Satisfaction is not resolved here; the
	// warning routes the request to an advisor who verifies the transcript.
	prereqs, err := s.courses.ListPrereqs(ctx, section.CourseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load prerequisites")
	}
	if len(prereqs) > 0 {
		codes := make([]string, 0, len(prereqs))
		for _, p := range prereqs {
			codes = append(codes, p.ReqCode)
		}
		violations = append(violations, models.Violation{
			RuleCode: models.RulePrereq,
			Severity: models.SeverityWarning,
			Message:  fmt.Sprintf("Prerequisites require verification for %s", section.CourseCode),
			Details: map[string]interface{}{
				"prerequisites": codes,
			},
		})
	}

	// Rule 5: academic standing.
	if student.Standing.RequiresAdvisorSignOff() {
		violations = append(violations, models.Violation{
			RuleCode: models.RuleStanding,
			Severity: models.SeverityWarning,
			Message:  fmt.Sprintf("Student on %s - advisor sign-off required", student.Standing),
			Details: map[string]interface{}{
				"standing": string(student.Standing),
			},
		})
	}

	violations = models.FilterWaived(violations, opts.Waived)

	return &models.EligibilityResult{
		Attachable: !models.HasBlocking(violations),
		Violations: violations,
		Seats:      models.NewSeatInfo(section.Capacity, enrolled),
		Section:    section,
	}, nil
}

func (s *EligibilityService) detectTimeConflicts(ctx context.Context, studentID, sectionID, excludeSectionID string) ([]models.Violation, error) {
	candidate, err := s.sections.ListMeetings(ctx, sectionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load candidate meetings")
	}
	current, err := s.enrollments.ListRegisteredMeetings(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load registered meetings")
	}

	var violations []models.Violation
	for _, cm := range candidate {
		for _, em := range current {
			if em.SectionID == sectionID || (excludeSectionID != "" && em.SectionID == excludeSectionID) {
				continue
			}
			if !cm.Overlaps(em.Meeting) {
				continue
			}
			violations = append(violations, models.Violation{
				RuleCode: models.RuleTimeConflict,
				Severity: models.SeverityError,
				Message:  fmt.Sprintf("Time conflict with %s", em.CourseCode),
				Details: map[string]interface{}{
					"conflicting_course":  em.CourseCode,
					"conflicting_section": em.SectionCode,
					"day":                 em.DayName(),
					"candidate_time":      cm.TimeRange(),
					"enrolled_time":       em.TimeRange(),
				},
			})
		}
	}
	return violations, nil
}

// discountSection removes the credits of the section being left from the
// running total when the student is currently registered there.
func (s *EligibilityService) discountSection(ctx context.Context, studentID, sectionID string, total int) (int, error) {
	enrollment, err := s.enrollments.FindByStudentAndSection(ctx, studentID, sectionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return total, nil
		}
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if enrollment.Status != models.EnrollmentStatusRegistered {
		return total, nil
	}
	detail, err := s.sections.FindDetailByID(ctx, sectionID)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load section")
	}
	total -= detail.Credits
	if total < 0 {
		total = 0
	}
	return total, nil
}

// SearchSections lists the sections of a course with live seat counts and
// meetings, optionally narrowed to a term.
func (s *EligibilityService) SearchSections(ctx context.Context, courseCode, termID string) ([]models.SectionListing, error) {
	course, err := s.courses.FindByCode(ctx, courseCode)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("course %s not found", courseCode))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}

	sections, err := s.sections.ListByCourse(ctx, course.ID, termID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sections")
	}

	listings := make([]models.SectionListing, 0, len(sections))
	for _, detail := range sections {
		seats, err := s.seatInfo(ctx, detail.ID, detail.Capacity)
		if err != nil {
			return nil, err
		}
		meetings, err := s.sections.ListMeetings(ctx, detail.ID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load meetings")
		}
		listings = append(listings, models.SectionListing{
			SectionDetail: detail,
			Seats:         seats,
			Meetings:      meetings,
		})
	}
	return listings, nil
}

// seatInfo serves seat snapshots for listings, through the cache when one
// is configured.
func (s *EligibilityService) seatInfo(ctx context.Context, sectionID string, capacity int) (models.SeatInfo, error) {
	if s.seats != nil {
		var cached models.SeatInfo
		err := s.seats.Get(ctx, repository.SeatCacheKeyPrefix+sectionID, &cached)
		if err == nil {
			return cached, nil
		}
		if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("seat cache read failed", zap.String("section_id", sectionID), zap.Error(err))
		}
	}

	enrolled, err := s.sections.CountRegistered(ctx, sectionID)
	if err != nil {
		return models.SeatInfo{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count enrollment")
	}
	info := models.NewSeatInfo(capacity, enrolled)

	if s.seats != nil {
		if err := s.seats.Set(ctx, repository.SeatCacheKeyPrefix+sectionID, info, s.seatTTL); err != nil {
			s.logger.Warn("seat cache write failed", zap.String("section_id", sectionID), zap.Error(err))
		}
	}
	return info, nil
}
