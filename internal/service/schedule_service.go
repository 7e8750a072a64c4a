package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/course-reg-api/internal/models"
	"github.com/noah-isme/course-reg-api/internal/repository"
	appErrors "github.com/noah-isme/course-reg-api/pkg/errors"
	"github.com/noah-isme/course-reg-api/pkg/export"
)

type scheduleStore interface {
	ListRegisteredByStudent(ctx context.Context, studentID string) ([]models.ScheduleEntry, error)
}

type meetingLister interface {
	ListMeetings(ctx context.Context, sectionID string) ([]models.Meeting, error)
}

type scheduleCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportFormat names a schedule export encoding.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

// ExportResult carries rendered bytes with their transport metadata.
type ExportResult struct {
	Content     []byte
	ContentType string
	Filename    string
}

// ScheduleService projects a student's registered enrollments into a weekly
// schedule and renders export documents from it.
type ScheduleService struct {
	enrollments scheduleStore
	sections    meetingLister
	students    studentReader
	cache       scheduleCache
	cacheTTL    time.Duration
	csv         csvRenderer
	pdf         pdfRenderer
	logger      *zap.Logger
}

// NewScheduleService constructs the service. The cache is optional; with a
// nil cache every projection hits Postgres.
func NewScheduleService(enrollments scheduleStore, sections meetingLister, students studentReader, cache scheduleCache, cacheTTL time.Duration, csv csvRenderer, pdf pdfRenderer, logger *zap.Logger) *ScheduleService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &ScheduleService{
		enrollments: enrollments,
		sections:    sections,
		students:    students,
		cache:       cache,
		cacheTTL:    cacheTTL,
		csv:         csv,
		pdf:         pdf,
		logger:      logger,
	}
}

// GetCurrentSchedule returns the student's registered sections with their
// meetings, ordered by day then start time, with the credit total computed.
func (s *ScheduleService) GetCurrentSchedule(ctx context.Context, studentID string) (*models.StudentSchedule, error) {
	if s.cache != nil {
		var cached models.StudentSchedule
		err := s.cache.Get(ctx, repository.ScheduleCacheKeyPrefix+studentID, &cached)
		if err == nil {
			return &cached, nil
		}
		if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("schedule cache read failed", zap.String("student_id", studentID), zap.Error(err))
		}
	}

	if _, err := s.students.FindByID(ctx, studentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}

	entries, err := s.enrollments.ListRegisteredByStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollments")
	}

	total := 0
	for i := range entries {
		meetings, err := s.sections.ListMeetings(ctx, entries[i].SectionID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load meetings")
		}
		entries[i].Meetings = meetings
		total += entries[i].Credits
	}
	sortEntriesByFirstMeeting(entries)

	schedule := &models.StudentSchedule{
		StudentID:    studentID,
		Entries:      entries,
		TotalCredits: total,
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, repository.ScheduleCacheKeyPrefix+studentID, schedule, s.cacheTTL); err != nil {
			s.logger.Warn("schedule cache write failed", zap.String("student_id", studentID), zap.Error(err))
		}
	}
	return schedule, nil
}

// Export renders the student's schedule in the requested format.
func (s *ScheduleService) Export(ctx context.Context, studentID string, format ExportFormat) (*ExportResult, error) {
	schedule, err := s.GetCurrentSchedule(ctx, studentID)
	if err != nil {
		return nil, err
	}
	dataset := scheduleDataset(schedule)

	switch format {
	case ExportFormatCSV:
		if s.csv == nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "csv export is disabled")
		}
		content, err := s.csv.Render(dataset)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
		}
		return &ExportResult{
			Content:     content,
			ContentType: "text/csv",
			Filename:    fmt.Sprintf("schedule-%s.csv", studentID),
		}, nil
	case ExportFormatPDF:
		if s.pdf == nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "pdf export is disabled")
		}
		content, err := s.pdf.Render(dataset, "Weekly Schedule")
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf")
		}
		return &ExportResult{
			Content:     content,
			ContentType: "application/pdf",
			Filename:    fmt.Sprintf("schedule-%s.pdf", studentID),
		}, nil
	}
	return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format: %s", format))
}

// sortEntriesByFirstMeeting orders entries by their earliest weekly meeting;
// entries without meetings sort last, by course code.
func sortEntriesByFirstMeeting(entries []models.ScheduleEntry) {
	key := func(e models.ScheduleEntry) (int, int) {
		if len(e.Meetings) == 0 {
			return 7, 24 * 60
		}
		first := e.Meetings[0]
		for _, m := range e.Meetings[1:] {
			if m.DayOfWeek < first.DayOfWeek || (m.DayOfWeek == first.DayOfWeek && m.StartMin < first.StartMin) {
				first = m
			}
		}
		return first.DayOfWeek, first.StartMin
	}
	sort.SliceStable(entries, func(i, j int) bool {
		di, si := key(entries[i])
		dj, sj := key(entries[j])
		if di != dj {
			return di < dj
		}
		if si != sj {
			return si < sj
		}
		return entries[i].CourseCode < entries[j].CourseCode
	})
}

func scheduleDataset(schedule *models.StudentSchedule) export.Dataset {
	headers := []string{"Course", "Title", "Section", "Credits", "Meetings"}
	rows := make([]map[string]string, 0, len(schedule.Entries)+1)
	for _, entry := range schedule.Entries {
		slots := make([]string, 0, len(entry.Meetings))
		for _, m := range entry.Meetings {
			slots = append(slots, fmt.Sprintf("%s %s (%s)", m.DayName(), m.TimeRange(), m.Activity))
		}
		rows = append(rows, map[string]string{
			"Course":   entry.CourseCode,
			"Title":    entry.CourseTitle,
			"Section":  entry.SectionCode,
			"Credits":  fmt.Sprintf("%d", entry.Credits),
			"Meetings": strings.Join(slots, "; "),
		})
	}
	rows = append(rows, map[string]string{
		"Course":  "TOTAL",
		"Credits": fmt.Sprintf("%d", schedule.TotalCredits),
	})
	// Meeting slots dominate the row width; give that column most of the page.
	return export.Dataset{
		Headers: headers,
		Rows:    rows,
		Weights: []float64{2, 3, 1.5, 1, 5},
	}
}
