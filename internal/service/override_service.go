package service

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/noah-isme/course-reg-api/internal/dto"
	"github.com/noah-isme/course-reg-api/internal/models"
	appErrors "github.com/noah-isme/course-reg-api/pkg/errors"
)

type overrideStore interface {
	FindByID(ctx context.Context, id string) (*models.Section, error)
	OverrideCapacity(ctx context.Context, sectionID string, newCapacity int, actorID, justification string) (*models.CapacityOverride, error)
	ListOverrides(ctx context.Context, sectionID string) ([]models.CapacityOverride, error)
}

type overrideValidator interface {
	Struct(s interface{}) error
}

// OverrideService applies administrative capacity changes. Every change is
// unconditional and leaves an immutable override record; overselling a
// section is allowed on purpose.
type OverrideService struct {
	sections  overrideStore
	audit     auditLogger
	cache     cacheInvalidator
	validator overrideValidator
	logger    *zap.Logger
}

// NewOverrideService constructs the service.
func NewOverrideService(sections overrideStore, audit auditLogger, cache cacheInvalidator, validator overrideValidator, logger *zap.Logger) *OverrideService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OverrideService{
		sections:  sections,
		audit:     audit,
		cache:     cache,
		validator: validator,
		logger:    logger,
	}
}

// OverrideCapacity sets a section's enrollment ceiling and records who did
// it and why.
func (s *OverrideService) OverrideCapacity(ctx context.Context, sectionID string, actor Actor, req dto.OverrideCapacityRequest) (*models.CapacityOverride, error) {
	if s.validator != nil {
		if err := s.validator.Struct(req); err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
		}
	}

	if _, err := s.sections.FindByID(ctx, sectionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "section not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load section")
	}

	record, err := s.sections.OverrideCapacity(ctx, sectionID, req.NewCapacity, actor.UserID, req.Justification)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to override capacity")
	}

	if s.cache != nil {
		s.cache.InvalidateSection(ctx, sectionID)
	}
	s.emitAudit(ctx, actor, record)

	s.logger.Info("section capacity overridden",
		zap.String("section_id", sectionID),
		zap.Int("old_capacity", record.OldCapacity),
		zap.Int("new_capacity", record.NewCapacity),
		zap.String("actor_id", actor.UserID))
	return record, nil
}

// ListOverrides returns the override history for a section, newest first.
func (s *OverrideService) ListOverrides(ctx context.Context, sectionID string) ([]models.CapacityOverride, error) {
	overrides, err := s.sections.ListOverrides(ctx, sectionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list overrides")
	}
	return overrides, nil
}

func (s *OverrideService) emitAudit(ctx context.Context, actor Actor, record *models.CapacityOverride) {
	if s.audit == nil {
		return
	}
	log := &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     models.AuditActionCapacityOverride,
		Resource:   "section",
		ResourceID: &record.SectionID,
		NewValues:  mustJSON(record),
		IPAddress:  "system",
		UserAgent:  "override-service",
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}
