package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-reg-api/internal/dto"
	"github.com/noah-isme/course-reg-api/internal/models"
	appErrors "github.com/noah-isme/course-reg-api/pkg/errors"
)

type overrideStoreStub struct {
	sections  map[string]*models.Section
	overrides map[string][]models.CapacityOverride
}

func newOverrideStoreStub() *overrideStoreStub {
	return &overrideStoreStub{
		sections:  make(map[string]*models.Section),
		overrides: make(map[string][]models.CapacityOverride),
	}
}

func (s *overrideStoreStub) FindByID(ctx context.Context, id string) (*models.Section, error) {
	if section, ok := s.sections[id]; ok {
		return section, nil
	}
	return nil, sql.ErrNoRows
}

func (s *overrideStoreStub) OverrideCapacity(ctx context.Context, sectionID string, newCapacity int, actorID, justification string) (*models.CapacityOverride, error) {
	section := s.sections[sectionID]
	record := models.CapacityOverride{
		ID:            uuid.NewString(),
		SectionID:     sectionID,
		OldCapacity:   section.Capacity,
		NewCapacity:   newCapacity,
		ActorID:       actorID,
		Justification: justification,
		CreatedAt:     time.Now().UTC(),
	}
	section.Capacity = newCapacity
	s.overrides[sectionID] = append(s.overrides[sectionID], record)
	return &record, nil
}

func (s *overrideStoreStub) ListOverrides(ctx context.Context, sectionID string) ([]models.CapacityOverride, error) {
	return s.overrides[sectionID], nil
}

func newOverrideFixture() (*overrideStoreStub, *auditStub, *invalidatorStub, *OverrideService) {
	store := newOverrideStoreStub()
	store.sections["sec-1"] = &models.Section{ID: "sec-1", CourseID: "crs-cs200", SectionCode: "A", Capacity: 30}
	audit := &auditStub{}
	cache := &invalidatorStub{}
	svc := NewOverrideService(store, audit, cache, validator.New(), nil)
	return store, audit, cache, svc
}

func TestOverrideCapacity(t *testing.T) {
	store, audit, cache, svc := newOverrideFixture()

	registrar := Actor{UserID: "reg-1", Role: models.RoleRegistrar}
	record, err := svc.OverrideCapacity(context.Background(), "sec-1", registrar, dto.OverrideCapacityRequest{
		NewCapacity:   35,
		Justification: "extra lab stations installed",
	})
	require.NoError(t, err)
	require.Equal(t, 30, record.OldCapacity)
	require.Equal(t, 35, record.NewCapacity)
	require.Equal(t, "reg-1", record.ActorID)
	require.Equal(t, 35, store.sections["sec-1"].Capacity)
	require.Equal(t, []string{"sec-1"}, cache.sections)
	require.Len(t, audit.logs, 1)
	require.Equal(t, models.AuditActionCapacityOverride, audit.logs[0].Action)
}

func TestOverrideCapacityBelowEnrollment(t *testing.T) {
	store, _, _, svc := newOverrideFixture()

	// Lowering below the current headcount is allowed; the section is
	// simply oversubscribed until students drop.
	registrar := Actor{UserID: "reg-1", Role: models.RoleRegistrar}
	record, err := svc.OverrideCapacity(context.Background(), "sec-1", registrar, dto.OverrideCapacityRequest{
		NewCapacity:   10,
		Justification: "room reassigned",
	})
	require.NoError(t, err)
	require.Equal(t, 10, record.NewCapacity)
	require.Equal(t, 10, store.sections["sec-1"].Capacity)
}

func TestOverrideCapacityUnknownSection(t *testing.T) {
	_, _, _, svc := newOverrideFixture()

	registrar := Actor{UserID: "reg-1", Role: models.RoleRegistrar}
	_, err := svc.OverrideCapacity(context.Background(), "sec-404", registrar, dto.OverrideCapacityRequest{
		NewCapacity:   35,
		Justification: "n/a",
	})
	require.Equal(t, appErrors.ErrNotFound.Code, errCode(t, err))
}

func TestOverrideCapacityRequiresJustification(t *testing.T) {
	_, audit, _, svc := newOverrideFixture()

	registrar := Actor{UserID: "reg-1", Role: models.RoleRegistrar}
	_, err := svc.OverrideCapacity(context.Background(), "sec-1", registrar, dto.OverrideCapacityRequest{
		NewCapacity: 35,
	})
	require.Equal(t, appErrors.ErrValidation.Code, errCode(t, err))
	require.Empty(t, audit.logs)

	_, err = svc.OverrideCapacity(context.Background(), "sec-1", registrar, dto.OverrideCapacityRequest{
		NewCapacity:   -1,
		Justification: "negative capacity",
	})
	require.Equal(t, appErrors.ErrValidation.Code, errCode(t, err))
}

func TestListOverridesHistory(t *testing.T) {
	_, _, _, svc := newOverrideFixture()

	registrar := Actor{UserID: "reg-1", Role: models.RoleRegistrar}
	for _, capacity := range []int{32, 35} {
		_, err := svc.OverrideCapacity(context.Background(), "sec-1", registrar, dto.OverrideCapacityRequest{
			NewCapacity:   capacity,
			Justification: "seats adjusted",
		})
		require.NoError(t, err)
	}

	history, err := svc.ListOverrides(context.Background(), "sec-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, 30, history[0].OldCapacity)
	require.Equal(t, 32, history[1].OldCapacity)
}
