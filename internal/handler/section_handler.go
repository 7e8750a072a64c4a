package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-reg-api/internal/dto"
	"github.com/noah-isme/course-reg-api/internal/models"
	"github.com/noah-isme/course-reg-api/internal/service"
	appErrors "github.com/noah-isme/course-reg-api/pkg/errors"
	"github.com/noah-isme/course-reg-api/pkg/response"
)

type eligibilityService interface {
	CheckAttachable(ctx context.Context, studentID, sectionID string) (*models.EligibilityResult, error)
	SearchSections(ctx context.Context, courseCode, termID string) ([]models.SectionListing, error)
}

type overrideService interface {
	OverrideCapacity(ctx context.Context, sectionID string, actor service.Actor, req dto.OverrideCapacityRequest) (*models.CapacityOverride, error)
	ListOverrides(ctx context.Context, sectionID string) ([]models.CapacityOverride, error)
}

// SectionHandler exposes section search, eligibility, and capacity-override
// endpoints.
type SectionHandler struct {
	eligibility eligibilityService
	overrides   overrideService
	metrics     *service.MetricsService
}

// NewSectionHandler constructs the handler.
func NewSectionHandler(eligibility eligibilityService, overrides overrideService, metrics *service.MetricsService) *SectionHandler {
	return &SectionHandler{eligibility: eligibility, overrides: overrides, metrics: metrics}
}

// Search godoc
// @Summary Search course sections with seat availability
// @Tags Sections
// @Produce json
// @Param course_code query string true "Course code"
// @Param term_id query string false "Term ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /sections [get]
func (h *SectionHandler) Search(c *gin.Context) {
	courseCode := strings.TrimSpace(c.Query("course_code"))
	if courseCode == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "course_code is required"))
		return
	}
	listings, err := h.eligibility.SearchSections(c.Request.Context(), courseCode, strings.TrimSpace(c.Query("term_id")))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, listings, nil)
}

// Eligibility godoc
// @Summary Evaluate whether a student can attach to a section
// @Tags Sections
// @Produce json
// @Param id path string true "Section ID"
// @Param student_id query string false "Student ID (defaults to the caller's own)"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /sections/{id}/eligibility [get]
func (h *SectionHandler) Eligibility(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	studentID := strings.TrimSpace(c.Query("student_id"))
	if claims.Role == models.RoleStudent {
		if claims.StudentID == "" || (studentID != "" && studentID != claims.StudentID) {
			response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "students may only check their own eligibility"))
			return
		}
		studentID = claims.StudentID
	}
	if studentID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "student_id is required"))
		return
	}

	result, err := h.eligibility.CheckAttachable(c.Request.Context(), studentID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.metrics.ObserveEligibilityCheck(result.Attachable)
	response.JSON(c, http.StatusOK, result, nil)
}

// OverrideCapacity godoc
// @Summary Override a section's enrollment capacity
// @Tags Sections
// @Accept json
// @Produce json
// @Param id path string true "Section ID"
// @Param payload body dto.OverrideCapacityRequest true "Override payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /sections/{id}/capacity-override [post]
func (h *SectionHandler) OverrideCapacity(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.OverrideCapacityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid override payload"))
		return
	}

	record, err := h.overrides.OverrideCapacity(c.Request.Context(), c.Param("id"), actorFromClaims(claims), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, record, nil)
}

// ListOverrides godoc
// @Summary List a section's capacity override history
// @Tags Sections
// @Produce json
// @Param id path string true "Section ID"
// @Success 200 {object} response.Envelope
// @Router /sections/{id}/overrides [get]
func (h *SectionHandler) ListOverrides(c *gin.Context) {
	overrides, err := h.overrides.ListOverrides(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, overrides, nil)
}
