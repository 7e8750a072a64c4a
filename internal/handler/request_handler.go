package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-reg-api/internal/dto"
	"github.com/noah-isme/course-reg-api/internal/models"
	"github.com/noah-isme/course-reg-api/internal/service"
	appErrors "github.com/noah-isme/course-reg-api/pkg/errors"
	"github.com/noah-isme/course-reg-api/pkg/response"
)

type requestService interface {
	Submit(ctx context.Context, req dto.SubmitRequest) (*service.SubmitResult, error)
	Decide(ctx context.Context, requestID string, actor service.Actor, req dto.DecideRequest) (*models.RegistrationRequest, error)
	GetRequest(ctx context.Context, id string, actor service.Actor) (*service.RequestDetail, error)
	ListRequests(ctx context.Context, actor service.Actor, query dto.RequestQuery) ([]models.RegistrationRequest, error)
}

// RequestHandler exposes the registration request lifecycle endpoints.
type RequestHandler struct {
	service requestService
	metrics *service.MetricsService
}

// NewRequestHandler constructs the handler.
func NewRequestHandler(svc requestService, metrics *service.MetricsService) *RequestHandler {
	return &RequestHandler{service: svc, metrics: metrics}
}

// Submit godoc
// @Summary Submit a registration request
// @Tags Requests
// @Accept json
// @Produce json
// @Param payload body dto.SubmitRequest true "Request payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /requests [post]
func (h *RequestHandler) Submit(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid request payload"))
		return
	}

	// Students submit for themselves only; staff may submit on behalf.
	if claims.Role == models.RoleStudent {
		if claims.StudentID == "" || (req.StudentID != "" && req.StudentID != claims.StudentID) {
			response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "students may only submit their own requests"))
			return
		}
		req.StudentID = claims.StudentID
	}

	result, err := h.service.Submit(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, result, nil)
}

// Decide godoc
// @Summary Apply a decision to a registration request
// @Tags Requests
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.DecideRequest true "Decision payload"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /requests/{id}/decision [post]
func (h *RequestHandler) Decide(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.DecideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid decision payload"))
		return
	}

	updated, err := h.service.Decide(c.Request.Context(), c.Param("id"), actorFromClaims(claims), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.metrics.ObserveDecision(string(req.Action), string(updated.State))
	response.JSON(c, http.StatusOK, updated, nil)
}

// Get godoc
// @Summary Get a registration request with its decision trail
// @Tags Requests
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /requests/{id} [get]
func (h *RequestHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	detail, err := h.service.GetRequest(c.Request.Context(), c.Param("id"), actorFromClaims(claims))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// List godoc
// @Summary List registration requests scoped to the caller's role
// @Tags Requests
// @Produce json
// @Param state query string false "Comma separated states"
// @Param type query string false "Request type"
// @Param student_id query string false "Student ID (staff only)"
// @Param section_id query string false "Section ID"
// @Success 200 {object} response.Envelope
// @Router /requests [get]
func (h *RequestHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	query := dto.RequestQuery{
		StudentID: strings.TrimSpace(c.Query("student_id")),
		SectionID: strings.TrimSpace(c.Query("section_id")),
	}
	if rawType := c.Query("type"); rawType != "" {
		query.Type = models.RequestType(strings.ToUpper(rawType))
	}
	if rawState := c.Query("state"); rawState != "" {
		parts := strings.Split(rawState, ",")
		states := make([]models.RequestState, 0, len(parts))
		for _, part := range parts {
			part = strings.ToLower(strings.TrimSpace(part))
			if part == "" {
				continue
			}
			states = append(states, models.RequestState(part))
		}
		query.States = states
	}
	if raw := c.Query("limit"); raw != "" {
		if limit, err := strconv.Atoi(raw); err == nil {
			query.Limit = limit
		}
	}
	if raw := c.Query("offset"); raw != "" {
		if offset, err := strconv.Atoi(raw); err == nil {
			query.Offset = offset
		}
	}

	requests, err := h.service.ListRequests(c.Request.Context(), actorFromClaims(claims), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, requests, nil)
}
