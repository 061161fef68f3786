package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lifeplannerdev/lpcrm/internal/service"
	appErrors "github.com/lifeplannerdev/lpcrm/pkg/errors"
	"github.com/lifeplannerdev/lpcrm/pkg/response"
)

// AssignmentHandler exposes lead assignment endpoints.
type AssignmentHandler struct {
	assignments *service.AssignmentService
}

// NewAssignmentHandler constructs AssignmentHandler.
func NewAssignmentHandler(assignments *service.AssignmentService) *AssignmentHandler {
	return &AssignmentHandler{assignments: assignments}
}

// Assign godoc
// @Summary Assign a lead to a user
// @Tags Assignments
// @Accept json
// @Produce json
// @Param id path string true "Lead ID"
// @Param payload body service.AssignRequest true "Assignment payload"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /leads/{id}/assign [post]
func (h *AssignmentHandler) Assign(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.AssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	lead, err := h.assignments.Assign(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, lead, nil)
}

// BulkAssign godoc
// @Summary Assign several leads to one user
// @Tags Assignments
// @Accept json
// @Produce json
// @Param payload body service.BulkAssignRequest true "Bulk assignment payload"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /leads/bulk-assign [post]
func (h *AssignmentHandler) BulkAssign(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.BulkAssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.assignments.BulkAssign(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Unassign godoc
// @Summary Clear an assignment level on a lead
// @Tags Assignments
// @Accept json
// @Produce json
// @Param id path string true "Lead ID"
// @Param payload body service.UnassignRequest true "Level to clear"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /leads/{id}/unassign [post]
func (h *AssignmentHandler) Unassign(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.UnassignRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	lead, err := h.assignments.Unassign(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, lead, nil)
}

// AvailableUsers godoc
// @Summary List users the caller may assign leads to
// @Tags Assignments
// @Produce json
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /leads/available-users [get]
func (h *AssignmentHandler) AvailableUsers(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	users, err := h.assignments.AvailableUsers(c.Request.Context(), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, users, nil)
}
