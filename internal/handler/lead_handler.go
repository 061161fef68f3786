package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/lifeplannerdev/lpcrm/internal/models"
	"github.com/lifeplannerdev/lpcrm/internal/service"
	appErrors "github.com/lifeplannerdev/lpcrm/pkg/errors"
	"github.com/lifeplannerdev/lpcrm/pkg/response"
)

// LeadHandler exposes lead lifecycle endpoints.
type LeadHandler struct {
	leads  *service.LeadService
	export *service.ExportService
}

// NewLeadHandler constructs LeadHandler.
func NewLeadHandler(leads *service.LeadService, export *service.ExportService) *LeadHandler {
	return &LeadHandler{leads: leads, export: export}
}

func leadFilterFromQuery(c *gin.Context) models.LeadFilter {
	var filter models.LeadFilter
	filter.Search = c.Query("search")
	filter.Priority = strings.ToUpper(c.Query("priority"))
	filter.Status = strings.ToUpper(c.Query("status"))
	filter.Source = strings.ToUpper(c.Query("source"))
	filter.ProcessingStatus = strings.ToUpper(c.Query("processing_status"))
	filter.AssignedTo = c.Query("assigned_to")
	filter.SubAssignedTo = c.Query("sub_assigned_to")
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")
	return filter
}

// List godoc
// @Summary List leads visible to the caller
// @Tags Leads
// @Produce json
// @Param search query string false "Search name, phone, email or program"
// @Param priority query string false "Filter by priority"
// @Param status query string false "Filter by status"
// @Param source query string false "Filter by source"
// @Param processing_status query string false "Filter by processing status"
// @Param assigned_to query string false "Filter by primary assignee"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /leads [get]
func (h *LeadHandler) List(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	leads, pagination, err := h.leads.List(c.Request.Context(), actor, leadFilterFromQuery(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, leads, pagination)
}

// MyTeam godoc
// @Summary List leads delegated to the caller's team
// @Tags Leads
// @Produce json
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /leads/my-team [get]
func (h *LeadHandler) MyTeam(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	leads, err := h.leads.MyTeam(c.Request.Context(), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, leads, nil)
}

// Stats godoc
// @Summary Aggregate lead counts for dashboards
// @Tags Leads
// @Produce json
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /leads/stats [get]
func (h *LeadHandler) Stats(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	stats, err := h.leads.Stats(c.Request.Context(), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil)
}

// Export godoc
// @Summary Export visible leads as CSV or PDF
// @Tags Leads
// @Produce octet-stream
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {file} binary
// @Security BearerAuth
// @Router /leads/export [get]
func (h *LeadHandler) Export(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	format := service.ExportFormat(strings.ToLower(c.DefaultQuery("format", "csv")))
	result, err := h.export.ExportLeads(c.Request.Context(), actor, leadFilterFromQuery(c), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+result.Filename+`"`)
	c.Data(http.StatusOK, result.ContentType, result.Payload)
}

// Get godoc
// @Summary Fetch a single lead
// @Tags Leads
// @Produce json
// @Param id path string true "Lead ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /leads/{id} [get]
func (h *LeadHandler) Get(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	lead, err := h.leads.Get(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, lead, nil)
}

// Create godoc
// @Summary Register a new lead
// @Tags Leads
// @Accept json
// @Produce json
// @Param payload body service.CreateLeadRequest true "Lead payload"
// @Success 201 {object} response.Envelope
// @Security BearerAuth
// @Router /leads [post]
func (h *LeadHandler) Create(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.CreateLeadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	lead, err := h.leads.Create(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, lead)
}

// Update godoc
// @Summary Update lead fields
// @Tags Leads
// @Accept json
// @Produce json
// @Param id path string true "Lead ID"
// @Param payload body service.UpdateLeadRequest true "Fields to change"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /leads/{id} [patch]
func (h *LeadHandler) Update(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.UpdateLeadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	lead, err := h.leads.Update(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, lead, nil)
}

// Delete godoc
// @Summary Delete a lead
// @Tags Leads
// @Produce json
// @Param id path string true "Lead ID"
// @Success 204
// @Security BearerAuth
// @Router /leads/{id} [delete]
func (h *LeadHandler) Delete(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if err := h.leads.Delete(c.Request.Context(), actor, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Timeline godoc
// @Summary Processing timeline for a lead
// @Tags Leads
// @Produce json
// @Param id path string true "Lead ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /leads/{id}/timeline [get]
func (h *LeadHandler) Timeline(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	entries, err := h.leads.Timeline(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, nil)
}

// AssignmentHistory godoc
// @Summary Assignment audit trail for a lead
// @Tags Leads
// @Produce json
// @Param id path string true "Lead ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /leads/{id}/assignment-history [get]
func (h *LeadHandler) AssignmentHistory(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	entries, err := h.leads.AssignmentHistory(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, nil)
}

// RemarkHistory godoc
// @Summary Remark edit history for a lead
// @Tags Leads
// @Produce json
// @Param id path string true "Lead ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /leads/{id}/remark-history [get]
func (h *LeadHandler) RemarkHistory(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	entries, err := h.leads.RemarkEdits(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, nil)
}
