package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lifeplannerdev/lpcrm/internal/models"
	"github.com/lifeplannerdev/lpcrm/internal/service"
	appErrors "github.com/lifeplannerdev/lpcrm/pkg/errors"
	"github.com/lifeplannerdev/lpcrm/pkg/response"
)

// ProcessingHandler exposes the post-registration processing endpoints.
type ProcessingHandler struct {
	processing *service.ProcessingService
}

// NewProcessingHandler constructs ProcessingHandler.
func NewProcessingHandler(processing *service.ProcessingService) *ProcessingHandler {
	return &ProcessingHandler{processing: processing}
}

// Forward godoc
// @Summary Forward a registered lead to processing
// @Tags Processing
// @Produce json
// @Param id path string true "Lead ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /leads/{id}/forward [post]
func (h *ProcessingHandler) Forward(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	lead, err := h.processing.Forward(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, lead, nil)
}

// Accept godoc
// @Summary Accept a forwarded lead for processing
// @Tags Processing
// @Accept json
// @Produce json
// @Param id path string true "Lead ID"
// @Param payload body service.ProcessingActionRequest false "Optional notes"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /leads/{id}/accept [post]
func (h *ProcessingHandler) Accept(c *gin.Context) {
	h.action(c, h.processing.Accept)
}

// Complete godoc
// @Summary Complete processing for a lead
// @Tags Processing
// @Accept json
// @Produce json
// @Param id path string true "Lead ID"
// @Param payload body service.ProcessingActionRequest false "Optional notes"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /leads/{id}/complete [post]
func (h *ProcessingHandler) Complete(c *gin.Context) {
	h.action(c, h.processing.Complete)
}

// Hold godoc
// @Summary Put an actively processed lead on hold
// @Tags Processing
// @Accept json
// @Produce json
// @Param id path string true "Lead ID"
// @Param payload body service.ProcessingActionRequest false "Optional notes"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /leads/{id}/hold [post]
func (h *ProcessingHandler) Hold(c *gin.Context) {
	h.action(c, h.processing.Hold)
}

// Reopen godoc
// @Summary Return a parked lead to the pipeline
// @Tags Processing
// @Accept json
// @Produce json
// @Param id path string true "Lead ID"
// @Param payload body service.ProcessingActionRequest false "Optional notes"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /leads/{id}/reopen [post]
func (h *ProcessingHandler) Reopen(c *gin.Context) {
	h.action(c, h.processing.Reopen)
}

// Reject godoc
// @Summary Reject a lead in processing
// @Tags Processing
// @Accept json
// @Produce json
// @Param id path string true "Lead ID"
// @Param payload body service.RejectProcessingRequest true "Rejection reason"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /leads/{id}/reject [post]
func (h *ProcessingHandler) Reject(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.RejectProcessingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	lead, err := h.processing.Reject(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, lead, nil)
}

// DocumentStatus godoc
// @Summary Update document collection status
// @Tags Processing
// @Accept json
// @Produce json
// @Param id path string true "Lead ID"
// @Param payload body service.DocumentStatusRequest true "Document status payload"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /leads/{id}/document-status [put]
func (h *ProcessingHandler) DocumentStatus(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.DocumentStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	lead, err := h.processing.UpdateDocumentStatus(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, lead, nil)
}

type processingAction func(ctx context.Context, actor service.Actor, leadID string, req service.ProcessingActionRequest) (*models.Lead, error)

func (h *ProcessingHandler) action(c *gin.Context, fn processingAction) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.ProcessingActionRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	lead, err := fn(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, lead, nil)
}
