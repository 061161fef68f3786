package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/lifeplannerdev/lpcrm/internal/models"
	"github.com/lifeplannerdev/lpcrm/internal/roles"
	appErrors "github.com/lifeplannerdev/lpcrm/pkg/errors"
)

type processingLeadRepository interface {
	FindByID(ctx context.Context, id string) (*models.LeadDetail, error)
	UpdateProcessing(ctx context.Context, lead *models.Lead, entry *models.ProcessingUpdate) error
}

// ProcessingActionRequest carries optional notes for a processing
// transition.
type ProcessingActionRequest struct {
	Notes string `json:"notes"`
}

// RejectProcessingRequest requires a reason when processing is rejected.
type RejectProcessingRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// DocumentStatusRequest updates the paperwork state of a lead in
// processing.
type DocumentStatusRequest struct {
	DocumentStatus    string  `json:"document_status" validate:"required"`
	DocumentsReceived *string `json:"documents_received,omitempty"`
}

// ProcessingService drives the post-registration pipeline. Registered
// leads are forwarded into the queue, claimed by a processing
// executive, and then completed, rejected, or parked on hold. Every
// transition except the forward hand-off appends a timeline entry.
type ProcessingService struct {
	repo      processingLeadRepository
	hierarchy *roles.Hierarchy
	activity  activityRecorder
	validator *validator.Validate
	logger    *zap.Logger
}

// NewProcessingService constructs the processing service.
func NewProcessingService(repo processingLeadRepository, hierarchy *roles.Hierarchy, activity activityRecorder, validate *validator.Validate, logger *zap.Logger) *ProcessingService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProcessingService{repo: repo, hierarchy: hierarchy, activity: activity, validator: validate, logger: logger}
}

// Forward hands a registered lead to the processing queue. Only the
// lead-handling tiers may forward, and only when the lead is registered
// and not already in the pipeline.
func (s *ProcessingService) Forward(ctx context.Context, actor Actor, leadID string) (*models.Lead, error) {
	if !s.hierarchy.IsAdminTier(actor.Role) && !s.hierarchy.IsManager(actor.Role) && !s.hierarchy.IsExecutive(actor.Role) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "role cannot forward leads to processing")
	}

	detail, err := s.loadLead(ctx, leadID)
	if err != nil {
		return nil, err
	}
	lead := detail.Lead
	if !lead.IsForwardable() {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "lead must be registered and outside the processing pipeline to forward")
	}

	s.setProcessingStatus(&lead, models.ProcessingForwarded)
	// The forward hand-off itself keeps no timeline row; the queue entry
	// becomes visible through the status alone.
	if err := s.persist(ctx, &lead, nil); err != nil {
		return nil, err
	}
	s.record(ctx, actor, "Lead %s forwarded to processing", lead.Name)
	return &lead, nil
}

// Accept lets a processing executive claim a forwarded lead.
func (s *ProcessingService) Accept(ctx context.Context, actor Actor, leadID string, req ProcessingActionRequest) (*models.Lead, error) {
	if err := s.requireProcessingRole(actor); err != nil {
		return nil, err
	}
	detail, err := s.loadLead(ctx, leadID)
	if err != nil {
		return nil, err
	}
	lead := detail.Lead
	if !lead.IsAcceptable() {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "only forwarded leads can be accepted")
	}

	s.setProcessingStatus(&lead, models.ProcessingActive)
	lead.ProcessingExecutive = &actor.ID
	notes := req.Notes
	if notes == "" {
		notes = "Lead accepted for processing"
	}
	if err := s.persist(ctx, &lead, s.timelineEntry(&lead, actor, notes)); err != nil {
		return nil, err
	}
	s.record(ctx, actor, "Lead %s accepted for processing", lead.Name)
	return &lead, nil
}

// Reject pushes a lead out of the pipeline with a mandatory reason. It
// can later be forwarded again once the blocker is resolved.
func (s *ProcessingService) Reject(ctx context.Context, actor Actor, leadID string, req RejectProcessingRequest) (*models.Lead, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "a rejection reason is required")
	}
	if err := s.requireProcessingRole(actor); err != nil {
		return nil, err
	}
	detail, err := s.loadLead(ctx, leadID)
	if err != nil {
		return nil, err
	}
	lead := detail.Lead
	if lead.ProcessingStatus != models.ProcessingForwarded && lead.ProcessingStatus != models.ProcessingActive {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "only forwarded or actively processed leads can be rejected")
	}

	s.setProcessingStatus(&lead, models.ProcessingRejected)
	lead.ProcessingNotes = &req.Reason
	if err := s.persist(ctx, &lead, s.timelineEntry(&lead, actor, req.Reason)); err != nil {
		return nil, err
	}
	s.record(ctx, actor, "Lead %s rejected in processing", lead.Name)
	return &lead, nil
}

// Complete closes processing. Only the executive who accepted the lead
// may complete it; anyone else gets a conflict so the mismatch is
// visible rather than silently absorbed.
func (s *ProcessingService) Complete(ctx context.Context, actor Actor, leadID string, req ProcessingActionRequest) (*models.Lead, error) {
	if err := s.requireProcessingRole(actor); err != nil {
		return nil, err
	}
	detail, err := s.loadLead(ctx, leadID)
	if err != nil {
		return nil, err
	}
	lead := detail.Lead
	if !lead.IsCompletable() {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "lead is not in active processing")
	}
	if lead.ProcessingExecutive == nil || *lead.ProcessingExecutive != actor.ID {
		return nil, appErrors.Clone(appErrors.ErrConflict, "lead is being processed by another executive")
	}

	s.setProcessingStatus(&lead, models.ProcessingCompleted)
	notes := req.Notes
	if notes == "" {
		notes = "Processing completed"
	}
	if err := s.persist(ctx, &lead, s.timelineEntry(&lead, actor, notes)); err != nil {
		return nil, err
	}
	s.record(ctx, actor, "Lead %s completed processing", lead.Name)
	return &lead, nil
}

// Hold parks an actively processed lead. Like Complete, only the
// executive handling the lead may park it.
func (s *ProcessingService) Hold(ctx context.Context, actor Actor, leadID string, req ProcessingActionRequest) (*models.Lead, error) {
	if err := s.requireProcessingRole(actor); err != nil {
		return nil, err
	}
	detail, err := s.loadLead(ctx, leadID)
	if err != nil {
		return nil, err
	}
	lead := detail.Lead
	if lead.ProcessingStatus != models.ProcessingActive {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "only leads in active processing can be put on hold")
	}
	if lead.ProcessingExecutive == nil || *lead.ProcessingExecutive != actor.ID {
		return nil, appErrors.Clone(appErrors.ErrConflict, "lead is being processed by another executive")
	}

	s.setProcessingStatus(&lead, models.ProcessingOnHold)
	notes := req.Notes
	if notes == "" {
		notes = "Processing put on hold"
	}
	if err := s.persist(ctx, &lead, s.timelineEntry(&lead, actor, notes)); err != nil {
		return nil, err
	}
	s.record(ctx, actor, "Lead %s put on hold", lead.Name)
	return &lead, nil
}

// Reopen returns a held or rejected lead to active processing.
func (s *ProcessingService) Reopen(ctx context.Context, actor Actor, leadID string, req ProcessingActionRequest) (*models.Lead, error) {
	if err := s.requireProcessingRole(actor); err != nil {
		return nil, err
	}
	detail, err := s.loadLead(ctx, leadID)
	if err != nil {
		return nil, err
	}
	lead := detail.Lead
	switch lead.ProcessingStatus {
	case models.ProcessingOnHold, models.ProcessingRejected:
	default:
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "only held or rejected leads can be reopened")
	}

	s.setProcessingStatus(&lead, models.ProcessingActive)
	notes := req.Notes
	if notes == "" {
		notes = "Lead reopened for further processing"
	}
	if err := s.persist(ctx, &lead, s.timelineEntry(&lead, actor, notes)); err != nil {
		return nil, err
	}
	s.record(ctx, actor, "Lead %s reopened", lead.Name)
	return &lead, nil
}

// UpdateDocumentStatus records paperwork progress. Only the executive
// handling the lead may touch it. The processing status and its date
// are untouched: document state moves independently of the pipeline
// position.
func (s *ProcessingService) UpdateDocumentStatus(ctx context.Context, actor Actor, leadID string, req DocumentStatusRequest) (*models.Lead, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid document status payload")
	}

	status := models.DocumentStatus(strings.ToUpper(strings.TrimSpace(req.DocumentStatus)))
	if !models.ValidDocumentStatus(status) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid document status")
	}

	detail, err := s.loadLead(ctx, leadID)
	if err != nil {
		return nil, err
	}
	lead := detail.Lead
	if lead.ProcessingExecutive == nil || *lead.ProcessingExecutive != actor.ID {
		return nil, appErrors.Clone(appErrors.ErrConflict, "lead is being processed by another executive")
	}
	lead.DocumentStatus = status
	if req.DocumentsReceived != nil {
		lead.DocumentsReceived = req.DocumentsReceived
	}
	if err := s.persist(ctx, &lead, nil); err != nil {
		return nil, err
	}
	return &lead, nil
}

func (s *ProcessingService) requireProcessingRole(actor Actor) error {
	if actor.Role == models.RoleProcessing {
		return nil
	}
	return appErrors.Clone(appErrors.ErrForbidden, "only processing staff may perform this action")
}

// setProcessingStatus moves the pipeline status and stamps the status
// date only when the value actually changes.
func (s *ProcessingService) setProcessingStatus(lead *models.Lead, status models.ProcessingStatus) {
	if lead.ProcessingStatus == status {
		return
	}
	lead.ProcessingStatus = status
	lead.ProcessingStatusDate = time.Now().UTC()
}

func (s *ProcessingService) timelineEntry(lead *models.Lead, actor Actor, notes string) *models.ProcessingUpdate {
	return &models.ProcessingUpdate{
		LeadID:    lead.ID,
		Status:    lead.ProcessingStatus,
		ChangedBy: &actor.ID,
		Notes:     notes,
	}
}

func (s *ProcessingService) persist(ctx context.Context, lead *models.Lead, entry *models.ProcessingUpdate) error {
	if err := s.repo.UpdateProcessing(ctx, lead, entry); err != nil {
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			return appErr
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update processing state")
	}
	return nil
}

func (s *ProcessingService) record(ctx context.Context, actor Actor, format string, args ...interface{}) {
	if s.activity == nil {
		return
	}
	s.activity.Record(ctx, actor.ID, models.ActivityLeadProcessing, fmt.Sprintf(format, args...))
}

func (s *ProcessingService) loadLead(ctx context.Context, leadID string) (*models.LeadDetail, error) {
	detail, err := s.repo.FindByID(ctx, leadID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "lead not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load lead")
	}
	return detail, nil
}
