package service

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lifeplannerdev/lpcrm/internal/models"
	"github.com/lifeplannerdev/lpcrm/internal/roles"
	appErrors "github.com/lifeplannerdev/lpcrm/pkg/errors"
)

func newProcessingService(repo *mockLeadRepo) *ProcessingService {
	return NewProcessingService(repo, roles.Default(), nil, validator.New(), zap.NewNop())
}

func registeredLead(status models.ProcessingStatus) models.Lead {
	return models.Lead{
		ID:                   "l1",
		Name:                 "Akhil",
		Status:               models.StatusRegistered,
		ProcessingStatus:     status,
		ProcessingStatusDate: time.Now().UTC().Add(-time.Hour),
		Version:              1,
	}
}

func TestProcessingForward(t *testing.T) {
	repo := &mockLeadRepo{leads: map[string]models.Lead{"l1": registeredLead(models.ProcessingPending)}}
	svc := newProcessingService(repo)
	before := repo.leads["l1"].ProcessingStatusDate

	lead, err := svc.Forward(context.Background(), Actor{ID: "mgr-1", Role: models.RoleAdmissionManager}, "l1")
	require.NoError(t, err)
	assert.Equal(t, models.ProcessingForwarded, lead.ProcessingStatus)
	assert.True(t, lead.ProcessingStatusDate.After(before))
	// Forwarding keeps no timeline row.
	assert.Empty(t, repo.processing)
}

func TestProcessingForwardRequiresRegistered(t *testing.T) {
	lead := registeredLead(models.ProcessingPending)
	lead.Status = models.StatusInterested
	repo := &mockLeadRepo{leads: map[string]models.Lead{"l1": lead}}
	svc := newProcessingService(repo)

	_, err := svc.Forward(context.Background(), Actor{ID: "mgr-1", Role: models.RoleAdmissionManager}, "l1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
}

func TestProcessingForwardRejectedLeadReentersQueue(t *testing.T) {
	repo := &mockLeadRepo{leads: map[string]models.Lead{"l1": registeredLead(models.ProcessingRejected)}}
	svc := newProcessingService(repo)

	lead, err := svc.Forward(context.Background(), Actor{ID: "admin-1", Role: models.RoleAdmin}, "l1")
	require.NoError(t, err)
	assert.Equal(t, models.ProcessingForwarded, lead.ProcessingStatus)
}

func TestProcessingForwardRoleGate(t *testing.T) {
	repo := &mockLeadRepo{leads: map[string]models.Lead{"l1": registeredLead(models.ProcessingPending)}}
	svc := newProcessingService(repo)

	_, err := svc.Forward(context.Background(), Actor{ID: "hr-1", Role: models.RoleHR}, "l1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestProcessingAccept(t *testing.T) {
	repo := &mockLeadRepo{leads: map[string]models.Lead{"l1": registeredLead(models.ProcessingForwarded)}}
	svc := newProcessingService(repo)

	lead, err := svc.Accept(context.Background(), Actor{ID: "proc-1", Role: models.RoleProcessing}, "l1", ProcessingActionRequest{})
	require.NoError(t, err)
	assert.Equal(t, models.ProcessingActive, lead.ProcessingStatus)
	require.NotNil(t, lead.ProcessingExecutive)
	assert.Equal(t, "proc-1", *lead.ProcessingExecutive)
	require.Len(t, repo.processing, 1)
	assert.Equal(t, models.ProcessingActive, repo.processing[0].Status)
}

func TestProcessingAcceptOnlyForwarded(t *testing.T) {
	repo := &mockLeadRepo{leads: map[string]models.Lead{"l1": registeredLead(models.ProcessingPending)}}
	svc := newProcessingService(repo)

	_, err := svc.Accept(context.Background(), Actor{ID: "proc-1", Role: models.RoleProcessing}, "l1", ProcessingActionRequest{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
}

func TestProcessingCompleteOwnership(t *testing.T) {
	lead := registeredLead(models.ProcessingActive)
	lead.ProcessingExecutive = strPtr("proc-1")
	repo := &mockLeadRepo{leads: map[string]models.Lead{"l1": lead}}
	svc := newProcessingService(repo)

	// Another executive cannot close someone else's work.
	_, err := svc.Complete(context.Background(), Actor{ID: "proc-2", Role: models.RoleProcessing}, "l1", ProcessingActionRequest{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)

	done, err := svc.Complete(context.Background(), Actor{ID: "proc-1", Role: models.RoleProcessing}, "l1", ProcessingActionRequest{Notes: "all documents verified"})
	require.NoError(t, err)
	assert.Equal(t, models.ProcessingCompleted, done.ProcessingStatus)
	require.Len(t, repo.processing, 1)
	assert.Equal(t, "all documents verified", repo.processing[0].Notes)
}

func TestProcessingRejectRequiresReason(t *testing.T) {
	repo := &mockLeadRepo{leads: map[string]models.Lead{"l1": registeredLead(models.ProcessingForwarded)}}
	svc := newProcessingService(repo)

	_, err := svc.Reject(context.Background(), Actor{ID: "proc-1", Role: models.RoleProcessing}, "l1", RejectProcessingRequest{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	lead, err := svc.Reject(context.Background(), Actor{ID: "proc-1", Role: models.RoleProcessing}, "l1", RejectProcessingRequest{Reason: "incomplete documents"})
	require.NoError(t, err)
	assert.Equal(t, models.ProcessingRejected, lead.ProcessingStatus)
	require.NotNil(t, lead.ProcessingNotes)
	assert.Equal(t, "incomplete documents", *lead.ProcessingNotes)
}

func TestProcessingHoldAndReopen(t *testing.T) {
	lead := registeredLead(models.ProcessingActive)
	lead.ProcessingExecutive = strPtr("proc-1")
	repo := &mockLeadRepo{leads: map[string]models.Lead{"l1": lead}}
	svc := newProcessingService(repo)
	actor := Actor{ID: "proc-1", Role: models.RoleProcessing}

	held, err := svc.Hold(context.Background(), actor, "l1", ProcessingActionRequest{})
	require.NoError(t, err)
	assert.Equal(t, models.ProcessingOnHold, held.ProcessingStatus)

	reopened, err := svc.Reopen(context.Background(), actor, "l1", ProcessingActionRequest{})
	require.NoError(t, err)
	assert.Equal(t, models.ProcessingActive, reopened.ProcessingStatus)
	require.Len(t, repo.processing, 2)
	assert.Equal(t, "Lead reopened for further processing", repo.processing[1].Notes)
}

func TestProcessingReopenRejectedLeadResumesProcessing(t *testing.T) {
	repo := &mockLeadRepo{leads: map[string]models.Lead{"l1": registeredLead(models.ProcessingRejected)}}
	svc := newProcessingService(repo)

	lead, err := svc.Reopen(context.Background(), Actor{ID: "proc-1", Role: models.RoleProcessing}, "l1", ProcessingActionRequest{})
	require.NoError(t, err)
	assert.Equal(t, models.ProcessingActive, lead.ProcessingStatus)
}

func TestProcessingCompletedLeadCannotReopen(t *testing.T) {
	lead := registeredLead(models.ProcessingCompleted)
	lead.ProcessingExecutive = strPtr("proc-1")
	repo := &mockLeadRepo{leads: map[string]models.Lead{"l1": lead}}
	svc := newProcessingService(repo)

	_, err := svc.Reopen(context.Background(), Actor{ID: "proc-1", Role: models.RoleProcessing}, "l1", ProcessingActionRequest{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
}

func TestProcessingPipelineActionsNeedProcessingRole(t *testing.T) {
	lead := registeredLead(models.ProcessingForwarded)
	repo := &mockLeadRepo{leads: map[string]models.Lead{"l1": lead}}
	svc := newProcessingService(repo)
	admin := Actor{ID: "admin-1", Role: models.RoleAdmin}

	_, err := svc.Accept(context.Background(), admin, "l1", ProcessingActionRequest{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
	assert.Nil(t, repo.leads["l1"].ProcessingExecutive)

	_, err = svc.Reject(context.Background(), admin, "l1", RejectProcessingRequest{Reason: "out of scope"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	_, err = svc.Reopen(context.Background(), admin, "l1", ProcessingActionRequest{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestProcessingRejectNotAllowedFromHold(t *testing.T) {
	lead := registeredLead(models.ProcessingOnHold)
	lead.ProcessingExecutive = strPtr("proc-1")
	repo := &mockLeadRepo{leads: map[string]models.Lead{"l1": lead}}
	svc := newProcessingService(repo)

	_, err := svc.Reject(context.Background(), Actor{ID: "proc-1", Role: models.RoleProcessing}, "l1", RejectProcessingRequest{Reason: "stalled"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
}

func TestProcessingHoldRequiresOwnership(t *testing.T) {
	lead := registeredLead(models.ProcessingActive)
	lead.ProcessingExecutive = strPtr("proc-1")
	repo := &mockLeadRepo{leads: map[string]models.Lead{"l1": lead}}
	svc := newProcessingService(repo)

	_, err := svc.Hold(context.Background(), Actor{ID: "proc-2", Role: models.RoleProcessing}, "l1", ProcessingActionRequest{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestProcessingDocumentStatusOwnerOnly(t *testing.T) {
	lead := registeredLead(models.ProcessingActive)
	lead.ProcessingExecutive = strPtr("proc-1")
	lead.DocumentStatus = models.DocumentPending
	repo := &mockLeadRepo{leads: map[string]models.Lead{"l1": lead}}
	svc := newProcessingService(repo)

	_, err := svc.UpdateDocumentStatus(context.Background(), Actor{ID: "proc-2", Role: models.RoleProcessing}, "l1", DocumentStatusRequest{DocumentStatus: "verified"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	assert.Equal(t, models.DocumentPending, repo.leads["l1"].DocumentStatus)

	updated, err := svc.UpdateDocumentStatus(context.Background(), Actor{ID: "proc-1", Role: models.RoleProcessing}, "l1", DocumentStatusRequest{DocumentStatus: "verified"})
	require.NoError(t, err)
	assert.Equal(t, models.DocumentVerified, updated.DocumentStatus)
}

func TestProcessingDocumentStatusLeavesPipelineDateAlone(t *testing.T) {
	lead := registeredLead(models.ProcessingActive)
	lead.ProcessingExecutive = strPtr("proc-1")
	repo := &mockLeadRepo{leads: map[string]models.Lead{"l1": lead}}
	svc := newProcessingService(repo)
	before := repo.leads["l1"].ProcessingStatusDate

	updated, err := svc.UpdateDocumentStatus(context.Background(), Actor{ID: "proc-1", Role: models.RoleProcessing}, "l1", DocumentStatusRequest{
		DocumentStatus:    "collected",
		DocumentsReceived: strPtr("passport, transcripts"),
	})
	require.NoError(t, err)
	assert.Equal(t, models.DocumentCollected, updated.DocumentStatus)
	assert.Equal(t, "passport, transcripts", *updated.DocumentsReceived)
	assert.True(t, updated.ProcessingStatusDate.Equal(before))
	assert.Empty(t, repo.processing)
}

func TestProcessingDocumentStatusRejectsUnknownValue(t *testing.T) {
	repo := &mockLeadRepo{leads: map[string]models.Lead{"l1": registeredLead(models.ProcessingActive)}}
	svc := newProcessingService(repo)

	_, err := svc.UpdateDocumentStatus(context.Background(), Actor{ID: "proc-1", Role: models.RoleProcessing}, "l1", DocumentStatusRequest{DocumentStatus: "SHREDDED"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}
