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

type assignmentLeadRepository interface {
	FindByID(ctx context.Context, id string) (*models.LeadDetail, error)
	Assign(ctx context.Context, lead *models.Lead, entry *models.LeadAssignment) error
	Update(ctx context.Context, lead *models.Lead) error
}

type userDirectory interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	ListActiveByRoles(ctx context.Context, userRoles []models.UserRole) ([]models.UserSummary, error)
}

// AssignRequest is the payload for assigning a lead to a user.
type AssignRequest struct {
	AssignedTo string `json:"assigned_to" validate:"required"`
	Notes      string `json:"notes"`
}

// BulkAssignRequest assigns several leads to one user in a single call.
type BulkAssignRequest struct {
	LeadIDs    []string `json:"lead_ids" validate:"required,min=1,dive,required"`
	AssignedTo string   `json:"assigned_to" validate:"required"`
	Notes      string   `json:"notes"`
}

// UnassignRequest selects which assignment level to clear.
type UnassignRequest struct {
	Level string `json:"level"`
}

// BulkFailure reports why one lead in a bulk assignment was skipped.
type BulkFailure struct {
	LeadID string `json:"lead_id"`
	Reason string `json:"reason"`
}

// BulkAssignResult summarises a bulk assignment run. Each lead succeeds
// or fails independently.
type BulkAssignResult struct {
	Assigned []string      `json:"assigned"`
	Failed   []BulkFailure `json:"failed"`
}

// AssignmentService enforces who may route leads to whom. Administrators
// and operations staff distribute at the primary level; managers delegate
// their own leads to executives at the sub level; executives may only
// claim unassigned leads for themselves.
type AssignmentService struct {
	repo      assignmentLeadRepository
	users     userDirectory
	hierarchy *roles.Hierarchy
	activity  activityRecorder
	validator *validator.Validate
	logger    *zap.Logger
}

// NewAssignmentService constructs the assignment service.
func NewAssignmentService(repo assignmentLeadRepository, users userDirectory, hierarchy *roles.Hierarchy, activity activityRecorder, validate *validator.Validate, logger *zap.Logger) *AssignmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AssignmentService{repo: repo, users: users, hierarchy: hierarchy, activity: activity, validator: validate, logger: logger}
}

// Assign routes a lead to a user according to the actor's authority and
// records an assignment history entry.
func (s *AssignmentService) Assign(ctx context.Context, actor Actor, leadID string, req AssignRequest) (*models.Lead, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid assignment payload")
	}

	detail, err := s.loadLead(ctx, actor, leadID)
	if err != nil {
		return nil, err
	}
	lead := detail.Lead

	target, err := s.loadTarget(ctx, req.AssignedTo)
	if err != nil {
		return nil, err
	}

	entry := &models.LeadAssignment{
		LeadID:     lead.ID,
		AssignedTo: &target.ID,
		AssignedBy: &actor.ID,
		Notes:      req.Notes,
	}
	now := time.Now().UTC()

	switch {
	case s.hierarchy.IsAdminTier(actor.Role):
		if !s.hierarchy.IsAssignable(target.Role) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "target role cannot receive lead assignments")
		}
		entry.AssignmentType = models.AssignmentPrimary
		if lead.AssignedTo != nil {
			entry.AssignmentType = models.AssignmentReassignment
		}
		lead.AssignedTo = &target.ID
		lead.AssignedBy = &actor.ID
		lead.AssignedDate = &now
		// A fresh primary assignment supersedes any standing delegation.
		lead.SubAssignedTo = nil
		lead.SubAssignedBy = nil
		lead.SubAssignedDate = nil

	case actor.Role == models.RoleAdmissionManager:
		if target.ID != actor.ID && !s.hierarchy.IsExecutive(target.Role) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "managers may assign only to themselves or to executives")
		}
		if lead.AssignedTo != nil && *lead.AssignedTo == actor.ID && target.ID != actor.ID {
			entry.AssignmentType = models.AssignmentSub
			lead.SubAssignedTo = &target.ID
			lead.SubAssignedBy = &actor.ID
			lead.SubAssignedDate = &now
		} else {
			entry.AssignmentType = models.AssignmentPrimary
			if lead.AssignedTo != nil {
				entry.AssignmentType = models.AssignmentReassignment
			}
			lead.AssignedTo = &target.ID
			lead.AssignedBy = &actor.ID
			lead.AssignedDate = &now
		}

	case s.hierarchy.IsManager(actor.Role):
		if !s.hierarchy.IsExecutive(target.Role) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "this manager role may delegate only to executives")
		}
		if lead.AssignedTo == nil || *lead.AssignedTo != actor.ID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "managers may delegate only their own leads")
		}
		entry.AssignmentType = models.AssignmentSub
		lead.SubAssignedTo = &target.ID
		lead.SubAssignedBy = &actor.ID
		lead.SubAssignedDate = &now

	case s.hierarchy.IsExecutive(actor.Role):
		if target.ID != actor.ID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "executives may only claim leads for themselves")
		}
		if lead.AssignedTo != nil {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "lead is already assigned")
		}
		entry.AssignmentType = models.AssignmentPrimary
		lead.AssignedTo = &target.ID
		lead.AssignedBy = &actor.ID
		lead.AssignedDate = &now

	default:
		return nil, appErrors.Clone(appErrors.ErrForbidden, "role cannot assign leads")
	}

	if err := s.repo.Assign(ctx, &lead, entry); err != nil {
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to assign lead")
	}

	if s.activity != nil {
		s.activity.Record(ctx, actor.ID, models.ActivityLeadAssigned, fmt.Sprintf("Lead %s assigned to %s", lead.Name, target.FullName))
	}
	return &lead, nil
}

// BulkAssign assigns many leads to one target. Failures are collected
// per lead rather than aborting the batch.
func (s *AssignmentService) BulkAssign(ctx context.Context, actor Actor, req BulkAssignRequest) (*BulkAssignResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid bulk assignment payload")
	}

	result := &BulkAssignResult{Assigned: []string{}, Failed: []BulkFailure{}}
	for _, leadID := range req.LeadIDs {
		if _, err := s.Assign(ctx, actor, leadID, AssignRequest{AssignedTo: req.AssignedTo, Notes: req.Notes}); err != nil {
			reason := "assignment failed"
			var appErr *appErrors.Error
			if errors.As(err, &appErr) {
				reason = appErr.Message
			}
			result.Failed = append(result.Failed, BulkFailure{LeadID: leadID, Reason: reason})
			continue
		}
		result.Assigned = append(result.Assigned, leadID)
	}
	return result, nil
}

// Unassign clears an assignment level. Administrators may clear either
// level; managers may release only the sub-assignment on their own
// leads. Clearing leaves the append-only history untouched.
func (s *AssignmentService) Unassign(ctx context.Context, actor Actor, leadID string, req UnassignRequest) (*models.Lead, error) {
	level := models.AssignmentType(strings.ToUpper(strings.TrimSpace(req.Level)))
	if level == "" {
		level = models.AssignmentPrimary
	}
	if level != models.AssignmentPrimary && level != models.AssignmentSub {
		return nil, appErrors.Clone(appErrors.ErrValidation, "level must be PRIMARY or SUB")
	}

	detail, err := s.loadLead(ctx, actor, leadID)
	if err != nil {
		return nil, err
	}
	lead := detail.Lead

	switch {
	case s.hierarchy.IsAdminTier(actor.Role):
		// allowed at both levels
	case s.hierarchy.IsManager(actor.Role):
		if level != models.AssignmentSub {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "managers may release only sub-assignments")
		}
		if lead.AssignedTo == nil || *lead.AssignedTo != actor.ID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "managers may release only their own leads")
		}
	default:
		return nil, appErrors.Clone(appErrors.ErrForbidden, "role cannot unassign leads")
	}

	if level == models.AssignmentPrimary {
		lead.AssignedTo = nil
		lead.AssignedBy = nil
		lead.AssignedDate = nil
	}
	lead.SubAssignedTo = nil
	lead.SubAssignedBy = nil
	lead.SubAssignedDate = nil

	if err := s.repo.Update(ctx, &lead); err != nil {
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to unassign lead")
	}
	return &lead, nil
}

// AvailableUsers lists the users the actor may assign leads to.
func (s *AssignmentService) AvailableUsers(ctx context.Context, actor Actor) ([]models.UserSummary, error) {
	var targetRoles []models.UserRole
	switch {
	case s.hierarchy.IsAdminTier(actor.Role):
		targetRoles = s.hierarchy.AssignableRoles()
	case s.hierarchy.IsManager(actor.Role):
		targetRoles = s.hierarchy.ExecutiveRoles()
	default:
		return nil, appErrors.Clone(appErrors.ErrForbidden, "role cannot assign leads")
	}

	users, err := s.users.ListActiveByRoles(ctx, targetRoles)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list assignable users")
	}
	return users, nil
}

func (s *AssignmentService) loadLead(ctx context.Context, actor Actor, leadID string) (*models.LeadDetail, error) {
	detail, err := s.repo.FindByID(ctx, leadID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "lead not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load lead")
	}
	if !s.hierarchy.CanViewAllLeads(actor.Role) && !s.hierarchy.IsAdminTier(actor.Role) {
		assigned := detail.AssignedTo != nil && *detail.AssignedTo == actor.ID
		subAssigned := detail.SubAssignedTo != nil && *detail.SubAssignedTo == actor.ID
		unclaimed := detail.AssignedTo == nil && s.hierarchy.IsExecutive(actor.Role)
		if !assigned && !subAssigned && !unclaimed {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "lead not found")
		}
	}
	return detail, nil
}

func (s *AssignmentService) loadTarget(ctx context.Context, id string) (*models.User, error) {
	target, err := s.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assignee not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assignee")
	}
	if !target.Active {
		return nil, appErrors.Clone(appErrors.ErrValidation, "assignee is inactive")
	}
	return target, nil
}
