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

type leadRepository interface {
	List(ctx context.Context, filter models.LeadFilter) ([]models.LeadDetail, int, error)
	ListMyTeam(ctx context.Context, managerID string) ([]models.LeadDetail, error)
	FindByID(ctx context.Context, id string) (*models.LeadDetail, error)
	ExistsByPhone(ctx context.Context, phone string, excludeID string) (bool, error)
	ExistsByEmail(ctx context.Context, email string, excludeID string) (bool, error)
	Create(ctx context.Context, lead *models.Lead, initial *models.LeadAssignment) error
	Update(ctx context.Context, lead *models.Lead) error
	UpdateWithRemark(ctx context.Context, lead *models.Lead, remark *models.RemarkHistory) error
	Delete(ctx context.Context, id string) error
	ListAssignments(ctx context.Context, leadID string) ([]models.LeadAssignmentDetail, error)
	ListProcessingUpdates(ctx context.Context, leadID string) ([]models.ProcessingUpdateDetail, error)
	ListRemarkHistory(ctx context.Context, leadID string) ([]models.RemarkHistory, error)
	Stats(ctx context.Context, scopeUserID string) (*models.LeadStats, error)
}

type userReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type activityRecorder interface {
	Record(ctx context.Context, userID string, activityType, description string)
}

// CreateLeadRequest holds payload for creating leads.
type CreateLeadRequest struct {
	Name         string  `json:"name" validate:"required,min=3"`
	Phone        string  `json:"phone" validate:"required"`
	Email        *string `json:"email,omitempty" validate:"omitempty,email"`
	Priority     string  `json:"priority"`
	Status       string  `json:"status"`
	Program      *string `json:"program,omitempty"`
	Location     *string `json:"location,omitempty"`
	Remarks      *string `json:"remarks,omitempty"`
	Source       string  `json:"source" validate:"required"`
	CustomSource *string `json:"custom_source,omitempty"`
	AssignedTo   *string `json:"assigned_to,omitempty"`
}

// UpdateLeadRequest holds a partial update; nil fields are untouched.
type UpdateLeadRequest struct {
	Name              *string `json:"name,omitempty"`
	Phone             *string `json:"phone,omitempty"`
	Email             *string `json:"email,omitempty" validate:"omitempty,email"`
	Priority          *string `json:"priority,omitempty"`
	Status            *string `json:"status,omitempty"`
	Program           *string `json:"program,omitempty"`
	Location          *string `json:"location,omitempty"`
	Remarks           *string `json:"remarks,omitempty"`
	Source            *string `json:"source,omitempty"`
	CustomSource      *string `json:"custom_source,omitempty"`
	DocumentsReceived *string `json:"documents_received,omitempty"`
}

// LeadService handles the lead lifecycle: creation, scoped reads,
// field updates with audit, and deletion.
type LeadService struct {
	repo      leadRepository
	users     userReader
	hierarchy *roles.Hierarchy
	statuses  map[models.LeadStatus]struct{}
	activity  activityRecorder
	cache     *CacheService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewLeadService constructs the lead service. allowedStatuses constrains
// the status vocabulary; empty means any non-blank value is accepted.
func NewLeadService(repo leadRepository, users userReader, hierarchy *roles.Hierarchy, allowedStatuses []string, activity activityRecorder, cacheSvc *CacheService, metricsSvc *MetricsService, validate *validator.Validate, logger *zap.Logger) *LeadService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	statuses := make(map[models.LeadStatus]struct{}, len(allowedStatuses))
	for _, s := range allowedStatuses {
		statuses[models.LeadStatus(strings.ToUpper(strings.TrimSpace(s)))] = struct{}{}
	}
	return &LeadService{repo: repo, users: users, hierarchy: hierarchy, statuses: statuses, activity: activity, cache: cacheSvc, metrics: metricsSvc, validator: validate, logger: logger}
}

// ScopeFor returns the user ID leads must be assigned to for the actor
// to see them; empty means the actor sees every lead.
func (s *LeadService) ScopeFor(actor Actor) string {
	if s.hierarchy.CanViewAllLeads(actor.Role) {
		return ""
	}
	return actor.ID
}

// List returns leads visible to the actor with pagination metadata.
func (s *LeadService) List(ctx context.Context, actor Actor, filter models.LeadFilter) ([]models.LeadDetail, *models.Pagination, error) {
	filter.ScopeUserID = s.ScopeFor(actor)
	leads, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list leads")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return leads, pagination, nil
}

// MyTeam returns the manager's delegated leads: primary-assigned to the
// actor with an active sub-assignment.
func (s *LeadService) MyTeam(ctx context.Context, actor Actor) ([]models.LeadDetail, error) {
	if !s.hierarchy.IsManager(actor.Role) && !s.hierarchy.IsAdminTier(actor.Role) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only managers have a team view")
	}
	leads, err := s.repo.ListMyTeam(ctx, actor.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list team leads")
	}
	return leads, nil
}

// Get returns a lead within the actor's visibility scope. Out-of-scope
// leads report not-found so their existence is never confirmed.
func (s *LeadService) Get(ctx context.Context, actor Actor, id string) (*models.LeadDetail, error) {
	return s.getVisible(ctx, actor, id)
}

// Create registers a new lead, optionally with an initial primary
// assignment.
func (s *LeadService) Create(ctx context.Context, actor Actor, req CreateLeadRequest) (*models.LeadDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid lead payload")
	}

	priority := models.LeadPriority(strings.ToUpper(strings.TrimSpace(req.Priority)))
	if priority == "" {
		priority = models.PriorityMedium
	}
	if !models.ValidPriority(priority) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid priority")
	}

	source := models.LeadSource(strings.ToUpper(strings.TrimSpace(req.Source)))
	if !models.ValidSource(source) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid source")
	}
	if source == models.SourceOther && (req.CustomSource == nil || strings.TrimSpace(*req.CustomSource) == "") {
		return nil, appErrors.Clone(appErrors.ErrValidation, "custom_source is required when source is OTHER")
	}

	status := models.LeadStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
	if status == "" {
		status = models.StatusEnquiry
	}
	if !s.validStatus(status) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid status")
	}
	if status == models.StatusRegistered || status == "COMPLETED" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "cannot create a lead directly with this status")
	}

	if countDigits(req.Phone) < 10 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "phone must contain at least 10 digits")
	}
	exists, err := s.repo.ExistsByPhone(ctx, req.Phone, "")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate phone")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrValidation, "a lead with this phone already exists")
	}
	if req.Email != nil && *req.Email != "" {
		exists, err = s.repo.ExistsByEmail(ctx, *req.Email, "")
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate email")
		}
		if exists {
			return nil, appErrors.Clone(appErrors.ErrValidation, "a lead with this email already exists")
		}
	}

	now := time.Now().UTC()
	lead := &models.Lead{
		Name:                 strings.TrimSpace(req.Name),
		Phone:                strings.TrimSpace(req.Phone),
		Email:                req.Email,
		Priority:             priority,
		Status:               status,
		Program:              req.Program,
		Location:             req.Location,
		Remarks:              req.Remarks,
		Source:               source,
		CustomSource:         req.CustomSource,
		ProcessingStatus:     models.ProcessingPending,
		ProcessingStatusDate: now,
		DocumentStatus:       models.DocumentPending,
	}

	var initial *models.LeadAssignment
	if req.AssignedTo != nil && *req.AssignedTo != "" {
		target, err := s.users.FindByID(ctx, *req.AssignedTo)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "assignee not found")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assignee")
		}
		if !target.Active {
			return nil, appErrors.Clone(appErrors.ErrValidation, "assignee is inactive")
		}
		if target.Role != models.RoleAdmissionManager && target.Role != models.RoleAdmissionExec {
			return nil, appErrors.Clone(appErrors.ErrValidation, "assignee must hold the ADM_MANAGER or ADM_EXEC role")
		}
		lead.AssignedTo = &target.ID
		lead.AssignedBy = &actor.ID
		lead.AssignedDate = &now
		initial = &models.LeadAssignment{
			AssignedTo:     &target.ID,
			AssignedBy:     &actor.ID,
			AssignmentType: models.AssignmentPrimary,
			Notes:          "Initial assignment during lead creation",
		}
	}

	if err := s.repo.Create(ctx, lead, initial); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create lead")
	}
	s.invalidateStats(ctx)
	s.metrics.RecordLeadMutation("create")

	if s.activity != nil {
		s.activity.Record(ctx, actor.ID, models.ActivityLeadCreated, fmt.Sprintf("Lead %s (%s) created", lead.Name, lead.Phone))
	}

	detail, err := s.repo.FindByID(ctx, lead.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load lead")
	}
	return detail, nil
}

// Update applies a partial update to a lead within the actor's scope,
// auditing remark edits and stamping registration on the first
// transition to REGISTERED.
func (s *LeadService) Update(ctx context.Context, actor Actor, id string, req UpdateLeadRequest) (*models.LeadDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid lead payload")
	}

	detail, err := s.getVisible(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	lead := detail.Lead
	previous := detail.Lead

	if req.Name != nil {
		if len(strings.TrimSpace(*req.Name)) < 3 {
			return nil, appErrors.Clone(appErrors.ErrValidation, "name must be at least 3 characters")
		}
		lead.Name = strings.TrimSpace(*req.Name)
	}
	if req.Phone != nil {
		if countDigits(*req.Phone) < 10 {
			return nil, appErrors.Clone(appErrors.ErrValidation, "phone must contain at least 10 digits")
		}
		exists, err := s.repo.ExistsByPhone(ctx, *req.Phone, id)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate phone")
		}
		if exists {
			return nil, appErrors.Clone(appErrors.ErrValidation, "a lead with this phone already exists")
		}
		lead.Phone = strings.TrimSpace(*req.Phone)
	}
	if req.Email != nil {
		if *req.Email != "" {
			exists, err := s.repo.ExistsByEmail(ctx, *req.Email, id)
			if err != nil {
				return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate email")
			}
			if exists {
				return nil, appErrors.Clone(appErrors.ErrValidation, "a lead with this email already exists")
			}
		}
		lead.Email = req.Email
	}
	if req.Priority != nil {
		priority := models.LeadPriority(strings.ToUpper(strings.TrimSpace(*req.Priority)))
		if !models.ValidPriority(priority) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "invalid priority")
		}
		lead.Priority = priority
	}
	if req.Source != nil {
		source := models.LeadSource(strings.ToUpper(strings.TrimSpace(*req.Source)))
		if !models.ValidSource(source) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "invalid source")
		}
		lead.Source = source
	}
	if req.CustomSource != nil {
		lead.CustomSource = req.CustomSource
	}
	if lead.Source == models.SourceOther && (lead.CustomSource == nil || strings.TrimSpace(*lead.CustomSource) == "") {
		return nil, appErrors.Clone(appErrors.ErrValidation, "custom_source is required when source is OTHER")
	}
	if req.Program != nil {
		lead.Program = req.Program
	}
	if req.Location != nil {
		lead.Location = req.Location
	}
	if req.DocumentsReceived != nil {
		lead.DocumentsReceived = req.DocumentsReceived
	}

	statusChanged := false
	if req.Status != nil {
		status := models.LeadStatus(strings.ToUpper(strings.TrimSpace(*req.Status)))
		if status == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "status cannot be empty")
		}
		if !s.validStatus(status) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "invalid status")
		}
		if status != previous.Status {
			statusChanged = true
		}
		lead.Status = status
		if status == models.StatusRegistered && lead.RegistrationDate == nil {
			now := time.Now().UTC()
			lead.RegistrationDate = &now
		}
	}

	remarkChanged := req.Remarks != nil && !equalText(previous.Remarks, req.Remarks)
	if req.Remarks != nil {
		lead.Remarks = req.Remarks
	}

	if remarkChanged {
		remark := &models.RemarkHistory{
			LeadID:          lead.ID,
			PreviousRemarks: previous.Remarks,
			NewRemarks:      req.Remarks,
			ChangedBy:       &actor.ID,
		}
		err = s.repo.UpdateWithRemark(ctx, &lead, remark)
	} else {
		err = s.repo.Update(ctx, &lead)
	}
	if err != nil {
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update lead")
	}
	s.invalidateStats(ctx)
	s.metrics.RecordLeadMutation("update")

	if statusChanged && s.activity != nil {
		s.activity.Record(ctx, actor.ID, models.ActivityLeadStatusChanged, fmt.Sprintf("Lead %s moved to %s", lead.Name, lead.Status))
	}

	updated, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load lead")
	}
	return updated, nil
}

// Delete removes a lead and, via schema cascade, its history. Reserved
// for the admin tier.
func (s *LeadService) Delete(ctx context.Context, actor Actor, id string) error {
	if !s.hierarchy.IsAdminTier(actor.Role) {
		return appErrors.Clone(appErrors.ErrForbidden, "only administrators may delete leads")
	}
	if _, err := s.getVisible(ctx, actor, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "lead not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete lead")
	}
	s.invalidateStats(ctx)
	s.metrics.RecordLeadMutation("delete")
	return nil
}

// Timeline returns the processing history for a lead in scope.
func (s *LeadService) Timeline(ctx context.Context, actor Actor, id string) ([]models.ProcessingUpdateDetail, error) {
	if _, err := s.getVisible(ctx, actor, id); err != nil {
		return nil, err
	}
	entries, err := s.repo.ListProcessingUpdates(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load timeline")
	}
	return entries, nil
}

// AssignmentHistory returns the assignment audit trail for a lead in scope.
func (s *LeadService) AssignmentHistory(ctx context.Context, actor Actor, id string) ([]models.LeadAssignmentDetail, error) {
	if _, err := s.getVisible(ctx, actor, id); err != nil {
		return nil, err
	}
	entries, err := s.repo.ListAssignments(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assignment history")
	}
	return entries, nil
}

// RemarkEdits returns the remark audit trail for a lead in scope.
func (s *LeadService) RemarkEdits(ctx context.Context, actor Actor, id string) ([]models.RemarkHistory, error) {
	if _, err := s.getVisible(ctx, actor, id); err != nil {
		return nil, err
	}
	entries, err := s.repo.ListRemarkHistory(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load remark history")
	}
	return entries, nil
}

// Stats aggregates lead counts within the actor's scope. Results are
// cached per scope when caching is enabled.
func (s *LeadService) Stats(ctx context.Context, actor Actor) (*models.LeadStats, error) {
	scope := s.ScopeFor(actor)
	key := statsCacheKey(scope)
	if s.cache.Enabled() {
		var cached models.LeadStats
		if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
			return &cached, nil
		}
	}

	stats, err := s.repo.Stats(ctx, scope)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to aggregate leads")
	}
	if s.cache.Enabled() {
		_ = s.cache.Set(ctx, key, stats, 0)
	}
	return stats, nil
}

func statsCacheKey(scope string) string {
	if scope == "" {
		return "leads:stats:all"
	}
	return "leads:stats:" + scope
}

func (s *LeadService) invalidateStats(ctx context.Context) {
	if !s.cache.Enabled() {
		return
	}
	if err := s.cache.Invalidate(ctx, "leads:stats:*"); err != nil {
		s.logger.Warn("failed to invalidate stats cache", zap.Error(err))
	}
}

func (s *LeadService) getVisible(ctx context.Context, actor Actor, id string) (*models.LeadDetail, error) {
	detail, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "lead not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load lead")
	}
	if scope := s.ScopeFor(actor); scope != "" {
		assigned := detail.AssignedTo != nil && *detail.AssignedTo == scope
		subAssigned := detail.SubAssignedTo != nil && *detail.SubAssignedTo == scope
		if !assigned && !subAssigned {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "lead not found")
		}
	}
	return detail, nil
}

func (s *LeadService) validStatus(status models.LeadStatus) bool {
	if strings.TrimSpace(string(status)) == "" {
		return false
	}
	if len(s.statuses) == 0 {
		return true
	}
	_, ok := s.statuses[status]
	return ok
}

func countDigits(phone string) int {
	n := 0
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}

func equalText(a, b *string) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return *a == *b
}
