package service

import (
	"context"
	"database/sql"
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

type mockLeadRepo struct {
	leads          map[string]models.Lead
	lastFilter     models.LeadFilter
	created        *models.Lead
	initial        *models.LeadAssignment
	remarks        []models.RemarkHistory
	assignments    []models.LeadAssignment
	processing     []models.ProcessingUpdate
	deleted        []string
	failUpdateWith error
}

func (m *mockLeadRepo) List(ctx context.Context, filter models.LeadFilter) ([]models.LeadDetail, int, error) {
	m.lastFilter = filter
	return nil, 0, nil
}

func (m *mockLeadRepo) ListMyTeam(ctx context.Context, managerID string) ([]models.LeadDetail, error) {
	var out []models.LeadDetail
	for _, l := range m.leads {
		if l.AssignedTo != nil && *l.AssignedTo == managerID && l.SubAssignedTo != nil {
			out = append(out, models.LeadDetail{Lead: l})
		}
	}
	return out, nil
}

func (m *mockLeadRepo) FindByID(ctx context.Context, id string) (*models.LeadDetail, error) {
	if l, ok := m.leads[id]; ok {
		return &models.LeadDetail{Lead: l}, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockLeadRepo) ExistsByPhone(ctx context.Context, phone string, excludeID string) (bool, error) {
	for _, l := range m.leads {
		if l.Phone == phone && l.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockLeadRepo) ExistsByEmail(ctx context.Context, email string, excludeID string) (bool, error) {
	for _, l := range m.leads {
		if l.Email != nil && *l.Email == email && l.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockLeadRepo) Create(ctx context.Context, lead *models.Lead, initial *models.LeadAssignment) error {
	if m.leads == nil {
		m.leads = make(map[string]models.Lead)
	}
	if lead.ID == "" {
		lead.ID = "new-lead"
	}
	lead.Version = 1
	m.leads[lead.ID] = *lead
	m.created = lead
	m.initial = initial
	if initial != nil {
		initial.LeadID = lead.ID
		m.assignments = append(m.assignments, *initial)
	}
	return nil
}

func (m *mockLeadRepo) Update(ctx context.Context, lead *models.Lead) error {
	if m.failUpdateWith != nil {
		return m.failUpdateWith
	}
	stored, ok := m.leads[lead.ID]
	if !ok || stored.Version != lead.Version {
		return appErrors.Clone(appErrors.ErrConflict, "lead was modified concurrently")
	}
	lead.Version++
	m.leads[lead.ID] = *lead
	return nil
}

func (m *mockLeadRepo) UpdateWithRemark(ctx context.Context, lead *models.Lead, remark *models.RemarkHistory) error {
	if err := m.Update(ctx, lead); err != nil {
		return err
	}
	m.remarks = append(m.remarks, *remark)
	return nil
}

func (m *mockLeadRepo) Assign(ctx context.Context, lead *models.Lead, entry *models.LeadAssignment) error {
	if err := m.Update(ctx, lead); err != nil {
		return err
	}
	m.assignments = append(m.assignments, *entry)
	return nil
}

func (m *mockLeadRepo) UpdateProcessing(ctx context.Context, lead *models.Lead, entry *models.ProcessingUpdate) error {
	if err := m.Update(ctx, lead); err != nil {
		return err
	}
	if entry != nil {
		m.processing = append(m.processing, *entry)
	}
	return nil
}

func (m *mockLeadRepo) Delete(ctx context.Context, id string) error {
	if _, ok := m.leads[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.leads, id)
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *mockLeadRepo) ListAssignments(ctx context.Context, leadID string) ([]models.LeadAssignmentDetail, error) {
	var out []models.LeadAssignmentDetail
	for _, a := range m.assignments {
		if a.LeadID == leadID {
			out = append(out, models.LeadAssignmentDetail{LeadAssignment: a})
		}
	}
	return out, nil
}

func (m *mockLeadRepo) ListProcessingUpdates(ctx context.Context, leadID string) ([]models.ProcessingUpdateDetail, error) {
	var out []models.ProcessingUpdateDetail
	for _, p := range m.processing {
		if p.LeadID == leadID {
			out = append(out, models.ProcessingUpdateDetail{ProcessingUpdate: p})
		}
	}
	return out, nil
}

func (m *mockLeadRepo) ListRemarkHistory(ctx context.Context, leadID string) ([]models.RemarkHistory, error) {
	var out []models.RemarkHistory
	for _, r := range m.remarks {
		if r.LeadID == leadID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockLeadRepo) Stats(ctx context.Context, scopeUserID string) (*models.LeadStats, error) {
	total := 0
	for _, l := range m.leads {
		if scopeUserID == "" ||
			(l.AssignedTo != nil && *l.AssignedTo == scopeUserID) ||
			(l.SubAssignedTo != nil && *l.SubAssignedTo == scopeUserID) {
			total++
		}
	}
	return &models.LeadStats{Total: total, ByStatus: map[string]int{}, ByPriority: map[string]int{}, ByProcessing: map[string]int{}}, nil
}

type mockUserDir struct {
	users     map[string]*models.User
	lastRoles []models.UserRole
}

func (m *mockUserDir) FindByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockUserDir) ListActiveByRoles(ctx context.Context, userRoles []models.UserRole) ([]models.UserSummary, error) {
	m.lastRoles = userRoles
	var out []models.UserSummary
	for _, u := range m.users {
		if !u.Active {
			continue
		}
		for _, r := range userRoles {
			if u.Role == r {
				out = append(out, models.UserSummary{ID: u.ID, FullName: u.FullName, Role: u.Role, Active: u.Active})
				break
			}
		}
	}
	return out, nil
}

type mockActivity struct {
	entries []string
}

func (m *mockActivity) Record(ctx context.Context, userID string, activityType, description string) {
	m.entries = append(m.entries, activityType)
}

func strPtr(s string) *string { return &s }

func defaultStatuses() []string {
	return []string{"ENQUIRY", "INTERESTED", "NOT_INTERESTED", "WALK_IN", "ON_HOLD", "REGISTERED"}
}

func newLeadService(repo *mockLeadRepo, users *mockUserDir, activity *mockActivity) *LeadService {
	var recorder activityRecorder
	if activity != nil {
		recorder = activity
	}
	return NewLeadService(repo, users, roles.Default(), defaultStatuses(), recorder, nil, nil, validator.New(), zap.NewNop())
}

func TestLeadServiceCreateDefaults(t *testing.T) {
	repo := &mockLeadRepo{}
	activity := &mockActivity{}
	svc := newLeadService(repo, &mockUserDir{}, activity)
	actor := Actor{ID: "ops-1", Role: models.RoleOps}

	detail, err := svc.Create(context.Background(), actor, CreateLeadRequest{
		Name:   "Akhil Nair",
		Phone:  "9876543210",
		Source: "whatsapp",
	})
	require.NoError(t, err)
	assert.Equal(t, models.PriorityMedium, detail.Priority)
	assert.Equal(t, models.StatusEnquiry, detail.Status)
	assert.Equal(t, models.SourceWhatsApp, detail.Source)
	assert.Equal(t, models.ProcessingPending, detail.ProcessingStatus)
	assert.Nil(t, repo.initial)
	assert.Contains(t, activity.entries, models.ActivityLeadCreated)
}

func TestLeadServiceCreateWithInitialAssignment(t *testing.T) {
	repo := &mockLeadRepo{}
	users := &mockUserDir{users: map[string]*models.User{
		"mgr-1": {ID: "mgr-1", FullName: "Meera", Role: models.RoleAdmissionManager, Active: true},
	}}
	svc := newLeadService(repo, users, nil)
	actor := Actor{ID: "admin-1", Role: models.RoleAdmin}

	detail, err := svc.Create(context.Background(), actor, CreateLeadRequest{
		Name:       "Akhil Nair",
		Phone:      "9876543210",
		Source:     "WEBSITE",
		AssignedTo: strPtr("mgr-1"),
	})
	require.NoError(t, err)
	require.NotNil(t, detail.AssignedTo)
	assert.Equal(t, "mgr-1", *detail.AssignedTo)
	require.NotNil(t, repo.initial)
	assert.Equal(t, models.AssignmentPrimary, repo.initial.AssignmentType)
	assert.Equal(t, "Initial assignment during lead creation", repo.initial.Notes)
}

func TestLeadServiceCreateRejectsBadAssigneeRole(t *testing.T) {
	users := &mockUserDir{users: map[string]*models.User{
		"hr-1": {ID: "hr-1", Role: models.RoleHR, Active: true},
	}}
	svc := newLeadService(&mockLeadRepo{}, users, nil)

	_, err := svc.Create(context.Background(), Actor{ID: "admin-1", Role: models.RoleAdmin}, CreateLeadRequest{
		Name:       "Akhil Nair",
		Phone:      "9876543210",
		Source:     "WEBSITE",
		AssignedTo: strPtr("hr-1"),
	})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestLeadServiceCreateDuplicatePhone(t *testing.T) {
	repo := &mockLeadRepo{leads: map[string]models.Lead{
		"l1": {ID: "l1", Phone: "9876543210", Version: 1},
	}}
	svc := newLeadService(repo, &mockUserDir{}, nil)

	_, err := svc.Create(context.Background(), Actor{ID: "ops-1", Role: models.RoleOps}, CreateLeadRequest{
		Name:   "Akhil Nair",
		Phone:  "9876543210",
		Source: "WEBSITE",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestLeadServiceCreateOtherSourceNeedsCustomSource(t *testing.T) {
	svc := newLeadService(&mockLeadRepo{}, &mockUserDir{}, nil)

	_, err := svc.Create(context.Background(), Actor{ID: "ops-1", Role: models.RoleOps}, CreateLeadRequest{
		Name:   "Akhil Nair",
		Phone:  "9876543210",
		Source: "OTHER",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestLeadServiceCreateRejectsRegisteredStatus(t *testing.T) {
	svc := newLeadService(&mockLeadRepo{}, &mockUserDir{}, nil)

	_, err := svc.Create(context.Background(), Actor{ID: "ops-1", Role: models.RoleOps}, CreateLeadRequest{
		Name:   "Akhil Nair",
		Phone:  "9876543210",
		Source: "WEBSITE",
		Status: "REGISTERED",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestLeadServiceUpdateStampsRegistrationOnce(t *testing.T) {
	repo := &mockLeadRepo{leads: map[string]models.Lead{
		"l1": {ID: "l1", Name: "Akhil", Phone: "9876543210", Status: models.StatusInterested, Source: models.SourceWebsite, Priority: models.PriorityMedium, Version: 1},
	}}
	svc := newLeadService(repo, &mockUserDir{}, nil)
	actor := Actor{ID: "ops-1", Role: models.RoleOps}

	updated, err := svc.Update(context.Background(), actor, "l1", UpdateLeadRequest{Status: strPtr("registered")})
	require.NoError(t, err)
	require.NotNil(t, updated.RegistrationDate)
	first := *updated.RegistrationDate

	// Later updates never re-stamp the registration date.
	time.Sleep(5 * time.Millisecond)
	updated, err = svc.Update(context.Background(), actor, "l1", UpdateLeadRequest{Status: strPtr("REGISTERED"), Remarks: strPtr("docs pending")})
	require.NoError(t, err)
	require.NotNil(t, updated.RegistrationDate)
	assert.True(t, updated.RegistrationDate.Equal(first))
}

func TestLeadServiceUpdateAuditsRemarkChange(t *testing.T) {
	repo := &mockLeadRepo{leads: map[string]models.Lead{
		"l1": {ID: "l1", Name: "Akhil", Phone: "9876543210", Status: models.StatusEnquiry, Source: models.SourceWebsite, Priority: models.PriorityMedium, Remarks: strPtr("old note"), Version: 1},
	}}
	svc := newLeadService(repo, &mockUserDir{}, nil)
	actor := Actor{ID: "ops-1", Role: models.RoleOps}

	_, err := svc.Update(context.Background(), actor, "l1", UpdateLeadRequest{Remarks: strPtr("new note")})
	require.NoError(t, err)
	require.Len(t, repo.remarks, 1)
	assert.Equal(t, "old note", *repo.remarks[0].PreviousRemarks)
	assert.Equal(t, "new note", *repo.remarks[0].NewRemarks)

	// Sending the same remarks again must not add another audit row.
	_, err = svc.Update(context.Background(), actor, "l1", UpdateLeadRequest{Remarks: strPtr("new note")})
	require.NoError(t, err)
	assert.Len(t, repo.remarks, 1)
}

func TestLeadServiceScopedGetHidesForeignLeads(t *testing.T) {
	repo := &mockLeadRepo{leads: map[string]models.Lead{
		"l1": {ID: "l1", AssignedTo: strPtr("mgr-9"), Version: 1},
	}}
	svc := newLeadService(repo, &mockUserDir{}, nil)

	_, err := svc.Get(context.Background(), Actor{ID: "exec-1", Role: models.RoleAdmissionExec}, "l1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	// Sub-assignment grants visibility.
	repo.leads["l1"] = models.Lead{ID: "l1", AssignedTo: strPtr("mgr-9"), SubAssignedTo: strPtr("exec-1"), Version: 1}
	detail, err := svc.Get(context.Background(), Actor{ID: "exec-1", Role: models.RoleAdmissionExec}, "l1")
	require.NoError(t, err)
	assert.Equal(t, "l1", detail.ID)
}

func TestLeadServiceListScopesNonPrivilegedActors(t *testing.T) {
	repo := &mockLeadRepo{}
	svc := newLeadService(repo, &mockUserDir{}, nil)

	_, _, err := svc.List(context.Background(), Actor{ID: "exec-1", Role: models.RoleFOE}, models.LeadFilter{})
	require.NoError(t, err)
	assert.Equal(t, "exec-1", repo.lastFilter.ScopeUserID)

	_, _, err = svc.List(context.Background(), Actor{ID: "hr-1", Role: models.RoleHR}, models.LeadFilter{})
	require.NoError(t, err)
	assert.Empty(t, repo.lastFilter.ScopeUserID)
}

func TestLeadServiceMyTeamRequiresManager(t *testing.T) {
	svc := newLeadService(&mockLeadRepo{}, &mockUserDir{}, nil)

	_, err := svc.MyTeam(context.Background(), Actor{ID: "exec-1", Role: models.RoleAdmissionExec})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	_, err = svc.MyTeam(context.Background(), Actor{ID: "mgr-1", Role: models.RoleAdmissionManager})
	require.NoError(t, err)
}

func TestLeadServiceDeleteAdminOnly(t *testing.T) {
	repo := &mockLeadRepo{leads: map[string]models.Lead{"l1": {ID: "l1", Version: 1}}}
	svc := newLeadService(repo, &mockUserDir{}, nil)

	err := svc.Delete(context.Background(), Actor{ID: "mgr-1", Role: models.RoleAdmissionManager}, "l1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	err = svc.Delete(context.Background(), Actor{ID: "admin-1", Role: models.RoleAdmin}, "l1")
	require.NoError(t, err)
	assert.Contains(t, repo.deleted, "l1")
}

func TestLeadServiceUpdateConflictSurfaces(t *testing.T) {
	repo := &mockLeadRepo{leads: map[string]models.Lead{
		"l1": {ID: "l1", Name: "Akhil", Phone: "9876543210", Status: models.StatusEnquiry, Source: models.SourceWebsite, Priority: models.PriorityMedium, Version: 3},
	}}
	svc := newLeadService(repo, &mockUserDir{}, nil)

	// Simulate a concurrent writer winning the version check.
	repo.failUpdateWith = appErrors.Clone(appErrors.ErrConflict, "lead was modified concurrently")

	_, err := svc.Update(context.Background(), Actor{ID: "ops-1", Role: models.RoleOps}, "l1", UpdateLeadRequest{Name: strPtr("Akhil N")})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}
