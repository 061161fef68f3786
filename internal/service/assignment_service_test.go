package service

import (
	"context"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lifeplannerdev/lpcrm/internal/models"
	"github.com/lifeplannerdev/lpcrm/internal/roles"
	appErrors "github.com/lifeplannerdev/lpcrm/pkg/errors"
)

func newAssignmentService(repo *mockLeadRepo, users *mockUserDir) *AssignmentService {
	return NewAssignmentService(repo, users, roles.Default(), nil, validator.New(), zap.NewNop())
}

func assignmentUsers() *mockUserDir {
	return &mockUserDir{users: map[string]*models.User{
		"mgr-1":  {ID: "mgr-1", FullName: "Meera", Role: models.RoleAdmissionManager, Active: true},
		"mgr-2":  {ID: "mgr-2", FullName: "Vikram", Role: models.RoleCenterManager, Active: true},
		"exec-1": {ID: "exec-1", FullName: "Anu", Role: models.RoleAdmissionExec, Active: true},
		"exec-2": {ID: "exec-2", FullName: "Ravi", Role: models.RoleFOE, Active: true},
		"hr-1":   {ID: "hr-1", FullName: "Divya", Role: models.RoleHR, Active: true},
		"gone-1": {ID: "gone-1", FullName: "Left", Role: models.RoleAdmissionExec, Active: false},
	}}
}

func TestAssignmentAdminPrimaryClearsSub(t *testing.T) {
	repo := &mockLeadRepo{leads: map[string]models.Lead{
		"l1": {ID: "l1", Name: "Akhil", AssignedTo: strPtr("mgr-1"), SubAssignedTo: strPtr("exec-1"), SubAssignedBy: strPtr("mgr-1"), Version: 1},
	}}
	svc := newAssignmentService(repo, assignmentUsers())

	lead, err := svc.Assign(context.Background(), Actor{ID: "admin-1", Role: models.RoleAdmin}, "l1", AssignRequest{AssignedTo: "mgr-2"})
	require.NoError(t, err)
	assert.Equal(t, "mgr-2", *lead.AssignedTo)
	assert.Nil(t, lead.SubAssignedTo)
	assert.Nil(t, lead.SubAssignedBy)
	assert.Nil(t, lead.SubAssignedDate)
	require.Len(t, repo.assignments, 1)
	assert.Equal(t, models.AssignmentReassignment, repo.assignments[0].AssignmentType)
}

func TestAssignmentAdminFirstAssignmentIsPrimary(t *testing.T) {
	repo := &mockLeadRepo{leads: map[string]models.Lead{"l1": {ID: "l1", Version: 1}}}
	svc := newAssignmentService(repo, assignmentUsers())

	lead, err := svc.Assign(context.Background(), Actor{ID: "ops-1", Role: models.RoleOps}, "l1", AssignRequest{AssignedTo: "exec-1"})
	require.NoError(t, err)
	assert.Equal(t, "exec-1", *lead.AssignedTo)
	require.Len(t, repo.assignments, 1)
	assert.Equal(t, models.AssignmentPrimary, repo.assignments[0].AssignmentType)
}

func TestAssignmentAdminRejectsNonAssignableTarget(t *testing.T) {
	repo := &mockLeadRepo{leads: map[string]models.Lead{"l1": {ID: "l1", Version: 1}}}
	svc := newAssignmentService(repo, assignmentUsers())

	_, err := svc.Assign(context.Background(), Actor{ID: "admin-1", Role: models.RoleAdmin}, "l1", AssignRequest{AssignedTo: "hr-1"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestAssignmentInactiveTargetRejected(t *testing.T) {
	repo := &mockLeadRepo{leads: map[string]models.Lead{"l1": {ID: "l1", Version: 1}}}
	svc := newAssignmentService(repo, assignmentUsers())

	_, err := svc.Assign(context.Background(), Actor{ID: "admin-1", Role: models.RoleAdmin}, "l1", AssignRequest{AssignedTo: "gone-1"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestAssignmentManagerDelegatesOwnLead(t *testing.T) {
	repo := &mockLeadRepo{leads: map[string]models.Lead{
		"l1": {ID: "l1", AssignedTo: strPtr("mgr-1"), Version: 1},
	}}
	svc := newAssignmentService(repo, assignmentUsers())

	lead, err := svc.Assign(context.Background(), Actor{ID: "mgr-1", Role: models.RoleAdmissionManager}, "l1", AssignRequest{AssignedTo: "exec-1", Notes: "follow up"})
	require.NoError(t, err)
	assert.Equal(t, "mgr-1", *lead.AssignedTo)
	require.NotNil(t, lead.SubAssignedTo)
	assert.Equal(t, "exec-1", *lead.SubAssignedTo)
	require.Len(t, repo.assignments, 1)
	assert.Equal(t, models.AssignmentSub, repo.assignments[0].AssignmentType)
	assert.Equal(t, "follow up", repo.assignments[0].Notes)
}

func TestAssignmentCenterManagerNeedsOwnership(t *testing.T) {
	repo := &mockLeadRepo{leads: map[string]models.Lead{
		"l1": {ID: "l1", AssignedTo: strPtr("mgr-1"), Version: 1},
	}}
	svc := newAssignmentService(repo, assignmentUsers())

	_, err := svc.Assign(context.Background(), Actor{ID: "mgr-2", Role: models.RoleCenterManager}, "l1", AssignRequest{AssignedTo: "exec-1"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestAssignmentExecutiveSelfClaim(t *testing.T) {
	repo := &mockLeadRepo{leads: map[string]models.Lead{"l1": {ID: "l1", Version: 1}}}
	svc := newAssignmentService(repo, assignmentUsers())

	lead, err := svc.Assign(context.Background(), Actor{ID: "exec-1", Role: models.RoleAdmissionExec}, "l1", AssignRequest{AssignedTo: "exec-1"})
	require.NoError(t, err)
	assert.Equal(t, "exec-1", *lead.AssignedTo)

	// A second executive cannot claim an already assigned lead; it is
	// out of their scope entirely.
	_, err = svc.Assign(context.Background(), Actor{ID: "exec-2", Role: models.RoleFOE}, "l1", AssignRequest{AssignedTo: "exec-2"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestAssignmentExecutiveCannotAssignOthers(t *testing.T) {
	repo := &mockLeadRepo{leads: map[string]models.Lead{"l1": {ID: "l1", Version: 1}}}
	svc := newAssignmentService(repo, assignmentUsers())

	_, err := svc.Assign(context.Background(), Actor{ID: "exec-1", Role: models.RoleAdmissionExec}, "l1", AssignRequest{AssignedTo: "exec-2"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestUnassignAdminPrimaryClearsEverything(t *testing.T) {
	repo := &mockLeadRepo{leads: map[string]models.Lead{
		"l1": {ID: "l1", AssignedTo: strPtr("mgr-1"), AssignedBy: strPtr("admin-1"), SubAssignedTo: strPtr("exec-1"), Version: 1},
	}}
	svc := newAssignmentService(repo, assignmentUsers())

	lead, err := svc.Unassign(context.Background(), Actor{ID: "admin-1", Role: models.RoleAdmin}, "l1", UnassignRequest{Level: "PRIMARY"})
	require.NoError(t, err)
	assert.Nil(t, lead.AssignedTo)
	assert.Nil(t, lead.AssignedBy)
	assert.Nil(t, lead.SubAssignedTo)
	// Clearing writes no history row; the trail stays append-only.
	assert.Empty(t, repo.assignments)
}

func TestUnassignManagerSubOnly(t *testing.T) {
	repo := &mockLeadRepo{leads: map[string]models.Lead{
		"l1": {ID: "l1", AssignedTo: strPtr("mgr-1"), SubAssignedTo: strPtr("exec-1"), Version: 1},
	}}
	svc := newAssignmentService(repo, assignmentUsers())

	_, err := svc.Unassign(context.Background(), Actor{ID: "mgr-1", Role: models.RoleAdmissionManager}, "l1", UnassignRequest{Level: "PRIMARY"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	lead, err := svc.Unassign(context.Background(), Actor{ID: "mgr-1", Role: models.RoleAdmissionManager}, "l1", UnassignRequest{Level: "SUB"})
	require.NoError(t, err)
	assert.Equal(t, "mgr-1", *lead.AssignedTo)
	assert.Nil(t, lead.SubAssignedTo)
}

func TestBulkAssignCollectsFailures(t *testing.T) {
	repo := &mockLeadRepo{leads: map[string]models.Lead{
		"l1": {ID: "l1", Version: 1},
		"l2": {ID: "l2", Version: 1},
	}}
	svc := newAssignmentService(repo, assignmentUsers())

	result, err := svc.BulkAssign(context.Background(), Actor{ID: "admin-1", Role: models.RoleAdmin}, BulkAssignRequest{
		LeadIDs:    []string{"l1", "missing", "l2"},
		AssignedTo: "mgr-1",
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"l1", "l2"}, result.Assigned)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "missing", result.Failed[0].LeadID)
	assert.Equal(t, "lead not found", result.Failed[0].Reason)
}

func TestAvailableUsersPerTier(t *testing.T) {
	users := assignmentUsers()
	svc := newAssignmentService(&mockLeadRepo{}, users)

	_, err := svc.AvailableUsers(context.Background(), Actor{ID: "admin-1", Role: models.RoleAdmin})
	require.NoError(t, err)
	assert.ElementsMatch(t, roles.Default().AssignableRoles(), users.lastRoles)

	_, err = svc.AvailableUsers(context.Background(), Actor{ID: "mgr-1", Role: models.RoleAdmissionManager})
	require.NoError(t, err)
	assert.ElementsMatch(t, roles.Default().ExecutiveRoles(), users.lastRoles)

	_, err = svc.AvailableUsers(context.Background(), Actor{ID: "exec-1", Role: models.RoleAdmissionExec})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}
