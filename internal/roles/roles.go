// Package roles is the single source of truth for the organisation's role
// hierarchy. Every permission decision in the lead workflows consults one
// Hierarchy value, built once from configuration, so alternate hierarchies
// can be exercised without code edits.
package roles

import "github.com/lifeplannerdev/lpcrm/internal/models"

// Config enumerates the role tiers. Zero-value slices fall back to the
// canonical defaults in Default.
type Config struct {
	AdminRoles      []models.UserRole
	OperationsRoles []models.UserRole
	ManagerRoles    []models.UserRole
	ExecutiveRoles  []models.UserRole
	NonLeadRoles    []models.UserRole
	ViewAllRoles    []models.UserRole
}

// Hierarchy partitions roles into tiers and answers permission queries.
type Hierarchy struct {
	admin      map[models.UserRole]struct{}
	operations map[models.UserRole]struct{}
	managers   map[models.UserRole]struct{}
	executives map[models.UserRole]struct{}
	access     map[models.UserRole]struct{}
	viewAll    map[models.UserRole]struct{}
}

// NewHierarchy builds a Hierarchy from explicit tier membership.
// Lead access is derived: every tier plus the non-lead roles may read
// the leads API; only ViewAllRoles bypass assignment scoping.
func NewHierarchy(cfg Config) *Hierarchy {
	h := &Hierarchy{
		admin:      toSet(cfg.AdminRoles),
		operations: toSet(cfg.OperationsRoles),
		managers:   toSet(cfg.ManagerRoles),
		executives: toSet(cfg.ExecutiveRoles),
		viewAll:    toSet(cfg.ViewAllRoles),
	}

	h.access = make(map[models.UserRole]struct{})
	for _, set := range []map[models.UserRole]struct{}{h.admin, h.operations, h.managers, h.executives, toSet(cfg.NonLeadRoles)} {
		for role := range set {
			h.access[role] = struct{}{}
		}
	}

	return h
}

// Default returns the canonical hierarchy. viewAll overrides the roles
// that see every lead; empty means the historical default
// (admin tier plus OPS and HR).
func Default(viewAll ...models.UserRole) *Hierarchy {
	if len(viewAll) == 0 {
		viewAll = []models.UserRole{models.RoleAdmin, models.RoleBusinessHead, models.RoleOps, models.RoleHR}
	}
	return NewHierarchy(Config{
		AdminRoles:      []models.UserRole{models.RoleAdmin, models.RoleBusinessHead},
		OperationsRoles: []models.UserRole{models.RoleOps},
		ManagerRoles:    []models.UserRole{models.RoleAdmissionManager, models.RoleCenterManager, models.RoleBDM},
		ExecutiveRoles:  []models.UserRole{models.RoleAdmissionExec, models.RoleFOE},
		NonLeadRoles:    []models.UserRole{models.RoleProcessing, models.RoleMedia, models.RoleTrainer, models.RoleHR, models.RoleAccounts},
		ViewAllRoles:    viewAll,
	})
}

// IsAdminTier reports whether the role carries top-level assignment
// authority (admin or operations).
func (h *Hierarchy) IsAdminTier(role models.UserRole) bool {
	if _, ok := h.admin[role]; ok {
		return true
	}
	_, ok := h.operations[role]
	return ok
}

// IsManager reports whether the role is a manager-tier role.
func (h *Hierarchy) IsManager(role models.UserRole) bool {
	_, ok := h.managers[role]
	return ok
}

// IsExecutive reports whether the role is an executive-tier role.
func (h *Hierarchy) IsExecutive(role models.UserRole) bool {
	_, ok := h.executives[role]
	return ok
}

// IsAssignable reports whether a user holding the role may receive a
// primary assignment (managers and executives).
func (h *Hierarchy) IsAssignable(role models.UserRole) bool {
	return h.IsManager(role) || h.IsExecutive(role)
}

// CanAccessLeads reports whether the role may read the leads API at all.
func (h *Hierarchy) CanAccessLeads(role models.UserRole) bool {
	_, ok := h.access[role]
	return ok
}

// CanViewAllLeads reports whether the role sees every lead regardless
// of assignment.
func (h *Hierarchy) CanViewAllLeads(role models.UserRole) bool {
	_, ok := h.viewAll[role]
	return ok
}

// AdminTierRoles lists the roles with top-level assignment authority.
func (h *Hierarchy) AdminTierRoles() []models.UserRole {
	return append(setToSlice(h.admin), setToSlice(h.operations)...)
}

// ManagerRoles lists the manager-tier roles.
func (h *Hierarchy) ManagerRoles() []models.UserRole {
	return setToSlice(h.managers)
}

// ExecutiveRoles lists the executive-tier roles.
func (h *Hierarchy) ExecutiveRoles() []models.UserRole {
	return setToSlice(h.executives)
}

// AssignableRoles lists every role eligible to receive assignments.
func (h *Hierarchy) AssignableRoles() []models.UserRole {
	return append(h.ManagerRoles(), h.ExecutiveRoles()...)
}

// AccessRoles returns the lead-access roles for middleware registration.
func (h *Hierarchy) AccessRoles() []models.UserRole {
	out := make([]models.UserRole, 0, len(h.access))
	for role := range h.access {
		out = append(out, role)
	}
	return out
}

func setToSlice(set map[models.UserRole]struct{}) []models.UserRole {
	out := make([]models.UserRole, 0, len(set))
	for role := range set {
		out = append(out, role)
	}
	return out
}

func toSet(roles []models.UserRole) map[models.UserRole]struct{} {
	set := make(map[models.UserRole]struct{}, len(roles))
	for _, role := range roles {
		set[role] = struct{}{}
	}
	return set
}
