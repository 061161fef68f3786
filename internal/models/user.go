package models

import "time"

// UserRole identifies a staff role in the organisation.
type UserRole string

const (
	RoleAdmin            UserRole = "ADMIN"
	RoleOps              UserRole = "OPS"
	RoleBusinessHead     UserRole = "BUSINESS_HEAD"
	RoleAdmissionManager UserRole = "ADM_MANAGER"
	RoleCenterManager    UserRole = "CM"
	RoleBDM              UserRole = "BDM"
	RoleAdmissionExec    UserRole = "ADM_EXEC"
	RoleFOE              UserRole = "FOE"
	RoleProcessing       UserRole = "PROCESSING"
	RoleMedia            UserRole = "MEDIA"
	RoleTrainer          UserRole = "TRAINER"
	RoleHR               UserRole = "HR"
	RoleAccounts         UserRole = "ACCOUNTS"
)

// User represents a staff account stored in the users table.
type User struct {
	ID           string     `db:"id" json:"id"`
	Email        string     `db:"email" json:"email"`
	PasswordHash string     `db:"password_hash" json:"-"`
	FullName     string     `db:"full_name" json:"full_name"`
	Role         UserRole   `db:"role" json:"role"`
	Team         string     `db:"team" json:"team"`
	Active       bool       `db:"active" json:"active"`
	LastLogin    *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// UserSummary is the directory projection exposed on assignment endpoints.
type UserSummary struct {
	ID       string   `db:"id" json:"id"`
	FullName string   `db:"full_name" json:"full_name"`
	Role     UserRole `db:"role" json:"role"`
	Team     string   `db:"team" json:"team"`
	Active   bool     `db:"active" json:"active"`
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
