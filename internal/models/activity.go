package models

import "time"

// Activity type constants mirror the events the rest of the platform
// subscribes to.
const (
	ActivityLeadCreated       = "LEAD_CREATED"
	ActivityLeadAssigned      = "LEAD_ASSIGNED"
	ActivityLeadStatusChanged = "LEAD_STATUS_CHANGED"
	ActivityLeadProcessing    = "LEAD_PROCESSING_CHANGED"
)

// ActivityLog records a best-effort platform activity entry. Writing it
// must never fail the mutation that triggered it.
type ActivityLog struct {
	ID           string    `db:"id" json:"id"`
	UserID       *string   `db:"user_id" json:"user_id,omitempty"`
	ActivityType string    `db:"activity_type" json:"activity_type"`
	Description  string    `db:"description" json:"description"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}
