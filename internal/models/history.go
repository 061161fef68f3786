package models

import "time"

// AssignmentType classifies an assignment history entry.
type AssignmentType string

const (
	AssignmentPrimary      AssignmentType = "PRIMARY"
	AssignmentSub          AssignmentType = "SUB"
	AssignmentReassignment AssignmentType = "REASSIGNMENT"
)

// LeadAssignment is an append-only record of an assignment event.
// Rows are never mutated or deleted.
type LeadAssignment struct {
	ID             string         `db:"id" json:"id"`
	LeadID         string         `db:"lead_id" json:"lead_id"`
	AssignedTo     *string        `db:"assigned_to" json:"assigned_to,omitempty"`
	AssignedBy     *string        `db:"assigned_by" json:"assigned_by,omitempty"`
	AssignmentType AssignmentType `db:"assignment_type" json:"assignment_type"`
	Notes          string         `db:"notes" json:"notes"`
	Timestamp      time.Time      `db:"timestamp" json:"timestamp"`
}

// LeadAssignmentDetail joins an assignment entry with user display names.
type LeadAssignmentDetail struct {
	LeadAssignment
	AssignedToName *string `db:"assigned_to_name" json:"assigned_to_name,omitempty"`
	AssignedByName *string `db:"assigned_by_name" json:"assigned_by_name,omitempty"`
}

// ProcessingUpdate is an append-only record of a processing status change.
type ProcessingUpdate struct {
	ID        string           `db:"id" json:"id"`
	LeadID    string           `db:"lead_id" json:"lead_id"`
	Status    ProcessingStatus `db:"status" json:"status"`
	ChangedBy *string          `db:"changed_by" json:"changed_by,omitempty"`
	Notes     string           `db:"notes" json:"notes"`
	Timestamp time.Time        `db:"timestamp" json:"timestamp"`
}

// ProcessingUpdateDetail joins a processing entry with the actor name.
type ProcessingUpdateDetail struct {
	ProcessingUpdate
	ChangedByName *string `db:"changed_by_name" json:"changed_by_name,omitempty"`
}

// RemarkHistory is an append-only record of a remarks edit.
type RemarkHistory struct {
	ID              string    `db:"id" json:"id"`
	LeadID          string    `db:"lead_id" json:"lead_id"`
	PreviousRemarks *string   `db:"previous_remarks" json:"previous_remarks,omitempty"`
	NewRemarks      *string   `db:"new_remarks" json:"new_remarks,omitempty"`
	ChangedBy       *string   `db:"changed_by" json:"changed_by,omitempty"`
	ChangedAt       time.Time `db:"changed_at" json:"changed_at"`
}
