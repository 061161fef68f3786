package models

import "time"

// LeadPriority ranks how urgently a lead should be worked.
type LeadPriority string

const (
	PriorityHigh   LeadPriority = "HIGH"
	PriorityMedium LeadPriority = "MEDIUM"
	PriorityLow    LeadPriority = "LOW"
)

// LeadSource records the acquisition channel for a lead.
type LeadSource string

const (
	SourceWhatsApp   LeadSource = "WHATSAPP"
	SourceInstagram  LeadSource = "INSTAGRAM"
	SourceWebsite    LeadSource = "WEBSITE"
	SourceWalkIn     LeadSource = "WALK_IN"
	SourceAutomation LeadSource = "AUTOMATION"
	SourceOther      LeadSource = "OTHER"
)

// LeadStatus is the workflow label of a lead. The vocabulary is
// configurable; the constants below are the historical defaults.
type LeadStatus string

const (
	StatusEnquiry       LeadStatus = "ENQUIRY"
	StatusInterested    LeadStatus = "INTERESTED"
	StatusNotInterested LeadStatus = "NOT_INTERESTED"
	StatusWalkIn        LeadStatus = "WALK_IN"
	StatusOnHold        LeadStatus = "ON_HOLD"
	StatusRegistered    LeadStatus = "REGISTERED"
)

// ProcessingStatus tracks the document/registration processing pipeline.
type ProcessingStatus string

const (
	ProcessingPending   ProcessingStatus = "PENDING"
	ProcessingForwarded ProcessingStatus = "FORWARDED"
	ProcessingAccepted  ProcessingStatus = "ACCEPTED"
	ProcessingActive    ProcessingStatus = "PROCESSING"
	ProcessingCompleted ProcessingStatus = "COMPLETED"
	ProcessingRejected  ProcessingStatus = "REJECTED"
	ProcessingOnHold    ProcessingStatus = "ON_HOLD"
)

// DocumentStatus tracks collected paperwork for a lead in processing.
type DocumentStatus string

const (
	DocumentPending   DocumentStatus = "PENDING"
	DocumentCollected DocumentStatus = "COLLECTED"
	DocumentVerified  DocumentStatus = "VERIFIED"
	DocumentSubmitted DocumentStatus = "SUBMITTED"
	DocumentApproved  DocumentStatus = "APPROVED"
	DocumentRejected  DocumentStatus = "REJECTED"
)

// ValidDocumentStatus reports whether the value belongs to the document
// status vocabulary.
func ValidDocumentStatus(s DocumentStatus) bool {
	switch s {
	case DocumentPending, DocumentCollected, DocumentVerified, DocumentSubmitted, DocumentApproved, DocumentRejected:
		return true
	}
	return false
}

// ValidPriority reports whether the value belongs to the priority vocabulary.
func ValidPriority(p LeadPriority) bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// ValidSource reports whether the value belongs to the source vocabulary.
func ValidSource(s LeadSource) bool {
	switch s {
	case SourceWhatsApp, SourceInstagram, SourceWebsite, SourceWalkIn, SourceAutomation, SourceOther:
		return true
	}
	return false
}

// Lead is the central prospect record tracked through enquiry,
// registration and processing.
type Lead struct {
	ID           string       `db:"id" json:"id"`
	Name         string       `db:"name" json:"name"`
	Phone        string       `db:"phone" json:"phone"`
	Email        *string      `db:"email" json:"email,omitempty"`
	Priority     LeadPriority `db:"priority" json:"priority"`
	Status       LeadStatus   `db:"status" json:"status"`
	Program      *string      `db:"program" json:"program,omitempty"`
	Location     *string      `db:"location" json:"location,omitempty"`
	Remarks      *string      `db:"remarks" json:"remarks,omitempty"`
	Source       LeadSource   `db:"source" json:"source"`
	CustomSource *string      `db:"custom_source" json:"custom_source,omitempty"`

	ProcessingStatus     ProcessingStatus `db:"processing_status" json:"processing_status"`
	ProcessingExecutive  *string          `db:"processing_executive" json:"processing_executive,omitempty"`
	ProcessingStatusDate time.Time        `db:"processing_status_date" json:"processing_status_date"`
	ProcessingNotes      *string          `db:"processing_notes" json:"processing_notes,omitempty"`

	DocumentStatus    DocumentStatus `db:"document_status" json:"document_status"`
	DocumentsReceived *string        `db:"documents_received" json:"documents_received,omitempty"`

	AssignedTo   *string    `db:"assigned_to" json:"assigned_to,omitempty"`
	AssignedBy   *string    `db:"assigned_by" json:"assigned_by,omitempty"`
	AssignedDate *time.Time `db:"assigned_date" json:"assigned_date,omitempty"`

	SubAssignedTo   *string    `db:"sub_assigned_to" json:"sub_assigned_to,omitempty"`
	SubAssignedBy   *string    `db:"sub_assigned_by" json:"sub_assigned_by,omitempty"`
	SubAssignedDate *time.Time `db:"sub_assigned_date" json:"sub_assigned_date,omitempty"`

	RegistrationDate *time.Time `db:"registration_date" json:"registration_date,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`

	// Version supports optimistic concurrency on updates. Concurrent
	// writers lose with a CONFLICT instead of silently overwriting.
	Version int64 `db:"version" json:"version"`
}

// CurrentHandler returns the user actively working the lead: the
// sub-assignee when present, otherwise the primary assignee.
func (l *Lead) CurrentHandler() *string {
	if l.SubAssignedTo != nil {
		return l.SubAssignedTo
	}
	return l.AssignedTo
}

// IsForwardable reports whether the lead may be forwarded to processing.
func (l *Lead) IsForwardable() bool {
	return l.Status == StatusRegistered &&
		(l.ProcessingStatus == ProcessingPending || l.ProcessingStatus == ProcessingRejected)
}

// IsAcceptable reports whether a processing executive can accept the lead.
func (l *Lead) IsAcceptable() bool {
	return l.ProcessingStatus == ProcessingForwarded
}

// IsCompletable reports whether processing can be marked complete.
func (l *Lead) IsCompletable() bool {
	return l.ProcessingStatus == ProcessingActive && l.ProcessingExecutive != nil
}

// LeadFilter encapsulates allowed search parameters for listing leads.
type LeadFilter struct {
	Search           string
	Priority         string
	Status           string
	Source           string
	ProcessingStatus string
	AssignedTo       string
	SubAssignedTo    string

	// ScopeUserID restricts results to leads assigned or sub-assigned
	// to this user. Empty means no scoping (view-all actors).
	ScopeUserID string

	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// LeadDetail joins a lead with the display names of its related users.
type LeadDetail struct {
	Lead
	AssignedToName          *string `db:"assigned_to_name" json:"assigned_to_name,omitempty"`
	AssignedByName          *string `db:"assigned_by_name" json:"assigned_by_name,omitempty"`
	SubAssignedToName       *string `db:"sub_assigned_to_name" json:"sub_assigned_to_name,omitempty"`
	ProcessingExecutiveName *string `db:"processing_executive_name" json:"processing_executive_name,omitempty"`
}

// LeadStats aggregates scope-filtered lead counts for dashboards.
type LeadStats struct {
	Total        int            `json:"total"`
	CreatedToday int            `json:"created_today"`
	ByStatus     map[string]int `json:"by_status"`
	ByPriority   map[string]int `json:"by_priority"`
	ByProcessing map[string]int `json:"by_processing_status"`
}

// StatusCount is a single aggregation bucket.
type StatusCount struct {
	Key   string `db:"key"`
	Count int    `db:"count"`
}
