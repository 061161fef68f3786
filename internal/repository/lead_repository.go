package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/lifeplannerdev/lpcrm/internal/models"
	appErrors "github.com/lifeplannerdev/lpcrm/pkg/errors"
)

// LeadRepository manages persistence for leads and their append-only
// history tables. Mutations that touch both the lead row and a history
// row run in one transaction so an audit record can never be orphaned
// from its state change.
type LeadRepository struct {
	db *sqlx.DB
}

// NewLeadRepository constructs a LeadRepository.
func NewLeadRepository(db *sqlx.DB) *LeadRepository {
	return &LeadRepository{db: db}
}

const leadDetailColumns = `l.id, l.name, l.phone, l.email, l.priority, l.status, l.program, l.location, l.remarks,
        l.source, l.custom_source, l.processing_status, l.processing_executive, l.processing_status_date, l.processing_notes,
        l.document_status, l.documents_received, l.assigned_to, l.assigned_by, l.assigned_date,
        l.sub_assigned_to, l.sub_assigned_by, l.sub_assigned_date, l.registration_date, l.created_at, l.updated_at, l.version,
        au.full_name AS assigned_to_name, ab.full_name AS assigned_by_name,
        su.full_name AS sub_assigned_to_name, pe.full_name AS processing_executive_name`

const leadDetailJoins = `FROM leads l
        LEFT JOIN users au ON au.id = l.assigned_to
        LEFT JOIN users ab ON ab.id = l.assigned_by
        LEFT JOIN users su ON su.id = l.sub_assigned_to
        LEFT JOIN users pe ON pe.id = l.processing_executive`

// List returns leads matching the provided filters with a total count.
func (r *LeadRepository) List(ctx context.Context, filter models.LeadFilter) ([]models.LeadDetail, int, error) {
	conditions := []string{"1=1"}
	args := []interface{}{}

	addCondition := func(clause string, value interface{}) {
		conditions = append(conditions, fmt.Sprintf(clause, len(args)+1))
		args = append(args, value)
	}

	if filter.Priority != "" {
		addCondition("l.priority = $%d", filter.Priority)
	}
	if filter.Status != "" {
		addCondition("l.status = $%d", filter.Status)
	}
	if filter.Source != "" {
		addCondition("l.source = $%d", filter.Source)
	}
	if filter.ProcessingStatus != "" {
		addCondition("l.processing_status = $%d", filter.ProcessingStatus)
	}
	if filter.AssignedTo != "" {
		addCondition("l.assigned_to = $%d", filter.AssignedTo)
	}
	if filter.SubAssignedTo != "" {
		addCondition("l.sub_assigned_to = $%d", filter.SubAssignedTo)
	}
	if filter.ScopeUserID != "" {
		conditions = append(conditions, fmt.Sprintf("(l.assigned_to = $%d OR l.sub_assigned_to = $%d)", len(args)+1, len(args)+1))
		args = append(args, filter.ScopeUserID)
	}
	if filter.Search != "" {
		n := len(args) + 1
		conditions = append(conditions, fmt.Sprintf(
			"(LOWER(l.name) LIKE $%d OR l.phone LIKE $%d OR LOWER(COALESCE(l.email, '')) LIKE $%d OR LOWER(COALESCE(l.program, '')) LIKE $%d)", n, n, n, n))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	where := strings.Join(conditions, " AND ")

	allowedSorts := map[string]string{
		"created_at": "l.created_at",
		"name":       "l.name",
		"priority":   "l.priority",
		"status":     "l.status",
	}
	column, ok := allowedSorts[filter.SortBy]
	if !ok {
		column = "l.created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s WHERE %s ORDER BY %s %s LIMIT %d OFFSET %d",
		leadDetailColumns, leadDetailJoins, where, column, order, size, offset)

	var leads []models.LeadDetail
	if err := r.db.SelectContext(ctx, &leads, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list leads: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM leads l WHERE %s", where)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count leads: %w", err)
	}
	return leads, total, nil
}

// ListMyTeam returns leads primary-assigned to the manager on which a
// sub-assignment currently exists.
func (r *LeadRepository) ListMyTeam(ctx context.Context, managerID string) ([]models.LeadDetail, error) {
	query := fmt.Sprintf(`SELECT %s %s WHERE l.assigned_to = $1 AND l.sub_assigned_to IS NOT NULL ORDER BY l.sub_assigned_date DESC`,
		leadDetailColumns, leadDetailJoins)
	var leads []models.LeadDetail
	if err := r.db.SelectContext(ctx, &leads, query, managerID); err != nil {
		return nil, fmt.Errorf("list team leads: %w", err)
	}
	return leads, nil
}

// FindByID fetches a lead detail by ID.
func (r *LeadRepository) FindByID(ctx context.Context, id string) (*models.LeadDetail, error) {
	query := fmt.Sprintf("SELECT %s %s WHERE l.id = $1", leadDetailColumns, leadDetailJoins)
	var detail models.LeadDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// ExistsByPhone checks whether a lead with the phone exists, optionally
// excluding an ID.
func (r *LeadRepository) ExistsByPhone(ctx context.Context, phone string, excludeID string) (bool, error) {
	return r.existsBy(ctx, "phone", phone, excludeID)
}

// ExistsByEmail checks whether a lead with the email exists, optionally
// excluding an ID.
func (r *LeadRepository) ExistsByEmail(ctx context.Context, email string, excludeID string) (bool, error) {
	return r.existsBy(ctx, "email", email, excludeID)
}

func (r *LeadRepository) existsBy(ctx context.Context, column, value, excludeID string) (bool, error) {
	query := fmt.Sprintf("SELECT 1 FROM leads WHERE %s = $1", column)
	args := []interface{}{value}
	if excludeID != "" {
		query += " AND id <> $2"
		args = append(args, excludeID)
	}
	var exists int
	if err := r.db.GetContext(ctx, &exists, query+" LIMIT 1", args...); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check lead %s: %w", column, err)
	}
	return true, nil
}

const leadInsertQuery = `INSERT INTO leads (id, name, phone, email, priority, status, program, location, remarks,
        source, custom_source, processing_status, processing_executive, processing_status_date, processing_notes,
        document_status, documents_received, assigned_to, assigned_by, assigned_date,
        sub_assigned_to, sub_assigned_by, sub_assigned_date, registration_date, created_at, updated_at, version)
        VALUES (:id, :name, :phone, :email, :priority, :status, :program, :location, :remarks,
        :source, :custom_source, :processing_status, :processing_executive, :processing_status_date, :processing_notes,
        :document_status, :documents_received, :assigned_to, :assigned_by, :assigned_date,
        :sub_assigned_to, :sub_assigned_by, :sub_assigned_date, :registration_date, :created_at, :updated_at, :version)`

// Create inserts a new lead, together with the initial assignment
// history entry when the lead arrives pre-assigned.
func (r *LeadRepository) Create(ctx context.Context, lead *models.Lead, initial *models.LeadAssignment) error {
	if lead.ID == "" {
		lead.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if lead.CreatedAt.IsZero() {
		lead.CreatedAt = now
	}
	lead.UpdatedAt = now
	if lead.ProcessingStatusDate.IsZero() {
		lead.ProcessingStatusDate = now
	}
	lead.Version = 1

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create lead: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.NamedExecContext(ctx, leadInsertQuery, lead); err != nil {
		return fmt.Errorf("create lead: %w", err)
	}

	if initial != nil {
		initial.LeadID = lead.ID
		if err = insertAssignment(ctx, tx, initial); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create lead: %w", err)
	}
	return nil
}

const leadUpdateQuery = `UPDATE leads SET name = :name, phone = :phone, email = :email, priority = :priority,
        status = :status, program = :program, location = :location, remarks = :remarks,
        source = :source, custom_source = :custom_source,
        processing_status = :processing_status, processing_executive = :processing_executive,
        processing_status_date = :processing_status_date, processing_notes = :processing_notes,
        document_status = :document_status, documents_received = :documents_received,
        assigned_to = :assigned_to, assigned_by = :assigned_by, assigned_date = :assigned_date,
        sub_assigned_to = :sub_assigned_to, sub_assigned_by = :sub_assigned_by, sub_assigned_date = :sub_assigned_date,
        registration_date = :registration_date, updated_at = :updated_at, version = version + 1
        WHERE id = :id AND version = :version`

func updateLead(ctx context.Context, tx *sqlx.Tx, lead *models.Lead) error {
	lead.UpdatedAt = time.Now().UTC()
	res, err := tx.NamedExecContext(ctx, leadUpdateQuery, lead)
	if err != nil {
		return fmt.Errorf("update lead: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update lead affected rows: %w", err)
	}
	if affected == 0 {
		return appErrors.Clone(appErrors.ErrConflict, "lead was modified concurrently")
	}
	lead.Version++
	return nil
}

// Update persists lead field changes, guarded by the version the caller
// loaded. A stale version surfaces as a CONFLICT.
func (r *LeadRepository) Update(ctx context.Context, lead *models.Lead) error {
	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		return updateLead(ctx, tx, lead)
	})
}

// UpdateWithRemark persists lead changes and the remark audit row atomically.
func (r *LeadRepository) UpdateWithRemark(ctx context.Context, lead *models.Lead, remark *models.RemarkHistory) error {
	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := updateLead(ctx, tx, lead); err != nil {
			return err
		}
		return insertRemark(ctx, tx, remark)
	})
}

// Assign persists assignment field changes and the assignment history
// entry atomically.
func (r *LeadRepository) Assign(ctx context.Context, lead *models.Lead, entry *models.LeadAssignment) error {
	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := updateLead(ctx, tx, lead); err != nil {
			return err
		}
		return insertAssignment(ctx, tx, entry)
	})
}

// UpdateProcessing persists processing field changes plus the processing
// history entry. entry may be nil for transitions that keep no timeline
// row (forwarding).
func (r *LeadRepository) UpdateProcessing(ctx context.Context, lead *models.Lead, entry *models.ProcessingUpdate) error {
	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := updateLead(ctx, tx, lead); err != nil {
			return err
		}
		if entry == nil {
			return nil
		}
		return insertProcessingUpdate(ctx, tx, entry)
	})
}

// Delete removes a lead. History rows cascade at the schema level.
func (r *LeadRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM leads WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete lead: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete lead affected rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListAssignments returns the assignment history, newest first.
func (r *LeadRepository) ListAssignments(ctx context.Context, leadID string) ([]models.LeadAssignmentDetail, error) {
	const query = `SELECT a.id, a.lead_id, a.assigned_to, a.assigned_by, a.assignment_type, a.notes, a.timestamp,
        au.full_name AS assigned_to_name, ab.full_name AS assigned_by_name
        FROM lead_assignments a
        LEFT JOIN users au ON au.id = a.assigned_to
        LEFT JOIN users ab ON ab.id = a.assigned_by
        WHERE a.lead_id = $1 ORDER BY a.timestamp DESC`
	var entries []models.LeadAssignmentDetail
	if err := r.db.SelectContext(ctx, &entries, query, leadID); err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	return entries, nil
}

// ListProcessingUpdates returns the processing timeline, newest first.
func (r *LeadRepository) ListProcessingUpdates(ctx context.Context, leadID string) ([]models.ProcessingUpdateDetail, error) {
	const query = `SELECT p.id, p.lead_id, p.status, p.changed_by, p.notes, p.timestamp,
        u.full_name AS changed_by_name
        FROM processing_updates p
        LEFT JOIN users u ON u.id = p.changed_by
        WHERE p.lead_id = $1 ORDER BY p.timestamp DESC`
	var entries []models.ProcessingUpdateDetail
	if err := r.db.SelectContext(ctx, &entries, query, leadID); err != nil {
		return nil, fmt.Errorf("list processing updates: %w", err)
	}
	return entries, nil
}

// ListRemarkHistory returns remark edits, newest first.
func (r *LeadRepository) ListRemarkHistory(ctx context.Context, leadID string) ([]models.RemarkHistory, error) {
	const query = `SELECT id, lead_id, previous_remarks, new_remarks, changed_by, changed_at
        FROM remark_history WHERE lead_id = $1 ORDER BY changed_at DESC`
	var entries []models.RemarkHistory
	if err := r.db.SelectContext(ctx, &entries, query, leadID); err != nil {
		return nil, fmt.Errorf("list remark history: %w", err)
	}
	return entries, nil
}

// Stats aggregates lead counts, optionally scoped to one user's
// assignments.
func (r *LeadRepository) Stats(ctx context.Context, scopeUserID string) (*models.LeadStats, error) {
	scope := ""
	args := []interface{}{}
	if scopeUserID != "" {
		scope = " WHERE (assigned_to = $1 OR sub_assigned_to = $1)"
		args = append(args, scopeUserID)
	}

	stats := &models.LeadStats{
		ByStatus:     map[string]int{},
		ByPriority:   map[string]int{},
		ByProcessing: map[string]int{},
	}

	if err := r.db.GetContext(ctx, &stats.Total, "SELECT COUNT(*) FROM leads"+scope, args...); err != nil {
		return nil, fmt.Errorf("count leads: %w", err)
	}

	todayQuery := "SELECT COUNT(*) FROM leads" + scope
	if scope == "" {
		todayQuery += " WHERE created_at >= CURRENT_DATE"
	} else {
		todayQuery += " AND created_at >= CURRENT_DATE"
	}
	if err := r.db.GetContext(ctx, &stats.CreatedToday, todayQuery, args...); err != nil {
		return nil, fmt.Errorf("count today leads: %w", err)
	}

	for column, dest := range map[string]map[string]int{
		"status":            stats.ByStatus,
		"priority":          stats.ByPriority,
		"processing_status": stats.ByProcessing,
	} {
		query := fmt.Sprintf("SELECT %s AS key, COUNT(*) AS count FROM leads%s GROUP BY %s", column, scope, column)
		var buckets []models.StatusCount
		if err := r.db.SelectContext(ctx, &buckets, query, args...); err != nil {
			return nil, fmt.Errorf("aggregate leads by %s: %w", column, err)
		}
		for _, bucket := range buckets {
			dest[bucket.Key] = bucket.Count
		}
	}

	return stats, nil
}

func (r *LeadRepository) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func insertAssignment(ctx context.Context, tx *sqlx.Tx, entry *models.LeadAssignment) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	const query = `INSERT INTO lead_assignments (id, lead_id, assigned_to, assigned_by, assignment_type, notes, timestamp)
        VALUES (:id, :lead_id, :assigned_to, :assigned_by, :assignment_type, :notes, :timestamp)`
	if _, err := tx.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("insert assignment history: %w", err)
	}
	return nil
}

func insertProcessingUpdate(ctx context.Context, tx *sqlx.Tx, entry *models.ProcessingUpdate) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	const query = `INSERT INTO processing_updates (id, lead_id, status, changed_by, notes, timestamp)
        VALUES (:id, :lead_id, :status, :changed_by, :notes, :timestamp)`
	if _, err := tx.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("insert processing update: %w", err)
	}
	return nil
}

func insertRemark(ctx context.Context, tx *sqlx.Tx, entry *models.RemarkHistory) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.ChangedAt.IsZero() {
		entry.ChangedAt = time.Now().UTC()
	}
	const query = `INSERT INTO remark_history (id, lead_id, previous_remarks, new_remarks, changed_by, changed_at)
        VALUES (:id, :lead_id, :previous_remarks, :new_remarks, :changed_by, :changed_at)`
	if _, err := tx.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("insert remark history: %w", err)
	}
	return nil
}
