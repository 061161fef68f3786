package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lifeplannerdev/lpcrm/internal/models"
	appErrors "github.com/lifeplannerdev/lpcrm/pkg/errors"
)

func newLeadRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func sampleLead() *models.Lead {
	return &models.Lead{
		ID:                   "lead-1",
		Name:                 "Akhil Nair",
		Phone:                "9876543210",
		Priority:             models.PriorityMedium,
		Status:               models.StatusEnquiry,
		Source:               models.SourceWebsite,
		ProcessingStatus:     models.ProcessingPending,
		ProcessingStatusDate: time.Now().UTC(),
		DocumentStatus:       models.DocumentPending,
		CreatedAt:            time.Now().UTC(),
		Version:              2,
	}
}

func TestLeadRepositoryListAppliesScope(t *testing.T) {
	db, mock, cleanup := newLeadRepoMock(t)
	defer cleanup()
	repo := NewLeadRepository(db)

	mock.ExpectQuery(`SELECT l\.id, .+ FROM leads l .+ WHERE 1=1 AND \(l\.assigned_to = \$1 OR l\.sub_assigned_to = \$1\) ORDER BY l\.created_at DESC`).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "phone"}).AddRow("lead-1", "Akhil Nair", "9876543210"))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM leads l WHERE 1=1 AND \(l\.assigned_to = \$1 OR l\.sub_assigned_to = \$1\)`).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	leads, total, err := repo.List(context.Background(), models.LeadFilter{ScopeUserID: "user-1"})
	require.NoError(t, err)
	assert.Len(t, leads, 1)
	assert.Equal(t, 1, total)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLeadRepositoryUpdateVersionConflict(t *testing.T) {
	db, mock, cleanup := newLeadRepoMock(t)
	defer cleanup()
	repo := NewLeadRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE leads SET .+ WHERE id = \? AND version = \?`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.Update(context.Background(), sampleLead())
	require.Error(t, err)

	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLeadRepositoryUpdateBumpsVersion(t *testing.T) {
	db, mock, cleanup := newLeadRepoMock(t)
	defer cleanup()
	repo := NewLeadRepository(db)
	lead := sampleLead()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE leads SET .+ WHERE id = \? AND version = \?`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Update(context.Background(), lead))
	assert.Equal(t, int64(3), lead.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLeadRepositoryAssignWritesHistoryAtomically(t *testing.T) {
	db, mock, cleanup := newLeadRepoMock(t)
	defer cleanup()
	repo := NewLeadRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE leads SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO lead_assignments`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	entry := &models.LeadAssignment{LeadID: "lead-1", AssignmentType: models.AssignmentPrimary}
	require.NoError(t, repo.Assign(context.Background(), sampleLead(), entry))
	assert.NotEmpty(t, entry.ID)
	assert.False(t, entry.Timestamp.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLeadRepositoryUpdateProcessingWithoutEntry(t *testing.T) {
	db, mock, cleanup := newLeadRepoMock(t)
	defer cleanup()
	repo := NewLeadRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE leads SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.UpdateProcessing(context.Background(), sampleLead(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLeadRepositoryDeleteMissing(t *testing.T) {
	db, mock, cleanup := newLeadRepoMock(t)
	defer cleanup()
	repo := NewLeadRepository(db)

	mock.ExpectExec(`DELETE FROM leads WHERE id = \$1`).
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Delete(context.Background(), "missing")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLeadRepositoryExistsByPhone(t *testing.T) {
	db, mock, cleanup := newLeadRepoMock(t)
	defer cleanup()
	repo := NewLeadRepository(db)

	mock.ExpectQuery(`SELECT 1 FROM leads WHERE phone = \$1 AND id <> \$2 LIMIT 1`).
		WithArgs("9876543210", "lead-1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	exists, err := repo.ExistsByPhone(context.Background(), "9876543210", "lead-1")
	require.NoError(t, err)
	assert.True(t, exists)
	require.NoError(t, mock.ExpectationsWereMet())
}
