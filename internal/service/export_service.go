package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lifeplannerdev/lpcrm/internal/models"
	"github.com/lifeplannerdev/lpcrm/internal/roles"
	"github.com/lifeplannerdev/lpcrm/pkg/export"
	appErrors "github.com/lifeplannerdev/lpcrm/pkg/errors"
)

type exportLeadRepository interface {
	List(ctx context.Context, filter models.LeadFilter) ([]models.LeadDetail, int, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportFormat selects the rendered file type.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

// ExportResult is a rendered export ready to stream to the caller.
type ExportResult struct {
	Filename    string
	ContentType string
	Payload     []byte
}

// ExportService renders scope-filtered lead listings as downloadable
// CSV or PDF files.
type ExportService struct {
	repo      exportLeadRepository
	hierarchy *roles.Hierarchy
	csv       csvRenderer
	pdf       pdfRenderer
	logger    *zap.Logger
}

// NewExportService constructs an ExportService.
func NewExportService(repo exportLeadRepository, hierarchy *roles.Hierarchy, csv csvRenderer, pdf pdfRenderer, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{repo: repo, hierarchy: hierarchy, csv: csv, pdf: pdf, logger: logger}
}

// ExportLeads renders the leads visible to the actor, honouring the same
// filters as the list endpoint.
func (s *ExportService) ExportLeads(ctx context.Context, actor Actor, filter models.LeadFilter, format ExportFormat) (*ExportResult, error) {
	if !s.hierarchy.CanViewAllLeads(actor.Role) {
		filter.ScopeUserID = actor.ID
	}
	filter.Page = 1
	filter.PageSize = 100

	var leads []models.LeadDetail
	for {
		batch, total, err := s.repo.List(ctx, filter)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to collect leads for export")
		}
		leads = append(leads, batch...)
		if len(leads) >= total || len(batch) == 0 {
			break
		}
		filter.Page++
	}

	dataset := buildLeadDataset(leads)
	stamp := time.Now().UTC().Format("20060102-150405")

	switch format {
	case ExportFormatCSV:
		payload, err := s.csv.Render(dataset)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv export")
		}
		return &ExportResult{
			Filename:    fmt.Sprintf("leads-%s.csv", stamp),
			ContentType: "text/csv",
			Payload:     payload,
		}, nil
	case ExportFormatPDF:
		payload, err := s.pdf.Render(dataset, "Lead Report")
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf export")
		}
		return &ExportResult{
			Filename:    fmt.Sprintf("leads-%s.pdf", stamp),
			ContentType: "application/pdf",
			Payload:     payload,
		}, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}
}

var leadExportHeaders = []string{"Name", "Phone", "Email", "Priority", "Status", "Source", "Program", "Location", "Assigned To", "Sub Assigned To", "Processing Status", "Created At"}

func buildLeadDataset(leads []models.LeadDetail) export.Dataset {
	rows := make([]map[string]string, 0, len(leads))
	for _, lead := range leads {
		rows = append(rows, map[string]string{
			"Name":              lead.Name,
			"Phone":             lead.Phone,
			"Email":             deref(lead.Email),
			"Priority":          string(lead.Priority),
			"Status":            string(lead.Status),
			"Source":            sourceLabel(lead),
			"Program":           deref(lead.Program),
			"Location":          deref(lead.Location),
			"Assigned To":       deref(lead.AssignedToName),
			"Sub Assigned To":   deref(lead.SubAssignedToName),
			"Processing Status": string(lead.ProcessingStatus),
			"Created At":        lead.CreatedAt.Format(time.RFC3339),
		})
	}
	return export.Dataset{Headers: leadExportHeaders, Rows: rows}
}

func sourceLabel(lead models.LeadDetail) string {
	if lead.Source == models.SourceOther && lead.CustomSource != nil && strings.TrimSpace(*lead.CustomSource) != "" {
		return *lead.CustomSource
	}
	return string(lead.Source)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
