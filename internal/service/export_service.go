package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/models"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
	"github.com/noah-isme/lms-api/pkg/export"
)

type rosterReader interface {
	ListRoster(ctx context.Context, programID string, status models.EnrollmentStatus) ([]models.RosterEntry, error)
}

type rosterProgramReader interface {
	FindByID(ctx context.Context, tx *sqlx.Tx, id string) (*models.DegreeProgram, error)
	HasLecturer(ctx context.Context, tx *sqlx.Tx, programID, userID string) (bool, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportFormat selects the rendered roster encoding.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

// ExportResult is a rendered roster ready to stream.
type ExportResult struct {
	Filename    string
	ContentType string
	Body        []byte
	Rows        int
}

var rosterHeaders = []string{"No", "Registration No", "Name", "Email", "Status", "Requested At", "Processed At"}

// ExportService assembles program rosters and renders them as CSV or PDF.
type ExportService struct {
	roster   rosterReader
	programs rosterProgramReader
	csv      csvRenderer
	pdf      pdfRenderer
	logger   *zap.Logger
	now      func() time.Time
}

// NewExportService constructs an ExportService.
func NewExportService(roster rosterReader, programs rosterProgramReader, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{
		roster:   roster,
		programs: programs,
		csv:      csv,
		pdf:      pdf,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Roster lists the students enrolled in the program. An empty status lists active rows.
func (s *ExportService) Roster(ctx context.Context, actor *models.JWTClaims, programID string, status models.EnrollmentStatus) ([]models.RosterEntry, error) {
	if _, err := s.authorize(ctx, actor, programID); err != nil {
		return nil, err
	}
	return s.load(ctx, programID, status)
}

// ExportRoster renders the program roster in the requested format.
func (s *ExportService) ExportRoster(ctx context.Context, actor *models.JWTClaims, programID string, status models.EnrollmentStatus, format ExportFormat) (*ExportResult, error) {
	program, err := s.authorize(ctx, actor, programID)
	if err != nil {
		return nil, err
	}
	entries, err := s.load(ctx, programID, status)
	if err != nil {
		return nil, err
	}

	dataset := buildRosterDataset(entries)
	result := &ExportResult{
		Filename: fmt.Sprintf("roster_%s_%s.%s", sanitizeFilename(program.Code), s.now().Format("20060102_150405"), format),
		Rows:     len(entries),
	}
	switch format {
	case ExportFormatCSV:
		result.ContentType = "text/csv"
		result.Body, err = s.csv.Render(dataset)
	case ExportFormatPDF:
		result.ContentType = "application/pdf"
		result.Body, err = s.pdf.Render(dataset, fmt.Sprintf("%s (%s) roster", program.Title, program.Code))
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported format %s", format))
	}
	if err != nil {
		return nil, appErrors.Internal(err, "failed to render roster")
	}
	s.logger.Info("roster exported", zap.String("program_id", programID), zap.String("format", string(format)), zap.Int("rows", len(entries)))
	return result, nil
}

func (s *ExportService) authorize(ctx context.Context, actor *models.JWTClaims, programID string) (*models.DegreeProgram, error) {
	program, err := s.programs.FindByID(ctx, nil, programID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "degree program not found")
		}
		return nil, appErrors.Internal(err, "failed to load degree program")
	}
	if err := authorizeProgramManager(ctx, s.programs, actor, &program.ID); err != nil {
		return nil, err
	}
	return program, nil
}

func (s *ExportService) load(ctx context.Context, programID string, status models.EnrollmentStatus) ([]models.RosterEntry, error) {
	if status == "" {
		status = models.EnrollmentStatusActive
	}
	entries, err := s.roster.ListRoster(ctx, programID, status)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load roster")
	}
	if entries == nil {
		entries = []models.RosterEntry{}
	}
	return entries, nil
}

func buildRosterDataset(entries []models.RosterEntry) export.Dataset {
	rows := make([]map[string]string, 0, len(entries))
	for i, e := range entries {
		rows = append(rows, map[string]string{
			"No":              strconv.Itoa(i + 1),
			"Registration No": e.RegistrationNo,
			"Name":            e.Name,
			"Email":           e.Email,
			"Status":          string(e.Status),
			"Requested At":    formatExportTime(&e.RequestedAt),
			"Processed At":    formatExportTime(e.ProcessedAt),
		})
	}
	return export.Dataset{Headers: rosterHeaders, Rows: rows}
}

func formatExportTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04")
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}
