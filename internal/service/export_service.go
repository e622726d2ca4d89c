package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/campusreg/enroll-api/internal/models"
	appErrors "github.com/campusreg/enroll-api/pkg/errors"
	"github.com/campusreg/enroll-api/pkg/export"
)

// RosterFormat selects the rendered export format.
type RosterFormat string

const (
	RosterFormatCSV RosterFormat = "csv"
	RosterFormatPDF RosterFormat = "pdf"
)

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

type rosterReader interface {
	ListByInstance(ctx context.Context, instanceID string, page, pageSize int) ([]models.RosterEntry, int, error)
}

type instanceDetailReader interface {
	FindDetailByID(ctx context.Context, id string) (*models.CourseInstanceDetail, error)
}

type exportArchive interface {
	Save(filename string, data []byte) (string, error)
	Read(filename string) ([]byte, error)
}

type downloadSigner interface {
	Sign(filename string) (string, time.Time, error)
	Verify(token string) (string, error)
}

// RosterExport is a rendered roster document ready to stream. When the
// export archive is configured DownloadToken grants re-download access
// until DownloadExpiresAt.
type RosterExport struct {
	Filename          string
	ContentType       string
	Payload           []byte
	DownloadToken     string
	DownloadExpiresAt time.Time
}

// ExportService renders section rosters into downloadable documents.
type ExportService struct {
	enrollments rosterReader
	instances   instanceDetailReader
	csv         csvRenderer
	pdf         pdfRenderer
	archive     exportArchive
	signer      downloadSigner
	maxRows     int
	logger      *zap.Logger
}

// NewExportService constructs an ExportService.
func NewExportService(enrollments rosterReader, instances instanceDetailReader, csv csvRenderer, pdf pdfRenderer, logger *zap.Logger) *ExportService {
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{
		enrollments: enrollments,
		instances:   instances,
		csv:         csv,
		pdf:         pdf,
		logger:      logger,
	}
}

// SetArchive enables on-disk archival of rendered rosters together with
// signed re-download tokens.
func (s *ExportService) SetArchive(archive exportArchive, signer downloadSigner) {
	s.archive = archive
	s.signer = signer
}

// SetRowLimit caps how many roster rows one export may contain. Zero
// means unlimited.
func (s *ExportService) SetRowLimit(n int) {
	s.maxRows = n
}

// rosterPageSize caps each page fetched while draining the full roster.
const rosterPageSize = 100

// GenerateRoster renders the complete active roster of a course instance.
func (s *ExportService) GenerateRoster(ctx context.Context, instanceID string, format RosterFormat) (*RosterExport, error) {
	detail, err := s.instances.FindDetailByID(ctx, instanceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course instance not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course instance")
	}

	roster, err := s.fetchFullRoster(ctx, instanceID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load roster")
	}

	dataset := buildRosterDataset(roster)
	title := fmt.Sprintf("Roster %s %s", detail.CourseCode, detail.AcademicYearName)

	var payload []byte
	var contentType, ext string
	switch format {
	case RosterFormatCSV:
		payload, err = s.csv.Render(dataset)
		contentType, ext = "text/csv", "csv"
	case RosterFormatPDF:
		payload, err = s.pdf.Render(dataset, title)
		contentType, ext = "application/pdf", "pdf"
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render roster")
	}

	filename := fmt.Sprintf("roster_%s_%s.%s",
		sanitizeFilename(detail.CourseCode),
		time.Now().UTC().Format("20060102_150405"),
		ext,
	)

	result := &RosterExport{Filename: filename, ContentType: contentType, Payload: payload}
	if s.archive != nil && s.signer != nil {
		if _, err := s.archive.Save(filename, payload); err != nil {
			s.logger.Warn("failed to archive roster export", zap.Error(err))
		} else if token, expiresAt, err := s.signer.Sign(filename); err != nil {
			s.logger.Warn("failed to sign roster download token", zap.Error(err))
		} else {
			result.DownloadToken = token
			result.DownloadExpiresAt = expiresAt
		}
	}

	s.logger.Info("roster exported",
		zap.String("course_instance_id", instanceID),
		zap.String("format", string(format)),
		zap.Int("students", len(roster)),
	)
	return result, nil
}

// FetchArchived resolves a signed download token to the archived export.
func (s *ExportService) FetchArchived(token string) (*RosterExport, error) {
	if s.archive == nil || s.signer == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "export archive is not enabled")
	}
	filename, err := s.signer.Verify(token)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid download token")
	}
	payload, err := s.archive.Read(filename)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "export no longer available")
	}
	contentType := "text/csv"
	if strings.HasSuffix(filename, ".pdf") {
		contentType = "application/pdf"
	}
	return &RosterExport{Filename: filename, ContentType: contentType, Payload: payload}, nil
}

func (s *ExportService) fetchFullRoster(ctx context.Context, instanceID string) ([]models.RosterEntry, error) {
	var all []models.RosterEntry
	for page := 1; ; page++ {
		entries, total, err := s.enrollments.ListByInstance(ctx, instanceID, page, rosterPageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, entries...)
		if s.maxRows > 0 && len(all) >= s.maxRows {
			return all[:s.maxRows], nil
		}
		if len(all) >= total || len(entries) == 0 {
			return all, nil
		}
	}
}

func buildRosterDataset(roster []models.RosterEntry) export.Dataset {
	rows := make([]map[string]string, 0, len(roster))
	for i, entry := range roster {
		rows = append(rows, map[string]string{
			"No":          fmt.Sprintf("%d", i+1),
			"NIM":         entry.StudentNIM,
			"Name":        entry.StudentName,
			"Enrolled At": entry.EnrolledAt.UTC().Format(time.RFC3339),
		})
	}
	return export.Dataset{
		Headers: []string{"No", "NIM", "Name", "Enrolled At"},
		Rows:    rows,
	}
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		result = result[:100]
	}
	return result
}
