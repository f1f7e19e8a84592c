package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/evidencije/coursework-api/internal/models"
	"github.com/evidencije/coursework-api/internal/policy"
	appErrors "github.com/evidencije/coursework-api/pkg/errors"
	"github.com/evidencije/coursework-api/pkg/export"
)

type submissionLister interface {
	ListForProfessor(ctx context.Context, professorID string) ([]models.SubmissionDetail, error)
	ListAll(ctx context.Context) ([]models.SubmissionDetail, error)
}

// ExportFile is a rendered export ready to stream to the client.
type ExportFile struct {
	FileName    string
	ContentType string
	Content     []byte
}

// ExportService renders the submission register as CSV or PDF for staff.
// The CSV side leads with a UTF-8 BOM so diacritics in student names open
// correctly in spreadsheet tools.
type ExportService struct {
	submissions submissionLister
	csv         *export.CSVExporter
	pdf         *export.PDFExporter
	logger      *zap.Logger
	now         func() time.Time
}

func NewExportService(submissions submissionLister, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{
		submissions: submissions,
		csv:         export.NewCSVExporter(),
		pdf:         export.NewPDFExporter(),
		logger:      logger,
		now:         time.Now,
	}
}

var submissionExportHeaders = []string{
	"Predmet", "Zadatak", "Student", "Email", "Status", "Ocena", "Predato", "Rok",
}

// Submissions exports the acting professor's taught submissions, or all of
// them for an admin. Students are refused.
func (s *ExportService) Submissions(ctx context.Context, actor policy.Principal, format string) (*ExportFile, error) {
	var (
		details []models.SubmissionDetail
		err     error
	)
	switch actor.Role {
	case models.RoleAdmin:
		details, err = s.submissions.ListAll(ctx)
	case models.RoleProfessor:
		details, err = s.submissions.ListForProfessor(ctx, actor.ID)
	default:
		return nil, appErrors.Clone(appErrors.ErrForbidden, "students cannot export submissions")
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list submissions")
	}

	dataset := export.Dataset{Headers: submissionExportHeaders, Rows: make([]map[string]string, 0, len(details))}
	for _, d := range details {
		grade := ""
		if d.Grade != nil {
			grade = strconv.FormatFloat(*d.Grade, 'f', -1, 64)
		}
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Predmet": fmt.Sprintf("%s (%s)", d.SubjectName, d.SubjectCode),
			"Zadatak": d.AssignmentTitle,
			"Student": d.StudentName,
			"Email":   d.StudentEmail,
			"Status":  string(d.Status),
			"Ocena":   grade,
			"Predato": d.SubmittedAt.Format("2006-01-02 15:04"),
			"Rok":     d.AssignmentDueAt.Format("2006-01-02 15:04"),
		})
	}

	stamp := s.now().UTC().Format("20060102_150405")
	switch format {
	case "", "csv":
		content, err := s.csv.Render(dataset)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv export")
		}
		return &ExportFile{
			FileName:    fmt.Sprintf("predaje_%s.csv", stamp),
			ContentType: "text/csv; charset=utf-8",
			Content:     content,
		}, nil
	case "pdf":
		content, err := s.pdf.Render(dataset, "Pregled predaja")
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf export")
		}
		return &ExportFile{
			FileName:    fmt.Sprintf("predaje_%s.pdf", stamp),
			ContentType: "application/pdf",
			Content:     content,
		}, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported export format")
	}
}
