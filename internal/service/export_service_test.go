package service

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evidencije/coursework-api/internal/models"
	"github.com/evidencije/coursework-api/internal/policy"
	appErrors "github.com/evidencije/coursework-api/pkg/errors"
)

type mockExportLister struct {
	taught []models.SubmissionDetail
	all    []models.SubmissionDetail
}

func (m *mockExportLister) ListForProfessor(ctx context.Context, professorID string) ([]models.SubmissionDetail, error) {
	return m.taught, nil
}

func (m *mockExportLister) ListAll(ctx context.Context) ([]models.SubmissionDetail, error) {
	return m.all, nil
}

func exportFixtureRows() []models.SubmissionDetail {
	nine := 9.0
	return []models.SubmissionDetail{
		{
			Submission:      models.Submission{ID: "pred-1", Status: models.SubmissionGraded, Grade: &nine, SubmittedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)},
			StudentName:     "Đorđe Đorđević",
			StudentEmail:    "djordje@fakultet.rs",
			AssignmentTitle: "Domaći 1",
			AssignmentDueAt: time.Date(2025, 3, 7, 23, 59, 0, 0, time.UTC),
			SubjectName:     "Programiranje 1",
			SubjectCode:     "P1",
		},
	}
}

func TestExportCSVStartsWithBOM(t *testing.T) {
	svc := NewExportService(&mockExportLister{all: exportFixtureRows()}, nil)

	file, err := svc.Submissions(context.Background(), policy.Principal{ID: "adm-1", Role: models.RoleAdmin}, "csv")
	require.NoError(t, err)

	assert.True(t, bytes.HasPrefix(file.Content, []byte{0xEF, 0xBB, 0xBF}))
	assert.Contains(t, string(file.Content), "Đorđe Đorđević")
	assert.Contains(t, string(file.Content), "Programiranje 1 (P1)")
	assert.Equal(t, "text/csv; charset=utf-8", file.ContentType)
	assert.Contains(t, file.FileName, ".csv")
}

func TestExportDefaultsToCSV(t *testing.T) {
	svc := NewExportService(&mockExportLister{taught: exportFixtureRows()}, nil)

	file, err := svc.Submissions(context.Background(), policy.Principal{ID: "prof-1", Role: models.RoleProfessor}, "")
	require.NoError(t, err)
	assert.Contains(t, file.FileName, ".csv")
}

func TestExportPDF(t *testing.T) {
	svc := NewExportService(&mockExportLister{all: exportFixtureRows()}, nil)

	file, err := svc.Submissions(context.Background(), policy.Principal{ID: "adm-1", Role: models.RoleAdmin}, "pdf")
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", file.ContentType)
	assert.True(t, bytes.HasPrefix(file.Content, []byte("%PDF")))
}

func TestExportForbiddenForStudents(t *testing.T) {
	svc := NewExportService(&mockExportLister{}, nil)

	_, err := svc.Submissions(context.Background(), policy.Principal{ID: "stu-1", Role: models.RoleStudent}, "csv")
	assert.Equal(t, appErrors.ErrForbidden.Code, errCode(t, err))
}

func TestExportUnknownFormatRejected(t *testing.T) {
	svc := NewExportService(&mockExportLister{}, nil)

	_, err := svc.Submissions(context.Background(), policy.Principal{ID: "adm-1", Role: models.RoleAdmin}, "xlsx")
	assert.Equal(t, appErrors.ErrValidation.Code, errCode(t, err))
}
