package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evidencije/coursework-api/internal/models"
	"github.com/evidencije/coursework-api/internal/policy"
	appErrors "github.com/evidencije/coursework-api/pkg/errors"
)

type mockAssignmentRepo struct {
	assignments map[string]*models.Assignment
	nextID      int
}

func (m *mockAssignmentRepo) FindByID(ctx context.Context, id string) (*models.Assignment, error) {
	if a, ok := m.assignments[id]; ok {
		copied := *a
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockAssignmentRepo) FindDetailByID(ctx context.Context, id string) (*models.AssignmentDetail, error) {
	a, ok := m.assignments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &models.AssignmentDetail{Assignment: *a, SubjectName: "Programiranje 1", SubjectCode: "P1"}, nil
}

func (m *mockAssignmentRepo) ListForStudent(ctx context.Context, studentID string) ([]models.AssignmentDetail, error) {
	return m.listAll(), nil
}

func (m *mockAssignmentRepo) ListForProfessor(ctx context.Context, professorID string) ([]models.AssignmentDetail, error) {
	return m.listAll(), nil
}

func (m *mockAssignmentRepo) ListAll(ctx context.Context) ([]models.AssignmentDetail, error) {
	return m.listAll(), nil
}

func (m *mockAssignmentRepo) listAll() []models.AssignmentDetail {
	var out []models.AssignmentDetail
	for _, a := range m.assignments {
		out = append(out, models.AssignmentDetail{Assignment: *a})
	}
	return out
}

func (m *mockAssignmentRepo) Create(ctx context.Context, assignment *models.Assignment) error {
	if m.assignments == nil {
		m.assignments = make(map[string]*models.Assignment)
	}
	m.nextID++
	assignment.ID = "asg-new"
	copied := *assignment
	m.assignments[assignment.ID] = &copied
	return nil
}

func (m *mockAssignmentRepo) Update(ctx context.Context, assignment *models.Assignment) error {
	copied := *assignment
	m.assignments[assignment.ID] = &copied
	return nil
}

func (m *mockAssignmentRepo) Delete(ctx context.Context, id string) error {
	delete(m.assignments, id)
	return nil
}

func newAssignmentFixture() (*AssignmentService, *mockAssignmentRepo) {
	repo := &mockAssignmentRepo{assignments: map[string]*models.Assignment{
		"asg-1": {ID: "asg-1", SubjectID: "sub-1", ProfessorID: "prof-1", Title: "Domaći 1", DueAt: time.Now().Add(48 * time.Hour)},
	}}
	subjects := &mockSubjectRelations{relations: map[string]policy.SubjectRelation{"sub-1": submissionTestRelation}}
	return NewAssignmentService(repo, subjects, nil, nil), repo
}

func TestAssignmentCreateRequiresTeaching(t *testing.T) {
	svc, repo := newAssignmentFixture()
	req := CreateAssignmentRequest{SubjectID: "sub-1", Title: "Domaći 2", DueAt: time.Now().Add(96 * time.Hour)}

	_, err := svc.Create(context.Background(), policy.Principal{ID: "prof-99", Role: models.RoleProfessor}, req)
	assert.Equal(t, appErrors.ErrNotTeaching.Code, errCode(t, err))

	_, err = svc.Create(context.Background(), policy.Principal{ID: "stu-1", Role: models.RoleStudent}, req)
	assert.Equal(t, appErrors.ErrForbidden.Code, errCode(t, err))

	detail, err := svc.Create(context.Background(), policy.Principal{ID: "prof-2", Role: models.RoleProfessor}, req)
	require.NoError(t, err)
	assert.Equal(t, "prof-2", detail.ProfessorID)
	assert.Contains(t, repo.assignments, detail.ID)
}

func TestAssignmentCreateUnknownSubjectNotFound(t *testing.T) {
	svc, _ := newAssignmentFixture()

	_, err := svc.Create(context.Background(), policy.Principal{ID: "prof-1", Role: models.RoleProfessor}, CreateAssignmentRequest{
		SubjectID: "sub-missing", Title: "Domaći", DueAt: time.Now(),
	})
	assert.Equal(t, appErrors.ErrNotFound.Code, errCode(t, err))
}

// Any teaching professor may change an assignment, not just its author.
func TestAssignmentUpdateOpenToCoTeachers(t *testing.T) {
	svc, repo := newAssignmentFixture()
	title := "Domaći 1 (izmena)"

	detail, err := svc.Update(context.Background(), policy.Principal{ID: "prof-2", Role: models.RoleProfessor}, "asg-1", UpdateAssignmentRequest{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, title, detail.Title)
	assert.Equal(t, title, repo.assignments["asg-1"].Title)
}

func TestAssignmentDeleteScopedByTeaching(t *testing.T) {
	svc, repo := newAssignmentFixture()

	err := svc.Delete(context.Background(), policy.Principal{ID: "prof-99", Role: models.RoleProfessor}, "asg-1")
	assert.Equal(t, appErrors.ErrNotTeaching.Code, errCode(t, err))

	require.NoError(t, svc.Delete(context.Background(), policy.Principal{ID: "prof-1", Role: models.RoleProfessor}, "asg-1"))
	assert.Empty(t, repo.assignments)
}

func TestAssignmentGetVisibility(t *testing.T) {
	svc, _ := newAssignmentFixture()

	detail, err := svc.Get(context.Background(), policy.Principal{ID: "stu-1", Role: models.RoleStudent}, "asg-1")
	require.NoError(t, err)
	assert.Equal(t, "Domaći 1", detail.Title)

	_, err = svc.Get(context.Background(), policy.Principal{ID: "stu-99", Role: models.RoleStudent}, "asg-1")
	assert.Equal(t, appErrors.ErrNotEnrolled.Code, errCode(t, err))
}
