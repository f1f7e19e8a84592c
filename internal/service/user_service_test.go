package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/evidencije/coursework-api/internal/models"
	"github.com/evidencije/coursework-api/internal/policy"
	appErrors "github.com/evidencije/coursework-api/pkg/errors"
)

type mockUserRepo struct {
	users map[string]*models.User
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := m.users[id]; ok {
		copied := *u
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	for _, u := range m.users {
		if u.Email == email {
			copied := *u
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockUserRepo) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	var out []models.User
	for _, u := range m.users {
		out = append(out, *u)
	}
	return out, len(out), nil
}

func (m *mockUserRepo) Create(ctx context.Context, user *models.User) error {
	if m.users == nil {
		m.users = make(map[string]*models.User)
	}
	if user.ID == "" {
		user.ID = "usr-" + user.Email
	}
	copied := *user
	m.users[user.ID] = &copied
	return nil
}

func (m *mockUserRepo) Update(ctx context.Context, user *models.User) error {
	if _, ok := m.users[user.ID]; !ok {
		return sql.ErrNoRows
	}
	copied := *user
	m.users[user.ID] = &copied
	return nil
}

func (m *mockUserRepo) Delete(ctx context.Context, id string) error {
	if _, ok := m.users[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.users, id)
	return nil
}

type mockGradedChecker struct {
	graded map[string]bool
}

func (m *mockGradedChecker) HasGradedForStudent(ctx context.Context, studentID string) (bool, error) {
	return m.graded[studentID], nil
}

var adminPrincipal = policy.Principal{ID: "adm-1", Role: models.RoleAdmin}

func newUserFixture() (*UserService, *mockUserRepo, *mockGradedChecker) {
	repo := &mockUserRepo{users: map[string]*models.User{
		"stu-1": {ID: "stu-1", Email: "ana@fakultet.rs", FirstName: "Ana", LastName: "Anić", Role: models.RoleStudent, Active: true},
		"prof-1": {ID: "prof-1", Email: "petar@fakultet.rs", FirstName: "Petar", LastName: "Petrović", Role: models.RoleProfessor, Active: true},
	}}
	graded := &mockGradedChecker{graded: make(map[string]bool)}
	return NewUserService(repo, graded, nil, nil), repo, graded
}

func TestCreateUserHashesPassword(t *testing.T) {
	svc, repo, _ := newUserFixture()

	user, err := svc.Create(context.Background(), adminPrincipal, CreateUserRequest{
		Email:     "marko@fakultet.rs",
		Password:  "vrlo-tajna-lozinka",
		FirstName: "Marko",
		LastName:  "Marković",
		Role:      models.RoleStudent,
	})
	require.NoError(t, err)
	assert.NotEqual(t, "vrlo-tajna-lozinka", user.PasswordHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("vrlo-tajna-lozinka")))
	assert.True(t, user.Active)
	assert.Len(t, repo.users, 3)
}

func TestCreateUserDuplicateEmailConflict(t *testing.T) {
	svc, _, _ := newUserFixture()

	_, err := svc.Create(context.Background(), adminPrincipal, CreateUserRequest{
		Email:     "ana@fakultet.rs",
		Password:  "vrlo-tajna-lozinka",
		FirstName: "Ana",
		LastName:  "Druga",
		Role:      models.RoleStudent,
	})
	assert.Equal(t, appErrors.ErrConflict.Code, errCode(t, err))
}

func TestUserMutationsAdminOnly(t *testing.T) {
	svc, _, _ := newUserFixture()
	professor := policy.Principal{ID: "prof-1", Role: models.RoleProfessor}

	_, err := svc.Create(context.Background(), professor, CreateUserRequest{})
	assert.Equal(t, appErrors.ErrForbidden.Code, errCode(t, err))

	err = svc.Delete(context.Background(), professor, "stu-1")
	assert.Equal(t, appErrors.ErrForbidden.Code, errCode(t, err))

	_, _, err = svc.List(context.Background(), professor, models.UserFilter{})
	assert.Equal(t, appErrors.ErrForbidden.Code, errCode(t, err))
}

func TestDeleteStudentWithGradedWorkIsConflict(t *testing.T) {
	svc, repo, graded := newUserFixture()
	graded.graded["stu-1"] = true

	err := svc.Delete(context.Background(), adminPrincipal, "stu-1")
	assert.Equal(t, appErrors.ErrConflict.Code, errCode(t, err))
	assert.Contains(t, repo.users, "stu-1")
}

func TestDeleteStudentWithoutGradedWork(t *testing.T) {
	svc, repo, _ := newUserFixture()

	require.NoError(t, svc.Delete(context.Background(), adminPrincipal, "stu-1"))
	assert.NotContains(t, repo.users, "stu-1")
}

func TestDeleteProfessorIgnoresGradedGuard(t *testing.T) {
	svc, repo, graded := newUserFixture()
	graded.graded["prof-1"] = true

	require.NoError(t, svc.Delete(context.Background(), adminPrincipal, "prof-1"))
	assert.NotContains(t, repo.users, "prof-1")
}

func TestGetOwnAccountAllowedOthersNot(t *testing.T) {
	svc, _, _ := newUserFixture()
	student := policy.Principal{ID: "stu-1", Role: models.RoleStudent}

	user, err := svc.Get(context.Background(), student, "stu-1")
	require.NoError(t, err)
	assert.Equal(t, "ana@fakultet.rs", user.Email)

	_, err = svc.Get(context.Background(), student, "prof-1")
	assert.Equal(t, appErrors.ErrForbidden.Code, errCode(t, err))
}

func TestUpdateUserPartial(t *testing.T) {
	svc, repo, _ := newUserFixture()
	inactive := false

	user, err := svc.Update(context.Background(), adminPrincipal, "stu-1", UpdateUserRequest{Active: &inactive})
	require.NoError(t, err)
	assert.False(t, user.Active)
	assert.Equal(t, "Ana", repo.users["stu-1"].FirstName)
}
