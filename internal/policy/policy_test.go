package policy

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evidencije/coursework-api/internal/models"
	appErrors "github.com/evidencije/coursework-api/pkg/errors"
)

var (
	admin     = Principal{ID: "admin-1", Role: models.RoleAdmin}
	profA     = Principal{ID: "prof-a", Role: models.RoleProfessor}
	profB     = Principal{ID: "prof-b", Role: models.RoleProfessor}
	studentA  = Principal{ID: "stud-a", Role: models.RoleStudent}
	studentB  = Principal{ID: "stud-b", Role: models.RoleStudent}
	relation  = SubjectRelation{OwnerProfessorID: "prof-a", ProfessorIDs: []string{"prof-c"}, StudentIDs: []string{"stud-a"}}
	allAction = []Action{
		SubjectView, SubjectCreate, SubjectUpdate, SubjectDelete,
		AssignmentView, AssignmentCreate, AssignmentUpdate, AssignmentDelete,
		SubmissionCreate, SubmissionView, SubmissionUpdate, SubmissionDelete,
		PlagiarismView,
	}
)

func TestAdminAllowedEverywhere(t *testing.T) {
	in := Input{Subject: relation, SubmissionOwner: "stud-a", SubmissionStatus: models.SubmissionGraded}
	for _, action := range allAction {
		decision := Decide(admin, action, in)
		assert.True(t, decision.Allowed, "admin should be allowed for %s", action)
		assert.NoError(t, decision.Err())
	}
}

func TestDecideIsDeterministic(t *testing.T) {
	in := Input{Subject: relation, SubmissionOwner: "stud-a"}
	for _, action := range allAction {
		first := Decide(profB, action, in)
		for i := 0; i < 3; i++ {
			assert.Equal(t, first, Decide(profB, action, in))
		}
	}
}

func TestSubjectRules(t *testing.T) {
	in := Input{Subject: relation}

	assert.True(t, Decide(profA, SubjectView, in).Allowed)
	assert.True(t, Decide(studentA, SubjectView, in).Allowed)

	denied := Decide(profB, SubjectView, in)
	assert.False(t, denied.Allowed)
	assert.Equal(t, ReasonNotTeaching, denied.Reason)

	denied = Decide(studentB, SubjectView, in)
	assert.False(t, denied.Allowed)
	assert.Equal(t, ReasonNotEnrolled, denied.Reason)

	for _, action := range []Action{SubjectCreate, SubjectUpdate, SubjectDelete} {
		assert.False(t, Decide(profA, action, in).Allowed, "%s is admin-only", action)
		assert.False(t, Decide(studentA, action, in).Allowed, "%s is admin-only", action)
		assert.True(t, Decide(admin, action, in).Allowed)
	}
}

func TestTeachingParityBetweenLegacyAndSet(t *testing.T) {
	legacyOnly := SubjectRelation{OwnerProfessorID: "prof-x"}
	setOnly := SubjectRelation{ProfessorIDs: []string{"prof-x"}}
	profX := Principal{ID: "prof-x", Role: models.RoleProfessor}

	for _, action := range []Action{SubjectView, AssignmentView, AssignmentCreate, AssignmentUpdate, AssignmentDelete, SubmissionView, SubmissionUpdate, SubmissionDelete, PlagiarismView} {
		viaLegacy := Decide(profX, action, Input{Subject: legacyOnly})
		viaSet := Decide(profX, action, Input{Subject: setOnly})
		assert.Equal(t, viaLegacy, viaSet, "legacy owner and teaching set must grant identical permissions for %s", action)
		assert.True(t, viaSet.Allowed)
	}
}

func TestAssignmentRules(t *testing.T) {
	in := Input{Subject: relation}

	assert.True(t, Decide(profA, AssignmentCreate, in).Allowed)
	assert.Equal(t, ReasonNotTeaching, Decide(profB, AssignmentCreate, in).Reason)
	assert.Equal(t, ReasonForbidden, Decide(studentA, AssignmentCreate, in).Reason)

	assert.True(t, Decide(studentA, AssignmentView, in).Allowed)
	assert.Equal(t, ReasonForbidden, Decide(studentA, AssignmentUpdate, in).Reason)
	assert.Equal(t, ReasonForbidden, Decide(studentA, AssignmentDelete, in).Reason)
}

func TestSubmissionCreateRequiresEnrollment(t *testing.T) {
	in := Input{Subject: relation}

	assert.True(t, Decide(studentA, SubmissionCreate, in).Allowed)

	denied := Decide(studentB, SubmissionCreate, in)
	assert.False(t, denied.Allowed)
	assert.Equal(t, ReasonNotEnrolled, denied.Reason)

	assert.Equal(t, ReasonForbidden, Decide(profA, SubmissionCreate, in).Reason)
}

func TestSubmissionViewAndUpdate(t *testing.T) {
	in := Input{Subject: relation, SubmissionOwner: "stud-a"}

	// Owner may always view, never update.
	assert.True(t, Decide(studentA, SubmissionView, in).Allowed)
	assert.Equal(t, ReasonForbidden, Decide(studentA, SubmissionUpdate, in).Reason)

	// Another student may not even view.
	assert.Equal(t, ReasonForbidden, Decide(studentB, SubmissionView, in).Reason)

	// Teaching professor may view and update; a stranger may not.
	assert.True(t, Decide(profA, SubmissionView, in).Allowed)
	assert.True(t, Decide(profA, SubmissionUpdate, in).Allowed)
	assert.Equal(t, ReasonNotTeaching, Decide(profB, SubmissionUpdate, in).Reason)
}

func TestSubmissionDelete(t *testing.T) {
	ungraded := Input{Subject: relation, SubmissionOwner: "stud-a", SubmissionStatus: models.SubmissionSubmitted}
	graded := Input{Subject: relation, SubmissionOwner: "stud-a", SubmissionStatus: models.SubmissionGraded}

	assert.True(t, Decide(studentA, SubmissionDelete, ungraded).Allowed)

	denied := Decide(studentA, SubmissionDelete, graded)
	require.False(t, denied.Allowed)
	assert.Equal(t, ReasonAlreadyGraded, denied.Reason)

	var appErr *appErrors.Error
	require.True(t, errors.As(denied.Err(), &appErr))
	assert.Equal(t, appErrors.ErrAlreadyGraded.Code, appErr.Code)

	// Staff deletion ignores grading status but stays scoped to teaching.
	assert.True(t, Decide(profA, SubmissionDelete, graded).Allowed)
	assert.Equal(t, ReasonNotTeaching, Decide(profB, SubmissionDelete, graded).Reason)
	assert.Equal(t, ReasonForbidden, Decide(studentB, SubmissionDelete, ungraded).Reason)
}

func TestPlagiarismNeverVisibleToStudents(t *testing.T) {
	in := Input{Subject: relation, SubmissionOwner: "stud-a"}

	// Even the submission owner is refused.
	assert.Equal(t, ReasonForbidden, Decide(studentA, PlagiarismView, in).Reason)
	assert.True(t, Decide(profA, PlagiarismView, in).Allowed)
	assert.True(t, Decide(admin, PlagiarismView, in).Allowed)
}

func TestDecideScope(t *testing.T) {
	assert.True(t, DecideScope(studentA, models.ScopeMine).Allowed)
	assert.True(t, DecideScope(profA, models.ScopeTaught).Allowed)
	assert.True(t, DecideScope(admin, models.ScopeAll).Allowed)

	assert.False(t, DecideScope(studentA, models.ScopeAll).Allowed)
	assert.False(t, DecideScope(profA, models.ScopeMine).Allowed)
	assert.False(t, DecideScope(admin, models.ScopeTaught).Allowed)
	assert.False(t, DecideScope(studentA, models.SubmissionScope("everything")).Allowed)
}

func TestDecisionErrMapping(t *testing.T) {
	cases := []struct {
		decision Decision
		wantCode string
	}{
		{Deny(ReasonForbidden), appErrors.ErrForbidden.Code},
		{Deny(ReasonNotEnrolled), appErrors.ErrNotEnrolled.Code},
		{Deny(ReasonNotTeaching), appErrors.ErrNotTeaching.Code},
		{Deny(ReasonAlreadyGraded), appErrors.ErrAlreadyGraded.Code},
	}
	for _, tc := range cases {
		var appErr *appErrors.Error
		require.True(t, errors.As(tc.decision.Err(), &appErr))
		assert.Equal(t, tc.wantCode, appErr.Code)
	}
	assert.NoError(t, Allow.Err())
}
