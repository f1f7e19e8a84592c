// Package policy decides whether a principal may perform an action on a
// target. Decisions are pure: callers resolve the relation facts an action
// needs (teaching set, enrollment set, submission owner and status) and pass
// them in; the policy never touches storage.
package policy

import (
	"github.com/evidencije/coursework-api/internal/models"
	appErrors "github.com/evidencije/coursework-api/pkg/errors"
)

// Action enumerates the operations the policy knows how to gate.
type Action string

const (
	SubjectView      Action = "subject:view"
	SubjectCreate    Action = "subject:create"
	SubjectUpdate    Action = "subject:update"
	SubjectDelete    Action = "subject:delete"
	AssignmentView   Action = "assignment:view"
	AssignmentCreate Action = "assignment:create"
	AssignmentUpdate Action = "assignment:update"
	AssignmentDelete Action = "assignment:delete"
	SubmissionCreate Action = "submission:create"
	SubmissionView   Action = "submission:view"
	SubmissionUpdate Action = "submission:update"
	SubmissionDelete Action = "submission:delete"
	PlagiarismView   Action = "plagiarism:view"
)

// Reason codes attached to refusals.
type Reason string

const (
	ReasonForbidden     Reason = "FORBIDDEN"
	ReasonNotEnrolled   Reason = "NOT_ENROLLED"
	ReasonNotTeaching   Reason = "NOT_TEACHING"
	ReasonAlreadyGraded Reason = "ALREADY_GRADED"
)

// Principal is the authenticated actor issuing a request.
type Principal struct {
	ID   string
	Role models.UserRole
}

// SubjectRelation carries the relation facts of the subject that owns the
// target entity. The legacy single-owner column and the many-to-many
// teaching set are kept separate here so Teaches can honor both.
type SubjectRelation struct {
	OwnerProfessorID string
	ProfessorIDs     []string
	StudentIDs       []string
}

// Teaches reports whether the professor teaches the subject, through either
// the legacy owner column or the teaching set.
func (r SubjectRelation) Teaches(professorID string) bool {
	if professorID == "" {
		return false
	}
	if r.OwnerProfessorID == professorID {
		return true
	}
	for _, id := range r.ProfessorIDs {
		if id == professorID {
			return true
		}
	}
	return false
}

// Enrolled reports whether the student is enrolled in the subject.
func (r SubjectRelation) Enrolled(studentID string) bool {
	for _, id := range r.StudentIDs {
		if id == studentID {
			return true
		}
	}
	return false
}

// Input groups the relation facts an action may need. Fields irrelevant to
// the action are ignored.
type Input struct {
	Subject          SubjectRelation
	SubmissionOwner  string
	SubmissionStatus models.SubmissionStatus
}

// Decision is the outcome of a policy evaluation.
type Decision struct {
	Allowed bool
	Reason  Reason
}

// Allow is the positive decision.
var Allow = Decision{Allowed: true}

// Deny builds a refusal with the given reason.
func Deny(reason Reason) Decision {
	return Decision{Reason: reason}
}

// Err maps a refusal to the error taxonomy; nil when allowed.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	switch d.Reason {
	case ReasonNotEnrolled:
		return appErrors.ErrNotEnrolled
	case ReasonNotTeaching:
		return appErrors.ErrNotTeaching
	case ReasonAlreadyGraded:
		return appErrors.ErrAlreadyGraded
	default:
		return appErrors.ErrForbidden
	}
}

type rule func(p Principal, in Input) Decision

// rules is the decision table keyed by (action, role). Roles absent from an
// action's row are denied; ADMIN is allowed everywhere without an entry.
var rules = map[Action]map[models.UserRole]rule{
	SubjectView: {
		models.RoleProfessor: professorTeaches,
		models.RoleStudent:   studentEnrolled,
	},
	SubjectCreate: {},
	SubjectUpdate: {},
	SubjectDelete: {},
	AssignmentView: {
		models.RoleProfessor: professorTeaches,
		models.RoleStudent:   studentEnrolled,
	},
	AssignmentCreate: {
		models.RoleProfessor: professorTeaches,
	},
	AssignmentUpdate: {
		models.RoleProfessor: professorTeaches,
	},
	AssignmentDelete: {
		models.RoleProfessor: professorTeaches,
	},
	SubmissionCreate: {
		models.RoleStudent: studentEnrolled,
	},
	SubmissionView: {
		models.RoleProfessor: professorTeaches,
		models.RoleStudent:   studentOwnsSubmission,
	},
	SubmissionUpdate: {
		models.RoleProfessor: professorTeaches,
	},
	SubmissionDelete: {
		models.RoleProfessor: professorTeaches,
		models.RoleStudent:   studentDeletesOwnUngraded,
	},
	PlagiarismView: {
		models.RoleProfessor: professorTeaches,
	},
}

// Decide evaluates the decision table for the principal and action.
func Decide(p Principal, action Action, in Input) Decision {
	if p.Role == models.RoleAdmin {
		return Allow
	}
	row, ok := rules[action]
	if !ok {
		return Deny(ReasonForbidden)
	}
	r, ok := row[p.Role]
	if !ok {
		return Deny(ReasonForbidden)
	}
	return r(p, in)
}

// DecideScope gates the fixed listing scopes. Selecting a scope the role
// cannot use is a refusal, not an empty result.
func DecideScope(p Principal, scope models.SubmissionScope) Decision {
	switch scope {
	case models.ScopeMine:
		if p.Role == models.RoleStudent {
			return Allow
		}
	case models.ScopeTaught:
		if p.Role == models.RoleProfessor {
			return Allow
		}
	case models.ScopeAll:
		if p.Role == models.RoleAdmin {
			return Allow
		}
	}
	return Deny(ReasonForbidden)
}

func professorTeaches(p Principal, in Input) Decision {
	if in.Subject.Teaches(p.ID) {
		return Allow
	}
	return Deny(ReasonNotTeaching)
}

func studentEnrolled(p Principal, in Input) Decision {
	if in.Subject.Enrolled(p.ID) {
		return Allow
	}
	return Deny(ReasonNotEnrolled)
}

func studentOwnsSubmission(p Principal, in Input) Decision {
	if in.SubmissionOwner == p.ID {
		return Allow
	}
	return Deny(ReasonForbidden)
}

func studentDeletesOwnUngraded(p Principal, in Input) Decision {
	if in.SubmissionOwner != p.ID {
		return Deny(ReasonForbidden)
	}
	if in.SubmissionStatus == models.SubmissionGraded {
		return Deny(ReasonAlreadyGraded)
	}
	return Allow
}
