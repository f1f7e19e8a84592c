package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/evidencije/coursework-api/internal/models"
	"github.com/evidencije/coursework-api/internal/policy"
	appErrors "github.com/evidencije/coursework-api/pkg/errors"
)

type subjectRepository interface {
	FindByID(ctx context.Context, id string) (*models.Subject, error)
	ExistsByCode(ctx context.Context, code, excludeID string) (bool, error)
	Relation(ctx context.Context, subjectID string) (policy.SubjectRelation, error)
	List(ctx context.Context, filter models.SubjectFilter) ([]models.Subject, int, error)
	ListForStudent(ctx context.Context, studentID string) ([]models.Subject, error)
	ListForProfessor(ctx context.Context, professorID string) ([]models.Subject, error)
	Create(ctx context.Context, subject *models.Subject) error
	Update(ctx context.Context, subject *models.Subject) error
	Delete(ctx context.Context, id string) error
	SyncProfessors(ctx context.Context, subjectID string, professorIDs []string) error
	SyncStudents(ctx context.Context, subjectID string, studentIDs []string) error
	Members(ctx context.Context, subjectID string) (professors, students []models.UserInfo, err error)
}

// CreateSubjectRequest carries a new subject and its initial membership.
type CreateSubjectRequest struct {
	Code         string   `json:"code" validate:"required,min=2,max=20"`
	Name         string   `json:"name" validate:"required,min=2,max=120"`
	YearLevel    int      `json:"year_level" validate:"required,min=1,max=6"`
	ProfessorID  *string  `json:"professor_id"`
	ProfessorIDs []string `json:"professor_ids" validate:"omitempty,dive,required"`
	StudentIDs   []string `json:"student_ids" validate:"omitempty,dive,required"`
}

// UpdateSubjectRequest is a partial subject update. Nil membership slices
// leave the current sets untouched.
type UpdateSubjectRequest struct {
	Code         *string  `json:"code" validate:"omitempty,min=2,max=20"`
	Name         *string  `json:"name" validate:"omitempty,min=2,max=120"`
	YearLevel    *int     `json:"year_level" validate:"omitempty,min=1,max=6"`
	ProfessorID  *string  `json:"professor_id"`
	ProfessorIDs []string `json:"professor_ids" validate:"omitempty,dive,required"`
	StudentIDs   []string `json:"student_ids" validate:"omitempty,dive,required"`
}

type roleCounter interface {
	CountWithRole(ctx context.Context, ids []string, role models.UserRole) (int, error)
}

// SubjectService manages subjects and their teaching and enrollment sets.
type SubjectService struct {
	repo      subjectRepository
	roles     roleCounter
	validator *validator.Validate
	logger    *zap.Logger
}

func NewSubjectService(repo subjectRepository, validate *validator.Validate, logger *zap.Logger) *SubjectService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SubjectService{repo: repo, validator: validate, logger: logger}
}

// WithRoleValidation makes membership writes verify that every supplied id
// holds the expected role. Nil disables the check.
func (s *SubjectService) WithRoleValidation(roles roleCounter) *SubjectService {
	s.roles = roles
	return s
}

// List returns the subjects visible to the actor: their enrollments for a
// student, their teaching set for a professor, everything for an admin.
func (s *SubjectService) List(ctx context.Context, actor policy.Principal, filter models.SubjectFilter) ([]models.Subject, int, error) {
	switch actor.Role {
	case models.RoleStudent:
		subjects, err := s.repo.ListForStudent(ctx, actor.ID)
		if err != nil {
			return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list subjects")
		}
		return subjects, len(subjects), nil
	case models.RoleProfessor:
		subjects, err := s.repo.ListForProfessor(ctx, actor.ID)
		if err != nil {
			return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list subjects")
		}
		return subjects, len(subjects), nil
	default:
		subjects, total, err := s.repo.List(ctx, filter)
		if err != nil {
			return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list subjects")
		}
		return subjects, total, nil
	}
}

// Get returns a single subject with its membership sets. Students must be
// enrolled, professors must teach it.
func (s *SubjectService) Get(ctx context.Context, actor policy.Principal, id string) (*models.SubjectDetail, error) {
	subject, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "subject not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subject")
	}

	relation, err := s.repo.Relation(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subject relations")
	}
	if err := policy.Decide(actor, policy.SubjectView, policy.Input{Subject: relation}).Err(); err != nil {
		return nil, err
	}

	professors, students, err := s.repo.Members(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subject members")
	}
	return &models.SubjectDetail{Subject: *subject, Professors: professors, Students: students}, nil
}

// Create adds a subject. Admin only; the code must be unique.
func (s *SubjectService) Create(ctx context.Context, actor policy.Principal, req CreateSubjectRequest) (*models.SubjectDetail, error) {
	if err := policy.Decide(actor, policy.SubjectCreate, policy.Input{}).Err(); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid subject payload")
	}

	if err := s.checkMembership(ctx, req.ProfessorIDs, req.StudentIDs); err != nil {
		return nil, err
	}

	taken, err := s.repo.ExistsByCode(ctx, req.Code, "")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate subject code")
	}
	if taken {
		return nil, appErrors.Clone(appErrors.ErrConflict, "subject code already in use")
	}

	subject := &models.Subject{
		Code:        req.Code,
		Name:        req.Name,
		YearLevel:   req.YearLevel,
		ProfessorID: req.ProfessorID,
	}
	// Keep the legacy owner column populated for older consumers.
	if subject.ProfessorID == nil && len(req.ProfessorIDs) > 0 {
		subject.ProfessorID = &req.ProfessorIDs[0]
	}
	if err := s.repo.Create(ctx, subject); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create subject")
	}

	if len(req.ProfessorIDs) > 0 {
		if err := s.repo.SyncProfessors(ctx, subject.ID, req.ProfessorIDs); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to assign professors")
		}
	}
	if len(req.StudentIDs) > 0 {
		if err := s.repo.SyncStudents(ctx, subject.ID, req.StudentIDs); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enroll students")
		}
	}

	return s.detail(ctx, subject)
}

// Update patches a subject and, when membership slices are supplied,
// replaces the matching set wholesale.
func (s *SubjectService) Update(ctx context.Context, actor policy.Principal, id string, req UpdateSubjectRequest) (*models.SubjectDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid subject payload")
	}

	subject, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "subject not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subject")
	}

	relation, err := s.repo.Relation(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subject relations")
	}
	if err := policy.Decide(actor, policy.SubjectUpdate, policy.Input{Subject: relation}).Err(); err != nil {
		return nil, err
	}

	if req.Code != nil && *req.Code != subject.Code {
		taken, err := s.repo.ExistsByCode(ctx, *req.Code, id)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate subject code")
		}
		if taken {
			return nil, appErrors.Clone(appErrors.ErrConflict, "subject code already in use")
		}
		subject.Code = *req.Code
	}
	if req.Name != nil {
		subject.Name = *req.Name
	}
	if req.YearLevel != nil {
		subject.YearLevel = *req.YearLevel
	}
	if req.ProfessorID != nil {
		subject.ProfessorID = req.ProfessorID
	}

	if err := s.checkMembership(ctx, req.ProfessorIDs, req.StudentIDs); err != nil {
		return nil, err
	}

	if err := s.repo.Update(ctx, subject); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update subject")
	}

	if req.ProfessorIDs != nil {
		if err := s.repo.SyncProfessors(ctx, id, req.ProfessorIDs); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to assign professors")
		}
	}
	if req.StudentIDs != nil {
		if err := s.repo.SyncStudents(ctx, id, req.StudentIDs); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enroll students")
		}
	}

	return s.detail(ctx, subject)
}

// Delete removes a subject together with its memberships.
func (s *SubjectService) Delete(ctx context.Context, actor policy.Principal, id string) error {
	subject, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "subject not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subject")
	}

	relation, err := s.repo.Relation(ctx, subject.ID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subject relations")
	}
	if err := policy.Decide(actor, policy.SubjectDelete, policy.Input{Subject: relation}).Err(); err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete subject")
	}
	return nil
}

// checkMembership verifies every supplied professor id carries the PROFESOR
// role and every student id the STUDENT role. A mismatch also covers
// duplicated and unknown ids.
func (s *SubjectService) checkMembership(ctx context.Context, professorIDs, studentIDs []string) error {
	if s.roles == nil {
		return nil
	}
	if len(professorIDs) > 0 {
		count, err := s.roles.CountWithRole(ctx, professorIDs, models.RoleProfessor)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate professors")
		}
		if count != len(professorIDs) {
			return appErrors.Clone(appErrors.ErrValidation, "professor_ids must reference existing professors")
		}
	}
	if len(studentIDs) > 0 {
		count, err := s.roles.CountWithRole(ctx, studentIDs, models.RoleStudent)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate students")
		}
		if count != len(studentIDs) {
			return appErrors.Clone(appErrors.ErrValidation, "student_ids must reference existing students")
		}
	}
	return nil
}

func (s *SubjectService) detail(ctx context.Context, subject *models.Subject) (*models.SubjectDetail, error) {
	professors, students, err := s.repo.Members(ctx, subject.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subject members")
	}
	return &models.SubjectDetail{Subject: *subject, Professors: professors, Students: students}, nil
}
