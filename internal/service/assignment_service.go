package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/evidencije/coursework-api/internal/models"
	"github.com/evidencije/coursework-api/internal/policy"
	appErrors "github.com/evidencije/coursework-api/pkg/errors"
)

type assignmentRepository interface {
	FindByID(ctx context.Context, id string) (*models.Assignment, error)
	FindDetailByID(ctx context.Context, id string) (*models.AssignmentDetail, error)
	ListForStudent(ctx context.Context, studentID string) ([]models.AssignmentDetail, error)
	ListForProfessor(ctx context.Context, professorID string) ([]models.AssignmentDetail, error)
	ListAll(ctx context.Context) ([]models.AssignmentDetail, error)
	Create(ctx context.Context, assignment *models.Assignment) error
	Update(ctx context.Context, assignment *models.Assignment) error
	Delete(ctx context.Context, id string) error
}

// CreateAssignmentRequest carries a new assignment for a subject.
type CreateAssignmentRequest struct {
	SubjectID   string    `json:"subject_id" validate:"required"`
	Title       string    `json:"title" validate:"required,min=2,max=200"`
	Description string    `json:"description" validate:"max=4000"`
	DueAt       time.Time `json:"due_at" validate:"required"`
}

// UpdateAssignmentRequest is a partial assignment update.
type UpdateAssignmentRequest struct {
	Title       *string    `json:"title" validate:"omitempty,min=2,max=200"`
	Description *string    `json:"description" validate:"omitempty,max=4000"`
	DueAt       *time.Time `json:"due_at"`
}

// AssignmentService manages assignments within subjects. Mutations are open
// to any professor teaching the subject, not just the author.
type AssignmentService struct {
	repo      assignmentRepository
	subjects  subjectRelationReader
	validator *validator.Validate
	logger    *zap.Logger
}

func NewAssignmentService(repo assignmentRepository, subjects subjectRelationReader, validate *validator.Validate, logger *zap.Logger) *AssignmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AssignmentService{repo: repo, subjects: subjects, validator: validate, logger: logger}
}

// List returns assignments scoped by role: enrolled subjects for students,
// taught subjects for professors, everything for admins.
func (s *AssignmentService) List(ctx context.Context, actor policy.Principal) ([]models.AssignmentDetail, error) {
	var (
		details []models.AssignmentDetail
		err     error
	)
	switch actor.Role {
	case models.RoleStudent:
		details, err = s.repo.ListForStudent(ctx, actor.ID)
	case models.RoleProfessor:
		details, err = s.repo.ListForProfessor(ctx, actor.ID)
	default:
		details, err = s.repo.ListAll(ctx)
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list assignments")
	}
	return details, nil
}

// Get returns a single assignment with its subject context.
func (s *AssignmentService) Get(ctx context.Context, actor policy.Principal, id string) (*models.AssignmentDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assignment")
	}

	relation, err := s.subjects.Relation(ctx, detail.SubjectID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subject relations")
	}
	if err := policy.Decide(actor, policy.AssignmentView, policy.Input{Subject: relation}).Err(); err != nil {
		return nil, err
	}
	return detail, nil
}

// Create adds an assignment to a subject the actor teaches.
func (s *AssignmentService) Create(ctx context.Context, actor policy.Principal, req CreateAssignmentRequest) (*models.AssignmentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid assignment payload")
	}

	relation, err := s.subjects.Relation(ctx, req.SubjectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "subject not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subject relations")
	}
	if err := policy.Decide(actor, policy.AssignmentCreate, policy.Input{Subject: relation}).Err(); err != nil {
		return nil, err
	}

	assignment := &models.Assignment{
		SubjectID:   req.SubjectID,
		ProfessorID: actor.ID,
		Title:       req.Title,
		Description: req.Description,
		DueAt:       req.DueAt.UTC(),
	}
	if err := s.repo.Create(ctx, assignment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create assignment")
	}
	return s.Get(ctx, actor, assignment.ID)
}

// Update patches an assignment's supplied fields.
func (s *AssignmentService) Update(ctx context.Context, actor policy.Principal, id string, req UpdateAssignmentRequest) (*models.AssignmentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid assignment payload")
	}

	assignment, relation, err := s.loadWithRelation(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := policy.Decide(actor, policy.AssignmentUpdate, policy.Input{Subject: relation}).Err(); err != nil {
		return nil, err
	}

	if req.Title != nil {
		assignment.Title = *req.Title
	}
	if req.Description != nil {
		assignment.Description = *req.Description
	}
	if req.DueAt != nil {
		assignment.DueAt = req.DueAt.UTC()
	}

	if err := s.repo.Update(ctx, assignment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update assignment")
	}
	return s.Get(ctx, actor, id)
}

// Delete removes an assignment and, through the schema, its submissions.
func (s *AssignmentService) Delete(ctx context.Context, actor policy.Principal, id string) error {
	_, relation, err := s.loadWithRelation(ctx, id)
	if err != nil {
		return err
	}
	if err := policy.Decide(actor, policy.AssignmentDelete, policy.Input{Subject: relation}).Err(); err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete assignment")
	}
	return nil
}

func (s *AssignmentService) loadWithRelation(ctx context.Context, id string) (*models.Assignment, policy.SubjectRelation, error) {
	assignment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, policy.SubjectRelation{}, appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
		}
		return nil, policy.SubjectRelation{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assignment")
	}
	relation, err := s.subjects.Relation(ctx, assignment.SubjectID)
	if err != nil {
		return nil, policy.SubjectRelation{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subject relations")
	}
	return assignment, relation, nil
}
