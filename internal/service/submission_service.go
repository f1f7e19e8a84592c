package service

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/evidencije/coursework-api/internal/models"
	"github.com/evidencije/coursework-api/internal/policy"
	"github.com/evidencije/coursework-api/internal/repository"
	appErrors "github.com/evidencije/coursework-api/pkg/errors"
)

type submissionRepository interface {
	FindByID(ctx context.Context, id string) (*models.Submission, error)
	FindDetailByID(ctx context.Context, id string) (*models.SubmissionDetail, error)
	Exists(ctx context.Context, assignmentID, studentID string) (bool, error)
	Create(ctx context.Context, submission *models.Submission) error
	Update(ctx context.Context, submission *models.Submission) error
	Delete(ctx context.Context, id string) error
	ListForStudent(ctx context.Context, studentID string) ([]models.SubmissionDetail, error)
	ListForProfessor(ctx context.Context, professorID string) ([]models.SubmissionDetail, error)
	ListAll(ctx context.Context) ([]models.SubmissionDetail, error)
}

type assignmentReader interface {
	FindByID(ctx context.Context, id string) (*models.Assignment, error)
}

type subjectRelationReader interface {
	Relation(ctx context.Context, subjectID string) (policy.SubjectRelation, error)
}

type plagiarismReader interface {
	FindBySubmissionID(ctx context.Context, submissionID string) (*models.PlagiarismCheck, error)
	FindBySubmissionIDs(ctx context.Context, submissionIDs []string) (map[string]models.PlagiarismCheck, error)
}

type blobStore interface {
	Put(originalName string, data []byte) (string, error)
	Exists(ref string) bool
	Path(ref string) string
	Delete(ref string) error
}

type plagiarismEnqueuer interface {
	EnqueueCheck(submissionID string) error
}

// SubmitRequest describes a student handing in work for an assignment. A
// binary payload goes through the blob store; without one a caller-supplied
// path reference is recorded as-is.
type SubmitRequest struct {
	AssignmentID string  `json:"assignment_id" validate:"required"`
	FilePath     *string `json:"file_path" validate:"omitempty,max=255"`
	FileName     string  `json:"-"`
	FileData     []byte  `json:"-"`
}

// OptionalGrade distinguishes an absent grade field from an explicit null:
// absent leaves the stored grade unchanged, null clears it.
type OptionalGrade struct {
	Set   bool
	Value *float64
}

// UnmarshalJSON marks the field as present and keeps null as a nil value.
func (g *OptionalGrade) UnmarshalJSON(data []byte) error {
	g.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		g.Value = nil
		return nil
	}
	return json.Unmarshal(data, &g.Value)
}

// GradePatch describes a partial staff update of a submission. Only the
// supplied fields are applied.
type GradePatch struct {
	Status   *models.SubmissionStatus `json:"status"`
	Grade    OptionalGrade            `json:"grade"`
	Comment  *string                  `json:"comment"`
	FilePath *string                  `json:"file_path" validate:"omitempty,max=255"`
	FileName string                   `json:"-"`
	FileData []byte                   `json:"-"`
}

// SubmissionService owns the submission lifecycle: uniqueness on create,
// staff-driven status labels and the grading rules, and the terminal-state
// restriction on student withdrawal. Permission checks are delegated to the
// policy package.
type SubmissionService struct {
	repo        submissionRepository
	assignments assignmentReader
	subjects    subjectRelationReader
	plagiarism  plagiarismReader
	blobs       blobStore
	checks      plagiarismEnqueuer
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewSubmissionService constructs SubmissionService. The blob store and the
// plagiarism queue may be nil; related features then stay off.
func NewSubmissionService(repo submissionRepository, assignments assignmentReader, subjects subjectRelationReader, plagiarism plagiarismReader, blobs blobStore, checks plagiarismEnqueuer, validate *validator.Validate, logger *zap.Logger) *SubmissionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SubmissionService{repo: repo, assignments: assignments, subjects: subjects, plagiarism: plagiarism, blobs: blobs, checks: checks, validator: validate, logger: logger}
}

// Submit creates a submission for the acting principal. A second submission
// for the same (assignment, student) pair is a conflict, also when a
// concurrent create loses the storage race.
func (s *SubmissionService) Submit(ctx context.Context, actor policy.Principal, req SubmitRequest) (*models.SubmissionDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid submission payload")
	}

	assignment, err := s.assignments.FindByID(ctx, req.AssignmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assignment")
	}

	relation, err := s.subjects.Relation(ctx, assignment.SubjectID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subject relations")
	}
	if err := policy.Decide(actor, policy.SubmissionCreate, policy.Input{Subject: relation}).Err(); err != nil {
		return nil, err
	}

	exists, err := s.repo.Exists(ctx, req.AssignmentID, actor.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate submission")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "submission already exists for this assignment")
	}

	filePath := req.FilePath
	if len(req.FileData) > 0 {
		if s.blobs == nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "file uploads are not enabled")
		}
		ref, err := s.blobs.Put(req.FileName, req.FileData)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store submission file")
		}
		filePath = &ref
	}

	submission := &models.Submission{
		AssignmentID: req.AssignmentID,
		StudentID:    actor.ID,
		Status:       models.SubmissionSubmitted,
		FilePath:     filePath,
		SubmittedAt:  time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, submission); err != nil {
		if errors.Is(err, repository.ErrDuplicateSubmission) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "submission already exists for this assignment")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create submission")
	}

	if s.checks != nil {
		if err := s.checks.EnqueueCheck(submission.ID); err != nil {
			s.logger.Warn("plagiarism check enqueue failed", zap.String("submission_id", submission.ID), zap.Error(err))
		}
	}

	detail, err := s.repo.FindDetailByID(ctx, submission.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load submission detail")
	}
	return detail, nil
}

// Get returns a single submission. Plagiarism data is attached only for
// staff; students never see it, also not on their own submissions.
func (s *SubmissionService) Get(ctx context.Context, actor policy.Principal, id string) (*models.SubmissionDetail, error) {
	detail, relation, err := s.loadWithRelation(ctx, id)
	if err != nil {
		return nil, err
	}
	decision := policy.Decide(actor, policy.SubmissionView, policy.Input{Subject: relation, SubmissionOwner: detail.StudentID})
	if err := decision.Err(); err != nil {
		return nil, err
	}

	if policy.Decide(actor, policy.PlagiarismView, policy.Input{Subject: relation}).Allowed {
		s.attachPlagiarism(ctx, detail)
	}
	return detail, nil
}

// Grade applies a staff patch to a submission. Supplied fields only; a
// grade outside [0,10] or an unrecognized status label is a validation
// failure, an explicit null grade clears the stored one.
func (s *SubmissionService) Grade(ctx context.Context, actor policy.Principal, id string, patch GradePatch) (*models.SubmissionDetail, error) {
	if err := s.validator.Struct(patch); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid grade payload")
	}

	submission, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "submission not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load submission")
	}

	relation, err := s.relationForSubmission(ctx, submission)
	if err != nil {
		return nil, err
	}
	if err := policy.Decide(actor, policy.SubmissionUpdate, policy.Input{Subject: relation, SubmissionOwner: submission.StudentID}).Err(); err != nil {
		return nil, err
	}

	if patch.Status != nil {
		if !patch.Status.Valid() {
			return nil, appErrors.Clone(appErrors.ErrValidation, "unrecognized submission status")
		}
		submission.Status = *patch.Status
	}
	if patch.Grade.Set {
		if patch.Grade.Value != nil && (*patch.Grade.Value < 0 || *patch.Grade.Value > 10) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "grade must be between 0 and 10")
		}
		submission.Grade = patch.Grade.Value
	}
	if patch.Comment != nil {
		submission.Comment = patch.Comment
	}
	if len(patch.FileData) > 0 && s.blobs != nil {
		ref, err := s.blobs.Put(patch.FileName, patch.FileData)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store submission file")
		}
		submission.FilePath = &ref
	} else if patch.FilePath != nil {
		submission.FilePath = patch.FilePath
	}

	if err := s.repo.Update(ctx, submission); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update submission")
	}

	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load submission detail")
	}
	if policy.Decide(actor, policy.PlagiarismView, policy.Input{Subject: relation}).Allowed {
		s.attachPlagiarism(ctx, detail)
	}
	return detail, nil
}

// Withdraw deletes a submission. The owning student may withdraw while the
// submission is ungraded; staff deletion is unrestricted by status but
// scoped to subjects they teach.
func (s *SubmissionService) Withdraw(ctx context.Context, actor policy.Principal, id string) error {
	submission, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "submission not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load submission")
	}

	relation, err := s.relationForSubmission(ctx, submission)
	if err != nil {
		return err
	}
	decision := policy.Decide(actor, policy.SubmissionDelete, policy.Input{
		Subject:          relation,
		SubmissionOwner:  submission.StudentID,
		SubmissionStatus: submission.Status,
	})
	if err := decision.Err(); err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete submission")
	}
	return nil
}

// FetchFile resolves the on-disk location of a submission's file under the
// same permission as viewing the submission. A missing reference and a
// dangling one both surface as not-found.
func (s *SubmissionService) FetchFile(ctx context.Context, actor policy.Principal, id string) (string, error) {
	submission, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", appErrors.Clone(appErrors.ErrNotFound, "submission not found")
		}
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load submission")
	}

	relation, err := s.relationForSubmission(ctx, submission)
	if err != nil {
		return "", err
	}
	if err := policy.Decide(actor, policy.SubmissionView, policy.Input{Subject: relation, SubmissionOwner: submission.StudentID}).Err(); err != nil {
		return "", err
	}

	if submission.FilePath == nil || *submission.FilePath == "" {
		return "", appErrors.Clone(appErrors.ErrNotFound, "submission has no file")
	}
	if s.blobs == nil || !s.blobs.Exists(*submission.FilePath) {
		return "", appErrors.Clone(appErrors.ErrNotFound, "submission file not found")
	}
	return s.blobs.Path(*submission.FilePath), nil
}

// List returns submissions for one of the fixed scopes. A scope the role
// cannot use is a refusal, never an empty result.
func (s *SubmissionService) List(ctx context.Context, actor policy.Principal, scope models.SubmissionScope) ([]models.SubmissionDetail, error) {
	if err := policy.DecideScope(actor, scope).Err(); err != nil {
		return nil, err
	}

	var (
		details []models.SubmissionDetail
		err     error
	)
	switch scope {
	case models.ScopeMine:
		details, err = s.repo.ListForStudent(ctx, actor.ID)
	case models.ScopeTaught:
		details, err = s.repo.ListForProfessor(ctx, actor.ID)
	case models.ScopeAll:
		details, err = s.repo.ListAll(ctx)
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list submissions")
	}

	if actor.Role != models.RoleStudent {
		s.attachPlagiarismBulk(ctx, details)
	}
	return details, nil
}

// DefaultScope maps a role to the scope its plain listing uses.
func DefaultScope(role models.UserRole) models.SubmissionScope {
	switch role {
	case models.RoleStudent:
		return models.ScopeMine
	case models.RoleProfessor:
		return models.ScopeTaught
	default:
		return models.ScopeAll
	}
}

func (s *SubmissionService) loadWithRelation(ctx context.Context, id string) (*models.SubmissionDetail, policy.SubjectRelation, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, policy.SubjectRelation{}, appErrors.Clone(appErrors.ErrNotFound, "submission not found")
		}
		return nil, policy.SubjectRelation{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load submission")
	}
	relation, err := s.subjects.Relation(ctx, detail.SubjectID)
	if err != nil {
		return nil, policy.SubjectRelation{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subject relations")
	}
	return detail, relation, nil
}

func (s *SubmissionService) relationForSubmission(ctx context.Context, submission *models.Submission) (policy.SubjectRelation, error) {
	assignment, err := s.assignments.FindByID(ctx, submission.AssignmentID)
	if err != nil {
		return policy.SubjectRelation{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assignment")
	}
	relation, err := s.subjects.Relation(ctx, assignment.SubjectID)
	if err != nil {
		return policy.SubjectRelation{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subject relations")
	}
	return relation, nil
}

func (s *SubmissionService) attachPlagiarism(ctx context.Context, detail *models.SubmissionDetail) {
	if s.plagiarism == nil {
		return
	}
	check, err := s.plagiarism.FindBySubmissionID(ctx, detail.ID)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("load plagiarism check failed", zap.String("submission_id", detail.ID), zap.Error(err))
		}
		return
	}
	detail.PlagiarismCheck = check
}

func (s *SubmissionService) attachPlagiarismBulk(ctx context.Context, details []models.SubmissionDetail) {
	if s.plagiarism == nil || len(details) == 0 {
		return
	}
	ids := make([]string, len(details))
	for i := range details {
		ids[i] = details[i].ID
	}
	checks, err := s.plagiarism.FindBySubmissionIDs(ctx, ids)
	if err != nil {
		s.logger.Warn("load plagiarism checks failed", zap.Error(err))
		return
	}
	for i := range details {
		if check, ok := checks[details[i].ID]; ok {
			c := check
			details[i].PlagiarismCheck = &c
		}
	}
}
