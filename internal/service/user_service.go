package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/evidencije/coursework-api/internal/models"
	"github.com/evidencije/coursework-api/internal/policy"
	appErrors "github.com/evidencije/coursework-api/pkg/errors"
)

type userRepository interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	Create(ctx context.Context, user *models.User) error
	Update(ctx context.Context, user *models.User) error
	Delete(ctx context.Context, id string) error
}

type gradedWorkChecker interface {
	HasGradedForStudent(ctx context.Context, studentID string) (bool, error)
}

// CreateUserRequest carries a new account.
type CreateUserRequest struct {
	Email     string          `json:"email" validate:"required,email"`
	Password  string          `json:"password" validate:"required,min=8"`
	FirstName string          `json:"first_name" validate:"required,min=1,max=100"`
	LastName  string          `json:"last_name" validate:"required,min=1,max=100"`
	Role      models.UserRole `json:"role" validate:"required"`
}

// UpdateUserRequest is a partial account update.
type UpdateUserRequest struct {
	Email     *string          `json:"email" validate:"omitempty,email"`
	FirstName *string          `json:"first_name" validate:"omitempty,min=1,max=100"`
	LastName  *string          `json:"last_name" validate:"omitempty,min=1,max=100"`
	Role      *models.UserRole `json:"role"`
	Active    *bool            `json:"active"`
}

// UserService manages accounts. All mutations are admin only; a student with
// graded work on record cannot be deleted, so grade history survives.
type UserService struct {
	repo      userRepository
	graded    gradedWorkChecker
	validator *validator.Validate
	logger    *zap.Logger
}

func NewUserService(repo userRepository, graded gradedWorkChecker, validate *validator.Validate, logger *zap.Logger) *UserService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserService{repo: repo, graded: graded, validator: validate, logger: logger}
}

// List returns accounts matching the filter. Admin only.
func (s *UserService) List(ctx context.Context, actor policy.Principal, filter models.UserFilter) ([]models.User, int, error) {
	if actor.Role != models.RoleAdmin {
		return nil, 0, appErrors.Clone(appErrors.ErrForbidden, "only administrators may list users")
	}
	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list users")
	}
	return users, total, nil
}

// Get returns one account. Admins may read anyone, everyone else only
// themselves.
func (s *UserService) Get(ctx context.Context, actor policy.Principal, id string) (*models.User, error) {
	if actor.Role != models.RoleAdmin && actor.ID != id {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot read another user's account")
	}
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	return user, nil
}

// Create registers a new account with a bcrypt-hashed password.
func (s *UserService) Create(ctx context.Context, actor policy.Principal, req CreateUserRequest) (*models.User, error) {
	if actor.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only administrators may create users")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid user payload")
	}
	if !req.Role.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unrecognized role")
	}

	if _, err := s.repo.FindByEmail(ctx, req.Email); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "email already in use")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate email")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	user := &models.User{
		Email:        req.Email,
		PasswordHash: string(hash),
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Role:         req.Role,
		Active:       true,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create user")
	}
	return user, nil
}

// Update patches an account's supplied fields. Admin only.
func (s *UserService) Update(ctx context.Context, actor policy.Principal, id string, req UpdateUserRequest) (*models.User, error) {
	if actor.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only administrators may update users")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid user payload")
	}

	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	if req.Email != nil && *req.Email != user.Email {
		if _, err := s.repo.FindByEmail(ctx, *req.Email); err == nil {
			return nil, appErrors.Clone(appErrors.ErrConflict, "email already in use")
		} else if !errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate email")
		}
		user.Email = *req.Email
	}
	if req.FirstName != nil {
		user.FirstName = *req.FirstName
	}
	if req.LastName != nil {
		user.LastName = *req.LastName
	}
	if req.Role != nil {
		if !req.Role.Valid() {
			return nil, appErrors.Clone(appErrors.ErrValidation, "unrecognized role")
		}
		user.Role = *req.Role
	}
	if req.Active != nil {
		user.Active = *req.Active
	}

	if err := s.repo.Update(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update user")
	}
	return user, nil
}

// Delete removes an account. A student with a graded submission is refused
// with a conflict; grading history must stay attributable.
func (s *UserService) Delete(ctx context.Context, actor policy.Principal, id string) error {
	if actor.Role != models.RoleAdmin {
		return appErrors.Clone(appErrors.ErrForbidden, "only administrators may delete users")
	}

	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	if user.Role == models.RoleStudent && s.graded != nil {
		hasGraded, err := s.graded.HasGradedForStudent(ctx, id)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to inspect graded work")
		}
		if hasGraded {
			return appErrors.Clone(appErrors.ErrConflict, "student has graded submissions and cannot be deleted")
		}
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete user")
	}

	s.logger.Info("user deleted", zap.String("user_id", id), zap.String("deleted_by", actor.ID), zap.Time("at", time.Now().UTC()))
	return nil
}
