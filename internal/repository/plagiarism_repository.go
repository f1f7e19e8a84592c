package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/evidencije/coursework-api/internal/models"
)

// PlagiarismRepository handles persistence of plagiarism checks.
type PlagiarismRepository struct {
	db *sqlx.DB
}

// NewPlagiarismRepository constructs the repository.
func NewPlagiarismRepository(db *sqlx.DB) *PlagiarismRepository {
	return &PlagiarismRepository{db: db}
}

// FindBySubmissionID returns the check attached to a submission.
func (r *PlagiarismRepository) FindBySubmissionID(ctx context.Context, submissionID string) (*models.PlagiarismCheck, error) {
	const query = `SELECT id, submission_id, similarity_percent, status, created_at, updated_at
        FROM plagiarism_checks WHERE submission_id = $1`
	var check models.PlagiarismCheck
	if err := r.db.GetContext(ctx, &check, query, submissionID); err != nil {
		return nil, err
	}
	return &check, nil
}

// FindBySubmissionIDs returns checks keyed by submission id for list joins.
func (r *PlagiarismRepository) FindBySubmissionIDs(ctx context.Context, submissionIDs []string) (map[string]models.PlagiarismCheck, error) {
	result := make(map[string]models.PlagiarismCheck, len(submissionIDs))
	if len(submissionIDs) == 0 {
		return result, nil
	}
	query, args, err := sqlx.In(`SELECT id, submission_id, similarity_percent, status, created_at, updated_at
        FROM plagiarism_checks WHERE submission_id IN (?)`, submissionIDs)
	if err != nil {
		return nil, fmt.Errorf("build plagiarism query: %w", err)
	}
	query = r.db.Rebind(query)
	var checks []models.PlagiarismCheck
	if err := r.db.SelectContext(ctx, &checks, query, args...); err != nil {
		return nil, fmt.Errorf("list plagiarism checks: %w", err)
	}
	for _, check := range checks {
		result[check.SubmissionID] = check
	}
	return result, nil
}

// Create persists a new check. The submission_id unique constraint keeps the
// relation one-to-one; repeated creates are upserted onto the existing row.
func (r *PlagiarismRepository) Create(ctx context.Context, check *models.PlagiarismCheck) error {
	if check.ID == "" {
		check.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if check.CreatedAt.IsZero() {
		check.CreatedAt = now
	}
	check.UpdatedAt = now
	if check.Status == "" {
		check.Status = models.PlagiarismPending
	}
	const query = `INSERT INTO plagiarism_checks (id, submission_id, similarity_percent, status, created_at, updated_at)
        VALUES (:id, :submission_id, :similarity_percent, :status, :created_at, :updated_at)
        ON CONFLICT (submission_id) DO UPDATE SET status = EXCLUDED.status, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, check); err != nil {
		return fmt.Errorf("create plagiarism check: %w", err)
	}
	return nil
}

// UpdateResult stores the similarity outcome of a finished check.
func (r *PlagiarismRepository) UpdateResult(ctx context.Context, submissionID string, similarity *float64, status models.PlagiarismStatus) error {
	const query = `UPDATE plagiarism_checks SET similarity_percent = $2, status = $3, updated_at = $4 WHERE submission_id = $1`
	if _, err := r.db.ExecContext(ctx, query, submissionID, similarity, status, time.Now().UTC()); err != nil {
		return fmt.Errorf("update plagiarism result: %w", err)
	}
	return nil
}

// DeleteBySubmissionID removes the check attached to a submission.
func (r *PlagiarismRepository) DeleteBySubmissionID(ctx context.Context, submissionID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM plagiarism_checks WHERE submission_id = $1`, submissionID); err != nil {
		return fmt.Errorf("delete plagiarism check: %w", err)
	}
	return nil
}
