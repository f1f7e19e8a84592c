package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/evidencije/coursework-api/internal/models"
)

// ErrDuplicateSubmission signals that a submission already exists for the
// (assignment, student) pair. Raised both by the compare-and-insert path and
// by the unique constraint when a concurrent create loses the race.
var ErrDuplicateSubmission = errors.New("submission already exists for assignment and student")

const pqUniqueViolation = "23505"

const submissionDetailColumns = `p.id, p.assignment_id, p.student_id, p.status, p.grade, p.comment, p.file_path,
        p.submitted_at, p.created_at, p.updated_at,
        TRIM(CONCAT(stu.first_name, ' ', stu.last_name)) AS student_name, stu.email AS student_email,
        a.title AS assignment_title, a.due_at AS assignment_due_at,
        s.id AS subject_id, s.name AS subject_name, s.code AS subject_code`

const submissionDetailJoins = `FROM submissions p
        JOIN users stu ON stu.id = p.student_id
        JOIN assignments a ON a.id = p.assignment_id
        JOIN subjects s ON s.id = a.subject_id`

// SubmissionRepository handles persistence of submissions.
type SubmissionRepository struct {
	db *sqlx.DB
}

// NewSubmissionRepository constructs the repository.
func NewSubmissionRepository(db *sqlx.DB) *SubmissionRepository {
	return &SubmissionRepository{db: db}
}

// FindByID returns a submission by its id.
func (r *SubmissionRepository) FindByID(ctx context.Context, id string) (*models.Submission, error) {
	const query = `SELECT id, assignment_id, student_id, status, grade, comment, file_path, submitted_at, created_at, updated_at
        FROM submissions WHERE id = $1`
	var submission models.Submission
	if err := r.db.GetContext(ctx, &submission, query, id); err != nil {
		return nil, err
	}
	return &submission, nil
}

// FindDetailByID returns a submission with student, assignment and subject
// context.
func (r *SubmissionRepository) FindDetailByID(ctx context.Context, id string) (*models.SubmissionDetail, error) {
	query := fmt.Sprintf("SELECT %s %s WHERE p.id = $1", submissionDetailColumns, submissionDetailJoins)
	var detail models.SubmissionDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// Exists reports whether a submission exists for the pair.
func (r *SubmissionRepository) Exists(ctx context.Context, assignmentID, studentID string) (bool, error) {
	const query = `SELECT 1 FROM submissions WHERE assignment_id = $1 AND student_id = $2 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, assignmentID, studentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check submission exists: %w", err)
	}
	return true, nil
}

// ListPeerFilePaths returns the stored file references of the other
// submissions on the same assignment. Used by the similarity workers.
func (r *SubmissionRepository) ListPeerFilePaths(ctx context.Context, assignmentID, excludeSubmissionID string) ([]string, error) {
	const query = `SELECT file_path FROM submissions
        WHERE assignment_id = $1 AND id <> $2 AND file_path IS NOT NULL`
	var paths []string
	if err := r.db.SelectContext(ctx, &paths, query, assignmentID, excludeSubmissionID); err != nil {
		return nil, fmt.Errorf("list peer file paths: %w", err)
	}
	return paths, nil
}

// HasGradedForStudent reports whether the student has at least one graded
// submission on record.
func (r *SubmissionRepository) HasGradedForStudent(ctx context.Context, studentID string) (bool, error) {
	const query = `SELECT 1 FROM submissions WHERE student_id = $1 AND status = $2 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, studentID, models.SubmissionGraded); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check graded submissions: %w", err)
	}
	return true, nil
}

// Create persists a new submission using compare-and-insert: the statement
// only inserts when no row exists for the (assignment, student) pair, so a
// concurrent create that loses the race surfaces as ErrDuplicateSubmission
// exactly like a pre-check failure.
func (r *SubmissionRepository) Create(ctx context.Context, submission *models.Submission) error {
	if submission.ID == "" {
		submission.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if submission.SubmittedAt.IsZero() {
		submission.SubmittedAt = now
	}
	if submission.CreatedAt.IsZero() {
		submission.CreatedAt = now
	}
	submission.UpdatedAt = now
	if submission.Status == "" {
		submission.Status = models.SubmissionSubmitted
	}

	const query = `INSERT INTO submissions (id, assignment_id, student_id, status, grade, comment, file_path, submitted_at, created_at, updated_at)
        VALUES (:id, :assignment_id, :student_id, :status, :grade, :comment, :file_path, :submitted_at, :created_at, :updated_at)
        ON CONFLICT (assignment_id, student_id) DO NOTHING`
	result, err := r.db.NamedExecContext(ctx, query, submission)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation {
			return ErrDuplicateSubmission
		}
		return fmt.Errorf("create submission: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("create submission: %w", err)
	}
	if affected == 0 {
		return ErrDuplicateSubmission
	}
	return nil
}

// Update persists the full mutable field set of a submission.
func (r *SubmissionRepository) Update(ctx context.Context, submission *models.Submission) error {
	submission.UpdatedAt = time.Now().UTC()
	const query = `UPDATE submissions SET status = :status, grade = :grade, comment = :comment,
        file_path = :file_path, submitted_at = :submitted_at, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, submission); err != nil {
		return fmt.Errorf("update submission: %w", err)
	}
	return nil
}

// Delete removes a submission record.
func (r *SubmissionRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM submissions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete submission: %w", err)
	}
	return nil
}

// ListForStudent returns the student's own submissions.
func (r *SubmissionRepository) ListForStudent(ctx context.Context, studentID string) ([]models.SubmissionDetail, error) {
	query := fmt.Sprintf("SELECT %s %s WHERE p.student_id = $1 ORDER BY p.submitted_at DESC", submissionDetailColumns, submissionDetailJoins)
	var submissions []models.SubmissionDetail
	if err := r.db.SelectContext(ctx, &submissions, query, studentID); err != nil {
		return nil, fmt.Errorf("list student submissions: %w", err)
	}
	return submissions, nil
}

// ListForProfessor returns submissions across subjects the professor
// teaches, through either teaching representation.
func (r *SubmissionRepository) ListForProfessor(ctx context.Context, professorID string) ([]models.SubmissionDetail, error) {
	query := fmt.Sprintf(`SELECT DISTINCT %s %s
        LEFT JOIN subject_professors sp ON sp.subject_id = s.id
        WHERE s.professor_id = $1 OR sp.professor_id = $1
        ORDER BY p.submitted_at DESC`, submissionDetailColumns, submissionDetailJoins)
	var submissions []models.SubmissionDetail
	if err := r.db.SelectContext(ctx, &submissions, query, professorID); err != nil {
		return nil, fmt.Errorf("list professor submissions: %w", err)
	}
	return submissions, nil
}

// ListAll returns every submission with its context.
func (r *SubmissionRepository) ListAll(ctx context.Context) ([]models.SubmissionDetail, error) {
	query := fmt.Sprintf("SELECT %s %s ORDER BY p.submitted_at DESC", submissionDetailColumns, submissionDetailJoins)
	var submissions []models.SubmissionDetail
	if err := r.db.SelectContext(ctx, &submissions, query); err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	return submissions, nil
}
