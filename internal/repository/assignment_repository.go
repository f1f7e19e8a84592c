package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/evidencije/coursework-api/internal/models"
)

const assignmentDetailColumns = `a.id, a.subject_id, a.professor_id, a.title, a.description, a.due_at, a.created_at, a.updated_at,
        s.name AS subject_name, s.code AS subject_code,
        TRIM(CONCAT(u.first_name, ' ', u.last_name)) AS professor_full_name`

const assignmentDetailJoins = `FROM assignments a
        JOIN subjects s ON s.id = a.subject_id
        LEFT JOIN users u ON u.id = a.professor_id`

// AssignmentRepository handles persistence of assignments.
type AssignmentRepository struct {
	db *sqlx.DB
}

// NewAssignmentRepository constructs the repository.
func NewAssignmentRepository(db *sqlx.DB) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

// FindByID returns an assignment by its id.
func (r *AssignmentRepository) FindByID(ctx context.Context, id string) (*models.Assignment, error) {
	const query = `SELECT id, subject_id, professor_id, title, description, due_at, created_at, updated_at
        FROM assignments WHERE id = $1`
	var assignment models.Assignment
	if err := r.db.GetContext(ctx, &assignment, query, id); err != nil {
		return nil, err
	}
	return &assignment, nil
}

// FindDetailByID returns an assignment with subject and professor context.
func (r *AssignmentRepository) FindDetailByID(ctx context.Context, id string) (*models.AssignmentDetail, error) {
	query := fmt.Sprintf("SELECT %s %s WHERE a.id = $1", assignmentDetailColumns, assignmentDetailJoins)
	var detail models.AssignmentDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// ListForStudent returns assignments of subjects the student is enrolled in.
func (r *AssignmentRepository) ListForStudent(ctx context.Context, studentID string) ([]models.AssignmentDetail, error) {
	query := fmt.Sprintf(`SELECT %s %s
        JOIN enrollments e ON e.subject_id = a.subject_id
        WHERE e.student_id = $1
        ORDER BY a.due_at`, assignmentDetailColumns, assignmentDetailJoins)
	var assignments []models.AssignmentDetail
	if err := r.db.SelectContext(ctx, &assignments, query, studentID); err != nil {
		return nil, fmt.Errorf("list student assignments: %w", err)
	}
	return assignments, nil
}

// ListForProfessor returns assignments of subjects the professor teaches.
func (r *AssignmentRepository) ListForProfessor(ctx context.Context, professorID string) ([]models.AssignmentDetail, error) {
	query := fmt.Sprintf(`SELECT DISTINCT %s %s
        LEFT JOIN subject_professors sp ON sp.subject_id = a.subject_id
        WHERE s.professor_id = $1 OR sp.professor_id = $1
        ORDER BY a.due_at`, assignmentDetailColumns, assignmentDetailJoins)
	var assignments []models.AssignmentDetail
	if err := r.db.SelectContext(ctx, &assignments, query, professorID); err != nil {
		return nil, fmt.Errorf("list professor assignments: %w", err)
	}
	return assignments, nil
}

// ListAll returns every assignment with its context.
func (r *AssignmentRepository) ListAll(ctx context.Context) ([]models.AssignmentDetail, error) {
	query := fmt.Sprintf("SELECT %s %s ORDER BY a.due_at", assignmentDetailColumns, assignmentDetailJoins)
	var assignments []models.AssignmentDetail
	if err := r.db.SelectContext(ctx, &assignments, query); err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	return assignments, nil
}

// ListUpcomingForStudent returns future-dated assignments of the student's
// enrolled subjects, ordered by deadline.
func (r *AssignmentRepository) ListUpcomingForStudent(ctx context.Context, studentID string, now time.Time) ([]models.AssignmentDetail, error) {
	query := fmt.Sprintf(`SELECT %s %s
        JOIN enrollments e ON e.subject_id = a.subject_id
        WHERE e.student_id = $1 AND a.due_at >= $2
        ORDER BY a.due_at`, assignmentDetailColumns, assignmentDetailJoins)
	var assignments []models.AssignmentDetail
	if err := r.db.SelectContext(ctx, &assignments, query, studentID, now); err != nil {
		return nil, fmt.Errorf("list upcoming student assignments: %w", err)
	}
	return assignments, nil
}

// ListUpcomingForProfessor returns future-dated assignments of subjects the
// professor teaches, ordered by deadline.
func (r *AssignmentRepository) ListUpcomingForProfessor(ctx context.Context, professorID string, now time.Time) ([]models.AssignmentDetail, error) {
	query := fmt.Sprintf(`SELECT DISTINCT %s %s
        LEFT JOIN subject_professors sp ON sp.subject_id = a.subject_id
        WHERE (s.professor_id = $1 OR sp.professor_id = $1) AND a.due_at >= $2
        ORDER BY a.due_at`, assignmentDetailColumns, assignmentDetailJoins)
	var assignments []models.AssignmentDetail
	if err := r.db.SelectContext(ctx, &assignments, query, professorID, now); err != nil {
		return nil, fmt.Errorf("list upcoming professor assignments: %w", err)
	}
	return assignments, nil
}

// ListUpcomingAll returns every future-dated assignment, ordered by deadline.
func (r *AssignmentRepository) ListUpcomingAll(ctx context.Context, now time.Time) ([]models.AssignmentDetail, error) {
	query := fmt.Sprintf("SELECT %s %s WHERE a.due_at >= $1 ORDER BY a.due_at", assignmentDetailColumns, assignmentDetailJoins)
	var assignments []models.AssignmentDetail
	if err := r.db.SelectContext(ctx, &assignments, query, now); err != nil {
		return nil, fmt.Errorf("list upcoming assignments: %w", err)
	}
	return assignments, nil
}

// Create persists a new assignment record.
func (r *AssignmentRepository) Create(ctx context.Context, assignment *models.Assignment) error {
	if assignment.ID == "" {
		assignment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if assignment.CreatedAt.IsZero() {
		assignment.CreatedAt = now
	}
	assignment.UpdatedAt = now
	const query = `INSERT INTO assignments (id, subject_id, professor_id, title, description, due_at, created_at, updated_at)
        VALUES (:id, :subject_id, :professor_id, :title, :description, :due_at, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, assignment); err != nil {
		return fmt.Errorf("create assignment: %w", err)
	}
	return nil
}

// Update persists mutable assignment fields.
func (r *AssignmentRepository) Update(ctx context.Context, assignment *models.Assignment) error {
	assignment.UpdatedAt = time.Now().UTC()
	const query = `UPDATE assignments SET subject_id = :subject_id, title = :title, description = :description,
        due_at = :due_at, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, assignment); err != nil {
		return fmt.Errorf("update assignment: %w", err)
	}
	return nil
}

// Delete removes an assignment record.
func (r *AssignmentRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM assignments WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete assignment: %w", err)
	}
	return nil
}
