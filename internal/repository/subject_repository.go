package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/evidencije/coursework-api/internal/models"
	"github.com/evidencije/coursework-api/internal/policy"
)

// SubjectRepository handles persistence of subjects, their teaching set and
// their enrollment set.
type SubjectRepository struct {
	db *sqlx.DB
}

// NewSubjectRepository constructs the repository.
func NewSubjectRepository(db *sqlx.DB) *SubjectRepository {
	return &SubjectRepository{db: db}
}

// FindByID returns a subject by its id.
func (r *SubjectRepository) FindByID(ctx context.Context, id string) (*models.Subject, error) {
	const query = `SELECT id, code, name, year_level, professor_id, created_at, updated_at FROM subjects WHERE id = $1`
	var subject models.Subject
	if err := r.db.GetContext(ctx, &subject, query, id); err != nil {
		return nil, err
	}
	return &subject, nil
}

// ExistsByCode reports whether a subject with the code exists, optionally
// excluding one id. Codes are globally unique.
func (r *SubjectRepository) ExistsByCode(ctx context.Context, code, excludeID string) (bool, error) {
	query := "SELECT 1 FROM subjects WHERE code = $1"
	args := []interface{}{code}
	if excludeID != "" {
		query += " AND id <> $2"
		args = append(args, excludeID)
	}
	query += " LIMIT 1"
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check subject code: %w", err)
	}
	return true, nil
}

// Relation resolves the relation facts of a subject for policy evaluation:
// the legacy owner column, the teaching set and the enrollment set.
func (r *SubjectRepository) Relation(ctx context.Context, subjectID string) (policy.SubjectRelation, error) {
	var relation policy.SubjectRelation

	var owner sql.NullString
	if err := r.db.GetContext(ctx, &owner, `SELECT professor_id FROM subjects WHERE id = $1`, subjectID); err != nil {
		return relation, err
	}
	if owner.Valid {
		relation.OwnerProfessorID = owner.String
	}

	if err := r.db.SelectContext(ctx, &relation.ProfessorIDs,
		`SELECT professor_id FROM subject_professors WHERE subject_id = $1`, subjectID); err != nil {
		return relation, fmt.Errorf("load subject professors: %w", err)
	}
	if err := r.db.SelectContext(ctx, &relation.StudentIDs,
		`SELECT student_id FROM enrollments WHERE subject_id = $1`, subjectID); err != nil {
		return relation, fmt.Errorf("load subject enrollments: %w", err)
	}
	return relation, nil
}

// List returns subjects filtered by the provided criteria.
func (r *SubjectRepository) List(ctx context.Context, filter models.SubjectFilter) ([]models.Subject, int, error) {
	var conditions []string
	var args []interface{}

	if filter.YearLevel > 0 {
		conditions = append(conditions, fmt.Sprintf("year_level = $%d", len(args)+1))
		args = append(args, filter.YearLevel)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(name ILIKE $%d OR code ILIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+filter.Search+"%")
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 50
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT id, code, name, year_level, professor_id, created_at, updated_at
        FROM subjects%s ORDER BY code LIMIT %d OFFSET %d`, clause, size, offset)

	var subjects []models.Subject
	if err := r.db.SelectContext(ctx, &subjects, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list subjects: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM subjects"+clause, args...); err != nil {
		return nil, 0, fmt.Errorf("count subjects: %w", err)
	}
	return subjects, total, nil
}

// ListForStudent returns the subjects the student is enrolled in.
func (r *SubjectRepository) ListForStudent(ctx context.Context, studentID string) ([]models.Subject, error) {
	const query = `SELECT s.id, s.code, s.name, s.year_level, s.professor_id, s.created_at, s.updated_at
        FROM subjects s
        JOIN enrollments e ON e.subject_id = s.id
        WHERE e.student_id = $1
        ORDER BY s.code`
	var subjects []models.Subject
	if err := r.db.SelectContext(ctx, &subjects, query, studentID); err != nil {
		return nil, fmt.Errorf("list student subjects: %w", err)
	}
	return subjects, nil
}

// ListForProfessor returns the subjects the professor teaches, through the
// legacy owner column or the teaching set.
func (r *SubjectRepository) ListForProfessor(ctx context.Context, professorID string) ([]models.Subject, error) {
	const query = `SELECT DISTINCT s.id, s.code, s.name, s.year_level, s.professor_id, s.created_at, s.updated_at
        FROM subjects s
        LEFT JOIN subject_professors sp ON sp.subject_id = s.id
        WHERE s.professor_id = $1 OR sp.professor_id = $1
        ORDER BY s.code`
	var subjects []models.Subject
	if err := r.db.SelectContext(ctx, &subjects, query, professorID); err != nil {
		return nil, fmt.Errorf("list professor subjects: %w", err)
	}
	return subjects, nil
}

// Create persists a new subject record.
func (r *SubjectRepository) Create(ctx context.Context, subject *models.Subject) error {
	if subject.ID == "" {
		subject.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if subject.CreatedAt.IsZero() {
		subject.CreatedAt = now
	}
	subject.UpdatedAt = now
	const query = `INSERT INTO subjects (id, code, name, year_level, professor_id, created_at, updated_at)
        VALUES (:id, :code, :name, :year_level, :professor_id, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, subject); err != nil {
		return fmt.Errorf("create subject: %w", err)
	}
	return nil
}

// Update persists mutable subject fields.
func (r *SubjectRepository) Update(ctx context.Context, subject *models.Subject) error {
	subject.UpdatedAt = time.Now().UTC()
	const query = `UPDATE subjects SET code = :code, name = :name, year_level = :year_level,
        professor_id = :professor_id, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, subject); err != nil {
		return fmt.Errorf("update subject: %w", err)
	}
	return nil
}

// Delete removes a subject record.
func (r *SubjectRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM subjects WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete subject: %w", err)
	}
	return nil
}

// SyncProfessors replaces the subject's teaching set.
func (r *SubjectRepository) SyncProfessors(ctx context.Context, subjectID string, professorIDs []string) error {
	return r.syncMembers(ctx, "subject_professors", "professor_id", subjectID, professorIDs)
}

// SyncStudents replaces the subject's enrollment set.
func (r *SubjectRepository) SyncStudents(ctx context.Context, subjectID string, studentIDs []string) error {
	return r.syncMembers(ctx, "enrollments", "student_id", subjectID, studentIDs)
}

func (r *SubjectRepository) syncMembers(ctx context.Context, table, column, subjectID string, memberIDs []string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s sync: %w", table, err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE subject_id = $1", table), subjectID); err != nil {
		return fmt.Errorf("clear %s: %w", table, err)
	}
	for _, memberID := range memberIDs {
		insert := fmt.Sprintf("INSERT INTO %s (subject_id, %s) VALUES ($1, $2) ON CONFLICT DO NOTHING", table, column)
		if _, err := tx.ExecContext(ctx, insert, subjectID, memberID); err != nil {
			return fmt.Errorf("insert into %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s sync: %w", table, err)
	}
	return nil
}

// Members returns the user info of the subject's teaching and enrollment
// sets for detail responses.
func (r *SubjectRepository) Members(ctx context.Context, subjectID string) (professors, students []models.UserInfo, err error) {
	type memberRow struct {
		ID        string          `db:"id"`
		Email     string          `db:"email"`
		FirstName string          `db:"first_name"`
		LastName  string          `db:"last_name"`
		Role      models.UserRole `db:"role"`
	}

	const professorQuery = `SELECT DISTINCT u.id, u.email, u.first_name, u.last_name, u.role
        FROM users u
        LEFT JOIN subject_professors sp ON sp.professor_id = u.id AND sp.subject_id = $1
        LEFT JOIN subjects s ON s.professor_id = u.id AND s.id = $1
        WHERE sp.subject_id IS NOT NULL OR s.id IS NOT NULL
        ORDER BY u.last_name, u.first_name`
	var profRows []memberRow
	if err = r.db.SelectContext(ctx, &profRows, professorQuery, subjectID); err != nil {
		return nil, nil, fmt.Errorf("load subject professors: %w", err)
	}

	const studentQuery = `SELECT u.id, u.email, u.first_name, u.last_name, u.role
        FROM users u
        JOIN enrollments e ON e.student_id = u.id
        WHERE e.subject_id = $1
        ORDER BY u.last_name, u.first_name`
	var studentRows []memberRow
	if err = r.db.SelectContext(ctx, &studentRows, studentQuery, subjectID); err != nil {
		return nil, nil, fmt.Errorf("load subject students: %w", err)
	}

	toInfo := func(rows []memberRow) []models.UserInfo {
		infos := make([]models.UserInfo, 0, len(rows))
		for _, row := range rows {
			fullName := strings.TrimSpace(row.FirstName + " " + row.LastName)
			infos = append(infos, models.UserInfo{ID: row.ID, Email: row.Email, FullName: fullName, Role: row.Role})
		}
		return infos
	}
	return toInfo(profRows), toInfo(studentRows), nil
}
