package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evidencije/coursework-api/internal/models"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	return sqlxdb, mock, func() {
		db.Close()
	}
}

func TestSubmissionCreateAssignsDefaults(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSubmissionRepository(db)

	mock.ExpectExec("INSERT INTO submissions").WillReturnResult(sqlmock.NewResult(0, 1))

	submission := &models.Submission{AssignmentID: "asg-1", StudentID: "stu-1"}
	err := repo.Create(context.Background(), submission)
	require.NoError(t, err)
	assert.NotEmpty(t, submission.ID)
	assert.Equal(t, models.SubmissionSubmitted, submission.Status)
	assert.False(t, submission.SubmittedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmissionCreateDuplicateViaConflictClause(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSubmissionRepository(db)

	// ON CONFLICT DO NOTHING swallows the insert; zero rows means a row for
	// the pair already existed.
	mock.ExpectExec("INSERT INTO submissions").WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Create(context.Background(), &models.Submission{AssignmentID: "asg-1", StudentID: "stu-1"})
	assert.ErrorIs(t, err, ErrDuplicateSubmission)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmissionCreateDuplicateViaUniqueViolation(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSubmissionRepository(db)

	mock.ExpectExec("INSERT INTO submissions").WillReturnError(&pq.Error{Code: pq.ErrorCode(pqUniqueViolation)})

	err := repo.Create(context.Background(), &models.Submission{AssignmentID: "asg-1", StudentID: "stu-1"})
	assert.ErrorIs(t, err, ErrDuplicateSubmission)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmissionExists(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSubmissionRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM submissions WHERE assignment_id = $1 AND student_id = $2 LIMIT 1")).
		WithArgs("asg-1", "stu-1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	exists, err := repo.Exists(context.Background(), "asg-1", "stu-1")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmissionExistsNoRow(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSubmissionRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM submissions WHERE assignment_id = $1 AND student_id = $2 LIMIT 1")).
		WithArgs("asg-1", "stu-1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))

	exists, err := repo.Exists(context.Background(), "asg-1", "stu-1")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHasGradedForStudent(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSubmissionRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM submissions WHERE student_id = $1 AND status = $2 LIMIT 1")).
		WithArgs("stu-1", string(models.SubmissionGraded)).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	graded, err := repo.HasGradedForStudent(context.Background(), "stu-1")
	require.NoError(t, err)
	assert.True(t, graded)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmissionFindByID(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSubmissionRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "assignment_id", "student_id", "status", "grade", "comment", "file_path", "submitted_at", "created_at", "updated_at"}).
		AddRow("s-1", "asg-1", "stu-1", string(models.SubmissionSubmitted), nil, nil, nil, now, now, now)
	mock.ExpectQuery("SELECT id, assignment_id, student_id, status, grade, comment, file_path, submitted_at, created_at, updated_at").
		WithArgs("s-1").
		WillReturnRows(rows)

	submission, err := repo.FindByID(context.Background(), "s-1")
	require.NoError(t, err)
	assert.Equal(t, "stu-1", submission.StudentID)
	assert.Nil(t, submission.Grade)
	assert.NoError(t, mock.ExpectationsWereMet())
}
