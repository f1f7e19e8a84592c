package models

import "time"

// SubmissionStatus labels a submission. The labels are professor-settable
// and mutually reachable; GRADED only blocks student-initiated deletion.
type SubmissionStatus string

const (
	SubmissionSubmitted SubmissionStatus = "SUBMITTED"
	SubmissionGraded    SubmissionStatus = "GRADED"
	SubmissionReturned  SubmissionStatus = "RETURNED"
	SubmissionLate      SubmissionStatus = "LATE"
)

// Valid reports whether the status is one of the recognized labels.
func (s SubmissionStatus) Valid() bool {
	switch s {
	case SubmissionSubmitted, SubmissionGraded, SubmissionReturned, SubmissionLate:
		return true
	default:
		return false
	}
}

// Submission is one student's response to one assignment. At most one
// submission exists per (assignment, student) pair.
type Submission struct {
	ID           string           `db:"id" json:"id"`
	AssignmentID string           `db:"assignment_id" json:"assignment_id"`
	StudentID    string           `db:"student_id" json:"student_id"`
	Status       SubmissionStatus `db:"status" json:"status"`
	Grade        *float64         `db:"grade" json:"grade,omitempty"`
	Comment      *string          `db:"comment" json:"comment,omitempty"`
	FilePath     *string          `db:"file_path" json:"file_path,omitempty"`
	SubmittedAt  time.Time        `db:"submitted_at" json:"submitted_at"`
	CreatedAt    time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time        `db:"updated_at" json:"updated_at"`
}

// SubmissionDetail joins in student, assignment and subject context plus the
// optional plagiarism check. The check is stripped before the record is
// handed to a student.
type SubmissionDetail struct {
	Submission
	StudentName       string           `db:"student_name" json:"student_name"`
	StudentEmail      string           `db:"student_email" json:"student_email"`
	AssignmentTitle   string           `db:"assignment_title" json:"assignment_title"`
	AssignmentDueAt   time.Time        `db:"assignment_due_at" json:"assignment_due_at"`
	SubjectID         string           `db:"subject_id" json:"subject_id"`
	SubjectName       string           `db:"subject_name" json:"subject_name"`
	SubjectCode       string           `db:"subject_code" json:"subject_code"`
	PlagiarismCheck   *PlagiarismCheck `json:"plagiarism_check,omitempty"`
}

// SubmissionScope selects which submissions a listing returns.
type SubmissionScope string

const (
	// ScopeMine lists the student's own submissions.
	ScopeMine SubmissionScope = "mine"
	// ScopeTaught lists submissions across subjects the professor teaches.
	ScopeTaught SubmissionScope = "taught"
	// ScopeAll lists every submission.
	ScopeAll SubmissionScope = "all"
)
