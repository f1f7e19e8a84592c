package models

import "time"

// PlagiarismStatus tracks similarity-check progress.
type PlagiarismStatus string

const (
	PlagiarismPending PlagiarismStatus = "PENDING"
	PlagiarismDone    PlagiarismStatus = "DONE"
	PlagiarismFailed  PlagiarismStatus = "FAILED"
)

// PlagiarismCheck is a similarity-score record attached one-to-one to a
// submission. Visible only to staff roles, never to students.
type PlagiarismCheck struct {
	ID                string           `db:"id" json:"id"`
	SubmissionID      string           `db:"submission_id" json:"submission_id"`
	SimilarityPercent *float64         `db:"similarity_percent" json:"similarity_percent,omitempty"`
	Status            PlagiarismStatus `db:"status" json:"status"`
	CreatedAt         time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time        `db:"updated_at" json:"updated_at"`
}
