package models

import "time"

// Subject represents a course students enroll into. ProfessorID is the
// legacy single-owner column; the subject_professors table carries the
// many-to-many teaching set. Both are honored when deciding who teaches.
type Subject struct {
	ID          string    `db:"id" json:"id"`
	Code        string    `db:"code" json:"code"`
	Name        string    `db:"name" json:"name"`
	YearLevel   int       `db:"year_level" json:"year_level"`
	ProfessorID *string   `db:"professor_id" json:"professor_id,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// SubjectDetail augments a subject with its teaching and enrollment sets.
type SubjectDetail struct {
	Subject
	Professors []UserInfo `json:"professors"`
	Students   []UserInfo `json:"students"`
}

// SubjectFilter captures supported filters for listing subjects.
type SubjectFilter struct {
	YearLevel int
	Search    string
	Page      int
	PageSize  int
}
