package models

import "time"

// Assignment is a gradable task belonging to exactly one subject.
type Assignment struct {
	ID          string    `db:"id" json:"id"`
	SubjectID   string    `db:"subject_id" json:"subject_id"`
	ProfessorID string    `db:"professor_id" json:"professor_id"`
	Title       string    `db:"title" json:"title"`
	Description string    `db:"description" json:"description"`
	DueAt       time.Time `db:"due_at" json:"due_at"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// AssignmentDetail joins in the subject and authoring professor context.
type AssignmentDetail struct {
	Assignment
	SubjectName       string `db:"subject_name" json:"subject_name"`
	SubjectCode       string `db:"subject_code" json:"subject_code"`
	ProfessorFullName string `db:"professor_full_name" json:"professor_full_name"`
}
