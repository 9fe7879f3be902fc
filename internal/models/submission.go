package models

import (
	"time"

	"github.com/google/uuid"
)

type Submission struct {
	ID           string    `json:"id" db:"id"`
	StudentID    string    `json:"student_id" db:"student_id"`
	AssignmentID string    `json:"assignment_id" db:"assignment_id"`
	Content      *string   `json:"content,omitempty" db:"content"`
	FileURL      *string   `json:"file_url,omitempty" db:"file_url"`
	Graded       bool      `json:"graded" db:"graded"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

func (s *Submission) HasFile() bool {
	return s.FileURL != nil && *s.FileURL != ""
}

// CanonicalID returns the lowercase hyphenated form Postgres prints for a UUID.
// Upper case, braces and urn:uuid: prefixes are accepted; ok is false for anything else.
func CanonicalID(id string) (string, bool) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return id, false
	}
	return parsed.String(), true
}

// SubmissionAccess связывает работу с преподавателем класса, которому принадлежит задание.
// TeacherID пустой, если цепочка assignment -> class -> teacher не восстанавливается.
type SubmissionAccess struct {
	Submission
	TeacherID string `json:"teacher_id" db:"teacher_id"`
}
