package models

import (
	"time"

	"github.com/lib/pq"
)

// Batch groups students and teachers around a set of classes and subjects.
type Batch struct {
	ID        string         `db:"id" json:"id"`
	Name      string         `db:"name" json:"name"`
	Classes   pq.StringArray `db:"classes" json:"classes"`
	CreatedBy string         `db:"created_by" json:"created_by"`
	Active    bool           `db:"active" json:"active"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt time.Time      `db:"updated_at" json:"updated_at"`
}

// BatchSubject is a subject taught within a batch, optionally owned by a teacher.
type BatchSubject struct {
	ID          string  `db:"id" json:"id"`
	BatchID     string  `db:"batch_id" json:"batch_id"`
	Name        string  `db:"name" json:"name"`
	TeacherID   *string `db:"teacher_id" json:"teacher_id,omitempty"`
	TeacherName *string `db:"teacher_name" json:"teacher_name,omitempty"`
}

// StudentAssignment records one student's membership in a batch.
// A student has at most one assignment per batch.
type StudentAssignment struct {
	ID         string         `db:"id" json:"id"`
	BatchID    string         `db:"batch_id" json:"batch_id"`
	StudentID  string         `db:"student_id" json:"student_id"`
	Classes    pq.StringArray `db:"classes" json:"classes"`
	EnrolledAt time.Time      `db:"enrolled_at" json:"enrolled_at"`

	Subjects []AssignedSubject `db:"-" json:"subjects"`
}

// AssignedSubject is the denormalized per-assignment snapshot of a batch subject.
// Name and teacher are refreshed whenever the subject's teacher changes.
type AssignedSubject struct {
	ID           string  `db:"id" json:"id"`
	AssignmentID string  `db:"assignment_id" json:"assignment_id"`
	SubjectID    string  `db:"subject_id" json:"subject_id"`
	SubjectName  string  `db:"subject_name" json:"subject_name"`
	TeacherID    *string `db:"teacher_id" json:"teacher_id,omitempty"`
	TeacherName  *string `db:"teacher_name" json:"teacher_name,omitempty"`
}

// BatchDetail bundles a batch with its subjects and student roster.
type BatchDetail struct {
	Batch
	Subjects    []BatchSubject      `json:"subjects"`
	Assignments []StudentAssignment `json:"assignments"`
}

// BatchFilter defines filter criteria for listing batches.
type BatchFilter struct {
	Search    string
	Active    *bool
	CreatedBy string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
