package models

import "time"

// Test is a class/subject scoped assessment within a batch.
type Test struct {
	ID          string    `db:"id" json:"id"`
	BatchID     string    `db:"batch_id" json:"batch_id"`
	ClassName   string    `db:"class_name" json:"class_name"`
	SubjectName string    `db:"subject_name" json:"subject_name"`
	Title       string    `db:"title" json:"title"`
	FullMarks   float64   `db:"full_marks" json:"full_marks"`
	ScheduledAt time.Time `db:"scheduled_at" json:"scheduled_at"`
	CreatedBy   string    `db:"created_by" json:"created_by"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// TestAssignment is one student's slot on a test roster.
// MarksScored stays nil until the submission is evaluated.
type TestAssignment struct {
	ID          string     `db:"id" json:"id"`
	TestID      string     `db:"test_id" json:"test_id"`
	StudentID   string     `db:"student_id" json:"student_id"`
	MarksScored *float64   `db:"marks_scored" json:"marks_scored,omitempty"`
	SubmittedAt *time.Time `db:"submitted_at" json:"submitted_at,omitempty"`
	EvaluatedAt *time.Time `db:"evaluated_at" json:"evaluated_at,omitempty"`
}

// TestStatistics are derived from the roster on every request, never stored.
type TestStatistics struct {
	TestID         string  `json:"test_id"`
	AssignedCount  int     `json:"assigned_count"`
	SubmittedCount int     `json:"submitted_count"`
	EvaluatedCount int     `json:"evaluated_count"`
	AverageMarks   float64 `json:"average_marks"`
	HighestMarks   float64 `json:"highest_marks"`
	LowestMarks    float64 `json:"lowest_marks"`
	AveragePercent float64 `json:"average_percent"`
	PassCount      int     `json:"pass_count"`
}
