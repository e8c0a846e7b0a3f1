package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/classworks/edumarket-api/internal/models"
)

// TestRepository persists tests and their student rosters.
type TestRepository struct {
	db *sqlx.DB
}

// NewTestRepository constructs the repository.
func NewTestRepository(db *sqlx.DB) *TestRepository {
	return &TestRepository{db: db}
}

// FindByID returns a test by its ID.
func (r *TestRepository) FindByID(ctx context.Context, id string) (*models.Test, error) {
	const query = `SELECT id, batch_id, class_name, subject_name, title, full_marks, scheduled_at, created_by, created_at FROM tests WHERE id = $1`
	var test models.Test
	if err := r.db.GetContext(ctx, &test, query, id); err != nil {
		return nil, err
	}
	return &test, nil
}

// Create persists a new test.
func (r *TestRepository) Create(ctx context.Context, test *models.Test) error {
	if test.ID == "" {
		test.ID = uuid.NewString()
	}
	if test.CreatedAt.IsZero() {
		test.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO tests (id, batch_id, class_name, subject_name, title, full_marks, scheduled_at, created_by, created_at)
        VALUES (:id, :batch_id, :class_name, :subject_name, :title, :full_marks, :scheduled_at, :created_by, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, test); err != nil {
		return fmt.Errorf("create test: %w", err)
	}
	return nil
}

// ListAssignments returns the test roster.
func (r *TestRepository) ListAssignments(ctx context.Context, testID string) ([]models.TestAssignment, error) {
	const query = `SELECT id, test_id, student_id, marks_scored, submitted_at, evaluated_at FROM test_assignments WHERE test_id = $1 ORDER BY student_id`
	var assignments []models.TestAssignment
	if err := r.db.SelectContext(ctx, &assignments, query, testID); err != nil {
		return nil, fmt.Errorf("list test assignments: %w", err)
	}
	return assignments, nil
}

// AssignedStudentIDs returns which of the given students are already on the roster.
func (r *TestRepository) AssignedStudentIDs(ctx context.Context, testID string, studentIDs []string) (map[string]bool, error) {
	if len(studentIDs) == 0 {
		return map[string]bool{}, nil
	}
	const query = `SELECT student_id FROM test_assignments WHERE test_id = $1 AND student_id = ANY($2)`
	var existing []string
	if err := r.db.SelectContext(ctx, &existing, query, testID, pq.Array(studentIDs)); err != nil {
		return nil, fmt.Errorf("check test roster: %w", err)
	}
	result := make(map[string]bool, len(existing))
	for _, id := range existing {
		result[id] = true
	}
	return result, nil
}

// InsertAssignments appends students to the roster in one transaction; any
// failure rolls the whole roster change back.
func (r *TestRepository) InsertAssignments(ctx context.Context, testID string, studentIDs []string) error {
	if len(studentIDs) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin assign test students: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const query = `INSERT INTO test_assignments (id, test_id, student_id) VALUES ($1, $2, $3)`
	for _, studentID := range studentIDs {
		if _, err := tx.ExecContext(ctx, query, uuid.NewString(), testID, studentID); err != nil {
			return fmt.Errorf("insert test assignment: %w", err)
		}
	}
	return tx.Commit()
}

// RecordMarks stores an evaluation for one roster slot. Zero rows means the
// student is not on the roster.
func (r *TestRepository) RecordMarks(ctx context.Context, testID, studentID string, marks float64, evaluatedAt time.Time) (int64, error) {
	const query = `UPDATE test_assignments SET marks_scored = $3, evaluated_at = $4 WHERE test_id = $1 AND student_id = $2`
	res, err := r.db.ExecContext(ctx, query, testID, studentID, marks, evaluatedAt)
	if err != nil {
		return 0, fmt.Errorf("record marks: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("record marks: %w", err)
	}
	return affected, nil
}

// RecordSubmission stamps a student's submission time.
func (r *TestRepository) RecordSubmission(ctx context.Context, testID, studentID string, submittedAt time.Time) (int64, error) {
	const query = `UPDATE test_assignments SET submitted_at = $3 WHERE test_id = $1 AND student_id = $2 AND submitted_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, testID, studentID, submittedAt)
	if err != nil {
		return 0, fmt.Errorf("record submission: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("record submission: %w", err)
	}
	return affected, nil
}
