package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/classworks/edumarket-api/internal/models"
)

// BatchRepository handles persistence of batches, their subjects and the
// student roster. Mutations that touch more than one row run inside a single
// transaction so concurrent editors cannot observe partial state.
type BatchRepository struct {
	db *sqlx.DB
}

// NewBatchRepository constructs the repository.
func NewBatchRepository(db *sqlx.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

// FindByID returns a batch by its ID.
func (r *BatchRepository) FindByID(ctx context.Context, id string) (*models.Batch, error) {
	const query = `SELECT id, name, classes, created_by, active, created_at, updated_at FROM batches WHERE id = $1`
	var batch models.Batch
	if err := r.db.GetContext(ctx, &batch, query, id); err != nil {
		return nil, err
	}
	return &batch, nil
}

// ExistsByName reports whether a batch with the given name exists.
func (r *BatchRepository) ExistsByName(ctx context.Context, name string) (bool, error) {
	const query = `SELECT 1 FROM batches WHERE name = $1 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, name); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check batch name: %w", err)
	}
	return true, nil
}

// List returns batches filtered by the provided criteria.
func (r *BatchRepository) List(ctx context.Context, filter models.BatchFilter) ([]models.Batch, int, error) {
	var conditions []string
	var args []interface{}

	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("name ILIKE $%d", len(args)+1))
		args = append(args, "%"+filter.Search+"%")
	}
	if filter.Active != nil {
		conditions = append(conditions, fmt.Sprintf("active = $%d", len(args)+1))
		args = append(args, *filter.Active)
	}
	if filter.CreatedBy != "" {
		conditions = append(conditions, fmt.Sprintf("created_by = $%d", len(args)+1))
		args = append(args, filter.CreatedBy)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT id, name, classes, created_by, active, created_at, updated_at FROM batches%s ORDER BY created_at %s LIMIT %d OFFSET %d`, clause, order, size, offset)
	var batches []models.Batch
	if err := r.db.SelectContext(ctx, &batches, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list batches: %w", err)
	}

	countQuery := "SELECT COUNT(*) FROM batches" + clause
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count batches: %w", err)
	}
	return batches, total, nil
}

// Create persists a batch and its subjects atomically.
func (r *BatchRepository) Create(ctx context.Context, batch *models.Batch, subjects []models.BatchSubject) error {
	if batch.ID == "" {
		batch.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	batch.CreatedAt = now
	batch.UpdatedAt = now
	batch.Active = true

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create batch: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const batchQuery = `INSERT INTO batches (id, name, classes, created_by, active, created_at, updated_at)
        VALUES (:id, :name, :classes, :created_by, :active, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, batchQuery, batch); err != nil {
		return fmt.Errorf("create batch: %w", err)
	}

	const subjectQuery = `INSERT INTO batch_subjects (id, batch_id, name, teacher_id, teacher_name)
        VALUES (:id, :batch_id, :name, :teacher_id, :teacher_name)`
	for i := range subjects {
		if subjects[i].ID == "" {
			subjects[i].ID = uuid.NewString()
		}
		subjects[i].BatchID = batch.ID
		if _, err := tx.NamedExecContext(ctx, subjectQuery, subjects[i]); err != nil {
			return fmt.Errorf("create batch subject: %w", err)
		}
	}

	return tx.Commit()
}

// ListSubjects returns the subjects of a batch.
func (r *BatchRepository) ListSubjects(ctx context.Context, batchID string) ([]models.BatchSubject, error) {
	const query = `SELECT id, batch_id, name, teacher_id, teacher_name FROM batch_subjects WHERE batch_id = $1 ORDER BY name`
	var subjects []models.BatchSubject
	if err := r.db.SelectContext(ctx, &subjects, query, batchID); err != nil {
		return nil, fmt.Errorf("list batch subjects: %w", err)
	}
	return subjects, nil
}

// FindSubjectByID returns one subject of a batch.
func (r *BatchRepository) FindSubjectByID(ctx context.Context, batchID, subjectID string) (*models.BatchSubject, error) {
	const query = `SELECT id, batch_id, name, teacher_id, teacher_name FROM batch_subjects WHERE batch_id = $1 AND id = $2`
	var subject models.BatchSubject
	if err := r.db.GetContext(ctx, &subject, query, batchID, subjectID); err != nil {
		return nil, err
	}
	return &subject, nil
}

// ListAssignments returns the student roster with denormalized subject snapshots.
func (r *BatchRepository) ListAssignments(ctx context.Context, batchID string) ([]models.StudentAssignment, error) {
	const query = `SELECT id, batch_id, student_id, classes, enrolled_at FROM batch_students WHERE batch_id = $1 ORDER BY enrolled_at`
	var assignments []models.StudentAssignment
	if err := r.db.SelectContext(ctx, &assignments, query, batchID); err != nil {
		return nil, fmt.Errorf("list batch students: %w", err)
	}
	if len(assignments) == 0 {
		return assignments, nil
	}

	ids := make([]string, len(assignments))
	index := make(map[string]int, len(assignments))
	for i, a := range assignments {
		ids[i] = a.ID
		index[a.ID] = i
	}

	const subjectQuery = `SELECT id, assignment_id, subject_id, subject_name, teacher_id, teacher_name
        FROM batch_student_subjects WHERE assignment_id = ANY($1) ORDER BY subject_name`
	var subjects []models.AssignedSubject
	if err := r.db.SelectContext(ctx, &subjects, subjectQuery, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("list assignment subjects: %w", err)
	}
	for _, s := range subjects {
		i := index[s.AssignmentID]
		assignments[i].Subjects = append(assignments[i].Subjects, s)
	}
	return assignments, nil
}

// AssignedStudentIDs returns which of the given students already hold an
// assignment in the batch.
func (r *BatchRepository) AssignedStudentIDs(ctx context.Context, batchID string, studentIDs []string) (map[string]bool, error) {
	if len(studentIDs) == 0 {
		return map[string]bool{}, nil
	}
	const query = `SELECT student_id FROM batch_students WHERE batch_id = $1 AND student_id = ANY($2)`
	var existing []string
	if err := r.db.SelectContext(ctx, &existing, query, batchID, pq.Array(studentIDs)); err != nil {
		return nil, fmt.Errorf("check assigned students: %w", err)
	}
	result := make(map[string]bool, len(existing))
	for _, id := range existing {
		result[id] = true
	}
	return result, nil
}

// InsertAssignments appends student assignments and their subject snapshots
// in one transaction. A concurrent duplicate insert loses on the unique
// (batch_id, student_id) constraint and is skipped, keeping the add idempotent.
func (r *BatchRepository) InsertAssignments(ctx context.Context, assignments []models.StudentAssignment) error {
	if len(assignments) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin assign students: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const assignmentQuery = `INSERT INTO batch_students (id, batch_id, student_id, classes, enrolled_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (batch_id, student_id) DO NOTHING`
	const subjectQuery = `INSERT INTO batch_student_subjects (id, assignment_id, subject_id, subject_name, teacher_id, teacher_name)
        VALUES ($1, $2, $3, $4, $5, $6)`

	for i := range assignments {
		a := &assignments[i]
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		if a.EnrolledAt.IsZero() {
			a.EnrolledAt = time.Now().UTC()
		}
		res, err := tx.ExecContext(ctx, assignmentQuery, a.ID, a.BatchID, a.StudentID, a.Classes, a.EnrolledAt)
		if err != nil {
			return fmt.Errorf("insert student assignment: %w", err)
		}
		inserted, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("insert student assignment: %w", err)
		}
		if inserted == 0 {
			continue
		}
		for j := range a.Subjects {
			s := &a.Subjects[j]
			if s.ID == "" {
				s.ID = uuid.NewString()
			}
			s.AssignmentID = a.ID
			if _, err := tx.ExecContext(ctx, subjectQuery, s.ID, s.AssignmentID, s.SubjectID, s.SubjectName, s.TeacherID, s.TeacherName); err != nil {
				return fmt.Errorf("insert assignment subject: %w", err)
			}
		}
	}

	return tx.Commit()
}

// RemoveStudents deletes matching assignments and returns how many were removed.
func (r *BatchRepository) RemoveStudents(ctx context.Context, batchID string, studentIDs []string) (int64, error) {
	if len(studentIDs) == 0 {
		return 0, nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin remove students: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const subjectQuery = `DELETE FROM batch_student_subjects WHERE assignment_id IN (
        SELECT id FROM batch_students WHERE batch_id = $1 AND student_id = ANY($2))`
	if _, err := tx.ExecContext(ctx, subjectQuery, batchID, pq.Array(studentIDs)); err != nil {
		return 0, fmt.Errorf("remove assignment subjects: %w", err)
	}

	const assignmentQuery = `DELETE FROM batch_students WHERE batch_id = $1 AND student_id = ANY($2)`
	res, err := tx.ExecContext(ctx, assignmentQuery, batchID, pq.Array(studentIDs))
	if err != nil {
		return 0, fmt.Errorf("remove student assignments: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("remove student assignments: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return removed, nil
}

// UpdateSubjectTeacher changes the subject's teacher and refreshes every
// denormalized snapshot referencing it in the same transaction, so a roster
// read never observes the new teacher on the subject but the old one on an
// assignment.
func (r *BatchRepository) UpdateSubjectTeacher(ctx context.Context, batchID, subjectID string, teacherID, teacherName *string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin assign teacher: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const subjectQuery = `UPDATE batch_subjects SET teacher_id = $3, teacher_name = $4 WHERE batch_id = $1 AND id = $2`
	res, err := tx.ExecContext(ctx, subjectQuery, batchID, subjectID, teacherID, teacherName)
	if err != nil {
		return fmt.Errorf("update subject teacher: %w", err)
	}
	updated, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update subject teacher: %w", err)
	}
	if updated == 0 {
		return sql.ErrNoRows
	}

	const snapshotQuery = `UPDATE batch_student_subjects SET teacher_id = $2, teacher_name = $3
        WHERE subject_id = $1`
	if _, err := tx.ExecContext(ctx, snapshotQuery, subjectID, teacherID, teacherName); err != nil {
		return fmt.Errorf("refresh teacher snapshots: %w", err)
	}

	return tx.Commit()
}

// EligibleStudents returns students assigned to both the class and the subject.
func (r *BatchRepository) EligibleStudents(ctx context.Context, batchID, className, subjectName string) ([]string, error) {
	const query = `SELECT bs.student_id FROM batch_students bs
        WHERE bs.batch_id = $1 AND $2 = ANY(bs.classes)
        AND EXISTS (SELECT 1 FROM batch_student_subjects ss WHERE ss.assignment_id = bs.id AND ss.subject_name = $3)
        ORDER BY bs.student_id`
	var students []string
	if err := r.db.SelectContext(ctx, &students, query, batchID, className, subjectName); err != nil {
		return nil, fmt.Errorf("eligible students: %w", err)
	}
	return students, nil
}

// Deactivate soft-deletes a batch. Referential children (tests, attendance)
// keep pointing at it.
func (r *BatchRepository) Deactivate(ctx context.Context, id string) error {
	const query = `UPDATE batches SET active = FALSE, updated_at = $2 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("deactivate batch: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deactivate batch: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
