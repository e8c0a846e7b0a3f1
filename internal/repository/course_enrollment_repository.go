package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/classworks/edumarket-api/internal/models"
)

const enrollmentColumns = `id, student_id, course_id, course_type, enrollment_status, payment_status,
        order_id, payment_id, payment_signature, amount, currency, paid_at, expires_at,
        progress_percent, created_at, updated_at`

// CourseEnrollmentRepository persists the per (student, course) enrollment
// record. State transitions are conditional single-statement updates keyed on
// the current status, so two concurrent attempts cannot both advance the
// record; the loser sees zero rows affected and re-reads.
type CourseEnrollmentRepository struct {
	db *sqlx.DB
}

// NewCourseEnrollmentRepository constructs the repository.
func NewCourseEnrollmentRepository(db *sqlx.DB) *CourseEnrollmentRepository {
	return &CourseEnrollmentRepository{db: db}
}

// FindByID returns an enrollment by its ID.
func (r *CourseEnrollmentRepository) FindByID(ctx context.Context, id string) (*models.CourseEnrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM course_enrollments WHERE id = $1`, enrollmentColumns)
	var enrollment models.CourseEnrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindByStudentAndCourse returns the single record a student holds for a course.
func (r *CourseEnrollmentRepository) FindByStudentAndCourse(ctx context.Context, studentID, courseID string) (*models.CourseEnrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM course_enrollments WHERE student_id = $1 AND course_id = $2`, enrollmentColumns)
	var enrollment models.CourseEnrollment
	if err := r.db.GetContext(ctx, &enrollment, query, studentID, courseID); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// ListByStudent returns all enrollments of a student.
func (r *CourseEnrollmentRepository) ListByStudent(ctx context.Context, studentID string) ([]models.CourseEnrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM course_enrollments WHERE student_id = $1 ORDER BY created_at DESC`, enrollmentColumns)
	var enrollments []models.CourseEnrollment
	if err := r.db.SelectContext(ctx, &enrollments, query, studentID); err != nil {
		return nil, fmt.Errorf("list enrollments: %w", err)
	}
	return enrollments, nil
}

// Create persists a new enrollment record. The unique (student_id, course_id)
// constraint rejects a concurrent duplicate.
func (r *CourseEnrollmentRepository) Create(ctx context.Context, enrollment *models.CourseEnrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	enrollment.CreatedAt = now
	enrollment.UpdatedAt = now
	const query = `INSERT INTO course_enrollments (id, student_id, course_id, course_type, enrollment_status, payment_status,
        order_id, payment_id, payment_signature, amount, currency, paid_at, expires_at, progress_percent, created_at, updated_at)
        VALUES (:id, :student_id, :course_id, :course_type, :enrollment_status, :payment_status,
        :order_id, :payment_id, :payment_signature, :amount, :currency, :paid_at, :expires_at, :progress_percent, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, enrollment); err != nil {
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

// CompletePayment advances a pending enrollment to enrolled with verified
// payment details. Returns the number of rows advanced: zero means the record
// was not pending any more.
func (r *CourseEnrollmentRepository) CompletePayment(ctx context.Context, id, paymentID, signature string, paidAt time.Time, expiresAt *time.Time) (int64, error) {
	const query = `UPDATE course_enrollments
        SET enrollment_status = $2, payment_status = $3, payment_id = $4, payment_signature = $5,
            paid_at = $6, expires_at = $7, updated_at = $8
        WHERE id = $1 AND enrollment_status = $9`
	res, err := r.db.ExecContext(ctx, query, id,
		models.EnrollmentStatusEnrolled, models.PaymentStatusCompleted,
		paymentID, signature, paidAt, expiresAt, time.Now().UTC(),
		models.EnrollmentStatusPending)
	if err != nil {
		return 0, fmt.Errorf("complete enrollment payment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("complete enrollment payment: %w", err)
	}
	return affected, nil
}

// Cancel moves a pending enrollment to cancelled. Zero rows means the record
// had already left the pending state.
func (r *CourseEnrollmentRepository) Cancel(ctx context.Context, id string) (int64, error) {
	const query = `UPDATE course_enrollments
        SET enrollment_status = $2,
            payment_status = CASE WHEN payment_status = $3 THEN $4 ELSE payment_status END,
            updated_at = $5
        WHERE id = $1 AND enrollment_status = $6`
	res, err := r.db.ExecContext(ctx, query, id,
		models.EnrollmentStatusCancelled,
		models.PaymentStatusPending, models.PaymentStatusFailed,
		time.Now().UTC(), models.EnrollmentStatusPending)
	if err != nil {
		return 0, fmt.Errorf("cancel enrollment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cancel enrollment: %w", err)
	}
	return affected, nil
}

// UpsertProgress records a completed-video marker. Watch time is monotonic:
// the stored value never decreases.
func (r *CourseEnrollmentRepository) UpsertProgress(ctx context.Context, enrollmentID, videoID string, watchTime int64) error {
	const query = `INSERT INTO enrollment_progress (id, enrollment_id, video_id, watch_time, updated_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (enrollment_id, video_id)
        DO UPDATE SET watch_time = GREATEST(enrollment_progress.watch_time, EXCLUDED.watch_time), updated_at = EXCLUDED.updated_at`
	if _, err := r.db.ExecContext(ctx, query, uuid.NewString(), enrollmentID, videoID, watchTime, time.Now().UTC()); err != nil {
		return fmt.Errorf("upsert progress: %w", err)
	}
	return nil
}

// ListProgress returns all progress markers for an enrollment.
func (r *CourseEnrollmentRepository) ListProgress(ctx context.Context, enrollmentID string) ([]models.VideoProgress, error) {
	const query = `SELECT id, enrollment_id, video_id, watch_time, updated_at FROM enrollment_progress WHERE enrollment_id = $1 ORDER BY video_id`
	var progress []models.VideoProgress
	if err := r.db.SelectContext(ctx, &progress, query, enrollmentID); err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}
	return progress, nil
}

// UpdateProgressPercent stores the recomputed overall percentage.
func (r *CourseEnrollmentRepository) UpdateProgressPercent(ctx context.Context, id string, percent float64) error {
	const query = `UPDATE course_enrollments SET progress_percent = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, percent, time.Now().UTC()); err != nil {
		return fmt.Errorf("update progress percent: %w", err)
	}
	return nil
}
