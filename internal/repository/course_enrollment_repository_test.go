package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/classworks/edumarket-api/internal/models"
)

func newEnrollmentRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestCourseEnrollmentRepositoryCreateAndFind(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()

	repo := NewCourseEnrollmentRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO course_enrollments")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	enrollment := &models.CourseEnrollment{
		StudentID:        "stu-1",
		CourseID:         "course-1",
		CourseType:       models.CourseTypeRecorded,
		EnrollmentStatus: models.EnrollmentStatusPending,
		PaymentStatus:    models.PaymentStatusPending,
		Amount:           49900,
		Currency:         "INR",
	}
	require.NoError(t, repo.Create(context.Background(), enrollment))
	require.NotEmpty(t, enrollment.ID)

	rows := sqlmock.NewRows([]string{"id", "student_id", "course_id", "course_type", "enrollment_status", "payment_status",
		"order_id", "payment_id", "payment_signature", "amount", "currency", "paid_at", "expires_at",
		"progress_percent", "created_at", "updated_at"}).
		AddRow(enrollment.ID, "stu-1", "course-1", "RECORDED", "PENDING", "PENDING",
			nil, nil, nil, 49900, "INR", nil, nil, 0.0, time.Now(), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT")).
		WithArgs(enrollment.ID).
		WillReturnRows(rows)

	found, err := repo.FindByID(context.Background(), enrollment.ID)
	require.NoError(t, err)
	require.Equal(t, models.EnrollmentStatusPending, found.EnrollmentStatus)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseEnrollmentRepositoryCompletePaymentConditional(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()

	repo := NewCourseEnrollmentRepository(db)
	paidAt := time.Now().UTC()
	expiresAt := paidAt.Add(365 * 24 * time.Hour)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE course_enrollments")).
		WithArgs("en-1", string(models.EnrollmentStatusEnrolled), string(models.PaymentStatusCompleted),
			"pay-1", "sig-1", paidAt, sqlmock.AnyArg(), sqlmock.AnyArg(), string(models.EnrollmentStatusPending)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	affected, err := repo.CompletePayment(context.Background(), "en-1", "pay-1", "sig-1", paidAt, &expiresAt)
	require.NoError(t, err)
	require.Equal(t, int64(1), affected)

	// a loser of the race sees zero rows, no error
	mock.ExpectExec(regexp.QuoteMeta("UPDATE course_enrollments")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	affected, err = repo.CompletePayment(context.Background(), "en-1", "pay-2", "sig-2", paidAt, &expiresAt)
	require.NoError(t, err)
	require.Equal(t, int64(0), affected)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseEnrollmentRepositoryCancelConditional(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()

	repo := NewCourseEnrollmentRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE course_enrollments")).
		WithArgs("en-1", string(models.EnrollmentStatusCancelled),
			string(models.PaymentStatusPending), string(models.PaymentStatusFailed),
			sqlmock.AnyArg(), string(models.EnrollmentStatusPending)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	affected, err := repo.Cancel(context.Background(), "en-1")
	require.NoError(t, err)
	require.Equal(t, int64(1), affected)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseEnrollmentRepositoryUpsertProgressMonotonic(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()

	repo := NewCourseEnrollmentRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (enrollment_id, video_id)")).
		WithArgs(sqlmock.AnyArg(), "en-1", "vid-1", int64(300), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.UpsertProgress(context.Background(), "en-1", "vid-1", 300))
	require.NoError(t, mock.ExpectationsWereMet())
}
