package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/classworks/edumarket-api/internal/models"
	appErrors "github.com/classworks/edumarket-api/pkg/errors"
	"github.com/classworks/edumarket-api/pkg/payment"
)

// enrollmentValidity is how long a paid enrollment stays active.
const enrollmentValidity = 365 * 24 * time.Hour

type enrollmentRepository interface {
	FindByID(ctx context.Context, id string) (*models.CourseEnrollment, error)
	FindByStudentAndCourse(ctx context.Context, studentID, courseID string) (*models.CourseEnrollment, error)
	ListByStudent(ctx context.Context, studentID string) ([]models.CourseEnrollment, error)
	Create(ctx context.Context, enrollment *models.CourseEnrollment) error
	CompletePayment(ctx context.Context, id, paymentID, signature string, paidAt time.Time, expiresAt *time.Time) (int64, error)
	Cancel(ctx context.Context, id string) (int64, error)
	UpsertProgress(ctx context.Context, enrollmentID, videoID string, watchTime int64) error
	ListProgress(ctx context.Context, enrollmentID string) ([]models.VideoProgress, error)
	UpdateProgressPercent(ctx context.Context, id string, percent float64) error
}

type courseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

type orderCreator interface {
	CreateOrder(ctx context.Context, amount int64, currency string) (*payment.Order, error)
}

type signatureVerifier interface {
	Verify(a payment.Assertion) bool
}

type paymentObserver interface {
	ObservePaymentVerification(kind string, ok bool)
}

// EnrollRequest describes a course enrollment request.
type EnrollRequest struct {
	CourseID string `json:"course_id" validate:"required"`
}

// UpdateProgressRequest records one video watch event.
type UpdateProgressRequest struct {
	VideoID   string `json:"video_id" validate:"required"`
	WatchTime int64  `json:"watch_time" validate:"gte=0"`
}

// EnrollmentService drives the payment-gated course enrollment state machine:
// pending → enrolled or cancelled, with expiry derived at read time.
type EnrollmentService struct {
	repo      enrollmentRepository
	courses   courseReader
	students  userReader
	gateway   orderCreator
	signer    signatureVerifier
	metrics   paymentObserver
	validator *validator.Validate
	logger    *zap.Logger
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(repo enrollmentRepository, courses courseReader, students userReader, gateway orderCreator, signer signatureVerifier, metrics paymentObserver, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{repo: repo, courses: courses, students: students, gateway: gateway, signer: signer, metrics: metrics, validator: validate, logger: logger}
}

// Enroll creates the student's single enrollment record for a course. Free
// courses are enrolled immediately; paid ones start pending with a gateway
// order attached. A second enroll attempt conflicts; the caller should fetch
// the existing record instead.
func (s *EnrollmentService) Enroll(ctx context.Context, studentID string, req EnrollRequest) (*models.CourseEnrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}

	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if !student.Active {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "student inactive")
	}

	course, err := s.courses.FindByID(ctx, req.CourseID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if !course.Active {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "course inactive")
	}

	if _, err := s.repo.FindByStudentAndCourse(ctx, studentID, req.CourseID); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "enrollment already exists for this course")
	} else if err != sql.ErrNoRows {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
	}

	enrollment := &models.CourseEnrollment{
		StudentID:  studentID,
		CourseID:   course.ID,
		CourseType: course.Type,
		Amount:     course.Price,
		Currency:   course.Currency,
	}

	if course.Free() {
		enrollment.EnrollmentStatus = models.EnrollmentStatusEnrolled
		enrollment.PaymentStatus = models.PaymentStatusNotRequired
	} else {
		order, err := s.gateway.CreateOrder(ctx, course.Price, course.Currency)
		if err != nil {
			return nil, appErrors.FromError(err)
		}
		enrollment.EnrollmentStatus = models.EnrollmentStatusPending
		enrollment.PaymentStatus = models.PaymentStatusPending
		enrollment.OrderID = &order.ID
	}

	if err := s.repo.Create(ctx, enrollment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment")
	}
	return enrollment, nil
}

// CompletePayment verifies the gateway assertion and advances a pending
// enrollment to enrolled. Re-submitting the assertion that already completed
// the enrollment is a no-op returning the current record; an invalid
// signature leaves the record untouched.
func (s *EnrollmentService) CompletePayment(ctx context.Context, enrollmentID string, assertion payment.Assertion) (*models.CourseEnrollment, error) {
	if err := s.validator.Struct(assertion); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payment assertion")
	}

	enrollment, err := s.loadEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}

	switch enrollment.EnrollmentStatus {
	case models.EnrollmentStatusEnrolled:
		if enrollment.PaymentID != nil && *enrollment.PaymentID == assertion.PaymentID {
			return enrollment, nil
		}
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "enrollment already completed with a different payment")
	case models.EnrollmentStatusCancelled:
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "enrollment cancelled")
	}

	if enrollment.OrderID == nil || *enrollment.OrderID != assertion.OrderID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "order does not belong to this enrollment")
	}

	ok := s.signer.Verify(assertion)
	if s.metrics != nil {
		s.metrics.ObservePaymentVerification("enrollment", ok)
	}
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrPaymentVerification, "payment signature mismatch")
	}

	now := time.Now().UTC()
	expiresAt := now.Add(enrollmentValidity)
	advanced, err := s.repo.CompletePayment(ctx, enrollmentID, assertion.PaymentID, assertion.Signature, now, &expiresAt)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to complete payment")
	}
	if advanced == 0 {
		// Lost a race: someone else advanced the record first. Re-read and
		// classify instead of failing.
		current, err := s.loadEnrollment(ctx, enrollmentID)
		if err != nil {
			return nil, err
		}
		if current.EnrollmentStatus == models.EnrollmentStatusEnrolled && current.PaymentID != nil && *current.PaymentID == assertion.PaymentID {
			return current, nil
		}
		return nil, appErrors.Clone(appErrors.ErrConflict, "enrollment advanced concurrently")
	}

	return s.loadEnrollment(ctx, enrollmentID)
}

// Cancel aborts a pending enrollment. Enrolled records must go through the
// refund flow instead; cancelling one is rejected.
func (s *EnrollmentService) Cancel(ctx context.Context, enrollmentID string) (*models.CourseEnrollment, error) {
	enrollment, err := s.loadEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	if enrollment.EnrollmentStatus == models.EnrollmentStatusCancelled {
		return enrollment, nil
	}
	if enrollment.EnrollmentStatus != models.EnrollmentStatusPending {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "only pending enrollments can be cancelled")
	}

	cancelled, err := s.repo.Cancel(ctx, enrollmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel enrollment")
	}
	if cancelled == 0 {
		current, err := s.loadEnrollment(ctx, enrollmentID)
		if err != nil {
			return nil, err
		}
		if current.EnrollmentStatus == models.EnrollmentStatusCancelled {
			return current, nil
		}
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "only pending enrollments can be cancelled")
	}
	return s.loadEnrollment(ctx, enrollmentID)
}

// UpdateProgress upserts one video marker. Watch time never decreases, and
// the overall percentage is recomputed from the markers.
func (s *EnrollmentService) UpdateProgress(ctx context.Context, enrollmentID string, req UpdateProgressRequest) (*models.CourseEnrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid progress payload")
	}

	enrollment, err := s.loadEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if enrollment.EffectiveStatus(now) != models.EnrollmentStatusEnrolled {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "enrollment is not active")
	}

	if err := s.repo.UpsertProgress(ctx, enrollmentID, req.VideoID, req.WatchTime); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record progress")
	}

	progress, err := s.repo.ListProgress(ctx, enrollmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load progress")
	}
	course, err := s.courses.FindByID(ctx, enrollment.CourseID)
	if err != nil && err != sql.ErrNoRows {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	totalVideos := 0
	if course != nil {
		totalVideos = course.VideoCount
	}
	percent := progressPercent(len(progress), totalVideos)
	if err := s.repo.UpdateProgressPercent(ctx, enrollmentID, percent); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update progress percent")
	}
	return s.loadEnrollment(ctx, enrollmentID)
}

// Get returns one enrollment.
func (s *EnrollmentService) Get(ctx context.Context, enrollmentID string) (*models.CourseEnrollment, error) {
	return s.loadEnrollment(ctx, enrollmentID)
}

// ListByStudent returns all enrollments of a student.
func (s *EnrollmentService) ListByStudent(ctx context.Context, studentID string) ([]models.CourseEnrollment, error) {
	enrollments, err := s.repo.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	return enrollments, nil
}

func progressPercent(completed, totalVideos int) float64 {
	if totalVideos <= 0 || completed <= 0 {
		return 0
	}
	percent := float64(completed) * 100 / float64(totalVideos)
	if percent > 100 {
		percent = 100
	}
	return percent
}

func (s *EnrollmentService) loadEnrollment(ctx context.Context, id string) (*models.CourseEnrollment, error) {
	enrollment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	return enrollment, nil
}
