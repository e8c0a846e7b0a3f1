package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/classworks/edumarket-api/internal/models"
	appErrors "github.com/classworks/edumarket-api/pkg/errors"
	"github.com/classworks/edumarket-api/pkg/payment"
)

type mockEnrollmentRepo struct {
	enrollments map[string]*models.CourseEnrollment
	progress    map[string][]models.VideoProgress

	// simulates a concurrent winner advancing the row between the service's
	// read and its conditional update
	completeRaceLoser bool
}

func (m *mockEnrollmentRepo) FindByID(ctx context.Context, id string) (*models.CourseEnrollment, error) {
	if e, ok := m.enrollments[id]; ok {
		copied := *e
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockEnrollmentRepo) FindByStudentAndCourse(ctx context.Context, studentID, courseID string) (*models.CourseEnrollment, error) {
	for _, e := range m.enrollments {
		if e.StudentID == studentID && e.CourseID == courseID {
			copied := *e
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockEnrollmentRepo) ListByStudent(ctx context.Context, studentID string) ([]models.CourseEnrollment, error) {
	var list []models.CourseEnrollment
	for _, e := range m.enrollments {
		if e.StudentID == studentID {
			list = append(list, *e)
		}
	}
	return list, nil
}

func (m *mockEnrollmentRepo) Create(ctx context.Context, enrollment *models.CourseEnrollment) error {
	if m.enrollments == nil {
		m.enrollments = make(map[string]*models.CourseEnrollment)
	}
	enrollment.ID = "en-new"
	stored := *enrollment
	m.enrollments[enrollment.ID] = &stored
	return nil
}

func (m *mockEnrollmentRepo) CompletePayment(ctx context.Context, id, paymentID, signature string, paidAt time.Time, expiresAt *time.Time) (int64, error) {
	if m.completeRaceLoser {
		return 0, nil
	}
	e, ok := m.enrollments[id]
	if !ok || e.EnrollmentStatus != models.EnrollmentStatusPending {
		return 0, nil
	}
	e.EnrollmentStatus = models.EnrollmentStatusEnrolled
	e.PaymentStatus = models.PaymentStatusCompleted
	e.PaymentID = &paymentID
	e.PaymentSignature = &signature
	e.PaidAt = &paidAt
	e.ExpiresAt = expiresAt
	return 1, nil
}

func (m *mockEnrollmentRepo) Cancel(ctx context.Context, id string) (int64, error) {
	e, ok := m.enrollments[id]
	if !ok || e.EnrollmentStatus != models.EnrollmentStatusPending {
		return 0, nil
	}
	e.EnrollmentStatus = models.EnrollmentStatusCancelled
	if e.PaymentStatus == models.PaymentStatusPending {
		e.PaymentStatus = models.PaymentStatusFailed
	}
	return 1, nil
}

func (m *mockEnrollmentRepo) UpsertProgress(ctx context.Context, enrollmentID, videoID string, watchTime int64) error {
	if m.progress == nil {
		m.progress = make(map[string][]models.VideoProgress)
	}
	for i, p := range m.progress[enrollmentID] {
		if p.VideoID == videoID {
			if watchTime > p.WatchTime {
				m.progress[enrollmentID][i].WatchTime = watchTime
			}
			return nil
		}
	}
	m.progress[enrollmentID] = append(m.progress[enrollmentID], models.VideoProgress{EnrollmentID: enrollmentID, VideoID: videoID, WatchTime: watchTime})
	return nil
}

func (m *mockEnrollmentRepo) ListProgress(ctx context.Context, enrollmentID string) ([]models.VideoProgress, error) {
	return m.progress[enrollmentID], nil
}

func (m *mockEnrollmentRepo) UpdateProgressPercent(ctx context.Context, id string, percent float64) error {
	if e, ok := m.enrollments[id]; ok {
		e.ProgressPercent = percent
	}
	return nil
}

type mockCourseReader struct {
	courses map[string]*models.Course
}

func (m *mockCourseReader) FindByID(ctx context.Context, id string) (*models.Course, error) {
	if c, ok := m.courses[id]; ok {
		return c, nil
	}
	return nil, sql.ErrNoRows
}

type mockGateway struct {
	orders int
	fail   error
}

func (m *mockGateway) CreateOrder(ctx context.Context, amount int64, currency string) (*payment.Order, error) {
	if m.fail != nil {
		return nil, m.fail
	}
	m.orders++
	return &payment.Order{ID: "order-1", Amount: amount, Currency: currency, Status: "created"}, nil
}

type mockPaymentObserver struct {
	observed []bool
}

func (m *mockPaymentObserver) ObservePaymentVerification(kind string, ok bool) {
	m.observed = append(m.observed, ok)
}

const testPaymentSecret = "test_secret"

func seedCourses() *mockCourseReader {
	return &mockCourseReader{courses: map[string]*models.Course{
		"course-free": {ID: "course-free", Title: "Intro Algebra", Type: models.CourseTypeRecorded, Price: 0, Currency: "INR", VideoCount: 4, Active: true},
		"course-paid": {ID: "course-paid", Title: "JEE Physics", Type: models.CourseTypeLive, Price: 499900, Currency: "INR", VideoCount: 40, Active: true},
	}}
}

func newEnrollmentService(repo *mockEnrollmentRepo, gateway *mockGateway, observer *mockPaymentObserver) *EnrollmentService {
	var metrics paymentObserver
	if observer != nil {
		metrics = observer
	}
	return NewEnrollmentService(repo, seedCourses(), seedUsers(), gateway, payment.NewSigner(testPaymentSecret), metrics, validator.New(), zap.NewNop())
}

func TestEnrollmentServiceFreeCourseEnrollsImmediately(t *testing.T) {
	repo := &mockEnrollmentRepo{}
	gateway := &mockGateway{}
	svc := newEnrollmentService(repo, gateway, nil)

	enrollment, err := svc.Enroll(context.Background(), "stu1", EnrollRequest{CourseID: "course-free"})
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusEnrolled, enrollment.EnrollmentStatus)
	assert.Equal(t, models.PaymentStatusNotRequired, enrollment.PaymentStatus)
	assert.Nil(t, enrollment.OrderID)
	assert.Equal(t, 0, gateway.orders)
}

func TestEnrollmentServicePaidCourseStartsPending(t *testing.T) {
	repo := &mockEnrollmentRepo{}
	gateway := &mockGateway{}
	svc := newEnrollmentService(repo, gateway, nil)

	enrollment, err := svc.Enroll(context.Background(), "stu1", EnrollRequest{CourseID: "course-paid"})
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusPending, enrollment.EnrollmentStatus)
	assert.Equal(t, models.PaymentStatusPending, enrollment.PaymentStatus)
	require.NotNil(t, enrollment.OrderID)
	assert.Equal(t, "order-1", *enrollment.OrderID)
	assert.Equal(t, 1, gateway.orders)
}

func TestEnrollmentServiceSecondEnrollConflicts(t *testing.T) {
	repo := &mockEnrollmentRepo{}
	svc := newEnrollmentService(repo, &mockGateway{}, nil)

	_, err := svc.Enroll(context.Background(), "stu1", EnrollRequest{CourseID: "course-free"})
	require.NoError(t, err)
	_, err = svc.Enroll(context.Background(), "stu1", EnrollRequest{CourseID: "course-free"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceGatewayTimeoutLeavesNoRecord(t *testing.T) {
	repo := &mockEnrollmentRepo{}
	gateway := &mockGateway{fail: appErrors.Clone(appErrors.ErrGatewayTimeout, "gateway timed out")}
	svc := newEnrollmentService(repo, gateway, nil)

	_, err := svc.Enroll(context.Background(), "stu1", EnrollRequest{CourseID: "course-paid"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrGatewayTimeout.Code, appErrors.FromError(err).Code)
	assert.Empty(t, repo.enrollments)
}

func pendingEnrollment(orderID string) *models.CourseEnrollment {
	return &models.CourseEnrollment{
		ID:               "en1",
		StudentID:        "stu1",
		CourseID:         "course-paid",
		CourseType:       models.CourseTypeLive,
		EnrollmentStatus: models.EnrollmentStatusPending,
		PaymentStatus:    models.PaymentStatusPending,
		OrderID:          &orderID,
		Amount:           499900,
		Currency:         "INR",
	}
}

func TestEnrollmentServiceCompletePaymentValidSignature(t *testing.T) {
	repo := &mockEnrollmentRepo{enrollments: map[string]*models.CourseEnrollment{"en1": pendingEnrollment("order-1")}}
	observer := &mockPaymentObserver{}
	svc := newEnrollmentService(repo, &mockGateway{}, observer)

	signer := payment.NewSigner(testPaymentSecret)
	assertion := payment.Assertion{OrderID: "order-1", PaymentID: "pay-1", Signature: signer.Sign("order-1", "pay-1")}

	enrollment, err := svc.CompletePayment(context.Background(), "en1", assertion)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusEnrolled, enrollment.EnrollmentStatus)
	assert.Equal(t, models.PaymentStatusCompleted, enrollment.PaymentStatus)
	require.NotNil(t, enrollment.ExpiresAt)
	assert.Equal(t, []bool{true}, observer.observed)
}

func TestEnrollmentServiceCompletePaymentInvalidSignatureStaysPending(t *testing.T) {
	repo := &mockEnrollmentRepo{enrollments: map[string]*models.CourseEnrollment{"en1": pendingEnrollment("order-1")}}
	observer := &mockPaymentObserver{}
	svc := newEnrollmentService(repo, &mockGateway{}, observer)

	assertion := payment.Assertion{OrderID: "order-1", PaymentID: "pay-1", Signature: "deadbeef"}
	_, err := svc.CompletePayment(context.Background(), "en1", assertion)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPaymentVerification.Code, appErrors.FromError(err).Code)
	assert.Equal(t, models.EnrollmentStatusPending, repo.enrollments["en1"].EnrollmentStatus)
	assert.Equal(t, []bool{false}, observer.observed)

	// still retryable with the right signature
	signer := payment.NewSigner(testPaymentSecret)
	assertion.Signature = signer.Sign("order-1", "pay-1")
	enrollment, err := svc.CompletePayment(context.Background(), "en1", assertion)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusEnrolled, enrollment.EnrollmentStatus)
}

func TestEnrollmentServiceCompletePaymentIdempotent(t *testing.T) {
	repo := &mockEnrollmentRepo{enrollments: map[string]*models.CourseEnrollment{"en1": pendingEnrollment("order-1")}}
	svc := newEnrollmentService(repo, &mockGateway{}, nil)

	signer := payment.NewSigner(testPaymentSecret)
	assertion := payment.Assertion{OrderID: "order-1", PaymentID: "pay-1", Signature: signer.Sign("order-1", "pay-1")}

	first, err := svc.CompletePayment(context.Background(), "en1", assertion)
	require.NoError(t, err)
	second, err := svc.CompletePayment(context.Background(), "en1", assertion)
	require.NoError(t, err)
	assert.Equal(t, first.PaymentID, second.PaymentID)
	assert.Equal(t, models.EnrollmentStatusEnrolled, second.EnrollmentStatus)
}

func TestEnrollmentServiceCompletePaymentWrongOrderRejected(t *testing.T) {
	repo := &mockEnrollmentRepo{enrollments: map[string]*models.CourseEnrollment{"en1": pendingEnrollment("order-1")}}
	svc := newEnrollmentService(repo, &mockGateway{}, nil)

	signer := payment.NewSigner(testPaymentSecret)
	assertion := payment.Assertion{OrderID: "order-other", PaymentID: "pay-1", Signature: signer.Sign("order-other", "pay-1")}
	_, err := svc.CompletePayment(context.Background(), "en1", assertion)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceCompletePaymentRaceLoserConflicts(t *testing.T) {
	repo := &mockEnrollmentRepo{
		enrollments:       map[string]*models.CourseEnrollment{"en1": pendingEnrollment("order-1")},
		completeRaceLoser: true,
	}
	svc := newEnrollmentService(repo, &mockGateway{}, nil)

	signer := payment.NewSigner(testPaymentSecret)
	assertion := payment.Assertion{OrderID: "order-1", PaymentID: "pay-1", Signature: signer.Sign("order-1", "pay-1")}
	_, err := svc.CompletePayment(context.Background(), "en1", assertion)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceCancelOnlyPending(t *testing.T) {
	repo := &mockEnrollmentRepo{enrollments: map[string]*models.CourseEnrollment{"en1": pendingEnrollment("order-1")}}
	svc := newEnrollmentService(repo, &mockGateway{}, nil)

	cancelled, err := svc.Cancel(context.Background(), "en1")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusCancelled, cancelled.EnrollmentStatus)
	assert.Equal(t, models.PaymentStatusFailed, cancelled.PaymentStatus)

	// cancelling again is a no-op
	again, err := svc.Cancel(context.Background(), "en1")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusCancelled, again.EnrollmentStatus)

	// a completed payment on a cancelled enrollment is rejected
	signer := payment.NewSigner(testPaymentSecret)
	assertion := payment.Assertion{OrderID: "order-1", PaymentID: "pay-1", Signature: signer.Sign("order-1", "pay-1")}
	_, err = svc.CompletePayment(context.Background(), "en1", assertion)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceExpiryBoundary(t *testing.T) {
	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	expired := &models.CourseEnrollment{EnrollmentStatus: models.EnrollmentStatusEnrolled, ExpiresAt: &past}
	assert.Equal(t, models.EnrollmentStatusExpired, expired.EffectiveStatus(now))

	active := &models.CourseEnrollment{EnrollmentStatus: models.EnrollmentStatusEnrolled, ExpiresAt: &future}
	assert.Equal(t, models.EnrollmentStatusEnrolled, active.EffectiveStatus(now))

	exact := &models.CourseEnrollment{EnrollmentStatus: models.EnrollmentStatusEnrolled, ExpiresAt: &now}
	assert.Equal(t, models.EnrollmentStatusExpired, exact.EffectiveStatus(now))

	lifetime := &models.CourseEnrollment{EnrollmentStatus: models.EnrollmentStatusEnrolled}
	assert.Equal(t, models.EnrollmentStatusEnrolled, lifetime.EffectiveStatus(now))
}

func TestEnrollmentServiceUpdateProgressMonotonic(t *testing.T) {
	future := time.Now().UTC().Add(time.Hour)
	repo := &mockEnrollmentRepo{enrollments: map[string]*models.CourseEnrollment{"en1": {
		ID: "en1", StudentID: "stu1", CourseID: "course-free",
		EnrollmentStatus: models.EnrollmentStatusEnrolled,
		PaymentStatus:    models.PaymentStatusNotRequired,
		ExpiresAt:        &future,
	}}}
	svc := newEnrollmentService(repo, &mockGateway{}, nil)

	_, err := svc.UpdateProgress(context.Background(), "en1", UpdateProgressRequest{VideoID: "v1", WatchTime: 120})
	require.NoError(t, err)
	_, err = svc.UpdateProgress(context.Background(), "en1", UpdateProgressRequest{VideoID: "v1", WatchTime: 60})
	require.NoError(t, err)
	assert.Equal(t, int64(120), repo.progress["en1"][0].WatchTime)

	enrollment, err := svc.UpdateProgress(context.Background(), "en1", UpdateProgressRequest{VideoID: "v2", WatchTime: 30})
	require.NoError(t, err)
	// 2 of 4 course videos completed
	assert.Equal(t, 50.0, enrollment.ProgressPercent)
}

func TestEnrollmentServiceUpdateProgressRejectsExpired(t *testing.T) {
	past := time.Now().UTC().Add(-time.Hour)
	repo := &mockEnrollmentRepo{enrollments: map[string]*models.CourseEnrollment{"en1": {
		ID: "en1", EnrollmentStatus: models.EnrollmentStatusEnrolled, ExpiresAt: &past,
	}}}
	svc := newEnrollmentService(repo, &mockGateway{}, nil)

	_, err := svc.UpdateProgress(context.Background(), "en1", UpdateProgressRequest{VideoID: "v1", WatchTime: 10})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
}

func TestProgressPercentCapsAtHundred(t *testing.T) {
	assert.Equal(t, 0.0, progressPercent(0, 10))
	assert.Equal(t, 0.0, progressPercent(3, 0))
	assert.Equal(t, 100.0, progressPercent(12, 10))
}
