package handler

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classworks/edumarket-api/internal/middleware"
	"github.com/classworks/edumarket-api/internal/models"
	"github.com/classworks/edumarket-api/internal/service"
)

type enrollmentRepoStub struct {
	enrollments map[string]*models.CourseEnrollment
	cancelled   []string
}

func (s *enrollmentRepoStub) FindByID(ctx context.Context, id string) (*models.CourseEnrollment, error) {
	enrollment, ok := s.enrollments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *enrollment
	return &copied, nil
}

func (s *enrollmentRepoStub) FindByStudentAndCourse(ctx context.Context, studentID, courseID string) (*models.CourseEnrollment, error) {
	return nil, sql.ErrNoRows
}

func (s *enrollmentRepoStub) ListByStudent(ctx context.Context, studentID string) ([]models.CourseEnrollment, error) {
	return nil, nil
}

func (s *enrollmentRepoStub) Create(ctx context.Context, enrollment *models.CourseEnrollment) error {
	return nil
}

func (s *enrollmentRepoStub) CompletePayment(ctx context.Context, id, paymentID, signature string, paidAt time.Time, expiresAt *time.Time) (int64, error) {
	return 0, nil
}

func (s *enrollmentRepoStub) Cancel(ctx context.Context, id string) (int64, error) {
	s.cancelled = append(s.cancelled, id)
	if enrollment, ok := s.enrollments[id]; ok && enrollment.EnrollmentStatus == models.EnrollmentStatusPending {
		enrollment.EnrollmentStatus = models.EnrollmentStatusCancelled
		enrollment.PaymentStatus = models.PaymentStatusFailed
		return 1, nil
	}
	return 0, nil
}

func (s *enrollmentRepoStub) UpsertProgress(ctx context.Context, enrollmentID, videoID string, watchTime int64) error {
	return nil
}

func (s *enrollmentRepoStub) ListProgress(ctx context.Context, enrollmentID string) ([]models.VideoProgress, error) {
	return nil, nil
}

func (s *enrollmentRepoStub) UpdateProgressPercent(ctx context.Context, id string, percent float64) error {
	return nil
}

func seedEnrollmentHandler() (*EnrollmentHandler, *enrollmentRepoStub) {
	repo := &enrollmentRepoStub{enrollments: map[string]*models.CourseEnrollment{
		"en-1": {ID: "en-1", StudentID: "stu1", CourseID: "course-1", EnrollmentStatus: models.EnrollmentStatusPending, PaymentStatus: models.PaymentStatusPending},
	}}
	enrollments := service.NewEnrollmentService(repo, nil, nil, nil, nil, nil, nil, nil)
	return NewEnrollmentHandler(enrollments), repo
}

func enrollmentTestContext(t *testing.T, method, target string, identity models.Identity) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, err := http.NewRequest(method, target, nil)
	require.NoError(t, err)
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "en-1"}}
	c.Set(middleware.ContextIdentityKey, identity)
	return c, w
}

func TestEnrollmentHandlerGetRejectsForeignStudent(t *testing.T) {
	handler, _ := seedEnrollmentHandler()
	c, w := enrollmentTestContext(t, http.MethodGet, "/enrollments/en-1", models.Identity{UserID: "stu2", Role: models.RoleStudent})

	handler.Get(c)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestEnrollmentHandlerGetAllowsOwnerAndStaff(t *testing.T) {
	handler, _ := seedEnrollmentHandler()

	c, w := enrollmentTestContext(t, http.MethodGet, "/enrollments/en-1", models.Identity{UserID: "stu1", Role: models.RoleStudent})
	handler.Get(c)
	assert.Equal(t, http.StatusOK, w.Code)

	c, w = enrollmentTestContext(t, http.MethodGet, "/enrollments/en-1", models.Identity{UserID: "admin1", Role: models.RoleAdmin})
	handler.Get(c)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestEnrollmentHandlerCancelRejectsForeignStudent(t *testing.T) {
	handler, repo := seedEnrollmentHandler()
	c, w := enrollmentTestContext(t, http.MethodPost, "/enrollments/en-1/cancel", models.Identity{UserID: "stu2", Role: models.RoleStudent})

	handler.Cancel(c)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, repo.cancelled)
	assert.Equal(t, models.EnrollmentStatusPending, repo.enrollments["en-1"].EnrollmentStatus)
}
