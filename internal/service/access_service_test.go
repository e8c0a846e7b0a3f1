package service

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/classworks/edumarket-api/internal/models"
	appErrors "github.com/classworks/edumarket-api/pkg/errors"
)

type staticEligibility struct {
	students []string
}

func (s *staticEligibility) EligibleStudents(ctx context.Context, batchID, className, subjectName string) ([]string, error) {
	return s.students, nil
}

type mockDecisionObserver struct {
	decisions []models.Decision
}

func (m *mockDecisionObserver) ObserveAccessDecision(kind string, allowed bool, reason string) {
	m.decisions = append(m.decisions, models.Decision{Allowed: allowed, Reason: reason})
}

func newAccessService(enrollments *mockEnrollmentRepo, purchases *mockPurchaseRepo, eligibility *staticEligibility, observer *mockDecisionObserver) *AccessService {
	purchaseSvc := newPurchaseService(purchases, nil)
	var metrics decisionObserver
	if observer != nil {
		metrics = observer
	}
	return NewAccessService(enrollments, purchaseSvc, eligibility, seedNotes(), metrics, validator.New(), zap.NewNop())
}

func TestAccessServiceCourseVideo(t *testing.T) {
	future := time.Now().UTC().Add(time.Hour)
	past := time.Now().UTC().Add(-time.Hour)
	enrollments := &mockEnrollmentRepo{enrollments: map[string]*models.CourseEnrollment{
		"en1": {ID: "en1", StudentID: "stu1", CourseID: "c-active", EnrollmentStatus: models.EnrollmentStatusEnrolled, ExpiresAt: &future},
		"en2": {ID: "en2", StudentID: "stu1", CourseID: "c-expired", EnrollmentStatus: models.EnrollmentStatusEnrolled, ExpiresAt: &past},
		"en3": {ID: "en3", StudentID: "stu1", CourseID: "c-pending", EnrollmentStatus: models.EnrollmentStatusPending},
	}}
	svc := newAccessService(enrollments, &mockPurchaseRepo{}, &staticEligibility{}, nil)
	student := models.Identity{UserID: "stu1", Role: models.RoleStudent}

	decision, err := svc.CanAccess(context.Background(), student, models.ResourceRef{Kind: models.ResourceCourseVideo, ResourceID: "c-active"})
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	decision, err = svc.CanAccess(context.Background(), student, models.ResourceRef{Kind: models.ResourceCourseVideo, ResourceID: "c-expired"})
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, models.DenialExpired, decision.Reason)

	decision, err = svc.CanAccess(context.Background(), student, models.ResourceRef{Kind: models.ResourceCourseVideo, ResourceID: "c-pending"})
	require.NoError(t, err)
	assert.Equal(t, models.DenialNotEnrolled, decision.Reason)

	decision, err = svc.CanAccess(context.Background(), student, models.ResourceRef{Kind: models.ResourceCourseVideo, ResourceID: "c-unknown"})
	require.NoError(t, err)
	assert.Equal(t, models.DenialNotEnrolled, decision.Reason)
}

func TestAccessServiceNotesPDF(t *testing.T) {
	granted := time.Now().UTC().Add(-time.Hour)
	past := time.Now().UTC().Add(-time.Minute)
	purchases := &mockPurchaseRepo{purchases: map[string]*models.NotesPurchase{
		"p1": {ID: "p1", StudentID: "stu1", NotesID: "notes-paid", PurchaseStatus: models.PurchaseStatusCompleted, Active: true, GrantedAt: &granted},
		"p2": {ID: "p2", StudentID: "stu2", NotesID: "notes-paid", PurchaseStatus: models.PurchaseStatusCompleted, Active: true, GrantedAt: &granted, ExpiresAt: &past},
	}}
	svc := newAccessService(&mockEnrollmentRepo{}, purchases, &staticEligibility{}, nil)

	// purchased and valid
	decision, err := svc.CanAccess(context.Background(), models.Identity{UserID: "stu1", Role: models.RoleStudent}, models.ResourceRef{Kind: models.ResourceNotesPDF, ResourceID: "notes-paid"})
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	// purchased but lapsed
	decision, err = svc.CanAccess(context.Background(), models.Identity{UserID: "stu2", Role: models.RoleStudent}, models.ResourceRef{Kind: models.ResourceNotesPDF, ResourceID: "notes-paid"})
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, models.DenialExpired, decision.Reason)

	// never purchased
	decision, err = svc.CanAccess(context.Background(), models.Identity{UserID: "stu3", Role: models.RoleStudent}, models.ResourceRef{Kind: models.ResourceNotesPDF, ResourceID: "notes-paid"})
	require.NoError(t, err)
	assert.Equal(t, models.DenialNotPurchased, decision.Reason)

	// free content needs no purchase
	decision, err = svc.CanAccess(context.Background(), models.Identity{UserID: "stu3", Role: models.RoleStudent}, models.ResourceRef{Kind: models.ResourceNotesPDF, ResourceID: "notes-free"})
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestAccessServiceBatchResource(t *testing.T) {
	svc := newAccessService(&mockEnrollmentRepo{}, &mockPurchaseRepo{}, &staticEligibility{students: []string{"stu1"}}, nil)
	ref := models.ResourceRef{Kind: models.ResourceBatchResource, ResourceID: "batch1", Class: "11", Subject: "Physics"}

	decision, err := svc.CanAccess(context.Background(), models.Identity{UserID: "stu1", Role: models.RoleStudent}, ref)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	decision, err = svc.CanAccess(context.Background(), models.Identity{UserID: "stu2", Role: models.RoleStudent}, ref)
	require.NoError(t, err)
	assert.Equal(t, models.DenialNotEligible, decision.Reason)

	// class and subject are mandatory for batch resources
	_, err = svc.CanAccess(context.Background(), models.Identity{UserID: "stu1", Role: models.RoleStudent}, models.ResourceRef{Kind: models.ResourceBatchResource, ResourceID: "batch1"})
	require.Error(t, err)
}

func TestAccessServiceAdminBypass(t *testing.T) {
	observer := &mockDecisionObserver{}
	svc := newAccessService(&mockEnrollmentRepo{}, &mockPurchaseRepo{}, &staticEligibility{}, observer)

	decision, err := svc.CanAccess(context.Background(), models.Identity{UserID: "admin", Role: models.RoleAdmin}, models.ResourceRef{Kind: models.ResourceNotesPDF, ResourceID: "notes-paid"})
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	require.Len(t, observer.decisions, 1)
	assert.True(t, observer.decisions[0].Allowed)
}

func TestAccessServiceAuthorizeCarriesReason(t *testing.T) {
	svc := newAccessService(&mockEnrollmentRepo{}, &mockPurchaseRepo{}, &staticEligibility{}, nil)

	_, err := svc.Authorize(context.Background(), models.Identity{UserID: "stu1", Role: models.RoleStudent}, models.ResourceRef{Kind: models.ResourceNotesPDF, ResourceID: "notes-paid"})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrAccessDenied.Code, appErr.Code)
	assert.Equal(t, models.DenialNotPurchased, appErr.Reason)
}
