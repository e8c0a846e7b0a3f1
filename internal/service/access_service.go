package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/classworks/edumarket-api/internal/models"
	appErrors "github.com/classworks/edumarket-api/pkg/errors"
)

type enrollmentFinder interface {
	FindByStudentAndCourse(ctx context.Context, studentID, courseID string) (*models.CourseEnrollment, error)
}

type purchaseChecker interface {
	HasValidPurchase(ctx context.Context, studentID, notesID string) (bool, *models.NotesPurchase, error)
}

type eligibilityChecker interface {
	EligibleStudents(ctx context.Context, batchID, className, subjectName string) ([]string, error)
}

type decisionObserver interface {
	ObserveAccessDecision(kind string, allowed bool, reason string)
}

// AccessService is the single gate between authenticated requests and
// protected content. Handlers never decide access themselves; they ask the
// gate and serve or refuse based on the decision.
type AccessService struct {
	enrollments enrollmentFinder
	purchases   purchaseChecker
	eligibility eligibilityChecker
	notes       notesReader
	metrics     decisionObserver
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewAccessService constructs AccessService.
func NewAccessService(enrollments enrollmentFinder, purchases purchaseChecker, eligibility eligibilityChecker, notes notesReader, metrics decisionObserver, validate *validator.Validate, logger *zap.Logger) *AccessService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccessService{enrollments: enrollments, purchases: purchases, eligibility: eligibility, notes: notes, metrics: metrics, validator: validate, logger: logger}
}

// CanAccess evaluates whether the caller may read the referenced resource.
// Denials carry a specific reason so handlers can report it without leaking
// the decision logic. Admins bypass all entitlement checks.
func (s *AccessService) CanAccess(ctx context.Context, identity models.Identity, ref models.ResourceRef) (models.Decision, error) {
	if err := s.validator.Struct(ref); err != nil {
		return models.Decision{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid resource reference")
	}

	if identity.Role == models.RoleAdmin {
		return s.record(ref.Kind, models.Decision{Allowed: true}), nil
	}

	var (
		decision models.Decision
		err      error
	)
	switch ref.Kind {
	case models.ResourceCourseVideo:
		decision, err = s.checkEnrollment(ctx, identity.UserID, ref.ResourceID)
	case models.ResourceNotesPDF:
		decision, err = s.checkPurchase(ctx, identity.UserID, ref.ResourceID)
	case models.ResourceBatchResource:
		decision, err = s.checkEligibility(ctx, identity.UserID, ref)
	default:
		return models.Decision{}, appErrors.Clone(appErrors.ErrValidation, "unknown resource kind")
	}
	if err != nil {
		return models.Decision{}, err
	}
	return s.record(ref.Kind, decision), nil
}

// Authorize is CanAccess turned into an error: it returns a typed forbidden
// error carrying the denial reason when the gate refuses.
func (s *AccessService) Authorize(ctx context.Context, identity models.Identity, ref models.ResourceRef) (models.Decision, error) {
	decision, err := s.CanAccess(ctx, identity, ref)
	if err != nil {
		return decision, err
	}
	if !decision.Allowed {
		return decision, appErrors.Denied(decision.Reason, "access denied")
	}
	return decision, nil
}

func (s *AccessService) checkEnrollment(ctx context.Context, studentID, courseID string) (models.Decision, error) {
	enrollment, err := s.enrollments.FindByStudentAndCourse(ctx, studentID, courseID)
	if err != nil {
		if err == sql.ErrNoRows {
			return deny(models.DenialNotEnrolled), nil
		}
		return models.Decision{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}

	switch enrollment.EffectiveStatus(time.Now().UTC()) {
	case models.EnrollmentStatusEnrolled:
		return models.Decision{Allowed: true}, nil
	case models.EnrollmentStatusExpired:
		return deny(models.DenialExpired), nil
	default:
		return deny(models.DenialNotEnrolled), nil
	}
}

func (s *AccessService) checkPurchase(ctx context.Context, studentID, notesID string) (models.Decision, error) {
	notes, err := s.notes.FindByID(ctx, notesID)
	if err != nil {
		if err == sql.ErrNoRows {
			return models.Decision{}, appErrors.Clone(appErrors.ErrNotFound, "notes not found")
		}
		return models.Decision{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load notes")
	}
	if notes.Free() && notes.Active {
		return models.Decision{Allowed: true}, nil
	}

	valid, purchase, err := s.purchases.HasValidPurchase(ctx, studentID, notesID)
	if err != nil {
		return models.Decision{}, err
	}
	if valid {
		return models.Decision{Allowed: true}, nil
	}
	if purchase != nil && purchase.PurchaseStatus == models.PurchaseStatusCompleted {
		return deny(models.DenialExpired), nil
	}
	return deny(models.DenialNotPurchased), nil
}

func (s *AccessService) checkEligibility(ctx context.Context, studentID string, ref models.ResourceRef) (models.Decision, error) {
	if ref.Class == "" || ref.Subject == "" {
		return models.Decision{}, appErrors.Clone(appErrors.ErrValidation, "batch resources require class and subject")
	}
	students, err := s.eligibility.EligibleStudents(ctx, ref.ResourceID, ref.Class, ref.Subject)
	if err != nil {
		return models.Decision{}, err
	}
	for _, id := range students {
		if id == studentID {
			return models.Decision{Allowed: true}, nil
		}
	}
	return deny(models.DenialNotEligible), nil
}

func (s *AccessService) record(kind models.ResourceKind, decision models.Decision) models.Decision {
	if s.metrics != nil {
		s.metrics.ObserveAccessDecision(string(kind), decision.Allowed, decision.Reason)
	}
	return decision
}

func deny(reason string) models.Decision {
	return models.Decision{Allowed: false, Reason: reason}
}
