package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/classworks/edumarket-api/internal/models"
	appErrors "github.com/classworks/edumarket-api/pkg/errors"
	"github.com/classworks/edumarket-api/pkg/export"
	"github.com/classworks/edumarket-api/pkg/payment"
)

type purchaseRepository interface {
	FindByID(ctx context.Context, id string) (*models.NotesPurchase, error)
	FindByStudentAndNotes(ctx context.Context, studentID, notesID string) (*models.NotesPurchase, error)
	ListByStudent(ctx context.Context, studentID string) ([]models.NotesPurchase, error)
	Create(ctx context.Context, purchase *models.NotesPurchase) error
	CompletePayment(ctx context.Context, id, paymentID, signature string, grantedAt time.Time, expiresAt *time.Time) (int64, error)
	Cancel(ctx context.Context, id string) (int64, error)
	RecordAccess(ctx context.Context, purchaseID, pdfID string, meta models.RequesterMeta) (*models.DownloadRecord, error)
	ListDownloadHistory(ctx context.Context, purchaseID string) ([]models.DownloadRecord, error)
}

type notesReader interface {
	FindByID(ctx context.Context, id string) (*models.Notes, error)
}

type readModelSyncer interface {
	EnqueueSync(entry models.PurchasedStudentEntry) error
}

type downloadObserver interface {
	ObserveDownload(notesID string)
}

// PurchaseRequest describes a notes purchase initiation.
type PurchaseRequest struct {
	NotesID string `json:"notes_id" validate:"required"`
}

// PurchaseService is the authoritative ledger for notes/materials purchases.
// Every access decision and the download audit trail run through it.
type PurchaseService struct {
	repo      purchaseRepository
	notes     notesReader
	students  userReader
	gateway   orderCreator
	signer    signatureVerifier
	syncer    readModelSyncer
	receipts  *export.ReceiptExporter
	metrics   paymentObserver
	downloads downloadObserver
	validator *validator.Validate
	logger    *zap.Logger
}

// NewPurchaseService constructs PurchaseService.
func NewPurchaseService(repo purchaseRepository, notes notesReader, students userReader, gateway orderCreator, signer signatureVerifier, syncer readModelSyncer, receipts *export.ReceiptExporter, metrics paymentObserver, downloads downloadObserver, validate *validator.Validate, logger *zap.Logger) *PurchaseService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PurchaseService{repo: repo, notes: notes, students: students, gateway: gateway, signer: signer, syncer: syncer, receipts: receipts, metrics: metrics, downloads: downloads, validator: validate, logger: logger}
}

// Purchase creates the student's single ledger record for a content item.
// Free content is granted immediately with lifetime access; paid content
// starts pending with a gateway order attached.
func (s *PurchaseService) Purchase(ctx context.Context, studentID string, req PurchaseRequest) (*models.NotesPurchase, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid purchase payload")
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

	notes, err := s.notes.FindByID(ctx, req.NotesID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "notes not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load notes")
	}
	if !notes.Active {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "notes inactive")
	}

	if _, err := s.repo.FindByStudentAndNotes(ctx, studentID, req.NotesID); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "purchase already exists for this content")
	} else if err != sql.ErrNoRows {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check purchase")
	}

	purchase := &models.NotesPurchase{
		StudentID: studentID,
		NotesID:   notes.ID,
		Amount:    notes.Price,
		Currency:  notes.Currency,
		Active:    true,
	}

	if notes.Free() {
		// Free grants settle instantly; the purchase payment enum has no
		// not-required state, so the zero-amount payment counts as completed.
		now := time.Now().UTC()
		purchase.PurchaseStatus = models.PurchaseStatusCompleted
		purchase.PaymentStatus = models.PaymentStatusCompleted
		purchase.GrantedAt = &now
		purchase.ExpiresAt = expiryFor(notes, now)
	} else {
		order, err := s.gateway.CreateOrder(ctx, notes.Price, notes.Currency)
		if err != nil {
			return nil, appErrors.FromError(err)
		}
		purchase.PurchaseStatus = models.PurchaseStatusPending
		purchase.PaymentStatus = models.PaymentStatusPending
		purchase.OrderID = &order.ID
	}

	if err := s.repo.Create(ctx, purchase); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create purchase")
	}

	if purchase.PurchaseStatus == models.PurchaseStatusCompleted {
		s.enqueueSync(purchase)
	}
	return purchase, nil
}

// CompletePayment verifies the gateway assertion and advances a pending
// purchase. Re-submitting the assertion that already completed it is a no-op;
// an invalid signature leaves the record pending and retryable.
func (s *PurchaseService) CompletePayment(ctx context.Context, purchaseID string, assertion payment.Assertion) (*models.NotesPurchase, error) {
	if err := s.validator.Struct(assertion); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payment assertion")
	}

	purchase, err := s.loadPurchase(ctx, purchaseID)
	if err != nil {
		return nil, err
	}

	switch purchase.PurchaseStatus {
	case models.PurchaseStatusCompleted:
		if purchase.PaymentID != nil && *purchase.PaymentID == assertion.PaymentID {
			return purchase, nil
		}
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "purchase already completed with a different payment")
	case models.PurchaseStatusCancelled, models.PurchaseStatusFailed:
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "purchase is not pending")
	}

	if purchase.OrderID == nil || *purchase.OrderID != assertion.OrderID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "order does not belong to this purchase")
	}

	ok := s.signer.Verify(assertion)
	if s.metrics != nil {
		s.metrics.ObservePaymentVerification("purchase", ok)
	}
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrPaymentVerification, "payment signature mismatch")
	}

	notes, err := s.notes.FindByID(ctx, purchase.NotesID)
	if err != nil && err != sql.ErrNoRows {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load notes")
	}

	now := time.Now().UTC()
	var expiresAt *time.Time
	if notes != nil {
		expiresAt = expiryFor(notes, now)
	}
	advanced, err := s.repo.CompletePayment(ctx, purchaseID, assertion.PaymentID, assertion.Signature, now, expiresAt)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to complete payment")
	}
	if advanced == 0 {
		current, err := s.loadPurchase(ctx, purchaseID)
		if err != nil {
			return nil, err
		}
		if current.PurchaseStatus == models.PurchaseStatusCompleted && current.PaymentID != nil && *current.PaymentID == assertion.PaymentID {
			return current, nil
		}
		return nil, appErrors.Clone(appErrors.ErrConflict, "purchase advanced concurrently")
	}

	current, err := s.loadPurchase(ctx, purchaseID)
	if err != nil {
		return nil, err
	}
	s.enqueueSync(current)
	return current, nil
}

// Cancel aborts a pending purchase.
func (s *PurchaseService) Cancel(ctx context.Context, purchaseID string) (*models.NotesPurchase, error) {
	purchase, err := s.loadPurchase(ctx, purchaseID)
	if err != nil {
		return nil, err
	}
	if purchase.PurchaseStatus == models.PurchaseStatusCancelled {
		return purchase, nil
	}
	if purchase.PurchaseStatus != models.PurchaseStatusPending {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "only pending purchases can be cancelled")
	}

	cancelled, err := s.repo.Cancel(ctx, purchaseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel purchase")
	}
	if cancelled == 0 {
		current, err := s.loadPurchase(ctx, purchaseID)
		if err != nil {
			return nil, err
		}
		if current.PurchaseStatus == models.PurchaseStatusCancelled {
			return current, nil
		}
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "only pending purchases can be cancelled")
	}
	return s.loadPurchase(ctx, purchaseID)
}

// HasValidPurchase evaluates the composite validity predicate. Every other
// component answers "may this student read this content" through this method.
func (s *PurchaseService) HasValidPurchase(ctx context.Context, studentID, notesID string) (bool, *models.NotesPurchase, error) {
	purchase, err := s.repo.FindByStudentAndNotes(ctx, studentID, notesID)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil, nil
		}
		return false, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load purchase")
	}
	return purchase.Valid(time.Now().UTC()), purchase, nil
}

// RecordAccess appends one download audit entry. Callers invoke this only
// after the access gate has approved the request; the append is
// unconditional and the trail is never rewritten.
func (s *PurchaseService) RecordAccess(ctx context.Context, purchaseID, pdfID string, meta models.RequesterMeta) (*models.DownloadRecord, error) {
	purchase, err := s.loadPurchase(ctx, purchaseID)
	if err != nil {
		return nil, err
	}
	record, err := s.repo.RecordAccess(ctx, purchaseID, pdfID, meta)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record access")
	}
	if s.downloads != nil {
		s.downloads.ObserveDownload(purchase.NotesID)
	}
	return record, nil
}

// DownloadHistory returns the audit trail for a purchase.
func (s *PurchaseService) DownloadHistory(ctx context.Context, purchaseID string) ([]models.DownloadRecord, error) {
	if _, err := s.loadPurchase(ctx, purchaseID); err != nil {
		return nil, err
	}
	records, err := s.repo.ListDownloadHistory(ctx, purchaseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list download history")
	}
	return records, nil
}

// Get returns one purchase.
func (s *PurchaseService) Get(ctx context.Context, purchaseID string) (*models.NotesPurchase, error) {
	return s.loadPurchase(ctx, purchaseID)
}

// ListByStudent returns all purchases of a student.
func (s *PurchaseService) ListByStudent(ctx context.Context, studentID string) ([]models.NotesPurchase, error) {
	purchases, err := s.repo.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list purchases")
	}
	return purchases, nil
}

// Receipt renders a PDF receipt for a completed purchase.
func (s *PurchaseService) Receipt(ctx context.Context, purchaseID string) ([]byte, error) {
	purchase, err := s.loadPurchase(ctx, purchaseID)
	if err != nil {
		return nil, err
	}
	if purchase.PurchaseStatus != models.PurchaseStatusCompleted {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "purchase not completed")
	}

	receipt := export.Receipt{
		Reference: purchase.ID,
		Amount:    purchase.Amount,
		Currency:  purchase.Currency,
	}
	if purchase.OrderID != nil {
		receipt.OrderID = *purchase.OrderID
	}
	if purchase.PaymentID != nil {
		receipt.PaymentID = *purchase.PaymentID
	}
	if purchase.GrantedAt != nil {
		receipt.PaidAt = *purchase.GrantedAt
	}
	if student, err := s.students.FindByID(ctx, purchase.StudentID); err == nil {
		receipt.StudentName = student.FullName
	}
	if notes, err := s.notes.FindByID(ctx, purchase.NotesID); err == nil {
		receipt.ItemTitle = notes.Title
	}

	data, err := s.receipts.Render(receipt)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render receipt")
	}
	return data, nil
}

func (s *PurchaseService) loadPurchase(ctx context.Context, id string) (*models.NotesPurchase, error) {
	purchase, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "purchase not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load purchase")
	}
	return purchase, nil
}

func (s *PurchaseService) enqueueSync(purchase *models.NotesPurchase) {
	if s.syncer == nil || purchase.GrantedAt == nil {
		return
	}
	entry := models.PurchasedStudentEntry{
		NotesID:     purchase.NotesID,
		StudentID:   purchase.StudentID,
		PurchaseID:  purchase.ID,
		PurchasedAt: *purchase.GrantedAt,
	}
	if err := s.syncer.EnqueueSync(entry); err != nil {
		s.logger.Sugar().Warnw("read model sync enqueue failed", "purchase_id", purchase.ID, "error", err)
	}
}

func expiryFor(notes *models.Notes, from time.Time) *time.Time {
	if notes.ValidityDays == nil {
		return nil
	}
	expiry := from.Add(time.Duration(*notes.ValidityDays) * 24 * time.Hour)
	return &expiry
}
