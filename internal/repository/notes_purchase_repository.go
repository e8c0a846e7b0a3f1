package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/classworks/edumarket-api/internal/models"
)

const purchaseColumns = `id, student_id, notes_id, purchase_status, payment_status, order_id, payment_id,
        payment_signature, amount, currency, active, granted_at, expires_at, access_count,
        last_accessed_at, created_at, updated_at`

// NotesPurchaseRepository persists the authoritative purchase ledger together
// with its append-only download history.
type NotesPurchaseRepository struct {
	db *sqlx.DB
}

// NewNotesPurchaseRepository constructs the repository.
func NewNotesPurchaseRepository(db *sqlx.DB) *NotesPurchaseRepository {
	return &NotesPurchaseRepository{db: db}
}

// FindByID returns a purchase by its ID.
func (r *NotesPurchaseRepository) FindByID(ctx context.Context, id string) (*models.NotesPurchase, error) {
	query := fmt.Sprintf(`SELECT %s FROM notes_purchases WHERE id = $1`, purchaseColumns)
	var purchase models.NotesPurchase
	if err := r.db.GetContext(ctx, &purchase, query, id); err != nil {
		return nil, err
	}
	return &purchase, nil
}

// FindByStudentAndNotes returns the single record a student holds for a content item.
func (r *NotesPurchaseRepository) FindByStudentAndNotes(ctx context.Context, studentID, notesID string) (*models.NotesPurchase, error) {
	query := fmt.Sprintf(`SELECT %s FROM notes_purchases WHERE student_id = $1 AND notes_id = $2`, purchaseColumns)
	var purchase models.NotesPurchase
	if err := r.db.GetContext(ctx, &purchase, query, studentID, notesID); err != nil {
		return nil, err
	}
	return &purchase, nil
}

// ListByStudent returns all purchases of a student.
func (r *NotesPurchaseRepository) ListByStudent(ctx context.Context, studentID string) ([]models.NotesPurchase, error) {
	query := fmt.Sprintf(`SELECT %s FROM notes_purchases WHERE student_id = $1 ORDER BY created_at DESC`, purchaseColumns)
	var purchases []models.NotesPurchase
	if err := r.db.SelectContext(ctx, &purchases, query, studentID); err != nil {
		return nil, fmt.Errorf("list purchases: %w", err)
	}
	return purchases, nil
}

// Create persists a new purchase record.
func (r *NotesPurchaseRepository) Create(ctx context.Context, purchase *models.NotesPurchase) error {
	if purchase.ID == "" {
		purchase.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	purchase.CreatedAt = now
	purchase.UpdatedAt = now
	const query = `INSERT INTO notes_purchases (id, student_id, notes_id, purchase_status, payment_status, order_id,
        payment_id, payment_signature, amount, currency, active, granted_at, expires_at, access_count,
        last_accessed_at, created_at, updated_at)
        VALUES (:id, :student_id, :notes_id, :purchase_status, :payment_status, :order_id,
        :payment_id, :payment_signature, :amount, :currency, :active, :granted_at, :expires_at, :access_count,
        :last_accessed_at, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, purchase); err != nil {
		return fmt.Errorf("create purchase: %w", err)
	}
	return nil
}

// CompletePayment advances a pending purchase to completed with verified
// payment details and an access grant. Zero rows means the record was no
// longer pending.
func (r *NotesPurchaseRepository) CompletePayment(ctx context.Context, id, paymentID, signature string, grantedAt time.Time, expiresAt *time.Time) (int64, error) {
	const query = `UPDATE notes_purchases
        SET purchase_status = $2, payment_status = $3, payment_id = $4, payment_signature = $5,
            granted_at = $6, expires_at = $7, updated_at = $8
        WHERE id = $1 AND purchase_status = $9`
	res, err := r.db.ExecContext(ctx, query, id,
		models.PurchaseStatusCompleted, models.PaymentStatusCompleted,
		paymentID, signature, grantedAt, expiresAt, time.Now().UTC(),
		models.PurchaseStatusPending)
	if err != nil {
		return 0, fmt.Errorf("complete purchase payment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("complete purchase payment: %w", err)
	}
	return affected, nil
}

// Cancel moves a pending purchase to cancelled.
func (r *NotesPurchaseRepository) Cancel(ctx context.Context, id string) (int64, error) {
	const query = `UPDATE notes_purchases
        SET purchase_status = $2,
            payment_status = CASE WHEN payment_status = $3 THEN $4 ELSE payment_status END,
            updated_at = $5
        WHERE id = $1 AND purchase_status = $6`
	res, err := r.db.ExecContext(ctx, query, id,
		models.PurchaseStatusCancelled,
		models.PaymentStatusPending, models.PaymentStatusFailed,
		time.Now().UTC(), models.PurchaseStatusPending)
	if err != nil {
		return 0, fmt.Errorf("cancel purchase: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cancel purchase: %w", err)
	}
	return affected, nil
}

// RecordAccess appends one download audit entry and bumps the access counters
// in the same transaction. The history is never rewritten or deleted.
func (r *NotesPurchaseRepository) RecordAccess(ctx context.Context, purchaseID, pdfID string, meta models.RequesterMeta) (*models.DownloadRecord, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin record access: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	record := &models.DownloadRecord{
		ID:         uuid.NewString(),
		PurchaseID: purchaseID,
		PDFID:      pdfID,
		IPAddress:  meta.IPAddress,
		UserAgent:  meta.UserAgent,
		CreatedAt:  time.Now().UTC(),
	}
	const historyQuery = `INSERT INTO download_history (id, purchase_id, pdf_id, ip_address, user_agent, created_at)
        VALUES (:id, :purchase_id, :pdf_id, :ip_address, :user_agent, :created_at)`
	if _, err := tx.NamedExecContext(ctx, historyQuery, record); err != nil {
		return nil, fmt.Errorf("append download history: %w", err)
	}

	const counterQuery = `UPDATE notes_purchases
        SET access_count = access_count + 1, last_accessed_at = $2, updated_at = $2
        WHERE id = $1`
	if _, err := tx.ExecContext(ctx, counterQuery, purchaseID, record.CreatedAt); err != nil {
		return nil, fmt.Errorf("bump access count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return record, nil
}

// ListDownloadHistory returns the audit trail for a purchase, oldest first.
func (r *NotesPurchaseRepository) ListDownloadHistory(ctx context.Context, purchaseID string) ([]models.DownloadRecord, error) {
	const query = `SELECT id, purchase_id, pdf_id, ip_address, user_agent, created_at FROM download_history WHERE purchase_id = $1 ORDER BY created_at`
	var records []models.DownloadRecord
	if err := r.db.SelectContext(ctx, &records, query, purchaseID); err != nil {
		return nil, fmt.Errorf("list download history: %w", err)
	}
	return records, nil
}

// SyncPurchasedStudent upserts one row of the denormalized purchased-students
// read model. The ledger remains authoritative; this table serves reporting.
func (r *NotesPurchaseRepository) SyncPurchasedStudent(ctx context.Context, entry models.PurchasedStudentEntry) error {
	const query = `INSERT INTO notes_purchased_students (notes_id, student_id, purchase_id, purchased_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (notes_id, student_id) DO UPDATE SET purchase_id = EXCLUDED.purchase_id, purchased_at = EXCLUDED.purchased_at`
	if _, err := r.db.ExecContext(ctx, query, entry.NotesID, entry.StudentID, entry.PurchaseID, entry.PurchasedAt); err != nil {
		return fmt.Errorf("sync purchased student: %w", err)
	}
	return nil
}
