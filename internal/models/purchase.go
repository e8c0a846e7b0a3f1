package models

import "time"

// PurchaseStatus represents the lifecycle of a notes/materials purchase.
type PurchaseStatus string

const (
	PurchaseStatusPending   PurchaseStatus = "PENDING"
	PurchaseStatusCompleted PurchaseStatus = "COMPLETED"
	PurchaseStatusFailed    PurchaseStatus = "FAILED"
	PurchaseStatusCancelled PurchaseStatus = "CANCELLED"
)

// NotesPurchase is the authoritative ledger record for one student's purchase
// of one content item. Access decisions consult this record only.
type NotesPurchase struct {
	ID               string         `db:"id" json:"id"`
	StudentID        string         `db:"student_id" json:"student_id"`
	NotesID          string         `db:"notes_id" json:"notes_id"`
	PurchaseStatus   PurchaseStatus `db:"purchase_status" json:"purchase_status"`
	PaymentStatus    PaymentStatus  `db:"payment_status" json:"payment_status"`
	OrderID          *string        `db:"order_id" json:"order_id,omitempty"`
	PaymentID        *string        `db:"payment_id" json:"payment_id,omitempty"`
	PaymentSignature *string        `db:"payment_signature" json:"-"`
	Amount           int64          `db:"amount" json:"amount"`
	Currency         string         `db:"currency" json:"currency"`
	Active           bool           `db:"active" json:"active"`
	GrantedAt        *time.Time     `db:"granted_at" json:"granted_at,omitempty"`
	ExpiresAt        *time.Time     `db:"expires_at" json:"expires_at,omitempty"`
	AccessCount      int            `db:"access_count" json:"access_count"`
	LastAccessedAt   *time.Time     `db:"last_accessed_at" json:"last_accessed_at,omitempty"`
	CreatedAt        time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at" json:"updated_at"`
}

// Valid is the single access predicate for purchased content: the purchase is
// completed, still active, and either lifetime or not yet expired.
func (p *NotesPurchase) Valid(now time.Time) bool {
	if p.PurchaseStatus != PurchaseStatusCompleted || !p.Active {
		return false
	}
	return p.ExpiresAt == nil || p.ExpiresAt.After(now)
}

// DownloadRecord is one append-only audit entry for a served PDF.
type DownloadRecord struct {
	ID         string    `db:"id" json:"id"`
	PurchaseID string    `db:"purchase_id" json:"purchase_id"`
	PDFID      string    `db:"pdf_id" json:"pdf_id"`
	IPAddress  string    `db:"ip_address" json:"ip_address"`
	UserAgent  string    `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// RequesterMeta carries the request attributes recorded with each download.
type RequesterMeta struct {
	IPAddress string
	UserAgent string
}
