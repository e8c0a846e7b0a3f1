package models

import "time"

// Course is the catalog entry the enrollment flow prices against.
// Full catalog CRUD lives elsewhere; the core only reads these fields.
type Course struct {
	ID         string     `db:"id" json:"id"`
	Title      string     `db:"title" json:"title"`
	Type       CourseType `db:"type" json:"type"`
	Price      int64      `db:"price" json:"price"`
	Currency   string     `db:"currency" json:"currency"`
	VideoCount int        `db:"video_count" json:"video_count"`
	Active     bool       `db:"active" json:"active"`
}

// Free reports whether the course takes the no-payment enrollment path.
func (c *Course) Free() bool { return c.Price == 0 }

// Notes is the catalog entry for purchasable notes/materials.
type Notes struct {
	ID           string `db:"id" json:"id"`
	Title        string `db:"title" json:"title"`
	Price        int64  `db:"price" json:"price"`
	Currency     string `db:"currency" json:"currency"`
	Active       bool   `db:"active" json:"active"`
	ValidityDays *int   `db:"validity_days" json:"validity_days,omitempty"`
}

// Free reports whether the notes are granted without payment.
func (n *Notes) Free() bool { return n.Price == 0 }

// PurchasedStudentEntry is the denormalized read model embedded with the
// content: a reporting convenience resynced from the ledger, never consulted
// for access decisions.
type PurchasedStudentEntry struct {
	NotesID     string    `db:"notes_id" json:"notes_id"`
	StudentID   string    `db:"student_id" json:"student_id"`
	PurchaseID  string    `db:"purchase_id" json:"purchase_id"`
	PurchasedAt time.Time `db:"purchased_at" json:"purchased_at"`
}
