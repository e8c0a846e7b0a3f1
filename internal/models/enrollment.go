package models

import "time"

// CourseType discriminates the two course catalogs.
type CourseType string

const (
	CourseTypeRecorded CourseType = "RECORDED"
	CourseTypeLive     CourseType = "LIVE"
)

// EnrollmentStatus represents the lifecycle of a course enrollment.
type EnrollmentStatus string

const (
	EnrollmentStatusPending   EnrollmentStatus = "PENDING"
	EnrollmentStatusEnrolled  EnrollmentStatus = "ENROLLED"
	EnrollmentStatusCancelled EnrollmentStatus = "CANCELLED"
	EnrollmentStatusExpired   EnrollmentStatus = "EXPIRED"
)

// PaymentStatus tracks the payment leg of an enrollment or purchase.
type PaymentStatus string

const (
	PaymentStatusNotRequired PaymentStatus = "NOT_REQUIRED"
	PaymentStatusPending     PaymentStatus = "PENDING"
	PaymentStatusCompleted   PaymentStatus = "COMPLETED"
	PaymentStatusFailed      PaymentStatus = "FAILED"
	PaymentStatusRefunded    PaymentStatus = "REFUNDED"
)

// CourseEnrollment is the single record a student ever holds for a course.
// Uniqueness on (student_id, course_id) is enforced by the store.
type CourseEnrollment struct {
	ID               string           `db:"id" json:"id"`
	StudentID        string           `db:"student_id" json:"student_id"`
	CourseID         string           `db:"course_id" json:"course_id"`
	CourseType       CourseType       `db:"course_type" json:"course_type"`
	EnrollmentStatus EnrollmentStatus `db:"enrollment_status" json:"enrollment_status"`
	PaymentStatus    PaymentStatus    `db:"payment_status" json:"payment_status"`
	OrderID          *string          `db:"order_id" json:"order_id,omitempty"`
	PaymentID        *string          `db:"payment_id" json:"payment_id,omitempty"`
	PaymentSignature *string          `db:"payment_signature" json:"-"`
	Amount           int64            `db:"amount" json:"amount"`
	Currency         string           `db:"currency" json:"currency"`
	PaidAt           *time.Time       `db:"paid_at" json:"paid_at,omitempty"`
	ExpiresAt        *time.Time       `db:"expires_at" json:"expires_at,omitempty"`
	ProgressPercent  float64          `db:"progress_percent" json:"progress_percent"`
	CreatedAt        time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time        `db:"updated_at" json:"updated_at"`
}

// Expired reports whether the enrollment has lapsed. The EXPIRED status is
// derived at read time, never written to the store.
func (e *CourseEnrollment) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && !e.ExpiresAt.After(now)
}

// EffectiveStatus folds expiry into the stored status.
func (e *CourseEnrollment) EffectiveStatus(now time.Time) EnrollmentStatus {
	if e.EnrollmentStatus == EnrollmentStatusEnrolled && e.Expired(now) {
		return EnrollmentStatusExpired
	}
	return e.EnrollmentStatus
}

// VideoProgress is one completed-video marker inside an enrollment.
// Watch time only ever grows.
type VideoProgress struct {
	ID           string    `db:"id" json:"id"`
	EnrollmentID string    `db:"enrollment_id" json:"enrollment_id"`
	VideoID      string    `db:"video_id" json:"video_id"`
	WatchTime    int64     `db:"watch_time" json:"watch_time"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}
