package models

// ResourceKind identifies a protected content category.
type ResourceKind string

const (
	ResourceCourseVideo   ResourceKind = "course_video"
	ResourceNotesPDF      ResourceKind = "notes_pdf"
	ResourceBatchResource ResourceKind = "batch_resource"
)

// ResourceRef identifies one protected resource. ResourceID is the owning
// course, notes or batch; Class and Subject narrow batch resources.
type ResourceRef struct {
	Kind       ResourceKind `json:"kind" validate:"required,oneof=course_video notes_pdf batch_resource"`
	ResourceID string       `json:"resource_id" validate:"required"`
	Class      string       `json:"class,omitempty"`
	Subject    string       `json:"subject,omitempty"`
}

// Denial reasons reported by the access gate.
const (
	DenialNotPurchased = "NOT_PURCHASED"
	DenialExpired      = "EXPIRED"
	DenialNotEnrolled  = "NOT_ENROLLED"
	DenialNotEligible  = "NOT_ELIGIBLE_FOR_CLASS_OR_SUBJECT"
)

// Decision is the access gate's verdict for one request.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}
