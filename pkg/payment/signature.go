package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Assertion is the callback the gateway delivers once a payment settles.
type Assertion struct {
	OrderID   string `json:"order_id" validate:"required"`
	PaymentID string `json:"payment_id" validate:"required"`
	Signature string `json:"signature" validate:"required"`
}

// Signer verifies gateway payment assertions against the shared secret.
type Signer struct {
	secret []byte
}

// NewSigner constructs a signer with the shared gateway secret.
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// Sign computes the expected hex-encoded HMAC-SHA256 over orderID|paymentID.
func (s *Signer) Sign(orderID, paymentID string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether the assertion's signature matches. Comparison is
// constant time.
func (s *Signer) Verify(a Assertion) bool {
	if a.OrderID == "" || a.PaymentID == "" || a.Signature == "" {
		return false
	}
	expected := s.Sign(a.OrderID, a.PaymentID)
	return hmac.Equal([]byte(expected), []byte(a.Signature))
}
