package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignerSignMatchesHMACSHA256(t *testing.T) {
	secret := "gateway_secret"
	signer := NewSigner(secret)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("order_1|pay_1"))
	expected := hex.EncodeToString(mac.Sum(nil))

	assert.Equal(t, expected, signer.Sign("order_1", "pay_1"))
}

func TestSignerVerify(t *testing.T) {
	signer := NewSigner("gateway_secret")
	valid := signer.Sign("order_1", "pay_1")

	assert.True(t, signer.Verify(Assertion{OrderID: "order_1", PaymentID: "pay_1", Signature: valid}))

	// Any tampering with the triple fails verification.
	tampered := "0" + valid[1:]
	if strings.HasPrefix(valid, "0") {
		tampered = "1" + valid[1:]
	}
	assert.False(t, signer.Verify(Assertion{OrderID: "order_1", PaymentID: "pay_1", Signature: tampered}))
	assert.False(t, signer.Verify(Assertion{OrderID: "order_2", PaymentID: "pay_1", Signature: valid}))
	assert.False(t, signer.Verify(Assertion{OrderID: "order_1", PaymentID: "pay_2", Signature: valid}))
}

func TestSignerVerifyRejectsEmptyFields(t *testing.T) {
	signer := NewSigner("gateway_secret")
	valid := signer.Sign("order_1", "pay_1")

	assert.False(t, signer.Verify(Assertion{OrderID: "", PaymentID: "pay_1", Signature: valid}))
	assert.False(t, signer.Verify(Assertion{OrderID: "order_1", PaymentID: "", Signature: valid}))
	assert.False(t, signer.Verify(Assertion{OrderID: "order_1", PaymentID: "pay_1", Signature: ""}))
}

func TestSignerDifferentSecretsDisagree(t *testing.T) {
	a := NewSigner("secret_a")
	b := NewSigner("secret_b")

	sig := a.Sign("order_1", "pay_1")
	assert.False(t, b.Verify(Assertion{OrderID: "order_1", PaymentID: "pay_1", Signature: sig}))
}
