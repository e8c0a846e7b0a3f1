package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// DownloadTokenSigner creates and validates short-lived download tokens
// handed out after an access decision approves a content request. The token
// addresses content by opaque id; bytes are served by the storage layer.
type DownloadTokenSigner struct {
	secret []byte
	ttl    time.Duration
}

// NewDownloadTokenSigner constructs a signer with the provided secret and TTL.
func NewDownloadTokenSigner(secret string, ttl time.Duration) *DownloadTokenSigner {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &DownloadTokenSigner{
		secret: []byte(secret),
		ttl:    ttl,
	}
}

// Generate returns a signed token referencing the purchase and content id.
func (s *DownloadTokenSigner) Generate(purchaseID, contentID string) (string, time.Time, error) {
	if purchaseID == "" || contentID == "" {
		return "", time.Time{}, fmt.Errorf("purchaseID and contentID required")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("signing secret missing")
	}
	expiresAt := time.Now().Add(s.ttl)
	encodedContent := base64.RawURLEncoding.EncodeToString([]byte(contentID))
	payload := fmt.Sprintf("%s|%d|%s", purchaseID, expiresAt.Unix(), encodedContent)
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(payload))
	signature := hex.EncodeToString(mac.Sum(nil))
	token := strings.Join([]string{purchaseID, fmt.Sprintf("%d", expiresAt.Unix()), encodedContent, signature}, ".")
	return token, expiresAt, nil
}

// Parse validates a token and returns the embedded metadata.
func (s *DownloadTokenSigner) Parse(token string) (purchaseID, contentID string, expiresAt time.Time, err error) {
	parts := strings.Split(token, ".")
	if len(parts) != 4 {
		return "", "", time.Time{}, fmt.Errorf("invalid token format")
	}
	purchaseID = parts[0]
	ts := parts[1]
	encodedContent := parts[2]
	signature := parts[3]

	rawContent, err := base64.RawURLEncoding.DecodeString(encodedContent)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("decode content id: %w", err)
	}

	expUnix, err := parseUnix(ts)
	if err != nil {
		return "", "", time.Time{}, err
	}
	expiresAt = time.Unix(expUnix, 0)

	payload := fmt.Sprintf("%s|%s|%s", purchaseID, ts, encodedContent)
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(payload))
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return "", "", time.Time{}, fmt.Errorf("invalid token signature")
	}
	if time.Now().After(expiresAt) {
		return "", "", time.Time{}, fmt.Errorf("token expired")
	}
	return purchaseID, string(rawContent), expiresAt, nil
}

func parseUnix(raw string) (int64, error) {
	var ts int64
	_, err := fmt.Sscanf(raw, "%d", &ts)
	if err != nil {
		return 0, fmt.Errorf("invalid timestamp")
	}
	return ts, nil
}
