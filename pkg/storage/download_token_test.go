package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDownloadTokenSignerGenerateAndParse(t *testing.T) {
	signer := NewDownloadTokenSigner("secret", time.Hour)
	token, expiresAt, err := signer.Generate("pur-1", "pdf-42")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.False(t, expiresAt.IsZero())

	purchaseID, contentID, parsedExpiry, err := signer.Parse(token)
	require.NoError(t, err)
	require.Equal(t, "pur-1", purchaseID)
	require.Equal(t, "pdf-42", contentID)
	require.WithinDuration(t, expiresAt, parsedExpiry, time.Second)
}

func TestDownloadTokenSignerExpired(t *testing.T) {
	signer := NewDownloadTokenSigner("secret", time.Millisecond*10)
	token, _, err := signer.Generate("pur-1", "pdf-42")
	require.NoError(t, err)
	time.Sleep(time.Millisecond * 20)

	_, _, _, err = signer.Parse(token)
	require.Error(t, err)
}

func TestDownloadTokenSignerTamperedSignature(t *testing.T) {
	signer := NewDownloadTokenSigner("secret", time.Hour)
	token, _, err := signer.Generate("pur-1", "pdf-42")
	require.NoError(t, err)

	other := NewDownloadTokenSigner("other-secret", time.Hour)
	_, _, _, err = other.Parse(token)
	require.Error(t, err)
}
