package paystack

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sign produces the signature Paystack sends for body.
func sign(secret string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"event":"charge.success","data":{"reference":"AGR-ref"}}`)
	sig := sign("sk_test_123", body)

	assert.True(t, VerifySignature("sk_test_123", body, sig))
	assert.False(t, VerifySignature("sk_other", body, sig))
	assert.False(t, VerifySignature("sk_test_123", []byte(`{"event":"charge.success"}`), sig))
	assert.False(t, VerifySignature("sk_test_123", body, "not-hex"))
	assert.False(t, VerifySignature("sk_test_123", body, ""))
	assert.False(t, VerifySignature("", body, sig))
}

func TestParseWebhook(t *testing.T) {
	body := []byte(`{"event":"charge.success","data":{"reference":"AGR-ref","status":"success"}}`)

	ev, err := ParseWebhook("sk_test_123", body, sign("sk_test_123", body))
	require.NoError(t, err)
	assert.Equal(t, "charge.success", ev.Event)
	assert.Equal(t, "AGR-ref", ev.Data.Reference)

	_, err = ParseWebhook("sk_test_123", body, sign("wrong", body))
	assert.ErrorIs(t, err, ErrInvalidSignature)
}
