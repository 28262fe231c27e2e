package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// VerifyWebhookSignature checks an inbound channel webhook's HMAC-SHA256
// signature against body, using secret as the shared key (§6). header is
// the raw signature header value; it may carry an optional "sha256="
// prefix (as GitHub-style X-Hub-Signature-256 headers do) and is matched
// case-insensitively. Comparison is constant-time.
func VerifyWebhookSignature(secret string, body []byte, header string) bool {
	if secret == "" {
		return false
	}

	signature := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(header)), "sha256=")
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	want := mac.Sum(nil)

	return hmac.Equal(got, want)
}
