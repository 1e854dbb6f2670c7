package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
)

// ComputeSignature returns the base64 HMAC-SHA256 of timestamp+body, the
// scheme the gateway applies to webhook deliveries.
func ComputeSignature(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a webhook signature in constant time.
func VerifySignature(secret, timestamp string, body []byte, provided string) bool {
	if secret == "" || provided == "" {
		return false
	}
	expected := ComputeSignature(secret, timestamp, body)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(provided)) == 1
}
