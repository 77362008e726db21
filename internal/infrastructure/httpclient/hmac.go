package httpclient

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

const SignatureHeader = "X-Signature"

// HMACSignature signs outbound payloads so receivers can verify their origin.
type HMACSignature struct {
	secret []byte
}

func NewHMACSignature(secret string) *HMACSignature {
	return &HMACSignature{secret: []byte(secret)}
}

// Enabled reports whether a secret is configured.
func (h *HMACSignature) Enabled() bool {
	return len(h.secret) > 0
}

// Sign returns the hex encoded HMAC-SHA256 of body.
func (h *HMACSignature) Sign(body []byte) string {
	mac := hmac.New(sha256.New, h.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks signature against body in constant time.
func (h *HMACSignature) Verify(body []byte, signature string) bool {
	expected, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, h.secret)
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expected)
}
