package billing

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"strings"
)

// VerifyWebhookSignature checks the provider signature header against an
// HMAC-SHA512 of the raw request body. The raw, unparsed body must be hashed;
// parsing before verifying would open the door to format-confusion attacks.
// Always returns a boolean, never panics on malformed input.
func VerifyWebhookSignature(payload []byte, signatureHeader, webhookSecret string) bool {
	sig := strings.TrimSpace(signatureHeader)
	secret := strings.TrimSpace(webhookSecret)
	if sig == "" || secret == "" {
		return false
	}

	decodedSig, err := hex.DecodeString(strings.ToLower(sig))
	if err != nil {
		return false
	}

	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), decodedSig)
}

// IsWellFormedSignature reports whether the header decodes as hex at all.
// Callers use it to separate unparseable headers (400) from honest
// mismatches (401).
func IsWellFormedSignature(signatureHeader string) bool {
	sig := strings.TrimSpace(signatureHeader)
	if sig == "" {
		return false
	}
	_, err := hex.DecodeString(strings.ToLower(sig))
	return err == nil
}
