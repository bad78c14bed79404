package service

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"strings"
)

// VerifySignature checks a "SHA512=<hex>" header against the HMAC-SHA512 of
// payload keyed by the hex-decoded secret.
func VerifySignature(header string, payload []byte, secretHex string) bool {
	if header == "" || secretHex == "" {
		return false
	}
	algo, digest, ok := strings.Cut(header, "=")
	if !ok || !strings.EqualFold(algo, "sha512") {
		return false
	}
	key, err := hex.DecodeString(secretHex)
	if err != nil {
		return false
	}
	provided, err := hex.DecodeString(strings.TrimSpace(digest))
	if err != nil {
		return false
	}

	mac := hmac.New(sha512.New, key)
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), provided)
}
