// Package webhook delivers signed JSON notifications over HTTP.
//
// Each delivery is an HTTP POST carrying a discriminator header, the
// subject job id, and an HMAC-SHA256 signature of the body so the
// receiver can prove origin.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Headers set on every delivery.
const (
	HeaderCallbackType = "X-Callback-Type"
	HeaderJobID        = "X-Job-Id"
	HeaderSignature    = "X-Signature-256"
)

// Sign computes the HMAC-SHA256 signature of a payload under key,
// formatted the way the receiver verifies it.
func Sign(payload []byte, key string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// HTTPError is a non-2xx response from the receiver.
type HTTPError struct {
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

// IsClientError reports whether err is a 4xx response; these are never
// retried, the receiver has rejected the payload outright.
func IsClientError(err error) bool {
	if he, ok := err.(*HTTPError); ok {
		return he.StatusCode >= 400 && he.StatusCode < 500
	}
	return false
}
