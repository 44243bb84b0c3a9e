package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// Header names carried by authenticated venue requests.
const (
	HeaderAPIKey     = "ARB-API-KEY"
	HeaderTimestamp  = "ARB-TIMESTAMP"
	HeaderPassphrase = "ARB-PASSPHRASE"
	HeaderSignature  = "ARB-SIGNATURE"
)

// HMACAuth holds API credentials for a venue's REST API.
type HMACAuth struct {
	Key        string
	Secret     string // base64; raw bytes are used if it does not decode
	Passphrase string
}

// Headers returns the authentication headers for a request. The signature
// is base64(HMAC-SHA256(secret, timestamp+method+path+body)).
func (h *HMACAuth) Headers(method, path, body string) map[string]string {
	return h.HeadersAt(method, path, body, time.Now().Unix())
}

// HeadersAt is Headers with a caller-supplied Unix timestamp.
func (h *HMACAuth) HeadersAt(method, path, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	return map[string]string{
		HeaderAPIKey:     h.Key,
		HeaderTimestamp:  ts,
		HeaderPassphrase: h.Passphrase,
		HeaderSignature:  h.Sign(ts + method + path + body),
	}
}

// Sign returns the base64 HMAC-SHA256 of message under the secret.
func (h *HMACAuth) Sign(message string) string {
	secret, err := base64.StdEncoding.DecodeString(h.Secret)
	if err != nil {
		secret = []byte(h.Secret)
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Verify reports whether sig is valid for message, in constant time.
func (h *HMACAuth) Verify(message, sig string) bool {
	return hmac.Equal([]byte(h.Sign(message)), []byte(sig))
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}
