// file: internal/providers/signing.go
// version: 1.0.0
// guid: 8e9f0a1b-2c3d-4e5f-6a7b-8c9d0e1f2a3b

package providers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"
)

// Signing constants shared with the server side. The server fetches this
// derivation to stay in sync, so the math here is the single source of truth.
const (
	// AcceptedVersionCount is how many trailing client versions the server
	// accepts signatures from.
	AcceptedVersionCount = 5
	// TimestampTolerance is the maximum request age in seconds.
	TimestampTolerance = 300
)

// DeriveKey computes the per-version signing key:
// first-32-hex-chars(SHA256("<salt>:<version>")).
func DeriveKey(salt, version string) string {
	sum := sha256.Sum256([]byte(salt + ":" + version))
	return hex.EncodeToString(sum[:])[:32]
}

// SignRequest computes the request signature for a timestamp and version:
// first-32-hex-chars(HMAC-SHA256(key=DeriveKey(salt, version),
// msg="<timestamp>:<version>")).
func SignRequest(salt, version string, timestamp int64) string {
	mac := hmac.New(sha256.New, []byte(DeriveKey(salt, version)))
	fmt.Fprintf(mac, "%d:%s", timestamp, version)
	return hex.EncodeToString(mac.Sum(nil))[:32]
}

// SignHeaders stamps the identification headers onto a request bound for the
// primary service.
func SignHeaders(req *http.Request, salt, version string, now time.Time) {
	ts := now.Unix()
	req.Header.Set("User-Agent", "LibraryManager/"+version)
	req.Header.Set("X-LM-Timestamp", fmt.Sprintf("%d", ts))
	req.Header.Set("X-LM-Signature", SignRequest(salt, version, ts))
}

// VerifySignature checks a signature against the last AcceptedVersionCount
// versions. versions must be ordered newest first. Timestamps older than
// TimestampTolerance seconds are rejected. Mirrors the server-side check so
// both ends can be tested against each other.
func VerifySignature(salt string, versions []string, timestamp int64, signature string, now time.Time) bool {
	if now.Unix()-timestamp > TimestampTolerance || timestamp > now.Unix()+TimestampTolerance {
		return false
	}
	n := len(versions)
	if n > AcceptedVersionCount {
		n = AcceptedVersionCount
	}
	for _, v := range versions[:n] {
		if hmac.Equal([]byte(SignRequest(salt, v, timestamp)), []byte(signature)) {
			return true
		}
	}
	return false
}
