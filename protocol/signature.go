package protocol

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// Sign returns hex(HMAC-SHA256(certificate, join(":", fields..., certificate))).
func Sign(certificate string, fields ...string) string {
	parts := make([]string, 0, len(fields)+1)
	parts = append(parts, fields...)
	parts = append(parts, certificate)
	mac := hmac.New(sha256.New, []byte(certificate))
	mac.Write([]byte(strings.Join(parts, ":")))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify compares signature with the expected one in constant time.
func Verify(signature, certificate string, fields ...string) bool {
	expected := Sign(certificate, fields...)
	return hmac.Equal([]byte(signature), []byte(expected))
}

// SignHeartbeat signs deviceCode:timestamp:certificate.
func SignHeartbeat(deviceCode string, timestamp int64, certificate string) string {
	return Sign(certificate, deviceCode, strconv.FormatInt(timestamp, 10))
}

// SignReport signs deviceCode:instructionId:timestamp:certificate.
func SignReport(deviceCode, instructionID string, timestamp int64, certificate string) string {
	return Sign(certificate, deviceCode, instructionID, strconv.FormatInt(timestamp, 10))
}
