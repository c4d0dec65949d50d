package protocol

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSign_MatchesHMACOverJoinedFields(t *testing.T) {
	mac := hmac.New(sha256.New, []byte("C1"))
	mac.Write([]byte("D1:1700000000000:C1"))
	want := hex.EncodeToString(mac.Sum(nil))

	assert.Equal(t, want, SignHeartbeat("D1", 1_700_000_000_000, "C1"))
	assert.Equal(t, want, Sign("C1", "D1", "1700000000000"))
}

func TestVerify_RoundTripAndTamper(t *testing.T) {
	cases := []struct {
		code string
		ts   int64
		cert string
	}{
		{"D1", 1_700_000_000_000, "C1"},
		{"device-with-dash", 1, "a much longer certificate value"},
		{"", 0, ""},
	}
	for _, c := range cases {
		sig := SignHeartbeat(c.code, c.ts, c.cert)
		assert.True(t, Verify(sig, c.cert, c.code, formatTS(c.ts)))

		for i := range sig {
			b := []byte(sig)
			b[i] ^= 0x01
			assert.False(t, Verify(string(b), c.cert, c.code, formatTS(c.ts)), "flipped byte %d", i)
		}
		assert.False(t, Verify(sig, c.cert+"x", c.code, formatTS(c.ts)))
	}
}

func formatTS(ts int64) string { return strconv.FormatInt(ts, 10) }

func TestVerify_ReportFields(t *testing.T) {
	sig := SignReport("D1", "I1", 42, "C1")
	assert.True(t, Verify(sig, "C1", "D1", "I1", "42"))
	assert.False(t, Verify(sig, "C1", "D1", "I2", "42"))
}
