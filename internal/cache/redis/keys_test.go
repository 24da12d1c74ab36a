package redis

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "ecovest:lock:settlement:cycle", lockKey("ecovest:", "settlement:cycle"))
	assert.Equal(t, "lock:x", lockKey("", "x"))
	assert.Equal(t, "ecovest:ratelimit:projections:1.2.3.4", rateLimitKey("ecovest:", "projections:1.2.3.4"))
}

func TestLockTokenCarriesAcquisitionTime(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tok := lockToken(at)
	assert.True(t, strings.HasPrefix(tok, "1772366400000:"))
	assert.True(t, lockSince(tok).Equal(at))
	assert.NotEqual(t, tok, lockToken(at), "tokens stay unique")

	assert.True(t, lockSince("6f1c2a9e-0b7d-4c1e-9a53-2f0d1e8b7c44").IsZero())
	assert.True(t, lockSince("soon:abc").IsZero())
	assert.True(t, lockSince("").IsZero())
}

func TestHasPattern(t *testing.T) {
	assert.True(t, hasPattern("settlement*"))
	assert.False(t, hasPattern("settlement"))
}

func TestPayloadBytes(t *testing.T) {
	b, ok := payloadBytes("abc")
	assert.True(t, ok)
	assert.Equal(t, []byte("abc"), b)

	b, ok = payloadBytes([]byte("xyz"))
	assert.True(t, ok)
	assert.Equal(t, []byte("xyz"), b)

	_, ok = payloadBytes(42)
	assert.False(t, ok)
}

func TestSlidingWindowScriptEmbedded(t *testing.T) {
	assert.Contains(t, slidingWindowLua, "ZREMRANGEBYSCORE")
	assert.Contains(t, slidingWindowLua, "return {0, count}")
}
