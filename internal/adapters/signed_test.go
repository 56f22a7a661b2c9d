package adapters

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestSign_CanonicalStringReproducesKnownFixture pins the canonical
// pre-hash string timestamp+method+path+body and asserts the resulting
// base64 HMAC-SHA256 signature never drifts for a fixed input, exactly
// as required of the upstream signing scheme this adapter generalizes.
func TestSign_CanonicalStringReproducesKnownFixture(t *testing.T) {
	const secret = "test-secret-key"
	const timestamp = "1700000000"
	const method = "GET"
	const path = "/api/v5/dex/aggregator/quote?amount=1000000&fromTokenAddress=a&toTokenAddress=b"

	got := sign(secret, timestamp, method, path, "")
	assert.Equal(t, "bdgBxhZLZZenNwBSRHA0UVOFahP/aTCQmZn6kjnjocs=", got)

	// Same inputs must always reproduce the same signature.
	again := sign(secret, timestamp, method, path, "")
	assert.Equal(t, got, again)
}

func TestSign_DiffersWhenBodyChanges(t *testing.T) {
	const secret = "test-secret-key"
	const timestamp = "1700000000"
	const method = "POST"
	const path = "/api/v5/dex/aggregator/swap"

	a := sign(secret, timestamp, method, path, `{"amount":"1"}`)
	b := sign(secret, timestamp, method, path, `{"amount":"2"}`)
	assert.NotEqual(t, a, b)
}
