package ssrf

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsBlockedIP(t *testing.T) {
	assert := assert.New(t)

	blocked := []string{
		"0.0.0.1",
		"10.1.2.3",
		"127.0.0.1",
		"169.254.1.1",
		"172.16.0.1",
		"172.31.255.255",
		"192.168.1.1",
		"224.0.0.1",
		"240.0.0.1",
		"255.255.255.255",
		"::1",
		"fc00::1",
		"fd12::34",
		"fe80::1",
	}
	for _, s := range blocked {
		assert.True(IsBlockedIP(net.ParseIP(s)), s)
	}

	allowed := []string{
		"1.1.1.1",
		"8.8.8.8",
		"172.32.0.1",
		"203.0.113.9",
		"2600:db8::1",
	}
	for _, s := range allowed {
		assert.False(IsBlockedIP(net.ParseIP(s)), s)
	}
}

func TestCheckURL(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	// non-HTTPS schemes and malformed URLs are always blocked
	assert.ErrorIs(CheckURL(ctx, nil, "http://example.com"), ErrUnsafeURL)
	assert.ErrorIs(CheckURL(ctx, nil, "ftp://example.com"), ErrUnsafeURL)
	assert.ErrorIs(CheckURL(ctx, nil, "file:///etc/passwd"), ErrUnsafeURL)
	assert.ErrorIs(CheckURL(ctx, nil, "https://"), ErrUnsafeURL)
	assert.ErrorIs(CheckURL(ctx, nil, "https://under_score.example"), ErrUnsafeURL)

	// blocked IP literals don't need DNS
	assert.ErrorIs(CheckURL(ctx, nil, "https://127.0.0.1/path"), ErrUnsafeURL)
	assert.ErrorIs(CheckURL(ctx, nil, "https://10.1.2.3"), ErrUnsafeURL)
	assert.ErrorIs(CheckURL(ctx, nil, "https://169.254.1.1"), ErrUnsafeURL)
	assert.ErrorIs(CheckURL(ctx, nil, "https://[::1]"), ErrUnsafeURL)
	assert.ErrorIs(CheckURL(ctx, nil, "https://[fc00::1]"), ErrUnsafeURL)

	// public literal is allowed without resolution
	assert.NoError(CheckURL(ctx, nil, "https://1.1.1.1"))
}

func TestIsSafeURLLiterals(t *testing.T) {
	assert := assert.New(t)

	assert.False(IsSafeURL("https://127.0.0.1"))
	assert.False(IsSafeURL("https://192.168.0.10"))
	assert.False(IsSafeURL("http://1.1.1.1"))
	assert.True(IsSafeURL("https://8.8.8.8"))
}
