package identity

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bibliome/atproto-oauth/syntax"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheResolverLookupHandle(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	var hits atomic.Int32
	var failing atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Host == "alice.example" && r.URL.Path == "/.well-known/atproto-did":
			hits.Add(1)
			if failing.Load() {
				http.Error(w, "unavailable", http.StatusServiceUnavailable)
				return
			}
			fmt.Fprint(w, "did:plc:abc123")
		case r.Host == "plc.directory" && r.URL.Path == "/did:plc:abc123":
			fmt.Fprint(w, plcDocJSON("did:plc:abc123", "alice.example", "https://pds.example"))
		case r.URL.Path == "/xrpc/com.atproto.identity.resolveHandle":
			http.NotFound(w, r)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewCacheResolver(NewResolver(testClient(srv)), 100, time.Hour, 10*time.Millisecond)

	ident, err := c.LookupHandle(ctx, syntax.Handle("Alice.Example"))
	require.NoError(t, err)
	assert.Equal(syntax.DID("did:plc:abc123"), ident.DID)

	// second lookup served from cache, with normalized key
	_, err = c.LookupHandle(ctx, syntax.Handle("alice.example"))
	require.NoError(t, err)
	assert.Equal(int32(1), hits.Load())

	c.Purge(syntax.Handle("alice.example"))
	_, err = c.LookupHandle(ctx, syntax.Handle("alice.example"))
	require.NoError(t, err)
	assert.Equal(int32(2), hits.Load())
}

func TestCacheResolverErrorTTL(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	var hits atomic.Int32
	var failing atomic.Bool
	failing.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Host == "bob.example" && r.URL.Path == "/.well-known/atproto-did":
			hits.Add(1)
			if failing.Load() {
				http.Error(w, "unavailable", http.StatusServiceUnavailable)
				return
			}
			fmt.Fprint(w, "did:plc:def456")
		case r.Host == "plc.directory" && r.URL.Path == "/did:plc:def456":
			fmt.Fprint(w, plcDocJSON("did:plc:def456", "bob.example", "https://pds.example"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewCacheResolver(NewResolver(testClient(srv)), 100, time.Hour, 10*time.Millisecond)

	_, err := c.LookupHandle(ctx, syntax.Handle("bob.example"))
	assert.Error(err)

	// error is cached within the short TTL
	_, err = c.LookupHandle(ctx, syntax.Handle("bob.example"))
	assert.Error(err)
	assert.Equal(int32(1), hits.Load())

	// after the error TTL the stale failure is evicted and retried
	failing.Store(false)
	time.Sleep(20 * time.Millisecond)
	ident, err := c.LookupHandle(ctx, syntax.Handle("bob.example"))
	require.NoError(t, err)
	assert.Equal(syntax.DID("did:plc:def456"), ident.DID)
	assert.Equal(int32(2), hits.Load())
}
