package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheSetGet(t *testing.T) {
	t.Parallel()

	c := New(true)
	etag := c.Set("k", []byte(`{"a":1}`), time.Minute)
	assert.NotEmpty(t, etag)

	data, gotETag, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte(`{"a":1}`), data)
	assert.Equal(t, etag, gotETag)

	_, _, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestCacheExpiry(t *testing.T) {
	t.Parallel()

	c := New(true)
	c.Set("k", []byte("v"), -time.Second)
	_, _, ok := c.Get("k")
	assert.False(t, ok)
}

func TestCacheDisabled(t *testing.T) {
	t.Parallel()

	c := New(false)
	etag := c.Set("k", []byte("v"), time.Minute)
	assert.NotEmpty(t, etag) // still computes an ETag for the response

	_, _, ok := c.Get("k")
	assert.False(t, ok)
}

func TestCacheInvalidatePrefix(t *testing.T) {
	t.Parallel()

	c := New(true)
	c.Set("snapshot:latest:M-68kg", []byte("a"), time.Minute)
	c.Set("snapshot:latest:F-57kg", []byte("b"), time.Minute)
	c.Set("trend:X", []byte("c"), time.Minute)

	c.Invalidate("snapshot:")

	_, _, ok := c.Get("snapshot:latest:M-68kg")
	assert.False(t, ok)
	_, _, ok = c.Get("snapshot:latest:F-57kg")
	assert.False(t, ok)
	_, _, ok = c.Get("trend:X")
	assert.True(t, ok)
}

func TestComputeETagDeterministic(t *testing.T) {
	t.Parallel()

	a := ComputeETag([]byte("payload"))
	b := ComputeETag([]byte("payload"))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, ComputeETag([]byte("other")))
	assert.Contains(t, a, `W/"`)
}

func TestCheckETagMatch(t *testing.T) {
	t.Parallel()

	etag := ComputeETag([]byte("payload"))
	assert.True(t, CheckETagMatch(etag, etag))
	assert.True(t, CheckETagMatch("*", etag))
	assert.False(t, CheckETagMatch("", etag))
	assert.False(t, CheckETagMatch(`W/"other"`, etag))
}
