package secretcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPutGetRoundTrip(t *testing.T) {
	c := New(time.Minute)
	defer c.Close()

	c.Put("alice", []byte("s3cret"))
	got, ok := c.Get("alice")
	require.True(t, ok)
	require.Equal(t, []byte("s3cret"), got)
}

func TestGetMissingReturnsNotOK(t *testing.T) {
	c := New(time.Minute)
	defer c.Close()

	_, ok := c.Get("nobody")
	require.False(t, ok)
}

func TestReleaseZeroizesAndRemoves(t *testing.T) {
	c := New(time.Minute)
	defer c.Close()

	c.Put("alice", []byte("s3cret"))
	c.mu.Lock()
	stored := c.entries["alice"].secret
	c.mu.Unlock()
	c.Release("alice")

	require.Equal(t, make([]byte, len(stored)), stored)
	_, ok := c.Get("alice")
	require.False(t, ok)
}

func TestEntryExpiresAfterIdleTimeout(t *testing.T) {
	c := New(30 * time.Millisecond)
	defer c.Close()

	c.Put("alice", []byte("s3cret"))
	time.Sleep(80 * time.Millisecond)

	_, ok := c.Get("alice")
	require.False(t, ok)
}

func TestPutOverwritesPreviousValue(t *testing.T) {
	c := New(time.Minute)
	defer c.Close()

	c.Put("alice", []byte("first"))
	c.Put("alice", []byte("second"))

	got, ok := c.Get("alice")
	require.True(t, ok)
	require.Equal(t, []byte("second"), got)
}
