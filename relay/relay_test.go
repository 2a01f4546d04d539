package relay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/duskline/e2ee-core/config"
	"github.com/duskline/e2ee-core/core/envelope"
)

func sampleEnvelope(seq uint64, ts int64) *envelope.Envelope {
	return &envelope.Envelope{
		Type:       envelope.MSG,
		SessionID:  "sess-1",
		Sender:     "alice",
		Receiver:   "bob",
		Timestamp:  ts,
		Seq:        seq,
		Nonce:      make([]byte, envelope.NonceSize),
		IV:         make([]byte, envelope.IVSize),
		Ciphertext: make([]byte, envelope.AuthTagSize+8),
	}
}

func TestIngestAcceptsFreshEnvelope(t *testing.T) {
	r := New(config.Default().Relay, nil)
	defer r.Close()

	env := sampleEnvelope(1, time.Now().UnixMilli())
	rec, err := r.Ingest(context.Background(), env, "alice")
	require.NoError(t, err)
	require.Equal(t, MessageID("sess-1", 1, env.Timestamp), rec.MessageID)
	require.False(t, rec.Delivered)
}

func TestIngestRejectsDuplicateMessageID(t *testing.T) {
	r := New(config.Default().Relay, nil)
	defer r.Close()

	env := sampleEnvelope(1, time.Now().UnixMilli())
	_, err := r.Ingest(context.Background(), env, "alice")
	require.NoError(t, err)

	_, err = r.Ingest(context.Background(), env, "alice")
	require.ErrorIs(t, err, ErrDuplicateMessage)
}

func TestIngestRejectsStaleTimestamp(t *testing.T) {
	r := New(config.Default().Relay, nil)
	defer r.Close()

	env := sampleEnvelope(1, time.Now().Add(-10*time.Minute).UnixMilli())
	_, err := r.Ingest(context.Background(), env, "alice")
	require.ErrorIs(t, err, ErrStaleTimestamp)
}

func TestIngestRejectsMismatchedAuthenticatedSender(t *testing.T) {
	r := New(config.Default().Relay, nil)
	defer r.Close()

	env := sampleEnvelope(1, time.Now().UnixMilli())
	_, err := r.Ingest(context.Background(), env, "mallory")
	require.ErrorIs(t, err, ErrUnauthorizedSender)
}

func TestMarkDeliveredAndPending(t *testing.T) {
	r := New(config.Default().Relay, nil)
	defer r.Close()

	env := sampleEnvelope(1, time.Now().UnixMilli())
	rec, err := r.Ingest(context.Background(), env, "alice")
	require.NoError(t, err)

	pending := r.Pending("bob")
	require.Len(t, pending, 1)

	require.NoError(t, r.MarkDelivered(rec.MessageID))
	require.Empty(t, r.Pending("bob"))

	got, err := r.Get(rec.MessageID)
	require.NoError(t, err)
	require.True(t, got.Delivered)
}

func TestRunCleanupExpiresDeliveredPastRetention(t *testing.T) {
	cfg := *config.Default().Relay
	cfg.DeliveredRetention = time.Millisecond
	cfg.KEPRetention = time.Hour
	r := New(&cfg, nil)
	defer r.Close()

	env := sampleEnvelope(1, time.Now().UnixMilli())
	rec, err := r.Ingest(context.Background(), env, "alice")
	require.NoError(t, err)
	require.NoError(t, r.MarkDelivered(rec.MessageID))

	time.Sleep(5 * time.Millisecond)
	r.runCleanup()

	_, err = r.Get(rec.MessageID)
	require.ErrorIs(t, err, ErrRecordNotFound)
}

func TestRunCleanupHalvesAboveRecordLimit(t *testing.T) {
	cfg := *config.Default().Relay
	cfg.HalveAboveRecords = 4
	r := New(&cfg, nil)
	defer r.Close()

	for i := uint64(1); i <= 6; i++ {
		env := sampleEnvelope(i, time.Now().UnixMilli())
		_, err := r.Ingest(context.Background(), env, "alice")
		require.NoError(t, err)
	}

	r.runCleanup()

	r.mu.RLock()
	remaining := len(r.records)
	r.mu.RUnlock()
	require.Equal(t, 3, remaining)
}
