// Package relay implements the minimum metadata contract an
// untrusted transport needs to route and de-duplicate envelopes
// without ever observing plaintext, long-term secrets, or performing
// any cryptographic verification itself — that belongs to C6 and C3
// at the endpoints. The relay only ever sees envelope headers.
package relay

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/duskline/e2ee-core/config"
	"github.com/duskline/e2ee-core/core/envelope"
	"github.com/duskline/e2ee-core/internal/logger"
	"github.com/duskline/e2ee-core/internal/metrics"
)

// skewToleranceMillis mirrors C4's freshness gate: the relay applies
// its own ±120s validity window (R2) before it will accept a record,
// independent of whatever the receiving endpoint later decides.
const skewToleranceMillis = 120_000

var (
	ErrDuplicateMessage    = errors.New("relay: message_id already accepted")
	ErrStaleTimestamp      = errors.New("relay: timestamp outside validity window")
	ErrUnauthorizedSender  = errors.New("relay: authenticated transport identity does not match sender")
	ErrStructurallyInvalid = errors.New("relay: envelope fails structural validation")
	ErrRecordNotFound      = errors.New("relay: no record for message_id")
)

// Record is the only representation of a message the relay ever
// holds: header fields plus routing-only typed metadata. No
// ciphertext, no signature, no key material.
type Record struct {
	MessageID   string
	SessionID   string
	Sender      string
	Receiver    string
	Type        envelope.Type
	Timestamp   int64
	Seq         uint64
	Delivered   bool
	DeliveredAt time.Time
	FileMeta    *envelope.FileChunkMeta

	receivedAt time.Time
}

// MessageID computes H(session_id || seq || timestamp), the
// collision-resistant identifier the relay uses to reject replays.
func MessageID(sessionID string, seq uint64, timestamp int64) string {
	h := sha256.New()
	h.Write([]byte(sessionID))
	h.Write([]byte{0})
	h.Write([]byte(fmt.Sprintf("%d", seq)))
	h.Write([]byte{0})
	h.Write([]byte(fmt.Sprintf("%d", timestamp)))
	return hex.EncodeToString(h.Sum(nil))
}

// Relay is the in-process metadata store: one Ingest per envelope
// observed on the wire, a background sweep enforcing the retention
// policy, and Pending/MarkDelivered for forwarding-or-queueing
// semantics consumed by a transport layer this package does not
// implement.
type Relay struct {
	mu      sync.RWMutex
	records map[string]*Record
	cfg     *config.RelayConfig
	log     logger.Logger
	stop    chan struct{}
	stopOne sync.Once
}

// New builds a Relay governed by cfg's retention settings. A nil cfg
// falls back to config.Default().Relay; a nil log falls back to the
// default stdout logger.
func New(cfg *config.RelayConfig, log logger.Logger) *Relay {
	if cfg == nil {
		cfg = config.Default().Relay
	}
	if log == nil {
		log = logger.NewDefaultLogger()
	}
	r := &Relay{
		records: make(map[string]*Record),
		cfg:     cfg,
		log:     log,
		stop:    make(chan struct{}),
	}
	go r.sweepLoop()
	return r
}

func freshTimestamp(ts int64) bool {
	now := time.Now().UnixMilli()
	delta := now - ts
	if delta < 0 {
		delta = -delta
	}
	return delta <= skewToleranceMillis
}

// Ingest records one envelope observed on the wire. authenticatedUser
// is the transport-layer identity the connection was authenticated
// as; it must equal env.Sender (R3). A duplicate message_id (R1) or a
// timestamp outside the validity window (R2) is rejected before the
// record is ever stored — the relay never mutates its store on a
// rejected write.
func (r *Relay) Ingest(ctx context.Context, env *envelope.Envelope, authenticatedUser string) (*Record, error) {
	if err := env.Validate(); err != nil {
		return nil, logger.NewCoreError(logger.CodeStructuralInvalid, "envelope fails structural validation", fmt.Errorf("%w: %v", ErrStructurallyInvalid, err))
	}
	if env.Sender != authenticatedUser {
		r.log.Warn("rejected envelope with mismatched sender",
			logger.String("session_id", env.SessionID),
			logger.String("claimed_sender", env.Sender),
			logger.String("authenticated_as", authenticatedUser))
		return nil, logger.NewCoreError(logger.CodeInvalidSignature, "authenticated sender does not match claimed sender", ErrUnauthorizedSender)
	}
	if !freshTimestamp(env.Timestamp) {
		r.log.Warn("rejected envelope outside relay validity window", logger.String("session_id", env.SessionID), logger.Uint64("seq", env.Seq))
		return nil, logger.NewCoreError(logger.CodeStaleTimestamp, "timestamp outside relay validity window", ErrStaleTimestamp)
	}

	id := MessageID(env.SessionID, env.Seq, env.Timestamp)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.records[id]; dup {
		metrics.RelayDuplicatesRejected.Inc()
		r.log.Warn("rejected duplicate message_id", logger.String("message_id", id), logger.String("session_id", env.SessionID))
		return nil, logger.NewCoreError(logger.CodeReplayDuplicate, "message_id already accepted", ErrDuplicateMessage)
	}

	rec := &Record{
		MessageID:  id,
		SessionID:  env.SessionID,
		Sender:     env.Sender,
		Receiver:   env.Receiver,
		Type:       env.Type,
		Timestamp:  env.Timestamp,
		Seq:        env.Seq,
		FileMeta:   env.FileMeta,
		receivedAt: time.Now(),
	}
	r.records[id] = rec

	metrics.RelayRecordsStored.WithLabelValues(string(env.Type)).Inc()
	metrics.RelayRecordsRetained.Set(float64(len(r.records)))
	return rec, nil
}

// MarkDelivered records that messageID was forwarded to a connected
// receiver just now. Called by the transport immediately after a
// successful forward; it is a no-op on delivery semantics if the
// receiver later disconnects before acknowledging — at-most-one
// delivery attempt is all the relay promises.
func (r *Relay) MarkDelivered(messageID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[messageID]
	if !ok {
		return ErrRecordNotFound
	}
	rec.Delivered = true
	rec.DeliveredAt = time.Now()
	return nil
}

// Get returns the record for messageID.
func (r *Relay) Get(messageID string) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[messageID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	cp := *rec
	return &cp, nil
}

// Pending returns the undelivered records addressed to receiver,
// oldest first — what a transport replays to a peer that has just
// reconnected.
func (r *Relay) Pending(receiver string) []*Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Record, 0)
	for _, rec := range r.records {
		if rec.Receiver == receiver && !rec.Delivered {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sortByReceivedAt(out)
	return out
}

func sortByReceivedAt(recs []*Record) {
	for i := 1; i < len(recs); i++ {
		for j := i; j > 0 && recs[j].receivedAt.Before(recs[j-1].receivedAt); j-- {
			recs[j], recs[j-1] = recs[j-1], recs[j]
		}
	}
}

// Close stops the retention sweep.
func (r *Relay) Close() {
	r.stopOne.Do(func() { close(r.stop) })
}
