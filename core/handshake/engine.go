// e2ee-core - End-to-End Encrypted Messaging Core
// Copyright (C) 2026 e2ee-core
//
// This file is part of e2ee-core.
//
// e2ee-core is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// e2ee-core is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with e2ee-core. If not, see <https://www.gnu.org/licenses/>.

package handshake

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	ecrypto "github.com/duskline/e2ee-core/crypto"
	"github.com/duskline/e2ee-core/core/envelope"
	"github.com/duskline/e2ee-core/core/observer"
	"github.com/duskline/e2ee-core/core/session"
	"github.com/duskline/e2ee-core/directory"
	"github.com/duskline/e2ee-core/internal/logger"
	"github.com/duskline/e2ee-core/internal/metrics"
)

// skewToleranceMillis is the maximum allowed distance, in milliseconds,
// between a handshake message's timestamp and local wall-clock time in
// either direction.
const skewToleranceMillis = 120_000

// defaultTimeout bounds how long an initiator waits for KEP_RESPONSE
// before the attempt is abandoned.
const defaultTimeout = 30 * time.Second

// Engine drives both roles of the key-exchange protocol for one local
// identity: issuing KEP_INIT, answering with KEP_RESPONSE, and
// verifying the peer's confirmation. It holds at most one pending
// Attempt per session_id at a time.
type Engine struct {
	identity *ecrypto.IdentityKeyPair
	ownUser  string
	dir      directory.Service
	keystore *session.Keystore
	obs      observer.Observer
	log      logger.Logger
	limiter  *RateLimiter
	timeout  time.Duration
	window   int

	sf singleflight.Group

	mu      sync.Mutex
	pending map[string]*Attempt
}

// NewEngine builds a handshake Engine for ownUser. windowSize sets the
// replay-window size newly established Sessions are given.
func NewEngine(identity *ecrypto.IdentityKeyPair, ownUser string, dir directory.Service, ks *session.Keystore, obs observer.Observer, log logger.Logger, windowSize int) *Engine {
	if obs == nil {
		obs = observer.Noop{}
	}
	if log == nil {
		log = logger.NewDefaultLogger()
	}
	return &Engine{
		identity: identity,
		ownUser:  ownUser,
		dir:      dir,
		keystore: ks,
		obs:      obs,
		log:      log,
		limiter:  NewRateLimiter(5, 20),
		timeout:  defaultTimeout,
		window:   windowSize,
		pending:  make(map[string]*Attempt),
	}
}

func randomNonce() ([]byte, error) {
	n := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, n); err != nil {
		return nil, fmt.Errorf("%w: %v", ecrypto.ErrBadEntropy, err)
	}
	return n, nil
}

// freshTimestamp reports whether a millisecond-epoch timestamp falls
// within skewToleranceMillis of local wall-clock time.
func freshTimestamp(ts int64) bool {
	now := time.Now().UnixMilli()
	delta := now - ts
	if delta < 0 {
		delta = -delta
	}
	return delta <= skewToleranceMillis
}

// Initiate begins a handshake with peerUser: generates an ephemeral
// ECDH keypair, signs its public encoding with the local identity key,
// and returns the KEP_INIT envelope to send. The attempt is tracked
// under the deterministic session_id until a response arrives, times
// out, or is superseded by a concurrent peer init.
func (e *Engine) Initiate(ctx context.Context, peerUser string) (*envelope.Envelope, error) {
	sessionID := session.DeriveSessionID(e.ownUser, peerUser)

	if !e.limiter.Allow(sessionID) {
		metrics.HandshakesFailed.WithLabelValues("rate_limited").Inc()
		return nil, ErrRateLimited
	}

	v, err, _ := e.sf.Do("init:"+sessionID, func() (interface{}, error) {
		eph, err := ecrypto.GenerateEphemeral()
		if err != nil {
			return nil, err
		}
		nonce, err := randomNonce()
		if err != nil {
			eph.Zeroize()
			return nil, err
		}

		ephPub := eph.PublicBytes()
		sig, err := e.identity.Sign(ephPub)
		if err != nil {
			eph.Zeroize()
			return nil, fmt.Errorf("handshake: sign eph_pub: %w", err)
		}

		att := &Attempt{
			SessionID: sessionID,
			PeerUser:  peerUser,
			State:     AwaitResponse,
			eph:       eph,
			nonce:     nonce,
			ownUser:   e.ownUser,
			startedAt: time.Now(),
		}
		e.mu.Lock()
		e.pending[sessionID] = att
		e.mu.Unlock()

		env := &envelope.Envelope{
			Type:      envelope.KEPInit,
			SessionID: sessionID,
			Sender:    e.ownUser,
			Receiver:  peerUser,
			Timestamp: time.Now().UnixMilli(),
			Seq:       1,
			Nonce:     nonce,
			KEP: &envelope.KEPMeta{
				EphPub:    ephPub,
				Signature: sig,
			},
		}
		metrics.HandshakesInitiated.WithLabelValues("initiator").Inc()
		return env, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*envelope.Envelope), nil
}

// HandleKEPInit processes an inbound KEP_INIT: validates structure,
// timestamp freshness and the initiator's signature over its
// ephemeral public key, then responds with KEP_RESPONSE carrying its
// own ephemeral key and a key_confirmation MAC. Any validation failure
// is reported to the Observer and answered with an error, never a
// reply envelope.
func (e *Engine) HandleKEPInit(ctx context.Context, in *envelope.Envelope) (*envelope.Envelope, error) {
	start := time.Now()
	defer func() { metrics.HandshakeDuration.WithLabelValues("responder").Observe(time.Since(start).Seconds()) }()

	if err := in.Validate(); err != nil || in.Type != envelope.KEPInit {
		e.obs.OnInvalidSignature(ctx, in.SessionID, "malformed KEP_INIT")
		e.log.Warn("rejected malformed KEP_INIT", logger.String("session_id", in.SessionID))
		metrics.HandshakesFailed.WithLabelValues("invalid_kep_message").Inc()
		return nil, ErrInvalidKEPMessage
	}
	if !freshTimestamp(in.Timestamp) {
		e.obs.OnAuthenticationFailed(ctx, in.SessionID, "stale KEP_INIT timestamp")
		e.log.Warn("rejected stale KEP_INIT", logger.String("session_id", in.SessionID), logger.Int("timestamp", int(in.Timestamp)))
		metrics.HandshakesFailed.WithLabelValues("stale_timestamp").Inc()
		return nil, ErrStaleTimestamp
	}
	if !e.limiter.Allow(in.SessionID) {
		e.log.Warn("rate limited KEP_INIT", logger.String("session_id", in.SessionID))
		metrics.HandshakesFailed.WithLabelValues("rate_limited").Inc()
		return nil, ErrRateLimited
	}

	peerKey, err := e.dir.GetPeerPublicIdentityKey(ctx, in.Sender)
	if err != nil {
		e.obs.OnAuthenticationFailed(ctx, in.SessionID, "unknown initiator identity")
		return nil, fmt.Errorf("handshake: resolve initiator identity: %w", err)
	}
	peerPub, err := directory.FromJWK(peerKey)
	if err != nil {
		e.obs.OnInvalidSignature(ctx, in.SessionID, "malformed initiator JWK")
		return nil, err
	}
	if err := ecrypto.VerifySignature(peerPub, in.KEP.EphPub, in.KEP.Signature); err != nil {
		e.obs.OnInvalidSignature(ctx, in.SessionID, "KEP_INIT signature verification failed")
		e.log.Error("KEP_INIT signature verification failed", logger.String("session_id", in.SessionID), logger.String("sender", in.Sender))
		metrics.HandshakesFailed.WithLabelValues("invalid_signature").Inc()
		return nil, ErrInvalidSignature
	}

	if existing := e.tieBreak(in); existing != nil {
		return nil, ErrSuperseded
	}

	eph, err := ecrypto.GenerateEphemeral()
	if err != nil {
		return nil, err
	}
	defer eph.Zeroize()

	shared, err := eph.ECDH(in.KEP.EphPub)
	if err != nil {
		e.obs.OnInvalidSignature(ctx, in.SessionID, "invalid peer ephemeral public key")
		return nil, err
	}

	sess, err := session.NewFromSecret(in.SessionID, e.ownUser, in.Sender, shared, e.window)
	ecrypto.Zeroize(shared)
	if err != nil {
		return nil, err
	}

	confirmation := ecrypto.HMAC(sess.RootKeyForConfirmation(), []byte("CONFIRM:"+in.Sender))

	ephPub := eph.PublicBytes()
	sig, err := e.identity.Sign(ephPub)
	if err != nil {
		return nil, fmt.Errorf("handshake: sign response eph_pub: %w", err)
	}

	if err := e.keystore.Put(sess); err != nil {
		return nil, fmt.Errorf("handshake: persist responder session: %w", err)
	}

	e.clearPending(in.SessionID)
	e.log.Info("handshake established as responder", logger.String("session_id", in.SessionID), logger.String("peer", in.Sender))
	metrics.HandshakesInitiated.WithLabelValues("responder").Inc()
	metrics.HandshakesCompleted.WithLabelValues("established").Inc()

	return &envelope.Envelope{
		Type:      envelope.KEPResponse,
		SessionID: in.SessionID,
		Sender:    e.ownUser,
		Receiver:  in.Sender,
		Timestamp: time.Now().UnixMilli(),
		Seq:       1,
		Nonce:     in.Nonce,
		KEP: &envelope.KEPMeta{
			EphPub:          ephPub,
			Signature:       sig,
			KeyConfirmation: confirmation,
		},
	}, nil
}

// HandleKEPResponse completes an initiator's pending attempt: verifies
// the responder's signature, derives the shared session keys, and
// checks key_confirmation in constant time. On success the session is
// persisted and the attempt transitions to Established; any failure
// once the pending attempt has been found transitions it to Failed and
// the attempt is dropped. A structurally invalid or stale response is
// rejected before the pending attempt is consulted and leaves it as is.
func (e *Engine) HandleKEPResponse(ctx context.Context, in *envelope.Envelope) error {
	if err := in.Validate(); err != nil || in.Type != envelope.KEPResponse {
		metrics.HandshakesFailed.WithLabelValues("invalid_kep_message").Inc()
		return ErrInvalidKEPMessage
	}
	if !freshTimestamp(in.Timestamp) {
		e.obs.OnAuthenticationFailed(ctx, in.SessionID, "stale KEP_RESPONSE timestamp")
		metrics.HandshakesFailed.WithLabelValues("stale_timestamp").Inc()
		return ErrStaleTimestamp
	}

	e.mu.Lock()
	att, ok := e.pending[in.SessionID]
	e.mu.Unlock()
	if !ok || att.State != AwaitResponse {
		return ErrUnknownSession
	}

	peerKey, err := e.dir.GetPeerPublicIdentityKey(ctx, in.Sender)
	if err != nil {
		e.fail(in.SessionID)
		return fmt.Errorf("handshake: resolve responder identity: %w", err)
	}
	peerPub, err := directory.FromJWK(peerKey)
	if err != nil {
		e.fail(in.SessionID)
		e.obs.OnInvalidSignature(ctx, in.SessionID, "malformed responder JWK")
		return err
	}
	if err := ecrypto.VerifySignature(peerPub, in.KEP.EphPub, in.KEP.Signature); err != nil {
		e.fail(in.SessionID)
		e.obs.OnInvalidSignature(ctx, in.SessionID, "KEP_RESPONSE signature verification failed")
		metrics.HandshakesFailed.WithLabelValues("invalid_signature").Inc()
		return ErrInvalidSignature
	}

	shared, err := att.eph.ECDH(in.KEP.EphPub)
	if err != nil {
		e.fail(in.SessionID)
		return err
	}

	sess, err := session.NewFromSecret(in.SessionID, e.ownUser, att.PeerUser, shared, e.window)
	ecrypto.Zeroize(shared)
	if err != nil {
		e.fail(in.SessionID)
		return err
	}

	if !ecrypto.VerifyHMAC(sess.RootKeyForConfirmation(), []byte("CONFIRM:"+e.ownUser), in.KEP.KeyConfirmation) {
		e.fail(in.SessionID)
		e.obs.OnAuthenticationFailed(ctx, in.SessionID, "key confirmation mismatch")
		metrics.HandshakesFailed.WithLabelValues("invalid_signature").Inc()
		return ErrKeyConfirmFailed
	}

	if err := e.keystore.Put(sess); err != nil {
		e.fail(in.SessionID)
		return fmt.Errorf("handshake: persist initiator session: %w", err)
	}

	att.eph.Zeroize()
	e.mu.Lock()
	att.State = Established
	delete(e.pending, in.SessionID)
	e.mu.Unlock()

	e.log.Info("handshake established as initiator", logger.String("session_id", in.SessionID), logger.String("peer", att.PeerUser))
	metrics.HandshakesCompleted.WithLabelValues("established").Inc()
	metrics.HandshakeDuration.WithLabelValues("initiator").Observe(time.Since(att.startedAt).Seconds())
	return nil
}

// tieBreak resolves simultaneous initiation: if this Engine already
// has a pending AwaitResponse attempt for in.SessionID, the side whose
// (nonce, sender_id) tuple sorts lexicographically larger abandons its
// own attempt and proceeds as responder. It returns the still-live
// attempt when this side's own attempt wins (the incoming KEP_INIT
// must then be rejected as superseded), or nil when this side should
// proceed to answer in.
func (e *Engine) tieBreak(in *envelope.Envelope) *Attempt {
	e.mu.Lock()
	defer e.mu.Unlock()

	att, ok := e.pending[in.SessionID]
	if !ok || att.State != AwaitResponse {
		return nil
	}

	ownTuple := append(append([]byte{}, att.nonce...), []byte(e.ownUser)...)
	peerTuple := append(append([]byte{}, in.Nonce...), []byte(in.Sender)...)

	if bytes.Compare(ownTuple, peerTuple) > 0 {
		delete(e.pending, in.SessionID)
		att.eph.Zeroize()
		return nil
	}
	return att
}

func (e *Engine) clearPending(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.pending, sessionID)
}

func (e *Engine) fail(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if att, ok := e.pending[sessionID]; ok {
		att.State = Failed
		att.eph.Zeroize()
		delete(e.pending, sessionID)
	}
}

// Timeout abandons sessionID's pending attempt if it has been
// AwaitResponse for longer than the configured timeout. Nothing in this
// module calls it: a pending attempt expires only when a caller invokes
// Timeout for its session_id. Returns false
// if there was no pending attempt or it has not yet expired.
func (e *Engine) Timeout(sessionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	att, ok := e.pending[sessionID]
	if !ok || time.Since(att.startedAt) < e.timeout {
		return false
	}
	att.State = Failed
	att.eph.Zeroize()
	delete(e.pending, sessionID)
	metrics.HandshakesFailed.WithLabelValues("timeout").Inc()
	return true
}
