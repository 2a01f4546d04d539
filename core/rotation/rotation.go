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

// Package rotation implements the KEY_UPDATE procedure that replaces
// a session's root/send/recv keys with values derived from a fresh
// ECDH exchange, giving the session forward secrecy independent of
// the original handshake's ephemeral material.
package rotation

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	ecrypto "github.com/duskline/e2ee-core/crypto"
	"github.com/duskline/e2ee-core/core/envelope"
	"github.com/duskline/e2ee-core/core/handshake"
	"github.com/duskline/e2ee-core/core/observer"
	"github.com/duskline/e2ee-core/core/session"
	"github.com/duskline/e2ee-core/directory"
	"github.com/duskline/e2ee-core/internal/logger"
	"github.com/duskline/e2ee-core/internal/metrics"
)

const skewToleranceMillis = 120_000

var (
	ErrInvalidSignature = errors.New("rotation: invalid signature")
	ErrInvalidKeyUpdate = errors.New("rotation: malformed KEY_UPDATE")
	ErrStaleTimestamp   = errors.New("rotation: stale timestamp")
	ErrRollback         = errors.New("rotation: rotation_seq does not exceed rotation_count")
	ErrRateLimited      = errors.New("rotation: rate limited")
	ErrUnknownSession   = errors.New("rotation: no pending rotation for session")
	ErrRotationMismatch = errors.New("rotation: response rotation_seq does not match pending request")
)

// pending tracks one in-flight initiator-side rotation: the ephemeral
// secret must survive only until the peer's KEY_UPDATE response
// arrives, then it is destroyed regardless of outcome.
type pending struct {
	eph         *ecrypto.EphemeralKeyPair
	rotationSeq uint64
	peerUser    string
}

// Engine drives both roles of key rotation for one local identity,
// sharing its rate limiter's shape with the handshake Engine per the
// spec's "rate-limited identically to handshake" requirement.
type Engine struct {
	identity *ecrypto.IdentityKeyPair
	ownUser  string
	dir      directory.Service
	keystore *session.Keystore
	obs      observer.Observer
	log      logger.Logger
	limiter  *handshake.RateLimiter

	mu      sync.Mutex
	pending map[string]*pending
}

// NewEngine builds a rotation Engine for ownUser.
func NewEngine(identity *ecrypto.IdentityKeyPair, ownUser string, dir directory.Service, ks *session.Keystore, obs observer.Observer, log logger.Logger) *Engine {
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
		limiter:  handshake.NewRateLimiter(5, 20),
		pending:  make(map[string]*pending),
	}
}

func randomNonce() ([]byte, error) {
	n := make([]byte, envelope.NonceSize)
	if _, err := io.ReadFull(rand.Reader, n); err != nil {
		return nil, fmt.Errorf("%w: %v", ecrypto.ErrBadEntropy, err)
	}
	return n, nil
}

func freshTimestamp(ts int64) bool {
	now := time.Now().UnixMilli()
	delta := now - ts
	if delta < 0 {
		delta = -delta
	}
	return delta <= skewToleranceMillis
}

// Initiate starts rotating sessionID's keys: it reads the current
// rotation_count, generates a fresh ephemeral keypair, signs the
// canonical rotation payload, and returns the KEY_UPDATE envelope to
// send. The ephemeral secret is held until the peer's response
// arrives or the attempt is abandoned.
func (e *Engine) Initiate(ctx context.Context, sessionID string) (*envelope.Envelope, error) {
	if !e.limiter.Allow(sessionID) {
		return nil, ErrRateLimited
	}

	sess, err := e.keystore.Get(sessionID)
	if err != nil {
		return nil, err
	}

	eph, err := ecrypto.GenerateEphemeral()
	if err != nil {
		return nil, err
	}
	rotationSeq := sess.RotationCount() + 1
	ephPub := eph.PublicBytes()
	ts := time.Now().UnixMilli()

	payload := envelope.CanonicalKeyUpdatePayload(sessionID, e.ownUser, sess.PeerUser(), ephPub, rotationSeq, ts)
	sig, err := e.identity.Sign(payload)
	if err != nil {
		eph.Zeroize()
		return nil, fmt.Errorf("rotation: sign KEY_UPDATE: %w", err)
	}

	nonce, err := randomNonce()
	if err != nil {
		eph.Zeroize()
		return nil, err
	}

	e.mu.Lock()
	e.pending[sessionID] = &pending{eph: eph, rotationSeq: rotationSeq, peerUser: sess.PeerUser()}
	e.mu.Unlock()

	e.log.Info("rotation initiated", logger.String("session_id", sessionID), logger.Uint64("rotation_seq", rotationSeq))

	return &envelope.Envelope{
		Type:      envelope.KeyUpdate,
		SessionID: sessionID,
		Sender:    e.ownUser,
		Receiver:  sess.PeerUser(),
		Timestamp: ts,
		Seq:       rotationSeq,
		Nonce:     nonce,
		KeyUpdate: &envelope.KeyUpdateMeta{
			RotationSeq: rotationSeq,
			EphPub:      ephPub,
			Signature:   sig,
		},
	}, nil
}

// HandleKeyUpdate answers an inbound KEY_UPDATE: verifies structure,
// freshness and signature, rejects any rotation_seq that would roll
// back the counter, then generates its own fresh ephemeral, rotates
// the session to the new shared secret, and returns the response
// KEY_UPDATE carrying its own ephemeral public key.
func (e *Engine) HandleKeyUpdate(ctx context.Context, in *envelope.Envelope) (*envelope.Envelope, error) {
	if err := in.Validate(); err != nil || in.Type != envelope.KeyUpdate {
		return nil, ErrInvalidKeyUpdate
	}
	if !freshTimestamp(in.Timestamp) {
		e.obs.OnAuthenticationFailed(ctx, in.SessionID, "stale KEY_UPDATE timestamp")
		return nil, ErrStaleTimestamp
	}
	if !e.limiter.Allow(in.SessionID) {
		return nil, ErrRateLimited
	}

	sess, err := e.keystore.Get(in.SessionID)
	if err != nil {
		return nil, err
	}
	if in.KeyUpdate.RotationSeq <= sess.RotationCount() {
		e.log.Warn("rejected rollback KEY_UPDATE", logger.String("session_id", in.SessionID), logger.Uint64("rotation_seq", in.KeyUpdate.RotationSeq))
		return nil, ErrRollback
	}

	peerKey, err := e.dir.GetPeerPublicIdentityKey(ctx, in.Sender)
	if err != nil {
		return nil, fmt.Errorf("rotation: resolve peer identity: %w", err)
	}
	peerPub, err := directory.FromJWK(peerKey)
	if err != nil {
		e.obs.OnInvalidSignature(ctx, in.SessionID, "malformed KEY_UPDATE JWK")
		return nil, err
	}
	payload := envelope.CanonicalKeyUpdatePayload(in.SessionID, in.Sender, e.ownUser, in.KeyUpdate.EphPub, in.KeyUpdate.RotationSeq, in.Timestamp)
	if err := ecrypto.VerifySignature(peerPub, payload, in.KeyUpdate.Signature); err != nil {
		e.obs.OnInvalidSignature(ctx, in.SessionID, "KEY_UPDATE signature verification failed")
		return nil, ErrInvalidSignature
	}

	eph, err := ecrypto.GenerateEphemeral()
	if err != nil {
		return nil, err
	}
	ephPub := eph.PublicBytes()
	newSecret, err := eph.ECDH(in.KeyUpdate.EphPub)
	if err != nil {
		eph.Zeroize()
		return nil, err
	}
	if err := e.keystore.Rotate(in.SessionID, newSecret); err != nil {
		eph.Zeroize()
		ecrypto.Zeroize(newSecret)
		return nil, err
	}
	ecrypto.Zeroize(newSecret)

	ts := time.Now().UnixMilli()
	respPayload := envelope.CanonicalKeyUpdatePayload(in.SessionID, e.ownUser, in.Sender, ephPub, in.KeyUpdate.RotationSeq, ts)
	sig, err := e.identity.Sign(respPayload)
	eph.Zeroize()
	if err != nil {
		return nil, fmt.Errorf("rotation: sign KEY_UPDATE response: %w", err)
	}

	nonce, err := randomNonce()
	if err != nil {
		return nil, err
	}

	e.log.Info("rotation completed as responder", logger.String("session_id", in.SessionID), logger.Uint64("rotation_seq", in.KeyUpdate.RotationSeq))
	metrics.RotationsCompleted.WithLabelValues("completed").Inc()

	return &envelope.Envelope{
		Type:      envelope.KeyUpdate,
		SessionID: in.SessionID,
		Sender:    e.ownUser,
		Receiver:  in.Sender,
		Timestamp: ts,
		Seq:       in.KeyUpdate.RotationSeq,
		Nonce:     nonce,
		KeyUpdate: &envelope.KeyUpdateMeta{
			RotationSeq: in.KeyUpdate.RotationSeq,
			EphPub:      ephPub,
			Signature:   sig,
		},
	}, nil
}

// HandleKeyUpdateResponse completes an initiator's pending rotation:
// verifies the peer's signature and rotation_seq, computes the new
// shared secret, invokes rotate, and destroys the ephemeral secret
// regardless of outcome.
func (e *Engine) HandleKeyUpdateResponse(ctx context.Context, in *envelope.Envelope) error {
	if err := in.Validate(); err != nil || in.Type != envelope.KeyUpdate {
		return ErrInvalidKeyUpdate
	}
	if !freshTimestamp(in.Timestamp) {
		e.obs.OnAuthenticationFailed(ctx, in.SessionID, "stale KEY_UPDATE response timestamp")
		return ErrStaleTimestamp
	}

	e.mu.Lock()
	p, ok := e.pending[in.SessionID]
	e.mu.Unlock()
	if !ok {
		return ErrUnknownSession
	}
	if in.KeyUpdate.RotationSeq != p.rotationSeq {
		e.cancelPending(in.SessionID)
		return ErrRotationMismatch
	}

	peerKey, err := e.dir.GetPeerPublicIdentityKey(ctx, in.Sender)
	if err != nil {
		e.cancelPending(in.SessionID)
		return fmt.Errorf("rotation: resolve peer identity: %w", err)
	}
	peerPub, err := directory.FromJWK(peerKey)
	if err != nil {
		e.cancelPending(in.SessionID)
		e.obs.OnInvalidSignature(ctx, in.SessionID, "malformed KEY_UPDATE response JWK")
		return err
	}
	payload := envelope.CanonicalKeyUpdatePayload(in.SessionID, in.Sender, e.ownUser, in.KeyUpdate.EphPub, in.KeyUpdate.RotationSeq, in.Timestamp)
	if err := ecrypto.VerifySignature(peerPub, payload, in.KeyUpdate.Signature); err != nil {
		e.cancelPending(in.SessionID)
		e.obs.OnInvalidSignature(ctx, in.SessionID, "KEY_UPDATE response signature verification failed")
		return ErrInvalidSignature
	}

	newSecret, err := p.eph.ECDH(in.KeyUpdate.EphPub)
	if err != nil {
		e.cancelPending(in.SessionID)
		return err
	}
	err = e.keystore.Rotate(in.SessionID, newSecret)
	ecrypto.Zeroize(newSecret)
	e.cancelPending(in.SessionID)
	if err != nil {
		return err
	}

	e.log.Info("rotation completed as initiator", logger.String("session_id", in.SessionID), logger.Uint64("rotation_seq", p.rotationSeq))
	metrics.RotationsCompleted.WithLabelValues("completed").Inc()
	return nil
}

func (e *Engine) cancelPending(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok := e.pending[sessionID]; ok {
		p.eph.Zeroize()
		delete(e.pending, sessionID)
	}
}
