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

// Package pipeline turns plaintext into authenticated envelopes and
// back: outbound Send allocates the next sequence, encrypts under the
// session's send_key and binds the header fields as AEAD associated
// data; inbound Receive structurally validates, gates on timestamp
// freshness and the replay window, and only commits the sequence once
// decryption has authenticated.
package pipeline

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"time"

	ecrypto "github.com/duskline/e2ee-core/crypto"
	"github.com/duskline/e2ee-core/core/envelope"
	"github.com/duskline/e2ee-core/core/observer"
	"github.com/duskline/e2ee-core/core/session"
	"github.com/duskline/e2ee-core/internal/logger"
	"github.com/duskline/e2ee-core/internal/metrics"
)

// skewToleranceMillis mirrors the handshake engine's freshness window:
// an envelope whose timestamp differs from local wall-clock time by
// more than this is rejected before any cryptographic work happens.
const skewToleranceMillis = 120_000

var (
	ErrStaleTimestamp    = errors.New("pipeline: stale timestamp")
	ErrReplayDuplicate   = errors.New("pipeline: duplicate sequence")
	ErrReplayOutOfWindow = errors.New("pipeline: sequence out of replay window")
	ErrDecryptFailed     = errors.New("pipeline: decryption failed")
)

// Pipeline is the per-endpoint send/receive engine, sharing a
// Keystore with the handshake and rotation engines so all three agree
// on one session's live key and sequence state.
type Pipeline struct {
	keystore *session.Keystore
	obs      observer.Observer
	log      logger.Logger
}

// New builds a Pipeline over ks. A nil obs/log falls back to the
// no-op observer and the default stdout logger, matching the other
// core engines' construction pattern.
func New(ks *session.Keystore, obs observer.Observer, log logger.Logger) *Pipeline {
	if obs == nil {
		obs = observer.Noop{}
	}
	if log == nil {
		log = logger.NewDefaultLogger()
	}
	return &Pipeline{keystore: ks, obs: obs, log: log}
}

func freshTimestamp(ts int64) bool {
	now := time.Now().UnixMilli()
	delta := now - ts
	if delta < 0 {
		delta = -delta
	}
	return delta <= skewToleranceMillis
}

func randomDedupNonce() ([]byte, error) {
	n := make([]byte, envelope.NonceSize)
	if _, err := io.ReadFull(rand.Reader, n); err != nil {
		return nil, fmt.Errorf("%w: %v", ecrypto.ErrBadEntropy, err)
	}
	return n, nil
}

// Send encrypts plaintext as a MSG envelope addressed to sessionID's
// peer: it allocates the next send sequence (persisted before this
// call returns, so a crash here cannot reuse it), then AES-256-GCM
// encrypts plaintext under the session's send_key with the header
// fields bound as associated data.
func (p *Pipeline) Send(ctx context.Context, sessionID string, plaintext []byte) (*envelope.Envelope, error) {
	return p.sealTyped(ctx, sessionID, envelope.MSG, plaintext, nil)
}

// sealTyped implements the outbound half of Send/SendFileMeta/
// SendFileChunk: allocate the next sequence, encrypt plaintext under
// the session's send_key with typ bound into the AAD, and attach
// fileMeta as clear-text routing metadata when typ is FILE_CHUNK.
func (p *Pipeline) sealTyped(ctx context.Context, sessionID string, typ envelope.Type, plaintext []byte, fileMeta *envelope.FileChunkMeta) (*envelope.Envelope, error) {
	sess, err := p.keystore.Get(sessionID)
	if err != nil {
		return nil, err
	}
	seq, err := p.keystore.NextSendSeq(sessionID)
	if err != nil {
		return nil, err
	}
	sendKey, err := p.keystore.GetSendKey(sessionID)
	if err != nil {
		return nil, err
	}
	defer ecrypto.Zeroize(sendKey)

	ts := time.Now().UnixMilli()
	aad := envelope.CanonicalAAD(typ, sessionID, sess.OwnUser(), sess.PeerUser(), ts, seq)
	iv, ciphertext, err := ecrypto.Seal(sendKey, plaintext, aad)
	if err != nil {
		return nil, err
	}
	nonce, err := randomDedupNonce()
	if err != nil {
		return nil, err
	}

	metrics.MessagesProcessed.WithLabelValues(string(typ), "outbound", "accepted").Inc()
	metrics.MessageSizeBytes.Observe(float64(len(plaintext)))

	return &envelope.Envelope{
		Type:       typ,
		SessionID:  sessionID,
		Sender:     sess.OwnUser(),
		Receiver:   sess.PeerUser(),
		Timestamp:  ts,
		Seq:        seq,
		Nonce:      nonce,
		IV:         iv,
		Ciphertext: ciphertext,
		FileMeta:   fileMeta,
	}, nil
}

// Receive authenticates and decrypts an inbound MSG envelope. Freshness
// and replay rejection happen before any key material is touched; the
// replay window is only committed after AEAD authentication succeeds,
// so an attacker who forges a ciphertext never advances recv_high.
func (p *Pipeline) Receive(ctx context.Context, env *envelope.Envelope) ([]byte, error) {
	start := time.Now()
	defer func() { metrics.MessageProcessingDuration.Observe(time.Since(start).Seconds()) }()

	if err := env.Validate(); err != nil {
		metrics.MessagesProcessed.WithLabelValues(string(env.Type), "inbound", "rejected").Inc()
		return nil, err
	}
	if !freshTimestamp(env.Timestamp) {
		p.obs.OnReplay(ctx, env.SessionID, "stale_timestamp")
		p.log.Warn("rejected stale envelope", logger.String("session_id", env.SessionID), logger.Uint64("seq", env.Seq))
		metrics.ReplayAttemptsDetected.WithLabelValues("stale_timestamp").Inc()
		metrics.MessagesProcessed.WithLabelValues(string(env.Type), "inbound", "rejected").Inc()
		return nil, ErrStaleTimestamp
	}

	result, err := p.keystore.AcceptRecvSeq(env.SessionID, env.Seq)
	if err != nil {
		return nil, err
	}
	switch result {
	case session.Duplicate:
		p.obs.OnReplay(ctx, env.SessionID, "duplicate")
		metrics.ReplayAttemptsDetected.WithLabelValues("duplicate").Inc()
		metrics.MessagesProcessed.WithLabelValues(string(env.Type), "inbound", "rejected").Inc()
		return nil, ErrReplayDuplicate
	case session.OutOfWindow:
		p.obs.OnReplay(ctx, env.SessionID, "out_of_window")
		metrics.ReplayAttemptsDetected.WithLabelValues("out_of_window").Inc()
		metrics.MessagesProcessed.WithLabelValues(string(env.Type), "inbound", "rejected").Inc()
		return nil, ErrReplayOutOfWindow
	}

	recvKey, err := p.keystore.GetRecvKey(env.SessionID)
	if err != nil {
		return nil, err
	}
	defer ecrypto.Zeroize(recvKey)

	aad := envelope.CanonicalAAD(env.Type, env.SessionID, env.Sender, env.Receiver, env.Timestamp, env.Seq)
	plaintext, err := ecrypto.Open(recvKey, env.IV, env.Ciphertext, aad)
	if err != nil {
		p.obs.OnAuthenticationFailed(ctx, env.SessionID, "AEAD tag verification failed")
		p.log.Error("failed to decrypt envelope", logger.String("session_id", env.SessionID), logger.Uint64("seq", env.Seq), logger.Error(err))
		metrics.MessagesProcessed.WithLabelValues(string(env.Type), "inbound", "rejected").Inc()
		return nil, ErrDecryptFailed
	}

	if err := p.keystore.CommitRecvSeq(env.SessionID, env.Seq); err != nil {
		return nil, err
	}

	p.obs.OnMessageDecrypted(ctx, env.SessionID, env.Seq)
	metrics.MessagesProcessed.WithLabelValues(string(env.Type), "inbound", "accepted").Inc()
	metrics.MessageSizeBytes.Observe(float64(len(plaintext)))
	return plaintext, nil
}
