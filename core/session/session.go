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

// Package session owns the per-session keystore: the derived
// root/send/recv keys, the monotonic send counter, and the
// sliding-window replay state for inbound sequences. All mutation of
// a given session's fields is serialized behind that session's own
// lock; distinct sessions mutate independently.
package session

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	ecrypto "github.com/duskline/e2ee-core/crypto"
)

var (
	ErrSessionNotFound = errors.New("session: not found")
	ErrSessionExists   = errors.New("session: already exists")
)

// AcceptResult is the outcome of offering an inbound sequence number
// to the replay window.
type AcceptResult int

const (
	Accepted AcceptResult = iota
	Duplicate
	OutOfWindow
)

func (r AcceptResult) String() string {
	switch r {
	case Accepted:
		return "Accepted"
	case Duplicate:
		return "Duplicate"
	case OutOfWindow:
		return "OutOfWindow"
	default:
		return "Unknown"
	}
}

// DeriveSessionID computes the deterministic 128-bit session
// identifier for the unordered pair {userA, userB}: both sides of a
// handshake compute this independently and arrive at the same value
// regardless of who initiates.
func DeriveSessionID(userA, userB string) string {
	lo, hi := canonicalOrder([]byte(userA), []byte(userB))
	h := sha256.New()
	h.Write(lo)
	h.Write([]byte{0})
	h.Write(hi)
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:16])
}

func canonicalOrder(a, b []byte) (lo, hi []byte) {
	if bytes.Compare(a, b) <= 0 {
		return a, b
	}
	return b, a
}

// Session is a single two-party session's mutable crypto state,
// guarded by its own mutex so operations across distinct sessions
// never contend.
type Session struct {
	mu sync.Mutex

	id       string
	ownUser  string
	peerUser string

	rootKey []byte
	sendKey []byte
	recvKey []byte

	sendSeq   uint64
	recvHigh  uint64
	replay    *replayWindow
	rotation  uint64
	rotatedAt time.Time

	createdAt time.Time
	updatedAt time.Time
}

// NewFromSecret derives a fresh session's root/send/recv keys from an
// ECDH shared secret s, per the HKDF tree: root = HKDF(s, "ROOT",
// session_id); send = HKDF(root, "SEND", own_user_id); recv =
// HKDF(root, "RECV", peer_user_id). Because each side's own_user_id
// and peer_user_id swap relative to the other's, this side's send_key
// equals the other side's recv_key by construction.
func NewFromSecret(sessionID, ownUser, peerUser string, s []byte, windowSize int) (*Session, error) {
	root, err := ecrypto.DeriveKey(s, []byte("ROOT"), []byte(sessionID), 32)
	if err != nil {
		return nil, fmt.Errorf("session: derive root: %w", err)
	}
	sess := &Session{
		id:       sessionID,
		ownUser:  ownUser,
		peerUser: peerUser,
		rootKey:  root,
		replay:   newReplayWindow(windowSize),
	}
	if err := sess.deriveDirectional(); err != nil {
		return nil, err
	}
	now := time.Now()
	sess.createdAt = now
	sess.updatedAt = now
	return sess, nil
}

func (s *Session) deriveDirectional() error {
	send, err := ecrypto.DeriveKey(s.rootKey, []byte("SEND"), []byte(s.ownUser), 32)
	if err != nil {
		return fmt.Errorf("session: derive send_key: %w", err)
	}
	recv, err := ecrypto.DeriveKey(s.rootKey, []byte("RECV"), []byte(s.peerUser), 32)
	if err != nil {
		return fmt.Errorf("session: derive recv_key: %w", err)
	}
	s.sendKey = send
	s.recvKey = recv
	return nil
}

// ID returns the session's identifier.
func (s *Session) ID() string { return s.id }

// OwnUser returns this endpoint's user_id within the session.
func (s *Session) OwnUser() string { return s.ownUser }

// PeerUser returns the other endpoint's user_id within the session.
func (s *Session) PeerUser() string { return s.peerUser }

// NextSendSeq allocates and returns the next outbound sequence
// number, incrementing the counter atomically with respect to this
// session.
func (s *Session) NextSendSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendSeq++
	s.updatedAt = time.Now()
	return s.sendSeq
}

// SendSeq returns the current send counter without incrementing it.
func (s *Session) SendSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendSeq
}

// AcceptRecvSeq offers seq to the replay window, provisionally.
// Callers MUST call CommitRecvSeq only after the corresponding
// ciphertext has been authenticated; an AEAD failure must not advance
// the window.
func (s *Session) AcceptRecvSeq(seq uint64) AcceptResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replay.offer(seq, s.recvHigh)
}

// CommitRecvSeq finalizes acceptance of seq after successful AEAD
// decryption, advancing recv_high and marking the slot seen.
func (s *Session) CommitRecvSeq(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replay.commit(seq)
	if seq > s.recvHigh {
		s.recvHigh = seq
	}
	s.updatedAt = time.Now()
}

// RecvHigh returns the highest committed inbound sequence.
func (s *Session) RecvHigh() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recvHigh
}

// SendKey returns a copy of the current outbound directional key.
func (s *Session) SendKey() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneBytes(s.sendKey)
}

// RootKeyForConfirmation returns a copy of the root key, the input to
// the handshake's key_confirmation HMAC. Exposed separately from
// SendKey/RecvKey because confirmation is computed once, before any
// directional key is ever used for AEAD.
func (s *Session) RootKeyForConfirmation() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneBytes(s.rootKey)
}

// RecvKey returns a copy of the current inbound directional key.
func (s *Session) RecvKey() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneBytes(s.recvKey)
}

// RotationCount returns the number of completed rotations.
func (s *Session) RotationCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rotation
}

// Rotate atomically replaces root/send/recv keys with values derived
// from newSecret, bumps rotation_count, and zeroises the previous key
// bytes so no live reference to them survives.
func (s *Session) Rotate(newSecret []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	newRoot, err := ecrypto.DeriveKey(newSecret, []byte("ROOT"), []byte(s.id), 32)
	if err != nil {
		return fmt.Errorf("session: rotate derive root: %w", err)
	}
	oldRoot, oldSend, oldRecv := s.rootKey, s.sendKey, s.recvKey
	s.rootKey = newRoot
	if err := s.deriveDirectional(); err != nil {
		s.rootKey = oldRoot
		return err
	}
	ecrypto.Zeroize(oldRoot)
	ecrypto.Zeroize(oldSend)
	ecrypto.Zeroize(oldRecv)

	s.rotation++
	s.rotatedAt = time.Now()
	s.updatedAt = s.rotatedAt
	return nil
}

// Close zeroises all key material held by the session. Call when the
// session is evicted from memory.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	ecrypto.Zeroize(s.rootKey)
	ecrypto.Zeroize(s.sendKey)
	ecrypto.Zeroize(s.recvKey)
}

// CreatedAt returns session creation time.
func (s *Session) CreatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createdAt
}

func cloneBytes(b []byte) []byte {
	cp := make([]byte, len(b))
	copy(cp, b)
	return cp
}
