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

package session

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/duskline/e2ee-core/crypto/storage"
	"github.com/duskline/e2ee-core/crypto/vault"
)

// record is the sealed-at-rest representation of a Session: key bytes
// and sequence/rotation metadata are all authenticated together so a
// crash between an accepted sequence and its persisted write can
// never silently reuse a sequence number on reload.
type record struct {
	ID            string `json:"id"`
	OwnUser       string `json:"own_user"`
	PeerUser      string `json:"peer_user"`
	RootKey       []byte `json:"root_key"`
	SendKey       []byte `json:"send_key"`
	RecvKey       []byte `json:"recv_key"`
	SendSeq       uint64 `json:"send_seq"`
	RecvHigh      uint64 `json:"recv_high"`
	ReplaySeen    []bool `json:"replay_seen"`
	ReplayLowest  uint64 `json:"replay_lowest"`
	ReplaySize    uint64 `json:"replay_size"`
	RotationCount uint64 `json:"rotation_count"`
	CreatedAtUnix int64  `json:"created_at_unix"`
}

// Keystore owns all in-memory Sessions for one local endpoint and
// persists each one, sealed under the owner's password, to a
// BlobStore keyed by session_id. It is the component C6 calls through
// for every directional key, sequence allocation, and replay check.
type Keystore struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	blobs       storage.BlobStore
	password    string
	ownUser     string
	idleEvict   time.Duration
	cleanupStop chan struct{}
}

// NewKeystore builds a keystore for ownUser, sealing/unsealing
// session records under password against blobs. If idleEvict is
// positive, a background sweep drops sessions from memory (their
// sealed blob is untouched) once they have gone that long without a
// send or receive; the next Get reloads them from storage.
func NewKeystore(blobs storage.BlobStore, ownUser, password string, idleEvict time.Duration) *Keystore {
	k := &Keystore{
		sessions:  make(map[string]*Session),
		blobs:     blobs,
		password:  password,
		ownUser:   ownUser,
		idleEvict: idleEvict,
	}
	if idleEvict > 0 {
		k.cleanupStop = make(chan struct{})
		go k.runCleanup()
	}
	return k
}

func (k *Keystore) runCleanup() {
	ticker := time.NewTicker(k.idleEvict / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			k.evictIdle()
		case <-k.cleanupStop:
			return
		}
	}
}

func (k *Keystore) evictIdle() {
	k.mu.Lock()
	defer k.mu.Unlock()
	for id, sess := range k.sessions {
		sess.mu.Lock()
		idle := time.Since(sess.updatedAt)
		sess.mu.Unlock()
		if idle > k.idleEvict {
			sess.Close()
			delete(k.sessions, id)
		}
	}
}

// Close stops the background eviction sweep, if any.
func (k *Keystore) Close() {
	if k.cleanupStop != nil {
		close(k.cleanupStop)
	}
}

// Put registers an in-memory session (e.g. freshly established by the
// handshake engine) and persists it immediately.
func (k *Keystore) Put(sess *Session) error {
	k.mu.Lock()
	k.sessions[sess.ID()] = sess
	k.mu.Unlock()
	return k.Persist(sess.ID())
}

// Get returns the in-memory session for sessionID, loading it from
// sealed storage on first access.
func (k *Keystore) Get(sessionID string) (*Session, error) {
	k.mu.RLock()
	sess, ok := k.sessions[sessionID]
	k.mu.RUnlock()
	if ok {
		return sess, nil
	}
	return k.load(sessionID)
}

// NextSendSeq allocates the next outbound sequence for sessionID and
// persists the incremented counter atomically before returning it, so
// a crash between allocation and delivery never reuses a sequence.
func (k *Keystore) NextSendSeq(sessionID string) (uint64, error) {
	sess, err := k.Get(sessionID)
	if err != nil {
		return 0, err
	}
	seq := sess.NextSendSeq()
	if err := k.Persist(sessionID); err != nil {
		return 0, err
	}
	return seq, nil
}

// AcceptRecvSeq offers seq for sessionID against the replay window,
// without persisting — callers must call CommitRecvSeq (via
// keystore) only once the envelope has authenticated.
func (k *Keystore) AcceptRecvSeq(sessionID string, seq uint64) (AcceptResult, error) {
	sess, err := k.Get(sessionID)
	if err != nil {
		return OutOfWindow, err
	}
	return sess.AcceptRecvSeq(seq), nil
}

// CommitRecvSeq finalizes acceptance of seq and persists the updated
// replay state.
func (k *Keystore) CommitRecvSeq(sessionID string, seq uint64) error {
	sess, err := k.Get(sessionID)
	if err != nil {
		return err
	}
	sess.CommitRecvSeq(seq)
	return k.Persist(sessionID)
}

// GetSendKey returns a copy of sessionID's current send_key.
func (k *Keystore) GetSendKey(sessionID string) ([]byte, error) {
	sess, err := k.Get(sessionID)
	if err != nil {
		return nil, err
	}
	return sess.SendKey(), nil
}

// GetRecvKey returns a copy of sessionID's current recv_key.
func (k *Keystore) GetRecvKey(sessionID string) ([]byte, error) {
	sess, err := k.Get(sessionID)
	if err != nil {
		return nil, err
	}
	return sess.RecvKey(), nil
}

// Rotate replaces sessionID's root/send/recv keys with values derived
// from newSecret and persists the result.
func (k *Keystore) Rotate(sessionID string, newSecret []byte) error {
	sess, err := k.Get(sessionID)
	if err != nil {
		return err
	}
	if err := sess.Rotate(newSecret); err != nil {
		return err
	}
	return k.Persist(sessionID)
}

// Persist seals and writes sessionID's current state.
func (k *Keystore) Persist(sessionID string) error {
	k.mu.RLock()
	sess, ok := k.sessions[sessionID]
	k.mu.RUnlock()
	if !ok {
		return ErrSessionNotFound
	}

	sess.mu.Lock()
	rec := record{
		ID:            sess.id,
		OwnUser:       sess.ownUser,
		PeerUser:      sess.peerUser,
		RootKey:       cloneBytes(sess.rootKey),
		SendKey:       cloneBytes(sess.sendKey),
		RecvKey:       cloneBytes(sess.recvKey),
		SendSeq:       sess.sendSeq,
		RecvHigh:      sess.recvHigh,
		ReplaySeen:    append([]bool(nil), sess.replay.seen...),
		ReplayLowest:  sess.replay.lowest,
		ReplaySize:    sess.replay.size,
		RotationCount: sess.rotation,
		CreatedAtUnix: sess.createdAt.UnixMilli(),
	}
	sess.mu.Unlock()

	plaintext, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("session: marshal record: %w", err)
	}
	env, err := vault.Seal(k.password, sessionID, plaintext)
	if err != nil {
		return err
	}
	data, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("session: marshal envelope: %w", err)
	}
	return k.blobs.Store(sessionID, data)
}

func (k *Keystore) load(sessionID string) (*Session, error) {
	data, err := k.blobs.Load(sessionID)
	if err != nil {
		return nil, ErrSessionNotFound
	}
	env, err := vault.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	plaintext, err := vault.Open(k.password, sessionID, env)
	if err != nil {
		return nil, fmt.Errorf("session: unseal: %w", err)
	}
	var rec record
	if err := json.Unmarshal(plaintext, &rec); err != nil {
		return nil, fmt.Errorf("session: unmarshal record: %w", err)
	}

	sess := &Session{
		id:        rec.ID,
		ownUser:   rec.OwnUser,
		peerUser:  rec.PeerUser,
		rootKey:   rec.RootKey,
		sendKey:   rec.SendKey,
		recvKey:   rec.RecvKey,
		sendSeq:   rec.SendSeq,
		recvHigh:  rec.RecvHigh,
		rotation:  rec.RotationCount,
		createdAt: time.UnixMilli(rec.CreatedAtUnix),
		updatedAt: time.Now(),
		replay: &replayWindow{
			size:   rec.ReplaySize,
			seen:   rec.ReplaySeen,
			lowest: rec.ReplayLowest,
		},
	}
	if sess.replay.size == 0 {
		sess.replay = newReplayWindow(64)
	}

	k.mu.Lock()
	k.sessions[sessionID] = sess
	k.mu.Unlock()
	return sess, nil
}

// Evict closes and drops sessionID from memory (its sealed blob on
// disk is untouched).
func (k *Keystore) Evict(sessionID string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if sess, ok := k.sessions[sessionID]; ok {
		sess.Close()
		delete(k.sessions, sessionID)
	}
}

