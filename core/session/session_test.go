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
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeriveSessionIDIsOrderIndependent(t *testing.T) {
	id1 := DeriveSessionID("alice", "bob")
	id2 := DeriveSessionID("bob", "alice")
	require.Equal(t, id1, id2)
	require.Len(t, id1, 32) // 16 bytes hex-encoded
}

func TestDeriveSessionIDDiffersByPair(t *testing.T) {
	require.NotEqual(t, DeriveSessionID("alice", "bob"), DeriveSessionID("alice", "carol"))
}

func TestSendAndRecvKeysCrossMatch(t *testing.T) {
	sharedSecret := make([]byte, 32)
	_, err := rand.Read(sharedSecret)
	require.NoError(t, err)

	sessionID := DeriveSessionID("alice", "bob")
	alice, err := NewFromSecret(sessionID, "alice", "bob", sharedSecret, 64)
	require.NoError(t, err)
	bob, err := NewFromSecret(sessionID, "bob", "alice", sharedSecret, 64)
	require.NoError(t, err)

	require.Equal(t, alice.SendKey(), bob.RecvKey())
	require.Equal(t, alice.RecvKey(), bob.SendKey())
}

func TestNextSendSeqMonotonic(t *testing.T) {
	sess := newTestSession(t)
	first := sess.NextSendSeq()
	second := sess.NextSendSeq()
	require.Greater(t, second, first)
}

func TestAcceptRecvSeqRejectsDuplicate(t *testing.T) {
	sess := newTestSession(t)

	require.Equal(t, Accepted, sess.AcceptRecvSeq(1))
	sess.CommitRecvSeq(1)

	require.Equal(t, Duplicate, sess.AcceptRecvSeq(1))
}

func TestAcceptRecvSeqToleratesReorderingWithinWindow(t *testing.T) {
	sess := newTestSession(t)

	require.Equal(t, Accepted, sess.AcceptRecvSeq(5))
	sess.CommitRecvSeq(5)
	require.Equal(t, Accepted, sess.AcceptRecvSeq(3))
	sess.CommitRecvSeq(3)
	require.Equal(t, Duplicate, sess.AcceptRecvSeq(3))
}

func TestRotateZeroisesPriorKeys(t *testing.T) {
	sess := newTestSession(t)
	oldSend := sess.SendKey()
	oldSendBytes := sess.sendKey

	newSecret := make([]byte, 32)
	_, err := rand.Read(newSecret)
	require.NoError(t, err)

	require.NoError(t, sess.Rotate(newSecret))
	require.NotEqual(t, oldSend, sess.SendKey())
	require.Equal(t, make([]byte, len(oldSendBytes)), oldSendBytes)
	require.Equal(t, uint64(1), sess.RotationCount())
}

func newTestSession(t *testing.T) *Session {
	t.Helper()
	secret := make([]byte, 32)
	_, err := rand.Read(secret)
	require.NoError(t, err)
	sess, err := NewFromSecret(DeriveSessionID("alice", "bob"), "alice", "bob", secret, 64)
	require.NoError(t, err)
	return sess
}
