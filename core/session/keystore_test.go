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
	"time"

	"github.com/stretchr/testify/require"

	"github.com/duskline/e2ee-core/crypto/storage"
)

func TestKeystorePersistAndReload(t *testing.T) {
	blobs := storage.NewMemoryBlobStore()
	k := NewKeystore(blobs, "alice", "pw", 0)

	secret := make([]byte, 32)
	_, err := rand.Read(secret)
	require.NoError(t, err)

	sessionID := DeriveSessionID("alice", "bob")
	sess, err := NewFromSecret(sessionID, "alice", "bob", secret, 64)
	require.NoError(t, err)
	require.NoError(t, k.Put(sess))

	seq, err := k.NextSendSeq(sessionID)
	require.NoError(t, err)
	require.Equal(t, uint64(1), seq)

	k.Evict(sessionID)

	reloaded, err := k.Get(sessionID)
	require.NoError(t, err)
	require.Equal(t, uint64(1), reloaded.SendSeq())
}

func TestKeystoreGetMissingReturnsSessionNotFound(t *testing.T) {
	k := NewKeystore(storage.NewMemoryBlobStore(), "alice", "pw", 0)
	_, err := k.Get("nonexistent")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestKeystoreIdleEvictionReloadsFromStorage(t *testing.T) {
	blobs := storage.NewMemoryBlobStore()
	k := NewKeystore(blobs, "alice", "pw", 20*time.Millisecond)
	defer k.Close()

	secret := make([]byte, 32)
	_, err := rand.Read(secret)
	require.NoError(t, err)
	sessionID := DeriveSessionID("alice", "bob")
	sess, err := NewFromSecret(sessionID, "alice", "bob", secret, 64)
	require.NoError(t, err)
	require.NoError(t, k.Put(sess))

	time.Sleep(150 * time.Millisecond)

	reloaded, err := k.Get(sessionID)
	require.NoError(t, err)
	require.Equal(t, sessionID, reloaded.ID())
}
