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

package rotation

import (
	"context"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"

	ecrypto "github.com/duskline/e2ee-core/crypto"
	"github.com/duskline/e2ee-core/crypto/storage"
	"github.com/duskline/e2ee-core/core/observer"
	"github.com/duskline/e2ee-core/core/session"
	"github.com/duskline/e2ee-core/directory"
)

type party struct {
	user   string
	engine *Engine
	ks     *session.Keystore
}

func newParty(t *testing.T, user string, dir directory.Service, sessionID, peer string, secret []byte) *party {
	t.Helper()
	id, err := ecrypto.GenerateIdentityKeyPair()
	require.NoError(t, err)
	jwk, err := directory.ToJWK(user, id.PublicBytes())
	require.NoError(t, err)
	require.NoError(t, dir.PutOwnPublicIdentityKey(context.Background(), user, jwk))

	sess, err := session.NewFromSecret(sessionID, user, peer, secret, 64)
	require.NoError(t, err)

	ks := session.NewKeystore(storage.NewMemoryBlobStore(), user, "pw-"+user, 0)
	require.NoError(t, ks.Put(sess))

	eng := NewEngine(id, user, dir, ks, observer.Noop{}, nil)
	return &party{user: user, engine: eng, ks: ks}
}

func TestRotationRoundTripBumpsCounterAndMatchesKeys(t *testing.T) {
	dir := directory.NewMemoryService()
	sessionID := session.DeriveSessionID("alice", "bob")
	secret := make([]byte, 32)
	_, err := rand.Read(secret)
	require.NoError(t, err)

	alice := newParty(t, "alice", dir, sessionID, "bob", secret)
	bob := newParty(t, "bob", dir, sessionID, "alice", secret)

	ctx := context.Background()

	req, err := alice.engine.Initiate(ctx, sessionID)
	require.NoError(t, err)

	resp, err := bob.engine.HandleKeyUpdate(ctx, req)
	require.NoError(t, err)

	require.NoError(t, alice.engine.HandleKeyUpdateResponse(ctx, resp))

	aliceSess, err := alice.ks.Get(sessionID)
	require.NoError(t, err)
	bobSess, err := bob.ks.Get(sessionID)
	require.NoError(t, err)

	require.EqualValues(t, 1, aliceSess.RotationCount())
	require.EqualValues(t, 1, bobSess.RotationCount())
	require.Equal(t, aliceSess.SendKey(), bobSess.RecvKey())
	require.Equal(t, aliceSess.RecvKey(), bobSess.SendKey())
}

func TestRotationForwardSecrecy(t *testing.T) {
	dir := directory.NewMemoryService()
	sessionID := session.DeriveSessionID("alice", "bob")
	secret := make([]byte, 32)
	_, err := rand.Read(secret)
	require.NoError(t, err)

	alice := newParty(t, "alice", dir, sessionID, "bob", secret)
	bob := newParty(t, "bob", dir, sessionID, "alice", secret)
	ctx := context.Background()

	aliceSessBefore, err := alice.ks.Get(sessionID)
	require.NoError(t, err)
	oldSendKey := aliceSessBefore.SendKey()
	aad := []byte("aad")
	iv, ciphertext, err := ecrypto.Seal(oldSendKey, []byte("pre-rotation secret"), aad)
	require.NoError(t, err)

	req, err := alice.engine.Initiate(ctx, sessionID)
	require.NoError(t, err)
	resp, err := bob.engine.HandleKeyUpdate(ctx, req)
	require.NoError(t, err)
	require.NoError(t, alice.engine.HandleKeyUpdateResponse(ctx, resp))

	bobSessAfter, err := bob.ks.Get(sessionID)
	require.NoError(t, err)
	newRecvKey := bobSessAfter.RecvKey()

	_, err = ecrypto.Open(newRecvKey, iv, ciphertext, aad)
	require.ErrorIs(t, err, ecrypto.ErrAeadTagFailure)
}

func TestHandleKeyUpdateRejectsRollback(t *testing.T) {
	dir := directory.NewMemoryService()
	sessionID := session.DeriveSessionID("alice", "bob")
	secret := make([]byte, 32)
	_, err := rand.Read(secret)
	require.NoError(t, err)

	alice := newParty(t, "alice", dir, sessionID, "bob", secret)
	bob := newParty(t, "bob", dir, sessionID, "alice", secret)
	ctx := context.Background()

	req, err := alice.engine.Initiate(ctx, sessionID)
	require.NoError(t, err)
	_, err = bob.engine.HandleKeyUpdate(ctx, req)
	require.NoError(t, err)

	req.KeyUpdate.RotationSeq = 1
	_, err = bob.engine.HandleKeyUpdate(ctx, req)
	require.ErrorIs(t, err, ErrRollback)
}
