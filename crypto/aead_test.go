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

package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	plaintext := []byte("rendezvous at dawn")
	aad := []byte("session-42|7")

	nonce, ciphertext, err := Seal(key, plaintext, aad)
	require.NoError(t, err)
	require.Len(t, nonce, NonceSize)

	got, err := Open(key, nonce, ciphertext, aad)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	key := make([]byte, 32)
	nonce, ciphertext, err := Seal(key, []byte("payload"), []byte("aad"))
	require.NoError(t, err)

	ciphertext[0] ^= 0xFF
	_, err = Open(key, nonce, ciphertext, []byte("aad"))
	require.ErrorIs(t, err, ErrAeadTagFailure)
}

func TestOpenRejectsMismatchedAAD(t *testing.T) {
	key := make([]byte, 32)
	nonce, ciphertext, err := Seal(key, []byte("payload"), []byte("aad-a"))
	require.NoError(t, err)

	_, err = Open(key, nonce, ciphertext, []byte("aad-b"))
	require.ErrorIs(t, err, ErrAeadTagFailure)
}

func TestSealRejectsShortKey(t *testing.T) {
	_, _, err := Seal(make([]byte, 16), []byte("x"), nil)
	require.ErrorIs(t, err, ErrInvalidKey)
}

func TestOpenRejectsShortNonce(t *testing.T) {
	key := make([]byte, 32)
	_, err := Open(key, []byte{1, 2, 3}, []byte("ct"), nil)
	require.ErrorIs(t, err, ErrShortCiphertext)
}
