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

func TestIdentityKeyPairSignVerify(t *testing.T) {
	kp, err := GenerateIdentityKeyPair()
	require.NoError(t, err)

	msg := []byte("KEP_INIT transcript bytes")
	sig, err := kp.Sign(msg)
	require.NoError(t, err)

	require.NoError(t, VerifySignature(kp.PublicBytes(), msg, sig))
}

func TestVerifySignatureRejectsForgery(t *testing.T) {
	kp, err := GenerateIdentityKeyPair()
	require.NoError(t, err)
	other, err := GenerateIdentityKeyPair()
	require.NoError(t, err)

	msg := []byte("KEP_INIT transcript bytes")
	sig, err := other.Sign(msg)
	require.NoError(t, err)

	err = VerifySignature(kp.PublicBytes(), msg, sig)
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifySignatureRejectsTamperedMessage(t *testing.T) {
	kp, err := GenerateIdentityKeyPair()
	require.NoError(t, err)
	sig, err := kp.Sign([]byte("original"))
	require.NoError(t, err)

	err = VerifySignature(kp.PublicBytes(), []byte("tampered"), sig)
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestIdentityKeyPairFromPrivateRoundTrip(t *testing.T) {
	kp, err := GenerateIdentityKeyPair()
	require.NoError(t, err)

	restored, err := IdentityKeyPairFromPrivate(kp.PrivateBytes())
	require.NoError(t, err)
	require.Equal(t, kp.PublicBytes(), restored.PublicBytes())
}

func TestIdentityKeyPairFromPrivateRejectsOutOfRangeScalar(t *testing.T) {
	_, err := IdentityKeyPairFromPrivate(make([]byte, 32))
	require.ErrorIs(t, err, ErrInvalidKey)
}
