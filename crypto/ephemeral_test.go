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

func TestEphemeralECDHAgreement(t *testing.T) {
	a, err := GenerateEphemeral()
	require.NoError(t, err)
	b, err := GenerateEphemeral()
	require.NoError(t, err)

	sharedA, err := a.ECDH(b.PublicBytes())
	require.NoError(t, err)
	sharedB, err := b.ECDH(a.PublicBytes())
	require.NoError(t, err)

	require.Equal(t, sharedA, sharedB)
	require.Len(t, sharedA, 32)
}

func TestEphemeralECDHRejectsInvalidPeerKey(t *testing.T) {
	a, err := GenerateEphemeral()
	require.NoError(t, err)

	_, err = a.ECDH([]byte{0x01, 0x02, 0x03})
	require.ErrorIs(t, err, ErrInvalidKey)
}
