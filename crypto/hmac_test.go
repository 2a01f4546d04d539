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

func TestVerifyHMACAcceptsValidTag(t *testing.T) {
	key := []byte("confirmation-key")
	msg := []byte("transcript")
	tag := HMAC(key, msg)
	require.True(t, VerifyHMAC(key, msg, tag))
}

func TestVerifyHMACRejectsTamperedMessage(t *testing.T) {
	key := []byte("confirmation-key")
	tag := HMAC(key, []byte("transcript"))
	require.False(t, VerifyHMAC(key, []byte("different"), tag))
}
