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

package vault

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTrip(t *testing.T) {
	plaintext := []byte("long-term identity private scalar")
	env, err := Seal("correct horse battery staple", "user-alice", plaintext)
	require.NoError(t, err)

	got, err := Open("correct horse battery staple", "user-alice", env)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestOpenRejectsWrongPassword(t *testing.T) {
	env, err := Seal("right-password", "user-alice", []byte("secret"))
	require.NoError(t, err)

	_, err = Open("wrong-password", "user-alice", env)
	require.ErrorIs(t, err, ErrWrongPassword)
}

func TestOpenRejectsWrongOwner(t *testing.T) {
	env, err := Seal("pw", "user-alice", []byte("secret"))
	require.NoError(t, err)

	_, err = Open("pw", "user-bob", env)
	require.ErrorIs(t, err, ErrWrongPassword)
}

func TestEnvelopeMarshalRoundTrip(t *testing.T) {
	env, err := Seal("pw", "user-alice", []byte("secret"))
	require.NoError(t, err)

	data, err := env.Marshal()
	require.NoError(t, err)

	restored, err := Unmarshal(data)
	require.NoError(t, err)

	got, err := Open("pw", "user-alice", restored)
	require.NoError(t, err)
	require.Equal(t, []byte("secret"), got)
}

func TestSealRejectsEmptyPassword(t *testing.T) {
	_, err := Seal("", "user-alice", []byte("secret"))
	require.ErrorIs(t, err, ErrEmptyPassword)
}

func TestSealPBKDF2FallbackRoundTrip(t *testing.T) {
	env, err := SealPBKDF2("correct horse battery staple", "user-alice", []byte("secret"))
	require.NoError(t, err)
	require.Equal(t, PBKDF2, env.KDF)
	require.GreaterOrEqual(t, env.Iterations, pbkdf2MinIterations)

	got, err := Open("correct horse battery staple", "user-alice", env)
	require.NoError(t, err)
	require.Equal(t, []byte("secret"), got)
}

func TestOpenEnforcesPBKDF2IterationFloor(t *testing.T) {
	env, err := SealPBKDF2("pw", "user-alice", []byte("secret"))
	require.NoError(t, err)

	env.Iterations = 1000
	got, err := Open("pw", "user-alice", env)
	require.NoError(t, err, "Open must clamp a stored iteration count below the floor rather than honor it")
	require.Equal(t, []byte("secret"), got)
}

func TestDeriveKEKRejectsUnknownKDF(t *testing.T) {
	env, err := Seal("pw", "user-alice", []byte("secret"))
	require.NoError(t, err)

	env.KDF = "scrypt"
	_, err = Open("pw", "user-alice", env)
	require.Error(t, err)
}
