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

package envelope

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func validMsgEnvelope() *Envelope {
	return &Envelope{
		Type:       MSG,
		SessionID:  "sess1",
		Sender:     "alice",
		Receiver:   "bob",
		Timestamp:  1234,
		Seq:        1,
		Nonce:      make([]byte, NonceSize),
		IV:         make([]byte, IVSize),
		Ciphertext: make([]byte, AuthTagSize+5),
	}
}

func TestValidateAcceptsWellFormedMSG(t *testing.T) {
	require.NoError(t, validMsgEnvelope().Validate())
}

func TestValidateRejectsUnknownType(t *testing.T) {
	e := validMsgEnvelope()
	e.Type = Type("BOGUS")
	require.ErrorIs(t, e.Validate(), ErrStructuralInvalid)
}

func TestValidateRejectsZeroSeq(t *testing.T) {
	e := validMsgEnvelope()
	e.Seq = 0
	require.ErrorIs(t, e.Validate(), ErrStructuralInvalid)
}

func TestValidateRejectsBadNonceLength(t *testing.T) {
	e := validMsgEnvelope()
	e.Nonce = []byte{1, 2, 3}
	require.ErrorIs(t, e.Validate(), ErrStructuralInvalid)
}

func TestValidateRejectsMissingSessionID(t *testing.T) {
	e := validMsgEnvelope()
	e.SessionID = ""
	require.ErrorIs(t, e.Validate(), ErrStructuralInvalid)
}

func TestValidateFileChunkRequiresMeta(t *testing.T) {
	e := validMsgEnvelope()
	e.Type = FileChunk
	e.FileMeta = nil
	require.ErrorIs(t, e.Validate(), ErrStructuralInvalid)
}

func TestValidateFileChunkRejectsOversizedPayload(t *testing.T) {
	e := validMsgEnvelope()
	e.Type = FileChunk
	e.FileMeta = &FileChunkMeta{ChunkIndex: 0, TotalChunks: 1}
	e.Ciphertext = make([]byte, MaxFileChunkPlaintext+AuthTagSize+1)
	require.ErrorIs(t, e.Validate(), ErrStructuralInvalid)
}

func TestValidateKEPInitRequiresSignedEphemeral(t *testing.T) {
	e := validMsgEnvelope()
	e.Type = KEPInit
	e.IV = nil
	e.Ciphertext = nil
	e.KEP = nil
	require.ErrorIs(t, e.Validate(), ErrStructuralInvalid)

	e.KEP = &KEPMeta{EphPub: []byte("pub"), Signature: []byte("sig")}
	require.NoError(t, e.Validate())
}

func TestCanonicalAADDeterministic(t *testing.T) {
	a := CanonicalAAD(MSG, "s1", "alice", "bob", 100, 1)
	b := CanonicalAAD(MSG, "s1", "alice", "bob", 100, 1)
	require.Equal(t, a, b)

	c := CanonicalAAD(MSG, "s1", "alice", "bob", 100, 2)
	require.NotEqual(t, a, c)
}
