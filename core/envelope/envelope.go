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

// Package envelope builds, parses and structurally validates the wire
// envelopes exchanged between two endpoints: MSG, FILE_META,
// FILE_CHUNK, KEY_UPDATE, KEP_INIT and KEP_RESPONSE. Parsing dispatches
// through an exhaustive switch on Type rather than ad-hoc branching,
// and never performs cryptographic work itself — that belongs to
// core/pipeline and core/handshake.
package envelope

import (
	"encoding/base64"
	"errors"
	"fmt"
)

// Type is the tagged-union discriminant for an Envelope.
type Type string

const (
	MSG         Type = "MSG"
	FileMeta    Type = "FILE_META"
	FileChunk   Type = "FILE_CHUNK"
	KeyUpdate   Type = "KEY_UPDATE"
	KEPInit     Type = "KEP_INIT"
	KEPResponse Type = "KEP_RESPONSE"
)

func (t Type) valid() bool {
	switch t {
	case MSG, FileMeta, FileChunk, KeyUpdate, KEPInit, KEPResponse:
		return true
	default:
		return false
	}
}

const (
	IVSize                = 12
	AuthTagSize           = 16
	NonceSize             = 16
	MaxFileChunkPlaintext = 256 * 1024
)

var (
	ErrStructuralInvalid = errors.New("envelope: structurally invalid")
)

// FileMetaPayload is the decrypted sub-record carried by a FILE_META
// envelope's ciphertext.
type FileMetaPayload struct {
	Filename       string `json:"filename"`
	Size           uint64 `json:"size"`
	TotalChunks    uint32 `json:"total_chunks"`
	Mimetype       string `json:"mimetype"`
	FileTransferID string `json:"file_transfer_id"`
}

// FileChunkMeta is the clear-text routing metadata attached to a
// FILE_CHUNK envelope: visible to the relay, required for reassembly.
type FileChunkMeta struct {
	ChunkIndex     uint32 `json:"chunk_index"`
	TotalChunks    uint32 `json:"total_chunks"`
	FileTransferID string `json:"file_transfer_id"`
}

// KeyUpdateMeta is the clear-text payload of a KEY_UPDATE envelope:
// ciphertext-free, carrying the sender's new ephemeral public key and
// a signature over the canonical rotation payload.
type KeyUpdateMeta struct {
	RotationSeq uint64 `json:"rotation_seq"`
	EphPub      []byte `json:"eph_pub"`
	Signature   []byte `json:"signature"`
}

// KEPMeta carries the handshake-specific fields of KEP_INIT /
// KEP_RESPONSE: the ephemeral public key, its signature, and (for
// KEP_RESPONSE only) the key-confirmation MAC.
type KEPMeta struct {
	EphPub          []byte `json:"eph_pub"`
	Signature       []byte `json:"signature"`
	KeyConfirmation []byte `json:"key_confirmation,omitempty"`
}

// Envelope is the canonical wire message. Exactly one of the *Meta
// fields is populated, selected by Type.
type Envelope struct {
	Type      Type   `json:"type"`
	SessionID string `json:"session_id"`
	Sender    string `json:"sender"`
	Receiver  string `json:"receiver"`
	Timestamp int64  `json:"timestamp"`
	Seq       uint64 `json:"seq"`
	Nonce     []byte `json:"nonce"`

	Ciphertext []byte `json:"ciphertext,omitempty"`
	IV         []byte `json:"iv,omitempty"`
	AuthTag    []byte `json:"auth_tag,omitempty"`

	FileMeta  *FileChunkMeta `json:"file_meta,omitempty"`
	KeyUpdate *KeyUpdateMeta `json:"key_update,omitempty"`
	KEP       *KEPMeta       `json:"kep,omitempty"`
}

// Validate enforces the structural invariants C5 checks before any
// cryptographic work is attempted: required fields present, seq > 0,
// timestamp > 0, fixed-length binary fields, type in the enum, and
// non-empty participant/session identifiers.
func (e *Envelope) Validate() error {
	if !e.Type.valid() {
		return fmt.Errorf("%w: unknown type %q", ErrStructuralInvalid, e.Type)
	}
	if e.SessionID == "" || e.Sender == "" || e.Receiver == "" {
		return fmt.Errorf("%w: missing session_id/sender/receiver", ErrStructuralInvalid)
	}
	if e.Seq == 0 {
		return fmt.Errorf("%w: seq must be > 0", ErrStructuralInvalid)
	}
	if e.Timestamp <= 0 {
		return fmt.Errorf("%w: timestamp must be > 0", ErrStructuralInvalid)
	}
	if len(e.Nonce) != NonceSize {
		return fmt.Errorf("%w: nonce must be %d bytes", ErrStructuralInvalid, NonceSize)
	}

	switch e.Type {
	case MSG, FileMeta:
		if len(e.IV) != IVSize {
			return fmt.Errorf("%w: iv must be %d bytes", ErrStructuralInvalid, IVSize)
		}
		if len(e.AuthTag) != AuthTagSize && len(e.Ciphertext) < AuthTagSize {
			return fmt.Errorf("%w: missing auth_tag", ErrStructuralInvalid)
		}
	case FileChunk:
		if len(e.IV) != IVSize {
			return fmt.Errorf("%w: iv must be %d bytes", ErrStructuralInvalid, IVSize)
		}
		if e.FileMeta == nil {
			return fmt.Errorf("%w: FILE_CHUNK requires file_meta", ErrStructuralInvalid)
		}
		if len(e.Ciphertext) > MaxFileChunkPlaintext+AuthTagSize {
			return fmt.Errorf("%w: chunk ciphertext exceeds 256KiB bound", ErrStructuralInvalid)
		}
	case KeyUpdate:
		if e.KeyUpdate == nil || len(e.KeyUpdate.EphPub) == 0 || len(e.KeyUpdate.Signature) == 0 {
			return fmt.Errorf("%w: KEY_UPDATE requires eph_pub and signature", ErrStructuralInvalid)
		}
	case KEPInit:
		if e.KEP == nil || len(e.KEP.EphPub) == 0 || len(e.KEP.Signature) == 0 {
			return fmt.Errorf("%w: KEP_INIT requires eph_pub and signature", ErrStructuralInvalid)
		}
	case KEPResponse:
		if e.KEP == nil || len(e.KEP.EphPub) == 0 || len(e.KEP.Signature) == 0 || len(e.KEP.KeyConfirmation) == 0 {
			return fmt.Errorf("%w: KEP_RESPONSE requires eph_pub, signature and key_confirmation", ErrStructuralInvalid)
		}
	}
	return nil
}

// CanonicalAAD builds the fixed-field-order associated data bound to
// an envelope's AEAD tag: type || session_id || sender || receiver ||
// timestamp || seq. Any change to a header field after encryption
// causes decryption to fail, preventing a ciphertext from being
// lifted into a different envelope.
func CanonicalAAD(typ Type, sessionID, sender, receiver string, timestamp int64, seq uint64) []byte {
	b := make([]byte, 0, 128)
	b = append(b, typ...)
	b = append(b, '|')
	b = append(b, sessionID...)
	b = append(b, '|')
	b = append(b, sender...)
	b = append(b, '|')
	b = append(b, receiver...)
	b = append(b, '|')
	b = appendUint64(b, uint64(timestamp))
	b = append(b, '|')
	b = appendUint64(b, seq)
	return b
}

func appendUint64(b []byte, v uint64) []byte {
	return append(b, []byte(fmt.Sprintf("%d", v))...)
}

// CanonicalKeyUpdatePayload builds the fixed-field-order bytes signed
// over by a KEY_UPDATE: session_id, from, to, eph_pub, rotation_seq,
// timestamp.
func CanonicalKeyUpdatePayload(sessionID, from, to string, ephPub []byte, rotationSeq uint64, timestamp int64) []byte {
	b := make([]byte, 0, 256)
	b = append(b, sessionID...)
	b = append(b, '|')
	b = append(b, from...)
	b = append(b, '|')
	b = append(b, to...)
	b = append(b, '|')
	b = append(b, base64.RawURLEncoding.EncodeToString(ephPub)...)
	b = append(b, '|')
	b = appendUint64(b, rotationSeq)
	b = append(b, '|')
	b = appendUint64(b, uint64(timestamp))
	return b
}
