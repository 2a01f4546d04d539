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

// Package vault seals key material at rest under a password-derived
// key. It wraps crypto.Seal/Open with a memory-hard Argon2id
// key-encryption-key derivation (PBKDF2-HMAC-SHA256 at ≥600k
// iterations as the documented fallback) and an envelope format that
// binds an owner identity into the AEAD associated data, so a sealed
// blob cannot be silently re-attributed to a different identity or
// session.
package vault

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"

	ecrypto "github.com/duskline/e2ee-core/crypto"
)

var (
	ErrWrongPassword = errors.New("vault: wrong password or corrupted envelope")
	ErrEmptyPassword = errors.New("vault: password must not be empty")
	ErrUnknownKDF    = errors.New("vault: envelope names an unrecognized KDF")
)

// KDF names the password-based key derivation an Envelope was sealed
// under. Argon2id is the default; PBKDF2 is the spec's documented
// fallback for environments where a memory-hard KDF is unavailable.
type KDF string

const (
	Argon2id KDF = "argon2id"
	PBKDF2   KDF = "pbkdf2"
)

const (
	saltSize = 32
	kekSize  = 32

	// Argon2id parameters: 64 MiB, 1 pass, 4 lanes — the RFC 9106 "low
	// memory" profile, appropriate for a CLI/agent unsealing its own
	// identity rather than a server authenticating many users at once.
	argon2Time    = 1
	argon2Memory  = 64 * 1024
	argon2Threads = 4

	// pbkdf2MinIterations is the spec's floor for the fallback KDF.
	pbkdf2MinIterations = 600_000

	envelopeVer = 1
)

// Envelope is the sealed-at-rest representation of a key blob: the
// KDF used and its parameters, the AES-256-GCM nonce and ciphertext,
// and the owner binding that was authenticated (but not encrypted) as
// AEAD AAD.
type Envelope struct {
	Version    int    `json:"version"`
	OwnerID    string `json:"owner_id"`
	KDF        KDF    `json:"kdf"`
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`

	// Iterations is only meaningful when KDF == PBKDF2.
	Iterations int `json:"iterations,omitempty"`
}

// Seal derives a key-encryption-key from password via Argon2id and
// uses it to AES-256-GCM encrypt plaintext, binding ownerID as
// associated data. ownerID is typically a user_id or session_id: the
// caller decides what identity a given sealed blob belongs to, and
// Open refuses to unseal it under a different one.
func Seal(password string, ownerID string, plaintext []byte) (*Envelope, error) {
	return seal(password, ownerID, plaintext, Argon2id, 0)
}

// SealPBKDF2 seals exactly like Seal but with the spec's documented
// fallback KDF at the minimum acceptable iteration count, for
// deployments that cannot run a memory-hard derivation (e.g. a
// FIPS-constrained build).
func SealPBKDF2(password string, ownerID string, plaintext []byte) (*Envelope, error) {
	return SealPBKDF2Iterations(password, ownerID, plaintext, pbkdf2MinIterations)
}

// SealPBKDF2Iterations is SealPBKDF2 with a caller-supplied iteration
// count, for hosts whose configuration raises the count above the
// floor. A count below pbkdf2MinIterations is raised to it rather
// than honored.
func SealPBKDF2Iterations(password string, ownerID string, plaintext []byte, iterations int) (*Envelope, error) {
	if iterations < pbkdf2MinIterations {
		iterations = pbkdf2MinIterations
	}
	return seal(password, ownerID, plaintext, PBKDF2, iterations)
}

func seal(password, ownerID string, plaintext []byte, kdf KDF, pbkdf2Iterations int) (*Envelope, error) {
	if password == "" {
		return nil, ErrEmptyPassword
	}
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("%w: %v", ecrypto.ErrBadEntropy, err)
	}

	env := &Envelope{Version: envelopeVer, OwnerID: ownerID, KDF: kdf, Salt: salt}
	if kdf == PBKDF2 {
		env.Iterations = pbkdf2Iterations
	}

	kek, err := deriveKEK(env, password)
	if err != nil {
		return nil, err
	}
	defer ecrypto.Zeroize(kek)

	nonce, ciphertext, err := ecrypto.Seal(kek, plaintext, []byte(ownerID))
	if err != nil {
		return nil, err
	}
	env.Nonce = nonce
	env.Ciphertext = ciphertext
	return env, nil
}

// Open reverses Seal/SealPBKDF2, dispatching on the envelope's own
// recorded KDF. ownerID must match the value the envelope was sealed
// under, enforced both by an explicit check and by the AEAD AAD
// binding; a mismatch on either surfaces as ErrWrongPassword so a
// caller cannot distinguish "wrong owner" from "wrong password".
func Open(password string, ownerID string, env *Envelope) ([]byte, error) {
	if password == "" {
		return nil, ErrEmptyPassword
	}
	if env.OwnerID != ownerID {
		return nil, ErrWrongPassword
	}
	kek, err := deriveKEK(env, password)
	if err != nil {
		return nil, err
	}
	defer ecrypto.Zeroize(kek)

	plaintext, err := ecrypto.Open(kek, env.Nonce, env.Ciphertext, []byte(ownerID))
	if err != nil {
		return nil, ErrWrongPassword
	}
	return plaintext, nil
}

func deriveKEK(env *Envelope, password string) ([]byte, error) {
	switch env.KDF {
	case "", Argon2id:
		return argon2.IDKey([]byte(password), env.Salt, argon2Time, argon2Memory, argon2Threads, kekSize), nil
	case PBKDF2:
		iters := env.Iterations
		if iters < pbkdf2MinIterations {
			iters = pbkdf2MinIterations
		}
		return pbkdf2.Key([]byte(password), env.Salt, iters, kekSize, sha256.New), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKDF, env.KDF)
	}
}

// Marshal/Unmarshal let callers hand the envelope to a storage.BlobStore
// without that package needing to know the vault's internal shape.

func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

func Unmarshal(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("vault: malformed envelope: %w", err)
	}
	return &env, nil
}
