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

// Package crypto implements the fixed primitive set the rest of the
// core depends on: P-256 ECDH and ECDSA, HKDF-SHA256, AES-256-GCM and
// HMAC-SHA256.
package crypto

import "errors"

// Sentinel errors returned by the primitives in this package. Callers
// should compare with errors.Is rather than matching on strings.
var (
	ErrBadEntropy      = errors.New("crypto: entropy source unavailable")
	ErrInvalidKey      = errors.New("crypto: invalid key material")
	ErrAeadTagFailure  = errors.New("crypto: aead authentication failed")
	ErrInvalidSignature = errors.New("crypto: signature verification failed")
	ErrShortCiphertext = errors.New("crypto: ciphertext shorter than nonce+tag")
)
