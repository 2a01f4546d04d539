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
	"crypto/hmac"
	"crypto/sha256"
)

// HMAC computes HMAC-SHA256(key, message). Used for the handshake's
// key_confirmation value, keyed with the session root key so that a
// matching tag shows both sides derived the same root key.
func HMAC(key, message []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(message)
	return mac.Sum(nil)
}

// VerifyHMAC performs a constant-time comparison of an HMAC-SHA256
// tag so that confirmation checks never leak timing information about
// where a mismatch occurred.
func VerifyHMAC(key, message, tag []byte) bool {
	want := HMAC(key, message)
	return constantTimeEqual(want, tag)
}
