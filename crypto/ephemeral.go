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
	"crypto/ecdh"
	"crypto/rand"
	"fmt"
)

// EphemeralKeyPair is a single-use P-256 ECDH keypair. Callers MUST
// destroy the private scalar (Zeroize) once the shared secret has been
// computed; the node that generated it is the only owner.
type EphemeralKeyPair struct {
	priv *ecdh.PrivateKey
}

// GenerateEphemeral creates a fresh P-256 ECDH keypair for a single
// handshake or rotation round.
func GenerateEphemeral() (*EphemeralKeyPair, error) {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadEntropy, err)
	}
	return &EphemeralKeyPair{priv: priv}, nil
}

// PublicBytes returns the uncompressed SEC1 public key bytes, the form
// exchanged on the wire and covered by the handshake signature.
func (k *EphemeralKeyPair) PublicBytes() []byte {
	return k.priv.PublicKey().Bytes()
}

// ECDH computes the shared X-coordinate with a peer's raw public key
// bytes. The result is exactly 32 bytes for P-256.
func (k *EphemeralKeyPair) ECDH(peerPubBytes []byte) ([]byte, error) {
	peerPub, err := ecdh.P256().NewPublicKey(peerPubBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	shared, err := k.priv.ECDH(peerPub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return shared, nil
}

// Zeroize drops this keypair's reference to the private scalar; it
// does not overwrite the scalar's memory, which Go's ecdh.PrivateKey
// keeps internal. Combined with GC this is the best-effort destruction
// the stdlib type allows.
func (k *EphemeralKeyPair) Zeroize() {
	k.priv = nil
}
