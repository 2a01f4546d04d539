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
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"math/big"
)

// IdentityKeyPair is a long-term P-256 ECDSA signing keypair. The
// private component never leaves the process unsealed except for the
// duration of a Sign call (see identity.Store).
type IdentityKeyPair struct {
	priv *ecdsa.PrivateKey
}

// GenerateIdentityKeyPair creates a fresh P-256 ECDSA keypair.
func GenerateIdentityKeyPair() (*IdentityKeyPair, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadEntropy, err)
	}
	return &IdentityKeyPair{priv: priv}, nil
}

// IdentityKeyPairFromPrivate reconstructs a keypair from raw scalar
// bytes, the form stored (sealed) at rest.
func IdentityKeyPairFromPrivate(d []byte) (*IdentityKeyPair, error) {
	curve := elliptic.P256()
	k := new(big.Int).SetBytes(d)
	if k.Sign() <= 0 || k.Cmp(curve.Params().N) >= 0 {
		return nil, ErrInvalidKey
	}
	priv := new(ecdsa.PrivateKey)
	priv.PublicKey.Curve = curve
	priv.D = k
	priv.PublicKey.X, priv.PublicKey.Y = curve.ScalarBaseMult(d)
	return &IdentityKeyPair{priv: priv}, nil
}

// PrivateBytes returns the raw scalar, the representation that gets
// sealed by identity.Store. Callers must zeroise the returned slice
// after use.
func (k *IdentityKeyPair) PrivateBytes() []byte {
	return k.priv.D.FillBytes(make([]byte, 32))
}

// PublicKey returns the underlying ecdsa.PublicKey.
func (k *IdentityKeyPair) PublicKey() *ecdsa.PublicKey {
	return &k.priv.PublicKey
}

// PublicBytes returns the uncompressed SEC1 encoding of the public key.
func (k *IdentityKeyPair) PublicBytes() []byte {
	return elliptic.Marshal(elliptic.P256(), k.priv.PublicKey.X, k.priv.PublicKey.Y)
}

// Sign produces an ASN.1 DER ECDSA-P256-SHA256 signature over message.
func (k *IdentityKeyPair) Sign(message []byte) ([]byte, error) {
	digest := sha256.Sum256(message)
	sig, err := ecdsa.SignASN1(rand.Reader, k.priv, digest[:])
	if err != nil {
		return nil, fmt.Errorf("crypto: sign: %w", err)
	}
	return sig, nil
}

// VerifySignature checks an ECDSA-P256-SHA256 signature against a raw
// SEC1-encoded public key. Verification failure and malformed input
// are both reported as ErrInvalidSignature so timing cannot
// distinguish the two cases.
func VerifySignature(pubBytes, message, sig []byte) error {
	x, y := elliptic.Unmarshal(elliptic.P256(), pubBytes)
	if x == nil {
		return ErrInvalidSignature
	}
	pub := &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}
	digest := sha256.Sum256(message)
	if !ecdsa.VerifyASN1(pub, digest[:], sig) {
		return ErrInvalidSignature
	}
	return nil
}

// Verify checks a signature using this keypair's own public key.
// Exposed mainly for tests; peers verify via VerifySignature against
// a directory-resolved public key.
func (k *IdentityKeyPair) Verify(message, sig []byte) error {
	return VerifySignature(k.PublicBytes(), message, sig)
}

// constantTimeEqual reports whether a and b are equal without
// branching on the input length's position of difference.
func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}
