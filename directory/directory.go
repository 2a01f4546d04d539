// Package directory defines the external collaborator that publishes
// and resolves peer identity public keys. The core never stores or
// verifies these outside the JWK wire format; chain/registry-backed
// resolution is an integration concern left to the host application.
package directory

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	ecrypto "github.com/duskline/e2ee-core/crypto"
)

var (
	// ErrPrivateComponentPresent is returned when a record being
	// published carries a private-key component; a JWK with a "d"
	// field for an EC key is rejected outright.
	ErrPrivateComponentPresent = errors.New("directory: JWK carries a private-key component")
	ErrNotFound                = errors.New("directory: no public key for this user")
)

// JWK is the subset of RFC 7517 used for a P-256 identity public key.
type JWK struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
	D   string `json:"d,omitempty"`
	Kid string `json:"kid,omitempty"`
}

// Service is the interface the handshake and rotation engines consume
// to resolve a peer's long-term public identity key and to publish
// the local one. Implementations may be in-memory (tests, the
// cmd/e2eectl demo) or backed by a remote registry.
type Service interface {
	GetPeerPublicIdentityKey(ctx context.Context, userID string) (*JWK, error)
	PutOwnPublicIdentityKey(ctx context.Context, userID string, jwk *JWK) error
}

// ToJWK canonicalizes a P-256 public key (SEC1 uncompressed bytes) as
// a JWK, the encoding in which identity public keys are published to
// and resolved from the directory.
func ToJWK(userID string, pubBytes []byte) (*JWK, error) {
	if len(pubBytes) != 65 || pubBytes[0] != 0x04 {
		return nil, ecrypto.ErrInvalidKey
	}
	return &JWK{
		Kty: "EC",
		Crv: "P-256",
		X:   base64.RawURLEncoding.EncodeToString(pubBytes[1:33]),
		Y:   base64.RawURLEncoding.EncodeToString(pubBytes[33:65]),
		Kid: userID,
	}, nil
}

// FromJWK reverses ToJWK, returning SEC1 uncompressed public key bytes.
func FromJWK(jwk *JWK) ([]byte, error) {
	if jwk.D != "" {
		return nil, ErrPrivateComponentPresent
	}
	if jwk.Kty != "EC" || jwk.Crv != "P-256" {
		return nil, ecrypto.ErrInvalidKey
	}
	x, err := base64.RawURLEncoding.DecodeString(jwk.X)
	if err != nil || len(x) != 32 {
		return nil, ecrypto.ErrInvalidKey
	}
	y, err := base64.RawURLEncoding.DecodeString(jwk.Y)
	if err != nil || len(y) != 32 {
		return nil, ecrypto.ErrInvalidKey
	}
	out := make([]byte, 65)
	out[0] = 0x04
	copy(out[1:33], x)
	copy(out[33:65], y)
	return out, nil
}

// MemoryService is an in-process directory: a read-mostly map guarded
// by a RWMutex, suitable for tests and the local demo CLI.
type MemoryService struct {
	mu   sync.RWMutex
	keys map[string]*JWK
}

// NewMemoryService creates an empty in-memory directory.
func NewMemoryService() *MemoryService {
	return &MemoryService{keys: make(map[string]*JWK)}
}

func (m *MemoryService) GetPeerPublicIdentityKey(_ context.Context, userID string) (*JWK, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	jwk, ok := m.keys[userID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, userID)
	}
	cp := *jwk
	return &cp, nil
}

func (m *MemoryService) PutOwnPublicIdentityKey(_ context.Context, userID string, jwk *JWK) error {
	if jwk.D != "" {
		return ErrPrivateComponentPresent
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *jwk
	m.keys[userID] = &cp
	return nil
}
