package directory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	ecrypto "github.com/duskline/e2ee-core/crypto"
)

func TestToFromJWKRoundTrip(t *testing.T) {
	kp, err := ecrypto.GenerateIdentityKeyPair()
	require.NoError(t, err)

	jwk, err := ToJWK("alice", kp.PublicBytes())
	require.NoError(t, err)
	require.Empty(t, jwk.D)

	back, err := FromJWK(jwk)
	require.NoError(t, err)
	require.Equal(t, kp.PublicBytes(), back)
}

func TestFromJWKRejectsPrivateComponent(t *testing.T) {
	jwk := &JWK{Kty: "EC", Crv: "P-256", X: "x", Y: "y", D: "leaked-scalar"}
	_, err := FromJWK(jwk)
	require.ErrorIs(t, err, ErrPrivateComponentPresent)
}

func TestMemoryServicePutGet(t *testing.T) {
	ctx := context.Background()
	svc := NewMemoryService()

	kp, err := ecrypto.GenerateIdentityKeyPair()
	require.NoError(t, err)
	jwk, err := ToJWK("alice", kp.PublicBytes())
	require.NoError(t, err)

	require.NoError(t, svc.PutOwnPublicIdentityKey(ctx, "alice", jwk))

	got, err := svc.GetPeerPublicIdentityKey(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, jwk.X, got.X)

	_, err = svc.GetPeerPublicIdentityKey(ctx, "bob")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryServiceRejectsPrivateComponent(t *testing.T) {
	svc := NewMemoryService()
	err := svc.PutOwnPublicIdentityKey(context.Background(), "alice", &JWK{D: "leak"})
	require.ErrorIs(t, err, ErrPrivateComponentPresent)
}
