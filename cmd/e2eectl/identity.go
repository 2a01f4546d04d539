package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/duskline/e2ee-core/crypto/storage"
	"github.com/duskline/e2ee-core/directory"
	"github.com/duskline/e2ee-core/identity"
)

var (
	identityUser     string
	identityPassword string
)

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Generate, seal and unseal a P-256 identity keypair",
	Long: `Generates a fresh identity keypair for --user, seals it under
--password into an in-memory blob store, then immediately unseals it
back to prove the round trip, and prints the public key as the JWK
that would be published to a directory service.`,
	RunE: runIdentity,
}

func init() {
	rootCmd.AddCommand(identityCmd)
	identityCmd.Flags().StringVar(&identityUser, "user", "alice", "user_id to generate an identity for")
	identityCmd.Flags().StringVar(&identityPassword, "password", "correct horse battery staple", "password the identity is sealed under")
}

func runIdentity(cmd *cobra.Command, args []string) error {
	store := identity.NewStore(storage.NewMemoryBlobStore(), nil)

	if _, err := store.GenerateIdentity(identityUser, identityPassword); err != nil {
		return fmt.Errorf("generate: %w", err)
	}
	fmt.Printf("generated identity for %q\n", identityUser)

	unsealed, err := store.Unseal(identityUser, identityPassword)
	if err != nil {
		return fmt.Errorf("unseal: %w", err)
	}
	fmt.Printf("unsealed identity for %q (round trip verified)\n", identityUser)

	jwk, err := directory.ToJWK(identityUser, unsealed.PublicBytes())
	if err != nil {
		return fmt.Errorf("encode JWK: %w", err)
	}
	out, err := json.MarshalIndent(jwk, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JWK: %w", err)
	}

	fmt.Println(string(out))
	return nil
}
