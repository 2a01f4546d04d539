// Package identity holds each user's long-term P-256 signing keypair,
// sealed at rest under a password-derived key. It never retries a
// failed unseal itself; repeated failures are reported to an external
// LockoutTracker collaborator. A missing blob and a wrong password both
// surface as ErrBadPassword, but a missing blob returns without running
// the password KDF, so the two cases differ in timing.
package identity

import (
	"errors"
	"fmt"

	ecrypto "github.com/duskline/e2ee-core/crypto"
	"github.com/duskline/e2ee-core/crypto/storage"
	"github.com/duskline/e2ee-core/crypto/vault"
)

var (
	// ErrBadPassword is returned by Unseal on tag mismatch or KEK
	// mismatch, and also when no sealed blob exists for the user, so
	// the error alone does not tell the two apart.
	ErrBadPassword     = errors.New("identity: wrong password")
	ErrIdentityExists  = errors.New("identity: already exists for this user")
	ErrIdentityMissing = errors.New("identity: no sealed blob for this user")
)

// LockoutTracker is the external collaborator that counts BadPassword
// failures within a bounded window per user and decides whether to
// refuse further attempts. The store consults it before every unseal
// and reports back after every failure; it never implements backoff
// itself.
type LockoutTracker interface {
	// Allow reports whether another unseal attempt for userID may
	// proceed right now.
	Allow(userID string) bool
	// RecordFailure registers a BadPassword outcome for userID.
	RecordFailure(userID string)
	// RecordSuccess clears any accumulated failure count for userID.
	RecordSuccess(userID string)
}

// ErrLockedOut is returned when a LockoutTracker refuses an attempt.
var ErrLockedOut = errors.New("identity: too many failed attempts, locked out")

// Store holds sealed identity keypairs, one per user_id.
type Store struct {
	blobs   storage.BlobStore
	lockout LockoutTracker

	// pbkdf2Iterations, when non-zero, selects the PBKDF2 fallback KDF
	// at this iteration count instead of the default Argon2id. Set via
	// NewStoreWithKDF for hosts that cannot run a memory-hard KDF.
	pbkdf2Iterations int
}

// NewStore builds an identity store over the given blob backend,
// sealing new identities under Argon2id. A nil lockout disables
// lockout tracking (used by tests and by cmd/e2eectl's local demo
// mode).
func NewStore(blobs storage.BlobStore, lockout LockoutTracker) *Store {
	return NewStoreWithKDF(blobs, lockout, 0)
}

// NewStoreWithKDF builds an identity store like NewStore, but seals
// new identities under the PBKDF2 fallback KDF at pbkdf2Iterations
// (raised to the spec's floor if lower) instead of Argon2id. Pass 0 to
// get the default Argon2id behavior.
func NewStoreWithKDF(blobs storage.BlobStore, lockout LockoutTracker, pbkdf2Iterations int) *Store {
	if lockout == nil {
		lockout = noopLockout{}
	}
	return &Store{blobs: blobs, lockout: lockout, pbkdf2Iterations: pbkdf2Iterations}
}

// GenerateIdentity creates a fresh P-256 ECDSA keypair for userID,
// seals it under password, and stores it. It fails with
// ErrIdentityExists if userID already has a sealed blob.
func (s *Store) GenerateIdentity(userID, password string) (*ecrypto.IdentityKeyPair, error) {
	if s.blobs.Exists(userID) {
		return nil, ErrIdentityExists
	}
	kp, err := ecrypto.GenerateIdentityKeyPair()
	if err != nil {
		return nil, err
	}
	if err := s.seal(userID, password, kp); err != nil {
		return nil, err
	}
	return kp, nil
}

// Seal wraps an already-generated keypair under password and stores
// it, overwriting any existing sealed blob for userID. Used when
// re-keying or importing an identity from elsewhere.
func (s *Store) Seal(userID, password string, kp *ecrypto.IdentityKeyPair) error {
	return s.seal(userID, password, kp)
}

func (s *Store) seal(userID, password string, kp *ecrypto.IdentityKeyPair) error {
	priv := kp.PrivateBytes()
	defer ecrypto.Zeroize(priv)

	var env *vault.Envelope
	var err error
	if s.pbkdf2Iterations > 0 {
		env, err = vault.SealPBKDF2Iterations(password, userID, priv, s.pbkdf2Iterations)
	} else {
		env, err = vault.Seal(password, userID, priv)
	}
	if err != nil {
		return err
	}
	data, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("identity: marshal envelope: %w", err)
	}
	return s.blobs.Store(userID, data)
}

// Unseal recovers userID's identity keypair. The caller MUST call
// Zeroize on the returned keypair's private bytes (via
// IdentityKeyPair.PrivateBytes, once taken) as soon as it is done
// signing or verifying.
func (s *Store) Unseal(userID, password string) (*ecrypto.IdentityKeyPair, error) {
	if !s.lockout.Allow(userID) {
		return nil, ErrLockedOut
	}

	data, err := s.blobs.Load(userID)
	if err != nil {
		s.lockout.RecordFailure(userID)
		return nil, ErrBadPassword
	}
	env, err := vault.Unmarshal(data)
	if err != nil {
		s.lockout.RecordFailure(userID)
		return nil, ErrBadPassword
	}
	priv, err := vault.Open(password, userID, env)
	if err != nil {
		s.lockout.RecordFailure(userID)
		return nil, ErrBadPassword
	}
	defer ecrypto.Zeroize(priv)

	kp, err := ecrypto.IdentityKeyPairFromPrivate(priv)
	if err != nil {
		s.lockout.RecordFailure(userID)
		return nil, ErrBadPassword
	}
	s.lockout.RecordSuccess(userID)
	return kp, nil
}

// HasIdentity reports whether userID has a sealed identity blob.
func (s *Store) HasIdentity(userID string) bool {
	return s.blobs.Exists(userID)
}

type noopLockout struct{}

func (noopLockout) Allow(string) bool    { return true }
func (noopLockout) RecordFailure(string) {}
func (noopLockout) RecordSuccess(string) {}
