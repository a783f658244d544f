// Package driven defines the driven ports: interfaces the application core
// depends on and the adapter layer implements.
package driven

import (
	"context"
	"errors"
	"time"

	"github.com/jlowell/healthdeck/internal/domain/model"
)

// ErrEncryptionKeyNotSet is returned by CredentialStore operations when
// HEALTHDECK_SECRET_KEY has not been configured.
var ErrEncryptionKeyNotSet = errors.New("encryption key not configured: set HEALTHDECK_SECRET_KEY")

// CredentialStore is the driven port for OAuth credential persistence. The
// adapter encrypts token values at rest; this interface operates on plaintext
// at the domain boundary.
//
// Lookup methods return (nil, nil) when no credential exists -- absence is an
// expected state, not an error.
type CredentialStore interface {
	// Upsert creates or replaces the credential for (cred.UserID, cred.Provider).
	Upsert(ctx context.Context, cred model.Credential) error

	// Get returns the credential for the user/provider pair.
	Get(ctx context.Context, userID string, provider model.Provider) (*model.Credential, error)

	// GetByExternalSubject resolves a credential from the provider-assigned
	// subject identifier carried by webhook events.
	GetByExternalSubject(ctx context.Context, provider model.Provider, subjectID string) (*model.Credential, error)

	// UpdateTokens atomically replaces the access token, refresh token, and
	// expiry for the pair.
	UpdateTokens(ctx context.Context, userID string, provider model.Provider, accessToken, refreshToken string, expiresAt time.Time) error

	// AdvanceCheckpoint sets last_sync_at for the pair to syncedAt.
	AdvanceCheckpoint(ctx context.Context, userID string, provider model.Provider, syncedAt time.Time) error

	// ListByProvider returns every credential stored for one provider,
	// ordered by user.
	ListByProvider(ctx context.Context, provider model.Provider) ([]model.Credential, error)

	// Delete removes the credential for the pair. Deleting a missing
	// credential is not an error.
	Delete(ctx context.Context, userID string, provider model.Provider) error
}
