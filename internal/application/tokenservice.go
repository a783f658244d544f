package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jlowell/healthdeck/internal/domain/model"
	"github.com/jlowell/healthdeck/internal/domain/port/driven"
	"github.com/jlowell/healthdeck/internal/observability"
)

// RefreshMargin is how close to expiry an access token may get before a sync
// run rotates it. Refreshing early keeps a long pull from outliving its token
// mid-run.
const RefreshMargin = 5 * time.Minute

// tokenRefresher is the slice of a provider client the token service needs.
// Both provider clients satisfy it.
type tokenRefresher interface {
	RefreshToken(ctx context.Context, refreshToken string) (driven.TokenGrant, error)
}

// TokenService owns the access-token lifecycle: it decides when a credential
// needs rotation, performs the exchange, and persists the new grant before
// anyone uses it.
type TokenService struct {
	creds      driven.CredentialStore
	refreshers map[model.Provider]tokenRefresher
	margin     time.Duration
	now        func() time.Time
}

// NewTokenService creates a TokenService wired to the two provider clients.
func NewTokenService(creds driven.CredentialStore, workout driven.WorkoutClient, recovery driven.RecoveryClient) *TokenService {
	return &TokenService{
		creds: creds,
		refreshers: map[model.Provider]tokenRefresher{
			model.ProviderWorkout:  workout,
			model.ProviderRecovery: recovery,
		},
		margin: RefreshMargin,
		now:    time.Now,
	}
}

// EnsureValid returns an access token guaranteed to be fresh for at least the
// refresh margin. When the stored token is near expiry it performs exactly one
// refresh exchange, persists the rotated grant, updates cred in place, and
// returns the new token. A failed exchange aborts with a TokenRefreshError;
// the stale credential is left untouched so a later run can retry.
func (s *TokenService) EnsureValid(ctx context.Context, cred *model.Credential) (string, error) {
	if !cred.TokenExpiresWithin(s.margin, s.now()) {
		return cred.AccessToken, nil
	}

	refresher, ok := s.refreshers[cred.Provider]
	if !ok {
		return "", fmt.Errorf("no token refresher for provider %q", cred.Provider)
	}

	grant, err := refresher.RefreshToken(ctx, cred.RefreshToken)
	if err != nil {
		return "", err
	}

	if err := s.creds.UpdateTokens(ctx, cred.UserID, cred.Provider,
		grant.AccessToken, grant.RefreshToken, grant.ExpiresAt); err != nil {
		return "", fmt.Errorf("persist rotated tokens: %w", err)
	}

	cred.AccessToken = grant.AccessToken
	cred.RefreshToken = grant.RefreshToken
	cred.TokenExpiresAt = grant.ExpiresAt

	observability.RecordTokenRefresh(cred.Provider)
	slog.Info("access token rotated",
		"user_id", cred.UserID,
		"provider", cred.Provider,
		"expires_at", grant.ExpiresAt,
	)

	return grant.AccessToken, nil
}
