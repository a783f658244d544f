package model

import "time"

// Credential holds one user's OAuth tokens and sync checkpoint for one
// provider. Exactly one credential exists per (UserID, Provider) pair; it is
// created by the OAuth handshake, rotated in place by the token service, and
// deleted on disconnect or a provider-reported account deletion.
type Credential struct {
	ID           int64
	UserID       string
	Provider     Provider
	AccessToken  string
	RefreshToken string

	// TokenExpiresAt is the absolute expiry of AccessToken. The token must
	// never be sent once now >= TokenExpiresAt without refreshing first.
	TokenExpiresAt time.Time

	// LastSyncAt is the checkpoint of the last successful sync. nil means the
	// provider has never been synced and the next run backfills all history.
	// It is an opaque cursor; it does not equal any record's timestamp.
	LastSyncAt *time.Time

	// ExternalSubjectID is the provider-assigned user identifier, used to
	// route inbound webhook events when no session context exists.
	ExternalSubjectID string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TokenExpiresWithin reports whether the access token expires within margin
// of now, i.e. whether it must be refreshed before the next request.
func (c Credential) TokenExpiresWithin(margin time.Duration, now time.Time) bool {
	return !c.TokenExpiresAt.After(now.Add(margin))
}
