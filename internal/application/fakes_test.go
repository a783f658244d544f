package application

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jlowell/healthdeck/internal/domain/model"
	"github.com/jlowell/healthdeck/internal/domain/port/driven"
)

// fakeCredentialStore is an in-memory CredentialStore for service tests.
type fakeCredentialStore struct {
	mu    sync.Mutex
	creds map[string]model.Credential

	updateTokenCalls int
	listErr          error
}

func newFakeCredentialStore() *fakeCredentialStore {
	return &fakeCredentialStore{creds: make(map[string]model.Credential)}
}

func credKey(userID string, provider model.Provider) string {
	return userID + "/" + string(provider)
}

func (s *fakeCredentialStore) put(cred model.Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[credKey(cred.UserID, cred.Provider)] = cred
}

func (s *fakeCredentialStore) Upsert(_ context.Context, cred model.Credential) error {
	s.put(cred)
	return nil
}

func (s *fakeCredentialStore) Get(_ context.Context, userID string, provider model.Provider) (*model.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.creds[credKey(userID, provider)]
	if !ok {
		return nil, nil
	}
	return &cred, nil
}

func (s *fakeCredentialStore) GetByExternalSubject(_ context.Context, provider model.Provider, subjectID string) (*model.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cred := range s.creds {
		if cred.Provider == provider && cred.ExternalSubjectID == subjectID {
			c := cred
			return &c, nil
		}
	}
	return nil, nil
}

func (s *fakeCredentialStore) UpdateTokens(_ context.Context, userID string, provider model.Provider, accessToken, refreshToken string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateTokenCalls++
	key := credKey(userID, provider)
	cred, ok := s.creds[key]
	if !ok {
		return errors.New("credential not found")
	}
	cred.AccessToken = accessToken
	cred.RefreshToken = refreshToken
	cred.TokenExpiresAt = expiresAt
	s.creds[key] = cred
	return nil
}

func (s *fakeCredentialStore) AdvanceCheckpoint(_ context.Context, userID string, provider model.Provider, syncedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := credKey(userID, provider)
	cred, ok := s.creds[key]
	if !ok {
		return errors.New("credential not found")
	}
	cred.LastSyncAt = &syncedAt
	s.creds[key] = cred
	return nil
}

func (s *fakeCredentialStore) ListByProvider(_ context.Context, provider model.Provider) ([]model.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []model.Credential
	for _, cred := range s.creds {
		if cred.Provider == provider {
			out = append(out, cred)
		}
	}
	return out, nil
}

func (s *fakeCredentialStore) Delete(_ context.Context, userID string, provider model.Provider) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.creds, credKey(userID, provider))
	return nil
}

func (s *fakeCredentialStore) checkpoint(userID string, provider model.Provider) *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.creds[credKey(userID, provider)]
	if !ok {
		return nil
	}
	return cred.LastSyncAt
}

// fakeActivityStore records upserts and can fail selected external IDs.
type fakeActivityStore struct {
	mu       sync.Mutex
	upserted []model.Activity
	failIDs  map[string]bool
}

func (s *fakeActivityStore) Upsert(_ context.Context, a model.Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failIDs[a.ExternalID] {
		return errors.New("constraint violation")
	}
	s.upserted = append(s.upserted, a)
	return nil
}

func (s *fakeActivityStore) ListByUser(_ context.Context, userID string) ([]model.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Activity
	for _, a := range s.upserted {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

// fakeMetricStore records merges.
type fakeMetricStore struct {
	mu     sync.Mutex
	merged []model.RecoveryMetric
}

func (s *fakeMetricStore) Merge(_ context.Context, m model.RecoveryMetric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.merged = append(s.merged, m)
	return nil
}

func (s *fakeMetricStore) GetByDate(_ context.Context, _ string, _ time.Time) (*model.RecoveryMetric, error) {
	return nil, nil
}

func (s *fakeMetricStore) ListByUser(_ context.Context, _ string) ([]model.RecoveryMetric, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.merged, nil
}

// fakeWorkoutClient scripts the workout provider.
type fakeWorkoutClient struct {
	mu sync.Mutex

	activities []model.Activity
	fetchErr   error
	fetchCalls int
	lastToken  string
	lastAfter  time.Time

	grant        driven.TokenGrant
	refreshErr   error
	refreshCalls int
}

func (c *fakeWorkoutClient) FetchActivities(_ context.Context, accessToken string, after time.Time) ([]model.Activity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetchCalls++
	c.lastToken = accessToken
	c.lastAfter = after
	if c.fetchErr != nil {
		return nil, c.fetchErr
	}
	return c.activities, nil
}

func (c *fakeWorkoutClient) RefreshToken(_ context.Context, _ string) (driven.TokenGrant, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshCalls++
	if c.refreshErr != nil {
		return driven.TokenGrant{}, c.refreshErr
	}
	return c.grant, nil
}

// fakeRecoveryClient scripts the recovery provider's three feeds.
type fakeRecoveryClient struct {
	mu sync.Mutex

	workouts    []model.Activity
	workoutErr  error
	recovery    []model.RecoveryMetric
	recoveryErr error
	sleep       []model.RecoveryMetric
	sleepErr    error
	lastToken   string
	lastStart   time.Time

	grant        driven.TokenGrant
	refreshErr   error
	refreshCalls int
}

func (c *fakeRecoveryClient) FetchWorkouts(_ context.Context, accessToken string, start time.Time) ([]model.Activity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastToken = accessToken
	c.lastStart = start
	if c.workoutErr != nil {
		return nil, c.workoutErr
	}
	return c.workouts, nil
}

func (c *fakeRecoveryClient) FetchRecovery(_ context.Context, accessToken string, _ time.Time) ([]model.RecoveryMetric, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastToken = accessToken
	if c.recoveryErr != nil {
		return nil, c.recoveryErr
	}
	return c.recovery, nil
}

func (c *fakeRecoveryClient) FetchSleep(_ context.Context, accessToken string, _ time.Time) ([]model.RecoveryMetric, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastToken = accessToken
	if c.sleepErr != nil {
		return nil, c.sleepErr
	}
	return c.sleep, nil
}

func (c *fakeRecoveryClient) RefreshToken(_ context.Context, _ string) (driven.TokenGrant, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshCalls++
	if c.refreshErr != nil {
		return driven.TokenGrant{}, c.refreshErr
	}
	return c.grant, nil
}
