package httphandler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jlowell/healthdeck/internal/domain/model"
)

// fakeCredentialStore is an in-memory CredentialStore keyed by user/provider.
type fakeCredentialStore struct {
	creds   map[string]model.Credential
	getErr  error
	deleted []string
}

func newFakeCredentialStore() *fakeCredentialStore {
	return &fakeCredentialStore{creds: make(map[string]model.Credential)}
}

func credKey(userID string, provider model.Provider) string {
	return userID + "/" + string(provider)
}

func (s *fakeCredentialStore) Upsert(_ context.Context, cred model.Credential) error {
	s.creds[credKey(cred.UserID, cred.Provider)] = cred
	return nil
}

func (s *fakeCredentialStore) Get(_ context.Context, userID string, provider model.Provider) (*model.Credential, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	cred, ok := s.creds[credKey(userID, provider)]
	if !ok {
		return nil, nil
	}
	return &cred, nil
}

func (s *fakeCredentialStore) GetByExternalSubject(_ context.Context, provider model.Provider, subjectID string) (*model.Credential, error) {
	for _, cred := range s.creds {
		if cred.Provider == provider && cred.ExternalSubjectID == subjectID {
			c := cred
			return &c, nil
		}
	}
	return nil, nil
}

func (s *fakeCredentialStore) UpdateTokens(_ context.Context, userID string, provider model.Provider, accessToken, refreshToken string, expiresAt time.Time) error {
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
	var out []model.Credential
	for _, cred := range s.creds {
		if cred.Provider == provider {
			out = append(out, cred)
		}
	}
	return out, nil
}

func (s *fakeCredentialStore) Delete(_ context.Context, userID string, provider model.Provider) error {
	key := credKey(userID, provider)
	delete(s.creds, key)
	s.deleted = append(s.deleted, key)
	return nil
}

// fakeActivityStore is an in-memory ActivityStore.
type fakeActivityStore struct {
	activities map[string][]model.Activity
	listErr    error
}

func (s *fakeActivityStore) Upsert(_ context.Context, a model.Activity) error {
	if s.activities == nil {
		s.activities = make(map[string][]model.Activity)
	}
	s.activities[a.UserID] = append(s.activities[a.UserID], a)
	return nil
}

func (s *fakeActivityStore) ListByUser(_ context.Context, userID string) ([]model.Activity, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.activities[userID], nil
}

// fakeMetricStore is an in-memory RecoveryMetricStore.
type fakeMetricStore struct {
	metrics map[string][]model.RecoveryMetric
}

func (s *fakeMetricStore) Merge(_ context.Context, m model.RecoveryMetric) error {
	if s.metrics == nil {
		s.metrics = make(map[string][]model.RecoveryMetric)
	}
	s.metrics[m.UserID] = append(s.metrics[m.UserID], m)
	return nil
}

func (s *fakeMetricStore) GetByDate(_ context.Context, userID string, date time.Time) (*model.RecoveryMetric, error) {
	for _, m := range s.metrics[userID] {
		if m.Date.Equal(date) {
			return &m, nil
		}
	}
	return nil, nil
}

func (s *fakeMetricStore) ListByUser(_ context.Context, userID string) ([]model.RecoveryMetric, error) {
	return s.metrics[userID], nil
}

// fakeDispatcher records Enqueue calls.
type fakeDispatcher struct {
	enqueued []string
	accept   bool
}

func (d *fakeDispatcher) Enqueue(userID string, provider model.Provider, trigger string) bool {
	d.enqueued = append(d.enqueued, userID+"/"+string(provider)+"/"+trigger)
	return d.accept
}

type handlerFixture struct {
	creds      *fakeCredentialStore
	activities *fakeActivityStore
	metrics    *fakeMetricStore
	dispatcher *fakeDispatcher
	server     http.Handler
}

func newFixture(t *testing.T) *handlerFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	f := &handlerFixture{
		creds:      newFakeCredentialStore(),
		activities: &fakeActivityStore{},
		metrics:    &fakeMetricStore{},
		dispatcher: &fakeDispatcher{accept: true},
	}
	h := NewHandler(f.creds, f.activities, f.metrics, f.dispatcher, logger)
	f.server = NewServeMux(h, logger)
	return f
}

func (f *handlerFixture) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

func connectedCred(userID string, provider model.Provider, subjectID string) model.Credential {
	lastSync := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
	return model.Credential{
		UserID:            userID,
		Provider:          provider,
		AccessToken:       "access",
		RefreshToken:      "refresh",
		TokenExpiresAt:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		LastSyncAt:        &lastSync,
		ExternalSubjectID: subjectID,
	}
}

func TestListActivities(t *testing.T) {
	f := newFixture(t)
	distance := 5.2
	f.activities.activities = map[string][]model.Activity{
		"alice": {{
			UserID:     "alice",
			Provider:   model.ProviderWorkout,
			ExternalID: "42",
			OccurredAt: time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC),
			Kind:       "Run",
			Duration:   30 * time.Minute,
			DistanceKM: &distance,
		}},
	}

	rec := f.do(t, http.MethodGet, "/api/v1/activities?user_id=alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp []ActivityResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	assert.Equal(t, "workout", resp[0].Provider)
	assert.Equal(t, "42", resp[0].ExternalID)
	assert.Equal(t, "2026-03-01T07:00:00Z", resp[0].OccurredAt)
	assert.Equal(t, 1800.0, resp[0].DurationSeconds)
	require.NotNil(t, resp[0].DistanceKM)
	assert.Equal(t, 5.2, *resp[0].DistanceKM)
	assert.Nil(t, resp[0].AvgCadence)
}

func TestListActivitiesRequiresUserID(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/v1/activities", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListActivitiesEmptyIsArray(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/v1/activities?user_id=nobody", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestListMetrics(t *testing.T) {
	f := newFixture(t)
	score := 81.0
	sleep := 7*time.Hour + 30*time.Minute
	f.metrics.metrics = map[string][]model.RecoveryMetric{
		"alice": {{
			UserID:        "alice",
			Date:          time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
			RecoveryScore: &score,
			SleepDuration: &sleep,
		}},
	}

	rec := f.do(t, http.MethodGet, "/api/v1/metrics?user_id=alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp []MetricResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	assert.Equal(t, "2026-03-01", resp[0].Date)
	require.NotNil(t, resp[0].RecoveryScore)
	assert.Equal(t, 81.0, *resp[0].RecoveryScore)
	require.NotNil(t, resp[0].SleepSeconds)
	assert.Equal(t, 27000.0, *resp[0].SleepSeconds)
	assert.Nil(t, resp[0].HRV)
}

func TestListIntegrations(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.creds.Upsert(context.Background(),
		connectedCred("alice", model.ProviderWorkout, "sub-1")))

	rec := f.do(t, http.MethodGet, "/api/v1/integrations?user_id=alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp []IntegrationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 2)

	byProvider := make(map[string]IntegrationResponse)
	for _, ir := range resp {
		byProvider[ir.Provider] = ir
	}

	workout := byProvider["workout"]
	assert.True(t, workout.Connected)
	require.NotNil(t, workout.LastSyncAt)
	assert.Equal(t, "2026-03-01T06:00:00Z", *workout.LastSyncAt)
	require.NotNil(t, workout.TokenExpiresAt)

	recovery := byProvider["recovery"]
	assert.False(t, recovery.Connected)
	assert.Nil(t, recovery.LastSyncAt)
}

func TestTriggerSyncQueuesConnectedProviders(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.creds.Upsert(context.Background(),
		connectedCred("alice", model.ProviderWorkout, "sub-1")))
	require.NoError(t, f.creds.Upsert(context.Background(),
		connectedCred("alice", model.ProviderRecovery, "sub-2")))

	rec := f.do(t, http.MethodPost, "/api/v1/sync", map[string]string{"user_id": "alice"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp SyncAcceptedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.ElementsMatch(t, []string{"workout", "recovery"}, resp.Queued)
	assert.ElementsMatch(t, []string{
		"alice/workout/manual",
		"alice/recovery/manual",
	}, f.dispatcher.enqueued)
}

func TestTriggerSyncSingleProvider(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.creds.Upsert(context.Background(),
		connectedCred("alice", model.ProviderWorkout, "sub-1")))

	rec := f.do(t, http.MethodPost, "/api/v1/sync",
		map[string]string{"user_id": "alice", "provider": "workout"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"alice/workout/manual"}, f.dispatcher.enqueued)
}

func TestTriggerSyncNotConnected(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/sync",
		map[string]string{"user_id": "alice", "provider": "workout"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, f.dispatcher.enqueued)
}

func TestTriggerSyncUnknownProvider(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/sync",
		map[string]string{"user_id": "alice", "provider": "stepcounter"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTriggerSyncRequiresUserID(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/sync", map[string]string{"provider": "workout"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDisconnectIntegration(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.creds.Upsert(context.Background(),
		connectedCred("alice", model.ProviderWorkout, "sub-1")))

	rec := f.do(t, http.MethodDelete, "/api/v1/integrations/workout?user_id=alice", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"alice/workout"}, f.creds.deleted)
}

func TestDisconnectUnknownProvider(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodDelete, "/api/v1/integrations/stepcounter?user_id=alice", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestStoreErrorIsInternal(t *testing.T) {
	f := newFixture(t)
	f.activities.listErr = errors.New("disk on fire")

	rec := f.do(t, http.MethodGet, "/api/v1/activities?user_id=alice", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "disk on fire")
}
