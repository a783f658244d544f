// Package recoveryapi implements the RecoveryClient port against the
// recovery-tracking provider's REST API.
package recoveryapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gregjones/httpcache"

	"github.com/jlowell/healthdeck/internal/domain/model"
	"github.com/jlowell/healthdeck/internal/domain/port/driven"
)

// pageLimit is the provider's collection page size.
const pageLimit = 25

var _ driven.RecoveryClient = (*Client)(nil)

// Client talks to the recovery provider. All collection endpoints share the
// same envelope: a records array plus a next_token cursor.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	tokenURL     string
	clientID     string
	clientSecret string
	now          func() time.Time
}

// NewClient creates a recovery provider client.
func NewClient(clientID, clientSecret, baseURL, tokenURL string) *Client {
	return &Client{
		httpClient: &http.Client{
			Transport: httpcache.NewMemoryCacheTransport(),
			Timeout:   30 * time.Second,
		},
		baseURL:      strings.TrimRight(baseURL, "/"),
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		now:          time.Now,
	}
}

type workoutRecord struct {
	ID    string `json:"id"`
	Start string `json:"start"`
	End   string `json:"end"`
	Sport struct {
		Name string `json:"name"`
	} `json:"sport"`
	DistanceMeter *float64 `json:"distance_meter"`
	Calories      *float64 `json:"calories"`
}

type recoveryRecord struct {
	CycleID   int64  `json:"cycle_id"`
	CreatedAt string `json:"created_at"`
	Score     *struct {
		RestingHeartRate *int     `json:"resting_heart_rate"`
		HRVRMSSDMilli    *float64 `json:"hrv_rmssd_milli"`
		RecoveryScore    *float64 `json:"recovery_score"`
	} `json:"score"`
}

type sleepRecord struct {
	ID    string `json:"id"`
	Start string `json:"start"`
	End   string `json:"end"`
	Score *struct {
		StageSummary struct {
			LightMilli    int64 `json:"total_light_sleep_time_milli"`
			SlowWaveMilli int64 `json:"total_slow_wave_sleep_time_milli"`
			REMMilli      int64 `json:"total_rem_sleep_time_milli"`
		} `json:"stage_summary"`
	} `json:"score"`
}

// FetchWorkouts returns workout activities started at or after start. A zero
// start fetches full available history.
func (c *Client) FetchWorkouts(ctx context.Context, accessToken string, start time.Time) ([]model.Activity, error) {
	records, err := fetchAll[workoutRecord](ctx, c, accessToken, "/v1/activity/workout", start)
	if err != nil {
		return nil, err
	}

	activities := make([]model.Activity, 0, len(records))
	for _, r := range records {
		a, err := normalizeWorkout(r)
		if err != nil {
			slog.Error("skipping malformed workout record", "record_id", r.ID, "error", err)
			continue
		}
		activities = append(activities, a)
	}
	return activities, nil
}

// FetchRecovery returns daily recovery scores keyed by the day the cycle's
// score was produced. Unscored cycles are skipped.
func (c *Client) FetchRecovery(ctx context.Context, accessToken string, start time.Time) ([]model.RecoveryMetric, error) {
	records, err := fetchAll[recoveryRecord](ctx, c, accessToken, "/v1/recovery", start)
	if err != nil {
		return nil, err
	}

	metrics := make([]model.RecoveryMetric, 0, len(records))
	for _, r := range records {
		if r.Score == nil {
			slog.Warn("skipping unscored recovery cycle", "cycle_id", r.CycleID)
			continue
		}
		createdAt, err := time.Parse(time.RFC3339, r.CreatedAt)
		if err != nil {
			slog.Error("skipping malformed recovery record", "cycle_id", r.CycleID, "error", err)
			continue
		}
		metrics = append(metrics, model.RecoveryMetric{
			Date:             dateOf(createdAt),
			RestingHeartRate: r.Score.RestingHeartRate,
			HRV:              r.Score.HRVRMSSDMilli,
			RecoveryScore:    r.Score.RecoveryScore,
		})
	}
	return metrics, nil
}

// FetchSleep returns sleep-duration metrics, one per sleep, dated by the day
// the sleep ended. Duration sums the light, slow-wave, and REM stage totals.
func (c *Client) FetchSleep(ctx context.Context, accessToken string, start time.Time) ([]model.RecoveryMetric, error) {
	records, err := fetchAll[sleepRecord](ctx, c, accessToken, "/v1/activity/sleep", start)
	if err != nil {
		return nil, err
	}

	metrics := make([]model.RecoveryMetric, 0, len(records))
	for _, r := range records {
		if r.Score == nil {
			slog.Warn("skipping unscored sleep", "sleep_id", r.ID)
			continue
		}
		end, err := time.Parse(time.RFC3339, r.End)
		if err != nil {
			slog.Error("skipping malformed sleep record", "sleep_id", r.ID, "error", err)
			continue
		}
		totalMilli := r.Score.StageSummary.LightMilli +
			r.Score.StageSummary.SlowWaveMilli +
			r.Score.StageSummary.REMMilli
		duration := time.Duration(totalMilli) * time.Millisecond
		metrics = append(metrics, model.RecoveryMetric{
			Date:          dateOf(end),
			SleepDuration: &duration,
		})
	}
	return metrics, nil
}

// collectionPage is the envelope shared by every collection endpoint.
type collectionPage[T any] struct {
	Records   []T    `json:"records"`
	NextToken string `json:"next_token"`
}

// fetchAll walks a paginated collection endpoint, following next_token
// cursors until the provider stops returning one.
func fetchAll[T any](ctx context.Context, c *Client, accessToken, path string, start time.Time) ([]T, error) {
	var all []T
	nextToken := ""

	for {
		params := url.Values{}
		params.Set("limit", strconv.Itoa(pageLimit))
		if !start.IsZero() {
			params.Set("start", start.UTC().Format(time.RFC3339))
		}
		if nextToken != "" {
			params.Set("nextToken", nextToken)
		}

		body, err := c.get(ctx, accessToken, c.baseURL+path+"?"+params.Encode())
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", path, err)
		}

		var page collectionPage[T]
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("decode %s page: %w", path, err)
		}

		all = append(all, page.Records...)
		if page.NextToken == "" {
			return all, nil
		}
		nextToken = page.NextToken
	}
}

// get performs an authorized GET and returns the response body. 5xx and
// transport failures are wrapped as TransientError so callers can retry.
func (c *Client) get(ctx context.Context, accessToken, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &driven.TransientError{Provider: model.ProviderRecovery, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &driven.TransientError{Provider: model.ProviderRecovery, Err: err}
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, &driven.TransientError{
			Provider: model.ProviderRecovery,
			Err:      fmt.Errorf("status %d: %s", resp.StatusCode, truncate(body)),
		}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(body))
	}

	return body, nil
}

// RefreshToken exchanges a refresh token for a new grant. The provider
// reports a relative expires_in, converted here to an absolute expiry.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (driven.TokenGrant, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return driven.TokenGrant{}, &driven.TokenRefreshError{Provider: model.ProviderRecovery, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return driven.TokenGrant{}, &driven.TokenRefreshError{Provider: model.ProviderRecovery, Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return driven.TokenGrant{}, &driven.TokenRefreshError{
			Provider:   model.ProviderRecovery,
			StatusCode: resp.StatusCode,
			Body:       truncate(body),
		}
	}

	var payload struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return driven.TokenGrant{}, &driven.TokenRefreshError{
			Provider: model.ProviderRecovery,
			Err:      fmt.Errorf("decode token response: %w", err),
		}
	}
	if payload.AccessToken == "" || payload.RefreshToken == "" {
		return driven.TokenGrant{}, &driven.TokenRefreshError{
			Provider: model.ProviderRecovery,
			Err:      fmt.Errorf("token response missing fields: %s", truncate(body)),
		}
	}

	return driven.TokenGrant{
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
		ExpiresAt:    c.now().Add(time.Duration(payload.ExpiresIn) * time.Second).UTC(),
	}, nil
}

// normalizeWorkout maps a workout record into the domain schema.
func normalizeWorkout(r workoutRecord) (model.Activity, error) {
	start, err := time.Parse(time.RFC3339, r.Start)
	if err != nil {
		return model.Activity{}, fmt.Errorf("parse start %q: %w", r.Start, err)
	}
	end, err := time.Parse(time.RFC3339, r.End)
	if err != nil {
		return model.Activity{}, fmt.Errorf("parse end %q: %w", r.End, err)
	}

	kind := r.Sport.Name
	if kind == "" {
		kind = "Workout"
	}

	var distanceKM *float64
	if r.DistanceMeter != nil {
		km := *r.DistanceMeter / 1000
		distanceKM = &km
	}

	return model.Activity{
		Provider:   model.ProviderRecovery,
		ExternalID: r.ID,
		OccurredAt: start.UTC(),
		Kind:       kind,
		Duration:   end.Sub(start),
		DistanceKM: distanceKM,
		Calories:   r.Calories,
	}, nil
}

func truncate(body []byte) string {
	const max = 200
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}

func dateOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
