// Package workoutapi implements the WorkoutClient port against the
// workout-tracking provider's REST API.
package workoutapi

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

// perPage is the provider's maximum list page size.
const perPage = 100

// Compile-time interface satisfaction check.
var _ driven.WorkoutClient = (*Client)(nil)

// Client talks to the workout provider. Requests go through an in-memory
// caching transport so repeated detail lookups for unchanged activities are
// served from conditional-request cache hits.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	tokenURL     string
	clientID     string
	clientSecret string
}

// NewClient creates a workout provider client. baseURL is the API root
// (list and detail endpoints hang off it); tokenURL is the OAuth token
// endpoint used for refresh-token exchanges.
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
	}
}

// activityPayload is the provider's wire shape for both the list and detail
// endpoints. Older response versions report heart rate under
// average_heart_rate instead of average_heartrate; both resolve to the same
// domain field.
type activityPayload struct {
	ID              int64    `json:"id"`
	StartDate       string   `json:"start_date"`
	Type            string   `json:"type"`
	MovingTime      int64    `json:"moving_time"`
	Distance        *float64 `json:"distance"` // meters
	Calories        *float64 `json:"calories"`
	AvgHeartRate    *float64 `json:"average_heartrate"`
	AvgHeartRateAlt *float64 `json:"average_heart_rate"`
	AvgCadence      *float64 `json:"average_cadence"`
}

// FetchActivities returns every activity after the given time, paginating
// the list endpoint and enriching each record with a per-activity detail
// call. A zero after fetches full available history. A failed detail lookup
// degrades that record to its summary fields; a malformed record is skipped.
// Neither aborts the batch.
func (c *Client) FetchActivities(ctx context.Context, accessToken string, after time.Time) ([]model.Activity, error) {
	activities := []model.Activity{}

	for page := 1; ; page++ {
		batch, err := c.fetchPage(ctx, accessToken, after, page)
		if err != nil {
			return nil, err
		}

		for _, summary := range batch {
			payload := summary
			if detail, err := c.fetchDetail(ctx, accessToken, summary.ID); err != nil {
				slog.Warn("activity detail fetch failed, keeping summary fields",
					"activity_id", summary.ID, "error", err)
			} else {
				mergeDetail(&payload, detail)
			}

			activity, err := normalize(payload)
			if err != nil {
				slog.Error("skipping malformed activity", "activity_id", summary.ID, "error", err)
				continue
			}
			activities = append(activities, activity)
		}

		if len(batch) < perPage {
			break
		}
	}

	return activities, nil
}

// fetchPage retrieves one page of activity summaries.
func (c *Client) fetchPage(ctx context.Context, accessToken string, after time.Time, page int) ([]activityPayload, error) {
	params := url.Values{}
	params.Set("per_page", strconv.Itoa(perPage))
	params.Set("page", strconv.Itoa(page))
	if !after.IsZero() {
		params.Set("after", strconv.FormatInt(after.Unix(), 10))
	}

	endpoint := fmt.Sprintf("%s/activities?%s", c.baseURL, params.Encode())

	body, err := c.get(ctx, accessToken, endpoint)
	if err != nil {
		return nil, fmt.Errorf("list activities (page %d): %w", page, err)
	}

	var batch []activityPayload
	if err := json.Unmarshal(body, &batch); err != nil {
		return nil, fmt.Errorf("decode activity list (page %d): %w", page, err)
	}

	return batch, nil
}

// fetchDetail retrieves the detail record for one activity.
func (c *Client) fetchDetail(ctx context.Context, accessToken string, id int64) (*activityPayload, error) {
	endpoint := fmt.Sprintf("%s/activities/%d", c.baseURL, id)

	body, err := c.get(ctx, accessToken, endpoint)
	if err != nil {
		return nil, err
	}

	var detail activityPayload
	if err := json.Unmarshal(body, &detail); err != nil {
		return nil, fmt.Errorf("decode activity detail: %w", err)
	}

	return &detail, nil
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
		return nil, &driven.TransientError{Provider: model.ProviderWorkout, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &driven.TransientError{Provider: model.ProviderWorkout, Err: err}
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, &driven.TransientError{
			Provider: model.ProviderWorkout,
			Err:      fmt.Errorf("status %d: %s", resp.StatusCode, truncate(body)),
		}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(body))
	}

	return body, nil
}

// RefreshToken exchanges a refresh token for a new grant. The provider
// returns an absolute expires_at epoch timestamp.
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
		return driven.TokenGrant{}, &driven.TokenRefreshError{Provider: model.ProviderWorkout, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return driven.TokenGrant{}, &driven.TokenRefreshError{Provider: model.ProviderWorkout, Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return driven.TokenGrant{}, &driven.TokenRefreshError{
			Provider:   model.ProviderWorkout,
			StatusCode: resp.StatusCode,
			Body:       truncate(body),
		}
	}

	var payload struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresAt    int64  `json:"expires_at"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return driven.TokenGrant{}, &driven.TokenRefreshError{
			Provider: model.ProviderWorkout,
			Err:      fmt.Errorf("decode token response: %w", err),
		}
	}
	if payload.AccessToken == "" || payload.RefreshToken == "" {
		return driven.TokenGrant{}, &driven.TokenRefreshError{
			Provider: model.ProviderWorkout,
			Err:      fmt.Errorf("token response missing fields: %s", truncate(body)),
		}
	}

	return driven.TokenGrant{
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
		ExpiresAt:    time.Unix(payload.ExpiresAt, 0).UTC(),
	}, nil
}

// mergeDetail overlays detail fields onto the summary. Detail values win
// where present; absent detail fields keep the summary's values.
func mergeDetail(summary *activityPayload, detail *activityPayload) {
	if detail.Type != "" {
		summary.Type = detail.Type
	}
	if detail.MovingTime != 0 {
		summary.MovingTime = detail.MovingTime
	}
	if detail.Distance != nil {
		summary.Distance = detail.Distance
	}
	if detail.Calories != nil {
		summary.Calories = detail.Calories
	}
	if detail.AvgHeartRate != nil {
		summary.AvgHeartRate = detail.AvgHeartRate
	}
	if detail.AvgHeartRateAlt != nil {
		summary.AvgHeartRateAlt = detail.AvgHeartRateAlt
	}
	if detail.AvgCadence != nil {
		summary.AvgCadence = detail.AvgCadence
	}
}

// normalize maps the wire payload into the domain schema. Absent measurements
// stay nil, never zero.
func normalize(p activityPayload) (model.Activity, error) {
	occurredAt, err := time.Parse(time.RFC3339, p.StartDate)
	if err != nil {
		return model.Activity{}, fmt.Errorf("parse start_date %q: %w", p.StartDate, err)
	}

	heartRate := p.AvgHeartRate
	if heartRate == nil {
		heartRate = p.AvgHeartRateAlt
	}

	var distanceKM *float64
	if p.Distance != nil {
		km := *p.Distance / 1000
		distanceKM = &km
	}

	return model.Activity{
		Provider:     model.ProviderWorkout,
		ExternalID:   strconv.FormatInt(p.ID, 10),
		OccurredAt:   occurredAt.UTC(),
		Kind:         p.Type,
		Duration:     time.Duration(p.MovingTime) * time.Second,
		DistanceKM:   distanceKM,
		Calories:     p.Calories,
		AvgHeartRate: heartRate,
		AvgCadence:   p.AvgCadence,
	}, nil
}

func truncate(body []byte) string {
	const max = 200
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
