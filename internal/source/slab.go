package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/doratrack/doratrack/internal/domain"
	apperrors "github.com/doratrack/doratrack/internal/errors"
)

const slabBaseURL = "https://api.slab.com/v1"

// Slab fetches postmortem documents from Slab and exposes them as
// incidents. Severity is parsed from document titles; resolution time is
// approximated as the span between creation and the last update. It
// implements IncidentSource.
type Slab struct {
	apiToken string
	teamID   string
	baseURL  string

	changeRelatedDefault bool

	httpClient  *http.Client
	rateLimiter RateLimiter
}

// NewSlab creates a Slab source. Token and team id are required.
func NewSlab(apiToken, teamID string, changeRelatedDefault bool, delay time.Duration) (*Slab, error) {
	if apiToken == "" || teamID == "" {
		return nil, apperrors.NewConfigurationError("SLAB_API_TOKEN and SLAB_TEAM_ID are required")
	}

	return &Slab{
		apiToken:             apiToken,
		teamID:               teamID,
		baseURL:              slabBaseURL,
		changeRelatedDefault: changeRelatedDefault,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		rateLimiter: NewRateLimiter(delay),
	}, nil
}

// SetBaseURL overrides the API base URL. Used in tests.
func (c *Slab) SetBaseURL(baseURL string) {
	c.baseURL = baseURL
}

// Name returns the source name
func (c *Slab) Name() string {
	return "slab"
}

type slabPostList struct {
	Data []struct {
		ID        string    `json:"id"`
		Title     string    `json:"title"`
		CreatedAt time.Time `json:"createdAt"`
		UpdatedAt time.Time `json:"updatedAt"`
	} `json:"data"`
}

// FetchIncidents retrieves postmortem documents overlapping the period.
// A document qualifies when its title mentions a postmortem and its
// lifetime overlaps the period window.
func (c *Slab) FetchIncidents(ctx context.Context, period domain.Period) (IncidentBatch, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return IncidentBatch{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/teams/"+c.teamID+"/posts", nil)
	if err != nil {
		return IncidentBatch{}, apperrors.NewUpstreamBatchError(c.Name(), err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return IncidentBatch{}, apperrors.NewUpstreamBatchError(c.Name(), fmt.Errorf("failed to list posts: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return IncidentBatch{}, apperrors.NewUpstreamBatchError(c.Name(), fmt.Errorf("slab returned %d: %s", resp.StatusCode, string(body)))
	}

	var posts slabPostList
	if err := json.NewDecoder(resp.Body).Decode(&posts); err != nil {
		return IncidentBatch{}, apperrors.NewUpstreamBatchError(c.Name(), fmt.Errorf("failed to decode posts response: %w", err))
	}

	var batch IncidentBatch
	for _, post := range posts.Data {
		title := strings.ToLower(post.Title)
		if !strings.Contains(title, "postmortem") && !strings.Contains(title, "post-mortem") {
			continue
		}
		if post.UpdatedAt.Before(period.Start) || post.CreatedAt.After(period.End) {
			continue
		}

		resolvedAt := post.UpdatedAt
		hours := post.UpdatedAt.Sub(post.CreatedAt).Hours()

		batch.Events = append(batch.Events, domain.IncidentEvent{
			ID:                 post.ID,
			Name:               post.Title,
			Status:             "resolved",
			Severity:           mapIncidentSeverity(title),
			CreatedAt:          post.CreatedAt,
			ResolvedAt:         &resolvedAt,
			TimeToResolveHours: &hours,
			ChangeRelated:      c.changeRelatedDefault,
			UserImpacting:      true,
		})
	}

	return batch, nil
}
