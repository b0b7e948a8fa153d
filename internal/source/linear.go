package source

import (
	"bytes"
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

const linearBaseURL = "https://api.linear.app/graphql"

// Incident labels recognized on Linear issues. An issue qualifies as an
// incident when any of its labels matches.
var linearIncidentLabels = map[string]bool{
	"bug":      true,
	"incident": true,
	"outage":   true,
	"hotfix":   true,
	"p0":       true,
	"sev0":     true,
	"sev1":     true,
}

// Linear fetches incident-labeled issues from the Linear GraphQL API.
// It implements IncidentSource.
type Linear struct {
	apiKey  string
	baseURL string

	changeRelatedDefault bool

	httpClient  *http.Client
	rateLimiter RateLimiter
}

// NewLinear creates a Linear source. The API key is required.
func NewLinear(apiKey string, changeRelatedDefault bool, delay time.Duration) (*Linear, error) {
	if apiKey == "" {
		return nil, apperrors.NewConfigurationError("LINEAR_API_KEY is required")
	}

	return &Linear{
		apiKey:               apiKey,
		baseURL:              linearBaseURL,
		changeRelatedDefault: changeRelatedDefault,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		rateLimiter: NewRateLimiter(delay),
	}, nil
}

// SetBaseURL overrides the API base URL. Used in tests.
func (c *Linear) SetBaseURL(baseURL string) {
	c.baseURL = baseURL
}

// Name returns the source name
func (c *Linear) Name() string {
	return "linear"
}

const linearIssuesQuery = `
query CompletedIssues($after: DateTime!, $before: DateTime!, $cursor: String) {
    issues(
        filter: { completedAt: { gte: $after, lte: $before } }
        first: 100
        after: $cursor
    ) {
        nodes {
            id
            identifier
            title
            createdAt
            completedAt
            startedAt
            state { name }
            labels { nodes { name } }
        }
        pageInfo {
            hasNextPage
            endCursor
        }
    }
}`

type linearIssuePage struct {
	Data struct {
		Issues struct {
			Nodes []struct {
				ID          string     `json:"id"`
				Identifier  string     `json:"identifier"`
				Title       string     `json:"title"`
				CreatedAt   time.Time  `json:"createdAt"`
				CompletedAt *time.Time `json:"completedAt"`
				StartedAt   *time.Time `json:"startedAt"`
				State       struct {
					Name string `json:"name"`
				} `json:"state"`
				Labels struct {
					Nodes []struct {
						Name string `json:"name"`
					} `json:"nodes"`
				} `json:"labels"`
			} `json:"nodes"`
			PageInfo struct {
				HasNextPage bool   `json:"hasNextPage"`
				EndCursor   string `json:"endCursor"`
			} `json:"pageInfo"`
		} `json:"issues"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// FetchIncidents retrieves issues completed within the period that carry an
// incident label. Pagination continues while the response reports more
// pages.
func (c *Linear) FetchIncidents(ctx context.Context, period domain.Period) (IncidentBatch, error) {
	var batch IncidentBatch
	cursor := ""

	for {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return IncidentBatch{}, err
		}

		page, err := c.queryIssues(ctx, period, cursor)
		if err != nil {
			return IncidentBatch{}, apperrors.NewUpstreamBatchError(c.Name(), err)
		}

		for _, node := range page.Data.Issues.Nodes {
			var labels []string
			for _, l := range node.Labels.Nodes {
				labels = append(labels, l.Name)
			}
			if !hasIncidentLabel(labels) {
				continue
			}

			event := domain.IncidentEvent{
				ID:            node.ID,
				Name:          node.Identifier + ": " + node.Title,
				Status:        node.State.Name,
				Severity:      severityFromLabels(labels),
				CreatedAt:     node.CreatedAt,
				ResolvedAt:    node.CompletedAt,
				ChangeRelated: c.changeRelatedDefault,
				UserImpacting: true,
			}
			if node.StartedAt != nil && node.CompletedAt != nil {
				hours := node.CompletedAt.Sub(*node.StartedAt).Hours()
				event.TimeToResolveHours = &hours
			}
			batch.Events = append(batch.Events, event)
		}

		if !page.Data.Issues.PageInfo.HasNextPage {
			break
		}
		cursor = page.Data.Issues.PageInfo.EndCursor
	}

	return batch, nil
}

// queryIssues executes one page of the completed-issues query
func (c *Linear) queryIssues(ctx context.Context, period domain.Period, cursor string) (*linearIssuePage, error) {
	variables := map[string]interface{}{
		"after":  period.Start.Format(time.RFC3339),
		"before": period.End.Format(time.RFC3339),
	}
	if cursor != "" {
		variables["cursor"] = cursor
	}

	payload, err := json.Marshal(map[string]interface{}{
		"query":     linearIssuesQuery,
		"variables": variables,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query issues: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("linear returned %d: %s", resp.StatusCode, string(body))
	}

	var page linearIssuePage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("failed to decode issues response: %w", err)
	}
	if len(page.Errors) > 0 {
		return nil, fmt.Errorf("linear query error: %s", page.Errors[0].Message)
	}
	return &page, nil
}

func hasIncidentLabel(labels []string) bool {
	for _, label := range labels {
		if linearIncidentLabels[strings.ToLower(label)] {
			return true
		}
	}
	return false
}

// severityFromLabels derives severity from incident labels
func severityFromLabels(labels []string) domain.Severity {
	for _, label := range labels {
		switch strings.ToLower(label) {
		case "p0", "sev0", "outage":
			return domain.SeverityCritical
		case "sev1":
			return domain.SeverityMajor
		}
	}
	return domain.SeverityMinor
}
