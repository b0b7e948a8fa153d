package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doratrack/doratrack/internal/domain"
	apperrors "github.com/doratrack/doratrack/internal/errors"
)

const incidentIOBaseURL = "https://api.incident.io"

// IncidentIO fetches incidents from the incident.io v2 API. It implements
// IncidentSource.
type IncidentIO struct {
	apiKey  string
	baseURL string

	// changeRelatedDefault is applied when an incident carries no explicit
	// change-related classification. Domain policy, configured rather than
	// hardcoded.
	changeRelatedDefault bool

	httpClient  *http.Client
	rateLimiter RateLimiter
}

// NewIncidentIO creates an incident.io source. The API key is required.
func NewIncidentIO(apiKey string, changeRelatedDefault bool, delay time.Duration) (*IncidentIO, error) {
	if apiKey == "" {
		return nil, apperrors.NewConfigurationError("INCIDENT_IO_API_KEY is required")
	}

	return &IncidentIO{
		apiKey:               apiKey,
		baseURL:              incidentIOBaseURL,
		changeRelatedDefault: changeRelatedDefault,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		rateLimiter: NewRateLimiter(delay),
	}, nil
}

// SetBaseURL overrides the API base URL. Used in tests.
func (c *IncidentIO) SetBaseURL(baseURL string) {
	c.baseURL = baseURL
}

// Name returns the source name
func (c *IncidentIO) Name() string {
	return "incident.io"
}

// incidentIOPage is one page of the v2 incidents listing
type incidentIOPage struct {
	Incidents      []incidentIOIncident `json:"incidents"`
	PaginationMeta struct {
		After string `json:"after"`
	} `json:"pagination_meta"`
}

type incidentIOIncident struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	CreatedAt      time.Time `json:"created_at"`
	IncidentStatus struct {
		Category string `json:"category"`
	} `json:"incident_status"`
	Severity struct {
		Name string `json:"name"`
	} `json:"severity"`
	IncidentTimestampValues []struct {
		IncidentTimestamp struct {
			Name string `json:"name"`
		} `json:"incident_timestamp"`
		Value *struct {
			Value time.Time `json:"value"`
		} `json:"value"`
	} `json:"incident_timestamp_values"`
	DurationMetrics []struct {
		DurationMetric struct {
			Name string `json:"name"`
		} `json:"duration_metric"`
		ValueSeconds *float64 `json:"value_seconds"`
	} `json:"duration_metrics"`
	CustomFieldEntries []struct {
		CustomField struct {
			Name string `json:"name"`
		} `json:"custom_field"`
		Values []struct {
			ValueOption *struct {
				Value string `json:"value"`
			} `json:"value_option"`
		} `json:"values"`
	} `json:"custom_field_entries"`
}

// FetchIncidents retrieves incidents created within the period. Pagination
// follows the cursor returned in pagination_meta; the loop stops when the
// upstream stops returning one.
func (c *IncidentIO) FetchIncidents(ctx context.Context, period domain.Period) (IncidentBatch, error) {
	var batch IncidentBatch
	after := ""

	for {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return IncidentBatch{}, err
		}

		page, err := c.listPage(ctx, period, after)
		if err != nil {
			return IncidentBatch{}, apperrors.NewUpstreamBatchError(c.Name(), err)
		}

		for _, inc := range page.Incidents {
			if inc.CreatedAt.Before(period.Start) || inc.CreatedAt.After(period.End) {
				continue
			}
			batch.Events = append(batch.Events, c.toEvent(inc))
		}

		if page.PaginationMeta.After == "" {
			break
		}
		after = page.PaginationMeta.After
	}

	return batch, nil
}

// listPage fetches one page of incidents, filtered server-side to the period
func (c *IncidentIO) listPage(ctx context.Context, period domain.Period, after string) (*incidentIOPage, error) {
	params := url.Values{}
	params.Set("page_size", "100")
	params.Set("created_at[gte]", period.Start.Format(time.RFC3339))
	params.Set("created_at[lte]", period.End.Format(time.RFC3339))
	if after != "" {
		params.Set("after", after)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v2/incidents?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to list incidents: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("incident.io returned %d: %s", resp.StatusCode, string(body))
	}

	var page incidentIOPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("failed to decode incidents response: %w", err)
	}
	return &page, nil
}

// toEvent maps one incident.io incident into the common incident shape.
// Recovery time prefers the precomputed duration metric, then the impact
// and resolution timestamps.
func (c *IncidentIO) toEvent(inc incidentIOIncident) domain.IncidentEvent {
	event := domain.IncidentEvent{
		ID:            inc.ID,
		Name:          inc.Name,
		Status:        inc.IncidentStatus.Category,
		Severity:      mapIncidentSeverity(inc.Severity.Name),
		CreatedAt:     inc.CreatedAt,
		ChangeRelated: c.changeRelatedDefault,
		UserImpacting: true,
	}

	for _, ts := range inc.IncidentTimestampValues {
		if ts.Value == nil {
			continue
		}
		switch strings.ToLower(ts.IncidentTimestamp.Name) {
		case "resolved at", "resolved":
			v := ts.Value.Value
			event.ResolvedAt = &v
		case "impact started", "impact started at":
			v := ts.Value.Value
			event.ImpactStartedAt = &v
		}
	}

	for _, m := range inc.DurationMetrics {
		if m.ValueSeconds == nil {
			continue
		}
		if strings.Contains(strings.ToLower(m.DurationMetric.Name), "resolve") {
			v := *m.ValueSeconds
			event.DurationSeconds = &v
		}
	}

	for _, field := range inc.CustomFieldEntries {
		name := strings.ToLower(field.CustomField.Name)
		if len(field.Values) == 0 || field.Values[0].ValueOption == nil {
			continue
		}
		value := strings.EqualFold(field.Values[0].ValueOption.Value, "yes")
		switch {
		case strings.Contains(name, "change"):
			event.ChangeRelated = value
		case strings.Contains(name, "user impact"):
			event.UserImpacting = value
		}
	}

	return event
}

// mapIncidentSeverity normalizes severity names to the common scale
func mapIncidentSeverity(name string) domain.Severity {
	switch {
	case containsAny(name, "critical", "sev0", "p0"):
		return domain.SeverityCritical
	case containsAny(name, "major", "sev1", "p1"):
		return domain.SeverityMajor
	default:
		return domain.SeverityMinor
	}
}

func containsAny(s string, substrs ...string) bool {
	s = strings.ToLower(s)
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
