package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/doratrack/doratrack/internal/domain"
	"github.com/doratrack/doratrack/internal/pipeline"
)

// Client is the API client for doratrack
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// GetLatestSnapshot retrieves the most recent metrics snapshot
func (c *Client) GetLatestSnapshot(periodType domain.PeriodType) (*domain.Snapshot, error) {
	params := url.Values{}
	if periodType != "" {
		params.Set("period_type", string(periodType))
	}

	var response struct {
		Data *domain.Snapshot `json:"data"`
	}
	if err := c.get("/api/v1/metrics/latest", params, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// GetTrend retrieves the most recent N snapshots in chronological order
func (c *Client) GetTrend(periods int, periodType domain.PeriodType) ([]*domain.Snapshot, error) {
	params := url.Values{}
	if periods > 0 {
		params.Set("periods", fmt.Sprintf("%d", periods))
	}
	if periodType != "" {
		params.Set("period_type", string(periodType))
	}

	var response struct {
		Data []*domain.Snapshot `json:"data"`
	}
	if err := c.get("/api/v1/metrics/trend", params, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// GetSnapshotsInRange retrieves snapshots whose periods fall within the range
func (c *Client) GetSnapshotsInRange(start, end time.Time, periodType domain.PeriodType) ([]*domain.Snapshot, error) {
	params := c.buildRangeParams(start, end)
	if periodType != "" {
		params.Set("period_type", string(periodType))
	}

	var response struct {
		Data []*domain.Snapshot `json:"data"`
	}
	if err := c.get("/api/v1/metrics/range", params, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// GetDeployments retrieves stored deployments inside a date range
func (c *Client) GetDeployments(start, end time.Time, status string, limit int) ([]domain.DeploymentEvent, error) {
	params := c.buildRangeParams(start, end)
	if status != "" {
		params.Set("status", status)
	}
	if limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", limit))
	}

	var response struct {
		Data []domain.DeploymentEvent `json:"data"`
	}
	if err := c.get("/api/v1/deployments", params, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// GetIncidents retrieves stored incidents inside a date range
func (c *Client) GetIncidents(start, end time.Time, severity string, limit int) ([]domain.IncidentEvent, error) {
	params := c.buildRangeParams(start, end)
	if severity != "" {
		params.Set("severity", severity)
	}
	if limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", limit))
	}

	var response struct {
		Data []domain.IncidentEvent `json:"data"`
	}
	if err := c.get("/api/v1/incidents", params, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// PreviewBackfill lists the periods a backfill over the range would process
func (c *Client) PreviewBackfill(start, end time.Time, periodType domain.PeriodType) ([]domain.Period, error) {
	params := c.buildRangeParams(start, end)
	if periodType != "" {
		params.Set("period_type", string(periodType))
	}

	var response struct {
		Data struct {
			TotalPeriods int             `json:"total_periods"`
			Periods      []domain.Period `json:"periods"`
		} `json:"data"`
	}
	if err := c.get("/api/v1/backfill/preview", params, &response); err != nil {
		return nil, err
	}
	return response.Data.Periods, nil
}

// StartBackfill launches a backfill and returns its run id
func (c *Client) StartBackfill(start, end time.Time, periodType domain.PeriodType) (string, error) {
	body := map[string]string{
		"start_date": start.Format("2006-01-02"),
		"end_date":   end.Format("2006-01-02"),
	}
	if periodType != "" {
		body["period_type"] = string(periodType)
	}

	var response struct {
		Data struct {
			RunID        string `json:"run_id"`
			TotalPeriods int    `json:"total_periods"`
		} `json:"data"`
	}
	if err := c.post("/api/v1/backfill", body, &response); err != nil {
		return "", err
	}
	return response.Data.RunID, nil
}

// GetBackfillStatus retrieves the progress of a backfill run
func (c *Client) GetBackfillStatus(runID string) (*pipeline.RunStatus, error) {
	var response struct {
		Data *pipeline.RunStatus `json:"data"`
	}
	if err := c.get("/api/v1/backfill/"+runID, nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// HealthCheck checks if the API is healthy
func (c *Client) HealthCheck() error {
	var response struct {
		Status string `json:"status"`
	}
	if err := c.get("/health", nil, &response); err != nil {
		return err
	}
	if response.Status != "ok" {
		return fmt.Errorf("unhealthy status: %s", response.Status)
	}
	return nil
}

func (c *Client) buildRangeParams(start, end time.Time) url.Values {
	params := url.Values{}
	if !start.IsZero() {
		params.Set("start", start.Format("2006-01-02"))
	}
	if !end.IsZero() {
		params.Set("end", end.Format("2006-01-02"))
	}
	return params
}

func (c *Client) get(path string, params url.Values, result interface{}) error {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return err
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}

	resp, err := c.httpClient.Get(u.String())
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error: %s - %s", resp.Status, string(body))
	}

	return json.NewDecoder(resp.Body).Decode(result)
}

func (c *Client) post(path string, body interface{}, result interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Post(c.baseURL+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error: %s - %s", resp.Status, string(respBody))
	}

	return json.NewDecoder(resp.Body).Decode(result)
}
