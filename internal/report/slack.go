package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/doratrack/doratrack/internal/domain"
	"github.com/doratrack/doratrack/internal/storage"
)

// SlackNotifier posts a summary of each saved snapshot to a Slack
// incoming webhook.
type SlackNotifier struct {
	webhookURL string
	httpClient *http.Client
}

// NewSlackNotifier creates a notifier for the given webhook URL
func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type slackMessage struct {
	Text string `json:"text"`
}

// SnapshotSaved posts the snapshot summary to Slack
func (n *SlackNotifier) SnapshotSaved(ctx context.Context, snap *domain.Snapshot, counts storage.PeriodCounts) error {
	text := fmt.Sprintf(
		"*DORA metrics for %s to %s (%s)*\nOverall: *%s*\n"+
			"Deployment frequency: %.2f/day (%s)\n"+
			"Lead time: %.1fh median (%s)\n"+
			"Change failure rate: %.1f%% (%s)\n"+
			"Time to restore: %.1fh median (%s)\n"+
			"Stored %d deployments, %d pull requests, %d incidents",
		snap.Period.Start.Format("2006-01-02"), snap.Period.End.Format("2006-01-02"), snap.Period.Type,
		snap.OverallRating.Label(),
		snap.DeploymentFrequency.PerDay, snap.DeploymentFrequency.Rating,
		snap.LeadTime.MedianHours, snap.LeadTime.Rating,
		snap.ChangeFailureRate.Percentage, snap.ChangeFailureRate.Rating,
		snap.MTTR.MedianHours, snap.MTTR.Rating,
		counts.Deployments, counts.PullRequests, counts.Incidents,
	)

	payload, err := json.Marshal(slackMessage{Text: text})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}
	return nil
}
