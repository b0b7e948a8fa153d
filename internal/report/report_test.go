package report

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/doratrack/doratrack/internal/domain"
	"github.com/doratrack/doratrack/internal/storage"
)

func sampleSnapshot() *domain.Snapshot {
	return &domain.Snapshot{
		Period: domain.Period{
			Type:  domain.PeriodWeekly,
			Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2024, 1, 7, 23, 59, 59, 0, time.UTC),
		},
		DeploymentFrequency: domain.DeploymentFrequency{PerDay: 1.5, PerWeek: 10.5, Total: 11, Rating: domain.RatingElite},
		LeadTime:            domain.LeadTime{AverageHours: 30, MedianHours: 26, P90Hours: 60, Rating: domain.RatingMedium},
		ChangeFailureRate:   domain.ChangeFailureRate{Percentage: 9.1, FailedChanges: 1, TotalDeployments: 11, Rating: domain.RatingHigh},
		MTTR:                domain.MTTR{AverageHours: 2, MedianHours: 2, Incidents: 1, Rating: domain.RatingHigh},
		OverallRating:       domain.RatingHigh,
		GeneratedAt:         time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC),
	}
}

func TestMarkdownContainsMetricsAndPeriod(t *testing.T) {
	md := Markdown(sampleSnapshot())

	for _, want := range []string{
		"2024-01-01", "2024-01-07",
		"Deployment Frequency", "Lead Time for Changes",
		"Change Failure Rate", "Time to Restore Service",
		"High",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("report missing %q", want)
		}
	}
}

func TestMarkdownHighlightsAndRecommendations(t *testing.T) {
	md := Markdown(sampleSnapshot())

	// elite deployment frequency earns a highlight
	if !strings.Contains(md, "## Highlights") {
		t.Error("expected a highlights section")
	}
	// medium lead time earns a recommendation
	if !strings.Contains(md, "## Recommendations") {
		t.Error("expected a recommendations section")
	}
	if !strings.Contains(md, "lead time") {
		t.Error("expected a lead time recommendation")
	}
}

func TestMarkdownOmitsEmptySections(t *testing.T) {
	snap := sampleSnapshot()
	snap.DeploymentFrequency.Rating = domain.RatingHigh
	snap.LeadTime.Rating = domain.RatingHigh
	snap.ChangeFailureRate.Rating = domain.RatingHigh
	snap.MTTR.Rating = domain.RatingHigh

	md := Markdown(snap)
	if strings.Contains(md, "## Highlights") {
		t.Error("no elite metrics, no highlights section")
	}
	if strings.Contains(md, "## Recommendations") {
		t.Error("no low or medium metrics, no recommendations section")
	}
}

func TestSlackNotifierPostsSummary(t *testing.T) {
	var received struct {
		Text string `json:"text"`
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode failed: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := NewSlackNotifier(server.URL)
	counts := storage.PeriodCounts{Deployments: 11, PullRequests: 8, Incidents: 1}
	if err := n.SnapshotSaved(context.Background(), sampleSnapshot(), counts); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(received.Text, "High") {
		t.Errorf("message missing overall rating: %q", received.Text)
	}
	if !strings.Contains(received.Text, "11 deployments") {
		t.Errorf("message missing stored counts: %q", received.Text)
	}
}

func TestSlackNotifierReportsHTTPFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid_payload", http.StatusBadRequest)
	}))
	defer server.Close()

	n := NewSlackNotifier(server.URL)
	err := n.SnapshotSaved(context.Background(), sampleSnapshot(), storage.PeriodCounts{})
	if err == nil {
		t.Fatal("expected error on non-200 response")
	}
}
