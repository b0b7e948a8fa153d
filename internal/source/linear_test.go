package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/doratrack/doratrack/internal/domain"
)

func newLinearForTest(t *testing.T, serverURL string) *Linear {
	t.Helper()
	src, err := NewLinear("lin_api_test", true, 0)
	if err != nil {
		t.Fatalf("failed to create source: %v", err)
	}
	src.SetBaseURL(serverURL)
	return src
}

func TestLinearKeepsOnlyIncidentLabeledIssues(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data": {"issues": {
			"nodes": [
				{
					"id": "a", "identifier": "ENG-1", "title": "checkout broken",
					"createdAt": "2024-01-02T08:00:00Z", "completedAt": "2024-01-02T12:00:00Z",
					"startedAt": "2024-01-02T09:00:00Z",
					"state": {"name": "Done"},
					"labels": {"nodes": [{"name": "Incident"}, {"name": "sev1"}]}
				},
				{
					"id": "b", "identifier": "ENG-2", "title": "add dark mode",
					"createdAt": "2024-01-03T08:00:00Z", "completedAt": "2024-01-04T08:00:00Z",
					"state": {"name": "Done"},
					"labels": {"nodes": [{"name": "feature"}]}
				}
			],
			"pageInfo": {"hasNextPage": false, "endCursor": ""}
		}}}`)
	}))
	defer server.Close()

	src := newLinearForTest(t, server.URL)
	batch, err := src.FetchIncidents(context.Background(), incidentPeriod)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(batch.Events) != 1 {
		t.Fatalf("expected 1 incident-labeled issue, got %d", len(batch.Events))
	}

	inc := batch.Events[0]
	if inc.Name != "ENG-1: checkout broken" {
		t.Errorf("name = %q", inc.Name)
	}
	if inc.Severity != domain.SeverityMajor {
		t.Errorf("severity = %v, want major from sev1 label", inc.Severity)
	}
	if inc.TimeToResolveHours == nil || *inc.TimeToResolveHours != 3 {
		t.Errorf("time to resolve = %v, want 3h (started to completed)", inc.TimeToResolveHours)
	}
}

func TestLinearPagination(t *testing.T) {
	var cursors []string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Variables map[string]interface{} `json:"variables"`
		}
		json.NewDecoder(r.Body).Decode(&req)

		cursor, _ := req.Variables["cursor"].(string)
		cursors = append(cursors, cursor)

		if cursor == "" {
			fmt.Fprint(w, `{"data": {"issues": {
				"nodes": [{
					"id": "a", "identifier": "ENG-1", "title": "outage",
					"createdAt": "2024-01-02T08:00:00Z",
					"state": {"name": "Done"},
					"labels": {"nodes": [{"name": "outage"}]}
				}],
				"pageInfo": {"hasNextPage": true, "endCursor": "page-2"}
			}}}`)
			return
		}
		fmt.Fprint(w, `{"data": {"issues": {
			"nodes": [{
				"id": "b", "identifier": "ENG-2", "title": "another outage",
				"createdAt": "2024-01-03T08:00:00Z",
				"state": {"name": "Done"},
				"labels": {"nodes": [{"name": "outage"}]}
			}],
			"pageInfo": {"hasNextPage": false, "endCursor": ""}
		}}}`)
	}))
	defer server.Close()

	src := newLinearForTest(t, server.URL)
	batch, err := src.FetchIncidents(context.Background(), incidentPeriod)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(batch.Events) != 2 {
		t.Errorf("expected 2 incidents across pages, got %d", len(batch.Events))
	}
	if len(cursors) != 2 || cursors[1] != "page-2" {
		t.Errorf("cursors = %v, want second request with page-2", cursors)
	}
}

func TestLinearGraphQLErrorFailsBatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"errors": [{"message": "invalid API key"}]}`)
	}))
	defer server.Close()

	src := newLinearForTest(t, server.URL)
	if _, err := src.FetchIncidents(context.Background(), incidentPeriod); err == nil {
		t.Fatal("expected error on GraphQL error response")
	}
}

func TestSeverityFromLabels(t *testing.T) {
	tests := []struct {
		labels []string
		want   domain.Severity
	}{
		{[]string{"p0"}, domain.SeverityCritical},
		{[]string{"outage", "backend"}, domain.SeverityCritical},
		{[]string{"sev1"}, domain.SeverityMajor},
		{[]string{"bug"}, domain.SeverityMinor},
		{nil, domain.SeverityMinor},
	}
	for _, tt := range tests {
		if got := severityFromLabels(tt.labels); got != tt.want {
			t.Errorf("severityFromLabels(%v) = %v, want %v", tt.labels, got, tt.want)
		}
	}
}
