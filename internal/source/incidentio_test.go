package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/doratrack/doratrack/internal/domain"
)

var incidentPeriod = domain.Period{
	Type:  domain.PeriodWeekly,
	Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	End:   time.Date(2024, 1, 7, 23, 59, 59, 0, time.UTC),
}

func newIncidentIOForTest(t *testing.T, serverURL string) *IncidentIO {
	t.Helper()
	src, err := NewIncidentIO("test-key", true, 0)
	if err != nil {
		t.Fatalf("failed to create source: %v", err)
	}
	src.SetBaseURL(serverURL)
	return src
}

func TestIncidentIOFollowsCursorPagination(t *testing.T) {
	var requestedCursors []string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cursor := r.URL.Query().Get("after")
		requestedCursors = append(requestedCursors, cursor)

		var page map[string]interface{}
		switch cursor {
		case "":
			page = map[string]interface{}{
				"incidents": []map[string]interface{}{
					{"id": "inc-1", "name": "first", "created_at": "2024-01-02T10:00:00Z"},
				},
				"pagination_meta": map[string]string{"after": "cursor-2"},
			}
		case "cursor-2":
			page = map[string]interface{}{
				"incidents": []map[string]interface{}{
					{"id": "inc-2", "name": "second", "created_at": "2024-01-03T10:00:00Z"},
				},
				"pagination_meta": map[string]string{"after": ""},
			}
		default:
			t.Errorf("unexpected cursor %q", cursor)
		}
		json.NewEncoder(w).Encode(page)
	}))
	defer server.Close()

	src := newIncidentIOForTest(t, server.URL)
	batch, err := src.FetchIncidents(context.Background(), incidentPeriod)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(batch.Events) != 2 {
		t.Fatalf("expected 2 incidents across pages, got %d", len(batch.Events))
	}
	if len(requestedCursors) != 2 || requestedCursors[1] != "cursor-2" {
		t.Errorf("cursors = %v, want [\"\" \"cursor-2\"]", requestedCursors)
	}
}

func TestIncidentIOSendsAuthAndPeriodFilter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization header = %q", got)
		}
		if got := r.URL.Query().Get("created_at[gte]"); got != "2024-01-01T00:00:00Z" {
			t.Errorf("created_at[gte] = %q", got)
		}
		fmt.Fprint(w, `{"incidents": [], "pagination_meta": {"after": ""}}`)
	}))
	defer server.Close()

	src := newIncidentIOForTest(t, server.URL)
	if _, err := src.FetchIncidents(context.Background(), incidentPeriod); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestIncidentIOMapsFields(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"incidents": [{
				"id": "inc-1",
				"name": "API outage",
				"created_at": "2024-01-02T10:00:00Z",
				"incident_status": {"category": "closed"},
				"severity": {"name": "SEV1"},
				"incident_timestamp_values": [
					{"incident_timestamp": {"name": "Impact started"}, "value": {"value": "2024-01-02T10:05:00Z"}},
					{"incident_timestamp": {"name": "Resolved at"}, "value": {"value": "2024-01-02T12:05:00Z"}}
				],
				"duration_metrics": [
					{"duration_metric": {"name": "Time to resolve"}, "value_seconds": 7200}
				],
				"custom_field_entries": [
					{"custom_field": {"name": "Change related"}, "values": [{"value_option": {"value": "No"}}]},
					{"custom_field": {"name": "User impact"}, "values": [{"value_option": {"value": "Yes"}}]}
				]
			}],
			"pagination_meta": {"after": ""}
		}`)
	}))
	defer server.Close()

	src := newIncidentIOForTest(t, server.URL)
	batch, err := src.FetchIncidents(context.Background(), incidentPeriod)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(batch.Events) != 1 {
		t.Fatalf("expected 1 incident, got %d", len(batch.Events))
	}

	inc := batch.Events[0]
	if inc.Severity != domain.SeverityMajor {
		t.Errorf("severity = %v, want major for SEV1", inc.Severity)
	}
	if inc.Status != "closed" {
		t.Errorf("status = %v, want closed", inc.Status)
	}
	if inc.ChangeRelated {
		t.Error("explicit change-related No must override the default")
	}
	if !inc.UserImpacting {
		t.Error("user impact Yes should map to true")
	}
	if inc.DurationSeconds == nil || *inc.DurationSeconds != 7200 {
		t.Errorf("duration seconds = %v, want 7200", inc.DurationSeconds)
	}
	if inc.ResolvedAt == nil || inc.ImpactStartedAt == nil {
		t.Error("resolution timestamps should be mapped")
	}

	hours, ok := inc.ResolutionHours()
	if !ok || hours != 2 {
		t.Errorf("resolution hours = %v (%v), want 2", hours, ok)
	}
}

func TestIncidentIOAppliesChangeRelatedDefault(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"incidents": [{"id": "inc-1", "name": "bare", "created_at": "2024-01-02T10:00:00Z"}],
			"pagination_meta": {"after": ""}
		}`)
	}))
	defer server.Close()

	src := newIncidentIOForTest(t, server.URL)
	batch, err := src.FetchIncidents(context.Background(), incidentPeriod)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !batch.Events[0].ChangeRelated {
		t.Error("incident without classification should use the configured default")
	}
}

func TestIncidentIODropsOutOfPeriodIncidents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"incidents": [
				{"id": "early", "name": "early", "created_at": "2023-12-25T10:00:00Z"},
				{"id": "inside", "name": "inside", "created_at": "2024-01-03T10:00:00Z"},
				{"id": "late", "name": "late", "created_at": "2024-02-01T10:00:00Z"}
			],
			"pagination_meta": {"after": ""}
		}`)
	}))
	defer server.Close()

	src := newIncidentIOForTest(t, server.URL)
	batch, err := src.FetchIncidents(context.Background(), incidentPeriod)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(batch.Events) != 1 || batch.Events[0].ID != "inside" {
		t.Errorf("expected only the in-period incident, got %+v", batch.Events)
	}
}

func TestIncidentIOUpstreamErrorFailsBatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	src := newIncidentIOForTest(t, server.URL)
	if _, err := src.FetchIncidents(context.Background(), incidentPeriod); err == nil {
		t.Fatal("expected error on upstream failure")
	}
}

func TestMapIncidentSeverity(t *testing.T) {
	tests := []struct {
		name string
		want domain.Severity
	}{
		{"Critical", domain.SeverityCritical},
		{"SEV0", domain.SeverityCritical},
		{"P0 - page everyone", domain.SeverityCritical},
		{"Major", domain.SeverityMajor},
		{"sev1", domain.SeverityMajor},
		{"Minor", domain.SeverityMinor},
		{"something else", domain.SeverityMinor},
	}
	for _, tt := range tests {
		if got := mapIncidentSeverity(tt.name); got != tt.want {
			t.Errorf("mapIncidentSeverity(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
