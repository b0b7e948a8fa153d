package source

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/doratrack/doratrack/internal/domain"
)

func newSlabForTest(t *testing.T, serverURL string) *Slab {
	t.Helper()
	src, err := NewSlab("slab-token", "team-1", true, 0)
	if err != nil {
		t.Fatalf("failed to create source: %v", err)
	}
	src.SetBaseURL(serverURL)
	return src
}

func TestSlabKeepsOnlyPostmortems(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/teams/team-1/posts" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		fmt.Fprint(w, `{"data": [
			{"id": "p1", "title": "Postmortem: SEV0 database outage",
			 "createdAt": "2024-01-02T10:00:00Z", "updatedAt": "2024-01-02T16:00:00Z"},
			{"id": "p2", "title": "Q1 roadmap",
			 "createdAt": "2024-01-03T10:00:00Z", "updatedAt": "2024-01-03T11:00:00Z"},
			{"id": "p3", "title": "Post-mortem: login failures",
			 "createdAt": "2024-01-04T10:00:00Z", "updatedAt": "2024-01-04T12:00:00Z"}
		]}`)
	}))
	defer server.Close()

	src := newSlabForTest(t, server.URL)
	batch, err := src.FetchIncidents(context.Background(), incidentPeriod)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(batch.Events) != 2 {
		t.Fatalf("expected 2 postmortems, got %d", len(batch.Events))
	}

	first := batch.Events[0]
	if first.Severity != domain.SeverityCritical {
		t.Errorf("severity = %v, want critical from SEV0 in title", first.Severity)
	}
	if first.TimeToResolveHours == nil || *first.TimeToResolveHours != 6 {
		t.Errorf("time to resolve = %v, want 6h (creation to last update)", first.TimeToResolveHours)
	}
	if first.Status != "resolved" {
		t.Errorf("status = %v, want resolved", first.Status)
	}
}

func TestSlabDropsPostsOutsidePeriod(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data": [
			{"id": "old", "title": "Postmortem: ancient outage",
			 "createdAt": "2023-06-01T10:00:00Z", "updatedAt": "2023-06-02T10:00:00Z"},
			{"id": "future", "title": "Postmortem: later outage",
			 "createdAt": "2024-03-01T10:00:00Z", "updatedAt": "2024-03-02T10:00:00Z"}
		]}`)
	}))
	defer server.Close()

	src := newSlabForTest(t, server.URL)
	batch, err := src.FetchIncidents(context.Background(), incidentPeriod)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(batch.Events) != 0 {
		t.Errorf("expected no in-period posts, got %d", len(batch.Events))
	}
}

func TestSlabUpstreamErrorFailsBatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer server.Close()

	src := newSlabForTest(t, server.URL)
	if _, err := src.FetchIncidents(context.Background(), incidentPeriod); err == nil {
		t.Fatal("expected error on upstream failure")
	}
}
