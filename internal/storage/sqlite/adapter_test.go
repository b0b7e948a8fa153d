package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/doratrack/doratrack/internal/domain"
	apperrors "github.com/doratrack/doratrack/internal/errors"
	"github.com/doratrack/doratrack/internal/storage"
)

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open sqlite storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

var testPeriod = domain.Period{
	Type:  domain.PeriodWeekly,
	Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	End:   time.Date(2024, 1, 7, 23, 59, 59, 0, time.UTC),
}

func testSnapshot() *domain.Snapshot {
	return &domain.Snapshot{
		Period: testPeriod,
		DeploymentFrequency: domain.DeploymentFrequency{
			PerDay: 1, PerWeek: 7, Total: 7, Rating: domain.RatingElite,
		},
		LeadTime: domain.LeadTime{
			AverageHours: 5, MedianHours: 4, P90Hours: 9, Rating: domain.RatingHigh,
		},
		ChangeFailureRate: domain.ChangeFailureRate{
			Percentage: 5, FailedChanges: 1, TotalDeployments: 20, Rating: domain.RatingElite,
		},
		MTTR: domain.MTTR{
			AverageHours: 2, MedianHours: 2, Incidents: 1, Rating: domain.RatingHigh,
		},
		OverallRating: domain.RatingElite,
		GeneratedAt:   time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC),
	}
}

func TestUpsertDeploymentsIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	deployment := domain.DeploymentEvent{
		ID: 42, SHA: "abc123", Ref: "main", Environment: "production",
		Status: domain.DeploymentInProgress, CreatedAt: testPeriod.Start.Add(time.Hour),
	}

	if _, err := store.UpsertDeployments(ctx, []domain.DeploymentEvent{deployment}); err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}

	// re-fetch with an updated status
	deployment.Status = domain.DeploymentSuccess
	if _, err := store.UpsertDeployments(ctx, []domain.DeploymentEvent{deployment}); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}

	stored, err := store.GetDeploymentsInRange(ctx, testPeriod.Start, testPeriod.End, "", 10)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("expected 1 deployment after repeated upsert, got %d", len(stored))
	}
	if stored[0].Status != domain.DeploymentSuccess {
		t.Errorf("status = %v, want the updated value", stored[0].Status)
	}
	if stored[0].SHA != "abc123" {
		t.Errorf("sha = %v, identity fields must be preserved", stored[0].SHA)
	}
}

func TestUpsertIncidentsUpdatesMutableFields(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	incident := domain.IncidentEvent{
		ID: "inc-1", Name: "API outage", Status: "open", Severity: domain.SeverityMajor,
		CreatedAt: testPeriod.Start, ChangeRelated: true, UserImpacting: true,
	}
	if _, err := store.UpsertIncidents(ctx, []domain.IncidentEvent{incident}); err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}

	resolved := testPeriod.Start.Add(3 * time.Hour)
	incident.Status = "resolved"
	incident.ResolvedAt = &resolved
	if _, err := store.UpsertIncidents(ctx, []domain.IncidentEvent{incident}); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}

	stored, err := store.GetIncidentsInRange(ctx, testPeriod.Start, testPeriod.End, "", 10)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("expected 1 incident, got %d", len(stored))
	}
	if stored[0].Status != "resolved" {
		t.Errorf("status = %v, want resolved", stored[0].Status)
	}
	if stored[0].ResolvedAt == nil {
		t.Error("resolved_at should be set after the second upsert")
	}
}

func TestSnapshotsAreAppendOnly(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.CreateSnapshot(ctx, testSnapshot())
	if err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	second, err := store.CreateSnapshot(ctx, testSnapshot())
	if err != nil {
		t.Fatalf("second create failed: %v", err)
	}
	if first == second {
		t.Error("each snapshot save must create a new row")
	}

	snapshots, err := store.GetRecentSnapshots(ctx, 10, domain.PeriodWeekly)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(snapshots) != 2 {
		t.Errorf("expected 2 snapshot rows for the same period, got %d", len(snapshots))
	}
}

func TestSavePeriodWritesEverything(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	merged := testPeriod.Start.Add(6 * time.Hour)
	data := domain.FetchResult{
		Deployments: []domain.DeploymentEvent{
			{ID: 1, SHA: "aaa", Ref: "main", Environment: "production",
				Status: domain.DeploymentSuccess, CreatedAt: testPeriod.Start},
		},
		Changes: []domain.ChangeEvent{
			{Number: 7, Title: "fix", CreatedAt: testPeriod.Start, MergedAt: &merged},
		},
		Incidents: []domain.IncidentEvent{
			{ID: "inc-1", Name: "outage", Status: "resolved", Severity: domain.SeverityMinor,
				CreatedAt: testPeriod.Start, ChangeRelated: true, UserImpacting: true},
		},
	}

	snapshot := testSnapshot()
	counts, err := store.SavePeriod(ctx, data, snapshot)
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}

	if counts.Deployments != 1 || counts.PullRequests != 1 || counts.Incidents != 1 {
		t.Errorf("counts = %+v, want 1/1/1", counts)
	}
	if counts.SnapshotID == 0 || snapshot.ID != counts.SnapshotID {
		t.Errorf("snapshot id not assigned: counts %d, snapshot %d", counts.SnapshotID, snapshot.ID)
	}

	latest, err := store.GetLatestSnapshot(ctx, domain.PeriodWeekly)
	if err != nil {
		t.Fatalf("latest query failed: %v", err)
	}
	if latest.ID != counts.SnapshotID {
		t.Errorf("latest snapshot id = %d, want %d", latest.ID, counts.SnapshotID)
	}
	if latest.OverallRating != domain.RatingElite {
		t.Errorf("overall rating = %v, want elite", latest.OverallRating)
	}
	if latest.DeploymentFrequency.PerDay != 1 {
		t.Errorf("per day = %v, want 1", latest.DeploymentFrequency.PerDay)
	}
}

func TestGetLatestSnapshotNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetLatestSnapshot(context.Background(), domain.PeriodWeekly)
	if !apperrors.IsNotFound(err) {
		t.Errorf("expected a not-found error, got %v", err)
	}
}

func TestGetRecentSnapshotsChronologicalOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for week := 0; week < 3; week++ {
		snap := testSnapshot()
		snap.Period.Start = testPeriod.Start.AddDate(0, 0, 7*week)
		snap.Period.End = snap.Period.Start.AddDate(0, 0, 7).Add(-time.Second)
		snap.GeneratedAt = snap.GeneratedAt.AddDate(0, 0, 7*week)
		if _, err := store.CreateSnapshot(ctx, snap); err != nil {
			t.Fatalf("create failed: %v", err)
		}
	}

	snapshots, err := store.GetRecentSnapshots(ctx, 2, domain.PeriodWeekly)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(snapshots) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(snapshots))
	}
	if !snapshots[0].Period.Start.Before(snapshots[1].Period.Start) {
		t.Error("snapshots should be in chronological order")
	}
	// the limit keeps the most recent periods
	if !snapshots[1].Period.Start.Equal(testPeriod.Start.AddDate(0, 0, 14)) {
		t.Errorf("newest snapshot start = %v, want the third week", snapshots[1].Period.Start)
	}
}

func TestGetDeploymentsInRangeStatusFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	deployments := []domain.DeploymentEvent{
		{ID: 1, SHA: "a", Ref: "main", Environment: "production",
			Status: domain.DeploymentSuccess, CreatedAt: testPeriod.Start},
		{ID: 2, SHA: "b", Ref: "main", Environment: "production",
			Status: domain.DeploymentFailure, CreatedAt: testPeriod.Start.Add(time.Hour)},
	}
	if _, err := store.UpsertDeployments(ctx, deployments); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	failed, err := store.GetDeploymentsInRange(ctx, testPeriod.Start, testPeriod.End, "failure", 10)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(failed) != 1 || failed[0].ID != 2 {
		t.Errorf("expected only the failed deployment, got %+v", failed)
	}
}
