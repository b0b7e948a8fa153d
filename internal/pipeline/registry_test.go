package pipeline

import (
	"errors"
	"testing"
	"time"

	"github.com/doratrack/doratrack/internal/domain"
)

func TestRegistryLifecycle(t *testing.T) {
	r := NewRegistry()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 14, 0, 0, 0, 0, time.UTC)

	id := r.Create(domain.PeriodWeekly, start, end, 2)
	if id == "" {
		t.Fatal("expected a run id")
	}

	status, ok := r.Get(id)
	if !ok {
		t.Fatal("run not found")
	}
	if status.State != RunStateRunning {
		t.Errorf("state = %v, want running", status.State)
	}
	if status.TotalPeriods != 2 {
		t.Errorf("total periods = %d, want 2", status.TotalPeriods)
	}

	r.Record(id, domain.PeriodResult{SnapshotID: 1, Progress: "1/2"})
	r.Record(id, domain.PeriodResult{Error: "boom", Progress: "2/2"})

	status, _ = r.Get(id)
	if status.Completed != 2 || status.Succeeded != 1 || status.Failed != 1 {
		t.Errorf("completed/succeeded/failed = %d/%d/%d, want 2/1/1",
			status.Completed, status.Succeeded, status.Failed)
	}

	r.Finish(id, nil)
	status, _ = r.Get(id)
	if status.State != RunStateCompleted {
		t.Errorf("state = %v, want completed", status.State)
	}
	if status.FinishedAt == nil {
		t.Error("finished run should have a finish time")
	}
}

func TestRegistryFinishWithError(t *testing.T) {
	r := NewRegistry()
	id := r.Create(domain.PeriodWeekly, time.Now(), time.Now(), 1)

	r.Finish(id, errors.New("context canceled"))

	status, _ := r.Get(id)
	if status.State != RunStateFailed {
		t.Errorf("state = %v, want failed", status.State)
	}
	if status.Error == "" {
		t.Error("failed run should carry the error")
	}
}

func TestRegistryUnknownRun(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Get("nope"); ok {
		t.Error("unknown id should not resolve")
	}
}

func TestRegistryGetReturnsCopy(t *testing.T) {
	r := NewRegistry()
	id := r.Create(domain.PeriodWeekly, time.Now(), time.Now(), 2)
	r.Record(id, domain.PeriodResult{SnapshotID: 1})

	status, _ := r.Get(id)
	status.Results[0].SnapshotID = 99

	fresh, _ := r.Get(id)
	if fresh.Results[0].SnapshotID != 1 {
		t.Error("mutating a returned status must not affect the registry")
	}
}
