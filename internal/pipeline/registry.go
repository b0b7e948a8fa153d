package pipeline

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/doratrack/doratrack/internal/domain"
)

// RunState is the lifecycle state of a tracked backfill run
type RunState string

const (
	RunStateRunning   RunState = "running"
	RunStateCompleted RunState = "completed"
	RunStateFailed    RunState = "failed"
)

// RunStatus is a point-in-time view of one backfill run
type RunStatus struct {
	ID           string                `json:"id"`
	State        RunState              `json:"state"`
	PeriodType   domain.PeriodType     `json:"period_type"`
	StartDate    time.Time             `json:"start_date"`
	EndDate      time.Time             `json:"end_date"`
	TotalPeriods int                   `json:"total_periods"`
	Completed    int                   `json:"completed"`
	Succeeded    int                   `json:"succeeded"`
	Failed       int                   `json:"failed"`
	Results      []domain.PeriodResult `json:"results"`
	Error        string                `json:"error,omitempty"`
	StartedAt    time.Time             `json:"started_at"`
	FinishedAt   *time.Time            `json:"finished_at,omitempty"`
}

// Registry tracks backfill runs by id so their progress can be
// observed while they execute in the background.
type Registry struct {
	mu   sync.RWMutex
	runs map[string]*RunStatus
}

// NewRegistry creates an empty run registry
func NewRegistry() *Registry {
	return &Registry{runs: make(map[string]*RunStatus)}
}

// Create registers a new run and returns its id
func (r *Registry) Create(periodType domain.PeriodType, start, end time.Time, totalPeriods int) string {
	id := uuid.New().String()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[id] = &RunStatus{
		ID:           id,
		State:        RunStateRunning,
		PeriodType:   periodType,
		StartDate:    start,
		EndDate:      end,
		TotalPeriods: totalPeriods,
		Results:      make([]domain.PeriodResult, 0, totalPeriods),
		StartedAt:    time.Now().UTC(),
	}
	return id
}

// Record appends one period result to a running run
func (r *Registry) Record(id string, result domain.PeriodResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[id]
	if !ok {
		return
	}
	run.Results = append(run.Results, result)
	run.Completed++
	if result.Succeeded() {
		run.Succeeded++
	} else {
		run.Failed++
	}
}

// Finish moves a run to its terminal state
func (r *Registry) Finish(id string, runErr error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[id]
	if !ok {
		return
	}
	now := time.Now().UTC()
	run.FinishedAt = &now
	if runErr != nil {
		run.State = RunStateFailed
		run.Error = runErr.Error()
		return
	}
	run.State = RunStateCompleted
}

// Get returns a copy of the run's status, or false if the id is unknown
func (r *Registry) Get(id string) (RunStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	run, ok := r.runs[id]
	if !ok {
		return RunStatus{}, false
	}

	status := *run
	status.Results = make([]domain.PeriodResult, len(run.Results))
	copy(status.Results, run.Results)
	return status, true
}
