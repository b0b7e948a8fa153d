package source

import (
	"context"

	"github.com/doratrack/doratrack/internal/domain"
)

// Skip records one sub-resource that was skipped during a fetch, with the
// reason. Skips are recovered locally and reported for observability
// instead of failing the batch.
type Skip struct {
	Resource string `json:"resource"`
	Reason   string `json:"reason"`
}

// DeploymentBatch is the result of fetching deployments from one source
type DeploymentBatch struct {
	Events  []domain.DeploymentEvent
	Skipped []Skip
}

// ChangeBatch is the result of fetching pull requests from one source
type ChangeBatch struct {
	Events  []domain.ChangeEvent
	Skipped []Skip
}

// IncidentBatch is the result of fetching incidents from one source
type IncidentBatch struct {
	Events  []domain.IncidentEvent
	Skipped []Skip
}

// DeploymentSource fetches deployments for a period
type DeploymentSource interface {
	Name() string
	FetchDeployments(ctx context.Context, period domain.Period) (DeploymentBatch, error)
}

// ChangeSource fetches merged pull requests for a period
type ChangeSource interface {
	Name() string
	FetchChanges(ctx context.Context, period domain.Period) (ChangeBatch, error)
}

// IncidentSource fetches incidents for a period
type IncidentSource interface {
	Name() string
	FetchIncidents(ctx context.Context, period domain.Period) (IncidentBatch, error)
}

// Set groups the configured sources by capability. The pipeline fans out
// one fetch per source in each list and merges the results.
type Set struct {
	Deployments []DeploymentSource
	Changes     []ChangeSource
	Incidents   []IncidentSource
}
