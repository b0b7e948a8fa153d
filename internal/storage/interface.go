package storage

import (
	"context"
	"time"

	"github.com/doratrack/doratrack/internal/domain"
)

// PeriodCounts reports how many raw records one period's save processed
type PeriodCounts struct {
	Deployments  int
	PullRequests int
	Incidents    int
	SnapshotID   int64
}

// Store is the abstract interface for the persistence layer.
//
// Raw event upserts are keyed by each record's natural external identifier
// (deployment id, PR number, incident id): on conflict the mutable fields
// are overwritten and identity fields left untouched, so repeated ingestion
// is idempotent. Snapshot persistence is append-only: every call creates a
// new row.
type Store interface {
	// Raw event upserts. Each returns the number of records processed.
	UpsertDeployments(ctx context.Context, deployments []domain.DeploymentEvent) (int, error)
	UpsertChanges(ctx context.Context, changes []domain.ChangeEvent) (int, error)
	UpsertIncidents(ctx context.Context, incidents []domain.IncidentEvent) (int, error)

	// SavePeriod persists one period's raw events and snapshot as a single
	// transactional unit. The snapshot row id is returned in the counts.
	SavePeriod(ctx context.Context, data domain.FetchResult, snapshot *domain.Snapshot) (PeriodCounts, error)

	// Snapshot persistence and retrieval
	CreateSnapshot(ctx context.Context, snapshot *domain.Snapshot) (int64, error)
	GetLatestSnapshot(ctx context.Context, periodType domain.PeriodType) (*domain.Snapshot, error)
	GetSnapshotsInRange(ctx context.Context, start, end time.Time, periodType domain.PeriodType) ([]*domain.Snapshot, error)
	GetRecentSnapshots(ctx context.Context, periods int, periodType domain.PeriodType) ([]*domain.Snapshot, error)

	// Raw data retrieval for the API layer
	GetDeploymentsInRange(ctx context.Context, start, end time.Time, status string, limit int) ([]domain.DeploymentEvent, error)
	GetIncidentsInRange(ctx context.Context, start, end time.Time, severity string, limit int) ([]domain.IncidentEvent, error)

	// Migration
	Migrate(ctx context.Context) error

	// Connection management
	Close() error
}
