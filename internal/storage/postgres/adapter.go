package postgres

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"

	"github.com/doratrack/doratrack/internal/domain"
	apperrors "github.com/doratrack/doratrack/internal/errors"
	"github.com/doratrack/doratrack/internal/storage"
)

// postgresStorage implements the Store interface for PostgreSQL
type postgresStorage struct {
	db *sql.DB
}

// NewPostgresStorage creates a new PostgreSQL storage instance
func NewPostgresStorage(connURL string) (storage.Store, error) {
	db, err := sql.Open("postgres", connURL)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}

	s := &postgresStorage{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		return nil, err
	}

	return s, nil
}

// Migrate runs database migrations
func (s *postgresStorage) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS deployments (
		id BIGSERIAL PRIMARY KEY,
		github_deployment_id BIGINT NOT NULL UNIQUE,
		sha VARCHAR(40) NOT NULL,
		ref VARCHAR(255) NOT NULL,
		environment VARCHAR(255) NOT NULL,
		status VARCHAR(20) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		fetched_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_deployments_created_status ON deployments(created_at, status);
	CREATE INDEX IF NOT EXISTS idx_deployments_environment ON deployments(environment);

	CREATE TABLE IF NOT EXISTS pull_requests (
		id BIGSERIAL PRIMARY KEY,
		github_pr_number INTEGER NOT NULL UNIQUE,
		title VARCHAR(500) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		merged_at TIMESTAMPTZ,
		first_commit_at TIMESTAMPTZ,
		fetched_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_pull_requests_merged ON pull_requests(merged_at);

	CREATE TABLE IF NOT EXISTS incidents (
		id BIGSERIAL PRIMARY KEY,
		incident_id VARCHAR(100) NOT NULL UNIQUE,
		name VARCHAR(500) NOT NULL,
		status VARCHAR(50) NOT NULL,
		severity VARCHAR(20) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		resolved_at TIMESTAMPTZ,
		impact_started_at TIMESTAMPTZ,
		duration_seconds DOUBLE PRECISION,
		time_to_resolve_hours DOUBLE PRECISION,
		is_change_related BOOLEAN NOT NULL DEFAULT TRUE,
		is_user_impacting BOOLEAN NOT NULL DEFAULT TRUE,
		fetched_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_incidents_created_severity ON incidents(created_at, severity);

	CREATE TABLE IF NOT EXISTS dora_metrics_snapshots (
		id BIGSERIAL PRIMARY KEY,
		period_type VARCHAR(20) NOT NULL,
		period_start TIMESTAMPTZ NOT NULL,
		period_end TIMESTAMPTZ NOT NULL,
		df_deployments_per_day DOUBLE PRECISION NOT NULL,
		df_deployments_per_week DOUBLE PRECISION NOT NULL,
		df_total_deployments INTEGER NOT NULL,
		df_rating VARCHAR(20) NOT NULL,
		lt_average_hours DOUBLE PRECISION NOT NULL,
		lt_median_hours DOUBLE PRECISION NOT NULL,
		lt_p90_hours DOUBLE PRECISION NOT NULL,
		lt_rating VARCHAR(20) NOT NULL,
		cfr_percentage DOUBLE PRECISION NOT NULL,
		cfr_failed_changes INTEGER NOT NULL,
		cfr_total_deployments INTEGER NOT NULL,
		cfr_rating VARCHAR(20) NOT NULL,
		mttr_average_hours DOUBLE PRECISION NOT NULL,
		mttr_median_hours DOUBLE PRECISION NOT NULL,
		mttr_incidents INTEGER NOT NULL,
		mttr_rating VARCHAR(20) NOT NULL,
		overall_rating VARCHAR(20) NOT NULL,
		generated_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_snapshots_period ON dora_metrics_snapshots(period_type, period_start);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

const upsertDeploymentSQL = `
	INSERT INTO deployments (github_deployment_id, sha, ref, environment, status, created_at, fetched_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (github_deployment_id) DO UPDATE SET
		status = EXCLUDED.status,
		fetched_at = EXCLUDED.fetched_at
`

const upsertPullRequestSQL = `
	INSERT INTO pull_requests (github_pr_number, title, created_at, merged_at, first_commit_at, fetched_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (github_pr_number) DO UPDATE SET
		title = EXCLUDED.title,
		merged_at = EXCLUDED.merged_at,
		first_commit_at = EXCLUDED.first_commit_at,
		fetched_at = EXCLUDED.fetched_at
`

const upsertIncidentSQL = `
	INSERT INTO incidents (incident_id, name, status, severity, created_at, resolved_at, impact_started_at,
		duration_seconds, time_to_resolve_hours, is_change_related, is_user_impacting, fetched_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	ON CONFLICT (incident_id) DO UPDATE SET
		name = EXCLUDED.name,
		status = EXCLUDED.status,
		severity = EXCLUDED.severity,
		resolved_at = EXCLUDED.resolved_at,
		impact_started_at = EXCLUDED.impact_started_at,
		duration_seconds = EXCLUDED.duration_seconds,
		time_to_resolve_hours = EXCLUDED.time_to_resolve_hours,
		is_change_related = EXCLUDED.is_change_related,
		is_user_impacting = EXCLUDED.is_user_impacting,
		fetched_at = EXCLUDED.fetched_at
`

func upsertDeployments(ctx context.Context, ex execer, deployments []domain.DeploymentEvent) (int, error) {
	now := time.Now().UTC()
	for _, d := range deployments {
		_, err := ex.ExecContext(ctx, upsertDeploymentSQL,
			d.ID, d.SHA, d.Ref, d.Environment, string(d.Status), d.CreatedAt, now)
		if err != nil {
			return 0, err
		}
	}
	return len(deployments), nil
}

func upsertChanges(ctx context.Context, ex execer, changes []domain.ChangeEvent) (int, error) {
	now := time.Now().UTC()
	for _, c := range changes {
		_, err := ex.ExecContext(ctx, upsertPullRequestSQL,
			c.Number, c.Title, c.CreatedAt, c.MergedAt, c.FirstCommitAt, now)
		if err != nil {
			return 0, err
		}
	}
	return len(changes), nil
}

func upsertIncidents(ctx context.Context, ex execer, incidents []domain.IncidentEvent) (int, error) {
	now := time.Now().UTC()
	for _, inc := range incidents {
		_, err := ex.ExecContext(ctx, upsertIncidentSQL,
			inc.ID, inc.Name, inc.Status, string(inc.Severity), inc.CreatedAt, inc.ResolvedAt,
			inc.ImpactStartedAt, inc.DurationSeconds, inc.TimeToResolveHours,
			inc.ChangeRelated, inc.UserImpacting, now)
		if err != nil {
			return 0, err
		}
	}
	return len(incidents), nil
}

const insertSnapshotSQL = `
	INSERT INTO dora_metrics_snapshots (
		period_type, period_start, period_end,
		df_deployments_per_day, df_deployments_per_week, df_total_deployments, df_rating,
		lt_average_hours, lt_median_hours, lt_p90_hours, lt_rating,
		cfr_percentage, cfr_failed_changes, cfr_total_deployments, cfr_rating,
		mttr_average_hours, mttr_median_hours, mttr_incidents, mttr_rating,
		overall_rating, generated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	RETURNING id
`

func insertSnapshot(ctx context.Context, ex execer, snap *domain.Snapshot) (int64, error) {
	var id int64
	err := ex.QueryRowContext(ctx, insertSnapshotSQL,
		string(snap.Period.Type), snap.Period.Start, snap.Period.End,
		snap.DeploymentFrequency.PerDay, snap.DeploymentFrequency.PerWeek,
		snap.DeploymentFrequency.Total, string(snap.DeploymentFrequency.Rating),
		snap.LeadTime.AverageHours, snap.LeadTime.MedianHours,
		snap.LeadTime.P90Hours, string(snap.LeadTime.Rating),
		snap.ChangeFailureRate.Percentage, snap.ChangeFailureRate.FailedChanges,
		snap.ChangeFailureRate.TotalDeployments, string(snap.ChangeFailureRate.Rating),
		snap.MTTR.AverageHours, snap.MTTR.MedianHours,
		snap.MTTR.Incidents, string(snap.MTTR.Rating),
		string(snap.OverallRating), snap.GeneratedAt,
	).Scan(&id)
	return id, err
}

// UpsertDeployments upserts deployment records keyed by the GitHub deployment id
func (s *postgresStorage) UpsertDeployments(ctx context.Context, deployments []domain.DeploymentEvent) (int, error) {
	return upsertDeployments(ctx, s.db, deployments)
}

// UpsertChanges upserts pull request records keyed by the PR number
func (s *postgresStorage) UpsertChanges(ctx context.Context, changes []domain.ChangeEvent) (int, error) {
	return upsertChanges(ctx, s.db, changes)
}

// UpsertIncidents upserts incident records keyed by the incident id
func (s *postgresStorage) UpsertIncidents(ctx context.Context, incidents []domain.IncidentEvent) (int, error) {
	return upsertIncidents(ctx, s.db, incidents)
}

// SavePeriod writes one period's raw events and snapshot in a single transaction
func (s *postgresStorage) SavePeriod(ctx context.Context, data domain.FetchResult, snapshot *domain.Snapshot) (storage.PeriodCounts, error) {
	var counts storage.PeriodCounts

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return counts, apperrors.NewPersistenceError("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if counts.Deployments, err = upsertDeployments(ctx, tx, data.Deployments); err != nil {
		return counts, apperrors.NewPersistenceError("failed to upsert deployments", err)
	}
	if counts.PullRequests, err = upsertChanges(ctx, tx, data.Changes); err != nil {
		return counts, apperrors.NewPersistenceError("failed to upsert pull requests", err)
	}
	if counts.Incidents, err = upsertIncidents(ctx, tx, data.Incidents); err != nil {
		return counts, apperrors.NewPersistenceError("failed to upsert incidents", err)
	}
	if counts.SnapshotID, err = insertSnapshot(ctx, tx, snapshot); err != nil {
		return counts, apperrors.NewPersistenceError("failed to insert snapshot", err)
	}

	if err := tx.Commit(); err != nil {
		return counts, apperrors.NewPersistenceError("failed to commit period", err)
	}
	snapshot.ID = counts.SnapshotID
	return counts, nil
}

// CreateSnapshot appends a new metrics snapshot row
func (s *postgresStorage) CreateSnapshot(ctx context.Context, snapshot *domain.Snapshot) (int64, error) {
	id, err := insertSnapshot(ctx, s.db, snapshot)
	if err != nil {
		return 0, apperrors.NewPersistenceError("failed to insert snapshot", err)
	}
	snapshot.ID = id
	return id, nil
}

const selectSnapshotSQL = `
	SELECT id, period_type, period_start, period_end,
		df_deployments_per_day, df_deployments_per_week, df_total_deployments, df_rating,
		lt_average_hours, lt_median_hours, lt_p90_hours, lt_rating,
		cfr_percentage, cfr_failed_changes, cfr_total_deployments, cfr_rating,
		mttr_average_hours, mttr_median_hours, mttr_incidents, mttr_rating,
		overall_rating, generated_at
	FROM dora_metrics_snapshots
`

func scanSnapshot(row interface {
	Scan(dest ...interface{}) error
}) (*domain.Snapshot, error) {
	var snap domain.Snapshot
	var periodType, dfRating, ltRating, cfrRating, mttrRating, overall string

	err := row.Scan(&snap.ID, &periodType, &snap.Period.Start, &snap.Period.End,
		&snap.DeploymentFrequency.PerDay, &snap.DeploymentFrequency.PerWeek,
		&snap.DeploymentFrequency.Total, &dfRating,
		&snap.LeadTime.AverageHours, &snap.LeadTime.MedianHours,
		&snap.LeadTime.P90Hours, &ltRating,
		&snap.ChangeFailureRate.Percentage, &snap.ChangeFailureRate.FailedChanges,
		&snap.ChangeFailureRate.TotalDeployments, &cfrRating,
		&snap.MTTR.AverageHours, &snap.MTTR.MedianHours,
		&snap.MTTR.Incidents, &mttrRating,
		&overall, &snap.GeneratedAt,
	)
	if err != nil {
		return nil, err
	}

	snap.Period.Type = domain.PeriodType(periodType)
	snap.DeploymentFrequency.Rating = domain.Rating(dfRating)
	snap.LeadTime.Rating = domain.Rating(ltRating)
	snap.ChangeFailureRate.Rating = domain.Rating(cfrRating)
	snap.MTTR.Rating = domain.Rating(mttrRating)
	snap.OverallRating = domain.Rating(overall)
	return &snap, nil
}

// GetLatestSnapshot retrieves the most recently generated snapshot
func (s *postgresStorage) GetLatestSnapshot(ctx context.Context, periodType domain.PeriodType) (*domain.Snapshot, error) {
	query := selectSnapshotSQL
	args := []interface{}{}
	if periodType != "" {
		query += ` WHERE period_type = $1`
		args = append(args, string(periodType))
	}
	query += ` ORDER BY generated_at DESC LIMIT 1`

	snap, err := scanSnapshot(s.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError("snapshot")
	}
	return snap, err
}

// GetSnapshotsInRange retrieves snapshots whose periods fall within the range
func (s *postgresStorage) GetSnapshotsInRange(ctx context.Context, start, end time.Time, periodType domain.PeriodType) ([]*domain.Snapshot, error) {
	query := selectSnapshotSQL + ` WHERE period_start >= $1 AND period_end <= $2`
	args := []interface{}{start, end}
	if periodType != "" {
		query += ` AND period_type = $3`
		args = append(args, string(periodType))
	}
	query += ` ORDER BY period_start ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snapshots []*domain.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, rows.Err()
}

// GetRecentSnapshots retrieves the most recent N snapshots in chronological order
func (s *postgresStorage) GetRecentSnapshots(ctx context.Context, periods int, periodType domain.PeriodType) ([]*domain.Snapshot, error) {
	query := selectSnapshotSQL + ` WHERE period_type = $1 ORDER BY period_start DESC LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, string(periodType), periods)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snapshots []*domain.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(snapshots)-1; i < j; i, j = i+1, j-1 {
		snapshots[i], snapshots[j] = snapshots[j], snapshots[i]
	}
	return snapshots, nil
}

// GetDeploymentsInRange retrieves deployments within a date range
func (s *postgresStorage) GetDeploymentsInRange(ctx context.Context, start, end time.Time, status string, limit int) ([]domain.DeploymentEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT github_deployment_id, sha, ref, environment, status, created_at
		FROM deployments
		WHERE created_at >= $1 AND created_at <= $2
	`
	args := []interface{}{start, end}
	if status != "" {
		query += ` AND status = $3 ORDER BY created_at DESC LIMIT $4`
		args = append(args, status, limit)
	} else {
		query += ` ORDER BY created_at DESC LIMIT $3`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deployments []domain.DeploymentEvent
	for rows.Next() {
		var d domain.DeploymentEvent
		var statusStr string
		if err := rows.Scan(&d.ID, &d.SHA, &d.Ref, &d.Environment, &statusStr, &d.CreatedAt); err != nil {
			return nil, err
		}
		d.Status = domain.DeploymentStatus(statusStr)
		deployments = append(deployments, d)
	}
	return deployments, rows.Err()
}

// GetIncidentsInRange retrieves incidents within a date range
func (s *postgresStorage) GetIncidentsInRange(ctx context.Context, start, end time.Time, severity string, limit int) ([]domain.IncidentEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT incident_id, name, status, severity, created_at, resolved_at, impact_started_at,
			duration_seconds, time_to_resolve_hours, is_change_related, is_user_impacting
		FROM incidents
		WHERE created_at >= $1 AND created_at <= $2
	`
	args := []interface{}{start, end}
	if severity != "" {
		query += ` AND severity = $3 ORDER BY created_at DESC LIMIT $4`
		args = append(args, severity, limit)
	} else {
		query += ` ORDER BY created_at DESC LIMIT $3`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var incidents []domain.IncidentEvent
	for rows.Next() {
		var inc domain.IncidentEvent
		var severityStr string
		var resolvedAt, impactStartedAt sql.NullTime
		var durationSeconds, timeToResolve sql.NullFloat64

		err := rows.Scan(&inc.ID, &inc.Name, &inc.Status, &severityStr, &inc.CreatedAt,
			&resolvedAt, &impactStartedAt, &durationSeconds, &timeToResolve,
			&inc.ChangeRelated, &inc.UserImpacting)
		if err != nil {
			return nil, err
		}

		inc.Severity = domain.Severity(severityStr)
		if resolvedAt.Valid {
			inc.ResolvedAt = &resolvedAt.Time
		}
		if impactStartedAt.Valid {
			inc.ImpactStartedAt = &impactStartedAt.Time
		}
		if durationSeconds.Valid {
			inc.DurationSeconds = &durationSeconds.Float64
		}
		if timeToResolve.Valid {
			inc.TimeToResolveHours = &timeToResolve.Float64
		}
		incidents = append(incidents, inc)
	}
	return incidents, rows.Err()
}

// Close closes the database connection
func (s *postgresStorage) Close() error {
	return s.db.Close()
}
