package sqlite

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/doratrack/doratrack/internal/domain"
	apperrors "github.com/doratrack/doratrack/internal/errors"
	"github.com/doratrack/doratrack/internal/storage"
)

// sqliteStorage implements the Store interface for SQLite
type sqliteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (storage.Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	s := &sqliteStorage{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		return nil, err
	}

	return s, nil
}

// Migrate runs database migrations
func (s *sqliteStorage) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS deployments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		github_deployment_id INTEGER NOT NULL UNIQUE,
		sha TEXT NOT NULL,
		ref TEXT NOT NULL,
		environment TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		fetched_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_deployments_created_status ON deployments(created_at, status);
	CREATE INDEX IF NOT EXISTS idx_deployments_environment ON deployments(environment);

	CREATE TABLE IF NOT EXISTS pull_requests (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		github_pr_number INTEGER NOT NULL UNIQUE,
		title TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		merged_at TIMESTAMP,
		first_commit_at TIMESTAMP,
		fetched_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_pull_requests_merged ON pull_requests(merged_at);

	CREATE TABLE IF NOT EXISTS incidents (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		incident_id TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		status TEXT NOT NULL,
		severity TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		resolved_at TIMESTAMP,
		impact_started_at TIMESTAMP,
		duration_seconds REAL,
		time_to_resolve_hours REAL,
		is_change_related INTEGER NOT NULL DEFAULT 1,
		is_user_impacting INTEGER NOT NULL DEFAULT 1,
		fetched_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_incidents_created_severity ON incidents(created_at, severity);

	CREATE TABLE IF NOT EXISTS dora_metrics_snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		period_type TEXT NOT NULL,
		period_start TIMESTAMP NOT NULL,
		period_end TIMESTAMP NOT NULL,
		df_deployments_per_day REAL NOT NULL,
		df_deployments_per_week REAL NOT NULL,
		df_total_deployments INTEGER NOT NULL,
		df_rating TEXT NOT NULL,
		lt_average_hours REAL NOT NULL,
		lt_median_hours REAL NOT NULL,
		lt_p90_hours REAL NOT NULL,
		lt_rating TEXT NOT NULL,
		cfr_percentage REAL NOT NULL,
		cfr_failed_changes INTEGER NOT NULL,
		cfr_total_deployments INTEGER NOT NULL,
		cfr_rating TEXT NOT NULL,
		mttr_average_hours REAL NOT NULL,
		mttr_median_hours REAL NOT NULL,
		mttr_incidents INTEGER NOT NULL,
		mttr_rating TEXT NOT NULL,
		overall_rating TEXT NOT NULL,
		generated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_snapshots_period ON dora_metrics_snapshots(period_type, period_start);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// execer abstracts *sql.DB and *sql.Tx so the upsert helpers can run
// standalone or inside a period transaction
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

const upsertDeploymentSQL = `
	INSERT INTO deployments (github_deployment_id, sha, ref, environment, status, created_at, fetched_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(github_deployment_id) DO UPDATE SET
		status = excluded.status,
		fetched_at = excluded.fetched_at
`

const upsertPullRequestSQL = `
	INSERT INTO pull_requests (github_pr_number, title, created_at, merged_at, first_commit_at, fetched_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(github_pr_number) DO UPDATE SET
		title = excluded.title,
		merged_at = excluded.merged_at,
		first_commit_at = excluded.first_commit_at,
		fetched_at = excluded.fetched_at
`

const upsertIncidentSQL = `
	INSERT INTO incidents (incident_id, name, status, severity, created_at, resolved_at, impact_started_at,
		duration_seconds, time_to_resolve_hours, is_change_related, is_user_impacting, fetched_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(incident_id) DO UPDATE SET
		name = excluded.name,
		status = excluded.status,
		severity = excluded.severity,
		resolved_at = excluded.resolved_at,
		impact_started_at = excluded.impact_started_at,
		duration_seconds = excluded.duration_seconds,
		time_to_resolve_hours = excluded.time_to_resolve_hours,
		is_change_related = excluded.is_change_related,
		is_user_impacting = excluded.is_user_impacting,
		fetched_at = excluded.fetched_at
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
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

func insertSnapshot(ctx context.Context, ex execer, snap *domain.Snapshot) (int64, error) {
	res, err := ex.ExecContext(ctx, insertSnapshotSQL,
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
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// UpsertDeployments upserts deployment records keyed by the GitHub deployment id
func (s *sqliteStorage) UpsertDeployments(ctx context.Context, deployments []domain.DeploymentEvent) (int, error) {
	return upsertDeployments(ctx, s.db, deployments)
}

// UpsertChanges upserts pull request records keyed by the PR number
func (s *sqliteStorage) UpsertChanges(ctx context.Context, changes []domain.ChangeEvent) (int, error) {
	return upsertChanges(ctx, s.db, changes)
}

// UpsertIncidents upserts incident records keyed by the incident id
func (s *sqliteStorage) UpsertIncidents(ctx context.Context, incidents []domain.IncidentEvent) (int, error) {
	return upsertIncidents(ctx, s.db, incidents)
}

// SavePeriod writes one period's raw events and snapshot in a single transaction
func (s *sqliteStorage) SavePeriod(ctx context.Context, data domain.FetchResult, snapshot *domain.Snapshot) (storage.PeriodCounts, error) {
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
func (s *sqliteStorage) CreateSnapshot(ctx context.Context, snapshot *domain.Snapshot) (int64, error) {
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
func (s *sqliteStorage) GetLatestSnapshot(ctx context.Context, periodType domain.PeriodType) (*domain.Snapshot, error) {
	query := selectSnapshotSQL
	args := []interface{}{}
	if periodType != "" {
		query += ` WHERE period_type = ?`
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
func (s *sqliteStorage) GetSnapshotsInRange(ctx context.Context, start, end time.Time, periodType domain.PeriodType) ([]*domain.Snapshot, error) {
	query := selectSnapshotSQL + ` WHERE period_start >= ? AND period_end <= ?`
	args := []interface{}{start, end}
	if periodType != "" {
		query += ` AND period_type = ?`
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
func (s *sqliteStorage) GetRecentSnapshots(ctx context.Context, periods int, periodType domain.PeriodType) ([]*domain.Snapshot, error) {
	query := selectSnapshotSQL + ` WHERE period_type = ? ORDER BY period_start DESC LIMIT ?`

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

	// Reverse into chronological order
	for i, j := 0, len(snapshots)-1; i < j; i, j = i+1, j-1 {
		snapshots[i], snapshots[j] = snapshots[j], snapshots[i]
	}
	return snapshots, nil
}

// GetDeploymentsInRange retrieves deployments within a date range
func (s *sqliteStorage) GetDeploymentsInRange(ctx context.Context, start, end time.Time, status string, limit int) ([]domain.DeploymentEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT github_deployment_id, sha, ref, environment, status, created_at
		FROM deployments
		WHERE created_at >= ? AND created_at <= ?
	`
	args := []interface{}{start, end}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

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
func (s *sqliteStorage) GetIncidentsInRange(ctx context.Context, start, end time.Time, severity string, limit int) ([]domain.IncidentEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT incident_id, name, status, severity, created_at, resolved_at, impact_started_at,
			duration_seconds, time_to_resolve_hours, is_change_related, is_user_impacting
		FROM incidents
		WHERE created_at >= ? AND created_at <= ?
	`
	args := []interface{}{start, end}
	if severity != "" {
		query += ` AND severity = ?`
		args = append(args, severity)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

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
func (s *sqliteStorage) Close() error {
	return s.db.Close()
}
