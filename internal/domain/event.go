package domain

import "time"

// DeploymentStatus represents the terminal or in-flight state of a deployment
type DeploymentStatus string

const (
	DeploymentSuccess    DeploymentStatus = "success"
	DeploymentFailure    DeploymentStatus = "failure"
	DeploymentPending    DeploymentStatus = "pending"
	DeploymentInProgress DeploymentStatus = "in_progress"
)

// Severity represents incident severity
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityMajor    Severity = "major"
	SeverityMinor    Severity = "minor"
)

// DeploymentEvent represents one deployment fetched from an upstream source.
// ID is the upstream's deployment identifier and is unique per source.
// Status may be refreshed on re-fetch; the other fields are fixed at creation.
type DeploymentEvent struct {
	ID          int64            `json:"id"`
	SHA         string           `json:"sha"`
	Ref         string           `json:"ref"`
	Environment string           `json:"environment"`
	Status      DeploymentStatus `json:"status"`
	CreatedAt   time.Time        `json:"created_at"`
}

// ChangeEvent represents one pull request. Only changes with a merge
// timestamp participate in lead-time calculation.
type ChangeEvent struct {
	Number        int        `json:"number"`
	Title         string     `json:"title"`
	CreatedAt     time.Time  `json:"created_at"`
	MergedAt      *time.Time `json:"merged_at,omitempty"`
	FirstCommitAt *time.Time `json:"first_commit_at,omitempty"`
}

// IncidentEvent represents one incident from an incident source.
// Only change-related incidents count toward change failure rate and MTTR.
//
// Recovery time is resolved in priority order: the source's precomputed
// duration, resolved-at minus impact-started-at, then resolved-at minus
// created-at.
type IncidentEvent struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	Status             string     `json:"status"`
	Severity           Severity   `json:"severity"`
	CreatedAt          time.Time  `json:"created_at"`
	ResolvedAt         *time.Time `json:"resolved_at,omitempty"`
	ImpactStartedAt    *time.Time `json:"impact_started_at,omitempty"`
	DurationSeconds    *float64   `json:"duration_seconds,omitempty"`
	TimeToResolveHours *float64   `json:"time_to_resolve_hours,omitempty"`
	ChangeRelated      bool       `json:"is_change_related"`
	UserImpacting      bool       `json:"is_user_impacting"`
}

// ResolutionHours returns the incident's recovery time in hours, or false
// if no resolution information is available.
func (i IncidentEvent) ResolutionHours() (float64, bool) {
	if i.TimeToResolveHours != nil {
		return *i.TimeToResolveHours, true
	}
	if i.DurationSeconds != nil {
		return *i.DurationSeconds / 3600, true
	}
	if i.ResolvedAt == nil {
		return 0, false
	}
	start := i.CreatedAt
	if i.ImpactStartedAt != nil {
		start = *i.ImpactStartedAt
	}
	return i.ResolvedAt.Sub(start).Hours(), true
}

// FetchResult holds the raw events collected from all sources for one period
type FetchResult struct {
	Deployments []DeploymentEvent `json:"deployments"`
	Changes     []ChangeEvent     `json:"pull_requests"`
	Incidents   []IncidentEvent   `json:"incidents"`
}
