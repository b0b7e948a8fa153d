package domain

import "time"

// Rating represents a DORA performance rating level
type Rating string

const (
	RatingElite  Rating = "elite"
	RatingHigh   Rating = "high"
	RatingMedium Rating = "medium"
	RatingLow    Rating = "low"
)

// Ordinal maps a rating to its numeric rank: low=1 through elite=4
func (r Rating) Ordinal() int {
	switch r {
	case RatingElite:
		return 4
	case RatingHigh:
		return 3
	case RatingMedium:
		return 2
	default:
		return 1
	}
}

// Label returns the human-facing performer label for a rating
func (r Rating) Label() string {
	switch r {
	case RatingElite:
		return "Elite Performer"
	case RatingHigh:
		return "High Performer"
	case RatingMedium:
		return "Medium Performer"
	default:
		return "Low Performer"
	}
}

// DeploymentFrequency is the deployment frequency metric block
type DeploymentFrequency struct {
	PerDay  float64 `json:"deployments_per_day"`
	PerWeek float64 `json:"deployments_per_week"`
	Total   int     `json:"total_deployments"`
	Rating  Rating  `json:"rating"`
}

// LeadTime is the lead time for changes metric block
type LeadTime struct {
	AverageHours float64 `json:"average_hours"`
	MedianHours  float64 `json:"median_hours"`
	P90Hours     float64 `json:"p90_hours"`
	Rating       Rating  `json:"rating"`
}

// ChangeFailureRate is the change failure rate metric block.
// FailedChanges counts change-related incidents; the denominator is the
// number of successful deployments in the period.
type ChangeFailureRate struct {
	Percentage       float64 `json:"percentage"`
	FailedChanges    int     `json:"failed_changes"`
	TotalDeployments int     `json:"total_deployments"`
	Rating           Rating  `json:"rating"`
}

// MTTR is the mean time to recovery metric block
type MTTR struct {
	AverageHours float64 `json:"average_hours"`
	MedianHours  float64 `json:"median_hours"`
	Incidents    int     `json:"incidents"`
	Rating       Rating  `json:"rating"`
}

// Snapshot is a point-in-time record of all four DORA metrics for one
// period. Snapshots are append-only: each pipeline run creates a new row
// and existing rows are never updated, so the history supports trend
// queries over time.
type Snapshot struct {
	ID                  int64               `json:"id,omitempty"`
	Period              Period              `json:"period"`
	DeploymentFrequency DeploymentFrequency `json:"deployment_frequency"`
	LeadTime            LeadTime            `json:"lead_time"`
	ChangeFailureRate   ChangeFailureRate   `json:"change_failure_rate"`
	MTTR                MTTR                `json:"mttr"`
	OverallRating       Rating              `json:"overall_rating"`
	GeneratedAt         time.Time           `json:"generated_at"`
}
