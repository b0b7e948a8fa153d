package domain

// PeriodResult records the outcome of processing one period during a
// backfill. Error is empty on success; counts reflect the records upserted
// for the period.
type PeriodResult struct {
	Period       Period `json:"period"`
	Deployments  int    `json:"deployments"`
	PullRequests int    `json:"pull_requests"`
	Incidents    int    `json:"incidents"`
	SnapshotID   int64  `json:"snapshot_id,omitempty"`
	Error        string `json:"error,omitempty"`
	Progress     string `json:"progress"` // "i/total"
}

// Succeeded reports whether the period was processed without error
func (r PeriodResult) Succeeded() bool {
	return r.Error == ""
}

// BackfillSummary is the terminal result of a backfill run
type BackfillSummary struct {
	TotalPeriods int            `json:"total_periods"`
	Succeeded    int            `json:"successful"`
	Failed       int            `json:"failed"`
	Results      []PeriodResult `json:"results"`
}
