package dora

import (
	"sort"
	"time"

	"github.com/doratrack/doratrack/internal/domain"
)

// Calculate computes all four DORA metrics from fetched data for one
// period. It is a pure function: no I/O, deterministic for identical
// inputs. Only change-related incidents participate in change failure
// rate and MTTR.
func Calculate(data domain.FetchResult, period domain.Period, generatedAt time.Time) domain.Snapshot {
	var changeIncidents []domain.IncidentEvent
	for _, inc := range data.Incidents {
		if inc.ChangeRelated {
			changeIncidents = append(changeIncidents, inc)
		}
	}

	snapshot := domain.Snapshot{
		Period:              period,
		DeploymentFrequency: deploymentFrequency(data.Deployments, period),
		LeadTime:            leadTime(data.Changes),
		ChangeFailureRate:   changeFailureRate(data.Deployments, changeIncidents),
		MTTR:                mttr(changeIncidents),
		GeneratedAt:         generatedAt,
	}
	snapshot.OverallRating = OverallRating(snapshot)
	return snapshot
}

// deploymentFrequency counts successful deployments per day over the period
func deploymentFrequency(deployments []domain.DeploymentEvent, period domain.Period) domain.DeploymentFrequency {
	total := 0
	for _, d := range deployments {
		if d.Status == domain.DeploymentSuccess {
			total++
		}
	}

	perDay := float64(total) / float64(period.Days())
	return domain.DeploymentFrequency{
		PerDay:  perDay,
		PerWeek: perDay * 7,
		Total:   total,
		Rating:  deploymentFrequencyRating(perDay),
	}
}

func deploymentFrequencyRating(perDay float64) domain.Rating {
	switch {
	case perDay >= 1:
		return domain.RatingElite
	case perDay >= 1.0/7:
		return domain.RatingHigh
	case perDay >= 1.0/30:
		return domain.RatingMedium
	default:
		return domain.RatingLow
	}
}

// leadTime measures merge time minus first-commit time (or creation time
// when the first commit is unknown) for every merged change, in hours
func leadTime(changes []domain.ChangeEvent) domain.LeadTime {
	var hours []float64
	for _, c := range changes {
		if c.MergedAt == nil {
			continue
		}
		start := c.CreatedAt
		if c.FirstCommitAt != nil {
			start = *c.FirstCommitAt
		}
		hours = append(hours, c.MergedAt.Sub(start).Hours())
	}

	if len(hours) == 0 {
		return domain.LeadTime{Rating: domain.RatingLow}
	}

	sorted := append([]float64(nil), hours...)
	sort.Float64s(sorted)

	sum := 0.0
	for _, h := range hours {
		sum += h
	}
	med := median(sorted)

	p90 := med
	if idx := int(float64(len(sorted)) * 0.9); idx < len(sorted) {
		p90 = sorted[idx]
	}

	return domain.LeadTime{
		AverageHours: sum / float64(len(hours)),
		MedianHours:  med,
		P90Hours:     p90,
		Rating:       leadTimeRating(med),
	}
}

func leadTimeRating(medianHours float64) domain.Rating {
	switch {
	case medianHours < 1:
		return domain.RatingElite
	case medianHours < 24:
		return domain.RatingHigh
	case medianHours < 168:
		return domain.RatingMedium
	default:
		return domain.RatingLow
	}
}

// changeFailureRate divides change-related incidents by successful
// deployments. Zero deployments with zero incidents rates elite: no
// deployments, no failures.
func changeFailureRate(deployments []domain.DeploymentEvent, incidents []domain.IncidentEvent) domain.ChangeFailureRate {
	successful := 0
	for _, d := range deployments {
		if d.Status == domain.DeploymentSuccess {
			successful++
		}
	}

	if successful == 0 {
		return domain.ChangeFailureRate{Rating: domain.RatingElite}
	}

	failed := len(incidents)
	percentage := float64(failed) / float64(successful) * 100

	return domain.ChangeFailureRate{
		Percentage:       percentage,
		FailedChanges:    failed,
		TotalDeployments: successful,
		Rating:           changeFailureRateRating(percentage),
	}
}

func changeFailureRateRating(percentage float64) domain.Rating {
	switch {
	case percentage <= 5:
		return domain.RatingElite
	case percentage <= 10:
		return domain.RatingHigh
	case percentage <= 15:
		return domain.RatingMedium
	default:
		return domain.RatingLow
	}
}

// mttr averages recovery time over incidents with a known resolution
// duration. No qualifying incidents rates elite: absence of incidents is
// best-case, not unknown.
func mttr(incidents []domain.IncidentEvent) domain.MTTR {
	var hours []float64
	for _, inc := range incidents {
		if h, ok := inc.ResolutionHours(); ok {
			hours = append(hours, h)
		}
	}

	if len(hours) == 0 {
		return domain.MTTR{Rating: domain.RatingElite}
	}

	sorted := append([]float64(nil), hours...)
	sort.Float64s(sorted)

	sum := 0.0
	for _, h := range hours {
		sum += h
	}
	med := median(sorted)

	return domain.MTTR{
		AverageHours: sum / float64(len(hours)),
		MedianHours:  med,
		Incidents:    len(incidents),
		Rating:       mttrRating(med),
	}
}

func mttrRating(medianHours float64) domain.Rating {
	switch {
	case medianHours < 1:
		return domain.RatingElite
	case medianHours < 24:
		return domain.RatingHigh
	case medianHours < 168:
		return domain.RatingMedium
	default:
		return domain.RatingLow
	}
}

// OverallRating averages the four per-metric ratings on their ordinal
// scale and re-buckets the result
func OverallRating(s domain.Snapshot) domain.Rating {
	sum := s.DeploymentFrequency.Rating.Ordinal() +
		s.LeadTime.Rating.Ordinal() +
		s.ChangeFailureRate.Rating.Ordinal() +
		s.MTTR.Rating.Ordinal()
	avg := float64(sum) / 4

	switch {
	case avg >= 3.5:
		return domain.RatingElite
	case avg >= 2.5:
		return domain.RatingHigh
	case avg >= 1.5:
		return domain.RatingMedium
	default:
		return domain.RatingLow
	}
}

// median returns the statistical median of an ascending-sorted slice
func median(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
