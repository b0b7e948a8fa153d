package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/doratrack/doratrack/internal/domain"
	apperrors "github.com/doratrack/doratrack/internal/errors"
)

// Backfill runs the pipeline over every period in a historical range
type Backfill interface {
	Preview(start, end time.Time, periodType domain.PeriodType) []domain.Period
	Run(ctx context.Context, start, end time.Time, periodType domain.PeriodType, onResult func(domain.PeriodResult)) (domain.BackfillSummary, error)
}

type backfill struct {
	pipeline Pipeline
	delay    time.Duration
}

// NewBackfill creates a backfill runner. The delay is applied between
// consecutive periods to stay inside upstream rate budgets.
func NewBackfill(p Pipeline, delay time.Duration) Backfill {
	return &backfill{pipeline: p, delay: delay}
}

// Preview returns the periods a backfill over the range would process,
// without running anything.
func (b *backfill) Preview(start, end time.Time, periodType domain.PeriodType) []domain.Period {
	return domain.GeneratePeriods(start, end, periodType)
}

// Run processes each period in order. A failed period is recorded in its
// result and the run continues with the next one; only an empty range or
// a cancelled context aborts the whole run. onResult, when non-nil, is
// invoked after each period completes.
func (b *backfill) Run(ctx context.Context, start, end time.Time, periodType domain.PeriodType, onResult func(domain.PeriodResult)) (domain.BackfillSummary, error) {
	periods := domain.GeneratePeriods(start, end, periodType)
	if len(periods) == 0 {
		return domain.BackfillSummary{}, apperrors.NewBadRequestError("date range contains no complete periods")
	}

	summary := domain.BackfillSummary{
		TotalPeriods: len(periods),
		Results:      make([]domain.PeriodResult, 0, len(periods)),
	}

	log.Printf("[backfill] starting: %d %s periods from %s to %s",
		len(periods), periodType, start.Format("2006-01-02"), end.Format("2006-01-02"))

	for i, period := range periods {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		result := domain.PeriodResult{
			Period:   period,
			Progress: fmt.Sprintf("%d/%d", i+1, len(periods)),
		}

		snapshot, counts, err := b.pipeline.Run(ctx, period)
		if err != nil {
			result.Error = err.Error()
			summary.Failed++
			log.Printf("[backfill] period %s failed: %v", period.Start.Format("2006-01-02"), err)
		} else {
			result.Deployments = counts.Deployments
			result.PullRequests = counts.PullRequests
			result.Incidents = counts.Incidents
			result.SnapshotID = snapshot.ID
			summary.Succeeded++
		}

		summary.Results = append(summary.Results, result)
		if onResult != nil {
			onResult(result)
		}

		// no delay after the last period
		if b.delay > 0 && i < len(periods)-1 {
			select {
			case <-time.After(b.delay):
			case <-ctx.Done():
				return summary, ctx.Err()
			}
		}
	}

	log.Printf("[backfill] done: %d succeeded, %d failed", summary.Succeeded, summary.Failed)
	return summary, nil
}
