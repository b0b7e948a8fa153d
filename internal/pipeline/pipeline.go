package pipeline

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/doratrack/doratrack/internal/domain"
	"github.com/doratrack/doratrack/internal/dora"
	apperrors "github.com/doratrack/doratrack/internal/errors"
	"github.com/doratrack/doratrack/internal/source"
	"github.com/doratrack/doratrack/internal/storage"
)

// Reporter receives a persisted snapshot for publication. Reporting
// failures are logged and never fail the pipeline run.
type Reporter interface {
	SnapshotSaved(ctx context.Context, snapshot *domain.Snapshot, counts storage.PeriodCounts) error
}

// Pipeline runs the full collect-calculate-persist cycle for a period
type Pipeline interface {
	Run(ctx context.Context, period domain.Period) (*domain.Snapshot, storage.PeriodCounts, error)
	RunCurrent(ctx context.Context, periodType domain.PeriodType) (*domain.Snapshot, storage.PeriodCounts, error)
}

type pipeline struct {
	sources   source.Set
	store     storage.Store
	reporters []Reporter
}

// NewPipeline creates a pipeline over the given sources and store.
// Reporters are optional.
func NewPipeline(sources source.Set, store storage.Store, reporters ...Reporter) Pipeline {
	return &pipeline{
		sources:   sources,
		store:     store,
		reporters: reporters,
	}
}

// Run fetches all sources for the period, computes the metrics snapshot
// and persists raw events plus snapshot in one transaction. Any source
// failure fails the whole period and nothing is written.
func (p *pipeline) Run(ctx context.Context, period domain.Period) (*domain.Snapshot, storage.PeriodCounts, error) {
	log.Printf("[pipeline] starting run for %s period %s to %s",
		period.Type, period.Start.Format("2006-01-02"), period.End.Format("2006-01-02"))

	data, err := p.fetchAll(ctx, period)
	if err != nil {
		return nil, storage.PeriodCounts{}, err
	}

	log.Printf("[pipeline] fetched %d deployments, %d pull requests, %d incidents",
		len(data.Deployments), len(data.Changes), len(data.Incidents))

	snapshot := dora.Calculate(data, period, time.Now().UTC())

	counts, err := p.store.SavePeriod(ctx, data, &snapshot)
	if err != nil {
		return nil, counts, err
	}

	log.Printf("[pipeline] saved snapshot %d (overall rating %s)", snapshot.ID, snapshot.OverallRating)

	for _, r := range p.reporters {
		if err := r.SnapshotSaved(ctx, &snapshot, counts); err != nil {
			log.Printf("[pipeline] warning: reporter failed: %v", err)
		}
	}

	return &snapshot, counts, nil
}

// RunCurrent runs the pipeline for the most recent complete period
func (p *pipeline) RunCurrent(ctx context.Context, periodType domain.PeriodType) (*domain.Snapshot, storage.PeriodCounts, error) {
	return p.Run(ctx, domain.CurrentPeriod(time.Now().UTC(), periodType))
}

// fetchAll fans out one goroutine per configured source and merges the
// results. The merged result is discarded if any source returned an error.
func (p *pipeline) fetchAll(ctx context.Context, period domain.Period) (domain.FetchResult, error) {
	var (
		result domain.FetchResult
		errs   []error
		mu     sync.Mutex
		wg     sync.WaitGroup
	)

	for _, src := range p.sources.Deployments {
		wg.Add(1)
		go func(src source.DeploymentSource) {
			defer wg.Done()
			batch, err := src.FetchDeployments(ctx, period)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("deployments from %s: %w", src.Name(), err))
				return
			}
			logSkips(src.Name(), batch.Skipped)
			result.Deployments = append(result.Deployments, batch.Events...)
		}(src)
	}

	for _, src := range p.sources.Changes {
		wg.Add(1)
		go func(src source.ChangeSource) {
			defer wg.Done()
			batch, err := src.FetchChanges(ctx, period)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("changes from %s: %w", src.Name(), err))
				return
			}
			logSkips(src.Name(), batch.Skipped)
			result.Changes = append(result.Changes, batch.Events...)
		}(src)
	}

	for _, src := range p.sources.Incidents {
		wg.Add(1)
		go func(src source.IncidentSource) {
			defer wg.Done()
			batch, err := src.FetchIncidents(ctx, period)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("incidents from %s: %w", src.Name(), err))
				return
			}
			logSkips(src.Name(), batch.Skipped)
			result.Incidents = append(result.Incidents, batch.Events...)
		}(src)
	}

	wg.Wait()

	if len(errs) > 0 {
		for _, err := range errs {
			log.Printf("[pipeline] source failure: %v", err)
		}
		return domain.FetchResult{}, apperrors.NewUpstreamBatchError("pipeline", errs[0])
	}

	return result, nil
}

func logSkips(name string, skipped []source.Skip) {
	for _, s := range skipped {
		log.Printf("[pipeline] warning: %s skipped %s: %s", name, s.Resource, s.Reason)
	}
}
