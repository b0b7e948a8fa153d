package source

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/go-github/v55/github"
	"golang.org/x/oauth2"

	"github.com/doratrack/doratrack/internal/domain"
	apperrors "github.com/doratrack/doratrack/internal/errors"
)

// repoConcurrency bounds the per-repository fan-out so one fetch does not
// overwhelm the GitHub API
const repoConcurrency = 5

// GitHub fetches deployments and pull requests from a GitHub organization.
// It implements both DeploymentSource and ChangeSource.
type GitHub struct {
	client      *github.Client
	org         string
	rateLimiter RateLimiter
}

// NewGitHub creates a GitHub source for an organization. Token and org are
// required; their absence is a configuration error surfaced before any
// fetch is attempted.
func NewGitHub(token, org string, delay time.Duration) (*GitHub, error) {
	if token == "" || org == "" {
		return nil, apperrors.NewConfigurationError("GITHUB_TOKEN and GITHUB_ORG are required")
	}

	ctx := context.Background()
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	tc := oauth2.NewClient(ctx, ts)

	return &GitHub{
		client:      github.NewClient(tc),
		org:         org,
		rateLimiter: NewRateLimiter(delay),
	}, nil
}

// Name returns the source name
func (g *GitHub) Name() string {
	return "github"
}

// listRepos retrieves all active (non-archived) repositories in the organization
func (g *GitHub) listRepos(ctx context.Context) ([]string, error) {
	if err := g.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	var names []string
	opts := &github.RepositoryListByOrgOptions{
		Type:        "all",
		ListOptions: github.ListOptions{PerPage: 100},
	}

	for {
		repos, resp, err := g.client.Repositories.ListByOrg(ctx, g.org, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list repositories: %w", err)
		}

		g.updateRateLimitFromResponse(resp)

		for _, repo := range repos {
			if repo.GetArchived() {
				continue
			}
			names = append(names, repo.GetName())
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage

		if err := g.rateLimiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	return names, nil
}

// FetchDeployments retrieves deployments created within the period across
// all repositories. A failure in one repository is recorded as a skip;
// the batch fails only when the repository listing itself fails.
func (g *GitHub) FetchDeployments(ctx context.Context, period domain.Period) (DeploymentBatch, error) {
	repos, err := g.listRepos(ctx)
	if err != nil {
		return DeploymentBatch{}, apperrors.NewUpstreamBatchError(g.Name(), err)
	}

	var batch DeploymentBatch
	var mu sync.Mutex
	var wg sync.WaitGroup
	semaphore := make(chan struct{}, repoConcurrency)

	for _, repo := range repos {
		wg.Add(1)
		go func(repo string) {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			deployments, err := g.repoDeployments(ctx, repo, period)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Printf("[github] warning: failed to fetch deployments for %s: %v", repo, err)
				batch.Skipped = append(batch.Skipped, Skip{Resource: repo, Reason: err.Error()})
				return
			}
			batch.Events = append(batch.Events, deployments...)
		}(repo)
	}
	wg.Wait()

	return batch, nil
}

// repoDeployments pages through one repository's deployments, filters to
// the period, and enriches each with its latest status
func (g *GitHub) repoDeployments(ctx context.Context, repo string, period domain.Period) ([]domain.DeploymentEvent, error) {
	if err := g.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	var deployments []domain.DeploymentEvent
	opts := &github.DeploymentsListOptions{
		ListOptions: github.ListOptions{PerPage: 100},
	}

	for {
		deps, resp, err := g.client.Repositories.ListDeployments(ctx, g.org, repo, opts)
		if err != nil {
			// Repositories without deployments return 404
			if resp != nil && resp.StatusCode == 404 {
				return deployments, nil
			}
			return nil, fmt.Errorf("failed to list deployments for %s/%s: %w", g.org, repo, err)
		}

		g.updateRateLimitFromResponse(resp)

		for _, dep := range deps {
			createdAt := dep.GetCreatedAt().Time
			if createdAt.Before(period.Start) || createdAt.After(period.End) {
				continue
			}

			deployments = append(deployments, domain.DeploymentEvent{
				ID:          dep.GetID(),
				SHA:         dep.GetSHA(),
				Ref:         dep.GetRef(),
				Environment: dep.GetEnvironment(),
				Status:      g.deploymentStatus(ctx, repo, dep.GetID()),
				CreatedAt:   createdAt,
			})
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage

		if err := g.rateLimiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	return deployments, nil
}

// deploymentStatus looks up a deployment's latest status. An enrichment
// failure degrades that single deployment to pending rather than failing
// the batch.
func (g *GitHub) deploymentStatus(ctx context.Context, repo string, deploymentID int64) domain.DeploymentStatus {
	if err := g.rateLimiter.Wait(ctx); err != nil {
		return domain.DeploymentPending
	}

	statuses, resp, err := g.client.Repositories.ListDeploymentStatuses(ctx, g.org, repo, deploymentID, &github.ListOptions{PerPage: 1})
	if err != nil || len(statuses) == 0 {
		return domain.DeploymentPending
	}
	g.updateRateLimitFromResponse(resp)

	switch statuses[0].GetState() {
	case "success":
		return domain.DeploymentSuccess
	case "failure", "error":
		return domain.DeploymentFailure
	case "in_progress", "queued":
		return domain.DeploymentInProgress
	default:
		return domain.DeploymentPending
	}
}

// FetchChanges retrieves pull requests merged within the period across all
// repositories. Per-repository failures are recorded as skips.
func (g *GitHub) FetchChanges(ctx context.Context, period domain.Period) (ChangeBatch, error) {
	repos, err := g.listRepos(ctx)
	if err != nil {
		return ChangeBatch{}, apperrors.NewUpstreamBatchError(g.Name(), err)
	}

	var batch ChangeBatch
	var mu sync.Mutex
	var wg sync.WaitGroup
	semaphore := make(chan struct{}, repoConcurrency)

	for _, repo := range repos {
		wg.Add(1)
		go func(repo string) {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			changes, err := g.repoChanges(ctx, repo, period)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Printf("[github] warning: failed to fetch pull requests for %s: %v", repo, err)
				batch.Skipped = append(batch.Skipped, Skip{Resource: repo, Reason: err.Error()})
				return
			}
			batch.Events = append(batch.Events, changes...)
		}(repo)
	}
	wg.Wait()

	return batch, nil
}

// repoChanges pages through one repository's closed pull requests, keeps
// those merged within the period, and enriches each with its first commit
// date
func (g *GitHub) repoChanges(ctx context.Context, repo string, period domain.Period) ([]domain.ChangeEvent, error) {
	if err := g.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	var changes []domain.ChangeEvent
	opts := &github.PullRequestListOptions{
		State:       "closed",
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: github.ListOptions{PerPage: 100},
	}

	for {
		prs, resp, err := g.client.PullRequests.List(ctx, g.org, repo, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list pull requests for %s/%s: %w", g.org, repo, err)
		}

		g.updateRateLimitFromResponse(resp)

		for _, pr := range prs {
			// Merging touches updated_at, so once the feed (sorted by
			// updated desc) falls before the period start no later page
			// can hold a qualifying merge.
			if pr.GetUpdatedAt().Time.Before(period.Start) {
				return changes, nil
			}
			if pr.MergedAt == nil {
				continue
			}
			mergedAt := pr.MergedAt.Time
			if mergedAt.Before(period.Start) || mergedAt.After(period.End) {
				continue
			}

			changes = append(changes, domain.ChangeEvent{
				Number:        pr.GetNumber(),
				Title:         pr.GetTitle(),
				CreatedAt:     pr.GetCreatedAt().Time,
				MergedAt:      &mergedAt,
				FirstCommitAt: g.firstCommitAt(ctx, repo, pr.GetNumber()),
			})
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage

		if err := g.rateLimiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	return changes, nil
}

// firstCommitAt looks up the date of a pull request's first commit.
// Enrichment failure degrades to nil, leaving lead time to fall back to
// the PR's creation date.
func (g *GitHub) firstCommitAt(ctx context.Context, repo string, number int) *time.Time {
	if err := g.rateLimiter.Wait(ctx); err != nil {
		return nil
	}

	commits, resp, err := g.client.PullRequests.ListCommits(ctx, g.org, repo, number, &github.ListOptions{PerPage: 1})
	if err != nil || len(commits) == 0 {
		return nil
	}
	g.updateRateLimitFromResponse(resp)

	if commit := commits[0].GetCommit(); commit != nil && commit.Committer != nil {
		t := commit.Committer.GetDate().Time
		return &t
	}
	return nil
}

// updateRateLimitFromResponse updates the rate limiter from API response headers
func (g *GitHub) updateRateLimitFromResponse(resp *github.Response) {
	if resp != nil && resp.Rate.Remaining >= 0 {
		g.rateLimiter.UpdateLimit(resp.Rate.Remaining, resp.Rate.Reset.Time)
	}
}
