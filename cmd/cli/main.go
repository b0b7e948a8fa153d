package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/doratrack/doratrack/internal/config"
	"github.com/doratrack/doratrack/internal/domain"
	"github.com/doratrack/doratrack/internal/pipeline"
	"github.com/doratrack/doratrack/internal/report"
	"github.com/doratrack/doratrack/internal/source"
	"github.com/doratrack/doratrack/internal/storage"
	"github.com/doratrack/doratrack/internal/storage/postgres"
	"github.com/doratrack/doratrack/internal/storage/sqlite"
	"github.com/doratrack/doratrack/pkg/client"
)

var (
	outputJSON    bool
	startDate     string
	endDate       string
	periodTypeStr string
	trendPeriods  int
	serverURL     string
)

var rootCmd = &cobra.Command{
	Use:   "doratrack",
	Short: "DORA metrics tracking tool",
	Long: `A CLI tool for collecting engineering delivery data and computing DORA metrics.

This tool fetches deployments and pull requests from GitHub, incidents from
incident.io, Linear and Slab, computes the four DORA metrics per calendar
period and stores the results locally.`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline for the most recent complete period",
	Long:  `Fetch all sources for the most recent complete period, compute the DORA metrics snapshot and persist it.`,
	RunE:  runPipeline,
}

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Run the pipeline over a historical date range",
	Long:  `Process every complete period between --start and --end sequentially. A failed period is recorded and the run continues.`,
	RunE:  runBackfill,
}

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "List the periods a backfill would process",
	RunE:  runPreview,
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the latest metrics snapshot",
	RunE:  runShowLatest,
}

var showTrendCmd = &cobra.Command{
	Use:   "trend",
	Short: "Show recent snapshots in chronological order",
	RunE:  runShowTrend,
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print a markdown report for the latest snapshot",
	RunE:  runReport,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringVar(&startDate, "start", "", "start date (YYYY-MM-DD)")
	rootCmd.PersistentFlags().StringVar(&endDate, "end", "", "end date (YYYY-MM-DD)")
	rootCmd.PersistentFlags().StringVar(&periodTypeStr, "period-type", "weekly", "period type (weekly, monthly)")
	showTrendCmd.Flags().IntVar(&trendPeriods, "periods", 12, "number of periods to show")
	showCmd.PersistentFlags().StringVar(&serverURL, "server", "", "read from a running API server instead of local storage (e.g. http://localhost:8080)")
	reportCmd.Flags().StringVar(&serverURL, "server", "", "read from a running API server instead of local storage")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(backfillCmd)
	rootCmd.AddCommand(previewCmd)
	rootCmd.AddCommand(showCmd)
	showCmd.AddCommand(showTrendCmd)
	rootCmd.AddCommand(reportCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func getStorage(cfg *config.Config) (storage.Store, error) {
	switch cfg.StorageType {
	case "postgres":
		return postgres.NewPostgresStorage(cfg.PostgresURL)
	default:
		return sqlite.NewSQLiteStorage(cfg.SQLitePath)
	}
}

func getPeriodType() (domain.PeriodType, error) {
	switch periodTypeStr {
	case "weekly":
		return domain.PeriodWeekly, nil
	case "monthly":
		return domain.PeriodMonthly, nil
	default:
		return "", fmt.Errorf("period type must be weekly or monthly, got %q", periodTypeStr)
	}
}

func getDateRange() (time.Time, time.Time, error) {
	if startDate == "" || endDate == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("--start and --end are required")
	}
	start, err := time.Parse("2006-01-02", startDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start date: %w", err)
	}
	end, err := time.Parse("2006-01-02", endDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end date: %w", err)
	}
	return start, end, nil
}

// buildSources wires up every source that has credentials configured.
// GitHub is required; incident sources are optional.
func buildSources(cfg *config.Config) (source.Set, error) {
	var set source.Set

	gh, err := source.NewGitHub(cfg.GitHubToken, cfg.GitHubOrg, cfg.SourceDelay)
	if err != nil {
		return set, err
	}
	set.Deployments = append(set.Deployments, gh)
	set.Changes = append(set.Changes, gh)

	if cfg.IncidentIOAPIKey != "" {
		inc, err := source.NewIncidentIO(cfg.IncidentIOAPIKey, cfg.IncidentChangeRelatedDefault, cfg.SourceDelay)
		if err != nil {
			return set, err
		}
		set.Incidents = append(set.Incidents, inc)
	}

	if cfg.LinearAPIKey != "" {
		lin, err := source.NewLinear(cfg.LinearAPIKey, cfg.IncidentChangeRelatedDefault, cfg.SourceDelay)
		if err != nil {
			return set, err
		}
		set.Incidents = append(set.Incidents, lin)
	}

	if cfg.SlabAPIToken != "" && cfg.SlabTeamID != "" {
		slab, err := source.NewSlab(cfg.SlabAPIToken, cfg.SlabTeamID, cfg.IncidentChangeRelatedDefault, cfg.SourceDelay)
		if err != nil {
			return set, err
		}
		set.Incidents = append(set.Incidents, slab)
	}

	return set, nil
}

func buildPipeline(cfg *config.Config, store storage.Store) (pipeline.Pipeline, error) {
	sources, err := buildSources(cfg)
	if err != nil {
		return nil, err
	}

	var reporters []pipeline.Reporter
	if cfg.SlackWebhookURL != "" {
		reporters = append(reporters, report.NewSlackNotifier(cfg.SlackWebhookURL))
	}
	return pipeline.NewPipeline(sources, store, reporters...), nil
}

func runPipeline(cmd *cobra.Command, args []string) error {
	periodType, err := getPeriodType()
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	store, err := getStorage(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	p, err := buildPipeline(cfg, store)
	if err != nil {
		return err
	}

	snapshot, counts, err := p.RunCurrent(context.Background(), periodType)
	if err != nil {
		return err
	}

	if outputJSON {
		return printJSON(snapshot)
	}

	fmt.Printf("Stored %d deployments, %d pull requests, %d incidents\n\n",
		counts.Deployments, counts.PullRequests, counts.Incidents)
	printSnapshot(snapshot)
	return nil
}

func runBackfill(cmd *cobra.Command, args []string) error {
	periodType, err := getPeriodType()
	if err != nil {
		return err
	}
	start, end, err := getDateRange()
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	store, err := getStorage(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	p, err := buildPipeline(cfg, store)
	if err != nil {
		return err
	}
	b := pipeline.NewBackfill(p, cfg.BackfillDelay)

	summary, err := b.Run(context.Background(), start, end, periodType, func(r domain.PeriodResult) {
		if r.Succeeded() {
			fmt.Printf("[%s] %s to %s: %d deployments, %d PRs, %d incidents (snapshot %d)\n",
				r.Progress, r.Period.Start.Format("2006-01-02"), r.Period.End.Format("2006-01-02"),
				r.Deployments, r.PullRequests, r.Incidents, r.SnapshotID)
		} else {
			fmt.Printf("[%s] %s to %s: FAILED: %s\n",
				r.Progress, r.Period.Start.Format("2006-01-02"), r.Period.End.Format("2006-01-02"), r.Error)
		}
	})
	if err != nil {
		return err
	}

	if outputJSON {
		return printJSON(summary)
	}

	fmt.Printf("\nBackfill complete: %d/%d periods succeeded, %d failed\n",
		summary.Succeeded, summary.TotalPeriods, summary.Failed)
	return nil
}

func runPreview(cmd *cobra.Command, args []string) error {
	periodType, err := getPeriodType()
	if err != nil {
		return err
	}
	start, end, err := getDateRange()
	if err != nil {
		return err
	}

	periods := domain.GeneratePeriods(start, end, periodType)

	if outputJSON {
		return printJSON(periods)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"#", "Start", "End", "Days"})
	for i, p := range periods {
		table.Append([]string{
			fmt.Sprintf("%d", i+1),
			p.Start.Format("2006-01-02"),
			p.End.Format("2006-01-02"),
			fmt.Sprintf("%d", p.Days()),
		})
	}
	table.Render()
	fmt.Printf("%d %s periods\n", len(periods), periodType)
	return nil
}

// fetchLatest reads the latest snapshot either over HTTP from a running
// server or from local storage, depending on --server.
func fetchLatest(periodType domain.PeriodType) (*domain.Snapshot, error) {
	if serverURL != "" {
		return client.NewClient(serverURL).GetLatestSnapshot(periodType)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	store, err := getStorage(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	return store.GetLatestSnapshot(context.Background(), periodType)
}

func fetchTrend(periods int, periodType domain.PeriodType) ([]*domain.Snapshot, error) {
	if serverURL != "" {
		return client.NewClient(serverURL).GetTrend(periods, periodType)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	store, err := getStorage(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	return store.GetRecentSnapshots(context.Background(), periods, periodType)
}

func runShowLatest(cmd *cobra.Command, args []string) error {
	periodType, err := getPeriodType()
	if err != nil {
		return err
	}

	snapshot, err := fetchLatest(periodType)
	if err != nil {
		return err
	}

	if outputJSON {
		return printJSON(snapshot)
	}

	printSnapshot(snapshot)
	return nil
}

func runShowTrend(cmd *cobra.Command, args []string) error {
	periodType, err := getPeriodType()
	if err != nil {
		return err
	}

	snapshots, err := fetchTrend(trendPeriods, periodType)
	if err != nil {
		return err
	}

	if outputJSON {
		return printJSON(snapshots)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Period", "Deploys/Day", "Lead Time (h)", "CFR %", "MTTR (h)", "Overall"})
	for _, s := range snapshots {
		table.Append([]string{
			s.Period.Start.Format("2006-01-02"),
			fmt.Sprintf("%.2f", s.DeploymentFrequency.PerDay),
			fmt.Sprintf("%.1f", s.LeadTime.MedianHours),
			fmt.Sprintf("%.1f", s.ChangeFailureRate.Percentage),
			fmt.Sprintf("%.1f", s.MTTR.MedianHours),
			string(s.OverallRating),
		})
	}
	table.Render()
	return nil
}

func runReport(cmd *cobra.Command, args []string) error {
	periodType, err := getPeriodType()
	if err != nil {
		return err
	}

	snapshot, err := fetchLatest(periodType)
	if err != nil {
		return err
	}

	fmt.Print(report.Markdown(snapshot))
	return nil
}

func printSnapshot(s *domain.Snapshot) {
	fmt.Printf("Period: %s to %s (%s)\n", s.Period.Start.Format("2006-01-02"),
		s.Period.End.Format("2006-01-02"), s.Period.Type)
	fmt.Printf("Overall rating: %s\n\n", s.OverallRating.Label())

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Metric", "Value", "Rating"})
	table.Append([]string{"Deployment Frequency",
		fmt.Sprintf("%.2f/day (%d total)", s.DeploymentFrequency.PerDay, s.DeploymentFrequency.Total),
		string(s.DeploymentFrequency.Rating)})
	table.Append([]string{"Lead Time for Changes",
		fmt.Sprintf("%.1fh median", s.LeadTime.MedianHours),
		string(s.LeadTime.Rating)})
	table.Append([]string{"Change Failure Rate",
		fmt.Sprintf("%.1f%% (%d/%d)", s.ChangeFailureRate.Percentage,
			s.ChangeFailureRate.FailedChanges, s.ChangeFailureRate.TotalDeployments),
		string(s.ChangeFailureRate.Rating)})
	table.Append([]string{"Time to Restore Service",
		fmt.Sprintf("%.1fh median (%d incidents)", s.MTTR.MedianHours, s.MTTR.Incidents),
		string(s.MTTR.Rating)})
	table.Render()
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
