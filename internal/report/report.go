package report

import (
	"fmt"
	"strings"

	"github.com/doratrack/doratrack/internal/domain"
)

// Markdown renders a snapshot as a human-readable markdown report
func Markdown(snap *domain.Snapshot) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# DORA Metrics Report\n\n")
	fmt.Fprintf(&b, "**Period:** %s to %s (%s)\n\n",
		snap.Period.Start.Format("2006-01-02"), snap.Period.End.Format("2006-01-02"), snap.Period.Type)
	fmt.Fprintf(&b, "**Overall Rating:** %s\n\n", snap.OverallRating.Label())

	fmt.Fprintf(&b, "## Metrics\n\n")
	fmt.Fprintf(&b, "| Metric | Value | Rating |\n")
	fmt.Fprintf(&b, "|--------|-------|--------|\n")
	fmt.Fprintf(&b, "| Deployment Frequency | %.2f/day (%d total) | %s |\n",
		snap.DeploymentFrequency.PerDay, snap.DeploymentFrequency.Total, snap.DeploymentFrequency.Rating)
	fmt.Fprintf(&b, "| Lead Time for Changes | %.1fh median | %s |\n",
		snap.LeadTime.MedianHours, snap.LeadTime.Rating)
	fmt.Fprintf(&b, "| Change Failure Rate | %.1f%% (%d/%d) | %s |\n",
		snap.ChangeFailureRate.Percentage, snap.ChangeFailureRate.FailedChanges,
		snap.ChangeFailureRate.TotalDeployments, snap.ChangeFailureRate.Rating)
	fmt.Fprintf(&b, "| Time to Restore Service | %.1fh median (%d incidents) | %s |\n",
		snap.MTTR.MedianHours, snap.MTTR.Incidents, snap.MTTR.Rating)

	if highlights := highlights(snap); len(highlights) > 0 {
		fmt.Fprintf(&b, "\n## Highlights\n\n")
		for _, h := range highlights {
			fmt.Fprintf(&b, "- %s\n", h)
		}
	}

	if recs := recommendations(snap); len(recs) > 0 {
		fmt.Fprintf(&b, "\n## Recommendations\n\n")
		for _, r := range recs {
			fmt.Fprintf(&b, "- %s\n", r)
		}
	}

	fmt.Fprintf(&b, "\n_Generated at %s_\n", snap.GeneratedAt.Format("2006-01-02 15:04 UTC"))
	return b.String()
}

func highlights(snap *domain.Snapshot) []string {
	var out []string
	if snap.DeploymentFrequency.Rating == domain.RatingElite {
		out = append(out, fmt.Sprintf("Elite deployment frequency: %.2f deployments per day", snap.DeploymentFrequency.PerDay))
	}
	if snap.LeadTime.Rating == domain.RatingElite {
		out = append(out, fmt.Sprintf("Elite lead time: %.1fh median from first commit to merge", snap.LeadTime.MedianHours))
	}
	if snap.ChangeFailureRate.Rating == domain.RatingElite && snap.ChangeFailureRate.TotalDeployments > 0 {
		out = append(out, fmt.Sprintf("Change failure rate at %.1f%%", snap.ChangeFailureRate.Percentage))
	}
	if snap.MTTR.Rating == domain.RatingElite && snap.MTTR.Incidents > 0 {
		out = append(out, fmt.Sprintf("Fast recovery: %.1fh median time to restore", snap.MTTR.MedianHours))
	}
	return out
}

func recommendations(snap *domain.Snapshot) []string {
	var out []string
	if snap.DeploymentFrequency.Rating == domain.RatingLow || snap.DeploymentFrequency.Rating == domain.RatingMedium {
		out = append(out, "Increase deployment frequency with smaller, more frequent releases")
	}
	if snap.LeadTime.Rating == domain.RatingLow || snap.LeadTime.Rating == domain.RatingMedium {
		out = append(out, "Reduce lead time by splitting large pull requests and speeding up review")
	}
	if snap.ChangeFailureRate.Rating == domain.RatingLow || snap.ChangeFailureRate.Rating == domain.RatingMedium {
		out = append(out, "Reduce change failures with stronger pre-deployment test coverage")
	}
	if snap.MTTR.Rating == domain.RatingLow || snap.MTTR.Rating == domain.RatingMedium {
		out = append(out, "Improve time to restore with better alerting and rollback automation")
	}
	return out
}
