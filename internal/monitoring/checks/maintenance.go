package checks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/glavox/glavox-server/internal/monitoring"
)

// the slowest default cleaner schedule is @daily
const defaultMaintenanceMaxAge = 25 * time.Hour

// Maintenance degrades readiness when a cleaner job keeps failing or has not
// completed within maxAge. Jobs that have not run yet are reported but healthy.
func Maintenance(tracker *monitoring.JobTracker, maxAge time.Duration, now func() time.Time) monitoring.Check {
	if maxAge <= 0 {
		maxAge = defaultMaintenanceMaxAge
	}
	if now == nil {
		now = time.Now
	}

	return monitoring.NewCheck("maintenance", func(context.Context) monitoring.ProbeResult {
		start := time.Now()
		if tracker == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusUp, Details: "maintenance disabled"}
		}

		jobs := tracker.Snapshot()
		if len(jobs) == 0 {
			return monitoring.ProbeResult{Status: monitoring.StatusUp, Details: "no maintenance jobs registered", Duration: time.Since(start)}
		}

		status := monitoring.StatusUp
		notes := make([]string, 0, len(jobs))
		cutoff := now().Add(-maxAge)
		for _, job := range jobs {
			switch {
			case job.TotalRuns == 0:
				notes = append(notes, job.Job+": pending first run")
			case job.ConsecutiveFailures > 0:
				status = monitoring.StatusDegraded
				notes = append(notes, fmt.Sprintf("%s: %d consecutive failures (%s)", job.Job, job.ConsecutiveFailures, job.LastError))
			case job.LastRunAt.Before(cutoff):
				status = monitoring.StatusDegraded
				notes = append(notes, job.Job+": last run "+job.LastRunAt.UTC().Format(time.RFC3339))
			}
		}

		return monitoring.ProbeResult{
			Status:   status,
			Details:  strings.Join(notes, "; "),
			Duration: time.Since(start),
		}
	}).AsOptional()
}
