package matrix

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Job runs one scenario group and returns its report.
type Job func(ctx context.Context) Report

// ExecuteGroups runs independent groups concurrently, at most limit at a
// time (limit <= 0 means unbounded). Each group stays serial internally and
// owns its fixture, so groups share no session. A failing group never
// cancels the others. Reports keep the order of jobs.
func ExecuteGroups(ctx context.Context, limit int, jobs ...Job) []Report {
	reports := make([]Report, len(jobs))
	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, job := range jobs {
		g.Go(func() error {
			reports[i] = job(ctx)
			return nil
		})
	}
	_ = g.Wait()
	return reports
}
