package ingest

import (
	"context"
	"time"

	"github.com/rs/xid"

	"github.com/sig-0/p2pquotes/storage/types"
)

// dueRun is a queued pipeline run, ordered by due time
type dueRun struct {
	at         time.Time
	pipelineID xid.ID
}

func (a dueRun) Less(b dueRun) bool {
	return a.at.Before(b.at)
}

// runOutcome is reported back to the scheduler once a run finishes
type runOutcome struct {
	err        error
	summary    *types.RunSummary
	pipelineID xid.ID
}

// execute runs the pipeline once and reports the outcome,
// unless the scheduler is shutting down
func execute(
	ctx context.Context,
	pipelineID xid.ID,
	runner Runner,
	outcomes chan<- *runOutcome,
) {
	summary, err := runner.Run(ctx)

	select {
	case <-ctx.Done():
	case outcomes <- &runOutcome{
		err:        err,
		summary:    summary,
		pipelineID: pipelineID,
	}:
	}
}
