package ingest

import (
	"context"
	"time"

	"github.com/sig-0/p2pquotes/storage/types"
)

// Adapter is a single P2P quote source
type Adapter interface {
	// Source returns the source the adapter fetches from
	Source() types.Source

	// Fetch fetches the listings for the query, sorted ascending by price.
	// Failures are *provider.FetchError
	Fetch(ctx context.Context, q types.Query) (*types.FetchResult, error)
}

// Exporter receives the summary of every completed run
type Exporter interface {
	Export(ctx context.Context, summary *types.RunSummary) error
}

// Runner is a pipeline the scheduler runs on a fixed interval
type Runner interface {
	// Name returns the unique pipeline name
	Name() string

	// Interval returns the time between the end of a run and the start of the next
	Interval() time.Duration

	// Run executes a single pipeline run
	Run(ctx context.Context) (*types.RunSummary, error)
}
