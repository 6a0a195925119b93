package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/sig-0/p2pquotes/storage/types"
)

type (
	nameDelegate     func() string
	intervalDelegate func() time.Duration
	runDelegate      func(context.Context) (*types.RunSummary, error)

	sourceDelegate func() types.Source
	fetchDelegate  func(context.Context, types.Query) (*types.FetchResult, error)

	exportDelegate func(context.Context, *types.RunSummary) error
)

type mockRunner struct {
	nameFn     nameDelegate
	intervalFn intervalDelegate
	runFn      runDelegate
}

func (m *mockRunner) Name() string {
	if m.nameFn != nil {
		return m.nameFn()
	}

	return ""
}

func (m *mockRunner) Interval() time.Duration {
	if m.intervalFn != nil {
		return m.intervalFn()
	}

	return 0
}

func (m *mockRunner) Run(ctx context.Context) (*types.RunSummary, error) {
	if m.runFn != nil {
		return m.runFn(ctx)
	}

	return nil, nil
}

type mockAdapter struct {
	sourceFn sourceDelegate
	fetchFn  fetchDelegate
}

func (m *mockAdapter) Source() types.Source {
	if m.sourceFn != nil {
		return m.sourceFn()
	}

	return ""
}

func (m *mockAdapter) Fetch(ctx context.Context, q types.Query) (*types.FetchResult, error) {
	if m.fetchFn != nil {
		return m.fetchFn(ctx, q)
	}

	return &types.FetchResult{Success: true}, nil
}

type mockExporter struct {
	exportFn exportDelegate
}

func (m *mockExporter) Export(ctx context.Context, summary *types.RunSummary) error {
	if m.exportFn != nil {
		return m.exportFn(ctx, summary)
	}

	return nil
}

// fakeClock is a manual clock. Sleeps advance it instantly
type fakeClock struct {
	now    time.Time
	sleeps []time.Duration

	mux sync.Mutex
}

func newFakeClock() *fakeClock {
	return &fakeClock{
		now: time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC),
	}
}

func (c *fakeClock) Now() time.Time {
	c.mux.Lock()
	defer c.mux.Unlock()

	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mux.Lock()
	defer c.mux.Unlock()

	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)

	return ctx.Err()
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mux.Lock()
	defer c.mux.Unlock()

	return append([]time.Duration(nil), c.sleeps...)
}
