package hydration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/rabbitt-console/internal/model/analytics"
	"github.com/zhouzirui/rabbitt-console/internal/model/filter"
	"github.com/zhouzirui/rabbitt-console/internal/notify"
)

type fakeFetcher struct {
	mu       sync.Mutex
	gates    map[string]chan struct{}
	started  chan string
	failures map[analytics.Dataset]error
	panicOn  analytics.Dataset
	payloads []filter.Payload
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		gates:    map[string]chan struct{}{},
		failures: map[analytics.Dataset]error{},
	}
}

func regionOf(p filter.Payload) string {
	if v, ok := p["region"].([]string); ok && len(v) > 0 {
		return v[0]
	}
	return ""
}

func salesFor(region string) float64 {
	switch region {
	case "A":
		return 100
	case "B":
		return 200
	default:
		return 1
	}
}

func (f *fakeFetcher) enter(ctx context.Context, ds analytics.Dataset, p filter.Payload) error {
	f.mu.Lock()
	f.payloads = append(f.payloads, p)
	gate := f.gates[regionOf(p)]
	err := f.failures[ds]
	panicOn := f.panicOn
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if panicOn == ds {
		panic("boom")
	}
	return err
}

func (f *fakeFetcher) FetchKPIs(ctx context.Context, p filter.Payload) (*analytics.KPIBlock, error) {
	if err := f.enter(ctx, analytics.DatasetKPIs, p); err != nil {
		return nil, err
	}
	return &analytics.KPIBlock{TotalSales: salesFor(regionOf(p))}, nil
}

func (f *fakeFetcher) FetchSeries(ctx context.Context, p filter.Payload) ([]analytics.SeriesPoint, error) {
	if err := f.enter(ctx, analytics.DatasetSeries, p); err != nil {
		return nil, err
	}
	return []analytics.SeriesPoint{{Period: "2024-01", Value: salesFor(regionOf(p))}}, nil
}

func (f *fakeFetcher) FetchBreakdown(ctx context.Context, p filter.Payload, groupBy string) ([]analytics.BreakdownRow, error) {
	ds := analytics.DatasetRegionSplit
	if groupBy == "category" {
		ds = analytics.DatasetCategorySplit
	}
	if err := f.enter(ctx, ds, p); err != nil {
		return nil, err
	}
	return []analytics.BreakdownRow{{Group: groupBy + "-" + regionOf(p), Value: salesFor(regionOf(p))}}, nil
}

func (f *fakeFetcher) FetchRecommendations(ctx context.Context, p filter.Payload) ([]string, error) {
	if err := f.enter(ctx, analytics.DatasetRecommendations, p); err != nil {
		return nil, err
	}
	return []string{"recommend " + regionOf(p)}, nil
}

func (f *fakeFetcher) FetchAnomalies(ctx context.Context, p filter.Payload) ([]analytics.Anomaly, error) {
	if err := f.enter(ctx, analytics.DatasetAnomalies, p); err != nil {
		return nil, err
	}
	return []analytics.Anomaly{{Date: "2024-01-05", Metric: "net_sales", Value: salesFor(regionOf(p)), ZScore: 3.1}}, nil
}

func TestHydrateCommitsAllDatasets(t *testing.T) {
	fetcher := newFakeFetcher()
	orch := New(fetcher, nil, zerolog.Nop())

	snap, err := orch.Hydrate(context.Background(), filter.State{Region: "A", Start: "2024-01-01"})
	require.NoError(t, err)

	assert.False(t, snap.Loading)
	assert.Equal(t, uint64(1), snap.Generation)
	require.NotNil(t, snap.Result.KPIs)
	assert.Equal(t, 100.0, snap.Result.KPIs.TotalSales)
	assert.Len(t, snap.Result.Series, 1)
	assert.Equal(t, "region-A", snap.Result.RegionSplit[0].Group)
	assert.Equal(t, "category-A", snap.Result.CategorySplit[0].Group)
	assert.Equal(t, []string{"recommend A"}, snap.Result.Recommendations)
	assert.Len(t, snap.Result.Anomalies, 1)
	assert.Empty(t, snap.Failed)

	fetcher.mu.Lock()
	defer fetcher.mu.Unlock()
	require.Len(t, fetcher.payloads, 6)
	for _, p := range fetcher.payloads {
		assert.Equal(t, filter.Payload{"region": []string{"A"}, "start": "2024-01-01"}, p)
	}
}

func TestHydrateLateStaleResponseDoesNotOverwrite(t *testing.T) {
	fetcher := newFakeFetcher()
	gateA := make(chan struct{})
	fetcher.gates["A"] = gateA

	var commits []Snapshot
	var mu sync.Mutex
	orch := New(fetcher, nil, zerolog.Nop())
	orch.Watch(func(s Snapshot) {
		if s.Loading {
			return
		}
		mu.Lock()
		commits = append(commits, s)
		mu.Unlock()
	})

	errA := make(chan error, 1)
	go func() {
		_, err := orch.Hydrate(context.Background(), filter.State{Region: "A"})
		errA <- err
	}()

	require.Eventually(t, func() bool {
		fetcher.mu.Lock()
		defer fetcher.mu.Unlock()
		return len(fetcher.payloads) == 6
	}, time.Second, 5*time.Millisecond)

	snapB, err := orch.Hydrate(context.Background(), filter.State{Region: "B"})
	require.NoError(t, err)
	assert.Equal(t, 200.0, snapB.Result.KPIs.TotalSales)

	close(gateA)
	require.ErrorIs(t, <-errA, ErrSuperseded)

	final := orch.Snapshot()
	assert.Equal(t, uint64(2), final.Generation)
	assert.Equal(t, "B", final.Filters.Region)
	assert.Equal(t, 200.0, final.Result.KPIs.TotalSales)
	assert.False(t, final.Loading)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, commits, 1)
	assert.Equal(t, "B", commits[0].Filters.Region)
}

func TestHydrateLoadingTracksCurrentGeneration(t *testing.T) {
	fetcher := newFakeFetcher()
	gateA := make(chan struct{})
	gateB := make(chan struct{})
	fetcher.gates["A"] = gateA
	fetcher.gates["B"] = gateB
	orch := New(fetcher, nil, zerolog.Nop())

	done := make(chan struct{}, 2)
	go func() { orch.Hydrate(context.Background(), filter.State{Region: "A"}); done <- struct{}{} }()
	require.Eventually(t, orch.Loading, time.Second, 5*time.Millisecond)

	go func() { orch.Hydrate(context.Background(), filter.State{Region: "B"}); done <- struct{}{} }()
	require.Eventually(t, func() bool {
		fetcher.mu.Lock()
		defer fetcher.mu.Unlock()
		return len(fetcher.payloads) == 12
	}, time.Second, 5*time.Millisecond)

	// the stale generation settling must not clear the flag for the current one
	close(gateA)
	<-done
	assert.True(t, orch.Loading())

	close(gateB)
	<-done
	assert.False(t, orch.Loading())
}

func TestHydratePartialFailureKeepsPreviousValues(t *testing.T) {
	fetcher := newFakeFetcher()
	rec := &notify.Recorder{}
	orch := New(fetcher, rec, zerolog.Nop())

	_, err := orch.Hydrate(context.Background(), filter.State{Region: "A"})
	require.NoError(t, err)

	fetcher.failures[analytics.DatasetKPIs] = errors.New("/api/metrics/kpi: unexpected status 500")
	snap, err := orch.Hydrate(context.Background(), filter.State{Region: "B"})
	require.NoError(t, err)

	assert.Equal(t, []analytics.Dataset{analytics.DatasetKPIs}, snap.Failed)
	assert.Equal(t, 100.0, snap.Result.KPIs.TotalSales, "failed slice keeps previous value")
	assert.Equal(t, 200.0, snap.Result.Series[0].Value, "other slices refresh")
	assert.False(t, snap.Loading)

	notices := rec.Notices()
	require.Len(t, notices, 1)
	assert.Equal(t, notify.LevelError, notices[0].Level)
	assert.Equal(t, "Failed to load KPIs", notices[0].Title)
	assert.Contains(t, notices[0].Message, "500")
}

func TestHydrateRecoversPanickingFetch(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.panicOn = analytics.DatasetAnomalies
	rec := &notify.Recorder{}
	orch := New(fetcher, rec, zerolog.Nop())

	snap, err := orch.Hydrate(context.Background(), filter.State{})
	require.NoError(t, err)
	assert.Equal(t, []analytics.Dataset{analytics.DatasetAnomalies}, snap.Failed)
	assert.False(t, orch.Loading())
	require.Len(t, rec.Notices(), 1)
	assert.Equal(t, "Failed to load anomalies", rec.Notices()[0].Title)
}

func TestWatchSeesLoadingThenCommit(t *testing.T) {
	orch := New(newFakeFetcher(), nil, zerolog.Nop())
	var seen []bool
	orch.Watch(func(s Snapshot) { seen = append(seen, s.Loading) })

	_, err := orch.Hydrate(context.Background(), filter.State{})
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false}, seen)
}

func TestRunHonorsBeginOrder(t *testing.T) {
	fetcher := newFakeFetcher()
	orch := New(fetcher, nil, zerolog.Nop())

	genA := orch.Begin(filter.State{Region: "A"})
	genB := orch.Begin(filter.State{Region: "B"})
	require.Less(t, genA, genB)
	assert.True(t, orch.Loading())

	// B finishes first, then the older A must not overwrite it
	snap, err := orch.Run(context.Background(), genB, filter.State{Region: "B"})
	require.NoError(t, err)
	assert.Equal(t, genB, snap.Generation)

	_, err = orch.Run(context.Background(), genA, filter.State{Region: "A"})
	assert.ErrorIs(t, err, ErrSuperseded)

	got := orch.Snapshot()
	assert.Equal(t, filter.State{Region: "B"}, got.Filters)
	assert.Equal(t, 200.0, got.Result.KPIs.TotalSales)
	assert.False(t, orch.Loading())
}
