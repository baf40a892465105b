// Package hydration drives the coordinated six-request dashboard refresh.
package hydration

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/rabbitt-console/internal/metrics"
	"github.com/zhouzirui/rabbitt-console/internal/model/analytics"
	"github.com/zhouzirui/rabbitt-console/internal/model/filter"
	"github.com/zhouzirui/rabbitt-console/internal/notify"
)

// ErrSuperseded is returned when a newer hydration started before this one
// settled. Its results were discarded.
var ErrSuperseded = errors.New("hydration superseded by a newer request")

// Fetcher performs the six analytics queries.
type Fetcher interface {
	FetchKPIs(ctx context.Context, payload filter.Payload) (*analytics.KPIBlock, error)
	FetchSeries(ctx context.Context, payload filter.Payload) ([]analytics.SeriesPoint, error)
	FetchBreakdown(ctx context.Context, payload filter.Payload, groupBy string) ([]analytics.BreakdownRow, error)
	FetchRecommendations(ctx context.Context, payload filter.Payload) ([]string, error)
	FetchAnomalies(ctx context.Context, payload filter.Payload) ([]analytics.Anomaly, error)
}

// Snapshot is what the panels render: the last committed result plus the
// in-flight flag of the current generation.
type Snapshot struct {
	Generation uint64              `json:"generation"`
	Filters    filter.State        `json:"filters"`
	Loading    bool                `json:"loading"`
	Result     analytics.Result    `json:"result"`
	Failed     []analytics.Dataset `json:"failed,omitempty"`
}

// Orchestrator owns hydration generations and the committed result.
type Orchestrator struct {
	fetcher Fetcher
	sink    notify.Sink
	logger  zerolog.Logger

	mu         sync.Mutex
	generation uint64
	loading    bool
	committed  Snapshot
	watchers   []func(Snapshot)
}

// New creates an orchestrator. A nil sink discards notices.
func New(fetcher Fetcher, sink notify.Sink, logger zerolog.Logger) *Orchestrator {
	if sink == nil {
		sink = notify.Discard
	}
	return &Orchestrator{
		fetcher: fetcher,
		sink:    sink,
		logger:  logger.With().Str("component", "hydration").Logger(),
	}
}

// Watch registers fn to receive every loading transition and commit.
// fn runs on the hydrating goroutine and must not block.
func (o *Orchestrator) Watch(fn func(Snapshot)) {
	o.mu.Lock()
	o.watchers = append(o.watchers, fn)
	o.mu.Unlock()
}

// Snapshot returns the committed state and the current in-flight flag.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

// Loading reports whether the current generation is still unresolved.
func (o *Orchestrator) Loading() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.loading
}

func (o *Orchestrator) snapshotLocked() Snapshot {
	snap := o.committed
	snap.Loading = o.loading
	return snap
}

type slice struct {
	dataset analytics.Dataset
	value   any
	err     error
}

// Hydrate fetches all six datasets for filters and commits them together.
// Failed datasets keep their previous value and are reported to the sink.
// If a newer hydration began meanwhile, nothing is committed and
// ErrSuperseded is returned.
func (o *Orchestrator) Hydrate(ctx context.Context, filters filter.State) (Snapshot, error) {
	return o.Run(ctx, o.Begin(filters), filters)
}

// Begin reserves the next generation and raises the in-flight flag. Callers
// that run the fetch elsewhere call Begin in the order the selections were
// committed and pass the generation to Run.
func (o *Orchestrator) Begin(filters filter.State) uint64 {
	o.mu.Lock()
	o.generation++
	gen := o.generation
	o.loading = true
	loadingSnap := o.snapshotLocked()
	watchers := slices.Clone(o.watchers)
	o.mu.Unlock()

	publish(watchers, loadingSnap)
	o.logger.Debug().Uint64("generation", gen).Interface("filters", filters).Msg("hydration started")
	return gen
}

// Run fetches and commits generation gen reserved by Begin.
func (o *Orchestrator) Run(ctx context.Context, gen uint64, filters filter.State) (Snapshot, error) {
	payload := filter.ToPayload(filters)

	settled := false
	defer func() {
		if settled {
			return
		}
		o.mu.Lock()
		if o.generation == gen {
			o.loading = false
		}
		o.mu.Unlock()
	}()

	started := time.Now()
	results := make([]slice, len(analytics.Datasets))
	var wg sync.WaitGroup
	for i, ds := range analytics.Datasets {
		wg.Add(1)
		go func(i int, ds analytics.Dataset) {
			defer wg.Done()
			v, err := o.fetch(ctx, ds, payload)
			results[i] = slice{dataset: ds, value: v, err: err}
		}(i, ds)
	}
	wg.Wait()
	metrics.HydrationDuration.Observe(time.Since(started).Seconds())

	o.mu.Lock()
	if gen != o.generation {
		settled = true
		o.mu.Unlock()
		metrics.Hydrations.WithLabelValues("superseded").Inc()
		o.logger.Debug().Uint64("generation", gen).Msg("discarding stale hydration")
		return Snapshot{}, ErrSuperseded
	}

	next := o.committed.Result
	var failed []analytics.Dataset
	var failures []slice
	for _, r := range results {
		if r.err != nil {
			failed = append(failed, r.dataset)
			failures = append(failures, r)
			continue
		}
		apply(&next, r)
	}

	o.committed = Snapshot{Generation: gen, Filters: filters, Result: next, Failed: failed}
	o.loading = false
	settled = true
	snap := o.snapshotLocked()
	watchers := slices.Clone(o.watchers)
	o.mu.Unlock()

	metrics.Hydrations.WithLabelValues("committed").Inc()
	for _, f := range failures {
		metrics.HydrationFailures.WithLabelValues(string(f.dataset)).Inc()
		o.logger.Warn().Err(f.err).Str("dataset", string(f.dataset)).Uint64("generation", gen).Msg("dataset fetch failed")
		o.sink.Notify(notify.New(notify.LevelError, failureTitle(f.dataset), f.err.Error()))
	}
	publish(watchers, snap)

	return snap, nil
}

func (o *Orchestrator) fetch(ctx context.Context, ds analytics.Dataset, payload filter.Payload) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, fmt.Errorf("%s fetch panicked: %v", ds, r)
		}
	}()

	switch ds {
	case analytics.DatasetKPIs:
		return o.fetcher.FetchKPIs(ctx, payload)
	case analytics.DatasetSeries:
		return o.fetcher.FetchSeries(ctx, payload)
	case analytics.DatasetRegionSplit:
		return o.fetcher.FetchBreakdown(ctx, payload, "region")
	case analytics.DatasetCategorySplit:
		return o.fetcher.FetchBreakdown(ctx, payload, "category")
	case analytics.DatasetRecommendations:
		return o.fetcher.FetchRecommendations(ctx, payload)
	case analytics.DatasetAnomalies:
		return o.fetcher.FetchAnomalies(ctx, payload)
	default:
		return nil, fmt.Errorf("unknown dataset %q", ds)
	}
}

func apply(res *analytics.Result, s slice) {
	switch s.dataset {
	case analytics.DatasetKPIs:
		res.KPIs, _ = s.value.(*analytics.KPIBlock)
	case analytics.DatasetSeries:
		res.Series, _ = s.value.([]analytics.SeriesPoint)
	case analytics.DatasetRegionSplit:
		res.RegionSplit, _ = s.value.([]analytics.BreakdownRow)
	case analytics.DatasetCategorySplit:
		res.CategorySplit, _ = s.value.([]analytics.BreakdownRow)
	case analytics.DatasetRecommendations:
		res.Recommendations, _ = s.value.([]string)
	case analytics.DatasetAnomalies:
		res.Anomalies, _ = s.value.([]analytics.Anomaly)
	}
}

func failureTitle(ds analytics.Dataset) string {
	switch ds {
	case analytics.DatasetKPIs:
		return "Failed to load KPIs"
	case analytics.DatasetSeries:
		return "Failed to load time series"
	case analytics.DatasetRegionSplit:
		return "Failed to load regional split"
	case analytics.DatasetCategorySplit:
		return "Failed to load category mix"
	case analytics.DatasetRecommendations:
		return "Failed to load recommendations"
	case analytics.DatasetAnomalies:
		return "Failed to load anomalies"
	default:
		return "Failed to load data"
	}
}

func publish(watchers []func(Snapshot), snap Snapshot) {
	for _, fn := range watchers {
		fn(snap)
	}
}
