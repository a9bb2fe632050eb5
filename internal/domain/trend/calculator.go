// Package trend builds longitudinal series of numeric observations per
// patient and variable.
package trend

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/pacetrack/pacetrack/internal/platform/cache"
	"github.com/pacetrack/pacetrack/internal/platform/stats"
)

// Calculator builds trends from an ObservationSource. Build and BuildAll
// only read, through the cache. Refresh persists snapshots and is run by
// the import path.
type Calculator struct {
	source    ObservationSource
	snapshots SnapshotStore
	cache     cache.Cache
	ttl       time.Duration
	logger    zerolog.Logger
	now       func() time.Time
}

// NewCalculator creates a Calculator. snapshots and c may be nil.
func NewCalculator(source ObservationSource, snapshots SnapshotStore, c cache.Cache, ttl time.Duration, logger zerolog.Logger) *Calculator {
	if ttl <= 0 {
		ttl = cache.DefaultTTL
	}
	return &Calculator{
		source:    source,
		snapshots: snapshots,
		cache:     c,
		ttl:       ttl,
		logger:    logger,
		now:       time.Now,
	}
}

// Build returns the trend of variable for patientID within w. Empty and
// single-point series are valid results.
func (c *Calculator) Build(ctx context.Context, patientID, variable string, w Window) (*LongitudinalTrend, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}

	key := cache.TrendKey(patientID, variable, w.Key())
	if c.cache != nil {
		var cached LongitudinalTrend
		err := c.cache.Get(ctx, key, &cached)
		if err == nil {
			return &cached, nil
		}
		if !errors.Is(err, cache.ErrMiss) {
			c.logger.Warn().Err(err).Str("variable", variable).Msg("trend cache read failed")
		}
	}

	points, err := c.source.NumericSeries(ctx, patientID, variable, w)
	if err != nil {
		return nil, fmt.Errorf("loading %s series: %w", variable, err)
	}
	t := Compute(patientID, variable, points)
	t.ComputedAt = c.now().UTC()

	if c.cache != nil {
		if err := c.cache.Set(ctx, key, t, c.ttl); err != nil {
			c.logger.Warn().Err(err).Str("variable", variable).Msg("trend cache write failed")
		}
	}
	return t, nil
}

// BuildAll builds one full-series trend per numeric variable the patient
// has, keyed by variable name.
func (c *Calculator) BuildAll(ctx context.Context, patientID string) (map[string]*LongitudinalTrend, error) {
	variables, err := c.source.Variables(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("listing variables: %w", err)
	}
	out := make(map[string]*LongitudinalTrend, len(variables))
	for _, v := range variables {
		t, err := c.Build(ctx, patientID, v, Window{})
		if err != nil {
			return nil, err
		}
		out[v] = t
	}
	return out, nil
}

// Refresh recomputes the full-series trend of every numeric variable the
// patient has and saves each non-empty one as a snapshot. It returns the
// number of snapshots written.
func (c *Calculator) Refresh(ctx context.Context, patientID string) (int, error) {
	if c.snapshots == nil {
		return 0, nil
	}
	variables, err := c.source.Variables(ctx, patientID)
	if err != nil {
		return 0, fmt.Errorf("listing variables: %w", err)
	}
	saved := 0
	for _, v := range variables {
		points, err := c.source.NumericSeries(ctx, patientID, v, Window{})
		if err != nil {
			return saved, fmt.Errorf("loading %s series: %w", v, err)
		}
		t := Compute(patientID, v, points)
		if t.Len() == 0 {
			continue
		}
		t.ComputedAt = c.now().UTC()
		if err := c.snapshots.Save(ctx, Window{}.Key(), t); err != nil {
			return saved, fmt.Errorf("saving %s trend: %w", v, err)
		}
		saved++
	}
	return saved, nil
}

// Compute orders points by time, keeping the incoming order on ties, and
// derives the descriptive statistics.
func Compute(patientID, variable string, points []Point) *LongitudinalTrend {
	sorted := append([]Point(nil), points...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Time.Before(sorted[j].Time)
	})

	t := &LongitudinalTrend{
		PatientID:    patientID,
		VariableName: variable,
		TimePoints:   make([]time.Time, len(sorted)),
		Values:       make([]float64, len(sorted)),
	}
	for i, p := range sorted {
		t.TimePoints[i] = p.Time
		t.Values[i] = p.Value
	}
	if len(sorted) == 0 {
		return t
	}

	s := stats.Summarize(t.Values)
	t.Min, t.Max, t.Mean, t.Std = &s.Min, &s.Max, &s.Mean, &s.Std
	start, end := t.TimePoints[0], t.TimePoints[len(sorted)-1]
	t.Start, t.End = &start, &end
	return t
}
