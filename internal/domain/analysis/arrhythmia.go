package analysis

import (
	"fmt"
	"math"
	"strings"

	"github.com/pacetrack/pacetrack/internal/domain/trend"
	"github.com/pacetrack/pacetrack/internal/platform/stats"
)

const VariableAFibBurden = "afib_burden_percent"

// Burden classifications and their severities.
const (
	BurdenMinimal    = "minimal"
	BurdenParoxysmal = "paroxysmal"
	BurdenPersistent = "persistent"
	BurdenChronic    = "chronic"
)

// BurdenConfig holds the burden cutoffs in percent.
type BurdenConfig struct {
	ParoxysmalPct float64
	PersistentPct float64
	ChronicPct    float64

	// ModeratePct splits the low and moderate recommendation bands.
	ModeratePct   float64
	RollingWindow int

	// StableSlope is the per-observation change below which burden is stable.
	StableSlope float64

	// SignificanceP is the p-value a slope must beat to count as a trend.
	SignificanceP float64
}

func DefaultBurdenConfig() BurdenConfig {
	return BurdenConfig{
		ParoxysmalPct: 1,
		PersistentPct: 10,
		ChronicPct:    40,
		ModeratePct:   20,
		RollingWindow: 7,
		StableSlope:   0.5,
		SignificanceP: 0.1,
	}
}

type BurdenTrend struct {
	Direction  string  `json:"direction"`
	Slope      float64 `json:"slope_percent_per_observation"`
	RSquared   float64 `json:"r_squared"`
	PValue     float64 `json:"p_value"`
	Confidence string  `json:"confidence"`
}

type Classification struct {
	Type          string  `json:"type"`
	Severity      string  `json:"severity"`
	VariabilityCV float64 `json:"variability_cv"`
	Description   string  `json:"description"`
}

// TimeMetrics counts observations at or above each recommendation band.
type TimeMetrics struct {
	AboveLow         int     `json:"observations_above_low_burden"`
	AboveModerate    int     `json:"observations_above_moderate_burden"`
	AboveHigh        int     `json:"observations_above_high_burden"`
	PctAboveLow      float64 `json:"percent_above_low_burden"`
	PctAboveModerate float64 `json:"percent_above_moderate_burden"`
	PctAboveHigh     float64 `json:"percent_above_high_burden"`
}

// BurdenAnalysis is the arrhythmia burden review of one variable.
type BurdenAnalysis struct {
	PatientID      string          `json:"patient_id"`
	Variable       string          `json:"variable"`
	CanAnalyze     bool            `json:"can_analyze"`
	Reason         string          `json:"reason,omitempty"`
	DataPoints     int             `json:"data_points"`
	MeanBurden     float64         `json:"mean_burden"`
	MedianBurden   float64         `json:"median_burden"`
	MinBurden      float64         `json:"min_burden"`
	MaxBurden      float64         `json:"max_burden"`
	CurrentBurden  float64         `json:"current_burden"`
	StdDeviation   float64         `json:"std_deviation"`
	RollingAverage []float64       `json:"rolling_average,omitempty"`
	Classification *Classification `json:"classification,omitempty"`
	Trend          BurdenTrend     `json:"trend"`
	TimeMetrics    *TimeMetrics    `json:"time_metrics,omitempty"`
	Period         *Period         `json:"observation_period,omitempty"`
	Recommendation string          `json:"recommendation"`
}

// IsBurdenVariable reports whether variable names a burden percentage.
func IsBurdenVariable(variable string) bool {
	v := strings.ToLower(variable)
	return strings.Contains(v, "burden") || strings.Contains(v, "afib")
}

// AnalyzeBurden classifies the mean burden and fits a trend over the
// observation index. Fewer than two points yields CanAnalyze=false.
func AnalyzeBurden(t *trend.LongitudinalTrend, cfg BurdenConfig) BurdenAnalysis {
	a := BurdenAnalysis{
		PatientID:  t.PatientID,
		Variable:   t.VariableName,
		DataPoints: t.Len(),
		Trend:      BurdenTrend{Direction: DirectionUnknown, Confidence: "insufficient_data"},
	}
	if t.Len() < 2 {
		a.Reason = reasonInsufficient
		a.Recommendation = "Insufficient data for recommendation. Collect more transmissions."
		return a
	}
	a.CanAnalyze = true

	sum := stats.Summarize(t.Values)
	a.MeanBurden = sum.Mean
	a.MedianBurden = sum.Median
	a.MinBurden = sum.Min
	a.MaxBurden = sum.Max
	a.StdDeviation = sum.Std
	a.CurrentBurden = t.Values[t.Len()-1]

	if t.Len() >= 3 {
		a.RollingAverage = rollingValid(t.Values, cfg.RollingWindow)
		a.Trend = burdenTrend(t.Values, cfg)
	}
	a.Classification = classify(sum, cfg)
	a.TimeMetrics = timeMetrics(t.Values, cfg)

	start, end := t.TimePoints[0], t.TimePoints[t.Len()-1]
	a.Period = &Period{Start: start, End: end, Days: int(end.Sub(start) / day)}
	a.Recommendation = burdenRecommendation(a, cfg)
	return a
}

// rollingValid returns the means of every full window, as a valid-mode
// convolution would. The window shrinks to the series length.
func rollingValid(values []float64, window int) []float64 {
	if window <= 0 || window > len(values) {
		window = len(values)
	}
	return stats.RollingMean(values, window)[window-1:]
}

// burdenTrend calls a direction only when the slope is both large enough
// and significant.
func burdenTrend(values []float64, cfg BurdenConfig) BurdenTrend {
	fit, err := stats.LinearRegression(indexes(len(values)), values)
	if err != nil {
		return BurdenTrend{Direction: DirectionUnknown, Confidence: "insufficient_data"}
	}
	bt := BurdenTrend{
		Direction: DirectionStable,
		Slope:     fit.Slope,
		RSquared:  fit.RSquared,
		PValue:    fit.PValue,
	}
	if math.Abs(fit.Slope) >= cfg.StableSlope && fit.PValue < cfg.SignificanceP {
		if fit.Slope > 0 {
			bt.Direction = DirectionUp
		} else {
			bt.Direction = DirectionDown
		}
	}
	switch {
	case fit.RSquared > 0.8 && fit.PValue < 0.05:
		bt.Confidence = ConfidenceHigh
	case fit.RSquared > 0.5 && fit.PValue < 0.1:
		bt.Confidence = ConfidenceMedium
	default:
		bt.Confidence = ConfidenceLow
	}
	return bt
}

func classify(sum stats.Summary, cfg BurdenConfig) *Classification {
	c := &Classification{}
	switch {
	case sum.Mean < cfg.ParoxysmalPct:
		c.Type, c.Severity = BurdenMinimal, "none"
		c.Description = fmt.Sprintf("Minimal burden (%.1f%%). No significant arrhythmia detected.", sum.Mean)
	case sum.Mean < cfg.PersistentPct:
		c.Type, c.Severity = BurdenParoxysmal, "low"
		c.Description = fmt.Sprintf("Paroxysmal pattern (%.1f%%). Intermittent episodes.", sum.Mean)
	case sum.Mean <= cfg.ChronicPct:
		c.Type, c.Severity = BurdenPersistent, "moderate"
		c.Description = fmt.Sprintf("Persistent pattern (%.1f%%). Regular sustained episodes.", sum.Mean)
	default:
		c.Type, c.Severity = BurdenChronic, "high"
		c.Description = fmt.Sprintf("Chronic pattern (%.1f%%). High continuous burden.", sum.Mean)
	}
	if sum.Mean > 0 {
		c.VariabilityCV = sum.Std / sum.Mean * 100
	}
	return c
}

func timeMetrics(values []float64, cfg BurdenConfig) *TimeMetrics {
	m := &TimeMetrics{}
	for _, v := range values {
		if v >= cfg.PersistentPct {
			m.AboveLow++
		}
		if v >= cfg.ModeratePct {
			m.AboveModerate++
		}
		if v >= cfg.ChronicPct {
			m.AboveHigh++
		}
	}
	n := float64(len(values))
	m.PctAboveLow = float64(m.AboveLow) / n * 100
	m.PctAboveModerate = float64(m.AboveModerate) / n * 100
	m.PctAboveHigh = float64(m.AboveHigh) / n * 100
	return m
}

// burdenRecommendation crosses the current burden band with the trend
// direction.
func burdenRecommendation(a BurdenAnalysis, cfg BurdenConfig) string {
	rising := a.Trend.Direction == DirectionUp
	switch cur := a.CurrentBurden; {
	case cur >= cfg.ChronicPct:
		return "HIGH BURDEN: Consider rhythm control strategy and anticoagulation review."
	case cur >= cfg.ModeratePct && rising:
		return "MODERATE BURDEN (Increasing): Monitor closely. Consider intervention."
	case cur >= cfg.ModeratePct:
		return "MODERATE BURDEN: Continue monitoring and current treatment."
	case cur >= cfg.PersistentPct && rising:
		return "LOW BURDEN (Increasing trend): Monitor for progression."
	case cur >= cfg.PersistentPct:
		return "LOW BURDEN: Continue routine monitoring."
	case rising && a.Classification != nil && a.Classification.Type != BurdenMinimal:
		return "MINIMAL BURDEN (Increasing trend): Continue routine device monitoring and review at next follow-up."
	default:
		return "MINIMAL BURDEN: Continue routine device monitoring."
	}
}
