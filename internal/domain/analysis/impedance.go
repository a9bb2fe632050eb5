package analysis

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/pacetrack/pacetrack/internal/domain/trend"
	"github.com/pacetrack/pacetrack/internal/platform/stats"
)

const ImpedancePrefix = "lead_impedance"

// Anomaly types.
const (
	AnomalyFracture   = "possible_fracture"
	AnomalyInsulation = "possible_insulation_failure"
	AnomalyBelowRange = "below_normal_range"
	AnomalyAboveRange = "above_normal_range"
)

const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"
)

const (
	DirectionUp      = "increasing"
	DirectionDown    = "decreasing"
	DirectionStable  = "stable"
	DirectionUnknown = "unknown"
)

// Overall lead statuses, in increasing urgency after StatusInsufficient.
const (
	StatusInsufficient = "insufficient_data"
	StatusNormal       = "normal"
	StatusMonitor      = "monitor"
	StatusWarning      = "warning"
	StatusCritical     = "critical"
)

// ImpedanceConfig holds the anomaly thresholds in Ohms. The severity
// escalation points apply on top of the detection deltas.
type ImpedanceConfig struct {
	MinOhms         float64
	MaxOhms         float64
	FractureDelta   float64
	InsulationDelta float64

	FractureWarningDelta    float64
	FractureCriticalDelta   float64
	FractureWarningOhms     float64
	FractureCriticalOhms    float64
	InsulationWarningDelta  float64
	InsulationCriticalDelta float64
	InsulationWarningOhms   float64
	InsulationCriticalOhms  float64

	// TrendSlope is the per-transmission change below which a lead is stable.
	TrendSlope float64
}

func DefaultImpedanceConfig() ImpedanceConfig {
	return ImpedanceConfig{
		MinOhms:                 200,
		MaxOhms:                 1500,
		FractureDelta:           500,
		InsulationDelta:         300,
		FractureWarningDelta:    700,
		FractureCriticalDelta:   1000,
		FractureWarningOhms:     1800,
		FractureCriticalOhms:    2000,
		InsulationWarningDelta:  400,
		InsulationCriticalDelta: 500,
		InsulationWarningOhms:   150,
		InsulationCriticalOhms:  100,
		TrendSlope:              5,
	}
}

type Anomaly struct {
	Type           string    `json:"type"`
	Timestamp      time.Time `json:"timestamp"`
	PreviousValue  *float64  `json:"previous_value,omitempty"`
	CurrentValue   float64   `json:"current_value"`
	Delta          float64   `json:"delta"`
	Severity       string    `json:"severity"`
	Description    string    `json:"description"`
	Recommendation string    `json:"recommendation"`
}

type Stability struct {
	Score                  float64 `json:"score"`
	Rating                 string  `json:"rating"`
	CoefficientOfVariation float64 `json:"coefficient_of_variation"`
	Mean                   float64 `json:"mean"`
	Std                    float64 `json:"std"`
	DataPoints             int     `json:"data_points"`
	Confidence             string  `json:"confidence"`
}

type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Days  int       `json:"days"`
}

// LeadAnalysis is the impedance review of one lead.
type LeadAnalysis struct {
	Variable         string    `json:"variable"`
	LeadName         string    `json:"lead_name"`
	DataPoints       int       `json:"data_points"`
	CurrentImpedance float64   `json:"current_impedance"`
	Mean             float64   `json:"mean_impedance"`
	Min              float64   `json:"min_impedance"`
	Max              float64   `json:"max_impedance"`
	Range            float64   `json:"impedance_range"`
	TrendDirection   string    `json:"trend_direction"`
	TrendSlope       float64   `json:"trend_slope"`
	Stability        Stability `json:"stability"`
	Anomalies        []Anomaly `json:"anomalies"`
	CriticalCount    int       `json:"critical_anomalies"`
	WarningCount     int       `json:"warning_anomalies"`
	Status           string    `json:"overall_status"`
	Recommendation   string    `json:"recommendation"`
	Period           *Period   `json:"observation_period,omitempty"`
}

// ImpedanceReport covers every lead of a patient. Status is the worst lead
// status.
type ImpedanceReport struct {
	PatientID string         `json:"patient_id"`
	Leads     []LeadAnalysis `json:"leads"`
	Status    string         `json:"overall_status"`
}

// LeadName derives a display name from the variable, e.g. "Atrial".
func LeadName(variable string) string {
	name := strings.TrimPrefix(strings.TrimPrefix(variable, ImpedancePrefix), "_")
	if name == "" {
		return "Lead"
	}
	parts := strings.Split(name, "_")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, " ")
}

// AnalyzeLead reviews one lead impedance trend. An empty trend yields
// StatusInsufficient.
func AnalyzeLead(t *trend.LongitudinalTrend, cfg ImpedanceConfig) LeadAnalysis {
	a := LeadAnalysis{
		Variable:       t.VariableName,
		LeadName:       LeadName(t.VariableName),
		DataPoints:     t.Len(),
		TrendDirection: DirectionUnknown,
		Anomalies:      []Anomaly{},
	}
	if t.Len() == 0 {
		a.Status = StatusInsufficient
		a.Recommendation = "Insufficient data for recommendation. Collect more transmissions."
		return a
	}

	sum := stats.Summarize(t.Values)
	a.CurrentImpedance = t.Values[t.Len()-1]
	a.Mean = sum.Mean
	a.Min = sum.Min
	a.Max = sum.Max
	a.Range = sum.Max - sum.Min
	a.Stability = stability(t.Values)
	a.Anomalies = detectAnomalies(t, cfg)
	for _, an := range a.Anomalies {
		switch an.Severity {
		case SeverityCritical:
			a.CriticalCount++
		case SeverityWarning:
			a.WarningCount++
		}
	}

	a.TrendDirection = DirectionStable
	if t.Len() >= 3 {
		if fit, err := stats.LinearRegression(indexes(t.Len()), t.Values); err == nil {
			a.TrendSlope = fit.Slope
		}
		switch {
		case a.TrendSlope > cfg.TrendSlope:
			a.TrendDirection = DirectionUp
		case a.TrendSlope < -cfg.TrendSlope:
			a.TrendDirection = DirectionDown
		}
	}

	switch {
	case a.CriticalCount > 0:
		a.Status = StatusCritical
		a.Recommendation = "URGENT: Critical lead issue detected. Review immediately."
	case a.WarningCount > 0:
		a.Status = StatusWarning
		a.Recommendation = "CAUTION: Lead anomaly detected. Monitor closely."
	case a.Stability.Rating == "poor" || a.Stability.Rating == "fair":
		a.Status = StatusMonitor
		a.Recommendation = "Lead stability below optimal. Continue monitoring."
	default:
		a.Status = StatusNormal
		a.Recommendation = "Lead functioning normally."
	}

	start, end := t.TimePoints[0], t.TimePoints[t.Len()-1]
	a.Period = &Period{Start: start, End: end, Days: int(end.Sub(start) / day)}
	return a
}

// detectAnomalies scans consecutive deltas for fracture and insulation
// signatures and checks every value against the normal range.
func detectAnomalies(t *trend.LongitudinalTrend, cfg ImpedanceConfig) []Anomaly {
	out := []Anomaly{}
	for i, cur := range t.Values {
		ts := t.TimePoints[i]
		var prev *float64
		var delta float64
		if i > 0 {
			p := t.Values[i-1]
			prev = &p
			delta = cur - p

			switch {
			case delta > cfg.FractureDelta:
				sev := fractureSeverity(delta, cur, cfg)
				out = append(out, Anomaly{
					Type:           AnomalyFracture,
					Timestamp:      ts,
					PreviousValue:  prev,
					CurrentValue:   cur,
					Delta:          delta,
					Severity:       sev,
					Description:    fmt.Sprintf("Sudden increase of %.0f Ohms suggests possible lead fracture", delta),
					Recommendation: fractureRecommendation[sev],
				})
			case delta < -cfg.InsulationDelta:
				sev := insulationSeverity(-delta, cur, cfg)
				out = append(out, Anomaly{
					Type:           AnomalyInsulation,
					Timestamp:      ts,
					PreviousValue:  prev,
					CurrentValue:   cur,
					Delta:          delta,
					Severity:       sev,
					Description:    fmt.Sprintf("Sudden decrease of %.0f Ohms suggests possible insulation failure", -delta),
					Recommendation: insulationRecommendation[sev],
				})
			}
		}

		switch {
		case cur < cfg.MinOhms:
			out = append(out, Anomaly{
				Type:           AnomalyBelowRange,
				Timestamp:      ts,
				PreviousValue:  prev,
				CurrentValue:   cur,
				Delta:          delta,
				Severity:       SeverityWarning,
				Description:    fmt.Sprintf("Impedance %.0f Ohms below normal range", cur),
				Recommendation: "Monitor for potential lead insulation compromise",
			})
		case cur > cfg.MaxOhms:
			out = append(out, Anomaly{
				Type:           AnomalyAboveRange,
				Timestamp:      ts,
				PreviousValue:  prev,
				CurrentValue:   cur,
				Delta:          delta,
				Severity:       SeverityWarning,
				Description:    fmt.Sprintf("Impedance %.0f Ohms above normal range", cur),
				Recommendation: "Monitor for potential lead conductor issues",
			})
		}
	}
	return out
}

var fractureRecommendation = map[string]string{
	SeverityCritical: "Immediate lead evaluation required. Consider lead replacement.",
	SeverityWarning:  "Close monitoring required. Schedule follow-up interrogation.",
	SeverityInfo:     "Monitor trend. Consider follow-up if pattern continues.",
}

var insulationRecommendation = map[string]string{
	SeverityCritical: "Immediate evaluation required. Possible insulation breach.",
	SeverityWarning:  "Monitor closely for progressive insulation compromise.",
	SeverityInfo:     "Continue monitoring. Verify with additional interrogations.",
}

func fractureSeverity(delta, cur float64, cfg ImpedanceConfig) string {
	switch {
	case delta > cfg.FractureCriticalDelta || cur > cfg.FractureCriticalOhms:
		return SeverityCritical
	case delta > cfg.FractureWarningDelta || cur > cfg.FractureWarningOhms:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

func insulationSeverity(drop, cur float64, cfg ImpedanceConfig) string {
	switch {
	case drop > cfg.InsulationCriticalDelta || cur < cfg.InsulationCriticalOhms:
		return SeverityCritical
	case drop > cfg.InsulationWarningDelta || cur < cfg.InsulationWarningOhms:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// stability scores a series as max(0, 100 - 2*CV).
func stability(values []float64) Stability {
	n := len(values)
	if n < 2 {
		s := Stability{Score: 100, Rating: "excellent", DataPoints: n, Confidence: ConfidenceLow}
		if n == 1 {
			s.Mean = values[0]
		}
		return s
	}
	mean, std := stats.Mean(values), stats.Std(values)
	if mean == 0 {
		return Stability{Rating: "invalid", DataPoints: n, Confidence: "none"}
	}
	cv := std / mean * 100
	score := round(math.Max(0, 100-2*cv), 1)

	s := Stability{
		Score:                  score,
		CoefficientOfVariation: round(cv, 2),
		Mean:                   mean,
		Std:                    std,
		DataPoints:             n,
	}
	switch {
	case score > 95:
		s.Rating = "excellent"
	case score >= 85:
		s.Rating = "good"
	case score >= 70:
		s.Rating = "fair"
	default:
		s.Rating = "poor"
	}
	switch {
	case n >= 10:
		s.Confidence = ConfidenceHigh
	case n >= 5:
		s.Confidence = ConfidenceMedium
	default:
		s.Confidence = ConfidenceLow
	}
	return s
}

// worstStatus orders lead statuses by urgency.
func worstStatus(leads []LeadAnalysis) string {
	rank := map[string]int{StatusInsufficient: 0, StatusNormal: 1, StatusMonitor: 2, StatusWarning: 3, StatusCritical: 4}
	worst := StatusInsufficient
	for _, l := range leads {
		if rank[l.Status] > rank[worst] {
			worst = l.Status
		}
	}
	return worst
}

func indexes(n int) []float64 {
	xs := make([]float64, n)
	for i := range xs {
		xs[i] = float64(i)
	}
	return xs
}

func round(x float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(x*p) / p
}
