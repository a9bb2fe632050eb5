// Package analysis turns longitudinal trends into clinical findings:
// battery depletion forecasts, lead impedance anomalies and arrhythmia
// burden classification.
package analysis

import (
	"math"
	"time"

	"github.com/pacetrack/pacetrack/internal/domain/trend"
	"github.com/pacetrack/pacetrack/internal/platform/stats"
)

const (
	VariableBatteryVoltage = "battery_voltage"

	daysPerYear = 365.25
	day         = 24 * time.Hour
)

// Confidence tiers shared by the analyzers.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// BatteryConfig holds the voltage thresholds.
type BatteryConfig struct {
	ERIVoltage     float64
	EOLVoltage     float64
	NominalVoltage float64
	// WarningVoltage and GreenVoltage bound the status colors.
	WarningVoltage float64
	GreenVoltage   float64
}

func DefaultBatteryConfig() BatteryConfig {
	return BatteryConfig{
		ERIVoltage:     2.2,
		EOLVoltage:     2.0,
		NominalVoltage: 2.8,
		WarningVoltage: 2.3,
		GreenVoltage:   2.5,
	}
}

// BatteryPrediction is the depletion forecast for one patient. ERIDate and
// EOLDate are only set when CanPredict is true and the crossing lies ahead
// of the first measurement.
type BatteryPrediction struct {
	PatientID            string     `json:"patient_id"`
	CanPredict           bool       `json:"can_predict"`
	Reason               string     `json:"reason,omitempty"`
	DataPoints           int        `json:"data_points"`
	CurrentVoltage       *float64   `json:"current_voltage,omitempty"`
	Slope                float64    `json:"slope_v_per_day"`
	Intercept            float64    `json:"intercept"`
	DepletionRate        float64    `json:"depletion_rate_v_per_year"`
	RSquared             float64    `json:"r_squared"`
	PValue               float64    `json:"p_value"`
	StdErr               float64    `json:"std_err"`
	Confidence           string     `json:"confidence"`
	ERIThreshold         float64    `json:"eri_threshold"`
	EOLThreshold         float64    `json:"eol_threshold"`
	ERIDate              *time.Time `json:"predicted_eri_date,omitempty"`
	EOLDate              *time.Time `json:"predicted_eol_date,omitempty"`
	DaysToERI            *float64   `json:"days_to_eri,omitempty"`
	YearsToERI           *float64   `json:"years_to_eri,omitempty"`
	YearsToEOL           *float64   `json:"years_to_eol,omitempty"`
	RemainingCapacityPct *float64   `json:"remaining_capacity_percent,omitempty"`
	StatusColor          string     `json:"status_color,omitempty"`
	ObservationDays      float64    `json:"observation_period_days"`
	Recommendation       string     `json:"recommendation"`
}

const (
	reasonInsufficient = "insufficient data points for analysis"
	reasonNoSpread     = "all measurements share one timestamp"
	reasonNoDepletion  = "voltage is not decreasing"
)

// AnalyzeBattery fits voltage against elapsed days. Fewer than two points or
// a slope that is not negative yields CanPredict=false and no dates.
// DaysToERI and the year figures count from the latest measurement.
func AnalyzeBattery(t *trend.LongitudinalTrend, cfg BatteryConfig) BatteryPrediction {
	p := BatteryPrediction{
		PatientID:    t.PatientID,
		DataPoints:   t.Len(),
		Confidence:   ConfidenceLow,
		ERIThreshold: cfg.ERIVoltage,
		EOLThreshold: cfg.EOLVoltage,
	}
	if t.Len() == 0 {
		p.Reason = reasonInsufficient
		p.Recommendation = batteryRecommendation(p, cfg)
		return p
	}

	current := t.Values[t.Len()-1]
	capacity := clamp((current-cfg.ERIVoltage)/(cfg.NominalVoltage-cfg.ERIVoltage)*100, 0, 100)
	p.CurrentVoltage = &current
	p.RemainingCapacityPct = &capacity
	p.StatusColor = batteryColor(current, cfg)

	if t.Len() < 2 {
		p.Reason = reasonInsufficient
		p.Recommendation = batteryRecommendation(p, cfg)
		return p
	}

	start := t.TimePoints[0]
	days := make([]float64, t.Len())
	for i, tp := range t.TimePoints {
		days[i] = tp.Sub(start).Hours() / 24
	}
	last := days[len(days)-1]
	p.ObservationDays = last

	fit, err := stats.LinearRegression(days, t.Values)
	if err != nil {
		p.Reason = reasonNoSpread
		p.Recommendation = batteryRecommendation(p, cfg)
		return p
	}
	p.Slope = fit.Slope
	p.Intercept = fit.Intercept
	p.DepletionRate = fit.Slope * daysPerYear
	p.RSquared = fit.RSquared
	p.PValue = fit.PValue
	p.StdErr = fit.StdErr
	p.Confidence = batteryConfidence(fit)

	if fit.Slope >= 0 {
		p.Reason = reasonNoDepletion
		p.Recommendation = batteryRecommendation(p, cfg)
		return p
	}

	p.CanPredict = true
	if d := (cfg.ERIVoltage - fit.Intercept) / fit.Slope; d > 0 {
		eri := start.Add(time.Duration(d * float64(day)))
		ahead := d - last
		years := ahead / daysPerYear
		p.ERIDate = &eri
		p.DaysToERI = &ahead
		p.YearsToERI = &years
	}
	if d := (cfg.EOLVoltage - fit.Intercept) / fit.Slope; d > 0 {
		eol := start.Add(time.Duration(d * float64(day)))
		years := (d - last) / daysPerYear
		p.EOLDate = &eol
		p.YearsToEOL = &years
	}
	p.Recommendation = batteryRecommendation(p, cfg)
	return p
}

// batteryConfidence is high when R² > 0.9, n ≥ 5 and p < 0.05. Each unmet
// condition drops one tier.
func batteryConfidence(fit stats.Regression) string {
	unmet := 0
	if !(fit.RSquared > 0.9) {
		unmet++
	}
	if fit.N < 5 {
		unmet++
	}
	if !(fit.PValue < 0.05) {
		unmet++
	}
	switch unmet {
	case 0:
		return ConfidenceHigh
	case 1:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

func batteryColor(v float64, cfg BatteryConfig) string {
	switch {
	case v >= cfg.GreenVoltage:
		return "green"
	case v >= cfg.WarningVoltage:
		return "yellow"
	default:
		return "red"
	}
}

func batteryRecommendation(p BatteryPrediction, cfg BatteryConfig) string {
	if p.CurrentVoltage == nil || p.DataPoints < 2 {
		return "Insufficient data for recommendation. Collect more transmissions."
	}
	v := *p.CurrentVoltage
	switch {
	case v < cfg.ERIVoltage:
		return "URGENT: Battery at ERI. Schedule device replacement immediately."
	case v < cfg.WarningVoltage:
		return "WARNING: Battery approaching ERI. Plan replacement soon."
	case p.YearsToERI != nil && *p.YearsToERI < 0.5:
		return "CAUTION: Battery may reach ERI within 6 months. Monitor closely."
	case p.YearsToERI != nil && *p.YearsToERI < 1:
		return "Battery expected to reach ERI within 1 year. Continue monitoring."
	default:
		return "Battery status normal. Continue routine monitoring."
	}
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}
