package normalize

import "strings"

// Severity grades a quality check.
type Severity string

const (
	SeverityNormal   Severity = "normal"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

// Quality flags attached to observations.
const (
	FlagLowBatteryERI             = "LOW_BATTERY_ERI"
	FlagPossibleLeadFracture      = "POSSIBLE_LEAD_FRACTURE"
	FlagPossibleInsulationFailure = "POSSIBLE_INSULATION_FAILURE"
	FlagHighAfibBurden            = "HIGH_AFIB_BURDEN"
	FlagOutOfRange                = "OUT_OF_RANGE"
	FlagCriticalValue             = "CRITICAL_VALUE"
)

// Range is an inclusive interval.
type Range struct {
	Min float64
	Max float64
}

func (r Range) contains(v float64) bool { return v >= r.Min && v <= r.Max }

// Thresholds are the clinical limits the checks use.
type Thresholds struct {
	BatteryERIVoltage float64
	ImpedanceMinOhms  float64
	ImpedanceMaxOhms  float64
	AfibBurdenHighPct float64
}

// DefaultThresholds returns the stock clinical limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		BatteryERIVoltage: 2.2,
		ImpedanceMinOhms:  200,
		ImpedanceMaxOhms:  1500,
		AfibBurdenHighPct: 20,
	}
}

type rangeRule struct {
	normal   Range
	critical *Range
}

// QualityCheck is the outcome of checking one canonical value.
type QualityCheck struct {
	Flags    []string `json:"flags,omitempty"`
	Severity Severity `json:"severity"`
}

func (q *QualityCheck) add(flag string, sev Severity) {
	if !contains(q.Flags, flag) {
		q.Flags = append(q.Flags, flag)
	}
	if sev.rank() > q.Severity.rank() {
		q.Severity = sev
	}
}

func (t Thresholds) rule(variable string) (rangeRule, bool) {
	switch {
	case variable == "battery_voltage":
		return rangeRule{normal: Range{t.BatteryERIVoltage, 3.2}, critical: &Range{2.0, 3.5}}, true
	case strings.HasPrefix(variable, "lead_impedance"):
		return rangeRule{normal: Range{t.ImpedanceMinOhms, t.ImpedanceMaxOhms}, critical: &Range{100, 3000}}, true
	case variable == "afib_burden_percent":
		return rangeRule{normal: Range{0, t.AfibBurdenHighPct}}, true
	case variable == "heart_rate":
		return rangeRule{normal: Range{40, 150}, critical: &Range{30, 300}}, true
	case strings.HasPrefix(variable, "pacing_percent"), variable == "battery_percent", variable == "battery_percentage":
		return rangeRule{normal: Range{0, 100}}, true
	}
	return rangeRule{}, false
}

// Check grades a value already expressed in its canonical unit.
func (t Thresholds) Check(variable string, value float64) QualityCheck {
	q := QualityCheck{Severity: SeverityNormal}
	if r, ok := t.rule(variable); ok {
		if r.critical != nil && !r.critical.contains(value) {
			q.add(FlagCriticalValue, SeverityCritical)
		}
		if !r.normal.contains(value) {
			q.add(FlagOutOfRange, SeverityWarning)
		}
	}

	switch {
	case variable == "battery_voltage" && value < t.BatteryERIVoltage:
		q.add(FlagLowBatteryERI, SeverityCritical)
	case strings.HasPrefix(variable, "lead_impedance") && value > t.ImpedanceMaxOhms:
		q.add(FlagPossibleLeadFracture, SeverityCritical)
	case strings.HasPrefix(variable, "lead_impedance") && value < t.ImpedanceMinOhms:
		q.add(FlagPossibleInsulationFailure, SeverityCritical)
	case variable == "afib_burden_percent" && value > t.AfibBurdenHighPct:
		q.add(FlagHighAfibBurden, SeverityWarning)
	}
	return q
}

func contains(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}
