package normalize

import (
	"fmt"
	"strings"
)

// Canonical units.
const (
	UnitVolt      = "V"
	UnitMillivolt = "mV"
	UnitOhm       = "Ohm"
	UnitKiloOhm   = "kOhm"
	UnitPercent   = "%"
	UnitFraction  = "fraction"
	UnitBPM       = "bpm"
	UnitMillisec  = "ms"
	UnitSecond    = "s"
	UnitMinute    = "min"
)

type unitPair struct{ from, to string }

// factors holds multipliers for registered conversions. The reverse
// direction is derived.
var factors = map[unitPair]float64{
	{UnitMillivolt, UnitVolt}:   0.001,
	{UnitKiloOhm, UnitOhm}:      1000,
	{UnitSecond, UnitMillisec}:  1000,
	{UnitMinute, UnitSecond}:    60,
	{UnitFraction, UnitPercent}: 100,
}

var aliases = map[string]string{
	"v":           UnitVolt,
	"volt":        UnitVolt,
	"volts":       UnitVolt,
	"mv":          UnitMillivolt,
	"millivolt":   UnitMillivolt,
	"ohm":         UnitOhm,
	"ohms":        UnitOhm,
	"Ω":           UnitOhm,
	"kohm":        UnitKiloOhm,
	"kohms":       UnitKiloOhm,
	"kΩ":          UnitKiloOhm,
	"%":           UnitPercent,
	"percent":     UnitPercent,
	"pct":         UnitPercent,
	"fraction":    UnitFraction,
	"decimal":     UnitFraction,
	"ratio":       UnitFraction,
	"bpm":         UnitBPM,
	"/min":        UnitBPM,
	"beats/min":   UnitBPM,
	"{beats}/min": UnitBPM,
	"ms":          UnitMillisec,
	"msec":        UnitMillisec,
	"s":           UnitSecond,
	"sec":         UnitSecond,
	"min":         UnitMinute,
}

// CanonicalizeUnit maps spelling variants onto the canonical symbols.
// Unknown units are returned trimmed and unchanged.
func CanonicalizeUnit(u string) string {
	u = strings.TrimSpace(u)
	if c, ok := aliases[strings.ToLower(u)]; ok {
		return c
	}
	if c, ok := aliases[u]; ok {
		return c
	}
	return u
}

// Convert converts value between two canonical units.
func Convert(value float64, from, to string) (float64, error) {
	if from == to {
		return value, nil
	}
	if f, ok := factors[unitPair{from, to}]; ok {
		return value * f, nil
	}
	if f, ok := factors[unitPair{to, from}]; ok {
		return value / f, nil
	}
	return value, fmt.Errorf("no conversion from %q to %q", from, to)
}

var exactUnits = map[string]string{
	"battery_voltage":         UnitVolt,
	"battery_impedance":       UnitOhm,
	"av_delay":                UnitMillisec,
	"capacitor_charge_time":   UnitSecond,
	"episode_duration":        UnitSecond,
	"lower_rate_limit":        UnitBPM,
	"upper_rate_limit":        UnitBPM,
	"atrial_sensitivity":      UnitMillivolt,
	"ventricular_sensitivity": UnitMillivolt,
}

// CanonicalUnit returns the unit a variable is stored in, or false when
// the variable has no fixed unit.
func CanonicalUnit(variable string) (string, bool) {
	if u, ok := exactUnits[variable]; ok {
		return u, true
	}
	switch {
	case strings.Contains(variable, "impedance"):
		return UnitOhm, true
	case strings.HasSuffix(variable, "_percent"), strings.HasSuffix(variable, "_percentage"):
		return UnitPercent, true
	case strings.HasPrefix(variable, "heart_rate"), strings.HasPrefix(variable, "episode_rate"):
		if strings.HasSuffix(variable, "_histogram") {
			return "", false
		}
		return UnitBPM, true
	case strings.HasSuffix(variable, "_sensing_amplitude"):
		return UnitMillivolt, true
	case strings.HasSuffix(variable, "_pacing_threshold"):
		return UnitVolt, true
	}
	return "", false
}
