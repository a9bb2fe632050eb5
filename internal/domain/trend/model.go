package trend

import (
	"fmt"
	"time"

	"github.com/pacetrack/pacetrack/internal/platform/validation"
)

// Point is one numeric observation in a series.
type Point struct {
	Time  time.Time
	Value float64
}

// Window optionally bounds a series by observation time, inclusive.
type Window struct {
	Start *time.Time
	End   *time.Time
}

// Validate rejects a window whose start is after its end.
func (w Window) Validate() error {
	if w.Start != nil && w.End != nil && w.Start.After(*w.End) {
		return validation.New(validation.KindGeneric, "window", w.Key(), "start is after end")
	}
	return nil
}

// Key identifies the window in cache keys and snapshot rows. The full
// series has the empty key.
func (w Window) Key() string {
	if w.Start == nil && w.End == nil {
		return ""
	}
	return fmt.Sprintf("%s/%s", stamp(w.Start), stamp(w.End))
}

func stamp(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// LongitudinalTrend is the ordered numeric series of one variable for one
// patient. The descriptive fields are nil for an empty series. ComputedAt
// records when the series was read; it is not derived from the data, so two
// builds of the same series differ only there.
type LongitudinalTrend struct {
	PatientID    string      `json:"patient_id"`
	VariableName string      `json:"variable_name"`
	TimePoints   []time.Time `json:"time_points"`
	Values       []float64   `json:"values"`
	Min          *float64    `json:"min,omitempty"`
	Max          *float64    `json:"max,omitempty"`
	Mean         *float64    `json:"mean,omitempty"`
	Std          *float64    `json:"std,omitempty"`
	Start        *time.Time  `json:"start,omitempty"`
	End          *time.Time  `json:"end,omitempty"`
	ComputedAt   time.Time   `json:"computed_at"`
}

// Len reports the number of points.
func (t *LongitudinalTrend) Len() int { return len(t.Values) }
