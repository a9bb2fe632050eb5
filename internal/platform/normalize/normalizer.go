// Package normalize converts translated observations into canonical units,
// routes histogram payloads and grades values for data quality.
package normalize

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog"

	"github.com/pacetrack/pacetrack/internal/platform/histogram"
	"github.com/pacetrack/pacetrack/internal/platform/hl7v2"
)

// ValueType is the stored payload kind of an observation.
type ValueType string

const (
	ValueNumeric   ValueType = "numeric"
	ValueText      ValueType = "text"
	ValueBinary    ValueType = "binary"
	ValueHistogram ValueType = "histogram"
)

var (
	// ErrCoercion marks a numeric value that could not be parsed.
	ErrCoercion = errors.New("numeric coercion failed")
	// ErrBinaryDecode marks an ED payload that could not be decoded.
	ErrBinaryDecode = errors.New("binary payload decode failed")
	// ErrNonFinite marks NaN or infinite numeric values.
	ErrNonFinite = errors.New("non-finite numeric value")
)

// Result is a normalized observation value. Exactly one of Numeric, Text
// and Blob is set unless the value failed to decode.
type Result struct {
	ValueType ValueType
	Numeric   *float64
	Text      string
	Blob      []byte
	Unit      string
	Histogram *histogram.Histogram
	Quality   QualityCheck
}

// Normalizer applies unit conversion, histogram parsing and quality checks.
type Normalizer struct {
	thresholds Thresholds
	logger     zerolog.Logger
}

// New creates a Normalizer.
func New(thresholds Thresholds, logger zerolog.Logger) *Normalizer {
	return &Normalizer{thresholds: thresholds, logger: logger}
}

// Normalize converts d, already translated to variable. A returned error
// is field-level: the Result still holds whatever could be kept and the
// caller records the error on the observation.
func (n *Normalizer) Normalize(d hl7v2.ObservationDraft, variable string) (Result, error) {
	res := Result{
		ValueType: ValueType(d.ValueType),
		Unit:      CanonicalizeUnit(d.Unit),
		Quality:   QualityCheck{Severity: SeverityNormal},
	}

	switch {
	case d.DecodeError != "":
		res.ValueType = ValueBinary
		return res, fmt.Errorf("%w: %s", ErrBinaryDecode, d.DecodeError)
	case d.ValueType == hl7v2.ValueBinary:
		res.Blob = d.Blob
		return res, nil
	case isHistogramVariable(variable) || (d.ValueType == hl7v2.ValueText && histogram.LooksLikeHistogram(d.TextValue)):
		return n.normalizeHistogram(d, variable, res)
	case d.CoercionFailed:
		res.ValueType = ValueText
		res.Text = d.TextValue
		return res, fmt.Errorf("%w: %q", ErrCoercion, truncate(d.TextValue))
	case d.ValueType == hl7v2.ValueNumeric && d.Numeric != nil:
		return n.normalizeNumeric(*d.Numeric, variable, res)
	default:
		res.ValueType = ValueText
		res.Text = d.TextValue
		return res, nil
	}
}

func (n *Normalizer) normalizeNumeric(v float64, variable string, res Result) (Result, error) {
	res.ValueType = ValueNumeric
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return res, ErrNonFinite
	}

	if canonical, ok := CanonicalUnit(variable); ok && res.Unit != canonical {
		if res.Unit == "" {
			res.Unit = canonical
		} else if converted, err := Convert(v, res.Unit, canonical); err == nil {
			v, res.Unit = converted, canonical
		} else {
			n.logger.Warn().
				Str("variable", variable).
				Str("unit", res.Unit).
				Str("canonical_unit", canonical).
				Msg("unknown unit kept as reported")
		}
	}

	res.Numeric = &v
	res.Quality = n.thresholds.Check(variable, v)
	return res, nil
}

func (n *Normalizer) normalizeHistogram(d hl7v2.ObservationDraft, variable string, res Result) (Result, error) {
	raw := d.TextValue
	if d.ValueType == hl7v2.ValueNumeric || d.CoercionFailed {
		raw = d.RawValue
	}
	res.ValueType = ValueHistogram
	res.Text = raw

	h, err := histogram.Parse(raw, histogram.FormatAuto)
	if err != nil {
		return res, fmt.Errorf("parsing %s histogram: %w", variable, err)
	}
	if h.Skipped > 0 {
		n.logger.Warn().
			Str("variable", variable).
			Int("skipped_rows", h.Skipped).
			Msg("malformed histogram rows skipped")
	}
	if h.Unit == "" {
		h.Unit = res.Unit
	}
	enc, err := histogram.Encode(h, histogram.FormatJSON)
	if err != nil {
		return res, fmt.Errorf("encoding %s histogram: %w", variable, err)
	}
	res.Text = enc
	res.Histogram = h
	return res, nil
}

func isHistogramVariable(variable string) bool {
	return strings.HasSuffix(variable, "_histogram")
}

func truncate(s string) string {
	const max = 50
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
