package validation

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

const (
	DefaultPatientIDMaxLen   = 100
	DefaultPatientNameMaxLen = 200
	DefaultTextMaxLen        = 500
)

var (
	patientIDPattern   = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)
	patientNamePattern = regexp.MustCompile(`^[\p{L}\p{M}\p{N}\s'.,-]+$`)
)

// Limits bounds the length of sanitized fields, counted in characters.
type Limits struct {
	PatientIDMaxLen   int
	PatientNameMaxLen int
	TextMaxLen        int
}

// DefaultLimits returns the stock field limits.
func DefaultLimits() Limits {
	return Limits{
		PatientIDMaxLen:   DefaultPatientIDMaxLen,
		PatientNameMaxLen: DefaultPatientNameMaxLen,
		TextMaxLen:        DefaultTextMaxLen,
	}
}

// Sanitizer cleans identifier and free-text fields taken from HL7 input.
// Every rejection is logged with the truncated value only.
type Sanitizer struct {
	limits Limits
	logger zerolog.Logger
}

// NewSanitizer creates a Sanitizer. Zero limits fall back to the defaults.
func NewSanitizer(limits Limits, logger zerolog.Logger) *Sanitizer {
	def := DefaultLimits()
	if limits.PatientIDMaxLen <= 0 {
		limits.PatientIDMaxLen = def.PatientIDMaxLen
	}
	if limits.PatientNameMaxLen <= 0 {
		limits.PatientNameMaxLen = def.PatientNameMaxLen
	}
	if limits.TextMaxLen <= 0 {
		limits.TextMaxLen = def.TextMaxLen
	}
	return &Sanitizer{limits: limits, logger: logger}
}

// PatientID strips control characters and requires the result to be a
// non-empty run of letters, digits, hyphen, underscore or dot.
func (s *Sanitizer) PatientID(raw string) (string, error) {
	clean := strings.TrimSpace(StripControl(raw))
	switch {
	case clean == "":
		return "", s.reject(KindPatientID, "patient_id", raw, "cannot be empty")
	case utf8.RuneCountInString(clean) > s.limits.PatientIDMaxLen:
		return "", s.reject(KindPatientID, "patient_id", raw, "exceeds maximum length")
	case !patientIDPattern.MatchString(clean):
		return "", s.reject(KindPatientID, "patient_id", raw, "contains invalid characters")
	}
	return clean, nil
}

// PatientName strips control characters and allows letters of any script,
// digits, whitespace, apostrophe, hyphen, dot and comma. An empty name is
// returned as-is since PID-5 is optional.
func (s *Sanitizer) PatientName(raw string) (string, error) {
	clean := strings.Join(strings.Fields(StripControl(raw)), " ")
	if clean == "" {
		return "", nil
	}
	if utf8.RuneCountInString(clean) > s.limits.PatientNameMaxLen {
		return "", s.reject(KindGeneric, "patient_name", raw, "exceeds maximum length")
	}
	if !patientNamePattern.MatchString(clean) {
		return "", s.reject(KindGeneric, "patient_name", raw, "contains invalid characters")
	}
	return clean, nil
}

// Text strips control characters, trims and enforces maxLen. maxLen <= 0
// uses the configured text limit.
func (s *Sanitizer) Text(field, raw string, maxLen int) (string, error) {
	if maxLen <= 0 {
		maxLen = s.limits.TextMaxLen
	}
	clean := strings.TrimSpace(StripControl(raw))
	if utf8.RuneCountInString(clean) > maxLen {
		return "", s.reject(KindGeneric, field, raw, "exceeds maximum length")
	}
	return clean, nil
}

func (s *Sanitizer) reject(kind Kind, field, raw, reason string) error {
	err := New(kind, field, StripControl(raw), reason)
	s.logger.Warn().
		Bool("audit", true).
		Str("kind", kind.String()).
		Str("field", field).
		Str("value", err.Value).
		Msg(reason)
	return err
}

// StripControl removes C0 (0x00-0x1F), DEL and C1 (0x7F-0x9F) characters.
func StripControl(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	for _, r := range input {
		if r <= 0x1F || (r >= 0x7F && r <= 0x9F) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
