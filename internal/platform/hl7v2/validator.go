package hl7v2

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/pacetrack/pacetrack/internal/platform/validation"
)

const (
	DefaultMinMessageBytes = 100
	DefaultMaxMessageBytes = 50 * 1024 * 1024
)

// Validator bounds-checks and structurally checks raw messages before they
// reach the parser.
type Validator struct {
	minBytes int
	maxBytes int
	logger   zerolog.Logger
}

// NewValidator creates a Validator. Non-positive bounds use the defaults.
func NewValidator(minBytes, maxBytes int, logger zerolog.Logger) *Validator {
	if minBytes <= 0 {
		minBytes = DefaultMinMessageBytes
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxMessageBytes
	}
	return &Validator{minBytes: minBytes, maxBytes: maxBytes, logger: logger}
}

// MaxBytes reports the configured upper bound.
func (v *Validator) MaxBytes() int { return v.maxBytes }

// Validate returns the message with CRLF/LF/CR normalized to CR. The size
// check runs before anything else touches the payload.
func (v *Validator) Validate(raw []byte) (string, error) {
	size := len(raw)
	if size > v.maxBytes {
		return "", v.fail(size, "message too large", "")
	}
	if size < v.minBytes {
		return "", v.fail(size, "message too small", string(raw))
	}

	text := normalizeTerminators(string(raw))
	text = strings.TrimLeft(text, "\ufeff \t\r")

	if !strings.HasPrefix(text, "MSH") {
		return "", v.fail(size, "message must start with 'MSH'", text)
	}
	if !hasSegment(text, "PID") {
		return "", v.fail(size, "missing required PID segment", "")
	}

	v.logger.Info().
		Bool("audit", true).
		Str("event", "hl7_validate").
		Str("outcome", "pass").
		Int("size_bytes", size).
		Msg("hl7 message validated")
	return text, nil
}

func (v *Validator) fail(size int, reason, value string) error {
	err := validation.New(validation.KindHL7, "message", value, reason)
	v.logger.Warn().
		Bool("audit", true).
		Str("event", "hl7_validate").
		Str("outcome", "fail").
		Int("size_bytes", size).
		Str("reason", reason).
		Msg("hl7 message rejected")
	return err
}

func hasSegment(text, name string) bool {
	for _, line := range strings.Split(text, "\r") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, name) && (len(line) == len(name) || !isAlnum(line[len(name)])) {
			return true
		}
	}
	return false
}
