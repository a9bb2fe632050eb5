// Package egm decodes device electrogram payloads and derives heart-rate
// statistics from them.
package egm

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Format is the container a payload arrives in.
type Format string

const (
	FormatUnknown Format = ""
	FormatBinary  Format = "binary"
	FormatPDF     Format = "pdf"
	FormatXML     Format = "xml"
)

// Flags surfaced on decode and analysis results.
const (
	FlagFormatHintMismatch = "format_hint_mismatch"
	FlagEndianAmbiguous    = "endianness_ambiguous"
	FlagImplausibleSignal  = "implausible_amplitude"
	FlagRateEstimated      = "sample_rate_low_confidence"
	FlagOddLength          = "odd_payload_length"
	FlagFilterSkipped      = "filter_skipped"
)

var (
	// ErrDecode wraps every decode failure.
	ErrDecode = errors.New("egm: decode failed")
	// ErrEmbeddedFormat marks PDF or XML payloads, which carry no raw samples.
	ErrEmbeddedFormat = fmt.Errorf("%w: embedded document format", ErrDecode)
)

const (
	DefaultHeaderSize         = 64
	DefaultStripSeconds       = 10.0
	DefaultMaxAmplitudeMicroV = 5000.0
	sniffWindow               = 256
	rateConfidenceTolerance   = 0.25
)

// StandardSampleRates are the rates a decoded strip is snapped to.
var StandardSampleRates = []int{256, 512, 1000, 2000}

// Waveform is a decoded single-channel strip. The confidence fields report
// how much of the result rests on heuristics.
type Waveform struct {
	Samples         []int16  `json:"-"`
	SampleCount     int      `json:"sample_count"`
	SampleRate      int      `json:"sample_rate"`
	EstimatedRate   float64  `json:"estimated_rate"`
	ChannelCount    int      `json:"channel_count"`
	Format          Format   `json:"format"`
	LittleEndian    bool     `json:"little_endian"`
	EndianConfident bool     `json:"endian_confident"`
	RateConfident   bool     `json:"rate_confident"`
	DurationSeconds float64  `json:"duration_seconds"`
	Flags           []string `json:"flags,omitempty"`
}

// Float64s returns the samples as float64 microvolts.
func (w *Waveform) Float64s() []float64 {
	out := make([]float64, len(w.Samples))
	for i, s := range w.Samples {
		out[i] = float64(s)
	}
	return out
}

// DecodeOptions tunes the raw binary heuristics. Zero values use defaults.
type DecodeOptions struct {
	HeaderSize         int
	StripSeconds       float64
	MaxAmplitudeMicroV float64
}

func (o DecodeOptions) withDefaults() DecodeOptions {
	if o.HeaderSize < 0 {
		o.HeaderSize = 0
	} else if o.HeaderSize == 0 {
		o.HeaderSize = DefaultHeaderSize
	}
	if o.StripSeconds <= 0 {
		o.StripSeconds = DefaultStripSeconds
	}
	if o.MaxAmplitudeMicroV <= 0 {
		o.MaxAmplitudeMicroV = DefaultMaxAmplitudeMicroV
	}
	return o
}

// Sniff inspects the leading bytes for a PDF or XML marker.
func Sniff(blob []byte) Format {
	head := blob
	if len(head) > sniffWindow {
		head = head[:sniffWindow]
	}
	head = bytes.TrimLeft(head, " \t\r\n\xef\xbb\xbf")
	switch {
	case len(blob) == 0:
		return FormatUnknown
	case bytes.HasPrefix(head, []byte("%PDF")):
		return FormatPDF
	case bytes.HasPrefix(head, []byte("<?xml")), bytes.HasPrefix(head, []byte("<")):
		return FormatXML
	default:
		return FormatBinary
	}
}

// Decode interprets blob as a single-channel strip. The sniffed format wins
// over a conflicting hint and the conflict is flagged.
func Decode(blob []byte, hint Format, opts DecodeOptions) (*Waveform, error) {
	opts = opts.withDefaults()
	format := Sniff(blob)
	if format == FormatUnknown {
		return nil, fmt.Errorf("%w: empty payload", ErrDecode)
	}

	w := &Waveform{Format: format, ChannelCount: 1}
	if hint != FormatUnknown && hint != format {
		w.Flags = append(w.Flags, FlagFormatHintMismatch)
	}
	if format != FormatBinary {
		return w, ErrEmbeddedFormat
	}

	if len(blob) <= opts.HeaderSize+2 {
		return nil, fmt.Errorf("%w: payload of %d bytes has no samples after a %d byte header", ErrDecode, len(blob), opts.HeaderSize)
	}
	payload := blob[opts.HeaderSize:]
	if len(payload)%2 == 1 {
		payload = payload[:len(payload)-1]
		w.Flags = append(w.Flags, FlagOddLength)
	}

	le := readInt16s(payload, binary.LittleEndian)
	be := readInt16s(payload, binary.BigEndian)
	leMax, beMax := maxAbs(le), maxAbs(be)
	leOK := float64(leMax) <= opts.MaxAmplitudeMicroV
	beOK := float64(beMax) <= opts.MaxAmplitudeMicroV

	switch {
	case leOK && !beOK:
		w.Samples, w.LittleEndian, w.EndianConfident = le, true, true
	case beOK && !leOK:
		w.Samples, w.LittleEndian, w.EndianConfident = be, false, true
	case leOK && beOK:
		w.Flags = append(w.Flags, FlagEndianAmbiguous)
		if beMax < leMax {
			w.Samples = be
		} else {
			w.Samples, w.LittleEndian = le, true
		}
	default:
		w.Flags = append(w.Flags, FlagEndianAmbiguous, FlagImplausibleSignal)
		w.Samples, w.LittleEndian = le, true
	}

	w.SampleCount = len(w.Samples)
	w.EstimatedRate = float64(w.SampleCount) / opts.StripSeconds
	w.SampleRate = nearestRate(w.EstimatedRate)
	w.RateConfident = math.Abs(w.EstimatedRate-float64(w.SampleRate))/float64(w.SampleRate) <= rateConfidenceTolerance
	if !w.RateConfident {
		w.Flags = append(w.Flags, FlagRateEstimated)
	}
	w.DurationSeconds = float64(w.SampleCount) / float64(w.SampleRate)
	return w, nil
}

func readInt16s(payload []byte, order binary.ByteOrder) []int16 {
	out := make([]int16, len(payload)/2)
	for i := range out {
		out[i] = int16(order.Uint16(payload[2*i:]))
	}
	return out
}

func maxAbs(xs []int16) int {
	m := 0
	for _, x := range xs {
		v := int(x)
		if v < 0 {
			v = -v
		}
		if v > m {
			m = v
		}
	}
	return m
}

func nearestRate(estimate float64) int {
	best := StandardSampleRates[0]
	for _, r := range StandardSampleRates[1:] {
		if math.Abs(float64(r)-estimate) < math.Abs(float64(best)-estimate) {
			best = r
		}
	}
	return best
}
