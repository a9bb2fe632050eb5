package analysis

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/pacetrack/pacetrack/internal/platform/egm"
	"github.com/pacetrack/pacetrack/internal/platform/vendor"
)

// ErrNoWaveform is returned for observations without a binary payload.
var ErrNoWaveform = errors.New("observation carries no waveform payload")

// EGMAnalysis is a decoded strip with its heart-rate analysis.
type EGMAnalysis struct {
	ObservationID  uuid.UUID     `json:"observation_id"`
	TransmissionID uuid.UUID     `json:"transmission_id"`
	Vendor         vendor.Vendor `json:"vendor"`
	Waveform       *egm.Waveform `json:"waveform"`
	Analysis       egm.Result    `json:"analysis"`
}

// AnalyzeEGM decodes blob with the vendor's format hint and header size and
// runs the processor over the strip.
func AnalyzeEGM(blob []byte, tr vendor.Translator, proc *egm.Processor, stripSeconds float64) (*EGMAnalysis, error) {
	if len(blob) == 0 {
		return nil, ErrNoWaveform
	}
	w, err := egm.Decode(blob, tr.BlobFormatHint(blob), egm.DecodeOptions{
		HeaderSize:   tr.EGMHeaderSize(),
		StripSeconds: stripSeconds,
	})
	if err != nil {
		return nil, fmt.Errorf("decoding %s egm: %w", tr.Vendor(), err)
	}
	return &EGMAnalysis{
		Vendor:   tr.Vendor(),
		Waveform: w,
		Analysis: proc.AnalyzeWaveform(w),
	}, nil
}
