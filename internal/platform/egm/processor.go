package egm

import (
	"math"

	"github.com/pacetrack/pacetrack/internal/platform/stats"
)

// Config holds the signal-processing parameters.
type Config struct {
	LowCutHz         float64
	HighCutHz        float64
	MinRRMs          float64
	ProminenceFactor float64
}

// DefaultConfig returns a 0.5-100 Hz passband, a 200 ms refractory
// distance and a prominence of half the signal standard deviation.
func DefaultConfig() Config {
	return Config{
		LowCutHz:         0.5,
		HighCutHz:        100,
		MinRRMs:          200,
		ProminenceFactor: 0.5,
	}
}

// HeartRateStats summarizes the detected beats. Empty is set when fewer
// than two peaks were found.
type HeartRateStats struct {
	Empty     bool    `json:"empty"`
	PeakCount int     `json:"peak_count"`
	MeanBPM   float64 `json:"mean_bpm"`
	MinBPM    float64 `json:"min_bpm"`
	MaxBPM    float64 `json:"max_bpm"`
	MedianBPM float64 `json:"median_bpm"`
	StdBPM    float64 `json:"std_bpm"`
	RRMeanMs  float64 `json:"rr_mean_ms"`
	RRStdMs   float64 `json:"rr_std_ms"`
}

// Result is the output of Analyze.
type Result struct {
	Filtered      []float64      `json:"-"`
	FilterApplied bool           `json:"filter_applied"`
	Peaks         []int          `json:"peaks"`
	RRIntervalsMs []float64      `json:"rr_intervals_ms"`
	HeartRates    []float64      `json:"heart_rates_bpm"`
	Stats         HeartRateStats `json:"stats"`
	Flags         []string       `json:"flags,omitempty"`
}

// Processor filters a strip and derives RR intervals and heart rate.
type Processor struct {
	cfg Config
}

// NewProcessor creates a Processor. Zero fields take their defaults.
func NewProcessor(cfg Config) *Processor {
	def := DefaultConfig()
	if cfg.LowCutHz <= 0 {
		cfg.LowCutHz = def.LowCutHz
	}
	if cfg.HighCutHz <= 0 {
		cfg.HighCutHz = def.HighCutHz
	}
	if cfg.MinRRMs <= 0 {
		cfg.MinRRMs = def.MinRRMs
	}
	if cfg.ProminenceFactor <= 0 {
		cfg.ProminenceFactor = def.ProminenceFactor
	}
	return &Processor{cfg: cfg}
}

// Analyze runs filter, peak detection and interval statistics. A filter
// failure falls back to the raw signal and is flagged; fewer than two
// peaks yields empty statistics.
func (p *Processor) Analyze(samples []float64, sampleRate float64) Result {
	res := Result{Stats: HeartRateStats{Empty: true}}
	if len(samples) == 0 || sampleRate <= 0 {
		return res
	}

	filtered, err := bandpass(samples, sampleRate, p.cfg.LowCutHz, p.cfg.HighCutHz)
	if err != nil {
		filtered = append([]float64(nil), samples...)
		res.Flags = append(res.Flags, FlagFilterSkipped)
	} else {
		res.FilterApplied = true
	}
	res.Filtered = filtered

	distance := int(math.Round(p.cfg.MinRRMs * sampleRate / 1000))
	threshold := p.cfg.ProminenceFactor * stats.Std(filtered)
	res.Peaks = findPeaks(filtered, distance, threshold)
	res.Stats.PeakCount = len(res.Peaks)
	if len(res.Peaks) < 2 {
		return res
	}

	for i := 1; i < len(res.Peaks); i++ {
		rr := float64(res.Peaks[i]-res.Peaks[i-1]) / sampleRate * 1000
		res.RRIntervalsMs = append(res.RRIntervalsMs, rr)
		res.HeartRates = append(res.HeartRates, 60000/rr)
	}

	hr := stats.Summarize(res.HeartRates)
	res.Stats = HeartRateStats{
		PeakCount: len(res.Peaks),
		MeanBPM:   hr.Mean,
		MinBPM:    hr.Min,
		MaxBPM:    hr.Max,
		MedianBPM: hr.Median,
		StdBPM:    hr.Std,
		RRMeanMs:  stats.Mean(res.RRIntervalsMs),
		RRStdMs:   stats.Std(res.RRIntervalsMs),
	}
	return res
}

// AnalyzeWaveform is Analyze on a decoded strip, carrying decode flags over.
func (p *Processor) AnalyzeWaveform(w *Waveform) Result {
	res := p.Analyze(w.Float64s(), float64(w.SampleRate))
	res.Flags = append(append([]string(nil), w.Flags...), res.Flags...)
	return res
}
