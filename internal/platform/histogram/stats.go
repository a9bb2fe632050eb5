package histogram

import (
	"strconv"
	"strings"
)

// Statistics summarizes a histogram. WeightedMean is nil when no bin label
// is numeric.
type Statistics struct {
	Total         float64  `json:"total"`
	WeightedMean  *float64 `json:"weighted_mean,omitempty"`
	ModeBin       string   `json:"mode_bin"`
	MedianBin     string   `json:"median_bin"`
	MaxPercentage float64  `json:"max_percentage"`
}

// Percentages returns each bin's share of the total in percent.
func (h *Histogram) Percentages() []float64 {
	out := make([]float64, len(h.Bins))
	total := 0.0
	for _, b := range h.Bins {
		total += b.Count
	}
	for i, b := range h.Bins {
		switch {
		case h.Percent:
			out[i] = b.Count
		case total > 0:
			out[i] = b.Count / total * 100
		}
	}
	return out
}

// Summarize computes the weighted mean over numeric bins, the mode bin,
// the bin holding the 50th percentile and the largest share.
func Summarize(h *Histogram) Statistics {
	var s Statistics
	if h == nil || len(h.Bins) == 0 {
		return s
	}
	pcts := h.Percentages()
	for _, b := range h.Bins {
		s.Total += b.Count
	}

	weighted, numeric := 0.0, false
	maxIdx := 0
	for i, b := range h.Bins {
		if mid, ok := midpoint(b.Label); ok {
			weighted += mid * pcts[i] / 100
			numeric = true
		}
		if pcts[i] > pcts[maxIdx] {
			maxIdx = i
		}
	}
	if numeric {
		s.WeightedMean = &weighted
	}
	s.ModeBin = h.Bins[maxIdx].Label
	s.MaxPercentage = pcts[maxIdx]

	s.MedianBin = h.Bins[0].Label
	cumulative := 0.0
	for i, b := range h.Bins {
		cumulative += pcts[i]
		if cumulative >= 50 {
			s.MedianBin = b.Label
			break
		}
	}
	return s
}

// Zone is a half-open rate band [Min, Max).
type Zone struct {
	Name string
	Min  float64
	Max  float64
}

// DefaultHeartRateZones are the standard bands in bpm.
var DefaultHeartRateZones = []Zone{
	{Name: "bradycardia", Min: 0, Max: 60},
	{Name: "normal_rest", Min: 60, Max: 100},
	{Name: "elevated", Min: 100, Max: 120},
	{Name: "tachycardia", Min: 120, Max: 200},
	{Name: "extreme", Min: 200, Max: 300},
}

// ZoneTime is the percentage of time spent in one zone.
type ZoneTime struct {
	Zone    string  `json:"zone"`
	Percent float64 `json:"percent"`
}

// TimeInZones assigns each numeric bin by its midpoint to the first
// matching zone. Non-numeric bins are ignored.
func TimeInZones(h *Histogram, zones []Zone) []ZoneTime {
	if len(zones) == 0 {
		zones = DefaultHeartRateZones
	}
	out := make([]ZoneTime, len(zones))
	for i, z := range zones {
		out[i].Zone = z.Name
	}
	if h == nil {
		return out
	}
	pcts := h.Percentages()
	for i, b := range h.Bins {
		mid, ok := midpoint(b.Label)
		if !ok {
			continue
		}
		for j, z := range zones {
			if mid >= z.Min && mid < z.Max {
				out[j].Percent += pcts[i]
				break
			}
		}
	}
	return out
}

// midpoint reads "60", "60-70" or "<60"/">120" style labels.
func midpoint(label string) (float64, bool) {
	l := strings.TrimSpace(label)
	l = strings.TrimSpace(strings.TrimSuffix(l, "bpm"))
	l = strings.TrimLeft(l, "<>=")
	if v, err := strconv.ParseFloat(l, 64); err == nil {
		return v, true
	}
	if i := strings.IndexByte(l, '-'); i > 0 {
		lo, err1 := strconv.ParseFloat(strings.TrimSpace(l[:i]), 64)
		hi, err2 := strconv.ParseFloat(strings.TrimSpace(l[i+1:]), 64)
		if err1 == nil && err2 == nil {
			return (lo + hi) / 2, true
		}
	}
	return 0, false
}
