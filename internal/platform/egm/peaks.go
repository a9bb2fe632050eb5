package egm

import "sort"

// findPeaks returns indices of local maxima at least minDistance samples
// apart whose prominence is at least minProminence. Plateaus report their
// midpoint. When two peaks are closer than minDistance the taller survives.
func findPeaks(x []float64, minDistance int, minProminence float64) []int {
	candidates := localMaxima(x)
	candidates = enforceDistance(x, candidates, minDistance)

	var peaks []int
	for _, p := range candidates {
		if prominence(x, p) >= minProminence {
			peaks = append(peaks, p)
		}
	}
	return peaks
}

func localMaxima(x []float64) []int {
	var out []int
	n := len(x)
	i := 1
	for i < n-1 {
		if x[i-1] < x[i] {
			ahead := i + 1
			for ahead < n-1 && x[ahead] == x[i] {
				ahead++
			}
			if x[ahead] < x[i] {
				out = append(out, (i+ahead-1)/2)
				i = ahead
				continue
			}
		}
		i++
	}
	return out
}

func enforceDistance(x []float64, peaks []int, distance int) []int {
	if distance <= 1 || len(peaks) < 2 {
		return peaks
	}
	order := make([]int, len(peaks))
	for i := range order {
		order[i] = i
	}
	// Tallest first; ties keep the earlier peak.
	sort.SliceStable(order, func(a, b int) bool {
		return x[peaks[order[a]]] > x[peaks[order[b]]]
	})

	keep := make([]bool, len(peaks))
	for i := range keep {
		keep[i] = true
	}
	for _, j := range order {
		if !keep[j] {
			continue
		}
		for k := j - 1; k >= 0 && peaks[j]-peaks[k] < distance; k-- {
			keep[k] = false
		}
		for k := j + 1; k < len(peaks) && peaks[k]-peaks[j] < distance; k++ {
			keep[k] = false
		}
	}

	out := peaks[:0:0]
	for i, p := range peaks {
		if keep[i] {
			out = append(out, p)
		}
	}
	return out
}

// prominence is the height of the peak above the higher of the two lowest
// points reached before the signal rises above the peak on either side.
func prominence(x []float64, peak int) float64 {
	h := x[peak]

	leftMin := h
	for i := peak; i >= 0 && x[i] <= h; i-- {
		if x[i] < leftMin {
			leftMin = x[i]
		}
	}
	rightMin := h
	for i := peak; i < len(x) && x[i] <= h; i++ {
		if x[i] < rightMin {
			rightMin = x[i]
		}
	}

	base := leftMin
	if rightMin > base {
		base = rightMin
	}
	return h - base
}
