package egm

import (
	"errors"
	"math"

	"github.com/jfcg/butter"
)

var errCutoff = errors.New("egm: filter cutoff outside the valid range")

// stage is one first-order section.
type stage interface {
	Next(float64) float64
}

// bandpass applies a zero-phase band-pass: mean removal, odd reflection
// padding, then a high-pass/low-pass pair run forward and again backward.
// Two passes of first-order sections give a fourth-order magnitude response
// with no phase shift.
func bandpass(x []float64, fs, lowHz, highHz float64) ([]float64, error) {
	n := len(x)
	if n < 3 {
		return nil, errors.New("egm: signal too short to filter")
	}
	// Keep the upper edge below Nyquist.
	highHz = math.Min(highHz, 0.45*fs)
	if highHz <= lowHz {
		return nil, errCutoff
	}
	wcLow := 2 * math.Pi * lowHz / fs
	wcHigh := 2 * math.Pi * highHz / fs

	mean := 0.0
	for _, v := range x {
		mean += v
	}
	mean /= float64(n)
	centered := make([]float64, n)
	for i, v := range x {
		centered[i] = v - mean
	}

	pad := int(fs)
	if pad > n-1 {
		pad = n - 1
	}
	y := reflectPad(centered, pad)

	y, err := runPass(y, wcLow, wcHigh)
	if err != nil {
		return nil, err
	}
	reverse(y)
	y, err = runPass(y, wcLow, wcHigh)
	if err != nil {
		return nil, err
	}
	reverse(y)

	return y[pad : pad+n], nil
}

func runPass(x []float64, wcLow, wcHigh float64) ([]float64, error) {
	hp := butter.NewHighPass1(wcLow)
	lp := butter.NewLowPass1(wcHigh)
	if hp == nil || lp == nil {
		return nil, errCutoff
	}
	stages := []stage{hp, lp}
	out := make([]float64, len(x))
	for i, v := range x {
		for _, s := range stages {
			v = s.Next(v)
		}
		out[i] = v
	}
	return out, nil
}

// reflectPad extends x by pad samples on each side with an odd reflection
// about the end points.
func reflectPad(x []float64, pad int) []float64 {
	n := len(x)
	out := make([]float64, 0, n+2*pad)
	for i := pad; i >= 1; i-- {
		out = append(out, 2*x[0]-x[i])
	}
	out = append(out, x...)
	for i := 1; i <= pad; i++ {
		out = append(out, 2*x[n-1]-x[n-1-i])
	}
	return out
}

func reverse(x []float64) {
	for i, j := 0, len(x)-1; i < j; i, j = i+1, j-1 {
		x[i], x[j] = x[j], x[i]
	}
}
