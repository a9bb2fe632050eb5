package stats

import (
	"errors"
	"math"
)

// ErrDegenerate is returned when a regression cannot be fitted.
var ErrDegenerate = errors.New("stats: degenerate regression input")

// Regression is an ordinary least-squares fit of y = Slope*x + Intercept.
type Regression struct {
	Slope     float64 `json:"slope"`
	Intercept float64 `json:"intercept"`
	RSquared  float64 `json:"r_squared"`
	PValue    float64 `json:"p_value"`
	StdErr    float64 `json:"std_err"`
	N         int     `json:"n"`
}

// LinearRegression fits y against x. It needs at least two points and some
// spread in x. The p-value is the two-sided test of a zero slope; with two
// points it is 1.
func LinearRegression(x, y []float64) (Regression, error) {
	n := len(x)
	if n != len(y) || n < 2 {
		return Regression{}, ErrDegenerate
	}
	mx, my := Mean(x), Mean(y)
	var sxx, sxy, syy float64
	for i := range x {
		dx, dy := x[i]-mx, y[i]-my
		sxx += dx * dx
		sxy += dx * dy
		syy += dy * dy
	}
	if sxx == 0 {
		return Regression{}, ErrDegenerate
	}

	r := Regression{N: n}
	r.Slope = sxy / sxx
	r.Intercept = my - r.Slope*mx
	if syy == 0 {
		r.RSquared = 0
	} else {
		r.RSquared = (sxy * sxy) / (sxx * syy)
	}

	df := float64(n - 2)
	if df <= 0 {
		r.PValue = 1
		return r, nil
	}
	sse := math.Max(syy-r.Slope*sxy, 0)
	r.StdErr = math.Sqrt(sse/df) / math.Sqrt(sxx)
	switch {
	case r.StdErr == 0 && r.Slope == 0:
		r.PValue = 1
	case r.StdErr == 0:
		r.PValue = 0
	default:
		t := r.Slope / r.StdErr
		r.PValue = StudentTTwoSided(t, df)
	}
	return r, nil
}

// StudentTTwoSided returns P(|T| >= |t|) for Student's t with df degrees
// of freedom.
func StudentTTwoSided(t, df float64) float64 {
	if df <= 0 || math.IsNaN(t) {
		return math.NaN()
	}
	x := df / (df + t*t)
	return RegularizedIncompleteBeta(x, df/2, 0.5)
}

// RegularizedIncompleteBeta evaluates I_x(a, b) with the Lentz continued
// fraction.
func RegularizedIncompleteBeta(x, a, b float64) float64 {
	switch {
	case x <= 0:
		return 0
	case x >= 1:
		return 1
	}
	la, _ := math.Lgamma(a)
	lb, _ := math.Lgamma(b)
	lab, _ := math.Lgamma(a + b)
	front := math.Exp(lab - la - lb + a*math.Log(x) + b*math.Log(1-x))

	if x < (a+1)/(a+b+2) {
		return front * betaCF(x, a, b) / a
	}
	return 1 - front*betaCF(1-x, b, a)/b
}

func betaCF(x, a, b float64) float64 {
	const (
		maxIter = 300
		eps     = 3e-14
		tiny    = 1e-300
	)
	qab, qap, qam := a+b, a+1, a-1
	c := 1.0
	d := 1 - qab*x/qap
	if math.Abs(d) < tiny {
		d = tiny
	}
	d = 1 / d
	h := d
	for m := 1; m <= maxIter; m++ {
		fm := float64(m)
		m2 := 2 * fm
		aa := fm * (b - fm) * x / ((qam + m2) * (a + m2))
		d = 1 + aa*d
		if math.Abs(d) < tiny {
			d = tiny
		}
		c = 1 + aa/c
		if math.Abs(c) < tiny {
			c = tiny
		}
		d = 1 / d
		h *= d * c

		aa = -(a + fm) * (qab + fm) * x / ((a + m2) * (qap + m2))
		d = 1 + aa*d
		if math.Abs(d) < tiny {
			d = tiny
		}
		c = 1 + aa/c
		if math.Abs(c) < tiny {
			c = tiny
		}
		d = 1 / d
		del := d * c
		h *= del
		if math.Abs(del-1) < eps {
			break
		}
	}
	return h
}
