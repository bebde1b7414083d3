// Package calibrate adjusts detected peak m/z values against a list of
// calibrants with known m/z. Each calibrant is matched to the closest
// detected peak within a tolerance window; the resulting (m/z, offset)
// pairs drive either a piecewise-linear edge shift or a single linear
// fit over all peaks.
package calibrate

import (
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"

	"github.com/524D/mzfeat/internal/msdata"

	"gonum.org/v1/gonum/interp"
	"gonum.org/v1/gonum/optimize"
)

// ErrCalibration reports that too few calibrants matched a detected
// peak for the calibration to be defined.
var ErrCalibration = errors.New("insufficient matched calibrants")

// The calibration methods that we can handle
type Method int

const (
	MethodEdgeShift Method = iota
	MethodLinear
)

// ParseMethod converts a method name as used in configuration files
// to a Method.
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(s) {
	case `edgeshift`:
		return MethodEdgeShift, nil
	case `linear`:
		return MethodLinear, nil
	}
	return 0, fmt.Errorf("unknown calibration method: %s", s)
}

func (m Method) String() string {
	switch m {
	case MethodEdgeShift:
		return `edgeshift`
	case MethodLinear:
		return `linear`
	}
	return fmt.Sprintf("Method(%d)", int(m))
}

// Config holds the calibration parameters.
type Config struct {
	Method Method
	// MzAbsTol and MzPpmTol together define the calibrant match window:
	// max(MzAbsTol, MzPpmTol*mz/1e6). At least one must be positive.
	MzAbsTol float64
	MzPpmTol float64
}

// Validate checks the configuration before any processing starts.
func (c *Config) Validate() error {
	if c.Method != MethodEdgeShift && c.Method != MethodLinear {
		return fmt.Errorf("unknown calibration method: %d", int(c.Method))
	}
	if c.MzAbsTol < 0 || math.IsNaN(c.MzAbsTol) {
		return fmt.Errorf("absolute m/z tolerance must be >= 0: %g", c.MzAbsTol)
	}
	if c.MzPpmTol < 0 || math.IsNaN(c.MzPpmTol) {
		return fmt.Errorf("ppm m/z tolerance must be >= 0: %g", c.MzPpmTol)
	}
	if c.MzAbsTol == 0 && c.MzPpmTol == 0 {
		return fmt.Errorf("at least one m/z tolerance must be positive")
	}
	return nil
}

// matched calibrant: reference m/z paired with the measured peak m/z
type calMatch struct {
	calMz  float64
	peakMz float64
}

// Calibrate returns a new peak slice with adjusted m/z values. The
// input peaks are not modified. Fewer than 2 matched calibrants yield
// an error wrapping ErrCalibration.
func Calibrate(peaks []msdata.Peak, calibrants []float64, cfg Config) ([]msdata.Peak, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	matches := matchCalibrants(peaks, calibrants, cfg)
	if len(matches) < 2 {
		return nil, fmt.Errorf("%w: %d of %d calibrants matched",
			ErrCalibration, len(matches), len(calibrants))
	}

	offsetAt, err := offsetFunc(matches, cfg.Method)
	if err != nil {
		return nil, err
	}

	calibrated := make([]msdata.Peak, len(peaks))
	for i, p := range peaks {
		off := offsetAt(p.Mz)
		p.Mz += off
		p.MzMin += off
		p.MzMax += off
		calibrated[i] = p
	}
	return calibrated, nil
}

// matchCalibrants finds for each calibrant the closest peak within
// max(MzAbsTol, MzPpmTol*mz/1e6). Unmatched calibrants are skipped.
// When two calibrants select the same peak, the closer one wins, so the
// returned matches have strictly increasing peak m/z.
func matchCalibrants(peaks []msdata.Peak, calibrants []float64, cfg Config) []calMatch {
	// Sort peak m/z values, so we can find matching masses quickly
	mzs := make([]float64, len(peaks))
	for i, p := range peaks {
		mzs[i] = p.Mz
	}
	sort.Float64s(mzs)

	best := make(map[float64]float64) // peak m/z -> calibrant m/z of closest match
	for _, cal := range calibrants {
		tol := math.Max(cfg.MzAbsTol, cfg.MzPpmTol*cal/1e6)
		peakMz, ok := closestMz(mzs, cal, tol)
		if !ok {
			log.Printf("calibrant %g: no peak within %g, skipped", cal, tol)
			continue
		}
		if prev, taken := best[peakMz]; !taken ||
			math.Abs(cal-peakMz) < math.Abs(prev-peakMz) {
			best[peakMz] = cal
		}
	}

	matches := make([]calMatch, 0, len(best))
	for peakMz, calMz := range best {
		matches = append(matches, calMatch{calMz: calMz, peakMz: peakMz})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].peakMz < matches[j].peakMz })
	return matches
}

// closestMz returns the m/z value closest to target within tol.
// The m/z values must be sorted ascending.
func closestMz(mzs []float64, target, tol float64) (float64, bool) {
	i := sort.SearchFloat64s(mzs, target)
	bestDiff := math.Inf(1)
	var bestMz float64
	if i < len(mzs) {
		bestDiff = mzs[i] - target
		bestMz = mzs[i]
	}
	if i > 0 && target-mzs[i-1] < bestDiff {
		bestDiff = target - mzs[i-1]
		bestMz = mzs[i-1]
	}
	return bestMz, bestDiff <= tol
}

// offsetFunc builds the m/z dependent offset for the configured method.
func offsetFunc(matches []calMatch, method Method) (func(float64) float64, error) {
	xs := make([]float64, len(matches))
	ys := make([]float64, len(matches))
	for i, m := range matches {
		xs[i] = m.peakMz
		ys[i] = m.calMz - m.peakMz
	}

	switch method {
	case MethodEdgeShift:
		var pl interp.PiecewiseLinear
		if err := pl.Fit(xs, ys); err != nil {
			return nil, err
		}
		lo, hi := xs[0], xs[len(xs)-1]
		return func(mz float64) float64 {
			// Outside the matched range the boundary offset applies
			return pl.Predict(math.Min(math.Max(mz, lo), hi))
		}, nil
	case MethodLinear:
		p, err := fitLine(xs, ys)
		if err != nil {
			return nil, err
		}
		return func(mz float64) float64 { return p[0] + p[1]*mz }, nil
	}
	return nil, fmt.Errorf("unknown calibration method: %d", int(method))
}

// fitLine finds the least squares line through the offset vs m/z pairs.
// We use the gonum.optimize package to find the best parameters:
// https://pkg.go.dev/gonum.org/v1/gonum/optimize#Minimize
func fitLine(xs, ys []float64) ([]float64, error) {
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			sumOfResiduals := float64(0.0)
			for i := range xs {
				diff := ys[i] - (x[0] + x[1]*xs[i])
				sumOfResiduals += diff * diff
			}
			return math.Sqrt(sumOfResiduals)
		},
	}
	pIn := make([]float64, 2)
	fit, err := optimize.Minimize(problem, pIn, nil, nil)
	if err != nil {
		return nil, err
	}
	return fit.X, nil
}
