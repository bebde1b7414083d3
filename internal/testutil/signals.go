// Package testutil generates synthetic direct-injection spectra for
// tests: a regular m/z grid with Gaussian peaks on a flat baseline.
package testutil

import (
	"math"

	"github.com/524D/mzfeat/internal/msdata"
)

// GaussPeak describes one synthetic peak.
type GaussPeak struct {
	Mz     float64
	Height float64
	Sigma  float64
}

// MakeSpectrum builds a spectrum on the grid [mzStart, mzEnd] with the
// given step, a constant baseline and the given Gaussian peaks.
func MakeSpectrum(sampleID string, mzStart, mzEnd, step, baseline float64, peaks []GaussPeak) msdata.Spectrum {
	n := int(math.Round((mzEnd-mzStart)/step)) + 1
	mz := make([]float64, n)
	intens := make([]float64, n)
	for i := 0; i < n; i++ {
		mz[i] = mzStart + float64(i)*step
		intens[i] = baseline
		for _, p := range peaks {
			d := (mz[i] - p.Mz) / p.Sigma
			intens[i] += p.Height * math.Exp(-d*d/2)
		}
	}
	return msdata.Spectrum{SampleID: sampleID, Mz: mz, Intens: intens}
}

// DefaultPeaks returns the three-peak pattern used by most tests.
func DefaultPeaks() []GaussPeak {
	return []GaussPeak{
		{Mz: 100.0, Height: 1000, Sigma: 0.05},
		{Mz: 150.0, Height: 800, Sigma: 0.05},
		{Mz: 200.0, Height: 1200, Sigma: 0.05},
	}
}
