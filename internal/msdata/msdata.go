// Package msdata contains the in-memory data model for direct-injection
// MS feature detection: spectra per sample, detected peaks, and the
// features (cross-sample peak groups) that the pipeline produces.
package msdata

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// Spectrum holds one sample's profile data, ordered by m/z ascending.
// A spectrum is immutable once loaded.
type Spectrum struct {
	SampleID string
	Mz       []float64
	Intens   []float64
}

// Validate checks the spectrum invariants: equal slice lengths, strictly
// increasing finite m/z values and finite non-negative intensities.
// An empty spectrum is valid (it simply yields no peaks).
func (s *Spectrum) Validate() error {
	if s.SampleID == "" {
		return fmt.Errorf("spectrum without sample id")
	}
	if len(s.Mz) != len(s.Intens) {
		return fmt.Errorf("sample %s: %d m/z values but %d intensities",
			s.SampleID, len(s.Mz), len(s.Intens))
	}
	for i, mz := range s.Mz {
		if math.IsNaN(mz) || math.IsInf(mz, 0) {
			return fmt.Errorf("sample %s: non-finite m/z at index %d", s.SampleID, i)
		}
		if i > 0 && mz <= s.Mz[i-1] {
			return fmt.Errorf("sample %s: m/z not strictly increasing at index %d (%g after %g)",
				s.SampleID, i, mz, s.Mz[i-1])
		}
	}
	for i, in := range s.Intens {
		if math.IsNaN(in) || math.IsInf(in, 0) {
			return fmt.Errorf("sample %s: non-finite intensity at index %d", s.SampleID, i)
		}
		if in < 0 {
			return fmt.Errorf("sample %s: negative intensity %g at index %d", s.SampleID, in, i)
		}
	}
	return nil
}

// Window returns the index range [lo, hi) of data points with
// mzMin <= m/z <= mzMax.
func (s *Spectrum) Window(mzMin, mzMax float64) (int, int) {
	lo := sort.SearchFloat64s(s.Mz, mzMin)
	hi := sort.Search(len(s.Mz), func(i int) bool { return s.Mz[i] > mzMax })
	return lo, hi
}

// Integrate sums the raw intensity of all data points in the given m/z
// window and reports how many points contributed. A count of zero means
// the spectrum holds no data in the window, which callers must keep
// distinct from an integral of zero.
func (s *Spectrum) Integrate(mzMin, mzMax float64) (float64, int) {
	lo, hi := s.Window(mzMin, mzMax)
	if lo >= hi {
		return 0, 0
	}
	return floats.Sum(s.Intens[lo:hi]), hi - lo
}

// Peak is a detected local intensity maximum in one sample's spectrum.
// Peaks are immutable; calibration produces new Peak values.
type Peak struct {
	Mz       float64 `json:"mz"`
	MzMin    float64 `json:"mzmin"`
	MzMax    float64 `json:"mzmax"`
	Into     float64 `json:"into"`
	SampleID string  `json:"sampleId"`
}

// Feature is a group of peaks across samples believed to represent the
// same species. PeakIdx holds back-references into the pooled peak slice
// of the run; the feature does not own the peaks.
type Feature struct {
	Mz      float64 `json:"mz"`
	MzMin   float64 `json:"mzmin"`
	MzMax   float64 `json:"mzmax"`
	PeakIdx []int   `json:"peakIdx"`
}

// Abundance is a per-sample quantitative value of a feature.
// Missing is an explicit state, distinct from a measured zero.
type Abundance struct {
	Value float64
	Valid bool
}

// Present returns a measured abundance.
func Present(v float64) Abundance { return Abundance{Value: v, Valid: true} }

// Missing is the explicit "no data" abundance.
var Missing = Abundance{}

// MarshalJSON encodes a missing abundance as null.
func (a Abundance) MarshalJSON() ([]byte, error) {
	if !a.Valid {
		return []byte(`null`), nil
	}
	return json.Marshal(a.Value)
}

// UnmarshalJSON decodes null as missing.
func (a *Abundance) UnmarshalJSON(data []byte) error {
	if string(data) == `null` {
		*a = Missing
		return nil
	}
	a.Valid = true
	return json.Unmarshal(data, &a.Value)
}

// FeatureTable is the pipeline hand-off: one row per feature, one column
// per sample, missing cells explicit.
type FeatureTable struct {
	Samples  []string
	Features []Feature
	// Into[f][s] is the abundance of feature f in sample Samples[s].
	Into [][]Abundance
}
