// Package peakdetect finds peaks in a single spectrum using a multiscale
// matched filter: the intensity signal is correlated with a Ricker
// (Mexican hat) kernel at each configured scale, local response maxima
// are gated by a local signal-to-noise estimate, and maxima supported by
// neighboring scales are merged into one peak.
package peakdetect

import (
	"fmt"
	"math"
	"sort"

	"github.com/524D/mzfeat/internal/msdata"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// NoiseMethod selects the statistic used for the local noise estimate.
type NoiseMethod int

const (
	NoiseMean NoiseMethod = iota
	NoiseMedian
)

// ParseNoiseMethod converts a noise method name as used in configuration
// files to a NoiseMethod.
func ParseNoiseMethod(s string) (NoiseMethod, error) {
	switch s {
	case `mean`, ``:
		return NoiseMean, nil
	case `median`:
		return NoiseMedian, nil
	}
	return 0, fmt.Errorf("unknown noise method: %s", s)
}

func (m NoiseMethod) String() string {
	switch m {
	case NoiseMean:
		return `mean`
	case NoiseMedian:
		return `median`
	}
	return fmt.Sprintf("NoiseMethod(%d)", int(m))
}

// Config holds the peak detection parameters.
type Config struct {
	// Scales are kernel scales in data points, positive and strictly
	// increasing. A scale whose kernel is longer than the spectrum is
	// skipped for that spectrum.
	Scales []float64
	// SNRThreshold is the minimum signal to noise ratio of a response
	// maximum.
	SNRThreshold float64
	// NoiseWindowSize is the width (in data points) of the sliding
	// window for the local noise estimate.
	NoiseWindowSize int
	// UseNeighboringPeaks merges maxima that are adjacent across scales
	// into a single peak spanning the merged support.
	UseNeighboringPeaks bool
	NoiseMethod         NoiseMethod
}

// Validate checks the configuration before any processing starts.
func (c *Config) Validate() error {
	if len(c.Scales) == 0 {
		return fmt.Errorf("peak detection needs at least one scale")
	}
	for i, s := range c.Scales {
		if !(s > 0) {
			return fmt.Errorf("scale must be positive: %g", s)
		}
		if i > 0 && s <= c.Scales[i-1] {
			return fmt.Errorf("scales must be strictly increasing: %g after %g",
				s, c.Scales[i-1])
		}
	}
	if c.SNRThreshold < 0 || math.IsNaN(c.SNRThreshold) {
		return fmt.Errorf("snr threshold must be >= 0: %g", c.SNRThreshold)
	}
	if c.NoiseWindowSize <= 0 {
		return fmt.Errorf("noise window size must be > 0: %d", c.NoiseWindowSize)
	}
	if c.NoiseMethod != NoiseMean && c.NoiseMethod != NoiseMedian {
		return fmt.Errorf("unknown noise method: %d", int(c.NoiseMethod))
	}
	return nil
}

// maximum of the matched filter response at one scale
type responseMax struct {
	idx   int
	scale float64
	resp  float64
}

// Detect finds the peaks of a single spectrum. Finding no peaks is not
// an error: the returned slice is simply empty.
func Detect(spec *msdata.Spectrum, cfg Config) ([]msdata.Peak, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	var maxima []responseMax
	for _, scale := range cfg.Scales {
		maxima = append(maxima, responseMaxima(spec.Intens, scale, cfg)...)
	}
	if len(maxima) == 0 {
		return nil, nil
	}

	sort.Slice(maxima, func(i, j int) bool { return maxima[i].idx < maxima[j].idx })

	peaks := make([]msdata.Peak, 0, len(maxima))
	for _, grp := range mergeMaxima(maxima, cfg.UseNeighboringPeaks) {
		peaks = append(peaks, makePeak(spec, grp))
	}
	sort.Slice(peaks, func(i, j int) bool { return peaks[i].Mz < peaks[j].Mz })
	return peaks, nil
}

// rickerKernel returns a Ricker wavelet sampled at integer offsets,
// normalized to unit energy so responses are comparable across scales.
func rickerKernel(scale float64) []float64 {
	half := int(math.Ceil(4 * scale))
	kernel := make([]float64, 2*half+1)
	for i := range kernel {
		t := float64(i - half)
		ts := t / scale
		kernel[i] = (1 - ts*ts) * math.Exp(-ts*ts/2)
	}
	norm := math.Sqrt(floats.Dot(kernel, kernel))
	floats.Scale(1/norm, kernel)
	return kernel
}

// responseMaxima correlates the signal with the Ricker kernel at one
// scale and returns the SNR-gated local maxima of the response.
func responseMaxima(intens []float64, scale float64, cfg Config) []responseMax {
	kernel := rickerKernel(scale)
	half := len(kernel) / 2
	if len(intens) < len(kernel) {
		// Spectrum too short for this scale
		return nil
	}

	resp := make([]float64, len(intens))
	for i := half; i < len(intens)-half; i++ {
		resp[i] = floats.Dot(kernel, intens[i-half:i+half+1])
	}

	var maxima []responseMax
	for i := half + 1; i < len(intens)-half-1; i++ {
		if resp[i] <= 0 || resp[i] <= resp[i-1] || resp[i] < resp[i+1] {
			continue
		}
		noise := localNoise(intens, i, cfg)
		if noise <= 0 {
			noise = math.SmallestNonzeroFloat64
		}
		if intens[i]/noise > cfg.SNRThreshold {
			maxima = append(maxima, responseMax{idx: i, scale: scale, resp: resp[i]})
		}
	}
	return maxima
}

// localNoise estimates the noise level around index i with the
// configured statistic over the sliding window.
func localNoise(intens []float64, i int, cfg Config) float64 {
	lo := i - cfg.NoiseWindowSize/2
	if lo < 0 {
		lo = 0
	}
	hi := lo + cfg.NoiseWindowSize
	if hi > len(intens) {
		hi = len(intens)
		lo = hi - cfg.NoiseWindowSize
		if lo < 0 {
			lo = 0
		}
	}
	window := intens[lo:hi]
	if cfg.NoiseMethod == NoiseMedian {
		sorted := make([]float64, len(window))
		copy(sorted, window)
		sort.Float64s(sorted)
		return stat.Quantile(0.5, stat.Empirical, sorted, nil)
	}
	return stat.Mean(window, nil)
}

// mergeMaxima groups response maxima (sorted by index) that belong to
// the same peak. With neighbors enabled, maxima from different scales
// are merged when their distance is within the larger scale; otherwise
// only maxima at the identical index are merged.
func mergeMaxima(maxima []responseMax, neighbors bool) [][]responseMax {
	var groups [][]responseMax
	cur := []responseMax{maxima[0]}
	for _, m := range maxima[1:] {
		last := cur[len(cur)-1]
		var near bool
		if neighbors {
			near = m.idx-last.idx <= int(math.Ceil(math.Max(m.scale, last.scale)))
		} else {
			near = m.idx == last.idx
		}
		if near {
			cur = append(cur, m)
		} else {
			groups = append(groups, cur)
			cur = []responseMax{m}
		}
	}
	return append(groups, cur)
}

// makePeak turns one group of merged maxima into a peak. The apex is the
// member with the most intense raw signal; the boundaries span the
// support of all members.
func makePeak(spec *msdata.Spectrum, grp []responseMax) msdata.Peak {
	apex := grp[0].idx
	lo, hi := len(spec.Intens), -1
	for _, m := range grp {
		if spec.Intens[m.idx] > spec.Intens[apex] {
			apex = m.idx
		}
		support := int(math.Ceil(m.scale))
		if m.idx-support < lo {
			lo = m.idx - support
		}
		if m.idx+support > hi {
			hi = m.idx + support
		}
	}
	if lo < 0 {
		lo = 0
	}
	if hi >= len(spec.Intens) {
		hi = len(spec.Intens) - 1
	}
	return msdata.Peak{
		Mz:       spec.Mz[apex],
		MzMin:    spec.Mz[lo],
		MzMax:    spec.Mz[hi],
		Into:     floats.Sum(spec.Intens[lo : hi+1]),
		SampleID: spec.SampleID,
	}
}
