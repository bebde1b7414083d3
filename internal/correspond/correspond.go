// Package correspond groups peaks with similar m/z across samples into
// features (mzClust style): the pooled peaks are sorted by m/z and
// merged by single linkage with a ppm/absolute tolerance; clusters that
// contain a sample more than once are split at the gap that retains the
// most distinct samples.
package correspond

import (
	"fmt"
	"math"
	"sort"

	"github.com/524D/mzfeat/internal/msdata"

	"gonum.org/v1/gonum/stat"
)

// MethodMzClust is the only grouping method currently implemented.
const MethodMzClust = `mzClust`

// Config holds the correspondence parameters.
type Config struct {
	// Method selects the grouping algorithm; empty means mzClust.
	Method string
	// MzAbsTol and MzPpmTol define the merge tolerance between adjacent
	// peaks: max(MzAbsTol, MzPpmTol*mz/1e6). At least one must be
	// positive.
	MzAbsTol float64
	MzPpmTol float64
	// MinFractionSamples is the fraction of all samples a cluster must
	// cover to become a feature.
	MinFractionSamples float64
	// MinFractionPerGroup, when positive, is additionally required
	// within every declared sample group.
	MinFractionPerGroup float64
}

// Validate checks the configuration before any processing starts.
func (c *Config) Validate() error {
	if c.Method != `` && c.Method != MethodMzClust {
		return fmt.Errorf("unknown correspondence method: %s", c.Method)
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
	if c.MinFractionSamples < 0 || c.MinFractionSamples > 1 {
		return fmt.Errorf("minimum sample fraction must be in [0,1]: %g", c.MinFractionSamples)
	}
	if c.MinFractionPerGroup < 0 || c.MinFractionPerGroup > 1 {
		return fmt.Errorf("minimum group fraction must be in [0,1]: %g", c.MinFractionPerGroup)
	}
	return nil
}

// Group clusters the pooled peaks of all samples into features.
// Peak indices in the returned features refer to the peaks slice.
// The samples slice lists every sample of the run (also those without
// peaks); groups maps sample ids to group labels and may be empty.
func Group(peaks []msdata.Peak, samples []string, groups map[string]string, cfg Config) ([]msdata.Feature, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("correspondence needs at least one sample")
	}
	if len(peaks) == 0 {
		return nil, nil
	}

	// Sort peak indices by m/z, so clusters are runs of the sorted order
	order := make([]int, len(peaks))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool { return peaks[order[i]].Mz < peaks[order[j]].Mz })

	groupSizes := make(map[string]int)
	for _, s := range samples {
		if g, ok := groups[s]; ok {
			groupSizes[g]++
		}
	}

	var features []msdata.Feature
	for _, run := range linkRuns(peaks, order, cfg) {
		for _, cluster := range splitRun(peaks, run) {
			if keepCluster(peaks, cluster, len(samples), groups, groupSizes, cfg) {
				features = append(features, makeFeature(peaks, cluster))
			}
		}
	}
	return features, nil
}

// linkRuns performs the single linkage pass: a new cluster starts
// whenever the m/z gap to the previous peak exceeds the tolerance.
func linkRuns(peaks []msdata.Peak, order []int, cfg Config) [][]int {
	var runs [][]int
	cur := []int{order[0]}
	for _, idx := range order[1:] {
		mz := peaks[idx].Mz
		tol := math.Max(cfg.MzAbsTol, cfg.MzPpmTol*mz/1e6)
		if mz-peaks[cur[len(cur)-1]].Mz > tol {
			runs = append(runs, cur)
			cur = nil
		}
		cur = append(cur, idx)
	}
	return append(runs, cur)
}

// splitRun recursively splits a cluster that contains a sample more
// than once, at the internal gap that maximizes the number of retained
// distinct samples. Ties prefer the split minimizing the summed m/z
// spread of the two halves.
func splitRun(peaks []msdata.Peak, run []int) [][]int {
	if !hasDuplicateSample(peaks, run) {
		return [][]int{run}
	}

	whole := distinctSamples(peaks, run)
	best := -1
	bestRetained := whole
	bestSpread := math.Inf(1)
	for g := 1; g < len(run); g++ {
		retained := distinctSamples(peaks, run[:g]) + distinctSamples(peaks, run[g:])
		spread := mzSpread(peaks, run[:g]) + mzSpread(peaks, run[g:])
		if retained > bestRetained ||
			(retained == bestRetained && best >= 0 && spread < bestSpread) {
			best = g
			bestRetained = retained
			bestSpread = spread
		}
	}
	if best < 0 {
		// Splitting cannot retain more samples (duplicates at equal m/z)
		return [][]int{run}
	}
	return append(splitRun(peaks, run[:best]), splitRun(peaks, run[best:])...)
}

func hasDuplicateSample(peaks []msdata.Peak, run []int) bool {
	seen := make(map[string]bool, len(run))
	for _, idx := range run {
		if seen[peaks[idx].SampleID] {
			return true
		}
		seen[peaks[idx].SampleID] = true
	}
	return false
}

func distinctSamples(peaks []msdata.Peak, run []int) int {
	seen := make(map[string]bool, len(run))
	for _, idx := range run {
		seen[peaks[idx].SampleID] = true
	}
	return len(seen)
}

func mzSpread(peaks []msdata.Peak, run []int) float64 {
	return peaks[run[len(run)-1]].Mz - peaks[run[0]].Mz
}

// keepCluster applies the sample and group coverage thresholds.
func keepCluster(peaks []msdata.Peak, run []int, numSamples int,
	groups map[string]string, groupSizes map[string]int, cfg Config) bool {

	bySample := make(map[string]bool, len(run))
	for _, idx := range run {
		bySample[peaks[idx].SampleID] = true
	}
	if float64(len(bySample)) < cfg.MinFractionSamples*float64(numSamples) {
		return false
	}
	if cfg.MinFractionPerGroup > 0 {
		inGroup := make(map[string]int)
		for s := range bySample {
			if g, ok := groups[s]; ok {
				inGroup[g]++
			}
		}
		for g, size := range groupSizes {
			if float64(inGroup[g]) < cfg.MinFractionPerGroup*float64(size) {
				return false
			}
		}
	}
	return true
}

// makeFeature builds a feature from a cluster. The m/z range spans the
// member apex m/z values; since clusters are disjoint runs of the m/z
// sorted peaks, feature ranges never overlap.
func makeFeature(peaks []msdata.Peak, run []int) msdata.Feature {
	mzs := make([]float64, len(run))
	idx := make([]int, len(run))
	copy(idx, run)
	sort.Ints(idx)
	for i, k := range run {
		mzs[i] = peaks[k].Mz
	}
	sort.Float64s(mzs)
	return msdata.Feature{
		Mz:      stat.Quantile(0.5, stat.Empirical, mzs, nil),
		MzMin:   mzs[0],
		MzMax:   mzs[len(mzs)-1],
		PeakIdx: idx,
	}
}
