// Package gapfill recovers quantitative values for samples that lack a
// detected peak in a feature, by integrating the raw spectrum over the
// feature's m/z range. Samples whose spectrum holds no data in the
// range stay explicitly missing.
package gapfill

import (
	"context"
	"fmt"
	"math"
	"runtime"

	"github.com/524D/mzfeat/internal/msdata"

	"golang.org/x/sync/errgroup"
)

// Config holds the gap filling parameters.
type Config struct {
	// IntegrationWindow expands the feature m/z range on both sides
	// before integrating.
	IntegrationWindow float64
}

// Validate checks the configuration before any processing starts.
func (c *Config) Validate() error {
	if c.IntegrationWindow < 0 || math.IsNaN(c.IntegrationWindow) {
		return fmt.Errorf("integration window must be >= 0: %g", c.IntegrationWindow)
	}
	return nil
}

// Result of a gap filling run. Features and Peaks extend the grouping
// output: recovered peaks are appended, never removed, and every
// feature keeps at least its original peak references.
type Result struct {
	Features []msdata.Feature
	Peaks    []msdata.Peak
	Table    msdata.FeatureTable
}

// Fill integrates raw signal for every (feature, sample) pair that has
// no detected peak. Features are processed concurrently, bounded by
// maxWorkers (or GOMAXPROCS when <= 0); each feature only reads the
// immutable spectra and writes its own table row.
func Fill(ctx context.Context, features []msdata.Feature, peaks []msdata.Peak,
	spectra []msdata.Spectrum, cfg Config, maxWorkers int) (*Result, error) {

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if maxWorkers <= 0 {
		maxWorkers = runtime.GOMAXPROCS(0)
	}

	specBySample := make(map[string]*msdata.Spectrum, len(spectra))
	samples := make([]string, len(spectra))
	for i := range spectra {
		specBySample[spectra[i].SampleID] = &spectra[i]
		samples[i] = spectra[i].SampleID
	}

	res := &Result{
		Features: make([]msdata.Feature, len(features)),
		Peaks:    make([]msdata.Peak, len(peaks), len(peaks)+len(features)),
		Table: msdata.FeatureTable{
			Samples:  samples,
			Features: make([]msdata.Feature, len(features)),
			Into:     make([][]msdata.Abundance, len(features)),
		},
	}
	copy(res.Peaks, peaks)

	// Recovered peaks per feature; merged after the parallel pass so
	// the pooled peak slice stays append-only and index-stable.
	recovered := make([][]msdata.Peak, len(features))

	g := new(errgroup.Group)
	g.SetLimit(maxWorkers)
	for f := range features {
		f := f
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			row, rec := fillFeature(&features[f], peaks, specBySample, samples, cfg)
			res.Table.Into[f] = row
			recovered[f] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for f := range features {
		feat := features[f]
		idx := make([]int, len(feat.PeakIdx), len(feat.PeakIdx)+len(recovered[f]))
		copy(idx, feat.PeakIdx)
		for _, p := range recovered[f] {
			idx = append(idx, len(res.Peaks))
			res.Peaks = append(res.Peaks, p)
		}
		feat.PeakIdx = idx
		res.Features[f] = feat
		res.Table.Features[f] = feat
	}
	return res, nil
}

// fillFeature produces one table row. For samples with detected peaks
// the most intense member peak is the representative; for the rest the
// raw spectrum is integrated over the expanded feature range.
func fillFeature(feat *msdata.Feature, peaks []msdata.Peak,
	specBySample map[string]*msdata.Spectrum, samples []string,
	cfg Config) ([]msdata.Abundance, []msdata.Peak) {

	best := make(map[string]float64, len(feat.PeakIdx))
	for _, idx := range feat.PeakIdx {
		p := peaks[idx]
		if v, ok := best[p.SampleID]; !ok || p.Into > v {
			best[p.SampleID] = p.Into
		}
	}

	lo := feat.MzMin - cfg.IntegrationWindow
	hi := feat.MzMax + cfg.IntegrationWindow

	row := make([]msdata.Abundance, len(samples))
	var rec []msdata.Peak
	for s, sample := range samples {
		if v, ok := best[sample]; ok {
			row[s] = msdata.Present(v)
			continue
		}
		into, n := specBySample[sample].Integrate(lo, hi)
		if n == 0 {
			// No raw data in the window: explicitly missing,
			// not zero
			row[s] = msdata.Missing
			continue
		}
		row[s] = msdata.Present(into)
		rec = append(rec, msdata.Peak{
			Mz:       feat.Mz,
			MzMin:    lo,
			MzMax:    hi,
			Into:     into,
			SampleID: sample,
		})
	}
	return row, rec
}
