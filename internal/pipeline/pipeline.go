// Package pipeline chains the feature detection stages: per-sample peak
// detection and optional calibration on a bounded worker pool, a global
// correspondence step once all samples are done, and concurrent gap
// filling of the resulting features. Every stage is a pure function of
// the previous stage's output.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"

	"github.com/524D/mzfeat/internal/calibrate"
	"github.com/524D/mzfeat/internal/correspond"
	"github.com/524D/mzfeat/internal/gapfill"
	"github.com/524D/mzfeat/internal/msdata"
	"github.com/524D/mzfeat/internal/peakdetect"

	"golang.org/x/sync/errgroup"
)

// ErrInvalidConfig reports a bad parameter value. It is returned before
// any sample is processed.
var ErrInvalidConfig = errors.New("invalid configuration")

// Stage of a processed dataset.
type Stage int

const (
	StageRaw Stage = iota
	StagePeaksDetected
	StageCalibrated
	StageGrouped
	StageFilled
)

func (s Stage) String() string {
	switch s {
	case StageRaw:
		return `RAW`
	case StagePeaksDetected:
		return `PEAKS_DETECTED`
	case StageCalibrated:
		return `CALIBRATED`
	case StageGrouped:
		return `GROUPED`
	case StageFilled:
		return `FILLED`
	}
	return fmt.Sprintf("Stage(%d)", int(s))
}

// Config holds the parameters of all stages plus the worker pool limit.
type Config struct {
	PeakDetect peakdetect.Config
	// Calibration is optional; nil skips the calibration stage.
	Calibration *calibrate.Config
	// Calibrants are the reference m/z values used when calibrating.
	Calibrants []float64
	Correspond correspond.Config
	GapFill    gapfill.Config
	// MaxWorkers bounds the per-sample and per-feature concurrency.
	// <= 0 means GOMAXPROCS.
	MaxWorkers int
}

// Validate checks all stage configurations. A failure here means no
// processing has started.
func (c *Config) Validate() error {
	if err := c.PeakDetect.Validate(); err != nil {
		return fmt.Errorf("%w: peak detection: %v", ErrInvalidConfig, err)
	}
	if c.Calibration != nil {
		if err := c.Calibration.Validate(); err != nil {
			return fmt.Errorf("%w: calibration: %v", ErrInvalidConfig, err)
		}
		if len(c.Calibrants) < 2 {
			return fmt.Errorf("%w: calibration: needs at least 2 calibrants, have %d",
				ErrInvalidConfig, len(c.Calibrants))
		}
	}
	if err := c.Correspond.Validate(); err != nil {
		return fmt.Errorf("%w: correspondence: %v", ErrInvalidConfig, err)
	}
	if err := c.GapFill.Validate(); err != nil {
		return fmt.Errorf("%w: gap filling: %v", ErrInvalidConfig, err)
	}
	return nil
}

// SampleError ties a failure to the sample that caused it.
type SampleError struct {
	SampleID string
	Err      error
}

func (e *SampleError) Error() string {
	return fmt.Sprintf("sample %s: %v", e.SampleID, e.Err)
}

func (e *SampleError) Unwrap() error { return e.Err }

// BatchError collects the per-sample failures of a run. It is returned
// only after every scheduled sample task has finished, so all failing
// samples are reported at once.
type BatchError struct {
	Total  int
	Failed []*SampleError
}

func (e *BatchError) Error() string {
	msgs := make([]string, len(e.Failed))
	for i, f := range e.Failed {
		msgs[i] = f.Error()
	}
	return fmt.Sprintf("%d of %d samples failed: %s",
		len(e.Failed), e.Total, strings.Join(msgs, `; `))
}

// Result of a completed pipeline run.
type Result struct {
	Stage    Stage
	Samples  []string
	Peaks    []msdata.Peak
	Features []msdata.Feature
	Table    msdata.FeatureTable
	// CalibrationErrors lists samples whose calibration failed; their
	// uncalibrated peaks were used instead.
	CalibrationErrors map[string]error
}

// Run executes the full pipeline on the given spectra. Detection
// failures do not abort sibling samples: all samples are attempted and
// the failures are surfaced together as a *BatchError.
func Run(ctx context.Context, spectra []msdata.Spectrum, groups map[string]string, cfg Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(spectra) == 0 {
		return nil, fmt.Errorf("%w: no samples", ErrInvalidConfig)
	}
	seen := make(map[string]bool, len(spectra))
	for i := range spectra {
		if seen[spectra[i].SampleID] {
			return nil, fmt.Errorf("%w: duplicate sample id %q",
				ErrInvalidConfig, spectra[i].SampleID)
		}
		seen[spectra[i].SampleID] = true
	}

	maxWorkers := cfg.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = runtime.GOMAXPROCS(0)
	}

	res := &Result{
		Stage:             StagePeaksDetected,
		Samples:           make([]string, len(spectra)),
		CalibrationErrors: make(map[string]error),
	}
	for i := range spectra {
		res.Samples[i] = spectra[i].SampleID
	}

	// Per-sample detection and calibration. Tasks only write their own
	// slot, so no locking is needed; errors are collected, not
	// propagated, so siblings keep running.
	type sampleOut struct {
		peaks  []msdata.Peak
		calErr error
		err    error
	}
	outs := make([]sampleOut, len(spectra))

	g := new(errgroup.Group)
	g.SetLimit(maxWorkers)
	for i := range spectra {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				outs[i].err = err
				return nil
			}
			peaks, err := peakdetect.Detect(&spectra[i], cfg.PeakDetect)
			if err != nil {
				outs[i].err = err
				return nil
			}
			if cfg.Calibration != nil {
				calibrated, err := calibrate.Calibrate(peaks, cfg.Calibrants, *cfg.Calibration)
				switch {
				case errors.Is(err, calibrate.ErrCalibration):
					// Keep the uncalibrated peaks, report per sample
					outs[i].calErr = err
				case err != nil:
					outs[i].err = err
					return nil
				default:
					peaks = calibrated
				}
			}
			outs[i].peaks = peaks
			return nil
		})
	}
	g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	batchErr := &BatchError{Total: len(spectra)}
	for i, out := range outs {
		if out.err != nil {
			batchErr.Failed = append(batchErr.Failed,
				&SampleError{SampleID: spectra[i].SampleID, Err: out.err})
		}
	}
	if len(batchErr.Failed) > 0 {
		sort.Slice(batchErr.Failed, func(i, j int) bool {
			return batchErr.Failed[i].SampleID < batchErr.Failed[j].SampleID
		})
		return nil, batchErr
	}

	// Barrier: pool the peaks in sample order for a deterministic
	// global view
	for i, out := range outs {
		res.Peaks = append(res.Peaks, out.peaks...)
		if out.calErr != nil {
			res.CalibrationErrors[spectra[i].SampleID] = out.calErr
		}
	}
	if cfg.Calibration != nil {
		res.Stage = StageCalibrated
	}

	features, err := correspond.Group(res.Peaks, res.Samples, groups, cfg.Correspond)
	if err != nil {
		return nil, err
	}
	res.Features = features
	res.Stage = StageGrouped

	filled, err := gapfill.Fill(ctx, features, res.Peaks, spectra, cfg.GapFill, maxWorkers)
	if err != nil {
		return nil, err
	}
	res.Peaks = filled.Peaks
	res.Features = filled.Features
	res.Table = filled.Table
	res.Stage = StageFilled
	return res, nil
}
