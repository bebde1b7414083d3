// Copyright 2025 Rob Marissen.
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/524D/mzfeat/internal/calibrate"
	"github.com/524D/mzfeat/internal/correspond"
	"github.com/524D/mzfeat/internal/gapfill"
	"github.com/524D/mzfeat/internal/msdata"
	"github.com/524D/mzfeat/internal/peakdetect"
	"github.com/524D/mzfeat/internal/pipeline"
)

// Program name and version
const progName = "mzFeat"

var progVersion = `Unknown`

const (
	infoDefault = iota
	infoSilent
	infoVerbose
)

// Command line parameters
type params struct {
	samplesFilename  *string  // JSON file with per-sample spectra and group labels
	featuresFilename *string  // Filename where the feature table will be written
	confFilename     *string  // Filename of JSON pipeline configuration
	maxWorkers       *int     // Concurrency limit for per-sample stages
	verbosity        int      // Verbosity of progress messages (infoDefault...)
	args             []string // Additional values passed on the command line
	debug            bool     // Enable debug info (environment variable MZFEAT_DEBUG=1)
}

// JSON representation of the pipeline configuration. Methods are
// selected by name so that configuration files stay readable.
type jsonConf struct {
	PeakDetection struct {
		Scales              []float64 `json:"scales"`
		SNRThreshold        float64   `json:"snrThreshold"`
		NoiseWindowSize     int       `json:"noiseWindowSize"`
		UseNeighboringPeaks bool      `json:"useNeighboringPeaks"`
		NoiseMethod         string    `json:"noiseMethod"`
	} `json:"peakDetection"`
	Calibration *struct {
		Method         string    `json:"method"`
		MzAbsTolerance float64   `json:"mzAbsTolerance"`
		MzPpmTolerance float64   `json:"mzPpmTolerance"`
		Calibrants     []float64 `json:"calibrants"`
	} `json:"calibration,omitempty"`
	Correspondence struct {
		Method              string  `json:"method"`
		MzAbsTolerance      float64 `json:"mzAbsTolerance"`
		MzPpmTolerance      float64 `json:"mzPpmTolerance"`
		MinFractionSamples  float64 `json:"minFractionSamples"`
		MinFractionPerGroup float64 `json:"minFractionPerGroup"`
	} `json:"correspondence"`
	GapFilling struct {
		IntegrationWindow float64 `json:"integrationWindow"`
	} `json:"gapFilling"`
	MaxWorkers int `json:"maxWorkers,omitempty"`
}

// defaultConf returns the pipeline configuration that is used when no
// configuration file is given.
func defaultConf() jsonConf {
	var c jsonConf
	c.PeakDetection.Scales = []float64{2, 4, 8}
	c.PeakDetection.SNRThreshold = 3.0
	c.PeakDetection.NoiseWindowSize = 101
	c.PeakDetection.UseNeighboringPeaks = true
	c.PeakDetection.NoiseMethod = `median`
	c.Correspondence.Method = correspond.MethodMzClust
	c.Correspondence.MzAbsTolerance = 0.01
	c.Correspondence.MzPpmTolerance = 50.0
	c.Correspondence.MinFractionSamples = 0.5
	c.GapFilling.IntegrationWindow = 0.01
	return c
}

func readConf(par params) (jsonConf, error) {
	conf := defaultConf()
	if *par.confFilename == `` {
		return conf, nil
	}
	f, err := os.Open(*par.confFilename)
	if err != nil {
		return conf, err
	}
	defer f.Close()

	d := json.NewDecoder(f)
	err = d.Decode(&conf)
	return conf, err
}

// makePipelineConf converts the JSON configuration into the typed stage
// configurations. Parameter validation itself happens in the pipeline.
func makePipelineConf(conf jsonConf, par params) (pipeline.Config, error) {
	var cfg pipeline.Config

	noiseMethod, err := peakdetect.ParseNoiseMethod(conf.PeakDetection.NoiseMethod)
	if err != nil {
		return cfg, err
	}
	cfg.PeakDetect = peakdetect.Config{
		Scales:              conf.PeakDetection.Scales,
		SNRThreshold:        conf.PeakDetection.SNRThreshold,
		NoiseWindowSize:     conf.PeakDetection.NoiseWindowSize,
		UseNeighboringPeaks: conf.PeakDetection.UseNeighboringPeaks,
		NoiseMethod:         noiseMethod,
	}
	if conf.Calibration != nil {
		method, err := calibrate.ParseMethod(conf.Calibration.Method)
		if err != nil {
			return cfg, err
		}
		cfg.Calibration = &calibrate.Config{
			Method:   method,
			MzAbsTol: conf.Calibration.MzAbsTolerance,
			MzPpmTol: conf.Calibration.MzPpmTolerance,
		}
		cfg.Calibrants = conf.Calibration.Calibrants
	}
	cfg.Correspond = correspond.Config{
		Method:              conf.Correspondence.Method,
		MzAbsTol:            conf.Correspondence.MzAbsTolerance,
		MzPpmTol:            conf.Correspondence.MzPpmTolerance,
		MinFractionSamples:  conf.Correspondence.MinFractionSamples,
		MinFractionPerGroup: conf.Correspondence.MinFractionPerGroup,
	}
	cfg.GapFill = gapfill.Config{
		IntegrationWindow: conf.GapFilling.IntegrationWindow,
	}
	cfg.MaxWorkers = conf.MaxWorkers
	if *par.maxWorkers > 0 {
		cfg.MaxWorkers = *par.maxWorkers
	}
	return cfg, nil
}

func writeFeatureTable(table *msdata.FeatureTable, par params) error {
	f, err := os.Create(*par.featuresFilename)
	if err != nil {
		return err
	}
	defer f.Close()
	return table.Write(f)
}

// detectFeatures glues together all the steps of a run:
// Read spectra and group labels
// Detect and calibrate peaks per sample
// Group peaks into features and fill gaps
// Write the feature table
func detectFeatures(par params) {
	conf, err := readConf(par)
	if err != nil {
		log.Fatalf("readConf: error return %v", err)
	}
	cfg, err := makePipelineConf(conf, par)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	t := time.Now()
	if par.verbosity == infoVerbose {
		fmt.Fprintf(os.Stderr, "Reading MS data from %s: ", *par.samplesFilename)
	}

	f, err := os.Open(*par.samplesFilename)
	if err != nil {
		log.Fatalf("Open %s: samples file %v", *par.samplesFilename, err)
	}
	defer f.Close()
	spectra, groups, err := msdata.ReadSamples(f)
	if err != nil {
		log.Fatalf("msdata.ReadSamples: error return %v", err)
	}

	if par.verbosity == infoVerbose {
		fmt.Fprintf(os.Stderr, "%s\n", time.Since(t))
		t = time.Now()
		fmt.Fprintf(os.Stderr, "Detecting features: ")
	}

	result, err := pipeline.Run(context.Background(), spectra, groups, cfg)
	if err != nil {
		log.Fatalf("pipeline.Run: error return %v", err)
	}
	for sample, calErr := range result.CalibrationErrors {
		log.Printf("Calibration skipped for sample %s: %v", sample, calErr)
	}

	if par.verbosity == infoVerbose {
		fmt.Fprintf(os.Stderr, "%s\n", time.Since(t))
	}
	if par.verbosity != infoSilent {
		fmt.Fprintf(os.Stderr, "Samples: %d Peaks: %d Features: %d\n",
			len(result.Samples), len(result.Peaks), len(result.Features))
	}
	if par.debug {
		debugLogResult(result)
	}

	err = writeFeatureTable(&result.Table, par)
	if err != nil {
		log.Fatalf("writeFeatureTable: error return %v", err)
	}
}

// sanatizeParams does some checks on parameters, and fills missing
// filenames if possible
func sanatizeParams(par *params) {
	exeName := filepath.Base(os.Args[0])

	if len(par.args) != 1 {
		fmt.Fprintf(os.Stderr, `Last argument must be name of the samples JSON file.
Type %s --help for usage
`, exeName)
		os.Exit(2)
	}

	samples := par.args[0]
	par.samplesFilename = &samples
	var extension = filepath.Ext(samples)
	var startName = samples[0 : len(samples)-len(extension)]

	if *par.featuresFilename == `` {
		*par.featuresFilename = startName + `-features.json`
	}
}

func usage() {
	exeName := filepath.Base(os.Args[0])
	fmt.Fprintf(os.Stderr,
		`USAGE:
  %s [options] <samplesfile>

  This program detects MS features in direct-injection data: it picks
  peaks per sample, optionally calibrates their m/z values, groups
  matching peaks across samples into features, and integrates the raw
  signal where a sample lacks a detected peak.

  The samples file is JSON with one spectrum per sample:
    {"samples": [{"sampleId": "s1", "group": "control",
                  "mz": [...], "intensity": [...]}, ...]}

OPTIONS:
`, exeName)
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr,
		`
CONFIGURATION:
  Pipeline parameters are read from a JSON file (option -conf).
  Parameters that are not specified keep their default value. The
  calibration section is optional; without it no calibration is done.

ENVIRONMENT VARIABLES:
    When environment variable MZFEAT_DEBUG=1, per-stage debug output is
    printed that can help checking the performance of %s.

USAGE EXAMPLES:
  %s samples.json
    Detect features in samples.json with default parameters, write the
    feature table to samples-features.json.

  %s -conf pipeline.json -o features.json samples.json
    Idem, but with parameters from pipeline.json and explicit output.
`, exeName, exeName, exeName)
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	var par params

	par.featuresFilename = flag.String("o",
		"",
		"`filename` of the output feature table")
	par.confFilename = flag.String("conf",
		"",
		"`filename` of the JSON pipeline configuration")
	par.maxWorkers = flag.Int("workers",
		0,
		`maximum number of samples processed concurrently.
0 (default) uses all available cores.`)
	version := flag.Bool("version", false,
		`Show software version`)
	verbose := flag.Bool("verbose", false,
		`Print more verbose progress information`)
	quiet := flag.Bool("quiet", false,
		`Don't print any output except for errors`)
	flag.Usage = usage
	flag.Parse()
	if *version {
		fmt.Fprintf(os.Stderr, "%s version %s\n", progName, progVersion)
		return
	}
	if *verbose {
		par.verbosity = infoVerbose
	}
	if *quiet {
		par.verbosity = infoSilent
	}
	par.args = flag.Args()
	// Check if debug output should be enabled
	par.debug = os.Getenv("MZFEAT_DEBUG") == `1`

	sanatizeParams(&par)
	detectFeatures(par)
}
