package main

import (
	"encoding/json"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/524D/mzfeat/internal/msdata"
	"github.com/524D/mzfeat/internal/testutil"

	"github.com/google/go-cmp/cmp"
)

// sample file record, matching the input format of msdata.ReadSamples
type sampleRecord struct {
	SampleID  string    `json:"sampleId"`
	Group     string    `json:"group,omitempty"`
	Mz        []float64 `json:"mz"`
	Intensity []float64 `json:"intensity"`
}

// writeSamplesFile writes a synthetic 4 sample / 2 group input file
// with peaks at m/z 100, 150 and 200 in every sample
func writeSamplesFile(t testing.TB, dir string) string {
	t.Helper()
	groups := map[string]string{"s1": "a", "s2": "a", "s3": "b", "s4": "b"}
	var recs []sampleRecord
	for _, id := range []string{"s1", "s2", "s3", "s4"} {
		spec := testutil.MakeSpectrum(id, 90, 210, 0.01, 1.0, testutil.DefaultPeaks())
		recs = append(recs, sampleRecord{
			SampleID:  id,
			Group:     groups[id],
			Mz:        spec.Mz,
			Intensity: spec.Intens,
		})
	}
	fn := filepath.Join(dir, "samples.json")
	f, err := os.Create(fn)
	if err != nil {
		t.Fatalf("Error creating samples file: %v", err)
	}
	defer f.Close()
	e := json.NewEncoder(f)
	err = e.Encode(map[string]any{"samples": recs})
	if err != nil {
		t.Fatalf("Error writing samples file: %v", err)
	}
	return fn
}

func JSONCompare(t testing.TB, expected, actual io.Reader) {
	alwaysEqual := cmp.Comparer(func(_, _ interface{}) bool { return true })

	opts := cmp.Options{
		// This option declares that a float64 comparison is equal only if
		// both inputs are NaN.
		cmp.FilterValues(func(x, y float64) bool {
			return math.IsNaN(x) && math.IsNaN(y)
		}, alwaysEqual),

		// This option declares approximate equality on float64s only if
		// both inputs are not NaN.
		cmp.FilterValues(func(x, y float64) bool {
			return !math.IsNaN(x) && !math.IsNaN(y)
		}, cmp.Comparer(func(x, y float64) bool {
			delta := math.Abs(x - y)
			mean := math.Abs(x+y) / 2.0
			return mean == 0.0 || delta/mean < 0.00001
		})),
	}

	var in1 map[string]any
	var in2 map[string]any

	dec := json.NewDecoder(expected)
	err := dec.Decode(&in1)
	if err != nil {
		t.Fatalf("Error decoding expected JSON: %v", err)
	}
	dec = json.NewDecoder(actual)
	err = dec.Decode(&in2)
	if err != nil {
		t.Fatalf("Error decoding actual JSON: %v", err)
	}

	if diff := cmp.Diff(in1, in2, opts); diff != "" {
		t.Errorf("JSON mismatch (-want +got):\n%s", diff)
	}
}

// JSONCompareFile compares the contents of two JSON files
func JSONCompareFile(t testing.TB, expectedFile, actualFile string) {
	expected, err := os.Open(expectedFile)
	if err != nil {
		t.Fatalf("Error opening expected file: %v", err)
	}
	defer expected.Close()
	actual, err := os.Open(actualFile)
	if err != nil {
		t.Fatalf("Error opening actual file: %v", err)
	}
	defer actual.Close()
	JSONCompare(t, expected, actual)
}

func TestMain(t *testing.T) {
	dir := t.TempDir()
	samplesFile := writeSamplesFile(t, dir)
	outFile := filepath.Join(dir, "features.json")

	os.Args = []string{"mzfeat", "-quiet", "-o", outFile, samplesFile}
	main()

	f, err := os.Open(outFile)
	if err != nil {
		t.Fatalf("Error opening feature table: %v", err)
	}
	defer f.Close()
	table, err := msdata.ReadFeatureTable(f)
	if err != nil {
		t.Fatalf("ReadFeatureTable: %v", err)
	}

	if len(table.Features) != 3 {
		t.Fatalf("Expected 3 features, got: %d", len(table.Features))
	}
	for i, want := range []float64{100.0, 150.0, 200.0} {
		if math.Abs(table.Features[i].Mz-want) > 0.05 {
			t.Errorf("Feature %d: expected m/z near %g, got: %g", i, want, table.Features[i].Mz)
		}
	}
	for fi := range table.Into {
		for si, a := range table.Into[fi] {
			if !a.Valid {
				t.Errorf("Feature %d, sample %s: unexpected missing value",
					fi, table.Samples[si])
			}
		}
	}
}

// Two runs on the same input must produce the same feature table
func TestReproducibleOutput(t *testing.T) {
	dir := t.TempDir()
	samplesFile := writeSamplesFile(t, dir)
	out1 := filepath.Join(dir, "features1.json")
	out2 := filepath.Join(dir, "features2.json")

	conf := ``
	workers := 0
	for _, out := range []string{out1, out2} {
		out := out
		par := params{
			samplesFilename:  &samplesFile,
			featuresFilename: &out,
			confFilename:     &conf,
			maxWorkers:       &workers,
			verbosity:        infoSilent,
		}
		detectFeatures(par)
	}
	JSONCompareFile(t, out1, out2)
}

// A configuration file with a calibration section must shift the
// feature m/z values onto the calibrants
func TestConfFileWithCalibration(t *testing.T) {
	dir := t.TempDir()
	samplesFile := writeSamplesFile(t, dir)
	outFile := filepath.Join(dir, "features.json")
	confFile := filepath.Join(dir, "pipeline.json")

	confJSON := `{
  "peakDetection": {"scales": [2, 4, 8], "snrThreshold": 3.0,
                    "noiseWindowSize": 101, "useNeighboringPeaks": true,
                    "noiseMethod": "median"},
  "calibration": {"method": "edgeshift", "mzAbsTolerance": 0.05,
                  "calibrants": [100.02, 150.02, 200.02]},
  "correspondence": {"method": "mzClust", "mzAbsTolerance": 0.01,
                     "mzPpmTolerance": 50.0, "minFractionSamples": 0.5},
  "gapFilling": {"integrationWindow": 0.01}
}`
	if err := os.WriteFile(confFile, []byte(confJSON), 0644); err != nil {
		t.Fatalf("Error writing config file: %v", err)
	}

	workers := 0
	par := params{
		samplesFilename:  &samplesFile,
		featuresFilename: &outFile,
		confFilename:     &confFile,
		maxWorkers:       &workers,
		verbosity:        infoSilent,
	}
	detectFeatures(par)

	f, err := os.Open(outFile)
	if err != nil {
		t.Fatalf("Error opening feature table: %v", err)
	}
	defer f.Close()
	table, err := msdata.ReadFeatureTable(f)
	if err != nil {
		t.Fatalf("ReadFeatureTable: %v", err)
	}
	if len(table.Features) != 3 {
		t.Fatalf("Expected 3 features, got: %d", len(table.Features))
	}
	for i, want := range []float64{100.02, 150.02, 200.02} {
		if math.Abs(table.Features[i].Mz-want) > 0.005 {
			t.Errorf("Feature %d: expected calibrated m/z near %g, got: %g",
				i, want, table.Features[i].Mz)
		}
	}
}
