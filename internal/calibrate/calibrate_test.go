package calibrate

import (
	"errors"
	"math"
	"testing"

	"github.com/524D/mzfeat/internal/msdata"
)

func mkPeaks(mzs ...float64) []msdata.Peak {
	peaks := make([]msdata.Peak, len(mzs))
	for i, mz := range mzs {
		peaks[i] = msdata.Peak{
			Mz: mz, MzMin: mz - 0.05, MzMax: mz + 0.05,
			Into: 1000, SampleID: "s1",
		}
	}
	return peaks
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{Method: MethodEdgeShift, MzAbsTol: 0.01}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}

	cfg = Config{Method: MethodEdgeShift}
	if err := cfg.Validate(); err == nil {
		t.Errorf("Expected error for zero tolerances, got nil")
	}

	cfg = Config{Method: MethodEdgeShift, MzAbsTol: -0.1}
	if err := cfg.Validate(); err == nil {
		t.Errorf("Expected error for negative tolerance, got nil")
	}
}

func TestParseMethod(t *testing.T) {
	m, err := ParseMethod("edgeshift")
	if err != nil || m != MethodEdgeShift {
		t.Errorf("Expected MethodEdgeShift, got: %v, %v", m, err)
	}
	m, err = ParseMethod("Linear")
	if err != nil || m != MethodLinear {
		t.Errorf("Expected MethodLinear, got: %v, %v", m, err)
	}
	if _, err = ParseMethod("spline"); err == nil {
		t.Errorf("Expected error for unknown method, got nil")
	}
}

// The edge shift scenario: 3 calibrants slightly off the detected
// peaks. The peak at 100 must land on its calibrant and offsets must
// interpolate linearly in between and stay constant outside.
func TestCalibrateEdgeShift(t *testing.T) {
	peaks := mkPeaks(90.0, 100.0, 125.0, 150.0, 200.0, 250.0)
	calibrants := []float64{100.001, 150.002, 200.0005}
	cfg := Config{Method: MethodEdgeShift, MzAbsTol: 0.01}

	calibrated, err := Calibrate(peaks, calibrants, cfg)
	if err != nil {
		t.Fatalf("Calibrate: %v", err)
	}
	if len(calibrated) != len(peaks) {
		t.Fatalf("Expected %d peaks, got: %d", len(peaks), len(calibrated))
	}

	want := map[float64]float64{
		90.0:  90.001,    // below range: constant boundary offset
		100.0: 100.001,   // on the first calibrant
		125.0: 125.0015,  // interpolated between +0.001 and +0.002
		150.0: 150.002,   // on the second calibrant
		200.0: 200.0005,  // on the third calibrant
		250.0: 250.0005,  // above range: constant boundary offset
	}
	for i, p := range peaks {
		got := calibrated[i].Mz
		if math.Abs(got-want[p.Mz]) > 1e-9 {
			t.Errorf("Peak %g: expected %g, got: %g", p.Mz, want[p.Mz], got)
		}
		// Boundaries shift with the apex
		if math.Abs((calibrated[i].MzMax-calibrated[i].MzMin)-(p.MzMax-p.MzMin)) > 1e-9 {
			t.Errorf("Peak %g: boundary width changed", p.Mz)
		}
		if calibrated[i].Into != p.Into {
			t.Errorf("Peak %g: intensity changed", p.Mz)
		}
	}
}

func TestCalibrateLinear(t *testing.T) {
	// Offsets lie exactly on a line: offset = 0.001 + 1e-5*(mz-100),
	// so the linear fit must reproduce them closely
	peaks := mkPeaks(100.0, 150.0, 200.0)
	calibrants := []float64{100.001, 150.0015, 200.002}
	cfg := Config{Method: MethodLinear, MzAbsTol: 0.01}

	calibrated, err := Calibrate(peaks, calibrants, cfg)
	if err != nil {
		t.Fatalf("Calibrate: %v", err)
	}
	for i, want := range calibrants {
		if math.Abs(calibrated[i].Mz-want) > 2e-4 {
			t.Errorf("Peak %g: expected about %g, got: %g",
				peaks[i].Mz, want, calibrated[i].Mz)
		}
	}
}

func TestCalibrateInsufficientMatches(t *testing.T) {
	peaks := mkPeaks(100.0, 150.0, 200.0)
	cfg := Config{Method: MethodEdgeShift, MzAbsTol: 0.01}

	// Only one calibrant in reach
	_, err := Calibrate(peaks, []float64{100.001, 300.0}, cfg)
	if !errors.Is(err, ErrCalibration) {
		t.Errorf("Expected ErrCalibration, got: %v", err)
	}

	// No peaks at all
	_, err = Calibrate(nil, []float64{100.001, 150.002}, cfg)
	if !errors.Is(err, ErrCalibration) {
		t.Errorf("Expected ErrCalibration for empty peaks, got: %v", err)
	}
}

func TestCalibrateUnmatchedSkipped(t *testing.T) {
	// A calibrant without a nearby peak is skipped, not an error
	peaks := mkPeaks(100.0, 150.0, 200.0)
	calibrants := []float64{100.001, 150.002, 575.0}
	cfg := Config{Method: MethodEdgeShift, MzAbsTol: 0.01}

	calibrated, err := Calibrate(peaks, calibrants, cfg)
	if err != nil {
		t.Fatalf("Calibrate: %v", err)
	}
	if math.Abs(calibrated[0].Mz-100.001) > 1e-9 {
		t.Errorf("Expected 100.001, got: %g", calibrated[0].Mz)
	}
}

// Calibrating a calibrated dataset with now zero-offset calibrants must
// leave the m/z values unchanged.
func TestCalibrateIdempotentAtZeroOffset(t *testing.T) {
	peaks := mkPeaks(100.0, 150.0, 200.0)
	calibrants := []float64{100.001, 150.002, 200.0005}
	cfg := Config{Method: MethodEdgeShift, MzAbsTol: 0.01}

	calibrated, err := Calibrate(peaks, calibrants, cfg)
	if err != nil {
		t.Fatalf("Calibrate: %v", err)
	}
	again, err := Calibrate(calibrated, calibrants, cfg)
	if err != nil {
		t.Fatalf("Calibrate again: %v", err)
	}
	for i := range again {
		if math.Abs(again[i].Mz-calibrated[i].Mz) > 1e-9 {
			t.Errorf("Second calibration moved peak %g to %g",
				calibrated[i].Mz, again[i].Mz)
		}
	}
}
