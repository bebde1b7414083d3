package msdata

import (
	"encoding/json"
	"fmt"
	"io"
)

// Sample file format, produced by an external converter (e.g. from mzML).
// Groups are optional; samples without a group are simply not subject to
// per-group correspondence filtering.
type sampleFile struct {
	Samples []sampleRecord `json:"samples"`
}

type sampleRecord struct {
	SampleID  string    `json:"sampleId"`
	Group     string    `json:"group,omitempty"`
	Mz        []float64 `json:"mz"`
	Intensity []float64 `json:"intensity"`
}

// ReadSamples reads a sample JSON file and returns the validated spectra
// in file order plus the sample to group mapping.
func ReadSamples(reader io.Reader) ([]Spectrum, map[string]string, error) {
	var sf sampleFile
	d := json.NewDecoder(reader)
	if err := d.Decode(&sf); err != nil {
		return nil, nil, fmt.Errorf("decoding sample file: %w", err)
	}
	if len(sf.Samples) == 0 {
		return nil, nil, fmt.Errorf("sample file contains no samples")
	}

	spectra := make([]Spectrum, 0, len(sf.Samples))
	groups := make(map[string]string)
	seen := make(map[string]bool)
	for _, rec := range sf.Samples {
		if seen[rec.SampleID] {
			return nil, nil, fmt.Errorf("duplicate sample id %q", rec.SampleID)
		}
		seen[rec.SampleID] = true
		spec := Spectrum{
			SampleID: rec.SampleID,
			Mz:       rec.Mz,
			Intens:   rec.Intensity,
		}
		if err := spec.Validate(); err != nil {
			return nil, nil, err
		}
		spectra = append(spectra, spec)
		if rec.Group != "" {
			groups[rec.SampleID] = rec.Group
		}
	}
	return spectra, groups, nil
}
