package msdata

import (
	"encoding/json"
	"io"
)

// Output format of the feature table. Into is indexed like the Samples
// slice; missing values are encoded as JSON null.
type featureTableFile struct {
	Samples  []string           `json:"samples"`
	Features []featureTableEntry `json:"features"`
}

type featureTableEntry struct {
	Mz    float64     `json:"mz"`
	MzMin float64     `json:"mzmin"`
	MzMax float64     `json:"mzmax"`
	Into  []Abundance `json:"into"`
}

// Write writes the feature table as indented JSON.
func (t *FeatureTable) Write(writer io.Writer) error {
	var out featureTableFile
	out.Samples = t.Samples
	out.Features = make([]featureTableEntry, len(t.Features))
	for i, f := range t.Features {
		out.Features[i] = featureTableEntry{
			Mz:    f.Mz,
			MzMin: f.MzMin,
			MzMax: f.MzMax,
			Into:  t.Into[i],
		}
	}
	e := json.NewEncoder(writer)
	e.SetIndent(``, `  `) // Make output easier to read for humans
	return e.Encode(&out)
}

// ReadFeatureTable reads a feature table previously written by Write.
func ReadFeatureTable(reader io.Reader) (FeatureTable, error) {
	var in featureTableFile
	var t FeatureTable
	d := json.NewDecoder(reader)
	if err := d.Decode(&in); err != nil {
		return t, err
	}
	t.Samples = in.Samples
	t.Features = make([]Feature, len(in.Features))
	t.Into = make([][]Abundance, len(in.Features))
	for i, f := range in.Features {
		t.Features[i] = Feature{Mz: f.Mz, MzMin: f.MzMin, MzMax: f.MzMax}
		t.Into[i] = f.Into
	}
	return t, nil
}
