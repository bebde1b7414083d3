// This file contains code to help debugging, and is
// separated in from the rest in order not to litter
// the main code with debugging stuff

package main

import (
	"fmt"

	"github.com/524D/mzfeat/internal/pipeline"
)

// debugLogResult prints a per-feature breakdown of a finished run:
// peak counts per sample, feature m/z ranges and the abundance matrix,
// so the grouping and gap filling behavior can be inspected.
func debugLogResult(result *pipeline.Result) {
	fmt.Printf("Stage: %s\n", result.Stage)
	perSample := make(map[string]int)
	for _, p := range result.Peaks {
		perSample[p.SampleID]++
	}
	for _, s := range result.Samples {
		fmt.Printf("Sample %s: %d peaks\n", s, perSample[s])
	}
	for f, feat := range result.Features {
		fmt.Printf("Feature %d mz:%f range:[%f %f] peaks:%d\n",
			f, feat.Mz, feat.MzMin, feat.MzMax, len(feat.PeakIdx))
		for s, sample := range result.Table.Samples {
			a := result.Table.Into[f][s]
			if a.Valid {
				fmt.Printf("  %s into:%f\n", sample, a.Value)
			} else {
				fmt.Printf("  %s into:NA\n", sample)
			}
		}
	}
}
