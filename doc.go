// Package microforest trains random forests over quantized features and
// exports them in a compact form for inference on memory-constrained devices.
//
// Features are small unsigned integers of 1 to 8 bits packed per sample.
// Trees are stored as flat arrays of 32-bit packed nodes whose field widths
// are chosen per forest, so a trained forest can be shipped as a single
// binary file plus a small YAML artifact.
//
// # Features
//
//   - Reproducible training: one seed drives bagging, feature sampling and
//     the train/test/validation split through independent PCG32 substreams
//   - Grid search over min_split, min_leaf and max_depth scored by out-of-bag
//     votes, a validation set or k-fold cross-validation
//   - Consensus threshold calibration: predictions below the threshold are
//     reported as unknown
//   - Memory discipline: datasets and trees can be released to disk and
//     restored, and inference can stream nodes straight from the forest file
//
// # Quick Start
//
//	package main
//
//	import (
//	    "context"
//	    "fmt"
//	    "log"
//
//	    "github.com/YuminosukeSato/microforest/core/dataset"
//	    "github.com/YuminosukeSato/microforest/sklearn/ensemble"
//	)
//
//	func main() {
//	    ds, report, err := dataset.LoadCSV("walk.csv", 0, 2)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    fmt.Println("rejected rows:", report.Rejected)
//
//	    clf := ensemble.NewRandomForestClassifier(
//	        ensemble.WithNumTrees(20),
//	        ensemble.WithGrid([]int{2, 4}, []int{1, 2}, []int{6, 8}),
//	    )
//	    if err := clf.Fit(context.Background(), ds, nil); err != nil {
//	        log.Fatal(err)
//	    }
//	    if err := clf.Save("model"); err != nil {
//	        log.Fatal(err)
//	    }
//	}
//
// # Packages
//
//   - core/rng: PCG32 generator with derived substreams
//   - core/dataset: packed quantized samples, CSV import, binary release/load
//   - core/tree: breadth-first tree builder and the packed node layout
//   - core/bagging: per-tree bags with collision retries and regeneration
//   - core/forest: voting, forest file I/O, tree paging, streamed inference
//   - sklearn/ensemble: RandomForestClassifier and the hyperparameter search
//   - preprocessing: raw CSV reader and the quantizer that bins float features
//   - metrics: confusion-based scoring and threshold search
//   - config: viper configuration and the model artifact
//   - store/badgerstore: persistent bag records
//   - pkg/telemetry: Prometheus collectors
//   - cmd/microforest: convert, train, predict and inspect commands
package microforest
