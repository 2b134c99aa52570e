// Package preprocessing turns raw CSV measurements into the quantized
// features and numeric labels the forest trains on.
package preprocessing

import (
	"math"
	"sort"
	"strconv"

	"github.com/YuminosukeSato/microforest/core/dataset"
	"github.com/YuminosukeSato/microforest/pkg/errors"
	"github.com/YuminosukeSato/microforest/pkg/log"
)

// BinKind は特徴量の量子化方式
type BinKind string

const (
	// Discrete は観測値が 2^bits 種類以下の特徴量。値ごとに1つのビンを持つ
	Discrete BinKind = "discrete"
	// Quantile は連続値の特徴量。学習データの分位点で区切る
	Quantile BinKind = "quantile"
)

// FeatureBins は1特徴量の量子化テーブル
type FeatureBins struct {
	Kind BinKind `yaml:"kind"`
	// Values は Discrete の昇順の観測値。ビン番号は添字
	Values []float64 `yaml:"values,omitempty"`
	// Edges は Quantile の昇順の境界。value < Edges[b] となる最初の b がビン
	Edges []float64 `yaml:"edges,omitempty"`
}

// Quantizer は生の特徴量を bits ビットのビン番号へ、文字列ラベルを
// 0 から始まるラベルIDへ変換する
type Quantizer struct {
	Bits     uint8         `yaml:"bits"`
	Features []FeatureBins `yaml:"features"`
	// Labels[id] は元のラベル名
	Labels []string `yaml:"labels"`

	labelIDs map[string]uint8
}

// NewQuantizer は bits ビット用の未学習の Quantizer を作成する
//
// 使用例:
//
//	q := preprocessing.NewQuantizer(2)
//	if err := q.FitLabels(table.Labels); err != nil { ... }
//	if err := q.Fit(table.Rows); err != nil { ... }
//	ds, report, err := q.Transform(table)
func NewQuantizer(bits uint8) *Quantizer {
	return &Quantizer{Bits: bits}
}

// IsFitted は特徴量とラベルの両方が学習済みかを返す
func (q *Quantizer) IsFitted() bool {
	return len(q.Features) > 0 && len(q.Labels) > 0
}

// NumFeatures は学習した特徴量の数
func (q *Quantizer) NumFeatures() int { return len(q.Features) }

// NumBins は1特徴量あたりのビン数 2^bits
func (q *Quantizer) NumBins() int { return 1 << q.Bits }

// FitLabels は出現順にラベルIDを割り当てる。255 は未知の予測に予約済み
func (q *Quantizer) FitLabels(labels []string) error {
	if len(labels) == 0 {
		return errors.Wrap(errors.ErrEmptyData, "Quantizer.FitLabels")
	}
	ids := make(map[string]uint8)
	var names []string
	for _, name := range labels {
		if _, ok := ids[name]; ok {
			continue
		}
		if len(names) > dataset.MaxLabel {
			return errors.NewCapacityError("labels", dataset.MaxLabel+1, len(names)+1)
		}
		ids[name] = uint8(len(names))
		names = append(names, name)
	}
	q.Labels = names
	q.labelIDs = ids
	return nil
}

// Fit は各列の量子化テーブルを rows から学習する。相異なる値が 2^bits 以下の
// 列は Discrete、それ以外は 2^bits-1 個の分位点で区切る Quantile になる
func (q *Quantizer) Fit(rows [][]float64) error {
	if q.Bits < 1 || q.Bits > dataset.MaxBits {
		return errors.NewValidationError("bits", "must be between 1 and 8", q.Bits)
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return errors.Wrap(errors.ErrEmptyData, "Quantizer.Fit")
	}
	nFeatures := len(rows[0])
	for i, row := range rows {
		if len(row) != nFeatures {
			return errors.NewValidationError("row", "expected "+strconv.Itoa(nFeatures)+" features", i)
		}
	}

	bins := q.NumBins()
	features := make([]FeatureBins, nFeatures)
	column := make([]float64, len(rows))
	for j := 0; j < nFeatures; j++ {
		for i, row := range rows {
			column[i] = row[j]
		}
		sort.Float64s(column)
		if uniq := distinct(column); len(uniq) <= bins {
			features[j] = FeatureBins{Kind: Discrete, Values: uniq}
			continue
		}
		features[j] = FeatureBins{Kind: Quantile, Edges: quantileEdges(column, bins)}
	}
	q.Features = features

	log.GetLoggerWithName("preprocessing").Debug("quantizer fitted",
		log.SamplesKey, len(rows),
		log.FeaturesKey, nFeatures,
		log.BitsKey, q.Bits,
	)
	return nil
}

// distinct は昇順の sorted から重複を除いたコピーを返す
func distinct(sorted []float64) []float64 {
	out := make([]float64, 0, 8)
	for i, v := range sorted {
		if i == 0 || v != sorted[i-1] {
			out = append(out, v)
		}
	}
	return out
}

// quantileEdges は昇順の sorted を bins 個に分ける境界 sorted[floor(b·n/bins)] を返す
func quantileEdges(sorted []float64, bins int) []float64 {
	n := len(sorted)
	edges := make([]float64, 0, bins-1)
	for b := 1; b < bins; b++ {
		idx := b * n / bins
		if idx >= n {
			idx = n - 1
		}
		edges = append(edges, sorted[idx])
	}
	return edges
}

// Bin は値 v のビン番号を返す。Discrete で未観測の値は
// 最も近い観測値のビンになる
func (b FeatureBins) Bin(v float64) uint8 {
	if b.Kind == Discrete {
		n := len(b.Values)
		i := sort.SearchFloat64s(b.Values, v)
		switch {
		case i == n:
			return uint8(n - 1)
		case i == 0 || b.Values[i] == v:
			return uint8(i)
		case v-b.Values[i-1] <= b.Values[i]-v:
			return uint8(i - 1)
		default:
			return uint8(i)
		}
	}
	return uint8(sort.Search(len(b.Edges), func(i int) bool { return v < b.Edges[i] }))
}

// TransformRow は row を量子化して dst に追記する
func (q *Quantizer) TransformRow(row []float64, dst []uint8) ([]uint8, error) {
	if !q.IsFitted() {
		return dst, errors.NewNotFittedError("Quantizer", "TransformRow")
	}
	if len(row) != len(q.Features) {
		return dst, errors.NewValidationError("row", "expected "+strconv.Itoa(len(q.Features))+" features", len(row))
	}
	for j, v := range row {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return dst, errors.NewValidationError("feature", "value is not finite", j)
		}
		dst = append(dst, q.Features[j].Bin(v))
	}
	return dst, nil
}

// LabelID は元のラベル名の ID を返す。学習時に見ていないラベルはエラー
func (q *Quantizer) LabelID(name string) (uint8, error) {
	if q.labelIDs == nil {
		q.indexLabels()
	}
	id, ok := q.labelIDs[name]
	if !ok {
		return 0, errors.NewValidationError("label", "unknown label", name)
	}
	return id, nil
}

// LabelName は ID の元のラベル名を返す。範囲外の ID (未知の予測を含む) は "unknown"
func (q *Quantizer) LabelName(id uint8) string {
	if int(id) < len(q.Labels) {
		return q.Labels[id]
	}
	return "unknown"
}

func (q *Quantizer) indexLabels() {
	q.labelIDs = make(map[string]uint8, len(q.Labels))
	for id, name := range q.Labels {
		q.labelIDs[name] = uint8(id)
	}
}

// Transform は table の全行を量子化したデータセットを作る。未知のラベルや
// 非有限値を含む行は数えて除外し、IDは採用した行に0から順に振る
func (q *Quantizer) Transform(table *RawTable) (*dataset.Dataset, dataset.LoadReport, error) {
	var report dataset.LoadReport
	if !q.IsFitted() {
		return nil, report, errors.NewNotFittedError("Quantizer", "Transform")
	}
	ds, err := dataset.New(len(q.Features), q.Bits)
	if err != nil {
		return nil, report, err
	}
	values := make([]uint8, 0, len(q.Features))
	for i, row := range table.Rows {
		label, err := q.LabelID(table.Labels[i])
		if err == nil {
			values, err = q.TransformRow(row, values[:0])
		}
		if err == nil {
			err = ds.Add(uint32(report.Accepted), label, values)
		}
		if err != nil {
			report.Reject(errors.Wrapf(err, "%s line %d", table.Source, table.Lines[i]))
			continue
		}
		report.Accepted++
	}
	if report.Accepted == 0 {
		return nil, report, errors.Wrapf(errors.ErrEmptyData, "no valid rows in %s", table.Source)
	}
	return ds, report, nil
}

// Validate は読み込んだテーブルが bits と nFeatures に一致するかを確認する
func (q *Quantizer) Validate(bits uint8, nFeatures int) error {
	if q.Bits < 1 || q.Bits > dataset.MaxBits {
		return errors.NewValidationError("bits", "must be between 1 and 8", q.Bits)
	}
	if q.Bits != bits {
		return errors.NewValidationError("quantizer", "bits do not match the model", q.Bits)
	}
	if len(q.Features) != nFeatures {
		return errors.NewValidationError("quantizer", "feature count does not match the model", len(q.Features))
	}
	if len(q.Labels) == 0 || len(q.Labels) > dataset.MaxLabel+1 {
		return errors.NewValidationError("quantizer", "label table size out of range", len(q.Labels))
	}
	bins := q.NumBins()
	for j, f := range q.Features {
		switch f.Kind {
		case Discrete:
			if len(f.Values) == 0 || len(f.Values) > bins || !sort.Float64sAreSorted(f.Values) {
				return errors.NewValidationError("quantizer", "bad discrete values", j)
			}
		case Quantile:
			if len(f.Edges) != bins-1 || !sort.Float64sAreSorted(f.Edges) {
				return errors.NewValidationError("quantizer", "bad quantile edges", j)
			}
		default:
			return errors.NewValidationError("quantizer", "unknown bin kind", string(f.Kind))
		}
	}
	q.indexLabels()
	return nil
}
