package preprocessing

import (
	"encoding/csv"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/YuminosukeSato/microforest/core/dataset"
	"github.com/YuminosukeSato/microforest/pkg/errors"
	"github.com/YuminosukeSato/microforest/pkg/log"
)

// RawTable holds unquantized CSV rows: a label name and float features.
type RawTable struct {
	Source string
	Labels []string
	Rows   [][]float64
	// Lines is the input line of each row, for rejection messages.
	Lines []int
}

// Len returns the number of rows.
func (t *RawTable) Len() int { return len(t.Rows) }

// Subset returns the rows at the given indices, sharing row storage.
func (t *RawTable) Subset(idx []uint32) *RawTable {
	out := &RawTable{
		Source: t.Source,
		Labels: make([]string, 0, len(idx)),
		Rows:   make([][]float64, 0, len(idx)),
		Lines:  make([]int, 0, len(idx)),
	}
	for _, i := range idx {
		out.Labels = append(out.Labels, t.Labels[i])
		out.Rows = append(out.Rows, t.Rows[i])
		out.Lines = append(out.Lines, t.Lines[i])
	}
	return out
}

// LoadRawCSV reads rows of the form label,x0,...,xF-1 where the label is any
// string and features are decimal numbers.
func LoadRawCSV(path string, featureCount int) (*RawTable, dataset.LoadReport, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, dataset.LoadReport{}, errors.NewIOError("open", path, err)
	}
	defer f.Close()
	return ReadRawCSV(f, path, featureCount)
}

// ReadRawCSV is LoadRawCSV over an arbitrary reader. featureCount 0 infers F
// from the first row. A first row whose feature fields are all non-numeric is
// taken as a header. Rows with a wrong column count, an empty label or a
// non-finite feature are rejected and counted.
func ReadRawCSV(r io.Reader, source string, featureCount int) (*RawTable, dataset.LoadReport, error) {
	var report dataset.LoadReport
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	t := &RawTable{Source: source}
	line := 0
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			report.Reject(errors.NewValidationError("row", err.Error(), line))
			continue
		}
		if line == 1 && isHeader(row) {
			continue
		}
		if featureCount == 0 {
			featureCount = len(row) - 1
		}
		if len(row) != featureCount+1 {
			report.Reject(rejectRow(source, line, "expected "+strconv.Itoa(featureCount+1)+" columns"))
			continue
		}
		label := strings.TrimSpace(row[0])
		if label == "" {
			report.Reject(rejectRow(source, line, "empty label"))
			continue
		}
		values, bad := parseRow(row[1:])
		if bad >= 0 {
			report.Reject(rejectRow(source, line, "feature "+strconv.Itoa(bad)+" is not a finite number"))
			continue
		}
		t.Labels = append(t.Labels, label)
		t.Rows = append(t.Rows, values)
		t.Lines = append(t.Lines, line)
		report.Accepted++
	}

	if report.Accepted == 0 || featureCount < 1 {
		return nil, report, errors.Wrapf(errors.ErrEmptyData, "no valid rows in %s", source)
	}
	logger := log.GetLoggerWithName("preprocessing").With(log.PathKey, source)
	if report.Rejected > 0 {
		logger.Warn("rows rejected", log.RejectedKey, report.Rejected, log.SamplesKey, report.Accepted)
	}
	logger.Info("raw csv loaded", log.SamplesKey, report.Accepted, log.FeaturesKey, featureCount)
	return t, report, nil
}

// parseRow returns the parsed fields, or the index of the first bad field.
func parseRow(fields []string) ([]float64, int) {
	values := make([]float64, len(fields))
	for i, field := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, i
		}
		values[i] = v
	}
	return values, -1
}

func isHeader(row []string) bool {
	if len(row) < 2 {
		return false
	}
	for _, field := range row[1:] {
		if _, err := strconv.ParseFloat(strings.TrimSpace(field), 64); err == nil {
			return false
		}
	}
	return true
}

func rejectRow(source string, line int, reason string) error {
	errors.Warn(errors.NewRejectedRecordWarning(source, line, reason))
	return errors.NewValidationError("row", reason, line)
}
