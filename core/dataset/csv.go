package dataset

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/YuminosukeSato/microforest/pkg/errors"
	"github.com/YuminosukeSato/microforest/pkg/log"
)

// LoadReport counts accepted and rejected CSV rows.
type LoadReport struct {
	Accepted int
	Rejected int
	// Errors keeps the first few rejection causes for diagnostics.
	Errors []error
}

const maxReportedErrors = 16

// Reject counts a rejected row and keeps its cause.
func (r *LoadReport) Reject(err error) {
	r.Rejected++
	if len(r.Errors) < maxReportedErrors {
		r.Errors = append(r.Errors, err)
	}
}

// LoadCSV reads rows of the form label,f0,...,fF-1 into a resident dataset.
// featureCount 0 infers F from the first row. Rows with a wrong column count,
// a non-integer field or a value above 2^bits-1 are rejected and counted,
// never clamped. IDs are assigned to accepted rows in order, starting at 0.
func LoadCSV(path string, featureCount int, bits uint8) (*Dataset, LoadReport, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, LoadReport{}, errors.NewIOError("open", path, err)
	}
	defer f.Close()
	return ReadCSV(f, path, featureCount, bits)
}

// ReadCSV is LoadCSV over an arbitrary reader; source names the input in logs.
func ReadCSV(r io.Reader, source string, featureCount int, bits uint8) (*Dataset, LoadReport, error) {
	var report LoadReport
	logger := log.GetLoggerWithName("dataset").With(log.PathKey, source)

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	var ds *Dataset
	maxV := int(MaxValue(bits))
	values := make([]uint8, 0, featureCount)
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
		if ds == nil {
			if featureCount == 0 {
				featureCount = len(row) - 1
			}
			if ds, err = New(featureCount, bits); err != nil {
				return nil, report, err
			}
		}
		if len(row) != featureCount+1 {
			report.Reject(rejectRow(source, line, "expected "+strconv.Itoa(featureCount+1)+" columns"))
			continue
		}

		label, err := strconv.Atoi(strings.TrimSpace(row[0]))
		if err != nil || label < 0 || label > MaxLabel {
			report.Reject(rejectRow(source, line, "invalid label "+strconv.Quote(row[0])))
			continue
		}
		values = values[:0]
		var bad error
		for i, field := range row[1:] {
			v, err := strconv.Atoi(strings.TrimSpace(field))
			if err != nil || v < 0 {
				bad = rejectRow(source, line, "feature "+strconv.Itoa(i)+" is not a non-negative integer")
				break
			}
			if v > maxV {
				bad = rejectRow(source, line, "feature "+strconv.Itoa(i)+" value "+strconv.Itoa(v)+" exceeds "+strconv.Itoa(maxV))
				break
			}
			values = append(values, uint8(v))
		}
		if bad != nil {
			report.Reject(bad)
			continue
		}
		if err := ds.Add(uint32(report.Accepted), uint8(label), values); err != nil {
			report.Reject(err)
			continue
		}
		report.Accepted++
	}

	if ds == nil || report.Accepted == 0 {
		return nil, report, errors.Wrapf(errors.ErrEmptyData, "no valid rows in %s", source)
	}
	if report.Rejected > 0 {
		logger.Warn("rows rejected", log.RejectedKey, report.Rejected, log.SamplesKey, report.Accepted)
	}
	logger.Info("csv loaded",
		log.SamplesKey, report.Accepted,
		log.FeaturesKey, featureCount,
		log.LabelsKey, ds.NumLabels(),
		log.BitsKey, bits,
	)
	return ds, report, nil
}

func rejectRow(source string, line int, reason string) error {
	w := errors.NewRejectedRecordWarning(source, line, reason)
	errors.Warn(w)
	return errors.NewValidationError("row", reason, line)
}
