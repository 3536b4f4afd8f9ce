package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/poiesic/cellar/core"
)

var floatPattern = regexp.MustCompile(`^\s*-?(\d+\.?|\.\d+|\d+\.\d+)([eE][-+]?\d+)?\s*$`)

// Integers beyond this cannot be represented exactly and stay strings.
const maxExactFloat = 1 << 53

// ReadRecords parses a CSV document with a header row into records.
//
// Cell values are typed: "true"/"false" become booleans, numeric text
// becomes float64, empty cells are omitted and everything else is kept as
// a string. Blank lines are skipped. Columns with an empty header are
// ignored.
func ReadRecords(r io.Reader) ([]*core.Record, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return []*core.Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading csv header: %w", core.ErrLoad, err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	records := make([]*core.Record, 0, 1024)
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: reading csv row %d: %w", core.ErrLoad, len(records)+1, err)
		}
		if isBlankRow(row) {
			continue
		}

		attrs := make(map[string]any, len(header))
		for col, cell := range row {
			if col >= len(header) || header[col] == "" {
				continue
			}
			if v, ok := inferValue(cell); ok {
				attrs[header[col]] = v
			}
		}
		records = append(records, core.NewRecord(len(records), attrs))
	}
	return records, nil
}

func isBlankRow(row []string) bool {
	return len(row) == 0 || (len(row) == 1 && strings.TrimSpace(row[0]) == "")
}

// inferValue converts a CSV cell to its typed value. ok is false for
// empty cells.
func inferValue(cell string) (any, bool) {
	switch cell {
	case "":
		return nil, false
	case "true", "TRUE", "True":
		return true, true
	case "false", "FALSE", "False":
		return false, true
	}
	if floatPattern.MatchString(cell) {
		f, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
		if err == nil && !math.IsInf(f, 0) && math.Abs(f) < maxExactFloat {
			return f, true
		}
	}
	return cell, true
}
