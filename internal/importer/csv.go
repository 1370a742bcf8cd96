package importer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/saltyorg/lighter/internal/database"
)

// ErrMalformed is returned when an import file cannot be parsed. Nothing from
// such a file is stored.
var ErrMalformed = errors.New("malformed import file")

// ParseCSV reads weight,date,time rows. A leading header row, blank lines and
// lines starting with # are skipped.
func ParseCSV(r io.Reader) ([]database.WeightRecord, error) {
	reader := csv.NewReader(r)
	reader.Comment = '#'
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var out []database.WeightRecord
	first := true
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
		line, _ := reader.FieldPos(0)

		if first {
			first = false
			if isHeader(row) {
				continue
			}
		}

		if len(row) != 3 {
			return nil, fmt.Errorf("%w: line %d: expected 3 fields, got %d", ErrMalformed, line, len(row))
		}

		weight, err := strconv.ParseFloat(strings.TrimSpace(row[0]), 64)
		if err != nil || math.IsNaN(weight) || math.IsInf(weight, 0) {
			return nil, fmt.Errorf("%w: line %d: invalid weight %q", ErrMalformed, line, row[0])
		}

		out = append(out, database.WeightRecord{
			Weight: weight,
			Date:   strings.TrimSpace(row[1]),
			Time:   strings.TrimSpace(row[2]),
		})
	}

	return out, nil
}

func isHeader(row []string) bool {
	return len(row) > 0 && strings.EqualFold(strings.TrimSpace(row[0]), "weight")
}
