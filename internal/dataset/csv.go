package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// LoadCSV reads an already clean CSV file into a Dataset bound to schema.
// Columns are matched by header name; extra columns are ignored. When labelColumn is
// non-empty that column is parsed as the instance label.
func LoadCSV(path string, schema Schema, labelColumn string) (*Dataset, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	ds, err := ReadCSV(file, schema, labelColumn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	log.Info().
		Str("file", path).
		Int("instances", ds.Len()).
		Int("features", schema.Len()).
		Msg("CSV data loaded")

	return ds, nil
}

// ReadCSV parses CSV records from r. Unlike LoadCSV it does not log.
func ReadCSV(r io.Reader, schema Schema, labelColumn string) (*Dataset, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}

	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	indices := make(map[string]int, len(header))
	for i, col := range header {
		indices[strings.TrimSpace(col)] = i
	}

	columns := make([]int, schema.Len())
	for j, f := range schema.Features {
		idx, ok := indices[f.Name]
		if !ok {
			return nil, fmt.Errorf("column %q missing from header", f.Name)
		}
		columns[j] = idx
	}

	labelIdx := -1
	if labelColumn != "" {
		idx, ok := indices[labelColumn]
		if !ok {
			return nil, fmt.Errorf("label column %q missing from header", labelColumn)
		}
		labelIdx = idx
	}

	ds := &Dataset{Schema: schema}
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		values := make([]float64, schema.Len())
		for j, f := range schema.Features {
			v, err := parseCell(f, record[columns[j]])
			if err != nil {
				return nil, fmt.Errorf("line %d, column %q: %w", line, f.Name, err)
			}
			values[j] = v
		}

		in := Instance{Values: values}
		if labelIdx >= 0 {
			label, err := strconv.ParseFloat(strings.TrimSpace(record[labelIdx]), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d, label: %w", line, err)
			}
			in.Label = label
			in.Labeled = true
		}
		ds.Instances = append(ds.Instances, in)
	}

	return ds, nil
}

func parseCell(f Feature, raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "nan") || strings.EqualFold(raw, "na") {
		if !f.Nullable {
			return 0, fmt.Errorf("empty value in non-nullable feature")
		}
		return math.NaN(), nil
	}

	switch f.Kind {
	case Categorical:
		for i, c := range f.Categories {
			if c == raw {
				return float64(i), nil
			}
		}
		return 0, fmt.Errorf("unknown category %q", raw)
	case Binary:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return 0, fmt.Errorf("invalid binary value %q", raw)
		}
		if b {
			return 1, nil
		}
		return 0, nil
	default:
		return strconv.ParseFloat(raw, 64)
	}
}
