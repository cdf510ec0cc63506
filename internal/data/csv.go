package data

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/born-ml/born/tensor"
)

// LoadCSV loads a dataset from a CSV file with a header row.
//
// The last targets columns of every row are the target, the rest are features:
//
//	x0,x1,x2,y
//	0.1,0.9,0.3,1
//
// maxSamples limits the number of rows read (0 = all).
func LoadCSV(filename string, targets, maxSamples int) (*Dataset, error) {
	if targets <= 0 {
		return nil, fmt.Errorf("targets must be positive, got %d", targets)
	}
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV: %w", err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("CSV file is empty or missing header")
	}

	width := len(records[0])
	features := width - targets
	if features <= 0 {
		return nil, fmt.Errorf("header has %d columns, need more than %d", width, targets)
	}

	records = records[1:]
	if maxSamples > 0 && len(records) > maxSamples {
		records = records[:maxSamples]
	}

	ds := &Dataset{
		Inputs:      make([][]float32, len(records)),
		Targets:     make([][]float32, len(records)),
		InputShape:  tensor.Shape{features},
		TargetShape: tensor.Shape{targets},
	}
	for i, record := range records {
		if len(record) != width {
			return nil, fmt.Errorf("invalid record length at row %d: got %d, want %d", i+1, len(record), width)
		}
		row := make([]float32, width)
		for j, field := range record {
			v, err := strconv.ParseFloat(field, 32)
			if err != nil {
				return nil, fmt.Errorf("invalid value at row %d, column %d: %w", i+1, j+1, err)
			}
			row[j] = float32(v)
		}
		ds.Inputs[i] = row[:features:features]
		ds.Targets[i] = row[features:]
	}
	return ds, nil
}
