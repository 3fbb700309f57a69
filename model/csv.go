package model

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// CSVOptions holds options for loading a region table.
type CSVOptions struct {
	NameColumn       string // Column name for the region name (optional)
	ObservedColumn   string // Column name for observed counts (default: "observed")
	BackgroundColumn string // Column name for expected background (default: "background")
	ErrorColumn      string // Column name for the absolute background uncertainty (default: "bg_error")
	SignalColumn     string // Column name for the signal yield (default: "signal")
	Delimiter        rune   // Field delimiter (default: ',')
	SkipRows         int    // Number of rows to skip before the header
}

// DefaultCSVOptions returns default options for region tables.
func DefaultCSVOptions() *CSVOptions {
	return &CSVOptions{
		NameColumn:       "region",
		ObservedColumn:   "observed",
		BackgroundColumn: "background",
		ErrorColumn:      "bg_error",
		SignalColumn:     "signal",
		Delimiter:        ',',
	}
}

// LoadCSV loads one single-region Data record per row of a CSV file.
func LoadCSV(filename string, opts *CSVOptions) ([]Data, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return LoadCSVFromReader(file, opts)
}

// LoadCSVFromReader loads one single-region Data record per row. The header
// row is required.
func LoadCSVFromReader(r io.Reader, opts *CSVOptions) ([]Data, error) {
	if opts == nil {
		opts = DefaultCSVOptions()
	}

	reader := csv.NewReader(r)
	reader.Comma = opts.Delimiter
	reader.TrimLeadingSpace = true
	reader.Comment = '#'

	for i := 0; i < opts.SkipRows; i++ {
		if _, err := reader.Read(); err != nil {
			return nil, err
		}
	}

	header, err := reader.Read()
	if err != nil {
		return nil, err
	}

	nameIdx, obsIdx, bgIdx, errIdx, sigIdx := -1, -1, -1, -1, -1
	for i, h := range header {
		h = strings.TrimSpace(strings.Trim(h, "\""))
		switch h {
		case opts.NameColumn:
			nameIdx = i
		case opts.ObservedColumn:
			obsIdx = i
		case opts.BackgroundColumn:
			bgIdx = i
		case opts.ErrorColumn:
			errIdx = i
		case opts.SignalColumn:
			sigIdx = i
		}
	}
	if obsIdx < 0 || bgIdx < 0 || errIdx < 0 {
		return nil, fmt.Errorf("region table needs %q, %q and %q columns",
			opts.ObservedColumn, opts.BackgroundColumn, opts.ErrorColumn)
	}

	var regions []Data
	line := 1 + opts.SkipRows
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		line++

		field := func(idx int) (float64, error) {
			if idx < 0 || idx >= len(record) {
				return 0, nil
			}
			s := strings.TrimSpace(strings.Trim(record[idx], "\""))
			if s == "" {
				return 0, nil
			}
			return strconv.ParseFloat(s, 64)
		}

		obs, err := field(obsIdx)
		if err != nil {
			return nil, fmt.Errorf("line %d: observed: %w", line, err)
		}
		bg, err := field(bgIdx)
		if err != nil {
			return nil, fmt.Errorf("line %d: background: %w", line, err)
		}
		bgErr, err := field(errIdx)
		if err != nil {
			return nil, fmt.Errorf("line %d: bg_error: %w", line, err)
		}
		sig, err := field(sigIdx)
		if err != nil {
			return nil, fmt.Errorf("line %d: signal: %w", line, err)
		}

		name := fmt.Sprintf("SR%d", len(regions)+1)
		if nameIdx >= 0 && nameIdx < len(record) && record[nameIdx] != "" {
			name = strings.TrimSpace(record[nameIdx])
		}

		regions = append(regions, Data{
			Name:       name,
			Observed:   []float64{obs},
			Background: []float64{bg},
			Covariance: [][]float64{{bgErr * bgErr}},
			Signal:     []float64{sig},
		})
	}

	if len(regions) == 0 {
		return nil, errors.New("no regions found in CSV")
	}
	return regions, nil
}

// Combine joins single-region records into one uncorrelated multi-region
// record. Regions without third moments contribute zeros if any other region
// has them. The first non-zero DeltasRel and Lumi are kept.
func Combine(name string, regions []Data) (Data, error) {
	var out Data
	out.Name = name
	n := 0
	for _, r := range regions {
		n += len(r.Observed)
	}
	out.Covariance = make([][]float64, n)
	for i := range out.Covariance {
		out.Covariance[i] = make([]float64, n)
	}

	offset := 0
	for _, r := range regions {
		k := len(r.Observed)
		if len(r.Background) != k || len(r.Covariance) != k {
			return Data{}, fmt.Errorf("%w: region %q has inconsistent lengths", ErrInvalidModel, r.Name)
		}
		out.Observed = append(out.Observed, r.Observed...)
		out.Background = append(out.Background, r.Background...)
		if r.Signal != nil {
			out.Signal = append(out.Signal, r.Signal...)
		} else {
			out.Signal = append(out.Signal, make([]float64, k)...)
		}
		if r.ThirdMoment != nil {
			if len(r.ThirdMoment) != k {
				return Data{}, fmt.Errorf("%w: region %q has %d third moments", ErrInvalidModel, r.Name, len(r.ThirdMoment))
			}
			if out.ThirdMoment == nil {
				out.ThirdMoment = make([]float64, offset, n)
			}
			out.ThirdMoment = append(out.ThirdMoment, r.ThirdMoment...)
		} else if out.ThirdMoment != nil {
			out.ThirdMoment = append(out.ThirdMoment, make([]float64, k)...)
		}
		if out.DeltasRel == 0 {
			out.DeltasRel = r.DeltasRel
		}
		if out.Lumi == 0 {
			out.Lumi = r.Lumi
		}
		for i := 0; i < k; i++ {
			if len(r.Covariance[i]) != k {
				return Data{}, fmt.Errorf("%w: region %q covariance is not square", ErrInvalidModel, r.Name)
			}
			copy(out.Covariance[offset+i][offset:offset+k], r.Covariance[i])
		}
		offset += k
	}
	return out, nil
}
