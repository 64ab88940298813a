package store

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// CSV columns of a records export. Other columns are ignored.
const (
	ColumnWocID    = "WoCid"
	ColumnX        = "X"
	ColumnY        = "Y"
	ColumnSpecies  = "Crayfish_scientific_name"
	ColumnAccuracy = "Accuracy"
	ColumnStatus   = "Status"
	ColumnYear     = "Year_of_record"
)

var requiredColumns = []string{ColumnWocID, ColumnX, ColumnY, ColumnSpecies}

// RecordWriter receives imported records.
type RecordWriter interface {
	WriteRecord(r Record) error
}

// RowError is a rejected CSV row. Row is 1-based and excludes the header.
type RowError struct {
	Row int
	Err error
}

func (e RowError) Error() string {
	return fmt.Sprintf("row %d: %v", e.Row, e.Err)
}

func (e RowError) Unwrap() error {
	return e.Err
}

// ImportReport summarizes an import.
type ImportReport struct {
	Imported int
	Rejected []RowError
}

// ImportCSV reads records from a CSV export and passes every valid row to w.
// Rows that fail to parse or validate are reported and skipped. The
// delimiter is detected from the header (comma or semicolon). Coordinates may
// use a decimal comma.
func ImportCSV(r io.Reader, w RecordWriter) (ImportReport, error) {
	var report ImportReport

	data, err := io.ReadAll(r)
	if err != nil {
		return report, fmt.Errorf("failed to read csv: %w", err)
	}

	cr := csv.NewReader(strings.NewReader(string(data)))
	cr.Comma = detectDelimiter(data)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return report, fmt.Errorf("csv is empty")
	}
	if err != nil {
		return report, fmt.Errorf("failed to read csv header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	for _, name := range requiredColumns {
		if _, ok := cols[name]; !ok {
			return report, fmt.Errorf("csv is missing column %q", name)
		}
	}

	for row := 1; ; row++ {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				report.Rejected = append(report.Rejected, RowError{Row: row, Err: err})
				continue
			}
			return report, fmt.Errorf("failed to read csv: %w", err)
		}

		rec, err := parseRow(fields, cols)
		if err == nil {
			err = w.WriteRecord(rec)
		}
		if err != nil {
			report.Rejected = append(report.Rejected, RowError{Row: row, Err: err})
			continue
		}
		report.Imported++
	}

	return report, nil
}

func parseRow(fields []string, cols map[string]int) (Record, error) {
	get := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(fields) {
			return ""
		}
		return strings.TrimSpace(fields[i])
	}

	x, err := parseCoord(get(ColumnX))
	if err != nil {
		return Record{}, fmt.Errorf("invalid X: %w", err)
	}
	y, err := parseCoord(get(ColumnY))
	if err != nil {
		return Record{}, fmt.Errorf("invalid Y: %w", err)
	}
	acc, err := ParseAccuracy(get(ColumnAccuracy))
	if err != nil {
		return Record{}, err
	}

	var year int
	if s := get(ColumnYear); s != "" {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Record{}, fmt.Errorf("invalid year %q", s)
		}
		year = int(f)
	}

	rec := Record{
		WocID:    get(ColumnWocID),
		Species:  get(ColumnSpecies),
		CoordX:   x,
		CoordY:   y,
		Accuracy: acc,
		Status:   get(ColumnStatus),
		Year:     year,
	}
	return rec, rec.Validate()
}

func parseCoord(s string) (float64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty value")
	}
	return strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
}

// detectDelimiter picks ';' when the header line has more semicolons than commas.
func detectDelimiter(data []byte) rune {
	line := string(data)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	if strings.Count(line, ";") > strings.Count(line, ",") {
		return ';'
	}
	return ','
}
