package services

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// MissingColumnsError meldet fehlende Pflichtspalten, bevor irgendetwas
// Destruktives passiert.
type MissingColumnsError struct {
	Columns []string
}

func (e *MissingColumnsError) Error() string {
	return fmt.Sprintf("missing required columns: %s", strings.Join(e.Columns, ", "))
}

// ConversionError meldet einen nicht parsbaren Zahlenwert in einer typisierten Spalte.
type ConversionError struct {
	Column string
	Value  string
	Line   int
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("line %d: column %q: cannot parse %q as a number", e.Line, e.Column, e.Value)
}

// table ist eine eingelesene CSV-Datei mit Header-Index.
// Spaltennamen und Zellwerte werden beim Zugriff getrimmt.
type table struct {
	header []string
	index  map[string]int
	rows   [][]string
}

func readTable(r io.Reader) (*table, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading csv: %w", err)
	}
	if len(records) == 0 {
		return nil, errors.New("csv file is empty")
	}

	t := &table{
		header: make([]string, len(records[0])),
		index:  make(map[string]int, len(records[0])),
		rows:   records[1:],
	}
	for i, col := range records[0] {
		col = strings.TrimSpace(col)
		t.header[i] = col
		if _, ok := t.index[col]; !ok {
			t.index[col] = i
		}
	}
	return t, nil
}

// require prüft alle Pflichtspalten auf einmal und benennt sämtliche fehlenden.
func (t *table) require(cols ...string) error {
	var missing []string
	for _, c := range cols {
		if _, ok := t.index[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return &MissingColumnsError{Columns: missing}
	}
	return nil
}

func (t *table) get(row []string, col string) string {
	i, ok := t.index[col]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// optString: leere Zelle wird zu nil, nie zu "".
func optString(s string) *string {
	if s == "" {
		return nil
	}
	v := s
	return &v
}

// optFloat parst strikt: leer → nil, nicht numerisch → ConversionError.
func (t *table) optFloat(row []string, col string, line int) (*float64, error) {
	s := t.get(row, col)
	if s == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, &ConversionError{Column: col, Value: s, Line: line}
	}
	return &f, nil
}

// optPercent wie optFloat, entfernt aber vor dem Parsen ein Prozentzeichen.
func (t *table) optPercent(row []string, col string, line int) (*float64, error) {
	s := t.get(row, col)
	if s == "" {
		return nil, nil
	}
	stripped := strings.TrimSpace(strings.ReplaceAll(s, "%", ""))
	if stripped == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(stripped, 64)
	if err != nil {
		return nil, &ConversionError{Column: col, Value: s, Line: line}
	}
	return &f, nil
}

// optInt parst strikt: leer → nil, nicht numerisch → ConversionError.
func (t *table) optInt(row []string, col string, line int) (*int64, error) {
	s := t.get(row, col)
	if s == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, &ConversionError{Column: col, Value: s, Line: line}
	}
	return &n, nil
}

// lenientFloat für den Metrik-Merge: unparsebare Werte werden nil, nicht 0.
func lenientFloat(s string) *float64 {
	s = strings.TrimSpace(strings.ReplaceAll(s, "%", ""))
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}
