// Package tabular turns uploaded bytes into a header row plus data rows.
// It knows nothing about the meaning of the columns.
package tabular

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/username/taxfolio/importer/src/normalizer"
)

var ErrNoTable = errors.New("no tabular data found")

var xlsxMagic = []byte("PK\x03\x04")

// Table is a decoded sheet. Headers are unique: blank header cells are
// named "column N" and duplicates get a " (2)" style suffix.
type Table struct {
	Headers []string
	Rows    [][]string
	index   map[string]int
	lines   []int // source line of each entry in Rows
}

// Record is one data row of a Table.
type Record struct {
	table *Table
	cells []string
	// Line is the 1-based line (or sheet row) the record came from.
	Line int
}

// IsSpreadsheet reports whether data looks like an XLSX (zip) payload.
func IsSpreadsheet(data []byte) bool {
	return bytes.HasPrefix(data, xlsxMagic)
}

// Decode reads a CSV or XLSX payload. Empty input, or input with a header
// but no data rows, is ErrNoTable.
func Decode(data []byte) (*Table, error) {
	var (
		rows  [][]string
		lines []int
		err   error
	)
	if IsSpreadsheet(data) {
		rows, err = readXLSX(data)
		lines = make([]int, len(rows))
		for i := range rows {
			lines[i] = i + 1
		}
	} else {
		rows, lines, err = readCSV(normalizer.DecodeBytes(data))
	}
	if err != nil {
		return nil, err
	}
	return newTable(rows, lines)
}

func readXLSX(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("opening spreadsheet: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrNoTable
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("reading sheet %q: %w", sheets[0], err)
	}
	for i, row := range rows {
		for j, cell := range row {
			rows[i][j] = normalizer.RepairEncoding(cell)
		}
	}
	return rows, nil
}

// readCSV also returns the line each record starts on. The reader drops
// empty lines, so record order alone does not give it.
func readCSV(text string) ([][]string, []int, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil, ErrNoTable
	}
	reader := csv.NewReader(strings.NewReader(text))
	reader.Comma = sniffDelimiter(text)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	var (
		rows  [][]string
		lines []int
	)
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("reading CSV: %w", err)
		}
		line, _ := reader.FieldPos(0)
		rows = append(rows, rec)
		lines = append(lines, line)
	}
	return rows, lines, nil
}

// sniffDelimiter picks the most frequent of , ; and tab on the first line.
func sniffDelimiter(text string) rune {
	first := text
	if i := strings.IndexAny(text, "\r\n"); i >= 0 {
		first = text[:i]
	}
	best, bestCount := ',', strings.Count(first, ",")
	for _, d := range []rune{';', '\t'} {
		if n := strings.Count(first, string(d)); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best
}

func newTable(rows [][]string, lines []int) (*Table, error) {
	// Leading blank lines are common in bank exports.
	for len(rows) > 0 && isBlank(rows[0]) {
		rows, lines = rows[1:], lines[1:]
	}
	if len(rows) < 2 {
		return nil, ErrNoTable
	}

	t := &Table{index: map[string]int{}}
	seen := map[string]int{}
	for i, h := range rows[0] {
		h = strings.TrimSpace(strings.Trim(h, "\uFEFF"))
		if h == "" {
			h = fmt.Sprintf("column %d", i+1)
		}
		seen[h]++
		if n := seen[h]; n > 1 {
			h = fmt.Sprintf("%s (%d)", h, n)
		}
		t.index[h] = i
		t.Headers = append(t.Headers, h)
	}
	for i, r := range rows[1:] {
		if isBlank(r) {
			continue
		}
		t.Rows = append(t.Rows, r)
		t.lines = append(t.lines, lines[i+1])
	}
	if len(t.Rows) == 0 {
		return nil, ErrNoTable
	}
	return t, nil
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// Records returns every data row with the line it was read from. Tables
// built by hand number their rows after a header on line 1.
func (t *Table) Records() []Record {
	out := make([]Record, 0, len(t.Rows))
	for i, r := range t.Rows {
		line := i + 2
		if i < len(t.lines) {
			line = t.lines[i]
		}
		out = append(out, Record{table: t, cells: r, Line: line})
	}
	return out
}

// Index returns the position of header h.
func (t *Table) Index(h string) (int, bool) {
	i, ok := t.index[h]
	return i, ok
}

// HeaderAfter returns the header immediately right of h. DeGiro leaves the
// currency column of an amount unnamed and places it next to the amount.
func (t *Table) HeaderAfter(h string) (string, bool) {
	i, ok := t.index[h]
	if !ok || i+1 >= len(t.Headers) {
		return "", false
	}
	return t.Headers[i+1], true
}

// Get returns the trimmed cell under header h, or "" when the header is
// unknown or the row is short.
func (r Record) Get(h string) string {
	if h == "" {
		return ""
	}
	i, ok := r.table.index[h]
	if !ok || i >= len(r.cells) {
		return ""
	}
	return strings.TrimSpace(r.cells[i])
}

// Raw returns the row joined back together, for audit fields and hashing.
func (r Record) Raw() string {
	return strings.Join(r.cells, "|")
}
