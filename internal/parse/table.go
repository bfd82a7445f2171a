package parse

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/metal-toolbox/pms/internal/classify"
	"github.com/xuri/excelize/v2"
)

// row is a single tabular record keyed by normalized column name.
type row struct {
	// line is the 1-based position of the record in its source, used in error reasons.
	line   int
	fields map[string]string
}

func (r row) get(column string) string {
	return strings.TrimSpace(r.fields[column])
}

func (r row) has(column string) bool {
	_, ok := r.fields[column]
	return ok
}

// table is the common shape of CSV, XLSX and JSON record files.
type table struct {
	member string
	// header is set for formats with a header row, JSON objects carry their own keys.
	header map[string]bool
	rows   []row
}

// require returns an *Error naming the first missing column.
func (t *table) require(columns ...string) error {
	for _, c := range columns {
		if t.header != nil {
			if !t.header[c] {
				return newError(t.member, "missing required column %q", c)
			}

			continue
		}

		for _, r := range t.rows {
			if !r.has(c) {
				return newError(t.member, "record %d: missing required field %q", r.line, c)
			}
		}
	}

	if len(t.rows) == 0 {
		return newError(t.member, "no records")
	}

	return nil
}

// reject returns an *Error naming the first column present that belongs to another record kind.
func (t *table) reject(columns ...string) error {
	for _, c := range columns {
		if t.header != nil {
			if t.header[c] {
				return newError(t.member, "unexpected column %q", c)
			}

			continue
		}

		for _, r := range t.rows {
			if r.has(c) {
				return newError(t.member, "record %d: unexpected field %q", r.line, c)
			}
		}
	}

	return nil
}

func tableFromRecords(member string, records [][]string) (*table, error) {
	if len(records) == 0 {
		return nil, newError(member, "empty file")
	}

	columns := make([]string, len(records[0]))
	header := make(map[string]bool, len(columns))

	for i, c := range records[0] {
		columns[i] = classify.NormalizeColumn(c)
		header[columns[i]] = true
	}

	t := &table{member: member, header: header}

	for i, record := range records[1:] {
		if blank(record) {
			continue
		}

		if len(record) > len(columns) {
			return nil, newError(member, "line %d: %d fields, header has %d", i+2, len(record), len(columns))
		}

		fields := make(map[string]string, len(columns))
		for j, v := range record {
			fields[columns[j]] = v
		}

		t.rows = append(t.rows, row{line: i + 2, fields: fields})
	}

	return t, nil
}

func blank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}

	return true
}

func readCSV(member string, data []byte) (*table, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, newError(member, "invalid csv: %s", err)
	}

	return tableFromRecords(member, records)
}

func readXLSX(member string, data []byte) (*table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, newError(member, "invalid workbook: %s", err)
	}

	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, newError(member, "workbook has no sheets")
	}

	records, err := f.GetRows(sheet)
	if err != nil {
		return nil, newError(member, "sheet %q: %s", sheet, err)
	}

	return tableFromRecords(member, records)
}

// readJSON accepts a single object or an array of objects, values of any scalar type are kept as text.
func readJSON(member string, data []byte) (*table, error) {
	dec := json.NewDecoder(bytes.NewReader(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, newError(member, "invalid json: %s", err)
	}

	if _, err := dec.Token(); err != io.EOF {
		return nil, newError(member, "invalid json: trailing data after the top level value")
	}

	var objects []any

	switch v := raw.(type) {
	case map[string]any:
		objects = []any{v}
	case []any:
		objects = v
	default:
		return nil, newError(member, "expected an object or an array of objects")
	}

	t := &table{member: member}

	for i, o := range objects {
		obj, ok := o.(map[string]any)
		if !ok {
			return nil, newError(member, "record %d: expected an object", i+1)
		}

		fields := make(map[string]string, len(obj))

		for k, v := range obj {
			switch val := v.(type) {
			case nil:
				fields[classify.NormalizeColumn(k)] = ""
			case string:
				fields[classify.NormalizeColumn(k)] = val
			case json.Number, bool:
				fields[classify.NormalizeColumn(k)] = fmt.Sprint(val)
			default:
				return nil, newError(member, "record %d: field %q is not a scalar", i+1, k)
			}
		}

		t.rows = append(t.rows, row{line: i + 1, fields: fields})
	}

	return t, nil
}

var dateLayouts = []string{"2006-01-02", "060102", "20060102", "2006/01/02", "2006.01.02"}

// parseDate parses a calendar date, dates carry no zone and are taken as UTC.
func parseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

var timestampLayouts = []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05"}

// parseTimestamp parses an event timestamp, timestamps without a zone are taken as UTC.
func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
