package datasets

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ReadCSV reads a split from CSV with a header row. declared optionally
// carries Hugging Face feature declarations keyed by column name; undeclared
// columns are typed by inspecting their values.
func ReadCSV(r io.Reader, name string, declared map[string]json.RawMessage) (*Split, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	columns := make([]*columnValues, len(header))
	seen := make(map[string]bool, len(header))
	for i, col := range header {
		col = strings.TrimSpace(col)
		if seen[col] {
			return nil, fmt.Errorf("duplicate column %q in header", col)
		}
		seen[col] = true
		columns[i] = &columnValues{name: col, fromText: true}
	}

	rows := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row %d: %w", rows+1, err)
		}
		for i, col := range columns {
			col.cells = append(col.cells, record[i])
		}
		rows++
	}

	return buildRecord(name, columns, rows, declared)
}

// ReadJSONL reads a split from JSON lines, one object per line. Column order
// is the order in which keys first appear.
func ReadJSONL(r io.Reader, name string, declared map[string]json.RawMessage) (*Split, error) {
	var columns []*columnValues
	index := make(map[string]*columnValues)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	rows := 0
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		keys, values, err := decodeOrderedObject(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", rows+1, err)
		}
		for i, key := range keys {
			col, ok := index[key]
			if !ok {
				col = &columnValues{name: key}
				index[key] = col
				columns = append(columns, col)
			}
			for len(col.cells) < rows {
				col.cells = append(col.cells, nil)
			}
			col.cells = append(col.cells, values[i])
		}
		rows++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read lines: %w", err)
	}

	return buildRecord(name, columns, rows, declared)
}

// decodeOrderedObject decodes one JSON object keeping its key order. Numbers
// are kept as json.Number.
func decodeOrderedObject(data []byte) ([]string, []any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, nil, errors.New("expected a JSON object")
	}

	var keys []string
	var values []any
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, nil, fmt.Errorf("unexpected token %v", tok)
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, nil, fmt.Errorf("key %q: %w", key, err)
		}
		keys = append(keys, key)
		values = append(values, v)
	}
	if _, err := dec.Token(); err != nil {
		return nil, nil, err
	}
	return keys, values, nil
}
