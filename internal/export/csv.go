// Package export writes daily CSV snapshots of telemetry data.
package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Records converts any JSON-encodable slice (structs, maps) into generic rows.
// Numbers are kept as json.Number so large integers survive.
func Records(v any) ([]map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var rows []map[string]any
	if err := dec.Decode(&rows); err != nil {
		return nil, fmt.Errorf("export: rows must be a list of objects: %w", err)
	}
	return rows, nil
}

// ToCSV flattens nested objects and arrays into parent_child columns. The header is the sorted
// union of all row keys; a row lacking a column gets an empty cell. No rows yields no output.
func ToCSV(rows []map[string]any) ([]byte, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	flat := make([]map[string]string, len(rows))
	cols := map[string]struct{}{}
	for i, r := range rows {
		flat[i] = map[string]string{}
		flatten(flat[i], "", r)
		for k := range flat[i] {
			cols[k] = struct{}{}
		}
	}
	header := make([]string, 0, len(cols))
	for k := range cols {
		header = append(header, k)
	}
	sort.Strings(header)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, err
	}
	rec := make([]string, len(header))
	for _, f := range flat {
		for i, k := range header {
			rec[i] = f[k]
		}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func flatten(dst map[string]string, prefix string, v any) {
	switch x := v.(type) {
	case map[string]any:
		for k, child := range x {
			flatten(dst, join(prefix, k), child)
		}
	case []any:
		for i, child := range x {
			flatten(dst, join(prefix, strconv.Itoa(i)), child)
		}
	default:
		dst[prefix] = cell(x)
	}
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "_" + key
}

func cell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case json.Number:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}
