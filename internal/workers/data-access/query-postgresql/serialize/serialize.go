// Package serialize turns database/sql rows into JSON-safe values.
package serialize

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Value converts v into something encoding/json renders without loss of
// meaning: decimals become float64, timestamps RFC3339Nano strings, UUIDs and
// byte slices strings. Maps and slices are converted recursively.
func Value(v interface{}) interface{} {
	switch t := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(t)
	case time.Time:
		return t.Format(time.RFC3339Nano)
	case *time.Time:
		if t == nil {
			return nil
		}
		return t.Format(time.RFC3339Nano)
	case uuid.UUID:
		return t.String()
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case *big.Float:
		f, _ := t.Float64()
		return f
	case *big.Rat:
		f, _ := t.Float64()
		return f
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case float32:
		return float64(t)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, item := range t {
			out[k] = Value(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = Value(item)
		}
		return out
	case []map[string]interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = Value(item)
		}
		return out
	case fmt.Stringer:
		return t.String()
	}
	return v
}

// Column converts a scanned value using the column's database type name.
// lib/pq hands NUMERIC, UUID and JSON columns back as raw bytes.
func Column(typeName string, v interface{}) interface{} {
	raw, ok := v.([]byte)
	if !ok {
		return Value(v)
	}
	switch strings.ToUpper(typeName) {
	case "NUMERIC", "DECIMAL", "MONEY":
		s := strings.TrimPrefix(strings.ReplaceAll(string(raw), ",", ""), "$")
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	case "JSON", "JSONB":
		var decoded interface{}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&decoded); err == nil {
			return Value(decoded)
		}
	}
	return string(raw)
}

// Rows drains rows into one map per row keyed by column name.
func Rows(rows *sql.Rows) ([]map[string]interface{}, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	types := make([]string, len(columns))
	if colTypes, err := rows.ColumnTypes(); err == nil {
		for i, ct := range colTypes {
			if i < len(types) {
				types[i] = ct.DatabaseTypeName()
			}
		}
	}

	results := make([]map[string]interface{}, 0)
	for rows.Next() {
		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			row[col] = Column(types[i], values[i])
		}
		results = append(results, row)
	}
	return results, rows.Err()
}

// Marshal encodes v as compact JSON without HTML escaping.
func Marshal(v interface{}) (json.RawMessage, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(Value(v)); err != nil {
		return nil, err
	}
	return json.RawMessage(bytes.TrimRight(buf.Bytes(), "\n")), nil
}
