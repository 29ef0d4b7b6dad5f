package schema

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Field types inferred from decoded JSON values.
const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeJSON    = "json"
)

// Field captures the minimal behavior-relevant schema fields.
type Field struct {
	Name     string
	Type     string
	Nullable bool
}

// Contract is the tabular schema of a set of open-ended records.
type Contract struct {
	Fields []Field
}

// Infer builds the contract for rows: one field per key observed in any row, sorted by
// name. A field is nullable when some row lacks it or holds null. Mixed types widen to
// TypeJSON.
func Infer(rows []map[string]any) Contract {
	seen := map[string]*Field{}
	for _, row := range rows {
		for k, v := range row {
			f, ok := seen[k]
			if !ok {
				f = &Field{Name: k}
				seen[k] = f
			}
			if v == nil {
				f.Nullable = true
				continue
			}
			t := typeOf(v)
			switch {
			case f.Type == "":
				f.Type = t
			case f.Type != t:
				f.Type = TypeJSON
			}
		}
	}

	out := Contract{Fields: make([]Field, 0, len(seen))}
	for _, f := range seen {
		if f.Type == "" {
			f.Type = TypeString
		}
		for _, row := range rows {
			if _, ok := row[f.Name]; !ok {
				f.Nullable = true
				break
			}
		}
		out.Fields = append(out.Fields, *f)
	}
	sort.Slice(out.Fields, func(i, j int) bool { return out.Fields[i].Name < out.Fields[j].Name })
	return out
}

// Names returns the field names in contract order.
func (c Contract) Names() []string {
	names := make([]string, len(c.Fields))
	for i, f := range c.Fields {
		names[i] = f.Name
	}
	return names
}

// UnionColumns returns the sorted union of keys across rows.
func UnionColumns(rows []map[string]any) []string {
	return Infer(rows).Names()
}

// Row renders one record as cells in columns order.
func Row(rec map[string]any, columns []string) []string {
	out := make([]string, len(columns))
	for i, col := range columns {
		out[i] = CellValue(rec[col])
	}
	return out
}

// CellValue renders v for a CSV cell. Null is empty; maps and slices are JSON-encoded.
func CellValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}

func typeOf(v any) string {
	switch v.(type) {
	case string:
		return TypeString
	case bool:
		return TypeBoolean
	case float64, json.Number, int, int64:
		return TypeNumber
	default:
		return TypeJSON
	}
}
