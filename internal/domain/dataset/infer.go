package dataset

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/GriffinCanCode/notebookd/internal/protocol"
)

var dateLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", time.DateOnly}

// InferType classifies a column from its non-null values.
func InferType(values []any) string {
	kind := ""
	for _, v := range values {
		if v == nil {
			continue
		}
		k := valueType(v)
		switch {
		case kind == "":
			kind = k
		case kind == k:
		case (kind == protocol.ColumnInteger && k == protocol.ColumnNumber) || (kind == protocol.ColumnNumber && k == protocol.ColumnInteger):
			kind = protocol.ColumnNumber
		case (kind == protocol.ColumnDate && k == protocol.ColumnString) || (kind == protocol.ColumnString && k == protocol.ColumnDate):
			kind = protocol.ColumnString
		default:
			return protocol.ColumnUnknown
		}
	}
	if kind == "" {
		return protocol.ColumnUnknown
	}
	return kind
}

func valueType(v any) string {
	switch x := v.(type) {
	case bool:
		return protocol.ColumnBoolean
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return protocol.ColumnInteger
	case float32:
		return floatType(float64(x))
	case float64:
		return floatType(x)
	case json.Number:
		if _, err := x.Int64(); err == nil {
			return protocol.ColumnInteger
		}
		if _, err := x.Float64(); err == nil {
			return protocol.ColumnNumber
		}
		return protocol.ColumnUnknown
	case time.Time:
		return protocol.ColumnDate
	case string:
		if isDate(x) {
			return protocol.ColumnDate
		}
		return protocol.ColumnString
	default:
		return protocol.ColumnUnknown
	}
}

func floatType(f float64) string {
	if !math.IsInf(f, 0) && !math.IsNaN(f) && f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return protocol.ColumnInteger
	}
	return protocol.ColumnNumber
}

func isDate(s string) bool {
	_, ok := parseDate(s)
	return ok
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if len(s) < len(time.DateOnly) {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// toFloat converts numeric values.
func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
