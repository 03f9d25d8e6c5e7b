package storage

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/zeebo/xxh3"

	"skyetl/internal/schema"
	"skyetl/pkg/records"
)

// timeLayouts are tried in order when a timestamp comes back as text
// (SQLite TEXT columns, MySQL without parseTime).
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
}

// Int64 converts the integer-like values a record or driver may carry.
func Int64(v any) (int64, bool) {
	switch t := v.(type) {
	case int:
		return int64(t), true
	case int32:
		return int64(t), true
	case int64:
		return t, true
	case uint32:
		return int64(t), true
	case float64:
		if t == float64(int64(t)) {
			return int64(t), true
		}
	case []byte:
		n, err := strconv.ParseInt(string(t), 10, 64)
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		return n, err == nil
	}
	return 0, false
}

// BindJSON renders a JSON column value as JSON text. Strings and byte
// slices are assumed to already be JSON.
func BindJSON(v any) (any, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case []byte:
		return string(t), nil
	case json.RawMessage:
		return string(t), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Normalize converts a scanned driver value into the Go type the column's
// semantic type promises: string, int64, float64, bool, UTC time.Time, or
// JSON text.
func Normalize(c schema.Column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if b, ok := v.([]byte); ok {
		v = string(b)
	}

	switch c.Type {
	case schema.Text:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return fmt.Sprint(v), nil

	case schema.JSON:
		return BindJSON(v)

	case schema.Integer:
		if n, ok := Int64(v); ok {
			return n, nil
		}

	case schema.Real:
		switch t := v.(type) {
		case float64:
			return t, nil
		case float32:
			return float64(t), nil
		case int64:
			return float64(t), nil
		case string:
			if f, err := strconv.ParseFloat(t, 64); err == nil {
				return f, nil
			}
		}

	case schema.Bool:
		switch t := v.(type) {
		case bool:
			return t, nil
		case int64:
			return t != 0, nil
		case string:
			if b, err := strconv.ParseBool(t); err == nil {
				return b, nil
			}
		}

	case schema.Timestamp:
		switch t := v.(type) {
		case time.Time:
			return t.UTC(), nil
		case string:
			for _, layout := range timeLayouts {
				if ts, err := time.Parse(layout, strings.TrimSpace(t)); err == nil {
					return ts.UTC(), nil
				}
			}
		}
	}
	return nil, fmt.Errorf("column %s: cannot read %T as %s", c.Name, v, c.Type)
}

// LockKey names the sequencing lock for a table and the scope values of rec.
// The result is short enough for MySQL GET_LOCK (64 chars).
func LockKey(table string, scope []string, rec records.Record) string {
	var sb strings.Builder
	sb.WriteString(table)
	for _, k := range scope {
		sb.WriteByte(0x1f)
		sb.WriteString(keyString(rec[k]))
	}
	h := xxh3.HashString128(sb.String())
	return fmt.Sprintf("skyetl:seq:%016x%016x", h.Hi, h.Lo)
}
