package schema

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-crudform/pkg/entity"
)

// DefaultToday is the descriptor default that resolves to the current date
// truncated to midnight.
const DefaultToday = "today"

// CoerceInteger applies the numeric input boundary: anything that is not a
// whole number (empty, non-numeric, fractional, NaN) becomes 0 so the draft
// never holds an undefined numeric value.
func CoerceInteger(raw string) int64 {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0
	}
	if v, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return v
	}
	f, err := strconv.ParseFloat(trimmed, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0
	}
	if f > math.MaxInt64 || f < math.MinInt64 {
		return 0
	}
	return int64(f)
}

// TruncateDate strips the time of day, keeping the calendar date in t's
// location.
func TruncateDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// CoerceDate parses date-only (2006-01-02), RFC3339 and dd/MM/yyyy inputs.
// Unparseable input reports false so the field stays unset.
func CoerceDate(raw string) (time.Time, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.DateOnly, trimmed); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339Nano, trimmed); err == nil {
		return t, true
	}
	if t, err := time.Parse("02/01/2006", trimmed); err == nil {
		return t, true
	}
	return time.Time{}, false
}

// CoerceInput converts raw text typed into a control into the value the draft
// stores for field. Empty optional inputs become nil (unassigned).
func CoerceInput(field entity.Field, raw string) any {
	trimmed := strings.TrimSpace(raw)
	switch {
	case field.Type == entity.FieldTypeInteger:
		return CoerceInteger(trimmed)
	case field.Type == entity.FieldTypeDate:
		t, ok := CoerceDate(trimmed)
		if !ok {
			return nil
		}
		return t
	case field.Type == entity.FieldTypeBoolean:
		b, err := strconv.ParseBool(trimmed)
		if err != nil {
			return false
		}
		return b
	case field.IsReference():
		if trimmed == "" {
			return nil
		}
		return trimmed
	default:
		if trimmed == "" && field.Nullable {
			return nil
		}
		return raw
	}
}

// Normalize converts a value read from the API (JSON numbers, RFC3339
// strings, empty foreign keys) into the representation drafts hold. Values
// that do not fit the field type are returned unchanged so validation can
// report them.
func Normalize(field entity.Field, value any) any {
	if value == nil {
		return nil
	}
	switch {
	case field.Type == entity.FieldTypeInteger:
		if v, ok := integerValue(value); ok {
			return v
		}
	case field.Type == entity.FieldTypeDate:
		if t, ok := dateValue(value); ok {
			return t
		}
	case field.IsReference():
		if s, ok := value.(string); ok && strings.TrimSpace(s) == "" {
			return nil
		}
	}
	return value
}

// ResolveDefault returns the initial draft value for field at time now.
func ResolveDefault(field entity.Field, now time.Time) any {
	switch def := field.Default.(type) {
	case nil:
		if field.IsReference() || field.Nullable {
			return nil
		}
		switch field.Type {
		case entity.FieldTypeInteger:
			return int64(0)
		case entity.FieldTypeBoolean:
			return false
		case entity.FieldTypeString:
			return ""
		}
		return nil
	case string:
		if field.Type == entity.FieldTypeDate {
			if strings.EqualFold(def, DefaultToday) || strings.EqualFold(def, "now") {
				return TruncateDate(now)
			}
			if t, ok := CoerceDate(def); ok {
				return t
			}
			return nil
		}
		if field.Type == entity.FieldTypeInteger {
			return CoerceInteger(def)
		}
		return def
	default:
		if field.Type == entity.FieldTypeInteger {
			if v, ok := integerValue(def); ok {
				return v
			}
			return int64(0)
		}
		return def
	}
}

// integerValue normalises the numeric representations a draft can carry.
func integerValue(value any) (int64, bool) {
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint:
		return int64(v), true
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint64:
		if v > math.MaxInt64 {
			return 0, false
		}
		return int64(v), true
	case float32:
		return floatToInteger(float64(v))
	case float64:
		return floatToInteger(v)
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, true
		}
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return floatToInteger(f)
	case string:
		trimmed := strings.TrimSpace(v)
		if i, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
			return i, true
		}
		return 0, false
	default:
		return 0, false
	}
}

func floatToInteger(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f > math.MaxInt64 || f < math.MinInt64 {
		return 0, false
	}
	return int64(f), true
}

func dateValue(value any) (time.Time, bool) {
	switch v := value.(type) {
	case time.Time:
		return v, !v.IsZero()
	case *time.Time:
		if v == nil || v.IsZero() {
			return time.Time{}, false
		}
		return *v, true
	case string:
		return CoerceDate(v)
	default:
		return time.Time{}, false
	}
}
