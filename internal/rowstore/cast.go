package rowstore

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// EmptyCell is the wire value of an absent field. It differs from the empty string so that
// "explicitly empty" and "absent" survive a round trip through the backend.
const EmptyCell = "\x00"

const (
	listSeparator = ","
	isoLayout     = "2006-01-02T15:04:05.000Z07:00"
)

var (
	integerPattern = regexp.MustCompile(`^[-+]?\d+$`)
	dateLayouts    = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}
	trueWords      = map[string]struct{}{"true": {}, "t": {}, "yes": {}, "y": {}, "1": {}, "on": {}, "x": {}}
)

// Cast converts a raw wire cell into the typed value for field.
// Empty cells and the EmptyCell sentinel yield the field type's zero value.
func Cast(field Field, raw string) (any, error) {
	if raw == "" || raw == EmptyCell {
		return zeroValue(field.Type), nil
	}
	switch field.Type {
	case FieldString:
		return raw, nil
	case FieldNumber:
		return parseNumber(field, raw)
	case FieldBoolean:
		return parseBoolean(raw), nil
	case FieldDate:
		return parseDate(field, raw)
	case FieldList:
		return strings.Split(raw, listSeparator), nil
	default:
		return nil, fmt.Errorf("%w: field %q has unknown type %s", ErrInvalidValue, field.Name, field.Type)
	}
}

// Stringer serializes a typed value into its wire cell.
func Stringer(value any) string {
	switch typed := value.(type) {
	case nil:
		return EmptyCell
	case string:
		return typed
	case time.Time:
		if typed.IsZero() {
			return EmptyCell
		}
		return typed.UTC().Format(isoLayout)
	case []string:
		return strings.Join(typed, listSeparator)
	case int64:
		return strconv.FormatInt(typed, 10)
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(typed)
	default:
		return cast.ToString(typed)
	}
}

// coerce normalizes a loosely typed in-memory value (an object member, a setter argument)
// into the representation held for field. Strings are treated as wire text.
func coerce(field Field, value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	if text, ok := value.(string); ok && field.Type != FieldString {
		return Cast(field, text)
	}
	switch field.Type {
	case FieldString:
		text, err := cast.ToStringE(value)
		if err != nil {
			return nil, fmt.Errorf("%w: field %q: %v", ErrInvalidValue, field.Name, err)
		}
		return text, nil
	case FieldNumber:
		return coerceNumber(field, value)
	case FieldBoolean:
		flag, err := cast.ToBoolE(value)
		if err != nil {
			return nil, fmt.Errorf("%w: field %q: %v", ErrInvalidValue, field.Name, err)
		}
		return flag, nil
	case FieldDate:
		switch typed := value.(type) {
		case time.Time:
			return normalizeTime(typed), nil
		case *time.Time:
			if typed == nil {
				return nil, nil
			}
			return normalizeTime(*typed), nil
		}
		moment, err := cast.ToTimeE(value)
		if err != nil {
			return nil, fmt.Errorf("%w: field %q: %v", ErrInvalidValue, field.Name, err)
		}
		return normalizeTime(moment), nil
	case FieldList:
		if items, ok := value.([]string); ok {
			return append([]string{}, items...), nil
		}
		items, err := cast.ToStringSliceE(value)
		if err != nil {
			return nil, fmt.Errorf("%w: field %q: %v", ErrInvalidValue, field.Name, err)
		}
		return items, nil
	default:
		return nil, fmt.Errorf("%w: field %q has unknown type %s", ErrInvalidValue, field.Name, field.Type)
	}
}

func coerceNumber(field Field, value any) (any, error) {
	switch value.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32:
		integer, err := cast.ToInt64E(value)
		if err != nil {
			return nil, fmt.Errorf("%w: field %q: %v", ErrInvalidValue, field.Name, err)
		}
		return integer, nil
	}
	number, err := cast.ToFloat64E(value)
	if err != nil {
		return nil, fmt.Errorf("%w: field %q: %v", ErrInvalidValue, field.Name, err)
	}
	return normalizeNumber(number), nil
}

func parseNumber(field Field, raw string) (any, error) {
	trimmed := strings.TrimSpace(raw)
	if integerPattern.MatchString(trimmed) {
		if integer, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
			return integer, nil
		}
	}
	number, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: field %q: %q is not a number", ErrInvalidValue, field.Name, raw)
	}
	return normalizeNumber(number), nil
}

// normalizeNumber keeps integral values as int64 so they serialize and parse back identically.
func normalizeNumber(number float64) any {
	if number == math.Trunc(number) && math.Abs(number) < 1<<53 {
		return int64(number)
	}
	return number
}

func parseBoolean(raw string) bool {
	_, ok := trueWords[strings.ToLower(strings.TrimSpace(raw))]
	return ok
}

func parseDate(field Field, raw string) (any, error) {
	trimmed := strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if moment, err := time.Parse(layout, trimmed); err == nil {
			return normalizeTime(moment), nil
		}
	}
	return nil, fmt.Errorf("%w: field %q: %q is not an ISO-8601 date", ErrInvalidValue, field.Name, raw)
}

// normalizeTime drops precision the wire format cannot carry.
func normalizeTime(moment time.Time) time.Time {
	if moment.IsZero() {
		return time.Time{}
	}
	return moment.UTC().Truncate(time.Millisecond)
}

func zeroValue(fieldType FieldType) any {
	switch fieldType {
	case FieldNumber:
		return int64(0)
	case FieldBoolean:
		return false
	case FieldDate:
		return time.Time{}
	case FieldList:
		return []string{}
	default:
		return ""
	}
}
