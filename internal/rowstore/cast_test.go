package rowstore

import (
	"errors"
	"testing"
	"time"
)

func TestStringerDistinguishesAbsentFromEmpty(t *testing.T) {
	if Stringer(nil) == Stringer("") {
		t.Fatalf("absent and empty values must serialize differently")
	}
	if Stringer(nil) != EmptyCell {
		t.Fatalf("expected absent value to serialize as the empty-cell sentinel")
	}
	if Stringer(time.Time{}) != EmptyCell {
		t.Fatalf("expected unset date to serialize as the empty-cell sentinel")
	}
}

func TestStringerFormatsValues(t *testing.T) {
	testCases := []struct {
		name  string
		value any
		want  string
	}{
		{name: "string", value: "hello", want: "hello"},
		{name: "integer", value: int64(42), want: "42"},
		{name: "float", value: 2.5, want: "2.5"},
		{name: "bool", value: true, want: "true"},
		{name: "date", value: time.Date(2024, 3, 1, 12, 30, 45, 123000000, time.UTC), want: "2024-03-01T12:30:45.123Z"},
		{name: "date-offset", value: time.Date(2024, 3, 1, 14, 30, 45, 0, time.FixedZone("CEST", 2*3600)), want: "2024-03-01T12:30:45.000Z"},
		{name: "list", value: []string{"a", "b", "c"}, want: "a,b,c"},
		{name: "empty-list", value: []string{}, want: ""},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if got := Stringer(testCase.value); got != testCase.want {
				t.Fatalf("expected %q, got %q", testCase.want, got)
			}
		})
	}
}

func TestCastEmptyCellsYieldZeroValues(t *testing.T) {
	testCases := []struct {
		field Field
		check func(value any) bool
	}{
		{field: Field{Name: "s", Type: FieldString}, check: func(value any) bool { return value == "" }},
		{field: Field{Name: "n", Type: FieldNumber}, check: func(value any) bool { return value == int64(0) }},
		{field: Field{Name: "b", Type: FieldBoolean}, check: func(value any) bool { return value == false }},
		{field: Field{Name: "d", Type: FieldDate}, check: func(value any) bool { return value.(time.Time).IsZero() }},
		{field: Field{Name: "l", Type: FieldList}, check: func(value any) bool { return len(value.([]string)) == 0 }},
	}
	for _, testCase := range testCases {
		t.Run(testCase.field.Type.String(), func(t *testing.T) {
			for _, raw := range []string{"", EmptyCell} {
				value, err := Cast(testCase.field, raw)
				if err != nil {
					t.Fatalf("unexpected cast error for %q: %v", raw, err)
				}
				if !testCase.check(value) {
					t.Fatalf("unexpected zero value %#v for %q", value, raw)
				}
			}
		})
	}
}

func TestCastNumbers(t *testing.T) {
	field := Field{Name: "score", Type: FieldNumber}
	testCases := []struct {
		raw  string
		want any
	}{
		{raw: "42", want: int64(42)},
		{raw: "-7", want: int64(-7)},
		{raw: "2.5", want: 2.5},
		{raw: "3.0", want: int64(3)},
		{raw: "1e3", want: int64(1000)},
	}
	for _, testCase := range testCases {
		value, err := Cast(field, testCase.raw)
		if err != nil {
			t.Fatalf("unexpected cast error for %q: %v", testCase.raw, err)
		}
		if value != testCase.want {
			t.Fatalf("cast %q: expected %#v, got %#v", testCase.raw, testCase.want, value)
		}
	}

	if _, err := Cast(field, "many"); !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("expected invalid value error, got %v", err)
	}
}

func TestCastBooleansPermissively(t *testing.T) {
	field := Field{Name: "locked", Type: FieldBoolean}
	for _, raw := range []string{"true", "TRUE", "yes", "Y", "1", "on", "x"} {
		value, err := Cast(field, raw)
		if err != nil || value != true {
			t.Fatalf("expected %q to be true, got %#v (%v)", raw, value, err)
		}
	}
	for _, raw := range []string{"false", "no", "0", "off", "maybe"} {
		value, err := Cast(field, raw)
		if err != nil || value != false {
			t.Fatalf("expected %q to be false, got %#v (%v)", raw, value, err)
		}
	}
}

func TestCastDates(t *testing.T) {
	field := Field{Name: UpdatedField, Type: FieldDate}
	value, err := Cast(field, "2024-03-01T12:30:45.123Z")
	if err != nil {
		t.Fatalf("unexpected cast error: %v", err)
	}
	want := time.Date(2024, 3, 1, 12, 30, 45, 123000000, time.UTC)
	if !value.(time.Time).Equal(want) {
		t.Fatalf("expected %v, got %v", want, value)
	}
	if _, err := Cast(field, "last tuesday"); !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("expected invalid value error, got %v", err)
	}
}

func TestCastListsSplitOnComma(t *testing.T) {
	value, err := Cast(Field{Name: "members", Type: FieldList}, "ann,bea,cid")
	if err != nil {
		t.Fatalf("unexpected cast error: %v", err)
	}
	items := value.([]string)
	if len(items) != 3 || items[0] != "ann" || items[2] != "cid" {
		t.Fatalf("unexpected list %v", items)
	}
}
