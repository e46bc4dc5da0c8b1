package rowstore

import (
	"fmt"
	"strings"
)

// FieldType tags how a field is cast from and serialized to wire cells.
type FieldType int

const (
	// FieldString holds plain text.
	FieldString FieldType = iota
	// FieldNumber holds an int64 when integral, a float64 otherwise.
	FieldNumber
	// FieldBoolean holds a bool parsed permissively.
	FieldBoolean
	// FieldDate holds a time.Time serialized as ISO-8601.
	FieldDate
	// FieldList holds a []string serialized comma-joined.
	FieldList
)

// String returns the tag name.
func (t FieldType) String() string {
	switch t {
	case FieldString:
		return "string"
	case FieldNumber:
		return "number"
	case FieldBoolean:
		return "boolean"
	case FieldDate:
		return "date"
	case FieldList:
		return "list"
	default:
		return fmt.Sprintf("field_type(%d)", int(t))
	}
}

const (
	// IDField names the identity column every shape carries.
	IDField = "id"
	// UpdatedField names the last-write timestamp column every shape carries.
	UpdatedField = "updated"

	internalMarker = "_"
	computedMarker = "$"
)

// Field declares one named, typed member of a record shape.
type Field struct {
	Name string
	Type FieldType
}

// Internal reports whether the field is kept in memory only.
func (f Field) Internal() bool {
	return strings.HasPrefix(f.Name, internalMarker)
}

// Computed reports whether the field is derived and never persisted.
func (f Field) Computed() bool {
	return strings.HasPrefix(f.Name, computedMarker)
}

// Shape is the declared layout of a record: its fields, their types and the wire header order.
type Shape struct {
	fields []Field
	byName map[string]Field
	header []string
}

// NewShape validates the declared fields and derives the wire header.
// Field order is preserved; internal and computed fields are excluded from the header.
func NewShape(fields ...Field) (*Shape, error) {
	byName := make(map[string]Field, len(fields))
	header := make([]string, 0, len(fields))
	for _, field := range fields {
		name := strings.TrimSpace(field.Name)
		if name == "" || name != field.Name {
			return nil, fmt.Errorf("%w: invalid field name %q", ErrInvalidShape, field.Name)
		}
		if _, exists := byName[name]; exists {
			return nil, fmt.Errorf("%w: duplicate field %q", ErrInvalidShape, name)
		}
		if field.Type < FieldString || field.Type > FieldList {
			return nil, fmt.Errorf("%w: field %q has unknown type %d", ErrInvalidShape, name, int(field.Type))
		}
		byName[name] = field
		if !field.Internal() && !field.Computed() {
			header = append(header, name)
		}
	}
	if field, ok := byName[IDField]; !ok || field.Type != FieldString {
		return nil, fmt.Errorf("%w: %q must be a string field", ErrInvalidShape, IDField)
	}
	if field, ok := byName[UpdatedField]; !ok || field.Type != FieldDate {
		return nil, fmt.Errorf("%w: %q must be a date field", ErrInvalidShape, UpdatedField)
	}
	return &Shape{
		fields: append([]Field(nil), fields...),
		byName: byName,
		header: header,
	}, nil
}

// MustShape is NewShape for package-level shape declarations.
func MustShape(fields ...Field) *Shape {
	shape, err := NewShape(fields...)
	if err != nil {
		panic(err)
	}
	return shape
}

// Header returns the persisted column order.
func (s *Shape) Header() []string {
	return append([]string(nil), s.header...)
}

// Fields returns every declared field, including internal and computed ones.
func (s *Shape) Fields() []Field {
	return append([]Field(nil), s.fields...)
}

// Field looks up a declared field by its case-sensitive name.
func (s *Shape) Field(name string) (Field, bool) {
	field, ok := s.byName[name]
	return field, ok
}

// NewRow returns an unpersisted row with every field at its zero value.
func (s *Shape) NewRow() *Row {
	row := &Row{
		shape:  s,
		values: make(map[string]any, len(s.fields)),
	}
	for _, field := range s.fields {
		row.values[field.Name] = zeroValue(field.Type)
	}
	return row
}

func (s *Shape) matchesHeader(header []string) bool {
	if len(header) != len(s.header) {
		return false
	}
	for index, name := range s.header {
		if header[index] != name {
			return false
		}
	}
	return true
}
