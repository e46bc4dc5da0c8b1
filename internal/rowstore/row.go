package rowstore

import (
	"fmt"
	"time"

	"github.com/spf13/cast"
)

// Action is the pending mutation tagged on a row.
type Action int

const (
	// ActionNone marks a row with nothing pending.
	ActionNone Action = iota
	// ActionCreate marks a row waiting for its first persist.
	ActionCreate
	// ActionUpdate marks a persisted row with local edits.
	ActionUpdate
	// ActionDelete marks a persisted row scheduled for removal.
	ActionDelete
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionCreate:
		return "create"
	case ActionUpdate:
		return "update"
	case ActionDelete:
		return "delete"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Row is one typed record of a shape, with its backend position and pending action.
// A row belongs to at most one Table.
type Row struct {
	shape    *Shape
	owner    *Table
	position int
	action   Action
	values   map[string]any
}

// Shape returns the record shape of the row.
func (r *Row) Shape() *Shape {
	return r.shape
}

// Position returns the 1-based backend row number, or 0 when the row was never persisted.
func (r *Row) Position() int {
	return r.position
}

// ID returns the identity field.
func (r *Row) ID() string {
	return r.Text(IDField)
}

// UpdatedAt returns the last-write timestamp; the zero time means unset.
func (r *Row) UpdatedAt() time.Time {
	return r.Time(UpdatedField)
}

// PendingAction derives Create for unpersisted rows without an explicit action.
func (r *Row) PendingAction() Action {
	if r.action == ActionNone && r.position == 0 {
		return ActionCreate
	}
	return r.action
}

// SetCreate tags the row for creation. It fails on a persisted row.
func (r *Row) SetCreate() bool {
	if r.position != 0 {
		return false
	}
	r.action = ActionCreate
	return true
}

// SetUpdate tags the row for update. It fails on an unpersisted row.
func (r *Row) SetUpdate() bool {
	if r.position == 0 {
		return false
	}
	r.action = ActionUpdate
	return true
}

// SetDelete tags the row for deletion. It fails on an unpersisted row.
func (r *Row) SetDelete() bool {
	if r.position == 0 {
		return false
	}
	r.action = ActionDelete
	return true
}

// Get returns the raw typed value of a field.
func (r *Row) Get(name string) (any, bool) {
	if _, ok := r.shape.Field(name); !ok {
		return nil, false
	}
	return r.values[name], true
}

// Text returns a field as a string.
func (r *Row) Text(name string) string {
	value, _ := r.Get(name)
	if value == nil {
		return ""
	}
	if text, ok := value.(string); ok {
		return text
	}
	if cell := Stringer(value); cell != EmptyCell {
		return cell
	}
	return ""
}

// Int returns a numeric field truncated to an integer.
func (r *Row) Int(name string) int64 {
	value, _ := r.Get(name)
	return cast.ToInt64(value)
}

// Float returns a numeric field as a float.
func (r *Row) Float(name string) float64 {
	value, _ := r.Get(name)
	return cast.ToFloat64(value)
}

// Bool returns a boolean field.
func (r *Row) Bool(name string) bool {
	value, _ := r.Get(name)
	flag, _ := value.(bool)
	return flag
}

// Time returns a date field; the zero time means unset.
func (r *Row) Time(name string) time.Time {
	value, _ := r.Get(name)
	moment, _ := value.(time.Time)
	return moment
}

// List returns a copy of a list field.
func (r *Row) List(name string) []string {
	value, _ := r.Get(name)
	items, _ := value.([]string)
	return append([]string{}, items...)
}

// Set coerces value to the field's type and stores it. A nil value marks the field absent.
func (r *Row) Set(name string, value any) error {
	field, ok := r.shape.Field(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
	coerced, err := coerce(field, value)
	if err != nil {
		return err
	}
	r.values[name] = coerced
	return nil
}

// Prepare is the pre-save step: it assigns an id when empty and stamps the update time.
func (r *Row) Prepare(now time.Time, ids IDProvider) error {
	if r.ID() == "" {
		if ids == nil {
			return fmt.Errorf("%w: id provider required", ErrMissingKey)
		}
		id, err := ids.NewID()
		if err != nil {
			return err
		}
		r.values[IDField] = id
	}
	r.values[UpdatedField] = normalizeTime(now)
	return nil
}

// Values serializes the persisted fields in header order.
func (r *Row) Values() []string {
	header := r.shape.header
	cells := make([]string, len(header))
	for index, name := range header {
		cells[index] = Stringer(r.values[name])
	}
	return cells
}

// AssignValues hydrates the row positionally from wire cells in header order.
// Cells beyond the end of the slice leave their fields untouched.
// Nothing is assigned when any cell fails to cast.
func (r *Row) AssignValues(cells []string) error {
	header := r.shape.header
	updates := make(map[string]any, len(header))
	for index, name := range header {
		if index >= len(cells) {
			break
		}
		field, _ := r.shape.Field(name)
		value, err := Cast(field, cells[index])
		if err != nil {
			return err
		}
		updates[name] = value
	}
	for name, value := range updates {
		r.values[name] = value
	}
	return nil
}

// AssignObject hydrates the row by field name. Unknown keys are ignored.
// Nothing is assigned when any value fails to coerce.
func (r *Row) AssignObject(source map[string]any) error {
	updates := make(map[string]any, len(source))
	for name, raw := range source {
		field, ok := r.shape.Field(name)
		if !ok {
			continue
		}
		value, err := coerce(field, raw)
		if err != nil {
			return err
		}
		updates[name] = value
	}
	for name, value := range updates {
		r.values[name] = value
	}
	return nil
}

// FromObject is AssignObject.
func (r *Row) FromObject(source map[string]any) error {
	return r.AssignObject(source)
}

// ToObject returns every declared field keyed by name. List values are copied.
func (r *Row) ToObject() map[string]any {
	object := make(map[string]any, len(r.values))
	for name, value := range r.values {
		if items, ok := value.([]string); ok {
			value = append([]string{}, items...)
		}
		object[name] = value
	}
	return object
}

// Clone returns a copy of the row with the same owner, position and action.
func (r *Row) Clone() *Row {
	clone := &Row{
		shape:    r.shape,
		owner:    r.owner,
		position: r.position,
		action:   r.action,
	}
	clone.values = r.ToObject()
	return clone
}

// Equal reports whether both rows share a shape and serialize every field identically.
func (r *Row) Equal(other *Row) bool {
	if r == nil || other == nil {
		return r == other
	}
	if r.shape != other.shape {
		return false
	}
	for _, field := range r.shape.fields {
		if Stringer(r.values[field.Name]) != Stringer(other.values[field.Name]) {
			return false
		}
	}
	return true
}

func (r *Row) key(column string) string {
	return r.Text(column)
}
