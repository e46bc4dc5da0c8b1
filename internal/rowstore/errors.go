package rowstore

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/multierr"
)

var (
	// ErrSchemaMismatch indicates that a tab's header differs from the record shape's header.
	ErrSchemaMismatch = errors.New("rowstore: schema mismatch")
	// ErrMissingKey indicates that a row's key field is empty when it must identify the row.
	ErrMissingKey = errors.New("rowstore: missing key")
	// ErrInvalidState indicates that a row's position or ownership forbids the operation.
	ErrInvalidState = errors.New("rowstore: invalid row state")
	// ErrConflict indicates that the backend row changed since the caller last read it.
	ErrConflict = errors.New("rowstore: conflict")
	// ErrPersistFailure indicates that the backend answered a write with an unusable response.
	ErrPersistFailure = errors.New("rowstore: persist failure")
	// ErrInvalidValue indicates that a value cannot be cast to its field type.
	ErrInvalidValue = errors.New("rowstore: invalid value")
	// ErrInvalidShape indicates that a record shape declaration is unusable.
	ErrInvalidShape = errors.New("rowstore: invalid shape")
	// ErrUnknownField indicates an access to a field the shape does not declare.
	ErrUnknownField = errors.New("rowstore: unknown field")
)

const (
	opNewTable      = "rowstore.new_table"
	opCreate        = "rowstore.create"
	opUpdate        = "rowstore.update"
	opDelete        = "rowstore.delete"
	opRefresh       = "rowstore.refresh"
	opCheckOutdated = "rowstore.check_outdated"

	reasonMissingBackend  = "missing_backend"
	reasonMissingShape    = "missing_shape"
	reasonUnknownKey      = "unknown_key_column"
	reasonSchemaMismatch  = "schema_mismatch"
	reasonInvalidRows     = "invalid_rows"
	reasonInvalidState    = "invalid_state"
	reasonForeignRow      = "foreign_row"
	reasonMissingKey      = "missing_key"
	reasonDuplicateKey    = "duplicate_key"
	reasonPrepareFailed   = "prepare_failed"
	reasonBackendFailed   = "backend_failed"
	reasonPersistFailure  = "persist_failure"
	reasonConflict        = "conflict"
	reasonRemoteRowBroken = "remote_row_invalid"
)

// TableError carries a dotted "<operation>.<reason>" code and the underlying cause.
type TableError struct {
	code string
	err  error
}

func (e *TableError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *TableError) Unwrap() error {
	return e.err
}

// Code returns the dotted error code.
func (e *TableError) Code() string {
	return e.code
}

func newTableError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &TableError{code: code, err: cause}
}

// Mismatch describes one difference between a caller's row and the backend's copy.
type Mismatch struct {
	Field  string
	Local  string
	Remote string
}

// MismatchRowMissing is the Field of a mismatch reporting that the backend row is gone.
const MismatchRowMissing = "row"

func (m Mismatch) Error() string {
	return fmt.Sprintf("%s changed: local %q, remote %q", m.Field, m.Local, m.Remote)
}

// ConflictError enumerates every mismatch found by a staleness check.
type ConflictError struct {
	Table    string
	Position int
	report   error
}

func newConflictError(table string, position int, mismatches []Mismatch) *ConflictError {
	var report error
	for _, mismatch := range mismatches {
		report = multierr.Append(report, mismatch)
	}
	return &ConflictError{Table: table, Position: position, report: report}
}

// Mismatches returns each mismatch in the order it was detected.
func (e *ConflictError) Mismatches() []Mismatch {
	errs := multierr.Errors(e.report)
	mismatches := make([]Mismatch, 0, len(errs))
	for _, err := range errs {
		var mismatch Mismatch
		if errors.As(err, &mismatch) {
			mismatches = append(mismatches, mismatch)
		}
	}
	return mismatches
}

func (e *ConflictError) Error() string {
	mismatches := e.Mismatches()
	parts := make([]string, 0, len(mismatches))
	for _, mismatch := range mismatches {
		parts = append(parts, mismatch.Error())
	}
	return fmt.Sprintf("%s: %s row %d is outdated: %s", ErrConflict.Error(), e.Table, e.Position, strings.Join(parts, "; "))
}

// Is lets errors.Is match ErrConflict.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}
