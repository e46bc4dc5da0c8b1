package rowstore

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// firstDataRow is the position of the first record: positions are 1-based and row 1 is the header.
const firstDataRow = 2

var noOpLogger = zap.NewNop()

// Snapshot is the raw content of a tab: its header and its data rows in position order.
type Snapshot struct {
	Header []string
	Rows   [][]string
}

// SnapshotFromValues splits a full tab read (header first) into a Snapshot.
func SnapshotFromValues(values [][]string) Snapshot {
	if len(values) == 0 {
		return Snapshot{}
	}
	return Snapshot{Header: values[0], Rows: values[1:]}
}

// TableConfig describes a Table mirror of one backend tab.
type TableConfig struct {
	Name       string
	Shape      *Shape
	KeyColumn  string
	Backend    Backend
	Snapshot   Snapshot
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Table is the in-memory mirror of one backend tab: rows in position order plus a key index.
// Every mutation is checked against the backend before it is written, and operations on one
// Table are serialized.
type Table struct {
	mu         sync.Mutex
	name       string
	shape      *Shape
	header     []string
	keyColumn  string
	backend    Backend
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger

	rows  []*Row
	index map[string]*Row

	displayOnce   sync.Once
	displayHeader []string
}

// NewTable types the snapshot rows, verifies the snapshot header against the shape and builds the index.
func NewTable(cfg TableConfig) (*Table, error) {
	if cfg.Backend == nil {
		return nil, newTableError(opNewTable, reasonMissingBackend, fmt.Errorf("%w: backend required", ErrInvalidState))
	}
	if cfg.Shape == nil {
		return nil, newTableError(opNewTable, reasonMissingShape, fmt.Errorf("%w: shape required", ErrInvalidShape))
	}
	keyColumn := strings.TrimSpace(cfg.KeyColumn)
	if keyColumn == "" {
		keyColumn = IDField
	}
	if field, ok := cfg.Shape.Field(keyColumn); !ok || field.Internal() || field.Computed() {
		return nil, newTableError(opNewTable, reasonUnknownKey, fmt.Errorf("%w: key column %q", ErrUnknownField, keyColumn))
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = NewUUIDProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	table := &Table{
		name:       cfg.Name,
		shape:      cfg.Shape,
		header:     cfg.Shape.Header(),
		keyColumn:  keyColumn,
		backend:    cfg.Backend,
		clock:      clock,
		idProvider: idProvider,
		logger:     logger,
	}

	rows, err := table.typeRows(cfg.Snapshot.Rows)
	if err != nil {
		table.logError(opNewTable, reasonInvalidRows, err)
		return nil, newTableError(opNewTable, reasonInvalidRows, err)
	}
	if !cfg.Shape.matchesHeader(cfg.Snapshot.Header) {
		err := schemaMismatch(cfg.Name, cfg.Shape.header, cfg.Snapshot.Header)
		table.logError(opNewTable, reasonSchemaMismatch, err)
		return nil, newTableError(opNewTable, reasonSchemaMismatch, err)
	}
	table.rows = rows
	table.rebuildIndex()
	return table, nil
}

// LoadTable reads the tab through the backend and builds a Table from it.
func LoadTable(ctx context.Context, cfg TableConfig) (*Table, error) {
	if cfg.Backend == nil {
		return nil, newTableError(opNewTable, reasonMissingBackend, fmt.Errorf("%w: backend required", ErrInvalidState))
	}
	values, err := cfg.Backend.ReadTab(ctx, cfg.Name)
	if err != nil {
		return nil, newTableError(opNewTable, reasonBackendFailed, err)
	}
	cfg.Snapshot = SnapshotFromValues(values)
	return NewTable(cfg)
}

// Name returns the backend tab name.
func (t *Table) Name() string {
	return t.name
}

// KeyColumn returns the field used for unique lookups.
func (t *Table) KeyColumn() string {
	return t.keyColumn
}

// Header returns the column order shared with the backend.
func (t *Table) Header() []string {
	return append([]string(nil), t.header...)
}

// DisplayHeader returns the declared field names without internal or computed columns, in
// declaration order. It is computed once.
func (t *Table) DisplayHeader() []string {
	t.displayOnce.Do(func() {
		fields := t.shape.Fields()
		display := make([]string, 0, len(fields))
		for _, field := range fields {
			if field.Internal() || field.Computed() {
				continue
			}
			display = append(display, field.Name)
		}
		t.displayHeader = display
	})
	return append([]string(nil), t.displayHeader...)
}

// NewRow returns an unpersisted row owned by this table.
func (t *Table) NewRow() *Row {
	row := t.shape.NewRow()
	row.owner = t
	return row
}

// Rows returns the mirrored rows in position order.
func (t *Table) Rows() []*Row {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Row(nil), t.rows...)
}

// Len returns the number of mirrored rows.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.rows)
}

// Get looks up a row by key column value.
func (t *Table) Get(key string) *Row {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.index[key]
}

// FindByPosition looks up a row by its backend position.
func (t *Table) FindByPosition(position int) *Row {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rowAt(position)
}

// Find looks up the first row whose column equals value. Falsy values (nil, "", 0, false) find nothing.
// With no column, a numeric value is a position and any other value is a key. The key column is
// served from the index; other columns are scanned.
func (t *Table) Find(value any, column string) *Row {
	if isFalsy(value) {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if column == "" {
		if position, ok := asPosition(value); ok {
			return t.rowAt(position)
		}
		column = t.keyColumn
	}
	wanted := Stringer(value)
	if column == t.keyColumn {
		return t.index[wanted]
	}
	if _, ok := t.shape.Field(column); !ok {
		return nil
	}
	for _, row := range t.rows {
		if row.key(column) == wanted {
			return row
		}
	}
	return nil
}

// Save creates unpersisted rows and updates persisted ones.
func (t *Table) Save(ctx context.Context, row *Row) (*Row, error) {
	if row != nil && row.Position() != 0 {
		return t.Update(ctx, row)
	}
	return t.Create(ctx, row)
}

// Create appends row to the backend and returns the mirrored row built from the stored cells.
// row itself is not modified. When the backend stores the row somewhere other than the next
// expected position, the whole tab is reloaded.
func (t *Table) Create(ctx context.Context, row *Row) (*Row, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.checkOwnership(opCreate, row); err != nil {
		return nil, err
	}
	if row.position > 0 {
		err := fmt.Errorf("%w: row at position %d cannot be created", ErrInvalidState, row.position)
		return nil, newTableError(opCreate, reasonInvalidState, err)
	}

	staged := row.Clone()
	if err := staged.Prepare(t.clock(), t.idProvider); err != nil {
		t.logError(opCreate, reasonPrepareFailed, err)
		return nil, newTableError(opCreate, reasonPrepareFailed, err)
	}
	key := staged.key(t.keyColumn)
	if key == "" {
		return nil, newTableError(opCreate, reasonMissingKey, fmt.Errorf("%w: %s", ErrMissingKey, t.keyColumn))
	}
	if t.index[key] != nil {
		err := fmt.Errorf("%w: %s %q already exists in %s", ErrInvalidState, t.keyColumn, key, t.name)
		return nil, newTableError(opCreate, reasonDuplicateKey, err)
	}

	nextRow := len(t.rows) + firstDataRow
	result, err := t.backend.AppendRow(ctx, t.name, nextRow, staged.Values())
	if err != nil {
		t.logError(opCreate, reasonBackendFailed, err, zap.Int("target_row", nextRow))
		return nil, newTableError(opCreate, reasonBackendFailed, err)
	}
	if result.Position < firstDataRow || len(result.Values) == 0 {
		err := fmt.Errorf("%w: append returned position %d with %d values", ErrPersistFailure, result.Position, len(result.Values))
		t.logError(opCreate, reasonPersistFailure, err)
		return nil, newTableError(opCreate, reasonPersistFailure, err)
	}
	created, err := t.typeRow(result.Values, result.Position)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrPersistFailure, err)
		t.logError(opCreate, reasonPersistFailure, err)
		return nil, newTableError(opCreate, reasonPersistFailure, err)
	}

	if result.Position == nextRow {
		t.rows = append(t.rows, created)
		t.rebuildIndex()
		return created, nil
	}

	t.logger.Info("row stored away from expected position, reloading tab",
		zap.String("tab", t.name),
		zap.Int("expected_row", nextRow),
		zap.Int("stored_row", result.Position))
	if _, err := t.refreshLocked(ctx, opCreate); err != nil {
		return nil, err
	}
	refreshed := t.index[created.key(t.keyColumn)]
	if refreshed == nil {
		err := fmt.Errorf("%w: created key %q missing after reload", ErrPersistFailure, created.key(t.keyColumn))
		t.logError(opCreate, reasonPersistFailure, err)
		return nil, newTableError(opCreate, reasonPersistFailure, err)
	}
	return refreshed, nil
}

// Update replaces the persisted row after confirming the backend copy is unchanged, and returns
// the mirrored row built from the stored cells. row itself is not modified.
func (t *Table) Update(ctx context.Context, row *Row) (*Row, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.checkOwnership(opUpdate, row); err != nil {
		return nil, err
	}
	key := row.key(t.keyColumn)
	if key == "" {
		return nil, newTableError(opUpdate, reasonMissingKey, fmt.Errorf("%w: %s", ErrMissingKey, t.keyColumn))
	}
	if row.position < firstDataRow {
		err := fmt.Errorf("%w: cannot update an unpersisted row", ErrInvalidState)
		return nil, newTableError(opUpdate, reasonInvalidState, err)
	}
	if current := t.rowAt(row.position); current != nil && current.key(t.keyColumn) != key {
		if holder := t.index[key]; holder != nil {
			err := fmt.Errorf("%w: %s %q belongs to row %d", ErrInvalidState, t.keyColumn, key, holder.position)
			return nil, newTableError(opUpdate, reasonDuplicateKey, err)
		}
	}
	if err := t.checkOutdatedLocked(ctx, row); err != nil {
		return nil, err
	}

	staged := row.Clone()
	if err := staged.Prepare(t.clock(), t.idProvider); err != nil {
		t.logError(opUpdate, reasonPrepareFailed, err)
		return nil, newTableError(opUpdate, reasonPrepareFailed, err)
	}
	cells, err := t.backend.ReplaceRow(ctx, t.name, row.position, staged.Values())
	if err != nil {
		t.logError(opUpdate, reasonBackendFailed, err, zap.Int("row", row.position))
		return nil, newTableError(opUpdate, reasonBackendFailed, err)
	}
	if len(cells) == 0 {
		err := fmt.Errorf("%w: replace returned no values for row %d", ErrPersistFailure, row.position)
		t.logError(opUpdate, reasonPersistFailure, err)
		return nil, newTableError(opUpdate, reasonPersistFailure, err)
	}
	updated, err := t.typeRow(cells, row.position)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrPersistFailure, err)
		t.logError(opUpdate, reasonPersistFailure, err)
		return nil, newTableError(opUpdate, reasonPersistFailure, err)
	}

	offset := row.position - firstDataRow
	if offset >= len(t.rows) {
		if _, err := t.refreshLocked(ctx, opUpdate); err != nil {
			return nil, err
		}
		if refreshed := t.index[updated.key(t.keyColumn)]; refreshed != nil {
			return refreshed, nil
		}
		err := fmt.Errorf("%w: updated key %q missing after reload", ErrPersistFailure, updated.key(t.keyColumn))
		t.logError(opUpdate, reasonPersistFailure, err)
		return nil, newTableError(opUpdate, reasonPersistFailure, err)
	}
	t.rows[offset] = updated
	t.rebuildIndex()
	return updated, nil
}

// Delete removes the persisted row after confirming the backend copy is unchanged, then reloads
// the mirror from the tab the backend returns. Unpersisted rows are rejected.
func (t *Table) Delete(ctx context.Context, row *Row) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.checkOwnership(opDelete, row); err != nil {
		return err
	}
	if row.position < firstDataRow {
		err := fmt.Errorf("%w: cannot delete an unpersisted row", ErrInvalidState)
		return newTableError(opDelete, reasonInvalidState, err)
	}
	if err := t.checkOutdatedLocked(ctx, row); err != nil {
		return err
	}

	values, err := t.backend.DeleteRow(ctx, t.name, row.position)
	if err != nil {
		t.logError(opDelete, reasonBackendFailed, err, zap.Int("row", row.position))
		return newTableError(opDelete, reasonBackendFailed, err)
	}
	rows, err := t.rowsFromValues(opDelete, values)
	if err != nil {
		return err
	}
	t.rows = rows
	t.rebuildIndex()
	return nil
}

// CheckOutdated compares row with the backend copy at its position. It returns a Conflict error
// listing every mismatch: a missing row, a changed update time or a changed key. Unpersisted rows
// are never outdated. The check is not atomic with any write that follows it.
func (t *Table) CheckOutdated(ctx context.Context, row *Row) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.checkOutdatedLocked(ctx, row)
}

// Refresh reloads every row from the backend, renumbering positions and rebuilding the index.
func (t *Table) Refresh(ctx context.Context) ([]*Row, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.refreshLocked(ctx, opRefresh)
}

func (t *Table) checkOutdatedLocked(ctx context.Context, row *Row) error {
	if row == nil || row.position < 1 {
		return nil
	}
	cells, err := t.backend.ReadRow(ctx, t.name, row.position)
	if err != nil {
		t.logError(opCheckOutdated, reasonBackendFailed, err, zap.Int("row", row.position))
		return newTableError(opCheckOutdated, reasonBackendFailed, err)
	}

	var mismatches []Mismatch
	if len(cells) == 0 {
		mismatches = append(mismatches, Mismatch{Field: MismatchRowMissing, Local: "present", Remote: "missing"})
	} else {
		remote, err := t.typeRow(cells, row.position)
		if err != nil {
			t.logError(opCheckOutdated, reasonRemoteRowBroken, err, zap.Int("row", row.position))
			return newTableError(opCheckOutdated, reasonRemoteRowBroken, err)
		}
		if !remote.UpdatedAt().Equal(row.UpdatedAt()) {
			mismatches = append(mismatches, Mismatch{
				Field:  UpdatedField,
				Local:  Stringer(row.UpdatedAt()),
				Remote: Stringer(remote.UpdatedAt()),
			})
		}
		if remote.key(t.keyColumn) != row.key(t.keyColumn) {
			mismatches = append(mismatches, Mismatch{
				Field:  t.keyColumn,
				Local:  row.key(t.keyColumn),
				Remote: remote.key(t.keyColumn),
			})
		}
	}
	if len(mismatches) == 0 {
		return nil
	}
	conflict := newConflictError(t.name, row.position, mismatches)
	t.logger.Warn("outdated row rejected",
		zap.String("tab", t.name),
		zap.Int("row", row.position),
		zap.Error(conflict))
	return newTableError(opCheckOutdated, reasonConflict, conflict)
}

func (t *Table) refreshLocked(ctx context.Context, operation string) ([]*Row, error) {
	values, err := t.backend.ReadTab(ctx, t.name)
	if err != nil {
		t.logError(operation, reasonBackendFailed, err)
		return nil, newTableError(operation, reasonBackendFailed, err)
	}
	rows, err := t.rowsFromValues(operation, values)
	if err != nil {
		return nil, err
	}
	t.rows = rows
	t.rebuildIndex()
	return append([]*Row(nil), rows...), nil
}

// rowsFromValues verifies the header of a full tab read and types the data rows.
func (t *Table) rowsFromValues(operation string, values [][]string) ([]*Row, error) {
	snapshot := SnapshotFromValues(values)
	if !t.shape.matchesHeader(snapshot.Header) {
		err := schemaMismatch(t.name, t.header, snapshot.Header)
		t.logError(operation, reasonSchemaMismatch, err)
		return nil, newTableError(operation, reasonSchemaMismatch, err)
	}
	rows, err := t.typeRows(snapshot.Rows)
	if err != nil {
		t.logError(operation, reasonInvalidRows, err)
		return nil, newTableError(operation, reasonInvalidRows, err)
	}
	return rows, nil
}

func (t *Table) typeRows(raw [][]string) ([]*Row, error) {
	rows := make([]*Row, 0, len(raw))
	for index, cells := range raw {
		row, err := t.typeRow(cells, index+firstDataRow)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (t *Table) typeRow(cells []string, position int) (*Row, error) {
	row := t.NewRow()
	if err := row.AssignValues(cells); err != nil {
		return nil, fmt.Errorf("row %d: %w", position, err)
	}
	row.position = position
	return row, nil
}

// rebuildIndex replaces the key index wholesale so no entry outlives its row.
func (t *Table) rebuildIndex() {
	index := make(map[string]*Row, len(t.rows))
	for _, row := range t.rows {
		if key := row.key(t.keyColumn); key != "" {
			index[key] = row
		}
	}
	t.index = index
}

func (t *Table) rowAt(position int) *Row {
	offset := position - firstDataRow
	if offset < 0 || offset >= len(t.rows) {
		return nil
	}
	return t.rows[offset]
}

func (t *Table) checkOwnership(operation string, row *Row) error {
	if row == nil {
		return newTableError(operation, reasonInvalidState, fmt.Errorf("%w: row required", ErrInvalidState))
	}
	if row.shape != t.shape {
		return newTableError(operation, reasonForeignRow, fmt.Errorf("%w: row shape differs from table %s", ErrInvalidState, t.name))
	}
	if row.owner != nil && row.owner != t {
		return newTableError(operation, reasonForeignRow, fmt.Errorf("%w: row belongs to another table", ErrInvalidState))
	}
	return nil
}

func (t *Table) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.String("tab", t.name),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	t.logger.Error("row store error", attrs...)
}

func schemaMismatch(tab string, want, got []string) error {
	return fmt.Errorf("%w: tab %s header %v, expected %v", ErrSchemaMismatch, tab, got, want)
}

func isFalsy(value any) bool {
	switch typed := value.(type) {
	case nil:
		return true
	case string:
		return typed == ""
	case bool:
		return !typed
	case float32:
		return typed == 0
	case float64:
		return typed == 0
	}
	if number, ok := asPosition(value); ok {
		return number == 0
	}
	return false
}

// asPosition reports integer-valued numbers as positions. Fractional floats are not positions.
func asPosition(value any) (int, bool) {
	switch typed := value.(type) {
	case int:
		return typed, true
	case int8:
		return int(typed), true
	case int16:
		return int(typed), true
	case int32:
		return int(typed), true
	case int64:
		return int(typed), true
	case uint:
		return int(typed), true
	case uint8:
		return int(typed), true
	case uint16:
		return int(typed), true
	case uint32:
		return int(typed), true
	case uint64:
		return int(typed), true
	case float32:
		return integralFloat(float64(typed))
	case float64:
		return integralFloat(typed)
	default:
		return 0, false
	}
}

func integralFloat(number float64) (int, bool) {
	if number != math.Trunc(number) || math.IsInf(number, 0) || math.Abs(number) > math.MaxInt32 {
		return 0, false
	}
	return int(number), true
}
