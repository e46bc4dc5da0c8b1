package sheets

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/hackboard/backend/internal/rowstore"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	headerPosition = 1
	firstDataRow   = 2

	opStoreNew   = "sheets.store.new"
	opEnsureTab  = "sheets.ensure_tab"
	opListTabs   = "sheets.list_tabs"
	opReadTab    = "sheets.read_tab"
	opReadRow    = "sheets.read_row"
	opAppendRow  = "sheets.append_row"
	opReplaceRow = "sheets.replace_row"
	opDeleteRow  = "sheets.delete_row"

	reasonMissingDatabase = "missing_database"
	reasonInvalidInput    = "invalid_input"
	reasonTabNotFound     = "tab_not_found"
	reasonRowNotFound     = "row_not_found"
	reasonHeaderConflict  = "header_conflict"
	reasonQueryFailed     = "query_failed"
	reasonEncodeFailed    = "encode_failed"
	reasonDecodeFailed    = "decode_failed"

	queryTab         = "tab = ?"
	queryTabPosition = "tab = ? AND position = ?"
	queryTabAfter    = "tab = ? AND position > ?"
	orderPositionAsc = "position ASC"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

var _ rowstore.Backend = (*Store)(nil)

// StoreError carries a dotted "<operation>.<reason>" code and the underlying cause.
type StoreError struct {
	code string
	err  error
}

func (e *StoreError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *StoreError) Unwrap() error {
	return e.err
}

// Code returns the dotted error code.
func (e *StoreError) Code() string {
	return e.code
}

func newStoreError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &StoreError{code: code, err: cause}
}

// StoreConfig describes the dependencies of a Store.
type StoreConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger
}

// Store keeps spreadsheet-like tabs in SQLite: ordered rows of string cells, header first.
// It has no conditional writes; callers detect staleness by reading before writing.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewStore constructs a Store over an already migrated database.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, newStoreError(opStoreNew, reasonMissingDatabase, errMissingDatabase)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Store{db: cfg.Database, logger: logger}, nil
}

// EnsureTab creates the tab with the given header, or verifies the header of an existing tab.
func (s *Store) EnsureTab(ctx context.Context, tab string, header []string) error {
	name, err := NewTabName(tab)
	if err != nil {
		return newStoreError(opEnsureTab, reasonInvalidInput, err)
	}
	if len(header) == 0 {
		return newStoreError(opEnsureTab, reasonInvalidInput, fmt.Errorf("%w: empty", ErrInvalidHeader))
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.loadHeader(tx, opEnsureTab, name)
		if err == nil {
			if !equalCells(existing, header) {
				err := fmt.Errorf("%w: tab %s has header %v", ErrInvalidHeader, name, existing)
				return newStoreError(opEnsureTab, reasonHeaderConflict, err)
			}
			return nil
		}
		if !errors.Is(err, ErrTabNotFound) {
			return err
		}
		payload, err := encodeCells(header)
		if err != nil {
			return newStoreError(opEnsureTab, reasonEncodeFailed, err)
		}
		record := SheetRow{Tab: name.String(), Position: headerPosition, CellsJSON: payload}
		if err := tx.Create(&record).Error; err != nil {
			s.logError(opEnsureTab, reasonQueryFailed, err, zap.String("tab", name.String()))
			return newStoreError(opEnsureTab, reasonQueryFailed, err)
		}
		s.logger.Info("tab created", zap.String("tab", name.String()), zap.Strings("header", header))
		return nil
	})
}

// Tabs lists every tab name in lexical order.
func (s *Store) Tabs(ctx context.Context) ([]string, error) {
	var names []string
	err := s.db.WithContext(ctx).
		Model(&SheetRow{}).
		Where("position = ?", headerPosition).
		Order("tab ASC").
		Pluck("tab", &names).Error
	if err != nil {
		s.logError(opListTabs, reasonQueryFailed, err)
		return nil, newStoreError(opListTabs, reasonQueryFailed, err)
	}
	return names, nil
}

// ReadTab returns every row of the tab, header first.
func (s *Store) ReadTab(ctx context.Context, tab string) ([][]string, error) {
	name, err := NewTabName(tab)
	if err != nil {
		return nil, newStoreError(opReadTab, reasonInvalidInput, err)
	}
	return s.readTab(s.db.WithContext(ctx), opReadTab, name)
}

// ReadRow returns the cells at position, or nil when the tab has no such row.
func (s *Store) ReadRow(ctx context.Context, tab string, position int) ([]string, error) {
	name, err := NewTabName(tab)
	if err != nil {
		return nil, newStoreError(opReadRow, reasonInvalidInput, err)
	}
	if position < headerPosition {
		return nil, newStoreError(opReadRow, reasonInvalidInput, fmt.Errorf("%w: %d", ErrInvalidPosition, position))
	}

	var cells []string
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.loadHeader(tx, opReadRow, name); err != nil {
			return err
		}
		record, err := s.takeRow(tx, opReadRow, name, position)
		if errors.Is(err, ErrRowNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		cells, err = s.decode(opReadRow, record)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cells, nil
}

// AppendRow stores cells after the last row of the tab, fitted to the header width.
// The returned position is authoritative; target is only compared for logging.
func (s *Store) AppendRow(ctx context.Context, tab string, target int, cells []string) (rowstore.AppendResult, error) {
	name, err := NewTabName(tab)
	if err != nil {
		return rowstore.AppendResult{}, newStoreError(opAppendRow, reasonInvalidInput, err)
	}

	var result rowstore.AppendResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		header, err := s.loadHeader(tx, opAppendRow, name)
		if err != nil {
			return err
		}
		var last int
		if err := tx.Model(&SheetRow{}).
			Where(queryTab, name.String()).
			Select("COALESCE(MAX(position), 0)").
			Scan(&last).Error; err != nil {
			s.logError(opAppendRow, reasonQueryFailed, err, zap.String("tab", name.String()))
			return newStoreError(opAppendRow, reasonQueryFailed, err)
		}
		stored := normalizeCells(cells, len(header))
		payload, err := encodeCells(stored)
		if err != nil {
			return newStoreError(opAppendRow, reasonEncodeFailed, err)
		}
		record := SheetRow{Tab: name.String(), Position: last + 1, CellsJSON: payload}
		if err := tx.Create(&record).Error; err != nil {
			s.logError(opAppendRow, reasonQueryFailed, err, zap.String("tab", name.String()))
			return newStoreError(opAppendRow, reasonQueryFailed, err)
		}
		result = rowstore.AppendResult{Position: record.Position, Values: stored}
		return nil
	})
	if err != nil {
		return rowstore.AppendResult{}, err
	}
	if target != result.Position {
		s.logger.Debug("row appended away from target",
			zap.String("tab", name.String()),
			zap.Int("target_row", target),
			zap.Int("stored_row", result.Position))
	}
	return result, nil
}

// ReplaceRow overwrites the data row at position and returns the stored cells.
func (s *Store) ReplaceRow(ctx context.Context, tab string, position int, cells []string) ([]string, error) {
	name, err := NewTabName(tab)
	if err != nil {
		return nil, newStoreError(opReplaceRow, reasonInvalidInput, err)
	}
	if position < firstDataRow {
		return nil, newStoreError(opReplaceRow, reasonInvalidInput, fmt.Errorf("%w: %d", ErrInvalidPosition, position))
	}

	var stored []string
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		header, err := s.loadHeader(tx, opReplaceRow, name)
		if err != nil {
			return err
		}
		record, err := s.takeRow(tx, opReplaceRow, name, position)
		if err != nil {
			return err
		}
		stored = normalizeCells(cells, len(header))
		payload, err := encodeCells(stored)
		if err != nil {
			return newStoreError(opReplaceRow, reasonEncodeFailed, err)
		}
		if err := tx.Model(&record).Update("cells_json", payload).Error; err != nil {
			s.logError(opReplaceRow, reasonQueryFailed, err, zap.String("tab", name.String()), zap.Int("row", position))
			return newStoreError(opReplaceRow, reasonQueryFailed, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// DeleteRow removes the data row at position, shifts later rows up and returns the remaining tab.
func (s *Store) DeleteRow(ctx context.Context, tab string, position int) ([][]string, error) {
	name, err := NewTabName(tab)
	if err != nil {
		return nil, newStoreError(opDeleteRow, reasonInvalidInput, err)
	}
	if position < firstDataRow {
		return nil, newStoreError(opDeleteRow, reasonInvalidInput, fmt.Errorf("%w: %d", ErrInvalidPosition, position))
	}

	var values [][]string
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.loadHeader(tx, opDeleteRow, name); err != nil {
			return err
		}
		deleted := tx.Where(queryTabPosition, name.String(), position).Delete(&SheetRow{})
		if deleted.Error != nil {
			s.logError(opDeleteRow, reasonQueryFailed, deleted.Error, zap.String("tab", name.String()), zap.Int("row", position))
			return newStoreError(opDeleteRow, reasonQueryFailed, deleted.Error)
		}
		if deleted.RowsAffected == 0 {
			return newStoreError(opDeleteRow, reasonRowNotFound, fmt.Errorf("%w: %s row %d", ErrRowNotFound, name, position))
		}
		if err := tx.Model(&SheetRow{}).
			Where(queryTabAfter, name.String(), position).
			Update("position", gorm.Expr("position - 1")).Error; err != nil {
			s.logError(opDeleteRow, reasonQueryFailed, err, zap.String("tab", name.String()), zap.Int("row", position))
			return newStoreError(opDeleteRow, reasonQueryFailed, err)
		}
		values, err = s.readTab(tx, opDeleteRow, name)
		return err
	})
	if err != nil {
		return nil, err
	}
	return values, nil
}

func (s *Store) readTab(tx *gorm.DB, operation string, name TabName) ([][]string, error) {
	var records []SheetRow
	if err := tx.Where(queryTab, name.String()).Order(orderPositionAsc).Find(&records).Error; err != nil {
		s.logError(operation, reasonQueryFailed, err, zap.String("tab", name.String()))
		return nil, newStoreError(operation, reasonQueryFailed, err)
	}
	if len(records) == 0 || records[0].Position != headerPosition {
		return nil, newStoreError(operation, reasonTabNotFound, fmt.Errorf("%w: %s", ErrTabNotFound, name))
	}
	values := make([][]string, 0, len(records))
	for _, record := range records {
		cells, err := s.decode(operation, record)
		if err != nil {
			return nil, err
		}
		values = append(values, cells)
	}
	return values, nil
}

func (s *Store) loadHeader(tx *gorm.DB, operation string, name TabName) ([]string, error) {
	record, err := s.takeRow(tx, operation, name, headerPosition)
	if errors.Is(err, ErrRowNotFound) {
		return nil, newStoreError(operation, reasonTabNotFound, fmt.Errorf("%w: %s", ErrTabNotFound, name))
	}
	if err != nil {
		return nil, err
	}
	return s.decode(operation, record)
}

func (s *Store) takeRow(tx *gorm.DB, operation string, name TabName, position int) (SheetRow, error) {
	var record SheetRow
	err := tx.Where(queryTabPosition, name.String(), position).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return SheetRow{}, newStoreError(operation, reasonRowNotFound, fmt.Errorf("%w: %s row %d", ErrRowNotFound, name, position))
	}
	if err != nil {
		s.logError(operation, reasonQueryFailed, err, zap.String("tab", name.String()), zap.Int("row", position))
		return SheetRow{}, newStoreError(operation, reasonQueryFailed, err)
	}
	return record, nil
}

func (s *Store) decode(operation string, record SheetRow) ([]string, error) {
	cells, err := decodeCells(record.CellsJSON)
	if err != nil {
		s.logError(operation, reasonDecodeFailed, err, zap.String("tab", record.Tab), zap.Int("row", record.Position))
		return nil, newStoreError(operation, reasonDecodeFailed, err)
	}
	return cells, nil
}

func (s *Store) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("sheet store error", attrs...)
}

func equalCells(left, right []string) bool {
	if len(left) != len(right) {
		return false
	}
	for index := range left {
		if left[index] != right[index] {
			return false
		}
	}
	return true
}
