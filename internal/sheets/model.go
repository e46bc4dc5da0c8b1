package sheets

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const maxTabNameLength = 190

var (
	// ErrTabNotFound indicates that no header row exists for the tab.
	ErrTabNotFound = errors.New("sheets: tab not found")
	// ErrRowNotFound indicates that no row exists at the requested position.
	ErrRowNotFound = errors.New("sheets: row not found")
	// ErrInvalidPosition indicates a position that cannot address a data row.
	ErrInvalidPosition = errors.New("sheets: invalid position")
	// ErrInvalidTabName indicates that a tab name is empty or exceeds storage bounds.
	ErrInvalidTabName = errors.New("sheets: invalid tab name")
	// ErrInvalidHeader indicates an empty header or one that conflicts with the stored header.
	ErrInvalidHeader = errors.New("sheets: invalid header")
)

// SheetRow stores one physical row of a tab. Position 1 is the header.
type SheetRow struct {
	RowID     int64  `gorm:"column:row_id;primaryKey;autoIncrement"`
	Tab       string `gorm:"column:tab;size:190;not null;index:idx_sheet_rows_tab_position,priority:1"`
	Position  int    `gorm:"column:position;not null;index:idx_sheet_rows_tab_position,priority:2"`
	CellsJSON string `gorm:"column:cells_json;type:text;not null"`
}

// TableName provides the explicit table binding for GORM.
func (SheetRow) TableName() string {
	return "sheet_rows"
}

// TabName represents a validated tab identifier.
type TabName string

// NewTabName validates raw input and returns a TabName.
func NewTabName(rawInput string) (TabName, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidTabName)
	}
	if len(trimmed) > maxTabNameLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidTabName, maxTabNameLength)
	}
	return TabName(trimmed), nil
}

// String returns the underlying tab name.
func (name TabName) String() string {
	return string(name)
}

func encodeCells(cells []string) (string, error) {
	if cells == nil {
		cells = []string{}
	}
	payload, err := json.Marshal(cells)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

func decodeCells(payload string) ([]string, error) {
	var cells []string
	if err := json.Unmarshal([]byte(payload), &cells); err != nil {
		return nil, err
	}
	if cells == nil {
		cells = []string{}
	}
	return cells, nil
}

// normalizeCells fits a data row to the header width.
func normalizeCells(cells []string, width int) []string {
	normalized := make([]string, width)
	copy(normalized, cells)
	return normalized
}
