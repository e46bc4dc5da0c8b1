package rowstore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

var (
	testClockNow = time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)

	peopleShape = MustShape(
		Field{Name: IDField, Type: FieldString},
		Field{Name: "name", Type: FieldString},
		Field{Name: UpdatedField, Type: FieldDate},
	)
)

type staticIDGenerator struct {
	ids   []string
	index int
}

func (g *staticIDGenerator) NewID() (string, error) {
	if g.index >= len(g.ids) {
		return "", errors.New("exhausted ids")
	}
	id := g.ids[g.index]
	g.index++
	return id, nil
}

// memoryBackend keeps tabs as raw cell grids, header at index 0.
type memoryBackend struct {
	tabs         map[string][][]string
	calls        []string
	beforeAppend func(tab string)
	appendResult *AppendResult
	replaceEmpty bool
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{tabs: make(map[string][][]string)}
}

func (b *memoryBackend) ReadTab(_ context.Context, tab string) ([][]string, error) {
	b.calls = append(b.calls, "read_tab")
	values, ok := b.tabs[tab]
	if !ok {
		return nil, fmt.Errorf("tab %s not found", tab)
	}
	return copyGrid(values), nil
}

func (b *memoryBackend) ReadRow(_ context.Context, tab string, position int) ([]string, error) {
	b.calls = append(b.calls, "read_row")
	values := b.tabs[tab]
	if position < 1 || position > len(values) {
		return nil, nil
	}
	return append([]string(nil), values[position-1]...), nil
}

func (b *memoryBackend) AppendRow(_ context.Context, tab string, _ int, cells []string) (AppendResult, error) {
	b.calls = append(b.calls, "append_row")
	if b.beforeAppend != nil {
		b.beforeAppend(tab)
	}
	if b.appendResult != nil {
		return *b.appendResult, nil
	}
	b.tabs[tab] = append(b.tabs[tab], append([]string(nil), cells...))
	return AppendResult{Position: len(b.tabs[tab]), Values: append([]string(nil), cells...)}, nil
}

func (b *memoryBackend) ReplaceRow(_ context.Context, tab string, position int, cells []string) ([]string, error) {
	b.calls = append(b.calls, "replace_row")
	values := b.tabs[tab]
	if position < 2 || position > len(values) {
		return nil, fmt.Errorf("row %d not found", position)
	}
	if b.replaceEmpty {
		return nil, nil
	}
	values[position-1] = append([]string(nil), cells...)
	return append([]string(nil), cells...), nil
}

func (b *memoryBackend) DeleteRow(_ context.Context, tab string, position int) ([][]string, error) {
	b.calls = append(b.calls, "delete_row")
	values := b.tabs[tab]
	if position < 2 || position > len(values) {
		return nil, fmt.Errorf("row %d not found", position)
	}
	b.tabs[tab] = append(values[:position-1:position-1], values[position:]...)
	return copyGrid(b.tabs[tab]), nil
}

func (b *memoryBackend) called(name string) bool {
	for _, call := range b.calls {
		if call == name {
			return true
		}
	}
	return false
}

func copyGrid(values [][]string) [][]string {
	grid := make([][]string, len(values))
	for index, cells := range values {
		grid[index] = append([]string(nil), cells...)
	}
	return grid
}

func stamp(moment time.Time) string {
	return Stringer(moment)
}

// newPeopleTable seeds the people tab with one row per name, ids "p-<n>" and update time T0.
func newPeopleTable(t *testing.T, backend *memoryBackend, names ...string) *Table {
	t.Helper()
	values := [][]string{{IDField, "name", UpdatedField}}
	for index, name := range names {
		values = append(values, []string{fmt.Sprintf("p-%d", index+1), name, stamp(testClockNow.Add(-time.Hour))})
	}
	backend.tabs["people"] = values
	table, err := LoadTable(context.Background(), TableConfig{
		Name:       "people",
		Shape:      peopleShape,
		Backend:    backend,
		Clock:      func() time.Time { return testClockNow },
		IDProvider: &staticIDGenerator{ids: []string{"generated-1", "generated-2"}},
	})
	if err != nil {
		t.Fatalf("failed to load table: %v", err)
	}
	backend.calls = nil
	return table
}

func assertIndexConsistent(t *testing.T, table *Table) {
	t.Helper()
	if len(table.index) != len(table.rows) {
		t.Fatalf("index holds %d entries for %d rows", len(table.index), len(table.rows))
	}
	for offset, row := range table.rows {
		if table.index[row.ID()] != row {
			t.Fatalf("index entry for %q does not point at row %d", row.ID(), offset)
		}
		if row.Position() != offset+firstDataRow {
			t.Fatalf("row %q at offset %d has position %d", row.ID(), offset, row.Position())
		}
	}
}
