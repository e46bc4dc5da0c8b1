package rowstore

import "context"

// AppendResult is the backend's answer to an append: the authoritative position and stored cells.
type AppendResult struct {
	Position int
	Values   []string
}

// Backend is the remote tabular store a Table mirrors. Positions are 1-based and row 1 is the header.
// Implementations own retries; a Table never retries a call.
type Backend interface {
	// ReadTab returns every row of the tab, header first.
	ReadTab(ctx context.Context, tab string) ([][]string, error)
	// ReadRow returns the cells at position, or nil when the row does not exist.
	ReadRow(ctx context.Context, tab string, position int) ([]string, error)
	// AppendRow stores cells after the last row. target is the position the caller expects.
	AppendRow(ctx context.Context, tab string, target int, cells []string) (AppendResult, error)
	// ReplaceRow overwrites the row at position and returns the stored cells.
	ReplaceRow(ctx context.Context, tab string, position int, cells []string) ([]string, error)
	// DeleteRow removes the row at position and returns the remaining tab, header first.
	DeleteRow(ctx context.Context, tab string, position int) ([][]string, error)
}
