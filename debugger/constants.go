package debugger

// TUI Display Update Constants
const (
	// DisplayUpdateFrequency controls how often the TUI display updates during continuous execution
	// (every N cycles to keep display responsive without overwhelming the terminal)
	DisplayUpdateFrequency = 100
)

// Code View Context Constants
const (
	// CodeContextLinesBefore is the default number of lines to show before Z in the full code view
	CodeContextLinesBefore = 20

	// CodeContextLinesAfter is the default number of lines to show after Z in the full code view
	CodeContextLinesAfter = 80

	// CodeContextLinesBeforeCompact is the number of lines to show before Z in compact views
	CodeContextLinesBeforeCompact = 5

	// CodeContextLinesAfterCompact is the number of lines to show after Z in compact views
	CodeContextLinesAfterCompact = 10
)

// Memory Display Constants
const (
	// MemoryDisplayRows is the number of rows to show in the erasable-memory word dump view
	MemoryDisplayRows = 16

	// MemoryDisplayColumns is the number of 15-bit words shown per row in the memory dump view
	MemoryDisplayColumns = 8
)

// Register Display Constants
const (
	// RegisterViewRows is a register-panel height; tui.go does not use it and
	// gives its register view a fixed height of 10 rows
	RegisterViewRows = 9

	// RegisterGroupSize is a registers-per-row count; tui.go does not use it
	// and lists one register per line
	RegisterGroupSize = 4
)

// Channel Display Constants
const (
	// ChannelDisplayRows is a channel-panel row count; tui.go does not use it,
	// and its channel view takes the remaining height of its column
	ChannelDisplayRows = 12
)
