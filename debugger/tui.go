package debugger

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/agc-sim/agcsim/vm"
)

// TUI represents the text user interface for the debugger
type TUI struct {
	// Core components
	Debugger *Debugger
	App      *tview.Application
	Pages    *tview.Pages

	// Layout containers
	MainLayout *tview.Flex
	LeftPanel  *tview.Flex
	RightPanel *tview.Flex

	// View panels
	SourceView      *tview.TextView
	RegisterView    *tview.TextView
	MemoryView      *tview.TextView
	ChannelView     *tview.TextView
	DisassemblyView *tview.TextView
	BreakpointsView *tview.TextView
	OutputView      *tview.TextView
	CommandInput    *tview.InputField

	// State
	CurrentAddress uint32
	MemoryAddress  uint32
	Running        bool

	// Source code cache
	SourceLines []string
	SourceFile  string
}

// NewTUI creates a new text user interface
func NewTUI(debugger *Debugger) *TUI {
	tui := &TUI{
		Debugger:       debugger,
		App:            tview.NewApplication(),
		CurrentAddress: 0,
		MemoryAddress:  0,
		Running:        false,
	}

	tui.initializeViews()
	tui.buildLayout()
	tui.setupKeyBindings()

	return tui
}

// NewTUIWithScreen creates a TUI bound to a caller-supplied tcell screen,
// used by tests to drive the interface against a simulation screen instead
// of a real terminal.
func NewTUIWithScreen(debugger *Debugger, screen tcell.Screen) *TUI {
	tui := NewTUI(debugger)
	tui.App.SetScreen(screen)
	return tui
}

// initializeViews creates all the view panels
func (t *TUI) initializeViews() {
	// Source View
	t.SourceView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWrap(false)
	t.SourceView.SetBorder(true).SetTitle(" Source ")

	// Register View
	t.RegisterView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(false)
	t.RegisterView.SetBorder(true).SetTitle(" Registers ")

	// Memory View
	t.MemoryView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWrap(false)
	t.MemoryView.SetBorder(true).SetTitle(" Erasable Memory ")

	// Channel View
	t.ChannelView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWrap(false)
	t.ChannelView.SetBorder(true).SetTitle(" I/O Channels ")

	// Disassembly View
	t.DisassemblyView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWrap(false)
	t.DisassemblyView.SetBorder(true).SetTitle(" Disassembly ")

	// Breakpoints View
	t.BreakpointsView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWrap(false)
	t.BreakpointsView.SetBorder(true).SetTitle(" Breakpoints/Watchpoints ")

	// Output View
	t.OutputView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWrap(true)
	t.OutputView.SetBorder(true).SetTitle(" Output ")

	// Command Input
	t.CommandInput = tview.NewInputField().
		SetLabel("> ").
		SetFieldWidth(0)
	t.CommandInput.SetBorder(true).SetTitle(" Command ")
	t.CommandInput.SetDoneFunc(t.handleCommand)
}

// buildLayout constructs the TUI layout
func (t *TUI) buildLayout() {
	// Left panel: Source and Disassembly
	t.LeftPanel = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(t.SourceView, 0, 3, false).
		AddItem(t.DisassemblyView, 0, 2, false)

	// Right panel top: Registers, Memory, Channels
	rightTop := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(t.RegisterView, 10, 0, false).
		AddItem(t.MemoryView, 0, 1, false).
		AddItem(t.ChannelView, 0, 1, false)

	// Right panel: Top + Breakpoints
	t.RightPanel = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(rightTop, 0, 3, false).
		AddItem(t.BreakpointsView, 8, 0, false)

	// Main content: Left and Right panels
	mainContent := tview.NewFlex().
		SetDirection(tview.FlexColumn).
		AddItem(t.LeftPanel, 0, 2, false).
		AddItem(t.RightPanel, 0, 1, false)

	// Main layout: Content + Output + Command
	t.MainLayout = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(mainContent, 0, 4, false).
		AddItem(t.OutputView, 8, 0, false).
		AddItem(t.CommandInput, 3, 0, true)

	// Create pages for potential dialogs/modals
	t.Pages = tview.NewPages().
		AddPage("main", t.MainLayout, true, true)
}

// setupKeyBindings sets up keyboard shortcuts
func (t *TUI) setupKeyBindings() {
	// Global key handler
	t.App.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyF1:
			t.executeCommand("help")
			return nil
		case tcell.KeyF5:
			t.executeCommand("continue")
			return nil
		case tcell.KeyF9:
			t.executeCommand("break")
			return nil
		case tcell.KeyF10:
			t.executeCommand("next")
			return nil
		case tcell.KeyF11:
			t.executeCommand("step")
			return nil
		case tcell.KeyCtrlC:
			t.App.Stop()
			return nil
		case tcell.KeyCtrlL:
			t.RefreshAll()
			return nil
		}
		return event
	})
}

// handleCommand processes command input
func (t *TUI) handleCommand(key tcell.Key) {
	if key == tcell.KeyEnter {
		cmd := t.CommandInput.GetText()
		if cmd != "" {
			t.executeCommand(cmd)
			t.CommandInput.SetText("")
		}
	}
}

// executeCommand executes a debugger command
func (t *TUI) executeCommand(cmd string) {
	// Clear previous output
	t.Debugger.Output.Reset()

	// Execute command
	err := t.Debugger.ExecuteCommand(cmd)

	// Get output
	output := t.Debugger.GetOutput()

	// Display output
	if err != nil {
		t.WriteOutput(fmt.Sprintf("[red]Error:[white] %v\n", err))
	}
	if output != "" {
		t.WriteOutput(output)
	}

	// Refresh all views
	t.RefreshAll()
}

// WriteOutput writes to the output view
func (t *TUI) WriteOutput(text string) {
	_, _ = t.OutputView.Write([]byte(text)) // Ignore write errors in TUI
	t.OutputView.ScrollToEnd()
}

// RefreshAll refreshes all view panels
func (t *TUI) RefreshAll() {
	t.UpdateSourceView()
	t.UpdateRegisterView()
	t.UpdateMemoryView()
	t.UpdateChannelView()
	t.UpdateDisassemblyView()
	t.UpdateBreakpointsView()
	t.App.Draw()
}

// UpdateSourceView updates the source code view
func (t *TUI) UpdateSourceView() {
	t.SourceView.Clear()

	// If no source map, show message
	if len(t.Debugger.SourceMap) == 0 {
		t.SourceView.SetText("[yellow]No source map loaded[white]")
		return
	}

	z := uint32(t.Debugger.VM.CPU.Z)

	var lines []string
	startAddr := uint32(0)
	if z > CodeContextLinesBeforeCompact {
		startAddr = z - CodeContextLinesBeforeCompact
	}

	for addr := startAddr; addr < z+CodeContextLinesAfterCompact; addr++ {
		if sourceLine, exists := t.Debugger.SourceMap[addr]; exists {
			marker := "  "
			color := "white"
			if addr == z {
				marker = "->"
				color = "yellow"
			}

			if t.Debugger.Breakpoints.GetBreakpoint(addr) != nil {
				marker = "* "
			}

			line := fmt.Sprintf("[%s]%s %05o: %s[white]", color, marker, addr, sourceLine)
			lines = append(lines, line)
		}
	}

	t.SourceView.SetText(strings.Join(lines, "\n"))
}

// UpdateRegisterView updates the register view
func (t *TUI) UpdateRegisterView() {
	t.RegisterView.Clear()

	cpu := t.Debugger.VM.CPU
	var lines []string

	for _, name := range vm.RegisterNames() {
		value := cpu.GetRegister(registerIndex(name))
		lines = append(lines, fmt.Sprintf("%-2s: %05o", name, value))
	}

	lines = append(lines, "")

	alarms := t.Debugger.VM.Alarms
	ch77 := t.Debugger.VM.Channels.Read(vm.ChAlarmBox)

	flagStr := ""
	if ch77&vm.Ch77NightWatchman != 0 {
		flagStr += "[red]NW[white] "
	}
	if ch77&vm.Ch77RuptLock != 0 {
		flagStr += "[red]RL[white] "
	}
	if ch77&vm.Ch77TCTrap != 0 {
		flagStr += "[red]TC[white] "
	}
	if ch77&vm.Ch77ParityFail != 0 {
		flagStr += "[red]PF[white] "
	}
	if alarms.InStandby() {
		flagStr += "[yellow]STBY[white]"
	}
	if flagStr == "" {
		flagStr = "[green]nominal[white]"
	}

	lines = append(lines, fmt.Sprintf("Alarms: %s", flagStr))
	lines = append(lines, fmt.Sprintf("Cycles: %d", cpu.Cycles))

	t.RegisterView.SetText(strings.Join(lines, "\n"))
}

// registerIndex maps a register name to its GetRegister/SetRegister index
func registerIndex(name string) int {
	for i, n := range vm.RegisterNames() {
		if n == name {
			return i
		}
	}
	return -1
}

// UpdateMemoryView updates the erasable memory view
func (t *TUI) UpdateMemoryView() {
	t.MemoryView.Clear()

	addr := uint16(t.MemoryAddress)

	var lines []string
	lines = append(lines, fmt.Sprintf("[yellow]EB=%o Address: %05o[white]", t.Debugger.VM.CPU.EB, addr))

	for row := 0; row < MemoryDisplayRows; row++ {
		rowAddr := addr + uint16(row*MemoryDisplayColumns)
		if int(rowAddr) >= 0400 {
			break
		}

		line := fmt.Sprintf("%05o: ", rowAddr)

		var words []string
		for col := 0; col < MemoryDisplayColumns; col++ {
			wordAddr := rowAddr + uint16(col)
			if int(wordAddr) >= 0400 {
				break
			}
			word, _, err := t.Debugger.VM.PeekWord(wordAddr)
			if err != nil {
				words = append(words, "?????")
			} else {
				words = append(words, fmt.Sprintf("%05o", word))
			}
		}

		line += strings.Join(words, " ")
		lines = append(lines, line)
	}

	t.MemoryView.SetText(strings.Join(lines, "\n"))
}

// UpdateChannelView updates the I/O channel view
func (t *TUI) UpdateChannelView() {
	t.ChannelView.Clear()

	var lines []string
	lines = append(lines, fmt.Sprintf("Ch05 (DSKY digits): %05o", t.Debugger.VM.Channels.Read(05)))
	lines = append(lines, fmt.Sprintf("Ch06 (DSKY digits): %05o", t.Debugger.VM.Channels.Read(06)))
	lines = append(lines, fmt.Sprintf("Ch10 (relay):       %05o", t.Debugger.VM.Channels.Read(010)))
	lines = append(lines, fmt.Sprintf("Ch11 (relay):       %05o", t.Debugger.VM.Channels.Read(011)))
	lines = append(lines, fmt.Sprintf("Ch13 (flags):       %05o", t.Debugger.VM.Channels.Read(013)))
	lines = append(lines, fmt.Sprintf("Ch30 (key in):      %05o", t.Debugger.VM.Channels.Read(030)))
	lines = append(lines, fmt.Sprintf("Ch31 (switches):    %05o", t.Debugger.VM.Channels.Read(031)))
	lines = append(lines, fmt.Sprintf("Ch32 (switches):    %05o", t.Debugger.VM.Channels.Read(032)))
	lines = append(lines, fmt.Sprintf("Ch77 (alarms):      %05o", t.Debugger.VM.Channels.Read(vm.ChAlarmBox)))

	t.ChannelView.SetText(strings.Join(lines, "\n"))
}

// UpdateDisassemblyView updates the disassembly view
func (t *TUI) UpdateDisassemblyView() {
	t.DisassemblyView.Clear()

	z := t.Debugger.VM.CPU.Z

	var lines []string

	startAddr := uint16(0)
	if z > CodeContextLinesBeforeCompact {
		startAddr = z - CodeContextLinesBeforeCompact
	}

	for i := 0; i < CodeContextLinesBeforeCompact+CodeContextLinesAfterCompact; i++ {
		addr := startAddr + uint16(i)

		word, _, err := t.Debugger.VM.PeekWord(addr)
		if err != nil {
			continue
		}

		marker := "  "
		color := "white"
		if addr == z {
			marker = "->"
			color = "yellow"
		}

		if t.Debugger.Breakpoints.GetBreakpoint(uint32(addr)) != nil {
			marker = "* "
		}

		line := fmt.Sprintf("[%s]%s %05o: %05o[white]", color, marker, addr, word)

		if sym := t.findSymbolForAddress(uint32(addr)); sym != "" {
			line = fmt.Sprintf("[%s]%s %05o: %05o  <%s>[white]", color, marker, addr, word, sym)
		}

		lines = append(lines, line)
	}

	t.DisassemblyView.SetText(strings.Join(lines, "\n"))
}

// UpdateBreakpointsView updates the breakpoints and watchpoints view
func (t *TUI) UpdateBreakpointsView() {
	t.BreakpointsView.Clear()

	var lines []string

	// Breakpoints
	bps := t.Debugger.Breakpoints.GetAllBreakpoints()
	if len(bps) > 0 {
		lines = append(lines, "[yellow]Breakpoints:[white]")
		for _, bp := range bps {
			status := "enabled"
			color := "green"
			if !bp.Enabled {
				status = "disabled"
				color = "red"
			}

			line := fmt.Sprintf("  %d: [%s]%s[white] %05o", bp.ID, color, status, bp.Address)

			if sym := t.findSymbolForAddress(bp.Address); sym != "" {
				line += fmt.Sprintf(" <%s>", sym)
			}

			if bp.Condition != "" {
				line += fmt.Sprintf(" if %s", bp.Condition)
			}

			line += fmt.Sprintf(" (hits: %d)", bp.HitCount)

			lines = append(lines, line)
		}
	} else {
		lines = append(lines, "[yellow]No breakpoints set[white]")
	}

	lines = append(lines, "")

	// Watchpoints
	wps := t.Debugger.Watchpoints.GetAllWatchpoints()
	if len(wps) > 0 {
		lines = append(lines, "[yellow]Watchpoints:[white]")
		for _, wp := range wps {
			typeStr := "watch"
			if wp.Type == WatchRead {
				typeStr = "rwatch"
			} else if wp.Type == WatchReadWrite {
				typeStr = "awatch"
			}

			line := fmt.Sprintf("  %d: %s %s = %05o", wp.ID, typeStr, wp.Expression, wp.LastValue)
			lines = append(lines, line)
		}
	}

	t.BreakpointsView.SetText(strings.Join(lines, "\n"))
}

// findSymbolForAddress finds a symbol name for an address
func (t *TUI) findSymbolForAddress(addr uint32) string {
	for sym, symAddr := range t.Debugger.Symbols {
		if symAddr == addr {
			return sym
		}
	}
	return ""
}

// Run starts the TUI application
func (t *TUI) Run() error {
	// Initial refresh
	t.RefreshAll()

	// Show welcome message
	t.WriteOutput("[green]AGC Block II Debugger TUI[white]\n")
	t.WriteOutput("Press F1 for help, F5 to continue, F10 to step over, F11 to step\n")
	t.WriteOutput("Type 'help' for command list\n\n")

	// Run the application
	return t.App.SetRoot(t.Pages, true).SetFocus(t.CommandInput).Run()
}

// Stop stops the TUI application
func (t *TUI) Stop() {
	t.App.Stop()
}

// LoadSource loads source code for display
func (t *TUI) LoadSource(filename string, lines []string) {
	t.SourceFile = filename
	t.SourceLines = lines
	t.UpdateSourceView()
}
