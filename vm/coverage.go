package vm

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
)

// CoverageEntry represents coverage information for one (bank, offset)
// location: the Block II rope is banked, so the same Z address fetched out
// of two different fixed-switched banks is a different instruction.
type CoverageEntry struct {
	Bank           int    // physical bank number (erasable 0-7, fixed 02-043+)
	Address        uint32 // bank-relative offset
	ExecutionCount uint64 // Number of times executed
	FirstExecution uint64 // Cycle number of first execution
	LastExecution  uint64 // Cycle number of last execution
}

// coverageKey packs a (bank, offset) pair into a single map key.
func coverageKey(bank int, address uint32) uint32 {
	return uint32(bank)<<16 | (address & 0xFFFF)
}

// CodeCoverage tracks which (bank, offset) instruction locations have been
// executed.
type CodeCoverage struct {
	Enabled bool
	Writer  io.Writer

	// Coverage data
	executed  map[uint32]*CoverageEntry // coverageKey(bank, offset) -> execution info
	codeStart uint32                    // Start of the tracked offset range within a bank
	codeEnd   uint32                    // End of the tracked offset range within a bank

	// Symbol information (optional)
	symbols         map[string]uint32 // label -> address
	addressToSymbol map[uint32]string // address -> label
}

// NewCodeCoverage creates a new code coverage tracker
func NewCodeCoverage(writer io.Writer) *CodeCoverage {
	return &CodeCoverage{
		Enabled:         true,
		Writer:          writer,
		executed:        make(map[uint32]*CoverageEntry),
		symbols:         make(map[string]uint32),
		addressToSymbol: make(map[uint32]string),
	}
}

// SetCodeRange sets the bank-relative offset range to track (e.g. 0-02000
// for one fixed bank). A zero start and end disables range filtering.
func (c *CodeCoverage) SetCodeRange(start, end uint32) {
	c.codeStart = start
	c.codeEnd = end
}

// LoadSymbols loads symbol information for better reporting
func (c *CodeCoverage) LoadSymbols(symbols map[string]uint32) {
	c.symbols = symbols
	// Build reverse map
	for name, addr := range symbols {
		c.addressToSymbol[addr] = name
	}
}

// Start starts coverage tracking
func (c *CodeCoverage) Start() {
	c.executed = make(map[uint32]*CoverageEntry)
}

// RecordExecution records that the instruction at the given bank/offset was
// executed.
func (c *CodeCoverage) RecordExecution(bank int, address uint32, cycle uint64) {
	if !c.Enabled {
		return
	}

	// Only track if offset is in the tracked range (if one is set)
	if c.codeStart != 0 || c.codeEnd != 0 {
		if address < c.codeStart || address >= c.codeEnd {
			return
		}
	}

	key := coverageKey(bank, address)
	if entry, exists := c.executed[key]; exists {
		entry.ExecutionCount++
		entry.LastExecution = cycle
	} else {
		c.executed[key] = &CoverageEntry{
			Bank:           bank,
			Address:        address,
			ExecutionCount: 1,
			FirstExecution: cycle,
			LastExecution:  cycle,
		}
	}
}

// GetBankCoverage reports, for each bank that has seen at least one
// execution, how many distinct offsets within it were executed.
func (c *CodeCoverage) GetBankCoverage() map[int]int {
	perBank := make(map[int]int)
	for _, entry := range c.executed {
		perBank[entry.Bank]++
	}
	return perBank
}

// GetCoverage returns the coverage percentage, averaged across every bank
// that has seen at least one execution, against the tracked offset range.
func (c *CodeCoverage) GetCoverage() float64 {
	if c.codeStart == 0 && c.codeEnd == 0 {
		return 0.0
	}
	totalOffsets := c.codeEnd - c.codeStart
	if totalOffsets == 0 {
		return 0.0
	}

	perBank := c.GetBankCoverage()
	if len(perBank) == 0 {
		return 0.0
	}
	var sum float64
	for _, executedCount := range perBank {
		sum += float64(executedCount) / float64(totalOffsets) * 100.0
	}
	return sum / float64(len(perBank))
}

// GetExecutedAddresses returns all executed (bank, offset) coverage keys
// sorted ascending.
func (c *CodeCoverage) GetExecutedAddresses() []uint32 {
	addresses := make([]uint32, 0, len(c.executed))
	for addr := range c.executed {
		addresses = append(addresses, addr)
	}
	sort.Slice(addresses, func(i, j int) bool {
		return addresses[i] < addresses[j]
	})
	return addresses
}

// GetUnexecutedAddresses returns bank-relative offsets within the tracked
// range that a given bank never executed.
func (c *CodeCoverage) GetUnexecutedAddresses(bank int) []uint32 {
	if c.codeStart == 0 && c.codeEnd == 0 {
		return nil
	}

	unexecuted := make([]uint32, 0)
	for addr := c.codeStart; addr < c.codeEnd; addr++ {
		if _, exists := c.executed[coverageKey(bank, addr)]; !exists {
			unexecuted = append(unexecuted, addr)
		}
	}
	return unexecuted
}

// GetEntry returns the coverage entry for a (bank, offset) location.
func (c *CodeCoverage) GetEntry(bank int, address uint32) *CoverageEntry {
	return c.executed[coverageKey(bank, address)]
}

// Flush writes coverage report to the writer
func (c *CodeCoverage) Flush() error {
	if c.Writer == nil {
		return nil
	}

	// Write header
	header := "Code Coverage Report\n"
	header += "====================\n\n"

	perBank := c.GetBankCoverage()
	if c.codeStart != 0 || c.codeEnd != 0 {
		totalOffsets := c.codeEnd - c.codeStart
		header += fmt.Sprintf("Tracked Offset Range: %05o - %05o\n", c.codeStart, c.codeEnd)
		header += fmt.Sprintf("Banks Touched:        %d\n", len(perBank))
		header += fmt.Sprintf("Coverage (avg):       %.2f%%\n\n", c.GetCoverage())
		header += "Per-Bank Coverage:\n"
		header += "------------------\n"
		banks := make([]int, 0, len(perBank))
		for bank := range perBank {
			banks = append(banks, bank)
		}
		sort.Ints(banks)
		for _, bank := range banks {
			executedCount := perBank[bank]
			header += fmt.Sprintf("  bank %02o: %4d/%4d offsets (%.2f%%)\n",
				bank, executedCount, totalOffsets, float64(executedCount)/float64(totalOffsets)*100.0)
		}
		header += "\n"
	} else {
		header += fmt.Sprintf("Total Executed:       %d unique (bank, offset) locations\n\n", len(c.executed))
	}

	if _, err := c.Writer.Write([]byte(header)); err != nil {
		return err
	}

	// Write executed locations
	if _, err := c.Writer.Write([]byte("Executed Locations:\n")); err != nil {
		return err
	}
	if _, err := c.Writer.Write([]byte("-------------------\n")); err != nil {
		return err
	}

	executedKeys := c.GetExecutedAddresses()
	for _, key := range executedKeys {
		entry := c.executed[key]
		line := fmt.Sprintf("bank %02o, %05o: executed %6d times (first: cycle %6d, last: cycle %6d)",
			entry.Bank, entry.Address, entry.ExecutionCount, entry.FirstExecution, entry.LastExecution)

		// Add symbol if available
		if symbol, exists := c.addressToSymbol[entry.Address]; exists {
			line += fmt.Sprintf(" [%s]", symbol)
		}

		line += "\n"
		if _, err := c.Writer.Write([]byte(line)); err != nil {
			return err
		}
	}

	return nil
}

// ExportJSON exports coverage data as JSON
func (c *CodeCoverage) ExportJSON(w io.Writer) error {
	data := map[string]interface{}{
		"code_start":       c.codeStart,
		"code_end":         c.codeEnd,
		"coverage_percent": c.GetCoverage(),
		"executed_count":   len(c.executed),
		"bank_coverage":    c.GetBankCoverage(),
		"executed":         c.executed,
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// String returns a formatted string representation
func (c *CodeCoverage) String() string {
	var sb strings.Builder

	sb.WriteString("Code Coverage Summary\n")
	sb.WriteString("=====================\n\n")

	if c.codeStart != 0 || c.codeEnd != 0 {
		sb.WriteString(fmt.Sprintf("Offset Range:       %05o - %05o\n", c.codeStart, c.codeEnd))
		sb.WriteString(fmt.Sprintf("Banks Touched:      %d\n", len(c.GetBankCoverage())))
		sb.WriteString(fmt.Sprintf("Coverage (avg):     %.2f%%\n", c.GetCoverage()))
	} else {
		sb.WriteString(fmt.Sprintf("Executed:           %d unique addresses\n", len(c.executed)))
	}

	return sb.String()
}
