package vm

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// AlarmSnapshot is the set of alarm/mode bits an AlarmTrace watches for
// changes: the four channel-77 alarm bits plus standby.
type AlarmSnapshot struct {
	NightWatchman bool
	RuptLock      bool
	TCTrap        bool
	ParityFail    bool
	Standby       bool
}

func snapshotAlarms(a *AlarmState) AlarmSnapshot {
	return AlarmSnapshot{
		NightWatchman: a.Ch77&Ch77NightWatchman != 0,
		RuptLock:      a.Ch77&Ch77RuptLock != 0,
		TCTrap:        a.Ch77&Ch77TCTrap != 0,
		ParityFail:    a.Ch77&Ch77ParityFail != 0,
		Standby:       a.InStandby(),
	}
}

// AlarmChangeEntry represents a single alarm/mode transition event.
type AlarmChangeEntry struct {
	Sequence    uint64 // MCT count
	Z           uint16 // program counter at time of transition
	Instruction string // instruction or reason that caused the transition
	OldAlarms   AlarmSnapshot
	NewAlarms   AlarmSnapshot
	Changed     string // which bits changed, e.g. "NightWatchman"
}

// FlagTrace tracks alarm and standby-mode transitions, repurposed from a
// general flag-change tracker for this engine's four channel-77 alarm bits
// plus the standby latch.
type FlagTrace struct {
	Enabled bool
	Writer  io.Writer

	entries    []AlarmChangeEntry
	maxEntries int
	lastAlarms AlarmSnapshot

	totalChanges                                          uint64
	nightWatchmanChanges, ruptLockChanges                 uint64
	tcTrapChanges, parityFailChanges, standbyModeChanges   uint64

	symbols *SymbolResolver
}

// NewFlagTrace creates a new alarm trace tracker.
func NewFlagTrace(writer io.Writer) *FlagTrace {
	return &FlagTrace{
		Enabled:    true,
		Writer:     writer,
		entries:    make([]AlarmChangeEntry, 0, 1000),
		maxEntries: 100000,
	}
}

// LoadSymbols loads a symbol table for address annotation.
func (f *FlagTrace) LoadSymbols(symbols map[string]uint32) {
	f.symbols = NewSymbolResolver(symbols)
}

// Start starts alarm tracing.
func (f *FlagTrace) Start(initial AlarmSnapshot) {
	f.entries = f.entries[:0]
	f.lastAlarms = initial
	f.totalChanges = 0
	f.nightWatchmanChanges, f.ruptLockChanges = 0, 0
	f.tcTrapChanges, f.parityFailChanges, f.standbyModeChanges = 0, 0, 0
}

// RecordAlarms records the current alarm state if it differs from the last
// recorded snapshot.
func (f *FlagTrace) RecordAlarms(sequence uint64, z uint16, instruction string, alarms *AlarmState) {
	if !f.Enabled {
		return
	}
	newSnap := snapshotAlarms(alarms)
	changed := f.detectChanges(f.lastAlarms, newSnap)
	if changed == "" {
		return
	}
	if f.maxEntries > 0 && len(f.entries) >= f.maxEntries {
		return
	}

	entry := AlarmChangeEntry{
		Sequence:    sequence,
		Z:           z,
		Instruction: instruction,
		OldAlarms:   f.lastAlarms,
		NewAlarms:   newSnap,
		Changed:     changed,
	}
	f.entries = append(f.entries, entry)
	f.updateStatistics(f.lastAlarms, newSnap)
	f.lastAlarms = newSnap
	f.totalChanges++
}

func (f *FlagTrace) detectChanges(old, new AlarmSnapshot) string {
	var changes []string
	if old.NightWatchman != new.NightWatchman {
		changes = append(changes, "NightWatchman")
	}
	if old.RuptLock != new.RuptLock {
		changes = append(changes, "RuptLock")
	}
	if old.TCTrap != new.TCTrap {
		changes = append(changes, "TCTrap")
	}
	if old.ParityFail != new.ParityFail {
		changes = append(changes, "ParityFail")
	}
	if old.Standby != new.Standby {
		changes = append(changes, "Standby")
	}
	return strings.Join(changes, ",")
}

func (f *FlagTrace) updateStatistics(old, new AlarmSnapshot) {
	if old.NightWatchman != new.NightWatchman {
		f.nightWatchmanChanges++
	}
	if old.RuptLock != new.RuptLock {
		f.ruptLockChanges++
	}
	if old.TCTrap != new.TCTrap {
		f.tcTrapChanges++
	}
	if old.ParityFail != new.ParityFail {
		f.parityFailChanges++
	}
	if old.Standby != new.Standby {
		f.standbyModeChanges++
	}
}

// GetEntries returns all alarm trace entries.
func (f *FlagTrace) GetEntries() []AlarmChangeEntry {
	return f.entries
}

// Flush writes an alarm trace report to the writer.
func (f *FlagTrace) Flush() error {
	if f.Writer == nil {
		return nil
	}

	var header strings.Builder
	header.WriteString("Alarm Transition Trace Report\n")
	header.WriteString("==============================\n\n")
	header.WriteString("Statistics:\n")
	header.WriteString(fmt.Sprintf("  Total Changes:          %d\n", f.totalChanges))
	header.WriteString(fmt.Sprintf("  Night Watchman trips:   %d\n", f.nightWatchmanChanges))
	header.WriteString(fmt.Sprintf("  Rupt Lock trips:        %d\n", f.ruptLockChanges))
	header.WriteString(fmt.Sprintf("  TC Trap trips:          %d\n", f.tcTrapChanges))
	header.WriteString(fmt.Sprintf("  Parity Fail trips:      %d\n", f.parityFailChanges))
	header.WriteString(fmt.Sprintf("  Standby transitions:    %d\n\n", f.standbyModeChanges))

	if _, err := f.Writer.Write([]byte(header.String())); err != nil {
		return err
	}

	if _, err := f.Writer.Write([]byte("Transitions:\n------------\n")); err != nil {
		return err
	}
	for _, entry := range f.entries {
		if _, err := f.Writer.Write([]byte(f.formatEntry(entry))); err != nil {
			return err
		}
	}
	return nil
}

func (f *FlagTrace) formatEntry(entry AlarmChangeEntry) string {
	zStr := fmt.Sprintf("%05o", entry.Z)
	if f.symbols != nil && f.symbols.HasSymbols() {
		zStr = f.symbols.FormatAddressCompact(uint32(entry.Z))
	}
	return fmt.Sprintf("[%06d] %-20s: %-20s  -> %s (changed: %s)\n",
		entry.Sequence, zStr, entry.Instruction, f.formatAlarms(entry.NewAlarms), entry.Changed)
}

func (f *FlagTrace) formatAlarms(a AlarmSnapshot) string {
	bit := func(on bool, ch byte) byte {
		if on {
			return ch
		}
		return '-'
	}
	return string([]byte{
		bit(a.NightWatchman, 'N'),
		bit(a.RuptLock, 'R'),
		bit(a.TCTrap, 'T'),
		bit(a.ParityFail, 'P'),
		bit(a.Standby, 'S'),
	})
}

// ExportJSON exports alarm trace data as JSON.
func (f *FlagTrace) ExportJSON(w io.Writer) error {
	data := map[string]interface{}{
		"total_changes":          f.totalChanges,
		"night_watchman_changes": f.nightWatchmanChanges,
		"rupt_lock_changes":      f.ruptLockChanges,
		"tc_trap_changes":        f.tcTrapChanges,
		"parity_fail_changes":    f.parityFailChanges,
		"standby_changes":        f.standbyModeChanges,
		"entries":                f.entries,
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// String returns a formatted string representation.
func (f *FlagTrace) String() string {
	var sb strings.Builder
	sb.WriteString("Alarm Transition Summary\n")
	sb.WriteString("=========================\n\n")
	sb.WriteString(fmt.Sprintf("Total Changes:        %d\n", f.totalChanges))
	sb.WriteString(fmt.Sprintf("Night Watchman trips: %d\n", f.nightWatchmanChanges))
	sb.WriteString(fmt.Sprintf("Rupt Lock trips:      %d\n", f.ruptLockChanges))
	sb.WriteString(fmt.Sprintf("TC Trap trips:        %d\n", f.tcTrapChanges))
	sb.WriteString(fmt.Sprintf("Parity Fail trips:    %d\n", f.parityFailChanges))
	sb.WriteString(fmt.Sprintf("Standby transitions:  %d\n", f.standbyModeChanges))
	return sb.String()
}
