// Package loader reads AGC rope and core-dump images from disk and installs
// them into a VM's address space.
package loader

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/agc-sim/agcsim/vm"
)

// romBankOrder gives the on-disk bank ordering for a rope image: bank 2 and
// 3 (the fixed-fixed banks) come first, then 0 and 1 (unused placeholders in
// most images), then the fixed-switched banks in ascending order.
var romBankOrder = func() []int {
	order := []int{02, 03, 00, 01}
	for b := 04; b < vm.FixedBanks; b++ {
		order = append(order, b)
	}
	return order
}()

// LoadError wraps a rope/core-dump load failure with enough context to
// report a useful boot-time error without aborting the process out of band.
type LoadError struct {
	File   string
	Offset int64
	Err    error
}

func (e *LoadError) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("load %s at offset %d: %v", e.File, e.Offset, e.Err)
	}
	return fmt.Sprintf("load %s: %v", e.File, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// LoadROM reads a big-endian rope image and installs it into the VM's fixed
// memory banks in the on-disk order 2, 3, 0, 1, 4, 5, ..., 35. Bit 0 of each
// 16-bit word is the parity bit; bits 1-15 are the AGC data word. If any
// parity bit in the image is set, runtime parity checking is enabled on the
// returned VM's alarm state.
func LoadROM(machine *vm.VM, path string) error {
	f, err := os.Open(path) // #nosec G304 -- operator-specified rom path
	if err != nil {
		return &LoadError{File: path, Offset: -1, Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return &LoadError{File: path, Offset: -1, Err: err}
	}
	if info.Size()%2 != 0 {
		return &LoadError{File: path, Offset: -1, Err: fmt.Errorf("odd file size %d", info.Size())}
	}

	maxWords := int64(vm.FixedBanks) * vm.FixedBankSize
	if info.Size()/2 > maxWords {
		return &LoadError{File: path, Offset: -1, Err: fmt.Errorf("image holds %d words, exceeds core capacity %d", info.Size()/2, maxWords)}
	}

	r := bufio.NewReader(f)
	sawParityBit := false

	var offset int64
	for _, bank := range romBankOrder {
		words := make([]uint16, vm.FixedBankSize)
		parity := make([]bool, vm.FixedBankSize)
		for i := range words {
			var raw uint16
			if err := binary.Read(r, binary.BigEndian, &raw); err != nil {
				if err == io.EOF {
					// Short image: remaining banks stay zeroed, matching a
					// partially-populated rope.
					if loadErr := machine.Memory.LoadFixedBank(bank, words, parity); loadErr != nil {
						return &LoadError{File: path, Offset: offset, Err: loadErr}
					}
					machine.Alarms.SetParityCheck(sawParityBit)
					return nil
				}
				return &LoadError{File: path, Offset: offset, Err: err}
			}
			parity[i] = raw&1 != 0
			words[i] = (raw >> 1) & vm.Mask15Bit
			if parity[i] {
				sawParityBit = true
			}
			offset += 2
		}
		if err := machine.Memory.LoadFixedBank(bank, words, parity); err != nil {
			return &LoadError{File: path, Offset: offset, Err: err}
		}
	}

	machine.Alarms.SetParityCheck(sawParityBit)
	return nil
}

// CoreDumpOptions controls how a core-dump image is applied.
type CoreDumpOptions struct {
	// ErasableOnly restricts the load to erasable banks 1-7 and bank-0
	// addresses >= 010, ignoring channels and runtime flags. This mirrors
	// the upstream engine's own partial core-dump support.
	ErasableOnly bool
}

// LoadCoreDump reads the whitespace-separated octal core-dump format: 512
// channel values, 8*256 erasable words, then a fixed sequence of runtime
// flags. Every field is parsed for format validation. When opts.ErasableOnly
// is false, all erasable memory, the channel values, cycle_counter,
// extra_code and allow_interrupt are applied; channels above 0177 fall
// outside the VM's channel file and are dropped, and the remaining runtime
// flags are not applied.
func LoadCoreDump(machine *vm.VM, path string, opts CoreDumpOptions) error {
	f, err := os.Open(path) // #nosec G304 -- operator-specified core-dump path
	if err != nil {
		return &LoadError{File: path, Offset: -1, Err: err}
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	scanner.Split(bufio.ScanWords)

	nextOctal := func(field string) (uint16, error) {
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return 0, err
			}
			return 0, fmt.Errorf("truncated core dump: expected %s", field)
		}
		v, err := strconv.ParseUint(scanner.Text(), 8, 16)
		if err != nil {
			return 0, fmt.Errorf("invalid octal value for %s: %w", field, err)
		}
		return uint16(v), nil
	}

	channels := make([]uint16, 512)
	for i := range channels {
		v, err := nextOctal(fmt.Sprintf("channel %03o", i))
		if err != nil {
			return &LoadError{File: path, Offset: int64(i), Err: err}
		}
		channels[i] = v
	}

	var erasable [8][0400]uint16
	for bank := range erasable {
		for i := range erasable[bank] {
			v, err := nextOctal(fmt.Sprintf("erasable[%o][%04o]", bank, i))
			if err != nil {
				return &LoadError{File: path, Offset: -1, Err: err}
			}
			erasable[bank][i] = v
		}
	}

	// Runtime flags: cycle_counter, extra_code, allow_interrupt, pend_flag,
	// pend_delay, extra_delay, output_channel_7, 16 channel-10 rows,
	// index_value, 11 interrupt-request flags, in_isr, substitute_instruction,
	// downrupt_time_valid, downrupt_time, downlink.
	runtimeFieldNames := append([]string{
		"cycle_counter", "extra_code", "allow_interrupt", "pend_flag",
		"pend_delay", "extra_delay", "output_channel_7",
	}, channel10RowNames()...)
	runtimeFieldNames = append(runtimeFieldNames,
		"index_value")
	runtimeFieldNames = append(runtimeFieldNames, interruptRequestNames()...)
	runtimeFieldNames = append(runtimeFieldNames,
		"in_isr", "substitute_instruction", "downrupt_time_valid", "downrupt_time", "downlink")

	runtimeFields := make([]uint16, len(runtimeFieldNames))
	for i, name := range runtimeFieldNames {
		v, err := nextOctal(name)
		if err != nil {
			return &LoadError{File: path, Offset: -1, Err: err}
		}
		runtimeFields[i] = v
	}

	if opts.ErasableOnly {
		for bank := 1; bank < 8; bank++ {
			copy(machine.Memory.Erasable[bank][:], erasable[bank][:])
		}
		for i := 010; i < 0400; i++ {
			machine.Memory.Erasable[0][i] = erasable[0][i]
		}
		return nil
	}

	for bank := range erasable {
		copy(machine.Memory.Erasable[bank][:], erasable[bank][:])
	}
	for ch, v := range channels {
		machine.Channels.Write(ch, v)
	}
	machine.CPU.Cycles = uint64(runtimeFields[0])
	machine.CPU.ExtraCode = runtimeFields[1] != 0
	machine.CPU.Inhint = runtimeFields[2] == 0

	return nil
}

func channel10RowNames() []string {
	names := make([]string, 16)
	for i := range names {
		names[i] = fmt.Sprintf("channel10_row%d", i)
	}
	return names
}

func interruptRequestNames() []string {
	names := make([]string, 11)
	for i := range names {
		names[i] = fmt.Sprintf("irq%d", i)
	}
	return names
}
