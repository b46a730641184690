package vm

import "fmt"

// Memory models the Block II banked core-and-erasable address space.
// Erasable memory is addressed 00000-01777 (8 banks of 0400 words: banks 0-2
// live at fixed unswitched addresses, banks 3-7 share address range
// 01400-01777, selected by EB). Fixed memory is addressed 02000-07777:
// 02000-03777 is fixed-switched, selected by FB (plus the superbank latch on
// channel 7, which moves FB banks 030-033 up to banks 040-043), and
// 04000-07777 is fixed-fixed (bank 02 at 04000-05777, bank 03 at
// 06000-07777, always resident).
type Memory struct {
	Erasable [ErasableBanks][ErasableBankSize]uint16
	Fixed    [FixedBanks][FixedBankSize]uint16
	Parity   [FixedBanks][FixedBankSize]bool

	Superbank bool // channel 7 bit 2: with FB >= 030, selects bank FB+010
}

// NewMemory allocates a zeroed address space.
func NewMemory() *Memory {
	return &Memory{}
}

// resolveErasable maps an address in 00000-01777 to a bank and offset.
func resolveErasable(addr uint16, eb uint16) (bank int, offset int) {
	switch {
	case addr < 00400:
		return 0, int(addr)
	case addr < 01000:
		return 1, int(addr - 00400)
	case addr < 01400:
		return 2, int(addr - 01000)
	default:
		return int(eb>>8) + 3, int(addr - 01400)
	}
}

// resolveFixed maps an address in 02000-07777 to a bank and offset.
func resolveFixed(addr uint16, fb uint16, superbank bool) (bank int, offset int) {
	if addr >= 04000 {
		// fixed-fixed: bank 02 occupies 04000-05777, bank 03 06000-07777
		if addr < 06000 {
			return 02, int(addr - 04000)
		}
		return 03, int(addr - 06000)
	}
	bank = int(fb & 037)
	if superbank && bank >= 030 {
		bank += 010 // superbank folds banks 030-033 up to 040-043
	}
	return bank, int(addr - 02000)
}

// ResolveBank reports which physical bank (and bank-relative offset) a Z
// address currently addresses, given the CPU's EB/FB and the superbank
// latch. Used by coverage tracking, which must distinguish the same Z
// value fetched out of two different switched banks.
func (m *Memory) ResolveBank(z uint16, eb, fb uint16, superbank bool) (bank, offset int) {
	if z < 02000 {
		return resolveErasable(z, eb)
	}
	return resolveFixed(z, fb, superbank)
}

// ReadErasable reads a word from erasable memory, given the current EB.
func (m *Memory) ReadErasable(addr uint16, eb uint16) uint16 {
	bank, offset := resolveErasable(addr, eb)
	if bank >= ErasableBanks {
		return 0
	}
	return m.Erasable[bank][offset]
}

// WriteErasable writes a word to erasable memory, given the current EB.
func (m *Memory) WriteErasable(addr uint16, eb uint16, value uint16) {
	bank, offset := resolveErasable(addr, eb)
	if bank >= ErasableBanks {
		return
	}
	m.Erasable[bank][offset] = value & Mask16Bit
}

// ReadFixed reads a word (and its parity bit) from fixed rope memory, given
// the current FB and superbank latch.
func (m *Memory) ReadFixed(addr uint16, fb uint16, superbank bool) (uint16, bool) {
	bank, offset := resolveFixed(addr, fb, superbank)
	if bank >= FixedBanks {
		return 0, false
	}
	return m.Fixed[bank][offset], m.Parity[bank][offset]
}

// LoadFixedBank writes an entire fixed bank's contents and parity, used by
// the rope loader when installing a core-rope image.
func (m *Memory) LoadFixedBank(bank int, words []uint16, parity []bool) error {
	if bank < 0 || bank >= FixedBanks {
		return fmt.Errorf("fixed bank %#o out of range", bank)
	}
	if len(words) != FixedBankSize {
		return fmt.Errorf("fixed bank %#o: expected %d words, got %d", bank, FixedBankSize, len(words))
	}
	copy(m.Fixed[bank][:], words)
	if parity != nil {
		copy(m.Parity[bank][:], parity)
	}
	return nil
}

// Reset clears erasable memory and superbank latch; fixed (rope) memory is
// not cleared, mirroring real hardware where the rope survives a GOJAM.
func (m *Memory) Reset() {
	for b := range m.Erasable {
		for i := range m.Erasable[b] {
			m.Erasable[b][i] = 0
		}
	}
	m.Superbank = false
}
