package loader

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/agc-sim/agcsim/vm"
)

func writeROMFile(t *testing.T, words []uint16) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rope.bin")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create rom file: %v", err)
	}
	defer f.Close()
	for _, w := range words {
		if err := binary.Write(f, binary.BigEndian, w); err != nil {
			t.Fatalf("write word: %v", err)
		}
	}
	return path
}

func TestLoadROMEmptyImageZerosFixedMemory(t *testing.T) {
	machine := vm.NewVM()
	path := writeROMFile(t, nil)

	if err := LoadROM(machine, path); err != nil {
		t.Fatalf("LoadROM: %v", err)
	}
	if word, _ := machine.Memory.ReadFixed(04000, 0, false); word != 0 {
		t.Errorf("expected zeroed fixed-fixed word, got %o", word)
	}
	if machine.Alarms.ParityCheckEnabled() {
		t.Error("parity check enabled for an image with no parity bits")
	}
}

func TestLoadROMInstallsBank02First(t *testing.T) {
	machine := vm.NewVM()
	// First on-disk word lands in bank 02, offset 0. Encode value 0123 with
	// the parity bit clear: raw = value << 1.
	raw := uint16(0123) << 1
	path := writeROMFile(t, []uint16{raw})

	if err := LoadROM(machine, path); err != nil {
		t.Fatalf("LoadROM: %v", err)
	}
	word, _ := machine.Memory.ReadFixed(04000, 0, false)
	if word != 0123 {
		t.Errorf("bank 02 offset 0 = %o, want %o", word, 0123)
	}
}

func TestLoadROMDetectsParityBit(t *testing.T) {
	machine := vm.NewVM()
	raw := (uint16(0456) << 1) | 1 // parity bit set
	path := writeROMFile(t, []uint16{raw})

	if err := LoadROM(machine, path); err != nil {
		t.Fatalf("LoadROM: %v", err)
	}
	if !machine.Alarms.ParityCheckEnabled() {
		t.Error("parity check not enabled despite a set parity bit")
	}
	word, parity := machine.Memory.ReadFixed(04000, 0, false)
	if word != 0456 {
		t.Errorf("word = %o, want %o", word, 0456)
	}
	if !parity {
		t.Error("parity bit not carried through to Memory.Parity")
	}
}

func TestLoadROMRejectsOddFileSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "odd.bin")
	if err := os.WriteFile(path, []byte{0x01, 0x02, 0x03}, 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	machine := vm.NewVM()
	err := LoadROM(machine, path)
	if err == nil {
		t.Fatal("expected error for odd-sized rom file")
	}
	var loadErr *LoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("expected *LoadError, got %T: %v", err, err)
	}
}

func TestLoadROMMissingFile(t *testing.T) {
	machine := vm.NewVM()
	err := LoadROM(machine, filepath.Join(t.TempDir(), "does-not-exist.bin"))
	if err == nil {
		t.Fatal("expected error for a missing rom file")
	}
}

func TestLoadErrorFormatting(t *testing.T) {
	e := &LoadError{File: "rope.bin", Offset: 42, Err: os.ErrNotExist}
	if got := e.Error(); !strings.Contains(got, "rope.bin") || !strings.Contains(got, "42") {
		t.Errorf("Error() = %q, missing file/offset", got)
	}
	if e.Unwrap() != os.ErrNotExist {
		t.Error("Unwrap did not return the wrapped error")
	}

	noOffset := &LoadError{File: "rope.bin", Offset: -1, Err: os.ErrNotExist}
	if got := noOffset.Error(); strings.Contains(got, "at offset") {
		t.Errorf("Error() with no offset should omit it, got %q", got)
	}
}

// buildCoreDump renders a whitespace-separated octal core dump image: 512
// channel words, 8*256 erasable words, then the fixed runtime-flag sequence.
// Every field defaults to 0; overrides are applied by absolute field index
// across the full 2600-field stream.
func buildCoreDump(t *testing.T, overrides map[int]uint16) string {
	t.Helper()
	const (
		numChannels  = 512
		numErasable  = 8 * 0400
		numRuntime   = 7 + 16 + 1 + 11 + 5
		totalFields  = numChannels + numErasable + numRuntime
	)
	var b strings.Builder
	for i := 0; i < totalFields; i++ {
		v := overrides[i]
		b.WriteString(strconv.FormatUint(uint64(v), 8))
		b.WriteByte('\n')
	}
	return b.String()
}

func writeCoreDumpFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "core.dump")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write core dump: %v", err)
	}
	return path
}

func TestLoadCoreDumpAppliesErasableAndChannels(t *testing.T) {
	overrides := map[int]uint16{
		5:   0123, // channel 5
		512: 0777, // erasable[0][0]
	}
	path := writeCoreDumpFile(t, buildCoreDump(t, overrides))

	machine := vm.NewVM()
	if err := LoadCoreDump(machine, path, CoreDumpOptions{}); err != nil {
		t.Fatalf("LoadCoreDump: %v", err)
	}
	if got := machine.Channels.Read(5); got != 0123 {
		t.Errorf("channel 5 = %o, want %o", got, 0123)
	}
	if got := machine.Memory.ReadErasable(0, 0); got != 0777 {
		t.Errorf("erasable[0][0] = %o, want %o", got, 0777)
	}
}

func TestLoadCoreDumpErasableOnlySkipsChannelsAndLowBank0(t *testing.T) {
	overrides := map[int]uint16{
		5:   0123, // channel 5, must be ignored
		512: 0777, // erasable[0][0], below the 010 cutoff, must be ignored
		512 + 010: 0456, // erasable[0][010], must be applied
	}
	path := writeCoreDumpFile(t, buildCoreDump(t, overrides))

	machine := vm.NewVM()
	if err := LoadCoreDump(machine, path, CoreDumpOptions{ErasableOnly: true}); err != nil {
		t.Fatalf("LoadCoreDump: %v", err)
	}
	if got := machine.Channels.Read(5); got != 0 {
		t.Errorf("channel 5 = %o, want 0 (channels ignored in erasable-only mode)", got)
	}
	if got := machine.Memory.ReadErasable(0, 0); got != 0 {
		t.Errorf("erasable[0][0] = %o, want 0 (below the 010 cutoff)", got)
	}
	if got := machine.Memory.ReadErasable(010, 0); got != 0456 {
		t.Errorf("erasable[0][010] = %o, want %o", got, 0456)
	}
}

func TestLoadCoreDumpTruncatedFileFails(t *testing.T) {
	path := writeCoreDumpFile(t, "0 0 0\n")
	machine := vm.NewVM()
	if err := LoadCoreDump(machine, path, CoreDumpOptions{}); err == nil {
		t.Fatal("expected error for a truncated core dump")
	}
}

func TestLoadCoreDumpRejectsNonOctal(t *testing.T) {
	overrides := map[int]uint16{}
	dump := buildCoreDump(t, overrides)
	// Corrupt the first field with a non-octal token.
	dump = "xyz" + dump[1:]
	path := writeCoreDumpFile(t, dump)

	machine := vm.NewVM()
	if err := LoadCoreDump(machine, path, CoreDumpOptions{}); err == nil {
		t.Fatal("expected error for a non-octal field")
	}
}
