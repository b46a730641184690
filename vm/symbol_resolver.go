package vm

import (
	"fmt"
	"sort"
)

// SymbolResolver provides address-to-symbol lookup functionality for trace
// output. It maintains both forward (name->address) and reverse
// (address->name) mappings and can resolve addresses to the nearest symbol
// with offset, which is how rope listings annotate PC values.
type SymbolResolver struct {
	symbols         map[string]uint32
	addressToSymbol map[uint32]string
	sortedAddresses []uint32
}

// NewSymbolResolver creates a new symbol resolver from a symbol table.
func NewSymbolResolver(symbols map[string]uint32) *SymbolResolver {
	if symbols == nil {
		symbols = make(map[string]uint32)
	}

	addressToSymbol := make(map[uint32]string)
	for name, addr := range symbols {
		addressToSymbol[addr] = name
	}

	sortedAddresses := make([]uint32, 0, len(addressToSymbol))
	for addr := range addressToSymbol {
		sortedAddresses = append(sortedAddresses, addr)
	}
	sort.Slice(sortedAddresses, func(i, j int) bool {
		return sortedAddresses[i] < sortedAddresses[j]
	})

	return &SymbolResolver{
		symbols:         symbols,
		addressToSymbol: addressToSymbol,
		sortedAddresses: sortedAddresses,
	}
}

// LookupAddress returns the exact symbol name for an address, or "" if none.
func (sr *SymbolResolver) LookupAddress(address uint32) string {
	return sr.addressToSymbol[address]
}

// LookupSymbol returns the address for a symbol name.
func (sr *SymbolResolver) LookupSymbol(name string) (uint32, bool) {
	addr, ok := sr.symbols[name]
	return addr, ok
}

// ResolveAddress resolves an address to the nearest symbol at or before it,
// with offset.
func (sr *SymbolResolver) ResolveAddress(address uint32) (symbolName string, offset uint32, found bool) {
	if name, ok := sr.addressToSymbol[address]; ok {
		return name, 0, true
	}
	if len(sr.sortedAddresses) == 0 {
		return "", 0, false
	}
	idx := sort.Search(len(sr.sortedAddresses), func(i int) bool {
		return sr.sortedAddresses[i] > address
	})
	if idx == 0 {
		return "", 0, false
	}
	nearestAddr := sr.sortedAddresses[idx-1]
	symbolName = sr.addressToSymbol[nearestAddr]
	offset = address - nearestAddr
	return symbolName, offset, true
}

// FormatAddress formats an address with optional symbol annotation.
func (sr *SymbolResolver) FormatAddress(address uint32) string {
	symbolName, offset, found := sr.ResolveAddress(address)
	if !found {
		return fmt.Sprintf("%05o", address)
	}
	if offset == 0 {
		return fmt.Sprintf("%s (%05o)", symbolName, address)
	}
	return fmt.Sprintf("%s+%d (%05o)", symbolName, offset, address)
}

// FormatAddressCompact formats an address with symbol annotation, compactly.
func (sr *SymbolResolver) FormatAddressCompact(address uint32) string {
	symbolName, offset, found := sr.ResolveAddress(address)
	if !found {
		return fmt.Sprintf("%05o", address)
	}
	if offset == 0 {
		return symbolName
	}
	return fmt.Sprintf("%s+%d", symbolName, offset)
}

// HasSymbols reports whether any symbols are loaded.
func (sr *SymbolResolver) HasSymbols() bool {
	return len(sr.symbols) > 0
}

// GetSymbolCount returns the number of loaded symbols.
func (sr *SymbolResolver) GetSymbolCount() int {
	return len(sr.symbols)
}

// GetAllSymbols returns a copy of the symbol map.
func (sr *SymbolResolver) GetAllSymbols() map[string]uint32 {
	result := make(map[string]uint32, len(sr.symbols))
	for name, addr := range sr.symbols {
		result[name] = addr
	}
	return result
}
