// Package elfview is a read-only abstraction over a compiled eBPF object:
// sections by name and index, a flattened symbol table, and a relocation
// iterator that hides the REL/RELA distinction from callers.
package elfview

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io"
)

// View wraps a parsed ELF object.
type View struct {
	file    *elf.File
	symbols []elf.Symbol
}

// Open parses r as an ELF object and caches its symbol table.
func Open(r io.ReaderAt) (*View, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, fmt.Errorf("open elf object: %w", err)
	}
	syms, err := f.Symbols()
	if err != nil && err != elf.ErrNoSymbols {
		return nil, fmt.Errorf("read symbol table: %w", err)
	}
	return &View{file: f, symbols: syms}, nil
}

// ProgramSection is one "program" section: non-empty name, not starting
// with '.', type PROGBITS, flags ALLOC|EXEC.
type ProgramSection struct {
	Name  string
	Index int
	Data  []byte
}

// ProgramSections returns every program section in section-table order.
func (v *View) ProgramSections() ([]ProgramSection, error) {
	var out []ProgramSection
	for i, sec := range v.file.Sections {
		if sec.Name == "" || sec.Name[0] == '.' {
			continue
		}
		if sec.Type != elf.SHT_PROGBITS {
			continue
		}
		const wantFlags = elf.SHF_ALLOC | elf.SHF_EXECINSTR
		if sec.Flags&wantFlags != wantFlags {
			continue
		}
		data, err := sec.Data()
		if err != nil {
			return nil, fmt.Errorf("read section %q: %w", sec.Name, err)
		}
		out = append(out, ProgramSection{Name: sec.Name, Index: i, Data: data})
	}
	return out, nil
}

// Section returns the named section's raw bytes, or ok=false if absent.
func (v *View) Section(name string) (data []byte, ok bool, err error) {
	sec := v.file.Section(name)
	if sec == nil {
		return nil, false, nil
	}
	data, err = sec.Data()
	if err != nil {
		return nil, true, fmt.Errorf("read section %q: %w", name, err)
	}
	return data, true, nil
}

// SectionIndex returns the section-table index of the named section, or
// ok=false if it does not exist.
func (v *View) SectionIndex(name string) (idx int, ok bool) {
	for i, sec := range v.file.Sections {
		if sec.Name == name {
			return i, true
		}
	}
	return 0, false
}

// Symbols returns the object's symbol table.
func (v *View) Symbols() []elf.Symbol {
	return v.symbols
}

// ByteOrder returns the object's native byte order.
func (v *View) ByteOrder() binary.ByteOrder {
	return v.file.ByteOrder
}

// SymbolAt returns the first symbol bound to the given section index whose
// value equals the given byte offset.
func (v *View) SymbolAt(sectionIndex int, value uint64) (elf.Symbol, bool) {
	for _, s := range v.symbols {
		if int(s.Section) == sectionIndex && s.Value == value {
			return s, true
		}
	}
	return elf.Symbol{}, false
}

// Relocation is one decoded relocation entry, symbol-index resolution
// applied.
type Relocation struct {
	Offset uint64 // byte offset into the target section
	Symbol elf.Symbol
	Index  int // index into the symbol table (0 = none)
}

// Relocations decodes the `.rel<name>`/`.rela<name>` section attached to
// the named program section, resolving each entry's symbol index against
// the cached symbol table. Returns (nil, false, nil) if neither relocation
// section exists.
func (v *View) Relocations(sectionName string) ([]Relocation, bool, error) {
	for _, prefix := range []string{".rela", ".rel"} {
		sec := v.file.Section(prefix + sectionName)
		if sec == nil {
			continue
		}
		data, err := sec.Data()
		if err != nil {
			return nil, true, fmt.Errorf("read relocation section %q: %w", sec.Name, err)
		}
		isRela := prefix == ".rela"
		relocs, err := v.decodeRelocations(data, isRela)
		if err != nil {
			return nil, true, fmt.Errorf("decode relocation section %q: %w", sec.Name, err)
		}
		return relocs, true, nil
	}
	return nil, false, nil
}

func (v *View) decodeRelocations(data []byte, isRela bool) ([]Relocation, error) {
	order := v.file.ByteOrder
	entrySize := 16
	if isRela {
		entrySize = 24
	}
	if v.file.Class == elf.ELFCLASS32 {
		entrySize = 8
		if isRela {
			entrySize = 12
		}
	}
	if len(data)%entrySize != 0 {
		return nil, fmt.Errorf("relocation section size %d is not a multiple of entry size %d", len(data), entrySize)
	}

	var out []Relocation
	for off := 0; off < len(data); off += entrySize {
		entry := data[off : off+entrySize]
		var r Relocation
		var symIdx uint32
		if v.file.Class == elf.ELFCLASS64 {
			r.Offset = order.Uint64(entry[0:8])
			info := order.Uint64(entry[8:16])
			symIdx = uint32(info >> 32)
		} else {
			r.Offset = uint64(order.Uint32(entry[0:4]))
			info := order.Uint32(entry[4:8])
			symIdx = info >> 8
		}
		r.Index = int(symIdx)
		if symIdx == 0 || int(symIdx) > len(v.symbols) {
			return nil, fmt.Errorf("relocation symbol index %d out of range (symtab has %d entries)", symIdx, len(v.symbols))
		}
		r.Symbol = v.symbols[symIdx-1]
		out = append(out, r)
	}
	return out, nil
}

// SectionName returns the name of the section at the given index, or ""
// if out of range.
func (v *View) SectionName(index int) string {
	if index < 0 || index >= len(v.file.Sections) {
		return ""
	}
	return v.file.Sections[index].Name
}
