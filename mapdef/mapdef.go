// Package mapdef parses the ELF "maps" section into an index-ordered,
// name-addressable table of map definitions.
package mapdef

import (
	"debug/elf"
	"encoding/binary"
	"fmt"

	"github.com/bits-and-blooms/bitset"
)

// RecordSize is the fixed, on-disk size of one ebpf_map_definition_in_file_t
// record: type, key_size, value_size, max_entries, inner_map_idx, pinning,
// id, inner_id — eight uint32 fields.
const RecordSize = 32

// Definition is one named map definition plus its stable table index.
type Definition struct {
	Name        string
	Index       int
	Type        uint32
	KeySize     uint32
	ValueSize   uint32
	MaxEntries  uint32
	InnerMapIdx uint32
	PinningType uint32
	ID          uint32
	InnerMapID  uint32
}

// Table is an ordered, name-addressable set of map definitions.
type Table struct {
	defs   []Definition
	byName map[string]int
}

// Len returns the number of map definitions.
func (t *Table) Len() int { return len(t.defs) }

// Ordered returns the definitions in ascending index order.
func (t *Table) Ordered() []Definition { return t.defs }

// ByName looks up a map definition by symbol name.
func (t *Table) ByName(name string) (Definition, bool) {
	i, ok := t.byName[name]
	if !ok {
		return Definition{}, false
	}
	return t.defs[i], true
}

// BadMapSectionError reports a structurally invalid "maps" section.
type BadMapSectionError struct {
	Reason string
}

func (e *BadMapSectionError) Error() string {
	return fmt.Sprintf("bad maps section: %s", e.Reason)
}

// Parse builds a Table from the raw "maps" section bytes and the symbols
// bound to it. order is the section's byte order (the object's own
// endianness). sectionIndex identifies the "maps" section in the symbol
// table's Section field.
func Parse(data []byte, symbols []elf.Symbol, sectionIndex int, order binary.ByteOrder) (*Table, error) {
	if len(data)%RecordSize != 0 {
		return nil, &BadMapSectionError{Reason: fmt.Sprintf("section size %d is not a multiple of record size %d", len(data), RecordSize)}
	}
	count := len(data) / RecordSize

	type rawEntry struct {
		name  string
		value uint64
		size  uint64
	}
	var entries []rawEntry
	for _, s := range symbols {
		if int(s.Section) != sectionIndex {
			continue
		}
		if elf.ST_TYPE(s.Info) != elf.STT_OBJECT && elf.ST_TYPE(s.Info) != elf.STT_NOTYPE {
			continue
		}
		if s.Size != 0 && s.Size != RecordSize {
			return nil, &BadMapSectionError{Reason: fmt.Sprintf("symbol %q has size %d, want %d", s.Name, s.Size, RecordSize)}
		}
		entries = append(entries, rawEntry{name: s.Name, value: s.Value, size: s.Size})
	}

	defs := make([]Definition, count)
	seen := bitset.New(uint(count))
	for _, e := range entries {
		if e.value%RecordSize != 0 {
			return nil, &BadMapSectionError{Reason: fmt.Sprintf("symbol %q has unaligned offset %d", e.name, e.value)}
		}
		idx := int(e.value / RecordSize)
		if idx >= count {
			return nil, &BadMapSectionError{Reason: fmt.Sprintf("symbol %q index %d exceeds record count %d", e.name, idx, count)}
		}
		rec := data[idx*RecordSize : (idx+1)*RecordSize]
		defs[idx] = Definition{
			Name:        e.name,
			Index:       idx,
			Type:        order.Uint32(rec[0:4]),
			KeySize:     order.Uint32(rec[4:8]),
			ValueSize:   order.Uint32(rec[8:12]),
			MaxEntries:  order.Uint32(rec[12:16]),
			InnerMapIdx: order.Uint32(rec[16:20]),
			PinningType: order.Uint32(rec[20:24]),
			ID:          order.Uint32(rec[24:28]),
			InnerMapID:  order.Uint32(rec[28:32]),
		}
		seen.Set(uint(idx))
	}

	if idx, ok := seen.NextClear(0); ok && int(idx) < count {
		return nil, &BadMapSectionError{Reason: fmt.Sprintf("map index %d has no symbol; map indices must be dense starting at 0", idx)}
	}

	byName := make(map[string]int, count)
	for i, d := range defs {
		if d.Name == "" {
			continue
		}
		byName[d.Name] = i
	}

	return &Table{defs: defs, byName: byName}, nil
}
