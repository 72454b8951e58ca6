package codegen

import (
	"github.com/bits-and-blooms/bitset"

	"github.com/flowlabs/bpf2c/asm"
	"github.com/flowlabs/bpf2c/guid"
)

// outputInsn is one entry in a section's output buffer: the raw
// instruction, its ordinal, any relocation symbol attached to it, whether
// it is a jump target, its assigned label, and the C lines it lowers to.
type outputInsn struct {
	inst         asm.Insn
	offset       int
	relocation   string
	jumpTarget   bool
	label        string
	lines        []string
	lineInfoFile string
	lineInfoText string
	lineInfoLine uint32
}

// helperEntry is one row of a section's helper-function table.
type helperEntry struct {
	Name       string
	ImmID      int32
	TableIndex int
}

// helperTable is an insertion-ordered, name-addressable set of helper
// entries, realized as a slice plus a name index rather than an unordered
// map, so iteration order is always first-occurrence order.
type helperTable struct {
	entries []helperEntry
	byName  map[string]int
}

func newHelperTable() *helperTable {
	return &helperTable{byName: map[string]int{}}
}

// lookupOrInsert returns the table index for name, inserting a new entry
// at the end of the table (first-occurrence order) if not already present.
func (h *helperTable) lookupOrInsert(name string, imm int32) int {
	if idx, ok := h.byName[name]; ok {
		return idx
	}
	idx := len(h.entries)
	h.entries = append(h.entries, helperEntry{Name: name, ImmID: imm, TableIndex: idx})
	h.byName[name] = idx
	return idx
}

// section is the per-program-section working state the spec calls a
// "section record".
type section struct {
	sectionName         string
	programName         string
	programType         guid.GUID
	attachType          guid.GUID
	output              []outputInsn
	referencedRegisters *bitset.BitSet
	referencedMaps      *bitset.BitSet
	helpers             *helperTable
}

func newSection(name string, progType, attachType guid.GUID) *section {
	return &section{
		sectionName:         name,
		programType:         progType,
		attachType:          attachType,
		referencedRegisters: bitset.New(11),
		referencedMaps:      bitset.New(0),
		helpers:             newHelperTable(),
	}
}

// markRegister records that regName(r) was referenced in an emitted line.
func (s *section) markRegister(r asm.Reg) {
	s.referencedRegisters.Set(uint(r))
}

// markMapIndex records that map index idx was referenced by an LDDW
// relocation, growing the backing bitset if needed.
func (s *section) markMapIndex(idx int) {
	s.referencedMaps.Set(uint(idx)) // Set auto-grows the bitset
}

// orderedMapIndices returns the referenced map indices in ascending order.
func (s *section) orderedMapIndices() []int {
	var out []int
	for i, ok := s.referencedMaps.NextSet(0); ok; i, ok = s.referencedMaps.NextSet(i + 1) {
		out = append(out, int(i))
	}
	return out
}

// orderedRegisters returns the referenced registers in ascending order.
func (s *section) orderedRegisters() []asm.Reg {
	var out []asm.Reg
	for i, ok := s.referencedRegisters.NextSet(0); ok; i, ok = s.referencedRegisters.NextSet(i + 1) {
		out = append(out, asm.Reg(i))
	}
	return out
}
