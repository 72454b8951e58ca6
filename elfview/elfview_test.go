package elfview

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowlabs/bpf2c/asm"
	"github.com/flowlabs/bpf2c/internal/fixture"
)

// buildMinimalObject assembles a tiny ELF64 object with one program
// section ("xdp_prog", a map-bound LDDW), a "maps" section with one
// record, a symbol table naming both, and a .relaxdp_prog relocation
// pointing the first instruction at the "cache" map symbol.
func buildMinimalObject(t *testing.T) []byte {
	t.Helper()

	b := fixture.New()
	b.LoadMapFD(asm.R6)
	insn, err := b.Assemble()
	require.NoError(t, err)

	mapRecord := make([]byte, 32)
	binary.LittleEndian.PutUint32(mapRecord[0:4], 1)  // type
	binary.LittleEndian.PutUint32(mapRecord[4:8], 4)  // key_size
	binary.LittleEndian.PutUint32(mapRecord[8:12], 8) // value_size
	binary.LittleEndian.PutUint32(mapRecord[12:16], 1024)

	strtab, nameOffs := fixture.Strtab("xdp_prog", "cache")

	symtab := append([]byte{}, make([]byte, 24)...) // reserved null symbol
	symtab = append(symtab, fixture.Sym(nameOffs[0], (1<<4)|2, 1, 0, 16)...) // GLOBAL FUNC in section 1
	symtab = append(symtab, fixture.Sym(nameOffs[1], (1<<4)|1, 2, 0, 32)...) // GLOBAL OBJECT in section 2

	rela := fixture.Rela(0, 2, 1, 0) // offset 0, symbol index 2 ("cache")

	return fixture.BuildObject([]fixture.ObjectSection{
		{Name: "xdp_prog", Type: fixture.ShtProgbit, Flags: fixture.ShfAlloc | fixture.ShfExec, Data: insn},
		{Name: "maps", Type: fixture.ShtProgbit, Flags: fixture.ShfAlloc, Data: mapRecord},
		{Name: ".relaxdp_prog", Type: fixture.ShtRela, Data: rela, Link: 4, Info: 1, EntSize: 24},
		{Name: ".symtab", Type: fixture.ShtSymtab, Data: symtab, Link: 5, EntSize: 24},
		{Name: ".strtab", Type: fixture.ShtStrtab, Data: strtab},
	})
}

func TestOpenAndProgramSections(t *testing.T) {
	v, err := Open(bytes.NewReader(buildMinimalObject(t)))
	require.NoError(t, err)

	progs, err := v.ProgramSections()
	require.NoError(t, err)
	require.Len(t, progs, 1)
	assert.Equal(t, "xdp_prog", progs[0].Name)
	assert.Len(t, progs[0].Data, 16)
}

func TestSymbolAt(t *testing.T) {
	v, err := Open(bytes.NewReader(buildMinimalObject(t)))
	require.NoError(t, err)

	progs, err := v.ProgramSections()
	require.NoError(t, err)

	sym, ok := v.SymbolAt(progs[0].Index, 0)
	require.True(t, ok)
	assert.Equal(t, "xdp_prog", sym.Name)
}

func TestRelocationsResolveMapSymbol(t *testing.T) {
	v, err := Open(bytes.NewReader(buildMinimalObject(t)))
	require.NoError(t, err)

	relocs, ok, err := v.Relocations("xdp_prog")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, relocs, 1)
	assert.Equal(t, uint64(0), relocs[0].Offset)
	assert.Equal(t, "cache", relocs[0].Symbol.Name)
}

func TestMapsSectionNotClassifiedAsProgram(t *testing.T) {
	v, err := Open(bytes.NewReader(buildMinimalObject(t)))
	require.NoError(t, err)

	progs, err := v.ProgramSections()
	require.NoError(t, err)
	for _, p := range progs {
		assert.NotEqual(t, "maps", p.Name)
	}
}

func TestSectionAndByteOrder(t *testing.T) {
	v, err := Open(bytes.NewReader(buildMinimalObject(t)))
	require.NoError(t, err)

	data, ok, err := v.Section("maps")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, data, 32)
	assert.Equal(t, binary.LittleEndian, v.ByteOrder())

	_, ok, err = v.Section("does-not-exist")
	require.NoError(t, err)
	assert.False(t, ok)
}
