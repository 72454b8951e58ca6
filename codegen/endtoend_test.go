package codegen

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowlabs/bpf2c/asm"
	"github.com/flowlabs/bpf2c/elfview"
	"github.com/flowlabs/bpf2c/guid"
	"github.com/flowlabs/bpf2c/internal/fixture"
)

// buildEndToEndObject assembles an object with one program section
// ("xdp_prog") that loads a map pointer, moves an immediate into r0,
// and exits, plus the "maps" section and symbol/relocation tables
// needed to resolve the map load. It drives the full ELF-bytes-in /
// C-text-out path, as TestLoadProgramFallsBackToSectionName also does,
// and is the only such test with a map relocation.
func buildEndToEndObject(t *testing.T) []byte {
	t.Helper()

	b := fixture.New()
	b.LoadMapFD(asm.R6)
	b.MovImm64(asm.R0, 7)
	b.Exit()
	insn, err := b.Assemble()
	require.NoError(t, err)

	mapRecord := make([]byte, 32)
	// type=1 (hash), key_size=4, value_size=8, max_entries=1024, rest 0.
	for i, v := range []uint32{1, 4, 8, 1024, 0, 0, 0, 0} {
		off := i * 4
		mapRecord[off], mapRecord[off+1], mapRecord[off+2], mapRecord[off+3] =
			byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
	}

	strtab, nameOffs := fixture.Strtab("xdp_prog", "cache")
	symtab := append([]byte{}, make([]byte, 24)...)
	symtab = append(symtab, fixture.Sym(nameOffs[0], (1<<4)|2, 1, 0, uint64(len(insn)))...)
	symtab = append(symtab, fixture.Sym(nameOffs[1], (1<<4)|1, 2, 0, 32)...)

	rela := fixture.Rela(0, 2, 1, 0)

	return fixture.BuildObject([]fixture.ObjectSection{
		{Name: "xdp_prog", Type: fixture.ShtProgbit, Flags: fixture.ShfAlloc | fixture.ShfExec, Data: insn},
		{Name: "maps", Type: fixture.ShtProgbit, Flags: fixture.ShfAlloc, Data: mapRecord},
		{Name: ".relaxdp_prog", Type: fixture.ShtRela, Data: rela, Link: 4, Info: 1, EntSize: 24},
		{Name: ".symtab", Type: fixture.ShtSymtab, Data: symtab, Link: 5, EntSize: 24},
		{Name: ".strtab", Type: fixture.ShtStrtab, Data: strtab},
	})
}

func TestGenerateEndToEnd(t *testing.T) {
	view, err := elfview.Open(bytes.NewReader(buildEndToEndObject(t)))
	require.NoError(t, err)

	gen, err := New(view, Config{CName: "test"})
	require.NoError(t, err)

	var out bytes.Buffer
	err = gen.Generate(&out, []SectionSpec{{SectionName: "xdp_prog", ProgramType: guid.Nil, AttachType: guid.Nil}})
	require.NoError(t, err)

	c := out.String()
	assert.Contains(t, c, `#include "bpf2c.h"`)
	assert.Contains(t, c, "r6 = POINTER(_maps[0].address);")
	assert.Contains(t, c, "r0 = IMMEDIATE(7);")
	assert.Contains(t, c, "return r0;")
	assert.Contains(t, c, "static program_entry_t _programs[]")
	assert.True(t, strings.Contains(c, `"xdp_prog"`))
}
