package codegen

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowlabs/bpf2c/elfview"
	"github.com/flowlabs/bpf2c/guid"
	"github.com/flowlabs/bpf2c/internal/fixture"
)

// A program section with no symbol bound at offset 0 still translates,
// falling back to the section name, matching the ground-truth original's
// "!program_name.empty() ? program_name : section_name" behavior rather
// than rejecting the object outright.
func TestLoadProgramFallsBackToSectionName(t *testing.T) {
	b := fixture.New()
	b.Exit()
	insn, err := b.Assemble()
	require.NoError(t, err)

	data := fixture.BuildObject([]fixture.ObjectSection{
		{Name: "xdp_prog", Type: fixture.ShtProgbit, Flags: fixture.ShfAlloc | fixture.ShfExec, Data: insn},
	})

	view, err := elfview.Open(bytes.NewReader(data))
	require.NoError(t, err)

	gen, err := New(view, Config{CName: "test"})
	require.NoError(t, err)

	var out bytes.Buffer
	err = gen.Generate(&out, []SectionSpec{{SectionName: "xdp_prog", ProgramType: guid.Nil, AttachType: guid.Nil}})
	require.NoError(t, err)
	require.Contains(t, out.String(), "xdp_prog(void* context)")
}
