package codegen

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/flowlabs/bpf2c/asm"
	"github.com/flowlabs/bpf2c/elfview"
)

// loadProgram implements the Program Loader: it copies a section's raw
// bytes into an output buffer, one entry per instruction, and assigns the
// program name from the symbol bound to offset 0 in that section, falling
// back to the section name itself when no such symbol exists.
func (g *Generator) loadProgram(sec *section, prog elfview.ProgramSection) error {
	if len(prog.Data)%asm.InsnSize != 0 {
		return newErr(ElfStructural, "load program "+prog.Name,
			fmt.Errorf("section size %d is not a multiple of instruction size %d", len(prog.Data), asm.InsnSize))
	}
	count := len(prog.Data) / asm.InsnSize
	sec.output = make([]outputInsn, count)
	for i := 0; i < count; i++ {
		sec.output[i] = outputInsn{
			inst:   asm.Decode(prog.Data[i*asm.InsnSize:]),
			offset: i,
		}
	}

	if sym, ok := g.view.SymbolAt(prog.Index, 0); ok && sym.Name != "" {
		sec.programName = sym.Name
	} else {
		sec.programName = prog.Name
	}

	log.WithField("section", prog.Name).WithField("program", sec.programName).
		Debugf("loaded %d instructions", count)
	return nil
}

// attachRelocations implements Relocation Attachment: every relocation
// entry against the program section is resolved to a symbol name and
// stamped onto the corresponding output instruction.
func (g *Generator) attachRelocations(sec *section, prog elfview.ProgramSection) error {
	relocs, ok, err := g.view.Relocations(prog.Name)
	if err != nil {
		return newErr(RelocationResolution, "attach relocations to "+prog.Name, err)
	}
	if !ok {
		return nil
	}
	mapsSectionIndex, _ := g.view.SectionIndex("maps")

	for _, r := range relocs {
		idx := int(r.Offset) / asm.InsnSize
		if idx < 0 || idx >= len(sec.output) {
			return newErr(RelocationResolution, "attach relocations to "+prog.Name,
				fmt.Errorf("relocation at byte offset %d is outside the %d-instruction section", r.Offset, len(sec.output)))
		}
		sec.output[idx].relocation = r.Symbol.Name

		if int(r.Symbol.Section) == mapsSectionIndex {
			if _, ok := g.maps.ByName(r.Symbol.Name); !ok {
				return newErr(MapMissing, "attach relocations to "+prog.Name,
					fmt.Errorf("relocation references undefined map %q", r.Symbol.Name))
			}
		}
	}
	return nil
}
