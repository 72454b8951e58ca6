package codegen

import (
	"fmt"
	"io"
)

// emit implements the C Emitter: header, map table, per-program helper
// tables and function bodies, and the program registry, in that order.
func (g *Generator) emit(w io.Writer, sections []*section) error {
	bw := &errWriter{w: w}

	bw.printf("#include \"bpf2c.h\"\n\n")

	g.emitMaps(bw)

	nonEmpty := make([]*section, 0, len(sections))
	for _, sec := range sections {
		if len(sec.output) == 0 {
			continue
		}
		nonEmpty = append(nonEmpty, sec)
	}

	for _, sec := range nonEmpty {
		g.emitSection(bw, sec)
	}

	g.emitProgramRegistry(bw, nonEmpty)

	if bw.err != nil {
		return newErr(FormatFailure, "emit C source", bw.err)
	}
	return nil
}

// errWriter collapses every write's error check into a single deferred
// check at the end of emit, matching the "format failure is fatal, all or
// nothing" rule in the error model.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}

func (g *Generator) emitMaps(bw *errWriter) {
	defs := g.maps.Ordered()
	if len(defs) == 0 {
		bw.printf("static map_entry_t*\n_get_maps(size_t* count)\n{\n    *count = 0;\n    return NULL;\n}\n\n")
		return
	}
	bw.printf("static map_entry_t _maps[] = {\n")
	for _, d := range defs {
		bw.printf("    { NULL, { %d, %d, %d, %d, %d, %d, %d, %d }, \"%s\" },\n",
			d.Type, d.KeySize, d.ValueSize, d.MaxEntries, d.InnerMapIdx, d.PinningType, d.ID, d.InnerMapID, d.Name)
	}
	bw.printf("};\n\n")
	bw.printf("static map_entry_t*\n_get_maps(size_t* count)\n{\n    *count = %d;\n    return _maps;\n}\n\n", len(defs))
}

func (g *Generator) emitSection(bw *errWriter, sec *section) {
	prog := sanitizeName(sec.programName)

	if len(sec.helpers.entries) > 0 {
		bw.printf("static helper_function_entry_t %s_helpers[] = {\n", prog)
		for _, h := range sec.helpers.entries {
			bw.printf("    { NULL, %d, \"%s\" },\n", h.ImmID, h.Name)
		}
		bw.printf("};\n\n")
	}

	if g.config.EmitTypeGuids {
		bw.printf("static const GUID %s_program_type = %s;\n", prog, sec.programType.CStructLiteral())
		bw.printf("static const GUID %s_attach_type = %s;\n\n", prog, sec.attachType.CStructLiteral())
	}

	mapIndices := sec.orderedMapIndices()
	if len(mapIndices) > 0 {
		bw.printf("static uint16_t %s_maps[] = {\n", prog)
		for _, idx := range mapIndices {
			bw.printf("    %d,\n", idx)
		}
		bw.printf("};\n\n")
	}

	g.emitFunction(bw, sec, prog)
}

func (g *Generator) emitFunction(bw *errWriter, sec *section, prog string) {
	bw.printf("static uint64_t\n%s(void* context)\n{\n", prog)
	bw.printf("    uint64_t stack[(UBPF_STACK_SIZE + 7) / 8];\n")
	for _, r := range sec.orderedRegisters() {
		bw.printf("    register uint64_t %s = 0;\n", r.Name())
	}
	bw.printf("    r1 = (uintptr_t)context;\n")
	bw.printf("    r10 = (uintptr_t)((uint8_t*)stack + sizeof(stack));\n\n")

	for i := range sec.output {
		insn := &sec.output[i]
		if len(insn.lines) == 0 {
			continue
		}
		if insn.jumpTarget && insn.label != "" {
			bw.printf("%s:\n", insn.label)
		}
		if insn.lineInfoFile != "" {
			bw.printf("#line %d \"%s\"\n", insn.lineInfoLine, escapeString(insn.lineInfoFile))
		}
		if g.config.EmitVerboseComments {
			bw.printf("    // opcode=0x%02x pc=%d dst=%s src=%s offset=%d imm=%d\n",
				uint8(insn.inst.OpCode()), insn.offset, insn.inst.Dst(), insn.inst.Src(), insn.inst.Off(), insn.inst.Imm())
		}
		for _, line := range insn.lines {
			bw.printf("    %s\n", line)
		}
	}

	bw.printf("}\n\n")
}

func (g *Generator) emitProgramRegistry(bw *errWriter, sections []*section) {
	bw.printf("static program_entry_t _programs[] = {\n")
	for _, sec := range sections {
		prog := sanitizeName(sec.programName)
		mapsPtr := "NULL"
		if len(sec.orderedMapIndices()) > 0 {
			mapsPtr = prog + "_maps"
		}
		helpersPtr := "NULL"
		if len(sec.helpers.entries) > 0 {
			helpersPtr = prog + "_helpers"
		}
		typePtr, attachPtr := "NULL", "NULL"
		if g.config.EmitTypeGuids {
			typePtr = "&" + prog + "_program_type"
			attachPtr = "&" + prog + "_attach_type"
		}
		bw.printf("    { %s, \"%s\", \"%s\", %s, %d, %s, %d, %d, %s, %s },\n",
			prog, sec.sectionName, sec.programName,
			mapsPtr, len(sec.orderedMapIndices()),
			helpersPtr, len(sec.helpers.entries),
			len(sec.output),
			typePtr, attachPtr)
	}
	bw.printf("};\n\n")

	bw.printf("static program_entry_t*\n_get_programs(size_t* count)\n{\n    *count = %d;\n    return _programs;\n}\n\n", len(sections))

	name := g.config.CName
	if name == "" {
		name = "bpf2c"
	}
	bw.printf("metadata_table_t %s_metadata_table = { _get_programs, _get_maps };\n", name)
}
