// Package codegen implements the eBPF instruction decoder / C-lowering
// engine: it turns a parsed ELF object's program sections into a single C
// source stream compilable against bpf2c.h.
package codegen

import (
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"

	"github.com/flowlabs/bpf2c/btf"
	"github.com/flowlabs/bpf2c/elfview"
	"github.com/flowlabs/bpf2c/guid"
	"github.com/flowlabs/bpf2c/mapdef"
)

// Config controls optional emitter behavior not present in the original
// source's compile-time flags.
type Config struct {
	// CName names the emitted metadata_table_t variable: <CName>_metadata_table.
	CName string
	// EmitTypeGuids emits static GUID declarations for program/attach
	// types; if false, the *_program_type/*_attach_type fields in
	// _programs[] are emitted as NULL.
	EmitTypeGuids bool
	// EmitVerboseComments emits one trace comment per lowered
	// instruction, reinstating a debug feature the distillation dropped.
	EmitVerboseComments bool
}

// SectionSpec names one program section to translate and the program and
// attach type GUIDs its emitted program entry carries.
type SectionSpec struct {
	SectionName string
	ProgramType guid.GUID
	AttachType  guid.GUID
}

// Generator owns one translation session: one ELF view, one map table, and
// one BTF line-info table. A Generator is not safe for concurrent use, but
// independent Generators may run on independent goroutines.
type Generator struct {
	view   *elfview.View
	maps   *mapdef.Table
	lines  btf.Table
	config Config
}

// New constructs a Generator from an already-opened ELF view, parsing its
// "maps" section (if present) and its .BTF/.BTF.ext line info (if present).
func New(view *elfview.View, config Config) (*Generator, error) {
	g := &Generator{view: view, config: config}

	mapsData, ok, err := view.Section("maps")
	if err != nil {
		return nil, newErr(ElfStructural, "open maps section", err)
	}
	if ok {
		idx, _ := view.SectionIndex("maps")
		tbl, err := mapdef.Parse(mapsData, view.Symbols(), idx, view.ByteOrder())
		if err != nil {
			return nil, newErr(BadMapSection, "parse maps section", err)
		}
		g.maps = tbl
	} else {
		g.maps, _ = mapdef.Parse(nil, nil, 0, view.ByteOrder())
	}

	btfData, _, err := view.Section(".BTF")
	if err != nil {
		return nil, newErr(ElfStructural, "open .BTF section", err)
	}
	btfExtData, _, err := view.Section(".BTF.ext")
	if err != nil {
		return nil, newErr(ElfStructural, "open .BTF.ext section", err)
	}
	lines, err := btf.BuildTable(btfData, btfExtData, 8)
	if err != nil {
		return nil, newErr(ElfStructural, "parse BTF line info", err)
	}
	g.lines = lines

	return g, nil
}

// Generate translates every section named in specs, in the order given,
// and writes the resulting C source to w.
func (g *Generator) Generate(w io.Writer, specs []SectionSpec) error {
	progs, err := g.view.ProgramSections()
	if err != nil {
		return newErr(ElfStructural, "enumerate program sections", err)
	}
	byName := make(map[string]elfview.ProgramSection, len(progs))
	for _, p := range progs {
		byName[p.Name] = p
	}

	sections := make([]*section, 0, len(specs))
	for _, spec := range specs {
		prog, ok := byName[spec.SectionName]
		if !ok {
			return newErr(ElfStructural, "generate "+spec.SectionName,
				fmt.Errorf("section %q is not a program section in this object", spec.SectionName))
		}
		sec := newSection(spec.SectionName, spec.ProgramType, spec.AttachType)
		if err := g.loadProgram(sec, prog); err != nil {
			return err
		}
		if err := g.attachRelocations(sec, prog); err != nil {
			return err
		}
		if err := assignLabels(sec); err != nil {
			return err
		}
		if err := g.lowerSection(sec); err != nil {
			return err
		}
		g.attachLineInfo(sec)
		sections = append(sections, sec)
		log.WithField("section", spec.SectionName).Info("translated program section")
	}

	return g.emit(w, sections)
}

// attachLineInfo stamps each output instruction with its BTF
// source location, if any was recorded for this section/ordinal.
func (g *Generator) attachLineInfo(sec *section) {
	if g.lines == nil {
		return
	}
	for i := range sec.output {
		if l, ok := g.lines.Lookup(sec.sectionName, sec.output[i].offset); ok {
			sec.output[i].lineInfoFile = l.File
			sec.output[i].lineInfoText = l.Source
			sec.output[i].lineInfoLine = l.Line
		}
	}
}
