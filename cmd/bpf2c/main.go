// Command bpf2c translates a compiled eBPF ELF object into a C source file.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/flowlabs/bpf2c/codegen"
	"github.com/flowlabs/bpf2c/elfview"
)

var flags struct {
	input               string
	output              string
	manifestPath        string
	cName               string
	emitTypeGuids       bool
	emitVerboseComments bool
	verbose             bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bpf2c",
		Short: "Translate a compiled eBPF object into a C source file",
		RunE:  run,
	}
	var fs *pflag.FlagSet = cmd.Flags()
	fs.StringVar(&flags.input, "input", "", "path to the compiled eBPF ELF object (required)")
	fs.StringVar(&flags.output, "output", "", "path to write the emitted C source (default stdout)")
	fs.StringVar(&flags.manifestPath, "config", "", "path to the YAML section manifest (required)")
	fs.StringVar(&flags.cName, "c-name", "bpf2c", "base name for the emitted metadata_table_t variable")
	fs.BoolVar(&flags.emitTypeGuids, "emit-type-guids", false, "emit static GUID declarations for program/attach types")
	fs.BoolVar(&flags.emitVerboseComments, "verbose-comments", false, "emit one trace comment per lowered instruction")
	fs.BoolVar(&flags.verbose, "verbose", false, "enable debug logging")
	return cmd
}

func run(cmd *cobra.Command, _ []string) error {
	if flags.verbose {
		log.SetLevel(log.DebugLevel)
	}
	if flags.input == "" || flags.manifestPath == "" {
		return fmt.Errorf("--input and --config are required")
	}

	m, err := loadManifest(flags.manifestPath)
	if err != nil {
		return err
	}
	specs, err := m.specs()
	if err != nil {
		return err
	}

	f, err := os.Open(flags.input)
	if err != nil {
		return fmt.Errorf("open input %q: %w", flags.input, err)
	}
	defer f.Close()

	view, err := elfview.Open(f)
	if err != nil {
		return err
	}

	if err := preflight(view, specs); err != nil {
		return err
	}

	gen, err := codegen.New(view, codegen.Config{
		CName:               flags.cName,
		EmitTypeGuids:       flags.emitTypeGuids,
		EmitVerboseComments: flags.emitVerboseComments,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if flags.output != "" {
		w, err := os.Create(flags.output)
		if err != nil {
			return fmt.Errorf("create output %q: %w", flags.output, err)
		}
		defer w.Close()
		out = w

		headerPath := filepath.Join(filepath.Dir(flags.output), "bpf2c.h")
		if err := os.WriteFile(headerPath, []byte(codegen.Header), 0o644); err != nil {
			return fmt.Errorf("write %q: %w", headerPath, err)
		}
	}

	if err := gen.Generate(out, specs); err != nil {
		return err
	}
	log.WithField("sections", len(specs)).Info("translation complete")
	return nil
}

// preflight cross-validates the manifest against the object's actual
// program sections before any Generator runs, aggregating every
// independent mismatch instead of failing on the first.
func preflight(view *elfview.View, specs []codegen.SectionSpec) error {
	progs, err := view.ProgramSections()
	if err != nil {
		return err
	}
	present := make(map[string]bool, len(progs))
	for _, p := range progs {
		present[p.Name] = true
	}

	var result *multierror.Error
	named := make(map[string]bool, len(specs))
	for _, spec := range specs {
		named[spec.SectionName] = true
		if !present[spec.SectionName] {
			result = multierror.Append(result, fmt.Errorf("manifest names section %q, which is not a program section in %s", spec.SectionName, "the input object"))
		}
	}
	for _, p := range progs {
		if !named[p.Name] {
			result = multierror.Append(result, fmt.Errorf("program section %q in the input object is not named in the manifest", p.Name))
		}
	}
	return result.ErrorOrNil()
}
