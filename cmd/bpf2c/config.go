package main

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/flowlabs/bpf2c/codegen"
	"github.com/flowlabs/bpf2c/guid"
)

// manifestSection is one entry of the YAML manifest naming a program
// section's type GUIDs, the surface the original system's build step
// supplied out of band.
type manifestSection struct {
	Section     string `mapstructure:"section"`
	ProgramType string `mapstructure:"program_type"`
	AttachType  string `mapstructure:"attach_type"`
}

type manifest struct {
	Sections []manifestSection `mapstructure:"sections"`
}

func loadManifest(path string) (manifest, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return manifest{}, fmt.Errorf("read manifest %q: %w", path, err)
	}
	var m manifest
	if err := v.Unmarshal(&m); err != nil {
		return manifest{}, fmt.Errorf("parse manifest %q: %w", path, err)
	}
	return m, nil
}

// specs converts the manifest's sections into codegen.SectionSpec values.
// Every GUID field is optional and defaults to the nil GUID.
func (m manifest) specs() ([]codegen.SectionSpec, error) {
	out := make([]codegen.SectionSpec, 0, len(m.Sections))
	for _, s := range m.Sections {
		spec := codegen.SectionSpec{SectionName: s.Section}
		if s.ProgramType != "" {
			g, err := guid.Parse(s.ProgramType)
			if err != nil {
				return nil, fmt.Errorf("section %q: program_type: %w", s.Section, err)
			}
			spec.ProgramType = g
		}
		if s.AttachType != "" {
			g, err := guid.Parse(s.AttachType)
			if err != nil {
				return nil, fmt.Errorf("section %q: attach_type: %w", s.Section, err)
			}
			spec.AttachType = g
		}
		out = append(out, spec)
	}
	return out, nil
}
