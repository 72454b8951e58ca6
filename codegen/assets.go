package codegen

import _ "embed"

// Header is the companion bpf2c.h declarations file every emitted program
// #includes. It is not written out by Generate (callers that want it on
// disk copy it alongside the generated source); it is embedded so the CLI
// can write it out and tests can check it declares the identifiers the
// emitted C references.
//
//go:embed assets/bpf2c.h
var Header string
