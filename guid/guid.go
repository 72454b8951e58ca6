// Package guid provides the 16-byte program/attach-type identifier used to
// tag emitted eBPF programs, matching the role the original C++ system's
// Windows GUID filled on ebpf_program_type_t / ebpf_attach_type_t.
package guid

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// GUID is a 16-byte type identifier. It is a thin wrapper over uuid.UUID so
// that parsing, string rendering, and byte access all reuse a well-tested
// implementation instead of hand-rolled hex parsing.
type GUID uuid.UUID

// Nil is the all-zero GUID, used for program/attach types that carry no
// identifier.
var Nil GUID

// Parse parses a canonical "xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx" string.
func Parse(s string) (GUID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("parse guid %q: %w", s, err)
	}
	return GUID(u), nil
}

func (g GUID) String() string {
	return uuid.UUID(g).String()
}

// CStructLiteral renders g as a C struct literal matching the layout of the
// GUID type declared in bpf2c.h:
//
//	{Data1, Data2, Data3, {Data4[0], ..., Data4[7]}}
//
// Data1/Data2/Data3 are big-endian per the Windows GUID convention the
// original format_guid() followed; Data4 is the trailing 8 raw bytes.
func (g GUID) CStructLiteral() string {
	b := g[:]
	data1 := binary.BigEndian.Uint32(b[0:4])
	data2 := binary.BigEndian.Uint16(b[4:6])
	data3 := binary.BigEndian.Uint16(b[6:8])
	return fmt.Sprintf(
		"{0x%08x,0x%04x,0x%04x,{0x%02x,0x%02x,0x%02x,0x%02x,0x%02x,0x%02x,0x%02x,0x%02x}}",
		data1, data2, data3,
		b[8], b[9], b[10], b[11], b[12], b[13], b[14], b[15],
	)
}

// IsNil reports whether g is the all-zero GUID.
func (g GUID) IsNil() bool {
	return g == Nil
}
