// Package btf decodes the "line_info" sub-section of .BTF.ext (the BPF
// Type Format's debug-info extension) into per-instruction source
// locations, used solely to emit #line directives.
package btf

import (
	"encoding/binary"
	"fmt"
)

const magic = 0xeb9f

// Line is one source-line record attached to an instruction ordinal.
type Line struct {
	File   string
	Source string
	Line   uint32
	Col    uint32
}

// Sink receives one decoded line record per call: the owning section name,
// the instruction ordinal (the raw byte offset already divided by the
// caller-supplied instruction size), the file name, the source text, the
// 1-based line number, and the 1-based column.
type Sink func(section string, instructionOrdinal int, file, source string, line, col uint32)

// ParseLineInfo decodes btfExtData's line_info region, resolving string
// table offsets against btfData's string table, and invokes sink once per
// record in file order. If btfExtData is empty, ParseLineInfo is a silent
// no-op: BTF debug info is optional. If only btfData is empty, the records
// are still decoded against an absent string table, so any non-zero string
// offset in them is an error.
func ParseLineInfo(btfData, btfExtData []byte, insnSize int, sink Sink) error {
	if len(btfExtData) == 0 {
		return nil
	}
	strs, err := stringTable(btfData)
	if err != nil {
		return fmt.Errorf("parse .BTF string table: %w", err)
	}

	order := binary.LittleEndian
	if len(btfExtData) < 24 {
		return fmt.Errorf(".BTF.ext header truncated")
	}
	if m := order.Uint16(btfExtData[0:2]); m != magic {
		return fmt.Errorf(".BTF.ext bad magic 0x%x", m)
	}
	hdrLen := order.Uint32(btfExtData[4:8])
	if int(hdrLen) > len(btfExtData) {
		return fmt.Errorf(".BTF.ext header length %d exceeds section size %d", hdrLen, len(btfExtData))
	}
	lineInfoOff := order.Uint32(btfExtData[16:20])
	lineInfoLen := order.Uint32(btfExtData[20:24])

	start := int(hdrLen) + int(lineInfoOff)
	end := start + int(lineInfoLen)
	if start < 0 || end > len(btfExtData) || start > end {
		return fmt.Errorf(".BTF.ext line_info region [%d,%d) out of bounds (section is %d bytes)", start, end, len(btfExtData))
	}
	region := btfExtData[start:end]
	if len(region) == 0 {
		return nil
	}
	if len(region) < 4 {
		return fmt.Errorf(".BTF.ext line_info region truncated")
	}
	recSize := order.Uint32(region[0:4])
	if recSize < 16 {
		return fmt.Errorf(".BTF.ext line_info record size %d smaller than the minimum 16", recSize)
	}

	off := 4
	for off < len(region) {
		if off+8 > len(region) {
			return fmt.Errorf(".BTF.ext line_info truncated section header at offset %d", off)
		}
		secNameOff := order.Uint32(region[off : off+4])
		numInfo := order.Uint32(region[off+4 : off+8])
		off += 8

		secName, err := lookupString(strs, secNameOff)
		if err != nil {
			return fmt.Errorf("resolve line_info section name: %w", err)
		}

		for i := uint32(0); i < numInfo; i++ {
			if off+int(recSize) > len(region) {
				return fmt.Errorf(".BTF.ext line_info truncated record at offset %d", off)
			}
			rec := region[off : off+int(recSize)]
			insnOff := order.Uint32(rec[0:4])
			fileNameOff := order.Uint32(rec[4:8])
			lineOff := order.Uint32(rec[8:12])
			lineCol := order.Uint32(rec[12:16])
			off += int(recSize)

			file, err := lookupString(strs, fileNameOff)
			if err != nil {
				return fmt.Errorf("resolve line_info file name: %w", err)
			}
			source, err := lookupString(strs, lineOff)
			if err != nil {
				return fmt.Errorf("resolve line_info source text: %w", err)
			}

			line := lineCol >> 10
			col := lineCol & 0x3ff
			sink(secName, int(insnOff)/insnSize, file, source, line, col)
		}
	}
	return nil
}

// Table is a convenience aggregate of ParseLineInfo's callbacks, keyed by
// section name then instruction ordinal.
type Table map[string]map[int]Line

// BuildTable runs ParseLineInfo and collects its results into a Table.
func BuildTable(btfData, btfExtData []byte, insnSize int) (Table, error) {
	t := Table{}
	err := ParseLineInfo(btfData, btfExtData, insnSize, func(section string, ordinal int, file, source string, line, col uint32) {
		bySection, ok := t[section]
		if !ok {
			bySection = map[int]Line{}
			t[section] = bySection
		}
		bySection[ordinal] = Line{File: file, Source: source, Line: line, Col: col}
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Lookup returns the line record for a section's instruction ordinal, if
// any BTF debug info was attached to it.
func (t Table) Lookup(section string, ordinal int) (Line, bool) {
	bySection, ok := t[section]
	if !ok {
		return Line{}, false
	}
	l, ok := bySection[ordinal]
	return l, ok
}

func stringTable(btfData []byte) ([]byte, error) {
	if len(btfData) == 0 {
		return nil, nil
	}
	if len(btfData) < 24 {
		return nil, fmt.Errorf(".BTF header truncated")
	}
	order := binary.LittleEndian
	if m := order.Uint16(btfData[0:2]); m != magic {
		return nil, fmt.Errorf(".BTF bad magic 0x%x", m)
	}
	hdrLen := order.Uint32(btfData[4:8])
	strOff := order.Uint32(btfData[16:20])
	strLen := order.Uint32(btfData[20:24])
	start := int(hdrLen) + int(strOff)
	end := start + int(strLen)
	if start < 0 || end > len(btfData) || start > end {
		return nil, fmt.Errorf(".BTF string table [%d,%d) out of bounds (section is %d bytes)", start, end, len(btfData))
	}
	return btfData[start:end], nil
}

func lookupString(strs []byte, off uint32) (string, error) {
	if strs == nil {
		if off == 0 {
			return "", nil
		}
		return "", fmt.Errorf("string offset %d requested but no string table is present", off)
	}
	if int(off) >= len(strs) {
		return "", fmt.Errorf("string offset %d out of bounds (table is %d bytes)", off, len(strs))
	}
	end := int(off)
	for end < len(strs) && strs[end] != 0 {
		end++
	}
	return string(strs[off:end]), nil
}
