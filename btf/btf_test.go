package btf_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowlabs/bpf2c/btf"
)

// buildBTF constructs a minimal .BTF section containing only a string
// table (no type section), sufficient for line-info resolution.
func buildBTF(strs ...string) (data []byte, offsets []uint32) {
	var tbl []byte
	tbl = append(tbl, 0) // offset 0 is always the empty string
	for _, s := range strs {
		offsets = append(offsets, uint32(len(tbl)))
		tbl = append(tbl, []byte(s)...)
		tbl = append(tbl, 0)
	}
	hdr := make([]byte, 24)
	binary.LittleEndian.PutUint16(hdr[0:2], 0xeb9f)
	hdr[2] = 1 // version
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(hdr)))
	// type section: empty
	binary.LittleEndian.PutUint32(hdr[8:12], 0)
	binary.LittleEndian.PutUint32(hdr[12:16], 0)
	// string section follows immediately
	binary.LittleEndian.PutUint32(hdr[16:20], 0)
	binary.LittleEndian.PutUint32(hdr[20:24], uint32(len(tbl)))
	return append(hdr, tbl...), offsets
}

func buildBTFExt(secName string, secNameOff uint32, recs [][4]uint32) []byte {
	hdr := make([]byte, 24)
	binary.LittleEndian.PutUint16(hdr[0:2], 0xeb9f)
	hdr[2] = 1
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(hdr)))
	binary.LittleEndian.PutUint32(hdr[8:12], 0) // func_info_off
	binary.LittleEndian.PutUint32(hdr[12:16], 0) // func_info_len
	binary.LittleEndian.PutUint32(hdr[16:20], 0) // line_info_off

	var body []byte
	recSize := uint32(16)
	recSizeBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(recSizeBuf, recSize)
	body = append(body, recSizeBuf...)

	secHdr := make([]byte, 8)
	binary.LittleEndian.PutUint32(secHdr[0:4], secNameOff)
	binary.LittleEndian.PutUint32(secHdr[4:8], uint32(len(recs)))
	body = append(body, secHdr...)

	for _, r := range recs {
		rec := make([]byte, 16)
		binary.LittleEndian.PutUint32(rec[0:4], r[0])
		binary.LittleEndian.PutUint32(rec[4:8], r[1])
		binary.LittleEndian.PutUint32(rec[8:12], r[2])
		binary.LittleEndian.PutUint32(rec[12:16], r[3])
		body = append(body, rec...)
	}

	binary.LittleEndian.PutUint32(hdr[20:24], uint32(len(body)))
	return append(hdr, body...)
}

func TestParseLineInfo(t *testing.T) {
	btfData, offsets := buildBTF("xdp", "prog.c", "return XDP_PASS;")
	secNameOff := offsets[0]
	fileOff := offsets[1]
	srcOff := offsets[2]

	lineCol := uint32(12)<<10 | 5 // line 12, col 5
	ext := buildBTFExt("xdp", secNameOff, [][4]uint32{
		{16, fileOff, srcOff, lineCol}, // byte offset 16 -> ordinal 2 (insnSize 8)
	})

	tbl, err := btf.BuildTable(btfData, ext, 8)
	require.NoError(t, err)

	l, ok := tbl.Lookup("xdp", 2)
	require.True(t, ok)
	assert.Equal(t, "prog.c", l.File)
	assert.Equal(t, "return XDP_PASS;", l.Source)
	assert.EqualValues(t, 12, l.Line)
	assert.EqualValues(t, 5, l.Col)
}

func TestParseLineInfoEmptyIsNoOp(t *testing.T) {
	tbl, err := btf.BuildTable(nil, nil, 8)
	require.NoError(t, err)
	_, ok := tbl.Lookup("xdp", 0)
	assert.False(t, ok)
}
