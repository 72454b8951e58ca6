package mapdef_test

import (
	"debug/elf"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowlabs/bpf2c/mapdef"
)

func record(typ, keySize, valueSize, maxEntries uint32) []byte {
	b := make([]byte, mapdef.RecordSize)
	binary.LittleEndian.PutUint32(b[0:4], typ)
	binary.LittleEndian.PutUint32(b[4:8], keySize)
	binary.LittleEndian.PutUint32(b[8:12], valueSize)
	binary.LittleEndian.PutUint32(b[12:16], maxEntries)
	return b
}

func TestParseOrderedTable(t *testing.T) {
	data := append(record(1, 4, 8, 256), record(2, 4, 4, 1)...)
	syms := []elf.Symbol{
		{Name: "cache", Value: 0, Size: mapdef.RecordSize, Section: 3},
		{Name: "counters", Value: mapdef.RecordSize, Size: mapdef.RecordSize, Section: 3},
	}
	tbl, err := mapdef.Parse(data, syms, 3, binary.LittleEndian)
	require.NoError(t, err)
	require.Equal(t, 2, tbl.Len())

	d, ok := tbl.ByName("cache")
	require.True(t, ok)
	assert.Equal(t, 0, d.Index)
	assert.EqualValues(t, 256, d.MaxEntries)

	ordered := tbl.Ordered()
	assert.Equal(t, "cache", ordered[0].Name)
	assert.Equal(t, "counters", ordered[1].Name)
}

func TestParseBadSectionSize(t *testing.T) {
	_, err := mapdef.Parse(make([]byte, 13), nil, 3, binary.LittleEndian)
	require.Error(t, err)
	var bad *mapdef.BadMapSectionError
	assert.ErrorAs(t, err, &bad)
}

func TestParseNonDenseIndices(t *testing.T) {
	data := append(record(1, 4, 8, 256), record(2, 4, 4, 1)...)
	syms := []elf.Symbol{
		{Name: "only_second", Value: mapdef.RecordSize, Size: mapdef.RecordSize, Section: 3},
	}
	_, err := mapdef.Parse(data, syms, 3, binary.LittleEndian)
	require.Error(t, err)
}
