package fixture

import (
	"bytes"
	"encoding/binary"
)

// Section-type and section-flag constants for the ELF64 sections
// BuildObject assembles. Mirrors debug/elf's SHT_*/SHF_* values.
const (
	ShtNull    = 0
	ShtProgbit = 1
	ShtSymtab  = 2
	ShtStrtab  = 3
	ShtRela    = 4

	ShfAlloc = 0x2
	ShfExec  = 0x4
)

// ObjectSection describes one section of an ELF64 relocatable object to
// be assembled by BuildObject. The name-string-table section itself is
// appended automatically; callers list every other section only.
type ObjectSection struct {
	Name    string
	Type    uint32
	Flags   uint64
	Data    []byte
	Link    uint32
	Info    uint32
	EntSize uint64
}

// BuildObject assembles a minimal little-endian ELF64 relocatable object
// (ET_REL, EM_BPF) containing the given sections plus a trailing
// .shstrtab, with no program headers. It exists because no Go toolchain
// is available in this environment to compile a real eBPF object for
// tests to load; this produces the same bytes debug/elf expects to parse.
func BuildObject(sections []ObjectSection) []byte {
	all := append(append([]ObjectSection{{Name: "", Type: ShtNull}}, sections...),
		ObjectSection{Name: ".shstrtab", Type: ShtStrtab})

	shstrtab := []byte{0}
	nameOffsets := make([]uint32, len(all))
	for i, s := range all {
		nameOffsets[i] = uint32(len(shstrtab))
		if s.Name != "" {
			shstrtab = append(shstrtab, append([]byte(s.Name), 0)...)
		}
	}
	all[len(all)-1].Data = shstrtab

	const ehsize = 64
	const shentsize = 64

	var body bytes.Buffer
	dataOffsets := make([]uint64, len(all))
	for i, s := range all {
		for body.Len()%8 != 0 {
			body.WriteByte(0)
		}
		dataOffsets[i] = uint64(ehsize + body.Len())
		body.Write(s.Data)
	}
	for body.Len()%8 != 0 {
		body.WriteByte(0)
	}
	shoff := uint64(ehsize + body.Len())

	var shtab bytes.Buffer
	for i, s := range all {
		var hdr [64]byte
		binary.LittleEndian.PutUint32(hdr[0:4], nameOffsets[i])
		binary.LittleEndian.PutUint32(hdr[4:8], s.Type)
		binary.LittleEndian.PutUint64(hdr[8:16], s.Flags)
		binary.LittleEndian.PutUint64(hdr[16:24], 0)
		binary.LittleEndian.PutUint64(hdr[24:32], dataOffsets[i])
		binary.LittleEndian.PutUint64(hdr[32:40], uint64(len(s.Data)))
		binary.LittleEndian.PutUint32(hdr[40:44], s.Link)
		binary.LittleEndian.PutUint32(hdr[44:48], s.Info)
		binary.LittleEndian.PutUint64(hdr[48:56], 1)
		binary.LittleEndian.PutUint64(hdr[56:64], s.EntSize)
		shtab.Write(hdr[:])
	}

	var header [64]byte
	copy(header[0:4], []byte{0x7f, 'E', 'L', 'F'})
	header[4], header[5], header[6] = 2, 1, 1 // ELFCLASS64, ELFDATA2LSB, EV_CURRENT
	binary.LittleEndian.PutUint16(header[16:18], 1)   // ET_REL
	binary.LittleEndian.PutUint16(header[18:20], 247) // EM_BPF
	binary.LittleEndian.PutUint32(header[20:24], 1)
	binary.LittleEndian.PutUint64(header[40:48], shoff)
	binary.LittleEndian.PutUint16(header[52:54], ehsize)
	binary.LittleEndian.PutUint16(header[58:60], shentsize)
	binary.LittleEndian.PutUint16(header[60:62], uint16(len(all)))
	binary.LittleEndian.PutUint16(header[62:64], uint16(len(all)-1))

	var out bytes.Buffer
	out.Write(header[:])
	out.Write(body.Bytes())
	out.Write(shtab.Bytes())
	return out.Bytes()
}

// Sym builds one raw Elf64_Sym record.
func Sym(nameOff uint32, info uint8, shndx uint16, value, size uint64) []byte {
	rec := make([]byte, 24)
	binary.LittleEndian.PutUint32(rec[0:4], nameOff)
	rec[4] = info
	rec[5] = 0
	binary.LittleEndian.PutUint16(rec[6:8], shndx)
	binary.LittleEndian.PutUint64(rec[8:16], value)
	binary.LittleEndian.PutUint64(rec[16:24], size)
	return rec
}

// Rela builds one raw Elf64_Rela record.
func Rela(offset uint64, symIdx uint32, relType uint32, addend int64) []byte {
	rec := make([]byte, 24)
	binary.LittleEndian.PutUint64(rec[0:8], offset)
	binary.LittleEndian.PutUint64(rec[8:16], uint64(symIdx)<<32|uint64(relType))
	binary.LittleEndian.PutUint64(rec[16:24], uint64(addend))
	return rec
}

// Strtab builds a null-prefixed ELF string table from the given names,
// returning the table bytes and each name's offset within it, in order.
func Strtab(names ...string) ([]byte, []uint32) {
	tab := []byte{0}
	offs := make([]uint32, len(names))
	for i, n := range names {
		offs[i] = uint32(len(tab))
		tab = append(tab, append([]byte(n), 0)...)
	}
	return tab, offs
}
