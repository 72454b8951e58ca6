package codegen

import (
	"fmt"
	"strings"

	"github.com/flowlabs/bpf2c/asm"
)

// regName validates r and records it as referenced by sec, returning its C
// identifier.
func (g *Generator) regName(sec *section, r asm.Reg) (string, error) {
	if !r.Valid() {
		return "", newErr(InvalidRegister, "decode register", fmt.Errorf("register id %d >= 11", r))
	}
	sec.markRegister(r)
	return r.Name(), nil
}

// sizedType maps a memory operand width, in bytes, to its C type name. The
// two call sites (load/store sizing and ByteOrder width) both derive
// sizeBytes from a field that is exhaustively one of 1, 2, 4, 8.
func sizedType(sizeBytes int) string {
	switch sizeBytes {
	case 1:
		return "uint8_t"
	case 2:
		return "uint16_t"
	case 4:
		return "uint32_t"
	default:
		return "uint64_t"
	}
}

// lowerSection runs the Instruction Lowerer over every instruction in the
// section's output buffer, populating each entry's lines.
func (g *Generator) lowerSection(sec *section) error {
	// r1 and r10 are always referenced by the emitted prologue.
	sec.markRegister(asm.R1)
	sec.markRegister(asm.R10)

	for i := 0; i < len(sec.output); i++ {
		inst := sec.output[i].inst
		class := inst.OpCode().Class()

		var (
			lines []string
			err   error
			skip  int // extra output slots this instruction consumed (LDDW)
		)

		switch {
		case class == asm.OpClassALU32 || class == asm.OpClassALU64:
			lines, err = g.lowerALU(sec, i)
		case class == asm.OpClassLoadImm:
			lines, skip, err = g.lowerLoadImm(sec, i)
		case class == asm.OpClassLoadReg || class == asm.OpClassStoreImm || class == asm.OpClassStoreReg:
			lines, err = g.lowerMem(sec, i)
		case class == asm.OpClassJump64:
			lines, err = g.lowerJump(sec, i)
		default:
			err = fmt.Errorf("unrecognized instruction class 0x%x", class)
		}
		if err != nil {
			if _, ok := err.(*Error); ok {
				return err
			}
			return newErr(InvalidOperand, fmt.Sprintf("lower instruction %d", i), err)
		}
		sec.output[i].lines = lines
		i += skip
	}
	return nil
}

func (g *Generator) lowerALU(sec *section, i int) ([]string, error) {
	inst := sec.output[i].inst
	op := inst.OpCode()
	is64 := op.Class() == asm.OpClassALU64

	dst, err := g.regName(sec, inst.Dst())
	if err != nil {
		return nil, err
	}

	aluOp := op.ALUOp()
	if aluOp == asm.ALUOpEndian {
		return g.lowerByteOrder(sec, i, dst)
	}

	var src string
	if aluOp != asm.ALUOpNegate {
		if op.SrcIsReg() {
			src, err = g.regName(sec, inst.Src())
			if err != nil {
				return nil, err
			}
		} else {
			src = fmt.Sprintf("IMMEDIATE(%d)", inst.Imm())
		}
	}

	var lines []string
	switch aluOp {
	case asm.ALUOpAdd:
		lines = []string{fmt.Sprintf("%s += %s;", dst, src)}
	case asm.ALUOpSub:
		lines = []string{fmt.Sprintf("%s -= %s;", dst, src)}
	case asm.ALUOpMul:
		lines = []string{fmt.Sprintf("%s *= %s;", dst, src)}
	case asm.ALUOpDiv:
		lines = append(lines, divGuard(sec.output[i].offset, src))
		if is64 {
			lines = append(lines, fmt.Sprintf("%s /= %s;", dst, src))
		} else {
			lines = append(lines, fmt.Sprintf("%s = (uint32_t)%s / (uint32_t)%s;", dst, dst, src))
		}
	case asm.ALUOpOr:
		lines = []string{fmt.Sprintf("%s |= %s;", dst, src)}
	case asm.ALUOpAnd:
		lines = []string{fmt.Sprintf("%s &= %s;", dst, src)}
	case asm.ALUOpShiftL:
		lines = []string{fmt.Sprintf("%s <<= %s;", dst, src)}
	case asm.ALUOpShiftR:
		if is64 {
			lines = []string{fmt.Sprintf("%s >>= %s;", dst, src)}
		} else {
			lines = []string{fmt.Sprintf("%s = (uint32_t)%s >> %s;", dst, dst, src)}
		}
	case asm.ALUOpNegate:
		if is64 {
			lines = []string{fmt.Sprintf("%s = -%s;", dst, dst)}
		} else {
			lines = []string{fmt.Sprintf("%s = -(int64_t)%s;", dst, dst)}
		}
	case asm.ALUOpMod:
		lines = append(lines, divGuard(sec.output[i].offset, src))
		if is64 {
			lines = append(lines, fmt.Sprintf("%s %%= %s;", dst, src))
		} else {
			lines = append(lines, fmt.Sprintf("%s = (uint32_t)%s %% (uint32_t)%s;", dst, dst, src))
		}
	case asm.ALUOpXOR:
		lines = []string{fmt.Sprintf("%s ^= %s;", dst, src)}
	case asm.ALUOpMov:
		lines = []string{fmt.Sprintf("%s = %s;", dst, src)}
	case asm.ALUOpAShiftR:
		if is64 {
			lines = []string{fmt.Sprintf("%s = (int64_t)%s >> (uint32_t)%s;", dst, dst, src)}
		} else {
			lines = []string{fmt.Sprintf("%s = (int32_t)%s >> %s;", dst, dst, src)}
		}
	default:
		return nil, fmt.Errorf("unrecognized ALU operation family 0x%x", aluOp)
	}

	if !is64 {
		lines = append(lines, fmt.Sprintf("%s &= UINT32_MAX;", dst))
	}
	return lines, nil
}

func divGuard(pc int, divisor string) string {
	return fmt.Sprintf("if (%s == 0) { division_by_zero(%d); return -1; }", divisor, pc)
}

func (g *Generator) lowerByteOrder(sec *section, i int, dst string) ([]string, error) {
	inst := sec.output[i].inst
	width := inst.Imm()
	if width != 16 && width != 32 && width != 64 {
		return nil, newErr(InvalidOperand, fmt.Sprintf("byte order at instruction %d", i),
			fmt.Errorf("unsupported width %d", width))
	}
	toBE := inst.OpCode().SrcIsReg()
	typ := sizedType(int(width) / 8)
	var fn string
	if toBE {
		fn = fmt.Sprintf("htobe%d", width)
	} else {
		fn = fmt.Sprintf("htole%d", width)
	}
	line := fmt.Sprintf("%s = %s((%s)%s);", dst, fn, typ, dst)
	if width == 64 {
		return []string{line}, nil
	}
	return []string{line, fmt.Sprintf("%s &= UINT32_MAX;", dst)}, nil
}

// lowerLoadImm handles the LD class: LDDW (the only legal LD opcode) and
// its two-slot immediate/relocation forms.
func (g *Generator) lowerLoadImm(sec *section, i int) ([]string, int, error) {
	inst := sec.output[i].inst
	if inst.OpCode().MemSize() != 8 || inst.OpCode().MemMode() != asm.MemOpModeImm {
		return nil, 0, newErr(InvalidOperand, fmt.Sprintf("load-immediate at instruction %d", i),
			fmt.Errorf("only LDDW (class LD, size DW, mode IMM) is supported"))
	}
	if i+1 >= len(sec.output) {
		return nil, 0, fmt.Errorf("LDDW at instruction %d has no following slot", i)
	}

	dst, err := g.regName(sec, inst.Dst())
	if err != nil {
		return nil, 0, err
	}

	if rel := sec.output[i].relocation; rel != "" {
		def, ok := g.maps.ByName(rel)
		if !ok {
			return nil, 0, newErr(MapMissing, fmt.Sprintf("LDDW at instruction %d", i),
				fmt.Errorf("relocation references undefined map %q", rel))
		}
		sec.markMapIndex(def.Index)
		return []string{fmt.Sprintf("%s = POINTER(_maps[%d].address);", dst, def.Index)}, 1, nil
	}

	value := uint64(inst.Next64Imm(sec.output[i+1].inst))
	return []string{fmt.Sprintf("%s = (uint64_t)0x%xULL;", dst, value)}, 1, nil
}

// lowerMem handles LDX, ST, and STX.
func (g *Generator) lowerMem(sec *section, i int) ([]string, error) {
	inst := sec.output[i].inst
	op := inst.OpCode()
	typ := sizedType(op.MemSize())

	switch op.Class() {
	case asm.OpClassLoadReg:
		dst, err := g.regName(sec, inst.Dst())
		if err != nil {
			return nil, err
		}
		src, err := g.regName(sec, inst.Src())
		if err != nil {
			return nil, err
		}
		return []string{fmt.Sprintf("%s = *(%s *)(uintptr_t)(%s + OFFSET(%d));", dst, typ, src, inst.Off())}, nil

	case asm.OpClassStoreImm:
		dst, err := g.regName(sec, inst.Dst())
		if err != nil {
			return nil, err
		}
		source := fmt.Sprintf("IMMEDIATE(%d)", inst.Imm())
		return []string{fmt.Sprintf("*(%s *)(uintptr_t)(%s + OFFSET(%d)) = (%s)%s;", typ, dst, inst.Off(), typ, source)}, nil

	case asm.OpClassStoreReg:
		dst, err := g.regName(sec, inst.Dst())
		if err != nil {
			return nil, err
		}
		src, err := g.regName(sec, inst.Src())
		if err != nil {
			return nil, err
		}
		return []string{fmt.Sprintf("*(%s *)(uintptr_t)(%s + OFFSET(%d)) = (%s)%s;", typ, dst, inst.Off(), typ, src)}, nil
	}
	return nil, fmt.Errorf("unreachable memory opcode class 0x%x", op.Class())
}

// lowerJump handles the JMP class: conditional branches, CALL, and EXIT.
func (g *Generator) lowerJump(sec *section, i int) ([]string, error) {
	inst := sec.output[i].inst
	family := inst.OpCode().JumpOp()

	if family == asm.JumpOpExit {
		sec.markRegister(asm.R0)
		return []string{"return r0;"}, nil
	}
	if family == asm.JumpOpCall {
		return g.lowerCall(sec, i)
	}

	target := i + int(inst.Off()) + 1
	if target < 0 || target >= len(sec.output) {
		return nil, newErr(InvalidJumpTarget, fmt.Sprintf("jump at instruction %d", i),
			fmt.Errorf("target %d is outside the %d-instruction section", target, len(sec.output)))
	}
	label := sec.output[target].label

	if family == asm.JumpOpA {
		if label == "" {
			return nil, newErr(InvalidJumpTarget, fmt.Sprintf("jump at instruction %d", i), fmt.Errorf("unconditional jump target has no label"))
		}
		return []string{fmt.Sprintf("goto %s;", label)}, nil
	}

	if label == "" {
		return nil, newErr(InvalidJumpTarget, fmt.Sprintf("jump at instruction %d", i), fmt.Errorf("conditional jump target has no label"))
	}

	dst, err := g.regName(sec, inst.Dst())
	if err != nil {
		return nil, err
	}
	var src string
	if inst.OpCode().SrcIsReg() {
		src, err = g.regName(sec, inst.Src())
		if err != nil {
			return nil, err
		}
	} else {
		src = fmt.Sprintf("IMMEDIATE(%d)", inst.Imm())
	}

	var pred string
	switch family {
	case asm.JumpOpEq:
		pred = fmt.Sprintf("%s == %s", dst, src)
	case asm.JumpOpGT:
		pred = fmt.Sprintf("%s > %s", dst, src)
	case asm.JumpOpGE:
		pred = fmt.Sprintf("%s >= %s", dst, src)
	case asm.JumpOpSet:
		pred = fmt.Sprintf("%s & %s", dst, src)
	case asm.JumpOpNE:
		pred = fmt.Sprintf("%s != %s", dst, src)
	case asm.JumpOpSGT:
		pred = fmt.Sprintf("(int64_t)%s > (int64_t)%s", dst, src)
	case asm.JumpOpSGE:
		pred = fmt.Sprintf("(int64_t)%s >= (int64_t)%s", dst, src)
	case asm.JumpOpLT:
		pred = fmt.Sprintf("%s < %s", dst, src)
	case asm.JumpOpLE:
		pred = fmt.Sprintf("%s <= %s", dst, src)
	case asm.JumpOpSLT:
		pred = fmt.Sprintf("(int64_t)%s < (int64_t)%s", dst, src)
	case asm.JumpOpSLE:
		pred = fmt.Sprintf("(int64_t)%s <= (int64_t)%s", dst, src)
	default:
		return nil, fmt.Errorf("unrecognized jump operation family 0x%x", family)
	}
	return []string{fmt.Sprintf("if (%s) goto %s;", pred, label)}, nil
}

func (g *Generator) lowerCall(sec *section, i int) ([]string, error) {
	inst := sec.output[i].inst
	name := sec.output[i].relocation
	if name == "" {
		name = fmt.Sprintf("helper_id_%d", inst.Imm())
	}
	idx := sec.helpers.lookupOrInsert(name, inst.Imm())
	prog := sanitizeName(sec.programName)
	for _, r := range []asm.Reg{asm.R0, asm.R1, asm.R2, asm.R3, asm.R4, asm.R5} {
		sec.markRegister(r)
	}
	return []string{
		fmt.Sprintf("r0 = %s_helpers[%d].address(r1, r2, r3, r4, r5);", prog, idx),
		fmt.Sprintf("if ((%s_helpers[%d].tail_call) && (r0 == 0)) return 0;", prog, idx),
	}, nil
}

// sanitizeName replaces every non-alphanumeric code point with '_', the
// rule the emitter applies everywhere a name becomes a C identifier.
func sanitizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// escapeString doubles every backslash, as required for file-name strings
// placed inside #line directives.
func escapeString(s string) string {
	return strings.ReplaceAll(s, `\`, `\\`)
}
