// Copyright (c) 2020-2022 Tigera, Inc. All rights reserved.

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package fixture is a small label-resolving eBPF assembler used to build
// realistic instruction streams for tests: exactly the raw bytes an object
// under translation would contain, without hand-counting offsets.
//
// It is not part of the translator itself; only _test.go files import it.
package fixture

import (
	"fmt"

	"github.com/flowlabs/bpf2c/asm"
)

type fixUp struct {
	insnIdx int
	label   string
}

// Builder accumulates instructions and resolves named jump targets to the
// eBPF jump displacement (in instructions, not bytes) once every
// instruction has been added.
type Builder struct {
	insns       []asm.Insn
	labelToIdx  map[string]int
	fixUps      []fixUp
	deferredErr error
}

// New returns an empty Builder.
func New() *Builder {
	return &Builder{labelToIdx: map[string]int{}}
}

// Label marks the position of the next instruction to be added as the
// resolution target for jumps to name.
func (b *Builder) Label(name string) {
	if _, exists := b.labelToIdx[name]; exists && b.deferredErr == nil {
		b.deferredErr = fmt.Errorf("label %q defined twice", name)
		return
	}
	b.labelToIdx[name] = len(b.insns)
}

func (b *Builder) emit(insn asm.Insn) int {
	idx := len(b.insns)
	b.insns = append(b.insns, insn)
	return idx
}

// Raw appends one instruction built directly from its logical fields.
func (b *Builder) Raw(opcode asm.OpCode, dst, src asm.Reg, offset int16, imm int32) {
	b.emit(asm.MakeInsn(opcode, dst, src, offset, imm))
}

// ALU appends one ALU instruction. If useReg is true src supplies the
// second operand, otherwise imm does.
func (b *Builder) ALU(op asm.OpCode, is64 bool, dst, src asm.Reg, imm int32, useReg bool) {
	class := asm.OpClassALU32
	if is64 {
		class = asm.OpClassALU64
	}
	srcFlag := asm.ALUSrcImm
	if useReg {
		srcFlag = asm.ALUSrcReg
	}
	b.Raw(class|op|srcFlag, dst, src, 0, imm)
}

// MovImm64 emits `dst = (int64)imm`.
func (b *Builder) MovImm64(dst asm.Reg, imm int32) {
	b.ALU(asm.ALUOpMov, true, dst, 0, imm, false)
}

// Mov64 emits `dst = src` (64-bit).
func (b *Builder) Mov64(dst, src asm.Reg) {
	b.ALU(asm.ALUOpMov, true, dst, src, 0, true)
}

// LoadImm64 emits the two-slot LDDW loading a literal 64-bit immediate.
func (b *Builder) LoadImm64(dst asm.Reg, imm int64) {
	b.Raw(asm.OpClassLoadImm|asm.MemOpModeImm|asm.MemOpSize64, dst, 0, 0, int32(uint32(imm)))
	b.Raw(0, 0, 0, 0, int32(uint32(imm>>32)))
}

// LoadMapFD emits the two-slot LDDW pseudo-instruction the kernel uses to
// bind a register to a map file descriptor (src = RPseudoMapFD on the
// first slot). The relocation that turns this into a map-address bind
// lives in the ELF's relocation section, not in these bytes.
func (b *Builder) LoadMapFD(dst asm.Reg) {
	b.Raw(asm.OpClassLoadImm|asm.MemOpModeImm|asm.MemOpSize64, dst, asm.RPseudoMapFD, 0, 0)
	b.Raw(0, 0, 0, 0, 0)
}

// Load emits `dst = *(size *)(ptr + offset)`.
func (b *Builder) Load(dst, ptr asm.Reg, size asm.OpCode, offset int16) {
	b.Raw(asm.OpClassLoadReg|asm.MemOpModeMem|size, dst, ptr, offset, 0)
}

// StoreReg emits `*(size *)(ptr + offset) = src`.
func (b *Builder) StoreReg(ptr, src asm.Reg, size asm.OpCode, offset int16) {
	b.Raw(asm.OpClassStoreReg|asm.MemOpModeMem|size, ptr, src, offset, 0)
}

// StoreImm emits `*(size *)(ptr + offset) = imm`.
func (b *Builder) StoreImm(ptr asm.Reg, size asm.OpCode, offset int16, imm int32) {
	b.Raw(asm.OpClassStoreImm|asm.MemOpModeMem|size, ptr, 0, offset, imm)
}

// Jump emits an unconditional jump (JA) to label, resolved in Assemble.
func (b *Builder) Jump(label string) {
	idx := b.emit(asm.MakeInsn(asm.OpClassJump64|asm.JumpOpA, 0, 0, 0, 0))
	b.fixUps = append(b.fixUps, fixUp{insnIdx: idx, label: label})
}

// JumpIf emits a conditional jump to label, resolved in Assemble.
func (b *Builder) JumpIf(jumpOp asm.OpCode, dst, src asm.Reg, imm int32, useReg bool, label string) {
	srcFlag := asm.ALUSrcImm
	if useReg {
		srcFlag = asm.ALUSrcReg
	}
	idx := b.emit(asm.MakeInsn(asm.OpClassJump64|jumpOp|srcFlag, dst, src, 0, imm))
	b.fixUps = append(b.fixUps, fixUp{insnIdx: idx, label: label})
}

// Call emits a CALL to the given helper immediate ID, unrelocated.
func (b *Builder) Call(helperID int32) {
	b.Raw(asm.OpClassJump64|asm.JumpOpCall, 0, 0, 0, helperID)
}

// Exit emits EXIT.
func (b *Builder) Exit() {
	b.Raw(asm.OpClassJump64|asm.JumpOpExit, 0, 0, 0, 0)
}

// Len returns the number of instruction slots added so far, LDDW's second
// slot included. Relocation offsets are expressed in byte terms as
// Len()*asm.InsnSize up to the point of the instruction being relocated.
func (b *Builder) Len() int { return len(b.insns) }

// Assemble resolves every jump's label to an instruction displacement and
// returns the raw instruction bytes.
func (b *Builder) Assemble() ([]byte, error) {
	if b.deferredErr != nil {
		return nil, b.deferredErr
	}
	for _, fu := range b.fixUps {
		target, ok := b.labelToIdx[fu.label]
		if !ok {
			return nil, fmt.Errorf("undefined label %q", fu.label)
		}
		displacement := target - fu.insnIdx - 1
		if displacement < -32768 || displacement > 32767 {
			return nil, fmt.Errorf("jump to %q out of 16-bit range (%d)", fu.label, displacement)
		}
		insn := b.insns[fu.insnIdx]
		b.insns[fu.insnIdx] = asm.MakeInsn(insn.OpCode(), insn.Dst(), insn.Src(), int16(displacement), insn.Imm())
	}
	out := make([]byte, 0, len(b.insns)*asm.InsnSize)
	for _, insn := range b.insns {
		out = append(out, insn[:]...)
	}
	return out, nil
}
