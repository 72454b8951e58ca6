package codegen

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/flowlabs/bpf2c/asm"
)

// assignLabels implements Label Assignment: every instruction that a JMP-
// class instruction other than CALL and EXIT (JA included) may target is
// marked, then labels
// label_1, label_2, ... are assigned to marked instructions in ascending
// order.
func assignLabels(sec *section) error {
	for i := range sec.output {
		inst := sec.output[i].inst
		op := inst.OpCode()
		if !op.IsJump() {
			continue
		}
		family := op.JumpOp()
		if family == asm.JumpOpCall || family == asm.JumpOpExit {
			continue
		}
		target := i + int(inst.Off()) + 1
		if target < 0 || target >= len(sec.output) {
			return newErr(InvalidJumpTarget, fmt.Sprintf("assign labels at instruction %d", i),
				fmt.Errorf("jump target %d is outside the %d-instruction section", target, len(sec.output)))
		}
		sec.output[target].jumpTarget = true
	}

	n := 0
	for i := range sec.output {
		if !sec.output[i].jumpTarget {
			continue
		}
		n++
		sec.output[i].label = fmt.Sprintf("label_%d", n)
	}
	log.WithField("section", sec.sectionName).Debugf("assigned %d labels", n)
	return nil
}
