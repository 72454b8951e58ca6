package fixture

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowlabs/bpf2c/asm"
)

func TestAssembleResolvesForwardJump(t *testing.T) {
	b := New()
	b.JumpIf(asm.JumpOpEq, asm.R1, 0, 0, false, "skip")
	b.MovImm64(asm.R0, 1)
	b.Label("skip")
	b.Exit()

	raw, err := b.Assemble()
	require.NoError(t, err)
	require.Len(t, raw, 3*asm.InsnSize)

	jmp := asm.Decode(raw[0:8])
	assert.Equal(t, int16(1), jmp.Off())
}

func TestAssembleUndefinedLabel(t *testing.T) {
	b := New()
	b.Jump("nowhere")
	b.Exit()
	_, err := b.Assemble()
	assert.Error(t, err)
}

func TestLoadMapFDProducesPseudoRegisterSlot(t *testing.T) {
	b := New()
	b.LoadMapFD(asm.R6)
	raw, err := b.Assemble()
	require.NoError(t, err)
	require.Len(t, raw, 2*asm.InsnSize)

	first := asm.Decode(raw[0:8])
	assert.True(t, first.IsLoadImm64())
	assert.Equal(t, asm.RPseudoMapFD, first.Src())
	assert.Equal(t, asm.R6, first.Dst())
}
