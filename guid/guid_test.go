package guid_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowlabs/bpf2c/guid"
)

func TestParseAndRender(t *testing.T) {
	g, err := guid.Parse("7b749933-67c6-4f22-a21c-d7be0c9a8a03")
	require.NoError(t, err)
	assert.Equal(t, "7b749933-67c6-4f22-a21c-d7be0c9a8a03", g.String())
	assert.Equal(t, "{0x7b749933,0x67c6,0x4f22,{0xa2,0x1c,0xd7,0xbe,0x0c,0x9a,0x8a,0x03}}", g.CStructLiteral())
}

func TestNilGUID(t *testing.T) {
	assert.True(t, guid.Nil.IsNil())
	assert.Equal(t, "00000000-0000-0000-0000-000000000000", guid.Nil.String())
}

func TestParseInvalid(t *testing.T) {
	_, err := guid.Parse("not-a-guid")
	assert.Error(t, err)
}
