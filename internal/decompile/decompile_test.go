package decompile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ljdec/ljdec/internal/bc"
	"github.com/ljdec/ljdec/internal/bytestream"
	"github.com/ljdec/ljdec/internal/opcode"
)

// buildReturnLiteralDump encodes a single-prototype `return 42` chunk:
// KSHORT loads the literal, RET1 returns it.
func buildReturnLiteralDump(t *testing.T) []byte {
	t.Helper()
	w := bytestream.NewWriter()
	w.WriteBytes([]byte{bc.MagicByte0, bc.MagicByte1, bc.MagicByte2})
	w.WriteByte(2)
	w.WriteULEB128(bc.FlagStripped)

	var proto bytestream.Writer
	proto.WriteByte(0) // flags
	proto.WriteByte(0) // argc
	proto.WriteByte(1) // frame size
	proto.WriteByte(0) // upvalue count
	proto.WriteULEB128(0) // constant count
	proto.WriteULEB128(0) // numeric count
	proto.WriteULEB128(2) // instruction count

	proto.WriteUint(uint32(opcode.KSHORT)|(0<<8)|(42<<16), 4)
	proto.WriteUint(uint32(opcode.RET1)|(0<<8)|(2<<16), 4)

	body := proto.Bytes()
	w.WriteULEB128(uint32(len(body)))
	w.WriteBytes(body)
	w.WriteULEB128(0)

	return w.Bytes()
}

func TestSourceDecompilesReturnLiteral(t *testing.T) {
	out, err := Source(buildReturnLiteralDump(t), "test")
	require.NoError(t, err)
	assert.Equal(t, "return 42", out)
}

func TestSourceRejectsGarbage(t *testing.T) {
	_, err := Source([]byte{0, 0, 0}, "test")
	assert.Error(t, err)
}
