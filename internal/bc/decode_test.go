package bc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ljdec/ljdec/internal/bytestream"
	"github.com/ljdec/ljdec/internal/opcode"
)

// buildMinimalDump constructs the smallest valid dump: stripped, little
// endian, a single prototype with one instruction (RET0) and no debug info.
func buildMinimalDump(t *testing.T) []byte {
	t.Helper()
	w := bytestream.NewWriter()
	w.WriteBytes([]byte{MagicByte0, MagicByte1, MagicByte2})
	w.WriteByte(2) // version
	w.WriteULEB128(FlagStripped)

	// prototype
	var proto bytestream.Writer
	proto.WriteByte(0) // flags
	proto.WriteByte(0) // argc
	proto.WriteByte(2) // frame size
	proto.WriteByte(0) // upvalue count
	proto.WriteULEB128(0) // constant count
	proto.WriteULEB128(0) // numeric count
	proto.WriteULEB128(1) // instruction count (excludes head)
	// one RET0 instruction: a=0, cd=1
	codeword := uint32(opcode.RET0) | (0 << 8) | (1 << 16)
	_ = proto.WriteUint(codeword, 4)

	body := proto.Bytes()
	w.WriteULEB128(uint32(len(body)))
	w.WriteBytes(body)
	w.WriteULEB128(0) // end of prototypes

	return w.Bytes()
}

func TestDecodeMinimalDump(t *testing.T) {
	buf := buildMinimalDump(t)
	dump, err := Decode(buf, "test")
	require.NoError(t, err)
	require.Len(t, dump.Prototypes, 1)
	p := dump.Prototypes[0]
	assert.Equal(t, 2, p.FrameSize)
	require.Len(t, p.Instructions, 2) // synthetic head + RET0
	assert.Equal(t, opcode.FUNCF, p.Instructions[0].Code)
	assert.Equal(t, opcode.RET0, p.Instructions[1].Code)
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	_, err := Decode([]byte{0, 0, 0}, "bad")
	assert.Error(t, err)
}

func TestDecodeRejectsVersionAboveMax(t *testing.T) {
	w := bytestream.NewWriter()
	w.WriteBytes([]byte{MagicByte0, MagicByte1, MagicByte2})
	w.WriteByte(0x80)
	_, err := Decode(w.Bytes(), "test")
	require.Error(t, err)
	var decErr *DecodeError
	require.ErrorAs(t, err, &decErr)
}
