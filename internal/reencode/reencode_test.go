package reencode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ljdec/ljdec/internal/bc"
	"github.com/ljdec/ljdec/internal/bytestream"
	"github.com/ljdec/ljdec/internal/opcode"
)

func buildMinimalDump(t *testing.T) []byte {
	t.Helper()
	w := bytestream.NewWriter()
	w.WriteBytes([]byte{bc.MagicByte0, bc.MagicByte1, bc.MagicByte2})
	w.WriteByte(2)
	w.WriteULEB128(bc.FlagStripped)

	var proto bytestream.Writer
	proto.WriteByte(0)
	proto.WriteByte(0)
	proto.WriteByte(2)
	proto.WriteByte(0)
	proto.WriteULEB128(0)
	proto.WriteULEB128(0)
	proto.WriteULEB128(1)
	proto.WriteUint(uint32(opcode.RET0)|(0<<8)|(1<<16), 4)

	body := proto.Bytes()
	w.WriteULEB128(uint32(len(body)))
	w.WriteBytes(body)
	w.WriteULEB128(0)

	return w.Bytes()
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	orig, err := bc.Decode(buildMinimalDump(t), "test")
	require.NoError(t, err)

	reencoded := Encode(orig)

	again, err := bc.Decode(reencoded, "test")
	require.NoError(t, err)

	require.Len(t, again.Prototypes, 1)
	assert.Equal(t, orig.Prototypes[0].FrameSize, again.Prototypes[0].FrameSize)
	assert.Equal(t, orig.Prototypes[0].Instructions, again.Prototypes[0].Instructions)
	assert.Equal(t, orig.IsStripped, again.IsStripped)
}
