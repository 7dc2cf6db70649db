package bytestream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadULEB128SingleByte(t *testing.T) {
	r := NewReader([]byte{0x2a})
	v, err := r.ReadULEB128()
	require.NoError(t, err)
	assert.Equal(t, uint32(0x2a), v)
}

func TestReadULEB128MultiByte(t *testing.T) {
	// 300 = 0b1_0010_1100 -> low 7 bits 0x2c with continuation, then 0x02
	r := NewReader([]byte{0xac, 0x02})
	v, err := r.ReadULEB128()
	require.NoError(t, err)
	assert.Equal(t, uint32(300), v)
}

func TestULEB128RoundTrip(t *testing.T) {
	for _, v := range []uint32{0, 1, 127, 128, 300, 65535, 1 << 20, 0xffffffff} {
		w := NewWriter()
		w.WriteULEB128(v)
		r := NewReader(w.Bytes())
		got, err := r.ReadULEB128()
		require.NoError(t, err)
		assert.Equal(t, v, got, "round trip of %d", v)
	}
}

func TestULEB128_33Int(t *testing.T) {
	w := NewWriter()
	w.WriteULEB128_33Int(-5)
	r := NewReader(w.Bytes())
	isFloat, ival, _, err := r.ReadULEB128_33()
	require.NoError(t, err)
	assert.False(t, isFloat)
	assert.Equal(t, int64(-5), ival)
}

func TestULEB128_33Float(t *testing.T) {
	w := NewWriter()
	w.WriteULEB128_33Float(3.14159)
	r := NewReader(w.Bytes())
	isFloat, _, fval, err := r.ReadULEB128_33()
	require.NoError(t, err)
	assert.True(t, isFloat)
	assert.InDelta(t, 3.14159, fval, 1e-12)
}

func TestReadZString(t *testing.T) {
	r := NewReader([]byte("hello\x00world"))
	s, err := r.ReadZString()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(s))
	rest, _ := r.ReadBytes(r.Len())
	assert.Equal(t, "world", string(rest))
}

func TestReadFloatRoundTrip(t *testing.T) {
	w := NewWriter()
	w.WriteFloat(2.5)
	r := NewReader(w.Bytes())
	v, err := r.ReadFloat()
	require.NoError(t, err)
	assert.Equal(t, 2.5, v)
}

func TestReadBytesPastEndErrors(t *testing.T) {
	r := NewReader([]byte{1, 2})
	_, err := r.ReadBytes(3)
	assert.ErrorIs(t, err, ErrUnexpectedEOF)
}

func TestReadUintBigEndian(t *testing.T) {
	r := NewReader([]byte{0x00, 0x00, 0x01, 0x00})
	r.BigEndian = true
	v, err := r.ReadUint(4)
	require.NoError(t, err)
	assert.Equal(t, uint32(256), v)
}

func TestReadFloatIgnoresStreamEndianness(t *testing.T) {
	// a dump's BigEndian flag governs ReadUint/WriteUint, not float assembly:
	// writing and reading back under opposite BigEndian settings must still
	// round-trip, since both use the host's native order regardless.
	w := NewWriter()
	w.BigEndian = true
	w.WriteFloat(2.5)
	r := NewReader(w.Bytes())
	r.BigEndian = false
	v, err := r.ReadFloat()
	require.NoError(t, err)
	assert.Equal(t, 2.5, v)
}
