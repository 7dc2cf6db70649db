package main

import (
	"os"
	"path/filepath"
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

func TestDecompileCmdWritesSourceFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "chunk.luajit")
	dst := filepath.Join(dir, "chunk.lua")
	require.NoError(t, os.WriteFile(src, buildMinimalDump(t), 0o644))

	cmd := decompileCmd()
	cmd.SetArgs([]string{src, dst})
	require.NoError(t, cmd.Execute())

	out, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "return ", string(out))
}

func TestDumpCmdRequiresOneArg(t *testing.T) {
	cmd := dumpCmd()
	cmd.SetArgs([]string{})
	assert.Error(t, cmd.Execute())
}

func TestRootCmdHasSubcommands(t *testing.T) {
	cmd := rootCmd()
	names := map[string]bool{}
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["decompile"])
	assert.True(t, names["dump"])
	assert.True(t, names["reencode"])
}
