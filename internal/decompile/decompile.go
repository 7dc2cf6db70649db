// Package decompile wires the decode, AST-build and emit stages into the
// single-call pipeline the CLI and tests use: raw bytecode bytes in, Lua
// source text out.
package decompile

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ljdec/ljdec/internal/astbuild"
	"github.com/ljdec/ljdec/internal/bc"
	"github.com/ljdec/ljdec/internal/emit"
)

// Source decodes buf (a whole .luajit/.lj dump) and renders it back to Lua
// source text. chunkName is used only for error messages.
func Source(buf []byte, chunkName string) (string, error) {
	dump, err := bc.Decode(buf, chunkName)
	if err != nil {
		return "", fmt.Errorf("decompile: decode %s: %w", chunkName, err)
	}
	if len(dump.Prototypes) == 0 {
		return "", fmt.Errorf("decompile: %s: dump has no prototypes", chunkName)
	}

	funcDef, err := astbuild.New(dump.Prototypes[0]).Build(true)
	if err != nil {
		return "", fmt.Errorf("decompile: %s: %w", chunkName, err)
	}

	return emit.New(funcDef).Write(funcDef), nil
}

// File reads src, decompiles it, and writes the rendered Lua source to
// target, creating target's parent directory if needed.
func File(src, target string) error {
	buf, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("decompile: read %s: %w", src, err)
	}

	text, err := Source(buf, filepath.Base(src))
	if err != nil {
		return err
	}

	if dir := filepath.Dir(target); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("decompile: create %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(target, []byte(text), 0o644); err != nil {
		return fmt.Errorf("decompile: write %s: %w", target, err)
	}
	return nil
}
