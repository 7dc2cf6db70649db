// Command ljdec decodes LuaJIT bytecode dumps back into readable Lua source,
// or inspects/rewrites them at the raw bytecode level.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ljdec/ljdec/internal/bc"
	"github.com/ljdec/ljdec/internal/decompile"
	"github.com/ljdec/ljdec/internal/dump"
	"github.com/ljdec/ljdec/internal/reencode"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ljdec",
		Short: "Decompile, dump and reencode LuaJIT bytecode",
	}
	root.AddCommand(decompileCmd(), dumpCmd(), reencodeCmd())
	return root
}

func decompileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decompile <source> <destination>",
		Short: "Decompile a .luajit bytecode dump into Lua source",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, dst := args[0], args[1]
			if err := decompile.File(src, dst); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", dst)
			return nil
		},
	}
}

func dumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump <source>",
		Short: "Print a structured debug dump of a .luajit bytecode file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			buf, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			d, err := bc.Decode(buf, filepath.Base(args[0]))
			if err != nil {
				return fmt.Errorf("decode %s: %w", args[0], err)
			}
			fmt.Println(dump.Format(d))
			return nil
		},
	}
}

func reencodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reencode <source> <destination>",
		Short: "Decode then re-serialize a .luajit bytecode file, round-tripping it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, dst := args[0], args[1]
			buf, err := os.ReadFile(src)
			if err != nil {
				return fmt.Errorf("read %s: %w", src, err)
			}
			d, err := bc.Decode(buf, filepath.Base(src))
			if err != nil {
				return fmt.Errorf("decode %s: %w", src, err)
			}
			out := reencode.Encode(d)
			if err := os.WriteFile(dst, out, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", dst, err)
			}
			fmt.Printf("wrote %s (%d bytes)\n", dst, len(out))
			return nil
		},
	}
}
