// Command javap disassembles a .class file's header, fields, and method
// bytecode, in the spirit of the JDK's javap -c.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/oakvm/jvm/internal/classfile"
	"github.com/oakvm/jvm/internal/disasm"
)

func main() {
	root := &cobra.Command{
		Use:   "javap <classfile>",
		Short: "disassemble a .class file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cf, err := classfile.ParseFile(args[0])
			if err != nil {
				return fmt.Errorf("parsing %s: %w", args[0], err)
			}
			out, err := disasm.DisassembleClass(cf)
			if err != nil {
				return fmt.Errorf("disassembling %s: %w", args[0], err)
			}
			fmt.Print(out)
			return nil
		},
	}

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "javap:", err)
		os.Exit(1)
	}
}
