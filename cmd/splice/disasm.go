package main

import (
	"fmt"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"github.com/pboyd/splice/detour"
	"github.com/pboyd/splice/ir"
)

func newDisasmCmd(a *app) *cobra.Command {
	var list bool

	cmd := &cobra.Command{
		Use:   "disasm FUNC",
		Short: "Disassemble the machine code of a built-in Go function",
		Args: func(cmd *cobra.Command, args []string) error {
			if list {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if list {
				for _, name := range slices.Sorted(maps.Keys(builtins)) {
					fmt.Fprintln(out, name)
				}
				return nil
			}

			fn, ok := builtins[args[0]]
			if !ok {
				return fmt.Errorf("no built-in function %q, see disasm --list", args[0])
			}
			m, err := ir.FromFunc(fn)
			if err != nil {
				return err
			}

			listing, err := detour.Disassemble(m)
			if err != nil {
				return err
			}
			a.logger.Debug("disassembled", "func", m.ID())
			fmt.Fprint(out, listing)
			return nil
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "list the built-in functions")
	return cmd
}
