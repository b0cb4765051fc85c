package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pboyd/splice/ir"
)

func newAsmCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "asm FILE",
		Short: "Check an IR file and print it in canonical form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prog, err := a.loadProgram(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			var errs []error
			for i, m := range prog.Methods() {
				if err := ir.Validate(m); err != nil {
					errs = append(errs, err)
					continue
				}
				if i > 0 {
					fmt.Fprintln(out)
				}
				fmt.Fprint(out, ir.Format(m))
			}
			return errors.Join(errs...)
		},
	}
}
