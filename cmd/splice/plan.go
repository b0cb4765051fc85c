package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newPlanCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan FILE",
		Short: "Print the order the manifest's patches run in",
		Long: `Print the order the manifest's patches run in, per method and role.

Contradictory before/after constraints are reported as cycles. The patches
in a cycle fall back to priority order.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireManifest(a); err != nil {
				return err
			}

			prog, err := a.loadProgram(args[0])
			if err != nil {
				return err
			}
			targets, err := a.loadManifest(prog)
			if err != nil {
				return err
			}

			p := a.patcher()
			if err := a.register(p, targets); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			bold := color.New(color.Bold)
			for i, t := range targets {
				if i > 0 {
					fmt.Fprintln(out)
				}
				bold.Fprintln(out, t.Method.Name)

				info := p.Info(t.Method)
				for _, patch := range info.Patches {
					fmt.Fprintf(out, "  %s %s prio=%d", color.CyanString("%-10s", patch.Role), patch.Owner, patch.Priority)
					if len(patch.Before) > 0 {
						fmt.Fprintf(out, " before=%s", strings.Join(patch.Before, ","))
					}
					if len(patch.After) > 0 {
						fmt.Fprintf(out, " after=%s", strings.Join(patch.After, ","))
					}
					fmt.Fprintln(out)
				}
				for _, c := range info.Cycles {
					fmt.Fprintf(out, "  %s %v: %s\n", color.YellowString("cycle"), c.Role, strings.Join(c.Owners, " ↔ "))
				}
			}
			return nil
		},
	}
	addManifestFlag(cmd)
	return cmd
}
