package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/spf13/cobra"

	"github.com/pboyd/splice/ir"
)

func newDiffCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diff FILE METHOD",
		Short: "Show a method's listing before and after the manifest's patches",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireManifest(a); err != nil {
				return err
			}

			prog, err := a.loadProgram(args[0])
			if err != nil {
				return err
			}
			m, err := a.lookup(prog, args[1])
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

			before, err := p.PrepareOriginal(m)
			if err != nil {
				return err
			}
			after, _, err := p.Preview(m)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "--- %s\n+++ %s (patched)\n", m.Name, m.Name)
			writeDiff(out, ir.FormatBody(before), ir.FormatBody(after))
			return nil
		},
	}
	addManifestFlag(cmd)
	return cmd
}

// writeDiff prints a line diff of two listings.
func writeDiff(w io.Writer, before, after string) {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	added := color.New(color.FgGreen)
	removed := color.New(color.FgRed)

	for _, d := range diffs {
		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line == "" {
				continue
			}
			switch d.Type {
			case diffmatchpatch.DiffInsert:
				added.Fprint(w, "+"+line)
			case diffmatchpatch.DiffDelete:
				removed.Fprint(w, "-"+line)
			default:
				fmt.Fprint(w, " "+line)
			}
		}
	}
}
