package main

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/pboyd/splice/internal/manifest"
	"github.com/pboyd/splice/ir"
)

func newRunCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run FILE METHOD [ARG...]",
		Short: "Call a method, with the manifest's patches applied",
		Long: `Call a method, with the manifest's patches applied.

Arguments use the IR constant syntax: 42, 1.5, true, nil, int64(7).
String parameters take the argument as is.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
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
			for _, t := range targets {
				if _, err := p.Patch(t.Method, t.Patches...); err != nil {
					return err
				}
			}

			in, err := parseArgs(m, args[2:])
			if err != nil {
				return err
			}

			fn, err := p.Func(m)
			if err != nil {
				return err
			}

			results, err := invoke(fn, in)
			if err != nil {
				return fmt.Errorf("%s: %w", m.Name, err)
			}

			strs := make([]string, len(results))
			for i, r := range results {
				strs[i] = ir.FormatConst(r.Interface())
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.Join(strs, " "))
			return nil
		},
	}
	addManifestFlag(cmd)
	return cmd
}

func parseArgs(m *ir.Method, raw []string) ([]reflect.Value, error) {
	if len(raw) != m.Type.NumIn() {
		return nil, fmt.Errorf("%s takes %d arguments, got %d", m.Name, m.Type.NumIn(), len(raw))
	}

	in := make([]reflect.Value, len(raw))
	for i, s := range raw {
		t := m.Type.In(i)

		var c any = s
		if t.Kind() != reflect.String {
			var err error
			if c, err = ir.ParseConst(s); err != nil {
				return nil, fmt.Errorf("argument %d: %w", i, err)
			}
		}

		v, err := manifest.Convert(c, t)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		in[i] = v
	}
	return in, nil
}

// invoke calls fn, turning an exception raised by the method into an
// error.
func invoke(fn reflect.Value, in []reflect.Value) (results []reflect.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s %v", color.RedString("raised"), r)
		}
	}()
	return fn.Call(in), nil
}
