package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pboyd/splice"
	"github.com/pboyd/splice/internal/manifest"
	"github.com/pboyd/splice/ir"
)

// app is the state shared by the subcommands. Settings come from flags,
// SPLICE_* environment variables and an optional config file, in that
// order of precedence.
type app struct {
	v      *viper.Viper
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	var cfgFile string
	root := &cobra.Command{
		Use:   "splice",
		Short: "Assemble, patch and run IR methods",
		Long: `splice assembles methods written in a small stack-based IR, composes
patches from a YAML or TOML manifest into them, and runs the result.

Examples:
  # Check a file and print it in canonical form
  splice asm prog.ir

  # Call a method with a manifest applied
  splice run prog.ir add --manifest patches.yaml -- -5 3

  # Show the listing before and after the manifest's patches
  splice diff prog.ir add --manifest patches.yaml`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd, cfgFile)
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: splice.{yaml,toml,json} in the working directory)")
	root.PersistentFlags().String("log-level", "warn", "log level: debug, info, warn or error")
	root.PersistentFlags().Bool("no-color", false, "disable colored output")

	root.AddCommand(
		newAsmCmd(a),
		newRunCmd(a),
		newPlanCmd(a),
		newDiffCmd(a),
		newDisasmCmd(a),
	)
	return root
}

func (a *app) init(cmd *cobra.Command, cfgFile string) error {
	v := a.v
	v.SetEnvPrefix("SPLICE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("splice")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("config: %w", err)
		}
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(v.GetString("log-level"))); err != nil {
		return fmt.Errorf("log-level: %w", err)
	}
	a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	if v.GetBool("no-color") {
		color.NoColor = true
	}
	return nil
}

func (a *app) patcher() *splice.Patcher {
	return splice.New(splice.Options{Logger: a.logger})
}

func (a *app) loadProgram(path string) (*ir.Program, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	prog, err := ir.Parse(string(src), builtins)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return prog, nil
}

func (a *app) lookup(prog *ir.Program, name string) (*ir.Method, error) {
	m, ok := prog.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("no method %q", name)
	}
	return m, nil
}

// loadManifest builds the patches of the configured manifest. It returns
// nothing if no manifest is configured.
func (a *app) loadManifest(prog *ir.Program) ([]manifest.Target, error) {
	path := a.v.GetString("manifest")
	if path == "" {
		return nil, nil
	}

	m, err := manifest.Load(path)
	if err != nil {
		return nil, err
	}

	targets, err := m.Build(manifest.Options{Program: prog, Funcs: builtins, Logger: a.logger})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	a.logger.Debug("manifest loaded", "path", path, "patches", len(m.Patches), "methods", len(targets))
	return targets, nil
}

// register adds the manifest's patches to p without activating them.
func (a *app) register(p *splice.Patcher, targets []manifest.Target) error {
	for _, t := range targets {
		if err := p.Registry().GetOrCreate(t.Method).Add(t.Patches...); err != nil {
			return err
		}
	}
	return nil
}

func addManifestFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("manifest", "m", "", "patch manifest (.yaml, .yml or .toml)")
}

func requireManifest(a *app) error {
	if a.v.GetString("manifest") == "" {
		return errors.New("no manifest: set --manifest, SPLICE_MANIFEST or manifest in the config file")
	}
	return nil
}
