package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loqui-lang/loqui/internal/compile"
	"github.com/loqui-lang/loqui/internal/config"
	"github.com/loqui-lang/loqui/internal/ir"
)

// BuildOptions holds flags for the build command.
type BuildOptions struct {
	*RootOptions
	Output string
}

// NewBuildCommand creates the build command.
func NewBuildCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BuildOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "build <unit.json>",
		Short: "Compile one IR document to a Go file",
		Long: `Compile a front-end IR document to a single Go source file.

Any static-analysis error fails the whole unit: diagnostics are printed
and no output is written.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file (default: input with .go extension)")

	return cmd
}

func runBuild(opts *BuildOptions, input string, cmd *cobra.Command) error {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return err
	}
	return buildUnit(opts, cfg, input, cmd)
}

func buildUnit(opts *BuildOptions, cfg config.Config, input string, cmd *cobra.Command) error {
	src, err := os.ReadFile(input)
	if err != nil {
		return err
	}

	ctx := compile.New(compile.Options{
		PackageName: cfg.Package,
		DebugChecks: cfg.DebugChecks,
		DefaultBias: biasOf(cfg.DefaultBias),
	})
	res, err := ctx.Compile(src)

	if res != nil {
		for _, d := range res.Diagnostics {
			fmt.Fprintln(cmd.ErrOrStderr(), d.Format())
		}
	}
	var ue *compile.UnitError
	if errors.As(err, &ue) {
		return fmt.Errorf("%s: compilation failed: %v", input, err)
	}
	if err != nil {
		return err
	}

	out := opts.Output
	if out == "" {
		out = outputPath(input)
	}
	if err := os.WriteFile(out, res.Code, 0o644); err != nil {
		return err
	}
	if opts.Verbose {
		fmt.Fprintf(cmd.OutOrStdout(), "built %s -> %s\n", input, out)
	}
	return nil
}

// biasOf maps the configured bias string, already validated by
// config.Load, onto its IR value.
func biasOf(s string) ir.Bias {
	if s == "remove-wins" {
		return ir.BiasRemoveWins
	}
	return ir.BiasAddWins
}

// outputPath swaps the input's extension for .go, collapsing the
// conventional .ir.json suffix.
func outputPath(input string) string {
	base := strings.TrimSuffix(input, ".json")
	base = strings.TrimSuffix(base, ".ir")
	return base + ".go"
}
