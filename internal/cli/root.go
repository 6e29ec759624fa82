// Package cli implements the loqui command line.
package cli

import (
	"github.com/spf13/cobra"
)

// RootOptions holds flags shared by every command.
type RootOptions struct {
	Config  string
	Verbose bool
}

// NewRootCommand creates the loqui root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "loqui",
		Short: "Loqui back end: compile IR documents to Go programs",
		Long: `Compile front-end IR documents into standalone Go programs backed by
the replicated-state runtime. Shared values become CRDTs, persisted
values journal to disk, and synced values gossip to peers.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Config, "config", "loqui.yaml", "configuration file")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewBuildCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))

	return cmd
}
