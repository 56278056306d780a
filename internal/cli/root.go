// Package cli implements the datastore command line tool.
package cli

import (
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "datastore",
		Short: "Inspect, convert and serve hierarchical container records",
		Long: `datastore works with container records: JSON or YAML trees of values,
nested containers, mappings and resource references.

Records can be inspected offline (schema, get, eval, convert), persisted in
the configured store (store) or served over HTTP together with the reference
registry (serve).`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")

	root.AddCommand(newSchemaCommand())
	root.AddCommand(newGetCommand())
	root.AddCommand(newEvalCommand())
	root.AddCommand(newConvertCommand())
	root.AddCommand(newStoreCommand(opts))
	root.AddCommand(newServeCommand(opts))
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCommand().Execute()
}
