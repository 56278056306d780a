package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/goliatone/go-datastore/pkg/errdefs"
	"github.com/goliatone/go-datastore/pkg/state"
)

func newStoreCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Read and write records in the configured store",
	}
	cmd.AddCommand(newStorePutCommand(root))
	cmd.AddCommand(newStoreGetCommand(root))
	cmd.AddCommand(newStoreResolveCommand(root))
	return cmd
}

// parseRef parses "<domain>/<name>".
func parseRef(value string) (state.Ref, error) {
	domain, name, ok := strings.Cut(value, "/")
	if !ok {
		return state.Ref{}, errdefs.InvalidArgument("record reference %q must be <domain>/<name>", value)
	}
	ref := state.Ref{Domain: domain, Name: name}
	if _, err := ref.Identifier(); err != nil {
		return state.Ref{}, err
	}
	return ref, nil
}

func withRuntime(cmd *cobra.Command, root *rootOptions, fn func(*runtime) error) error {
	cfg, err := loadConfig(root.configPath)
	if err != nil {
		return err
	}
	rt, err := buildRuntime(cmd.Context(), cfg, newLogger(cfg, cmd.ErrOrStderr()))
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(rt)
}

func newStorePutCommand(root *rootOptions) *cobra.Command {
	var ifMatch string
	cmd := &cobra.Command{
		Use:   "put <domain>/<name> <file>",
		Short: "Store a container record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseRef(args[0])
			if err != nil {
				return err
			}
			return withRuntime(cmd, root, func(rt *runtime) error {
				c, err := readContainer(args[1], rt.options...)
				if err != nil {
					return err
				}
				meta, err := rt.repository.Save(cmd.Context(), ref, c, state.Meta{ETag: ifMatch})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "stored %s etag=%s snapshot=%s\n", ref, meta.ETag, meta.SnapshotID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&ifMatch, "if-match", "", "only store when the current ETag matches")
	return cmd
}

func newStoreGetCommand(root *rootOptions) *cobra.Command {
	var template string
	cmd := &cobra.Command{
		Use:   "get <domain>/<name>",
		Short: "Print a stored record, optionally layered on a template record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseRef(args[0])
			if err != nil {
				return err
			}
			return withRuntime(cmd, root, func(rt *runtime) error {
				if template == "" {
					c, _, err := rt.repository.Load(cmd.Context(), ref)
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), c.Record())
				}
				tmplRef, err := parseRef(template)
				if err != nil {
					return err
				}
				c, _, err := rt.repository.LoadInstance(cmd.Context(), tmplRef, ref)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), c.Flatten().Record())
			})
		},
	}
	cmd.Flags().StringVar(&template, "template", "", "template record <domain>/<name> the record overrides")
	return cmd
}

func newStoreResolveCommand(root *rootOptions) *cobra.Command {
	var trace string
	cmd := &cobra.Command{
		Use:   "resolve <domain> <name>...",
		Short: "Merge records of a domain, strongest first",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, root, func(rt *runtime) error {
				c, err := rt.repository.Resolve(cmd.Context(), args[0], args[1:]...)
				if err != nil {
					return err
				}
				if trace != "" {
					t, err := c.Trace(trace)
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), t)
				}
				return printJSON(cmd.OutOrStdout(), c.Flatten().Record())
			})
		},
	}
	cmd.Flags().StringVar(&trace, "trace", "", "print the provenance of a dotted path instead of the merged record")
	return cmd
}
