package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	datastore "github.com/goliatone/go-datastore"
	"github.com/goliatone/go-datastore/pkg/errdefs"
	"github.com/goliatone/go-datastore/schema/openapi"
)

func newSchemaCommand() *cobra.Command {
	var format, output string
	cmd := &cobra.Command{
		Use:   "schema <file>",
		Short: "Print the schema of a container record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts []datastore.Option
			switch format {
			case "openapi":
				opts = append(opts, openapi.Option())
			case "descriptors":
			default:
				return fmt.Errorf("unknown schema format %q (want descriptors or openapi)", format)
			}
			c, err := readContainer(args[0], opts...)
			if err != nil {
				return err
			}
			doc, err := c.Schema()
			if err != nil {
				return err
			}
			if output == "yaml" {
				return printYAML(cmd.OutOrStdout(), doc.Document)
			}
			return printJSON(cmd.OutOrStdout(), doc.Document)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "descriptors", "schema format: descriptors or openapi")
	cmd.Flags().StringVarP(&output, "output", "o", "json", "output encoding: json or yaml")
	return cmd
}

func newGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <file> <path>",
		Short: "Print the value stored at a dotted path",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := readContainer(args[0])
			if err != nil {
				return err
			}
			value, ok := lookupRecord(c.Record(), args[1])
			if !ok {
				return fmt.Errorf("%s: %w", args[1], errdefs.ErrKeyNotFound)
			}
			return printJSON(cmd.OutOrStdout(), value)
		},
	}
}

func newEvalCommand() *cobra.Command {
	var engine string
	var args map[string]string
	cmd := &cobra.Command{
		Use:   "eval <file> <expression>",
		Short: "Evaluate an expression against a container record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, positional []string) error {
			var opts []datastore.Option
			switch strings.ToLower(engine) {
			case "expr", "":
			case "cel":
				opts = append(opts, datastore.WithEvaluator(datastore.NewCELEvaluator()))
			default:
				return fmt.Errorf("unknown engine %q (want expr or cel)", engine)
			}
			c, err := readContainer(positional[0], opts...)
			if err != nil {
				return err
			}
			ruleArgs := make(map[string]any, len(args))
			for key, raw := range args {
				var value any
				if err := json.Unmarshal([]byte(raw), &value); err != nil {
					value = raw
				}
				ruleArgs[key] = value
			}
			resp, err := c.EvaluateWith(datastore.RuleContext{Args: ruleArgs}, positional[1])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp.Value)
		},
	}
	cmd.Flags().StringVarP(&engine, "engine", "e", "expr", "expression engine: expr or cel")
	cmd.Flags().StringToStringVar(&args, "arg", nil, "argument exposed as args.<name> (JSON or plain string)")
	return cmd
}

func newConvertCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "convert <in> <out>",
		Short: "Convert a container record between JSON and YAML",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := readContainer(args[0])
			if err != nil {
				return err
			}
			if err := writeContainer(args[1], c); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d keys)\n", args[1], c.Len())
			return nil
		},
	}
}
