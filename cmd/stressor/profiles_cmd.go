package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"pkt.systems/pslog"

	"pkt.systems/stressor"
)

func newListCommand(logger pslog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the built-in workload profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, p := range stressor.Profiles(logger).Profiles() {
				fmt.Fprintf(tw, "%s\t%s\n", p.Name(), p.Description())
			}
			return tw.Flush()
		},
	}
}

func newInfoCommand(logger pslog.Logger) *cobra.Command {
	var keyspace string
	cmd := &cobra.Command{
		Use:   "info <profile>",
		Short: "Describe a workload profile, its arguments and schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := stressor.Profiles(logger).Lookup(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %s\n", p.Name(), p.Description())
			if specs := p.Args(); len(specs) > 0 {
				fmt.Fprintln(out, "\narguments:")
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				for _, arg := range specs {
					fmt.Fprintf(tw, "  %s\t%s\t%s\n", arg.Name, arg.Default, arg.Description)
				}
				if err := tw.Flush(); err != nil {
					return err
				}
			}
			fmt.Fprintln(out, "\nschema:")
			for _, ddl := range p.Schema(keyspace) {
				fmt.Fprintf(out, "  %s;\n", ddl)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&keyspace, "keyspace", "stressor", "keyspace used when rendering the schema")
	return cmd
}
