package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jbweber/virtwatch/internal/conn"
	"github.com/jbweber/virtwatch/internal/output"
)

// Output flags shared by list and watch
var (
	outputFormat string
	noHeaders    bool
	kindFilter   []string
)

var listCmd = &cobra.Command{
	Use:   "list [uri]",
	Short: "List cached objects of a hypervisor",
	Long: `Open a connection, wait for the initial load, and print every cached
domain, network, and storage pool.

Output formats:
  -o table  Human-readable table (default)
  -o yaml   YAML documents
  -o json   JSON array

Examples:
  virtwatch list
  virtwatch list qemu+tcp://hv2.example.com/system --kind domain
  virtwatch list -o json`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := output.ValidateFormat(outputFormat); err != nil {
			return err
		}
		kinds, err := parseKinds(kindFilter)
		if err != nil {
			return err
		}

		var uri string
		if len(args) == 1 {
			uri = args[0]
		}

		e, c, err := openOne(cmd.Context(), uri)
		if err != nil {
			return fmt.Errorf("failed to open connection: %w", err)
		}
		defer func() {
			if closeErr := e.Close(); closeErr != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close connection: %v\n", closeErr)
			}
		}()

		formatter, err := output.NewFormatter(output.Options{
			Format:    output.Format(outputFormat),
			NoHeaders: noHeaders,
		})
		if err != nil {
			return err
		}

		result, err := formatter.FormatObjectList(c.Objects(kinds...))
		if err != nil {
			return fmt.Errorf("failed to format output: %w", err)
		}

		fmt.Print(result)
		return nil
	},
}

func init() {
	listCmd.Flags().StringVarP(&outputFormat, "output", "o", "table", "Output format (table, yaml, json)")
	listCmd.Flags().BoolVar(&noHeaders, "no-headers", false, "Omit table headers")
	listCmd.Flags().StringSliceVar(&kindFilter, "kind", nil, "Only list these kinds (domain, network, pool)")
}

func parseKinds(names []string) ([]conn.Kind, error) {
	kinds := make([]conn.Kind, 0, len(names))
	for _, n := range names {
		k, err := conn.ParseKind(n)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}
