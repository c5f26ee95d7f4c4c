package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kasuganosora/shardconn/pkg/capability"
)

func newMatrixCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "matrix",
		Short: "Print the operation support matrix",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printMatrix(cmd.OutOrStdout(), format)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "table", "output format (table, json)")
	return cmd
}

type matrixRow struct {
	Operation      string `json:"operation"`
	Classification string `json:"classification"`
}

func printMatrix(w io.Writer, format string) error {
	entries := capability.Matrix()
	rows := make([]matrixRow, len(entries))
	for i, e := range entries {
		rows[i] = matrixRow{Operation: e.Operation.String(), Classification: e.Classification.String()}
	}

	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	case "table", "":
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "OPERATION\tCLASSIFICATION")
		for _, r := range rows {
			fmt.Fprintf(tw, "%s\t%s\n", r.Operation, r.Classification)
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}
