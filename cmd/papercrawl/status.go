package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pevans/papercrawl"
)

var (
	statusFormat  string
	statusDetails bool
)

var statusCmd = &cobra.Command{
	Use:   "status [date...]",
	Short: "Report valid and problematic records per date",

	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore(current.cfg, current.logger)
		if err != nil {
			return err
		}

		report, err := papercrawl.Scan(s, args...)
		if err != nil {
			return err
		}

		switch statusFormat {
		case "json":
			return printJSON(cmd.OutOrStdout(), report)
		case "table":
			printStatusTable(cmd.OutOrStdout(), report, statusDetails)
			return nil
		default:
			return fmt.Errorf("unknown format %q", statusFormat)
		}
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusFormat, "format", "table", "output format (table, json)")
	statusCmd.Flags().BoolVar(&statusDetails, "details", false, "list every problematic record")
}
