package main

import (
	"github.com/spf13/cobra"

	"github.com/pevans/papercrawl"
	"github.com/pevans/papercrawl/article"
	"github.com/pevans/papercrawl/index"
)

var pendingFormat string

var pendingCmd = &cobra.Command{
	Use:   "pending [date...]",
	Short: "List articles that are missing or invalid in the store",
	Args:  cobra.ArbitraryArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger := current.cfg, current.logger

		reader := index.NewDirReader(cfg.IndexDir, logger)
		dates := args
		if len(dates) == 0 {
			all, err := reader.Dates()
			if err != nil {
				return err
			}
			dates = all
		}

		s, err := openStore(cfg, logger)
		if err != nil {
			return err
		}

		var reports []pendingReport
		for _, date := range dates {
			if err := article.ValidateDate(date); err != nil {
				return err
			}
			items, err := reader.ListPendingWork(cmd.Context(), date)
			if err != nil {
				return err
			}
			pending, err := papercrawl.Pending(s, items)
			if err != nil {
				return err
			}
			reports = append(reports, pendingReport{Date: date, Total: len(items), Pending: pending})
		}

		if pendingFormat == "json" {
			return printJSON(cmd.OutOrStdout(), reports)
		}
		printPending(cmd.OutOrStdout(), reports)
		return nil
	},
}

func init() {
	pendingCmd.Flags().StringVar(&pendingFormat, "format", "table", "output format (table, json)")
}
