package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pevans/papercrawl"
	"github.com/pevans/papercrawl/article"
)

var runDownload bool

var runCmd = &cobra.Command{
	Use:   "run [date...]",
	Short: "Fetch every article of the given dates that is not stored yet",
	Long: `Reads the index file of each date (YYYYMMDD) from the index directory,
or of every date present when none are given, and acquires the articles in
index order. With feed_url configured the feed is read instead.

Interrupting the run stops it after the current request; everything stored
so far is kept and the next run resumes where this one stopped.`,

	RunE: func(cmd *cobra.Command, args []string) error {
		for _, date := range args {
			if err := article.ValidateDate(date); err != nil {
				return err
			}
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg, logger := current.cfg, current.logger

		f, err := newFetcher(cfg, logger)
		if err != nil {
			return err
		}
		defer f.Close()

		items, err := collectItems(ctx, cfg, f, args, runDownload, logger)
		if err != nil {
			return err
		}

		s, err := openStore(cfg, logger)
		if err != nil {
			return err
		}
		l, err := openLedger(cfg)
		if err != nil {
			return err
		}
		if l != nil {
			defer l.Close()
		}

		var confirmer papercrawl.Confirmer
		if !flags.Yes {
			confirmer = newPromptConfirmer(os.Stdin, cmd.ErrOrStderr())
		}

		a := newAcquirer(cfg, f, s, l, confirmer, logger)
		summary, err := a.Run(ctx, items)
		printSummary(cmd.OutOrStdout(), summary)

		switch {
		case errors.Is(err, papercrawl.ErrNotConfirmed):
			fmt.Fprintln(cmd.ErrOrStderr(), "Run cancelled.")
			return nil
		case errors.Is(err, context.Canceled):
			fmt.Fprintln(cmd.ErrOrStderr(), "Interrupted; progress has been saved.")
			return nil
		}
		return err
	},
}

func init() {
	runCmd.Flags().BoolVar(&runDownload, "download", false,
		"download each date's index from the origin before reading it")
}
