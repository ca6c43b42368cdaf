package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/pevans/papercrawl"
	"github.com/pevans/papercrawl/index"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the read-only status API",
	Args:  cobra.NoArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger := current.cfg, current.logger

		s, err := openStore(cfg, logger)
		if err != nil {
			return err
		}
		l, err := openLedger(cfg)
		if err != nil {
			return err
		}

		var runs papercrawl.RunReader
		if l != nil {
			defer l.Close()
			runs = l
		}

		gin.SetMode(gin.ReleaseMode)
		api := papercrawl.NewAPIServer(s, runs, index.NewDirReader(cfg.IndexDir, logger), logger)
		server := &http.Server{
			Addr:              cfg.API.Addr,
			Handler:           api.SetupRouter(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		errc := make(chan error, 1)
		go func() {
			logger.Info("starting status API", slog.String("addr", cfg.API.Addr))
			errc <- server.ListenAndServe()
		}()

		select {
		case err := <-errc:
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		logger.Info("status API stopped")
		return nil
	},
}
