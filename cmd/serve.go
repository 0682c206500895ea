package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/campus-mobility/parkwatch/internal/api"
	"github.com/campus-mobility/parkwatch/internal/ingest"
	"github.com/campus-mobility/parkwatch/internal/ledger"
	"github.com/campus-mobility/parkwatch/internal/proximity"
	"github.com/campus-mobility/parkwatch/internal/registry"
	"github.com/campus-mobility/parkwatch/internal/resilience"
	"github.com/campus-mobility/parkwatch/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		var st store.Store
		err := resilience.Do(ctx, resilience.DefaultRetryConfig(), "open store", func(ctx context.Context) error {
			var err error
			st, err = initStore(ctx)
			return err
		})
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "serve: migrate store")
		}

		reg := registry.New(st)
		srv := api.New(api.Options{
			Registry:        reg,
			Ledger:          ledger.New(st),
			Proximity:       proximity.New(st),
			Ingest:          ingest.New(st),
			Store:           st,
			NearestDefaultK: cfg.Nearest.DefaultK,
			NearestMaxK:     cfg.Nearest.MaxK,
			IngestRate:      cfg.Ingest.RatePerSec,
			IngestBurst:     cfg.Ingest.Burst,
			AllowedOrigins:  cfg.Server.AllowedOrigins,
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		httpSrv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: srv.Router(),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			httpSrv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
