package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"model-explain/internal/common"
	"model-explain/internal/dataset"
	"model-explain/internal/explain"
	"model-explain/internal/metrics"
	"model-explain/internal/server"
	"model-explain/internal/storage"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the explanation HTTP server",
	Long: `Starts the HTTP API: POST /explain, GET /ranking/{id}, GET /reports,
GET /health, GET /model/info and GET /metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("port") {
			settings.ServerPort, _ = cmd.Flags().GetInt("port")
		}
		noStore, _ := cmd.Flags().GetBool("no-store")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		// Initialize components
		m := metrics.New()
		mw := metrics.NewWrapper(m)

		adapter, name, err := loadAdapter(settings, mw)
		if err != nil {
			return err
		}

		var data *dataset.Dataset
		if settings.BackgroundPath == "" {
			if data, err = loadData(adapter, settings.DataPath, ""); err != nil {
				return fmt.Errorf("background: %w", err)
			}
		}
		background, err := loadBackground(settings, adapter, data)
		if err != nil {
			return err
		}

		pipe, err := explain.New(adapter, background, settings.AttributionOptions(),
			explain.Config{Model: name, Workers: settings.Workers}, mw)
		if err != nil {
			return err
		}

		opts := server.Options{
			Port:           settings.ServerPort,
			Metrics:        mw,
			Gatherer:       prometheus.DefaultGatherer,
			RequestTimeout: timeout,
		}
		if !noStore {
			store, err := storage.New(settings.StorePath)
			if err != nil {
				return err
			}
			defer store.Close()
			store.SetMetrics(mw.ReportsStored())
			opts.Store = store
		}

		srv := server.New(pipe, opts)

		serverErrors := make(chan error, 1)
		go func() {
			serverErrors <- srv.Start()
		}()

		select {
		case err := <-serverErrors:
			if !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		case <-cmd.Context().Done():
			log.Info().Msg("Shutting down explanation server")

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				return fmt.Errorf("graceful shutdown failed: %w", err)
			}
			log.Info().Msg("Server stopped gracefully")
			return nil
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntP("port", "p", common.DefaultServerPort, "Port to listen on")
	serveCmd.Flags().Bool("no-store", false, "Disable the report store")
	serveCmd.Flags().Duration("timeout", 30*time.Second, "Per-request explanation timeout")
}
