package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"ballotbox/api"
)

func serveCommand() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.ListenAddr = listen
			}
			logger := loggerFrom(cmd)

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)

			e, err := openElection(cmd.Context(), cfg, logger, reg)
			if err != nil {
				return err
			}
			defer e.Close()
			if dir := e.ExportDir(); dir != "" {
				logger.Info("results export enabled", "dir", dir)
			}

			srv := api.NewServer(e.ElectionService, api.ServerOptions{
				Gatherer:        reg,
				ShutdownTimeout: cfg.ShutdownTimeout,
				Logger:          logger,
			})
			return srv.Start(cmd.Context(), cfg.ListenAddr)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides listen_addr)")
	return cmd
}
