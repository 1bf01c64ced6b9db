package main

import (
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/23skdu/bert-ruber/internal/embedding"
	"github.com/23skdu/bert-ruber/internal/logger"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve-embeddings",
	Short: "Expose the configured embedding provider as an Arrow Flight service",
	Long: `serve-embeddings puts an Arrow Flight DoExchange endpoint in front of the
configured provider, typically a bert-as-service HTTP server, so that other
ruber processes can use the flight provider against it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		_, stopMonitor := startMonitor(uuid.NewString())
		defer stopMonitor()

		p, err := openProvider(ctx)
		if err != nil {
			return err
		}
		defer closeProvider(p)

		srv, err := embedding.ServeFlight(serveAddr, p)
		if err != nil {
			return err
		}
		logger.Log.Info("flight embedding service listening", "addr", srv.Addr().String(),
			"provider", cfg.Embedding.Provider, "dim", p.Dim())

		<-ctx.Done()
		logger.Log.Info("shutting down flight embedding service")
		srv.Shutdown()
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "0.0.0.0:3000", "listen address")
}
