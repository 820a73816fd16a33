package main

import (
	"github.com/spf13/cobra"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the read API and Prometheus metrics",
	Long: `Serve exposes stored coins and signals as JSON:

  GET /health                    store connectivity
  GET /metrics                   Prometheus metrics
  GET /coins?limit=N             coins by runner confidence
  GET /coins/{address}           one coin
  GET /coins/{address}/signals   signals merged into a coin
  GET /coins/{address}/factors   runner confidence breakdown`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default api.addr)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := loadApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	if serveAddr != "" {
		a.cfg.API.Addr = serveAddr
	}
	srv, err := newAPIServer(a)
	if err != nil {
		return err
	}
	return srv.ListenAndServe(cmd.Context())
}
