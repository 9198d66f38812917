package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve [token]",
	Short: "Run an interview controlled from the web page only",
	Long: `Run the interview for token and control it from the web page served on
the preview address. This allows the candidate to start, stop and advance
from a phone or any browser on the same network.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
			cfg.Preview.Listen = listen
		}

		slog.Info("Interview server starting", "listen", cfg.Preview.Listen, "config", cfgFile)
		return runInterview(cmd.Context(), args[0], nil)
	},
}

func init() {
	serveCmd.Flags().String("listen", "", "address for the control server (overrides preview.listen)")
}
