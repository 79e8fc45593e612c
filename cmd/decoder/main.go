package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/neurosense/decoder/internal/config"
	"github.com/neurosense/decoder/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "decoder",
	Short: "Tone decoder daemon and client",
	Long: `Tone decoder reads the emotional subtext of chat messages.

Run the daemon with 'decoder serve', then analyze messages from proxied chat
pages, the HTTP API, or this CLI.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("addr", config.DefaultHTTPAddr, "Daemon address")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(langCmd)
}

func main() {
	logging.Init()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
