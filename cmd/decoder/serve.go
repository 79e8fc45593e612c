package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/neurosense/decoder/internal/config"
	"github.com/neurosense/decoder/internal/daemon"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the decoder daemon",
	Long: `Run the decoder daemon.

The daemon hosts the analysis gateway, the preference store, the websocket
endpoint for injected pages, and one injecting reverse proxy per --proxy
target.

Examples:
  decoder serve
  decoder serve --proxy https://web.whatsapp.com --proxy https://discord.com`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringArray("proxy", nil, "Chat origin to front with an injecting proxy (repeatable)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.RequireAPIKey(); err != nil {
		pterm.Error.Println("Set GEMINI_API_KEY before starting the daemon.")
		return err
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.HTTPAddr = addr
	}

	dcfg := daemon.FromEnv(cfg)
	dcfg.ProxyTargets, _ = cmd.Flags().GetStringArray("proxy")

	d, err := daemon.New(dcfg)
	if err != nil {
		return err
	}
	if err := d.Start(); err != nil {
		return err
	}

	pterm.Success.Printfln("Daemon listening on %s", d.Addr())
	for _, p := range d.ProxyManager().List() {
		pterm.Info.Printfln("Proxying %s at http://%s", p.Target(), p.Addr())
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	pterm.Info.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
