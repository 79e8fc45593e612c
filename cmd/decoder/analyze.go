package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/neurosense/decoder/internal/bridge"
	"github.com/neurosense/decoder/internal/config"
	"github.com/neurosense/decoder/internal/decoder"
	"github.com/neurosense/decoder/internal/lang"
	"github.com/neurosense/decoder/internal/overlay"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <message...>",
	Short: "Decode a message through the running daemon",
	Long: `Decode a message through the running daemon.

Examples:
  decoder analyze "Fine, do whatever you want."
  decoder analyze --deep --lang es "k."`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().Bool("deep", false, "Use the deeper, slower model")
	analyzeCmd.Flags().String("lang", "", "Target language for the analysis (defaults to the saved preference)")
}

func dialClient(cmd *cobra.Command) (*bridge.Client, error) {
	addr, _ := cmd.Flags().GetString("addr")
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()

	client, err := bridge.Dial(ctx, "ws://"+addr+overlay.SocketPath, cfg.RequestTimeout)
	if err != nil {
		return nil, fmt.Errorf("daemon is not running at %s: %w", addr, err)
	}
	return client, nil
}

// remotePrefs satisfies bridge.PreferenceStore over a daemon connection, so
// CLI commands drive the same panel controller the page overlay does. A
// non-empty override pins the language without touching the saved preference.
type remotePrefs struct {
	ctx      context.Context
	client   *bridge.Client
	override lang.Code
}

func (p *remotePrefs) Language() lang.Code {
	if p.override != "" {
		return p.override
	}
	if reply := p.client.Send(p.ctx, bridge.Request{Action: bridge.ActionGetLanguage}); reply.Success {
		return lang.Code(reply.Language)
	}
	return lang.Default
}

func (p *remotePrefs) SetLanguage(code lang.Code) error {
	reply := p.client.Send(p.ctx, bridge.Request{
		Action: bridge.ActionSetLanguage,
		Text:   string(code),
	})
	if !reply.Success {
		return errors.New(reply.Error)
	}
	return nil
}

// newPanelController builds the shared panel state machine over a daemon
// connection. The CLI has no compose box, so reply insertion is absent.
func newPanelController(cmd *cobra.Command, client *bridge.Client, override lang.Code) *overlay.Controller {
	return overlay.NewController(
		func(ctx context.Context, req bridge.Request) bridge.Reply {
			return client.Send(ctx, req)
		},
		nil,
		&remotePrefs{ctx: cmd.Context(), client: client, override: override},
	)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	language, _ := cmd.Flags().GetString("lang")
	if language != "" && !lang.Supported(lang.Code(language)) {
		return fmt.Errorf("unsupported language %q; supported: %s", language, supportedCodes())
	}
	deep, _ := cmd.Flags().GetBool("deep")

	client, err := dialClient(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	ctrl := newPanelController(cmd, client, lang.Code(language))
	ctrl.SetDraft(strings.Join(args, " "))

	spinner, _ := pterm.DefaultSpinner.Start("Decoding...")
	if err := ctrl.Analyze(cmd.Context(), deep); err != nil {
		spinner.Fail("Analysis failed")
		return err
	}
	if msg := ctrl.ErrorMessage(); msg != "" {
		spinner.Fail("Analysis failed")
		return errors.New(msg)
	}
	spinner.Success("Decoded")

	printResult(ctrl.Result())
	return nil
}

func printResult(result *decoder.AnalysisResult) {
	risk := pterm.FgGreen
	switch result.RiskLevel {
	case decoder.RiskCaution:
		risk = pterm.FgYellow
	case decoder.RiskConflict:
		risk = pterm.FgRed
	}
	pterm.DefaultSection.Printfln("%s (%d%% confidence)",
		risk.Sprint(result.RiskLevel), result.ConfidenceScore)

	pterm.DefaultBasicText.Println(pterm.Bold.Sprint("Literal: ") + result.LiteralMeaning)
	pterm.DefaultBasicText.Println(pterm.Bold.Sprint("Subtext: ") + result.EmotionalSubtext)

	if len(result.SuggestedReplies) > 0 {
		pterm.DefaultBasicText.Println(pterm.Bold.Sprint("Suggested replies:"))
		items := make([]pterm.BulletListItem, 0, len(result.SuggestedReplies))
		for _, reply := range result.SuggestedReplies {
			items = append(items, pterm.BulletListItem{Level: 0, Text: reply})
		}
		_ = pterm.DefaultBulletList.WithItems(items).Render()
	}
}
