package main

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/neurosense/decoder/internal/bridge"
	"github.com/neurosense/decoder/internal/lang"
)

var langCmd = &cobra.Command{
	Use:   "lang",
	Short: "Show or change the analysis target language",
}

var langGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Show the saved target language",
	RunE:  runLangGet,
}

var langSetCmd = &cobra.Command{
	Use:   "set <code>",
	Short: "Save a new target language",
	Long:  "Save a new target language.\n\nSupported codes: " + supportedCodes(),
	Args:  cobra.ExactArgs(1),
	RunE:  runLangSet,
}

func init() {
	langCmd.AddCommand(langGetCmd)
	langCmd.AddCommand(langSetCmd)
}

func supportedCodes() string {
	out := ""
	for i, code := range lang.Codes() {
		if i > 0 {
			out += ", "
		}
		out += string(code)
	}
	return out
}

func runLangGet(cmd *cobra.Command, args []string) error {
	client, err := dialClient(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	reply := client.Send(cmd.Context(), bridge.Request{Action: bridge.ActionGetLanguage})
	if !reply.Success {
		return fmt.Errorf("%s", reply.Error)
	}
	code := lang.Code(reply.Language)
	pterm.Info.Printfln("Target language: %s (%s)", lang.Name(code), code)
	return nil
}

func runLangSet(cmd *cobra.Command, args []string) error {
	code := lang.Code(args[0])
	if !lang.Supported(code) {
		return fmt.Errorf("unsupported language %q; supported: %s", args[0], supportedCodes())
	}

	client, err := dialClient(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := newPanelController(cmd, client, "").SetLanguage(code); err != nil {
		return err
	}
	pterm.Success.Printfln("Target language set to %s (%s)", lang.Name(code), code)
	return nil
}
