package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tylaig/msatempmail/internal/parser"
)

var extractMode string

func init() {
	rootCmd.AddCommand(extractCmd)
	extractCmd.Flags().StringVarP(&extractMode, "mode", "m", parser.ModeHeuristic, "Extractor mode (heuristic|mime)")
}

var extractCmd = &cobra.Command{
	Use:   "extract <message.eml>",
	Short: "Extract text and HTML bodies from a raw message",
	Args:  cobra.ExactArgs(1),
	RunE:  runExtract,
}

type extractOutput struct {
	Mode    string              `json:"mode"`
	From    string              `json:"from"`
	Subject string              `json:"subject"`
	Headers map[string][]string `json:"headers"`
	Text    string              `json:"text"`
	HTML    string              `json:"html"`
}

func runExtract(cmd *cobra.Command, args []string) error {
	switch extractMode {
	case parser.ModeHeuristic, parser.ModeMIME:
	default:
		return fmt.Errorf("unknown extractor mode %q", extractMode)
	}

	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	msg, err := parser.ParseMessage(f)
	if err != nil {
		return fmt.Errorf("parse %s: %w", args[0], err)
	}

	content := parser.NewExtractor(extractMode)(msg.Body, msg.ContentType, msg.TransferEncoding)
	return writeJSON(cmd.OutOrStdout(), extractOutput{
		Mode:    extractMode,
		From:    msg.From,
		Subject: msg.Subject,
		Headers: msg.Headers,
		Text:    content.Text,
		HTML:    content.HTML,
	})
}
