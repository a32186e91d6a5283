package commands

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/tandemcad/tandem/internal/printer"
	"github.com/tandemcad/tandem/pkg/collab"
)

var (
	presenceDocumentID   string
	presenceOutputFormat string
)

var presenceCmd = &cobra.Command{
	Use:   "presence",
	Short: "Show who is working in a document",
	Long: `Show the presence projection for a document: every connected user with
their status, display color, cursor position and current selection.

The projection trails the live session by up to one mirror sync interval.

Examples:
  tandem presence --doc design-42
  tandem presence --doc design-42 --output=json`,
	RunE: runPresence,
}

func init() {
	presenceCmd.Flags().StringVarP(&presenceDocumentID, "doc", "d", "", "Document ID (required)")
	presenceCmd.Flags().StringVarP(&presenceOutputFormat, "output", "o", "default", "Output format (default or json)")
	presenceCmd.MarkFlagRequired("doc")
	rootCmd.AddCommand(presenceCmd)
}

func runPresence(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return printer.Error("failed to load configuration", err.Error(), nil)
	}

	ctx := context.Background()
	mirror := openMirror(cfg)
	defer mirror.Close()

	presences, err := mirror.ReadPresence(ctx, presenceDocumentID)
	if err != nil {
		if collab.IsNotFound(err) {
			printer.Info("No presence recorded for document '%s'.\n", presenceDocumentID)
			return nil
		}
		return printer.Error("failed to read presence", err.Error(), nil)
	}

	if presenceOutputFormat == "json" {
		return json.NewEncoder(os.Stdout).Encode(presences)
	}

	printer.Printf("%-16s %-8s %s\n", "USER", "STATUS", "COLOR")
	for _, p := range presences {
		printer.Println(printer.PresenceLine(p))
	}
	return nil
}
