package commands

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tandemcad/tandem/internal/printer"
)

var (
	watchDocumentID   string
	watchOutputFormat string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream a document's live session events",
	Long: `Stream a document's session events as they occur: joins and leaves,
cursor and selection updates, lock grants and releases, applied operations
and queued conflicts.

Output Formats:
  default - Human-readable colored lines with timestamps
  json    - Line-delimited JSON for programmatic processing

Examples:
  # Watch a document
  tandem watch --doc design-42

  # Export events as JSON
  tandem watch --doc design-42 --output=json > events.jsonl`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchDocumentID, "doc", "d", "", "Document ID to watch (required)")
	watchCmd.Flags().StringVarP(&watchOutputFormat, "output", "o", "default", "Output format (default or json)")
	watchCmd.MarkFlagRequired("doc")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	if watchOutputFormat != "default" && watchOutputFormat != "json" {
		return printer.Error(
			"invalid output format",
			"Unknown format: "+watchOutputFormat,
			[]string{"Valid formats: default, json"},
		)
	}

	cfg, err := loadConfig()
	if err != nil {
		return printer.Error(
			"failed to load configuration",
			err.Error(),
			[]string{"Check the path passed with --config"},
		)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mirror := openMirror(cfg)
	defer mirror.Close()

	if err := mirror.Ping(ctx); err != nil {
		return printer.Error(
			"cannot reach Redis",
			err.Error(),
			[]string{"Check redis.addr in tandem.yml", "Verify the Redis instance is running"},
		)
	}

	sub, err := mirror.SubscribeEvents(ctx, watchDocumentID)
	if err != nil {
		return printer.Error("failed to subscribe to events", err.Error(), nil)
	}
	defer sub.Close()

	printer.Step("Watching document '%s' (Ctrl+C to stop)\n", watchDocumentID)

	encoder := json.NewEncoder(os.Stdout)
	for {
		select {
		case <-ctx.Done():
			printer.Println()
			printer.Info("Stopped watching.\n")
			return nil

		case event, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if watchOutputFormat == "json" {
				if err := encoder.Encode(event); err != nil {
					return err
				}
				continue
			}
			printer.Event(event)

		case err, ok := <-sub.Errors():
			if !ok {
				return nil
			}
			printer.Warning("subscription error: %v\n", err)
		}
	}
}
