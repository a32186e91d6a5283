package commands

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tandemcad/tandem/internal/printer"
	"github.com/tandemcad/tandem/internal/resolver"
	"github.com/tandemcad/tandem/internal/watch"
	"github.com/tandemcad/tandem/pkg/collab"
)

var (
	locksDocumentID   string
	locksOutputFormat string
	locksWaitObject   string
	locksWaitUser     string
	locksWaitTimeout  time.Duration
)

var locksCmd = &cobra.Command{
	Use:   "locks",
	Short: "Show a document's object locks",
	Long: `Show the lock projection for a document: which objects are locked, by
whom, the lock type, and when each lock expires.

With --wait-object and --wait-user, polls until the user appears among the
object's lock holders, for scripting around lock handoffs.

Examples:
  tandem locks --doc design-42
  tandem locks --doc design-42 --wait-object obj-7 --wait-user alice`,
	RunE: runLocks,
}

func init() {
	locksCmd.Flags().StringVarP(&locksDocumentID, "doc", "d", "", "Document ID (required)")
	locksCmd.Flags().StringVarP(&locksOutputFormat, "output", "o", "default", "Output format (default or json)")
	locksCmd.Flags().StringVar(&locksWaitObject, "wait-object", "", "Poll until this object is locked by --wait-user")
	locksCmd.Flags().StringVar(&locksWaitUser, "wait-user", "", "User expected to hold the lock")
	locksCmd.Flags().DurationVar(&locksWaitTimeout, "timeout", 30*time.Second, "How long to poll with --wait-object")
	locksCmd.MarkFlagRequired("doc")
	rootCmd.AddCommand(locksCmd)
}

func runLocks(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return printer.Error("failed to load configuration", err.Error(), nil)
	}

	ctx := context.Background()
	mirror := openMirror(cfg)
	defer mirror.Close()

	if locksWaitObject != "" {
		if locksWaitUser == "" {
			return printer.Error(
				"missing --wait-user",
				"--wait-object needs --wait-user to know which holder to wait for.",
				nil,
			)
		}
		objectID, err := resolver.ResolveObjectID(ctx, mirror, locksDocumentID, locksWaitObject)
		if err != nil {
			var ambiguous *resolver.AmbiguousError
			if errors.As(err, &ambiguous) {
				return printer.Error("ambiguous object ID", resolver.FormatAmbiguousError(ambiguous), nil)
			}
			if resolver.IsNotFoundError(err) {
				return printer.Error(
					"object not found",
					err.Error(),
					[]string{"A short ID only matches objects that are currently locked. Use the full object UUID to wait for a first grant."},
				)
			}
			return printer.Error("failed to resolve object ID", err.Error(), nil)
		}
		lock, err := watch.PollForLockGrant(ctx, mirror, locksDocumentID, objectID, locksWaitUser, locksWaitTimeout)
		if err != nil {
			return printer.Error("lock grant not observed", err.Error(), nil)
		}
		printer.Success("%s holds %s lock on %s\n", locksWaitUser, lock.LockType, lock.ObjectID)
		return nil
	}

	locks, err := mirror.ReadLocks(ctx, locksDocumentID)
	if err != nil {
		if collab.IsNotFound(err) {
			printer.Info("No locks recorded for document '%s'.\n", locksDocumentID)
			return nil
		}
		return printer.Error("failed to read locks", err.Error(), nil)
	}

	if locksOutputFormat == "json" {
		return json.NewEncoder(os.Stdout).Encode(locks)
	}

	printer.Printf("%-16s %-10s %s\n", "OBJECT", "TYPE", "HOLDERS")
	for _, l := range locks {
		printer.Println(printer.LockLine(l))
	}
	return nil
}
