package commands

import (
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/tandemcad/tandem/internal/config"
	"github.com/tandemcad/tandem/pkg/collab"
)

var (
	version string
	commit  string
	date    string

	configPath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tandem",
	Short: "Tandem - real-time collaboration core for 3D CAD documents",
	Long: `Tandem is the collaboration core behind multi-user 3D CAD editing:
concurrent operation transformation, conflict detection and resolution,
live presence and object locking, and offline reconciliation.

Document state lives in per-document in-memory sessions; Redis carries an
advisory projection of presence and locks plus the live event stream, which
this CLI reads for observability.`,
	Version: version,
	// Prevent silent success when unknown flags are passed to root command
	RunE: func(cmd *cobra.Command, args []string) error {
		// If no subcommand is specified, show help
		return cmd.Help()
	},
	// Enable strict flag parsing - unknown flags will cause an error
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	// Silence Cobra's default error and usage printing
	// We print formatted colored errors directly in the printer package
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to tandem.yml (defaults apply if omitted)")
}

// loadConfig reads the configured tandem.yml, or returns the defaults when no
// path was given and no tandem.yml exists in the working directory.
func loadConfig() (*config.TandemConfig, error) {
	path := configPath
	if path == "" {
		if _, err := os.Stat("tandem.yml"); err == nil {
			path = "tandem.yml"
		} else {
			return config.Default(), nil
		}
	}
	return config.Load(path)
}

// openMirror connects to the Redis projection described by the config.
func openMirror(cfg *config.TandemConfig) *collab.Mirror {
	return collab.NewMirror(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       *cfg.Redis.DB,
	}, cfg.PresenceTTL(), cfg.LockMirrorTTL())
}
