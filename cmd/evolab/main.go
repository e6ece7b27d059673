package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"evolab/internal/archive"
	"evolab/internal/config"
	"evolab/internal/logging"
)

var (
	// Global flags
	verbose    bool
	workspace  string
	configPath string
	dbPath     string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "evolab",
	Short: "evolab - LLM-driven code evolution with a content-addressed archive",
	Long: `evolab runs a three-tier code evolution pipeline:

  1. Tier 1 observes source paths and mines recurring paradigms
  2. Tier 2 generates candidate variants across a temperature schedule
  3. Tier 3 validates candidates with a judge model
  4. Approved survivors are fused into offspring at the AST level

Every run and every retired file is preserved in a SQLite archive with
full version history.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		if workspace == "" {
			workspace, err = os.Getwd()
			if err != nil {
				return fmt.Errorf("resolve workspace: %w", err)
			}
		}
		if err := logging.Initialize(workspace); err != nil {
			logger.Warn("file logging unavailable", zap.Error(err))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		logging.CloseAudit()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// loadConfig reads the config file, falling back to defaults.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultPath(workspace)
	}
	return config.Load(path)
}

// openArchive opens the store configured for this workspace. The --db
// flag wins over the EVOLAB_DB and config paths.
func openArchive(cfg *config.Config) (*archive.Store, error) {
	if dbPath != "" {
		return archive.New(dbPath)
	}
	return archive.New(cfg.Archive.DatabasePath)
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (default: <workspace>/.evolab/evolab.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Archive database path (overrides EVOLAB_DB and config)")

	rootCmd.AddCommand(archiveCmd)
	rootCmd.AddCommand(retrieveCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(versionsCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(evolveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
