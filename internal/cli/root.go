package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ppiankov/claimledger/internal/ledger"
	"github.com/ppiankov/claimledger/internal/logging"
	"github.com/ppiankov/claimledger/internal/metrics"
	"github.com/ppiankov/claimledger/internal/model"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Version is set at build time with -ldflags "-X .../internal/cli.Version=..."
var Version = "v0.1.0-dev"

var (
	cfgFile   string
	verbose   bool
	storePath string
	logLevel  string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "claimledger",
	Short: "claimledger - versioned ledger of research claims",
	Long: `claimledger records atomic research claims together with their evidence,
their confidence tier, their lifecycle status and the typed relations between
them (extends, refines, supersedes, contradicts, depends_on, confirms).

It does not decide what is true. It enforces that claims only advance by the
rules, that supersession stays a clean lineage, and that contradictions are
surfaced instead of silently coexisting.

Every change is an audited revision; nothing is deleted.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command; cancelling ctx interrupts long-running commands
// The returned error carries the process exit status, see ExitCode.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "claimledger %s\n", Version)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.claimledger/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&storePath, "store", "", "store directory (env CLAIMLEDGER_STORE)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")

	// Bind flags to viper
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("store.path", rootCmd.PersistentFlags().Lookup("store"))
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(versionCmd)
}

// initConfig reads in config file and the store environment variable
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			return
		}

		viper.AddConfigPath(filepath.Join(home, ".claimledger"))
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	// The store location is the only setting read from the environment
	_ = viper.BindEnv("store.path", "CLAIMLEDGER_STORE")

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// loadConfig layers the config file, environment and flags over the defaults
func loadConfig() (*model.Config, error) {
	def := model.DefaultConfig()
	cfg := model.DefaultConfig()
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// Unset flags unmarshal as empty strings
	if cfg.Store.Path == "" {
		cfg.Store.Path = def.Store.Path
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
	if verbose && logLevel == "" {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

// session bundles what a command needs to talk to the ledger
type session struct {
	cfg     *model.Config
	ledger  *ledger.Ledger
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func openSession() (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.JSON)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	l, err := ledger.Open(cfg, m, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, fmt.Errorf("open store %s: %w", cfg.Store.Path, err)
	}
	return &session{cfg: cfg, ledger: l, metrics: m, logger: logger}, nil
}

func (s *session) Close() {
	if err := s.ledger.Close(); err != nil {
		s.logger.Warn("close ledger", zap.Error(err))
	}
	_ = s.logger.Sync()
}
