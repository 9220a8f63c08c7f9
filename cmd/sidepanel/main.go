// Package main implements the sidepanel CLI: the background daemon and a
// few terminal commands over the same streaming core.
package main

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"sidepanel/internal/config"
	"sidepanel/internal/logging"
)

var (
	verbose    bool
	configPath string
	timeout    time.Duration

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "sidepanel",
	Short: "Side panel LLM assistant daemon and CLI",
	Long: `sidepanel drives a Chrome instance over the DevTools protocol, keeps the
panel session state, and streams chat completions from local and hosted
model providers.

Run "sidepanel serve" to start the daemon the panel UI connects to.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zc := zap.NewProductionConfig()
		if verbose {
			zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zc.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: ~/.sidepanel/config.yaml)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "Timeout for one-shot commands")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(rewriteCmd)
	rootCmd.AddCommand(attachCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// loadConfig reads and validates the config, then brings up category logging.
func loadConfig() (*config.Config, error) {
	path := resolveConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	if err := logging.Initialize(config.StateDir(), cfg.Logging.Settings()); err != nil {
		logger.Warn("Category logging disabled", zap.Error(err))
	}
	logger.Debug("Loaded config", zap.String("path", path), zap.String("mode", cfg.Chat.ChatMode))
	return cfg, nil
}

// liveConfig holds the current config; the daemon swaps it on reload.
type liveConfig struct {
	p atomic.Pointer[config.Config]
}

func newLiveConfig(cfg *config.Config) *liveConfig {
	l := &liveConfig{}
	l.p.Store(cfg)
	return l
}

func (l *liveConfig) Get() *config.Config { return l.p.Load() }

func (l *liveConfig) Set(cfg *config.Config) { l.p.Store(cfg) }
