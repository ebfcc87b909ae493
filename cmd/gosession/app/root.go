// Package app provides the entry point for the gosession command-line application.
package app

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	goSession "github.com/MrEthical07/goSession"
)

const envPrefix = "GOSESSION"

var rootCmd = &cobra.Command{
	Use:               "gosession",
	DisableAutoGenTag: true,
	Short:             "Operate a goSession store",
	Long: `gosession runs maintenance and benchmarking tasks against a goSession store.

Configuration is read from an optional YAML file (--config), then from
GOSESSION_* environment variables, then from command-line flags. Nested keys
map to environment variables by replacing dots with underscores, for example
GOSESSION_REDIS_ADDRS or GOSESSION_SWEEPER_INTERVAL.`,
	Run: func(cmd *cobra.Command, _ []string) {
		if err := cmd.Help(); err != nil {
			cmd.PrintErrf("Error displaying help: %v\n", err)
		}
	},
}

// NewRootCmd creates a new root command for the gosession CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to a YAML configuration file")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format: text or json")
	rootCmd.PersistentFlags().StringSlice("redis-addr", nil, "Redis address; repeat for cluster or sentinel")

	for key, flag := range map[string]string{
		"config":      "config",
		"debug":       "debug",
		"log_format":  "log-format",
		"redis.addrs": "redis-addr",
	} {
		if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			rootCmd.PrintErrf("Error binding %s flag: %v\n", flag, err)
		}
	}

	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(loadtestCmd)
	rootCmd.AddCommand(benchcmpCmd)

	rootCmd.SilenceUsage = true

	return rootCmd
}

// newLogger builds the process logger from the debug and log_format keys.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if viper.GetBool("debug") {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if viper.GetString("log_format") == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// loadConfig layers the config file, environment and flags over
// goSession.DefaultConfig and validates the result.
func loadConfig(v *viper.Viper) (goSession.Config, error) {
	cfg := goSession.DefaultConfig()
	setDefaults(v, cfg)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can resolve it during
// Unmarshal.
func setDefaults(v *viper.Viper, cfg goSession.Config) {
	v.SetDefault("session.namespace", cfg.Session.Namespace)
	v.SetDefault("session.default_max_inactive_interval", cfg.Session.DefaultMaxInactiveInterval)
	v.SetDefault("session.grace_window", cfg.Session.GraceWindow)
	v.SetDefault("session.expiration_grace", cfg.Session.ExpirationGrace)
	v.SetDefault("session.find_concurrency", cfg.Session.FindConcurrency)

	v.SetDefault("store.backend", cfg.Store.Backend)

	v.SetDefault("redis.addrs", cfg.Redis.Addrs)
	v.SetDefault("redis.master_name", cfg.Redis.MasterName)
	v.SetDefault("redis.username", cfg.Redis.Username)
	v.SetDefault("redis.password", cfg.Redis.Password)
	v.SetDefault("redis.sentinel_username", cfg.Redis.SentinelUsername)
	v.SetDefault("redis.sentinel_password", cfg.Redis.SentinelPassword)
	v.SetDefault("redis.db", cfg.Redis.DB)
	v.SetDefault("redis.pool_size", cfg.Redis.PoolSize)
	v.SetDefault("redis.dial_timeout", cfg.Redis.DialTimeout)
	v.SetDefault("redis.read_timeout", cfg.Redis.ReadTimeout)
	v.SetDefault("redis.write_timeout", cfg.Redis.WriteTimeout)

	v.SetDefault("sweeper.enabled", cfg.Sweeper.Enabled)
	v.SetDefault("sweeper.interval", cfg.Sweeper.Interval)
	v.SetDefault("sweeper.batch_size", cfg.Sweeper.BatchSize)
	v.SetDefault("sweeper.max_batches_per_tick", cfg.Sweeper.MaxBatchesPerTick)
	v.SetDefault("sweeper.max_retries", cfg.Sweeper.MaxRetries)
	v.SetDefault("sweeper.initial_backoff", cfg.Sweeper.InitialBackoff)

	v.SetDefault("audit.enabled", cfg.Audit.Enabled)
	v.SetDefault("audit.buffer_size", cfg.Audit.BufferSize)
	v.SetDefault("audit.drop_if_full", cfg.Audit.DropIfFull)

	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.enable_latency_histograms", cfg.Metrics.EnableLatencyHistograms)
}
