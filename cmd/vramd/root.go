package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"vramd/internal/common/fsutil"
	"vramd/internal/config"
)

// options collects persistent flags shared by every subcommand.
type options struct {
	configPath string
	logLevel   string
	logFormat  string
	server     string
}

func newRootCmd() *cobra.Command {
	opts := &options{
		configPath: os.Getenv("VRAMD_CONFIG"),
		server:     envOr("VRAMD_SERVER", "http://127.0.0.1:8090"),
	}
	root := &cobra.Command{
		Use:           "vramd",
		Short:         "Arbitrate GPU memory between local LLM runtimes",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", opts.configPath, "Config file (.yaml, .json or .toml; defaults VRAMD_CONFIG)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug|info|warn|error (overrides config)")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "Log format: console|json (overrides config)")
	root.PersistentFlags().StringVar(&opts.server, "server", opts.server, "Base URL of a running vramd for client commands (defaults VRAMD_SERVER)")

	configCmd := &cobra.Command{Use: "config", Short: "Inspect configuration"}
	configCmd.AddCommand(newConfigShowCmd(opts))

	root.AddCommand(
		newServeCmd(opts),
		newStatusCmd(opts),
		newPrepareCmd(opts),
		newUnloadCmd(opts),
		configCmd,
	)
	return root
}

// defaultConfigPath is read when no --config is given and the file exists.
const defaultConfigPath = "~/.config/vramd/config.yaml"

// loadConfig resolves the effective configuration: file, environment,
// flags, then defaults.
func loadConfig(opts *options) (config.Config, error) {
	var cfg config.Config
	path := opts.configPath
	if path == "" {
		if p, err := fsutil.ExpandHome(defaultConfigPath); err == nil && fsutil.FileExists(p) {
			path = p
		}
	}
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return cfg, fmt.Errorf("load config %s: %w", path, err)
		}
	}
	cfg.ApplyEnv(nil)
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if opts.logFormat != "" {
		cfg.LogFormat = opts.logFormat
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// newLogger builds the process logger for the given level and format.
func newLogger(w io.Writer, level, format string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("log level %q: %w", level, err)
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	switch strings.ToLower(format) {
	case "", "console":
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	case "json":
	default:
		return zerolog.Nop(), fmt.Errorf("unknown log format %q", format)
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Str("app", "vramd").Logger(), nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// splitCSV splits a comma separated flag value, dropping empty items.
func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
