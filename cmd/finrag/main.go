package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"finrag/internal/config"
	"finrag/internal/metrics"

	"github.com/spf13/cobra"
)

var (
	version     = "0.1.0"
	logger      *slog.Logger
	configPath  string // overridable via --config flag
	logLevel    string // overrides general.logLevel
	dumpMetrics bool
	logFile     *os.File
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "finrag",
		Short: "finrag: question answering over financial PDF documents",
		Long: `finrag ingests financial documents into a local vector index and answers
questions about them with a retrieval-augmented language model agent.`,
		SilenceUsage: true,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if dumpMetrics {
				_ = metrics.Collector.Write(os.Stderr)
			}
			if logFile != nil {
				logFile.Close()
			}
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json or config.yaml (default: ~/.finrag/config.json)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (default: general.logLevel)")
	root.PersistentFlags().BoolVar(&dumpMetrics, "metrics", false, "print metrics in Prometheus text format to stderr on exit")

	root.AddCommand(initCmd())
	root.AddCommand(ingestCmd())
	root.AddCommand(askCmd())
	root.AddCommand(queryCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(statsCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(backupCmd())
	root.AddCommand(restoreCmd())
	root.AddCommand(configCmd())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("finrag", version)
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return config.ExpandPath(configPath)
	}
	return config.DefaultConfigPath()
}

// loadConfig loads the config file, falling back to defaults when none
// exists, and reconfigures the logger from it.
func loadConfig() (*config.Config, error) {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		if _, statErr := os.Stat(cfgPath); !os.IsNotExist(statErr) {
			return nil, fmt.Errorf("load config: %w", err)
		}
		logger.Debug("config not found, using defaults", "path", cfgPath)
		if err := config.LoadDotEnv(".env"); err != nil {
			return nil, err
		}
		cfg = config.Defaults()
	}
	if err := setupLogger(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setupLogger replaces the bootstrap logger with one honouring the
// configured level and optional log file.
func setupLogger(cfg *config.Config) error {
	level := cfg.General.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var w io.Writer = os.Stderr
	if cfg.General.LogFile != "" && logFile == nil {
		if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
			return fmt.Errorf("cannot create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.General.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("cannot open log file: %w", err)
		}
		logFile = f
		w = io.MultiWriter(os.Stderr, f)
	}
	logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return nil
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config and create the corpus directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil && !force {
				return fmt.Errorf("config already exists at %s (use --force to overwrite)", cfgPath)
			}
			cfg := config.Defaults()
			cfg.Corpus.Dir = filepath.Join(config.DefaultConfigDir(), "corpus")
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			if err := os.MkdirAll(cfg.Corpus.Dir, 0o755); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath, "corpus", cfg.Corpus.Dir)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. corpus.chunkSize)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			val, err := config.GetByPath(config.Sanitize(cfg), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), val)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. general.defaultProvider ollama)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			cfgPath := resolveConfigPath()
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "file", cfgPath)
			if config.RequiresRebuild(args[0]) {
				fmt.Fprintln(cmd.OutOrStdout(), "Existing index no longer matches this setting; run 'finrag ingest --rebuild <paths>'.")
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			paths := config.ListPaths(config.Sanitize(cfg))
			keys := make([]string, 0, len(paths))
			for k := range paths {
				keys = append(keys, k)
			}
			slices.Sort(keys)
			for _, k := range keys {
				fmt.Fprintf(cmd.OutOrStdout(), "%s = %v\n", k, paths[k])
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), resolveConfigPath())
		},
	})

	return cmd
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
