// Package cmd provides the CLI commands for docforge.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/docforge/docforge/internal/config"
	"github.com/docforge/docforge/internal/logging"
	"github.com/docforge/docforge/internal/profiling"
	"github.com/docforge/docforge/pkg/version"
)

// Persistent flags shared by every subcommand.
var (
	flagConfig      string
	flagDataDir     string
	flagInboxDir    string
	flagEnvironment string
	flagLogLevel    string

	loggingCleanup func()
)

// Profiling flags.
var (
	profileCPU   string
	profileMem   string
	profileTrace string
	profiler     = profiling.NewProfiler()
	cpuCleanup   func()
	traceCleanup func()
)

// NewRootCmd creates the root command for the docforge CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docforge",
		Short: "Document knowledge service with hybrid search",
		Long: `DocForge ingests documents through an async processing pipeline
(extract, chunk, embed, index) and serves hybrid vector plus keyword
search over the result.

Run 'docforge serve' to watch the inbox directory, or 'docforge process'
to index files one-shot.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.SetVersionTemplate("docforge version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to config file (default: $DOCFORGE_CONFIG or built-in defaults)")
	cmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "Override the data directory")
	cmd.PersistentFlags().StringVar(&flagInboxDir, "inbox", "", "Override the watched inbox directory")
	cmd.PersistentFlags().StringVar(&flagEnvironment, "environment", "", "Worker queue environment (default: production)")
	cmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error")

	cmd.PersistentFlags().StringVar(&profileCPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&profileMem, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&profileTrace, "profile-trace", "", "Write execution trace to file")

	cmd.PersistentPreRunE = startProfilingAndLogging
	cmd.PersistentPostRunE = stopProfilingAndLogging

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newProcessCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	// Optional .env for local overrides (OLLAMA host, data dir).
	_ = godotenv.Load()
	return NewRootCmd().Execute()
}

// loadConfig resolves configuration from file, environment and flags.
// Flags win over everything.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if flagDataDir != "" {
		cfg.Paths.DataDir = flagDataDir
	}
	if flagInboxDir != "" {
		cfg.Paths.InboxDir = flagInboxDir
	}
	if flagEnvironment != "" {
		cfg.Worker.Environment = flagEnvironment
	}
	if flagLogLevel != "" {
		cfg.Logging.Level = flagLogLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// startProfilingAndLogging installs the default slog logger and starts
// the requested profiles before any subcommand runs. Interactive
// commands keep stderr quiet unless --log-level asks for more.
func startProfilingAndLogging(_ *cobra.Command, _ []string) error {
	level := flagLogLevel
	if level == "" {
		level = "warn"
	}
	cleanup, err := logging.SetupDefault(logging.Config{
		Level:         level,
		FilePath:      logging.DefaultLogPath(),
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: false,
	})
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.Debug("logging_ready", slog.String("file", logging.DefaultLogPath()))

	if profileCPU != "" {
		cpuCleanup, err = profiler.StartCPU(profileCPU)
		if err != nil {
			return fmt.Errorf("start CPU profile: %w", err)
		}
	}
	if profileTrace != "" {
		traceCleanup, err = profiler.StartTrace(profileTrace)
		if err != nil {
			if cpuCleanup != nil {
				cpuCleanup()
			}
			return fmt.Errorf("start trace: %w", err)
		}
	}
	return nil
}

// stopProfilingAndLogging stops profiling, writes the memory profile if
// requested and closes the log file.
func stopProfilingAndLogging(_ *cobra.Command, _ []string) error {
	if cpuCleanup != nil {
		cpuCleanup()
		cpuCleanup = nil
	}
	if traceCleanup != nil {
		traceCleanup()
		traceCleanup = nil
	}
	if profileMem != "" {
		if err := profiler.WriteHeap(profileMem); err != nil {
			return fmt.Errorf("write memory profile: %w", err)
		}
	}
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}
