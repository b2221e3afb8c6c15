package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tonimelisma/journal-sync/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagStateDir   string
	flagAPIURL     string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// CLIFlags is the parsed view of the persistent flags.
type CLIFlags struct {
	ConfigPath string
	JSON       bool
	Verbose    bool
	Quiet      bool
}

// CLIContext carries everything a subcommand needs after the root pre-run:
// the resolved config, the logger built from it, and the flags.
type CLIContext struct {
	Cfg     *config.Config
	CfgPath string
	Logger  *slog.Logger
	Flags   CLIFlags

	logCloser io.Closer
}

type cliContextKey struct{}

// mustCLIContext returns the CLIContext stored by the root pre-run. Every
// subcommand runs after it, so a missing value is a programming error.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		panic("CLIContext missing from command context")
	}

	return cc
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "journal-sync",
		Short:   "Offline-first journal client",
		Long:    "Queue journal writes locally and sync them to the journal service when online.",
		Version: version,
		// We print errors ourselves in main.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := loadCLIContext()
			if err != nil {
				return err
			}

			cmd.SetContext(context.WithValue(cmd.Context(), cliContextKey{}, cc))

			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if cc, ok := cmd.Context().Value(cliContextKey{}).(*CLIContext); ok && cc.logCloser != nil {
				_ = cc.logCloser.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagStateDir, "state-dir", "", "directory holding the queue and session")
	cmd.PersistentFlags().StringVar(&flagAPIURL, "api-url", "", "journal service base URL")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")
	cmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newWhoamiCmd())
	cmd.AddCommand(newStatementCmd())
	cmd.AddCommand(newProfileCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newQueueCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// loadCLIContext resolves the effective configuration from the override
// chain and builds the logger from it.
func loadCLIContext() (*CLIContext, error) {
	cfg, cfgPath, err := config.Resolve(config.ReadEnvOverrides(), config.CLIOverrides{
		ConfigPath: flagConfigPath,
		StateDir:   flagStateDir,
		APIURL:     flagAPIURL,
	})
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	flags := CLIFlags{
		ConfigPath: flagConfigPath,
		JSON:       flagJSON,
		Verbose:    flagVerbose,
		Quiet:      flagQuiet,
	}

	logger, closer := buildLogger(&cfg.Logging, flags, os.Stderr)

	logger.Debug("config resolved", slog.String("path", cfgPath), slog.String("state_dir", cfg.StateDir()))

	return &CLIContext{
		Cfg:       cfg,
		CfgPath:   cfgPath,
		Logger:    logger,
		Flags:     flags,
		logCloser: closer,
	}, nil
}

// buildLogger creates an slog.Logger from the logging config and CLI flags.
// The config level is the baseline; --verbose and --quiet override it.
// With log_file set, output goes to a rotating file; otherwise to stderr,
// as text on a terminal and JSON elsewhere unless log_format says otherwise.
// The returned closer is nil when logging to stderr.
func buildLogger(lc *config.LoggingConfig, flags CLIFlags, stderr *os.File) (*slog.Logger, io.Closer) {
	level := parseLevel(lc.LogLevel)

	if flags.Verbose {
		level = slog.LevelDebug
	}

	if flags.Quiet {
		level = slog.LevelError
	}

	var (
		w       io.Writer = stderr
		closer  io.Closer
		useJSON bool
	)

	switch {
	case lc.LogFile != "":
		lj := &lumberjack.Logger{
			Filename:   lc.LogFile,
			MaxSize:    lc.LogMaxSizeMB,
			MaxBackups: lc.LogMaxBackups,
		}
		w, closer = lj, lj
		useJSON = lc.LogFormat != "text"
	case lc.LogFormat == "auto":
		useJSON = !isatty.IsTerminal(stderr.Fd()) && !isatty.IsCygwinTerminal(stderr.Fd())
	default:
		useJSON = lc.LogFormat == "json"
	}

	opts := &slog.HandlerOptions{Level: level}

	if useJSON {
		return slog.New(slog.NewJSONHandler(w, opts)), closer
	}

	return slog.New(slog.NewTextHandler(w, opts)), closer
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
