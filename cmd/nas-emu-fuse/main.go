package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jihwankim/nas-emu-fuse/pkg/config"
	"github.com/jihwankim/nas-emu-fuse/pkg/driver"
	"github.com/jihwankim/nas-emu-fuse/pkg/logging"
	"github.com/jihwankim/nas-emu-fuse/pkg/metrics"
)

// exitStartupFailure and exitMountFailure distinguish bad CLI/config
// from a runtime mount failure.
const (
	exitStartupFailure = 1
	exitMountFailure   = 2
)

var version = "dev"

var (
	storageDir  string
	logFile     string
	logLevel    string
	configFile  string
	foreground  bool
	metricsAddr string
	threads     bool
)

var rootCmd = &cobra.Command{
	Use:     "nas-emu-fuse <mount_point>",
	Short:   "Passthrough FUSE filesystem with deterministic fault injection",
	Args:    cobra.MaximumNArgs(1),
	Version: version,
	RunE:    runMount,
	// SilenceUsage/SilenceErrors: a failed mount should print one line
	// on stderr, not the full usage text.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.Flags().StringVar(&storageDir, "storage", "", "backing root directory (required, or NAS_STORAGE_PATH)")
	rootCmd.Flags().StringVar(&logFile, "log", "", "log sink path (required, or NAS_LOG_FILE)")
	rootCmd.Flags().StringVar(&logLevel, "loglevel", "", "0=DEBUG 1=INFO 2=WARN 3=ERROR, default INFO (or NAS_LOG_LEVEL)")
	rootCmd.Flags().StringVar(&configFile, "config", "", "fault rule config file (required)")
	rootCmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "run in foreground")
	rootCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "optional host:port to serve Prometheus metrics")
	rootCmd.Flags().BoolVar(&threads, "threads", false, "enable multi-threaded dispatch (reproducibility then holds only per-thread)")
}

func runMount(cmd *cobra.Command, args []string) error {
	var mountPoint string
	if len(args) == 1 {
		mountPoint = args[0]
	}

	policy, err := config.Load(config.Options{
		MountPoint: mountPoint,
		StorageDir: storageDir,
		LogFile:    logFile,
		LogLevel:   logLevel,
		ConfigFile: configFile,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitStartupFailure)
	}

	logger, err := logging.Open(policy.LogPath, toLoggingLevel(policy.LogLevel))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitStartupFailure)
	}
	defer logger.Close()

	runID := uuid.NewString()
	logger = logger.WithFields(map[string]string{"run_id": runID})

	exporter := metrics.New(metrics.Config{RunID: runID})
	ctx := context.Background()
	if err := exporter.Start(ctx, metricsAddr); err != nil {
		fmt.Fprintln(os.Stderr, fmt.Errorf("metrics listener: %w", err))
		os.Exit(exitStartupFailure)
	}
	defer exporter.Stop(ctx)

	d := driver.New(driver.Options{
		Policy:      policy,
		Logger:      logger,
		Metrics:     exporter,
		RunID:       runID,
		MultiThread: threads,
	})

	if err := d.Mount(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitMountFailure)
	}

	logger.Info(fmt.Sprintf("mounted %s on %s (run_id=%s)", policy.BackingRoot, policy.MountPoint, runID))
	d.Serve(ctx)
	return nil
}

// toLoggingLevel bridges config.LogLevel (parsed from CLI/env strings)
// to logging.Level (the logger's own severity type). The two enums stay
// separate: config parses user-facing spellings, logging only cares
// about the already-resolved ordinal.
func toLoggingLevel(l config.LogLevel) logging.Level {
	switch l {
	case config.LevelDebug:
		return logging.LevelDebug
	case config.LevelWarn:
		return logging.LevelWarn
	case config.LevelError:
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitStartupFailure)
	}
}
