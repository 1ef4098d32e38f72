// Package config parses the driver's text configuration file and CLI/env
// overrides into an immutable RuntimePolicy snapshot. It never mutates a
// RuntimePolicy once returned; there is no reload.
package config

import (
	"fmt"
	"os"

	"github.com/jihwankim/nas-emu-fuse/pkg/fault"
)

// LogLevel mirrors the four severities the logger recognizes.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

func ParseLogLevel(s string) (LogLevel, error) {
	switch s {
	case "0", "debug", "DEBUG":
		return LevelDebug, nil
	case "1", "info", "INFO", "":
		return LevelInfo, nil
	case "2", "warn", "WARN":
		return LevelWarn, nil
	case "3", "error", "ERROR":
		return LevelError, nil
	default:
		return 0, fmt.Errorf("unrecognized log level %q", s)
	}
}

// RuntimePolicy is the immutable, validated configuration a mounted driver
// runs with for its whole lifetime.
type RuntimePolicy struct {
	BackingRoot string
	MountPoint  string
	LogPath     string
	LogLevel    LogLevel
	FaultRules  []fault.FaultRule
	GlobalSeed  uint64
}

// Options carries the CLI flag values (already merged with any explicit
// --flag); an empty string means "use the environment override". An empty
// LogLevel with no override falls back to INFO; the other fields have no
// default, so Load fails when both are empty. ConfigFile has no
// environment override.
type Options struct {
	MountPoint string
	StorageDir string
	LogFile    string
	LogLevel   string
	ConfigFile string
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// Load resolves environment overrides, parses the fault-rule config file,
// and produces a validated RuntimePolicy. Every error here is a startup
// error: the caller should print it and exit 1.
func Load(opts Options) (*RuntimePolicy, error) {
	mountPoint := firstNonEmpty(opts.MountPoint, os.Getenv("NAS_MOUNT_POINT"))
	backingRoot := firstNonEmpty(opts.StorageDir, os.Getenv("NAS_STORAGE_PATH"))
	logFile := firstNonEmpty(opts.LogFile, os.Getenv("NAS_LOG_FILE"))
	logLevelStr := firstNonEmpty(opts.LogLevel, os.Getenv("NAS_LOG_LEVEL"))

	if mountPoint == "" {
		return nil, fmt.Errorf("mount point is required (positional argument or NAS_MOUNT_POINT)")
	}
	if backingRoot == "" {
		return nil, fmt.Errorf("--storage is required (or NAS_STORAGE_PATH)")
	}
	if logFile == "" {
		return nil, fmt.Errorf("--log is required (or NAS_LOG_FILE)")
	}
	if opts.ConfigFile == "" {
		return nil, fmt.Errorf("--config is required")
	}

	level, err := ParseLogLevel(logLevelStr)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(backingRoot)
	if err != nil {
		return nil, fmt.Errorf("backing root %q: %w", backingRoot, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("backing root %q is not a directory", backingRoot)
	}

	rules, seed, err := ParseRuleFile(opts.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("config file %q: %w", opts.ConfigFile, err)
	}

	return &RuntimePolicy{
		BackingRoot: backingRoot,
		MountPoint:  mountPoint,
		LogPath:     logFile,
		LogLevel:    level,
		FaultRules:  rules,
		GlobalSeed:  seed,
	}, nil
}
