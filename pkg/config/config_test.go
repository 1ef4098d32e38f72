package config

import (
	"os"
	"path/filepath"
	"testing"
)

func minimalRuleFile(t *testing.T) string {
	t.Helper()
	return writeTemp(t, `
seed = 7

probability = 1.0
target_operations = write
error_code = EIO
`)
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"NAS_MOUNT_POINT", "NAS_STORAGE_PATH", "NAS_LOG_FILE", "NAS_LOG_LEVEL"} {
		t.Setenv(k, "")
	}
}

func TestLoadResolvesFlagsAndFile(t *testing.T) {
	clearEnv(t)
	backing := t.TempDir()
	logPath := filepath.Join(t.TempDir(), "driver.log")

	policy, err := Load(Options{
		MountPoint: "/mnt/nas",
		StorageDir: backing,
		LogFile:    logPath,
		LogLevel:   "0",
		ConfigFile: minimalRuleFile(t),
	})
	if err != nil {
		t.Fatal(err)
	}
	if policy.MountPoint != "/mnt/nas" || policy.BackingRoot != backing {
		t.Fatalf("policy paths wrong: %+v", policy)
	}
	if policy.LogLevel != LevelDebug {
		t.Fatalf("expected DEBUG, got %v", policy.LogLevel)
	}
	if policy.GlobalSeed != 7 {
		t.Fatalf("expected seed 7, got %d", policy.GlobalSeed)
	}
	if len(policy.FaultRules) != 1 {
		t.Fatalf("expected 1 rule, got %d", len(policy.FaultRules))
	}
}

func TestLoadEnvOverridesFillAbsentFlags(t *testing.T) {
	backing := t.TempDir()
	logPath := filepath.Join(t.TempDir(), "driver.log")
	t.Setenv("NAS_MOUNT_POINT", "/mnt/from-env")
	t.Setenv("NAS_STORAGE_PATH", backing)
	t.Setenv("NAS_LOG_FILE", logPath)
	t.Setenv("NAS_LOG_LEVEL", "3")

	policy, err := Load(Options{ConfigFile: minimalRuleFile(t)})
	if err != nil {
		t.Fatal(err)
	}
	if policy.MountPoint != "/mnt/from-env" {
		t.Fatalf("env mount point not applied: %q", policy.MountPoint)
	}
	if policy.LogLevel != LevelError {
		t.Fatalf("env log level not applied: %v", policy.LogLevel)
	}
}

func TestLoadFlagWinsOverEnv(t *testing.T) {
	backing := t.TempDir()
	logPath := filepath.Join(t.TempDir(), "driver.log")
	t.Setenv("NAS_MOUNT_POINT", "/mnt/from-env")
	t.Setenv("NAS_STORAGE_PATH", backing)
	t.Setenv("NAS_LOG_FILE", logPath)

	policy, err := Load(Options{
		MountPoint: "/mnt/from-flag",
		ConfigFile: minimalRuleFile(t),
	})
	if err != nil {
		t.Fatal(err)
	}
	if policy.MountPoint != "/mnt/from-flag" {
		t.Fatalf("flag should win over env, got %q", policy.MountPoint)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	clearEnv(t)
	backing := t.TempDir()
	logPath := filepath.Join(t.TempDir(), "driver.log")
	rules := minimalRuleFile(t)

	cases := []Options{
		{StorageDir: backing, LogFile: logPath, ConfigFile: rules},       // no mount point
		{MountPoint: "/mnt/x", LogFile: logPath, ConfigFile: rules},      // no storage
		{MountPoint: "/mnt/x", StorageDir: backing, ConfigFile: rules},   // no log
		{MountPoint: "/mnt/x", StorageDir: backing, LogFile: logPath},    // no config
	}
	for i, opts := range cases {
		if _, err := Load(opts); err == nil {
			t.Errorf("case %d: expected a startup error, got nil", i)
		}
	}
}

func TestLoadBackingRootMustBeDirectory(t *testing.T) {
	clearEnv(t)
	notADir := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(notADir, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(Options{
		MountPoint: "/mnt/x",
		StorageDir: notADir,
		LogFile:    filepath.Join(t.TempDir(), "driver.log"),
		ConfigFile: minimalRuleFile(t),
	})
	if err == nil {
		t.Fatal("expected error for backing root that is not a directory")
	}
}

func TestLoadBadLogLevel(t *testing.T) {
	clearEnv(t)
	_, err := Load(Options{
		MountPoint: "/mnt/x",
		StorageDir: t.TempDir(),
		LogFile:    filepath.Join(t.TempDir(), "driver.log"),
		LogLevel:   "verbose",
		ConfigFile: minimalRuleFile(t),
	})
	if err == nil {
		t.Fatal("expected error for unrecognized log level")
	}
}
