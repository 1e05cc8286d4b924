package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zapcore"
)

func TestLoadPrecedenceFlagsOverEnvOverFile(t *testing.T) {
	tmp := t.TempDir()
	configPath := filepath.Join(tmp, "config.yaml")
	if err := os.WriteFile(configPath, []byte("output: plain\nretries: 1\nchain_id: 8453\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("SPOUT_OUTPUT", "json")
	t.Setenv("SPOUT_CHAIN_ID", "1")
	flags := GlobalFlags{ConfigPath: configPath, Plain: true, Retries: 5}
	settings, err := Load(flags)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.OutputMode != "plain" {
		t.Fatalf("expected flag to win, got output=%s", settings.OutputMode)
	}
	if settings.Retries != 5 {
		t.Fatalf("expected retries from flags, got %d", settings.Retries)
	}
	if settings.ChainID != 1 {
		t.Fatalf("expected env chain id to beat file, got %d", settings.ChainID)
	}
}

func TestLoadMutuallyExclusiveOutputFlags(t *testing.T) {
	_, err := Load(GlobalFlags{JSON: true, Plain: true})
	if err == nil {
		t.Fatal("expected error with --json and --plain")
	}
}

func TestLoadContractsAndExecutionSettings(t *testing.T) {
	tmp := t.TempDir()
	configPath := filepath.Join(tmp, "config.yaml")
	body := `
contracts:
  vat: "0x00000000000000000000000000000000000000a1"
  stablecoin_join: "0x00000000000000000000000000000000000000a2"
  ilks:
    lqd:
      gem: "0x00000000000000000000000000000000000000b1"
      join: "0x00000000000000000000000000000000000000b2"
execution:
  receipt_timeout: 90s
  settle_delay: 500ms
reads:
  cache_ttl: 3s
activity:
  block_window: 5000
log:
  level: debug
  encoding: console
  outputPaths: ["stderr"]
`
	if err := os.WriteFile(configPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	settings, err := Load(GlobalFlags{ConfigPath: configPath, Retries: -1})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.Contracts.Vat != "0x00000000000000000000000000000000000000a1" {
		t.Fatalf("unexpected vat: %s", settings.Contracts.Vat)
	}
	lqd, ok := settings.Contracts.Ilks["LQD"]
	if !ok || lqd.Join != "0x00000000000000000000000000000000000000b2" {
		t.Fatalf("expected upper-cased LQD collateral entry, got %+v", settings.Contracts.Ilks)
	}
	if settings.ReceiptTimeout != 90*time.Second || settings.SettleDelay != 500*time.Millisecond {
		t.Fatalf("unexpected execution durations: %s %s", settings.ReceiptTimeout, settings.SettleDelay)
	}
	if settings.ReadCacheTTL != 3*time.Second {
		t.Fatalf("unexpected read cache ttl: %s", settings.ReadCacheTTL)
	}
	if settings.Activity.BlockWindow != 5000 || settings.Activity.PageSize != 5 {
		t.Fatalf("unexpected activity settings: %+v", settings.Activity)
	}
	if settings.Log.Level.Level() != zapcore.DebugLevel {
		t.Fatalf("expected debug log level, got %s", settings.Log.Level.Level())
	}
	if settings.Retries != 2 {
		t.Fatalf("expected default retries when flag unset, got %d", settings.Retries)
	}
}

func TestLogLevelFlagOverridesEnv(t *testing.T) {
	t.Setenv("SPOUT_LOG_LEVEL", "error")
	settings, err := Load(GlobalFlags{ConfigPath: filepath.Join(t.TempDir(), "missing.yaml"), LogLevel: "info", Retries: -1})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.Log.Level.Level() != zapcore.InfoLevel {
		t.Fatalf("expected info level from flag, got %s", settings.Log.Level.Level())
	}
	if _, err := Load(GlobalFlags{ConfigPath: filepath.Join(t.TempDir(), "missing.yaml"), LogLevel: "loud"}); err == nil {
		t.Fatal("expected invalid --log-level to fail")
	}
}
