package internal

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadResponderConfigWritesDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "serve.toml")

	cfg, err := LoadResponderConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":5005" || cfg.FeedbackTimeout() != 10*time.Second {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.QueueLimit != 64 || cfg.ServerId == "" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("config mode %v, want 0600", info.Mode().Perm())
	}

	again, err := LoadResponderConfig(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.ServerId != cfg.ServerId {
		t.Fatalf("server id should persist: %s vs %s", again.ServerId, cfg.ServerId)
	}
}

func TestResponderConfigSaveRoundTrip(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "serve.toml")

	cfg, err := LoadResponderConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg.ListenAddr = "127.0.0.1:7000"
	cfg.MaxNackRounds = 3
	cfg.MetricsAddr = ":9100"
	if _, err := cfg.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := LoadResponderConfig(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.ListenAddr != "127.0.0.1:7000" || got.MaxNackRounds != 3 || got.MetricsAddr != ":9100" {
		t.Fatalf("saved values lost: %+v", got)
	}
}

func TestRequesterConfigDefaultsAndEnv(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("BLAST_FETCH_NACK_BATCH_SIZE", "42")
	path := filepath.Join(t.TempDir(), "fetch.toml")

	cfg, err := LoadRequesterConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.InfoTimeout() != 20*time.Second || cfg.QueueTimeout() != 2*time.Minute || cfg.BurstTimeout() != 2*time.Second {
		t.Fatalf("unexpected timeouts: %+v", cfg)
	}
	if cfg.MaxNoProgressRounds != 5 || cfg.OutputPrefix != "received_" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.NackBatchSize != 42 {
		t.Fatalf("env override ignored: %d", cfg.NackBatchSize)
	}
}

func TestExpandPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("BLAST_TEST_DIR", "/srv/files")

	if got := expandPath("~/out"); got != filepath.Join(home, "out") {
		t.Fatalf("tilde not expanded: %s", got)
	}
	if got := expandPath("$BLAST_TEST_DIR/x"); got != "/srv/files/x" {
		t.Fatalf("env not expanded: %s", got)
	}
	if got := expandPath(""); got != "" {
		t.Fatalf("empty path changed: %q", got)
	}
}

func TestDurationHelpersClampNegative(t *testing.T) {
	cfg := ResponderConfig{FeedbackTimeoutMs: -5, PollIntervalMs: 250}
	if cfg.FeedbackTimeout() != 0 || cfg.PollInterval() != 250*time.Millisecond {
		t.Fatalf("unexpected durations %s %s", cfg.FeedbackTimeout(), cfg.PollInterval())
	}
}
