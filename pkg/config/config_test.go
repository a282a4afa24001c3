package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	// Equivalent of t.Chdir (Go 1.24+) for the local Go 1.21 toolchain.
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load(Options{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":8010" || cfg.ProjectFile != "./configs/project.yaml" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.WithReporters || cfg.WithPollers {
		t.Fatalf("optional subsystems must default to off")
	}
	if cfg.PollTimeout != 5*time.Second {
		t.Fatalf("unexpected poll timeout %s", cfg.PollTimeout)
	}
}

func TestLoadFileEnvAndOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "buildmaster.yaml")
	content := "project: apache/arrow\nrepo: https://github.com/apache/arrow\nwith_reporters: true\ngithub_tokens:\n  - A\n  - B\nlisten_addr: :9000\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("BUILDMASTER_LISTEN_ADDR", ":9100")
	t.Setenv("BUILDMASTER_KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load(Options{File: path, Overrides: map[string]any{"with_pollers": true}})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Project != "apache/arrow" || cfg.Repo != "https://github.com/apache/arrow" {
		t.Fatalf("file values not loaded: %+v", cfg)
	}
	if cfg.ListenAddr != ":9100" {
		t.Fatalf("env must override file, got %s", cfg.ListenAddr)
	}
	if len(cfg.GitHubTokens) != 2 || cfg.GitHubTokens[1] != "B" {
		t.Fatalf("unexpected tokens %v", cfg.GitHubTokens)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[0] != "k1:9092" {
		t.Fatalf("unexpected brokers %v", cfg.KafkaBrokers)
	}
	if !cfg.WithPollers || !cfg.WithReporters {
		t.Fatalf("expected overrides and file flags to apply: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(Options{File: filepath.Join(t.TempDir(), "missing.yaml")}); err == nil {
		t.Fatalf("expected error for missing explicit config file")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"minimal", Config{ProjectFile: "p.yaml"}, true},
		{"no project file", Config{}, false},
		{"bad project", Config{ProjectFile: "p.yaml", Project: "arrow"}, false},
		{"nested project", Config{ProjectFile: "p.yaml", Project: "a/b/c"}, false},
		{"reporters without credentials", Config{ProjectFile: "p.yaml", WithReporters: true}, false},
		{"reporters with kafka", Config{ProjectFile: "p.yaml", WithReporters: true, KafkaBrokers: []string{"k:9092"}}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if (err == nil) != tc.ok {
				t.Fatalf("Validate() = %v, want ok=%v", err, tc.ok)
			}
		})
	}
}
