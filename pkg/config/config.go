// Package config loads the master's top-level bindings from defaults, an
// optional config file and BUILDMASTER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures the runtime bindings of a buildmaster process.
type Config struct {
	Project       string        `mapstructure:"project"`
	Repo          string        `mapstructure:"repo"`
	ProjectFile   string        `mapstructure:"project_file"`
	WithPollers   bool          `mapstructure:"with_pollers"`
	WithReporters bool          `mapstructure:"with_reporters"`
	GitHubTokens  []string      `mapstructure:"github_tokens"`
	GitHubURL     string        `mapstructure:"github_url"`
	ListenAddr    string        `mapstructure:"listen_addr"`
	RedisURL      string        `mapstructure:"redis_url"`
	DatabaseURL   string        `mapstructure:"database_url"`
	KafkaBrokers  []string      `mapstructure:"kafka_brokers"`
	KafkaTopic    string        `mapstructure:"kafka_topic"`
	APIKeys       []string      `mapstructure:"api_keys"`
	Namespaces    []string      `mapstructure:"namespaces"`
	ServiceName   string        `mapstructure:"service_name"`
	Tracing       bool          `mapstructure:"tracing"`
	PollTimeout   time.Duration `mapstructure:"poll_timeout"`
}

// Options locates the config file. Zero values use "buildmaster" in
// ./configs and the working directory.
type Options struct {
	File      string
	Overrides map[string]any
}

// Load reads configuration. Overrides take precedence over every other
// source, which is how an enclosing loader binds values.
func Load(opts Options) (Config, error) {
	v := viper.New()
	if opts.File != "" {
		v.SetConfigFile(opts.File)
	} else {
		v.SetConfigName("buildmaster")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("BUILDMASTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("project", "")
	v.SetDefault("repo", "")
	v.SetDefault("project_file", "./configs/project.yaml")
	v.SetDefault("with_pollers", false)
	v.SetDefault("with_reporters", false)
	v.SetDefault("github_tokens", []string{})
	v.SetDefault("github_url", "")
	v.SetDefault("listen_addr", ":8010")
	v.SetDefault("redis_url", "")
	v.SetDefault("database_url", "")
	v.SetDefault("kafka_brokers", []string{})
	v.SetDefault("kafka_topic", "buildmaster.results")
	v.SetDefault("api_keys", []string{})
	v.SetDefault("namespaces", []string{})
	v.SetDefault("service_name", "buildmaster")
	v.SetDefault("tracing", false)
	v.SetDefault("poll_timeout", 5*time.Second)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("load config: %w", err)
		}
	}
	for key, value := range opts.Overrides {
		v.Set(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.GitHubTokens = splitList(cfg.GitHubTokens)
	cfg.KafkaBrokers = splitList(cfg.KafkaBrokers)
	cfg.APIKeys = splitList(cfg.APIKeys)
	cfg.Namespaces = splitList(cfg.Namespaces)
	return cfg, nil
}

// Validate checks the bindings every mode requires.
func (c Config) Validate() error {
	if c.ProjectFile == "" {
		return errors.New("project_file is required")
	}
	if c.Project != "" {
		owner, repo, ok := strings.Cut(c.Project, "/")
		if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
			return fmt.Errorf("project %q must be in owner/repo form", c.Project)
		}
	}
	if c.WithReporters && len(c.GitHubTokens) == 0 && len(c.KafkaBrokers) == 0 {
		return errors.New("with_reporters requires github_tokens or kafka_brokers")
	}
	return nil
}

// splitList accepts both list values and comma separated strings, which is
// how lists arrive from the environment.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.FieldsFunc(item, func(r rune) bool { return r == ',' || r == ' ' }) {
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
