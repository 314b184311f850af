// Package config handles loading and validating the config.toml configuration file.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config is the top-level configuration. Every section has workable
// defaults; an absent config file yields the default config, which runs the
// pipeline without a classifier (keyword matching only).
type Config struct {
	Taxonomy   TaxonomyConfig   `toml:"taxonomy"`
	Classifier ClassifierConfig `toml:"classifier"`
	Timeline   TimelineConfig   `toml:"timeline"`
	Output     OutputConfig     `toml:"output"`
	Server     ServerConfig     `toml:"server"`
}

// TaxonomyConfig selects where the ATT&CK bundle comes from. File takes
// precedence over URL when both are set.
type TaxonomyConfig struct {
	URL     string `toml:"url"`
	File    string `toml:"file"`
	Timeout int    `toml:"timeout"` // fetch timeout in seconds (0 = default)
}

// ClassifierConfig configures the remote technique classifier. An empty
// endpoint disables the model fallback entirely.
type ClassifierConfig struct {
	Endpoint  string  `toml:"endpoint"`
	Model     string  `toml:"model"`
	Threshold float64 `toml:"threshold"`  // sigmoid cutoff (0 = default 0.3)
	MaxTokens int     `toml:"max_tokens"` // truncation limit (0 = default 512)
	Timeout   int     `toml:"timeout"`    // HTTP timeout in seconds (0 = default)
}

// TimelineConfig configures context gathering.
type TimelineConfig struct {
	Window int `toml:"window"` // sentences kept on each side of a date (0 = default 2)
}

// OutputConfig configures artifact output.
type OutputConfig struct {
	Dir string `toml:"dir"`
}

// ServerConfig configures the upload front-end.
type ServerConfig struct {
	Port        int    `toml:"port"`
	MaxUploadMB int64  `toml:"max_upload_mb"`
	FeedbackLog string `toml:"feedback_log"`
}

// Load reads a config.toml file and returns a validated Config. A missing
// file is not an error: defaults apply.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}

	// Environment variable overrides
	if url := os.Getenv("ATTACKMAP_TAXONOMY_URL"); url != "" {
		cfg.Taxonomy.URL = url
	}
	if ep := os.Getenv("ATTACKMAP_CLASSIFIER_ENDPOINT"); ep != "" {
		cfg.Classifier.Endpoint = ep
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Output: OutputConfig{Dir: "output"},
		Server: ServerConfig{
			Port:        5001,
			MaxUploadMB: 16,
			FeedbackLog: "feedback_log.txt",
		},
	}
}

func (c *Config) validate() error {
	if c.Classifier.Threshold < 0 || c.Classifier.Threshold >= 1 {
		return fmt.Errorf("classifier.threshold must be in [0, 1), got %v", c.Classifier.Threshold)
	}
	if c.Classifier.Endpoint == "" && c.Classifier.Model != "" {
		return fmt.Errorf("classifier.model set without classifier.endpoint")
	}
	if c.Timeline.Window < 0 {
		return fmt.Errorf("timeline.window must not be negative, got %d", c.Timeline.Window)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		c.Server.MaxUploadMB = 16
	}
	if c.Output.Dir == "" {
		c.Output.Dir = "output"
	}
	return nil
}
