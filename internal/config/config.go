// Package config holds all deskflow configuration. A Config is loaded once
// at startup and passed explicitly into every component constructor; there
// is no ambient global.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all deskflow configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Oracle (decision + vision) configuration
	Oracle OracleConfig `yaml:"oracle"`

	// Storage paths
	Storage StorageConfig `yaml:"storage"`

	// Autonomous execution settings
	Execution ExecutionConfig `yaml:"execution"`

	// Learning pipeline settings
	Learning LearningConfig `yaml:"learning"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// OracleConfig configures the decision and vision oracle backends.
type OracleConfig struct {
	Provider     string `yaml:"provider"` // gemini, openai (auto-detected from keys when empty)
	GeminiAPIKey string `yaml:"gemini_api_key"`
	GeminiModel  string `yaml:"gemini_model"`
	OpenAIAPIKey string `yaml:"openai_api_key"`
	OpenAIModel  string `yaml:"openai_model"`
	BaseURL      string `yaml:"base_url"`
	Timeout      string `yaml:"timeout"`

	// Vision estimates below this confidence are rejected by the resolver.
	MinVisionConfidence float64 `yaml:"min_vision_confidence"`
}

// StorageConfig configures persistent state locations.
type StorageConfig struct {
	// SQLite database holding workflows, feedback and recovery patterns.
	DatabasePath string `yaml:"database_path"`

	// Directory the capture subsystem writes interaction JSON into.
	CaptureDir string `yaml:"capture_dir"`

	// Directory daily markdown reports are written to.
	ReportDir string `yaml:"report_dir"`
}

// ExecutionConfig configures the autonomous loop safety limits.
type ExecutionConfig struct {
	MaxSteps               int     `yaml:"max_steps"`
	MaxConsecutiveFailures int     `yaml:"max_consecutive_failures"`
	StepDelay              string  `yaml:"step_delay"`
	GoalCheckInterval      int     `yaml:"goal_check_interval"`
	GoalConfidence         float64 `yaml:"goal_confidence"`

	// Confirmation gate for consequential applications (messaging, mail).
	ConfirmConsequential bool     `yaml:"confirm_consequential"`
	ConsequentialApps    []string `yaml:"consequential_apps"`
}

// LearningConfig configures segmentation, extraction and refinement.
type LearningConfig struct {
	// Session boundary conditions.
	SegmentGap        string `yaml:"segment_gap"`
	SegmentMaxRecords int    `yaml:"segment_max_records"`

	// Extraction candidates below this confidence are discarded.
	MinConfidence float64 `yaml:"min_confidence"`

	// Continuous learner cadence.
	PollInterval   string `yaml:"poll_interval"`
	RefineInterval int    `yaml:"refine_interval"`
	ReportInterval string `yaml:"report_interval"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "deskflow",
		Version: "0.3.0",
		Oracle: OracleConfig{
			GeminiModel:         "gemini-2.5-flash",
			OpenAIModel:         "gpt-5",
			BaseURL:             "https://api.openai.com/v1",
			Timeout:             "120s",
			MinVisionConfidence: 0.5,
		},
		Storage: StorageConfig{
			DatabasePath: ".deskflow/deskflow.db",
			CaptureDir:   ".deskflow/captures",
			ReportDir:    ".deskflow/reports",
		},
		Execution: ExecutionConfig{
			MaxSteps:               50,
			MaxConsecutiveFailures: 5,
			StepDelay:              "1s",
			GoalCheckInterval:      5,
			GoalConfidence:         0.7,
			ConfirmConsequential:   true,
			ConsequentialApps: []string{
				"Mail", "Slack", "Discord", "Messages",
				"LINE", "Telegram", "WhatsApp",
			},
		},
		Learning: LearningConfig{
			SegmentGap:        "30s",
			SegmentMaxRecords: 100,
			MinConfidence:     0.5,
			PollInterval:      "30s",
			RefineInterval:    10,
			ReportInterval:    "24h",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configuration from a yaml file, falling back to defaults for
// anything the file omits. A missing file is not an error; API keys are
// overridable from the environment either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnv()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overlays environment variables onto the loaded config.
// GEMINI_API_KEY / OPENAI_API_KEY / AI_PROVIDER take precedence over the file.
func (c *Config) applyEnv() {
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.Oracle.GeminiAPIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.Oracle.OpenAIAPIKey = v
	}
	if v := os.Getenv("AI_PROVIDER"); v != "" {
		c.Oracle.Provider = v
	}

	// Provider auto-detection: prefer whichever key is present, Gemini first.
	if c.Oracle.Provider == "" {
		switch {
		case c.Oracle.GeminiAPIKey != "":
			c.Oracle.Provider = "gemini"
		case c.Oracle.OpenAIAPIKey != "":
			c.Oracle.Provider = "openai"
		default:
			c.Oracle.Provider = "gemini"
		}
	}
}

// Save writes the configuration to a yaml file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// IsConsequentialApp reports whether actions against the named application
// require operator confirmation before execution.
func (c *Config) IsConsequentialApp(appName string) bool {
	if appName == "" {
		return false
	}
	lower := strings.ToLower(appName)
	for _, d := range c.Execution.ConsequentialApps {
		if strings.Contains(lower, strings.ToLower(d)) {
			return true
		}
	}
	return false
}

// SegmentGap returns the parsed session gap threshold.
func (c *Config) SegmentGap() time.Duration {
	return parseDurationOr(c.Learning.SegmentGap, 30*time.Second)
}

// StepDelay returns the parsed between-step delay.
func (c *Config) StepDelay() time.Duration {
	return parseDurationOr(c.Execution.StepDelay, time.Second)
}

// PollInterval returns the parsed learner poll interval.
func (c *Config) PollInterval() time.Duration {
	return parseDurationOr(c.Learning.PollInterval, 30*time.Second)
}

// ReportInterval returns the parsed report cadence.
func (c *Config) ReportInterval() time.Duration {
	return parseDurationOr(c.Learning.ReportInterval, 24*time.Hour)
}

// OracleTimeout returns the parsed oracle request timeout.
func (c *Config) OracleTimeout() time.Duration {
	return parseDurationOr(c.Oracle.Timeout, 120*time.Second)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
