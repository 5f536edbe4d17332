package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Execution.MaxSteps != 50 {
		t.Errorf("Expected max_steps 50, got %d", cfg.Execution.MaxSteps)
	}
	if cfg.Execution.MaxConsecutiveFailures != 5 {
		t.Errorf("Expected max_consecutive_failures 5, got %d", cfg.Execution.MaxConsecutiveFailures)
	}
	if cfg.Learning.MinConfidence != 0.5 {
		t.Errorf("Expected min_confidence 0.5, got %f", cfg.Learning.MinConfidence)
	}
	if cfg.Learning.SegmentMaxRecords != 100 {
		t.Errorf("Expected segment_max_records 100, got %d", cfg.Learning.SegmentMaxRecords)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load with missing file should not error: %v", err)
	}
	if cfg.Execution.MaxSteps != 50 {
		t.Errorf("Expected defaults, got max_steps=%d", cfg.Execution.MaxSteps)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
execution:
  max_steps: 10
  consequential_apps: ["Mail"]
learning:
  min_confidence: 0.8
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Execution.MaxSteps != 10 {
		t.Errorf("Expected max_steps 10, got %d", cfg.Execution.MaxSteps)
	}
	if cfg.Learning.MinConfidence != 0.8 {
		t.Errorf("Expected min_confidence 0.8, got %f", cfg.Learning.MinConfidence)
	}
	// Untouched sections keep defaults.
	if cfg.Oracle.GeminiModel != "gemini-2.5-flash" {
		t.Errorf("Expected default gemini model, got %s", cfg.Oracle.GeminiModel)
	}
}

func TestEnvOverridesProvider(t *testing.T) {
	t.Setenv("AI_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Oracle.Provider != "openai" {
		t.Errorf("Expected provider openai, got %s", cfg.Oracle.Provider)
	}
	if cfg.Oracle.OpenAIAPIKey != "sk-test" {
		t.Errorf("Expected env API key to apply")
	}
}

func TestIsConsequentialApp(t *testing.T) {
	cfg := DefaultConfig()

	cases := []struct {
		app  string
		want bool
	}{
		{"Mail", true},
		{"mail", true},
		{"Slack Desktop", true},
		{"Finder", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := cfg.IsConsequentialApp(tc.app); got != tc.want {
			t.Errorf("IsConsequentialApp(%q) = %v, want %v", tc.app, got, tc.want)
		}
	}
}

func TestDurationFallbacks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Execution.StepDelay = "not-a-duration"
	if cfg.StepDelay().Seconds() != 1.0 {
		t.Errorf("Expected fallback 1s step delay, got %v", cfg.StepDelay())
	}
}
