package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const validConfig = `
server:
  port: 9090
logging:
  level: debug
source:
  base_url: https://api.example.com
  api_key: ${RELAY_API_KEY}
database:
  url: postgres://localhost/relay
  table: orders
dlq:
  dir: /tmp/dlq
checkpoints:
  dir: /tmp/cp
  every: 5000
  keep: 3
pipelines:
  - name: orders
    dataset: orders
    target: orders
    page_size: 500
    workers: 4
    quality_threshold: 95
    quality_policy: dlq
    retry:
      max_retries: 5
    breaker:
      failure_threshold: 7
    rules:
      - field: id
        kind: not_null
      - field: amount
        kind: range
        min: 0
        max: 10000
      - field: email
        kind: pattern
        pattern: "^[^@]+@[^@]+$"
        severity: warning
`

func TestLoadValidConfig(t *testing.T) {
	t.Setenv("RELAY_API_KEY", "sekrit")
	path := writeConfig(t, validConfig)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("port: %d", cfg.Server.Port)
	}
	if cfg.Source.APIKey != "sekrit" {
		t.Errorf("env var not expanded: %q", cfg.Source.APIKey)
	}
	if cfg.Checkpoints.Every != 5000 || cfg.Checkpoints.Keep != 3 {
		t.Errorf("checkpoint config: %+v", cfg.Checkpoints)
	}

	p := cfg.Pipelines[0]
	if p.Name != "orders" || p.PageSize != 500 || p.Workers != 4 {
		t.Errorf("pipeline config: %+v", p)
	}
	if p.QualityPolicy != "dlq" || p.QualityThreshold != 95 {
		t.Errorf("quality config: %+v", p)
	}
	if p.Retry.MaxRetries != 5 {
		t.Errorf("retry config: %+v", p.Retry)
	}
	if p.Breaker.FailureThreshold != 7 {
		t.Errorf("breaker config: %+v", p.Breaker)
	}
	if len(p.Rules) != 3 {
		t.Errorf("expected 3 rules, got %d", len(p.Rules))
	}
	if p.Rules[2].Severity != "warning" {
		t.Errorf("rule severity lost: %+v", p.Rules[2])
	}
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
pipelines:
  - name: orders
    dataset: orders
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("default port: %d", cfg.Server.Port)
	}
	if cfg.DLQ.Dir != "dead_letter_queue" {
		t.Errorf("default dlq dir: %q", cfg.DLQ.Dir)
	}
	if cfg.Checkpoints.Keep != 10 {
		t.Errorf("default keep: %d", cfg.Checkpoints.Keep)
	}
	p := cfg.Pipelines[0]
	if p.PageSize != 1000 {
		t.Errorf("default page size: %d", p.PageSize)
	}
	if p.QualityPolicy != "log" {
		t.Errorf("default quality policy: %q", p.QualityPolicy)
	}
}

func TestLoadRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"no pipelines", "server:\n  port: 1\n"},
		{"pipeline without name", "pipelines:\n  - dataset: x\n"},
		{"pipeline without dataset", "pipelines:\n  - name: x\n"},
		{"unknown quality policy", "pipelines:\n  - name: x\n    dataset: x\n    quality_policy: drop\n"},
		{"not yaml", "{{{"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			if _, err := Load(path); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestBuildRuleSet(t *testing.T) {
	min, max := 0.0, 100.0
	set, err := BuildRuleSet(PipelineConfig{
		Name: "orders",
		Rules: []RuleConfig{
			{Field: "id", Kind: "not_null"},
			{Field: "score", Kind: "range", Min: &min, Max: &max},
			{Field: "email", Kind: "pattern", Pattern: "@", Severity: "warning"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if set.Len() != 3 {
		t.Errorf("expected 3 rules, got %d", set.Len())
	}
}

func TestBuildRuleSetRejections(t *testing.T) {
	min := 0.0
	tests := []struct {
		name string
		rule RuleConfig
	}{
		{"unknown kind", RuleConfig{Field: "f", Kind: "custom"}},
		{"range without bounds", RuleConfig{Field: "f", Kind: "range", Min: &min}},
		{"pattern without pattern", RuleConfig{Field: "f", Kind: "pattern"}},
		{"bad regexp", RuleConfig{Field: "f", Kind: "pattern", Pattern: "["}},
		{"no field", RuleConfig{Kind: "not_null"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildRuleSet(PipelineConfig{Name: "p", Rules: []RuleConfig{tt.rule}})
			if err == nil {
				t.Error("expected error")
			}
		})
	}
}
