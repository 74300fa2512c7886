package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/relay/internal/quality"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Set defaults if necessary
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.DLQ.Dir == "" {
		cfg.DLQ.Dir = "dead_letter_queue"
	}
	if cfg.Checkpoints.Dir == "" {
		cfg.Checkpoints.Dir = "checkpoints"
	}
	if cfg.Checkpoints.Keep == 0 {
		cfg.Checkpoints.Keep = 10
	}

	if len(cfg.Pipelines) == 0 {
		return nil, fmt.Errorf("config declares no pipelines")
	}
	for i := range cfg.Pipelines {
		p := &cfg.Pipelines[i]
		if p.Name == "" {
			return nil, fmt.Errorf("pipeline %d has no name", i)
		}
		if p.Dataset == "" {
			return nil, fmt.Errorf("pipeline %s has no dataset", p.Name)
		}
		if p.PageSize == 0 {
			p.PageSize = 1000
		}
		if p.QualityPolicy == "" {
			p.QualityPolicy = "log"
		}
		if p.QualityPolicy != "log" && p.QualityPolicy != "dlq" {
			return nil, fmt.Errorf("pipeline %s: unknown quality policy %q", p.Name, p.QualityPolicy)
		}
	}

	return &cfg, nil
}

// BuildRuleSet compiles the declared rules of one pipeline. Custom
// rules cannot come from YAML: they carry Go functions and must be
// registered in code.
func BuildRuleSet(p PipelineConfig) (*quality.RuleSet, error) {
	set := quality.NewRuleSet(p.Name)

	for _, rc := range p.Rules {
		if rc.Field == "" {
			return nil, fmt.Errorf("pipeline %s: rule has no field", p.Name)
		}

		var rule quality.Rule
		switch rc.Kind {
		case "not_null":
			rule = quality.NotNull(rc.Field)
		case "range":
			if rc.Min == nil || rc.Max == nil {
				return nil, fmt.Errorf("pipeline %s: range rule on %s needs min and max", p.Name, rc.Field)
			}
			rule = quality.Range(rc.Field, *rc.Min, *rc.Max)
		case "pattern":
			if rc.Pattern == "" {
				return nil, fmt.Errorf("pipeline %s: pattern rule on %s has no pattern", p.Name, rc.Field)
			}
			rule = quality.Pattern(rc.Field, rc.Pattern)
		default:
			return nil, fmt.Errorf("pipeline %s: unknown rule kind %q on %s", p.Name, rc.Kind, rc.Field)
		}

		if rc.Severity != "" {
			rule.Severity = quality.Severity(rc.Severity)
		}
		if err := set.Add(rule); err != nil {
			return nil, fmt.Errorf("pipeline %s: %w", p.Name, err)
		}
	}
	return set, nil
}
