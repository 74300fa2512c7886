package quality

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// RuleKind identifies the predicate a rule applies.
type RuleKind string

const (
	RuleNotNull RuleKind = "not_null"
	RuleRange   RuleKind = "range"
	RulePattern RuleKind = "pattern"
	RuleCustom  RuleKind = "custom"
)

// Severity controls whether a violation invalidates a record.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Rule is a pure predicate over a single field value.
type Rule struct {
	Name     string
	Field    string
	Kind     RuleKind
	Severity Severity

	// Range bounds, inclusive.
	Min float64
	Max float64

	// Pattern source for RulePattern.
	Pattern string

	// Check is the predicate for RuleCustom.
	Check func(value any) bool

	re *regexp.Regexp
}

// NotNull builds a rule rejecting nil and blank string values.
func NotNull(field string) Rule {
	return Rule{
		Name:     field + "_not_null",
		Field:    field,
		Kind:     RuleNotNull,
		Severity: SeverityError,
	}
}

// Range builds a rule requiring min <= value <= max.
func Range(field string, min, max float64) Rule {
	return Rule{
		Name:     fmt.Sprintf("%s_range_%v_%v", field, min, max),
		Field:    field,
		Kind:     RuleRange,
		Severity: SeverityError,
		Min:      min,
		Max:      max,
	}
}

// Pattern builds a rule requiring the value to match a regexp.
func Pattern(field, pattern string) Rule {
	return Rule{
		Name:     field + "_pattern",
		Field:    field,
		Kind:     RulePattern,
		Severity: SeverityError,
		Pattern:  pattern,
	}
}

// Custom builds a rule from an arbitrary predicate.
func Custom(name, field string, check func(any) bool) Rule {
	return Rule{
		Name:     name,
		Field:    field,
		Kind:     RuleCustom,
		Severity: SeverityError,
		Check:    check,
	}
}

// Validate reports whether value satisfies the rule.
func (r *Rule) Validate(value any) bool {
	switch r.Kind {
	case RuleNotNull:
		if value == nil {
			return false
		}
		if s, ok := value.(string); ok && strings.TrimSpace(s) == "" {
			return false
		}
		return true
	case RuleRange:
		f, ok := toFloat(value)
		if !ok {
			return false
		}
		return f >= r.Min && f <= r.Max
	case RulePattern:
		if r.re == nil {
			return false
		}
		return r.re.MatchString(fmt.Sprint(value))
	case RuleCustom:
		if r.Check == nil {
			return false
		}
		return r.Check(value)
	default:
		return true
	}
}

// RuleSet is an unordered collection of rules grouped by field.
type RuleSet struct {
	Name  string
	rules map[string][]*Rule
}

// NewRuleSet creates an empty rule set.
func NewRuleSet(name string) *RuleSet {
	return &RuleSet{
		Name:  name,
		rules: make(map[string][]*Rule),
	}
}

// Add validates and registers a rule. Pattern rules are compiled here
// so Validate stays a pure predicate.
func (s *RuleSet) Add(rule Rule) error {
	if rule.Field == "" {
		return fmt.Errorf("rule %q has no target field", rule.Name)
	}
	if rule.Severity == "" {
		rule.Severity = SeverityError
	}
	switch rule.Kind {
	case RuleNotNull, RuleRange:
	case RulePattern:
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return fmt.Errorf("rule %q has invalid pattern: %w", rule.Name, err)
		}
		rule.re = re
	case RuleCustom:
		if rule.Check == nil {
			return fmt.Errorf("rule %q has no check function", rule.Name)
		}
	default:
		return fmt.Errorf("rule %q has unknown kind %q", rule.Name, rule.Kind)
	}

	s.rules[rule.Field] = append(s.rules[rule.Field], &rule)
	return nil
}

// FieldRules returns the rules registered for a field.
func (s *RuleSet) FieldRules(field string) []*Rule {
	return s.rules[field]
}

// Len returns the total number of rules.
func (s *RuleSet) Len() int {
	n := 0
	for _, rs := range s.rules {
		n += len(rs)
	}
	return n
}

// Fields returns the fields that have rules.
func (s *RuleSet) Fields() []string {
	fields := make([]string, 0, len(s.rules))
	for f := range s.rules {
		fields = append(fields, f)
	}
	return fields
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
