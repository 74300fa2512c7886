package quality

import (
	"encoding/json"
	"log/slog"
	"sort"

	"github.com/vietddude/relay/internal/core/domain"
)

// CleanStats reports what Clean changed.
type CleanStats struct {
	DuplicatesRemoved int
	Filled            map[string]int
}

// Clean removes exact-duplicate records (first occurrence wins), fills
// missing numeric fields with the chunk-local median and missing text
// fields with the empty string. Filling over dropping keeps the
// dataset from silently shrinking. Clean is deterministic and
// idempotent: a second pass finds nothing to change.
func Clean(chunk *domain.Chunk) (*domain.Chunk, CleanStats) {
	stats := CleanStats{Filled: make(map[string]int)}

	records := dedupe(chunk.Records, &stats)

	numeric, text := fieldKinds(records)
	medians := make(map[string]float64, len(numeric))
	for field := range numeric {
		medians[field] = median(presentValues(records, field))
	}

	filled := make([]domain.Record, 0, len(records))
	for _, rec := range records {
		out := rec
		copied := false
		for field := range numeric {
			if v, ok := rec[field]; !ok || v == nil {
				if !copied {
					out = cloneRecord(rec)
					copied = true
				}
				out[field] = medians[field]
				stats.Filled[field]++
			}
		}
		for field := range text {
			if v, ok := rec[field]; !ok || v == nil {
				if !copied {
					out = cloneRecord(rec)
					copied = true
				}
				out[field] = ""
				stats.Filled[field]++
			}
		}
		filled = append(filled, out)
	}

	// Filling can introduce new exact duplicates; a final pass keeps
	// the output duplicate-free so Clean(Clean(c)) == Clean(c).
	filled = dedupe(filled, &stats)

	if stats.DuplicatesRemoved > 0 || len(stats.Filled) > 0 {
		slog.Info("Cleaned chunk",
			"sequence", chunk.Sequence,
			"duplicates_removed", stats.DuplicatesRemoved,
			"fields_filled", len(stats.Filled))
	}

	return &domain.Chunk{Sequence: chunk.Sequence, Records: filled}, stats
}

// Validate evaluates every rule against every targeted field. A record
// with any error-severity violation counts invalid; warning-severity
// violations are counted but do not invalidate. Validation never drops
// rows.
func Validate(chunk *domain.Chunk, rules *RuleSet) domain.QualityReport {
	report := domain.QualityReport{
		ChunkSequence: chunk.Sequence,
		RowsTotal:     chunk.Len(),
	}

	type issueKey struct{ field, rule string }
	issues := make(map[issueKey]int)

	for _, rec := range chunk.Records {
		invalid := false
		if rules != nil {
			for _, field := range rules.Fields() {
				value := rec[field]
				for _, rule := range rules.FieldRules(field) {
					if rule.Validate(value) {
						continue
					}
					issues[issueKey{field, rule.Name}]++
					if rule.Severity == SeverityError {
						invalid = true
					}
				}
			}
		}
		if invalid {
			report.RowsInvalid++
		} else {
			report.RowsValid++
		}
	}

	if report.RowsTotal > 0 {
		report.Score = float64(report.RowsValid) / float64(report.RowsTotal) * 100
	} else {
		report.Score = 100
	}

	keys := make([]issueKey, 0, len(issues))
	for k := range issues {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].field != keys[j].field {
			return keys[i].field < keys[j].field
		}
		return keys[i].rule < keys[j].rule
	})
	for _, k := range keys {
		report.Issues = append(report.Issues, domain.RuleIssue{
			Field: k.field,
			Rule:  k.rule,
			Count: issues[k],
		})
	}

	return report
}

func dedupe(records []domain.Record, stats *CleanStats) []domain.Record {
	seen := make(map[string]struct{}, len(records))
	out := make([]domain.Record, 0, len(records))
	for _, rec := range records {
		key, err := json.Marshal(rec)
		if err != nil {
			// Unserializable record cannot be compared; keep it.
			out = append(out, rec)
			continue
		}
		if _, dup := seen[string(key)]; dup {
			stats.DuplicatesRemoved++
			continue
		}
		seen[string(key)] = struct{}{}
		out = append(out, rec)
	}
	return out
}

// fieldKinds classifies fields by their observed non-nil values:
// numeric if all are numbers, text if all are strings. Mixed or
// nested fields are left untouched.
func fieldKinds(records []domain.Record) (numeric, text map[string]struct{}) {
	numeric = make(map[string]struct{})
	text = make(map[string]struct{})
	mixed := make(map[string]struct{})

	for _, rec := range records {
		for field, value := range rec {
			if value == nil {
				continue
			}
			if _, bad := mixed[field]; bad {
				continue
			}
			if _, ok := toNumber(value); ok {
				if _, isText := text[field]; isText {
					mixed[field] = struct{}{}
					delete(text, field)
				} else {
					numeric[field] = struct{}{}
				}
				continue
			}
			if _, ok := value.(string); ok {
				if _, isNum := numeric[field]; isNum {
					mixed[field] = struct{}{}
					delete(numeric, field)
				} else {
					text[field] = struct{}{}
				}
				continue
			}
			mixed[field] = struct{}{}
			delete(numeric, field)
			delete(text, field)
		}
	}
	return numeric, text
}

func presentValues(records []domain.Record, field string) []float64 {
	var vals []float64
	for _, rec := range records {
		if v, ok := rec[field]; ok && v != nil {
			if f, ok := toNumber(v); ok {
				vals = append(vals, f)
			}
		}
	}
	return vals
}

// median returns the middle value, averaging the two middles for an
// even count. Empty input yields 0.
func median(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sorted := make([]float64, len(vals))
	copy(sorted, vals)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

func cloneRecord(rec domain.Record) domain.Record {
	out := make(domain.Record, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}

// toNumber recognizes actual numeric values, not numeric-looking
// strings, so text fields keep their string fill.
func toNumber(value any) (float64, bool) {
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
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
